package testutil

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestServe(t *testing.T) {
	var got struct {
		Method string `json:"method"`
		Body   string `json:"body"`
		Remote string `json:"remote"`
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		_ = json.NewDecoder(r.Body).Decode(&body)
		b, _ := json.Marshal(body)
		w.WriteHeader(http.StatusTeapot)
		json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"body":   string(b),
			"remote": r.RemoteAddr,
		})
	})

	rec := Serve(t, h, http.MethodPost, "/x", map[string]int{"a": 1})
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
	DecodeJSON(t, rec, &got)
	if got.Method != http.MethodPost || got.Body != `{"a":1}` || got.Remote != "127.0.0.1:12345" {
		t.Errorf("unexpected request seen by handler: %+v", got)
	}

	rec = Serve(t, h, http.MethodGet, "/x", nil)
	DecodeJSON(t, rec, &got)
	if got.Body != "null" {
		t.Errorf("empty body decoded as %q, want null", got.Body)
	}
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}
