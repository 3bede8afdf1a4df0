package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetJSON(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"id":"abc","waypoint_count":3}`).
		AddResponse(http.StatusNotFound, `{"error":"session not found"}`).
		AddResponse(http.StatusBadGateway, `<html>`).
		AddResponse(http.StatusOK, `not json`).
		AddErrorResponse(errors.New("connection refused"))

	var got struct {
		ID            string `json:"id"`
		WaypointCount int    `json:"waypoint_count"`
	}
	if err := GetJSON(mock, "http://zoomy/api/sessions/abc", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.ID != "abc" || got.WaypointCount != 3 {
		t.Errorf("decoded %+v", got)
	}
	if req := mock.Requests[0]; req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept header = %q", req.Header.Get("Accept"))
	}

	wantErrs := []string{"session not found", "Bad Gateway", "failed to decode", "connection refused"}
	for _, want := range wantErrs {
		err := GetJSON(mock, "http://zoomy/x", &got)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("GetJSON error = %v, want it to mention %q", err, want)
		}
	}
	if mock.RequestCount() != 5 {
		t.Errorf("RequestCount = %d, want 5", mock.RequestCount())
	}
}

func TestMockHTTPClient_DefaultResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	req := httptest.NewRequest(http.MethodGet, "http://zoomy/", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStandardClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, map[string]string{"path": r.URL.Path})
	}))
	defer srv.Close()

	var got map[string]string
	if err := GetJSON(NewStandardClient(nil), srv.URL+"/api/status", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got["path"] != "/api/status" {
		t.Errorf("path = %q", got["path"])
	}
	if NewStandardClient(srv.Client()) == nil {
		t.Error("NewStandardClient returned nil")
	}
}
