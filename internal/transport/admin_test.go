package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates a request that passes tsweb's loopback check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_RobotSendAPI(t *testing.T) {
	link := &fakeLink{up: true}
	m := NewMux(link, fastMuxConfig())
	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
		wantBody   string
		wantSent   string
	}{
		{name: "payload", method: http.MethodPost, form: url.Values{"payload": {"1 2 3 4 5 6 7 8 9 10"}}, wantStatus: http.StatusOK, wantSent: "1 2 3 4 5 6 7 8 9 10 "},
		{name: "ping", method: http.MethodPost, form: url.Values{"payload": {"ping"}}, wantStatus: http.StatusOK, wantSent: "\x05"},
		{name: "empty", method: http.MethodPost, form: url.Values{"payload": {"  "}}, wantStatus: http.StatusBadRequest, wantBody: "Missing payload"},
		{name: "too few values", method: http.MethodPost, form: url.Values{"payload": {"1 2 3"}}, wantStatus: http.StatusBadRequest, wantBody: "has 3 values"},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(link.Sent())
			req := localHostRequest(tt.method, "/debug/robot-send-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			sent := link.Sent()
			if tt.wantSent == "" {
				assert.Len(t, sent, before)
				return
			}
			require.Len(t, sent, before+1)
			assert.Equal(t, tt.wantSent, string(sent[before]))
		})
	}
}

func TestAdminRoutes_RobotSendPage(t *testing.T) {
	m := NewMux(&fakeLink{}, fastMuxConfig())
	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/robot-send", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "127.0.0.1:4210")
	assert.Contains(t, w.Body.String(), "disconnected")

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/robot-tail.js", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "EventSource")
}

func TestAdminRoutes_RobotStats(t *testing.T) {
	link := &fakeLink{up: true}
	m := NewMux(link, fastMuxConfig())
	m.sendTick()
	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/robot-stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Connected bool          `json:"connected"`
		Stats     StatsSnapshot `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.Stats.Sent)
}

func TestAdminRoutes_RobotTailStreamsLines(t *testing.T) {
	m := NewMux(&fakeLink{}, fastMuxConfig())
	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/robot-tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	go func() {
		for ctx.Err() == nil {
			m.publish("bat=7.4")
			time.Sleep(5 * time.Millisecond)
		}
	}()

	buf := make([]byte, 256)
	var body strings.Builder
	for !strings.Contains(body.String(), "data: bat=7.4") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		body.Write(buf[:n])
	}
}
