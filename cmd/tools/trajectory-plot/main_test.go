package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/httputil"
)

func testDetail() *db.SessionDetail {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := &db.SessionDetail{
		Session: db.Session{ID: "s1", StartedAt: start, Outcome: "completed", WaypointCount: 2},
		Events: []db.WaypointEvent{
			{Step: 0, Waypoint: arena.Waypoint{X: 100, Y: 100, Speed: 8000}, StartedAt: start},
			{Step: 1, Waypoint: arena.Waypoint{X: 200, Y: 100, Speed: 8000}, StartedAt: start.Add(time.Second)},
		},
		Samples: []db.PoseSample{
			{Time: start, X: 10, Y: 100},
			{Time: start.Add(500 * time.Millisecond), X: 60, Y: 100},
			{Time: start.Add(1500 * time.Millisecond), X: 150, Y: 100},
		},
	}
	d.Summary = db.Summarize(d)
	return d
}

func TestFetchSession(t *testing.T) {
	body, err := json.Marshal(testDetail())
	require.NoError(t, err)
	client := httputil.NewMockHTTPClient().AddResponse(200, string(body))

	got, err := fetchSession(client, "http://zoomy.local:8080/", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Len(t, got.Samples, 3)
	require.Len(t, client.Requests, 1)
	assert.Equal(t, "http://zoomy.local:8080/api/sessions/s1", client.Requests[0].URL.String())
}

func TestFetchSessionNotFound(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(404, `{"error":"session not found"}`)
	_, err := fetchSession(client, "http://zoomy.local:8080", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSessionWaypoints(t *testing.T) {
	wps := sessionWaypoints(testDetail())
	assert.Equal(t, []arena.Waypoint{{X: 100, Y: 100, Speed: 8000}, {X: 200, Y: 100, Speed: 8000}}, wps)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()

	png := filepath.Join(dir, "s1.png")
	require.NoError(t, export(png, testDetail()))
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))

	html := filepath.Join(dir, "s1.html")
	require.NoError(t, export(html, testDetail()))
	data, err = os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Session s1")

	assert.Error(t, export(filepath.Join(dir, "s1.svg"), testDetail()))
}

func TestReadSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zoomy.db")
	store, err := db.NewDB(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateSession("s1", time.Now(), 0))
	require.NoError(t, store.Close())

	got, err := readSession(path, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = readSession(path, "missing")
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}
