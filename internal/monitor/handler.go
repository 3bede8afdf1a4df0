package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/httputil"
)

// SessionLoader reads one recorded session.
type SessionLoader interface {
	GetSession(id string) (*db.SessionDetail, error)
}

// WaypointSource lists the configured traversal.
type WaypointSource interface {
	Waypoints() []arena.Waypoint
}

// Handler serves /debug/monitor. Without parameters it shows the live
// trail; ?session=<id> shows a recorded session and &format=png returns
// the trajectory as an image.
type Handler struct {
	Trail     *Trail
	Waypoints WaypointSource
	Sessions  SessionLoader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var waypoints []arena.Waypoint
	if h.Waypoints != nil {
		waypoints = h.Waypoints.Waypoints()
	}

	title := "Live pose trail"
	var points []TrailPoint
	subtitle := ""
	if id := r.URL.Query().Get("session"); id != "" {
		if h.Sessions == nil {
			httputil.NotFound(w, "session log disabled")
			return
		}
		d, err := h.Sessions.GetSession(id)
		if errors.Is(err, db.ErrSessionNotFound) {
			httputil.NotFound(w, "session not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		title = "Session " + d.ID
		subtitle = fmt.Sprintf("outcome=%s reached=%d/%d path=%.0fpx mean_error=%.1fpx",
			d.Outcome, d.Summary.Reached, d.WaypointCount, d.Summary.PathLength, d.Summary.MeanFinalError)
		points = SessionTrail(d)
	} else if h.Trail != nil {
		points = h.Trail.Points()
		subtitle = fmt.Sprintf("points=%d", len(points))
	}

	var buf bytes.Buffer
	if r.URL.Query().Get("format") == "png" {
		if err := WriteTrajectoryPNG(&buf, title, points, waypoints); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
		return
	}

	if err := RenderPage(&buf, PathChart(title, subtitle, points, waypoints), CommandChart(points)); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
