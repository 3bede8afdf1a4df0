// Package api serves the operator HTTP surface: autopilot control, colour
// thresholds, session history and the live telemetry feed.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/httputil"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
	"github.com/hi-im-vika/zoomy-client/internal/version"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const maxBodyBytes = 64 << 10

// Autopilot is the control side of the autonomous controller.
type Autopilot interface {
	EndPointToPoint()
	StartTargetTracking(markerID int) error
	EndTargetTracking()
	SetColorThresholds(low, high arena.HSV)
	ColorThresholds() (low, high arena.HSV)
}

// Operator is the update loop as seen by the API.
type Operator interface {
	EnterAutonomous()
	ExitAutonomous()
	NavigateTo(wp arena.Waypoint) error
	Snapshot() telemetry.Snapshot
}

// WaypointSource lists the configured traversal.
type WaypointSource interface {
	Waypoints() []arena.Waypoint
}

// SessionStore reads the session log.
type SessionStore interface {
	ListSessions(limit int) ([]db.Session, error)
	GetSession(id string) (*db.SessionDetail, error)
}

// Options wires a Server. Sessions, Feed and Monitor are optional.
type Options struct {
	Autopilot Autopilot
	Operator  Operator
	Waypoints WaypointSource
	Sessions  SessionStore
	Feed      http.Handler
	Monitor   http.Handler
}

// Server holds the API handlers.
type Server struct {
	opts Options
}

// NewServer returns a server over opts.
func NewServer(opts Options) *Server {
	return &Server{opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes websocket upgrades through to the underlying writer.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route mounted.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/thresholds", s.thresholds)
	mux.HandleFunc("/api/waypoints", s.listWaypoints)
	mux.HandleFunc("/api/autopilot/enter", s.enterAutonomous)
	mux.HandleFunc("/api/autopilot/exit", s.exitAutonomous)
	mux.HandleFunc("/api/point-to-point", s.pointToPoint)
	mux.HandleFunc("/api/target-tracking", s.targetTracking)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/", s.showSession)
	if s.opts.Feed != nil {
		mux.Handle("/ws", s.opts.Feed)
	}
	if s.opts.Monitor != nil {
		mux.Handle("/debug/monitor", s.opts.Monitor)
	}
	return mux
}

type statusResponse struct {
	Version string             `json:"version"`
	GitSHA  string             `json:"git_sha"`
	State   telemetry.Snapshot `json:"state"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		State:   s.opts.Operator.Snapshot(),
	})
}

func (s *Server) thresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		low, high := s.opts.Autopilot.ColorThresholds()
		httputil.WriteJSONOK(w, arena.HSVRange{Low: low, High: high})
	case http.MethodPut:
		var rng arena.HSVRange
		if err := decodeBody(r, &rng); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := rng.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.opts.Autopilot.SetColorThresholds(rng.Low, rng.High)
		httputil.WriteJSONOK(w, rng)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listWaypoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.opts.Waypoints.Waypoints())
}

// Autopilot mode changes are requested, not applied: the update loop picks
// them up on its next tick.
func (s *Server) enterAutonomous(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.opts.Operator.EnterAutonomous()
	httputil.Accepted(w, "enter requested")
}

func (s *Server) exitAutonomous(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.opts.Operator.ExitAutonomous()
	httputil.Accepted(w, "exit requested")
}

type pointToPointRequest struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Speed int `json:"speed"`
}

// pointToPoint drives to a single destination as its own autonomous
// session, so the autopilot output reaches the robot. DELETE ends it.
func (s *Server) pointToPoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req pointToPointRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		wp := arena.Waypoint{X: req.X, Y: req.Y, Speed: req.Speed}
		if err := wp.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.opts.Operator.NavigateTo(wp); err != nil {
			if errors.Is(err, autopilot.ErrAutonomous) {
				httputil.Conflict(w, "autonomous session running; exit it first")
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, req)
	case http.MethodDelete:
		s.opts.Operator.ExitAutonomous()
		s.opts.Autopilot.EndPointToPoint()
		httputil.NoContent(w)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type targetTrackingRequest struct {
	MarkerID *int `json:"marker_id"`
}

type targetTrackingResponse struct {
	MarkerID int `json:"marker_id"`
	// Engaged is false outside autonomous mode: the loop runs and its
	// rotation is visible in telemetry, but it only reaches the robot once
	// a session starts.
	Engaged bool `json:"engaged"`
}

func (s *Server) targetTracking(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req targetTrackingRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.MarkerID == nil || *req.MarkerID < 0 {
			httputil.BadRequest(w, "marker_id must be a non-negative integer")
			return
		}
		if err := s.opts.Autopilot.StartTargetTracking(*req.MarkerID); err != nil {
			writeAutopilotError(w, err)
			return
		}
		httputil.WriteJSONOK(w, targetTrackingResponse{
			MarkerID: *req.MarkerID,
			Engaged:  s.inAutonomousMode(),
		})
	case http.MethodDelete:
		s.opts.Autopilot.EndTargetTracking()
		httputil.NoContent(w)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Sessions == nil {
		httputil.NotFound(w, "session log disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	sessions, err := s.opts.Sessions.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Sessions == nil {
		httputil.NotFound(w, "session log disabled")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		httputil.NotFound(w, "session not found")
		return
	}
	detail, err := s.opts.Sessions.GetSession(id)
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, detail)
}

func (s *Server) inAutonomousMode() bool {
	return s.opts.Operator.Snapshot().Sequencer.Auto
}

func writeAutopilotError(w http.ResponseWriter, err error) {
	if errors.Is(err, autopilot.ErrNotInitialized) || errors.Is(err, autopilot.ErrClosed) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
