package db

import (
	"database/sql"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

// ErrSessionNotFound is returned by GetSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// Session is one run of the waypoint sequencer.
type Session struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	WaypointCount int        `json:"waypoint_count"`
}

// WaypointEvent is one waypoint attempt within a session. Final is the
// localized position when the waypoint was reached.
type WaypointEvent struct {
	Step       int            `json:"step"`
	Waypoint   arena.Waypoint `json:"waypoint"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	FinalX     *int           `json:"final_x,omitempty"`
	FinalY     *int           `json:"final_y,omitempty"`
}

// PoseSample is the car position and autopilot command at one instant.
type PoseSample struct {
	Time   time.Time `json:"ts"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	MoveX  int       `json:"move_x"`
	MoveY  int       `json:"move_y"`
	Rotate int       `json:"rotate"`
}

// SessionSummary holds statistics derived from a session's samples and
// events.
type SessionSummary struct {
	Duration       float64 `json:"duration_s"`
	PathLength     float64 `json:"path_length_px"`
	SampleCount    int     `json:"sample_count"`
	Reached        int     `json:"reached"`
	MeanFinalError float64 `json:"mean_final_error_px"`
	MaxFinalError  float64 `json:"max_final_error_px"`
	MeanCommand    float64 `json:"mean_command"`
	CommandStdDev  float64 `json:"command_stddev"`
}

// SessionDetail is a session with everything recorded against it.
type SessionDetail struct {
	Session
	Events  []WaypointEvent `json:"events"`
	Samples []PoseSample    `json:"samples"`
	Summary SessionSummary  `json:"summary"`
}

// CreateSession inserts a new open session.
func (db *DB) CreateSession(id string, startedAt time.Time, waypointCount int) error {
	_, err := db.Exec(
		`INSERT INTO sessions (id, started_at, waypoint_count) VALUES (?, ?, ?)`,
		id, unixSeconds(startedAt), waypointCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// EndSession closes a session with its outcome.
func (db *DB) EndSession(id string, endedAt time.Time, outcome string) error {
	_, err := db.Exec(
		`UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ?`,
		unixSeconds(endedAt), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// StartWaypoint records that the sequencer dispatched step.
func (db *DB) StartWaypoint(id string, step int, wp arena.Waypoint, at time.Time) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO waypoint_events (
			session_id, step, dest_x, dest_y, speed, rotation, turret, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, step, wp.X, wp.Y, wp.Speed, wp.Rotation, wp.Turret, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record waypoint %d start: %w", step, err)
	}
	return nil
}

// FinishWaypoint records that step converged at final.
func (db *DB) FinishWaypoint(id string, step int, at time.Time, final image.Point) error {
	_, err := db.Exec(
		`UPDATE waypoint_events SET finished_at = ?, final_x = ?, final_y = ?
		WHERE session_id = ? AND step = ?`,
		unixSeconds(at), final.X, final.Y, id, step,
	)
	if err != nil {
		return fmt.Errorf("failed to record waypoint %d finish: %w", step, err)
	}
	return nil
}

// InsertPoseSample appends one sample to a session.
func (db *DB) InsertPoseSample(id string, s PoseSample) error {
	_, err := db.Exec(
		`INSERT INTO pose_samples (session_id, ts, x, y, move_x, move_y, rotate)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, unixSeconds(s.Time), s.X, s.Y, s.MoveX, s.MoveY, s.Rotate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pose sample: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means no
// limit.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT id, started_at, ended_at, outcome, waypoint_count
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s       Session
		started float64
		ended   sql.NullFloat64
		outcome sql.NullString
	)
	if err := row.Scan(&s.ID, &started, &ended, &outcome, &s.WaypointCount); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromUnixSeconds(started)
	if ended.Valid {
		t := fromUnixSeconds(ended.Float64)
		s.EndedAt = &t
	}
	s.Outcome = outcome.String
	return s, nil
}

// GetSession loads a session with its events, samples and summary.
func (db *DB) GetSession(id string) (*SessionDetail, error) {
	row := db.QueryRow(
		`SELECT id, started_at, ended_at, outcome, waypoint_count
		FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	detail := &SessionDetail{Session: s}
	if detail.Events, err = db.waypointEvents(id); err != nil {
		return nil, err
	}
	if detail.Samples, err = db.poseSamples(id); err != nil {
		return nil, err
	}
	detail.Summary = Summarize(detail)
	return detail, nil
}

func (db *DB) waypointEvents(id string) ([]WaypointEvent, error) {
	rows, err := db.Query(
		`SELECT step, dest_x, dest_y, speed, rotation, turret,
			started_at, finished_at, final_x, final_y
		FROM waypoint_events WHERE session_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load waypoint events: %w", err)
	}
	defer rows.Close()

	events := []WaypointEvent{}
	for rows.Next() {
		var (
			e              WaypointEvent
			started        float64
			finished       sql.NullFloat64
			finalX, finalY sql.NullInt64
		)
		err := rows.Scan(&e.Step, &e.Waypoint.X, &e.Waypoint.Y, &e.Waypoint.Speed,
			&e.Waypoint.Rotation, &e.Waypoint.Turret, &started, &finished, &finalX, &finalY)
		if err != nil {
			return nil, err
		}
		e.StartedAt = fromUnixSeconds(started)
		if finished.Valid {
			t := fromUnixSeconds(finished.Float64)
			e.FinishedAt = &t
		}
		if finalX.Valid && finalY.Valid {
			x, y := int(finalX.Int64), int(finalY.Int64)
			e.FinalX, e.FinalY = &x, &y
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (db *DB) poseSamples(id string) ([]PoseSample, error) {
	rows, err := db.Query(
		`SELECT ts, x, y, move_x, move_y, rotate
		FROM pose_samples WHERE session_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pose samples: %w", err)
	}
	defer rows.Close()

	samples := []PoseSample{}
	for rows.Next() {
		var (
			s  PoseSample
			ts float64
		)
		if err := rows.Scan(&ts, &s.X, &s.Y, &s.MoveX, &s.MoveY, &s.Rotate); err != nil {
			return nil, err
		}
		s.Time = fromUnixSeconds(ts)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Summarize derives path and convergence statistics for a session.
func Summarize(d *SessionDetail) SessionSummary {
	sum := SessionSummary{SampleCount: len(d.Samples)}
	if d.EndedAt != nil {
		sum.Duration = d.EndedAt.Sub(d.StartedAt).Seconds()
	}

	if len(d.Samples) > 1 {
		steps := make([]float64, 0, len(d.Samples)-1)
		for i := 1; i < len(d.Samples); i++ {
			a, b := d.Samples[i-1], d.Samples[i]
			steps = append(steps, math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y)))
		}
		sum.PathLength = floats.Sum(steps)
	}

	if len(d.Samples) > 0 {
		mags := make([]float64, len(d.Samples))
		for i, s := range d.Samples {
			mags[i] = math.Hypot(float64(s.MoveX), float64(s.MoveY))
		}
		sum.MeanCommand, sum.CommandStdDev = stat.MeanStdDev(mags, nil)
		if len(mags) < 2 {
			sum.CommandStdDev = 0
		}
	}

	var errs []float64
	for _, e := range d.Events {
		if e.FinalX == nil || e.FinalY == nil {
			continue
		}
		errs = append(errs, math.Hypot(float64(*e.FinalX-e.Waypoint.X), float64(*e.FinalY-e.Waypoint.Y)))
	}
	sum.Reached = len(errs)
	if len(errs) > 0 {
		sum.MeanFinalError = stat.Mean(errs, nil)
		sum.MaxFinalError = floats.Max(errs)
	}
	return sum
}
