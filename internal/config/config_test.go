package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &ClientConfig{}

	if got := cfg.Robot.GetPort(); got != 4210 {
		t.Errorf("GetPort() = %d, want 4210", got)
	}
	if got := cfg.Robot.GetTransport(); got != "udp" {
		t.Errorf("GetTransport() = %q, want udp", got)
	}
	if got := cfg.Robot.GetPingTimeout(); got != time.Second {
		t.Errorf("GetPingTimeout() = %v, want 1s", got)
	}
	if got := cfg.Robot.GetSendInterval(); got != 35*time.Millisecond {
		t.Errorf("GetSendInterval() = %v, want 35ms", got)
	}
	if got := cfg.Autopilot.GetGain(); got != 255 {
		t.Errorf("GetGain() = %d, want 255", got)
	}
	if got := cfg.Autopilot.GetLoopPeriod(); got != time.Millisecond {
		t.Errorf("GetLoopPeriod() = %v, want 1ms", got)
	}
	if got := cfg.Autopilot.GetThresholds(); got != arena.DefaultHSVRange {
		t.Errorf("GetThresholds() = %+v, want default", got)
	}
	if got := cfg.Input.GetDeadzone(); got != 8000 {
		t.Errorf("GetDeadzone() = %d, want 8000", got)
	}
	if got := cfg.Telemetry.GetInterval(); got != 50*time.Millisecond {
		t.Errorf("GetInterval() = %v, want 50ms", got)
	}
	if got := cfg.DB.GetSampleInterval(); got != 100*time.Millisecond {
		t.Errorf("GetSampleInterval() = %v, want 100ms", got)
	}
	if got := cfg.Discovery.GetTimeout(); got != 5*time.Second {
		t.Errorf("GetTimeout() = %v, want 5s", got)
	}

	dev, pipeline := cfg.Video.GetDashcam()
	if dev != -1 || pipeline != DefaultDashcamPipeline {
		t.Errorf("GetDashcam() = (%d, %q), want GStreamer default", dev, pipeline)
	}
	if dev, _ := cfg.Video.GetArena(); dev != 0 {
		t.Errorf("GetArena() device = %d, want 0", dev)
	}
	if !cfg.Video.GetFlipDashcam() {
		t.Error("GetFlipDashcam() = false, want true")
	}
	if diff := cmp.Diff(arena.DefaultWaypoints, cfg.GetWaypoints()); diff != "" {
		t.Errorf("GetWaypoints() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "zoomy.json", `{
  "listen": "127.0.0.1:9000",
  "robot": {"host": "192.168.4.1", "port": 5000, "ping_timeout": "750ms"},
  "video": {"arena": {"pipeline": "v4l2src ! videoconvert ! appsink"}, "arena_pre_masked": true},
  "autopilot": {"gain": 128, "frame_driven": true, "thresholds": {"low": {"h": 40, "s": 50, "v": 50}, "high": {"h": 80, "s": 255, "v": 255}}},
  "input": {"deadzone": 5000, "steering_trim": -300, "invert_steering": true},
  "waypoints": [{"x": 0, "y": 0}, {"x": 10, "y": 20, "speed": 32768, "rotation": 45, "turret": true}]
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetListen(); got != "127.0.0.1:9000" {
		t.Errorf("GetListen() = %q", got)
	}
	if got := cfg.Robot.GetHost(); got != "192.168.4.1" {
		t.Errorf("GetHost() = %q", got)
	}
	if got := cfg.Robot.GetPingTimeout(); got != 750*time.Millisecond {
		t.Errorf("GetPingTimeout() = %v", got)
	}
	if dev, pipeline := cfg.Video.GetArena(); dev != -1 || !strings.HasPrefix(pipeline, "v4l2src") {
		t.Errorf("GetArena() = (%d, %q)", dev, pipeline)
	}
	if !cfg.Video.GetArenaMasked() {
		t.Error("GetArenaMasked() = false")
	}
	if got := cfg.Autopilot.GetThresholds().Low.H; got != 40 {
		t.Errorf("thresholds low hue = %d, want 40", got)
	}
	if !cfg.Autopilot.GetFrameDriven() {
		t.Error("GetFrameDriven() = false")
	}
	if got := cfg.Input.GetSteeringTrim(); got != -300 {
		t.Errorf("GetSteeringTrim() = %d", got)
	}
	want := []arena.Waypoint{{}, {X: 10, Y: 20, Speed: 32768, Rotation: 45, Turret: true}}
	if diff := cmp.Diff(want, cfg.GetWaypoints()); diff != "" {
		t.Errorf("GetWaypoints() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	if _, err := Load(writeConfig(t, "zoomy.yaml", "{}")); err == nil || !strings.Contains(err.Error(), ".json extension") {
		t.Errorf("expected extension error, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected stat error for missing file")
	}
	if _, err := Load(writeConfig(t, "bad.json", "{not json")); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
	big := `{"listen": "` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := Load(writeConfig(t, "big.json", big)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"port out of range", `{"robot": {"port": 70000}}`},
		{"unknown transport", `{"robot": {"transport": "carrier-pigeon"}}`},
		{"replay without file", `{"robot": {"transport": "replay"}}`},
		{"bad duration", `{"robot": {"send_interval": "soon"}}`},
		{"negative duration", `{"autopilot": {"loop_period": "-1ms"}}`},
		{"zero gain", `{"autopilot": {"gain": 0}}`},
		{"hue out of range", `{"autopilot": {"thresholds": {"low": {"h": 200}}}}`},
		{"deadzone too big", `{"input": {"deadzone": 40000}}`},
		{"trim too big", `{"input": {"throttle_trim": -40000}}`},
		{"waypoint rotation", `{"waypoints": [{"rotation": 360}]}`},
		{"waypoint speed", `{"waypoints": [{"speed": 40000}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.json", tt.json))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOverride(t *testing.T) {
	cfg := &ClientConfig{}
	cfg.Override("10.0.0.2", 0, "", "/tmp/z.db")
	if cfg.Robot.GetHost() != "10.0.0.2" || cfg.Robot.GetPort() != 4210 {
		t.Errorf("robot = %s:%d", cfg.Robot.GetHost(), cfg.Robot.GetPort())
	}
	if cfg.DB.GetPath() != "/tmp/z.db" {
		t.Errorf("db path = %q", cfg.DB.GetPath())
	}
	if cfg.GetListen() != ":8080" {
		t.Errorf("listen = %q", cfg.GetListen())
	}
}
