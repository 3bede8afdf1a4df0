// Package config loads the operator client configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultDashcamPipeline receives the robot's RTP/JPEG dashcam stream.
const DefaultDashcamPipeline = "udpsrc port=5200 ! application/x-rtp, media=video, clock-rate=90000, payload=96 ! rtpjpegdepay ! jpegdec ! videoconvert ! appsink"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ClientConfig is the root of the JSON configuration file. Every field is
// optional; the Get* accessors supply defaults.
type ClientConfig struct {
	Listen    *string          `json:"listen,omitempty"`
	Robot     *RobotConfig     `json:"robot,omitempty"`
	Video     *VideoConfig     `json:"video,omitempty"`
	Autopilot *AutopilotConfig `json:"autopilot,omitempty"`
	Input     *InputConfig     `json:"input,omitempty"`
	Waypoints []arena.Waypoint `json:"waypoints,omitempty"`
	Telemetry *TelemetryConfig `json:"telemetry,omitempty"`
	DB        *DBConfig        `json:"db,omitempty"`
	Discovery *DiscoveryConfig `json:"discovery,omitempty"`
}

// RobotConfig describes the link to the robot.
type RobotConfig struct {
	Host           *string `json:"host,omitempty"`
	Port           *int    `json:"port,omitempty"`
	Transport      *string `json:"transport,omitempty"` // udp, serial or replay
	SerialPath     *string `json:"serial_path,omitempty"`
	BaudRate       *int    `json:"baud_rate,omitempty"`
	ReplayFile     *string `json:"replay_file,omitempty"`
	PingTimeout    *string `json:"ping_timeout,omitempty"`
	SendInterval   *string `json:"send_interval,omitempty"`
	BackoffInitial *string `json:"backoff_initial,omitempty"`
	BackoffMax     *string `json:"backoff_max,omitempty"`
}

// CaptureConfig selects a camera by device index or GStreamer pipeline.
type CaptureConfig struct {
	Device   *int    `json:"device,omitempty"`
	Pipeline *string `json:"pipeline,omitempty"`
}

// VideoConfig describes both cameras.
type VideoConfig struct {
	Dashcam     *CaptureConfig `json:"dashcam,omitempty"`
	Arena       *CaptureConfig `json:"arena,omitempty"`
	FlipDashcam *bool          `json:"flip_dashcam,omitempty"`
	ArenaMasked *bool          `json:"arena_pre_masked,omitempty"`
}

// AutopilotConfig tunes the control loops.
type AutopilotConfig struct {
	Gain         *int            `json:"gain,omitempty"`
	LoopPeriod   *string         `json:"loop_period,omitempty"`
	FrameDriven  *bool           `json:"frame_driven,omitempty"`
	Thresholds   *arena.HSVRange `json:"thresholds,omitempty"`
	KernelSize   *int            `json:"kernel_size,omitempty"`
	Dictionary   *string         `json:"marker_dictionary,omitempty"`
	TargetMarker *int            `json:"target_marker,omitempty"`
}

// InputConfig tunes operator input.
type InputConfig struct {
	Deadzone       *int    `json:"deadzone,omitempty"`
	SteeringTrim   *int    `json:"steering_trim,omitempty"`
	ThrottleTrim   *int    `json:"throttle_trim,omitempty"`
	InvertSteering *bool   `json:"invert_steering,omitempty"`
	Profile        *string `json:"profile,omitempty"`
	Keyboard       *bool   `json:"keyboard,omitempty"`
	UpdatePeriod   *string `json:"update_period,omitempty"`
}

// TelemetryConfig controls the live telemetry surfaces.
type TelemetryConfig struct {
	Interval       *string `json:"interval,omitempty"`
	GRPCListen     *string `json:"grpc_listen,omitempty"`
	GRPCMaxClients *int    `json:"grpc_max_clients,omitempty"`
	RedisAddr      *string `json:"redis_addr,omitempty"`
	RedisKey       *string `json:"redis_key,omitempty"`
	RedisChannel   *string `json:"redis_channel,omitempty"`
}

// DBConfig locates the session log.
type DBConfig struct {
	Path           *string `json:"path,omitempty"`
	SampleInterval *string `json:"sample_interval,omitempty"`
}

// DiscoveryConfig controls mDNS.
type DiscoveryConfig struct {
	Enabled       *bool   `json:"enabled,omitempty"`
	RobotService  *string `json:"robot_service,omitempty"`
	ClientService *string `json:"client_service,omitempty"`
	Advertise     *bool   `json:"advertise,omitempty"`
	Timeout       *string `json:"timeout,omitempty"`
}

// Load reads and validates a configuration file. The file must have a
// .json extension and be under 1MB.
func Load(path string) (*ClientConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ClientConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func checkDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return invalid("%s %q: %v", name, *s, err)
	}
	if d <= 0 {
		return invalid("%s must be positive, got %s", name, *s)
	}
	return nil
}

// Validate checks every set field.
func (c *ClientConfig) Validate() error {
	r := c.Robot
	if r != nil {
		if r.Port != nil && (*r.Port <= 0 || *r.Port > 65535) {
			return invalid("robot.port %d out of range", *r.Port)
		}
		switch r.GetTransport() {
		case "udp", "serial", "replay":
		default:
			return invalid("robot.transport %q: expected udp, serial or replay", r.GetTransport())
		}
		if r.GetTransport() == "replay" && r.GetReplayFile() == "" {
			return invalid("robot.replay_file is required for the replay transport")
		}
		for name, d := range map[string]*string{
			"robot.ping_timeout":    r.PingTimeout,
			"robot.send_interval":   r.SendInterval,
			"robot.backoff_initial": r.BackoffInitial,
			"robot.backoff_max":     r.BackoffMax,
		} {
			if err := checkDuration(name, d); err != nil {
				return err
			}
		}
	}

	if a := c.Autopilot; a != nil {
		if a.Gain != nil && *a.Gain <= 0 {
			return invalid("autopilot.gain must be positive, got %d", *a.Gain)
		}
		if err := checkDuration("autopilot.loop_period", a.LoopPeriod); err != nil {
			return err
		}
		if a.Thresholds != nil {
			if err := a.Thresholds.Validate(); err != nil {
				return invalid("autopilot.thresholds: %v", err)
			}
		}
		if a.KernelSize != nil && *a.KernelSize < 1 {
			return invalid("autopilot.kernel_size must be at least 1, got %d", *a.KernelSize)
		}
		if a.Dictionary != nil && !arena.KnownMarkerDictionary(*a.Dictionary) {
			return invalid("autopilot.marker_dictionary %q is not one of %v", *a.Dictionary, arena.MarkerDictionaries)
		}
		if a.TargetMarker != nil && *a.TargetMarker < 0 {
			return invalid("autopilot.target_marker must be non-negative, got %d", *a.TargetMarker)
		}
	}

	if in := c.Input; in != nil {
		if in.Deadzone != nil && (*in.Deadzone < 0 || *in.Deadzone > 32767) {
			return invalid("input.deadzone %d out of range [0,32767]", *in.Deadzone)
		}
		for name, trim := range map[string]*int{"input.steering_trim": in.SteeringTrim, "input.throttle_trim": in.ThrottleTrim} {
			if trim != nil && (*trim < -32767 || *trim > 32767) {
				return invalid("%s %d out of range", name, *trim)
			}
		}
		if err := checkDuration("input.update_period", in.UpdatePeriod); err != nil {
			return err
		}
	}

	for i, w := range c.Waypoints {
		if err := w.Validate(); err != nil {
			return invalid("waypoints[%d]: %v", i, err)
		}
	}

	if t := c.Telemetry; t != nil {
		if err := checkDuration("telemetry.interval", t.Interval); err != nil {
			return err
		}
		if t.GRPCMaxClients != nil && *t.GRPCMaxClients < 0 {
			return invalid("telemetry.grpc_max_clients must be non-negative, got %d", *t.GRPCMaxClients)
		}
	}
	if c.DB != nil {
		if err := checkDuration("db.sample_interval", c.DB.SampleInterval); err != nil {
			return err
		}
	}
	if c.Discovery != nil {
		if err := checkDuration("discovery.timeout", c.Discovery.Timeout); err != nil {
			return err
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Override applies command-line flags. Empty strings and zero ports leave
// the file values in place.
func (c *ClientConfig) Override(host string, port int, listen, dbPath string) {
	if host != "" || port != 0 {
		if c.Robot == nil {
			c.Robot = &RobotConfig{}
		}
		if host != "" {
			c.Robot.Host = &host
		}
		if port != 0 {
			c.Robot.Port = &port
		}
	}
	if listen != "" {
		c.Listen = &listen
	}
	if dbPath != "" {
		if c.DB == nil {
			c.DB = &DBConfig{}
		}
		c.DB.Path = &dbPath
	}
}

// GetListen returns the HTTP API listen address.
func (c *ClientConfig) GetListen() string { return stringOr(c.Listen, ":8080") }

// GetWaypoints returns the configured traversal or DefaultWaypoints.
func (c *ClientConfig) GetWaypoints() []arena.Waypoint {
	if len(c.Waypoints) == 0 {
		return append([]arena.Waypoint(nil), arena.DefaultWaypoints...)
	}
	return append([]arena.Waypoint(nil), c.Waypoints...)
}

// The accessors below accept a nil receiver so an absent section reads as
// all defaults.

func (r *RobotConfig) GetHost() string {
	if r == nil {
		return ""
	}
	return stringOr(r.Host, "")
}

func (r *RobotConfig) GetPort() int {
	if r == nil {
		return 4210
	}
	return intOr(r.Port, 4210)
}

func (r *RobotConfig) GetTransport() string {
	if r == nil {
		return "udp"
	}
	return stringOr(r.Transport, "udp")
}

func (r *RobotConfig) GetSerialPath() string {
	if r == nil {
		return "/dev/ttyUSB0"
	}
	return stringOr(r.SerialPath, "/dev/ttyUSB0")
}

func (r *RobotConfig) GetBaudRate() int {
	if r == nil {
		return 115200
	}
	return intOr(r.BaudRate, 115200)
}

func (r *RobotConfig) GetReplayFile() string {
	if r == nil {
		return ""
	}
	return stringOr(r.ReplayFile, "")
}

func (r *RobotConfig) GetPingTimeout() time.Duration {
	if r == nil {
		return time.Second
	}
	return durationOr(r.PingTimeout, time.Second)
}

func (r *RobotConfig) GetSendInterval() time.Duration {
	if r == nil {
		return 35 * time.Millisecond
	}
	return durationOr(r.SendInterval, 35*time.Millisecond)
}

func (r *RobotConfig) GetBackoffInitial() time.Duration {
	if r == nil {
		return 100 * time.Millisecond
	}
	return durationOr(r.BackoffInitial, 100*time.Millisecond)
}

func (r *RobotConfig) GetBackoffMax() time.Duration {
	if r == nil {
		return 5 * time.Second
	}
	return durationOr(r.BackoffMax, 5*time.Second)
}

// GetDevice returns the device index, or -1 when a pipeline is used.
func (c *CaptureConfig) GetDevice(def int) int {
	if c == nil {
		return def
	}
	if c.Device == nil && c.Pipeline != nil {
		return -1
	}
	return intOr(c.Device, def)
}

func (c *CaptureConfig) GetPipeline(def string) string {
	if c == nil {
		return def
	}
	return stringOr(c.Pipeline, def)
}

// GetDashcam returns the dashcam device and pipeline. The default is the
// robot's RTP stream.
func (v *VideoConfig) GetDashcam() (int, string) {
	var c *CaptureConfig
	if v != nil {
		c = v.Dashcam
	}
	return c.GetDevice(-1), c.GetPipeline(DefaultDashcamPipeline)
}

// GetArena returns the overhead camera device and pipeline. The default is
// local device 0.
func (v *VideoConfig) GetArena() (int, string) {
	var c *CaptureConfig
	if v != nil {
		c = v.Arena
	}
	return c.GetDevice(0), c.GetPipeline("")
}

func (v *VideoConfig) GetFlipDashcam() bool {
	if v == nil {
		return true
	}
	return boolOr(v.FlipDashcam, true)
}

func (v *VideoConfig) GetArenaMasked() bool {
	if v == nil {
		return false
	}
	return boolOr(v.ArenaMasked, false)
}

func (a *AutopilotConfig) GetGain() int {
	if a == nil {
		return 255
	}
	return intOr(a.Gain, 255)
}

func (a *AutopilotConfig) GetLoopPeriod() time.Duration {
	if a == nil {
		return time.Millisecond
	}
	return durationOr(a.LoopPeriod, time.Millisecond)
}

func (a *AutopilotConfig) GetFrameDriven() bool {
	if a == nil {
		return false
	}
	return boolOr(a.FrameDriven, false)
}

func (a *AutopilotConfig) GetThresholds() arena.HSVRange {
	if a == nil || a.Thresholds == nil {
		return arena.DefaultHSVRange
	}
	return *a.Thresholds
}

func (a *AutopilotConfig) GetKernelSize() int {
	if a == nil {
		return 3
	}
	return intOr(a.KernelSize, 3)
}

func (a *AutopilotConfig) GetDictionary() string {
	if a == nil {
		return "6x6_250"
	}
	return stringOr(a.Dictionary, "6x6_250")
}

func (a *AutopilotConfig) GetTargetMarker() int {
	if a == nil {
		return 0
	}
	return intOr(a.TargetMarker, 0)
}

func (in *InputConfig) GetDeadzone() int {
	if in == nil {
		return 8000
	}
	return intOr(in.Deadzone, 8000)
}

func (in *InputConfig) GetSteeringTrim() int {
	if in == nil {
		return 0
	}
	return intOr(in.SteeringTrim, 0)
}

func (in *InputConfig) GetThrottleTrim() int {
	if in == nil {
		return 0
	}
	return intOr(in.ThrottleTrim, 0)
}

func (in *InputConfig) GetInvertSteering() bool {
	if in == nil {
		return false
	}
	return boolOr(in.InvertSteering, false)
}

func (in *InputConfig) GetProfile() string {
	if in == nil {
		return "xbox360"
	}
	return stringOr(in.Profile, "xbox360")
}

func (in *InputConfig) GetKeyboard() bool {
	if in == nil {
		return false
	}
	return boolOr(in.Keyboard, false)
}

func (in *InputConfig) GetUpdatePeriod() time.Duration {
	if in == nil {
		return time.Millisecond
	}
	return durationOr(in.UpdatePeriod, time.Millisecond)
}

func (t *TelemetryConfig) GetInterval() time.Duration {
	if t == nil {
		return 50 * time.Millisecond
	}
	return durationOr(t.Interval, 50*time.Millisecond)
}

// GetGRPCListen returns the visualiser listen address; empty disables it.
func (t *TelemetryConfig) GetGRPCListen() string {
	if t == nil {
		return ""
	}
	return stringOr(t.GRPCListen, "")
}

func (t *TelemetryConfig) GetGRPCMaxClients() int {
	if t == nil {
		return 4
	}
	return intOr(t.GRPCMaxClients, 4)
}

// GetRedisAddr returns the redis mirror address; empty disables it.
func (t *TelemetryConfig) GetRedisAddr() string {
	if t == nil {
		return ""
	}
	return stringOr(t.RedisAddr, "")
}

func (t *TelemetryConfig) GetRedisKey() string {
	if t == nil {
		return "zoomy:telemetry:latest"
	}
	return stringOr(t.RedisKey, "zoomy:telemetry:latest")
}

func (t *TelemetryConfig) GetRedisChannel() string {
	if t == nil {
		return "zoomy:telemetry"
	}
	return stringOr(t.RedisChannel, "zoomy:telemetry")
}

// GetPath returns the session log path; empty disables the log.
func (d *DBConfig) GetPath() string {
	if d == nil {
		return "zoomy.db"
	}
	return stringOr(d.Path, "zoomy.db")
}

func (d *DBConfig) GetSampleInterval() time.Duration {
	if d == nil {
		return 100 * time.Millisecond
	}
	return durationOr(d.SampleInterval, 100*time.Millisecond)
}

func (d *DiscoveryConfig) GetEnabled() bool {
	if d == nil {
		return true
	}
	return boolOr(d.Enabled, true)
}

func (d *DiscoveryConfig) GetRobotService() string {
	if d == nil {
		return "_zoomy._udp"
	}
	return stringOr(d.RobotService, "_zoomy._udp")
}

func (d *DiscoveryConfig) GetClientService() string {
	if d == nil {
		return "_zoomy-client._tcp"
	}
	return stringOr(d.ClientService, "_zoomy-client._tcp")
}

func (d *DiscoveryConfig) GetAdvertise() bool {
	if d == nil {
		return false
	}
	return boolOr(d.Advertise, false)
}

func (d *DiscoveryConfig) GetTimeout() time.Duration {
	if d == nil {
		return 5 * time.Second
	}
	return durationOr(d.Timeout, 5*time.Second)
}
