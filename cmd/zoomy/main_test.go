package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hi-im-vika/zoomy-client/internal/config"
	"github.com/hi-im-vika/zoomy-client/internal/discovery"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
	"github.com/hi-im-vika/zoomy-client/internal/visualiser"
)

type oneRobotResolver struct {
	port int
}

func (r oneRobotResolver) Browse(ctx context.Context, service, domain string, ch chan<- *zeroconf.ServiceEntry) error {
	e := zeroconf.NewServiceEntry("zoomy", service, domain)
	e.Port = r.port
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.4.1")}
	go func() { ch <- e }()
	return nil
}

func resolverFunc(r discovery.Resolver) func() (discovery.Resolver, error) {
	return func() (discovery.Resolver, error) { return r, nil }
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestResolveRobot(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ClientConfig
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "configured host skips discovery",
			cfg:      config.ClientConfig{Robot: &config.RobotConfig{Host: strPtr("10.0.0.5")}},
			wantHost: "10.0.0.5",
			wantPort: 4210,
		},
		{
			name:     "discovered host and port",
			cfg:      config.ClientConfig{},
			wantHost: "192.168.4.1",
			wantPort: 5000,
		},
		{
			name:     "configured port wins over advertised",
			cfg:      config.ClientConfig{Robot: &config.RobotConfig{Port: intPtr(4300)}},
			wantHost: "192.168.4.1",
			wantPort: 4300,
		},
		{
			name:    "discovery disabled",
			cfg:     config.ClientConfig{Discovery: &config.DiscoveryConfig{Enabled: boolPtr(false)}},
			wantErr: true,
		},
		{
			name:     "serial link never browses",
			cfg:      config.ClientConfig{Robot: &config.RobotConfig{Transport: strPtr("serial")}},
			wantHost: "",
			wantPort: 4210,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := resolveRobot(context.Background(), &cfg, resolverFunc(oneRobotResolver{port: 5000}))
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoRobotHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, cfg.Robot.GetHost())
			assert.Equal(t, tt.wantPort, cfg.Robot.GetPort())
		})
	}
}

func TestNewLink(t *testing.T) {
	udp, target, err := newLink(&config.RobotConfig{Host: strPtr("10.0.0.5")})
	require.NoError(t, err)
	assert.IsType(t, &transport.UDPLink{}, udp)
	assert.Equal(t, "10.0.0.5", target)

	serial, target, err := newLink(&config.RobotConfig{Transport: strPtr("serial"), SerialPath: strPtr("/dev/ttyUSB1")})
	require.NoError(t, err)
	assert.IsType(t, &transport.SerialLink{}, serial)
	assert.Equal(t, "/dev/ttyUSB1", target)

	replay, target, err := newLink(&config.RobotConfig{Transport: strPtr("replay"), ReplayFile: strPtr("run.pcap")})
	require.NoError(t, err)
	require.IsType(t, &transport.ReplayLink{}, replay)
	assert.True(t, replay.(*transport.ReplayLink).Realtime)
	assert.Equal(t, "run.pcap", target)

	_, _, err = newLink(&config.RobotConfig{Transport: strPtr("carrier-pigeon")})
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "udp", cfg.Robot.GetTransport())
	assert.Equal(t, ":8080", cfg.GetListen())

	path := filepath.Join(t.TempDir(), "zoomy.json")
	data, err := json.Marshal(map[string]interface{}{
		"listen": ":9090",
		"robot":  map[string]interface{}{"host": "10.1.1.1", "port": 4211},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, "10.1.1.1", cfg.Robot.GetHost())
	assert.Equal(t, 4211, cfg.Robot.GetPort())

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"robot":{"port":70000}}`), 0o644))
	_, err = loadConfig(bad)
	assert.Error(t, err)
}

func TestStreamSnapshots(t *testing.T) {
	hub := telemetry.NewHub()
	hub.Publish(telemetry.Snapshot{Connected: true, Speed: 42})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	visualiser.NewServer(hub, visualiser.Config{}).Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, streamSnapshots(ctx, conn, 1, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, true, got["connected"])
	assert.Equal(t, 42.0, got["speed"])
}
