package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hi-im-vika/zoomy-client/internal/config"
	"github.com/hi-im-vika/zoomy-client/internal/discovery"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
)

var errNoRobotHost = errors.New("robot host is not configured and discovery is disabled")

// resolveRobot fills in the robot address from mDNS when a UDP link has no
// host. An explicitly configured port wins over the advertised one.
func resolveRobot(ctx context.Context, cfg *config.ClientConfig, newResolver func() (discovery.Resolver, error)) error {
	if cfg.Robot.GetTransport() != "udp" || cfg.Robot.GetHost() != "" {
		return nil
	}
	if !cfg.Discovery.GetEnabled() {
		return errNoRobotHost
	}
	resolver, err := newResolver()
	if err != nil {
		return err
	}
	robot, err := discovery.FindRobot(ctx, resolver, cfg.Discovery.GetRobotService(), cfg.Discovery.GetTimeout())
	if err != nil {
		return err
	}
	port := robot.Port
	if cfg.Robot != nil && cfg.Robot.Port != nil {
		port = 0
	}
	cfg.Override(robot.Host, port, "", "")
	log.Printf("using discovered robot %s", robot)
	return nil
}

// newLink builds the link for the configured transport and returns the
// target the mux reconnects to: a host, a serial device or a pcap file.
func newLink(cfg *config.RobotConfig) (transport.Link, string, error) {
	switch kind := cfg.GetTransport(); kind {
	case "udp":
		link := transport.NewUDPLink(transport.UDPLinkConfig{PingTimeout: cfg.GetPingTimeout()})
		return link, cfg.GetHost(), nil
	case "serial":
		opts, err := transport.PortOptions{BaudRate: cfg.GetBaudRate()}.Normalize()
		if err != nil {
			return nil, "", fmt.Errorf("invalid serial options: %w", err)
		}
		link := transport.NewSerialLink(opts, transport.OpenSerialPort, nil, cfg.GetPingTimeout())
		return link, cfg.GetSerialPath(), nil
	case "replay":
		link := transport.NewReplayLink(nil)
		link.Realtime = true
		return link, cfg.GetReplayFile(), nil
	default:
		return nil, "", fmt.Errorf("unknown robot transport %q", kind)
	}
}
