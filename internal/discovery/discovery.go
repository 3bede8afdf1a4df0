// Package discovery finds the robot on the local network over mDNS and
// advertises the operator API.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	Domain            = "local."
	DefaultRobotType  = "_zoomy._udp"
	DefaultClientType = "_zoomy-client._tcp"
)

// ErrNoRobot is returned when browsing times out without an IPv4 answer.
var ErrNoRobot = errors.New("discovery: no robot found")

// Resolver browses for service instances. *zeroconf.Resolver satisfies it.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// NewResolver returns a zeroconf resolver on all interfaces.
func NewResolver() (Resolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return r, nil
}

// Robot is a discovered robot endpoint.
type Robot struct {
	Instance string
	Host     string
	Port     int
}

func (r Robot) String() string {
	return fmt.Sprintf("%s (%s)", r.Instance, net.JoinHostPort(r.Host, strconv.Itoa(r.Port)))
}

// FindRobot browses service for up to timeout and returns the first entry
// with an IPv4 address.
func FindRobot(ctx context.Context, r Resolver, service string, timeout time.Duration) (Robot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := r.Browse(ctx, service, Domain, entries); err != nil {
		return Robot{}, fmt.Errorf("failed to browse %s: %w", service, err)
	}
	diagf("browsing %s for up to %v", service, timeout)

	for {
		select {
		case <-ctx.Done():
			return Robot{}, fmt.Errorf("%w: %s after %v", ErrNoRobot, service, timeout)
		case e, ok := <-entries:
			if !ok {
				return Robot{}, fmt.Errorf("%w: %s after %v", ErrNoRobot, service, timeout)
			}
			if e == nil || len(e.AddrIPv4) == 0 {
				continue
			}
			robot := Robot{Instance: e.Instance, Host: e.AddrIPv4[0].String(), Port: e.Port}
			opsf("found robot %s", robot)
			return robot, nil
		}
	}
}

// registerFunc is zeroconf.Register, swapped in tests.
var registerFunc = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

type shutdowner interface {
	Shutdown()
}

// Advertiser publishes the operator API over mDNS.
type Advertiser struct {
	mu       sync.Mutex
	server   shutdowner
	instance string
	service  string
	port     int
	text     []string
}

// NewAdvertiser prepares an advertisement of port under service. The
// instance name defaults to "<hostname>-zoomy".
func NewAdvertiser(service string, port int, text ...string) *Advertiser {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "operator"
	}
	return &Advertiser{
		instance: hostname + "-zoomy",
		service:  service,
		port:     port,
		text:     text,
	}
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string {
	return a.instance
}

// Start registers the service. Calling Start twice is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	srv, err := registerFunc(a.instance, a.service, Domain, a.port, a.text)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", a.service, err)
	}
	a.server = srv
	opsf("advertising %s.%s on port %d", a.instance, a.service, a.port)
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	diagf("advertisement %s withdrawn", a.instance)
}

// ListenPort extracts the port from a listen address such as ":8080".
func ListenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
