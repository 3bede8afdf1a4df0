// Package visualiser streams telemetry snapshots to external viewers over
// gRPC. Messages are google.protobuf.Struct so viewers need no generated
// code beyond the well-known types.
package visualiser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
)

const (
	ServiceName = "zoomy.telemetry.Telemetry"
	WatchMethod = "/" + ServiceName + "/Watch"
)

// watcher is the service interface registered with grpc.
type watcher interface {
	Watch(req *emptypb.Empty, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watcher)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv interface{}, stream grpc.ServerStream) error {
			req := new(emptypb.Empty)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			return srv.(watcher).Watch(req, stream)
		},
	}},
	Metadata: "zoomy/telemetry.proto",
}

// Config tunes a Server.
type Config struct {
	ListenAddr string
	MaxClients int // 4
	Buffer     int // per-client snapshot queue, 8
}

// Server implements the Telemetry service over a telemetry.Hub.
type Server struct {
	hub *telemetry.Hub
	cfg Config

	clients atomic.Int32
	sent    atomic.Uint64

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

var _ watcher = (*Server)(nil)

// NewServer returns a server publishing snapshots from hub.
func NewServer(hub *telemetry.Hub, cfg Config) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}
	return &Server{hub: hub, cfg: cfg}
}

// Register adds the Telemetry service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Clients returns the number of connected watchers.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Sent returns how many snapshots have been streamed in total.
func (s *Server) Sent() uint64 {
	return s.sent.Load()
}

// Watch streams every published snapshot until the client goes away. The
// latest snapshot, if any, is sent first.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if n := s.clients.Add(1); int(n) > s.cfg.MaxClients {
		s.clients.Add(-1)
		return status.Errorf(codes.ResourceExhausted, "visualiser: %d clients already connected", s.cfg.MaxClients)
	}
	defer s.clients.Add(-1)

	id, ch := s.hub.Subscribe(s.cfg.Buffer)
	defer s.hub.Unsubscribe(id)
	diagf("watcher %s connected (%d/%d)", id, s.Clients(), s.cfg.MaxClients)
	defer diagf("watcher %s disconnected", id)

	if latest, ok := s.hub.Latest(); ok {
		if err := s.send(stream, latest); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.send(stream, snap); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, snap telemetry.Snapshot) error {
	msg, err := ToStruct(snap)
	if err != nil {
		return status.Errorf(codes.Internal, "visualiser: %v", err)
	}
	if err := stream.SendMsg(msg); err != nil {
		tracef("send failed: %v", err)
		return err
	}
	s.sent.Add(1)
	return nil
}

// ToStruct converts a snapshot to a Struct via its JSON form, so field
// names match the websocket feed.
func ToStruct(snap telemetry.Snapshot) (*structpb.Struct, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("failed to convert snapshot: %w", err)
	}
	return msg, nil
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("visualiser already running")
	}
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	s.Register(s.server)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		opsf("gRPC telemetry listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends all streams and waits for the server goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	gs := s.server
	s.server = nil
	s.mu.Unlock()
	if gs == nil {
		return
	}
	// Watch streams only end when their context is cancelled, so a graceful
	// stop would wait forever.
	gs.Stop()
	s.wg.Wait()
	diagf("gRPC telemetry stopped")
}

// WatchClient receives snapshots from a Watch stream.
type WatchClient struct {
	stream grpc.ClientStream
}

// Watch opens a Watch stream on cc.
func Watch(ctx context.Context, cc grpc.ClientConnInterface) (*WatchClient, error) {
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], WatchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream: stream}, nil
}

// Recv blocks for the next snapshot.
func (c *WatchClient) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := c.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
