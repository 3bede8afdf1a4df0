package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/hi-im-vika/zoomy-client/internal/visualiser"
)

// runWatch prints every snapshot from a client's gRPC telemetry service as
// one JSON line.
func runWatch(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:50051", "gRPC telemetry address")
	count := fs.Int("n", 0, "Stop after n snapshots (0 streams until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *addr, err)
	}
	defer cc.Close()
	return streamSnapshots(ctx, cc, *count, w)
}

func streamSnapshots(ctx context.Context, cc grpc.ClientConnInterface, count int, w io.Writer) error {
	stream, err := visualiser.Watch(ctx, cc)
	if err != nil {
		return fmt.Errorf("failed to open telemetry stream: %w", err)
	}
	for n := 0; count <= 0 || n < count; n++ {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		line, err := protojson.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		fmt.Fprintf(w, "%s\n", line)
	}
	return nil
}
