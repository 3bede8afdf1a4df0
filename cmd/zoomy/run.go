package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gobot.io/x/gobot"

	"github.com/hi-im-vika/zoomy-client/internal/api"
	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/client"
	"github.com/hi-im-vika/zoomy-client/internal/config"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/discovery"
	"github.com/hi-im-vika/zoomy-client/internal/input"
	"github.com/hi-im-vika/zoomy-client/internal/monitor"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
	"github.com/hi-im-vika/zoomy-client/internal/version"
	"github.com/hi-im-vika/zoomy-client/internal/vision"
	"github.com/hi-im-vika/zoomy-client/internal/visualiser"
)

const trailSize = 3000

// run wires every component and blocks until SIGINT or SIGTERM.
func run(cfg *config.ClientConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resolveRobot(ctx, cfg, discovery.NewResolver); err != nil {
		return err
	}

	link, target, err := newLink(cfg.Robot)
	if err != nil {
		return err
	}
	robotLink := transport.NewMux(link, transport.MuxConfig{
		Host:           target,
		Port:           cfg.Robot.GetPort(),
		SendInterval:   cfg.Robot.GetSendInterval(),
		BackoffInitial: cfg.Robot.GetBackoffInitial(),
		BackoffMax:     cfg.Robot.GetBackoffMax(),
	})
	defer robotLink.Close()
	log.Printf("robot link: %s %s:%d", cfg.Robot.GetTransport(), target, cfg.Robot.GetPort())

	// Cameras
	dashcamCell := vision.NewFrameCell()
	defer dashcamCell.Close()
	arenaCell := vision.NewFrameCell()
	defer arenaCell.Close()

	dashDevice, dashPipeline := cfg.Video.GetDashcam()
	dashcamSpec := vision.CaptureSpec{Device: dashDevice, Pipeline: dashPipeline}
	dashcamReader, err := vision.OpenCapture(dashcamSpec)
	if err != nil {
		return fmt.Errorf("failed to open dashcam: %w", err)
	}
	arenaDevice, arenaPipeline := cfg.Video.GetArena()
	arenaSpec := vision.CaptureSpec{Device: arenaDevice, Pipeline: arenaPipeline}
	arenaReader, err := vision.OpenCapture(arenaSpec)
	if err != nil {
		dashcamReader.Close()
		return fmt.Errorf("failed to open arena camera: %w", err)
	}
	log.Printf("cameras: dashcam %s, arena %s", dashcamSpec, arenaSpec)

	detector, err := vision.NewArucoDetectorForDictionary(cfg.Autopilot.GetDictionary())
	if err != nil {
		dashcamReader.Close()
		arenaReader.Close()
		return err
	}
	defer detector.Close()
	segmenter := vision.NewSegmenter(cfg.Autopilot.GetKernelSize())
	segmenter.PreMasked = cfg.Video.GetArenaMasked()
	defer segmenter.Close()

	// Autopilot
	thresholds := cfg.Autopilot.GetThresholds()
	pilotOpts := autopilot.Options{
		Gain:       cfg.Autopilot.GetGain(),
		Period:     cfg.Autopilot.GetLoopPeriod(),
		Thresholds: &thresholds,
	}
	if cfg.Autopilot.GetFrameDriven() {
		pilotOpts.PointToPointPacer = &vision.FramePacer{Cell: arenaCell}
		pilotOpts.TrackingPacer = &vision.FramePacer{Cell: dashcamCell}
	}
	controller := autopilot.NewController(pilotOpts)
	defer controller.Close()
	markers := &vision.DashcamMarkers{Frames: dashcamCell, Detector: detector}
	localizer := &vision.OverheadLocalizer{Frames: arenaCell, Segmenter: segmenter}
	if err := controller.Initialize(markers, localizer); err != nil {
		dashcamReader.Close()
		arenaReader.Close()
		return fmt.Errorf("failed to initialize autopilot: %w", err)
	}
	if cfg.Autopilot != nil && cfg.Autopilot.TargetMarker != nil {
		if err := controller.StartTargetTracking(cfg.Autopilot.GetTargetMarker()); err != nil {
			log.Printf("target tracking not started: %v", err)
		}
	}
	sequencer := autopilot.NewSequencer(controller, cfg.GetWaypoints())

	// Session log
	var sessions *db.DB
	var recorder *db.Recorder
	if path := cfg.DB.GetPath(); path != "" {
		sessions, err = db.NewDB(path)
		if err != nil {
			dashcamReader.Close()
			arenaReader.Close()
			return fmt.Errorf("failed to open session log: %w", err)
		}
		defer sessions.Close()
		recorder = db.NewRecorder(sessions, db.RecorderConfig{SampleInterval: cfg.DB.GetSampleInterval()})
		sequencer.SetObserver(recorder)
	}

	// Operator input
	pad := input.NewGamepad(input.Trim{
		Steering:       cfg.Input.GetSteeringTrim(),
		Throttle:       cfg.Input.GetThrottleTrim(),
		InvertSteering: cfg.Input.GetInvertSteering(),
	})
	robots := startInputRobots(cfg.Input, pad)
	defer func() {
		for _, r := range robots {
			if err := r.Stop(); err != nil {
				log.Printf("failed to stop %s: %v", r.Name, err)
			}
		}
	}()

	hub := telemetry.NewHub()
	defer hub.Close()

	clientOpts := client.Options{
		Pad:               pad,
		Sequencer:         sequencer,
		Pilot:             controller,
		Arbiter:           autopilot.Arbiter{Deadzone: cfg.Input.GetDeadzone()},
		Link:              robotLink,
		Hub:               hub,
		Period:            cfg.Input.GetUpdatePeriod(),
		TelemetryInterval: cfg.Telemetry.GetInterval(),
	}
	if recorder != nil {
		clientOpts.Poses = recorder
	}
	operator := client.New(clientOpts)

	trail := monitor.NewTrail(trailSize)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	spawn("robot link", robotLink.Run)
	spawn("dashcam capture", (&vision.Capture{
		Name:   "dashcam",
		Reader: dashcamReader,
		Cell:   dashcamCell,
		Flip:   cfg.Video.GetFlipDashcam(),
	}).Run)
	spawn("arena capture", (&vision.Capture{
		Name:   "arena",
		Reader: arenaReader,
		Cell:   arenaCell,
	}).Run)
	spawn("update loop", operator.Run)
	spawn("pose trail", func(ctx context.Context) error {
		trail.Run(ctx, hub)
		return nil
	})
	// The recorder outlives the other routines so the shutdown outcome of an
	// open session is written before the log closes.
	recCtx, recCancel := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	if recorder != nil {
		go func() {
			defer close(recDone)
			recorder.Run(recCtx)
		}()
	} else {
		close(recDone)
	}

	if addr := cfg.Telemetry.GetRedisAddr(); addr != "" {
		rdb, err := telemetry.DialRedis(ctx, addr)
		if err != nil {
			log.Printf("redis mirror disabled: %v", err)
		} else {
			defer rdb.Close()
			mirror := telemetry.NewRedisMirror(rdb, cfg.Telemetry.GetRedisKey(), cfg.Telemetry.GetRedisChannel())
			spawn("redis mirror", func(ctx context.Context) error {
				return mirror.Run(ctx, hub)
			})
		}
	}

	if addr := cfg.Telemetry.GetGRPCListen(); addr != "" {
		vis := visualiser.NewServer(hub, visualiser.Config{
			ListenAddr: addr,
			MaxClients: cfg.Telemetry.GetGRPCMaxClients(),
		})
		if err := vis.Start(); err != nil {
			log.Printf("gRPC telemetry disabled: %v", err)
		} else {
			defer vis.Stop()
		}
	}

	apiServer := api.NewServer(apiOptions(controller, operator, sequencer, sessions, hub, trail))
	mux := apiServer.ServeMux()
	robotLink.AttachAdminRoutes(mux)
	if sessions != nil {
		if err := sessions.AttachAdminRoutes(mux); err != nil {
			log.Printf("session log admin routes disabled: %v", err)
		}
	}

	if cfg.Discovery.GetAdvertise() {
		port, err := discovery.ListenPort(cfg.GetListen())
		if err != nil {
			log.Printf("not advertising operator API: %v", err)
		} else {
			adv := discovery.NewAdvertiser(cfg.Discovery.GetClientService(), port, "version="+version.Version)
			if err := adv.Start(); err != nil {
				log.Printf("not advertising operator API: %v", err)
			} else {
				defer adv.Stop()
			}
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, cfg.GetListen(), api.LoggingMiddleware(mux))
	}()

	wg.Wait()
	sequencer.Shutdown()
	recCancel()
	<-recDone
	log.Printf("Graceful shutdown complete")
	return nil
}

// apiOptions leaves Sessions unset when the session log is disabled so the
// API reports it as such instead of calling through a nil *db.DB.
func apiOptions(pilot *autopilot.Controller, op *client.Client, seq *autopilot.Sequencer, sessions *db.DB, hub *telemetry.Hub, trail *monitor.Trail) api.Options {
	opts := api.Options{
		Autopilot: pilot,
		Operator:  op,
		Waypoints: seq,
		Feed:      telemetry.NewWebSocketHandler(hub),
	}
	mon := &monitor.Handler{Trail: trail, Waypoints: seq}
	if sessions != nil {
		opts.Sessions = sessions
		mon.Sessions = sessions
	}
	opts.Monitor = mon
	return opts
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	go func() {
		log.Printf("operator API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

// startInputRobots starts the gobot keyboard and joystick robots. A missing
// controller is logged, not fatal: the API can still drive the autopilot.
func startInputRobots(cfg *config.InputConfig, pad *input.Gamepad) []*gobot.Robot {
	var robots []*gobot.Robot
	stick, err := input.NewJoystickRobot(pad, cfg.GetProfile())
	if err != nil {
		log.Printf("game controller disabled: %v", err)
	} else {
		robots = append(robots, stick)
	}
	if cfg.GetKeyboard() {
		robots = append(robots, input.NewKeyboardRobot(pad))
	}

	started := robots[:0]
	for _, r := range robots {
		if err := r.Start(false); err != nil {
			log.Printf("failed to start %s: %v", r.Name, err)
			continue
		}
		started = append(started, r)
	}
	return started
}
