// Command zoomy is the operator client for the zoomy robot: it reads the
// gamepad and both cameras, runs the autopilot, streams commands to the
// robot and serves the operator API.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/client"
	"github.com/hi-im-vika/zoomy-client/internal/config"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/discovery"
	"github.com/hi-im-vika/zoomy-client/internal/input"
	"github.com/hi-im-vika/zoomy-client/internal/monitoring"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
	"github.com/hi-im-vika/zoomy-client/internal/version"
	"github.com/hi-im-vika/zoomy-client/internal/vision"
	"github.com/hi-im-vika/zoomy-client/internal/visualiser"
)

var (
	configPath  = flag.String("config", "", "Path to the JSON client config")
	robotHost   = flag.String("host", "", "Robot address (overrides config; empty browses mDNS)")
	robotPort   = flag.Int("port", 0, "Robot UDP port (overrides config)")
	listen      = flag.String("listen", "", "HTTP API listen address (overrides config)")
	dbPath      = flag.String("db-path", "", "Session log path (overrides config)")
	logLevel    = flag.String("log-level", "", "Log streams to enable: ops, diag or trace (default $"+monitoring.EnvLogLevel+" or ops)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// logSetters lists every package with its own log streams.
var logSetters = []func(ops, diag, trace io.Writer){
	autopilot.SetLogWriters,
	client.SetLogWriters,
	db.SetLogWriters,
	discovery.SetLogWriters,
	input.SetLogWriters,
	telemetry.SetLogWriters,
	transport.SetLogWriters,
	vision.SetLogWriters,
	visualiser.SetLogWriters,
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level, err := monitoring.ResolveLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	monitoring.Apply(level.Writers(os.Stderr), logSetters...)

	command := flag.Arg(0)
	var args []string
	if flag.NArg() > 0 {
		args = flag.Args()[1:]
	}

	switch command {
	case "", "run":
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		if err := run(cfg); err != nil {
			log.Fatalf("zoomy: %v", err)
		}
	case "migrate":
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		if err := db.RunMigrateCommand(args, cfg.DB.GetPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	case "watch":
		if err := runWatch(args, os.Stdout); err != nil {
			log.Fatalf("watch: %v", err)
		}
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// loadConfig reads path, or starts from defaults when path is empty, then
// applies the command-line overrides.
func loadConfig(path string) (*config.ClientConfig, error) {
	cfg := &config.ClientConfig{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Override(*robotHost, *robotPort, *listen, *dbPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `zoomy - operator client for the zoomy robot

Usage: zoomy [flags] [command]

Commands:
  run        Drive the robot (default)
  migrate    Manage the session log schema (see "zoomy migrate help")
  watch      Stream telemetry from a running client's gRPC service
  version    Show version
  help       Show this help message

Flags:
`)
	flag.PrintDefaults()
}
