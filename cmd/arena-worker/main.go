// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-worker runs one session for the master that spawned it: it
// connects back, admits the party named in the session payload, ticks
// the race simulation until it finishes, and exits on shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arena-foundation/arena/lib/config"
	"github.com/arena-foundation/arena/lib/logging"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/lib/race"
	"github.com/arena-foundation/arena/lib/version"
	"github.com/arena-foundation/arena/lib/wire"
	"github.com/arena-foundation/arena/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		masterHost  string
		masterPort  uint16
		sessionID   uint32
		listenHost  string
		listenPort  uint16
		track       float64
		speed       float64
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("arena-worker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $ARENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&masterHost, "master-host", "127.0.0.1", "master host to connect back to")
	flagSet.Uint16Var(&masterPort, "master-port", 0, "master port to connect back to")
	flagSet.Uint32Var(&sessionID, "session-id", 0, "session (room) id assigned by the master")
	flagSet.StringVar(&listenHost, "listen-host", "", "address to accept the party on")
	flagSet.Uint16Var(&listenPort, "listen-port", 0, "port to accept the party on (0 picks a free port)")
	flagSet.Float64Var(&track, "track", 100, "race length in distance units")
	flagSet.Float64Var(&speed, "speed", 10, "distance units per second")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: from config)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("arena-worker")
		return nil
	}
	if masterPort == 0 {
		return fmt.Errorf("--master-port is required")
	}
	if track <= 0 || speed <= 0 {
		return fmt.Errorf("--track and --speed must be positive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger = logger.With("component", "worker", "session", sessionID)

	compression, err := wire.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}

	runtime, err := worker.New(worker.Config{
		MasterAddress:     net.JoinHostPort(masterHost, strconv.Itoa(int(masterPort))),
		SessionID:         sessionID,
		ListenHost:        listenHost,
		ListenPort:        listenPort,
		Simulation:        race.New(track, speed),
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Connect: netconn.Options{
			Encoder:    wire.Encoder{Compression: compression, Threshold: cfg.CompressionThreshold},
			Attempts:   cfg.ConnectAttempts,
			RetryDelay: cfg.ConnectRetryDelay,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("arena worker starting", version.Attr(), "master", masterHost, "track", track)
	if err := runtime.Run(ctx); err != nil {
		return err
	}
	logger.Info("arena worker stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvVar) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}
