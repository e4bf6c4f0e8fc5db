// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-master accepts clients, matches them into parties, and spawns
// one arena-worker process per party. It serves until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arena-foundation/arena/lib/config"
	"github.com/arena-foundation/arena/lib/identity"
	"github.com/arena-foundation/arena/lib/logging"
	"github.com/arena-foundation/arena/lib/master"
	"github.com/arena-foundation/arena/lib/matchqueue"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/lib/session"
	"github.com/arena-foundation/arena/lib/version"
	"github.com/arena-foundation/arena/lib/wire"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	overrides := config.Default()
	flagSet := pflag.NewFlagSet("arena-master", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $ARENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&overrides.ServerHost, "host", overrides.ServerHost, "address to listen on")
	flagSet.Uint16Var(&overrides.ServerPort, "port", overrides.ServerPort, "port to listen on")
	flagSet.IntVar(&overrides.MaxConcurrentSessions, "max-sessions", overrides.MaxConcurrentSessions, "worker budget: sessions running at once")
	flagSet.IntVar(&overrides.PartySize, "party-size", overrides.PartySize, "identities per session")
	flagSet.StringVar(&overrides.WorkerExecutablePath, "worker", overrides.WorkerExecutablePath, "arena-worker executable")
	flagSet.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("arena-master")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyOverrides(flagSet, cfg, overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger = logger.With("component", "master")

	compression, err := wire.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	workerPath, err := cfg.WorkerBinary()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.MasterAddress())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.MasterAddress(), err)
	}
	// A zero port was chosen by the kernel; workers need the real one.
	listenPort := uint16(listener.Addr().(*net.TCPAddr).Port)

	registry := identity.NewRegistry()
	queue := matchqueue.New()
	orchestrator, err := session.New(session.Config{
		Budget:           cfg.MaxConcurrentSessions,
		PartySize:        cfg.PartySize,
		TicksPerSecond:   cfg.TicksPerSecond,
		MasterHost:       advertisedHost(cfg.ServerHost),
		MasterPort:       listenPort,
		WorkerHost:       cfg.WorkerHost,
		WorkerBasePort:   cfg.WorkerBasePort,
		WorkerConfigPath: workerConfigPath(configPath),
		ShutdownGrace:    cfg.WorkerShutdownGrace,
		Spawner: &session.ExecSpawner{
			Path:   workerPath,
			Stdout: os.Stderr,
			Stderr: os.Stderr,
			Logger: logger,
		},
		Members: registry,
		Logger:  logger,
	})
	if err != nil {
		listener.Close()
		return err
	}
	server, err := master.New(master.Config{
		PartySize:         cfg.PartySize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		RequeueDelay:      cfg.RequeueDelay,
		Connect: netconn.Options{
			Encoder: wire.Encoder{Compression: compression, Threshold: cfg.CompressionThreshold},
		},
		Logger: logger,
	}, registry, queue, orchestrator)
	if err != nil {
		listener.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("arena master starting",
		version.Attr(),
		"budget", cfg.MaxConcurrentSessions,
		"party_size", cfg.PartySize,
		"worker", workerPath,
	)
	if err := server.Serve(ctx, listener); err != nil {
		return err
	}
	logger.Info("arena master stopped")
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

// workerConfigPath is the config file workers are told to load: the
// one the master loaded, made absolute. Empty means built-in defaults.
func workerConfigPath(path string) string {
	if path == "" {
		path = os.Getenv(config.EnvVar)
	}
	if path == "" {
		return ""
	}
	if absolute, err := filepath.Abs(path); err == nil {
		return absolute
	}
	return path
}

// applyOverrides copies every flag the user set onto cfg.
func applyOverrides(flagSet *pflag.FlagSet, cfg, overrides *config.Config) {
	flagSet.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "host":
			cfg.ServerHost = overrides.ServerHost
		case "port":
			cfg.ServerPort = overrides.ServerPort
		case "max-sessions":
			cfg.MaxConcurrentSessions = overrides.MaxConcurrentSessions
		case "party-size":
			cfg.PartySize = overrides.PartySize
		case "worker":
			cfg.WorkerExecutablePath = overrides.WorkerExecutablePath
		case "log-level":
			cfg.LogLevel = overrides.LogLevel
		}
	})
}

// advertisedHost is the host workers dial to reach the master. A
// wildcard listen address is not dialable.
func advertisedHost(host string) string {
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return "127.0.0.1"
	}
	return host
}
