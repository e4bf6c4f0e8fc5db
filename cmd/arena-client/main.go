// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-client is a headless player. It registers with the master (or
// resumes an identity), plays a number of rounds of the race, and
// exits. It is the load generator and the smoke test for a running
// master.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/arena-foundation/arena/lib/client"
	"github.com/arena-foundation/arena/lib/config"
	"github.com/arena-foundation/arena/lib/logging"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/lib/race"
	"github.com/arena-foundation/arena/lib/version"
	"github.com/arena-foundation/arena/lib/wire"
)

// retryJoinDelay is the pause before queueing again after the master
// refused a join.
const retryJoinDelay = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		master      string
		name        string
		identityID  uint64
		rounds      int
		leaveAfter  int
		boostEvery  int
		forget      bool
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("arena-client", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $ARENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&master, "master", "", "master host:port (default: from config)")
	flagSet.StringVar(&name, "name", "", "display name for a new identity")
	flagSet.Uint64Var(&identityID, "identity", 0, "resume this identity instead of registering a new one")
	flagSet.IntVar(&rounds, "rounds", 1, "sessions to play before exiting")
	flagSet.IntVar(&leaveAfter, "leave-after", 0, "leave each session after this many snapshots (0 plays to the end)")
	flagSet.IntVar(&boostEvery, "boost-every", 0, "send a boost every this many snapshots (0 never boosts)")
	flagSet.BoolVar(&forget, "delete", false, "delete the identity after the last round")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: from config)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("arena-client")
		return nil
	}
	if rounds < 1 {
		return fmt.Errorf("--rounds must be at least 1")
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
	if master == "" {
		master = cfg.MasterAddress()
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger = logger.With("component", "client")

	compression, err := wire.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	player, err := client.New(client.Config{
		MasterAddress: master,
		DisplayName:   name,
		IdentityID:    identityID,
		Connect: netconn.Options{
			Encoder:    wire.Encoder{Compression: compression, Threshold: cfg.CompressionThreshold},
			Attempts:   cfg.ConnectAttempts,
			RetryDelay: cfg.ConnectRetryDelay,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan error, 1)
	go func() { finished <- player.Run(ctx) }()

	b := &bot{rounds: rounds, leaveAfter: leaveAfter, boostEvery: boostEvery}
	if err := play(ctx, player, b, forget, logger); err != nil {
		cancel()
		<-finished
		return err
	}
	if forget {
		// Run returns once the master drops the deleted identity.
		return <-finished
	}
	cancel()
	return <-finished
}

// play feeds client events to b until it stops or fails.
func play(ctx context.Context, player *client.Client, b *bot, forget bool, logger *slog.Logger) error {
	for {
		var event client.Event
		select {
		case <-ctx.Done():
			return nil
		case <-player.Done():
			return fmt.Errorf("client stopped")
		case event = <-player.Events():
		}

		logger.Debug("event", "kind", event.Kind, "room_id", event.RoomID)
		var err error
		switch b.react(event) {
		case actJoin:
			err = player.JoinQueue()
		case actRetryJoin:
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryJoinDelay):
			}
			err = player.JoinQueue()
		case actBoost:
			err = player.Send(wire.MustNew(race.BoostKind, nil))
		case actLeave:
			err = player.LeaveSession()
		case actStop:
			logger.Info("rounds complete", "identity_id", player.Identity().ID, "rounds", b.played)
			if forget {
				return player.Delete()
			}
			return nil
		case actFail:
			return event.Err
		}
		if err != nil {
			logger.Warn("request failed", "kind", event.Kind, "error", err)
		}
	}
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
