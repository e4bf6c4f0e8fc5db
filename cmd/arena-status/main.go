// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-status asks a running master for a status report (identities,
// queue length, active sessions and their worker states) and prints it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/arena-foundation/arena/lib/config"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/process"
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
		master      string
		timeout     time.Duration
		asJSON      bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("arena-status", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $ARENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&master, "master", "", "master host:port (default: from config)")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the report")
	flagSet.BoolVar(&asJSON, "json", false, "print the report as JSON")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("arena-status")
		return nil
	}

	if master == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		master = cfg.MasterAddress()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	report, err := fetch(ctx, master)
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	fmt.Println(render(report))
	return nil
}

// fetch sends one status request to the master at address and waits
// for the report.
func fetch(ctx context.Context, address string) (wire.StatusReport, error) {
	conn, err := netconn.Open(ctx, address, netconn.Options{})
	if err != nil {
		return wire.StatusReport{}, err
	}
	defer conn.Close()

	replies := make(chan wire.Envelope, 1)
	conn.SetMessageHandler(func(envelope wire.Envelope, conn *netconn.Conn) {
		switch envelope.Kind {
		case wire.KindPing:
			conn.SendKind(wire.KindPong, nil)
		case wire.KindStatusReport, wire.KindError:
			select {
			case replies <- envelope:
			default:
			}
		}
	})
	conn.Start()
	if err := conn.SendKind(wire.KindStatus, nil); err != nil {
		return wire.StatusReport{}, err
	}

	select {
	case <-ctx.Done():
		return wire.StatusReport{}, fault.New(fault.PeerUnreachable, "status", ctx.Err())
	case <-conn.Done():
		return wire.StatusReport{}, fault.New(fault.PeerUnreachable, "status", conn.Err())
	case envelope := <-replies:
		if envelope.Kind == wire.KindError {
			var report wire.Error
			if err := envelope.Decode(&report); err != nil {
				return wire.StatusReport{}, err
			}
			return wire.StatusReport{}, fault.Newf(fault.ParseKind(report.Kind), "status", "%s", report.Message)
		}
		var report wire.StatusReport
		if err := envelope.Decode(&report); err != nil {
			return wire.StatusReport{}, err
		}
		return report, nil
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
