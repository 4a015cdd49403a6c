package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/proto"
)

func main() {
	cfg := &Config{}
	cmd := &cobra.Command{
		Use:           "peer",
		Short:         "Join a relay session",
		Long:          "Connects to a rendezvous relay and bridges the session to stdin/stdout or a local TCP target",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.complete(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	registerFlags(cmd.Flags(), cfg)
	if err := cmd.Execute(); err != nil {
		obs.Error("peer.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
}

func run(parent context.Context, cfg *Config) error {
	// stdout may carry session data, so logs go to stderr
	if err := obs.Init("info", "console"); err != nil {
		return err
	}
	obs.SetOutput(os.Stderr)
	obs.EnableDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := dialRelay(ctx, cfg.RelayAddr, cfg.DialTimeout, &proto.RequestRelay{UUID: cfg.UUID, LicenceKey: cfg.Key, ID: cfg.ID})
	if err != nil {
		return err
	}
	defer sess.Close()
	obs.Info("peer.joined", obs.Fields{"relay": cfg.RelayAddr, "uuid": cfg.UUID})

	var (
		in  io.Reader = os.Stdin
		out io.Writer = os.Stdout
	)
	if cfg.Target != "" {
		local, err := net.DialTimeout("tcp", cfg.Target, cfg.DialTimeout)
		if err != nil {
			return fmt.Errorf("dial target %s: %w", cfg.Target, err)
		}
		defer local.Close()
		in, out = local, local
	}

	if err := sess.pipe(ctx, in, out, cfg.Keepalive); err != nil {
		return fmt.Errorf("session %s: %w", cfg.UUID, err)
	}
	obs.Info("peer.closed", obs.Fields{"uuid": cfg.UUID})
	return nil
}
