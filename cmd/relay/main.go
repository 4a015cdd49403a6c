package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matst80/rendezvous-relay/internal/keys"
	"github.com/matst80/rendezvous-relay/internal/ledger"
	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/ratelimit"
	"github.com/matst80/rendezvous-relay/internal/relay"
)

func main() {
	if err := newRootCmd(&Config{}).Execute(); err != nil {
		obs.Error("relay.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
}

func newRootCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Rendezvous relay",
		Long:          "Pairs two peers presenting the same session id and relays their traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(cfg.EnvFile); err != nil {
				return err
			}
			setFlagsFromEnvVars(cmd)
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), cfg)
		},
	}
	registerFlags(cmd.Flags(), cfg)
	return cmd
}

func execute(parent context.Context, cfg *Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := obs.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}
	key, err := keys.Provision(cfg.Key)
	if err != nil {
		return fmt.Errorf("provision key: %w", err)
	}
	obs.Info("relay.start", obs.Fields{"port": cfg.Port, "auth": key != "", "metrics": cfg.MetricsAddr, "redis": cfg.RedisAddr})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.New(ctx, ledger.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		WaitTTL:       cfg.PairTimeout,
	})
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	limiter := ratelimit.New(cfg.GlobalConnRate, cfg.ConnRate, cfg.ConnBurst)
	srv := relay.NewServer(relay.Config{
		Key:              key,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PairTimeout:      cfg.PairTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		CheckInterval:    cfg.IdleCheck,
		Limiter:          limiter,
		Ledger:           store,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.ListenAddress())
	})
	if cfg.MetricsAddr != "" {
		ms := newMetricsServer(cfg.MetricsAddr, store)
		g.Go(func() error { return ms.run(gctx) })
	}
	if limiter.Enabled() {
		g.Go(func() error {
			runLimiterCleanup(gctx, limiter, time.Minute, 10*time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("relay.shutdown.signal", obs.Fields{})
		store.SetClosing(true)
		return nil
	})

	var errs error
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	srv.Wait()
	if err := store.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close ledger: %w", err))
	}
	obs.Info("relay.shutdown.complete", obs.Fields{})
	return errs
}

func runLimiterCleanup(ctx context.Context, l *ratelimit.Limiter, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Cleanup(ttl); n > 0 {
				obs.Debug("ratelimit.cleanup", obs.Fields{"removed": n})
			}
		}
	}
}
