// Package relay pairs two TCP peers presenting the same session id and
// splices their frame streams together.
//
// Each accepted connection gets its own goroutine. The first arrival for an
// id parks itself in the pairing table and waits; the second arrival takes
// it out of the table and runs the relay on its own goroutine. No channel
// hands streams between goroutines: ownership follows table removal.
//
// Failures are never reported to the peer. A bad handshake, wrong licence
// key or missing partner just closes the connection, so probing clients
// learn nothing about valid ids or keys.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/matst80/rendezvous-relay/internal/ledger"
	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/ratelimit"
)

const (
	DefaultPort             = 21117
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultPairTimeout      = 30 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultCheckInterval    = 3 * time.Second
)

type Config struct {
	// Key is the provisioned authorization token. Empty disables authorization.
	Key              string
	HandshakeTimeout time.Duration
	PairTimeout      time.Duration
	IdleTimeout      time.Duration
	CheckInterval    time.Duration

	Clock   clock.Clock
	Limiter *ratelimit.Limiter
	Ledger  ledger.Store
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PairTimeout <= 0 {
		c.PairTimeout = DefaultPairTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Ledger == nil {
		c.Ledger = ledger.NewMemory()
	}
}

type Server struct {
	cfg    Config
	wg     sync.WaitGroup
	listen func(network, address string) (net.Listener, error)
}

func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{cfg: cfg, listen: net.Listen}
}

// ListenAndServe binds addr and serves until ctx is done. A bind failure on
// the first attempt is returned. After an accept failure the listener is
// rebound with exponential backoff, and each new listener gets a fresh
// pairing table.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := s.listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	for {
		obs.Info("relay.listening", obs.Fields{"addr": ln.Addr().String()})
		s.cfg.Ledger.SetReady(true)
		err := s.Serve(ctx, ln)
		s.cfg.Ledger.SetReady(false)
		_ = ln.Close()
		if ctx.Err() != nil {
			return nil
		}
		obs.Error("relay.restart", obs.Fields{"err": err.Error(), "addr": addr})

		b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		ln, err = backoff.RetryWithData(func() (net.Listener, error) {
			return s.listen("tcp", addr)
		}, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relisten %s: %w", addr, err)
		}
	}
}

// Serve accepts connections on ln until accepting fails or ctx is done. The
// returned error is the accept failure; a cancelled ctx returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	t := newTable()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			obs.Error("accept.failed", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			return fmt.Errorf("accept: %w", err)
		}
		obs.ConnectionsAccepted.Inc()
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		if !s.cfg.Limiter.Allow(hostOf(c.RemoteAddr())) {
			obs.Debug("accept.limited", obs.Fields{"remote": c.RemoteAddr().String()})
			obs.ErrorsTotal.WithLabelValues("rate_limited").Inc()
			_ = c.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, t, NewFramedConn(c))
		}()
	}
}

// Wait blocks until every connection goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
