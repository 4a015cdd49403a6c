package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/matst80/rendezvous-relay/internal/obs"
)

// ErrIdleTimeout ends a relay in which neither side sent anything, not even
// a keepalive, for longer than the idle timeout.
var ErrIdleTimeout = errors.New("relay idle timeout")

// LoopConfig controls the idle detection of Relay.
type LoopConfig struct {
	Clock         clock.Clock
	IdleTimeout   time.Duration
	CheckInterval time.Duration
}

type frame struct {
	data []byte
	err  error
}

// pump feeds frames from s into out until s fails or done is closed.
func pump(s Stream, out chan<- frame, done <-chan struct{}) {
	for {
		b, err := s.Recv()
		select {
		case out <- frame{data: b, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Relay copies frames between a and b until one of them ends, which returns
// nil, a forward fails, or the idle check fires with ErrIdleTimeout. Empty
// frames count as activity but are not forwarded.
//
// The caller must close both streams afterwards; that also stops the reader
// goroutines started here.
func Relay(a, b Stream, cfg LoopConfig) (forwarded int64, err error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	done := make(chan struct{})
	defer close(done)

	fromA := make(chan frame)
	fromB := make(chan frame)
	go pump(a, fromA, done)
	go pump(b, fromB, done)

	ticker := clk.Ticker(cfg.CheckInterval)
	defer ticker.Stop()
	last := clk.Now()

	for {
		var (
			f   frame
			dst Stream
		)
		select {
		case f = <-fromA:
			dst = b
		case f = <-fromB:
			dst = a
		case <-ticker.C:
			if clk.Since(last) > cfg.IdleTimeout {
				return forwarded, ErrIdleTimeout
			}
			continue
		}
		if f.err != nil {
			return forwarded, nil
		}
		last = clk.Now()
		if len(f.data) == 0 {
			continue
		}
		if err := dst.Send(f.data); err != nil {
			return forwarded, fmt.Errorf("forward %d bytes: %w", len(f.data), err)
		}
		forwarded += int64(len(f.data))
		obs.BytesForwarded.Add(float64(len(f.data)))
	}
}
