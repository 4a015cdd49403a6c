package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/proto"
)

// MaxHandshakeSize bounds the first frame of a connection. A relay request
// is a few hundred bytes.
const MaxHandshakeSize = 64 << 10

var ErrHandshakeTimeout = errors.New("handshake timeout")

// handle runs the handshake for st and then either waits for a partner or
// relays with the partner already waiting. Every failure path closes st.
func (s *Server) handle(ctx context.Context, t *table, st Stream) {
	remote := addrString(st)
	req, err := s.readRequest(ctx, st)
	if err != nil {
		obs.Debug("handshake.failed", obs.Fields{"remote": remote, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues(handshakeErrorType(err)).Inc()
		_ = st.Close()
		return
	}
	obs.Info("handshake.request", obs.Fields{"remote": remote, "uuid": req.UUID, "id": req.ID})
	if !s.authorized(req.LicenceKey) {
		obs.Info("handshake.unauthorized", obs.Fields{"remote": remote})
		obs.ErrorsTotal.WithLabelValues("auth_key").Inc()
		_ = st.Close()
		return
	}
	if req.UUID == "" {
		obs.ErrorsTotal.WithLabelValues("missing_uuid").Inc()
		_ = st.Close()
		return
	}

	partner, parked := t.Pair(req.UUID, st, s.cfg.Clock.Now())
	if partner != nil {
		s.relayPair(ctx, req.UUID, st, partner)
		return
	}
	s.await(ctx, t, parked)
}

func recvHandshake(st Stream) ([]byte, error) {
	if lr, ok := st.(limitedReceiver); ok {
		return lr.RecvLimit(MaxHandshakeSize)
	}
	b, err := st.Recv()
	if err == nil && len(b) > MaxHandshakeSize {
		return nil, fmt.Errorf("%w: %d bytes", proto.ErrFrameTooLarge, len(b))
	}
	return b, err
}

func (s *Server) authorized(licence string) bool {
	if s.cfg.Key == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(licence), []byte(s.cfg.Key)) == 1
}

// readRequest waits up to HandshakeTimeout for the first frame, which may
// not exceed MaxHandshakeSize. On timeout the reader goroutine stays blocked
// until the caller closes st.
func (s *Server) readRequest(ctx context.Context, st Stream) (*proto.RequestRelay, error) {
	ch := make(chan frame, 1)
	go func() {
		b, err := recvHandshake(st)
		ch <- frame{data: b, err: err}
	}()
	timer := s.cfg.Clock.Timer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		if f.err != nil {
			return nil, fmt.Errorf("read handshake: %w", f.err)
		}
		return proto.ParseRequestRelay(f.data)
	case <-timer.C:
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// await parks until a partner claims w, the pair timeout elapses or the
// server stops. The stream belongs to whoever removes w from the table: if
// this goroutine does, nobody came and the stream is closed here.
func (s *Server) await(ctx context.Context, t *table, w *waiting) {
	lctx := context.WithoutCancel(ctx)
	obs.Info("pair.waiting", obs.Fields{"uuid": w.id, "remote": addrString(w.stream)})
	obs.SessionsWaiting.Inc()
	defer obs.SessionsWaiting.Dec()
	s.cfg.Ledger.Waiting(lctx, w.id)

	timer := s.cfg.Clock.Timer(s.cfg.PairTimeout)
	defer timer.Stop()
	select {
	case <-w.claimed:
	case <-timer.C:
	case <-ctx.Done():
	}

	if !t.Remove(w) {
		s.cfg.Ledger.Paired(lctx, w.id)
		return
	}
	obs.Info("pair.expired", obs.Fields{"uuid": w.id, "remote": addrString(w.stream), "waited": s.cfg.Clock.Since(w.since).String()})
	obs.PairTimeouts.Inc()
	s.cfg.Ledger.Expired(lctx, w.id)
	_ = w.stream.Close()
}

// relayPair runs the relay between the second arrival st and the partner it
// took from the table, then closes both.
func (s *Server) relayPair(ctx context.Context, id string, st Stream, partner *waiting) {
	remote := addrString(st)
	obs.Info("pair.matched", obs.Fields{"uuid": id, "remote": remote, "peer": addrString(partner.stream)})
	obs.SessionsPaired.Inc()

	closeBoth := sync.OnceValue(func() error { return closePair(st, partner.stream) })
	stop := context.AfterFunc(ctx, func() { _ = closeBoth() })
	start := s.cfg.Clock.Now()

	n, err := Relay(st, partner.stream, LoopConfig{
		Clock:         s.cfg.Clock,
		IdleTimeout:   s.cfg.IdleTimeout,
		CheckInterval: s.cfg.CheckInterval,
	})
	stop()
	if cerr := closeBoth(); cerr != nil {
		obs.Debug("relay.close", obs.Fields{"uuid": id, "err": cerr.Error()})
	}

	elapsed := s.cfg.Clock.Since(start)
	outcome := obs.OutcomeNormal
	fields := obs.Fields{"uuid": id, "remote": remote, "bytes": n, "duration": elapsed.String()}
	switch {
	case errors.Is(err, ErrIdleTimeout):
		outcome = obs.OutcomeTimeout
	case err != nil:
		outcome = obs.OutcomeError
	}
	if err != nil {
		fields["err"] = err.Error()
	}
	fields["outcome"] = outcome
	obs.Info("relay.closed", fields)
	obs.SessionsClosed.WithLabelValues(outcome).Inc()
	obs.SessionDuration.Observe(elapsed.Seconds())
	s.cfg.Ledger.Closed(context.WithoutCancel(ctx), id, outcome, elapsed)
}

func closePair(a, b Stream) error {
	var errs error
	if err := a.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := b.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func handshakeErrorType(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, proto.ErrFrameTooLarge):
		return "handshake_too_large"
	case errors.Is(err, proto.ErrNotRequestRelay):
		return "not_relay_request"
	default:
		return "handshake"
	}
}

func addrString(st Stream) string {
	if a := st.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
