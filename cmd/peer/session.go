package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/proto"
)

// session is one peer's connection to the relay after the relay request was sent.
type session struct {
	conn net.Conn
	rd   *bufio.Reader
	wmu  sync.Mutex
}

func dialRelay(ctx context.Context, addr string, timeout time.Duration, req *proto.RequestRelay) (*session, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", addr, err)
	}
	s, err := newSession(c, req)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func newSession(c net.Conn, req *proto.RequestRelay) (*session, error) {
	s := &session{conn: c, rd: bufio.NewReader(c)}
	if err := s.send(req.Marshal()); err != nil {
		return nil, fmt.Errorf("send relay request: %w", err)
	}
	return s, nil
}

func (s *session) send(payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return proto.WriteFrame(s.conn, payload)
}

// pipe sends everything read from in as frames and writes every received
// payload to out until the relay closes the session or ctx ends. The end of
// in does not end the session; the partner may still be sending.
func (s *session) pipe(ctx context.Context, in io.Reader, out io.Writer, keepalive time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	go func() {
		if err := s.copyUp(in); err != nil {
			obs.Debug("peer.upstream", obs.Fields{"err": err.Error()})
			cancel()
		}
	}()
	if keepalive > 0 {
		go s.keepalive(ctx, keepalive)
	}

	err := s.copyDown(out)
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *session) copyUp(in io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if serr := s.send(buf[:n]); serr != nil {
				return serr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) copyDown(out io.Writer) error {
	for {
		b, err := proto.ReadFrame(s.rd)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			continue
		}
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("write local: %w", err)
		}
	}
}

func (s *session) keepalive(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.send(nil); err != nil {
				return
			}
		}
	}
}

func (s *session) Close() error {
	return s.conn.Close()
}
