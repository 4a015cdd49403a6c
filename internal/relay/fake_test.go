package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake stream closed")

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeStream is a channel backed Stream. Tests push frames into in and read
// what the relay sent from out.
type fakeStream struct {
	name    string
	in      chan []byte
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	sendErr error
}

func newFakeStream(name string) *fakeStream {
	return &fakeStream{
		name:   name,
		in:     make(chan []byte),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Recv() ([]byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeStream) Send(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.out <- append([]byte(nil), p...)
	return nil
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) RemoteAddr() net.Addr { return fakeAddr(f.name) }

// push delivers a frame to the relay side of f.
func (f *fakeStream) push(t *testing.T, b []byte) {
	t.Helper()
	select {
	case f.in <- b:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: nobody reading", f.name)
	}
}

// expect waits for the next frame the relay sent to f.
func (f *fakeStream) expect(t *testing.T, want []byte) {
	t.Helper()
	select {
	case got := <-f.out:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: expected %q", f.name, want)
	}
}
