package relay

import (
	"bufio"
	"net"

	"github.com/matst80/rendezvous-relay/internal/proto"
)

// Stream is one peer connection as seen by the relay: a source of discrete
// frames and a sink for raw payloads, which it frames itself.
//
// Recv must return an error (io.EOF for a clean close) once the stream is
// closed so blocked readers are released.
type Stream interface {
	Recv() ([]byte, error)
	Send(payload []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// limitedReceiver is implemented by streams that can refuse an oversized
// frame from its header alone.
type limitedReceiver interface {
	RecvLimit(limit int) ([]byte, error)
}

// framedConn adapts a TCP connection to Stream using the proto frame codec.
type framedConn struct {
	conn net.Conn
	rd   *bufio.Reader
}

// NewFramedConn wraps c. Reads are buffered, each Send is a single write.
func NewFramedConn(c net.Conn) Stream {
	return &framedConn{conn: c, rd: bufio.NewReader(c)}
}

func (f *framedConn) Recv() ([]byte, error)     { return proto.ReadFrame(f.rd) }
func (f *framedConn) Send(payload []byte) error { return proto.WriteFrame(f.conn, payload) }
func (f *framedConn) Close() error              { return f.conn.Close() }
func (f *framedConn) RemoteAddr() net.Addr      { return f.conn.RemoteAddr() }

func (f *framedConn) RecvLimit(limit int) ([]byte, error) {
	return proto.ReadFrameLimit(f.rd, limit)
}
