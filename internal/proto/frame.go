package proto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a 4 byte header can describe.
const MaxFrameSize = 0x3FFFFFFF

// payloads above this size are read into a buffer that grows as bytes
// arrive, so a bare header cannot make the reader allocate its full length.
const readChunk = 64 * 1024

var ErrFrameTooLarge = errors.New("frame too large")

// AppendFrame appends the header for payload followed by payload itself.
//
// The header is 1-4 little-endian bytes. The low two bits of the first byte
// hold the header length minus one, the remaining bits the payload length.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	n := uint32(len(payload))
	switch {
	case len(payload) <= 0x3F:
		dst = append(dst, byte(n<<2))
	case len(payload) <= 0x3FFF:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(n<<2)|0x1)
	case len(payload) <= 0x3FFFFF:
		h := n<<2 | 0x2
		dst = append(dst, byte(h), byte(h>>8), byte(h>>16))
	case len(payload) <= MaxFrameSize:
		dst = binary.LittleEndian.AppendUint32(dst, n<<2|0x3)
	default:
		return dst, ErrFrameTooLarge
	}
	return append(dst, payload...), nil
}

// WriteFrame writes payload as a single frame with one Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, len(payload)+4), payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads the next frame from r. A clean end of stream before the
// first header byte is reported as io.EOF; a stream cut mid frame as
// io.ErrUnexpectedEOF.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	return ReadFrameLimit(r, MaxFrameSize)
}

// ReadFrameLimit is ReadFrame for payloads of at most limit bytes. A larger
// header fails with ErrFrameTooLarge before any payload is read; the stream
// is then out of sync and should be closed.
func ReadFrameLimit(r *bufio.Reader, limit int) ([]byte, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	headLen := int(first&0x3) + 1
	var head [4]byte
	head[0] = first
	if headLen > 1 {
		if _, err := io.ReadFull(r, head[1:headLen]); err != nil {
			return nil, unexpected(err)
		}
	}
	n := int(binary.LittleEndian.Uint32(head[:]) >> 2)
	if n > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, limit)
	}
	payload, err := readPayload(r, n)
	if err != nil {
		return nil, fmt.Errorf("read %d byte payload: %w", n, unexpected(err))
	}
	return payload, nil
}

func readPayload(r io.Reader, n int) ([]byte, error) {
	if n <= readChunk {
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	var buf bytes.Buffer
	buf.Grow(readChunk)
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
