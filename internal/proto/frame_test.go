package proto

import (
	"bufio"
	"bytes"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFrameHeaderLength(t *testing.T) {
	cases := []struct {
		size    int
		headLen int
	}{
		{0, 1},
		{0x3F, 1},
		{0x40, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0x3FFFFF, 3},
		{0x400000, 4},
	}
	for _, tc := range cases {
		payload := bytes.Repeat([]byte{0xAB}, tc.size)
		frame, err := AppendFrame(nil, payload)
		require.NoError(t, err)
		assert.Equal(t, tc.headLen, len(frame)-tc.size, "size %#x", tc.size)
		assert.Equal(t, byte(tc.headLen-1), frame[0]&0x3, "size %#x", tc.size)

		got, err := ReadFrame(bufio.NewReader(bytes.NewReader(frame)))
		require.NoError(t, err)
		assert.Equal(t, tc.size, len(got))
	}
}

func TestSmallFrameLayout(t *testing.T) {
	frame, err := AppendFrame(nil, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2 << 2, 'h', 'i'}, frame)

	frame, err = AppendFrame(nil, make([]byte, 0x40))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01}, frame[:2])
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte{0x00, 0xFF, 0x10}))

	r := bufio.NewReader(&buf)
	for _, want := range [][]byte{[]byte("one"), {}, {0x00, 0xFF, 0x10}} {
		got, err := ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	frame, err := AppendFrame(nil, []byte("truncated payload"))
	require.NoError(t, err)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(frame[:5])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	big, err := AppendFrame(nil, make([]byte, 0x4000))
	require.NoError(t, err)
	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(big[:2])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameHeaderOnlyDoesNotAllocatePayload(t *testing.T) {
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(header)))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(4<<20))
}

func TestReadFrameLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte{1}, 100)))

	_, err := ReadFrameLimit(bufio.NewReader(bytes.NewReader(buf.Bytes())), 99)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	got, err := ReadFrameLimit(bufio.NewReader(bytes.NewReader(buf.Bytes())), 100)
	require.NoError(t, err)
	assert.Len(t, got, 100)

	_, err = ReadFrameLimit(bufio.NewReader(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})), 64<<10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
