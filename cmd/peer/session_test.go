package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/rendezvous-relay/internal/proto"
)

func TestSessionPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	relayed := make(chan *proto.RequestRelay, 1)
	go func() {
		defer server.Close()
		rd := bufio.NewReader(server)
		first, err := proto.ReadFrame(rd)
		if err != nil {
			return
		}
		req, err := proto.ParseRequestRelay(first)
		if err != nil {
			return
		}
		relayed <- req
		data, err := proto.ReadFrame(rd)
		if err != nil {
			return
		}
		_ = proto.WriteFrame(server, nil)
		_ = proto.WriteFrame(server, data)
	}()

	sess, err := newSession(client, &proto.RequestRelay{UUID: "s1", LicenceKey: "k"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, sess.pipe(context.Background(), strings.NewReader("hello"), &out, 0))
	assert.Equal(t, "hello", out.String())

	req := <-relayed
	assert.Equal(t, "s1", req.UUID)
	assert.Equal(t, "k", req.LicenceKey)
}

func TestSessionPipeStopsOnContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		rd := bufio.NewReader(server)
		for {
			if _, err := proto.ReadFrame(rd); err != nil {
				return
			}
		}
	}()

	sess, err := newSession(client, &proto.RequestRelay{UUID: "s1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pr, pw := net.Pipe()
	defer pw.Close()
	defer pr.Close()
	require.NoError(t, sess.pipe(ctx, pr, &bytes.Buffer{}, 10*time.Millisecond))
}

func TestConfigCompleteGeneratesUUID(t *testing.T) {
	cfg := &Config{RelayAddr: "relay:21117"}
	require.NoError(t, cfg.complete())
	assert.NotEmpty(t, cfg.UUID)

	require.Error(t, (&Config{}).complete())
}
