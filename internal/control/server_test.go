package control_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fenwick-audio/aurad/internal/control"
	"github.com/fenwick-audio/aurad/internal/engine"
	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/fenwick-audio/aurad/internal/stream"
	"github.com/fenwick-audio/aurad/pkg/auraclient"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_ConnectStreamHandshake(t *testing.T) {
	dir := t.TempDir()
	logger := quietLogger()

	eng := engine.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	defer eng.Close()

	state := control.NewStateStore()
	server, err := control.NewServer(logger, eng, state, dir, "control", "audio")
	require.NoError(t, err)
	go server.Serve()
	defer server.Close()

	client, err := auraclient.Dial(dir, "control", "audio")
	require.NoError(t, err)
	defer client.Close()

	f := format.Format{SampleFormat: format.S16LE, Rate: 48000, Channels: 2, Layout: format.StereoLayout}
	s, err := client.ConnectStream(int(stream.Out), f, 4096, 512, 64, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WaitRequestData())
}

func TestServer_DisconnectStreamIsClean(t *testing.T) {
	dir := t.TempDir()
	logger := quietLogger()

	eng := engine.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	defer eng.Close()

	state := control.NewStateStore()
	server, err := control.NewServer(logger, eng, state, dir, "control", "audio")
	require.NoError(t, err)
	go server.Serve()
	defer server.Close()

	client, err := auraclient.Dial(dir, "control", "audio")
	require.NoError(t, err)
	defer client.Close()

	f := format.Format{SampleFormat: format.S16LE, Rate: 48000, Channels: 2, Layout: format.StereoLayout}
	s, err := client.ConnectStream(int(stream.Out), f, 4096, 512, 64, 0)
	require.NoError(t, err)

	require.NoError(t, client.DisconnectStream(s.ID))
	require.NoError(t, s.Close())

	time.Sleep(10 * time.Millisecond)
}
