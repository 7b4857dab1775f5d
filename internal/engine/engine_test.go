package engine

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/fenwick-audio/aurad/internal/iodev"
	"github.com/fenwick-audio/aurad/internal/shm"
	"github.com/fenwick-audio/aurad/internal/stream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stereoFormat() format.Format {
	return format.Format{SampleFormat: format.S16LE, Rate: 48000, Channels: 2, Layout: format.StereoLayout}
}

func wideCaps() iodev.Capabilities {
	return iodev.Capabilities{
		Rates:    []int{48000},
		Channels: []int{2},
		Formats:  []format.SampleFormat{format.S16LE},
	}
}

func newTestEngine() *AudioThread {
	return New(slog.Default())
}

func TestAddStream_AttachesToSelectedDevice(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	s := stream.New(stream.NewID(1, 1), stream.Out, stereoFormat(), 4096, 512, 64, 0)
	require.NoError(t, stream.Transition(s, stream.AwaitingConnect))
	require.NoError(t, stream.Transition(s, stream.ConnectedReady))

	err := a.addStream(s)
	require.NoError(t, err)

	assert.Equal(t, stream.AttachedRunning, s.State())
	att, ok := a.attachments[s.Handle]
	require.True(t, ok)
	assert.Equal(t, dev.ID(), att.dev)

	entry := a.outputs[dev.ID()]
	require.NotNil(t, entry)
	assert.Equal(t, 1, len(entry.streams))
	assert.True(t, dev.IsOpen())
}

func TestAddStream_FallsBackWhenSelectorReturnsNil(t *testing.T) {
	a := newTestEngine()
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return nil }

	s := stream.New(stream.NewID(1, 2), stream.Out, stereoFormat(), 4096, 512, 64, 0)
	err := a.addStream(s)
	require.NoError(t, err)

	att := a.attachments[s.Handle]
	assert.Equal(t, a.fallbackOut.dev.ID(), att.dev)
}

func TestServiceOutputDevice_NoDataCommitsZero(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	s := stream.New(stream.NewID(1, 3), stream.Out, stereoFormat(), 4096, 512, 64, 0)
	s.Shm = shm.NewRing(stereoFormat().FrameBytes(), 4096*stereoFormat().FrameBytes())
	require.NoError(t, a.addStream(s))

	entry := a.outputs[dev.ID()]
	a.serviceOutputDevice(entry)

	assert.Equal(t, 0, len(dev.written))
}

func TestServiceOutputDevice_MixesAvailableFrames(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	f := stereoFormat()
	s := stream.New(stream.NewID(1, 4), stream.Out, f, 4096, 512, 64, 0)
	s.Shm = shm.NewRing(f.FrameBytes(), 4096*f.FrameBytes())
	require.NoError(t, a.addStream(s))

	// Write 100 frames of a known S16LE tone into the stream's shm.
	const nFrames = 100
	buf, cap, err := s.Shm.BeginWrite()
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap, nFrames)
	for i := 0; i < nFrames*f.Channels; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(1000))
	}
	require.NoError(t, s.Shm.CommitWrite(nFrames))

	entry := a.outputs[dev.ID()]
	a.serviceOutputDevice(entry)

	require.GreaterOrEqual(t, len(dev.written), nFrames*f.FrameBytes())
	sample := int16(binary.LittleEndian.Uint16(dev.written[0:2]))
	assert.InDelta(t, 1000, sample, 2)
}

func TestRemoveStream_IsIdempotent(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	s := stream.New(stream.NewID(1, 5), stream.Out, stereoFormat(), 4096, 512, 64, 0)
	require.NoError(t, a.addStream(s))

	a.removeStream(s.ID, s)
	assert.Equal(t, stream.Dead, s.State())

	// Calling again must not panic or error.
	a.removeStream(s.ID, s)
	assert.Equal(t, stream.Dead, s.State())
}

func TestRemoveDevice_NotifiesReattachForAttachedStreams(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	s := stream.New(stream.NewID(1, 6), stream.Out, stereoFormat(), 4096, 512, 64, 0)
	require.NoError(t, a.addStream(s))

	err := a.removeDevice(dev, iodev.Output)
	require.NoError(t, err)

	select {
	case notice := <-a.Reattach:
		assert.Equal(t, s.Handle, notice.StreamHandle)
	default:
		t.Fatal("expected a reattach notice")
	}
}

func TestLedger_AdvanceByLimitsCommitToSlowestStream(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	f := stereoFormat()
	fast := stream.New(stream.NewID(2, 1), stream.Out, f, 4096, 512, 64, 0)
	fast.Shm = shm.NewRing(f.FrameBytes(), 4096*f.FrameBytes())
	slow := stream.New(stream.NewID(2, 2), stream.Out, f, 4096, 512, 64, 0)
	slow.Shm = shm.NewRing(f.FrameBytes(), 4096*f.FrameBytes())

	require.NoError(t, a.addStream(fast))
	require.NoError(t, a.addStream(slow))

	writeFrames(t, fast.Shm, f, 200)
	writeFrames(t, slow.Shm, f, 50)

	entry := a.outputs[dev.ID()]
	a.serviceOutputDevice(entry)

	// Device should only have committed the slower stream's 50 frames.
	assert.Equal(t, 50*f.FrameBytes(), len(dev.written))
}

func TestAddLoopbackTap_FeedsFromPostMixOutput(t *testing.T) {
	a := newTestEngine()
	dev := newFakeDevice(iodev.Output, wideCaps(), 4096)
	a.SelectOutput = func(s *stream.RStream, candidates []iodev.Device) iodev.Device { return dev }

	f := stereoFormat()
	s := stream.New(stream.NewID(1, 7), stream.Out, f, 4096, 512, 64, 0)
	s.Shm = shm.NewRing(f.FrameBytes(), 4096*f.FrameBytes())
	require.NoError(t, a.addStream(s))
	writeFrames(t, s.Shm, f, 100)

	tap := iodev.NewLoopbackDevice(iodev.PostMixPreDSP, f, 4096)
	_, err := tap.Open(f)
	require.NoError(t, err)

	require.NoError(t, a.addLoopbackTap(tap, dev.ID()))
	assert.Contains(t, a.inputs, tap.ID())

	entry := a.outputs[dev.ID()]
	a.serviceOutputDevice(entry)

	queued, err := tap.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 100, queued)

	buf, n, err := tap.GetBuffer(100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	sample := int16(binary.LittleEndian.Uint16(buf[0:2]))
	assert.InDelta(t, 500, sample, 2)
}

func TestAddLoopbackTap_ErrorsForUnknownTarget(t *testing.T) {
	a := newTestEngine()
	tap := iodev.NewLoopbackDevice(iodev.PostMixPreDSP, stereoFormat(), 4096)

	err := a.addLoopbackTap(tap, uuid.New())
	assert.Error(t, err)
}

func writeFrames(t *testing.T, r *shm.Ring, f format.Format, n int) {
	t.Helper()
	buf, capFrames, err := r.BeginWrite()
	require.NoError(t, err)
	require.GreaterOrEqual(t, capFrames, n)
	for i := 0; i < n*f.Channels; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(500))
	}
	require.NoError(t, r.CommitWrite(n))
}
