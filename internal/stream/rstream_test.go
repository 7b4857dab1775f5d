package stream

import (
	"testing"

	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/stretchr/testify/assert"
)

func TestRStream_DefaultVolumeIsUnity(t *testing.T) {
	s := newTestStream()
	assert.InDelta(t, 1.0, s.Volume(), 0.001)
}

func TestRStream_SetVolumeRoundTrips(t *testing.T) {
	s := newTestStream()
	s.SetVolume(0.5)
	assert.InDelta(t, 0.5, s.Volume(), 0.001)
}

func TestRStream_HotwordFlag(t *testing.T) {
	f := format.Format{SampleFormat: format.S16LE, Rate: 16000, Channels: 1, Layout: format.MonoLayout}
	s := New(NewID(2, 3), In, f, 1024, 256, 64, FlagHotword)
	assert.True(t, s.IsHotword())

	plain := New(NewID(2, 4), In, f, 1024, 256, 64, 0)
	assert.False(t, plain.IsHotword())
}

func TestNewID_PacksClientAndStreamSeq(t *testing.T) {
	id := NewID(0xABCD, 0x1234)
	assert.Equal(t, uint16(0xABCD), id.ClientID())
	assert.Equal(t, uint16(0x1234), id.StreamSeq())
}
