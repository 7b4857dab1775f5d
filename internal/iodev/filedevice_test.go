package iodev

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-audio/aurad/internal/format"
)

// writeWavFixture encodes n frames of a known 16-bit tone to a .wav file
// and returns its path, mirroring the teacher's FileAudioOutputDevice.
func writeWavFixture(t *testing.T, rate, channels, n int, sample int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	data := make([]int, n*channels)
	for i := range data {
		data[i] = int(sample)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: channels},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNewFileSourceDevice_DecodesWavIntoFrames(t *testing.T) {
	path := writeWavFixture(t, 44100, 2, 200, 1000)

	d, err := NewFileSourceDevice(path)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 200, d.BufferSize())

	negotiated, err := d.Open(format.Format{SampleFormat: format.S16LE, Rate: 44100, Channels: 2, Layout: format.StereoLayout})
	require.NoError(t, err)
	assert.Equal(t, 44100, negotiated.Rate)
	assert.Equal(t, 2, negotiated.Channels)
}

func TestFileSourceDevice_GetBufferServesDecodedSamples(t *testing.T) {
	path := writeWavFixture(t, 48000, 1, 64, 5000)

	d, err := NewFileSourceDevice(path)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Open(format.Format{SampleFormat: format.S16LE, Rate: 48000, Channels: 1, Layout: format.MonoLayout})
	require.NoError(t, err)

	queued, err := d.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 64, queued)

	buf, n, err := d.GetBuffer(32)
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	sample := int16(binary.LittleEndian.Uint16(buf[0:2]))
	assert.InDelta(t, 5000, sample, 2)

	require.NoError(t, d.PutBuffer(n))
	queued, err = d.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 32, queued)
}

func TestFileSourceDevice_ExhaustedFileReportsZeroQueued(t *testing.T) {
	path := writeWavFixture(t, 48000, 1, 16, 100)

	d, err := NewFileSourceDevice(path)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Open(format.Format{SampleFormat: format.S16LE, Rate: 48000, Channels: 1, Layout: format.MonoLayout})
	require.NoError(t, err)

	_, n, err := d.GetBuffer(16)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.NoError(t, d.PutBuffer(n))

	queued, err := d.FramesQueued()
	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	_, n, err = d.GetBuffer(16)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewFileSourceDevice_RejectsNonWavFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notwav.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file"), 0644))

	_, err := NewFileSourceDevice(path)
	assert.Error(t, err)
}
