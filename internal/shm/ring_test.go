package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRing_WriteReadRoundTrip(t *testing.T) {
	const frameBytes = 4 // stereo S16LE
	const usedSize = 480 * frameBytes
	r := NewRing(frameBytes, usedSize)

	buf, cap, err := r.BeginWrite()
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap, 240)
	for i := range buf[:240*frameBytes] {
		buf[i] = byte(i)
	}
	require.NoError(t, r.CommitWrite(240))

	rbuf, frames, err := r.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, 240, frames)
	assert.Equal(t, 240*frameBytes, len(rbuf))
	require.NoError(t, r.CommitRead(240))
}

func TestRing_FlipsOnFullHalf(t *testing.T) {
	const frameBytes = 4
	const usedSize = 10 * frameBytes
	r := NewRing(frameBytes, usedSize)

	_, capFrames, err := r.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, r.CommitWrite(capFrames))

	// Half should have flipped to a fresh, empty write buffer.
	_, newCap, err := r.BeginWrite()
	require.NoError(t, err)
	assert.Equal(t, capFrames, newCap)
}

func TestRing_ClosedErrors(t *testing.T) {
	r := NewRing(4, 40)
	r.Close()
	_, _, err := r.BeginWrite()
	assert.ErrorIs(t, err, ErrTornDown)
	_, _, err = r.BeginRead()
	assert.ErrorIs(t, err, ErrTornDown)
	assert.ErrorIs(t, r.CommitWrite(1), ErrTornDown)
	assert.ErrorIs(t, r.CommitRead(1), ErrTornDown)
}

func TestRing_VolumeScalerRoundTrip(t *testing.T) {
	r := NewRing(4, 40)
	r.SetVolume(0.5)
	assert.InDelta(t, 0.5, r.Volume(), 1e-4)
	r.SetVolume(1.5) // clamp
	assert.InDelta(t, 1.0, r.Volume(), 1e-4)
	r.SetVolume(-1) // clamp
	assert.InDelta(t, 0.0, r.Volume(), 1e-4)
}

// Property test (spec §8): for any shm, read_offset <= write_offset <=
// used_size always holds, across arbitrary interleavings of writes/reads.
func TestRing_OffsetInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const frameBytes = 2
		bufFrames := rapid.IntRange(1, 64).Draw(t, "bufFrames")
		usedSize := bufFrames * frameBytes
		r := NewRing(frameBytes, usedSize)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			_, capFrames, err := r.BeginWrite()
			require.NoError(t, err)
			if capFrames > 0 {
				n := rapid.IntRange(0, capFrames).Draw(t, "writeFrames")
				require.NoError(t, r.CommitWrite(n))
			}

			_, avail, err := r.BeginRead()
			require.NoError(t, err)
			if avail > 0 {
				n := rapid.IntRange(0, avail).Draw(t, "readFrames")
				require.NoError(t, r.CommitRead(n))
			}

			readOff := r.ReadOffsetFrames()
			writeOff := r.WriteOffsetFrames()
			assert.LessOrEqual(t, readOff, writeOff)
			assert.LessOrEqual(t, writeOff, bufFrames)
		}
	})
}
