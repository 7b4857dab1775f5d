// Package format defines the audio format and channel layout types shared
// by every component that moves PCM frames: the shm ring, the format
// converter, device back-ends, and streams.
package format

import "fmt"

// SampleFormat identifies the on-the-wire sample encoding.
type SampleFormat int

const (
	S16LE SampleFormat = iota
	S24LE
	S32LE
	Float32LE
)

func (f SampleFormat) String() string {
	switch f {
	case S16LE:
		return "S16_LE"
	case S24LE:
		return "S24_LE"
	case S32LE:
		return "S32_LE"
	case Float32LE:
		return "FLOAT32_LE"
	default:
		return "UNKNOWN"
	}
}

// Bytes returns the size in bytes of a single sample in this format.
func (f SampleFormat) Bytes() int {
	switch f {
	case S16LE:
		return 2
	case S24LE:
		return 3
	case S32LE, Float32LE:
		return 4
	default:
		return 0
	}
}

// ChannelAbsent marks a channel position as not present in a layout.
const ChannelAbsent int8 = -1

// MaxChannels bounds the size of a ChannelLayout. CRAS-derived hardware
// rarely exceeds 8 discrete channel positions (FL/FR/RL/RR/C/LFE/SL/SR).
const MaxChannels = 8

// Named channel positions, indexing into a ChannelLayout.
const (
	ChanFL = iota
	ChanFR
	ChanRL
	ChanRR
	ChanC
	ChanLFE
	ChanSL
	ChanSR
)

// ChannelLayout maps named channel positions to their index in an
// interleaved frame, or ChannelAbsent if the position isn't present.
type ChannelLayout [MaxChannels]int8

// StereoLayout is the default 2-channel layout: FL=0, FR=1, all else absent.
var StereoLayout = ChannelLayout{0, 1, -1, -1, -1, -1, -1, -1}

// MonoLayout is the default 1-channel layout: FL=0 (center-ish front), all else absent.
var MonoLayout = ChannelLayout{0, -1, -1, -1, -1, -1, -1, -1}

// Present returns the named positions with a non-absent index, in frame order.
func (l ChannelLayout) Present() []int {
	type posIdx struct {
		pos, idx int
	}
	var found []posIdx
	for pos, idx := range l {
		if idx != ChannelAbsent {
			found = append(found, posIdx{pos, int(idx)})
		}
	}
	// stable sort by interleaved index
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].idx < found[j-1].idx; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	out := make([]int, len(found))
	for i, p := range found {
		out[i] = p.pos
	}
	return out
}

// Format is the (sample_format, frame_rate_hz, channel_count) triple plus
// its channel layout, per spec §3.
type Format struct {
	SampleFormat SampleFormat
	Rate         int
	Channels     int
	Layout       ChannelLayout
}

// FrameBytes returns bytes per interleaved frame: channels * sample bytes.
func (f Format) FrameBytes() int {
	return f.Channels * f.SampleFormat.Bytes()
}

// Validate enforces the invariants from spec §3: every present channel
// index is < Channels, and all present indices are distinct.
func (f Format) Validate() error {
	if f.Channels <= 0 {
		return fmt.Errorf("format: channels must be positive, got %d", f.Channels)
	}
	if f.Rate <= 0 {
		return fmt.Errorf("format: rate must be positive, got %d", f.Rate)
	}
	seen := make(map[int8]bool)
	for pos, idx := range f.Layout {
		if idx == ChannelAbsent {
			continue
		}
		if int(idx) >= f.Channels {
			return fmt.Errorf("format: channel position %d has index %d >= channel count %d", pos, idx, f.Channels)
		}
		if seen[idx] {
			return fmt.Errorf("format: duplicate channel index %d in layout", idx)
		}
		seen[idx] = true
	}
	return nil
}

// DefaultLayout returns a reasonable layout for the given channel count,
// used when a client doesn't supply an explicit one.
func DefaultLayout(channels int) ChannelLayout {
	switch channels {
	case 1:
		return MonoLayout
	case 2:
		return StereoLayout
	default:
		l := ChannelLayout{}
		for i := range l {
			if i < channels {
				l[i] = int8(i)
			} else {
				l[i] = ChannelAbsent
			}
		}
		return l
	}
}

// Equal reports whether two formats describe the same wire shape.
func (f Format) Equal(other Format) bool {
	return f.SampleFormat == other.SampleFormat && f.Rate == other.Rate &&
		f.Channels == other.Channels && f.Layout == other.Layout
}
