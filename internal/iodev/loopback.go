package iodev

import (
	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/fenwick-audio/aurad/internal/shm"
)

// TapPoint selects where in an output device's pipeline a LoopbackDevice
// is fed from, per spec §4.3 "Loopback device" / glossary "Post-mix
// pre-DSP tap".
type TapPoint int

const (
	PostMixPreDSP TapPoint = iota
	PostDSP
)

// LoopbackDevice is the virtual capture device whose "hardware" is a tap
// registered on an output device (spec §4.3, §4.7). The tap is invoked by
// the engine immediately after mixing (pre-DSP) or after DSP (post-DSP)
// and writes samples into a shared in-process ring; the loopback
// back-end's GetBuffer/PutBuffer read/advance that ring.
//
// Grounded on the teacher's FanOutDevice (pkg/audiodevice/device/
// faninfanoutdevice.go): both exist to copy one producer's data out to a
// consumer without the producer blocking on it. FanOutDevice fans out to
// many channel-based consumers; LoopbackDevice generalizes that single-hop
// copy into the Device interface's buffer-lending contract, feeding
// exactly one ring (the loopback capture device serves the engine's normal
// multi-stream fan-out once attached, same as any other input device).
type LoopbackDevice struct {
	baseDevice
	tap  TapPoint
	ring *shm.Ring
}

// NewLoopbackDevice creates a loopback capture device fed by the given tap
// point. bufferFrames sizes the internal ring.
func NewLoopbackDevice(tap TapPoint, f format.Format, bufferFrames int) *LoopbackDevice {
	d := &LoopbackDevice{
		baseDevice: newBaseDevice("loopback", Input, Capabilities{
			Rates:    []int{f.Rate},
			Channels: []int{f.Channels},
			Formats:  []format.SampleFormat{f.SampleFormat},
		}),
		tap:  tap,
		ring: shm.NewRing(f.FrameBytes(), bufferFrames*f.FrameBytes()),
	}
	return d
}

// TapPoint reports where this loopback device is fed from.
func (d *LoopbackDevice) TapPoint() TapPoint { return d.tap }

// Feed is the hook the engine invokes immediately after mixing
// (PostMixPreDSP) or after the DSP chain (PostDSP) on the tapped output
// device, writing the just-produced frames into the loopback ring.
func (d *LoopbackDevice) Feed(buf []byte, frames int) {
	if d.State() != Running {
		return
	}
	dst, capFrames, err := d.ring.BeginWrite()
	if err != nil {
		return
	}
	n := frames
	if n > capFrames {
		n = capFrames
	}
	copy(dst, buf[:n*d.format.FrameBytes()])
	_ = d.ring.CommitWrite(n)
}

func (d *LoopbackDevice) Open(requested format.Format) (format.Format, error) {
	negotiated, err := d.negotiateAndOpen(requested)
	if err != nil {
		return negotiated, err
	}
	d.markRunning()
	return negotiated, nil
}

func (d *LoopbackDevice) Close() error {
	d.markClosed()
	return nil
}

func (d *LoopbackDevice) BufferSize() int     { return d.ring.BufferFrames() }
func (d *LoopbackDevice) MinBufferLevel() int { return 0 }

func (d *LoopbackDevice) FramesQueued() (int, error) {
	_, frames, err := d.ring.BeginRead()
	return frames, err
}

func (d *LoopbackDevice) DelayFrames() (int, error) { return 0, nil }

func (d *LoopbackDevice) GetBuffer(framesWanted int) ([]byte, int, error) {
	buf, avail, err := d.ring.BeginRead()
	if err != nil {
		return nil, 0, err
	}
	n := framesWanted
	if n > avail {
		n = avail
	}
	return buf[:n*d.format.FrameBytes()], n, nil
}

func (d *LoopbackDevice) PutBuffer(frames int) error {
	return d.ring.CommitRead(frames)
}

func (d *LoopbackDevice) UpdateSupportedFormats() error { return nil }
