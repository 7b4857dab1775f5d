package engine

import (
	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/fenwick-audio/aurad/internal/iodev"
	"github.com/google/uuid"
)

// fakeDevice is a minimal in-memory iodev.Device for exercising the
// engine's servicing loop without real hardware, in the spirit of the
// teacher's DummyAudioSinkDevice/DummyAudioSourceDevice.
type fakeDevice struct {
	id        uuid.UUID
	name      string
	dir       iodev.Direction
	state     iodev.State
	format    format.Format
	caps      iodev.Capabilities
	bufFrames int

	written []byte // everything ever passed to PutBuffer, for assertions
	toFeed  []byte // bytes GetBuffer will hand back (input devices)
	scratch []byte
}

func newFakeDevice(dir iodev.Direction, caps iodev.Capabilities, bufFrames int) *fakeDevice {
	return &fakeDevice{
		id:        uuid.New(),
		name:      "fake",
		dir:       dir,
		caps:      caps,
		bufFrames: bufFrames,
	}
}

func (d *fakeDevice) ID() uuid.UUID            { return d.id }
func (d *fakeDevice) Name() string             { return d.name }
func (d *fakeDevice) Direction() iodev.Direction { return d.dir }
func (d *fakeDevice) State() iodev.State       { return d.state }
func (d *fakeDevice) Format() format.Format    { return d.format }
func (d *fakeDevice) IsOpen() bool             { return d.state != iodev.Closed && d.state != iodev.Error }
func (d *fakeDevice) DevRunning() bool         { return d.state == iodev.Running }
func (d *fakeDevice) ActiveNode() iodev.Node   { return iodev.Node{ID: uuid.New(), Name: "default"} }
func (d *fakeDevice) Drain()                   { d.state = iodev.Draining }

func (d *fakeDevice) Open(requested format.Format) (format.Format, error) {
	negotiated, err := iodev.Negotiate(d.caps, requested)
	if err != nil {
		d.state = iodev.Error
		return format.Format{}, err
	}
	d.format = negotiated
	d.state = iodev.Running
	return negotiated, nil
}

func (d *fakeDevice) Close() error {
	d.state = iodev.Closed
	return nil
}

func (d *fakeDevice) BufferSize() int     { return d.bufFrames }
func (d *fakeDevice) MinBufferLevel() int { return d.bufFrames / 8 }

func (d *fakeDevice) FramesQueued() (int, error) {
	return len(d.written) / d.format.FrameBytes(), nil
}

func (d *fakeDevice) DelayFrames() (int, error) { return d.FramesQueued() }

func (d *fakeDevice) GetBuffer(framesWanted int) ([]byte, int, error) {
	if d.dir == iodev.Output {
		need := framesWanted * d.format.FrameBytes()
		if cap(d.scratch) < need {
			d.scratch = make([]byte, need)
		}
		buf := d.scratch[:need]
		for i := range buf {
			buf[i] = 0
		}
		return buf, framesWanted, nil
	}
	n := framesWanted * d.format.FrameBytes()
	if n > len(d.toFeed) {
		n = len(d.toFeed) - (len(d.toFeed) % d.format.FrameBytes())
	}
	buf := d.toFeed[:n]
	d.toFeed = d.toFeed[n:]
	return buf, n / d.format.FrameBytes(), nil
}

func (d *fakeDevice) PutBuffer(frames int) error {
	if d.dir != iodev.Output {
		return nil
	}
	n := frames * d.format.FrameBytes()
	d.written = append(d.written, d.scratch[:n]...)
	return nil
}

func (d *fakeDevice) UpdateSupportedFormats() error { return nil }
