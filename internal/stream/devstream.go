package stream

import (
	"github.com/fenwick-audio/aurad/internal/fmtconv"
	"github.com/fenwick-audio/aurad/internal/format"
)

// DevStream is the (stream, device) pairing, per spec §3 "Dev-stream
// adapter". It owns the per-attachment converter, a reusable conversion
// scratch buffer sized for the worst-case fan-out of one callback, and
// the device-buffer offset bookkeeping the engine uses to decide when
// every attached stream has caught up.
type DevStream struct {
	Stream *RStream

	// Converter is nil when the device's negotiated format already
	// matches the stream's format exactly (spec §4.2 "applied only when
	// needed").
	Converter *fmtconv.Converter

	// scratch holds one callback's worth of converted samples, sized to
	// the device format's frame bytes times the device's buffer frames
	// so it never needs to grow mid-service.
	scratch []byte

	// DevOffset is frames of this stream already consumed (for playback)
	// or produced (for capture) against the device's current buffer,
	// per spec §3.
	DevOffset int

	// Drained is set once per device servicing pass when the stream's shm
	// ring held no more buffered frames than the pass consumed. It is the
	// engine's signal to send the next REQUEST_DATA, independent of how
	// many device frames the format converter actually produced: a
	// resampler's output count can run a frame or two either side of the
	// naive ratio estimate, so comparing produced frames against the
	// device's callback size directly isn't a reliable drained check.
	Drained bool
}

// NewDevStream builds the adapter between a stream and the device format
// it was negotiated against. devFormat is the format the device will
// actually run at; if it differs from the stream's own format a
// converter is constructed, matching spec §4.5 step 2 ("negotiates the
// effective format between stream and device, constructs a converter if
// needed, allocates the scratch buffer"). The converter's direction
// follows the stream's own direction: playback streams move data
// stream-format -> device-format, capture streams (In or PostMixPreDSP)
// move device-format -> stream-format, so the normalize/resample stages
// run the right way for each.
func NewDevStream(s *RStream, devFormat format.Format, devBufferFrames int) (*DevStream, error) {
	ds := &DevStream{Stream: s}

	if !s.Format.Equal(devFormat) {
		in, out := s.Format, devFormat
		if s.Direction == In || s.Direction == PostMixPreDSP {
			in, out = devFormat, s.Format
		}
		conv, err := fmtconv.New(in, out)
		if err != nil {
			return nil, err
		}
		ds.Converter = conv
	}

	ds.scratch = make([]byte, devBufferFrames*devFormat.FrameBytes())
	return ds, nil
}

// Scratch returns the reusable conversion buffer, growing it if a larger
// device buffer size is now in play (e.g. after a format renegotiation).
func (ds *DevStream) Scratch(minBytes int) []byte {
	if cap(ds.scratch) < minBytes {
		ds.scratch = make([]byte, minBytes)
	}
	return ds.scratch[:minBytes]
}

// ResetOffset is called at the start of each device servicing pass.
func (ds *DevStream) ResetOffset() {
	ds.DevOffset = 0
	ds.Drained = false
}
