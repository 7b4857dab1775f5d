package fmtconv

import "github.com/oov/audio/resampler"

// resampleQuality matches the teacher's AudioFormatConversionDevice, which
// hardcodes the same constant for both its mono and stereo resample paths.
const resampleQuality = 10

// rateConverter implements the resampling stage of spec §4.2 on top of
// oov/audio/resampler, the teacher's own sample-rate conversion dependency
// (pkg/audiodevice/device/audioformatconversiondevice.go). That resampler
// operates on planar (one slice per channel) float32 buffers and is driven
// per channel by index, so rateConverter's job is purely the
// interleave/de-interleave bookkeeping around it — the teacher does the same
// de-interleave-resample-reinterleave dance inline in newResampleFunction,
// just specialized to 1 and 2 channels. This generalizes it to arbitrary
// channel counts since a stream's output channel count isn't fixed at 1 or 2
// here.
type rateConverter struct {
	channels int
	r        *resampler.Resampler

	planarIn  [][]float32
	planarOut [][]float32
	outBuf    []float32
}

func newResampler(inRate, outRate, channels int) *rateConverter {
	rc := &rateConverter{
		channels:  channels,
		r:         resampler.New(channels, inRate, outRate, resampleQuality),
		planarIn:  make([][]float32, channels),
		planarOut: make([][]float32, channels),
	}
	return rc
}

// process resamples nFrames interleaved input frames, returning a slice of
// output frames (reused internal buffer — callers must consume before the
// next call) and the count produced.
func (rc *rateConverter) process(in []float32, nFrames int) ([]float32, int) {
	if nFrames == 0 {
		return rc.outBuf[:0], 0
	}

	for c := 0; c < rc.channels; c++ {
		if cap(rc.planarIn[c]) < nFrames {
			rc.planarIn[c] = make([]float32, nFrames)
		}
		buf := rc.planarIn[c][:nFrames]
		for f := 0; f < nFrames; f++ {
			buf[f] = in[f*rc.channels+c]
		}
		rc.planarIn[c] = buf
	}

	// oov/audio/resampler doesn't report how many output frames a call will
	// produce ahead of time; size generously and trust the written count it
	// returns, same as the teacher does with its fixed-size scratch buffers.
	outCap := nFrames*2 + 64
	written := 0
	for c := 0; c < rc.channels; c++ {
		if cap(rc.planarOut[c]) < outCap {
			rc.planarOut[c] = make([]float32, outCap)
		}
		_, w := rc.r.ProcessFloat32(c, rc.planarIn[c], rc.planarOut[c][:outCap])
		written = w
	}

	need := written * rc.channels
	if cap(rc.outBuf) < need {
		rc.outBuf = make([]float32, need)
	}
	out := rc.outBuf[:need]
	for c := 0; c < rc.channels; c++ {
		planar := rc.planarOut[c]
		for f := 0; f < written; f++ {
			out[f*rc.channels+c] = planar[f]
		}
	}
	return out, written
}
