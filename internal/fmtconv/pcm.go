package fmtconv

import "github.com/fenwick-audio/aurad/internal/format"

// DecodeSamples unpacks interleaved bytes in sf into float32 samples in
// [-1, 1]. Exported so the engine's mixer can decode a device buffer and
// a converted stream buffer into the same domain for saturating-add
// mixing (spec §4.4 "Mixing semantics") without duplicating the
// per-format bit-packing logic.
func DecodeSamples(buf []byte, sf format.SampleFormat, out []float32) {
	normalizers[sf](buf, out)
}

// EncodeSamples packs float32 samples in [-1, 1] into interleaved bytes
// in sf, saturating at the format's representable range.
func EncodeSamples(in []float32, sf format.SampleFormat, buf []byte) {
	denormalizers[sf](in, buf)
}
