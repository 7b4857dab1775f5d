package fmtconv

import (
	"encoding/binary"
	"math"

	"github.com/fenwick-audio/aurad/internal/format"
)

// normalizeFn converts packed bytes in some SampleFormat into float32
// samples in [-1, 1].
type normalizeFn func(src []byte, dst []float32)

// denormalizeFn converts float32 samples in [-1, 1] back into packed bytes.
type denormalizeFn func(src []float32, dst []byte)

var normalizers = map[format.SampleFormat]normalizeFn{
	format.S16LE:     normalizeS16LE,
	format.S24LE:     normalizeS24LE,
	format.S32LE:     normalizeS32LE,
	format.Float32LE: normalizeFloat32LE,
}

var denormalizers = map[format.SampleFormat]denormalizeFn{
	format.S16LE:     denormalizeS16LE,
	format.S24LE:     denormalizeS24LE,
	format.S32LE:     denormalizeS32LE,
	format.Float32LE: denormalizeFloat32LE,
}

func normalizeS16LE(src []byte, dst []float32) {
	for i := range dst {
		v := int16(binary.LittleEndian.Uint16(src[i*2:]))
		dst[i] = float32(v) / 32768.0
	}
}

func denormalizeS16LE(src []float32, dst []byte) {
	for i, v := range src {
		s := saturateInt32(v, math.MinInt16, math.MaxInt16)
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(s)))
	}
}

func normalizeS24LE(src []byte, dst []float32) {
	for i := range dst {
		b := src[i*3 : i*3+3]
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF) // sign extend
		}
		dst[i] = float32(v) / 8388608.0
	}
}

func denormalizeS24LE(src []float32, dst []byte) {
	for i, v := range src {
		s := saturateInt32(v, -8388608, 8388607)
		dst[i*3] = byte(s)
		dst[i*3+1] = byte(s >> 8)
		dst[i*3+2] = byte(s >> 16)
	}
}

func normalizeS32LE(src []byte, dst []float32) {
	for i := range dst {
		v := int32(binary.LittleEndian.Uint32(src[i*4:]))
		dst[i] = float32(v) / 2147483648.0
	}
}

func denormalizeS32LE(src []float32, dst []byte) {
	for i, v := range src {
		s := saturateInt64(float64(v)*2147483648.0, math.MinInt32, math.MaxInt32)
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(s)))
	}
}

func normalizeFloat32LE(src []byte, dst []float32) {
	for i := range dst {
		bits := binary.LittleEndian.Uint32(src[i*4:])
		dst[i] = math.Float32frombits(bits)
	}
}

func denormalizeFloat32LE(src []float32, dst []byte) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// saturateInt32 scales a [-1,1] float sample by -min (the format's full
// negative-scale magnitude) and clamps to [min, max].
func saturateInt32(v float32, min, max int32) int32 {
	scaled := int64(float64(v) * float64(-int64(min)))
	if scaled > int64(max) {
		return max
	}
	if scaled < int64(min) {
		return min
	}
	return int32(scaled)
}

func saturateInt64(v float64, min, max int64) int64 {
	if v > float64(max) {
		return max
	}
	if v < float64(min) {
		return min
	}
	return int64(v)
}
