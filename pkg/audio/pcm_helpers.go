package audio

import (
	"encoding/binary"
	"math"
)

// PCMInt16ToLE converts int16 samples to raw little-endian bytes.
func PCMInt16ToLE(samples []int16) []byte {
	return AppendPCMInt16LE(make([]byte, 0, len(samples)*BytesPerSample), samples)
}

// AppendPCMInt16LE appends samples to dst as little-endian bytes.
func AppendPCMInt16LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}

	return dst
}

// LEToPCMInt16 converts raw little-endian bytes back to int16 samples.
// A trailing odd byte is ignored.
func LEToPCMInt16(b []byte) []int16 {
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}

	return out
}

// Int16ToFloat32 normalizes samples to [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}

	return out
}

// Float32ToInt16 converts normalized samples back to int16, clamping out-of-range values.
// Non-finite values must be filtered by the caller.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}

	return out
}
