package audio

import (
	"encoding/binary"
	"math"

	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

const pcm16Scale = 32767

// Float32ToPCM16 converts [-1, 1] float samples to 16-bit PCM, clipping
// anything out of range.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		v = max(-1, min(1, v))
		out[i] = int16(math.Round(v * pcm16Scale))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit PCM to float samples in [-1, 1].
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = max(-1, float32(s)/pcm16Scale)
	}
	return out
}

// PCM16ToBytes encodes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	return sod.EncodePCM16(samples)
}

// BytesToPCM16 decodes little-endian 16-bit PCM. A trailing odd byte is
// dropped.
func BytesToPCM16(b []byte) []int16 {
	return sod.DecodePCM16(b)
}

// Float32ToBytes encodes float samples as little-endian IEEE 754.
func Float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}
