package sod

import "encoding/binary"

// Framer rebuffers arbitrary-length sample runs into whole frames.
type Framer struct {
	buf []int16
}

// Write appends samples and calls fn for every complete frame, in order.
// The frame slice is only valid during the call. The first error from fn
// stops processing and drops the failing frame; later samples stay buffered.
func (f *Framer) Write(samples []int16, fn func(frame []int16) error) error {
	f.buf = append(f.buf, samples...)
	n := 0
	var err error
	for len(f.buf)-n >= FrameSamples {
		if err = fn(f.buf[n : n+FrameSamples]); err != nil {
			n += FrameSamples
			break
		}
		n += FrameSamples
	}
	f.buf = append(f.buf[:0], f.buf[n:]...)
	return err
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset drops buffered samples.
func (f *Framer) Reset() { f.buf = f.buf[:0] }

// DecodePCM16 converts little-endian 16-bit PCM to samples. A trailing odd
// byte is ignored.
func DecodePCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodePCM16 converts samples to little-endian 16-bit PCM.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
