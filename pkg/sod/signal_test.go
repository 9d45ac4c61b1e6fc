package sod

import (
	"math"
	"math/rand/v2"
)

// signal builds synthetic 16 kHz test audio frame by frame.
type signal struct {
	frames [][]int16
	rng    *rand.Rand
}

func newSignal(seed uint64) *signal {
	return &signal{rng: rand.New(rand.NewPCG(seed, seed))}
}

// silence appends n all-zero frames.
func (s *signal) silence(n int) *signal {
	for range n {
		s.frames = append(s.frames, make([]int16, FrameSamples))
	}
	return s
}

// tone appends n frames of a 440 Hz sine with optional uniform noise.
func (s *signal) tone(n int, amp float64, noise int) *signal {
	for range n {
		base := len(s.frames) * FrameSamples
		fr := make([]int16, FrameSamples)
		for i := range fr {
			v := amp * math.Sin(2*math.Pi*440*float64(base+i)/SampleRate)
			if noise > 0 {
				v += float64(s.rng.IntN(2*noise+1) - noise)
			}
			fr[i] = int16(math.Max(-32768, math.Min(32767, v)))
		}
		s.frames = append(s.frames, fr)
	}
	return s
}

// noise appends n frames of uniform noise.
func (s *signal) noise(n, amp int) *signal {
	return s.tone(n, 0, amp)
}

// run feeds every frame with the trigger check on and returns the frame
// indices that reported StatusDetected.
func run(d *Detector, frames [][]int16) ([]int, error) {
	var hits []int
	for i, fr := range frames {
		st, err := d.Process(true, fr)
		if err != nil {
			return hits, err
		}
		if st == StatusDetected {
			hits = append(hits, i)
		}
	}
	return hits, nil
}
