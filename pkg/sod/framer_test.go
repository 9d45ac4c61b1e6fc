package sod

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerRebuffers(t *testing.T) {
	var f Framer
	var got [][]int16
	collect := func(fr []int16) error {
		got = append(got, append([]int16(nil), fr...))
		return nil
	}

	samples := make([]int16, 400)
	for i := range samples {
		samples[i] = int16(i)
	}

	require.NoError(t, f.Write(samples[:100], collect))
	assert.Empty(t, got)
	assert.Equal(t, 100, f.Buffered())

	require.NoError(t, f.Write(samples[100:], collect))
	require.Len(t, got, 2)
	assert.Equal(t, int16(0), got[0][0])
	assert.Equal(t, int16(160), got[1][0])
	assert.Equal(t, 80, f.Buffered())

	f.Reset()
	assert.Zero(t, f.Buffered())
}

func TestFramerStopsOnError(t *testing.T) {
	var f Framer
	boom := errors.New("boom")
	calls := 0
	err := f.Write(make([]int16, 3*FrameSamples+10), func([]int16) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, FrameSamples+10, f.Buffered())
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	b := EncodePCM16(samples)
	assert.Len(t, b, 10)
	assert.Equal(t, []byte{0xff, 0x7f}, b[6:8])
	assert.Equal(t, samples, DecodePCM16(b))
	assert.Len(t, DecodePCM16([]byte{1, 2, 3}), 1)
}
