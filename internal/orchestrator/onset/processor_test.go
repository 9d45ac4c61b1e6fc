package onset

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// pcm builds a sample run frame by frame.
type pcm []int16

func (p pcm) silence(frames int) pcm {
	return append(p, make([]int16, frames*sod.FrameSamples)...)
}

func (p pcm) tone(frames int, amp float64) pcm {
	base := len(p)
	for i := range frames * sod.FrameSamples {
		p = append(p, int16(amp*math.Sin(2*math.Pi*440*float64(base+i)/sod.SampleRate)))
	}
	return p
}

func newProcessor(t *testing.T, cfg Config) (*Processor, *syncx.Versioned[sod.Config]) {
	t.Helper()
	live := syncx.NewVersioned(sod.DefaultConfig())
	return NewProcessor(live, cfg), live
}

// feed sends samples in chunks of size n and merges the outputs.
func feed(t *testing.T, p *Processor, id string, samples []int16, n int) Output {
	t.Helper()
	var all Output
	for len(samples) > 0 {
		k := min(n, len(samples))
		out, err := p.Process(context.Background(), id, "remote", samples[:k])
		require.NoError(t, err)
		all.Frames += out.Frames
		all.Onsets = append(all.Onsets, out.Onsets...)
		all.Segments = append(all.Segments, out.Segments...)
		samples = samples[k:]
	}
	return all
}

func TestOnsetAndSegment(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	audio := pcm{}.silence(100).tone(30, 8000).silence(60)

	out := feed(t, p, "ws-1", audio, len(audio))
	assert.Equal(t, 190, out.Frames)

	require.Len(t, out.Onsets, 1)
	ev := out.Onsets[0]
	assert.Equal(t, "ws-1", ev.StreamID)
	assert.Equal(t, "remote", ev.Source)
	assert.Equal(t, int64(104), ev.Onset.Frame)
	assert.Equal(t, int64(100), ev.Onset.StartFrame)
	assert.Equal(t, sod.DefaultConfig(), ev.Config)
	from, to := ev.Window()
	assert.Equal(t, 540*time.Millisecond, from)
	assert.Equal(t, 1390*time.Millisecond, to)

	require.Len(t, out.Segments, 1)
	seg := out.Segments[0]
	assert.Equal(t, int64(55), seg.StartFrame)
	assert.Equal(t, int64(180), seg.EndFrame)
	assert.Len(t, seg.Samples, 125*sod.FrameSamples)
	assert.Equal(t, 1250*time.Millisecond, seg.Duration())
	assert.Equal(t, 550*time.Millisecond, seg.Start())
	assert.False(t, seg.Truncated)
	assert.Zero(t, seg.Samples[0], "pre-roll starts in silence")
}

func TestChunkBoundariesDoNotMatter(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	audio := pcm{}.silence(100).tone(30, 8000).silence(60)

	whole := feed(t, p, "a", audio, len(audio))
	odd := feed(t, p, "b", audio, 37)

	require.Len(t, odd.Onsets, 1)
	assert.Equal(t, whole.Onsets[0].Onset, odd.Onsets[0].Onset)
	require.Len(t, odd.Segments, 1)
	assert.Equal(t, whole.Segments[0].Samples, odd.Segments[0].Samples)
}

func TestPartialFrameIsBuffered(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	out, err := p.Process(context.Background(), "a", "remote", make([]int16, 100))
	require.NoError(t, err)
	assert.Zero(t, out.Frames)

	out, err = p.Process(context.Background(), "a", "remote", make([]int16, 60))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Frames)
}

func TestStreamsAreIndependent(t *testing.T) {
	p, _ := newProcessor(t, Config{})

	quiet := feed(t, p, "quiet", pcm{}.silence(150), 800)
	loud := feed(t, p, "loud", pcm{}.silence(100).tone(30, 8000), 800)

	assert.Empty(t, quiet.Onsets)
	assert.Len(t, loud.Onsets, 1)

	streams := p.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, "loud", streams[0].ID)
	assert.Equal(t, int64(1), streams[0].Onsets)
	assert.True(t, streams[0].InSegment)
	require.NotNil(t, streams[0].LastOnset)
	assert.Nil(t, streams[1].LastOnset)
	assert.Equal(t, int64(150), streams[1].Frames)
}

func TestLiveConfigReachesStreams(t *testing.T) {
	p, live := newProcessor(t, Config{})
	feed(t, p, "a", pcm{}.silence(1), 160)

	_, err := live.Update(func(c *sod.Config) error {
		c.OnsetGap = sod.OnsetGap1000ms
		return nil
	})
	require.NoError(t, err)

	out := feed(t, p, "a", pcm{}.silence(60).tone(30, 8000), 800)
	assert.Empty(t, out.Onsets, "61 quiet frames do not satisfy a 1s gap")

	out = feed(t, p, "a", pcm{}.silence(100).tone(30, 8000), 800)
	require.Len(t, out.Onsets, 1)
	assert.Equal(t, sod.OnsetGap1000ms, out.Onsets[0].Config.OnsetGap)
}

func TestSegmentTruncatedAtLimit(t *testing.T) {
	p, _ := newProcessor(t, Config{MaxSegment: time.Second})
	out := feed(t, p, "a", pcm{}.silence(100).tone(200, 8000), 1600)

	require.Len(t, out.Onsets, 1)
	require.Len(t, out.Segments, 1)
	seg := out.Segments[0]
	assert.True(t, seg.Truncated)
	assert.Len(t, seg.Samples, 100*sod.FrameSamples)
	assert.Equal(t, int64(155), seg.EndFrame)
}

func TestShortSilenceKeepsSegmentOpen(t *testing.T) {
	p, _ := newProcessor(t, Config{MaxSilenceFrames: 20})
	out := feed(t, p, "a", pcm{}.silence(100).tone(30, 8000).silence(10).tone(30, 8000).silence(25), 1600)

	require.Len(t, out.Onsets, 1, "pause shorter than the gap does not re-arm")
	require.Len(t, out.Segments, 1)
	assert.Equal(t, int64(55), out.Segments[0].StartFrame)
	assert.Equal(t, int64(190), out.Segments[0].EndFrame)
}

func TestRemoveAndReset(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	feed(t, p, "a", pcm{}.silence(5), 800)
	feed(t, p, "b", pcm{}.silence(5), 800)
	assert.Equal(t, 2, p.Len())

	assert.True(t, p.Remove("a"))
	assert.False(t, p.Remove("a"))
	assert.Equal(t, 1, p.Len())

	p.Reset()
	assert.Zero(t, p.Len())

	out := feed(t, p, "b", pcm{}.silence(5), 800)
	assert.Equal(t, 5, out.Frames)
	assert.Equal(t, int64(5), p.Streams()[0].Frames, "stream restarts after reset")
}

func TestStreamClosedAfterLookup(t *testing.T) {
	audio := pcm{}.silence(100).tone(30, 8000).silence(60)

	tests := []struct {
		name  string
		close func(p *Processor)
	}{
		{"reset", func(p *Processor) { p.Reset() }},
		{"remove", func(p *Processor) { p.Remove("a") }},
		{"cleanup", func(p *Processor) {
			p.now = func() time.Time { return time.Now().Add(time.Hour) }
			p.CleanupStale()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newProcessor(t, Config{StaleTimeout: time.Minute})
			st, err := p.stream("a", "remote")
			require.NoError(t, err)
			tt.close(p)
			require.Zero(t, p.Len())

			out, err := p.feed(context.Background(), st, "a", "remote", audio)
			require.NoError(t, err)
			assert.Equal(t, 190, out.Frames)
			require.Len(t, out.Onsets, 1)
			assert.Equal(t, int64(104), out.Onsets[0].Onset.Frame)
			assert.Equal(t, 1, p.Len())
		})
	}
}

func TestCleanupStale(t *testing.T) {
	p, _ := newProcessor(t, Config{StaleTimeout: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	feed(t, p, "old", pcm{}.silence(1), 160)
	now = now.Add(2 * time.Minute)
	feed(t, p, "fresh", pcm{}.silence(1), 160)

	assert.Equal(t, []string{"old"}, p.CleanupStale())
	assert.Equal(t, 1, p.Len())
	assert.Empty(t, p.CleanupStale())
}

func TestProfiling(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	feed(t, p, "a", pcm{}.silence(10), 800)
	assert.False(t, p.Profiling())
	assert.Zero(t, p.Profiles()["a"].Frames)

	p.SetProfiling(true)
	feed(t, p, "a", pcm{}.silence(10), 800)
	feed(t, p, "b", pcm{}.silence(3), 800)

	profiles := p.Profiles()
	assert.Equal(t, uint64(10), profiles["a"].Frames)
	assert.Equal(t, uint64(3), profiles["b"].Frames, "new streams inherit profiling")

	p.ResetProfiles()
	assert.Zero(t, p.Profiles()["a"].Frames)

	p.SetProfiling(false)
	assert.False(t, p.Profiling())
}

func TestBadLiveConfig(t *testing.T) {
	live := syncx.NewVersioned(sod.Config{Sensitivity: -1})
	p := NewProcessor(live, Config{})

	_, err := p.Process(context.Background(), "a", "remote", make([]int16, 160))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSODBadConfig))
}
