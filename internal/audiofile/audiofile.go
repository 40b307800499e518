// Package audiofile holds the data model shared across the playback engine:
// track identity, decoded PCM buffers, and the loudness-normalization target
// a track may opt into.
package audiofile

import "time"

// NormalizationTarget overrides the cache's default loudness target for a
// single track (spec.md SPEC_FULL §3 supplement).
type NormalizationTarget struct {
	TargetLUFS  float64
	CeilingDBTP float64
}

// Track is the immutable identity of a piece of audio content. Loading it
// into the cache augments a copy with Duration/SampleRate/Channels/
// Interleaved — the Track value itself never mutates after construction.
type Track struct {
	URI      string
	Metadata map[string]string

	// Populated once the track has been loaded (duration seconds, sample
	// rate, channel count, interleaving flag per spec.md §3).
	Duration    time.Duration
	SampleRate  int
	Channels    int
	Interleaved bool
	Loaded      bool

	NormalizationOverride *NormalizationTarget
}

// WithFormat returns a copy of t augmented with the format discovered on
// load. Track identity (URI, Metadata) is preserved.
func (t Track) WithFormat(duration time.Duration, sampleRate, channels int, interleaved bool) Track {
	t.Duration = duration
	t.SampleRate = sampleRate
	t.Channels = channels
	t.Interleaved = interleaved
	t.Loaded = true
	return t
}

// Buffer is a decoded PCM buffer: float32, non-interleaved (one []float32
// per channel), produced once per URI and shared read-only thereafter.
type Buffer struct {
	Frames     [][]float32 // Frames[channel][sample]
	SampleRate int
	Channels   int
}

// NumFrames returns the number of sample frames held by the buffer.
func (b *Buffer) NumFrames() int {
	if len(b.Frames) == 0 {
		return 0
	}
	return len(b.Frames[0])
}

// Duration returns the buffer's playback duration.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(b.NumFrames()) / float64(b.SampleRate) * float64(time.Second))
}

// Clone deep-copies the buffer. Used where a consumer (e.g. the DSP kernel)
// must mutate samples without disturbing the cache's shared read-only copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Frames:     make([][]float32, len(b.Frames)),
	}
	for ch, data := range b.Frames {
		out.Frames[ch] = append([]float32(nil), data...)
	}
	return out
}
