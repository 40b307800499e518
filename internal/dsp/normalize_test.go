package dsp

import (
	"math"
	"testing"
)

const testSampleRate = 44100

// sineWave generates a mono->stereo sine test signal at the given linear
// amplitude, long enough to span several gating blocks.
func sineWave(amplitude float64, freqHz float64, seconds float64, sampleRate int) [][]float32 {
	n := int(seconds * float64(sampleRate))
	left := make([]float32, n)
	right := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := float32(amplitude * math.Sin(2*math.Pi*freqHz*t))
		left[i] = v
		right[i] = v
	}
	return [][]float32{left, right}
}

func TestMeasureIntegratedLUFS_EmptyBuffer(t *testing.T) {
	got := MeasureIntegratedLUFS(nil, testSampleRate)
	if !math.IsInf(got, -1) {
		t.Errorf("expected -Inf for empty buffer, got %v", got)
	}
}

func TestMeasureIntegratedLUFS_ShortSignalFallsBackToUngatedMean(t *testing.T) {
	// Shorter than one 400ms window.
	frames := sineWave(0.5, 1000, 0.1, testSampleRate)
	got := MeasureIntegratedLUFS(frames, testSampleRate)
	if math.IsInf(got, -1) {
		t.Fatalf("expected a finite loudness for a short but non-silent signal")
	}
}

func TestMeasureIntegratedLUFS_SilenceReturnsNegInf(t *testing.T) {
	frames := [][]float32{make([]float32, testSampleRate*2), make([]float32, testSampleRate*2)}
	got := MeasureIntegratedLUFS(frames, testSampleRate)
	if !math.IsInf(got, -1) {
		t.Errorf("expected -Inf for silence, got %v", got)
	}
}

// TestNormalizeRoundTrip pins the round-trip law from spec.md §8:
// normalize(buf) then measureLUFS is within ±0.5 LU of target.
func TestNormalizeRoundTrip(t *testing.T) {
	frames := sineWave(0.1, 1000, 3.0, testSampleRate)
	cfg := DefaultNormalizeConfig(-23.0, -1.0)

	out, rate, err := Normalize(frames, testSampleRate, cfg)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	measured := MeasureIntegratedLUFS(out, rate)
	if math.Abs(measured-cfg.TargetLUFS) > 0.5 {
		t.Errorf("measured LUFS %v not within 0.5 LU of target %v", measured, cfg.TargetLUFS)
	}
}

// TestNormalizeHonorsTruePeakCeiling pins scenario 4 from spec.md §8: a loud
// sine normalized with a true-peak ceiling must not exceed ceiling+0.1dBTP.
func TestNormalizeHonorsTruePeakCeiling(t *testing.T) {
	frames := sineWave(0.99, 1000, 2.0, testSampleRate)
	cfg := DefaultNormalizeConfig(-16.0, -1.0)

	out, rate, err := Normalize(frames, testSampleRate, cfg)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	peak := MeasureTruePeak(out, OversampleFactor)
	if peak > cfg.CeilingDBTP+0.1 {
		t.Errorf("true peak %v dBTP exceeds ceiling %v + 0.1dBTP", peak, cfg.CeilingDBTP)
	}
	_ = rate
}

func TestNormalizeEmptyBufferFails(t *testing.T) {
	_, _, err := Normalize(nil, testSampleRate, DefaultNormalizeConfig(-16, -1))
	if err != ErrEmptyBuffer {
		t.Errorf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestNormalizeRejectsMoreThanStereo(t *testing.T) {
	frames := [][]float32{{0}, {0}, {0}}
	_, _, err := Normalize(frames, testSampleRate, DefaultNormalizeConfig(-16, -1))
	if err != ErrUnsupportedFormat {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestResamplePassthroughWhenRatesMatch(t *testing.T) {
	frames := sineWave(0.2, 440, 0.5, testSampleRate)
	out, err := Resample(frames, testSampleRate, testSampleRate)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out[0]) != len(frames[0]) {
		t.Errorf("expected passthrough length %d, got %d", len(frames[0]), len(out[0]))
	}
}

func TestResampleChangesLength(t *testing.T) {
	frames := sineWave(0.2, 440, 1.0, 48000)
	out, err := Resample(frames, 48000, 44100)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	wantLen := 44100
	if diff := abs(len(out[0]) - wantLen); diff > 10 {
		t.Errorf("resampled length %d too far from expected %d", len(out[0]), wantLen)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestForwardMaxWindow(t *testing.T) {
	series := []float64{1, 3, 2, 5, 4, 0, 0}
	got := ForwardMaxWindow(series, 3)
	want := []float64{3, 5, 5, 5, 4, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ForwardMaxWindow[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

