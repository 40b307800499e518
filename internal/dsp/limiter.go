package dsp

import "math"

// LimiterConfig configures the true-peak look-ahead limiter (spec.md §4.1
// step 4).
type LimiterConfig struct {
	CeilingDBTP    float64
	OversampleBy   int
	LookaheadMS    float64
	AttackMS       float64
	ReleaseMS      float64
}

// DefaultLimiterConfig returns the spec.md defaults: 4x oversample, 1ms
// look-ahead, 0.5ms attack, 50ms release.
func DefaultLimiterConfig(ceilingDBTP float64) LimiterConfig {
	return LimiterConfig{
		CeilingDBTP:  ceilingDBTP,
		OversampleBy: OversampleFactor,
		LookaheadMS:  1.0,
		AttackMS:     0.5,
		ReleaseMS:    50.0,
	}
}

// ApplyTruePeakLimiter applies the look-ahead limiter described in spec.md
// §4.1 step 4: oversample, compute the per-sample peak linked across
// channels, derive desired gain from a forward-look window, smooth with
// attack/release, clamp gain to the desired ceiling, apply per-channel, then
// downsample back. Returns a new buffer; the input is not mutated.
func ApplyTruePeakLimiter(frames [][]float32, sampleRate int, cfg LimiterConfig) [][]float32 {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return frames
	}
	factor := cfg.OversampleBy
	if factor < 1 {
		factor = 1
	}

	oversampledRate := float64(sampleRate * factor)
	ceilingLinear := math.Pow(10.0, cfg.CeilingDBTP/20.0)

	oversampled := make([][]float32, len(frames))
	for ch, data := range frames {
		oversampled[ch] = oversample(data, factor)
	}
	n := len(oversampled[0])

	// Linked peak: max(|sample|) across all channels, per oversampled index.
	linkedPeak := make([]float64, n)
	for _, ch := range oversampled {
		for i, s := range ch {
			a := math.Abs(float64(s))
			if a > linkedPeak[i] {
				linkedPeak[i] = a
			}
		}
	}

	lookaheadSamples := int(cfg.LookaheadMS / 1000.0 * oversampledRate)
	if lookaheadSamples < 1 {
		lookaheadSamples = 1
	}
	futurePeak := ForwardMaxWindow(linkedPeak, lookaheadSamples)

	const eps = 1e-9
	desiredGain := make([]float64, n)
	for i, p := range futurePeak {
		g := ceilingLinear / math.Max(p, eps)
		if g > 1 {
			g = 1
		}
		desiredGain[i] = g
	}

	attackCoeff := timeConstantCoeff(cfg.AttackMS, oversampledRate)
	releaseCoeff := timeConstantCoeff(cfg.ReleaseMS, oversampledRate)

	smoothed := make([]float64, n)
	gain := 1.0
	for i, desired := range desiredGain {
		var coeff float64
		if desired < gain {
			coeff = attackCoeff // gain must fall quickly to avoid clipping
		} else {
			coeff = releaseCoeff // gain may recover slowly
		}
		gain = coeff*gain + (1-coeff)*desired
		if gain > desired {
			gain = desired // guarantee the ceiling is honored
		}
		smoothed[i] = gain
	}

	limitedOversampled := make([][]float32, len(oversampled))
	for ch, data := range oversampled {
		out := make([]float32, len(data))
		for i, s := range data {
			out[i] = float32(float64(s) * smoothed[i])
		}
		limitedOversampled[ch] = out
	}

	out := make([][]float32, len(frames))
	for ch, data := range limitedOversampled {
		out[ch] = downsample(data, factor, len(frames[ch]))
	}
	return out
}

// timeConstantCoeff returns the first-order smoothing coefficient for a
// given time constant (ms) at the given sample rate: exp(-1/(tau*rate)).
func timeConstantCoeff(ms float64, rate float64) float64 {
	if ms <= 0 {
		return 0
	}
	tau := ms / 1000.0
	return math.Exp(-1.0 / (tau * rate))
}

// downsample decimates an oversampled channel back to the original rate by
// taking every factor-th sample, truncated/padded to targetLen.
func downsample(data []float32, factor, targetLen int) []float32 {
	out := make([]float32, targetLen)
	for i := 0; i < targetLen; i++ {
		idx := i * factor
		if idx < len(data) {
			out[i] = data[idx]
		}
	}
	return out
}
