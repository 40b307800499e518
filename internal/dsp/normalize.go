package dsp

import "math"

// NormalizeConfig configures the iterate-to-converge normalization pass of
// spec.md §4.1.
type NormalizeConfig struct {
	TargetLUFS    float64
	CeilingDBTP   float64
	MaxIterations int     // default 3
	ToleranceLU   float64 // default 0.1
}

// DefaultNormalizeConfig returns spec.md's defaults.
func DefaultNormalizeConfig(targetLUFS, ceilingDBTP float64) NormalizeConfig {
	return NormalizeConfig{
		TargetLUFS:    targetLUFS,
		CeilingDBTP:   ceilingDBTP,
		MaxIterations: 3,
		ToleranceLU:   0.1,
	}
}

// Normalize implements spec.md §4.1's five-step algorithm: resample to
// 44.1kHz, measure integrated LUFS, apply linear gain toward the target,
// true-peak limit, then re-measure and iterate (up to MaxIterations) until
// both LUFS and true-peak are within tolerance.
func Normalize(frames [][]float32, sourceRate int, cfg NormalizeConfig) ([][]float32, int, error) {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil, sourceRate, ErrEmptyBuffer
	}
	// spec.md §4.4: the engine's mixer graph only adapts mono and stereo
	// sources; anything else isn't a format this engine's output stage
	// can play.
	if len(frames) > 2 {
		return nil, sourceRate, ErrUnsupportedFormat
	}

	current, err := Resample(frames, sourceRate, TargetSampleRate)
	if err != nil {
		return nil, sourceRate, err
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}
	tolerance := cfg.ToleranceLU
	if tolerance <= 0 {
		tolerance = 0.1
	}
	limiterCfg := DefaultLimiterConfig(cfg.CeilingDBTP)

	for i := 0; i < maxIter; i++ {
		measured := MeasureIntegratedLUFS(current, TargetSampleRate)
		if math.IsInf(measured, -1) {
			// Nothing survived gating; there is no loudness to correct.
			break
		}

		gainDB := cfg.TargetLUFS - measured
		current = applyGainDB(current, gainDB)
		current = ApplyTruePeakLimiter(current, TargetSampleRate, limiterCfg)

		remeasuredLUFS := MeasureIntegratedLUFS(current, TargetSampleRate)
		remeasuredPeak := MeasureTruePeak(current, OversampleFactor)

		lufsOK := math.IsInf(remeasuredLUFS, -1) || math.Abs(remeasuredLUFS-cfg.TargetLUFS) <= tolerance
		peakOK := remeasuredPeak <= cfg.CeilingDBTP+tolerance
		if lufsOK && peakOK {
			break
		}
	}

	// One more limiter pass if the gain stage's last iteration introduced
	// overshoot the loop didn't get to re-check (spec.md: "If the round-trip
	// introduces overshoot, recurse once").
	if MeasureTruePeak(current, OversampleFactor) > cfg.CeilingDBTP+cfg.ToleranceLU {
		current = ApplyTruePeakLimiter(current, TargetSampleRate, limiterCfg)
	}

	return current, TargetSampleRate, nil
}

// applyGainDB scales every sample by 10^(db/20).
func applyGainDB(frames [][]float32, db float64) [][]float32 {
	gain := float32(math.Pow(10.0, db/20.0))
	out := make([][]float32, len(frames))
	for ch, data := range frames {
		scaled := make([]float32, len(data))
		for i, s := range data {
			scaled[i] = s * gain
		}
		out[ch] = scaled
	}
	return out
}
