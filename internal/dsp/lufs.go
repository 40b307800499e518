package dsp

import "math"

// channelWeight returns the BS.1770 channel weighting used when summing
// per-channel mean-square power into one gated-block loudness value.
// spec.md §4.1: L,R,C=1.0; Ls,Rs=1.41; LFE=0. For mono/stereo content (the
// overwhelming common case here) every channel is 1.0.
func channelWeight(channels, index int) float64 {
	switch {
	case channels <= 2:
		return 1.0
	case channels == 6: // 5.1: L,R,C,LFE,Ls,Rs
		switch index {
		case 3:
			return 0.0
		case 4, 5:
			return 1.41
		default:
			return 1.0
		}
	default:
		return 1.0
	}
}

// energyToLUFS converts a mean-square energy value to LUFS per spec.md
// §4.1: 10*log10(E) - 0.691.
func energyToLUFS(energy float64) float64 {
	if energy <= 0 {
		return math.Inf(-1)
	}
	return 10.0*math.Log10(energy) - 0.691
}

const (
	absoluteGateLUFS = -70.0
	relativeGateLU   = -10.0
)

// MeasureIntegratedLUFS implements the BS.1770 gated integrated-loudness
// algorithm of spec.md §4.1 step 2: K-weight every channel, slide 400ms
// blocks with a 100ms step (75% overlap), weight-sum per-block mean square
// across channels, then apply the absolute (-70 LUFS) and relative
// (ungated mean - 10 LU) gates. Falls back to the ungated whole-signal mean
// when the buffer is shorter than one window. Returns -Inf if fewer than
// one block survives absolute gating.
func MeasureIntegratedLUFS(frames [][]float32, sampleRate int) float64 {
	if len(frames) == 0 || len(frames[0]) == 0 || sampleRate <= 0 {
		return math.Inf(-1)
	}
	channels := len(frames)
	numSamples := len(frames[0])

	blockSize := int(0.4 * float64(sampleRate))
	step := int(0.1 * float64(sampleRate))
	if blockSize <= 0 || step <= 0 {
		return math.Inf(-1)
	}

	filters := make([]*kWeightingFilter, channels)
	filtered := make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		filters[ch] = newKWeightingFilter(float64(sampleRate))
		filtered[ch] = make([]float64, numSamples)
		for i, s := range frames[ch] {
			filtered[ch][i] = filters[ch].process(float64(s))
		}
	}

	if numSamples < blockSize {
		// Fall back to ungated whole-signal mean (spec.md §4.1 step 2).
		energy := 0.0
		for ch := 0; ch < channels; ch++ {
			w := channelWeight(channels, ch)
			if w == 0 {
				continue
			}
			sum := 0.0
			for _, s := range filtered[ch] {
				sum += s * s
			}
			if numSamples > 0 {
				energy += w * sum / float64(numSamples)
			}
		}
		return energyToLUFS(energy)
	}

	var blockLoudness []float64
	for start := 0; start+blockSize <= numSamples; start += step {
		energy := 0.0
		for ch := 0; ch < channels; ch++ {
			w := channelWeight(channels, ch)
			if w == 0 {
				continue
			}
			sum := 0.0
			for i := start; i < start+blockSize; i++ {
				sum += filtered[ch][i] * filtered[ch][i]
			}
			energy += w * sum / float64(blockSize)
		}
		blockLoudness = append(blockLoudness, energyToLUFS(energy))
	}

	return gateAndIntegrate(blockLoudness)
}

// gateAndIntegrate applies the two-stage BS.1770 gate to a sequence of
// per-block loudness values and returns the integrated LUFS.
func gateAndIntegrate(blockLoudness []float64) float64 {
	// Absolute gate first.
	var absPassed []float64
	for _, l := range blockLoudness {
		if l >= absoluteGateLUFS {
			absPassed = append(absPassed, l)
		}
	}
	if len(absPassed) == 0 {
		return math.Inf(-1)
	}

	ungatedMean := meanEnergyToLUFS(absPassed)
	relativeThreshold := ungatedMean + relativeGateLU

	var relPassed []float64
	for _, l := range absPassed {
		if l >= relativeThreshold {
			relPassed = append(relPassed, l)
		}
	}
	if len(relPassed) == 0 {
		return math.Inf(-1)
	}

	return meanEnergyToLUFS(relPassed)
}

// meanEnergyToLUFS averages a set of per-block LUFS values in the energy
// domain, as BS.1770 requires (averaging loudness values directly would be
// averaging logarithms, which the standard forbids).
func meanEnergyToLUFS(blockLoudness []float64) float64 {
	sum := 0.0
	for _, l := range blockLoudness {
		sum += math.Pow(10.0, (l+0.691)/10.0)
	}
	return energyToLUFS(sum / float64(len(blockLoudness)))
}
