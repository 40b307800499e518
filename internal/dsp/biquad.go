// Package dsp implements the offline loudness-normalization kernel (C1):
// resampling, BS.1770 K-weighting, gated LUFS measurement, oversampled
// true-peak metering, a look-ahead limiter, and the iterate-to-converge
// normalize() entry point. Coefficient derivation is grounded on the
// ITU-R BS.1770-4 biquad shapes used by the retrieved vst3go analysis
// package; the gating/integration logic follows spec.md §4.1 exactly.
package dsp

import "math"

// biquad is a direct-form-I second-order IIR section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func (f *biquad) process(in float64) float64 {
	out := f.b0*in + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2 = f.x1
	f.x1 = in
	f.y2 = f.y1
	f.y1 = out
	return out
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// newKWeightingShelf builds the BS.1770 high-shelf stage (f0=1681.97Hz,
// Q=0.7071, G≈4dB).
func newKWeightingShelf(sampleRate float64) *biquad {
	const (
		f0 = 1681.9744509555319
		g  = 3.999843853973347
		q  = 0.7071752369554196
	)
	k := math.Tan(math.Pi * f0 / sampleRate)
	vh := math.Pow(10.0, g/20.0)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1.0 + k/q + k*k

	return &biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2.0 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}
}

// newRLBHighPass builds the BS.1770 RLB high-pass stage (f0=38.135Hz,
// Q=0.5003).
func newRLBHighPass(sampleRate float64) *biquad {
	const (
		f0 = 38.13547087602444
		q  = 0.5003270373238773
	)
	k := math.Tan(math.Pi * f0 / sampleRate)
	a0 := 1.0 + k/q + k*k

	return &biquad{
		b0: 1.0,
		b1: -2.0,
		b2: 1.0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}
}

// kWeightingFilter cascades the shelf and high-pass stages into one
// per-channel K-weighting filter, per spec.md §4.1 ("convolved into one
// 4th-order IIR per channel").
type kWeightingFilter struct {
	shelf    *biquad
	highpass *biquad
}

func newKWeightingFilter(sampleRate float64) *kWeightingFilter {
	return &kWeightingFilter{
		shelf:    newKWeightingShelf(sampleRate),
		highpass: newRLBHighPass(sampleRate),
	}
}

func (k *kWeightingFilter) process(in float64) float64 {
	return k.highpass.process(k.shelf.process(in))
}

func (k *kWeightingFilter) reset() {
	k.shelf.reset()
	k.highpass.reset()
}
