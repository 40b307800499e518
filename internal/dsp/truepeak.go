package dsp

import "math"

// OversampleFactor is the default true-peak oversampling ratio (spec.md
// §4.1 step 4).
const OversampleFactor = 4

// oversample upsamples a single channel by factor using linear
// interpolation — sufficient to approximate inter-sample peaks for true-peak
// metering without pulling in a full polyphase FIR design.
func oversample(data []float32, factor int) []float32 {
	if factor <= 1 || len(data) == 0 {
		return data
	}
	out := make([]float32, len(data)*factor)
	for i := 0; i < len(data); i++ {
		a := data[i]
		b := a
		if i+1 < len(data) {
			b = data[i+1]
		}
		for k := 0; k < factor; k++ {
			frac := float32(k) / float32(factor)
			out[i*factor+k] = a + (b-a)*frac
		}
	}
	return out
}

// MeasureTruePeak returns the oversampled true-peak of a multichannel
// buffer, in dBTP, as the linear max across all channels at every
// oversampled index (spec.md §4.1 step 4: "per-sample peak linked across
// channels").
func MeasureTruePeak(frames [][]float32, factor int) float64 {
	if len(frames) == 0 {
		return math.Inf(-1)
	}
	peak := 0.0
	for _, ch := range frames {
		up := oversample(ch, factor)
		for _, s := range up {
			a := math.Abs(float64(s))
			if a > peak {
				peak = a
			}
		}
	}
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(peak)
}

// monotonicMaxDeque is a classic sliding-window-maximum deque: indices are
// kept in increasing order, values in decreasing order, so the front is
// always the max of the current window. Used by the limiter's look-ahead
// window (spec.md §4.1: "Forward-max sliding window is implemented as a
// monotonic deque over indices").
type monotonicMaxDeque struct {
	idx    []int
	values []float64
}

func newMonotonicMaxDeque() *monotonicMaxDeque {
	return &monotonicMaxDeque{}
}

// push appends value at index i, evicting now-dominated entries from the
// back of the deque.
func (d *monotonicMaxDeque) push(i int, value float64) {
	for len(d.values) > 0 && d.values[len(d.values)-1] <= value {
		d.values = d.values[:len(d.values)-1]
		d.idx = d.idx[:len(d.idx)-1]
	}
	d.values = append(d.values, value)
	d.idx = append(d.idx, i)
}

// evictBefore drops entries whose index is older than minIdx (outside the
// current window).
func (d *monotonicMaxDeque) evictBefore(minIdx int) {
	for len(d.idx) > 0 && d.idx[0] < minIdx {
		d.idx = d.idx[1:]
		d.values = d.values[1:]
	}
}

// max returns the current window's maximum value, or 0 if empty.
func (d *monotonicMaxDeque) max() float64 {
	if len(d.values) == 0 {
		return 0
	}
	return d.values[0]
}

// ForwardMaxWindow computes, for each index i, the maximum of series[j]
// (taken as given, not as an absolute value) over j in [i, min(i+window, n)) — the limiter's forward look-ahead peak.
// One forward pass with a trailing sliding-window-max deque, then shifted:
// the trailing max ending at j is the forward max starting at j-window+1.
func ForwardMaxWindow(series []float64, window int) []float64 {
	n := len(series)
	out := make([]float64, n)
	if n == 0 || window <= 0 {
		return out
	}

	deque := newMonotonicMaxDeque()
	for j := 0; j < n; j++ {
		deque.push(j, series[j])
		deque.evictBefore(j - window + 1)
		if j-window+1 >= 0 {
			out[j-window+1] = deque.max()
		}
	}

	// Tail: for starting indices whose window runs past n, the available
	// lookahead shrinks; fill with a direct scan (bounded, rare, O(window)).
	for i := n - window + 1; i < n; i++ {
		if i < 0 {
			continue
		}
		m := 0.0
		for j := i; j < n; j++ {
			if series[j] > m {
				m = series[j]
			}
		}
		out[i] = m
	}
	return out
}
