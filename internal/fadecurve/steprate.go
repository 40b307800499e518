package fadecurve

import "time"

// StepsPerSecond implements spec.md §4.4's adaptive fade step rate: shorter
// fades get more steps/second so they still feel smooth, longer fades get
// fewer to bound total work.
func StepsPerSecond(duration time.Duration) int {
	switch {
	case duration < time.Second:
		return 100
	case duration < 5*time.Second:
		return 50
	case duration < 15*time.Second:
		return 30
	default:
		return 20
	}
}

// StepInterval returns duration/steps, the sleep between successive fade
// writes for a fade of the given total duration.
func StepInterval(duration time.Duration) time.Duration {
	steps := int(duration.Seconds() * float64(StepsPerSecond(duration)))
	if steps < 1 {
		steps = 1
	}
	return duration / time.Duration(steps)
}

// StepCount returns the total number of discrete writes a fade of the
// given duration performs at its adaptive rate.
func StepCount(duration time.Duration) int {
	steps := int(duration.Seconds() * float64(StepsPerSecond(duration)))
	if steps < 1 {
		steps = 1
	}
	return steps
}
