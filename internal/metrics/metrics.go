// Package metrics publishes Prometheus instrumentation for the playback
// engine, grounded on the teacher's internal/api/observability.go
// promauto.New* idiom and its bounded-cardinality, no-per-entity-labels
// discipline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set is the fixed collection of metrics the engine publishes. Construct
// exactly one with NewSet and share it across components.
type Set struct {
	CrossfadePhaseDuration *prometheus.HistogramVec
	FadeDuration           prometheus.Histogram

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEvicts  prometheus.Counter

	SessionActivations prometheus.Counter
	SessionWarnings    prometheus.Counter

	OverlayIterations prometheus.Counter
	SFXPlays          prometheus.Counter
}

// NewSet registers and returns the metric set against reg. Pass
// prometheus.DefaultRegisterer in production, or a fresh
// prometheus.NewRegistry() in tests that need isolation.
func NewSet(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		CrossfadePhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ambientplayer",
			Subsystem: "crossfade",
			Name:      "phase_duration_seconds",
			Help:      "Duration of crossfade transitions by phase; only \"fading\", spanning the whole transition, is recorded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		FadeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ambientplayer",
			Subsystem: "engine",
			Name:      "fade_duration_seconds",
			Help:      "Duration of the pause fade-out and resume fade-in.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "cache", Name: "hits_total",
			Help: "Audio file cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "cache", Name: "misses_total",
			Help: "Audio file cache misses that triggered a decode.",
		}),
		CacheEvicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "cache", Name: "evictions_total",
			Help: "Audio file cache LRU evictions.",
		}),
		SessionActivations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "session", Name: "activations_total",
			Help: "Managed-mode audio session activations.",
		}),
		SessionWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "session", Name: "warnings_total",
			Help: "Session configuration/validation warnings.",
		}),
		OverlayIterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "overlay", Name: "iterations_total",
			Help: "Overlay loop iterations started.",
		}),
		SFXPlays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ambientplayer", Subsystem: "sfx", Name: "plays_total",
			Help: "Sound-effect play() calls.",
		}),
	}
}
