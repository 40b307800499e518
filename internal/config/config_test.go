package config

import (
	"os"
	"testing"
	"time"
)

// TestDefaultPlayback tests PlaybackConfig defaults
func TestDefaultPlayback(t *testing.T) {
	cfg := DefaultPlayback()

	if cfg.CrossfadeDuration != 5*time.Second {
		t.Errorf("CrossfadeDuration should be 5s, got %v", cfg.CrossfadeDuration)
	}
	if cfg.Volume != 1.0 {
		t.Errorf("Volume should be 1.0, got %v", cfg.Volume)
	}
	if cfg.RepeatMode != RepeatOff {
		t.Error("RepeatMode should default to Off")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestPlaybackFromEnv tests environment variable overrides
func TestPlaybackFromEnv(t *testing.T) {
	os.Setenv("CROSSFADE_DURATION_SECONDS", "8")
	os.Setenv("PLAYBACK_VOLUME", "0.5")
	defer os.Unsetenv("CROSSFADE_DURATION_SECONDS")
	defer os.Unsetenv("PLAYBACK_VOLUME")

	cfg := PlaybackFromEnv()

	if cfg.CrossfadeDuration != 8*time.Second {
		t.Errorf("CrossfadeDuration should be 8s, got %v", cfg.CrossfadeDuration)
	}
	if cfg.Volume != 0.5 {
		t.Errorf("Volume should be 0.5, got %v", cfg.Volume)
	}
}

// TestPlaybackValidate tests the invariants from spec.md §6
func TestPlaybackValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlaybackConfig)
		wantErr bool
	}{
		{"duration too short", func(c *PlaybackConfig) { c.CrossfadeDuration = 500 * time.Millisecond }, true},
		{"duration too long", func(c *PlaybackConfig) { c.CrossfadeDuration = 31 * time.Second }, true},
		{"volume negative", func(c *PlaybackConfig) { c.Volume = -0.1 }, true},
		{"volume too high", func(c *PlaybackConfig) { c.Volume = 1.1 }, true},
		{"repeat count negative", func(c *PlaybackConfig) { c.RepeatCount = -1 }, true},
		{"valid config", func(c *PlaybackConfig) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPlayback()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestDefaultOverlay tests OverlayConfig defaults
func TestDefaultOverlay(t *testing.T) {
	cfg := DefaultOverlay()

	if cfg.Loop.Kind != LoopInfinite {
		t.Error("default loop mode should be Infinite")
	}
	if cfg.Volume != 0.3 {
		t.Errorf("Volume should be 0.3, got %v", cfg.Volume)
	}
}

// TestDefaultCache tests CacheConfig defaults
func TestDefaultCache(t *testing.T) {
	cfg := DefaultCache()

	if cfg.MaxEntries != 32 {
		t.Errorf("MaxEntries should be 32, got %d", cfg.MaxEntries)
	}
	if !cfg.Normalize {
		t.Error("Normalize should default to true")
	}
	if cfg.NormalizeMaxIters != 3 {
		t.Errorf("NormalizeMaxIters should be 3, got %d", cfg.NormalizeMaxIters)
	}
}
