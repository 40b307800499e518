// Package playbackerr defines the error taxonomy of spec.md §7, shared
// across the cache, session, and facade packages so each can construct and
// the facade can surface them without an import cycle back to facade.
package playbackerr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for simple playlist/queue constraints.
var (
	ErrEmptyPlaylist    = errors.New("playback: playlist is empty")
	ErrNoNextTrack      = errors.New("playback: no next track")
	ErrNoPreviousTrack  = errors.New("playback: no previous track")
	ErrRateLimited      = errors.New("playback: rate limited")
)

// InvalidState reports a guard violation in the facade/state machine.
type InvalidState struct {
	Current   string
	Attempted string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("playback: invalid state %q for operation %q", e.Current, e.Attempted)
}

// FileLoadFailed wraps a cache/decoder failure for a given URI.
type FileLoadFailed struct {
	URI   string
	Cause error
}

func (e *FileLoadFailed) Error() string {
	return fmt.Sprintf("playback: failed to load %q: %v", e.URI, e.Cause)
}

func (e *FileLoadFailed) Unwrap() error { return e.Cause }

// FileLoadTimeout reports a load that exceeded its timeout budget.
type FileLoadTimeout struct {
	URI      string
	Duration time.Duration
}

func (e *FileLoadTimeout) Error() string {
	return fmt.Sprintf("playback: loading %q timed out after %v", e.URI, e.Duration)
}

// SessionConfigurationFailed reports an audio-session category/activation
// problem. In External mode, Reason names the incompatible category.
type SessionConfigurationFailed struct {
	Reason string
}

func (e *SessionConfigurationFailed) Error() string {
	return "playback: session configuration failed: " + e.Reason
}

// EngineStartFailed reports a prepare/start failure in the engine core.
type EngineStartFailed struct {
	Reason string
}

func (e *EngineStartFailed) Error() string {
	return "playback: engine start failed: " + e.Reason
}

// InvalidConfiguration reports a validation failure in updateConfiguration.
type InvalidConfiguration struct {
	Reason string
}

func (e *InvalidConfiguration) Error() string {
	return "playback: invalid configuration: " + e.Reason
}
