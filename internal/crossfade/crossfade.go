// Package crossfade implements the Crossfade Orchestrator (C7): the
// state machine wrapping every cross-slot transition — Preparing, Fading,
// Switching, Cleanup — plus rollback/fast-forward/resume and the
// replacement policy for a manual change arriving mid-crossfade.
package crossfade

import (
	"context"
	"sync"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/enginecore"
)

// Outcome is what StartCrossfade (and ResumeCrossfade) report to the
// facade.
type Outcome int

const (
	Completed Outcome = iota
	Paused
	Cancelled
)

// Phase is the orchestrator's current state-machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseFading
	PhaseSwitching
	PhaseCleanup
)

// cleanupSettle is the optional settle delay Cleanup waits after
// stopping the now-inactive player.
const cleanupSettle = 50 * time.Millisecond

// Snapshot is the paused-crossfade value: everything needed to resume a
// crossfade exactly where it left off, captured as data rather than as a
// set of side effects.
type Snapshot struct {
	ActiveVolume      float64
	InactiveVolume    float64
	ActivePosition    time.Duration
	InactivePosition  time.Duration
	ActiveSlot        enginecore.Slot
	RemainingDuration time.Duration
	Curve             config.FadeCurve
}

// ReplacementPolicy is the bucket a manual-change-during-crossfade falls
// into, keyed by the crossfade's fractional progress.
type ReplacementPolicy int

const (
	PolicyRollback ReplacementPolicy = iota
	PolicyFastForward
	PolicyWaitThenCrossfade
)

// ReplacementPolicyFor implements spec.md §4.7's thresholds: progress<0.2
// rolls back, progress>0.9 waits for completion, otherwise fast-forwards.
func ReplacementPolicyFor(progress float64) ReplacementPolicy {
	switch {
	case progress < 0.2:
		return PolicyRollback
	case progress > 0.9:
		return PolicyWaitThenCrossfade
	default:
		return PolicyFastForward
	}
}

// WaitThenCrossfadeTimeout is the up-to-1.5s wait §4.7 specifies for the
// progress>0.9 bucket.
const WaitThenCrossfadeTimeout = 1500 * time.Millisecond

// Orchestrator is the Crossfade Orchestrator. One Orchestrator wraps one
// Engine; it is not safe for concurrent StartCrossfade calls (C9 serializes
// via its operation queue).
type Orchestrator struct {
	engine *enginecore.Engine
	loader enginecore.BufferLoader

	mu         sync.Mutex
	phase      Phase
	snapshot   *Snapshot
	cancel     context.CancelFunc
	pauseArmed bool
}

// New builds an Orchestrator bound to engine. loader resolves track URIs
// for the inactive slot.
func New(engine *enginecore.Engine, loader enginecore.BufferLoader) *Orchestrator {
	return &Orchestrator{engine: engine, loader: loader}
}

// Phase reports the orchestrator's current state-machine position.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// StartCrossfade loads toTrack into the inactive slot, prepares it, and
// runs the fade. It returns Completed once the switch and cleanup finish,
// Paused if Pause was called mid-fade (a Snapshot is then available via
// Snapshot()), or Cancelled if ctx was cancelled for a reason other than a
// pause request.
func (o *Orchestrator) StartCrossfade(ctx context.Context, toTrack audiofile.Track, duration time.Duration, curve config.FadeCurve, progress func(p float64)) (Outcome, error) {
	o.setPhase(PhasePreparing)

	inactive := o.engine.ActiveSlot().Other()
	if _, err := o.engine.LoadIntoSlot(ctx, inactive, toTrack); err != nil {
		o.setPhase(PhaseIdle)
		return Cancelled, err
	}
	if _, err := o.engine.PrepareInactive(); err != nil {
		o.setPhase(PhaseIdle)
		return Cancelled, err
	}

	return o.runFade(ctx, duration, curve, progress)
}

func (o *Orchestrator) runFade(ctx context.Context, duration time.Duration, curve config.FadeCurve, progress func(p float64)) (Outcome, error) {
	o.setPhase(PhaseFading)

	fadeCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	started := time.Now()
	err := o.engine.ExecuteCrossfade(fadeCtx, duration, curve, progress)

	o.mu.Lock()
	o.cancel = nil
	o.mu.Unlock()

	if err != nil {
		if o.hasSnapshotRequest() {
			elapsed := time.Since(started)
			remaining := duration - elapsed
			if remaining < 0 {
				remaining = 0
			}
			active := o.engine.ActiveSlot()
			snap := &Snapshot{
				ActiveVolume:      o.engine.Mixer(active).Volume(),
				InactiveVolume:    o.engine.Mixer(active.Other()).Volume(),
				ActivePosition:    o.engine.Position(active),
				InactivePosition:  o.engine.Position(active.Other()),
				ActiveSlot:        active,
				RemainingDuration: remaining,
				Curve:             curve,
			}
			o.mu.Lock()
			o.snapshot = snap
			o.mu.Unlock()
			_ = o.engine.Pause(active)
			_ = o.engine.Pause(active.Other())
			o.setPhase(PhaseIdle)
			return Paused, nil
		}
		o.setPhase(PhaseIdle)
		return Cancelled, err
	}

	return o.switchAndCleanup()
}

func (o *Orchestrator) switchAndCleanup() (Outcome, error) {
	o.setPhase(PhaseSwitching)
	o.engine.SwitchActive()

	o.setPhase(PhaseCleanup)
	o.engine.StopInactive()
	time.Sleep(cleanupSettle)
	o.setPhase(PhaseIdle)
	return Completed, nil
}

// RequestPause cancels the in-flight fade and arms the paused-crossfade
// snapshot path so the caller's StartCrossfade call returns Paused rather
// than Cancelled.
func (o *Orchestrator) RequestPause() {
	o.mu.Lock()
	o.pauseArmed = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) hasSnapshotRequest() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	armed := o.pauseArmed
	o.pauseArmed = false
	return armed
}

// Snapshot returns the paused-crossfade snapshot, if one exists.
func (o *Orchestrator) Snapshot() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snapshot == nil {
		return Snapshot{}, false
	}
	return *o.snapshot, true
}

// ResumeCrossfade re-enters Fading from the snapshot's captured volumes,
// linearly interpolating both mixers to (0, target) over the remaining
// duration, then proceeds to Switching/Cleanup. Returns false if there is
// no snapshot.
func (o *Orchestrator) ResumeCrossfade(ctx context.Context, progress func(p float64)) (Outcome, error, bool) {
	o.mu.Lock()
	snap := o.snapshot
	o.snapshot = nil
	o.mu.Unlock()
	if snap == nil {
		return Cancelled, nil, false
	}

	_ = o.engine.Play(snap.ActiveSlot)
	_ = o.engine.Play(snap.ActiveSlot.Other())

	target := o.engine.TargetVolume()
	activeMixer := o.engine.Mixer(snap.ActiveSlot)
	inactiveMixer := o.engine.Mixer(snap.ActiveSlot.Other())

	o.setPhase(PhaseFading)
	fadeCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.engine.Fade(activeMixer, snap.ActiveVolume, 0, snap.RemainingDuration, config.CurveLinear, func() bool { return fadeCtx.Err() != nil })
	}()
	go func() {
		defer wg.Done()
		o.engine.Fade(inactiveMixer, snap.InactiveVolume, target, snap.RemainingDuration, config.CurveLinear, func() bool { return fadeCtx.Err() != nil })
	}()
	wg.Wait()

	o.mu.Lock()
	o.cancel = nil
	o.mu.Unlock()

	if fadeCtx.Err() != nil {
		o.setPhase(PhaseIdle)
		return Cancelled, fadeCtx.Err(), true
	}
	outcome, err := o.switchAndCleanup()
	return outcome, err, true
}

// RollbackCurrent cancels the in-flight fade, rolls the engine back to the
// pre-transition active player, clears any snapshot, and returns Cancelled.
func (o *Orchestrator) RollbackCurrent(dur time.Duration) Outcome {
	o.cancelFade()
	o.engine.Rollback(dur)
	o.mu.Lock()
	o.snapshot = nil
	o.mu.Unlock()
	o.setPhase(PhaseIdle)
	return Cancelled
}

// FastForwardCurrent cancels the in-flight fade, completes the transition
// to the incoming track, and returns Completed.
func (o *Orchestrator) FastForwardCurrent(dur time.Duration) Outcome {
	o.cancelFade()
	o.engine.FastForward(dur)
	o.engine.StopInactive()
	o.mu.Lock()
	o.snapshot = nil
	o.mu.Unlock()
	o.setPhase(PhaseIdle)
	return Completed
}

func (o *Orchestrator) cancelFade() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PerformFadeSeekFade fades the active mixer out, seeks, then fades back
// in — used for manual skip forward/back within a track.
func (o *Orchestrator) PerformFadeSeekFade(targetTime time.Duration, fadeOut, fadeIn time.Duration, curve config.FadeCurve) error {
	active := o.engine.ActiveSlot()
	mixer := o.engine.Mixer(active)
	target := o.engine.TargetVolume()

	o.engine.Fade(mixer, mixer.Volume(), 0, fadeOut, curve, func() bool { return false })
	if err := o.engine.Seek(active, targetTime); err != nil {
		return err
	}
	o.engine.Fade(mixer, 0, target, fadeIn, curve, func() bool { return false })
	return nil
}

// PerformSimpleFadeOut fades the active mixer to 0 without touching the
// inactive slot — used for pause without a paused crossfade.
func (o *Orchestrator) PerformSimpleFadeOut(d time.Duration, curve config.FadeCurve) {
	active := o.engine.ActiveSlot()
	mixer := o.engine.Mixer(active)
	o.engine.Fade(mixer, mixer.Volume(), 0, d, curve, func() bool { return false })
}

// PerformSimpleFadeIn fades the active mixer up to the target volume —
// used for resume without a paused crossfade.
func (o *Orchestrator) PerformSimpleFadeIn(d time.Duration, curve config.FadeCurve) {
	active := o.engine.ActiveSlot()
	mixer := o.engine.Mixer(active)
	target := o.engine.TargetVolume()
	o.engine.Fade(mixer, mixer.Volume(), target, d, curve, func() bool { return false })
}
