package enginecore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ambientplayer/internal/config"
	"ambientplayer/internal/fadecurve"
	"ambientplayer/internal/playbackerr"
)

// safetyFadeDuration is the click-elimination fade stopInactive applies
// before tearing a player down.
const safetyFadeDuration = 20 * time.Millisecond

// PrepareInactive schedules the already-loaded file on the slot opposite
// activeSlot, at volume 0, without starting playback.
func (e *Engine) PrepareInactive() (Slot, error) {
	active := e.ActiveSlot()
	inactive := active.Other()
	s := e.slot(inactive)

	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf == nil {
		return inactive, &playbackerr.EngineStartFailed{Reason: "prepareInactive: no buffer loaded on inactive slot"}
	}

	s.mu.Lock()
	s.offsetFrames = 0
	gen := atomic.AddUint64(&s.generation, 1)
	s.mu.Unlock()

	s.mixer.SetVolume(0)
	if err := s.player.ScheduleFile(buf, e.completionFor(inactive, gen)); err != nil {
		return inactive, err
	}
	return inactive, nil
}

// ExecuteCrossfade starts the inactive player and steps both mixers over
// duration: active by curve's inverse, inactive by curve itself, scaled to
// the engine's target volume. progress, if non-nil, receives each step's
// p ∈ (0,1]. Returns nil once the loop completes normally (active=0,
// inactive=target) — the caller (C7) is then expected to call
// SwitchActive. A cancelled ctx returns ctx.Err() immediately, leaving both
// mixers at whatever value the last completed step wrote.
//
// host.PlayerNode has no scheduled/delayed-start primitive — Play() begins
// rendering on its next buffer, there is no way to pin that start to a
// specific sample offset on another node's clock. So the two players start
// within one host buffer callback of each other rather than perfectly
// phase-locked; this is the spec's C4 synced-start requirement as closely
// as the host contract allows.
func (e *Engine) ExecuteCrossfade(ctx context.Context, duration time.Duration, curve config.FadeCurve, progress func(p float64)) error {
	active := e.ActiveSlot()
	inactive := active.Other()
	activeMixer := e.slot(active).mixer
	inactiveMixer := e.slot(inactive).mixer
	inactivePlayer := e.slot(inactive).player

	atomic.StoreInt32(&e.crossfadeActive, 1)
	defer atomic.StoreInt32(&e.crossfadeActive, 0)

	e.slot(inactive).mu.Lock()
	e.slot(inactive).playing = true
	e.slot(inactive).mu.Unlock()
	if err := inactivePlayer.Play(); err != nil {
		return err
	}

	target := e.TargetVolume()
	steps := fadecurve.StepCount(duration)
	interval := fadecurve.StepInterval(duration)

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p := float64(i) / float64(steps)
		activeMixer.SetVolume(fadecurve.Inverse(curve, p) * target)
		inactiveMixer.SetVolume(fadecurve.Evaluate(curve, p) * target)
		if progress != nil {
			progress(p)
		}
		if i < steps {
			time.Sleep(interval)
		}
	}

	activeMixer.SetVolume(0)
	inactiveMixer.SetVolume(target)
	return nil
}

// SwitchActive flips which slot is logically active. It does not touch
// volumes or player state — callers run it after ExecuteCrossfade or
// FastForward complete.
func (e *Engine) SwitchActive() {
	e.mu.Lock()
	e.activeSlot = e.activeSlot.Other()
	e.mu.Unlock()
}

// Rollback cancels the in-flight fade (the caller must stop feeding
// ExecuteCrossfade before calling this) and runs two parallel linear fades
// bringing active back to target and inactive down to 0 over dur, then
// stops the inactive player. Returns the active mixer's volume as observed
// before the rollback fades began.
func (e *Engine) Rollback(dur time.Duration) float64 {
	active := e.ActiveSlot()
	inactive := active.Other()
	activeMixer := e.slot(active).mixer
	inactiveMixer := e.slot(inactive).mixer
	target := e.TargetVolume()

	preRollback := activeMixer.Volume()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.Fade(activeMixer, preRollback, target, dur, config.CurveLinear, neverCancel)
	}()
	go func() {
		defer wg.Done()
		e.Fade(inactiveMixer, inactiveMixer.Volume(), 0, dur, config.CurveLinear, neverCancel)
	}()
	wg.Wait()

	e.stopSlot(inactive)
	atomic.StoreInt32(&e.crossfadeActive, 0)
	return preRollback
}

// FastForward cancels the in-flight fade and runs parallel fades
// (active→0, inactive→target) over dur, then switches which slot is
// active. The caller is expected to follow with StopInactive for what is
// now the inactive slot.
func (e *Engine) FastForward(dur time.Duration) {
	active := e.ActiveSlot()
	inactive := active.Other()
	activeMixer := e.slot(active).mixer
	inactiveMixer := e.slot(inactive).mixer
	target := e.TargetVolume()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.Fade(activeMixer, activeMixer.Volume(), 0, dur, config.CurveLinear, neverCancel)
	}()
	go func() {
		defer wg.Done()
		e.Fade(inactiveMixer, inactiveMixer.Volume(), target, dur, config.CurveLinear, neverCancel)
	}()
	wg.Wait()

	e.SwitchActive()
	atomic.StoreInt32(&e.crossfadeActive, 0)
}

// StopInactive runs a 20ms linear safety fade to 0 on the current inactive
// slot (click elimination), then stops, resets, and zeroes its volume and
// offset.
func (e *Engine) StopInactive() {
	inactive := e.ActiveSlot().Other()
	e.stopSlot(inactive)
}

// StopAllSlots hard-stops both slots (20ms safety fade, player stop, offset
// and generation reset) without touching the host graph itself — used by
// the facade's stop()/finish() operations, which tear down playback but
// leave the graph running for a subsequent startPlaying.
func (e *Engine) StopAllSlots() {
	e.stopSlot(SlotA)
	e.stopSlot(SlotB)
}

func (e *Engine) stopSlot(slot Slot) {
	s := e.slot(slot)
	e.Fade(s.mixer, s.mixer.Volume(), 0, safetyFadeDuration, config.CurveLinear, neverCancel)
	_ = s.player.Stop()
	s.mu.Lock()
	s.offsetFrames = 0
	s.playing = false
	atomic.AddUint64(&s.generation, 1)
	s.mu.Unlock()
	s.mixer.SetVolume(0)
}

func neverCancel() bool { return false }
