package facade

import (
	"context"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/crossfade"
	"ambientplayer/internal/enginecore"
	"ambientplayer/internal/playbackerr"
	"ambientplayer/internal/session"
)

// DefaultFinishFadeOut is finish()'s default fade-out duration.
const DefaultFinishFadeOut = 3 * time.Second

// DefaultSkipInterval is skip()'s default seek interval.
const DefaultSkipInterval = 15 * time.Second

// DefaultSeekFade is seek()'s default fade-out/fade-in duration.
const DefaultSeekFade = 100 * time.Millisecond

const (
	skipFadeStep                  = 300 * time.Millisecond
	defaultReplacementFadeDuration = 500 * time.Millisecond
)

// StartPlaying loads the playlist's current track into the active slot and
// begins playback, optionally fading in over fadeInDuration.
func (f *Facade) StartPlaying(fadeInDuration time.Duration) error {
	return f.submit(priorityNormal, func() error {
		if f.State() == StatePlaying {
			return &playbackerr.InvalidState{Current: f.State().String(), Attempted: "startPlaying"}
		}
		track, ok := f.list.Current()
		if !ok {
			return playbackerr.ErrEmptyPlaylist
		}

		cfg := f.currentConfig()
		if err := f.session.Configure(cfg.AudioSessionMode, session.CategoryPlayback, session.Options{}); err != nil {
			return err
		}
		if cfg.AudioSessionMode == config.SessionManaged {
			f.metrics.SessionActivations.Inc()
		}

		f.setState(StateLoading)
		active := f.engine.ActiveSlot()
		loaded, err := f.engine.LoadIntoSlot(context.Background(), active, track)
		if err != nil {
			f.setFailed(err)
			return err
		}
		f.pinSlot(active, loaded.URI)
		f.engine.SetVolume(cfg.Volume)
		if err := f.engine.ScheduleActive(active, fadeInDuration > 0, fadeInDuration, cfg.FadeCurve); err != nil {
			f.setFailed(err)
			return err
		}

		f.boundaryHandled.Store(false)
		f.trackSub.Set(TrackInfo{Track: loaded, Slot: active})
		f.setState(StatePlaying)
		return nil
	})
}

// Pause captures position and pauses the active slot (or, if a crossfade
// is in flight, requests a paused-crossfade snapshot). Idempotent in
// terminal states.
func (f *Facade) Pause() error { return f.submit(priorityInteractive, f.doPause) }

// Resume resumes from a pause, replaying a paused-crossfade snapshot if
// one exists.
func (f *Facade) Resume() error { return f.submit(priorityNormal, f.doResume) }

// Stop always succeeds: fades out (if fadeOutDuration > 0), stops both
// slots, and transitions to Finished.
func (f *Facade) Stop(fadeOutDuration time.Duration) error {
	return f.submit(priorityInteractive, func() error { return f.doStop(fadeOutDuration) })
}

// Finish requires Playing or Paused; fades out over fadeOutDuration then
// stops.
func (f *Facade) Finish(fadeOutDuration time.Duration) error {
	return f.submit(priorityNormal, func() error {
		if f.State() != StatePlaying && f.State() != StatePaused {
			return &playbackerr.InvalidState{Current: f.State().String(), Attempted: "finish"}
		}
		return f.doStop(fadeOutDuration)
	})
}

// Seek clamps t to the loaded file's length, rolls back any in-flight
// crossfade, and — if currently playing — fades out, seeks, and fades
// back in.
func (f *Facade) Seek(t time.Duration, fadeDuration time.Duration) error {
	return f.submit(priorityInteractive, func() error {
		if f.orch.Phase() != crossfade.PhaseIdle {
			f.orch.RollbackCurrent(fadeDuration)
		}
		active := f.engine.ActiveSlot()
		if f.State() != StatePlaying {
			return f.engine.Seek(active, t)
		}
		return f.orch.PerformFadeSeekFade(t, fadeDuration, fadeDuration, f.currentConfig().FadeCurve)
	})
}

// SkipForward/SkipBackward seek within the current track by interval using
// a fade-seek-fade at 300ms each.
func (f *Facade) SkipForward(interval time.Duration) error { return f.skipWithin(interval) }
func (f *Facade) SkipBackward(interval time.Duration) error { return f.skipWithin(-interval) }

func (f *Facade) skipWithin(delta time.Duration) error {
	return f.submit(priorityHigh, func() error {
		active := f.engine.ActiveSlot()
		target := f.engine.Position(active) + delta
		if target < 0 {
			target = 0
		}
		return f.orch.PerformFadeSeekFade(target, skipFadeStep, skipFadeStep, f.currentConfig().FadeCurve)
	})
}

// SetVolume clamps v to [0,1] and writes it straight to the main mixer.
func (f *Facade) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	f.cfgMu.Lock()
	f.playback.Volume = v
	f.cfgMu.Unlock()
	f.engine.SetVolume(v)
}

// SetRepeatMode changes how the playlist advances at end-of-track.
func (f *Facade) SetRepeatMode(mode config.RepeatMode) {
	f.cfgMu.Lock()
	f.playback.RepeatMode = mode
	f.cfgMu.Unlock()
	f.list.SetRepeatMode(mode)
}

// UpdateConfiguration validates cfg, stops current playback, and installs
// it as the new playback configuration.
func (f *Facade) UpdateConfiguration(cfg config.PlaybackConfig) error {
	if err := cfg.Validate(); err != nil {
		return &playbackerr.InvalidConfiguration{Reason: err.Error()}
	}
	return f.submit(priorityNormal, func() error {
		_ = f.doStop(0)
		f.cfgMu.Lock()
		f.playback = cfg
		f.cfgMu.Unlock()
		f.list.SetRepeatMode(cfg.RepeatMode)
		return nil
	})
}

// LoadPlaylist replaces the playlist's tracks and resets the cursor.
func (f *Facade) LoadPlaylist(tracks []audiofile.Track) error {
	return f.submit(priorityNormal, func() error {
		for _, t := range tracks {
			f.setOverride(t)
		}
		f.list.Load(tracks)
		return nil
	})
}

// ReplacePlaylist installs a new track sequence. If currently playing, it
// crossfades into the new playlist's first track; if a crossfade is
// already in flight, the manual-replacement policy (rollback /
// fast-forward / wait-then-crossfade) is applied first per the fractional
// progress of that crossfade.
func (f *Facade) ReplacePlaylist(tracks []audiofile.Track, crossfadeDuration time.Duration) error {
	return f.submit(priorityNormal, func() error {
		for _, t := range tracks {
			f.setOverride(t)
		}
		if f.State() != StatePlaying {
			f.list.Load(tracks)
			return nil
		}

		if f.orch.Phase() != crossfade.PhaseIdle {
			switch crossfade.ReplacementPolicyFor(f.lastCrossfadeProgress()) {
			case crossfade.PolicyRollback:
				f.orch.RollbackCurrent(defaultReplacementFadeDuration)
			case crossfade.PolicyFastForward:
				f.orch.FastForwardCurrent(defaultReplacementFadeDuration)
			case crossfade.PolicyWaitThenCrossfade:
				time.Sleep(crossfade.WaitThenCrossfadeTimeout)
			}
		}

		f.list.Load(tracks)
		next, ok := f.list.Current()
		if !ok {
			return playbackerr.ErrEmptyPlaylist
		}
		f.boundaryHandled.Store(false)
		return f.crossfadeTo(next, crossfadeDuration)
	})
}

// SkipToNext/SkipToPrevious are rate-limited (0.5s, plus a reentrancy
// guard) and return the peeked track synchronously; the audio transition
// (crossfade, if playing) happens asynchronously.
func (f *Facade) SkipToNext() (audiofile.Track, error) {
	return f.skipDirectional(f.list.PeekNext, f.list.Advance, playbackerr.ErrNoNextTrack)
}

func (f *Facade) SkipToPrevious() (audiofile.Track, error) {
	return f.skipDirectional(f.list.PeekPrevious, f.list.Previous, playbackerr.ErrNoPreviousTrack)
}

func (f *Facade) skipDirectional(peek, advance func() (audiofile.Track, bool), errNoTrack error) (audiofile.Track, error) {
	peeked, ok := peek()
	if !ok {
		return audiofile.Track{}, errNoTrack
	}
	if !f.skipLimiter.Allow() {
		return audiofile.Track{}, playbackerr.ErrRateLimited
	}
	if !f.skipInProgress.CompareAndSwap(false, true) {
		return audiofile.Track{}, playbackerr.ErrRateLimited
	}

	f.submitAsync(priorityHigh, func() {
		defer f.skipInProgress.Store(false)
		next, ok := advance()
		if !ok {
			return
		}
		if f.State() == StatePlaying {
			f.boundaryHandled.Store(false)
			_ = f.crossfadeTo(next, f.currentConfig().CrossfadeDuration)
		}
	})
	return peeked, nil
}

// PeekNextTrack/PeekPreviousTrack report what Advance/Previous would move
// to, without mutating the playlist cursor or touching the audio engine.
func (f *Facade) PeekNextTrack() (audiofile.Track, bool)     { return f.list.PeekNext() }
func (f *Facade) PeekPreviousTrack() (audiofile.Track, bool) { return f.list.PeekPrevious() }

// PlayOverlay loads uri and starts the overlay loop under the current
// overlay configuration.
func (f *Facade) PlayOverlay(ctx context.Context, uri string) error {
	return f.submit(priorityNormal, func() error {
		buf, err := f.loadForEngine(ctx, uri)
		if err != nil {
			return err
		}
		f.cfgMu.Lock()
		cfg := f.overlayCfg
		f.cfgMu.Unlock()
		f.overlayS.Play(buf, cfg)
		return nil
	})
}

func (f *Facade) SetOverlayConfiguration(cfg config.OverlayConfig) {
	f.cfgMu.Lock()
	f.overlayCfg = cfg
	f.cfgMu.Unlock()
}

func (f *Facade) SetOverlayVolume(v float64) {
	f.cfgMu.Lock()
	f.overlayCfg.Volume = v
	f.cfgMu.Unlock()
	f.overlayS.SetVolume(v)
}

func (f *Facade) SetOverlayLoopMode(mode config.LoopMode) {
	f.cfgMu.Lock()
	f.overlayCfg.Loop = mode
	f.cfgMu.Unlock()
}

func (f *Facade) SetOverlayLoopDelay(d time.Duration) {
	f.cfgMu.Lock()
	f.overlayCfg.LoopDelay = d
	f.cfgMu.Unlock()
}

func (f *Facade) StopOverlay(fadeOut time.Duration) { f.overlayS.Stop(fadeOut) }
func (f *Facade) PauseOverlay()                     { f.overlayS.Pause() }
func (f *Facade) ResumeOverlay()                    { f.overlayS.Resume() }

// PlaySoundEffect plays a one-shot effect at the configured SFX master
// volume.
func (f *Facade) PlaySoundEffect(ctx context.Context, effect string, fadeIn time.Duration) error {
	return f.sfxP.Play(ctx, effect, 1.0, fadeIn)
}

func (f *Facade) StopSoundEffect(fadeOut time.Duration) { f.sfxP.Stop(fadeOut) }
func (f *Facade) SetSoundEffectVolume(v float64)        { f.sfxP.SetVolume(v) }

func (f *Facade) PreloadSoundEffects(ctx context.Context, uris ...string) error {
	return f.sfxP.Preload(ctx, uris...)
}

func (f *Facade) UnloadSoundEffects(uris ...string) {
	for _, u := range uris {
		f.sfxP.Unload(u)
	}
}

// PauseAll/ResumeAll/StopAll act on the main stream, the overlay, and SFX
// together, in one queued operation.
func (f *Facade) PauseAll() error {
	return f.submit(priorityInteractive, func() error {
		f.pauseAllLocked()
		return nil
	})
}

func (f *Facade) ResumeAll() error {
	return f.submit(priorityNormal, func() error {
		f.resumeAllLocked()
		return nil
	})
}

func (f *Facade) StopAll(fadeOutDuration time.Duration) error {
	return f.submit(priorityInteractive, func() error {
		err := f.doStop(fadeOutDuration)
		f.overlayS.Stop(fadeOutDuration)
		f.sfxP.Stop(0)
		return err
	})
}

func (f *Facade) pauseAllLocked() {
	_ = f.doPause()
	f.overlayS.Pause()
	f.sfxP.Stop(0)
}

func (f *Facade) resumeAllLocked() {
	_ = f.doResume()
	f.overlayS.Resume()
}

func (f *Facade) doPause() error {
	switch f.State() {
	case StatePaused, StateFinished, StateIdle:
		return nil
	}
	active := f.engine.ActiveSlot()
	if f.orch.Phase() != crossfade.PhaseIdle {
		f.orch.RequestPause()
	} else {
		start := time.Now()
		f.orch.PerformSimpleFadeOut(DefaultSeekFade, f.currentConfig().FadeCurve)
		f.metrics.FadeDuration.Observe(time.Since(start).Seconds())
		_ = f.engine.Pause(active)
	}
	f.setState(StatePaused)
	return nil
}

func (f *Facade) doResume() error {
	if f.State() != StatePaused {
		return nil
	}
	if _, ok := f.orch.Snapshot(); ok {
		go func() {
			_, _, _ = f.orch.ResumeCrossfade(context.Background(), func(p float64) {
				f.setCrossfadeProgress(p)
				f.events.publish(Event{Kind: EventCrossfadeProgress, Progress: p})
			})
		}()
	} else {
		active := f.engine.ActiveSlot()
		_ = f.engine.Play(active)
		start := time.Now()
		f.orch.PerformSimpleFadeIn(DefaultSeekFade, f.currentConfig().FadeCurve)
		f.metrics.FadeDuration.Observe(time.Since(start).Seconds())
	}
	f.setState(StatePlaying)
	return nil
}

func (f *Facade) doStop(fadeOutDuration time.Duration) error {
	if f.orch.Phase() != crossfade.PhaseIdle {
		f.orch.RollbackCurrent(fadeOutDuration)
	} else if fadeOutDuration > 0 && f.State() == StatePlaying {
		f.orch.PerformSimpleFadeOut(fadeOutDuration, f.currentConfig().FadeCurve)
	}
	f.engine.StopAllSlots()
	f.unpinAll()
	f.trackSub.Set(TrackInfo{})
	f.setState(StateFinished)
	return nil
}

// crossfadeTo drives the orchestrator to toTrack and updates facade state
// from its outcome.
func (f *Facade) crossfadeTo(track audiofile.Track, duration time.Duration) error {
	cfg := f.currentConfig()
	start := time.Now()
	outcome, err := f.orch.StartCrossfade(context.Background(), track, duration, cfg.FadeCurve, func(p float64) {
		f.setCrossfadeProgress(p)
		f.events.publish(Event{Kind: EventCrossfadeProgress, Progress: p})
	})
	f.metrics.CrossfadePhaseDuration.WithLabelValues("fading").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	switch outcome {
	case crossfade.Completed:
		active := f.engine.ActiveSlot()
		f.pinSlot(active, track.URI)
		f.trackSub.Set(TrackInfo{Track: track, Slot: active})
		f.setState(StatePlaying)
	case crossfade.Paused:
		f.setState(StatePaused)
	case crossfade.Cancelled:
		// Superseded by a subsequent replacement/rollback; nothing to
		// publish here.
	}
	return nil
}

func (f *Facade) advanceTrack() {
	cfg := f.currentConfig()
	current, haveCurrent := f.list.Current()

	if cfg.RepeatMode == config.RepeatSingleTrack && haveCurrent {
		xfade := cfg.CrossfadeDuration
		if adapted := time.Duration(float64(current.Duration) * 0.4); adapted < xfade {
			xfade = adapted
		}
		f.boundaryHandled.Store(false)
		_ = f.crossfadeTo(current, xfade)
		return
	}

	next, ok := f.list.Advance()
	if !ok {
		_ = f.doStop(0)
		return
	}
	f.boundaryHandled.Store(false)
	_ = f.crossfadeTo(next, cfg.CrossfadeDuration)
}

func (f *Facade) handleTrackBoundary(_ enginecore.Slot, _ uint64) {
	if !f.boundaryHandled.CompareAndSwap(false, true) {
		return
	}
	f.advanceTrack()
}

func (f *Facade) handleTrackBoundaryFallback(_ enginecore.Slot) {
	if !f.boundaryHandled.CompareAndSwap(false, true) {
		return
	}
	f.advanceTrack()
}

func (f *Facade) pinSlot(slot enginecore.Slot, uri string) {
	f.mu.Lock()
	old := f.slotURI[slot]
	f.slotURI[slot] = uri
	f.mu.Unlock()
	if old != "" && old != uri {
		f.cache.Unpin(old)
	}
	if uri != "" {
		f.cache.Pin(uri)
	}
}

func (f *Facade) unpinAll() {
	f.mu.Lock()
	a, b := f.slotURI[enginecore.SlotA], f.slotURI[enginecore.SlotB]
	f.slotURI[enginecore.SlotA], f.slotURI[enginecore.SlotB] = "", ""
	f.mu.Unlock()
	if a != "" {
		f.cache.Unpin(a)
	}
	if b != "" {
		f.cache.Unpin(b)
	}
}

func (f *Facade) setCrossfadeProgress(p float64) {
	f.mu.Lock()
	f.crossfadeProgress = p
	f.mu.Unlock()
}

func (f *Facade) lastCrossfadeProgress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crossfadeProgress
}
