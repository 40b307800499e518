// Package overlay implements the Overlay Scheduler (C5): an independent,
// typically-looping secondary audio layer run by its own cooperative loop
// goroutine, grounded on the teacher's internal/game/engine.go Engine.Run
// ticker+stopChan shape, generalized from a fixed-tick game loop into a
// variable-wait iterate/schedule/await-completion/sleep loop.
package overlay

import (
	"sync"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/fadecurve"
	"ambientplayer/internal/host"
	"ambientplayer/internal/metrics"
)

// State is the overlay's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePlaying
	StatePaused
	StateStopping
)

// bufferDrainGuard is the hardware-buffer-drain sleep between a buffer's
// completion and scheduling the next loop iteration.
const bufferDrainGuard = 600 * time.Millisecond

// Scheduler runs the overlay loop. Construct with New, Play to start a
// loop over buf, Stop to end it.
type Scheduler struct {
	player  host.PlayerNode
	mixer   host.MixerNode
	metrics *metrics.Set

	mu     sync.Mutex
	state  State
	cfg    config.OverlayConfig
	cancel chan struct{}
	done   chan struct{}
	paused bool
}

// New builds a Scheduler bound to the overlay's dedicated player/mixer
// nodes (handed off once at engine setup and never shared, per spec.md §9).
// m may be nil.
func New(player host.PlayerNode, mixer host.MixerNode, m *metrics.Set) *Scheduler {
	return &Scheduler{player: player, mixer: mixer, metrics: m, state: StateIdle}
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play starts looping buf under cfg. A previous loop, if running, is
// stopped first.
func (s *Scheduler) Play(buf *audiofile.Buffer, cfg config.OverlayConfig) {
	s.Stop(0)

	s.mu.Lock()
	s.cfg = cfg
	s.state = StatePreparing
	s.cancel = make(chan struct{})
	s.done = make(chan struct{})
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	go s.run(buf, cfg, cancel, done)
}

func (s *Scheduler) run(buf *audiofile.Buffer, cfg config.OverlayConfig, cancel, done chan struct{}) {
	defer close(done)
	s.setState(StatePlaying)

	for i := 0; shouldContinue(cfg.Loop, i) && s.State() == StatePlaying; i++ {
		if cancelled(cancel) {
			return
		}
		if s.metrics != nil {
			s.metrics.OverlayIterations.Inc()
		}

		if cfg.FadeInDuration > 0 {
			if !s.fade(0, cfg.Volume, cfg.FadeInDuration, cfg.FadeCurve, cancel) {
				return
			}
		} else if i == 0 {
			s.mixer.SetVolume(cfg.Volume)
		}

		completion := make(chan struct{}, 1)
		if err := s.player.ScheduleBuffer(buf, func() {
			select {
			case completion <- struct{}{}:
			default:
			}
		}); err != nil {
			return
		}
		if err := s.player.Play(); err != nil {
			return
		}

		select {
		case <-completion:
		case <-cancel:
			return
		}

		select {
		case <-time.After(bufferDrainGuard):
		case <-cancel:
			return
		}

		if cfg.FadeOutDuration > 0 {
			if !s.fade(cfg.Volume, 0, cfg.FadeOutDuration, cfg.FadeCurve, cancel) {
				return
			}
		}

		if shouldContinue(cfg.Loop, i+1) && cfg.LoopDelay > 0 {
			select {
			case <-time.After(cfg.LoopDelay):
			case <-cancel:
				return
			}
		}
	}

	s.setState(StateIdle)
}

func (s *Scheduler) fade(from, to float64, duration time.Duration, curve config.FadeCurve, cancel chan struct{}) bool {
	steps := fadecurve.StepCount(duration)
	interval := fadecurve.StepInterval(duration)
	for i := 1; i <= steps; i++ {
		if cancelled(cancel) {
			return false
		}
		p := float64(i) / float64(steps)
		s.mixer.SetVolume(from + (to-from)*fadecurve.Evaluate(curve, p))
		if i < steps {
			select {
			case <-time.After(interval):
			case <-cancel:
				return false
			}
		}
	}
	if cancelled(cancel) {
		return false
	}
	s.mixer.SetVolume(to)
	return true
}

// Pause pauses the underlying player node without cancelling the loop task.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.state == StatePlaying {
		s.state = StatePaused
		s.paused = true
	}
	s.mu.Unlock()
	s.player.Pause()
}

// Resume resumes a paused overlay.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.paused {
		s.state = StatePlaying
		s.paused = false
	}
	s.mu.Unlock()
	s.player.Play()
}

// Stop transitions to Stopping, cancels the loop task, optionally fades out
// from the current mixer volume, then stops and resets the player.
func (s *Scheduler) Stop(fadeOut time.Duration) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		close(cancel)
	}
	if done != nil {
		<-done
	}

	if fadeOut > 0 {
		s.fade(s.mixer.Volume(), 0, fadeOut, config.CurveLinear, make(chan struct{}))
	}
	s.player.Stop()
	s.mixer.SetVolume(0)
	s.setState(StateIdle)
}

// ReplaceFile performs a 1s fade-out, swaps in newBuf, and re-enters the
// loop cycle under the same configuration.
func (s *Scheduler) ReplaceFile(newBuf *audiofile.Buffer) {
	cfg := s.currentConfig()
	s.fade(s.mixer.Volume(), 0, time.Second, config.CurveLinear, make(chan struct{}))
	s.Play(newBuf, cfg)
}

// SetVolume updates the configured target volume and, while the overlay is
// playing, writes it to the mixer immediately (a fade in progress then
// continues from its own step values). A running loop keeps the volume it
// was started with for its own fades.
func (s *Scheduler) SetVolume(v float64) {
	s.mu.Lock()
	s.cfg.Volume = v
	playing := s.state == StatePlaying
	s.mu.Unlock()
	if playing {
		s.mixer.SetVolume(v)
	}
}

func (s *Scheduler) currentConfig() config.OverlayConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func shouldContinue(loop config.LoopMode, i int) bool {
	switch loop.Kind {
	case config.LoopOnce:
		return i < 1
	case config.LoopCount:
		return i < loop.Count
	default:
		return true
	}
}

func cancelled(cancel chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
