// Package enginecore implements Engine Core (C4): the node graph of two
// gapless player slots (A/B), an overlay player, and an SFX player, each
// behind its own mixer feeding the main mixer, plus the primitives the
// Crossfade Orchestrator (C7) drives to move between slots.
//
// Every exported method is meant to be called from the single goroutine
// that owns playback state (the facade's serialized operation queue, C9) —
// the generation-token bookkeeping here guards against stale completions
// racing in from the host's render thread, not against concurrent callers.
package enginecore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/fadecurve"
	"ambientplayer/internal/host"
	"ambientplayer/internal/playbackerr"
)

// Slot identifies one of the two gapless player slots.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// CompletionEvent is yielded on the natural-end stream when a slot's
// scheduled file finishes playing on its own (not via seek/stop/crossfade).
type CompletionEvent struct {
	Slot       Slot
	Generation uint64
}

// BufferLoader resolves a track URI to a decoded buffer — Engine Core stays
// ignorant of the cache (C2); the facade wires cache.Get in here.
type BufferLoader func(ctx context.Context, uri string) (*audiofile.Buffer, error)

type slotState struct {
	mu           sync.Mutex
	track        audiofile.Track
	buf          *audiofile.Buffer
	player       host.PlayerNode
	mixer        host.MixerNode
	generation   uint64
	offsetFrames int64
	playing      bool
}

// Engine is Engine Core. Call Setup once after construction, then Start
// before scheduling anything.
type Engine struct {
	graph  host.Graph
	loader BufferLoader

	slots        [2]*slotState
	overlayPlay  host.PlayerNode
	overlayMixer host.MixerNode
	sfxPlayer    host.PlayerNode
	sfxMixer     host.MixerNode
	mainMixer    host.MixerNode

	mu              sync.Mutex
	activeSlot      Slot
	targetVolume    float64
	crossfadeActive int32 // atomic bool

	naturalEnd chan CompletionEvent
}

// New constructs an Engine bound to graph. loader resolves track URIs into
// decoded buffers for loadIntoSlot.
func New(graph host.Graph, loader BufferLoader) *Engine {
	return &Engine{
		graph:        graph,
		loader:       loader,
		targetVolume: 1.0,
		naturalEnd:   make(chan CompletionEvent, 8),
	}
}

// NaturalEnd returns the stream of slot-completion events for tracks that
// played to the end under their current generation.
func (e *Engine) NaturalEnd() <-chan CompletionEvent { return e.naturalEnd }

// Setup attaches and connects every node in the graph and sets the initial
// volumes spec.md §4.4 names: A, B, and overlay muted, main at unity.
func (e *Engine) Setup() error {
	main := e.graph.MainMixer()
	e.mainMixer = main

	for i := range e.slots {
		player, err := e.graph.CreatePlayerNode()
		if err != nil {
			return &playbackerr.EngineStartFailed{Reason: "create slot player: " + err.Error()}
		}
		mixer, err := e.graph.CreateMixerNode()
		if err != nil {
			return &playbackerr.EngineStartFailed{Reason: "create slot mixer: " + err.Error()}
		}
		if err := e.attachConnect(player, mixer, main); err != nil {
			return err
		}
		mixer.SetVolume(0)
		e.slots[i] = &slotState{player: player, mixer: mixer}
	}

	overlayPlayer, err := e.graph.CreatePlayerNode()
	if err != nil {
		return &playbackerr.EngineStartFailed{Reason: "create overlay player: " + err.Error()}
	}
	overlayMixer, err := e.graph.CreateMixerNode()
	if err != nil {
		return &playbackerr.EngineStartFailed{Reason: "create overlay mixer: " + err.Error()}
	}
	if err := e.attachConnect(overlayPlayer, overlayMixer, main); err != nil {
		return err
	}
	overlayMixer.SetVolume(0)
	e.overlayPlay, e.overlayMixer = overlayPlayer, overlayMixer

	sfxPlayer, err := e.graph.CreatePlayerNode()
	if err != nil {
		return &playbackerr.EngineStartFailed{Reason: "create sfx player: " + err.Error()}
	}
	sfxMixer, err := e.graph.CreateMixerNode()
	if err != nil {
		return &playbackerr.EngineStartFailed{Reason: "create sfx mixer: " + err.Error()}
	}
	if err := e.attachConnect(sfxPlayer, sfxMixer, main); err != nil {
		return err
	}
	e.sfxPlayer, e.sfxMixer = sfxPlayer, sfxMixer

	main.SetVolume(1.0)
	return nil
}

func (e *Engine) attachConnect(player host.PlayerNode, mixer host.MixerNode, main host.MixerNode) error {
	if err := e.graph.Attach(player); err != nil {
		return err
	}
	if err := e.graph.Attach(mixer); err != nil {
		return err
	}
	if err := e.graph.Connect(player, mixer); err != nil {
		return err
	}
	if err := e.graph.Connect(mixer, main); err != nil {
		return err
	}
	return nil
}

// Start starts the underlying host graph.
func (e *Engine) Start() error { return e.graph.Start() }

// Stop increments both slot generations (invalidating any in-flight
// completion callbacks) and then stops both players.
func (e *Engine) Stop() error {
	for _, s := range e.slots {
		s.mu.Lock()
		atomic.AddUint64(&s.generation, 1)
		s.mu.Unlock()
	}
	for _, s := range e.slots {
		_ = s.player.Stop()
	}
	return e.graph.Stop()
}

// OverlayPlayer/OverlayMixer/SFXPlayer/SFXMixer expose the dedicated layer
// nodes for the overlay scheduler (C5) and SFX player (C6).
func (e *Engine) OverlayPlayer() host.PlayerNode { return e.overlayPlay }
func (e *Engine) OverlayMixer() host.MixerNode   { return e.overlayMixer }
func (e *Engine) SFXPlayer() host.PlayerNode     { return e.sfxPlayer }
func (e *Engine) SFXMixer() host.MixerNode       { return e.sfxMixer }

func (e *Engine) slot(s Slot) *slotState { return e.slots[s] }

// ActiveSlot reports which slot is currently the gapless-playback head.
func (e *Engine) ActiveSlot() Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSlot
}

// LoadIntoSlot loads track's audio into slot via the cache-backed loader,
// returning the track enriched with its decoded duration/format.
func (e *Engine) LoadIntoSlot(ctx context.Context, slot Slot, track audiofile.Track) (audiofile.Track, error) {
	buf, err := e.loader(ctx, track.URI)
	if err != nil {
		return track, err
	}
	loaded := track.WithFormat(buf.Duration(), buf.SampleRate, buf.Channels, true)

	s := e.slot(slot)
	s.mu.Lock()
	s.track = loaded
	s.buf = buf
	s.offsetFrames = 0
	s.mu.Unlock()
	return loaded, nil
}

// ScheduleActive resets the slot's offset to 0, schedules its full buffer,
// begins playback, and optionally runs a 0→target fade-in over duration.
func (e *Engine) ScheduleActive(slot Slot, fadeIn bool, duration time.Duration, curve config.FadeCurve) error {
	s := e.slot(slot)
	s.mu.Lock()
	buf := s.buf
	s.offsetFrames = 0
	gen := atomic.AddUint64(&s.generation, 1)
	s.mu.Unlock()
	if buf == nil {
		return &playbackerr.EngineStartFailed{Reason: "scheduleActive: slot has no loaded buffer"}
	}

	if err := s.player.ScheduleFile(buf, e.completionFor(slot, gen)); err != nil {
		return err
	}
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	if err := s.player.Play(); err != nil {
		return err
	}

	if fadeIn {
		target := e.TargetVolume()
		go e.Fade(s.mixer, 0, target, duration, curve, func() bool { return atomic.LoadUint64(&s.generation) != gen })
	}
	return nil
}

func (e *Engine) completionFor(slot Slot, gen uint64) func() {
	return func() {
		s := e.slot(slot)
		if atomic.LoadUint64(&s.generation) != gen {
			return // stale: superseded by seek/stop/crossfade since this was scheduled
		}
		select {
		case e.naturalEnd <- CompletionEvent{Slot: slot, Generation: gen}:
		default:
		}
	}
}

// Seek clamps t to the loaded file's length, stops the active player, and
// reschedules from the clamped offset through EOF.
func (e *Engine) Seek(slot Slot, t time.Duration) error {
	s := e.slot(slot)
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf == nil {
		return &playbackerr.EngineStartFailed{Reason: "seek: slot has no loaded buffer"}
	}

	clamped := t
	if clamped < 0 {
		clamped = 0
	}
	if max := buf.Duration(); clamped > max {
		clamped = max
	}
	startFrame := int(clamped.Seconds() * float64(buf.SampleRate))

	if err := s.player.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.offsetFrames = int64(startFrame)
	gen := atomic.AddUint64(&s.generation, 1)
	s.mu.Unlock()

	if err := s.player.ScheduleSegment(buf, startFrame, e.completionFor(slot, gen)); err != nil {
		return err
	}
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	return s.player.Play()
}

// Pause captures the slot's current render position into its offset (so a
// subsequent Play resumes from there) and pauses the player node.
func (e *Engine) Pause(slot Slot) error {
	s := e.slot(slot)
	s.mu.Lock()
	if s.buf != nil {
		rendered := s.player.LastRenderTime()
		s.offsetFrames += rendered
	}
	s.playing = false
	s.mu.Unlock()
	return s.player.Pause()
}

// Play resumes a paused slot, rescheduling from its captured offset.
func (e *Engine) Play(slot Slot) error {
	s := e.slot(slot)
	s.mu.Lock()
	buf := s.buf
	offset := s.offsetFrames
	s.mu.Unlock()
	if buf == nil {
		return &playbackerr.EngineStartFailed{Reason: "play: slot has no loaded buffer"}
	}

	s.mu.Lock()
	gen := atomic.AddUint64(&s.generation, 1)
	s.mu.Unlock()
	if err := s.player.ScheduleSegment(buf, int(offset), e.completionFor(slot, gen)); err != nil {
		return err
	}
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	return s.player.Play()
}

// Fade adaptively steps mixer's volume from "from" to "to" over duration,
// checking cancelled before every write and always writing the exact
// target value on a non-cancelled completion.
func (e *Engine) Fade(mixer host.MixerNode, from, to float64, duration time.Duration, curve config.FadeCurve, cancelled func() bool) {
	if duration <= 0 {
		if !cancelled() {
			mixer.SetVolume(to)
		}
		return
	}
	steps := fadecurve.StepCount(duration)
	interval := fadecurve.StepInterval(duration)
	for i := 1; i <= steps; i++ {
		if cancelled() {
			return
		}
		p := float64(i) / float64(steps)
		v := from + (to-from)*fadecurve.Evaluate(curve, p)
		mixer.SetVolume(v)
		if i < steps {
			time.Sleep(interval)
		}
	}
	if !cancelled() {
		mixer.SetVolume(to)
	}
}

// SetVolume clamps v to [0,1], stores it as the target, updates the main
// mixer immediately, and updates the active slot's mixer too unless a
// crossfade is in progress (which owns both mixers' volumes).
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.targetVolume = v
	active := e.activeSlot
	crossfading := atomic.LoadInt32(&e.crossfadeActive) != 0
	e.mu.Unlock()

	e.mainMixer.SetVolume(v)
	if !crossfading {
		e.slot(active).mixer.SetVolume(v)
	}
}

// TargetVolume returns the last volume set via SetVolume.
func (e *Engine) TargetVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetVolume
}

// Mixer exposes a slot's mixer node, for the crossfade orchestrator's
// pause-snapshot bookkeeping.
func (e *Engine) Mixer(slot Slot) host.MixerNode { return e.slot(slot).mixer }

// PlayerNode exposes a slot's underlying player node. Production code has
// little use for it beyond Mixer's diagnostic role; fakehost-backed tests
// use it to drive render time forward and simulate natural completion.
func (e *Engine) PlayerNode(slot Slot) host.PlayerNode { return e.slot(slot).player }

// Position returns the slot's current playback position given its paused
// state: offset alone while paused, offset plus rendered-since-schedule
// while playing. File and engine sample rates can differ when a file was
// resampled on load.
func (e *Engine) Position(slot Slot) time.Duration {
	s := e.slot(slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0
	}
	base := framesToDuration(s.offsetFrames, s.buf.SampleRate)
	if !s.playing {
		return base
	}
	rendered := s.player.LastRenderTime()
	return base + framesToDuration(rendered, e.graph.SampleRate())
}

func framesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
