// Package facade implements the Facade Coordinator (C9): the single public
// entry point that serializes every user operation through a bounded,
// priority-ordered queue, wires the cache (C2), session (C3), engine core
// (C4), overlay (C5), SFX (C6), crossfade orchestrator (C7), and playlist
// (C8) components together, and republishes their effects as a small set
// of observable streams.
package facade

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/cache"
	"ambientplayer/internal/config"
	"ambientplayer/internal/crossfade"
	"ambientplayer/internal/enginecore"
	"ambientplayer/internal/host"
	"ambientplayer/internal/metrics"
	"ambientplayer/internal/overlay"
	"ambientplayer/internal/playlist"
	"ambientplayer/internal/session"
	"ambientplayer/internal/sfx"
)

// State is the facade's coarse playback state, the value published on the
// state subject.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TrackInfo is the value published on the track subject: the currently
// loaded track plus its slot, for callers that want to show "now playing."
type TrackInfo struct {
	Track audiofile.Track
	Slot  enginecore.Slot
}

// skipRateLimit is the 0.5s minimum interval spec.md §6 names for
// skipToNext/skipToPrevious.
const skipRateLimit = 500 * time.Millisecond

// queueDepth is the default bounded depth of the AsyncOperationQueue; each
// of the three priority channels gets this capacity.
const queueDepth = 1

type opPriority int

const (
	priorityInteractive opPriority = iota
	priorityHigh
	priorityNormal
)

type operation struct {
	fn   func()
	done chan struct{}
}

// Facade is the Facade Coordinator. Construct with New, call Run in its own
// goroutine, then drive playback through its exported methods.
type Facade struct {
	logger  *log.Logger
	metrics *metrics.Set

	cache    *cache.Cache
	session  *session.Coordinator
	engine   *enginecore.Engine
	orch     *crossfade.Orchestrator
	overlayS *overlay.Scheduler
	sfxP     *sfx.Player
	list     *playlist.Manager

	cfgMu      sync.Mutex
	playback   config.PlaybackConfig
	overlayCfg config.OverlayConfig
	sfxCfg     config.SFXConfig

	overridesMu sync.Mutex
	overrides   map[string]*audiofile.NormalizationTarget

	skipLimiter    *rate.Limiter
	skipInProgress atomic.Bool

	mu                sync.Mutex
	state             State
	failErr           error
	slotURI           [2]string
	boundaryHandled   atomic.Bool // true once the current track's end has already triggered an advance
	crossfadeProgress float64

	stateSub    *subject[State]
	trackSub    *subject[TrackInfo]
	positionSub *subject[time.Duration]
	events      *eventBus

	interactiveCh chan *operation
	highCh        chan *operation
	normalCh      chan *operation
	stopCh        chan struct{}

	positionStop chan struct{}
}

// New wires every component together. graph is the (real or fake) host
// node graph; decoder reads audio files into PCM for the cache. reg
// receives the Prometheus collectors internal/metrics registers; a nil
// reg is fine (the collectors simply go unregistered, as in tests).
func New(graph host.Graph, decoder host.Decoder, cfg config.AppConfig, logger *log.Logger, reg prometheus.Registerer) (*Facade, error) {
	if logger == nil {
		logger = log.Default()
	}

	f := &Facade{
		logger:        logger,
		metrics:       metrics.NewSet(reg),
		playback:      cfg.Playback,
		overlayCfg:    cfg.Overlay,
		sfxCfg:        cfg.SFX,
		overrides:     make(map[string]*audiofile.NormalizationTarget),
		skipLimiter:   rate.NewLimiter(rate.Every(skipRateLimit), 1),
		state:         StateIdle,
		stateSub:      newSubject(StateIdle),
		trackSub:      newSubject(TrackInfo{}),
		positionSub:   newSubject(time.Duration(0)),
		events:        newEventBus(),
		interactiveCh: make(chan *operation, queueDepth),
		highCh:        make(chan *operation, queueDepth),
		normalCh:      make(chan *operation, queueDepth),
		stopCh:        make(chan struct{}),
		positionStop:  make(chan struct{}),
		list:          playlist.New(),
	}
	f.list.SetRepeatMode(cfg.Playback.RepeatMode)

	f.cache = cache.New(decoder, cfg.Cache.MaxEntries, cache.NormalizationPolicy{
		Enabled:     cfg.Cache.Normalize,
		TargetLUFS:  cfg.Cache.TargetLUFS,
		CeilingDBTP: cfg.Cache.CeilingDBTP,
		MaxIters:    cfg.Cache.NormalizeMaxIters,
	}, cfg.Cache.LoadTimeout, f.metrics)

	f.session = session.New(logger)

	f.engine = enginecore.New(graph, f.loadForEngine)
	if err := f.engine.Setup(); err != nil {
		return nil, err
	}

	f.overlayS = overlay.New(f.engine.OverlayPlayer(), f.engine.OverlayMixer(), f.metrics)
	f.sfxP = sfx.New(f.engine.SFXPlayer(), f.engine.SFXMixer(), f.loadForSFX, cfg.SFX, f.metrics)
	f.orch = crossfade.New(f.engine, f.loadForEngine)

	return f, nil
}

// Start brings the underlying host graph's audio I/O online. Call it once,
// before Run, after New has wired every component.
func (f *Facade) Start() error {
	return f.engine.Start()
}

// Run starts the facade's background machinery: the operation dispatcher,
// the natural-end/position-fallback track-boundary watcher, and the
// session-signal relay. It blocks until Stop is called — run it in its own
// goroutine.
func (f *Facade) Run() {
	go f.session.Run()
	go f.watchNaturalEnd()
	go f.watchSessionSignals()
	go f.watchSessionWarnings()
	go f.watchPosition()
	f.dispatchLoop()
}

// Stop ends the facade's background goroutines. Does not stop the engine
// or host graph — call StopAll/engine.Stop separately.
func (f *Facade) Stop() {
	close(f.stopCh)
	close(f.positionStop)
	f.session.Stop()
}

func (f *Facade) dispatchLoop() {
	for {
		select {
		case op := <-f.interactiveCh:
			f.runOp(op)
			continue
		default:
		}
		select {
		case op := <-f.interactiveCh:
			f.runOp(op)
		case op := <-f.highCh:
			f.runOp(op)
		case op := <-f.normalCh:
			f.runOp(op)
		case <-f.stopCh:
			return
		}
	}
}

func (f *Facade) runOp(op *operation) {
	op.fn()
	close(op.done)
}

func (f *Facade) chanFor(p opPriority) chan *operation {
	switch p {
	case priorityInteractive:
		return f.interactiveCh
	case priorityHigh:
		return f.highCh
	default:
		return f.normalCh
	}
}

// submit enqueues fn and blocks until it has run, returning its error.
func (f *Facade) submit(priority opPriority, fn func() error) error {
	var result error
	op := &operation{
		fn:   func() { result = fn() },
		done: make(chan struct{}),
	}
	f.chanFor(priority) <- op
	<-op.done
	return result
}

// submitAsync enqueues fn without waiting for it to run — used by the
// skip operations, which return peek metadata synchronously while the
// audio transition happens in the background.
func (f *Facade) submitAsync(priority opPriority, fn func()) {
	op := &operation{fn: fn, done: make(chan struct{})}
	f.chanFor(priority) <- op
}

// State returns the current playback state.
func (f *Facade) State() State {
	return f.stateSub.Get()
}

// Err returns the error that transitioned the facade to StateFailed, or
// nil if it never has.
func (f *Facade) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

// Subscribe* expose the three observable current-value streams.
func (f *Facade) SubscribeState() <-chan State          { return f.stateSub.Subscribe() }
func (f *Facade) SubscribeTrack() <-chan TrackInfo       { return f.trackSub.Subscribe() }
func (f *Facade) SubscribePosition() <-chan time.Duration { return f.positionSub.Subscribe() }

// Events returns the unbounded file-load/crossfade-progress/session-warning
// event stream (replays the last 10 entries to a new subscriber).
func (f *Facade) Events() <-chan Event { return f.events.Subscribe() }

func (f *Facade) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.stateSub.Set(s)
}

func (f *Facade) setFailed(err error) {
	f.mu.Lock()
	f.state = StateFailed
	f.failErr = err
	f.mu.Unlock()
	f.stateSub.Set(StateFailed)
}

func (f *Facade) loadForEngine(ctx context.Context, uri string) (*audiofile.Buffer, error) {
	f.events.publish(Event{Kind: EventFileLoadStarted, Message: uri})
	buf, err := f.cache.Get(ctx, uri, cache.PriorityImmediate, f.overrideFor(uri))
	if err != nil {
		f.events.publish(Event{Kind: EventFileLoadFailed, Message: err.Error()})
		return nil, err
	}
	f.events.publish(Event{Kind: EventFileLoadCompleted, Message: uri})
	return buf, nil
}

func (f *Facade) loadForSFX(ctx context.Context, uri string) (*audiofile.Buffer, error) {
	return f.cache.Get(ctx, uri, cache.PriorityNormal, f.overrideFor(uri))
}

func (f *Facade) overrideFor(uri string) *audiofile.NormalizationTarget {
	f.overridesMu.Lock()
	defer f.overridesMu.Unlock()
	return f.overrides[uri]
}

func (f *Facade) setOverride(t audiofile.Track) {
	if t.NormalizationOverride == nil {
		return
	}
	f.overridesMu.Lock()
	f.overrides[t.URI] = t.NormalizationOverride
	f.overridesMu.Unlock()
}

func (f *Facade) currentConfig() config.PlaybackConfig {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()
	return f.playback
}

func (f *Facade) watchSessionSignals() {
	sig := f.session.Subscribe()
	for {
		select {
		case <-f.stopCh:
			return
		case s := <-sig:
			switch s {
			case session.SignalPause:
				f.submitAsync(priorityInteractive, f.pauseAllLocked)
			case session.SignalResume:
				f.submitAsync(priorityNormal, f.resumeAllLocked)
			case session.SignalRecover:
				f.submitAsync(priorityInteractive, f.recoverFromMediaServicesReset)
			}
		}
	}
}

// watchSessionWarnings relays session reconfiguration/validation warnings
// onto the event stream and the warnings counter.
func (f *Facade) watchSessionWarnings() {
	warn := f.session.Warnings()
	for {
		select {
		case <-f.stopCh:
			return
		case msg := <-warn:
			f.metrics.SessionWarnings.Inc()
			f.events.publish(Event{Kind: EventSessionWarning, Message: msg})
		}
	}
}

func (f *Facade) watchNaturalEnd() {
	for {
		select {
		case <-f.stopCh:
			return
		case ev := <-f.engine.NaturalEnd():
			ev := ev
			f.submitAsync(priorityNormal, func() { f.handleTrackBoundary(ev.Slot, ev.Generation) })
		}
	}
}

// watchPosition republishes position every 0.5s while playing and is the
// fallback advance mechanism spec.md §4.9 names: if the natural-end event
// never fires (e.g. a host scheduling quirk), reaching duration-0.5s on the
// position timer advances anyway.
func (f *Facade) watchPosition() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.positionStop:
			return
		case <-ticker.C:
			if f.State() != StatePlaying {
				continue
			}
			active := f.engine.ActiveSlot()
			pos := f.engine.Position(active)
			f.positionSub.Set(pos)

			f.mu.Lock()
			uri := f.slotURI[active]
			f.mu.Unlock()
			if uri == "" {
				continue
			}
			track, ok := f.list.Current()
			if !ok || track.Duration <= 0 {
				continue
			}
			if pos >= track.Duration-500*time.Millisecond {
				f.submitAsync(priorityNormal, func() { f.handleTrackBoundaryFallback(active) })
			}
		}
	}
}

func (f *Facade) recoverFromMediaServicesReset() {
	f.logger.Printf("facade: recovering from media services reset")
	active := f.engine.ActiveSlot()
	pos := f.engine.Position(active)
	wasPlaying := f.State() == StatePaused || f.State() == StatePlaying

	if err := f.engine.Start(); err != nil {
		f.setFailed(err)
		return
	}
	if err := f.engine.Seek(active, pos); err != nil {
		f.setFailed(err)
		return
	}
	if wasPlaying {
		_ = f.engine.Play(active)
		f.setState(StatePlaying)
	}
}
