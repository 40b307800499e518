// Package session implements the Session Coordinator (C3): the process-wide
// audio session exposed by the host, in Managed or External mode, plus the
// three asynchronous lifecycle events the host delivers off-band.
//
// Host callbacks are rehomed onto the coordinator's own run loop via a
// buffered channel, grounded on the teacher's WebSocketHub register/
// unregister/broadcast trio (internal/api/websocket.go), adapted from a
// connection hub fanning out to N clients into a single-consumer event
// relay fanning out to N subscribers (facade, metrics, ...).
package session

import (
	"log"
	"sync"
	"time"

	"ambientplayer/internal/config"
	"ambientplayer/internal/playbackerr"
)

// Category mirrors the host's audio session categories.
type Category int

const (
	CategoryPlayback Category = iota
	CategoryPlayAndRecord
	CategoryMultiRoute
)

// Options are the category options passed at configuration time.
type Options struct {
	AllowBluetooth   bool
	DefaultToSpeaker bool
}

// ValidationKind distinguishes a conforming session from one whose active
// category diverges from what the caller expected.
type ValidationKind int

const (
	ValidationValid ValidationKind = iota
	ValidationCategoryChanged
)

// Validation is the sum type spec.md §4.3 describes: either Valid, or
// CategoryChanged carrying both the observed and expected category.
type Validation struct {
	Kind     ValidationKind
	Current  Category
	Expected Category
}

// RouteChangeReason is the host's reported cause for a route change.
type RouteChangeReason int

const (
	RouteReasonOldDeviceUnavailable RouteChangeReason = iota
	RouteReasonNewDeviceAvailable
	RouteReasonOverride
	RouteReasonCategoryChange
)

// Signal is what the coordinator emits to subscribers in response to host
// events — the facade (C9) turns these into pauseAll/resumeAll calls.
type Signal int

const (
	SignalPause Signal = iota
	SignalResume
	SignalRecover
)

const routeChangeDebounce = 300 * time.Millisecond

type eventKind int

const (
	eventInterruptionBegan eventKind = iota
	eventInterruptionEnded
	eventRouteChange
	eventMediaServicesReset
)

type event struct {
	kind          eventKind
	reason        RouteChangeReason
	newCategory   Category
	hasResumeHint bool
	shouldResume  bool
}

// Coordinator is the Session Coordinator. Configure once, call Run in its
// own goroutine, Notify* from host callbacks (any goroutine), and read
// Subscribe()'d channels for pause/resume/recover signals.
type Coordinator struct {
	logger *log.Logger

	mu         sync.Mutex
	mode       config.SessionMode
	category   Category
	opts       Options
	configured bool
	activating bool

	eventCh      chan event
	registerCh   chan chan Signal
	unregisterCh chan chan Signal
	warningCh    chan string
	stopCh       chan struct{}
	subscribers  map[chan Signal]struct{}
}

// New constructs a Coordinator. Call Run before any Notify* calls are
// expected to be observed by subscribers.
func New(logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		logger:       logger,
		eventCh:      make(chan event, 16),
		registerCh:   make(chan chan Signal),
		unregisterCh: make(chan chan Signal),
		warningCh:    make(chan string, 16),
		stopCh:       make(chan struct{}),
		subscribers:  make(map[chan Signal]struct{}),
	}
}

// Run owns all coordinator state; it must run on a single goroutine for the
// lifetime of the session. Stop ends it.
func (c *Coordinator) Run() {
	var debounce *time.Timer
	var pending *event
	for {
		var debounceFired <-chan time.Time
		if debounce != nil {
			debounceFired = debounce.C
		}
		select {
		case e := <-c.eventCh:
			if e.kind == eventRouteChange && (e.reason == RouteReasonNewDeviceAvailable || e.reason == RouteReasonOverride) {
				if debounce != nil {
					debounce.Stop()
				}
				ev := e
				pending = &ev
				debounce = time.NewTimer(routeChangeDebounce)
				continue
			}
			c.handle(e)
		case <-debounceFired:
			if pending != nil {
				c.handle(*pending)
				pending = nil
			}
			debounce = nil
		case ch := <-c.registerCh:
			c.subscribers[ch] = struct{}{}
		case ch := <-c.unregisterCh:
			delete(c.subscribers, ch)
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends Run. Not safe to call concurrently with itself.
func (c *Coordinator) Stop() { close(c.stopCh) }

// Subscribe returns a channel that receives pause/resume/recover signals.
// Callers must drain it; the buffer is small and backpressure is dropped
// rather than blocking the coordinator's run loop.
func (c *Coordinator) Subscribe() <-chan Signal {
	ch := make(chan Signal, 4)
	c.registerCh <- ch
	return ch
}

func (c *Coordinator) Unsubscribe(ch <-chan Signal) {
	for existing := range c.subscribers {
		if existing == ch {
			c.unregisterCh <- existing
			return
		}
	}
}

// Warnings returns a channel of human-readable warnings (reconfiguration
// with different options, the Bluetooth and speaker-default checks in
// External mode, route-change notes) — observability only, never blocking.
// There is no inactive-session check.
func (c *Coordinator) Warnings() <-chan string { return c.warningCh }

// Configure sets up the session per spec.md §4.3. In Managed mode it
// records the category and options once (reentrancy-guarded) and marks the
// session configured; a later call with different options only warns. It
// does not call into the host: no buffer duration or sample rate is applied
// and no activation is made here. In
// External mode it validates the category and option combination and
// returns SessionConfigurationFailed on an incompatible category.
func (c *Coordinator) Configure(mode config.SessionMode, category Category, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = mode
	if mode == config.SessionExternal {
		return c.validateExternalLocked(category, opts)
	}

	if c.configured {
		if c.category != category || c.opts != opts {
			c.warn("session reconfiguration requested with different options; ignoring (first configuration wins)")
		}
		return nil
	}

	if c.activating {
		return nil // reentrancy guard: activation already in flight
	}
	c.activating = true
	defer func() { c.activating = false }()

	c.category = category
	c.opts = opts
	c.configured = true
	// No buffer duration or sample rate is set here; the host adapter gets
	// its rate and buffer size from whoever constructs it.
	return nil
}

func (c *Coordinator) validateExternalLocked(category Category, opts Options) error {
	if category != CategoryPlayback && category != CategoryPlayAndRecord && category != CategoryMultiRoute {
		return &playbackerr.SessionConfigurationFailed{Reason: "category not compatible with external session mode"}
	}
	if !opts.AllowBluetooth {
		c.warn("external session: Bluetooth output not enabled")
	}
	if category == CategoryPlayAndRecord && !opts.DefaultToSpeaker {
		c.warn("external session: PlayAndRecord without default-to-speaker")
	}
	c.category = category
	c.opts = opts
	return nil
}

// Validate reports whether the currently-configured category matches
// expected.
func (c *Coordinator) Validate(expected Category) Validation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.category == expected {
		return Validation{Kind: ValidationValid}
	}
	return Validation{Kind: ValidationCategoryChanged, Current: c.category, Expected: expected}
}

func (c *Coordinator) warn(msg string) {
	c.logger.Printf("session: %s", msg)
	select {
	case c.warningCh <- msg:
	default:
	}
}

// NotifyInterruptionBegan relays the host's "interruption began" callback.
func (c *Coordinator) NotifyInterruptionBegan() {
	c.eventCh <- event{kind: eventInterruptionBegan}
}

// NotifyInterruptionEnded relays "interruption ended". hasResumeHint
// reports whether the host supplied a should-resume flag at all; when it
// did not, the coordinator treats this as a Siri-style pause and does not
// auto-resume.
func (c *Coordinator) NotifyInterruptionEnded(hasResumeHint, shouldResume bool) {
	c.eventCh <- event{kind: eventInterruptionEnded, hasResumeHint: hasResumeHint, shouldResume: shouldResume}
}

// NotifyRouteChange relays a route-change callback with its reason.
// observedCategory is only meaningful for RouteReasonCategoryChange, where
// it is what the host now reports as active.
func (c *Coordinator) NotifyRouteChange(reason RouteChangeReason, observedCategory Category) {
	c.eventCh <- event{kind: eventRouteChange, reason: reason, newCategory: observedCategory}
}

// NotifyMediaServicesReset relays the host's media-services-reset callback.
func (c *Coordinator) NotifyMediaServicesReset() {
	c.eventCh <- event{kind: eventMediaServicesReset}
}

func (c *Coordinator) handle(e event) {
	switch e.kind {
	case eventInterruptionBegan:
		c.broadcast(SignalPause)
	case eventInterruptionEnded:
		if e.hasResumeHint && e.shouldResume {
			c.broadcast(SignalResume)
		}
	case eventRouteChange:
		switch e.reason {
		case RouteReasonOldDeviceUnavailable:
			c.broadcast(SignalPause)
		case RouteReasonCategoryChange:
			c.mu.Lock()
			expected := c.category
			if expected != e.newCategory {
				c.category = e.newCategory
			}
			c.mu.Unlock()
			if expected != e.newCategory {
				c.broadcast(SignalPause)
				c.warn("route change: category change invalidated the session")
			}
		case RouteReasonNewDeviceAvailable, RouteReasonOverride:
			// Debounced delivery already happened in Run; nothing further
			// to signal beyond the warning trail.
			c.warn("route change settled after debounce")
		}
	case eventMediaServicesReset:
		c.broadcast(SignalRecover)
	}
}

func (c *Coordinator) broadcast(sig Signal) {
	for ch := range c.subscribers {
		select {
		case ch <- sig:
		default:
		}
	}
}
