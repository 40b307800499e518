// Package sfx implements the SFX Player (C6): a single-channel one-shot
// layer backed by an LRU-cached set of decoded effect buffers, grounded on
// the teacher's internal/streaming/audio.go AudioMixer.activeSounds
// mixing, generalized from "mix N concurrent buffers" down to "at most one
// active effect, stoppable and fadeable" per spec.md §4.6.
package sfx

import (
	"container/list"
	"context"
	"sync"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/fadecurve"
	"ambientplayer/internal/host"
	"ambientplayer/internal/metrics"
)

// Loader resolves an effect name/URI to a decoded buffer, normally the
// shared cache's Get method.
type Loader func(ctx context.Context, uri string) (*audiofile.Buffer, error)

type cacheEntry struct {
	uri     string
	buf     *audiofile.Buffer
	element *list.Element
}

// Player is the SFX Player.
type Player struct {
	player  host.PlayerNode
	mixer   host.MixerNode
	loader  Loader
	metrics *metrics.Set

	mu           sync.Mutex
	masterVolume float64
	cacheSize    int
	entries      map[string]*cacheEntry
	lru          *list.List

	activeURI    string
	activeCancel chan struct{}
	activeDone   chan struct{}
}

// New builds an SFX Player bound to its dedicated player/mixer nodes. m may
// be nil.
func New(player host.PlayerNode, mixer host.MixerNode, loader Loader, cfg config.SFXConfig, m *metrics.Set) *Player {
	size := cfg.CacheSize
	if size <= 0 {
		size = 10
	}
	return &Player{
		player:       player,
		mixer:        mixer,
		loader:       loader,
		metrics:      m,
		masterVolume: cfg.Volume,
		cacheSize:    size,
		entries:      make(map[string]*cacheEntry),
		lru:          list.New(),
	}
}

// Preload loads and caches effects without playing them.
func (p *Player) Preload(ctx context.Context, uris ...string) error {
	for _, uri := range uris {
		if _, err := p.resolve(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}

// Unload evicts uri from the cache, stopping it first if it is the
// currently active effect.
func (p *Player) Unload(uri string) {
	p.mu.Lock()
	if p.activeURI == uri {
		p.mu.Unlock()
		p.Stop(0)
		p.mu.Lock()
	}
	if e, ok := p.entries[uri]; ok {
		p.lru.Remove(e.element)
		delete(p.entries, uri)
	}
	p.mu.Unlock()
}

// Play stops any currently active effect and plays uri at intrinsicVolume
// (the effect's own level) times the master volume, optionally fading in
// over fadeIn.
func (p *Player) Play(ctx context.Context, uri string, intrinsicVolume float64, fadeIn time.Duration) error {
	p.Stop(0)

	buf, err := p.resolve(ctx, uri)
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.SFXPlays.Inc()
	}

	target := intrinsicVolume * p.MasterVolume()

	p.mu.Lock()
	p.activeURI = uri
	cancel := make(chan struct{})
	done := make(chan struct{})
	p.activeCancel = cancel
	p.activeDone = done
	p.mu.Unlock()

	if fadeIn > 0 {
		p.mixer.SetVolume(0)
	} else {
		p.mixer.SetVolume(target)
	}

	completed := make(chan struct{}, 1)
	if err := p.player.ScheduleBuffer(buf, func() {
		select {
		case completed <- struct{}{}:
		default:
		}
	}); err != nil {
		close(done)
		return err
	}
	if err := p.player.Play(); err != nil {
		close(done)
		return err
	}

	go func() {
		defer close(done)
		if fadeIn > 0 {
			fadeSteps(p.mixer, 0, target, fadeIn, config.CurveLinear, cancel)
		}
		select {
		case <-completed:
			p.mu.Lock()
			if p.activeURI == uri {
				p.activeURI = ""
			}
			p.mu.Unlock()
		case <-cancel:
		}
	}()
	return nil
}

// Stop executes a linear fade-out (if fadeOut > 0) then stops the active
// effect. A no-op if nothing is active.
func (p *Player) Stop(fadeOut time.Duration) {
	p.mu.Lock()
	cancel := p.activeCancel
	done := p.activeDone
	p.activeURI = ""
	p.activeCancel = nil
	p.activeDone = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	close(cancel)
	<-done

	if fadeOut > 0 {
		fadeSteps(p.mixer, p.mixer.Volume(), 0, fadeOut, config.CurveLinear, make(chan struct{}))
	}
	p.player.Stop()
	p.mixer.SetVolume(0)
}

// SetVolume sets the master volume multiplier applied to every effect's
// intrinsic volume.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	p.masterVolume = v
	p.mu.Unlock()
}

// MasterVolume returns the current master volume multiplier.
func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.masterVolume
}

func (p *Player) resolve(ctx context.Context, uri string) (*audiofile.Buffer, error) {
	p.mu.Lock()
	if e, ok := p.entries[uri]; ok {
		p.lru.MoveToFront(e.element)
		buf := e.buf
		p.mu.Unlock()
		return buf, nil
	}
	p.mu.Unlock()

	buf, err := p.loader(ctx, uri)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	e := &cacheEntry{uri: uri, buf: buf}
	e.element = p.lru.PushFront(e)
	p.entries[uri] = e
	for len(p.entries) > p.cacheSize {
		victim := p.findEvictionCandidateLocked()
		if victim == nil {
			break // everything left is the active effect
		}
		p.lru.Remove(victim.element)
		delete(p.entries, victim.uri)
	}
	p.mu.Unlock()
	return buf, nil
}

func (p *Player) findEvictionCandidateLocked() *cacheEntry {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*cacheEntry)
		if e.uri != p.activeURI {
			return e
		}
	}
	return nil
}

func fadeSteps(mixer host.MixerNode, from, to float64, duration time.Duration, curve config.FadeCurve, cancel chan struct{}) {
	steps := fadecurve.StepCount(duration)
	interval := fadecurve.StepInterval(duration)
	for i := 1; i <= steps; i++ {
		select {
		case <-cancel:
			return
		default:
		}
		p := float64(i) / float64(steps)
		mixer.SetVolume(from + (to-from)*fadecurve.Evaluate(curve, p))
		if i < steps {
			select {
			case <-time.After(interval):
			case <-cancel:
				return
			}
		}
	}
	select {
	case <-cancel:
	default:
		mixer.SetVolume(to)
	}
}
