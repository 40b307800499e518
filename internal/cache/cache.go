// Package cache implements the Audio File Cache (C2): a content-addressed
// store of decoded PCM buffers, keyed by URI, with per-key load coalescing,
// count-bounded LRU eviction, and pinning of entries referenced by a
// playing slot or the overlay.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/dsp"
	"ambientplayer/internal/host"
	"ambientplayer/internal/metrics"
	"ambientplayer/internal/playbackerr"
)

// Priority is the urgency a caller states to Get. The cache does not act
// on it: loads are neither queued nor reordered by priority, and concurrent
// Gets for one uri share a single load whatever their priorities.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityNormal
	PriorityImmediate
)

// NormalizationPolicy configures whether, and to what target, Get
// normalizes a freshly-decoded buffer.
type NormalizationPolicy struct {
	Enabled     bool
	TargetLUFS  float64
	CeilingDBTP float64
	MaxIters    int
}

type entry struct {
	uri     string
	buf     *audiofile.Buffer
	pins    int
	element *list.Element // position in lru
}

// Cache is the Audio File Cache. It is safe for concurrent use.
type Cache struct {
	decoder     host.Decoder
	normalize   NormalizationPolicy
	maxEntries  int
	loadTimeout time.Duration
	metrics     *metrics.Set

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used

	group singleflight.Group
}

// New builds a Cache. decoder performs the actual file→PCM read (see
// host.Decoder); maxEntries bounds the unpinned population. m may be nil,
// in which case hit/miss/eviction counts are simply not recorded.
func New(decoder host.Decoder, maxEntries int, normalize NormalizationPolicy, loadTimeout time.Duration, m *metrics.Set) *Cache {
	if maxEntries <= 0 {
		maxEntries = 32
	}
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	return &Cache{
		decoder:     decoder,
		normalize:   normalize,
		maxEntries:  maxEntries,
		loadTimeout: loadTimeout,
		metrics:     m,
		entries:     make(map[string]*entry),
		lru:         list.New(),
	}
}

// Get returns the decoded buffer for uri, loading and optionally
// normalizing it on first access. Concurrent Get calls for the same uri
// share a single load. The returned buffer must not be mutated in place —
// callers that need to alter it should Clone it first.
func (c *Cache) Get(ctx context.Context, uri string, priority Priority, override *audiofile.NormalizationTarget) (*audiofile.Buffer, error) {
	if buf, ok := c.lookup(uri); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return buf, nil
	}

	resCh := c.group.DoChan(uri, func() (any, error) {
		return c.load(uri, override)
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*audiofile.Buffer), nil
	case <-ctx.Done():
		return nil, &playbackerr.FileLoadTimeout{URI: uri, Duration: c.loadTimeout}
	case <-time.After(c.loadTimeout):
		return nil, &playbackerr.FileLoadTimeout{URI: uri, Duration: c.loadTimeout}
	}
}

// Preload warms the cache for uri without returning the buffer, for
// background prefetch of upcoming playlist tracks.
func (c *Cache) Preload(ctx context.Context, uri string) error {
	_, err := c.Get(ctx, uri, PriorityBackground, nil)
	return err
}

// Pin marks uri's entry as referenced by an active slot or the overlay,
// excluding it from LRU eviction until a matching Unpin.
func (c *Cache) Pin(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uri]; ok {
		e.pins++
	}
}

// Unpin releases one reference taken by Pin. Once an entry's pin count
// reaches zero it becomes eligible for eviction again.
func (c *Cache) Unpin(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uri]; ok && e.pins > 0 {
		e.pins--
	}
}

// Len reports the current number of cached entries, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(uri string) (*audiofile.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uri]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(e.element)
	return e.buf, true
}

func (c *Cache) load(uri string, override *audiofile.NormalizationTarget) (*audiofile.Buffer, error) {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	buf, err := c.decoder.Decode(uri)
	if err != nil {
		return nil, &playbackerr.FileLoadFailed{URI: uri, Cause: errors.Wrap(err, "decode")}
	}

	target, ceiling, ok := c.normalizationFor(override)
	if ok {
		normalized, rate, nerr := dsp.Normalize(buf.Frames, buf.SampleRate, dsp.NormalizeConfig{
			TargetLUFS:    target,
			CeilingDBTP:   ceiling,
			MaxIterations: c.maxItersOr3(),
			ToleranceLU:   0.1,
		})
		if nerr != nil {
			return nil, &playbackerr.FileLoadFailed{URI: uri, Cause: errors.Wrap(nerr, "normalize")}
		}
		buf = &audiofile.Buffer{Frames: normalized, SampleRate: rate, Channels: buf.Channels}
	}

	c.store(uri, buf)
	return buf, nil
}

func (c *Cache) normalizationFor(override *audiofile.NormalizationTarget) (target, ceiling float64, ok bool) {
	if override != nil {
		return override.TargetLUFS, override.CeilingDBTP, true
	}
	if c.normalize.Enabled {
		return c.normalize.TargetLUFS, c.normalize.CeilingDBTP, true
	}
	return 0, 0, false
}

func (c *Cache) maxItersOr3() int {
	if c.normalize.MaxIters > 0 {
		return c.normalize.MaxIters
	}
	return 3
}

func (c *Cache) store(uri string, buf *audiofile.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[uri]; ok {
		e.buf = buf
		c.lru.MoveToFront(e.element)
		return
	}

	e := &entry{uri: uri, buf: buf}
	e.element = c.lru.PushFront(e)
	c.entries[uri] = e
	c.evictIfNeeded()
}

// evictIfNeeded drops least-recently-used, unpinned entries until the
// population is within bounds. Must be called with c.mu held.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.maxEntries {
		victim := c.findEvictionCandidate()
		if victim == nil {
			return // everything left is pinned
		}
		c.lru.Remove(victim.element)
		delete(c.entries, victim.uri)
		if c.metrics != nil {
			c.metrics.CacheEvicts.Inc()
		}
	}
}

func (c *Cache) findEvictionCandidate() *entry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.pins == 0 {
			return e
		}
	}
	return nil
}
