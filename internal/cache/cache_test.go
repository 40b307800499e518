package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/playbackerr"
)

type fakeDecoder struct {
	calls     int32
	fail      map[string]error
	delay     time.Duration
	decodedAt map[string]int32
	mu        sync.Mutex
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{fail: map[string]error{}, decodedAt: map[string]int32{}}
}

func (f *fakeDecoder) Decode(uri string) (*audiofile.Buffer, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.decodedAt[uri] = atomic.LoadInt32(&f.calls)
	if err, ok := f.fail[uri]; ok {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return &audiofile.Buffer{
		Frames:     [][]float32{make([]float32, 100), make([]float32, 100)},
		SampleRate: 44100,
		Channels:   2,
	}, nil
}

func TestGetCachesAfterFirstLoad(t *testing.T) {
	dec := newFakeDecoder()
	c := New(dec, 32, NormalizationPolicy{}, time.Second, nil)

	ctx := context.Background()
	if _, err := c.Get(ctx, "a.ogg", PriorityNormal, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, "a.ogg", PriorityNormal, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := atomic.LoadInt32(&dec.calls); got != 1 {
		t.Errorf("expected 1 decode call, got %d", got)
	}
}

func TestGetCoalescesConcurrentLoads(t *testing.T) {
	dec := newFakeDecoder()
	dec.delay = 50 * time.Millisecond
	c := New(dec, 32, NormalizationPolicy{}, 2*time.Second, nil)

	var wg sync.WaitGroup
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, "shared.ogg", PriorityNormal, nil); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&dec.calls); got != 1 {
		t.Errorf("expected exactly 1 coalesced decode, got %d", got)
	}
}

func TestGetWrapsLoadFailure(t *testing.T) {
	dec := newFakeDecoder()
	dec.fail["bad.ogg"] = fmt.Errorf("file not found")
	c := New(dec, 32, NormalizationPolicy{}, time.Second, nil)

	_, err := c.Get(context.Background(), "bad.ogg", PriorityNormal, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var loadErr *playbackerr.FileLoadFailed
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *playbackerr.FileLoadFailed, got %T: %v", err, err)
	}
	if loadErr.Unwrap() == nil {
		t.Error("expected wrapped cause to be preserved")
	}
}

func TestLRUEvictsLeastRecentlyUsedUnpinned(t *testing.T) {
	dec := newFakeDecoder()
	c := New(dec, 2, NormalizationPolicy{}, time.Second, nil)
	ctx := context.Background()

	c.Get(ctx, "a.ogg", PriorityNormal, nil)
	c.Get(ctx, "b.ogg", PriorityNormal, nil)
	c.Get(ctx, "a.ogg", PriorityNormal, nil) // touch a, b is now LRU
	c.Get(ctx, "c.ogg", PriorityNormal, nil) // evicts b

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.entries["b.ogg"]; ok {
		t.Error("expected b.ogg to have been evicted")
	}
	if _, ok := c.entries["a.ogg"]; !ok {
		t.Error("expected a.ogg to survive (recently touched)")
	}
}

func TestPinnedEntrySurvivesEviction(t *testing.T) {
	dec := newFakeDecoder()
	c := New(dec, 1, NormalizationPolicy{}, time.Second, nil)
	ctx := context.Background()

	c.Get(ctx, "a.ogg", PriorityNormal, nil)
	c.Pin("a.ogg")
	c.Get(ctx, "b.ogg", PriorityNormal, nil)

	if _, ok := c.entries["a.ogg"]; !ok {
		t.Error("expected pinned a.ogg to survive despite exceeding maxEntries")
	}
	c.Unpin("a.ogg")
	c.Get(ctx, "c.ogg", PriorityNormal, nil)
	if _, ok := c.entries["a.ogg"]; ok {
		t.Error("expected a.ogg to become evictable once unpinned")
	}
}

func TestPreload(t *testing.T) {
	dec := newFakeDecoder()
	c := New(dec, 32, NormalizationPolicy{}, time.Second, nil)
	if err := c.Preload(context.Background(), "warm.ogg"); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected preload to populate cache, got len %d", c.Len())
	}
}
