package sfx

import (
	"context"
	"testing"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/host/fakehost"
)

func testLoader() Loader {
	return func(_ context.Context, uri string) (*audiofile.Buffer, error) {
		return &audiofile.Buffer{
			Frames:     [][]float32{make([]float32, 10), make([]float32, 10)},
			SampleRate: 44100,
			Channels:   2,
		}, nil
	}
}

func newTestPlayer(t *testing.T, cfg config.SFXConfig) (*Player, *fakehost.PlayerNode, *fakehost.MixerNode) {
	t.Helper()
	graph := fakehost.New(44100)
	pn, _ := graph.CreatePlayerNode()
	mn, _ := graph.CreateMixerNode()
	p := New(pn, mn.(*fakehost.MixerNode), testLoader(), cfg, nil)
	return p, pn.(*fakehost.PlayerNode), mn.(*fakehost.MixerNode)
}

func TestPlayStartsPlaybackAtMasterScaledVolume(t *testing.T) {
	p, fake, mixer := newTestPlayer(t, config.SFXConfig{CacheSize: 10, Volume: 0.5})
	if err := p.Play(context.Background(), "ding.wav", 0.8, 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !fake.IsPlaying() {
		t.Error("expected player to be playing")
	}
	if got, want := mixer.Volume(), 0.4; got < want-0.001 || got > want+0.001 {
		t.Errorf("expected volume %v (0.8*0.5), got %v", want, got)
	}
}

func TestPlayStopsPreviousEffect(t *testing.T) {
	p, fake, _ := newTestPlayer(t, config.SFXConfig{CacheSize: 10, Volume: 1.0})
	p.Play(context.Background(), "a.wav", 1.0, 0)
	p.Play(context.Background(), "b.wav", 1.0, 0)
	if !fake.IsPlaying() {
		t.Error("expected b.wav to be playing after replacing a.wav")
	}
}

func TestUnloadStopsIfActive(t *testing.T) {
	p, fake, mixer := newTestPlayer(t, config.SFXConfig{CacheSize: 10, Volume: 1.0})
	p.Play(context.Background(), "a.wav", 1.0, 0)
	p.Unload("a.wav")
	time.Sleep(10 * time.Millisecond)
	if fake.IsPlaying() {
		t.Error("expected player stopped after unloading the active effect")
	}
	if mixer.Volume() != 0 {
		t.Errorf("expected volume reset to 0, got %v", mixer.Volume())
	}
}

func TestLRUDoesNotEvictActiveEffect(t *testing.T) {
	p, _, _ := newTestPlayer(t, config.SFXConfig{CacheSize: 1, Volume: 1.0})
	ctx := context.Background()
	p.Preload(ctx, "a.wav")
	p.Play(ctx, "a.wav", 1.0, 0)
	p.Preload(ctx, "b.wav") // would evict a.wav, but it's active

	p.mu.Lock()
	_, activeStillCached := p.entries["a.wav"]
	p.mu.Unlock()
	if !activeStillCached {
		t.Error("expected active effect to survive LRU eviction pressure")
	}
}
