package overlay

import (
	"testing"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/host/fakehost"
)

func testBuffer() *audiofile.Buffer {
	return &audiofile.Buffer{
		Frames:     [][]float32{make([]float32, 10), make([]float32, 10)},
		SampleRate: 44100,
		Channels:   2,
	}
}

func TestPlayOnceCompletesAndReturnsToIdle(t *testing.T) {
	graph := fakehost.New(44100)
	player, _ := graph.CreatePlayerNode()
	mixer, _ := graph.CreateMixerNode()
	sched := New(player, mixer, nil)

	cfg := config.OverlayConfig{Loop: config.LoopMode{Kind: config.LoopOnce}, Volume: 0.5}
	sched.Play(testBuffer(), cfg)

	fake := player.(*fakehost.PlayerNode)
	deadline := time.Now().Add(2 * time.Second)
	for !fake.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(10)

	deadline = time.Now().Add(2 * time.Second)
	for sched.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sched.State() != StateIdle {
		t.Fatalf("expected Idle after one-shot completion, got %v", sched.State())
	}
}

func TestPauseDoesNotCancelLoop(t *testing.T) {
	graph := fakehost.New(44100)
	player, _ := graph.CreatePlayerNode()
	mixer, _ := graph.CreateMixerNode()
	sched := New(player, mixer, nil)

	cfg := config.OverlayConfig{Loop: config.LoopMode{Kind: config.LoopInfinite}, Volume: 0.3}
	sched.Play(testBuffer(), cfg)
	time.Sleep(10 * time.Millisecond)

	sched.Pause()
	if sched.State() != StatePaused {
		t.Fatalf("expected Paused, got %v", sched.State())
	}

	sched.Resume()
	if sched.State() != StatePlaying {
		t.Fatalf("expected Playing after resume, got %v", sched.State())
	}
	sched.Stop(0)
}

func TestStopStopsPlayerAndResetsVolume(t *testing.T) {
	graph := fakehost.New(44100)
	player, _ := graph.CreatePlayerNode()
	mixer, _ := graph.CreateMixerNode()
	sched := New(player, mixer, nil)

	cfg := config.OverlayConfig{Loop: config.LoopMode{Kind: config.LoopInfinite}, Volume: 0.4}
	sched.Play(testBuffer(), cfg)
	time.Sleep(10 * time.Millisecond)

	sched.Stop(0)
	if mixer.Volume() != 0 {
		t.Errorf("expected mixer volume reset to 0, got %v", mixer.Volume())
	}
	if sched.State() != StateIdle {
		t.Errorf("expected Idle after Stop, got %v", sched.State())
	}
}

func TestLoopCountStopsAfterN(t *testing.T) {
	graph := fakehost.New(44100)
	player, _ := graph.CreatePlayerNode()
	mixer, _ := graph.CreateMixerNode()
	sched := New(player, mixer, nil)
	fake := player.(*fakehost.PlayerNode)

	cfg := config.OverlayConfig{Loop: config.LoopMode{Kind: config.LoopCount, Count: 2}, Volume: 0.2}
	sched.Play(testBuffer(), cfg)

	for i := 0; i < 2; i++ {
		deadline := time.Now().Add(2 * time.Second)
		// Wait for a fresh schedule: the node stays playing through the drain
		// guard, so only a reset render count marks the next iteration.
		for !(fake.IsPlaying() && fake.LastRenderTime() == 0) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		fake.Advance(10)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sched.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sched.State() != StateIdle {
		t.Fatalf("expected Idle after 2 iterations of LoopCount(2), got %v", sched.State())
	}
}
