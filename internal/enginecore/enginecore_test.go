package enginecore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/host/fakehost"
)

func testBuffer(numFrames, sampleRate int) *audiofile.Buffer {
	left := make([]float32, numFrames)
	right := make([]float32, numFrames)
	return &audiofile.Buffer{Frames: [][]float32{left, right}, SampleRate: sampleRate, Channels: 2}
}

func newTestEngine(t *testing.T, bufs map[string]*audiofile.Buffer) (*Engine, *fakehost.Graph) {
	t.Helper()
	graph := fakehost.New(44100)
	loader := func(_ context.Context, uri string) (*audiofile.Buffer, error) {
		return bufs[uri], nil
	}
	e := New(graph, loader)
	if err := e.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, graph
}

func TestLoadIntoSlotReturnsAugmentedTrack(t *testing.T) {
	buf := testBuffer(44100, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": buf})

	track := audiofile.Track{URI: "a.ogg"}
	loaded, err := e.LoadIntoSlot(context.Background(), SlotA, track)
	if err != nil {
		t.Fatalf("LoadIntoSlot: %v", err)
	}
	if loaded.SampleRate != 44100 || loaded.Channels != 2 {
		t.Errorf("expected augmented format, got %+v", loaded)
	}
	if loaded.Duration != time.Second {
		t.Errorf("expected 1s duration, got %v", loaded.Duration)
	}
}

func TestScheduleActiveEmitsNaturalEndOnCompletion(t *testing.T) {
	buf := testBuffer(100, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": buf})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})

	if err := e.ScheduleActive(SlotA, false, 0, config.CurveLinear); err != nil {
		t.Fatalf("ScheduleActive: %v", err)
	}

	player := e.slot(SlotA).player
	fake := player.(*fakehost.PlayerNode)
	fake.Advance(100)

	select {
	case ev := <-e.NaturalEnd():
		if ev.Slot != SlotA {
			t.Errorf("expected SlotA, got %v", ev.Slot)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a natural-end event")
	}
}

func TestStaleCompletionAfterSeekIsDiscarded(t *testing.T) {
	buf := testBuffer(1000, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": buf})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})
	e.ScheduleActive(SlotA, false, 0, config.CurveLinear)

	// Seek bumps the generation; the old schedule's completion must no
	// longer reach the natural-end stream even when it fires.
	stale := e.completionFor(SlotA, atomic.LoadUint64(&e.slot(SlotA).generation))
	if err := e.Seek(SlotA, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	stale()

	select {
	case ev := <-e.NaturalEnd():
		t.Fatalf("unexpected natural-end event after seek: %+v", ev)
	case <-time.After(50 * time.Millisecond):
		// expected: nothing pending
	}
}

func TestPauseCapturesOffsetAndPlayResumes(t *testing.T) {
	buf := testBuffer(44100, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": buf})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})
	e.ScheduleActive(SlotA, false, 0, config.CurveLinear)

	fake := e.slot(SlotA).player.(*fakehost.PlayerNode)
	fake.Advance(22050) // halfway

	if err := e.Pause(SlotA); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	pos := e.Position(SlotA)
	if pos < 400*time.Millisecond || pos > 600*time.Millisecond {
		t.Errorf("expected ~500ms captured position, got %v", pos)
	}

	if err := e.Play(SlotA); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !fake.IsPlaying() {
		t.Error("expected player to be playing after Play")
	}
}

func TestSetVolumeSkipsActiveMixerDuringCrossfade(t *testing.T) {
	bufA := testBuffer(44100*5, 44100)
	bufB := testBuffer(44100*5, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": bufA, "b.ogg": bufB})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})
	e.LoadIntoSlot(context.Background(), SlotB, audiofile.Track{URI: "b.ogg"})
	e.ScheduleActive(SlotA, false, 0, config.CurveLinear)
	e.Mixer(SlotA).SetVolume(1.0)

	if _, err := e.PrepareInactive(); err != nil {
		t.Fatalf("PrepareInactive: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.ExecuteCrossfade(context.Background(), 30*time.Millisecond, config.CurveLinear, nil)
	}()

	e.SetVolume(0.5) // must not touch the active mixer mid-crossfade

	if err := <-done; err != nil {
		t.Fatalf("ExecuteCrossfade: %v", err)
	}
	e.SwitchActive()

	if got := e.ActiveSlot(); got != SlotB {
		t.Errorf("expected SlotB active after crossfade, got %v", got)
	}
	if got := e.Mixer(SlotB).Volume(); got < 0.49 || got > 0.51 {
		t.Errorf("expected new active mixer at target volume ~0.5, got %v", got)
	}
}

// TestPauseDuringFadeInRestoresTargetVolume pins the spec.md §9 open
// question: pausing mid fade-in does not leave the mixer at a stale
// intermediate volume once Play resumes and the target is re-applied.
func TestPauseDuringFadeInRestoresTargetVolume(t *testing.T) {
	buf := testBuffer(44100*5, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": buf})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})
	e.SetVolume(1.0)

	if err := e.ScheduleActive(SlotA, true, 200*time.Millisecond, config.CurveLinear); err != nil {
		t.Fatalf("ScheduleActive: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // let the fade-in start partway

	if err := e.Pause(SlotA); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // Pause keeps the generation, so the fade-in loop runs on until Play

	if err := e.Play(SlotA); err != nil {
		t.Fatalf("Play: %v", err)
	}
	e.Mixer(SlotA).SetVolume(e.TargetVolume())

	if got := e.Mixer(SlotA).Volume(); got != 1.0 {
		t.Errorf("expected mixer restored to target volume 1.0 after resume, got %v", got)
	}
}

func TestRollbackRestoresActiveAndStopsInactive(t *testing.T) {
	bufA := testBuffer(44100*5, 44100)
	bufB := testBuffer(44100*5, 44100)
	e, _ := newTestEngine(t, map[string]*audiofile.Buffer{"a.ogg": bufA, "b.ogg": bufB})
	e.LoadIntoSlot(context.Background(), SlotA, audiofile.Track{URI: "a.ogg"})
	e.LoadIntoSlot(context.Background(), SlotB, audiofile.Track{URI: "b.ogg"})
	e.ScheduleActive(SlotA, false, 0, config.CurveLinear)
	e.Mixer(SlotA).SetVolume(1.0)
	e.PrepareInactive()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_ = e.ExecuteCrossfade(ctx, 200*time.Millisecond, config.CurveLinear, nil)

	e.Rollback(10 * time.Millisecond)

	if got := e.ActiveSlot(); got != SlotA {
		t.Errorf("expected SlotA to remain active after rollback, got %v", got)
	}
	if got := e.Mixer(SlotA).Volume(); got < 0.99 {
		t.Errorf("expected active mixer restored to target, got %v", got)
	}
}
