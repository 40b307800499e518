package crossfade

import (
	"context"
	"testing"
	"time"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/enginecore"
	"ambientplayer/internal/host/fakehost"
)

func testBuffer(numFrames int) *audiofile.Buffer {
	return &audiofile.Buffer{
		Frames:     [][]float32{make([]float32, numFrames), make([]float32, numFrames)},
		SampleRate: 44100,
		Channels:   2,
	}
}

func newTestSetup(t *testing.T) (*enginecore.Engine, *Orchestrator) {
	t.Helper()
	bufs := map[string]*audiofile.Buffer{
		"a.ogg": testBuffer(44100 * 10),
		"b.ogg": testBuffer(44100 * 10),
	}
	graph := fakehost.New(44100)
	loader := func(_ context.Context, uri string) (*audiofile.Buffer, error) { return bufs[uri], nil }
	eng := enginecore.New(graph, loader)
	if err := eng.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	eng.Start()
	eng.LoadIntoSlot(context.Background(), enginecore.SlotA, audiofile.Track{URI: "a.ogg"})
	eng.SetVolume(1.0)
	eng.ScheduleActive(enginecore.SlotA, false, 0, config.CurveLinear)
	eng.Mixer(enginecore.SlotA).SetVolume(1.0)

	return eng, New(eng, loader)
}

func TestStartCrossfadeCompletesAndSwitches(t *testing.T) {
	eng, orch := newTestSetup(t)

	outcome, err := orch.StartCrossfade(context.Background(), audiofile.Track{URI: "b.ogg"}, 30*time.Millisecond, config.CurveLinear, nil)
	if err != nil {
		t.Fatalf("StartCrossfade: %v", err)
	}
	if outcome != Completed {
		t.Fatalf("expected Completed, got %v", outcome)
	}
	if got := eng.ActiveSlot(); got != enginecore.SlotB {
		t.Errorf("expected SlotB active, got %v", got)
	}
	if got := eng.Mixer(enginecore.SlotA).Volume(); got != 0 {
		t.Errorf("expected old active mixer at 0, got %v", got)
	}
}

func TestReplacementPolicyThresholds(t *testing.T) {
	cases := []struct {
		progress float64
		want     ReplacementPolicy
	}{
		{0.1, PolicyRollback},
		{0.19, PolicyRollback},
		{0.2, PolicyFastForward},
		{0.5, PolicyFastForward},
		{0.9, PolicyFastForward},
		{0.91, PolicyWaitThenCrossfade},
	}
	for _, c := range cases {
		if got := ReplacementPolicyFor(c.progress); got != c.want {
			t.Errorf("ReplacementPolicyFor(%v) = %v, want %v", c.progress, got, c.want)
		}
	}
}

func TestRollbackCurrentRestoresActive(t *testing.T) {
	eng, orch := newTestSetup(t)

	go orch.StartCrossfade(context.Background(), audiofile.Track{URI: "b.ogg"}, 500*time.Millisecond, config.CurveLinear, nil)
	time.Sleep(20 * time.Millisecond)

	outcome := orch.RollbackCurrent(10 * time.Millisecond)
	if outcome != Cancelled {
		t.Fatalf("expected Cancelled, got %v", outcome)
	}
	time.Sleep(20 * time.Millisecond)
	if got := eng.ActiveSlot(); got != enginecore.SlotA {
		t.Errorf("expected SlotA to remain active after rollback, got %v", got)
	}
}

func TestPauseDuringCrossfadeProducesSnapshot(t *testing.T) {
	_, orch := newTestSetup(t)

	outcomeCh := make(chan Outcome, 1)
	go func() {
		o, _ := orch.StartCrossfade(context.Background(), audiofile.Track{URI: "b.ogg"}, 300*time.Millisecond, config.CurveLinear, nil)
		outcomeCh <- o
	}()
	time.Sleep(20 * time.Millisecond)
	orch.RequestPause()

	select {
	case o := <-outcomeCh:
		if o != Paused {
			t.Fatalf("expected Paused, got %v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StartCrossfade to return")
	}

	if _, ok := orch.Snapshot(); !ok {
		t.Fatal("expected a snapshot after a pause-during-crossfade")
	}
}
