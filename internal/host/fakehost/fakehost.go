// Package fakehost is a deterministic, in-process host.Graph used by tests
// for engine core, overlay, SFX, and crossfade — none of which need a real
// audio device to exercise their state machines.
package fakehost

import (
	"sync"
	"sync/atomic"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/host"
)

// Graph is a no-I/O host.Graph: nodes track their own schedule/play/pause
// state and nothing ever actually renders audio. LastRenderTime is advanced
// explicitly by test code via (*PlayerNode).Advance, standing in for the
// render thread.
type Graph struct {
	mu         sync.Mutex
	sampleRate int
	main       *MixerNode
	started    bool
}

func New(sampleRate int) *Graph {
	return &Graph{sampleRate: sampleRate, main: &MixerNode{volume: 1.0}}
}

func (g *Graph) CreatePlayerNode() (host.PlayerNode, error) {
	return &PlayerNode{}, nil
}

func (g *Graph) CreateMixerNode() (host.MixerNode, error) {
	return &MixerNode{volume: 1.0}, nil
}

func (g *Graph) Attach(node any) error { return nil }
func (g *Graph) Detach(node any) error { return nil }

func (g *Graph) Connect(src, dst any) error { return nil }

func (g *Graph) MainMixer() host.MixerNode { return g.main }

func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = true
	return nil
}

func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = false
	return nil
}

func (g *Graph) SampleRate() int { return g.sampleRate }

// PlayerNode is a fake host.PlayerNode for tests: it records scheduling and
// play/pause calls and lets the test drive completion and render time
// directly, instead of waiting on a real audio callback.
type PlayerNode struct {
	mu         sync.Mutex
	buf        *audiofile.Buffer
	startFrame int
	onComplete func()
	playing    bool
	rendered   int64
	stopped    bool
}

func (p *PlayerNode) ScheduleFile(buf *audiofile.Buffer, onComplete func()) error {
	return p.schedule(buf, 0, onComplete)
}

func (p *PlayerNode) ScheduleSegment(buf *audiofile.Buffer, startFrame int, onComplete func()) error {
	return p.schedule(buf, startFrame, onComplete)
}

func (p *PlayerNode) ScheduleBuffer(buf *audiofile.Buffer, onComplete func()) error {
	return p.schedule(buf, 0, onComplete)
}

func (p *PlayerNode) schedule(buf *audiofile.Buffer, startFrame int, onComplete func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = buf
	p.startFrame = startFrame
	p.onComplete = onComplete
	p.stopped = false
	atomic.StoreInt64(&p.rendered, 0)
	return nil
}

func (p *PlayerNode) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *PlayerNode) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *PlayerNode) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.stopped = true
	p.buf = nil
	atomic.StoreInt64(&p.rendered, 0)
	return nil
}

func (p *PlayerNode) LastRenderTime() int64 {
	return atomic.LoadInt64(&p.rendered)
}

// Advance simulates the render thread producing n more frames, invoked by
// tests driving the fake forward. If n reaches the end of the scheduled
// buffer, the completion callback fires exactly once, matching the real
// host's contract.
func (p *PlayerNode) Advance(n int64) {
	p.mu.Lock()
	buf := p.buf
	start := p.startFrame
	playing := p.playing
	if !playing || buf == nil {
		p.mu.Unlock()
		return
	}
	newRendered := atomic.AddInt64(&p.rendered, n)
	total := int64(buf.NumFrames() - start)
	var fire func()
	if total > 0 && newRendered >= total && p.onComplete != nil {
		fire = p.onComplete
		p.onComplete = nil
	}
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// IsPlaying reports whether Play has been called more recently than Pause
// or Stop.
func (p *PlayerNode) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// MixerNode is a fake host.MixerNode: it just remembers the last volume set.
type MixerNode struct {
	mu     sync.Mutex
	volume float64
}

func (m *MixerNode) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
}

func (m *MixerNode) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}
