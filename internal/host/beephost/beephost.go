// Package beephost implements host.Graph on top of github.com/gopxl/beep,
// grounded on the teacher's internal/streaming MusicPlayer and AudioMixer
// (gopxl/beep Mixer + Ctrl + effects.Volume + speaker), generalized from a
// single hard-coded music track into an arbitrary node graph of player and
// mixer nodes.
package beephost

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/host"
)

// Graph is the gopxl/beep-backed host.Graph. Construct with New, call Start
// once before scheduling anything, Stop to release the audio device.
type Graph struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	bufferSize int
	main       *MixerNode
	started    bool
}

// New builds a Graph for the given sample rate. bufferSizeMs controls the
// speaker's callback buffer (20ms matches the teacher's low-latency setup).
func New(sampleRate int, bufferSizeMs int) *Graph {
	if bufferSizeMs <= 0 {
		bufferSizeMs = 20
	}
	return &Graph{
		sampleRate: beep.SampleRate(sampleRate),
		bufferSize: bufferSizeMs,
		main:       newMixerNode(),
	}
}

func (g *Graph) CreatePlayerNode() (host.PlayerNode, error) {
	return newPlayerNode(), nil
}

func (g *Graph) CreateMixerNode() (host.MixerNode, error) {
	return newMixerNode(), nil
}

// Attach is a no-op for beep: nodes need no registration beyond creation.
func (g *Graph) Attach(node any) error { return nil }

// Detach removes a node's signal from the graph by silencing it; beep has
// no reverse-Add, so detach is expressed as disconnecting its output.
func (g *Graph) Detach(node any) error {
	switch n := node.(type) {
	case *PlayerNode:
		return n.Stop()
	}
	return nil
}

// Connect wires src's output into dst's mixer.
func (g *Graph) Connect(src, dst any) error {
	dstMixer, ok := dst.(*MixerNode)
	if !ok {
		return errNotAMixer
	}
	switch s := src.(type) {
	case *PlayerNode:
		dstMixer.add(s.streamer())
	case *MixerNode:
		dstMixer.add(s.streamer())
	default:
		return errUnknownNodeType
	}
	return nil
}

func (g *Graph) MainMixer() host.MixerNode { return g.main }

func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	n := int(g.sampleRate) * g.bufferSize / 1000
	if err := speaker.Init(g.sampleRate, n); err != nil {
		return err
	}
	speaker.Play(g.main.streamer())
	g.started = true
	return nil
}

func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	g.started = false
	return nil
}

func (g *Graph) SampleRate() int { return int(g.sampleRate) }

// bufferStreamer plays a decoded audiofile.Buffer, frame by frame, and
// invokes onComplete exactly once when it drains.
type bufferStreamer struct {
	buf        *audiofile.Buffer
	pos        int
	onComplete func()
	fired      int32
	rendered   int64
}

func (s *bufferStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s == nil || s.buf == nil {
		return 0, false
	}
	total := s.buf.NumFrames()
	left := s.buf.Frames[0]
	right := left
	if len(s.buf.Frames) > 1 {
		right = s.buf.Frames[1]
	}
	for i := range samples {
		if s.pos >= total {
			if atomic.CompareAndSwapInt32(&s.fired, 0, 1) && s.onComplete != nil {
				go s.onComplete()
			}
			return i, i > 0
		}
		samples[i] = [2]float64{float64(left[s.pos]), float64(right[s.pos])}
		s.pos++
		atomic.AddInt64(&s.rendered, 1)
	}
	return len(samples), true
}

func (s *bufferStreamer) Err() error { return nil }

// PlayerNode wraps a beep.Ctrl(effects.Volume(bufferStreamer)) chain: Ctrl
// gates play/pause, Volume exists so an individual node can be silenced
// without tearing down its mixer connection, matching the teacher's
// music_player.go Ctrl+Volume pairing.
type PlayerNode struct {
	mu     sync.Mutex
	ctrl   *beep.Ctrl
	vol    *effects.Volume
	stream *bufferStreamer
}

func newPlayerNode() *PlayerNode {
	vol := &effects.Volume{Streamer: beep.Silence(-1), Base: 2, Volume: 0}
	return &PlayerNode{
		ctrl: &beep.Ctrl{Streamer: vol, Paused: true},
		vol:  vol,
	}
}

func (p *PlayerNode) streamer() beep.Streamer { return p.ctrl }

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
	speaker.Lock()
	defer speaker.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &bufferStreamer{buf: buf, pos: startFrame, onComplete: onComplete}
	p.stream = s
	p.vol.Streamer = s
	return nil
}

func (p *PlayerNode) Play() error {
	speaker.Lock()
	defer speaker.Unlock()
	p.ctrl.Paused = false
	return nil
}

func (p *PlayerNode) Pause() error {
	speaker.Lock()
	defer speaker.Unlock()
	p.ctrl.Paused = true
	return nil
}

func (p *PlayerNode) Stop() error {
	speaker.Lock()
	defer speaker.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl.Paused = true
	p.vol.Streamer = beep.Silence(-1)
	p.stream = nil
	return nil
}

func (p *PlayerNode) LastRenderTime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return 0
	}
	return atomic.LoadInt64(&p.stream.rendered)
}

// MixerNode wraps a beep.Mixer inside an effects.Volume so a submix has its
// own controllable level, then nests into a parent mixer the same way — beep
// Mixers are themselves Streamers.
type MixerNode struct {
	mu    sync.Mutex
	mixer beep.Mixer
	vol   *effects.Volume
}

func newMixerNode() *MixerNode {
	m := &MixerNode{}
	m.vol = &effects.Volume{Streamer: &m.mixer, Base: 2, Volume: 0}
	return m
}

func (m *MixerNode) streamer() beep.Streamer { return m.vol }

func (m *MixerNode) add(s beep.Streamer) {
	speaker.Lock()
	defer speaker.Unlock()
	m.mixer.Add(s)
}

func (m *MixerNode) SetVolume(v float64) {
	speaker.Lock()
	defer speaker.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if v <= 0 {
		m.vol.Silent = true
		return
	}
	m.vol.Silent = false
	m.vol.Volume = math.Log2(v)
}

func (m *MixerNode) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vol.Silent {
		return 0
	}
	return math.Pow(2, m.vol.Volume)
}

type hostError string

func (e hostError) Error() string { return string(e) }

const (
	errNotAMixer       hostError = "beephost: dst is not a MixerNode"
	errUnknownNodeType hostError = "beephost: src is neither a PlayerNode nor a MixerNode"
)
