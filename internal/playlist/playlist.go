// Package playlist implements the Playlist Manager (C8): an ordered
// sequence of tracks and a cursor, with pure peek and repeat-mode-aware
// advance.
package playlist

import (
	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
)

// Manager holds the sequence and cursor. It is not safe for concurrent
// use without external synchronization — callers serialize through the
// facade's operation queue (C9).
type Manager struct {
	tracks []audiofile.Track
	cursor int
	repeat config.RepeatMode
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{cursor: -1}
}

// Load replaces the sequence and resets the cursor to the first track (or
// -1 if tracks is empty).
func (m *Manager) Load(tracks []audiofile.Track) {
	m.tracks = tracks
	if len(tracks) == 0 {
		m.cursor = -1
		return
	}
	m.cursor = 0
}

// SetRepeatMode changes how Advance/Previous wrap at the ends.
func (m *Manager) SetRepeatMode(mode config.RepeatMode) { m.repeat = mode }

// RepeatMode returns the current repeat mode.
func (m *Manager) RepeatMode() config.RepeatMode { return m.repeat }

// Len reports the number of tracks.
func (m *Manager) Len() int { return len(m.tracks) }

// Empty reports whether the playlist has no tracks.
func (m *Manager) Empty() bool { return len(m.tracks) == 0 }

// Current returns the track at the cursor, or (_, false) if empty.
func (m *Manager) Current() (audiofile.Track, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tracks) {
		return audiofile.Track{}, false
	}
	return m.tracks[m.cursor], true
}

// CursorIndex returns the current cursor position (-1 if empty).
func (m *Manager) CursorIndex() int { return m.cursor }

// PeekNext returns the track Advance would move to, without mutating the
// cursor.
func (m *Manager) PeekNext() (audiofile.Track, bool) {
	idx, ok := m.nextIndex(m.cursor)
	if !ok {
		return audiofile.Track{}, false
	}
	return m.tracks[idx], true
}

// PeekPrevious returns the track Previous would move to, without mutating
// the cursor.
func (m *Manager) PeekPrevious() (audiofile.Track, bool) {
	idx, ok := m.previousIndex(m.cursor)
	if !ok {
		return audiofile.Track{}, false
	}
	return m.tracks[idx], true
}

// Advance moves the cursor forward per the repeat mode and returns the new
// current track. Off wraps to none at the end; Playlist wraps to 0;
// SingleTrack returns the same track.
func (m *Manager) Advance() (audiofile.Track, bool) {
	idx, ok := m.nextIndex(m.cursor)
	if !ok {
		return audiofile.Track{}, false
	}
	m.cursor = idx
	return m.tracks[idx], true
}

// Previous moves the cursor backward, symmetric with Advance.
func (m *Manager) Previous() (audiofile.Track, bool) {
	idx, ok := m.previousIndex(m.cursor)
	if !ok {
		return audiofile.Track{}, false
	}
	m.cursor = idx
	return m.tracks[idx], true
}

func (m *Manager) nextIndex(from int) (int, bool) {
	if len(m.tracks) == 0 {
		return 0, false
	}
	switch m.repeat {
	case config.RepeatSingleTrack:
		if from < 0 {
			return 0, true
		}
		return from, true
	case config.RepeatPlaylist:
		return (from + 1) % len(m.tracks), true
	default: // RepeatOff
		next := from + 1
		if next >= len(m.tracks) {
			return 0, false
		}
		return next, true
	}
}

func (m *Manager) previousIndex(from int) (int, bool) {
	if len(m.tracks) == 0 {
		return 0, false
	}
	switch m.repeat {
	case config.RepeatSingleTrack:
		if from < 0 {
			return 0, true
		}
		return from, true
	case config.RepeatPlaylist:
		prev := from - 1
		if prev < 0 {
			prev = len(m.tracks) - 1
		}
		return prev, true
	default: // RepeatOff
		prev := from - 1
		if prev < 0 {
			return 0, false
		}
		return prev, true
	}
}
