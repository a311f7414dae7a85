// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package playback owns per-entry playback sessions. A session wraps exactly
// one decoder handle and tracks accumulated watch time while playing.
//
// The state machine is uninitialized -> ready -> playing <-> paused ->
// destroyed, with errored reachable from playing on a mid-playback stall.
// destroyed is terminal; every operation on a destroyed session is a no-op.
// The "at most one session playing" invariant is enforced by the feed
// controller, not here.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/kikwetu/reelfeed/internal/metrics"
)

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StatePlaying
	StatePaused
	StateErrored
	StateDestroyed
)

// String returns the state name for logs and surface frames.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateErrored:
		return "errored"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Decoder is the boundary to the underlying player resource. Implementations
// may be backed by native threads; calls must not block for long.
type Decoder interface {
	Play() error
	Pause() error
	SetMuted(muted bool) error
	Close() error
}

// DecoderFactory allocates decoder handles. Allocation may be slow or fail;
// the preload cache bounds it with a timeout.
type DecoderFactory interface {
	Allocate(ctx context.Context, streamURL string) (Decoder, error)
}

// Session binds one decoder to one feed entry.
type Session struct {
	mu sync.Mutex

	entryID string
	decoder Decoder
	state   State
	muted   bool
	lastErr error

	// accumulated is the watch time banked across completed play intervals;
	// playingSince marks the start of the open interval, zero when paused.
	accumulated  time.Duration
	playingSince time.Time

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the session's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession wraps an allocated decoder in a ready session. The global mute
// flag is applied at creation so a preloaded session never plays sound it
// should not.
func NewSession(entryID string, decoder Decoder, muted bool, opts ...Option) *Session {
	s := &Session{
		entryID: entryID,
		decoder: decoder,
		state:   StateReady,
		muted:   muted,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if decoder != nil {
		_ = decoder.SetMuted(muted)
	}
	return s
}

// EntryID returns the feed entry this session is bound to.
func (s *Session) EntryID() string {
	return s.entryID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the stall error for an errored session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Play starts playback. Idempotent when already playing; a no-op on
// destroyed, errored, and uninitialized sessions.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePlaying:
		return nil
	case StateReady, StatePaused:
	default:
		return nil
	}

	if err := s.decoder.Play(); err != nil {
		return err
	}
	s.state = StatePlaying
	s.playingSince = s.now()
	metrics.PlayingSessions.Inc()
	return nil
}

// Pause stops playback and banks the open watch interval. Idempotent.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return nil
	}

	if err := s.decoder.Pause(); err != nil {
		return err
	}
	s.bankWatchTime()
	s.state = StatePaused
	metrics.PlayingSessions.Dec()
	return nil
}

// TogglePlayPause flips between playing and paused.
func (s *Session) TogglePlayPause() error {
	if s.State() == StatePlaying {
		return s.Pause()
	}
	return s.Play()
}

// SetMuted toggles audio without affecting playback state.
func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return nil
	}
	s.muted = muted
	if s.decoder != nil {
		return s.decoder.SetMuted(muted)
	}
	return nil
}

// Muted returns the session's mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// AccumulatedWatchSeconds returns whole seconds watched. Monotonically
// increasing; paused and errored sessions stop accumulating.
func (s *Session) AccumulatedWatchSeconds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.accumulated
	if s.state == StatePlaying {
		total += s.now().Sub(s.playingSince)
	}
	return int64(total / time.Second)
}

// MarkStalled records a mid-playback failure. The session keeps its banked
// watch time and becomes errored; the controller renders an inline retry.
func (s *Session) MarkStalled(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return
	}
	if s.state == StatePlaying {
		s.bankWatchTime()
		metrics.PlayingSessions.Dec()
	}
	s.state = StateErrored
	s.lastErr = err
	metrics.PlaybackStalls.Inc()
}

// Destroy releases the decoder. Safe to call on a partially created or
// already destroyed session; the session is terminal afterwards.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return nil
	}
	if s.state == StatePlaying {
		s.bankWatchTime()
		metrics.PlayingSessions.Dec()
	}
	s.state = StateDestroyed

	if s.decoder == nil {
		return nil
	}
	err := s.decoder.Close()
	s.decoder = nil
	return err
}

// bankWatchTime closes the open play interval (mu must be held, state playing).
func (s *Session) bankWatchTime() {
	s.accumulated += s.now().Sub(s.playingSince)
	s.playingSince = time.Time{}
}
