// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package preload owns the bounded set of warm video resources around the
// active feed position.
//
// Entries move through cold -> warming -> warm -> active -> cooling -> cold.
// The cache enforces a hard ceiling on concurrently warm entries (warming +
// warm + active) at all times: eviction happens before admission on every
// index change, computed as a single set-diff against the previous retention
// window so scrolling back one position never evicts and re-admits the same
// identifier.
//
// Resource acquisition (stream URL resolution + decoder allocation) is
// asynchronous and bounded by a warm-up timeout. Completions are delivered on
// a channel and must be routed back through Complete by the single consumer
// goroutine; a generation number guards against completions for entries that
// were evicted or re-admitted in the meantime.
package preload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikwetu/reelfeed/internal/cdn"
	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/metrics"
	"github.com/kikwetu/reelfeed/internal/playback"
)

// Stage is the preload lifecycle stage of one identifier.
type Stage int

const (
	StageCold Stage = iota
	StageWarming
	StageWarm
	StageActive
	StageCooling
)

// String returns the stage name for logs and surface frames.
func (s Stage) String() string {
	switch s {
	case StageCold:
		return "cold"
	case StageWarming:
		return "warming"
	case StageWarm:
		return "warm"
	case StageActive:
		return "active"
	case StageCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// Item is one feed position as the controller sees it. Placeholders occupy
// positions but never hold resources.
type Item struct {
	ID       string
	Playable bool
}

// Acquirer resolves stream URLs and allocates a decoder for one entry. The
// context carries the warm-up timeout; implementations must honor it.
type Acquirer func(ctx context.Context, entryID string) (cdn.StreamURLs, playback.Decoder, error)

// Acquisition is the result of one asynchronous warm-up, delivered on the
// completions channel. The consumer must pass it to Complete.
type Acquisition struct {
	ID      string
	Gen     uint64
	URLs    cdn.StreamURLs
	Decoder playback.Decoder
	Err     error
	Elapsed time.Duration
}

// Config bounds the cache.
type Config struct {
	// MaxWarm is the hard ceiling on warming + warm + active entries.
	MaxWarm int

	// Range is the forward lookahead; lookbehind is max(1, Range-1).
	Range int

	// WarmupTimeout bounds one acquisition; on expiry the entry reverts to
	// cold and frees its ceiling reservation.
	WarmupTimeout time.Duration
}

// entry is the PreloadState for one identifier.
type entry struct {
	id       string
	position int
	stage    Stage
	urls     cdn.StreamURLs
	session  *playback.Session

	// lastTouch orders least-recently-useful eviction ties.
	lastTouch uint64

	// gen invalidates stale acquisition completions.
	gen uint64

	// cancel aborts an in-flight acquisition when the entry is evicted.
	cancel context.CancelFunc
}

// Cache decides which identifiers hold warm resources. All mutating methods
// are called from the controller's event loop; the internal mutex only guards
// concurrent reads (metrics, surface snapshots).
type Cache struct {
	mu  sync.Mutex
	cfg Config

	acquire     Acquirer
	completions chan Acquisition

	entries     map[string]*entry
	seq         uint64
	activeID    string
	activeIndex int
	muted       bool

	log zerolog.Logger
}

// New creates a preload cache.
func New(cfg Config, acquire Acquirer) *Cache {
	if cfg.MaxWarm <= 0 {
		cfg.MaxWarm = 5
	}
	if cfg.Range <= 0 {
		cfg.Range = 2
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 5 * time.Second
	}
	return &Cache{
		cfg:         cfg,
		acquire:     acquire,
		completions: make(chan Acquisition, 4*cfg.MaxWarm),
		entries:     make(map[string]*entry),
		log:         logging.With().Str("component", "preload").Logger(),
	}
}

// Completions returns the channel carrying finished acquisitions. The
// controller drains it and routes each value through Complete.
func (c *Cache) Completions() <-chan Acquisition {
	return c.completions
}

// SetActiveIndex recomputes the retention window around the active index and
// performs eviction and admission as one atomic diff. Eviction always runs
// first so the ceiling holds even transiently.
func (c *Cache) SetActiveIndex(active int, items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeIndex = active
	c.activeID = ""
	if active >= 0 && active < len(items) {
		c.activeID = items[active].ID
	}

	desired := c.desiredWindow(active, items)

	// Evict everything outside the new window.
	for id, e := range c.entries {
		if _, keep := desired[id]; !keep {
			c.evictLocked(e, "window")
		}
	}

	// Admit entries entering the window; refresh positions for the rest.
	c.seq++
	for id, pos := range desired {
		if e, ok := c.entries[id]; ok {
			e.position = pos
			e.lastTouch = c.seq
			continue
		}
		if len(c.entries) >= c.cfg.MaxWarm {
			// Invariant violation attempt: refuse admission rather than
			// exceed the ceiling.
			c.log.Error().Str("id", id).Msg("admission refused at ceiling")
			metrics.Evictions.WithLabelValues("ceiling").Inc()
			continue
		}
		c.admitLocked(id, pos)
	}

	// Promote the active entry if its resources are already warm.
	c.promoteActiveLocked()
	c.updateGaugeLocked()
}

// desiredWindow returns the identifiers that should hold resources, mapped to
// their positions. Preference order is distance ascending with forward bias
// (one step ahead beats one step behind), truncated at the ceiling.
func (c *Cache) desiredWindow(active int, items []Item) map[string]int {
	desired := make(map[string]int, c.cfg.MaxWarm)
	if len(items) == 0 || active < 0 || active >= len(items) {
		return desired
	}

	behind := c.cfg.Range - 1
	if behind < 1 {
		behind = 1
	}
	lo, hi := active-behind, active+c.cfg.Range
	if lo < 0 {
		lo = 0
	}
	if hi > len(items)-1 {
		hi = len(items) - 1
	}

	for d := 0; d <= c.cfg.Range && len(desired) < c.cfg.MaxWarm; d++ {
		if pos := active + d; pos <= hi && items[pos].Playable {
			desired[items[pos].ID] = pos
		}
		if d == 0 || len(desired) >= c.cfg.MaxWarm {
			continue
		}
		if pos := active - d; pos >= lo && items[pos].Playable {
			desired[items[pos].ID] = pos
		}
	}
	return desired
}

// admitLocked transitions an identifier cold -> warming and starts its
// asynchronous acquisition.
func (c *Cache) admitLocked(id string, pos int) {
	c.seq++
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WarmupTimeout)
	e := &entry{
		id:        id,
		position:  pos,
		stage:     StageWarming,
		lastTouch: c.seq,
		gen:       c.seq,
		cancel:    cancel,
	}
	c.entries[id] = e
	c.log.Debug().Str("id", id).Int("position", pos).Msg("warming")

	go func(gen uint64) {
		start := time.Now()
		urls, dec, err := c.acquire(ctx, id)
		cancel()
		c.completions <- Acquisition{
			ID:      id,
			Gen:     gen,
			URLs:    urls,
			Decoder: dec,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}(e.gen)
}

// Complete applies one finished acquisition. It returns the entry's playback
// session and whether the entry is the active index right now. The caller
// only auto-plays when both hold, which is what invalidates stale
// become-ready-then-play continuations.
func (c *Cache) Complete(a Acquisition) (sess *playback.Session, isActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[a.ID]
	if !ok || e.gen != a.Gen {
		// Evicted (or re-admitted) while warming; the resource is no longer
		// reserved. Release a decoder that arrived anyway.
		if a.Decoder != nil {
			_ = a.Decoder.Close()
		}
		return nil, false
	}

	if a.Err != nil {
		// Failure downgrades to cold; retried lazily only if the entry
		// re-enters the window.
		c.log.Warn().Err(a.Err).Str("id", a.ID).Msg("warmup failed")
		metrics.WarmupFailures.Inc()
		e.cancel()
		delete(c.entries, a.ID)
		c.updateGaugeLocked()
		return nil, false
	}

	metrics.WarmupDuration.Observe(a.Elapsed.Seconds())
	e.urls = a.URLs
	e.session = playback.NewSession(a.ID, a.Decoder, c.muted)
	e.stage = StageWarm
	if a.ID == c.activeID {
		e.stage = StageActive
	}
	c.log.Debug().Str("id", a.ID).Dur("elapsed", a.Elapsed).Msg("warm")
	return e.session, a.ID == c.activeID
}

// IsPreloaded reports whether the identifier currently holds warm or active
// resources. Pure read.
func (c *Cache) IsPreloaded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && (e.stage == StageWarm || e.stage == StageActive)
}

// Stage returns the lifecycle stage for an identifier; absent entries are
// cold.
func (c *Cache) Stage(id string) Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.stage
	}
	return StageCold
}

// Session returns the playback session bound to the identifier, or nil.
func (c *Cache) Session(id string) *playback.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.session
	}
	return nil
}

// Release forcibly evicts one identifier. Idempotent: releasing a cold
// identifier is a no-op.
func (c *Cache) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.evictLocked(e, "explicit")
		c.updateGaugeLocked()
	}
}

// ReleaseAll evicts every entry regardless of window. Used on feed reset.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.evictLocked(e, "reset")
	}
	c.activeID = ""
	c.updateGaugeLocked()
}

// Shrink forcibly evicts down to a smaller ceiling under memory pressure,
// furthest positions first, ties broken by lowest last-touched sequence.
// The active entry is evicted last.
func (c *Cache) Shrink(toCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if toCount < 0 {
		toCount = 0
	}
	for len(c.entries) > toCount {
		victim := c.furthestLocked()
		if victim == nil {
			break
		}
		c.evictLocked(victim, "pressure")
	}
	c.updateGaugeLocked()
}

// furthestLocked picks the eviction candidate: greatest distance from the
// active index, ties by lowest lastTouch, the active entry only when nothing
// else remains.
func (c *Cache) furthestLocked() *entry {
	var best *entry
	for _, e := range c.entries {
		if e.id == c.activeID && len(c.entries) > 1 {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		ed, bd := distance(e.position, c.activeIndex), distance(best.position, c.activeIndex)
		if ed > bd || (ed == bd && e.lastTouch < best.lastTouch) {
			best = e
		}
	}
	return best
}

// evictLocked transitions an entry through cooling to cold, cancels a
// pending acquisition, and destroys the bound session deterministically.
func (c *Cache) evictLocked(e *entry, reason string) {
	e.stage = StageCooling
	e.cancel()
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			c.log.Warn().Err(err).Str("id", e.id).Msg("decoder release failed")
		}
	}
	delete(c.entries, e.id)
	metrics.Evictions.WithLabelValues(reason).Inc()
	c.log.Debug().Str("id", e.id).Str("reason", reason).Msg("evicted")
}

// SetMuted stores the process-wide mute flag and applies it to every live
// session. New sessions are created with the stored flag.
func (c *Cache) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	for _, e := range c.entries {
		if e.session != nil {
			_ = e.session.SetMuted(muted)
		}
	}
}

// WarmCount returns the number of entries holding a ceiling reservation
// (warming + warm + active).
func (c *Cache) WarmCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EntryState is a read-only view of one preload entry for surface frames.
type EntryState struct {
	ID       string `json:"id"`
	Stage    string `json:"stage"`
	Position int    `json:"position"`
}

// Snapshot returns the current preload states ordered by position.
func (c *Cache) Snapshot() []EntryState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EntryState, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, EntryState{ID: e.id, Stage: e.stage.String(), Position: e.position})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Position < out[j-1].Position; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// promoteActiveLocked moves the active identifier to StageActive when warm
// and demotes a previously active entry that lost the position.
func (c *Cache) promoteActiveLocked() {
	for _, e := range c.entries {
		switch {
		case e.id == c.activeID && e.stage == StageWarm:
			e.stage = StageActive
		case e.id != c.activeID && e.stage == StageActive:
			e.stage = StageWarm
		}
	}
}

func (c *Cache) updateGaugeLocked() {
	metrics.WarmEntries.Set(float64(len(c.entries)))
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
