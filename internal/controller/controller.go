// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package controller orchestrates the Discover feed: it owns the ordered
// entry list, the active index, the process-wide mute flag, and wires the
// viewport tracker, preload cache, playback sessions, and analytics dispatch
// together.
//
// All orchestration runs on a single event-loop goroutine. Public methods
// post commands into the loop; asynchronous work (page fetches, resource
// warm-ups, engagement mutations) completes by delivering results back into
// the same loop. That serialization is what upholds the exactly-one-playing
// invariant without locks: a rapid burst of index changes is processed
// strictly in order, and a warm-up finishing for a no-longer-active index
// never triggers playback.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kikwetu/reelfeed/internal/bandwidth"
	"github.com/kikwetu/reelfeed/internal/cdn"
	"github.com/kikwetu/reelfeed/internal/feed"
	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/playback"
	"github.com/kikwetu/reelfeed/internal/preload"
	"github.com/kikwetu/reelfeed/internal/viewport"
)

// Config bounds the controller.
type Config struct {
	// Filters is the initial feed selection.
	Filters feed.Filters

	// FetchAheadItems triggers the next page fetch when the active index is
	// within this many items of the end of the list.
	FetchAheadItems int

	// Preload configures the eviction cache.
	Preload preload.Config

	// VisibilityThreshold and SettleReports configure the viewport tracker.
	VisibilityThreshold float64
	SettleReports       int
}

// Controller is the feed orchestrator. Construct with New, run with Serve.
type Controller struct {
	cfg      Config
	source   feed.PageSource
	engage   feed.EngagementService
	resolver *cdn.Resolver
	decoders playback.DecoderFactory
	dispatch ViewRecorder
	pub      message.Publisher

	cache   *preload.Cache
	tracker *viewport.Tracker
	bw      *bandwidth.Estimator

	// Loop-owned state. Touched only by the Serve goroutine.
	entries       []feed.Entry
	state         FeedState
	activeIndex   int
	nextPageToken string
	hasMore       bool
	fetchInFlight bool
	fetchGen      uint64 // bumped on reset; stale page results are discarded
	muted         bool
	foregrounded  bool
	flushed       map[string]int64 // watch seconds already sent per entry

	// videoIDs maps entry ID to video ID for acquisition goroutines, which
	// run outside the loop.
	videoIDs syncVideoIDs

	cmds          chan func()
	pageResults   chan pageResult
	engageResults chan engageResult

	// readyFlag flips once the first page fetch settles, whatever the
	// outcome; the readiness probe keys on it.
	readyFlag atomic.Bool

	log zerolog.Logger
}

// ViewRecorder accepts watch-time flushes. Satisfied by
// analytics.Dispatcher.
type ViewRecorder interface {
	Record(entryID string, watchSeconds int64)
}

type pageResult struct {
	page feed.Page
	err  error
	gen  uint64
}

type engageResult struct {
	entryID string
	kind    EngagementKind
	state   bool
	err     error
}

// New creates a feed controller.
func New(
	cfg Config,
	source feed.PageSource,
	engage feed.EngagementService,
	resolver *cdn.Resolver,
	decoders playback.DecoderFactory,
	dispatch ViewRecorder,
	pub message.Publisher,
) *Controller {
	if cfg.FetchAheadItems <= 0 {
		cfg.FetchAheadItems = 3
	}
	c := &Controller{
		cfg:           cfg,
		source:        source,
		engage:        engage,
		resolver:      resolver,
		decoders:      decoders,
		dispatch:      dispatch,
		pub:           pub,
		tracker:       viewport.NewTracker(cfg.VisibilityThreshold, cfg.SettleReports),
		bw:            bandwidth.NewEstimator(),
		state:         FeedStateLoading,
		activeIndex:   -1,
		foregrounded:  true,
		flushed:       make(map[string]int64),
		cmds:          make(chan func(), 64),
		pageResults:   make(chan pageResult, 1),
		engageResults: make(chan engageResult, 16),
		log:           logging.With().Str("component", "controller").Logger(),
	}
	c.cache = preload.New(cfg.Preload, c.acquireEntry)
	return c
}

// Serve runs the event loop until the context is canceled. It implements
// suture.Service.
func (c *Controller) Serve(ctx context.Context) error {
	c.publishFeedState()
	c.startFetch(ctx)

	for {
		select {
		case <-ctx.Done():
			c.flushActive()
			c.cache.ReleaseAll()
			return ctx.Err()
		case cmd := <-c.cmds:
			cmd()
		case a := <-c.cache.Completions():
			c.handleCompletion(a)
		case res := <-c.pageResults:
			c.handlePage(ctx, res)
		case res := <-c.engageResults:
			c.handleEngageResult(res)
		}
	}
}

func (c *Controller) String() string {
	return "feed-controller"
}

// Ready reports whether the first page fetch has settled. The feed may
// still be in an error state; ready means the surface has something
// determinate to render.
func (c *Controller) Ready() bool {
	return c.readyFlag.Load()
}

// post schedules fn on the event loop.
func (c *Controller) post(fn func()) {
	c.cmds <- fn
}

// ---- Public surface-facing API. Each method posts into the loop. ----

// ReportVisibility feeds one raw visibility report from the rendering
// surface into the viewport tracker.
func (c *Controller) ReportVisibility(samples []viewport.Sample) {
	c.post(func() {
		if idx, changed := c.tracker.Observe(samples); changed {
			c.activateIndex(idx)
		}
	})
}

// ReportBandwidth folds one surface-measured throughput sample into the
// network estimate. The estimator is thread safe; no loop hop needed.
func (c *Controller) ReportBandwidth(mbps float64) {
	c.bw.Observe(mbps)
}

// ReportApproachingEnd signals the list is nearing its end.
func (c *Controller) ReportApproachingEnd(ctx context.Context) {
	c.post(func() { c.maybeFetchNext(ctx) })
}

// TogglePlayPause flips the active session between playing and paused.
func (c *Controller) TogglePlayPause() {
	c.post(func() {
		sess := c.activeSession()
		if sess == nil {
			return
		}
		if err := sess.TogglePlayPause(); err != nil {
			c.stallActive(sess, err)
			return
		}
		c.publishPlayback(sess)
	})
}

// ToggleMute flips the process-wide mute flag across every session.
func (c *Controller) ToggleMute() {
	c.post(func() {
		c.muted = !c.muted
		c.cache.SetMuted(c.muted)
		c.publishFeedState()
	})
}

// Engage applies an optimistic engagement flip and reconciles with the
// server response off-loop.
func (c *Controller) Engage(ctx context.Context, kind EngagementKind, entryID string) {
	c.post(func() { c.applyEngage(ctx, kind, entryID) })
}

// Refresh resets the feed: releases every resource, clears entries, and
// re-fetches page one.
func (c *Controller) Refresh(ctx context.Context) {
	c.post(func() { c.reset(ctx, c.cfg.Filters) })
}

// SetAlgorithm switches the ranked feed variant; a filter change is a reset.
func (c *Controller) SetAlgorithm(ctx context.Context, filters feed.Filters) {
	c.post(func() {
		if !filters.Algorithm.Valid() {
			c.log.Warn().Str("algorithm", string(filters.Algorithm)).Msg("ignoring unknown algorithm")
			return
		}
		c.reset(ctx, filters)
	})
}

// RetryItem re-admits a failed entry's resources.
func (c *Controller) RetryItem(entryID string) {
	c.post(func() {
		// Seconds watched before the stall are real views; flush them
		// before the release destroys the session.
		if sess := c.cache.Session(entryID); sess != nil {
			c.flushWatchTime(sess)
		}
		c.cache.Release(entryID)
		if c.activeIndex >= 0 {
			c.cache.SetActiveIndex(c.activeIndex, c.items())
		}
	})
}

// RetryPage retries a failed load-more fetch.
func (c *Controller) RetryPage(ctx context.Context) {
	c.post(func() { c.maybeFetchNext(ctx) })
}

// SetForeground pauses the active session when the app backgrounds and
// resumes it on return. Zero sessions play while backgrounded.
func (c *Controller) SetForeground(fg bool) {
	c.post(func() {
		c.foregrounded = fg
		sess := c.activeSession()
		if sess == nil {
			return
		}
		if !fg {
			if err := sess.Pause(); err == nil {
				c.publishPlayback(sess)
			}
			return
		}
		if err := sess.Play(); err != nil {
			c.stallActive(sess, err)
			return
		}
		c.publishPlayback(sess)
	})
}

// OnMemoryPressure forcibly shrinks the warm set, furthest entries first.
func (c *Controller) OnMemoryPressure(toCount int) {
	c.post(func() {
		// Shrink can evict the active entry; bank its watch time first.
		if sess := c.activeSession(); sess != nil {
			c.flushWatchTime(sess)
		}
		c.cache.Shrink(toCount)
		c.publishEntries()
	})
}

// ---- Loop internals. ----

// activateIndex handles one stable active-index change: pause and flush the
// outgoing entry, recompute the retention window, then play the incoming
// entry once its resources are ready.
func (c *Controller) activateIndex(idx int) {
	if idx < 0 || idx >= len(c.entries) || idx == c.activeIndex {
		return
	}

	// Pause before play: two decoders must never compete for the audio
	// output device.
	c.flushActive()

	c.activeIndex = idx
	c.cache.SetActiveIndex(idx, c.items())

	entry := c.entries[idx]
	if sess := c.cache.Session(entry.ID); sess != nil && c.foregrounded {
		if err := sess.Play(); err != nil {
			c.stallActive(sess, err)
		} else {
			c.publishPlayback(sess)
		}
	}
	// Otherwise the entry is still warming; handleCompletion plays it if it
	// is still active when it becomes ready.

	c.publishFeedState()
	c.publishEntries()
}

// flushActive pauses the outgoing session and flushes its unreported watch
// time. Fire-and-forget: the dispatcher never blocks the loop.
func (c *Controller) flushActive() {
	sess := c.activeSession()
	if sess == nil {
		return
	}
	if err := sess.Pause(); err != nil {
		c.log.Warn().Err(err).Str("id", sess.EntryID()).Msg("pause on deactivate failed")
	}
	c.flushWatchTime(sess)
}

// flushWatchTime sends only the delta since the last flush so an entry that
// becomes active twice is never double counted.
func (c *Controller) flushWatchTime(sess *playback.Session) {
	id := sess.EntryID()
	total := sess.AccumulatedWatchSeconds()
	if delta := total - c.flushed[id]; delta > 0 {
		c.flushed[id] = total
		c.dispatch.Record(id, delta)
	}
}

// handleCompletion routes one finished warm-up through the cache. Play fires
// only when the entry is still the active index at this moment; completions
// for stale indexes settle as plain warm entries.
func (c *Controller) handleCompletion(a preload.Acquisition) {
	sess, isActive := c.cache.Complete(a)

	if a.Err != nil {
		if c.activeEntryID() == a.ID {
			// Only the active item surfaces an inline retry.
			c.publishError(ErrorScopeItem, a.ID, "video failed to load")
		}
		c.publishEntries()
		return
	}

	// A completed warm-up is a fresh session counting from zero. Drop the
	// previous session's flush high-water mark so future deltas are not
	// measured against it.
	delete(c.flushed, a.ID)

	if sess != nil && isActive && c.foregrounded {
		if err := sess.Play(); err != nil {
			c.stallActive(sess, err)
		} else {
			c.publishPlayback(sess)
		}
	}
	c.publishEntries()
}

// stallActive marks a session errored and surfaces the inline retry.
func (c *Controller) stallActive(sess *playback.Session, err error) {
	sess.MarkStalled(err)
	c.log.Warn().Err(err).Str("id", sess.EntryID()).Msg("playback stalled")
	c.publishPlayback(sess)
	c.publishError(ErrorScopeItem, sess.EntryID(), "playback stalled")
}

// maybeFetchNext starts a page fetch unless one is already in flight or the
// feed is exhausted. At most one concurrent fetch, ever.
func (c *Controller) maybeFetchNext(ctx context.Context) {
	if c.fetchInFlight {
		return
	}
	if len(c.entries) > 0 && !c.hasMore {
		return
	}
	c.startFetch(ctx)
}

func (c *Controller) startFetch(ctx context.Context) {
	c.fetchInFlight = true
	token := c.nextPageToken
	filters := c.cfg.Filters
	gen := c.fetchGen
	go func() {
		page, err := c.source.FetchPage(ctx, filters, token)
		c.pageResults <- pageResult{page: page, err: err, gen: gen}
	}()
}

func (c *Controller) handlePage(ctx context.Context, res pageResult) {
	// A reset invalidates every fetch issued before it. The result belongs
	// to the old filters and page token; nothing in it may leak into the
	// current feed session.
	if res.gen != c.fetchGen {
		c.log.Debug().Uint64("gen", res.gen).Msg("discarding stale page result")
		return
	}

	c.fetchInFlight = false
	c.readyFlag.Store(true)

	if res.err != nil {
		c.log.Warn().Err(res.err).Msg("page fetch failed")
		if len(c.entries) == 0 {
			c.state = FeedStateError
			c.publishFeedState()
			return
		}
		// Rendered entries stay interactive; only "load more" errs.
		c.publishError(ErrorScopePage, "", "could not load more videos")
		return
	}

	base := len(c.entries)
	for i := range res.page.Entries {
		e := res.page.Entries[i]
		e.Position = base + i
		c.entries = append(c.entries, e)
		if e.Playable() {
			c.videoIDs.store(e.ID, e.VideoID)
		}
	}
	c.nextPageToken = res.page.NextPageToken
	c.hasMore = res.page.HasMore

	if len(c.entries) == 0 {
		// Moderation can empty a feed; the surface renders a distinct
		// placeholder, never a blank list.
		c.state = FeedStateEmpty
		c.publishFeedState()
		return
	}

	c.state = FeedStateReady
	c.publishEntries()
	c.publishFeedState()

	if c.activeIndex < 0 {
		c.activateIndex(0)
	} else if len(c.entries)-1-c.activeIndex <= c.cfg.FetchAheadItems && c.hasMore {
		c.maybeFetchNext(ctx)
	}
}

// reset implements pull-to-refresh and feed-filter switches.
func (c *Controller) reset(ctx context.Context, filters feed.Filters) {
	c.flushActive()
	c.cache.ReleaseAll()
	c.tracker.Reset()

	// Orphan any in-flight fetch so page 1 of the new session starts now.
	c.fetchGen++
	c.fetchInFlight = false

	c.cfg.Filters = filters
	c.entries = nil
	c.videoIDs.clear()
	c.flushed = make(map[string]int64)
	c.activeIndex = -1
	c.nextPageToken = ""
	c.hasMore = false
	c.state = FeedStateLoading

	c.publishFeedState()
	c.publishEntries()
	c.maybeFetchNext(ctx)
}

// applyEngage flips the flag optimistically, then reconciles off-loop.
func (c *Controller) applyEngage(ctx context.Context, kind EngagementKind, entryID string) {
	idx := c.indexOf(entryID)
	if idx < 0 {
		return
	}
	e := &c.entries[idx]

	var optimistic bool
	switch kind {
	case EngageLike:
		e.Engagement.Liked = !e.Engagement.Liked
		optimistic = e.Engagement.Liked
	case EngageSave:
		e.Engagement.Saved = !e.Engagement.Saved
		optimistic = e.Engagement.Saved
	case EngageFollow:
		e.Engagement.Following = !e.Engagement.Following
		optimistic = e.Engagement.Following
	default:
		return
	}
	c.publishEntries()

	authorID := e.Author.AuthorID
	go func() {
		var (
			state bool
			err   error
		)
		switch kind {
		case EngageLike:
			state, err = c.engage.ToggleLike(ctx, entryID)
		case EngageSave:
			state, err = c.engage.Save(ctx, entryID)
		case EngageFollow:
			state, err = c.engage.Follow(ctx, authorID)
		}
		if err != nil {
			// Revert to the pre-flip value on error.
			state = !optimistic
		}
		c.engageResults <- engageResult{entryID: entryID, kind: kind, state: state, err: err}
	}()
}

// handleEngageResult reconciles a flag against the server-confirmed state.
func (c *Controller) handleEngageResult(res engageResult) {
	idx := c.indexOf(res.entryID)
	if idx < 0 {
		return
	}
	if res.err != nil {
		c.log.Warn().Err(res.err).Str("id", res.entryID).Str("kind", string(res.kind)).Msg("engagement failed, reverting")
	}

	e := &c.entries[idx]
	switch res.kind {
	case EngageLike:
		e.Engagement.Liked = res.state
	case EngageSave:
		e.Engagement.Saved = res.state
	case EngageFollow:
		e.Engagement.Following = res.state
	}
	c.publishEntries()
}

// acquireEntry is the cache's Acquirer: resolve stream URLs, then allocate a
// decoder. Runs on acquisition goroutines, off-loop.
func (c *Controller) acquireEntry(ctx context.Context, entryID string) (cdn.StreamURLs, playback.Decoder, error) {
	videoID, ok := c.videoIDs.load(entryID)
	if !ok {
		return cdn.StreamURLs{}, nil, fmt.Errorf("controller: no video for entry %s", entryID)
	}
	urls, err := c.resolver.Resolve(videoID)
	if err != nil {
		return cdn.StreamURLs{}, nil, err
	}

	// On a known-constrained network pin the low direct rendition; an
	// adaptive manifest oscillates there.
	streamURL := urls.Best(c.bw.EstimateMbps())
	if c.bw.Constrained() {
		if u, ok := urls.QualityURLs[cdn.QualityLow]; ok {
			streamURL = u
		}
	}

	dec, err := c.decoders.Allocate(ctx, streamURL)
	if err != nil {
		return cdn.StreamURLs{}, nil, err
	}
	return urls, dec, nil
}

func (c *Controller) items() []preload.Item {
	out := make([]preload.Item, len(c.entries))
	for i, e := range c.entries {
		out[i] = preload.Item{ID: e.ID, Playable: e.Playable()}
	}
	return out
}

func (c *Controller) indexOf(entryID string) int {
	for i := range c.entries {
		if c.entries[i].ID == entryID {
			return i
		}
	}
	return -1
}

func (c *Controller) activeEntryID() string {
	if c.activeIndex < 0 || c.activeIndex >= len(c.entries) {
		return ""
	}
	return c.entries[c.activeIndex].ID
}

func (c *Controller) activeSession() *playback.Session {
	id := c.activeEntryID()
	if id == "" {
		return nil
	}
	return c.cache.Session(id)
}

// ---- Event publishing. ----

func (c *Controller) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := c.pub.Publish(topic, msg); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("publish event")
	}
}

func (c *Controller) publishFeedState() {
	c.publish(TopicFeedState, FeedStateEvent{
		State:       c.state,
		ActiveIndex: c.activeIndex,
		HasMore:     c.hasMore,
		Muted:       c.muted,
	})
}

func (c *Controller) publishEntries() {
	c.publish(TopicEntries, EntriesEvent{
		Entries: c.entries,
		Preload: c.cache.Snapshot(),
	})
}

func (c *Controller) publishPlayback(sess *playback.Session) {
	c.publish(TopicPlayback, PlaybackEvent{
		EntryID: sess.EntryID(),
		State:   sess.State().String(),
	})
}

func (c *Controller) publishError(scope ErrorScope, entryID, msg string) {
	c.publish(TopicError, ErrorEvent{Scope: scope, EntryID: entryID, Message: msg})
}

// syncVideoIDs is a mutex-guarded entry-to-video map shared between the loop
// and acquisition goroutines.
type syncVideoIDs struct {
	mu sync.RWMutex
	m  map[string]string
}

func (s *syncVideoIDs) store(entryID, videoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[entryID] = videoID
}

func (s *syncVideoIDs) load(entryID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[entryID]
	return v, ok
}

func (s *syncVideoIDs) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = nil
}
