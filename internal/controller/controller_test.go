// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/kikwetu/reelfeed/internal/cdn"
	"github.com/kikwetu/reelfeed/internal/feed"
	"github.com/kikwetu/reelfeed/internal/playback"
	"github.com/kikwetu/reelfeed/internal/preload"
	"github.com/kikwetu/reelfeed/internal/viewport"
)

// capturePub records published events per topic for assertions.
type capturePub struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newCapturePub() *capturePub {
	return &capturePub{events: make(map[string][][]byte)}
}

func (p *capturePub) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.events[topic] = append(p.events[topic], m.Payload)
	}
	return nil
}

func (p *capturePub) Close() error { return nil }

// lastFeedState decodes the most recent feed state event, if any.
func (p *capturePub) lastFeedState() (FeedStateEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.events[TopicFeedState]
	if len(evs) == 0 {
		return FeedStateEvent{}, false
	}
	var out FeedStateEvent
	if err := json.Unmarshal(evs[len(evs)-1], &out); err != nil {
		return FeedStateEvent{}, false
	}
	return out, true
}

func (p *capturePub) lastEntries() (EntriesEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.events[TopicEntries]
	if len(evs) == 0 {
		return EntriesEvent{}, false
	}
	var out EntriesEvent
	if err := json.Unmarshal(evs[len(evs)-1], &out); err != nil {
		return EntriesEvent{}, false
	}
	return out, true
}

func (p *capturePub) lastPlayback() (PlaybackEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.events[TopicPlayback]
	if len(evs) == 0 {
		return PlaybackEvent{}, false
	}
	var out PlaybackEvent
	if err := json.Unmarshal(evs[len(evs)-1], &out); err != nil {
		return PlaybackEvent{}, false
	}
	return out, true
}

// anyEntries reports whether any published entries event satisfies cond.
func (p *capturePub) anyEntries(cond func(EntriesEvent) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, raw := range p.events[TopicEntries] {
		var ev EntriesEvent
		if json.Unmarshal(raw, &ev) == nil && cond(ev) {
			return true
		}
	}
	return false
}

func (p *capturePub) playbackCount(entryID, state string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, raw := range p.events[TopicPlayback] {
		var ev PlaybackEvent
		if json.Unmarshal(raw, &ev) == nil && ev.EntryID == entryID && ev.State == state {
			n++
		}
	}
	return n
}

func (p *capturePub) errorCount(scope ErrorScope) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, raw := range p.events[TopicError] {
		var ev ErrorEvent
		if json.Unmarshal(raw, &ev) == nil && ev.Scope == scope {
			n++
		}
	}
	return n
}

// scriptedSource serves pre-built pages in order and counts fetches.
// When keyed is non-nil, pages are served by the request's algorithm
// instead of call order, so concurrent fetches cannot swap pages.
type scriptedSource struct {
	mu      sync.Mutex
	pages   []feed.Page
	keyed   map[feed.Algorithm]feed.Page
	errs    []error
	fetches int
	filters []feed.Filters // filters of each fetch, in order
	gate    chan struct{}  // when non-nil, FetchPage blocks until closed
}

func (s *scriptedSource) FetchPage(ctx context.Context, filters feed.Filters, _ string) (feed.Page, error) {
	s.mu.Lock()
	i := s.fetches
	s.fetches++
	s.filters = append(s.filters, filters)
	gate := s.gate
	keyed := s.keyed
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return feed.Page{}, ctx.Err()
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return feed.Page{}, s.errs[i]
	}
	if keyed != nil {
		return keyed[filters.Algorithm], nil
	}
	if i < len(s.pages) {
		return s.pages[i], nil
	}
	return feed.Page{}, nil
}

func (s *scriptedSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *scriptedSource) filterAt(i int) (feed.Filters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.filters) {
		return feed.Filters{}, false
	}
	return s.filters[i], true
}

// scriptedEngagement confirms or fails engagement mutations.
type scriptedEngagement struct {
	fail  bool
	state bool
}

func (s *scriptedEngagement) ToggleLike(context.Context, string) (bool, error) {
	if s.fail {
		return false, errors.New("like failed")
	}
	return s.state, nil
}

func (s *scriptedEngagement) Save(context.Context, string) (bool, error) {
	if s.fail {
		return false, errors.New("save failed")
	}
	return s.state, nil
}

func (s *scriptedEngagement) Follow(context.Context, string) (bool, error) {
	if s.fail {
		return false, errors.New("follow failed")
	}
	return s.state, nil
}

// trackedDecoder counts concurrent players through a shared gauge so tests
// can assert at most one decoder ever plays at a time.
type trackedDecoder struct {
	playing     atomic.Bool
	closed      atomic.Bool
	muted       atomic.Bool
	concurrency *atomic.Int32
	maxSeen     *atomic.Int32
}

func (d *trackedDecoder) Play() error {
	if d.playing.CompareAndSwap(false, true) {
		n := d.concurrency.Add(1)
		for {
			max := d.maxSeen.Load()
			if n <= max || d.maxSeen.CompareAndSwap(max, n) {
				break
			}
		}
	}
	return nil
}

func (d *trackedDecoder) Pause() error {
	if d.playing.CompareAndSwap(true, false) {
		d.concurrency.Add(-1)
	}
	return nil
}

func (d *trackedDecoder) SetMuted(m bool) error {
	d.muted.Store(m)
	return nil
}

func (d *trackedDecoder) Close() error {
	_ = d.Pause()
	d.closed.Store(true)
	return nil
}

type trackedFactory struct {
	mu          sync.Mutex
	decoders    []*trackedDecoder
	urls        []string
	concurrency atomic.Int32
	maxSeen     atomic.Int32
	failFor     map[string]bool // keyed by full stream URL
}

func (f *trackedFactory) Allocate(_ context.Context, streamURL string) (playback.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[streamURL] {
		return nil, errors.New("allocation refused")
	}
	d := &trackedDecoder{concurrency: &f.concurrency, maxSeen: &f.maxSeen}
	f.decoders = append(f.decoders, d)
	f.urls = append(f.urls, streamURL)
	return d, nil
}

func (f *trackedFactory) playingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.decoders {
		if d.playing.Load() && !d.closed.Load() {
			n++
		}
	}
	return n
}

type recordedView struct {
	entryID string
	seconds int64
}

type captureRecorder struct {
	mu    sync.Mutex
	views []recordedView
}

func (r *captureRecorder) Record(entryID string, watchSeconds int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, recordedView{entryID, watchSeconds})
}

func videoEntries(n int) []feed.Entry {
	out := make([]feed.Entry, n)
	for i := range out {
		id := fmt.Sprintf("e%d", i+1)
		out[i] = feed.Entry{
			ID:      id,
			Kind:    feed.KindVideo,
			VideoID: "v-" + id,
			Author:  feed.AuthorSummary{AuthorID: "a-" + id},
		}
	}
	return out
}

type ctlFixture struct {
	ctl     *Controller
	pub     *capturePub
	source  *scriptedSource
	factory *trackedFactory
	views   *captureRecorder
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, source *scriptedSource, engage feed.EngagementService) *ctlFixture {
	t.Helper()
	pub := newCapturePub()
	factory := &trackedFactory{failFor: make(map[string]bool)}
	views := &captureRecorder{}
	resolver := cdn.NewResolver("https://cdn.test")

	ctl := New(
		Config{
			Filters:             feed.Filters{Algorithm: feed.AlgorithmForYou},
			FetchAheadItems:     2,
			Preload:             preload.Config{MaxWarm: 4, Range: 1, WarmupTimeout: time.Second},
			VisibilityThreshold: 0.5,
			SettleReports:       1,
		},
		source, engage, resolver, factory, views, pub,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctl.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &ctlFixture{ctl: ctl, pub: pub, source: source, factory: factory, views: views, cancel: cancel}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func (f *ctlFixture) swipeTo(idx int) {
	f.ctl.ReportVisibility([]viewport.Sample{{Index: idx, Fraction: 1.0}})
}

func TestInitialLoadPlaysFirstEntry(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(3), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	if got := f.factory.playingCount(); got != 1 {
		t.Errorf("playing decoders = %d, want 1", got)
	}
	st, ok := f.pub.lastFeedState()
	if !ok || st.State != FeedStateReady {
		t.Errorf("feed state = %+v, want ready", st)
	}
	if st.ActiveIndex != 0 {
		t.Errorf("active index = %d, want 0", st.ActiveIndex)
	}
}

func TestReadyTracksFirstPageFetch(t *testing.T) {
	gate := make(chan struct{})
	source := &scriptedSource{
		pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}},
		gate:  gate,
	}
	f := newFixture(t, source, &scriptedEngagement{})

	time.Sleep(20 * time.Millisecond)
	if f.ctl.Ready() {
		t.Error("ready before first page settled")
	}

	close(gate)
	waitFor(t, f.ctl.Ready, "controller ready after first page")
}

func TestSinglePlayingAcrossRapidChanges(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(8), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	// A fling: rapid index changes, each one a stable report.
	for i := 1; i < 6; i++ {
		f.swipeTo(i)
	}

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e6" && ev.State == "playing"
	}, "final entry playing")

	if got := f.factory.playingCount(); got != 1 {
		t.Errorf("playing decoders = %d, want 1", got)
	}
	if max := f.factory.maxSeen.Load(); max > 1 {
		t.Errorf("max concurrent playing decoders = %d, want <= 1", max)
	}
}

func TestPageFetchSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	source := &scriptedSource{
		pages: []feed.Page{
			{Entries: videoEntries(4), NextPageToken: "p2", HasMore: true},
			{Entries: videoEntries(4), HasMore: false},
		},
	}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateReady
	}, "initial page loaded")

	// Block the second fetch, then hammer the trigger.
	source.mu.Lock()
	source.gate = gate
	source.mu.Unlock()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.ctl.ReportApproachingEnd(ctx)
	}
	// Drain the command queue before counting.
	waitFor(t, func() bool { return source.fetchCount() >= 2 }, "second fetch started")
	time.Sleep(20 * time.Millisecond)
	if got := source.fetchCount(); got != 2 {
		t.Errorf("fetches = %d, want 2 (one initial, one in flight)", got)
	}
	close(gate)

	waitFor(t, func() bool {
		ev, ok := f.pub.lastEntries()
		return ok && len(ev.Entries) == 8
	}, "second page appended")
}

func TestAlgorithmSwitchDiscardsInFlightPage(t *testing.T) {
	gate := make(chan struct{})
	stale := feed.Entry{ID: "old-1", Kind: feed.KindVideo, VideoID: "v-old-1", Author: feed.AuthorSummary{AuthorID: "a-old"}}
	source := &scriptedSource{
		keyed: map[feed.Algorithm]feed.Page{
			feed.AlgorithmForYou: {Entries: []feed.Entry{stale}, NextPageToken: "old-p2", HasMore: true},
			feed.AlgorithmNearby: {Entries: videoEntries(2), HasMore: false},
		},
		gate: gate,
	}
	f := newFixture(t, source, &scriptedEngagement{})

	// The initial for_you fetch is still blocked on the gate; switch
	// algorithms mid-flight.
	waitFor(t, func() bool { return source.fetchCount() == 1 }, "initial for_you fetch in flight")
	f.ctl.SetAlgorithm(context.Background(), feed.Filters{Algorithm: feed.AlgorithmNearby})

	waitFor(t, func() bool { return source.fetchCount() == 2 }, "page-1 fetch for the new algorithm issued")
	close(gate)

	waitFor(t, func() bool {
		ev, ok := f.pub.lastEntries()
		return ok && len(ev.Entries) == 2
	}, "new session entries published")

	ev, _ := f.pub.lastEntries()
	for _, e := range ev.Entries {
		if e.ID == "old-1" {
			t.Error("entry from the replaced fetch leaked into the new session")
		}
	}
	if filters, ok := source.filterAt(1); !ok || filters.Algorithm != feed.AlgorithmNearby {
		t.Errorf("second fetch filters = %+v, want nearby", filters)
	}
	st, ok := f.pub.lastFeedState()
	if !ok || st.State != FeedStateReady {
		t.Errorf("feed state = %+v, want ready", st)
	}
}

func TestPageFetchErrorKeepsEntries(t *testing.T) {
	source := &scriptedSource{
		pages: []feed.Page{{Entries: videoEntries(3), NextPageToken: "p2", HasMore: true}, {}},
		errs:  []error{nil, errors.New("backend down")},
	}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateReady
	}, "initial page loaded")

	f.ctl.ReportApproachingEnd(context.Background())

	waitFor(t, func() bool { return f.pub.errorCount(ErrorScopePage) == 1 }, "page error surfaced")

	ev, ok := f.pub.lastEntries()
	if !ok || len(ev.Entries) != 3 {
		t.Fatalf("entries after failed fetch = %d, want 3", len(ev.Entries))
	}
	st, _ := f.pub.lastFeedState()
	if st.State != FeedStateReady {
		t.Errorf("feed state = %q, want ready after load-more failure", st.State)
	}
}

func TestInitialFetchErrorSetsErrorState(t *testing.T) {
	source := &scriptedSource{errs: []error{errors.New("backend down")}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateError
	}, "error state published")
}

func TestEmptyFeedPublishesEmptyState(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateEmpty
	}, "empty state published")
}

func TestEngagementRevertsOnError(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{fail: true})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateReady
	}, "initial page loaded")

	f.ctl.Engage(context.Background(), EngageLike, "e2")

	// Optimistic flip first... (scan the event history: the revert can
	// overwrite the last event before the poll observes it)
	waitFor(t, func() bool {
		return f.pub.anyEntries(func(ev EntriesEvent) bool {
			return len(ev.Entries) == 2 && ev.Entries[1].Engagement.Liked
		})
	}, "optimistic like applied")

	// ...then the revert when the backend refuses.
	waitFor(t, func() bool {
		ev, ok := f.pub.lastEntries()
		return ok && len(ev.Entries) == 2 && !ev.Entries[1].Engagement.Liked
	}, "like reverted")
}

func TestEngagementConfirms(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{state: true})

	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.State == FeedStateReady
	}, "initial page loaded")

	f.ctl.Engage(context.Background(), EngageFollow, "e1")

	waitFor(t, func() bool {
		ev, ok := f.pub.lastEntries()
		return ok && len(ev.Entries) == 2 && ev.Entries[0].Engagement.Following
	}, "follow confirmed")
}

func TestRefreshReleasesEverything(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{
		{Entries: videoEntries(3), HasMore: false},
		{Entries: videoEntries(2), HasMore: false},
	}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	f.factory.mu.Lock()
	preRefresh := len(f.factory.decoders)
	f.factory.mu.Unlock()

	f.ctl.Refresh(context.Background())

	waitFor(t, func() bool { return source.fetchCount() == 2 }, "refresh refetched page one")
	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "refreshed first entry playing")

	// Decoders from the first batch were all closed during the reset.
	f.factory.mu.Lock()
	firstBatchOpen := 0
	for _, d := range f.factory.decoders[:preRefresh] {
		if !d.closed.Load() {
			firstBatchOpen++
		}
	}
	f.factory.mu.Unlock()
	if firstBatchOpen != 0 {
		t.Errorf("decoders from before refresh still open = %d, want 0", firstBatchOpen)
	}
}

func TestActiveAllocationFailureSurfacesItemError(t *testing.T) {
	source2 := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(1), HasMore: false}}}
	pub := newCapturePub()
	factory := &trackedFactory{failFor: map[string]bool{
		"https://cdn.test/videos/v-e1/master.m3u8": true,
	}}
	ctl := New(
		Config{
			Filters:             feed.Filters{Algorithm: feed.AlgorithmForYou},
			Preload:             preload.Config{MaxWarm: 4, Range: 1, WarmupTimeout: time.Second},
			VisibilityThreshold: 0.5,
			SettleReports:       1,
		},
		source2, &scriptedEngagement{}, cdn.NewResolver("https://cdn.test"), factory, &captureRecorder{}, pub,
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = ctl.Serve(ctx) }()
	defer func() { cancel(); <-done }()

	waitFor(t, func() bool { return pub.errorCount(ErrorScopeItem) >= 1 }, "item error for active entry")
}

func TestConstrainedNetworkPinsLowRendition(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(1), HasMore: false}}}
	pub := newCapturePub()
	factory := &trackedFactory{failFor: make(map[string]bool)}
	ctl := New(
		Config{
			Filters:             feed.Filters{Algorithm: feed.AlgorithmForYou},
			Preload:             preload.Config{MaxWarm: 4, Range: 1, WarmupTimeout: time.Second},
			VisibilityThreshold: 0.5,
			SettleReports:       1,
		},
		source, &scriptedEngagement{}, cdn.NewResolver("https://cdn.test"), factory, &captureRecorder{}, pub,
	)

	// Sampled before the loop starts so the first warm-up sees it.
	ctl.ReportBandwidth(1.0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = ctl.Serve(ctx) }()
	defer func() { cancel(); <-done }()

	waitFor(t, func() bool {
		ev, ok := pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "entry playing on constrained network")

	factory.mu.Lock()
	defer factory.mu.Unlock()
	if len(factory.urls) == 0 {
		t.Fatal("no allocation recorded")
	}
	if got := factory.urls[0]; got != "https://cdn.test/videos/v-e1/480p.mp4" {
		t.Errorf("allocated stream = %q, want the 480p direct rendition", got)
	}
}

func TestBackgroundingPausesActive(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	f.ctl.SetForeground(false)
	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "paused"
	}, "active paused on background")
	if got := f.factory.playingCount(); got != 0 {
		t.Errorf("playing decoders while backgrounded = %d, want 0", got)
	}

	f.ctl.SetForeground(true)
	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "active resumed on foreground")
}

func TestMuteAppliesToDecoders(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	f.ctl.ToggleMute()
	waitFor(t, func() bool {
		st, ok := f.pub.lastFeedState()
		return ok && st.Muted
	}, "mute flag published")

	waitFor(t, func() bool {
		f.factory.mu.Lock()
		defer f.factory.mu.Unlock()
		for _, d := range f.factory.decoders {
			if !d.closed.Load() && !d.muted.Load() {
				return false
			}
		}
		return len(f.factory.decoders) > 0
	}, "all live decoders muted")
}

func TestWatchTimeFlushedOnSwipe(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(3), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	// Real clock: watch for over a second so a whole second accrues.
	time.Sleep(1100 * time.Millisecond)
	f.swipeTo(1)

	waitFor(t, func() bool {
		f.views.mu.Lock()
		defer f.views.mu.Unlock()
		for _, v := range f.views.views {
			if v.entryID == "e1" && v.seconds >= 1 {
				return true
			}
		}
		return false
	}, "watch time flushed for outgoing entry")
}

func TestRetryItemFlushesWatchTime(t *testing.T) {
	source := &scriptedSource{pages: []feed.Page{{Entries: videoEntries(2), HasMore: false}}}
	f := newFixture(t, source, &scriptedEngagement{})

	waitFor(t, func() bool {
		ev, ok := f.pub.lastPlayback()
		return ok && ev.EntryID == "e1" && ev.State == "playing"
	}, "first entry playing")

	// Real clock: accrue a whole second before the retry destroys the
	// session.
	time.Sleep(1100 * time.Millisecond)
	f.ctl.RetryItem("e1")

	waitFor(t, func() bool {
		f.views.mu.Lock()
		defer f.views.mu.Unlock()
		for _, v := range f.views.views {
			if v.entryID == "e1" && v.seconds >= 1 {
				return true
			}
		}
		return false
	}, "watch time flushed before the retry released the session")

	// The re-admitted session counts from zero; its watch time must not be
	// suppressed by the previous session's flush mark.
	waitFor(t, func() bool {
		return f.pub.playbackCount("e1", "playing") >= 2
	}, "entry playing again after retry")

	time.Sleep(1100 * time.Millisecond)
	f.swipeTo(1)

	waitFor(t, func() bool {
		f.views.mu.Lock()
		defer f.views.mu.Unlock()
		flushes := 0
		for _, v := range f.views.views {
			if v.entryID == "e1" && v.seconds >= 1 {
				flushes++
			}
		}
		return flushes >= 2
	}, "second session's watch time flushed on swipe")
}
