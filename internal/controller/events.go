// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package controller

import (
	"github.com/kikwetu/reelfeed/internal/feed"
	"github.com/kikwetu/reelfeed/internal/preload"
)

// Watermill topics the controller publishes on. The rendering surface
// subscribes to these instead of wiring per-callback props.
const (
	TopicFeedState = "feed.state"
	TopicEntries   = "feed.entries"
	TopicPlayback  = "playback.state"
	TopicError     = "feed.error"
)

// FeedState is the coarse state the surface renders around the list.
type FeedState string

const (
	// FeedStateLoading: first page fetch in flight, nothing to render yet.
	FeedStateLoading FeedState = "loading"

	// FeedStateReady: entries are rendered and scrollable.
	FeedStateReady FeedState = "ready"

	// FeedStateEmpty: a completed fetch produced no entries. The surface
	// must render a distinct placeholder, never a blank list.
	FeedStateEmpty FeedState = "empty"

	// FeedStateError: the first page failed; a full-screen retry is shown.
	FeedStateError FeedState = "error"
)

// FeedStateEvent is published on TopicFeedState.
type FeedStateEvent struct {
	State       FeedState `json:"state"`
	ActiveIndex int       `json:"active_index"`
	HasMore     bool      `json:"has_more"`
	Muted       bool      `json:"muted"`
}

// EntriesEvent is published on TopicEntries whenever the entry list or any
// engagement flag changes.
type EntriesEvent struct {
	Entries []feed.Entry         `json:"entries"`
	Preload []preload.EntryState `json:"preload"`
}

// PlaybackEvent is published on TopicPlayback on session state changes.
type PlaybackEvent struct {
	EntryID string `json:"entry_id"`
	State   string `json:"state"`
}

// ErrorScope distinguishes per-item from load-more failures.
type ErrorScope string

const (
	ErrorScopeItem ErrorScope = "item"
	ErrorScopePage ErrorScope = "page"
)

// ErrorEvent is published on TopicError. Item errors carry the entry whose
// inline retry should render; page errors append a retry button to the list.
type ErrorEvent struct {
	Scope   ErrorScope `json:"scope"`
	EntryID string     `json:"entry_id,omitempty"`
	Message string     `json:"message"`
}

// EngagementKind selects which optimistic flag an engage command flips.
type EngagementKind string

const (
	EngageLike   EngagementKind = "like"
	EngageSave   EngagementKind = "save"
	EngageFollow EngagementKind = "follow"
)
