// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package surface

import (
	"github.com/goccy/go-json"

	"github.com/kikwetu/reelfeed/internal/viewport"
)

// Inbound frame types. The rendering surface drives the engine with these.
const (
	FrameVisibility     = "visibility"
	FrameApproachingEnd = "approaching_end"
	FrameTogglePlay     = "toggle_play"
	FrameToggleMute     = "toggle_mute"
	FrameEngage         = "engage"
	FrameRefresh        = "refresh"
	FrameSetAlgorithm   = "set_algorithm"
	FrameRetryItem      = "retry_item"
	FrameRetryPage      = "retry_page"
	FrameForeground     = "foreground"
	FrameBandwidth      = "bandwidth"
	FramePing           = "ping"
)

// Outbound frame types. The engine pushes state with these.
const (
	FrameEntries   = "entries"
	FrameFeedState = "feed_state"
	FramePlayback  = "playback_state"
	FrameError     = "feed_error"
	FramePong      = "pong"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// visibilityData carries raw per-item visibility fractions.
type visibilityData struct {
	Samples []viewport.Sample `json:"samples"`
}

type engageData struct {
	Kind    string `json:"kind"`
	EntryID string `json:"entry_id"`
}

type setAlgorithmData struct {
	Algorithm string `json:"algorithm"`
}

type retryItemData struct {
	EntryID string `json:"entry_id"`
}

type foregroundData struct {
	Foregrounded bool `json:"foregrounded"`
}

// bandwidthData carries one measured download throughput sample.
type bandwidthData struct {
	Mbps float64 `json:"mbps"`
}

// NewFrame marshals a payload into an outbound frame. Marshal failures
// return a zero frame and the error; callers log and drop.
func NewFrame(frameType string, data any) (Frame, error) {
	if data == nil {
		return Frame{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}
