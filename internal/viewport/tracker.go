// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package viewport resolves which single feed position is "the" visible item
// as the user scrolls a snap-to-item vertical list.
//
// The rendering surface reports per-item visibility fractions; the tracker
// emits an active index only when one item crosses the visibility threshold,
// is the most visible among candidates, and stays the winner for a
// configurable number of consecutive reports. Transient partial overlaps
// during a fling never surface as index changes.
package viewport

// Sample is one item's visibility in a report: the feed position and the
// fraction of the item's area currently on screen, in [0, 1].
type Sample struct {
	Index    int     `json:"index"`
	Fraction float64 `json:"fraction"`
}

// Tracker debounces raw visibility reports into stable active-index changes.
// Not safe for concurrent use; the controller loop is the only caller.
type Tracker struct {
	threshold float64
	settle    int

	active    int
	candidate int
	streak    int
}

// NewTracker creates a tracker. threshold is the minimum visible fraction
// (default 0.5 when zero); settle is how many consecutive reports a candidate
// must win before emission (default 1).
func NewTracker(threshold float64, settle int) *Tracker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	if settle < 1 {
		settle = 1
	}
	return &Tracker{
		threshold: threshold,
		settle:    settle,
		active:    -1,
		candidate: -1,
	}
}

// Active returns the last emitted index, -1 before any emission.
func (t *Tracker) Active() int {
	return t.active
}

// Observe consumes one visibility report. It returns the newly resolved
// active index and true when a stable change occurred; otherwise the current
// active index and false.
func (t *Tracker) Observe(samples []Sample) (int, bool) {
	winner, ok := mostVisible(samples, t.threshold)
	if !ok {
		// Nothing above threshold mid-gesture; candidate no longer stable.
		t.candidate, t.streak = -1, 0
		return t.active, false
	}

	if winner == t.active {
		t.candidate, t.streak = -1, 0
		return t.active, false
	}

	if winner == t.candidate {
		t.streak++
	} else {
		t.candidate, t.streak = winner, 1
	}

	if t.streak < t.settle {
		return t.active, false
	}

	t.active = winner
	t.candidate, t.streak = -1, 0
	return t.active, true
}

// Reset clears tracking state on feed reset. The next stable winner emits
// again even if it matches the pre-reset index.
func (t *Tracker) Reset() {
	t.active = -1
	t.candidate = -1
	t.streak = 0
}

// mostVisible returns the index with the greatest fraction at or above the
// threshold. Ties go to the lower index (the item earlier in scroll order).
func mostVisible(samples []Sample, threshold float64) (int, bool) {
	bestIdx, bestFrac, found := 0, 0.0, false
	for _, s := range samples {
		if s.Fraction < threshold {
			continue
		}
		if !found || s.Fraction > bestFrac || (s.Fraction == bestFrac && s.Index < bestIdx) {
			bestIdx, bestFrac, found = s.Index, s.Fraction, true
		}
	}
	return bestIdx, found
}
