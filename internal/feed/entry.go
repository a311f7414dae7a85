// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package feed defines the ranked feed data model and the page source client
// that fetches pages of entries from the feed ranking service.
package feed

// Kind distinguishes entry variants once at the boundary instead of
// threading string comparisons through callbacks.
type Kind int

const (
	// KindVideo is a real playable feed entry.
	KindVideo Kind = iota

	// KindPlaceholder is a non-playable slot (skeleton, ad slot, moderation
	// tombstone). Placeholders never hold playback resources.
	KindPlaceholder
)

// Algorithm selects the ranked feed variant.
type Algorithm string

const (
	AlgorithmForYou    Algorithm = "for_you"
	AlgorithmFollowing Algorithm = "following"
	AlgorithmNearby    Algorithm = "nearby"
)

// Valid reports whether the algorithm is one the ranking service accepts.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmForYou, AlgorithmFollowing, AlgorithmNearby:
		return true
	}
	return false
}

// Filters constrain a feed session.
type Filters struct {
	Algorithm Algorithm `json:"algorithm"`
	Category  string    `json:"category,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// ListingSummary is the denormalized listing attached to a feed entry.
type ListingSummary struct {
	ListingID string `json:"listing_id"`
	Title     string `json:"title"`
	Price     int64  `json:"price"` // minor units
	Currency  string `json:"currency"`
	Location  string `json:"location"`
}

// AuthorSummary is the denormalized author attached to a feed entry.
type AuthorSummary struct {
	AuthorID  string `json:"author_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Engagement holds per-entry flags mutated optimistically on user action and
// reconciled against server responses.
type Engagement struct {
	Liked     bool `json:"liked"`
	Saved     bool `json:"saved"`
	Following bool `json:"following"`
}

// Entry is one ranked video item. Immutable once fetched except for the
// Engagement flags. Position is the ordering index within the current feed
// session.
type Entry struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"-"`
	VideoID    string         `json:"video_id"`
	Listing    ListingSummary `json:"listing"`
	Author     AuthorSummary  `json:"author"`
	Engagement Engagement     `json:"engagement"`
	Position   int            `json:"position"`
}

// Playable reports whether this entry can hold playback resources.
func (e Entry) Playable() bool {
	return e.Kind == KindVideo && e.VideoID != ""
}

// ResolveKind tags an entry's variant once at the boundary. Entries without a
// video identifier are placeholders.
func ResolveKind(e *Entry) {
	if e.VideoID == "" {
		e.Kind = KindPlaceholder
	} else {
		e.Kind = KindVideo
	}
}

// Page is one fetched page of ranked entries.
type Page struct {
	Entries       []Entry `json:"entries"`
	NextPageToken string  `json:"next_page_token,omitempty"`
	HasMore       bool    `json:"has_more"`
}
