// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package feed

import "context"

// PageSource fetches pages of a ranked feed. Implementations carry their own
// cursor semantics through the opaque page token.
type PageSource interface {
	// FetchPage requests one page of ranked entries. An empty pageToken
	// requests the first page.
	FetchPage(ctx context.Context, filters Filters, pageToken string) (Page, error)
}

// EngagementService applies engagement mutations against the backend. The
// engine flips flags optimistically and reconciles with the returned server
// state; it does not own the mutation transport.
type EngagementService interface {
	// ToggleLike flips the like state and returns the server-confirmed value.
	ToggleLike(ctx context.Context, entryID string) (bool, error)

	// Save marks the listing saved and returns the server-confirmed value.
	Save(ctx context.Context, entryID string) (bool, error)

	// Follow follows the author and returns the server-confirmed value.
	Follow(ctx context.Context, authorID string) (bool, error)
}
