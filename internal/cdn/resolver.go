// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package cdn derives playable stream URLs for abstract video identifiers.
// URL construction is pure; the CDN's transcoding pipeline and URL signing
// are external collaborators.
package cdn

import (
	"fmt"
	"strings"
)

// Quality identifies a direct stream quality tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// qualityProfile maps a tier to its rendition name and the minimum device
// bandwidth that makes it a sensible direct-play choice.
type qualityProfile struct {
	rendition string
	minMbps   float64
}

var qualityProfiles = map[Quality]qualityProfile{
	QualityLow:    {rendition: "480p", minMbps: 0},
	QualityMedium: {rendition: "720p", minMbps: 2.5},
	QualityHigh:   {rendition: "1080p", minMbps: 6.0},
}

// StreamURLs holds every playable URL for one video. The adaptive manifest is
// preferred; the direct quality tiers are the fallback when the player cannot
// consume an adaptive stream.
type StreamURLs struct {
	ManifestURL string             `json:"manifest_url"`
	QualityURLs map[Quality]string `json:"quality_urls"`
}

// Empty reports whether no URL was resolved.
func (s StreamURLs) Empty() bool {
	return s.ManifestURL == "" && len(s.QualityURLs) == 0
}

// Best returns the preferred URL for the given device bandwidth hint in Mbps.
// The adaptive manifest always wins; with no manifest the highest direct tier
// the bandwidth supports is chosen, falling back to low.
func (s StreamURLs) Best(bandwidthMbps float64) string {
	if s.ManifestURL != "" {
		return s.ManifestURL
	}
	for _, q := range []Quality{QualityHigh, QualityMedium, QualityLow} {
		u, ok := s.QualityURLs[q]
		if !ok {
			continue
		}
		if bandwidthMbps >= qualityProfiles[q].minMbps || q == QualityLow {
			return u
		}
	}
	return ""
}

// Resolver constructs stream URLs from a CDN base URL. The app session is
// assumed already authorized; no signing happens here.
type Resolver struct {
	baseURL string
}

// NewResolver creates a resolver for the given CDN base URL.
func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/")}
}

// Resolve derives the adaptive manifest URL and the direct quality tier URLs
// for a video identifier.
func (r *Resolver) Resolve(videoID string) (StreamURLs, error) {
	if videoID == "" {
		return StreamURLs{}, fmt.Errorf("cdn: empty video identifier")
	}

	urls := StreamURLs{
		ManifestURL: fmt.Sprintf("%s/videos/%s/master.m3u8", r.baseURL, videoID),
		QualityURLs: make(map[Quality]string, len(qualityProfiles)),
	}
	for q, p := range qualityProfiles {
		urls.QualityURLs[q] = fmt.Sprintf("%s/videos/%s/%s.mp4", r.baseURL, videoID, p.rendition)
	}
	return urls, nil
}
