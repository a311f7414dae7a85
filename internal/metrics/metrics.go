// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package metrics provides Prometheus instrumentation for the feed engine:
// preload cache occupancy and evictions, playback sessions, feed page
// fetches, and analytics dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Preload cache metrics

	WarmEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelfeed_preload_warm_entries",
			Help: "Current number of entries holding warm resources (warming + warm + active)",
		},
	)

	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_preload_evictions_total",
			Help: "Total preload cache evictions",
		},
		[]string{"reason"}, // "window", "ceiling", "explicit", "reset", "pressure", "timeout", "failure"
	)

	WarmupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelfeed_preload_warmup_duration_seconds",
			Help:    "Duration from admission to warm (URL resolution + decoder allocation)",
			Buckets: prometheus.DefBuckets,
		},
	)

	WarmupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_preload_warmup_failures_total",
			Help: "Total resource acquisitions that failed or timed out",
		},
	)

	// Playback metrics

	PlayingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelfeed_playback_playing_sessions",
			Help: "Number of sessions currently in the playing sub-state (invariant: 0 or 1)",
		},
	)

	PlaybackStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_playback_stalls_total",
			Help: "Total active sessions that failed mid-playback",
		},
	)

	WatchSecondsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_watch_seconds_flushed_total",
			Help: "Total accumulated watch seconds flushed to the analytics sink",
		},
	)

	// Feed page source metrics

	PageFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelfeed_feed_page_fetches_total",
			Help: "Total feed page fetches by outcome",
		},
		[]string{"outcome"}, // "success", "error", "breaker_open"
	)

	PageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelfeed_feed_page_fetch_duration_seconds",
			Help:    "Duration of feed page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Analytics dispatch metrics

	AnalyticsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_analytics_dispatched_total",
			Help: "Total view events delivered to the analytics sink",
		},
	)

	AnalyticsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_analytics_dropped_total",
			Help: "Total view events dropped because the dispatch queue was full",
		},
	)

	AnalyticsFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelfeed_analytics_failures_total",
			Help: "Total failed sink deliveries (fire-and-forget, never retried)",
		},
	)

	// Surface metrics

	SurfaceClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelfeed_surface_clients",
			Help: "Current number of connected rendering-surface clients",
		},
	)
)
