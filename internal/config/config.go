// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package config provides layered configuration for Reelfeed using Koanf v2.
//
// Sources are merged in order of precedence: built-in defaults, then an
// optional YAML config file, then environment variables with the REELFEED_
// prefix (REELFEED_PRELOAD_MAX_WARM -> preload.max_warm).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Reelfeed engine.
type Config struct {
	Feed      FeedConfig      `koanf:"feed"`
	Preload   PreloadConfig   `koanf:"preload"`
	Viewport  ViewportConfig  `koanf:"viewport"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// FeedConfig configures the feed page source client.
type FeedConfig struct {
	// BaseURL is the feed ranking service endpoint.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Algorithm selects the default ranked feed: for_you, following, nearby.
	Algorithm string `koanf:"algorithm" validate:"oneof=for_you following nearby"`

	// PageSize is the number of entries requested per page.
	PageSize int `koanf:"page_size" validate:"gte=1,lte=100"`

	// FetchAheadItems triggers the next page fetch when the active index is
	// within this many items of the end of the list.
	FetchAheadItems int `koanf:"fetch_ahead_items" validate:"gte=1"`

	// RequestTimeout bounds a single page fetch.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// BreakerMaxFailures opens the fetch circuit breaker after this many
	// consecutive failures.
	BreakerMaxFailures int `koanf:"breaker_max_failures" validate:"gte=1"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`

	// CDNBaseURL is the base URL used to construct playable stream URLs.
	CDNBaseURL string `koanf:"cdn_base_url" validate:"required,url"`
}

// PreloadConfig configures the preload/eviction cache.
type PreloadConfig struct {
	// MaxWarm is the hard ceiling on concurrently warm entries
	// (warming + warm + active). Never exceeded, even transiently.
	MaxWarm int `koanf:"max_warm" validate:"gte=1"`

	// Range is the forward lookahead item count. Lookbehind is
	// max(1, Range-1); forward scroll is the dominant gesture.
	Range int `koanf:"range" validate:"gte=1"`

	// WarmupTimeout bounds URL resolution plus decoder warm-up for a single
	// entry. On timeout the entry reverts to cold and frees its reservation.
	WarmupTimeout time.Duration `koanf:"warmup_timeout" validate:"gt=0"`

	// DecoderSlots is the size of the decoder pool backing warm entries.
	// Must be at least MaxWarm or warm-ups stall on pool exhaustion.
	DecoderSlots int `koanf:"decoder_slots" validate:"gte=1"`
}

// ViewportConfig configures active-item resolution.
type ViewportConfig struct {
	// VisibilityThreshold is the fraction of an item's area that must be on
	// screen before it is a candidate for becoming active.
	VisibilityThreshold float64 `koanf:"visibility_threshold" validate:"gt=0,lte=1"`

	// SettleReports is how many consecutive visibility reports a candidate
	// must win before it is emitted as active. Suppresses fling-through.
	SettleReports int `koanf:"settle_reports" validate:"gte=1"`
}

// AnalyticsConfig configures the view-analytics dispatcher.
type AnalyticsConfig struct {
	// SinkURL is the external view-analytics endpoint.
	SinkURL string `koanf:"sink_url" validate:"required,url"`

	// QueueSize bounds the pending flush queue; events beyond it are dropped
	// and counted, never blocking the controller.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`

	// RatePerSecond limits dispatch to the sink.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gt=0"`

	// RequestTimeout bounds a single sink call.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimitReqs/RateLimitWindow bound inbound HTTP requests per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`

	// CORSOrigins lists allowed origins for the surface channel.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			BaseURL:            "http://127.0.0.1:8080",
			Algorithm:          "for_you",
			PageSize:           10,
			FetchAheadItems:    3,
			RequestTimeout:     10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerCooldown:    30 * time.Second,
			CDNBaseURL:         "https://cdn.kikwetu.app",
		},
		Preload: PreloadConfig{
			MaxWarm:       5,
			Range:         2,
			WarmupTimeout: 5 * time.Second,
			DecoderSlots:  8,
		},
		Viewport: ViewportConfig{
			VisibilityThreshold: 0.5,
			SettleReports:       1,
		},
		Analytics: AnalyticsConfig{
			SinkURL:        "http://127.0.0.1:8080/analytics/views",
			QueueSize:      256,
			RatePerSecond:  20,
			RequestTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3900,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// validate is the shared validator instance; validator caches struct metadata,
// so a single instance is reused.
var validate = validator.New()

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// The decoder pool must cover the warm ceiling; a smaller pool blocks
	// warm-ups on slot allocation until the warmup timeout.
	if c.Preload.DecoderSlots < c.Preload.MaxWarm {
		return fmt.Errorf("decoder_slots %d below max_warm %d", c.Preload.DecoderSlots, c.Preload.MaxWarm)
	}
	return nil
}

// Lookbehind returns the derived backward preload range.
func (p PreloadConfig) Lookbehind() int {
	return max(1, p.Range-1)
}
