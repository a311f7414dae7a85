// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package main is the entry point for the Reelfeed engine daemon.
//
// Reelfeed runs the Discover feed's playback orchestration server side:
// it fetches ranked video pages, resolves CDN stream URLs, warms a bounded
// set of decoder slots around the viewer's position, and enforces the
// exactly-one-playing rule. Rendering surfaces (the mobile pager UI)
// connect over WebSocket at /v1/surface, stream visibility reports and
// gestures in, and receive entry lists, feed state, and playback state back.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, REELFEED_* env)
//  2. Logging: zerolog, configured from the logging section
//  3. Event bus: in-process watermill pub/sub for engine state events
//  4. Engine: feed client, CDN resolver, decoder pool, feed controller
//  5. Analytics: batched watch-time dispatcher
//  6. Surface: WebSocket hub and bus bridge
//  7. HTTP server: chi router with health, metrics, and the surface endpoint
//
// Everything runs under a suture supervision tree; SIGINT/SIGTERM trigger a
// graceful stop with a bounded shutdown timeout.
//
// # Configuration
//
// Environment variables use the REELFEED_ prefix with section underscores,
// e.g. REELFEED_PRELOAD_MAX_WARM=5 or REELFEED_SERVER_PORT=3900.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/kikwetu/reelfeed/internal/analytics"
	"github.com/kikwetu/reelfeed/internal/api"
	"github.com/kikwetu/reelfeed/internal/bus"
	"github.com/kikwetu/reelfeed/internal/cdn"
	"github.com/kikwetu/reelfeed/internal/config"
	"github.com/kikwetu/reelfeed/internal/controller"
	"github.com/kikwetu/reelfeed/internal/feed"
	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/playback"
	"github.com/kikwetu/reelfeed/internal/preload"
	"github.com/kikwetu/reelfeed/internal/supervisor"
	"github.com/kikwetu/reelfeed/internal/surface"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("feed_url", cfg.Feed.BaseURL).
		Str("cdn_url", cfg.Feed.CDNBaseURL).
		Str("algorithm", cfg.Feed.Algorithm).
		Int("max_warm", cfg.Preload.MaxWarm).
		Msg("starting reelfeed engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus carrying engine state to surface subscribers.
	eventBus := bus.New()
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing event bus")
		}
	}()

	// Backend clients.
	pageSource := feed.NewClient(feed.ClientConfig{
		BaseURL:            cfg.Feed.BaseURL,
		PageSize:           cfg.Feed.PageSize,
		RequestTimeout:     cfg.Feed.RequestTimeout,
		BreakerMaxFailures: cfg.Feed.BreakerMaxFailures,
		BreakerCooldown:    cfg.Feed.BreakerCooldown,
	})
	engagement := feed.NewEngagementClient(cfg.Feed.BaseURL, cfg.Feed.RequestTimeout)
	resolver := cdn.NewResolver(cfg.Feed.CDNBaseURL)

	// Decoder pool. Sized above MaxWarm so eviction churn never stalls
	// warm-ups waiting on slot release.
	decoders := playback.NewSlotFactory(cfg.Preload.DecoderSlots)
	defer decoders.Close()

	// Watch-time analytics.
	sink := analytics.NewHTTPSink(cfg.Analytics.SinkURL, cfg.Analytics.RequestTimeout)
	dispatcher := analytics.NewDispatcher(sink, cfg.Analytics.QueueSize, cfg.Analytics.RatePerSecond, cfg.Analytics.RequestTimeout)

	// The feed controller: single event loop owning feed state.
	ctl := controller.New(
		controller.Config{
			Filters:             feed.Filters{Algorithm: feed.Algorithm(cfg.Feed.Algorithm)},
			FetchAheadItems:     cfg.Feed.FetchAheadItems,
			Preload:             preload.Config{MaxWarm: cfg.Preload.MaxWarm, Range: cfg.Preload.Range, WarmupTimeout: cfg.Preload.WarmupTimeout},
			VisibilityThreshold: cfg.Viewport.VisibilityThreshold,
			SettleReports:       cfg.Viewport.SettleReports,
		},
		pageSource, engagement, resolver, decoders, dispatcher, eventBus,
	)

	// Surface fan-out.
	hub := surface.NewHub()
	bridge := surface.NewBridge(eventBus, hub)

	// HTTP surface. Readiness requires a running tree and a settled
	// first page fetch, so load balancers never route to a blank feed.
	var started atomic.Bool
	ready := func() bool { return started.Load() && ctl.Ready() }
	router := api.NewRouter(ctx, api.Config{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, hub, ctl, ready)
	server := api.NewServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		router.Setup(),
		cfg.Server.Timeout,
	)

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(ctl)
	tree.AddEngineService(dispatcher)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(bridge)
	tree.AddAPIService(server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	started.Store(true)
	logging.Info().Msg("supervisor tree started")

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("engine stopped")
}
