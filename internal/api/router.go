// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package api provides the engine's HTTP surface: health probes, Prometheus
// metrics, and the WebSocket endpoint rendering surfaces connect to.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/surface"
)

// Config bounds the HTTP surface.
type Config struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Router builds the engine's HTTP handler.
type Router struct {
	cfg      Config
	hub      *surface.Hub
	cmds     surface.Commands
	ready    func() bool
	upgrader websocket.Upgrader

	// baseCtx outlives individual requests; surface clients dispatch engine
	// commands against it, not against the upgrade request's context.
	baseCtx context.Context
}

// NewRouter creates a router. ready gates the readiness probe; baseCtx bounds
// the lifetime of accepted surface connections.
func NewRouter(baseCtx context.Context, cfg Config, hub *surface.Hub, cmds surface.Commands, ready func() bool) *Router {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	r := &Router{
		cfg:     cfg,
		hub:     hub,
		cmds:    cmds,
		ready:   ready,
		baseCtx: baseCtx,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// Setup wires all routes.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", rt.healthLive)
	r.Get("/readyz", rt.healthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		r.Get("/surface", rt.serveSurface)
	})

	return r
}

func (rt *Router) healthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) healthReady(w http.ResponseWriter, _ *http.Request) {
	if rt.ready != nil && !rt.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// serveSurface upgrades the connection and hands it to the hub.
func (rt *Router) serveSurface(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("surface upgrade failed")
		return
	}
	surface.NewClient(rt.hub, conn, rt.cmds).Start(rt.baseCtx)
}

// checkOrigin admits browser surfaces from the configured origins. Non-browser
// surfaces (native apps) send no Origin header and are always admitted.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range rt.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("write response")
	}
}
