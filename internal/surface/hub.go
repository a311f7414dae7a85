// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package surface connects rendering surfaces to the feed engine over
// WebSocket. A surface (the scrolling video pager) sends inbound frames
// (visibility reports, gestures, retries) and receives outbound frames
// (entry lists, feed state, playback state, errors).
//
// The Hub fans outbound frames to every connected surface; the Bridge
// subscribes to the engine's event topics and feeds them into the Hub.
package surface

import (
	"context"
	"sort"
	"sync"

	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/metrics"
)

// Hub maintains the set of connected surfaces and broadcasts frames to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Frame
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub. Run it under supervision with Serve.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Serve runs the hub until the context is canceled. Implements
// suture.Service. Lifecycle events are drained before broadcasts so client
// state is consistent when a frame fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		// Lifecycle first, non-blocking.
		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case frame := <-h.broadcast:
			h.fanOut(frame)
		}
	}
}

func (h *Hub) String() string {
	return "surface-hub"
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SurfaceClients.Set(float64(n))
	logging.Info().Int("surfaces", n).Msg("surface connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SurfaceClients.Set(float64(n))
	logging.Info().Int("surfaces", n).Msg("surface disconnected")
}

// Broadcast queues a frame for every connected surface. Drops the frame when
// the hub is saturated rather than blocking the engine loop.
func (h *Hub) Broadcast(frame Frame) {
	select {
	case h.broadcast <- frame:
	default:
		logging.Warn().Str("frame", frame.Type).Msg("broadcast queue full, dropping frame")
	}
}

// fanOut delivers one frame to every client in a stable order. A client
// whose send queue is full is disconnected; a stuck surface must not stall
// the rest.
func (h *Hub) fanOut(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var dead []*Client
	for _, c := range clients {
		select {
		case c.send <- frame:
		default:
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		close(c.send)
		delete(h.clients, c)
	}
	if len(dead) > 0 {
		metrics.SurfaceClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(dead)).Msg("disconnected slow surfaces")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.SurfaceClients.Set(0)
	logging.Info().Msg("surface hub stopped")
}

// ClientCount returns the number of connected surfaces.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
