// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package surface

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/kikwetu/reelfeed/internal/controller"
	"github.com/kikwetu/reelfeed/internal/feed"
	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/viewport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Commands is the engine surface the client dispatches inbound frames to.
// Satisfied by controller.Controller.
type Commands interface {
	ReportVisibility(samples []viewport.Sample)
	ReportApproachingEnd(ctx context.Context)
	TogglePlayPause()
	ToggleMute()
	Engage(ctx context.Context, kind controller.EngagementKind, entryID string)
	Refresh(ctx context.Context)
	SetAlgorithm(ctx context.Context, filters feed.Filters)
	RetryItem(entryID string)
	RetryPage(ctx context.Context)
	SetForeground(fg bool)
	ReportBandwidth(mbps float64)
}

// clientIDCounter gives clients a stable sort key for deterministic fan-out.
var clientIDCounter atomic.Uint64

// Client pumps frames between one WebSocket connection and the hub, and
// dispatches inbound frames to the engine.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	cmds Commands
	send chan Frame
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, cmds Commands) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		cmds: cmds,
		send: make(chan Frame, 256),
	}
}

// Start registers the client and begins both pumps.
func (c *Client) Start(ctx context.Context) {
	c.hub.register <- c
	go c.writePump()
	go c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected surface close")
			}
			return
		}
		c.dispatch(ctx, frame)
	}
}

// dispatch maps one inbound frame to an engine command. Malformed payloads
// are logged and dropped; a broken surface must not crash the engine.
func (c *Client) dispatch(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameVisibility:
		var d visibilityData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad visibility frame")
			return
		}
		c.cmds.ReportVisibility(d.Samples)

	case FrameApproachingEnd:
		c.cmds.ReportApproachingEnd(ctx)

	case FrameTogglePlay:
		c.cmds.TogglePlayPause()

	case FrameToggleMute:
		c.cmds.ToggleMute()

	case FrameEngage:
		var d engageData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad engage frame")
			return
		}
		c.cmds.Engage(ctx, controller.EngagementKind(d.Kind), d.EntryID)

	case FrameRefresh:
		c.cmds.Refresh(ctx)

	case FrameSetAlgorithm:
		var d setAlgorithmData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad set_algorithm frame")
			return
		}
		c.cmds.SetAlgorithm(ctx, feed.Filters{Algorithm: feed.Algorithm(d.Algorithm)})

	case FrameRetryItem:
		var d retryItemData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad retry_item frame")
			return
		}
		c.cmds.RetryItem(d.EntryID)

	case FrameRetryPage:
		c.cmds.RetryPage(ctx)

	case FrameForeground:
		var d foregroundData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad foreground frame")
			return
		}
		c.cmds.SetForeground(d.Foregrounded)

	case FrameBandwidth:
		var d bandwidthData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			logging.Warn().Err(err).Msg("bad bandwidth frame")
			return
		}
		c.cmds.ReportBandwidth(d.Mbps)

	case FramePing:
		select {
		case c.send <- Frame{Type: FramePong}:
		default:
		}

	default:
		logging.Debug().Str("frame", frame.Type).Msg("ignoring unknown frame type")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logging.Warn().Err(err).Msg("write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
