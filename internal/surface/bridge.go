// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package surface

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kikwetu/reelfeed/internal/controller"
	"github.com/kikwetu/reelfeed/internal/logging"
)

// topicFrames maps engine event topics to outbound frame types.
var topicFrames = map[string]string{
	controller.TopicEntries:   FrameEntries,
	controller.TopicFeedState: FrameFeedState,
	controller.TopicPlayback:  FramePlayback,
	controller.TopicError:     FrameError,
}

// Bridge subscribes to the engine's event topics and fans every event out to
// connected surfaces as frames. Event payloads are already JSON; the bridge
// wraps them in the frame envelope without re-encoding.
type Bridge struct {
	sub message.Subscriber
	hub *Hub
	log zerolog.Logger
}

// NewBridge creates a bridge between the event bus and the hub.
func NewBridge(sub message.Subscriber, hub *Hub) *Bridge {
	return &Bridge{
		sub: sub,
		hub: hub,
		log: logging.With().Str("component", "surface-bridge").Logger(),
	}
}

// Serve pumps events until the context is canceled. Implements
// suture.Service.
func (b *Bridge) Serve(ctx context.Context) error {
	for topic, frameType := range topicFrames {
		ch, err := b.sub.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go b.pump(ctx, ch, frameType)
	}
	<-ctx.Done()
	b.log.Info().Msg("surface bridge stopped")
	return ctx.Err()
}

func (b *Bridge) String() string {
	return "surface-bridge"
}

func (b *Bridge) pump(ctx context.Context, ch <-chan *message.Message, frameType string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.hub.Broadcast(Frame{Type: frameType, Data: json.RawMessage(msg.Payload)})
			msg.Ack()
		}
	}
}
