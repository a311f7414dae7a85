// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package surface

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/kikwetu/reelfeed/internal/controller"
)

func setupBridge(t *testing.T, hub *Hub) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	bridge := NewBridge(pubSub, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = pubSub.Close()
	})
	time.Sleep(20 * time.Millisecond)
	return pubSub
}

func TestBridgeForwardsEventsAsFrames(t *testing.T) {
	hub := setupHub(t)
	pubSub := setupBridge(t, hub)

	c := testClient(hub)
	registerClient(hub, c)

	cases := []struct {
		topic   string
		payload string
		want    string
	}{
		{controller.TopicFeedState, `{"state":"ready"}`, FrameFeedState},
		{controller.TopicEntries, `{"entries":[]}`, FrameEntries},
		{controller.TopicPlayback, `{"entry_id":"e1","state":"playing"}`, FramePlayback},
		{controller.TopicError, `{"scope":"page","message":"x"}`, FrameError},
	}

	for _, tc := range cases {
		msg := message.NewMessage(watermill.NewUUID(), []byte(tc.payload))
		if err := pubSub.Publish(tc.topic, msg); err != nil {
			t.Fatalf("publish %s: %v", tc.topic, err)
		}

		select {
		case frame := <-c.send:
			if frame.Type != tc.want {
				t.Errorf("topic %s produced frame %q, want %q", tc.topic, frame.Type, tc.want)
			}
			if string(frame.Data) != tc.payload {
				t.Errorf("frame payload = %s, want %s", frame.Data, tc.payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("no frame for topic %s", tc.topic)
		}
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	hub := setupHub(t)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	bridge := NewBridge(pubSub, hub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Serve(ctx) }()
	time.Sleep(10 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Serve returned nil, want context error")
		}
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on cancel")
	}
	_ = pubSub.Close()
}
