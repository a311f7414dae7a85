// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/kikwetu/reelfeed/internal/logging"
)

// ErrFactoryClosed is returned by Allocate after the pool shuts down.
var ErrFactoryClosed = errors.New("playback: decoder pool closed")

// SlotFactory is a DecoderFactory backed by a fixed pool of decoder slots.
// Each slot stands for one scarce player resource on the rendering device;
// Allocate blocks until a slot frees or the context expires, which is how
// warm-up timeouts surface when the device is saturated.
type SlotFactory struct {
	slots  chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewSlotFactory creates a pool with the given number of slots.
func NewSlotFactory(slots int) *SlotFactory {
	if slots <= 0 {
		slots = 8
	}
	f := &SlotFactory{slots: make(chan struct{}, slots)}
	for i := 0; i < slots; i++ {
		f.slots <- struct{}{}
	}
	return f
}

// Allocate reserves a slot and binds it to a stream.
func (f *SlotFactory) Allocate(ctx context.Context, streamURL string) (Decoder, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFactoryClosed
	}
	f.mu.Unlock()

	select {
	case <-f.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &slotDecoder{factory: f, streamURL: streamURL}, nil
}

// Close marks the pool closed. Outstanding decoders still release their
// slots on Close; new allocations fail.
func (f *SlotFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Available reports free slots. For logs and tests.
func (f *SlotFactory) Available() int {
	return len(f.slots)
}

// slotDecoder holds one pool slot until closed.
type slotDecoder struct {
	factory   *SlotFactory
	streamURL string

	mu      sync.Mutex
	playing bool
	muted   bool
	closed  bool
}

func (d *slotDecoder) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("playback: decoder closed")
	}
	d.playing = true
	logging.Debug().Str("stream", d.streamURL).Msg("decoder playing")
	return nil
}

func (d *slotDecoder) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("playback: decoder closed")
	}
	d.playing = false
	return nil
}

func (d *slotDecoder) SetMuted(muted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("playback: decoder closed")
	}
	d.muted = muted
	return nil
}

func (d *slotDecoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.playing = false
	d.mu.Unlock()

	d.factory.slots <- struct{}{}
	return nil
}
