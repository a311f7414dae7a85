// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package bus provides the in-process event bus carrying engine state events
// from the feed controller to surface subscribers.
package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/kikwetu/reelfeed/internal/logging"
)

// New creates the engine event bus. Subscribers joining mid-stream only see
// events published after they subscribe; the controller republishes full
// state on every change, so a late surface converges on the next event.
func New() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 64,
		},
		NewLoggerAdapter(logging.Logger()),
	)
}

// loggerAdapter bridges watermill's logging interface onto zerolog.
type loggerAdapter struct {
	log zerolog.Logger
}

// NewLoggerAdapter wraps a zerolog logger for watermill.
func NewLoggerAdapter(log zerolog.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: log.With().Str("component", "bus").Logger()}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), msg, fields)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Info(), msg, fields)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), msg, fields)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), msg, fields)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &loggerAdapter{log: ctx.Logger()}
}

func (a *loggerAdapter) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
