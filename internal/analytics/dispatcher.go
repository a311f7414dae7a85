// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package analytics flushes accumulated watch time to the external
// view-analytics sink. Dispatch is fire-and-forget: failures are logged and
// counted, never retried, and never block the controller.
package analytics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/metrics"
)

// Sink records one view event. Implementations are external collaborators;
// no response contract is relied upon.
type Sink interface {
	RecordView(ctx context.Context, entryID string, watchSeconds int64) error
}

// HTTPSink posts view events to the analytics endpoint.
type HTTPSink struct {
	url   string
	httpc *http.Client
}

// NewHTTPSink creates an HTTP analytics sink.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{url: url, httpc: &http.Client{Timeout: timeout}}
}

type viewPayload struct {
	EntryID      string `json:"entry_id"`
	WatchSeconds int64  `json:"watch_seconds"`
}

// RecordView implements Sink.
func (s *HTTPSink) RecordView(ctx context.Context, entryID string, watchSeconds int64) error {
	body, err := json.Marshal(viewPayload{EntryID: entryID, WatchSeconds: watchSeconds})
	if err != nil {
		return fmt.Errorf("analytics: marshal view: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analytics: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("analytics: record view: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("analytics: record view: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type viewEvent struct {
	entryID string
	seconds int64
}

// Dispatcher queues view events and delivers them to the sink from a single
// worker, paced by a rate limiter. The queue is bounded; when full, events
// are dropped and counted rather than blocking the caller.
type Dispatcher struct {
	sink    Sink
	queue   chan viewEvent
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
}

// NewDispatcher creates an analytics dispatcher.
func NewDispatcher(sink Sink, queueSize int, perSecond float64, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if perSecond <= 0 {
		perSecond = 20
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan viewEvent, queueSize),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		timeout: timeout,
		log:     logging.With().Str("component", "analytics").Logger(),
	}
}

// Record enqueues one view event. Non-blocking: a full queue drops the event.
// Zero-second views are not worth a sink call and are skipped.
func (d *Dispatcher) Record(entryID string, watchSeconds int64) {
	if entryID == "" || watchSeconds <= 0 {
		return
	}
	select {
	case d.queue <- viewEvent{entryID: entryID, seconds: watchSeconds}:
	default:
		metrics.AnalyticsDropped.Inc()
		d.log.Warn().Str("id", entryID).Msg("analytics queue full, view dropped")
	}
}

// Serve drains the queue until the context is canceled. It implements
// suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev viewEvent) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.RecordView(callCtx, ev.entryID, ev.seconds); err != nil {
		metrics.AnalyticsFailures.Inc()
		d.log.Warn().Err(err).Str("id", ev.entryID).Msg("view flush failed")
		return
	}
	metrics.AnalyticsDispatched.Inc()
	metrics.WatchSecondsFlushed.Add(float64(ev.seconds))
}

func (d *Dispatcher) String() string {
	return "analytics-dispatcher"
}
