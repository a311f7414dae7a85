// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kikwetu/reelfeed/internal/logging"
)

// Server wraps http.Server as a supervised service. ListenAndServe blocks, so
// Serve runs it in a goroutine and translates context cancellation into a
// graceful Shutdown with its own deadline.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer builds the supervised HTTP server.
func NewServer(addr string, handler http.Handler, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("addr", s.srv.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The serve context is already canceled; shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		logging.Info().Str("addr", s.srv.Addr).Msg("http server stopped")
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "api-server"
}
