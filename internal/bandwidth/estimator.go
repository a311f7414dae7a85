// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

// Package bandwidth tracks the viewer's observed network throughput.
// Surfaces report measured download rates; the engine smooths them and uses
// the estimate to pick stream URLs. On very constrained networks a fixed
// low-bitrate rendition beats an adaptive manifest that would oscillate.
package bandwidth

import "sync"

// ConstrainedMbps is the threshold below which the network is treated as
// constrained and playback pins to the low direct rendition.
const ConstrainedMbps = 2.5

// defaultAlpha is the EWMA smoothing factor. Recent samples dominate so the
// estimate follows network handoffs within a few reports.
const defaultAlpha = 0.3

// Estimator smooths throughput samples into a bandwidth estimate. Safe for
// concurrent use. A zero estimate means no samples yet.
type Estimator struct {
	mu       sync.RWMutex
	alpha    float64
	estimate float64
	samples  int
}

// NewEstimator creates an estimator with the default smoothing factor.
func NewEstimator() *Estimator {
	return &Estimator{alpha: defaultAlpha}
}

// Observe folds one throughput sample in Mbps into the estimate.
// Non-positive samples are ignored.
func (e *Estimator) Observe(mbps float64) {
	if mbps <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		e.estimate = mbps
	} else {
		e.estimate = e.alpha*mbps + (1-e.alpha)*e.estimate
	}
	e.samples++
}

// EstimateMbps returns the smoothed estimate, or 0 before any sample.
func (e *Estimator) EstimateMbps() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.estimate
}

// Constrained reports whether the network is known to be below the
// constrained threshold. An unsampled network is not constrained; playback
// starts optimistic and downgrades once samples arrive.
func (e *Estimator) Constrained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samples > 0 && e.estimate < ConstrainedMbps
}

// Reset clears the estimate, for network interface changes.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.estimate = 0
	e.samples = 0
}
