// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governor samples host CPU and RAM at a bounded rate and answers
// admission-control questions for the embedding broker (C4) and the
// indexing pipeline (C6): is this the right moment to spend a CPU- and
// RAM-hungry embedding call, or should the caller back off.
//
// Counters are read-mostly and sampled on a best-effort cadence; per the
// concurrency model, governor decisions are advisory, not a hard
// scheduler. A caller that ignores CanExecute does not corrupt state, it
// just risks contending with the host under load.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// Priority mirrors the five tiers named in the spec's resource model
// (critical, high, medium, low, idle). It is a distinct type from
// embedbroker's queue priority, though the two are deliberately
// named the same way: the governor's notion of priority also carries
// an "idle" tier that never submits work through the broker at all
// (opportunistic background touch-ups).
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityIdle     Priority = "idle"
)

// Thresholds holds the admission percentages. Zero-value Thresholds is
// invalid; use DefaultThresholds or override selectively.
type Thresholds struct {
	CPUMax     float64 // normal priority denied above this CPU percent
	RAMMax     float64 // normal priority denied above this RAM percent
	IdleCPUMax float64 // idle priority additionally denied above this CPU percent
	IdleRAMMax float64 // idle priority additionally denied above this RAM percent
}

// DefaultThresholds matches spec.md §4.8's stated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUMax:     90,
		RAMMax:     80,
		IdleCPUMax: 5,
		IdleRAMMax: 15,
	}
}

const (
	sampleHz     = 1.0 // sampling capped at ~1Hz per spec.md §4.8
	ewmaAlpha    = 0.3 // smoothing factor; higher reacts faster to spikes
	pollInterval = 50 * time.Millisecond
)

// Governor tracks smoothed CPU/RAM utilization and answers admission
// questions against Thresholds.
type Governor struct {
	thresholds Thresholds
	logger     *slog.Logger
	limiter    *rate.Limiter

	mu       sync.RWMutex
	cpuPct   float64
	ramPct   float64
	lastCPU  cpuTimes
	haveCPU  bool
	warm     bool
}

// New constructs a Governor with the given thresholds. A nil logger is
// replaced with slog.Default().
func New(thresholds Thresholds, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		thresholds: thresholds,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(sampleHz), 1),
	}
}

// sample refreshes the smoothed CPU/RAM readings if the rate limiter
// permits a new sample this tick; otherwise it's a no-op and the caller
// gets the last known values. This keeps CanExecute cheap to call from a
// hot path without flooding /proc reads.
func (g *Governor) sample() {
	if !g.limiter.Allow() {
		return
	}

	cur, err := readCPUTimes()
	var cpuPct float64
	if err != nil {
		g.logger.Warn("governor: cpu sample failed", "error", err)
	} else {
		g.mu.RLock()
		prev, have := g.lastCPU, g.haveCPU
		g.mu.RUnlock()
		if have {
			cpuPct = cpuPercentBetween(prev, cur)
		}
	}

	ramPct, err := readRAMPercent()
	if err != nil {
		g.logger.Warn("governor: ram sample failed", "error", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.haveCPU {
		// First sample has no prior counters to diff against: only the
		// CPU counters are recorded, this RAM reading is dropped, and the
		// smoothed readings keep their previous values (zero on a new
		// Governor, which admits every priority) until the next sample.
		g.lastCPU = cur
		g.haveCPU = true
		g.warm = false
		return
	}
	g.lastCPU = cur
	if !g.warm {
		g.cpuPct = cpuPct
		g.ramPct = ramPct
		g.warm = true
		return
	}
	g.cpuPct = ewmaAlpha*cpuPct + (1-ewmaAlpha)*g.cpuPct
	g.ramPct = ewmaAlpha*ramPct + (1-ewmaAlpha)*g.ramPct
}

// Snapshot returns the current smoothed readings, forcing a sample first
// if the rate limiter allows one.
func (g *Governor) Snapshot() (cpuPct, ramPct float64) {
	g.sample()
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cpuPct, g.ramPct
}

// CanExecute reports whether work at the given priority should proceed
// right now. critical always returns true. high, medium, and low are
// admitted or denied identically, against the same CPU/RAM ceiling —
// the spec only distinguishes them for broker queue ordering, not
// governor admission. idle additionally requires both CPU and RAM to
// be below the idle thresholds, not just under the normal ceiling.
func (g *Governor) CanExecute(priority Priority) bool {
	if priority == PriorityCritical {
		return true
	}

	cpuPct, ramPct := g.Snapshot()
	if cpuPct > g.thresholds.CPUMax || ramPct > g.thresholds.RAMMax {
		return false
	}
	if priority == PriorityIdle {
		return cpuPct < g.thresholds.IdleCPUMax && ramPct < g.thresholds.IdleRAMMax
	}
	return true
}

// WaitUntilAdmissible blocks until CanExecute(priority) is true, ctx is
// canceled, or deadline passes, polling at pollInterval. Returns
// specerrors.ErrResourceExhausted if the deadline passes first.
func (g *Governor) WaitUntilAdmissible(ctx context.Context, priority Priority, deadline time.Time) error {
	if g.CanExecute(priority) {
		return nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return specerrors.ErrResourceExhausted
		case <-ticker.C:
			if g.CanExecute(priority) {
				return nil
			}
		}
	}
}
