// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

func newTestGovernor(t *testing.T, cpu, ram float64) *Governor {
	t.Helper()
	g := New(DefaultThresholds(), obslog.Discard())
	// Bypass sampling entirely; CanExecute's threshold logic is what's
	// under test, not the /proc readers.
	g.mu.Lock()
	g.cpuPct = cpu
	g.ramPct = ram
	g.haveCPU = true
	g.warm = true
	g.mu.Unlock()
	// Starve the limiter so Snapshot's sample() call is a no-op and the
	// fixed readings above stick.
	g.limiter.Allow()
	return g
}

func TestCanExecute_CriticalAlwaysAdmitted(t *testing.T) {
	g := newTestGovernor(t, 99, 99)
	assert.True(t, g.CanExecute(PriorityCritical))
}

func TestCanExecute_NormalDeniedAboveCPUCeiling(t *testing.T) {
	g := newTestGovernor(t, 95, 10)
	assert.False(t, g.CanExecute(PriorityMedium))
}

func TestCanExecute_NormalDeniedAboveRAMCeiling(t *testing.T) {
	g := newTestGovernor(t, 10, 85)
	assert.False(t, g.CanExecute(PriorityMedium))
}

func TestCanExecute_NormalAdmittedUnderCeilings(t *testing.T) {
	g := newTestGovernor(t, 50, 50)
	assert.True(t, g.CanExecute(PriorityMedium))
}

func TestCanExecute_IdleRequiresBothBelowIdleThresholds(t *testing.T) {
	g := newTestGovernor(t, 50, 50)
	assert.False(t, g.CanExecute(PriorityIdle), "idle must not run at normal-but-not-idle load")

	g2 := newTestGovernor(t, 2, 2)
	assert.True(t, g2.CanExecute(PriorityIdle))
}

func TestCanExecute_IdleDeniedWhenOnlyCPULow(t *testing.T) {
	g := newTestGovernor(t, 2, 50)
	assert.False(t, g.CanExecute(PriorityIdle))
}

func TestWaitUntilAdmissible_ReturnsImmediatelyWhenAdmissible(t *testing.T) {
	g := newTestGovernor(t, 10, 10)
	err := g.WaitUntilAdmissible(context.Background(), PriorityMedium, time.Now().Add(time.Second))
	require.NoError(t, err)
}

func TestWaitUntilAdmissible_DeadlineExceededYieldsResourceExhausted(t *testing.T) {
	g := newTestGovernor(t, 99, 99)
	err := g.WaitUntilAdmissible(context.Background(), PriorityMedium, time.Now().Add(120*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, specerrors.ErrResourceExhausted)
}

func TestWaitUntilAdmissible_ContextCancellation(t *testing.T) {
	g := newTestGovernor(t, 99, 99)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.WaitUntilAdmissible(ctx, PriorityMedium, time.Now().Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitUntilAdmissible_CriticalNeverBlocks(t *testing.T) {
	g := newTestGovernor(t, 100, 100)
	err := g.WaitUntilAdmissible(context.Background(), PriorityCritical, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
}
