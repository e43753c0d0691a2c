// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package specerrors defines the typed sentinel errors propagated across
// the specmem substrate, grouped by the error-handling policy in §7 of
// the specification: transient infrastructure, configuration/setup,
// contract violations, user-facing, and lifecycle errors.
package specerrors

import "errors"

// Transient infrastructure errors. Retried with backoff by the broker or
// pipeline; surfaced to callers only after the retry budget is exhausted.
var (
	ErrTimeout       = errors.New("timeout")
	ErrSocketClosed  = errors.New("socket closed")
	ErrSocketMissing = errors.New("socket missing")
	ErrWorkerOverload = errors.New("worker overload")
)

// Configuration / setup errors. Fail-stop for writes; reads may degrade.
var (
	ErrEnvironmentUnusable = errors.New("environment unusable")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrDimensionMismatch   = errors.New("dimension mismatch")
)

// Contract violation errors. Mark the broker DEGRADED and attempt one
// clean restart; a second consecutive occurrence is fatal to the worker.
var (
	ErrProtocolError   = errors.New("protocol error")
	ErrInvalidResponse = errors.New("invalid response")
)

// User-facing errors. Returned immediately to the caller, never retried.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidationFailed = errors.New("validation failed")
)

// Lifecycle errors. Handled entirely within the Startup Coordinator; no
// other component observes them.
var (
	ErrConcurrentStartup = errors.New("concurrent startup")
	ErrInstanceLockLost  = errors.New("instance lock lost")
)

// Broker-specific outcomes that are not pure sentinels but still need a
// stable identity for callers matching with errors.Is.
var (
	ErrWorkerUnavailable = errors.New("worker unavailable")
	ErrResourceExhausted = errors.New("resource exhausted")
)
