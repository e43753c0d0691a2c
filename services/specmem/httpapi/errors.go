// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"errors"
	"net/http"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// statusFor maps a specerrors sentinel to the HTTP status and stable
// error code clients match on, per §7's error kind taxonomy. An
// unrecognized error is treated as an internal failure: it isn't one of
// the typed kinds the core contract promises to surface.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, specerrors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, specerrors.ErrValidationFailed):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, specerrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, specerrors.ErrDimensionMismatch):
		return http.StatusServiceUnavailable, "DIMENSION_MISMATCH"
	case errors.Is(err, specerrors.ErrEnvironmentUnusable):
		return http.StatusServiceUnavailable, "ENVIRONMENT_UNUSABLE"
	case errors.Is(err, specerrors.ErrWorkerUnavailable):
		return http.StatusServiceUnavailable, "WORKER_UNAVAILABLE"
	case errors.Is(err, specerrors.ErrResourceExhausted):
		return http.StatusServiceUnavailable, "RESOURCE_EXHAUSTED"
	case errors.Is(err, specerrors.ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
