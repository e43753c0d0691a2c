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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

func TestStatusFor_KnownSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{specerrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{specerrors.ErrValidationFailed, http.StatusBadRequest, "VALIDATION_FAILED"},
		{specerrors.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{specerrors.ErrDimensionMismatch, http.StatusServiceUnavailable, "DIMENSION_MISMATCH"},
		{specerrors.ErrWorkerUnavailable, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE"},
		{specerrors.ErrResourceExhausted, http.StatusServiceUnavailable, "RESOURCE_EXHAUSTED"},
		{specerrors.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.code, code)
	}
}

func TestStatusFor_WrappedSentinelStillMatches(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), specerrors.ErrNotFound)
	status, code := statusFor(wrapped)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestStatusFor_UnknownErrorIsInternal(t *testing.T) {
	status, code := statusFor(errors.New("something unexpected"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
}
