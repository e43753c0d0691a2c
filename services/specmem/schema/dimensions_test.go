// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

func TestDimensionLedger_FirstWriteRecordsWidth(t *testing.T) {
	l, err := openDimensionLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 1536))
	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 1536))
}

func TestDimensionLedger_MismatchRejected(t *testing.T) {
	l, err := openDimensionLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 1536))

	err = l.checkAndRecord("tenant-a", ClassMemory, 768)
	require.Error(t, err)
	assert.True(t, errors.Is(err, specerrors.ErrDimensionMismatch))
}

func TestDimensionLedger_TenantsIndependent(t *testing.T) {
	l, err := openDimensionLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 1536))
	require.NoError(t, l.checkAndRecord("tenant-b", ClassMemory, 768))
}

func TestDimensionLedger_ClearResetsTenant(t *testing.T) {
	l, err := openDimensionLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 1536))
	require.NoError(t, l.clear("tenant-a"))
	require.NoError(t, l.checkAndRecord("tenant-a", ClassMemory, 768))
}
