// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessioningest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameKey_StableAndDistinguishesInputs(t *testing.T) {
	a := frameKey("session-1", "2026-01-01T00:00:00Z")
	b := frameKey("session-1", "2026-01-01T00:00:00Z")
	c := frameKey("session-1", "2026-01-01T00:00:01Z")
	d := frameKey("session-2", "2026-01-01T00:00:00Z")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestLedger_SeenFalseUntilRecorded(t *testing.T) {
	l, err := openLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	key := frameKey("s1", "t1")

	seen, err := l.seen(key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.record(key))

	seen, err = l.seen(key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLedger_RecordIsIdempotent(t *testing.T) {
	l, err := openLedger(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	key := frameKey("s1", "t1")
	require.NoError(t, l.record(key))
	require.NoError(t, l.record(key))

	seen, err := l.seen(key)
	require.NoError(t, err)
	assert.True(t, seen)
}
