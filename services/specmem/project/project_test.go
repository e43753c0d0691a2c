// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_CreatesLayout(t *testing.T) {
	dir := t.TempDir()

	p, err := Resolve(dir)
	require.NoError(t, err)

	assert.DirExists(t, p.SpecmemDir)
	assert.DirExists(t, p.SocketDir)
	assert.DirExists(t, p.RunDir)
	assert.DirExists(t, p.CacheDir)
	assert.Equal(t, "specmem_"+p.Hash, p.SchemaName)
	assert.Len(t, p.Hash, hashLength)
}

func TestResolve_HashStability(t *testing.T) {
	dir := t.TempDir()

	p1, err := Resolve(dir)
	require.NoError(t, err)
	p2, err := Resolve(dir)
	require.NoError(t, err)

	assert.Equal(t, p1.Hash, p2.Hash, "hash must be stable across runs")
}

func TestResolve_DistinctPathsDistinctHashes(t *testing.T) {
	d1 := t.TempDir()
	d2 := t.TempDir()

	p1, err := Resolve(d1)
	require.NoError(t, err)
	p2, err := Resolve(d2)
	require.NoError(t, err)

	assert.NotEqual(t, p1.Hash, p2.Hash)
}

func TestHashPath_CaseInsensitive(t *testing.T) {
	lower := hashPath("/tmp/myproject")
	upper := hashPath("/TMP/MYPROJECT")
	assert.Equal(t, lower, upper)
}
