// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"
)

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	return New(nil, schema.Scope{Tenant: "test"}, nil, nil, cfg, obslog.Discard())
}

func TestCollectDefinitions_TruncatesPerFile(t *testing.T) {
	p := newTestPipeline(t, Config{MaxDefsPerFile: 2})

	defs := make([]scanner.CodeDefinition, 5)
	for i := range defs {
		defs[i] = scanner.CodeDefinition{FilePath: "a.go", Name: "Fn", Kind: scanner.KindFunction, StartLine: i + 1, EndLine: i + 2}
	}
	work := []*fileWork{{result: scanner.Result{File: scanner.CodeFile{Path: "a.go"}, Definitions: defs}}}

	items := p.collectDefinitions(work)
	require.Len(t, items, 2)
}

func TestCollectDefinitions_SkipsUnchangedFiles(t *testing.T) {
	p := newTestPipeline(t, Config{})
	work := []*fileWork{
		{skip: true, result: scanner.Result{File: scanner.CodeFile{Path: "skip.go"}, Definitions: []scanner.CodeDefinition{{Name: "X"}}}},
		{skip: false, result: scanner.Result{File: scanner.CodeFile{Path: "keep.go"}, Definitions: []scanner.CodeDefinition{{Name: "Y"}}}},
	}

	items := p.collectDefinitions(work)
	require.Len(t, items, 1)
	assert.Equal(t, "Y", items[0].def.Name)
}

func TestLastPath_EmptyBatch(t *testing.T) {
	assert.Equal(t, "", lastPath(nil))
}

func TestLastPath_ReturnsFinalFile(t *testing.T) {
	batch := []scanner.Result{
		{File: scanner.CodeFile{Path: "a.go"}},
		{File: scanner.CodeFile{Path: "b.go"}},
	}
	assert.Equal(t, "b.go", lastPath(batch))
}
