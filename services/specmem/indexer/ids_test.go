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

	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
)

func scannerDefinitionFixture() scanner.CodeDefinition {
	return scanner.CodeDefinition{
		FilePath:  "pkg/foo.go",
		Name:      "DoThing",
		Kind:      scanner.KindFunction,
		StartLine: 3,
		EndLine:   8,
		Signature: "func DoThing(x int) int",
		Exported:  true,
	}
}

func TestFileObjectID_StableAcrossCalls(t *testing.T) {
	a := fileObjectID("pkg/foo.go")
	b := fileObjectID("pkg/foo.go")
	assert.Equal(t, a, b)
}

func TestFileObjectID_DistinctPathsDistinctIDs(t *testing.T) {
	a := fileObjectID("pkg/foo.go")
	b := fileObjectID("pkg/bar.go")
	assert.NotEqual(t, a, b)
}

func TestDefinitionObjectID_StableAndDistinguishesOverloads(t *testing.T) {
	a := definitionObjectID("pkg/foo.go", "Handle", "function", 10)
	b := definitionObjectID("pkg/foo.go", "Handle", "function", 10)
	assert.Equal(t, a, b)

	c := definitionObjectID("pkg/foo.go", "Handle", "function", 42)
	assert.NotEqual(t, a, c)
}

func TestFileEmbeddingInput_TruncatesToCap(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	out := fileEmbeddingInput("main.go", "go", content, 5)
	assert.Contains(t, out, "File: main.go")
	assert.Contains(t, out, "Language: go")
	assert.Contains(t, out, "packa") // first 5 runes of content
	assert.NotContains(t, out, "package main")
}

func TestDefinitionEmbeddingInput_Format(t *testing.T) {
	def := scannerDefinitionFixture()
	out := definitionEmbeddingInput(def)
	assert.Contains(t, out, "function DoThing")
	assert.Contains(t, out, "func DoThing(x int) int")
	assert.Contains(t, out, "File: pkg/foo.go")
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, 50, cfg.FileBatchSize)
	assert.Equal(t, 16, cfg.InnerParallelism)
	assert.Equal(t, 100, cfg.EmbedBatchSize)
	assert.Equal(t, 30, cfg.MaxDefsPerFile)
	assert.Equal(t, 8000, cfg.FileContentCap)
}

func TestConfig_ApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{FileBatchSize: 10}
	cfg.applyDefaults()
	assert.Equal(t, 10, cfg.FileBatchSize)
	assert.Equal(t, 16, cfg.InnerParallelism) // still defaulted
}
