// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
)

func TestDefaultRuleTable_LoadsEmbeddedYAML(t *testing.T) {
	table, err := DefaultRuleTable()
	require.NoError(t, err)
	assert.Contains(t, table.ByExtension, ".go")
	assert.Contains(t, table.ByExtension, ".py")
	assert.True(t, table.IgnoredDirs["node_modules"])
	assert.Equal(t, 15, table.MaxDepth)
}

func TestExtract_Go_FunctionsAndStructs(t *testing.T) {
	table, err := DefaultRuleTable()
	require.NoError(t, err)

	src := `package example

func DoThing(x int) int {
	return x + 1
}

type Widget struct {
	Name string
}
`
	defs := Extract("example.go", "go", src, table, obslog.Discard())
	require.Len(t, defs, 2)
	assert.Equal(t, "DoThing", defs[0].Name)
	assert.Equal(t, KindFunction, defs[0].Kind)
	assert.True(t, defs[0].Exported)
	assert.Equal(t, "Widget", defs[1].Name)
	assert.Equal(t, KindStruct, defs[1].Kind)
	assert.LessOrEqual(t, defs[0].StartLine, defs[0].EndLine)
}

func TestExtract_RejectsControlFlowNames(t *testing.T) {
	table, err := DefaultRuleTable()
	require.NoError(t, err)

	src := "func if(x int) int { return x }\n"
	defs := Extract("weird.go", "go", src, table, obslog.Discard())
	assert.Empty(t, defs)
}

func TestExtract_TruncatesAt500(t *testing.T) {
	table, err := DefaultRuleTable()
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 600; i++ {
		b.WriteString("func F")
		b.WriteString(strings.Repeat("x", 1))
		b.WriteString("(){}\n")
	}
	defs := Extract("many.go", "go", b.String(), table, obslog.Discard())
	assert.LessOrEqual(t, len(defs), maxDefinitionsPerFile)
}

func TestReadIfText_RejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 'h', 'i'}, 0640))

	_, ok, err := ReadIfText(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalk_SkipsIgnoredAndHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.go"), []byte("package dep\n"), 0640))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config.go"), []byte("package git\n"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0640))

	table, err := DefaultRuleTable()
	require.NoError(t, err)

	candidates, err := Walk(root, table, obslog.Discard())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "main.go", candidates[0].RelPath)
}

func TestScan_EndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc Hello() {}\n"), 0640))

	results, err := Scan(root, obslog.Discard())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].File.Path)
	require.Len(t, results[0].Definitions, 1)
	assert.Equal(t, "Hello", results[0].Definitions[0].Name)
}
