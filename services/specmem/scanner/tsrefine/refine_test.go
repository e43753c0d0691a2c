// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tsrefine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
)

func TestRefine_TightensFunctionEndLine(t *testing.T) {
	src := `package example

func DoThing(x int) int {
	if x > 0 {
		return x + 1
	}
	return x
}

func Other() {}
`
	defs := []scanner.CodeDefinition{
		{FilePath: "example.go", Name: "DoThing", Kind: scanner.KindFunction, StartLine: 3, EndLine: 103},
		{FilePath: "example.go", Name: "Other", Kind: scanner.KindFunction, StartLine: 10, EndLine: 110},
	}

	refined := Refine(context.Background(), []byte(src), defs, obslog.Discard())
	require.Len(t, refined, 2)
	assert.Equal(t, 8, refined[0].EndLine)
	assert.Equal(t, 10, refined[1].EndLine)
}

func TestRefine_LeavesNonFunctionKindsUntouched(t *testing.T) {
	src := "package example\n\ntype Widget struct {\n\tName string\n}\n"
	defs := []scanner.CodeDefinition{
		{FilePath: "example.go", Name: "Widget", Kind: scanner.KindStruct, StartLine: 3, EndLine: 99},
	}

	refined := Refine(context.Background(), []byte(src), defs, obslog.Discard())
	require.Len(t, refined, 1)
	assert.Equal(t, 99, refined[0].EndLine)
}
