// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scanner walks a project's tree and extracts per-file and
// per-definition records for the Indexing Pipeline. See spec.md §3
// component C5 and §4.5.
package scanner

// CodeFile is one scanned source file, ready for C6 to embed and persist.
type CodeFile struct {
	Path        string // path relative to the project root
	Language    string
	Content     string
	ContentHash string
	SizeBytes   int64
}

// DefinitionKind enumerates the code-definition kinds recognized across
// every supported language family, per spec.md §3's glossary.
type DefinitionKind string

const (
	KindFunction  DefinitionKind = "function"
	KindMethod    DefinitionKind = "method"
	KindClass     DefinitionKind = "class"
	KindInterface DefinitionKind = "interface"
	KindType      DefinitionKind = "type"
	KindStruct    DefinitionKind = "struct"
	KindEnum      DefinitionKind = "enum"
	KindTrait     DefinitionKind = "trait"
	KindImpl      DefinitionKind = "impl"
	KindMacro     DefinitionKind = "macro"
)

// CodeDefinition is one extracted definition within a CodeFile.
//
// Invariant: 1 <= StartLine <= EndLine.
type CodeDefinition struct {
	FilePath  string
	Name      string
	Kind      DefinitionKind
	StartLine int
	EndLine   int
	Signature string
	Exported  bool
}

// maxDefinitionsPerFile is the truncation threshold from spec.md §4.5:
// remaining definitions beyond this count are dropped and the event is
// logged as a warning, never an error.
const maxDefinitionsPerFile = 500

// maxEndLineLookahead bounds how far the brace/indent scan looks past a
// definition's start line when approximating its end.
const maxEndLineLookahead = 100

// minNameLength and maxNameLength bound an accepted definition name.
const (
	minNameLength = 2
	maxNameLength = 100
)
