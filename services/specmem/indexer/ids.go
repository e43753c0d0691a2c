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
	"fmt"

	"github.com/google/uuid"
)

// idNamespace roots every deterministic UUIDv5 this package mints. Using
// a fixed namespace (rather than uuid.NameSpaceOID directly) keeps these
// IDs distinguishable from any other deterministic UUID scheme sharing
// the same store.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("specmem.indexer"))

// fileObjectID derives a stable ID for a CodeFile row from its
// project-relative path. Stability across runs is what lets the
// persist phase's delete-then-insert converge instead of accumulating
// duplicate rows on every re-index.
func fileObjectID(relPath string) string {
	return uuid.NewSHA1(idNamespace, []byte("file:"+relPath)).String()
}

// definitionObjectID derives a stable ID for one CodeDefinition row.
// StartLine is part of the key so two same-named overloads/methods in
// one file get distinct, stable IDs.
func definitionObjectID(relPath, name, kind string, startLine int) string {
	key := fmt.Sprintf("def:%s:%s:%s:%d", relPath, kind, name, startLine)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
