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

	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
)

// fileEmbeddingInput builds the text handed to the embedding model for
// a whole file, per spec.md §4.6's exact template. Content is capped at
// capRunes so one oversized file doesn't dominate a batch's token cost.
func fileEmbeddingInput(relPath, language, content string, capRunes int) string {
	r := []rune(content)
	if len(r) > capRunes {
		r = r[:capRunes]
	}
	return fmt.Sprintf("File: %s\nLanguage: %s\n\n%s", relPath, language, string(r))
}

// definitionEmbeddingInput builds the text handed to the embedding
// model for one definition, per spec.md §4.6's exact template.
func definitionEmbeddingInput(def scanner.CodeDefinition) string {
	return fmt.Sprintf("%s %s\n%s\nFile: %s", def.Kind, def.Name, def.Signature, def.FilePath)
}
