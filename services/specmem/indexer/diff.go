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
	"log/slog"

	"github.com/pmezard/go-difflib/difflib"
)

// logContentDiff emits a unified diff between the previously stored
// content and the freshly read content, only when debug is enabled. A
// re-index of a large tree at info level would otherwise be unreadable;
// this exists purely to help a developer confirm *why* a file was
// re-embedded.
func logContentDiff(logger *slog.Logger, debug bool, relPath, oldContent, newContent string) {
	if !debug || oldContent == newContent {
		return
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: relPath + " (stored)",
		ToFile:   relPath + " (scanned)",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		logger.Debug("indexer: diff render failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return
	}
	logger.Debug("indexer: content changed", slog.String("path", relPath), slog.String("diff", text))
}
