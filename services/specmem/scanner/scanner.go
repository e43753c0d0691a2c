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

import "log/slog"

// Result is one scanned file paired with the definitions extracted
// from it, ready for the Indexing Pipeline.
type Result struct {
	File        CodeFile
	Definitions []CodeDefinition
}

// Scan walks root, reads and classifies every candidate file, and
// extracts definitions from each accepted (non-binary) file.
func Scan(root string, logger *slog.Logger) ([]Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table, err := DefaultRuleTable()
	if err != nil {
		return nil, err
	}

	candidates, err := Walk(root, table, logger)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		content, ok, err := ReadIfText(c.AbsPath)
		if err != nil {
			logger.Warn("scanner: read failed", slog.String("path", c.AbsPath), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		file := CodeFile{
			Path:        c.RelPath,
			Language:    c.Language,
			Content:     content,
			ContentHash: ContentHash(content),
			SizeBytes:   int64(len(content)),
		}
		defs := Extract(c.RelPath, c.Language, content, table, logger)

		results = append(results, Result{File: file, Definitions: defs})
	}

	return results, nil
}
