// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer drives the five-phase batch pipeline that turns
// scanner.Result values into persisted CodeFile/CodeDefinition rows
// with embeddings, per spec.md §4.6 (component C6).
package indexer

import (
	"time"

	"github.com/jonhardwick-spec/specmem/services/specmem/governor"
)

// Phase names one of the five pipeline stages, reported in Progress so
// the startup UI can render which step is running.
type Phase string

const (
	PhaseRead               Phase = "read"
	PhaseEmbedFiles         Phase = "embed_files"
	PhasePersistFiles       Phase = "persist_files"
	PhaseEmbedDefinitions   Phase = "embed_definitions"
	PhasePersistDefinitions Phase = "persist_definitions"
)

// Progress is one record in the lazy progress sequence Run yields.
type Progress struct {
	FilesDone        int
	FilesTotal       int
	EmbeddingsOk     int
	EmbeddingsFailed int
	Phase            Phase
	CurrentFile      string
}

// Config tunes batch sizing and resource-governor interaction. Zero
// values are replaced by spec.md §4.6's stated defaults in
// applyDefaults.
type Config struct {
	FileBatchSize    int // ~50 files read/persisted per batch
	InnerParallelism int // ~16 concurrent read/persist operations
	EmbedBatchSize   int // ~100 texts per batch_embed call
	MaxDefsPerFile   int // up to 30 definitions embedded per file
	FileContentCap   int // embedding input is truncated to this many runes
	GovernorPriority governor.Priority
	GovernorWaitBound time.Duration
	Debug            bool
}

func (c *Config) applyDefaults() {
	if c.FileBatchSize <= 0 {
		c.FileBatchSize = 50
	}
	if c.InnerParallelism <= 0 {
		c.InnerParallelism = 16
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 100
	}
	if c.MaxDefsPerFile <= 0 {
		c.MaxDefsPerFile = 30
	}
	if c.FileContentCap <= 0 {
		c.FileContentCap = 8000
	}
	if c.GovernorPriority == "" {
		c.GovernorPriority = governor.PriorityMedium
	}
	if c.GovernorWaitBound <= 0 {
		c.GovernorWaitBound = 30 * time.Second
	}
}
