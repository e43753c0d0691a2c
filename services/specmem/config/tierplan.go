// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EmbeddingPlan holds the broker-facing knobs for a tier.
type EmbeddingPlan struct {
	BatchSize     int `json:"batchSize"`
	MaxConcurrent int `json:"maxConcurrent"`
	TimeoutMS     int `json:"timeout"`
}

// CachePlan holds cache sizing for a tier.
type CachePlan struct {
	EmbeddingCacheSize int `json:"embeddingCacheSize"`
}

// ProcessingPlan holds indexing chunk sizing for a tier.
type ProcessingPlan struct {
	ChunkSize int `json:"chunkSize"`
}

// TierPlan is written to model-config.json and read back on every
// startup; it is derived once from codebase size and then reused as-is,
// so that concurrent indexing runs see stable knobs. A readable plan on
// disk is never rewritten, and the reset command leaves the file in
// place.
type TierPlan struct {
	Tier       string         `json:"tier"`
	Embedding  EmbeddingPlan  `json:"embedding"`
	Cache      CachePlan      `json:"cache"`
	Processing ProcessingPlan `json:"processing"`
}

// tierThresholds classify a codebase by file count into small/medium/large.
const (
	smallFileThreshold  = 200
	mediumFileThreshold = 2000
)

// DeriveTierPlan picks a tier preset from file count and a rough
// complexity score (definitions per file). totalLines is accepted but
// does not affect the choice.
func DeriveTierPlan(fileCount, totalLines, avgDefinitionsPerFile int) TierPlan {
	complexity := avgDefinitionsPerFile
	switch {
	case fileCount <= smallFileThreshold && complexity <= 10:
		return TierPlan{
			Tier:       "small",
			Embedding:  EmbeddingPlan{BatchSize: 50, MaxConcurrent: 2, TimeoutMS: 60_000},
			Cache:      CachePlan{EmbeddingCacheSize: 2_000},
			Processing: ProcessingPlan{ChunkSize: 50},
		}
	case fileCount <= mediumFileThreshold && complexity <= 25:
		return TierPlan{
			Tier:       "medium",
			Embedding:  EmbeddingPlan{BatchSize: 100, MaxConcurrent: 3, TimeoutMS: 90_000},
			Cache:      CachePlan{EmbeddingCacheSize: 10_000},
			Processing: ProcessingPlan{ChunkSize: 100},
		}
	default:
		return TierPlan{
			Tier:       "large",
			Embedding:  EmbeddingPlan{BatchSize: 200, MaxConcurrent: 4, TimeoutMS: 120_000},
			Cache:      CachePlan{EmbeddingCacheSize: 50_000},
			Processing: ProcessingPlan{ChunkSize: 150},
		}
	}
}

// LoadOrCreateTierPlan reads model-config.json if present; otherwise
// derives and persists a fresh plan.
func LoadOrCreateTierPlan(specmemDir string, fileCount, totalLines, avgDefs int) (TierPlan, error) {
	path := filepath.Join(specmemDir, "model-config.json")
	raw, err := os.ReadFile(path)
	if err == nil {
		var plan TierPlan
		if jerr := json.Unmarshal(raw, &plan); jerr == nil && plan.Tier != "" {
			return plan, nil
		}
	}

	plan := DeriveTierPlan(fileCount, totalLines, avgDefs)
	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return plan, fmt.Errorf("marshal tier plan: %w", err)
	}
	if err := os.WriteFile(path, out, 0640); err != nil {
		return plan, fmt.Errorf("write tier plan: %w", err)
	}
	return plan, nil
}
