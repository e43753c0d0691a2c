// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the thin gin translation layer over the typed tool
// surface (spec.md §6): memory.Store, indexer progress, and the startup
// coordinator. It is explicitly not the core — every handler adapts one
// typed Go method, and the wire shapes here carry no semantics the
// packages they call into don't already own.
package httpapi

// ErrorResponse is the body returned for any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SaveMemoryRequest is the body for POST /v1/memories.
type SaveMemoryRequest struct {
	Content    string            `json:"content" binding:"required"`
	Kind       string            `json:"kind" binding:"required,oneof=episodic semantic procedural working consolidated"`
	Importance string            `json:"importance,omitempty" binding:"omitempty,oneof=low medium high critical"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SaveMemoryResponse is the body for a successful POST /v1/memories.
type SaveMemoryResponse struct {
	ID                string `json:"id"`
	EmbeddingDeferred bool   `json:"embeddingDeferred,omitempty"`
}

// FindMemoryRequest is the body for POST /v1/memories/find.
type FindMemoryRequest struct {
	Query      string   `json:"query" binding:"required"`
	K          int      `json:"k,omitempty" binding:"omitempty,min=1"`
	Threshold  float32  `json:"threshold,omitempty" binding:"omitempty,min=-1,max=1"`
	KindFilter string   `json:"kindFilter,omitempty" binding:"omitempty,oneof=episodic semantic procedural working consolidated"`
	TagsAny    []string `json:"tagsAny,omitempty"`
}

// MemoryHit is one entry in the findMemory result list.
type MemoryHit struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Score     float32  `json:"score"`
	Kind      string   `json:"kind"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"createdAt"`
}

// MemoryRecordResponse is the body for GET /v1/memories/:id.
type MemoryRecordResponse struct {
	ID           string            `json:"id"`
	Content      string            `json:"content"`
	Kind         string            `json:"kind"`
	Importance   string            `json:"importance"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"createdAt"`
	HasEmbedding bool              `json:"hasEmbedding"`
}

// FindCodePointersRequest is the body for POST /v1/code/find.
type FindCodePointersRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k,omitempty" binding:"omitempty,min=1"`
}

// CodePointerResponse is one entry in the findCodePointers result list.
type CodePointerResponse struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	File      string  `json:"file"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Signature string  `json:"signature"`
	Score     float32 `json:"score"`
}

// SyncStatusResponse is the body for GET /v1/sync, matching spec.md
// §6's checkSync output shape.
type SyncStatusResponse struct {
	FilesTotal        int    `json:"filesTotal"`
	Indexed           int    `json:"indexed"`
	PendingEmbeddings int    `json:"pendingEmbeddings"`
	LastBatchAt       string `json:"lastBatchAt,omitempty"`
}

// HealthResponse pins down the Open Question #2 health reply schema:
// any reply that parses as JSON and carries "type":"health_ok" counts
// as alive.
type HealthResponse struct {
	Type   string `json:"type"`
	PID    int    `json:"pid"`
	Status string `json:"status"`
}
