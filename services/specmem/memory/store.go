// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem/services/specmem/embedbroker"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"
)

// Store is the typed memory CRUD and search surface for one project.
// It is the thin, project-scoped wrapper the HTTP tool surface calls
// into. C9 session ingest does not go through it: it calls
// schema.Client and embedbroker.Broker directly.
type Store struct {
	schema *schema.Client
	scope  schema.Scope
	broker *embedbroker.Broker
	logger *slog.Logger
}

// New builds a Store bound to one project's schema scope and embedding
// broker.
func New(schemaClient *schema.Client, scope schema.Scope, broker *embedbroker.Broker, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{schema: schemaClient, scope: scope, broker: broker, logger: logger}
}

// SaveMemory embeds and inserts a memory record. If in.Metadata["hash"]
// is present and a record with that contentHash and kind already
// exists, the existing ID is returned and no write occurs (idempotent
// ingest). If the embedding call fails transiently, the record is
// still written without a vector; callers observe this via the
// returned backfillPending flag so they can include it in the response
// contract's EmbeddingDeferred status.
func (s *Store) SaveMemory(ctx context.Context, in SaveInput) (id string, backfillPending bool, err error) {
	hash := in.Metadata["hash"]
	if hash != "" {
		if existingID, found, ferr := s.findDuplicate(ctx, hash, in.Kind); ferr == nil && found {
			return existingID, false, nil
		}
	}

	var vector []float32
	vecs, embedErr := s.broker.Embed(ctx, []string{in.Content}, embedbroker.PriorityHigh)
	if embedErr == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
		vector = vecs[0]
	} else {
		backfillPending = true
		if embedErr != nil {
			s.logger.Warn("memory: embedding failed, writing without vector", slog.String("error", embedErr.Error()))
		}
	}

	metaJSON, err := json.Marshal(in.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal metadata: %w", err)
	}

	objID := uuid.New().String()
	obj := schema.Object{
		ID: objID,
		Properties: map[string]interface{}{
			"content":      in.Content,
			"category":     string(in.Kind),
			"tags":         toInterfaceSlice(in.Tags),
			"importance":   importanceWeight(in.Importance),
			"createdAt":    time.Now().UTC().Format(time.RFC3339),
			"sessionId":    in.Metadata["sessionId"],
			"contentHash":  hash,
			"metadataJSON": string(metaJSON),
		},
		Vector: vector,
	}
	if err := s.schema.Put(ctx, s.scope, schema.ClassMemory, obj); err != nil {
		return "", false, err
	}
	return objID, backfillPending, nil
}

// findDuplicate looks up an existing memory sharing hash and kind.
func (s *Store) findDuplicate(ctx context.Context, hash string, kind Kind) (id string, found bool, err error) {
	hits, err := s.schema.FindEqual(ctx, s.scope, schema.ClassMemory, []string{"category", "contentHash"}, "contentHash", hash)
	if err != nil {
		return "", false, err
	}
	for _, h := range hits {
		if cat, _ := h.Properties["category"].(string); cat == string(kind) {
			return h.ID, true, nil
		}
	}
	return "", false, nil
}

// GetMemory fetches one record by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (Record, error) {
	props, vector, err := s.schema.GetWithVector(ctx, s.scope, schema.ClassMemory, id)
	if err != nil {
		return Record{}, err
	}
	return recordFromProperties(id, props, len(vector) > 0), nil
}

func toInterfaceSlice(tags []string) []interface{} {
	out := make([]interface{}, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

// importanceWeight stores importance as its numeric rank (1-4) so
// Weaviate-side sorts/filters on the "importance" number property stay
// meaningful; recordFromProperties converts it back to an Importance.
func importanceWeight(imp Importance) float64 {
	if w, ok := importanceRank[imp]; ok {
		return float64(w)
	}
	return float64(importanceRank[ImportanceLow])
}

func importanceFromWeight(w float64) Importance {
	switch int(w) {
	case 4:
		return ImportanceCritical
	case 3:
		return ImportanceHigh
	case 2:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

func recordFromProperties(id string, props map[string]interface{}, hasEmbedding bool) Record {
	r := Record{ID: id, HasEmbedding: hasEmbedding}
	if v, ok := props["content"].(string); ok {
		r.Content = v
	}
	if v, ok := props["category"].(string); ok {
		r.Kind = Kind(v)
	}
	if v, ok := props["importance"].(float64); ok {
		r.Importance = importanceFromWeight(v)
	}
	if raw, ok := props["tags"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				r.Tags = append(r.Tags, s)
			}
		}
	}
	if v, ok := props["createdAt"].(string); ok {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			r.CreatedAt = t
		}
	}
	if raw, ok := props["metadataJSON"].(string); ok && raw != "" {
		meta := map[string]string{}
		if jerr := json.Unmarshal([]byte(raw), &meta); jerr == nil {
			r.Metadata = meta
		}
	}
	return r
}
