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
	"log/slog"
	"sort"

	"github.com/jonhardwick-spec/specmem/services/specmem/embedbroker"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"
)

var memoryFields = []string{"content", "category", "importance", "tags", "createdAt", "metadataJSON"}

// FindMemory embeds query, runs a k-NN search scoped to this project,
// and applies the filtering/threshold/tie-break rules from spec.md
// §4.7: cosine similarity must be >= threshold (default 0.25), results
// are optionally narrowed by kind and by "any of these tags", and ties
// are broken by recency then importance since Weaviate's own ordering
// is score-only.
func (s *Store) FindMemory(ctx context.Context, query string, k int, threshold float32, filters SearchFilters) ([]SearchHit, error) {
	if k <= 0 {
		k = defaultFindK
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	vecs, err := s.broker.Embed(ctx, []string{query}, embedbroker.PriorityHigh)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, nil
	}

	// Over-fetch: the similarity threshold and tag filter are applied
	// client-side, so ask Weaviate for more than k candidates before
	// trimming down to the caller's requested count.
	fetchLimit := k * 4
	if fetchLimit < 20 {
		fetchLimit = 20
	}

	whereProp, whereValue := "", ""
	if filters.KindFilter != "" {
		whereProp, whereValue = "category", string(filters.KindFilter)
	}

	results, err := s.schema.NearVectorSearch(ctx, s.scope, schema.ClassMemory, vecs[0], fetchLimit, memoryFields, whereProp, whereValue)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		score := cosineScoreFromDistance(r.Distance)
		if score < threshold {
			continue
		}
		rec := recordFromProperties(r.ID, r.Properties, true)
		if len(filters.TagsAny) > 0 && !hasAnyTag(rec.Tags, filters.TagsAny) {
			continue
		}
		hits = append(hits, SearchHit{Record: rec, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].Importance.rank() > hits[j].Importance.rank()
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineScoreFromDistance converts Weaviate's cosine distance
// (0 = identical, 2 = opposite) into a similarity score in [-1, 1]
// matching the threshold semantics spec.md §4.7 states in similarity
// terms.
func cosineScoreFromDistance(distance float32) float32 {
	return 1 - distance
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

var codeFileFields = []string{"path", "language", "contentHash"}
var codeDefinitionFields = []string{"filePath", "name", "kind", "startLine", "endLine", "signature"}

// FindCodePointers searches both code-file and code-definition vectors
// and returns matching definitions with enough file context to drill
// down by id, per spec.md §4.7. A file-level hit is expanded into the
// definitions it contains (via a plain filePath equality lookup) so a
// query that matches a file's overall content still surfaces concrete
// drill-down targets, not just a bare file path.
//
// Definition rows don't carry the raw source body (the store only
// persists a content hash for files, per spec.md's storage contract),
// so "first N lines of the body" is served here as the definition's
// captured Signature — the closest available body excerpt.
func (s *Store) FindCodePointers(ctx context.Context, query string, k int) ([]CodePointer, error) {
	if k <= 0 {
		k = defaultCodePointerK
	}

	vecs, err := s.broker.Embed(ctx, []string{query}, embedbroker.PriorityHigh)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, nil
	}
	vector := vecs[0]

	defHits, err := s.schema.NearVectorSearch(ctx, s.scope, schema.ClassCodeDefinition, vector, k, codeDefinitionFields, "", "")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]CodePointer, len(defHits))
	for _, r := range defHits {
		byID[r.ID] = codePointerFromProperties(r.ID, r.Properties, cosineScoreFromDistance(r.Distance))
	}

	fileHits, err := s.schema.NearVectorSearch(ctx, s.scope, schema.ClassCodeFile, vector, k, codeFileFields, "", "")
	if err != nil {
		s.logger.Warn("memory: code-file search failed, returning definition-only hits", slog.String("error", err.Error()))
	} else {
		for _, fh := range fileHits {
			path, _ := fh.Properties["path"].(string)
			if path == "" {
				continue
			}
			fileScore := cosineScoreFromDistance(fh.Distance)
			defsInFile, ferr := s.schema.FindEqual(ctx, s.scope, schema.ClassCodeDefinition, codeDefinitionFields, "filePath", path)
			if ferr != nil {
				continue
			}
			for _, d := range defsInFile {
				if _, already := byID[d.ID]; already {
					continue
				}
				byID[d.ID] = codePointerFromProperties(d.ID, d.Properties, fileScore)
			}
		}
	}

	pointers := make([]CodePointer, 0, len(byID))
	for _, cp := range byID {
		pointers = append(pointers, cp)
	}
	sort.SliceStable(pointers, func(i, j int) bool { return pointers[i].Score > pointers[j].Score })
	if len(pointers) > k {
		pointers = pointers[:k]
	}
	return pointers, nil
}

func codePointerFromProperties(id string, props map[string]interface{}, score float32) CodePointer {
	cp := CodePointer{ID: id, Score: score}
	if v, ok := props["name"].(string); ok {
		cp.Name = v
	}
	if v, ok := props["kind"].(string); ok {
		cp.Kind = v
	}
	if v, ok := props["filePath"].(string); ok {
		cp.FilePath = v
	}
	if v, ok := props["startLine"].(float64); ok {
		cp.StartLine = int(v)
	}
	if v, ok := props["endLine"].(float64); ok {
		cp.EndLine = int(v)
	}
	if v, ok := props["signature"].(string); ok {
		cp.Signature = v
	}
	return cp
}
