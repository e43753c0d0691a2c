// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonhardwick-spec/specmem/services/specmem/memory"
)

func (s *Server) registerMemoryRoutes(rg *gin.RouterGroup) {
	rg.POST("/memories", s.HandleSaveMemory)
	rg.POST("/memories/find", s.HandleFindMemory)
	rg.GET("/memories/:id", s.HandleGetMemory)
}

// HandleSaveMemory handles POST /v1/memories (saveMemory).
func (s *Server) HandleSaveMemory(c *gin.Context) {
	var req SaveMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
		return
	}

	importance := memory.Importance(req.Importance)
	if importance == "" {
		importance = memory.ImportanceMedium
	}

	id, deferred, err := s.store.SaveMemory(c.Request.Context(), memory.SaveInput{
		Content:    req.Content,
		Kind:       memory.Kind(req.Kind),
		Importance: importance,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
	})
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, SaveMemoryResponse{ID: id, EmbeddingDeferred: deferred})
}

// HandleFindMemory handles POST /v1/memories/find (findMemory).
func (s *Server) HandleFindMemory(c *gin.Context) {
	var req FindMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
		return
	}

	hits, err := s.store.FindMemory(c.Request.Context(), req.Query, req.K, req.Threshold, memory.SearchFilters{
		KindFilter: memory.Kind(req.KindFilter),
		TagsAny:    req.TagsAny,
	})
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	out := make([]MemoryHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, MemoryHit{
			ID:        h.ID,
			Content:   h.Content,
			Score:     h.Score,
			Kind:      string(h.Kind),
			Tags:      h.Tags,
			CreatedAt: formatTime(h.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, out)
}

// HandleGetMemory handles GET /v1/memories/:id (getMemory).
func (s *Server) HandleGetMemory(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.store.GetMemory(c.Request.Context(), id)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, MemoryRecordResponse{
		ID:           rec.ID,
		Content:      rec.Content,
		Kind:         string(rec.Kind),
		Importance:   string(rec.Importance),
		Tags:         rec.Tags,
		Metadata:     rec.Metadata,
		CreatedAt:    formatTime(rec.CreatedAt),
		HasEmbedding: rec.HasEmbedding,
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
