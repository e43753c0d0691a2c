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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonhardwick-spec/specmem/services/specmem/indexer"
)

func (s *Server) registerSyncRoutes(rg *gin.RouterGroup) {
	rg.GET("/sync", s.HandleCheckSync)
	rg.GET("/sync/stream", s.HandleSyncStream)
}

// HandleCheckSync handles GET /v1/sync (checkSync).
func (s *Server) HandleCheckSync(c *gin.Context) {
	c.JSON(http.StatusOK, s.sync.Status())
}

// HandleSyncStream handles GET /v1/sync/stream: a Server-Sent Events
// feed of checkSync snapshots, one event per Progress record the
// pipeline publishes (several per batch, one for each phase), until the
// client disconnects.
func (s *Server) HandleSyncStream(c *gin.Context) {
	ch, unsubscribe := s.sync.Subscribe()
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("sync", syncEventFromProgress(p))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func syncEventFromProgress(p indexer.Progress) SyncStatusResponse {
	return SyncStatusResponse{
		FilesTotal:        p.FilesTotal,
		Indexed:           p.FilesDone,
		PendingEmbeddings: p.EmbeddingsFailed,
	}
}
