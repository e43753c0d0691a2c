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

	"github.com/gin-gonic/gin"
)

func (s *Server) registerCodeRoutes(rg *gin.RouterGroup) {
	rg.POST("/code/find", s.HandleFindCodePointers)
}

// HandleFindCodePointers handles POST /v1/code/find (findCodePointers).
func (s *Server) HandleFindCodePointers(c *gin.Context) {
	var req FindCodePointersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
		return
	}

	pointers, err := s.store.FindCodePointers(c.Request.Context(), req.Query, req.K)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	out := make([]CodePointerResponse, 0, len(pointers))
	for _, p := range pointers {
		out = append(out, CodePointerResponse{
			Name:      p.Name,
			Kind:      p.Kind,
			File:      p.FilePath,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			Signature: p.Signature,
			Score:     p.Score,
		})
	}
	c.JSON(http.StatusOK, out)
}
