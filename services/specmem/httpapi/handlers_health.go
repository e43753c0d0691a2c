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

func (s *Server) registerHealthRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", s.HandleHealth)
}

// HandleHealth handles GET /v1/health, mirroring the instance's UDS
// health probe reply shape (Open Question #2) over HTTP: any body that
// parses as JSON and carries "type":"health_ok" counts as alive.
func (s *Server) HandleHealth(c *gin.Context) {
	status := "unknown"
	if s.coord != nil {
		status = s.coord.State().String()
	}
	c.JSON(http.StatusOK, HealthResponse{Type: "health_ok", PID: pid(), Status: status})
}
