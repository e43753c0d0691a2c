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
	"log/slog"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerDashboardRoutes(router *gin.Engine) {
	router.GET("/ws/dashboard", s.HandleDashboardWS)
}

// HandleDashboardWS handles GET /ws/dashboard: a websocket feed of
// indexing/broker telemetry for an operator dashboard. One subscription
// per connection; the connection is torn down when the client
// disconnects or a write fails.
func (s *Server) HandleDashboardWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("httpapi: dashboard websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.sync.Subscribe()
	defer unsubscribe()

	// Send the current snapshot immediately so a newly connected
	// dashboard isn't blank until the next batch completes.
	if err := conn.WriteJSON(s.sync.Status()); err != nil {
		return
	}

	for p := range ch {
		if err := conn.WriteJSON(syncEventFromProgress(p)); err != nil {
			return
		}
	}
}
