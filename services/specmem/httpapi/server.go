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
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jonhardwick-spec/specmem/services/specmem/coordinator"
	"github.com/jonhardwick-spec/specmem/services/specmem/memory"
)

// Server adapts the typed memory.Store / indexer progress / startup
// coordinator surface to HTTP, per spec.md §6's tool-surface table. It
// owns no business logic of its own — every handler is a thin
// translation to one method on the types it wraps.
type Server struct {
	store  *memory.Store
	coord  *coordinator.Coordinator
	sync   *SyncTracker
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer builds a Server. sync may be nil if no indexing pipeline is
// wired in (e.g. SPECMEM_CODEBASE_ENABLED=false); /v1/sync then reports
// a zeroed status rather than failing.
func NewServer(store *memory.Store, coord *coordinator.Coordinator, sync *SyncTracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if sync == nil {
		sync = NewSyncTracker()
	}
	return &Server{
		store:  store,
		coord:  coord,
		sync:   sync,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard is a local-loopback operator surface, not a
			// public API; same-origin checks don't apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// NewEngine builds a gin.Engine with the same middleware stack the
// teacher's cmd/trace server uses (Recovery, otelgin tracing, and
// request logging in debug mode) and registers every route this
// package serves.
func NewEngine(s *Server, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("specmem"))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	s.registerMemoryRoutes(v1)
	s.registerCodeRoutes(v1)
	s.registerSyncRoutes(v1)
	s.registerHealthRoutes(v1)
	s.registerDashboardRoutes(router)

	return router
}

func pid() int { return os.Getpid() }
