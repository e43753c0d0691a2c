// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command specmem starts and administers the per-project semantic
// memory and code-indexing service.
//
// Usage:
//
//	specmem serve --project /path/to/repo
//	specmem status --project /path/to/repo
//	specmem reindex --project /path/to/repo
//	specmem reset --project /path/to/repo --yes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonhardwick-spec/specmem/services/specmem/config"
	"github.com/jonhardwick-spec/specmem/services/specmem/coordinator"
	"github.com/jonhardwick-spec/specmem/services/specmem/embedbroker"
	"github.com/jonhardwick-spec/specmem/services/specmem/governor"
	"github.com/jonhardwick-spec/specmem/services/specmem/httpapi"
	"github.com/jonhardwick-spec/specmem/services/specmem/indexer"
	"github.com/jonhardwick-spec/specmem/services/specmem/memory"
	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/project"
	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"
	"github.com/jonhardwick-spec/specmem/services/specmem/sessioningest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var projectPath string

	root := &cobra.Command{
		Use:           "specmem",
		Short:         "Per-project semantic memory and code-indexing service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&projectPath, "project", "", "project root path (default: SPECMEM_PROJECT_PATH or the working directory)")

	root.AddCommand(newServeCmd(&projectPath))
	root.AddCommand(newStatusCmd(&projectPath))
	root.AddCommand(newResetCmd(&projectPath))
	root.AddCommand(newReindexCmd(&projectPath))
	return root
}

// bootstrap holds every long-lived handle a "serve" process owns, so
// shutdown can tear them down in reverse dependency order.
type bootstrap struct {
	proj      *project.Project
	logger    *slog.Logger
	logFile   *os.File
	cfg       *config.Config
	schema    *schema.Client
	scope     schema.Scope
	governor  *governor.Governor
	broker    *embedbroker.Broker
	store     *memory.Store
	pipeline  *indexer.Pipeline
	ingester  *sessioningest.Ingester
	coord     *coordinator.Coordinator
	sync      *httpapi.SyncTracker
	registry  *prometheus.Registry
}

func newServeCmd(projectPath *string) *cobra.Command {
	var dashboardPort, coordinationPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the service for one project and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*projectPath, dashboardPort, coordinationPort)
		},
	}
	cmd.Flags().IntVar(&dashboardPort, "dashboard-port", 7890, "HTTP tool surface / dashboard listen port")
	cmd.Flags().IntVar(&coordinationPort, "coordination-port", 7891, "port recorded in the instance record for operator tooling")
	return cmd
}

func runServe(projectPath string, dashboardPort, coordinationPort int) error {
	b, err := bootstrapProject(projectPath, dashboardPort, coordinationPort)
	if err != nil {
		return err
	}

	outcome, err := b.coord.Start(context.Background())
	if err != nil {
		return fmt.Errorf("coordinator start: %w", err)
	}
	if outcome == coordinator.OutcomeUseExisting {
		fmt.Fprintf(os.Stderr, "another instance already owns project %s; exiting\n", b.proj.Hash)
		return nil
	}

	if err := b.schema.EnsureSchema(context.Background(), b.scope); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	b.broker.Start()
	b.store = memory.New(b.schema, b.scope, b.broker, b.logger)

	initialResults, err := scanner.Scan(b.proj.Path, b.logger)
	if err != nil {
		return fmt.Errorf("scan project: %w", err)
	}
	plan, err := deriveTierPlan(b.proj.CacheDir, initialResults)
	if err != nil {
		b.logger.Warn("serve: tier plan derivation failed, using defaults", slog.String("error", err.Error()))
	}
	b.logger.Info("serve: tier plan", slog.String("tier", plan.Tier))

	b.pipeline = indexer.New(b.schema, b.scope, b.broker, b.governor, indexerConfigFromTierPlan(plan, b.cfg.Debug), b.logger)
	b.coord.SetReindexHandler(func() { runIndexPass(b) })

	if b.cfg.CodebaseEnabled {
		go func() {
			for p := range b.pipeline.Run(context.Background(), initialResults) {
				b.sync.Publish(p)
			}
		}()
	}

	sessionsDir, err := sessioningest.SessionsDir(b.proj.Hash)
	if err != nil {
		b.logger.Warn("serve: could not resolve sessions directory", slog.String("error", err.Error()))
	}
	ingester, err := sessioningest.New(b.schema, b.scope, b.broker, sessioningest.Config{
		SessionsDir: sessionsDir,
		LedgerDir:   b.proj.CacheDir,
	}, b.logger)
	if err != nil {
		b.logger.Warn("serve: session ingest unavailable", slog.String("error", err.Error()))
	} else {
		b.ingester = ingester
		go func() {
			res, err := ingester.Run(context.Background())
			if err != nil {
				b.logger.Warn("serve: session ingest run failed", slog.String("error", err.Error()))
				return
			}
			b.logger.Info("serve: session ingest complete",
				slog.Int("framesIngested", res.FramesIngested),
				slog.Int("framesDuplicate", res.FramesDuplicate))
		}()
	}

	server := httpapi.NewServer(b.store, b.coord, b.sync, b.logger)
	router := httpapi.NewEngine(server, b.cfg.Debug)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		b.logger.Info("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownBootstrap(b, shutdownCtx)
		os.Exit(0)
	}()

	addr := ":" + strconv.Itoa(dashboardPort)
	b.logger.Info("serve: listening", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// deriveTierPlan classifies the scanned codebase into a small/medium/large
// preset and persists it to model-config.json; once written, LoadOrCreateTierPlan
// reuses the frozen plan on every subsequent call for this project, so a
// reindex never retunes batch sizes mid-flight.
func deriveTierPlan(cacheDir string, results []scanner.Result) (config.TierPlan, error) {
	totalLines, totalDefs := 0, 0
	for _, r := range results {
		totalLines += strings.Count(r.File.Content, "\n") + 1
		totalDefs += len(r.Definitions)
	}
	avgDefs := 0
	if len(results) > 0 {
		avgDefs = totalDefs / len(results)
	}
	return config.LoadOrCreateTierPlan(cacheDir, len(results), totalLines, avgDefs)
}

func indexerConfigFromTierPlan(plan config.TierPlan, debug bool) indexer.Config {
	return indexer.Config{
		FileBatchSize:    plan.Processing.ChunkSize,
		EmbedBatchSize:   plan.Embedding.BatchSize,
		InnerParallelism: plan.Embedding.MaxConcurrent,
		Debug:            debug,
	}
}

// runIndexPass walks the project tree, runs the pipeline to
// completion, and publishes every yielded Progress to the dashboard's
// SyncTracker. Invoked on every "reindex" control message; the
// coordinator guarantees only one instance (and thus only one caller)
// touches a project at a time, but a second reindex request while one
// is in flight still overlaps in this process, so callers are expected
// to treat overlapping passes as merely redundant work, never as a
// correctness hazard (the pipeline's content-hash gate makes a
// concurrent rerun idempotent).
func runIndexPass(b *bootstrap) {
	results, err := scanner.Scan(b.proj.Path, b.logger)
	if err != nil {
		b.logger.Warn("index pass: scan failed", slog.String("error", err.Error()))
		return
	}
	for p := range b.pipeline.Run(context.Background(), results) {
		b.sync.Publish(p)
	}
}

func newStatusCmd(projectPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the last-known instance status for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := project.Resolve(*projectPath)
			if err != nil {
				return err
			}
			rec, err := coordinator.ReadInstanceRecord(proj.InstanceRecordPath())
			if err != nil {
				fmt.Printf("no instance record for project %s (%s)\n", proj.Path, proj.Hash)
				return nil
			}

			alive := probeRunning(proj.InstanceSocketPath())
			fmt.Printf("project:      %s\n", proj.Path)
			fmt.Printf("hash:         %s\n", proj.Hash)
			fmt.Printf("pid:          %d\n", rec.PID)
			fmt.Printf("status:       %s\n", rec.Status)
			fmt.Printf("started:      %s\n", rec.StartTime.Format(time.RFC3339))
			fmt.Printf("responding:   %t\n", alive)
			return nil
		},
	}
}

func newResetCmd(projectPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all indexed data for a project and clear local caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes: this permanently drops every memory, code file, and code definition record for this project")
			}

			proj, err := project.Resolve(*projectPath)
			if err != nil {
				return err
			}
			if probeRunning(proj.InstanceSocketPath()) {
				return fmt.Errorf("a running instance owns this project; stop it before resetting")
			}

			cfg, err := config.Load(proj.Path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := schema.NewClient(cfg.DB, proj.CacheDir)
			if err != nil {
				return fmt.Errorf("connect to store: %w", err)
			}
			defer client.Close()

			scope := schema.BindConnection(proj)
			if err := client.Reset(context.Background(), scope); err != nil {
				return fmt.Errorf("reset schema: %w", err)
			}

			if err := os.RemoveAll(filepath.Join(proj.CacheDir, "session-ingest")); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: failed to clear session ingest ledger: %v\n", err)
			}

			fmt.Printf("reset complete for project %s (%s)\n", proj.Path, proj.Hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive reset")
	return cmd
}

func newReindexCmd(projectPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Force a fresh indexing pass, via a running instance if one exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := project.Resolve(*projectPath)
			if err != nil {
				return err
			}

			if probeRunning(proj.InstanceSocketPath()) {
				conn, err := net.DialTimeout("unix", proj.InstanceSocketPath(), 2*time.Second)
				if err != nil {
					return fmt.Errorf("dial running instance: %w", err)
				}
				defer conn.Close()
				fmt.Fprintln(conn, `{"type":"reindex"}`)
				fmt.Println("reindex requested on the running instance")
				return nil
			}

			fmt.Println("no running instance found; running a one-shot reindex pass")
			return runOneShotReindex(proj)
		},
	}
}

// runOneShotReindex performs a full scan-and-index pass without starting
// the coordinator or the HTTP surface, for operators who want to reindex
// a project between "serve" sessions.
func runOneShotReindex(proj *project.Project) error {
	logger := obslog.Discard()

	cfg, err := config.Load(proj.Path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := schema.NewClient(cfg.DB, proj.CacheDir)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer client.Close()

	scope := schema.BindConnection(proj)
	if err := client.EnsureSchema(context.Background(), scope); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	reg := prometheus.NewRegistry()
	broker := embedbroker.New(embedbroker.Config{SocketPath: proj.EmbeddingSocketPath()}, logger, reg, proj.Hash)
	broker.Start()
	defer broker.Shutdown(context.Background())

	gov := governor.New(governor.DefaultThresholds(), logger)

	results, err := scanner.Scan(proj.Path, logger)
	if err != nil {
		return fmt.Errorf("scan project: %w", err)
	}
	plan, err := deriveTierPlan(proj.CacheDir, results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tier plan derivation failed, using defaults: %v\n", err)
	}
	pipeline := indexer.New(client, scope, broker, gov, indexerConfigFromTierPlan(plan, cfg.Debug), logger)

	var last indexer.Progress
	for p := range pipeline.Run(context.Background(), results) {
		last = p
	}
	fmt.Printf("reindex complete: %d/%d files, %d embeddings ok, %d failed\n",
		last.FilesDone, last.FilesTotal, last.EmbeddingsOk, last.EmbeddingsFailed)
	return nil
}

func bootstrapProject(projectPath string, dashboardPort, coordinationPort int) (*bootstrap, error) {
	proj, err := project.Resolve(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}

	cfg, err := config.Load(proj.Path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logFile, err := os.OpenFile(proj.LogPath("mcp-startup.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := obslog.New(logFile, proj.Hash, cfg.Debug)

	schemaClient, err := schema.NewClient(cfg.DB, proj.CacheDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	scope := schema.BindConnection(proj)

	reg := prometheus.NewRegistry()
	broker := embedbroker.New(embedbroker.Config{
		SocketPath: proj.EmbeddingSocketPath(),
		Command:    os.Getenv("SPECMEM_EMBED_WORKER_CMD"),
	}, logger, reg, proj.Hash)

	gov := governor.New(governor.DefaultThresholds(), logger)
	coord := coordinator.New(proj, logger, dashboardPort, coordinationPort)

	return &bootstrap{
		proj:     proj,
		logger:   logger,
		logFile:  logFile,
		cfg:      cfg,
		schema:   schemaClient,
		scope:    scope,
		governor: gov,
		broker:   broker,
		coord:    coord,
		sync:     httpapi.NewSyncTracker(),
		registry: reg,
	}, nil
}

func shutdownBootstrap(b *bootstrap, ctx context.Context) {
	if b.ingester != nil {
		if err := b.ingester.Close(); err != nil {
			b.logger.Warn("shutdown: ingester close failed", slog.String("error", err.Error()))
		}
	}
	if err := b.broker.Shutdown(ctx); err != nil {
		b.logger.Warn("shutdown: broker shutdown failed", slog.String("error", err.Error()))
	}
	b.coord.Shutdown(ctx)
	if err := b.schema.Close(); err != nil {
		b.logger.Warn("shutdown: schema client close failed", slog.String("error", err.Error()))
	}
	if b.logFile != nil {
		b.logFile.Close()
	}
}

// probeRunning dials sockPath with a short timeout and issues a health
// control message, mirroring the coordinator's own stale-socket probe.
func probeRunning(sockPath string) bool {
	conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
	fmt.Fprintln(conn, `{"type":"health"}`)
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}
	return n > 0
}
