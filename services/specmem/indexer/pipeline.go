// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonhardwick-spec/specmem/services/specmem/embedbroker"
	"github.com/jonhardwick-spec/specmem/services/specmem/governor"
	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs the five-phase indexing batch over scanner output.
//
// Thread Safety: Run may be called concurrently on the same Pipeline.
// The only state shared between runs is the debug-only prevContent
// cache, which mu guards; overlapping runs over the same files repeat
// each other's reads, embeddings and delete-then-insert writes.
type Pipeline struct {
	cfg    Config
	schema *schema.Client
	scope  schema.Scope
	broker *embedbroker.Broker
	gov    *governor.Governor
	logger *slog.Logger

	mu          sync.Mutex
	prevContent map[string]string // debug-only: last-seen content per path
}

// New builds a Pipeline bound to one project's schema scope, embedding
// broker, and resource governor.
func New(schemaClient *schema.Client, scope schema.Scope, broker *embedbroker.Broker, gov *governor.Governor, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:    cfg,
		schema: schemaClient,
		scope:  scope,
		broker: broker,
		gov:    gov,
		logger: logger,
	}
	if cfg.Debug {
		p.prevContent = make(map[string]string)
	}
	return p
}

// fileWork is what survives the read phase for one file: metadata ready
// to embed, or a skip decision already made.
type fileWork struct {
	result    scanner.Result
	embedText string
	skip      bool
	vector    []float32 // carried forward from storage when skip is true
}

// defWork is what survives for one definition.
type defWork struct {
	def       scanner.CodeDefinition
	embedText string
	vector    []float32
}

// Run executes the pipeline over results and returns a range-over-func
// iterator of Progress records. Ranging stops early if the consumer's
// yield returns false; ctx cancellation also stops the iteration, with
// the last yielded Progress reflecting whatever completed before
// cancellation was observed.
func (p *Pipeline) Run(ctx context.Context, results []scanner.Result) func(func(Progress) bool) {
	return func(yield func(Progress) bool) {
		total := len(results)
		done := 0
		okCount, failCount := 0, 0

		for start := 0; start < len(results); start += p.cfg.FileBatchSize {
			end := start + p.cfg.FileBatchSize
			if end > len(results) {
				end = len(results)
			}
			batch := results[start:end]

			if err := p.awaitAdmissible(ctx); err != nil {
				p.logger.Warn("indexer: batch skipped, resource governor not admissible", slog.String("error", err.Error()))
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				// Idle-priority work simply waits for the next cycle;
				// record progress for the batch as not-yet-done and move on.
				if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhaseRead}) {
					return
				}
				continue
			}

			work := p.readBatch(ctx, batch)
			if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhaseRead, CurrentFile: lastPath(batch)}) {
				return
			}

			ok, fail := p.embedFiles(ctx, work)
			okCount += ok
			failCount += fail
			if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhaseEmbedFiles}) {
				return
			}

			p.persistFiles(ctx, work)
			done += len(batch)
			if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhasePersistFiles, CurrentFile: lastPath(batch)}) {
				return
			}

			defWorkItems := p.collectDefinitions(work)
			ok, fail = p.embedDefinitions(ctx, defWorkItems)
			okCount += ok
			failCount += fail
			if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhaseEmbedDefinitions}) {
				return
			}

			p.persistDefinitions(ctx, defWorkItems)
			if !yield(Progress{FilesDone: done, FilesTotal: total, EmbeddingsOk: okCount, EmbeddingsFailed: failCount, Phase: PhasePersistDefinitions}) {
				return
			}
		}
	}
}

func lastPath(batch []scanner.Result) string {
	if len(batch) == 0 {
		return ""
	}
	return batch[len(batch)-1].File.Path
}

// awaitAdmissible consults the resource governor before a batch starts.
// idle-priority work gives up immediately rather than waiting; anything
// else waits up to GovernorWaitBound.
func (p *Pipeline) awaitAdmissible(ctx context.Context) error {
	if p.gov == nil {
		return nil
	}
	if p.cfg.GovernorPriority == governor.PriorityIdle && !p.gov.CanExecute(governor.PriorityIdle) {
		return fmt.Errorf("system loaded, idle-priority batch deferred")
	}
	return p.gov.WaitUntilAdmissible(ctx, p.cfg.GovernorPriority, time.Now().Add(p.cfg.GovernorWaitBound))
}

// readBatch stats/hashes every file in the batch concurrently and
// decides which ones actually need re-embedding.
func (p *Pipeline) readBatch(ctx context.Context, batch []scanner.Result) []*fileWork {
	work := make([]*fileWork, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.cfg.InnerParallelism)

	for i, r := range batch {
		i, r := i, r
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			work[i] = p.readOne(gctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return work
}

func (p *Pipeline) readOne(ctx context.Context, r scanner.Result) *fileWork {
	id := fileObjectID(r.File.Path)
	props, vector, err := p.schema.GetWithVector(ctx, p.scope, schema.ClassCodeFile, id)
	unchanged := err == nil && len(vector) > 0 && props["contentHash"] == r.File.ContentHash

	if p.cfg.Debug {
		p.mu.Lock()
		if old, ok := p.prevContent[r.File.Path]; ok {
			logContentDiff(p.logger, true, r.File.Path, old, r.File.Content)
		}
		p.prevContent[r.File.Path] = r.File.Content
		p.mu.Unlock()
	}

	if unchanged {
		return &fileWork{result: r, skip: true, vector: vector}
	}
	return &fileWork{
		result:    r,
		embedText: fileEmbeddingInput(r.File.Path, r.File.Language, r.File.Content, p.cfg.FileContentCap),
	}
}

// embedFiles batch-embeds every non-skipped file's text.
func (p *Pipeline) embedFiles(ctx context.Context, work []*fileWork) (ok, fail int) {
	var pending []*fileWork
	for _, w := range work {
		if w != nil && !w.skip {
			pending = append(pending, w)
		}
	}

	for start := 0; start < len(pending); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		sub := pending[start:end]
		texts := make([]string, len(sub))
		for i, w := range sub {
			texts[i] = w.embedText
		}

		vectors, err := p.broker.Embed(ctx, texts, embedbroker.PriorityMedium)
		if err != nil {
			p.logger.Warn("indexer: file embedding batch failed", slog.String("error", err.Error()), slog.Int("batch_size", len(sub)))
			fail += len(sub)
			continue
		}
		for i, w := range sub {
			if i < len(vectors) && len(vectors[i]) > 0 {
				w.vector = vectors[i]
				ok++
			} else {
				fail++
			}
		}
	}
	return ok, fail
}

// persistFiles upserts every file in the batch concurrently.
func (p *Pipeline) persistFiles(ctx context.Context, work []*fileWork) {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.cfg.InnerParallelism)

	for _, w := range work {
		if w == nil || w.skip {
			continue
		}
		w := w
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			obj := schema.Object{
				ID: fileObjectID(w.result.File.Path),
				Properties: map[string]interface{}{
					"path":        w.result.File.Path,
					"language":    w.result.File.Language,
					"contentHash": w.result.File.ContentHash,
					"lastIndexed": time.Now().UTC().Format(time.RFC3339),
				},
				Vector: w.vector,
			}
			if err := p.schema.Put(gctx, p.scope, schema.ClassCodeFile, obj); err != nil {
				p.logger.Warn("indexer: persist file failed", slog.String("path", w.result.File.Path), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// collectDefinitions gathers up to MaxDefsPerFile definitions per
// non-skipped file and builds their embedding input text. Skipped files
// contribute no definition work: an unchanged file with a stored vector
// is assumed to have unchanged definitions too.
func (p *Pipeline) collectDefinitions(work []*fileWork) []*defWork {
	var items []*defWork
	for _, w := range work {
		if w == nil || w.skip {
			continue
		}
		defs := w.result.Definitions
		if len(defs) > p.cfg.MaxDefsPerFile {
			defs = defs[:p.cfg.MaxDefsPerFile]
		}
		for _, d := range defs {
			items = append(items, &defWork{def: d, embedText: definitionEmbeddingInput(d)})
		}
	}
	return items
}

func (p *Pipeline) embedDefinitions(ctx context.Context, items []*defWork) (ok, fail int) {
	for start := 0; start < len(items); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(items) {
			end = len(items)
		}
		sub := items[start:end]
		texts := make([]string, len(sub))
		for i, it := range sub {
			texts[i] = it.embedText
		}

		vectors, err := p.broker.Embed(ctx, texts, embedbroker.PriorityMedium)
		if err != nil {
			p.logger.Warn("indexer: definition embedding batch failed", slog.String("error", err.Error()), slog.Int("batch_size", len(sub)))
			fail += len(sub)
			continue
		}
		for i, it := range sub {
			if i < len(vectors) && len(vectors[i]) > 0 {
				it.vector = vectors[i]
				ok++
			} else {
				fail++
			}
		}
	}
	return ok, fail
}

// persistDefinitions upserts every definition concurrently. A new null
// vector never overwrites a previously stored good one: Get first, and
// if the fresh embedding failed, carry the old vector forward.
func (p *Pipeline) persistDefinitions(ctx context.Context, items []*defWork) {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.cfg.InnerParallelism)

	for _, it := range items {
		it := it
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			id := definitionObjectID(it.def.FilePath, it.def.Name, string(it.def.Kind), it.def.StartLine)
			vector := it.vector
			if len(vector) == 0 {
				if _, existing, err := p.schema.GetWithVector(gctx, p.scope, schema.ClassCodeDefinition, id); err == nil && len(existing) > 0 {
					vector = existing
				}
			}

			obj := schema.Object{
				ID: id,
				Properties: map[string]interface{}{
					"filePath":  it.def.FilePath,
					"name":      it.def.Name,
					"kind":      string(it.def.Kind),
					"startLine": it.def.StartLine,
					"endLine":   it.def.EndLine,
					"signature": it.def.Signature,
				},
				Vector: vector,
			}
			if err := p.schema.Put(gctx, p.scope, schema.ClassCodeDefinition, obj); err != nil {
				p.logger.Warn("indexer: persist definition failed", slog.String("name", it.def.Name), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}
