// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessioningest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem/services/specmem/embedbroker"
	"github.com/jonhardwick-spec/specmem/services/specmem/memory"
	"github.com/jonhardwick-spec/specmem/services/specmem/schema"
)

// survivor is one frame that passed the tool-frame and dedup filters,
// paired with the ledger key it will be recorded under once persisted.
type survivor struct {
	frame Frame
	key   string
}

// Ingester walks a project's session transcripts and folds surviving
// frames into episodic memories. It writes directly to schema.Client
// rather than through memory.Store.SaveMemory: the dedup mechanism here
// (a BadgerDB set keyed by frame, recorded after the corresponding
// Weaviate write succeeds) is a different invariant than SaveMemory's
// content-hash equality check, and re-running that check here would be
// redundant work on every already-ingested frame.
type Ingester struct {
	cfg    Config
	schema *schema.Client
	scope  schema.Scope
	broker *embedbroker.Broker
	ledger *ledger
	logger *slog.Logger
}

// New opens the dedup ledger under cfg.LedgerDir and builds an
// Ingester. Callers must call Close when done.
func New(schemaClient *schema.Client, scope schema.Scope, broker *embedbroker.Broker, cfg Config, logger *slog.Logger) (*Ingester, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	l, err := openLedger(cfg.LedgerDir)
	if err != nil {
		return nil, err
	}
	return &Ingester{cfg: cfg, schema: schemaClient, scope: scope, broker: broker, ledger: l, logger: logger}, nil
}

// Close releases the dedup ledger's BadgerDB handle.
func (ig *Ingester) Close() error {
	return ig.ledger.Close()
}

// Run walks cfg.SessionsDir, skips tool-only frames and previously
// ingested frames, and embeds+persists the rest as episodic memories.
// Restartable and idempotent: a frame recorded in the ledger on a prior
// run (even one that crashed after the ledger write but the caller
// retries from the top) is skipped on every subsequent call, and a
// frame whose Weaviate write fails is never recorded, so it is retried
// on the next Run.
func (ig *Ingester) Run(ctx context.Context) (Result, error) {
	var res Result

	frames, err := walkTranscripts(ig.cfg.SessionsDir)
	if err != nil {
		return res, err
	}
	res.FramesSeen = len(frames)

	survivors, filterRes, err := filterSurvivors(frames, ig.ledger)
	if err != nil {
		return res, err
	}
	res.FramesSkipped = filterRes.FramesSkipped
	res.FramesDuplicate = filterRes.FramesDuplicate

	for start := 0; start < len(survivors); start += ig.cfg.EmbedBatchSize {
		end := start + ig.cfg.EmbedBatchSize
		if end > len(survivors) {
			end = len(survivors)
		}
		batch := survivors[start:end]
		ok, fail := ig.ingestBatch(ctx, batch)
		res.EmbeddingsOk += ok
		res.EmbeddingsFailed += fail
		res.FramesIngested += ok
	}

	return res, nil
}

// filterSurvivors separates tool-only and previously-recorded frames
// from the ones that still need embedding, counting each in a partial
// Result so Run doesn't need its own duplicate bookkeeping.
func filterSurvivors(frames []Frame, led *ledger) ([]survivor, Result, error) {
	var res Result
	survivors := make([]survivor, 0, len(frames))
	for _, fr := range frames {
		if fr.IsToolFrame {
			res.FramesSkipped++
			continue
		}
		key := frameKey(fr.SessionID, fr.Timestamp)
		dup, err := led.seen(key)
		if err != nil {
			return nil, res, err
		}
		if dup {
			res.FramesDuplicate++
			continue
		}
		survivors = append(survivors, survivor{frame: fr, key: key})
	}
	return survivors, res, nil
}

// ingestBatch embeds one batch through the broker (matching §4.6's
// batched background-priority style, not the single-item interactive
// path memory.Store.SaveMemory uses) and persists each surviving frame,
// recording its ledger key only after a successful write.
func (ig *Ingester) ingestBatch(ctx context.Context, batch []survivor) (ok, fail int) {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s.frame.Text
	}

	vectors, err := ig.broker.Embed(ctx, texts, embedbroker.PriorityLow)
	if err != nil {
		ig.logger.Warn("sessioningest: embedding batch failed", slog.String("error", err.Error()), slog.Int("batch_size", len(batch)))
		return 0, len(batch)
	}

	for i, s := range batch {
		var vector []float32
		if i < len(vectors) {
			vector = vectors[i]
		}
		if len(vector) == 0 {
			fail++
			continue
		}
		if err := ig.persistFrame(ctx, s, vector); err != nil {
			ig.logger.Warn("sessioningest: persist frame failed", slog.String("sessionId", s.frame.SessionID), slog.String("error", err.Error()))
			fail++
			continue
		}
		ok++
	}
	return ok, fail
}

func (ig *Ingester) persistFrame(ctx context.Context, s survivor, vector []float32) error {
	created := parseFrameTimestamp(s.frame.Timestamp)
	obj := schema.Object{
		ID: uuid.New().String(),
		Properties: map[string]interface{}{
			"content":      s.frame.Text,
			"category":     string(memory.KindEpisodic),
			"tags":         []interface{}{"session:" + s.frame.SessionID, "role:" + s.frame.Role},
			"importance":   1.0, // ImportanceLow weight; session turns are raw, unreviewed material
			"createdAt":    created.UTC().Format(time.RFC3339),
			"sessionId":    s.frame.SessionID,
			"contentHash":  s.key,
			"metadataJSON": "",
		},
		Vector: vector,
	}
	if err := ig.schema.Put(ctx, ig.scope, schema.ClassMemory, obj); err != nil {
		return err
	}
	return ig.ledger.record(s.key)
}

func parseFrameTimestamp(ts string) time.Time {
	if t, err := time.Parse(defaultTimestampLayout, ts); err == nil {
		return t
	}
	return time.Now()
}
