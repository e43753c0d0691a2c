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
	"sync"
	"time"

	"github.com/jonhardwick-spec/specmem/services/specmem/indexer"
)

// SyncTracker holds the most recent indexing Progress and fans it out to
// subscribers (the SSE stream and the dashboard websocket). It has no
// opinion on who drives the indexing pipeline: whatever loop calls
// indexer.Pipeline.Run feeds each yielded Progress into Publish.
type SyncTracker struct {
	mu          sync.RWMutex
	latest      indexer.Progress
	filesTotal  int
	lastBatchAt time.Time

	subMu sync.Mutex
	subs  map[int]chan indexer.Progress
	nextID int
}

// NewSyncTracker builds an empty tracker.
func NewSyncTracker() *SyncTracker {
	return &SyncTracker{subs: make(map[int]chan indexer.Progress)}
}

// Publish records p as the latest known progress and fans it out to
// every subscriber. A subscriber whose channel is full drops the
// update rather than blocking the indexing pipeline: telemetry is
// best-effort, never a backpressure source for real work.
func (t *SyncTracker) Publish(p indexer.Progress) {
	t.mu.Lock()
	t.latest = p
	if p.FilesTotal > 0 {
		t.filesTotal = p.FilesTotal
	}
	t.lastBatchAt = time.Now()
	t.mu.Unlock()

	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Status returns the checkSync response shape: total files known,
// files indexed so far, embeddings still pending (every embedding that
// failed so far in the latest indexing pass), and when the last
// progress update was published.
func (t *SyncTracker) Status() SyncStatusResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	resp := SyncStatusResponse{
		FilesTotal:        t.filesTotal,
		Indexed:           t.latest.FilesDone,
		PendingEmbeddings: t.latest.EmbeddingsFailed,
	}
	if !t.lastBatchAt.IsZero() {
		resp.LastBatchAt = t.lastBatchAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Subscribe registers a new progress feed and returns it along with an
// unsubscribe function the caller must invoke when done listening.
func (t *SyncTracker) Subscribe() (<-chan indexer.Progress, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan indexer.Progress, 8)
	t.subs[id] = ch

	unsubscribe := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}
