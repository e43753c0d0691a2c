// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedbroker

import (
	"bufio"
	"container/heap"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// fakeWorker accepts connections and replies to every request according
// to a caller-supplied behavior function, letting each test exercise a
// different wire pattern (heartbeat then terminal, immediate error,
// heartbeat flood). Every dial — including the STARTING warmup probe
// ensureReady issues before the first real job — lands on this same
// handler, so tests must answer the warmup request (req.Text ==
// warmupText) before their scenario-specific behavior.
type fakeWorker struct {
	ln net.Listener
}

func startFakeWorker(t *testing.T, handle func(req request, enc *json.Encoder)) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "worker.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
				enc := json.NewEncoder(conn)
				for scanner.Scan() {
					var req request
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						continue
					}
					handle(req, enc)
				}
			}()
		}
	}()

	return sockPath
}

// warmupOK answers the STARTING→READY warmup probe with a fixed
// dimensionality, leaving every other request to fn.
func warmupOK(dim int, fn func(req request, enc *json.Encoder)) func(request, *json.Encoder) {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = 1
	}
	return func(req request, enc *json.Encoder) {
		if req.Type == "embed" && req.Text == warmupText {
			_ = enc.Encode(reply{Embedding: vec})
			return
		}
		fn(req, enc)
	}
}

func TestBroker_HappyPathWithHeartbeats(t *testing.T) {
	sockPath := startFakeWorker(t, warmupOK(3, func(req request, enc *json.Encoder) {
		assert.Equal(t, "batch_embed", req.Type)
		_ = enc.Encode(reply{Status: "processing"})
		time.Sleep(10 * time.Millisecond)
		embeddings := make([][]float32, len(req.Texts))
		for i := range embeddings {
			embeddings[i] = []float32{1, 2, 3}
		}
		_ = enc.Encode(reply{Status: "ready", Embeddings: embeddings})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	vectors, err := b.Embed(context.Background(), []string{"a", "b"}, PriorityHigh)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 2, 3}, vectors[0])
	assert.Equal(t, 3, b.Dimension())
}

func TestBroker_SingleTextUsesEmbedNotBatch(t *testing.T) {
	sockPath := startFakeWorker(t, warmupOK(3, func(req request, enc *json.Encoder) {
		assert.Equal(t, "embed", req.Type)
		assert.Equal(t, "solo", req.Text)
		_ = enc.Encode(reply{Embedding: []float32{4, 5, 6}})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	vectors, err := b.Embed(context.Background(), []string{"solo"}, PriorityHigh)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{4, 5, 6}, vectors[0])
}

func TestBroker_WorkerErrorPropagates(t *testing.T) {
	sockPath := startFakeWorker(t, warmupOK(3, func(req request, enc *json.Encoder) {
		_ = enc.Encode(reply{Status: "error", Error: "model unavailable"})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second, MaxRetries: 0}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	_, err := b.Embed(context.Background(), []string{"a"}, PriorityHigh)
	require.Error(t, err)
}

func TestBroker_ToleratesHeartbeatsWithinBudget(t *testing.T) {
	sockPath := startFakeWorker(t, warmupOK(2, func(req request, enc *json.Encoder) {
		for i := 0; i < 20; i++ {
			_ = enc.Encode(reply{Status: "processing"})
		}
		_ = enc.Encode(reply{Embedding: []float32{9, 9}})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	vectors, err := b.Embed(context.Background(), []string{"x"}, PriorityHigh)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{9, 9}, vectors[0])
}

func TestBroker_HeartbeatFloodFailsOverload(t *testing.T) {
	sockPath := startFakeWorker(t, warmupOK(1, func(req request, enc *json.Encoder) {
		for i := 0; i < maxHeartbeats+1; i++ {
			_ = enc.Encode(reply{Status: "processing"})
		}
		_ = enc.Encode(reply{Embedding: []float32{1}})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second, MaxRetries: 0}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	_, err := b.Embed(context.Background(), []string{"x"}, PriorityHigh)
	require.Error(t, err)
	assert.ErrorIs(t, err, specerrors.ErrWorkerOverload)
}

// TestBroker_RetriesWithBackoffOnOverload confirms the retry loop both
// recovers from transient overload and actually waits out the
// backoff schedule, 5x-multiplied while the categorized cause stays
// WorkerOverload.
func TestBroker_RetriesWithBackoffOnOverload(t *testing.T) {
	var attempts int32
	sockPath := startFakeWorker(t, warmupOK(1, func(req request, enc *json.Encoder) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			for i := 0; i < maxHeartbeats+1; i++ {
				_ = enc.Encode(reply{Status: "processing"})
			}
			_ = enc.Encode(reply{Embedding: []float32{1}})
			return
		}
		_ = enc.Encode(reply{Embedding: []float32{7}})
	}))

	b := New(Config{SocketPath: sockPath, HeartbeatTimeout: time.Second, DialTimeout: time.Second, MaxRetries: 3}, obslog.Discard(), nil, "testproj")
	b.Start()
	defer b.Shutdown(context.Background())

	start := time.Now()
	vectors, err := b.Embed(context.Background(), []string{"x"}, PriorityHigh)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{7}, vectors[0])
	// Two overload failures before success cost a 5x(100ms) then a
	// 5x(200ms) backoff: at least 1.5s total.
	assert.GreaterOrEqual(t, elapsed, 1500*time.Millisecond)
}

func TestBroker_PriorityOrdering(t *testing.T) {
	q := &jobQueue{}
	low := &job{priority: PriorityLow, seq: 1}
	high := &job{priority: PriorityHigh, seq: 2}
	older := &job{priority: PriorityHigh, seq: 1}

	heap.Push(q, low)
	heap.Push(q, high)
	heap.Push(q, older)

	first := heap.Pop(q).(*job)
	assert.Equal(t, older, first)
	second := heap.Pop(q).(*job)
	assert.Equal(t, high, second)
	third := heap.Pop(q).(*job)
	assert.Equal(t, low, third)
}
