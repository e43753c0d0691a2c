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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

var tracer = otel.Tracer("specmem/embedbroker")

// Config configures one Broker instance.
type Config struct {
	// SocketPath is the UDS the worker process listens on.
	SocketPath string
	// Command and Args start the worker process if it is not already
	// listening. Command == "" means the broker only ever dials an
	// externally managed worker and never spawns one itself.
	Command string
	Args    []string
	WorkDir string

	DialTimeout      time.Duration
	HeartbeatTimeout time.Duration
	MaxRestarts      int
	RestartWindow    time.Duration
	MaxRetries       int
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 15 * time.Second
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = 5
	}
	if c.RestartWindow == 0 {
		c.RestartWindow = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// backoffSchedule is the fixed delay applied before each retry attempt
// (index 0 before the first retry, and so on), per spec.md §4.4. When the
// preceding failure was categorized as worker overload, the delay is
// multiplied by overloadBackoffMultiplier.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

const overloadBackoffMultiplier = 5

// maxHeartbeats is the per-request tolerance on "processing" frames
// before the request is failed as worker overload, per spec.md §4.4
// ("more than ~30 processing frames for one request").
const maxHeartbeats = 30

// Broker schedules embedding requests against one supervised worker
// process over a single serialized connection. Requests are dispatched
// strictly one at a time, in priority-then-FIFO order: the wire
// protocol is a single in-flight request with zero or more heartbeats
// followed by exactly one terminal reply, so there is nothing to gain
// (and correctness to lose) by multiplexing several requests onto one
// connection.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	m      *metrics

	mu        sync.Mutex
	state     WorkerState
	conn      net.Conn
	fr        *framer
	cmd       *exec.Cmd
	queue     jobQueue
	nextSeq   int64
	notify    chan struct{}
	restarts  []time.Time
	dimension int // advertised vector width, captured by the STARTING warmup request

	stopCh chan struct{}
	stopped chan struct{}
}

// New constructs an unstarted Broker. Call Start to spawn (or dial) the
// worker and begin serving submitted jobs.
func New(cfg Config, logger *slog.Logger, reg prometheus.Registerer, projectHash string) *Broker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		cfg:     cfg,
		logger:  logger,
		m:       newMetrics(reg, projectHash),
		state:   StateDown,
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine. It does not block on the
// worker becoming ready: the first submitted job will wait for that.
func (b *Broker) Start() {
	go b.dispatchLoop()
}

// Shutdown stops accepting new work, drains in-flight state, and closes
// the connection to the worker.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.setState(StateShuttingDown)
	close(b.stopCh)
	b.mu.Unlock()

	select {
	case <-b.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	b.setState(StateDown)
	return nil
}

// State returns the current supervised worker state.
func (b *Broker) State() WorkerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broker) setState(next WorkerState) {
	if b.state == next {
		return
	}
	if !b.state.transition(next) {
		b.logger.Warn("embedbroker: illegal state transition suppressed",
			slog.String("from", b.state.String()), slog.String("to", next.String()))
		return
	}
	b.state = next
	b.m.workerState.Set(float64(next))
}

// Embed submits texts as one batch job at the given priority and blocks
// until a terminal reply, ctx cancellation, or the retry budget is
// exhausted.
//
// Description:
//
//	The returned slice has exactly len(texts) entries. An entry is nil
//	when the worker could not embed that particular text (batch
//	null-padding); callers treat a nil entry as "skip this item" rather
//	than failing the whole batch.
func (b *Broker) Embed(ctx context.Context, texts []string, priority int) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "embedbroker.Embed", trace.WithAttributes(
		attribute.Int("texts", len(texts)),
		attribute.Int("priority", priority),
	))
	defer span.End()

	if len(texts) == 0 {
		return nil, nil
	}

	accepted, dropped := truncateTexts(texts)
	if dropped > 0 {
		b.logger.Warn("embedbroker: batch truncated to fit frame size limit",
			slog.Int("dropped", dropped), slog.Int("kept", len(accepted)))
	}

	start := time.Now()
	j := &job{texts: accepted, priority: priority, done: make(chan jobResult, 1), ctx: ctx}

	b.mu.Lock()
	j.seq = b.nextSeq
	b.nextSeq++
	j.id = fmt.Sprintf("job-%d", j.seq)
	heap.Push(&b.queue, j)
	b.m.queueDepth.Set(float64(b.queue.Len()))
	b.mu.Unlock()
	b.wake()

	select {
	case res := <-j.done:
		outcome := "ok"
		if res.err != nil {
			outcome = "error"
		}
		b.m.jobsTotal.WithLabelValues(outcome).Inc()
		b.m.jobLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if res.err != nil {
			vectors := padVectors(accepted, dropped, nil)
			return vectors, res.err
		}
		return padVectors(accepted, dropped, res.vectors), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// padVectors restores the caller's original batch length, filling
// dropped (truncated) and missing trailing entries with nil.
func padVectors(accepted []string, dropped int, got [][]float32) [][]float32 {
	total := len(accepted) + dropped
	out := make([][]float32, total)
	for i := 0; i < len(accepted) && i < len(got); i++ {
		out[i] = got[i]
	}
	return out
}

func (b *Broker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// dispatchLoop is the single dispatcher goroutine: it owns the worker
// connection and processes exactly one job at a time.
func (b *Broker) dispatchLoop() {
	defer close(b.stopped)

	for {
		select {
		case <-b.stopCh:
			b.drainWithError(specerrors.ErrWorkerUnavailable)
			return
		default:
		}

		j := b.popJob()
		if j == nil {
			select {
			case <-b.notify:
				continue
			case <-b.stopCh:
				b.drainWithError(specerrors.ErrWorkerUnavailable)
				return
			}
		}

		if j.ctx.Err() != nil {
			continue // caller already gave up
		}

		res := b.runJobWithRetries(j)
		j.done <- res
	}
}

func (b *Broker) popJob() *job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil
	}
	j := heap.Pop(&b.queue).(*job)
	b.m.queueDepth.Set(float64(b.queue.Len()))
	return j
}

func (b *Broker) drainWithError(err error) {
	for {
		j := b.popJob()
		if j == nil {
			return
		}
		j.done <- jobResult{err: err}
	}
}

func (b *Broker) runJobWithRetries(j *job) jobResult {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffSchedule[min(attempt-1, len(backoffSchedule)-1)]
			if errors.Is(lastErr, specerrors.ErrWorkerOverload) {
				delay *= overloadBackoffMultiplier
			}
			select {
			case <-time.After(delay):
			case <-j.ctx.Done():
				return jobResult{err: j.ctx.Err()}
			}
		}

		if err := b.ensureReady(j.ctx); err != nil {
			lastErr = err
			continue
		}

		vectors, err := b.runJob(j)
		if err == nil {
			return jobResult{vectors: vectors}
		}
		lastErr = err

		if errors.Is(err, specerrors.ErrProtocolError) || errors.Is(err, specerrors.ErrInvalidResponse) {
			// Contract violation: do not keep hammering a worker that is
			// replying with garbage.
			b.markFault()
			break
		}
		b.markFault()
	}
	return jobResult{err: fmt.Errorf("embedbroker: job failed after retries: %w", lastErr)}
}

// runJob sends one request on the current connection and waits for the
// terminal reply, tolerating up to maxHeartbeats "processing" frames; a
// worker that floods more than that is failed as ErrWorkerOverload
// rather than left to run indefinitely, per spec.md §4.4.
func (b *Broker) runJob(j *job) ([][]float32, error) {
	b.mu.Lock()
	fr := b.fr
	b.mu.Unlock()
	if fr == nil {
		return nil, specerrors.ErrWorkerUnavailable
	}

	single := len(j.texts) == 1
	var req request
	if single {
		req = singleRequest(j.texts[0])
	} else {
		req = batchRequest(j.texts)
	}
	if err := fr.writeRequest(req, time.Now().Add(b.cfg.DialTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", specerrors.ErrSocketClosed, err)
	}

	heartbeats := 0
	for {
		r, err := fr.readReply(time.Now().Add(b.cfg.HeartbeatTimeout))
		if err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, fmt.Errorf("%w: %v", specerrors.ErrProtocolError, err)
			}
			return nil, fmt.Errorf("%w: %v", specerrors.ErrTimeout, err)
		}
		if !r.terminal() {
			heartbeats++
			b.m.heartbeatsTotal.Inc()
			if heartbeats > maxHeartbeats {
				return nil, fmt.Errorf("%w: %d processing frames for one request", specerrors.ErrWorkerOverload, heartbeats)
			}
			continue // heartbeat; loop resets the read deadline
		}
		b.logger.Debug("embedbroker: request completed", slog.Int("heartbeatCount", heartbeats))
		if r.Error != "" {
			return nil, fmt.Errorf("%w: worker reported: %s", specerrors.ErrInvalidResponse, r.Error)
		}
		if single {
			return [][]float32{r.Embedding}, nil
		}
		return r.Embeddings, nil
	}
}

func (b *Broker) markFault() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		b.fr = nil
	}
	if b.state == StateReady {
		b.setState(StateDegraded)
	}
}

// ensureReady dials (and, if configured, spawns) the worker until it is
// reachable, subject to ctx and the restart budget.
func (b *Broker) ensureReady(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateReady && b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if !b.withinRestartBudget() {
		b.mu.Lock()
		b.setState(StateFailed)
		b.mu.Unlock()
		return specerrors.ErrWorkerUnavailable
	}

	b.mu.Lock()
	b.setState(StateStarting)
	b.mu.Unlock()

	if b.cfg.Command != "" {
		if err := b.spawnIfNeeded(); err != nil {
			b.logger.Warn("embedbroker: worker spawn failed", slog.String("error", err.Error()))
		}
	}

	conn, err := b.dialWithRetry(ctx)
	if err != nil {
		b.mu.Lock()
		b.setState(StateFailed)
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", specerrors.ErrWorkerUnavailable, err)
	}

	fr := newFramer(conn)
	dim, err := b.warmup(fr)
	if err != nil {
		_ = conn.Close()
		b.mu.Lock()
		b.setState(StateFailed)
		b.mu.Unlock()
		return fmt.Errorf("%w: warmup failed: %v", specerrors.ErrWorkerUnavailable, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.fr = fr
	b.dimension = dim
	b.setState(StateReady)
	b.mu.Unlock()
	return nil
}

// warmupText is the fixed payload of the one-time warmup request issued
// on STARTING→READY, per spec.md §4.4: the reply's vector width becomes
// the broker's advertised embedding dimensionality.
const warmupText = "specmem warmup probe"

// warmupDeadline is the fixed 60s deadline spec.md §4.4 gives the
// warmup request, independent of HeartbeatTimeout.
const warmupDeadline = 60 * time.Second

func (b *Broker) warmup(fr *framer) (int, error) {
	deadline := time.Now().Add(warmupDeadline)
	if err := fr.writeRequest(singleRequest(warmupText), deadline); err != nil {
		return 0, fmt.Errorf("write warmup request: %w", err)
	}
	for {
		r, err := fr.readReply(deadline)
		if err != nil {
			return 0, fmt.Errorf("read warmup reply: %w", err)
		}
		if !r.terminal() {
			continue
		}
		if r.Error != "" {
			return 0, fmt.Errorf("worker reported: %s", r.Error)
		}
		return len(r.Embedding), nil
	}
}

// Dimension returns the embedding vector width the worker advertised at
// warmup, or 0 if the worker has never successfully reached StateReady.
func (b *Broker) Dimension() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dimension
}

func (b *Broker) dialWithRetry(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(b.cfg.DialTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		d := net.Dialer{Timeout: 500 * time.Millisecond}
		conn, err := d.DialContext(ctx, "unix", b.cfg.SocketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (b *Broker) spawnIfNeeded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil && b.cmd.Process != nil && b.cmd.ProcessState == nil {
		return nil // already running
	}

	b.restarts = append(b.restarts, time.Now())
	if b.cmd != nil {
		b.m.workerRestarts.Inc()
	}

	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.WorkDir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start embedding worker: %w", err)
	}
	b.cmd = cmd
	return nil
}

func (b *Broker) withinRestartBudget() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-b.cfg.RestartWindow)
	kept := b.restarts[:0]
	for _, t := range b.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.restarts = kept
	return len(b.restarts) < b.cfg.MaxRestarts
}
