// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator implements the Startup Coordinator (C4.2 in the
// specification): single-writer lifecycle and lock management so at
// most one live instance answers tool calls for a given project at a
// time.
//
// The state machine is the strictly-ordered sequence from spec.md
// §4.2: init -> acquire_startup_lock -> cleanup_stale ->
// acquire_instance_lock -> write_instance_record -> running -> stopping.
package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jonhardwick-spec/specmem/services/specmem/project"
	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// State names the coordinator's position in the §4.2 state machine.
type State int

const (
	StateInit State = iota
	StateAcquiringStartupLock
	StateCleaningStale
	StateAcquiringInstanceLock
	StateWritingInstanceRecord
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAcquiringStartupLock:
		return "acquire_startup_lock"
	case StateCleaningStale:
		return "cleanup_stale"
	case StateAcquiringInstanceLock:
		return "acquire_instance_lock"
	case StateWritingInstanceRecord:
		return "write_instance_record"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is returned by Start, telling the caller whether it became
// the authoritative instance or should defer to an already-running one.
type Outcome int

const (
	// OutcomeBecamePrimary means this process now owns the project and
	// should proceed to run the rest of the service.
	OutcomeBecamePrimary Outcome = iota
	// OutcomeUseExisting means another instance answered the health
	// probe; this process should exit 0 without touching project state.
	OutcomeUseExisting
)

const (
	startupLockMaxRetries = 20
	healthProbeTimeout    = 500 * time.Millisecond
	orphanCheckInterval   = 2 * time.Second
)

// Health reply schema, pinned down per DESIGN.md open-question decision
// #2: any reply containing "type":"health_ok" counts as alive.
type controlReply struct {
	Type   string `json:"type"`
	PID    int    `json:"pid,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type controlRequest struct {
	Type string `json:"type"`
}

// Coordinator owns the lock pair and instance record for one project.
//
// Thread Safety: Start/Shutdown are intended to be called once each from
// the owning goroutine; the control-socket handler goroutines are
// independent and synchronize through mu.
type Coordinator struct {
	proj   *project.Project
	logger *slog.Logger

	dashboardPort    int
	coordinationPort int

	mu        sync.Mutex
	state     State
	listener  net.Listener
	startedAt time.Time
	rechecked bool // guards the "recheck once, not a loop" tie-break

	shutdownOnce   sync.Once
	stopCh         chan struct{}
	reindexHandler func()
}

// SetReindexHandler registers the function invoked when a "reindex"
// control message arrives. fn runs in its own goroutine so the control
// connection can reply immediately; a second message that arrives while
// fn is still running starts another goroutine, so fn may run more than
// once at a time.
func (c *Coordinator) SetReindexHandler(fn func()) {
	c.mu.Lock()
	c.reindexHandler = fn
	c.mu.Unlock()
}

// New creates an unstarted Coordinator for proj.
func New(proj *project.Project, logger *slog.Logger, dashboardPort, coordinationPort int) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		proj:             proj,
		logger:           logger,
		dashboardPort:    dashboardPort,
		coordinationPort: coordinationPort,
		state:            StateInit,
		stopCh:           make(chan struct{}),
	}
}

// State returns the coordinator's current position in the state
// machine. Safe for concurrent use.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("coordinator: state transition", slog.String("state", s.String()))
}

// Start runs §4.2 steps 1-5 and leaves the coordinator in StateRunning
// on success, or reports OutcomeUseExisting if another instance is
// already authoritative.
func (c *Coordinator) Start(ctx context.Context) (Outcome, error) {
	c.setState(StateAcquiringStartupLock)
	lockPath := c.proj.StartupLockPath()
	if err := acquireStartupLock(lockPath, startupLockMaxRetries); err != nil {
		return OutcomeUseExisting, fmt.Errorf("%w: %v", specerrors.ErrConcurrentStartup, err)
	}

	outcome, err := c.cleanupStaleAndAcquire(ctx)
	if err != nil {
		_ = releaseStartupLock(lockPath)
		return outcome, err
	}
	if outcome == OutcomeUseExisting {
		_ = releaseStartupLock(lockPath)
		return OutcomeUseExisting, nil
	}

	c.setState(StateWritingInstanceRecord)
	c.startedAt = time.Now()
	rec := InstanceRecord{
		PID:              os.Getpid(),
		ProjectHash:      c.proj.Hash,
		StartTime:        c.startedAt,
		Status:           StatusStarting,
		DashboardPort:    c.dashboardPort,
		CoordinationPort: c.coordinationPort,
	}
	if err := writeInstanceRecord(c.proj.InstanceRecordPath(), rec); err != nil {
		return OutcomeBecamePrimary, err
	}
	if err := releaseStartupLock(lockPath); err != nil {
		c.logger.Warn("coordinator: failed to release startup lock", slog.String("error", err.Error()))
	}

	rec.Status = StatusRunning
	if err := writeInstanceRecord(c.proj.InstanceRecordPath(), rec); err != nil {
		return OutcomeBecamePrimary, err
	}
	c.setState(StateRunning)
	go c.watchOrphan()

	return OutcomeBecamePrimary, nil
}

// cleanupStaleAndAcquire implements §4.2 steps 3-4, including the
// documented tie-break: a losing socket bind re-runs step 3 exactly
// once, never in a loop.
func (c *Coordinator) cleanupStaleAndAcquire(ctx context.Context) (Outcome, error) {
	c.setState(StateCleaningStale)
	if alive, err := c.probeExistingInstance(ctx); err != nil {
		return OutcomeUseExisting, err
	} else if alive {
		return OutcomeUseExisting, nil
	}

	c.setState(StateAcquiringInstanceLock)
	ln, err := net.Listen("unix", c.proj.InstanceSocketPath())
	if err != nil {
		if c.rechecked {
			return OutcomeUseExisting, fmt.Errorf("%w: instance socket bind lost the race twice", specerrors.ErrConcurrentStartup)
		}
		c.rechecked = true
		return c.cleanupStaleAndAcquire(ctx)
	}

	c.listener = ln
	go c.serveControlSocket(ln)
	return OutcomeBecamePrimary, nil
}

// probeExistingInstance connects to a pre-existing instance-lock socket,
// if one is present, and issues a health probe. If it answers within
// healthProbeTimeout, another instance is authoritative. If it fails to
// answer (or the socket is absent), a present-but-dead socket file is
// replaced via rename-then-unlink.
func (c *Coordinator) probeExistingInstance(ctx context.Context) (bool, error) {
	sockPath := c.proj.InstanceSocketPath()
	info, statErr := os.Stat(sockPath)
	if statErr != nil {
		return false, nil // no socket; nothing to clean up
	}
	if time.Since(info.ModTime()) < minLockAge {
		// Never delete locks younger than 5s, even if they look dead.
		return true, nil
	}

	conn, err := net.DialTimeout("unix", sockPath, healthProbeTimeout)
	if err != nil {
		return false, c.replaceStaleInstanceSocket(sockPath)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(healthProbeTimeout))
	reply, err := exchangeControlMessage(conn, controlRequest{Type: "health"})
	if err != nil {
		return false, c.replaceStaleInstanceSocket(sockPath)
	}
	if reply.Type == "health_ok" {
		return true, nil
	}
	return false, c.replaceStaleInstanceSocket(sockPath)
}

func (c *Coordinator) replaceStaleInstanceSocket(sockPath string) error {
	stale := sockPath + ".stale"
	if err := os.Rename(sockPath, stale); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rename stale instance socket aside: %w", err)
	}
	if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale instance socket: %w", err)
	}
	return nil
}

// serveControlSocket accepts connections on the instance-lock socket and
// handles one control message per connection, per spec.md §4.2 step 4.
func (c *Coordinator) serveControlSocket(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
				c.logger.Warn("coordinator: control socket accept failed", slog.String("error", err.Error()))
				return
			}
		}
		go c.handleControlConn(conn)
	}
}

func (c *Coordinator) handleControlConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}
	var req controlRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return
	}

	reply := c.handleControlRequest(req)
	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	raw = append(raw, '\n')
	_, _ = conn.Write(raw)
}

func (c *Coordinator) handleControlRequest(req controlRequest) controlReply {
	switch req.Type {
	case "health":
		return controlReply{Type: "health_ok", PID: os.Getpid(), Status: c.State().String()}
	case "stats":
		return controlReply{Type: "stats_ok", PID: os.Getpid(), Status: c.State().String()}
	case "ping":
		return controlReply{Type: "pong"}
	case "shutdown":
		go c.Shutdown(context.Background())
		return controlReply{Type: "shutdown_ack"}
	case "restart":
		return controlReply{Type: "restart_ack"}
	case "reindex":
		c.mu.Lock()
		handler := c.reindexHandler
		c.mu.Unlock()
		if handler == nil {
			return controlReply{Type: "error", Error: "no reindex handler registered"}
		}
		go handler()
		return controlReply{Type: "reindex_ack", PID: os.Getpid()}
	default:
		return controlReply{Type: "error", Error: "unknown control message type"}
	}
}

// exchangeControlMessage writes req as newline-delimited JSON and reads
// exactly one reply line.
func exchangeControlMessage(conn net.Conn, req controlRequest) (controlReply, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return controlReply{}, err
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		return controlReply{}, err
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return controlReply{}, err
	}
	var reply controlReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return controlReply{}, fmt.Errorf("%w: %v", specerrors.ErrProtocolError, err)
	}
	return reply, nil
}

// watchOrphan transitions to StateStopping if the parent process exits
// (parent PID becomes the init process), per spec.md §4.2 step 6.
func (c *Coordinator) watchOrphan() {
	ticker := time.NewTicker(orphanCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if os.Getppid() == 1 {
				c.logger.Info("coordinator: orphaned, parent became init; shutting down")
				c.Shutdown(context.Background())
				return
			}
		}
	}
}

// Shutdown implements §4.2 step 7: reverse-order teardown. It moves to
// stopping, closes stopCh and the instance-lock listener, writes the
// instance record with status stopped, and moves to stopped. Only the
// first call has any effect; ctx is not used, and in-flight embedding
// requests are not drained here.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.setState(StateStopping)
		close(c.stopCh)

		if c.listener != nil {
			_ = c.listener.Close()
		}

		rec := InstanceRecord{
			PID:              os.Getpid(),
			ProjectHash:      c.proj.Hash,
			StartTime:        c.startedAt,
			Status:           StatusStopped,
			DashboardPort:    c.dashboardPort,
			CoordinationPort: c.coordinationPort,
		}
		if err := writeInstanceRecord(c.proj.InstanceRecordPath(), rec); err != nil {
			c.logger.Warn("coordinator: failed to write final instance record", slog.String("error", err.Error()))
		}
		c.setState(StateStopped)
	})
}

// Reload logs the reload request and returns nil. It does not re-resolve
// the project, reacquire the locks, or rerun schema setup.
func (c *Coordinator) Reload(ctx context.Context) error {
	c.logger.Info("coordinator: reload requested")
	return nil
}
