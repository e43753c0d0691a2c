// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/obslog"
	"github.com/jonhardwick-spec/specmem/services/specmem/project"
)

func TestCoordinator_SingleWriter(t *testing.T) {
	dir := t.TempDir()
	p, err := project.Resolve(dir)
	require.NoError(t, err)

	c1 := New(p, obslog.Discard(), 0, 0)
	outcome1, err := c1.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeBecamePrimary, outcome1)
	defer c1.Shutdown(context.Background())

	c2 := New(p, obslog.Discard(), 0, 0)
	outcome2, err := c2.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUseExisting, outcome2)

	assert.Equal(t, StateRunning, c1.State())
}

func TestCoordinator_ShutdownThenReacquire(t *testing.T) {
	dir := t.TempDir()
	p, err := project.Resolve(dir)
	require.NoError(t, err)

	c1 := New(p, obslog.Discard(), 0, 0)
	outcome, err := c1.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeBecamePrimary, outcome)
	c1.Shutdown(context.Background())

	// Give the listener a moment to release the socket.
	time.Sleep(50 * time.Millisecond)

	c2 := New(p, obslog.Discard(), 0, 0)
	outcome2, err := c2.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBecamePrimary, outcome2)
	c2.Shutdown(context.Background())
}

func TestCoordinator_ReindexControlMessageInvokesHandler(t *testing.T) {
	dir := t.TempDir()
	p, err := project.Resolve(dir)
	require.NoError(t, err)

	c := New(p, obslog.Discard(), 0, 0)
	invoked := make(chan struct{}, 1)
	c.SetReindexHandler(func() { invoked <- struct{}{} })

	_, err = c.Start(context.Background())
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	conn, err := net.Dial("unix", p.InstanceSocketPath())
	require.NoError(t, err)
	defer conn.Close()

	reply, err := exchangeControlMessage(conn, controlRequest{Type: "reindex"})
	require.NoError(t, err)
	assert.Equal(t, "reindex_ack", reply.Type)

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("reindex handler was not invoked")
	}
}

func TestCoordinator_ReindexControlMessageWithoutHandlerErrors(t *testing.T) {
	dir := t.TempDir()
	p, err := project.Resolve(dir)
	require.NoError(t, err)

	c := New(p, obslog.Discard(), 0, 0)
	_, err = c.Start(context.Background())
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	conn, err := net.Dial("unix", p.InstanceSocketPath())
	require.NoError(t, err)
	defer conn.Close()

	reply, err := exchangeControlMessage(conn, controlRequest{Type: "reindex"})
	require.NoError(t, err)
	assert.Equal(t, "error", reply.Type)
	assert.NotEmpty(t, reply.Error)
}

func TestAcquireStartupLock_StaleDeadProcessReplaced(t *testing.T) {
	dir := t.TempDir()
	p, err := project.Resolve(dir)
	require.NoError(t, err)

	// Simulate a lock left behind by a pid that cannot possibly be
	// alive, aged past minLockAge by rewriting its mtime.
	lockPath := p.StartupLockPath()
	payload := startupLockPayload{PID: 999999, StartedAt: time.Now().Add(-time.Hour)}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, raw, 0640))
	oldTime := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, oldTime, oldTime))

	err = acquireStartupLock(lockPath, startupLockMaxRetries)
	require.NoError(t, err)
}
