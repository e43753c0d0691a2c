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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// startupLockTimeout is how old an orphaned startup lock must be before
// it is considered stale and replaced, per spec.md §4.2 step 2.
const startupLockTimeout = 30 * time.Second

// minLockAge is the floor below which a lock (startup or instance) is
// never touched, even if it otherwise looks stale — protects a
// just-created lock from a racing cleanup pass, per spec.md §4.2 step 3.
const minLockAge = 5 * time.Second

// startupLockPayload is the JSON body of the startup lock file.
type startupLockPayload struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// acquireStartupLock implements spec.md §4.2 step 2: exclusive file
// creation, with stale-lock replacement (rename-then-unlink, never a
// bare unlink-then-create race) and bounded backoff retry.
//
// Description:
//
//	Returns nil once this process holds the lock, and a non-nil error
//	otherwise, including after maxRetries attempts without acquiring it;
//	Start wraps that error with specerrors.ErrConcurrentStartup.
func acquireStartupLock(path string, maxRetries int) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ok, err := tryCreateStartupLock(path)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		stale, err := isStaleLockFile(path)
		if err != nil {
			// Lock file vanished between the failed create and our
			// stat — another process released it; retry immediately.
			continue
		}
		if stale {
			if err := replaceStaleLock(path); err != nil {
				return err
			}
			continue
		}

		time.Sleep(backoffDelay(attempt))
	}
	return fmt.Errorf("startup lock: exhausted %d attempts", maxRetries)
}

// tryCreateStartupLock attempts the exclusive create. Returns true if
// this call won the race.
func tryCreateStartupLock(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create startup lock: %w", err)
	}
	defer f.Close()

	payload := startupLockPayload{PID: os.Getpid(), StartedAt: time.Now()}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal startup lock payload: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		return false, fmt.Errorf("write startup lock payload: %w", err)
	}
	return true, nil
}

// isStaleLockFile reports whether the existing lock file belongs to a
// dead process or is older than startupLockTimeout, and is also older
// than minLockAge (never touch a very young lock, even our own).
func isStaleLockFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	age := time.Since(info.ModTime())
	if age < minLockAge {
		return false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var payload startupLockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Unparseable lock contents older than minLockAge: treat as
		// stale so a corrupted lock cannot wedge startup forever.
		return age > minLockAge, nil
	}
	if payload.PID == os.Getpid() {
		// Never treat our own lock as stale.
		return false, nil
	}
	if !processAlive(payload.PID) {
		return true, nil
	}
	return age > startupLockTimeout, nil
}

// replaceStaleLock performs rename-then-unlink: the stale file is
// renamed aside, then removed, so a concurrent reader never observes a
// half-deleted lock between "gone" and "exclusively createable".
func replaceStaleLock(path string) error {
	staleName := path + ".stale"
	if err := os.Rename(path, staleName); err != nil {
		if os.IsNotExist(err) {
			// Another process already replaced it; let the caller retry
			// tryCreateStartupLock.
			return nil
		}
		return fmt.Errorf("rename stale lock aside: %w", err)
	}
	if err := os.Remove(staleName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	return nil
}

// releaseStartupLock removes the lock file this process created.
func releaseStartupLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release startup lock: %w", err)
	}
	return nil
}

// processAlive reports whether pid refers to a live process, via the
// signal-0 liveness probe (kill(pid, 0) without actually signaling).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == unix.EPERM {
		// Exists but owned by another user: still alive.
		return true
	}
	return false
}

// backoffDelay returns the wait before the next startup-lock attempt,
// capped so a misbehaving competitor cannot starve this process
// indefinitely.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(50+attempt*50) * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
