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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// ledger is a local set of "already ingested" frame keys, backed by
// BadgerDB rather than the vector store: this dedup decision is purely
// instance-local bookkeeping and has nothing to do with the
// content-hash dedup memory.Store performs for API-originated writes
// (see DESIGN.md's C9 entry), so it is kept architecturally separate.
type ledger struct {
	db *badger.DB
}

func openLedger(dir string) (*ledger, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "session-ingest")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open session ingest ledger: %v", specerrors.ErrStorageUnavailable, err)
	}
	return &ledger{db: db}, nil
}

func (l *ledger) Close() error {
	return l.db.Close()
}

// frameKey computes sha256(sessionId + timestamp) per spec.md §4.9.
func frameKey(sessionID, timestamp string) string {
	sum := sha256.Sum256([]byte(sessionID + timestamp))
	return hex.EncodeToString(sum[:])
}

// seen reports whether key has already been recorded.
func (l *ledger) seen(key string) (bool, error) {
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: read session ingest ledger: %v", specerrors.ErrStorageUnavailable, err)
	}
	return found, nil
}

// record marks key as ingested. Idempotent: recording an already-present
// key is a no-op success.
func (l *ledger) record(key string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("%w: write session ingest ledger: %v", specerrors.ErrStorageUnavailable, err)
	}
	return nil
}
