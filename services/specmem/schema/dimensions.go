// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// dimensionLedger records the embedding vector width a tenant committed
// on its first write, so a later write with a different width is caught
// as a configuration error instead of silently corrupting the index.
//
// Description:
//
//	Backed by BadgerDB rather than the vector store itself, following
//	the same split the embedding router's cache used: BadgerDB for small
//	amounts of infrastructure bookkeeping local to this instance,
//	Weaviate for the actual vectors. One key per tenant, value is the
//	little-endian uint32 dimensionality.
type dimensionLedger struct {
	db *badger.DB
}

func openDimensionLedger(cacheDir string) (*dimensionLedger, error) {
	opts := badger.DefaultOptions(filepath.Join(cacheDir, "schema-dims")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open dimension ledger: %v", specerrors.ErrStorageUnavailable, err)
	}
	return &dimensionLedger{db: db}, nil
}

func (l *dimensionLedger) Close() error {
	return l.db.Close()
}

// checkAndRecord enforces the dimension for (tenant, class): if no
// dimension is recorded yet, dims is committed and the call succeeds.
// Otherwise dims must equal the recorded value.
func (l *dimensionLedger) checkAndRecord(tenant, class string, dims int) error {
	key := []byte(tenant + "/" + class)

	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			val := make([]byte, 4)
			binary.LittleEndian.PutUint32(val, uint32(dims))
			return txn.Set(key, val)
		}
		if err != nil {
			return fmt.Errorf("%w: read dimension ledger: %v", specerrors.ErrStorageUnavailable, err)
		}

		var recorded uint32
		if err := item.Value(func(val []byte) error {
			recorded = binary.LittleEndian.Uint32(val)
			return nil
		}); err != nil {
			return fmt.Errorf("%w: decode dimension ledger entry: %v", specerrors.ErrStorageUnavailable, err)
		}

		if int(recorded) != dims {
			return fmt.Errorf("%w: class %s expects %d dimensions, got %d", specerrors.ErrDimensionMismatch, class, recorded, dims)
		}
		return nil
	})
}

// clear removes every recorded dimension for tenant, across all classes.
func (l *dimensionLedger) clear(tenant string) error {
	prefix := []byte(tenant + "/")
	return l.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("clear dimension ledger entry: %w", err)
			}
		}
		return nil
	})
}
