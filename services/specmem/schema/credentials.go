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
	"github.com/awnumar/memguard"

	"github.com/jonhardwick-spec/specmem/services/specmem/config"
)

// CredentialEnclave holds the store connection secret (API key or
// password) in guarded, non-swappable memory for the lifetime of the
// process, and is destroyed explicitly on shutdown rather than left for
// the garbage collector.
//
// Description:
//
//	Per DESIGN.md's "Open Question decisions" #1, there is no silent
//	default credential: config.Load already hard-fails when a required
//	variable is absent, so by the time NewCredentialEnclave runs the
//	secret is known to be present.
//
// Thread Safety: LockedBuffer is safe for concurrent reads via String();
// Destroy must only be called once, at shutdown.
type CredentialEnclave struct {
	password *memguard.Enclave
}

// NewCredentialEnclave seals the configured DB/store password.
func NewCredentialEnclave(cfg config.DBCredentials) *CredentialEnclave {
	buf := memguard.NewBufferFromBytes([]byte(cfg.Password))
	return &CredentialEnclave{password: buf.Seal()}
}

// Open decrypts the enclave for the duration of the returned buffer's
// use. Callers must call Destroy on the returned buffer as soon as the
// plaintext is no longer needed.
func (c *CredentialEnclave) Open() (*memguard.LockedBuffer, error) {
	return c.password.Open()
}

// Destroy wipes the enclave. Call once during coordinator shutdown.
func (c *CredentialEnclave) Destroy() {
	memguard.Purge()
}
