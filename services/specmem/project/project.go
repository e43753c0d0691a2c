// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project resolves a filesystem path to a stable Project
// identity and owns the per-project directory layout under
// <path>/specmem/. See spec.md §3 and §4.1.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// hashLength is the number of hex characters retained from the SHA-256
// digest of the canonical path — 16 hex chars (64 bits), per spec.md §3.
const hashLength = 16

// Project is the resolved identity and filesystem layout for one
// indexed codebase.
type Project struct {
	Path       string // canonical absolute path
	Hash       string // truncate16(sha256(lowercase(canonical(path))))
	SchemaName string // "specmem_" + Hash
	SpecmemDir string // <Path>/specmem
	SocketDir  string // <SpecmemDir>/sockets
	RunDir     string // <SpecmemDir>/run
	CacheDir   string // <SpecmemDir>/cache
}

// Resolve canonicalizes inputPath, derives the project hash, and
// ensures the specmem/{sockets,run,cache} directories exist.
//
// Description:
//
//	Canonicalization is: Abs, then Clean, then, for hashing only,
//	lowercased (the filesystem path used for I/O is left in its original
//	case — only the hash input is lowercased, since some filesystems are
//	case-insensitive and two different-case paths must still hash
//	identically per the stability invariant).
//
// Outputs:
//   - *Project: resolved identity, directories created.
//   - error: wraps specerrors.ErrEnvironmentUnusable when the path
//     cannot be made absolute or the directories cannot be created
//     (e.g. read-only filesystem).
func Resolve(inputPath string) (*Project, error) {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve absolute path: %v", specerrors.ErrEnvironmentUnusable, err)
	}
	canonical := filepath.Clean(abs)

	hash := hashPath(canonical)
	specmemDir := filepath.Join(canonical, "specmem")

	p := &Project{
		Path:       canonical,
		Hash:       hash,
		SchemaName: "specmem_" + hash,
		SpecmemDir: specmemDir,
		SocketDir:  filepath.Join(specmemDir, "sockets"),
		RunDir:     filepath.Join(specmemDir, "run"),
		CacheDir:   filepath.Join(specmemDir, "cache"),
	}

	if err := p.ensureDirs(); err != nil {
		return nil, err
	}
	return p, nil
}

// hashPath computes truncate16(sha256(lowercase(path))).
func hashPath(canonical string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(canonical)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// ensureDirs creates the three specmem subdirectories. The socket
// directory is left group-writable (0770) so an embedding worker
// process running under a distinct uid in the same group can bind its
// socket there, per spec.md §4.1.
func (p *Project) ensureDirs() error {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{p.SpecmemDir, 0750},
		{p.SocketDir, 0770},
		{p.RunDir, 0750},
		{p.CacheDir, 0750},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return fmt.Errorf("%w: create %s: %v", specerrors.ErrEnvironmentUnusable, d.path, err)
		}
	}
	// Writability probe: a read-only project directory fails fast here
	// rather than surfacing as a confusing error deep in the broker or
	// schema manager.
	probe := filepath.Join(p.SpecmemDir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0640); err != nil {
		return fmt.Errorf("%w: project directory not writable: %v", specerrors.ErrEnvironmentUnusable, err)
	}
	_ = os.Remove(probe)
	return nil
}

// SocketPath returns the full path to a named socket under sockets/.
func (p *Project) SocketPath(name string) string {
	return filepath.Join(p.SocketDir, name)
}

// RunPath returns the full path to a named file under run/.
func (p *Project) RunPath(name string) string {
	return filepath.Join(p.RunDir, name)
}

// LogPath returns the full path to a named log file under run/.
func (p *Project) LogPath(name string) string {
	return filepath.Join(p.RunDir, name)
}

// EmbeddingSocketPath is the well-known path for the worker's UDS.
func (p *Project) EmbeddingSocketPath() string { return p.SocketPath("embeddings.sock") }

// InstanceSocketPath is the well-known path for the instance-lock UDS.
func (p *Project) InstanceSocketPath() string { return p.SocketPath("specmem.sock") }

// InstanceRecordPath is the well-known path for the instance record.
func (p *Project) InstanceRecordPath() string { return p.RunPath("instance.json") }

// StartupLockPath is the well-known path for the startup lock file.
func (p *Project) StartupLockPath() string { return p.RunPath("startup.lock") }
