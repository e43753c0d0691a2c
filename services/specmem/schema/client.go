// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema owns the relational-plus-vector store's class layout
// and per-project tenant isolation. See spec.md §3 component C3.
//
// Description:
//
//	The store backing this package is Weaviate with native
//	multi-tenancy: one set of fixed classes (Memory, CodeFile,
//	CodeDefinition) shared by every project, scoped per request by a
//	tenant name equal to the project hash. This gives the schema
//	isolation spec.md's S5 scenario requires without hand-rolling a
//	schema-per-project scheme on top of a SQL dialect the rest of the
//	dependency pack does not provide a driver for.
package schema

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"

	"github.com/jonhardwick-spec/specmem/services/specmem/config"
)

const (
	// ClassMemory holds saved and episodic memories (C7, C9).
	ClassMemory = "Memory"
	// ClassCodeFile holds per-file embeddings (C6).
	ClassCodeFile = "CodeFile"
	// ClassCodeDefinition holds per-definition embeddings (C6).
	ClassCodeDefinition = "CodeDefinition"
)

// allClasses lists every class EnsureSchema provisions, in the order
// they should be created (no cross-class references, so order does not
// matter functionally, but keeping it fixed makes EnsureSchema's log
// output stable across runs).
var allClasses = []string{ClassMemory, ClassCodeFile, ClassCodeDefinition}

// Client wraps the Weaviate REST client with the credential enclave and
// the dimension ledger, and is the single store handle shared by C3, C6,
// C7, and C9.
type Client struct {
	wv         *weaviate.Client
	enclave    *CredentialEnclave
	dimensions *dimensionLedger
}

// NewClient dials the configured store and loads (or creates) the
// dimension ledger under cacheDir.
func NewClient(cfg config.DBCredentials, cacheDir string) (*Client, error) {
	enclave := NewCredentialEnclave(cfg)

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()

	wvCfg := weaviate.Config{
		Host:       cfg.Host + ":" + cfg.Port,
		Scheme:     "http",
		AuthConfig: auth.ApiKey{Value: buf.String()},
	}
	wv, err := weaviate.NewClient(wvCfg)
	if err != nil {
		return nil, fmt.Errorf("construct store client: %w", err)
	}

	ledger, err := openDimensionLedger(cacheDir)
	if err != nil {
		return nil, err
	}

	return &Client{wv: wv, enclave: enclave, dimensions: ledger}, nil
}

// Close releases the dimension ledger and the credential enclave. It
// does not close wv: the generated client holds no long-lived
// connection beyond its internal *http.Client.
func (c *Client) Close() error {
	c.enclave.Destroy()
	return c.dimensions.Close()
}

// Ready performs a lightweight liveness check against the store's
// readiness endpoint. Neither the coordinator's health reply nor
// /v1/health calls it.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	ok, err := c.wv.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return false, fmt.Errorf("store readiness check: %w", err)
	}
	return ok, nil
}
