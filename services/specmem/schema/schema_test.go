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
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonhardwick-spec/specmem/services/specmem/config"
)

// newTestClient dials a real Weaviate instance when SPECMEM_TEST_WEAVIATE_HOST
// is set, and is skipped otherwise. EnsureSchema and the tenant lifecycle
// cannot be meaningfully exercised against a fake: the generated client
// has no interface seam, only a concrete *weaviate.Client.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	host := os.Getenv("SPECMEM_TEST_WEAVIATE_HOST")
	if host == "" {
		t.Skip("SPECMEM_TEST_WEAVIATE_HOST not set; skipping store integration test")
	}

	c, err := NewClient(config.DBCredentials{
		Host:     host,
		Port:     os.Getenv("SPECMEM_TEST_WEAVIATE_PORT"),
		Password: os.Getenv("SPECMEM_TEST_WEAVIATE_APIKEY"),
	}, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEnsureSchema_IdempotentAndTenantIsolated(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	scopeA := Scope{Tenant: "integrationtenanta"}
	scopeB := Scope{Tenant: "integrationtenantb"}

	require.NoError(t, c.EnsureSchema(ctx, scopeA))
	require.NoError(t, c.EnsureSchema(ctx, scopeA)) // idempotent
	require.NoError(t, c.EnsureSchema(ctx, scopeB))

	require.NoError(t, c.Put(ctx, scopeA, ClassMemory, Object{
		ID:         "11111111-1111-1111-1111-111111111111",
		Properties: map[string]interface{}{"content": "tenant a secret"},
		Vector:     []float32{0.1, 0.2, 0.3},
	}))

	_, err := c.Get(ctx, scopeB, ClassMemory, "11111111-1111-1111-1111-111111111111")
	require.Error(t, err)
}

func TestPut_DimensionMismatchFreezesTenant(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	scope := Scope{Tenant: "integrationtenantdim"}
	require.NoError(t, c.EnsureSchema(ctx, scope))

	require.NoError(t, c.Put(ctx, scope, ClassMemory, Object{
		Properties: map[string]interface{}{"content": "first"},
		Vector:     make([]float32, 768),
	}))

	err := c.Put(ctx, scope, ClassMemory, Object{
		Properties: map[string]interface{}{"content": "second"},
		Vector:     make([]float32, 1536),
	})
	require.Error(t, err)
}
