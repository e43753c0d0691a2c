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
	"fmt"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/jonhardwick-spec/specmem/services/specmem/project"
)

// Scope binds every subsequent store operation to one project's tenant,
// playing the role a "USE <schema>" statement would play against a
// conventional relational store.
type Scope struct {
	Tenant string // project hash
}

// BindConnection derives the Scope for a resolved project. It does not
// itself touch the store; call EnsureSchema once at startup to
// provision the classes and tenant.
func BindConnection(p *project.Project) Scope {
	return Scope{Tenant: p.Hash}
}

// EnsureSchema idempotently creates the fixed class set and this
// project's tenant within each one. Safe to call on every startup.
func (c *Client) EnsureSchema(ctx context.Context, scope Scope) error {
	for _, class := range allClasses {
		if err := c.ensureClass(ctx, class); err != nil {
			return fmt.Errorf("ensure class %s: %w", class, err)
		}
		if err := c.ensureTenant(ctx, class, scope.Tenant); err != nil {
			return fmt.Errorf("ensure tenant %s on %s: %w", scope.Tenant, class, err)
		}
	}
	return nil
}

func (c *Client) ensureClass(ctx context.Context, class string) error {
	exists, err := c.wv.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class existence: %w", err)
	}
	if exists {
		return nil
	}

	def := classDefinition(class)
	if err := c.wv.Schema().ClassCreator().WithClass(def).Do(ctx); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

func (c *Client) ensureTenant(ctx context.Context, class, tenant string) error {
	existing, err := c.wv.Schema().TenantsGetter().WithClassName(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range existing {
		if t.Name == tenant {
			return nil
		}
	}

	err = c.wv.Schema().TenantsCreator().
		WithClassName(class).
		WithTenants(models.Tenant{Name: tenant, ActivityStatus: "HOT"}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// classDefinition returns the fixed property layout for one class. The
// vector index itself is left at Weaviate's default HNSW configuration;
// dimensionality is not declared up front (Weaviate infers it from the
// first object written), which is exactly why the dimension ledger
// exists — see dimensions.go.
func classDefinition(class string) *models.Class {
	base := &models.Class{
		Class:      class,
		Vectorizer: "none",
		MultiTenancyConfig: &models.MultiTenancyConfig{
			Enabled: true,
		},
	}

	switch class {
	case ClassMemory:
		base.Properties = []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "category", DataType: []string{"text"}},
			{Name: "tags", DataType: []string{"text[]"}},
			{Name: "importance", DataType: []string{"number"}},
			{Name: "createdAt", DataType: []string{"date"}},
			{Name: "sessionId", DataType: []string{"text"}},
			{Name: "contentHash", DataType: []string{"text"}},
			{Name: "metadataJSON", DataType: []string{"text"}},
		}
	case ClassCodeFile:
		base.Properties = []*models.Property{
			{Name: "path", DataType: []string{"text"}},
			{Name: "language", DataType: []string{"text"}},
			{Name: "contentHash", DataType: []string{"text"}},
			{Name: "lastIndexed", DataType: []string{"date"}},
		}
	case ClassCodeDefinition:
		base.Properties = []*models.Property{
			{Name: "filePath", DataType: []string{"text"}},
			{Name: "name", DataType: []string{"text"}},
			{Name: "kind", DataType: []string{"text"}},
			{Name: "startLine", DataType: []string{"int"}},
			{Name: "endLine", DataType: []string{"int"}},
			{Name: "signature", DataType: []string{"text"}},
		}
	}
	return base
}

// dropAllForTenant removes the tenant's data from every class, used by
// the "reset" CLI subcommand: on each class it deletes the tenant and
// creates it again empty, so the tenant is present when it returns.
func (c *Client) dropAllForTenant(ctx context.Context, tenant string) error {
	for _, class := range allClasses {
		err := c.wv.Schema().TenantsDeleter().
			WithClassName(class).
			WithTenants(tenant).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("drop tenant on %s: %w", class, err)
		}
		err = c.wv.Schema().TenantsCreator().
			WithClassName(class).
			WithTenants(models.Tenant{Name: tenant, ActivityStatus: "HOT"}).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("recreate tenant on %s: %w", class, err)
		}
	}
	return nil
}

// Reset drops and recreates this scope's tenant data across every
// class, and clears the dimension ledger so the next write re-learns
// the embedding dimensionality.
func (c *Client) Reset(ctx context.Context, scope Scope) error {
	if err := c.dropAllForTenant(ctx, scope.Tenant); err != nil {
		return err
	}
	return c.dimensions.clear(scope.Tenant)
}
