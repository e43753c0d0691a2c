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

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// Object is one unit stored in a class: a stable ID, its scalar
// properties, and its embedding vector.
type Object struct {
	ID         string
	Properties map[string]interface{}
	Vector     []float32
}

// Put upserts obj into class under scope's tenant: existing objects
// sharing obj.ID are deleted first, matching the indexing pipeline's
// delete-then-insert ordering (C6) so a partial re-index never leaves
// two vectors for the same source file or definition.
func (c *Client) Put(ctx context.Context, scope Scope, class string, obj Object) error {
	if len(obj.Vector) > 0 {
		if err := c.dimensions.checkAndRecord(scope.Tenant, class, len(obj.Vector)); err != nil {
			return err
		}
	}

	if obj.ID == "" {
		obj.ID = uuid.New().String()
	}

	_ = c.Delete(ctx, scope, class, obj.ID)

	creator := c.wv.Data().Creator().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithID(obj.ID).
		WithProperties(obj.Properties)
	if len(obj.Vector) > 0 {
		creator = creator.WithVector(obj.Vector)
	}

	if _, err := creator.Do(ctx); err != nil {
		return fmt.Errorf("%w: put object into %s: %v", specerrors.ErrStorageUnavailable, class, err)
	}
	return nil
}

// Delete removes one object by ID, tolerating an already-absent object.
func (c *Client) Delete(ctx context.Context, scope Scope, class, id string) error {
	err := c.wv.Data().Deleter().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithID(id).
		Do(ctx)
	if err != nil {
		// The generated client does not distinguish "already gone" from
		// other 404s cleanly; callers that need to know the difference
		// use Get first.
		return nil
	}
	return nil
}

// Get fetches a single object's properties by ID.
func (c *Client) Get(ctx context.Context, scope Scope, class, id string) (map[string]interface{}, error) {
	objs, err := c.wv.Data().ObjectsGetter().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithID(id).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get object: %v", specerrors.ErrStorageUnavailable, err)
	}
	if len(objs) == 0 {
		return nil, specerrors.ErrNotFound
	}
	props, _ := objs[0].Properties.(map[string]interface{})
	return props, nil
}

// GetWithVector fetches one object's properties and its stored
// embedding. The indexing pipeline (C6) uses this to decide whether an
// unchanged file or definition still needs a re-embed: content-hash
// gating only skips work when the stored vector is also non-null.
func (c *Client) GetWithVector(ctx context.Context, scope Scope, class, id string) (map[string]interface{}, []float32, error) {
	objs, err := c.wv.Data().ObjectsGetter().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithID(id).
		WithAdditional("vector").
		Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get object with vector: %v", specerrors.ErrStorageUnavailable, err)
	}
	if len(objs) == 0 {
		return nil, nil, specerrors.ErrNotFound
	}
	props, _ := objs[0].Properties.(map[string]interface{})
	var vector []float32
	if len(objs[0].Vector) > 0 {
		vector = []float32(objs[0].Vector)
	}
	return props, vector, nil
}

// SearchResult is one scored hit from NearVectorSearch.
type SearchResult struct {
	ID         string
	Properties map[string]interface{}
	Distance   float32
}

// FindEqual runs a plain (non-vector) property-equality query, used for
// the memory store's duplicate-hash check: a query that needs only
// "does a row with this contentHash and kind already exist", not a
// similarity search.
func (c *Client) FindEqual(ctx context.Context, scope Scope, class string, fields []string, whereProp, whereValue string) ([]SearchResult, error) {
	additional := graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}
	gqlFields := make([]graphql.Field, 0, len(fields)+1)
	for _, f := range fields {
		gqlFields = append(gqlFields, graphql.Field{Name: f})
	}
	gqlFields = append(gqlFields, additional)

	where := filters.Where().
		WithPath([]string{whereProp}).
		WithOperator(filters.Equal).
		WithValueText(whereValue)

	resp, err := c.wv.GraphQL().Get().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithWhere(where).
		WithFields(gqlFields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: equality search: %v", specerrors.ErrStorageUnavailable, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql errors: %v", specerrors.ErrInvalidResponse, resp.Errors)
	}
	return parseGetResponse(resp, class)
}

// NearVectorSearch runs a k-NN query restricted to scope's tenant and
// an optional property-equality filter (e.g. category == "decision").
func (c *Client) NearVectorSearch(ctx context.Context, scope Scope, class string, vector []float32, limit int, fields []string, whereProp, whereValue string) ([]SearchResult, error) {
	nearVector := c.wv.GraphQL().NearVectorArgBuilder().WithVector(vector)

	additional := graphql.Field{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "distance"},
	}}
	gqlFields := make([]graphql.Field, 0, len(fields)+1)
	for _, f := range fields {
		gqlFields = append(gqlFields, graphql.Field{Name: f})
	}
	gqlFields = append(gqlFields, additional)

	get := c.wv.GraphQL().Get().
		WithClassName(class).
		WithTenant(scope.Tenant).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(gqlFields...)

	if whereProp != "" {
		where := filters.Where().
			WithPath([]string{whereProp}).
			WithOperator(filters.Equal).
			WithValueText(whereValue)
		get = get.WithWhere(where)
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: near-vector search: %v", specerrors.ErrStorageUnavailable, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql errors: %v", specerrors.ErrInvalidResponse, resp.Errors)
	}

	return parseGetResponse(resp, class)
}

// parseGetResponse walks the dynamic GraphQL response shape the
// generated client returns (map[string]interface{} all the way down)
// into typed SearchResult values.
func parseGetResponse(resp *models.GraphQLResponse, class string) ([]SearchResult, error) {
	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := data[class].([]interface{})
	if !ok {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		res := SearchResult{Properties: map[string]interface{}{}}
		for k, v := range m {
			if k == "_additional" {
				continue
			}
			res.Properties[k] = v
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if id, ok := add["id"].(string); ok {
				res.ID = id
			}
			if dist, ok := add["distance"].(float64); ok {
				res.Distance = float32(dist)
			}
		}
		results = append(results, res)
	}
	return results, nil
}
