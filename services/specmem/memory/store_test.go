// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportanceWeight_RoundTrips(t *testing.T) {
	for _, imp := range []Importance{ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical} {
		w := importanceWeight(imp)
		assert.Equal(t, imp, importanceFromWeight(w))
	}
}

func TestImportanceWeight_UnknownFallsBackToLow(t *testing.T) {
	assert.Equal(t, importanceWeight(ImportanceLow), importanceWeight(Importance("bogus")))
}

func TestImportanceRank_Orders(t *testing.T) {
	assert.Less(t, ImportanceLow.rank(), ImportanceMedium.rank())
	assert.Less(t, ImportanceMedium.rank(), ImportanceHigh.rank())
	assert.Less(t, ImportanceHigh.rank(), ImportanceCritical.rank())
}

func TestToInterfaceSlice(t *testing.T) {
	out := toInterfaceSlice([]string{"a", "b"})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0])
	assert.Equal(t, "b", out[1])
}

func TestRecordFromProperties_RoundTripsCoreFields(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	props := map[string]interface{}{
		"content":      "hello world",
		"category":     string(KindSemantic),
		"importance":   float64(3),
		"tags":         []interface{}{"x", "y"},
		"createdAt":    created.Format(time.RFC3339),
		"metadataJSON": `{"hash":"abc123"}`,
	}

	rec := recordFromProperties("id-1", props, true)
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "hello world", rec.Content)
	assert.Equal(t, KindSemantic, rec.Kind)
	assert.Equal(t, ImportanceHigh, rec.Importance)
	assert.Equal(t, []string{"x", "y"}, rec.Tags)
	assert.True(t, rec.CreatedAt.Equal(created))
	assert.Equal(t, "abc123", rec.Metadata["hash"])
	assert.True(t, rec.HasEmbedding)
}

func TestRecordFromProperties_MissingFieldsDoNotPanic(t *testing.T) {
	rec := recordFromProperties("id-2", map[string]interface{}{}, false)
	assert.Equal(t, "id-2", rec.ID)
	assert.Empty(t, rec.Content)
	assert.False(t, rec.HasEmbedding)
}
