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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSurvivors_SkipsToolFrames(t *testing.T) {
	led, err := openLedger(t.TempDir())
	require.NoError(t, err)
	defer led.Close()

	frames := []Frame{
		{SessionID: "s1", Timestamp: "t1", Text: "hello", IsToolFrame: false},
		{SessionID: "s1", Timestamp: "t2", Text: "tool output", IsToolFrame: true},
	}

	survivors, res, err := filterSurvivors(frames, led)
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	assert.Equal(t, "hello", survivors[0].frame.Text)
	assert.Equal(t, 1, res.FramesSkipped)
	assert.Equal(t, 0, res.FramesDuplicate)
}

func TestFilterSurvivors_SkipsAlreadyRecordedFrames(t *testing.T) {
	led, err := openLedger(t.TempDir())
	require.NoError(t, err)
	defer led.Close()

	frames := []Frame{
		{SessionID: "s1", Timestamp: "t1", Text: "first"},
		{SessionID: "s1", Timestamp: "t2", Text: "second"},
	}

	require.NoError(t, led.record(frameKey("s1", "t1")))

	survivors, res, err := filterSurvivors(frames, led)
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	assert.Equal(t, "second", survivors[0].frame.Text)
	assert.Equal(t, 1, res.FramesDuplicate)
}

func TestFilterSurvivors_RerunAfterRecordingIsIdempotent(t *testing.T) {
	led, err := openLedger(t.TempDir())
	require.NoError(t, err)
	defer led.Close()

	frames := []Frame{{SessionID: "s1", Timestamp: "t1", Text: "hello"}}

	survivors, _, err := filterSurvivors(frames, led)
	require.NoError(t, err)
	require.Len(t, survivors, 1)

	require.NoError(t, led.record(survivors[0].key))

	survivors, res, err := filterSurvivors(frames, led)
	require.NoError(t, err)
	assert.Empty(t, survivors)
	assert.Equal(t, 1, res.FramesDuplicate)
}

func TestParseFrameTimestamp_ValidRFC3339(t *testing.T) {
	ts := parseFrameTimestamp("2026-01-02T03:04:05Z")
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.Month(1), ts.Month())
}

func TestParseFrameTimestamp_InvalidFallsBackToNow(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts := parseFrameTimestamp("not-a-timestamp")
	assert.True(t, ts.After(before))
}
