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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonhardwick-spec/specmem/services/specmem/specerrors"
)

// SessionsDir resolves the well-known transcript directory for one
// project: ~/.specmem/sessions/<project-hash>, per spec.md §4.9.
func SessionsDir(projectHash string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", specerrors.ErrEnvironmentUnusable, err)
	}
	return filepath.Join(home, sessionsHomeSubpath, projectHash), nil
}

// walkTranscripts reads every *.jsonl file directly under dir (no
// recursion: transcripts are flat, one file per session) and returns
// the frames in file-name order, then line order, so repeated runs over
// an unchanged directory observe frames in a stable order.
func walkTranscripts(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read sessions directory: %v", specerrors.ErrStorageUnavailable, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var frames []Frame
	for _, name := range names {
		fileFrames, err := readTranscriptFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, fileFrames...)
	}
	return frames, nil
}

// readTranscriptFile parses one newline-delimited JSON transcript. A
// line that fails to parse is skipped rather than aborting the whole
// file: a partially written last line (the assistant process was killed
// mid-write) is the expected failure mode, not a corrupt transcript.
func readTranscriptFile(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open transcript %s: %v", specerrors.ErrStorageUnavailable, path, err)
	}
	defer f.Close()

	var frames []Frame
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fr Frame
		if err := json.Unmarshal(line, &fr); err != nil {
			continue
		}
		frames = append(frames, fr)
	}
	return frames, scanner.Err()
}
