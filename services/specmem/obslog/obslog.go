// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package obslog builds the process-wide structured logger used by every
// specmem component. Components never construct their own *slog.Logger;
// they receive one scoped to their project via New, mirroring the
// teacher's convention of threading a *slog.Logger through constructors
// instead of reaching for a package-level singleton.
package obslog

import (
	"io"
	"log/slog"
	"os"
)

// New builds a logger writing JSON records to w (typically the project's
// run/mcp-startup.log), tagged with the project hash so multi-project
// deployments can be grepped apart.
//
// Description:
//
//	debug controls the minimum level: Info normally, Debug when
//	SPECMEM_DEBUG is set. Verbosity never changes emitted semantics,
//	only which records are written.
//
// Thread Safety: The returned logger is safe for concurrent use.
func New(w io.Writer, projectHash string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("project", projectHash))
}

// Discard returns a logger that writes nowhere, used in tests and in
// code paths exercised before a project's log file exists.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
