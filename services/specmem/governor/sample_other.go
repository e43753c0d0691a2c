// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !linux

package governor

import "runtime"

// cpuTimes is unused outside Linux; the portable sampler below never
// constructs one from real counters.
type cpuTimes struct{}

// readCPUTimes has no portable equivalent of /proc/stat's jiffie
// counters. Non-Linux builds fall back to a coarse load estimate driven
// by runtime.NumGoroutine relative to GOMAXPROCS instead of true CPU
// utilization.
func readCPUTimes() (cpuTimes, error) {
	return cpuTimes{}, nil
}

func cpuPercentBetween(cpuTimes, cpuTimes) float64 {
	procs := float64(runtime.GOMAXPROCS(0))
	if procs <= 0 {
		procs = 1
	}
	goroutines := float64(runtime.NumGoroutine())
	pct := 100 * (goroutines / (procs * 50))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// readRAMPercent has no portable way to read system memory pressure
// without a platform-specific syscall; it reports the Go heap's share of
// its own soft memory limit as a conservative proxy.
func readRAMPercent() (float64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	limit := float64(stats.Sys)
	if limit <= 0 {
		return 0, nil
	}
	return 100 * float64(stats.HeapInuse) / limit, nil
}
