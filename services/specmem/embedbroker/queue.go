// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedbroker

import "container/heap"

// Priority levels, matching the five tiers named in spec.md §4.4. Lower
// value is scheduled first. A non-empty queue admits strictly by
// priority, FIFO within a priority: a live memory save or search
// (PriorityHigh) jumps ahead of routine codebase indexing
// (PriorityMedium), which in turn jumps ahead of background session
// history backfill (PriorityLow), so the substrate stays responsive
// while a large scan or import is in flight. PriorityCritical and
// PriorityIdle exist for symmetry with governor.Priority; nothing in
// this package currently submits work at either.
const (
	PriorityCritical = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityIdle
)

// job is one scheduled unit of work: embed Texts, deliver the result (or
// error) on done exactly once.
type job struct {
	id       string
	texts    []string
	priority int
	seq      int64 // tie-break: FIFO within the same priority
	ctx      jobContext
	done     chan jobResult
}

type jobResult struct {
	vectors [][]float32
	err     error
}

// jobContext carries the caller's cancellation signal without importing
// context into the heap element (keeps heap.Interface trivial).
type jobContext interface {
	Done() <-chan struct{}
	Err() error
}

// jobQueue is a priority-then-FIFO min-heap of pending jobs.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x interface{}) {
	*q = append(*q, x.(*job))
}

func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*jobQueue)(nil)
