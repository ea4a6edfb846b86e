/*
  Copyright (c) 2012, Matthias Schiffer <mschiffer@universe-factory.net>
  Partly based on QuickTun Copyright (c) 2010, Ivo Smits <Ivo@UCIS.nl>.
  All rights reserved.
*/

package main

import (
	"container/heap"
	"time"
)

// TaskType is the tagged variant discriminant for Task (spec §3 Task).
type TaskType int

const (
	TaskSend TaskType = iota
	TaskHandleRecv
	TaskHandshake
	TaskMaintenance
)

// Task is the tagged variant over {SEND, HANDLE_RECV, HANDSHAKE,
// MAINTENANCE}. Peer is referenced by stable PeerID (uuid), not by raw
// pointer, so a dequeued task can detect a deleted peer and no-op (spec §9
// Design Notes, §5 Cancellation).
type Task struct {
	Type     TaskType
	PeerID   PeerID // zero value for MAINTENANCE
	Buffer   *Buffer
	Deadline time.Time

	seq   uint64 // insertion order, for FIFO tie-breaking
	index int    // heap.Interface bookkeeping
}

// taskQueue is a min-heap keyed by absolute deadline, FIFO among ties.
type taskQueue struct {
	items []*Task
	seq   uint64
}

func newTaskQueue() *taskQueue {
	tq := &taskQueue{}
	heap.Init(tq)
	return tq
}

func (tq *taskQueue) Len() int { return len(tq.items) }

func (tq *taskQueue) Less(i, j int) bool {
	if tq.items[i].Deadline.Equal(tq.items[j].Deadline) {
		return tq.items[i].seq < tq.items[j].seq
	}
	return tq.items[i].Deadline.Before(tq.items[j].Deadline)
}

func (tq *taskQueue) Swap(i, j int) {
	tq.items[i], tq.items[j] = tq.items[j], tq.items[i]
	tq.items[i].index = i
	tq.items[j].index = j
}

func (tq *taskQueue) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(tq.items)
	tq.items = append(tq.items, t)
}

func (tq *taskQueue) Pop() interface{} {
	old := tq.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	tq.items = old[:n-1]
	return t
}

// push enqueues a task with the given absolute deadline.
func (tq *taskQueue) push(t *Task, deadline time.Time) *Task {
	t.Deadline = deadline
	tq.seq++
	t.seq = tq.seq
	heap.Push(tq, t)
	return t
}

// cancel removes a task from the queue if it is still present.
func (tq *taskQueue) cancel(t *Task) {
	if t.index < 0 || t.index >= len(tq.items) || tq.items[t.index] != t {
		return
	}
	heap.Remove(tq, t.index)
}

// cancelForPeer cancels every outstanding task bearing the given peer
// reference, per spec §5 Cancellation: deleting or resetting a peer cancels
// all outstanding tasks bearing its reference before freeing.
func (tq *taskQueue) cancelForPeer(id PeerID) {
	var remaining []*Task
	for _, t := range tq.items {
		if t.Type != TaskMaintenance && t.PeerID == id {
			continue
		}
		remaining = append(remaining, t)
	}
	tq.items = remaining
	heap.Init(tq)
}

// popExpired pops and returns the head task if its deadline has passed, or
// nil if the queue is empty or the head is not yet due.
func (tq *taskQueue) popExpired(now time.Time) *Task {
	if len(tq.items) == 0 {
		return nil
	}
	if tq.items[0].Deadline.After(now) {
		return nil
	}
	return heap.Pop(tq).(*Task)
}

// timeoutMS returns the number of milliseconds until the head task is due,
// 0 if it is already due, or -1 ("forever") if the queue is empty.
func (tq *taskQueue) timeoutMS(now time.Time) int {
	if len(tq.items) == 0 {
		return -1
	}
	d := tq.items[0].Deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(ms)
}
