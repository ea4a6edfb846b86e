package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskQueuePopExpiredOrdersByDeadline(t *testing.T) {
	tq := newTaskQueue()
	base := time.Unix(1000, 0)

	late := tq.push(&Task{Type: TaskSend}, base.Add(3*time.Second))
	early := tq.push(&Task{Type: TaskSend}, base.Add(1*time.Second))
	mid := tq.push(&Task{Type: TaskSend}, base.Add(2*time.Second))

	require.Same(t, early, tq.popExpired(base.Add(10*time.Second)))
	require.Same(t, mid, tq.popExpired(base.Add(10*time.Second)))
	require.Same(t, late, tq.popExpired(base.Add(10*time.Second)))
	require.Nil(t, tq.popExpired(base.Add(10*time.Second)))
}

func TestTaskQueuePopExpiredRespectsNotYetDue(t *testing.T) {
	tq := newTaskQueue()
	now := time.Unix(0, 0)
	tq.push(&Task{Type: TaskSend}, now.Add(5*time.Second))

	require.Nil(t, tq.popExpired(now))
	require.NotNil(t, tq.popExpired(now.Add(5*time.Second)))
}

func TestTaskQueueTiesBreakFIFO(t *testing.T) {
	tq := newTaskQueue()
	deadline := time.Unix(0, 0)

	first := tq.push(&Task{Type: TaskSend}, deadline)
	second := tq.push(&Task{Type: TaskSend}, deadline)
	third := tq.push(&Task{Type: TaskSend}, deadline)

	require.Same(t, first, tq.popExpired(deadline))
	require.Same(t, second, tq.popExpired(deadline))
	require.Same(t, third, tq.popExpired(deadline))
}

func TestTaskQueueCancelRemovesTask(t *testing.T) {
	tq := newTaskQueue()
	now := time.Unix(0, 0)
	keep := tq.push(&Task{Type: TaskSend}, now)
	drop := tq.push(&Task{Type: TaskSend}, now)

	tq.cancel(drop)

	require.Equal(t, 1, tq.Len())
	require.Same(t, keep, tq.popExpired(now))
}

func TestTaskQueueCancelForPeerSparesMaintenance(t *testing.T) {
	tq := newTaskQueue()
	now := time.Unix(0, 0)
	id := newPeerID()

	tq.push(&Task{Type: TaskHandshake, PeerID: id}, now)
	tq.push(&Task{Type: TaskSend, PeerID: id}, now)
	maint := tq.push(&Task{Type: TaskMaintenance}, now)
	other := tq.push(&Task{Type: TaskSend, PeerID: newPeerID()}, now)

	tq.cancelForPeer(id)

	require.Equal(t, 2, tq.Len())
	remaining := map[*Task]bool{}
	for {
		task := tq.popExpired(now)
		if task == nil {
			break
		}
		remaining[task] = true
	}
	require.True(t, remaining[maint])
	require.True(t, remaining[other])
}

func TestTaskQueueTimeoutMS(t *testing.T) {
	tq := newTaskQueue()
	now := time.Unix(0, 0)

	require.Equal(t, -1, tq.timeoutMS(now))

	tq.push(&Task{Type: TaskSend}, now.Add(250*time.Millisecond))
	require.Equal(t, 250, tq.timeoutMS(now))

	tq.push(&Task{Type: TaskSend}, now.Add(-time.Second))
	require.Equal(t, 0, tq.timeoutMS(now))
}

// property: the queue always pops tasks in nondecreasing deadline order,
// regardless of push order.
func TestTaskQueueHeapOrderingProperty(t *testing.T) {
	tq := newTaskQueue()
	base := time.Unix(0, 0)
	r := rand.New(rand.NewSource(7))

	var deadlines []time.Duration
	for i := 0; i < 300; i++ {
		d := time.Duration(r.Intn(1_000_000)) * time.Millisecond
		deadlines = append(deadlines, d)
		tq.push(&Task{Type: TaskSend}, base.Add(d))
	}

	var last time.Time
	count := 0
	for {
		task := tq.popExpired(base.Add(2_000_000 * time.Millisecond))
		if task == nil {
			break
		}
		require.True(t, !task.Deadline.Before(last))
		last = task.Deadline
		count++
	}
	require.Equal(t, len(deadlines), count)
}
