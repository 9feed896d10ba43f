package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueUpdatesNrRunningAndWatermark(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("a", PolicyNormal, 0, 0, NewCPUSet(0))

	require.NoError(t, sched.Enqueue(0, task))
	rq := sched.RQ(0)
	assert.Equal(t, 1, rq.nrRunningTotal())
	assert.Equal(t, OnRQQueued, task.OnRQ())
	assert.NotEqual(t, idleLevel, rq.watermark)

	require.NoError(t, sched.Dequeue(0, task))
	assert.Equal(t, 0, rq.nrRunningTotal())
	assert.Equal(t, OnRQBlocked, task.OnRQ())
	assert.Equal(t, idleLevel, rq.watermark)
}

func TestEnqueueRejectsDoubleEnqueue(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("a", PolicyNormal, 0, 0, NewCPUSet(0))
	require.NoError(t, sched.Enqueue(0, task))
	assert.Error(t, sched.Enqueue(0, task))
}

func TestEnqueueTwoMoreThanOneRunningSetsPending(t *testing.T) {
	sched := newTestScheduler(t, 2)
	a := NewTask("a", PolicyNormal, 0, 0, NewCPUSet(0))
	b := NewTask("b", PolicyNormal, 0, 0, NewCPUSet(0))

	require.NoError(t, sched.Enqueue(0, a))
	assert.False(t, sched.pending.snapshot().Has(0))

	require.NoError(t, sched.Enqueue(0, b))
	assert.True(t, sched.pending.snapshot().Has(0))

	require.NoError(t, sched.Dequeue(0, b))
	assert.False(t, sched.pending.snapshot().Has(0))
}

func TestBoostDeboostClampToMaxPriorityAdj(t *testing.T) {
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	for i := 0; i < MaxPriorityAdj+5; i++ {
		task.boost()
	}
	assert.Equal(t, -MaxPriorityAdj, task.boostPrio)

	for i := 0; i < 2*MaxPriorityAdj+5; i++ {
		task.deboost()
	}
	assert.Equal(t, MaxPriorityAdj, task.boostPrio)
}

func TestBoostSaturatesAtZeroForBatch(t *testing.T) {
	task := NewTask("t", PolicyBatch, 0, 0, NewCPUSet(0))
	for i := 0; i < MaxPriorityAdj+5; i++ {
		task.boost()
	}
	assert.Equal(t, 0, task.boostPrio, "BATCH never gains interactivity credit")

	for i := 0; i < MaxPriorityAdj+5; i++ {
		task.deboost()
	}
	assert.Equal(t, MaxPriorityAdj, task.boostPrio)

	for i := 0; i < 2*MaxPriorityAdj; i++ {
		task.boost()
	}
	assert.Equal(t, 0, task.boostPrio, "boost recovers a deboosted BATCH task only back to 0")
}

func TestBoostDeboostNoOpForRTBoostNoOpForIdle(t *testing.T) {
	rt := NewTask("rt", PolicyFIFO, 0, 10, NewCPUSet(0))
	rt.boost()
	rt.deboost()
	assert.Equal(t, 0, rt.boostPrio)

	idle := NewTask("idle", PolicyIdle, 0, 0, NewCPUSet(0))
	idle.boost()
	assert.Equal(t, 0, idle.boostPrio)
}

func TestRTTasksInsertPriorityOrdered(t *testing.T) {
	sched := newTestScheduler(t, 1)
	low := NewTask("low", PolicyFIFO, 0, 10, NewCPUSet(0))
	high := NewTask("high", PolicyFIFO, 0, 90, NewCPUSet(0))

	require.NoError(t, sched.Enqueue(0, low))
	require.NoError(t, sched.Enqueue(0, high))

	rq := sched.RQ(0)
	assert.Equal(t, rtLevel, rq.watermark)
	assert.Same(t, high, rq.queue.first(), "higher rt priority dispatches first even though enqueued second")
}
