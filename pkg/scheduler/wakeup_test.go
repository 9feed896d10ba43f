package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryToWakeUpPlacesOnAllIdleCPUsPreviousCPU(t *testing.T) {
	sched := newTestScheduler(t, 4)
	task := NewTask("w", PolicyNormal, 0, 0, NewCPUSet(0, 1, 2, 3))
	task.homeCPU = 0
	task.state = TaskInterruptible

	woken, err := sched.TryToWakeUp(task, WakeInterruptible)
	require.NoError(t, err)
	assert.True(t, woken)
	assert.Equal(t, 0, task.rq.CPU, "hot-cache preference keeps the task on its previous CPU when idle")
	assert.Equal(t, TaskRunning, task.State())
}

func TestTryToWakeUpRespectsAffinity(t *testing.T) {
	sched := newTestScheduler(t, 4)
	task := NewTask("w", PolicyNormal, 0, 0, NewCPUSet(2, 3))
	task.homeCPU = 2
	task.state = TaskInterruptible

	woken, err := sched.TryToWakeUp(task, WakeInterruptible)
	require.NoError(t, err)
	assert.True(t, woken)
	assert.Contains(t, []int{2, 3}, task.rq.CPU)
}

func TestTryToWakeUpMaskExcludesState(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("w", PolicyNormal, 0, 0, NewCPUSet(0))
	task.state = TaskUninterruptible

	woken, err := sched.TryToWakeUp(task, WakeInterruptible)
	require.NoError(t, err)
	assert.False(t, woken)
}

func TestNotifyReschedElidesIPIWhenPolling(t *testing.T) {
	sched := newTestScheduler(t, 1)
	curr := NewTask("poller", PolicyNormal, 0, 0, NewCPUSet(0))
	curr.SetPolling(true)

	before := testCounterValue(t, sched.metrics.ipiElided)
	sched.notifyResched(0, curr)
	after := testCounterValue(t, sched.metrics.ipiElided)

	assert.Equal(t, before+1, after)
	assert.True(t, curr.NeedResched())
}

func TestTryToWakeUpPreemptsLowerPriorityRunning(t *testing.T) {
	sched := newTestScheduler(t, 1)
	running := NewTask("normal", PolicyNormal, 0, 0, NewCPUSet(0))
	require.NoError(t, sched.Fork(running))
	require.Same(t, running, sched.RQ(0).curr)

	rt := NewTask("rt", PolicyFIFO, 0, 50, NewCPUSet(0))
	rt.homeCPU = 0
	rt.state = TaskInterruptible

	woken, err := sched.TryToWakeUp(rt, WakeInterruptible)
	require.NoError(t, err)
	assert.True(t, woken)
	assert.Same(t, rt, sched.RQ(0).curr, "higher-priority wakeup preempts the running NORMAL task")
}
