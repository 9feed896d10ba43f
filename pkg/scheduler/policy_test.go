package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSchedulerValidatesRTPriorityRange(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Error(t, sched.SetScheduler(task, PolicyFIFO, 0, true))
	assert.Error(t, sched.SetScheduler(task, PolicyFIFO, 100, true))
	require.NoError(t, sched.SetScheduler(task, PolicyFIFO, 50, true))
	assert.Equal(t, PolicyFIFO, task.Policy())
}

func TestSetSchedulerUnprivilegedCannotRaiseToRT(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	err := sched.SetScheduler(task, PolicyFIFO, 50, false)
	assert.Error(t, err)
	assert.Equal(t, PolicyNormal, task.Policy())
}

func TestSetSchedulerUnprivilegedMayOnlyDecreaseRTPriority(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyFIFO, 0, 50, NewCPUSet(0))
	assert.Error(t, sched.SetScheduler(task, PolicyFIFO, 60, false))
	require.NoError(t, sched.SetScheduler(task, PolicyFIFO, 30, false))
}

func TestSetNiceRecomputesPrioAndRequeues(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	require.NoError(t, sched.Enqueue(0, task))

	oldLevel := task.bmqIdx
	require.NoError(t, sched.SetNice(task, -20))
	assert.NotEqual(t, oldLevel, task.bmqIdx)
}

func TestSetNiceRejectsOutOfRange(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Error(t, sched.SetNice(task, 20))
	assert.Error(t, sched.SetNice(task, -21))
}

func TestRTMutexSetPrioAppliesDonorBoostAndIsIdempotent(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("low", PolicyFIFO, 0, 10, NewCPUSet(0))
	donor := NewTask("donor", PolicyFIFO, 0, 80, NewCPUSet(0))

	require.NoError(t, sched.RTMutexSetPrio(task, donor))
	assert.Equal(t, donor.Prio(), task.Prio())
	assert.Equal(t, donor, task.piTopTask)

	normalBefore := task.normalPrio
	require.NoError(t, sched.RTMutexSetPrio(task, donor))
	assert.Equal(t, normalBefore, task.normalPrio, "PI never mutates normal_prio")
}

func TestRTMutexSetPrioNilDonorRestoresNormalPrio(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("low", PolicyFIFO, 0, 10, NewCPUSet(0))
	donor := NewTask("donor", PolicyFIFO, 0, 80, NewCPUSet(0))
	require.NoError(t, sched.RTMutexSetPrio(task, donor))

	require.NoError(t, sched.RTMutexSetPrio(task, nil))
	assert.Equal(t, task.normalPrio, task.Prio())
}

func TestSetCPUsAllowedMigratesQueuedTask(t *testing.T) {
	sched := newTestScheduler(t, 2)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	task.homeCPU = 0
	require.NoError(t, sched.Enqueue(0, task))

	require.NoError(t, sched.SetCPUsAllowed(task, NewCPUSet(1)))
	assert.Same(t, sched.RQ(1), task.rq)
	assert.Equal(t, 0, sched.RQ(0).nrRunningTotal())
	assert.Equal(t, 1, sched.RQ(1).nrRunningTotal())
}

func TestSetCPUsAllowedRejectsEmptyMask(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Error(t, sched.SetCPUsAllowed(task, CPUSet(0)))
}

func TestGetPriorityMaxMin(t *testing.T) {
	assert.Equal(t, 99, GetPriorityMax(PolicyFIFO))
	assert.Equal(t, 1, GetPriorityMin(PolicyRR))
	assert.Equal(t, 0, GetPriorityMax(PolicyNormal))
	assert.Equal(t, 0, GetPriorityMin(PolicyIdle))
}

func TestRRGetIntervalReturnsConfiguredTimeslice(t *testing.T) {
	sched := newTestScheduler(t, 1)
	assert.Equal(t, sched.cfg.Scheduler.Timeslice, sched.RRGetInterval())
}

func TestGetAffinityIntersectsActiveCPUs(t *testing.T) {
	sched := newTestScheduler(t, 3)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0, 1, 2))
	sched.DeactivateCPU(2)

	got := sched.GetAffinity(task)
	assert.True(t, got.Has(0))
	assert.True(t, got.Has(1))
	assert.False(t, got.Has(2))
}

func TestNiceClampsDeltaAndTarget(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 10, 0, NewCPUSet(0))

	require.NoError(t, sched.Nice(task, -100, true))
	assert.Equal(t, -20, task.Nice())
}

func TestNiceUnprivilegedCannotRaisePriority(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Error(t, sched.Nice(task, -5, false))
}

func TestSetAttrGetAttrRoundTrip(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))

	want := SchedAttr{Policy: PolicyBatch, Nice: 5, Priority: 0, ResetOnFork: true}
	require.NoError(t, sched.SetAttr(task, want, true))
	assert.Equal(t, want, sched.GetAttr(task))
}

func TestSetAttrSquashesDeadlineToFIFO99(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))

	require.NoError(t, sched.SetAttr(task, SchedAttr{Policy: PolicyDeadline}, true))
	assert.Equal(t, PolicyFIFO, sched.GetScheduler(task))
	assert.Equal(t, 99, sched.GetParam(task))
}

func TestSetSchedulerRejectsStopAndUnknownPolicies(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Error(t, sched.SetScheduler(task, PolicyStop, 50, true))
	assert.Error(t, sched.SetScheduler(task, Policy(42), 0, true))
}

func TestGetParamIsZeroForNonRT(t *testing.T) {
	sched := newTestScheduler(t, 1)
	task := NewTask("t", PolicyNormal, 0, 0, NewCPUSet(0))
	assert.Equal(t, 0, sched.GetParam(task))
	assert.Equal(t, PolicyNormal, sched.GetScheduler(task))
}
