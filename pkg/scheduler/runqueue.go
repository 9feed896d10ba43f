package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunQueue is the per-CPU container owning one priority-bitmap queue, the
// currently running task, and the CPU's clock/load accounting. Its lock
// nests inside a task's PILock when both are held: always acquire
// PILock first, then rq.lock.
type RunQueue struct {
	CPU int

	mu sync.Mutex // rq.lock

	queue     *priorityQueue
	curr      *Task
	idle      *Task
	stop      *Task // optional stopper task used to force migrations
	skip      *Task // one-shot yield-skip pointer (Yield mode 2)
	watermark int    // cached level of the first non-empty queue level

	// wmLevel mirrors watermark for lock-free sibling reads: SMT-slot
	// maintenance on one CPU must not take another CPU's rq.lock (two
	// sibling publications would deadlock each other).
	wmLevel atomic.Int32

	clock        time.Time
	clockTask    time.Time
	lastTsSwitch time.Time
	lastTick     time.Time

	nrRunning        int
	nrUninterruptible int
	nrIOWait         int
	nrSwitches       int64

	online        bool
	activeBalance bool

	// hrtick is the simulated high-resolution tick timer handle; nil
	// when not armed. armHRTickLocked arms it on dispatch as a one-shot
	// timer that calls Scheduler.Tick.
	hrtick *time.Timer

	sched *Scheduler // back-reference for watermarkMap, pending set, config, metrics
}

func newRunQueue(cpu int, sched *Scheduler) *RunQueue {
	now := time.Now()
	rq := &RunQueue{
		CPU:          cpu,
		queue:        newPriorityQueue(),
		watermark:    idleLevel,
		clock:        now,
		clockTask:    now,
		lastTsSwitch: now,
		lastTick:     now,
		sched:        sched,
	}
	rq.wmLevel.Store(int32(idleLevel))
	return rq
}

// lock/unlock are named to make lock-ordering comments legible at call
// sites rather than bare mu.Lock()/Unlock().
func (rq *RunQueue) lock()   { rq.mu.Lock() }
func (rq *RunQueue) unlock() { rq.mu.Unlock() }

// tryLock attempts to acquire rq.lock without blocking, used by the pull
// migration path so a busy remote RunQueue is skipped rather than
// waited on, preserving lock ordering.
func (rq *RunQueue) tryLock() bool { return rq.mu.TryLock() }

// updateClock refreshes rq.clock/rq.clockTask from the Scheduler's clock,
// IRQ-time, and steal-time hooks. Must be called with rq.lock held.
func (rq *RunQueue) updateClock() {
	now := rq.sched.clockSource(rq.CPU)
	rq.clock = now
	irq := rq.sched.irqTime(rq.CPU)
	steal := rq.sched.stealTime(rq.CPU)
	rq.clockTask = now.Add(-irq).Add(-steal)
}

// switchTime reports elapsed time since the last context switch on this
// RunQueue, used by the boost-on-sleep gate.
func (rq *RunQueue) switchTime() time.Duration {
	return rq.clock.Sub(rq.lastTsSwitch)
}

// publishWatermark recomputes this RQ's cached watermark level from the
// queue's bitmap and, if it changed, republishes the CPU into the shared
// watermarkMap. Must be called with rq.lock held.
func (rq *RunQueue) publishWatermark() {
	level, ok := rq.queue.bitmap.first()
	if !ok {
		level = idleLevel
	}
	if level == rq.watermark {
		rq.refreshSMTSlot()
		return
	}
	oldWM := wmIndex(rq.watermark)
	newWM := wmIndex(level)
	rq.sched.watermark.move(rq.CPU, oldWM, newWM)
	rq.watermark = level
	rq.wmLevel.Store(int32(level))
	rq.refreshSMTSlot()
}

// refreshSMTSlot maintains watermarkMap's reserved slot 0: CPUs that are
// themselves idle AND have every SMT sibling idle too. Must be called
// with rq.lock held.
func (rq *RunQueue) refreshSMTSlot() {
	sched := rq.sched
	selfIdle := rq.watermark == idleLevel
	allSiblingsIdle := selfIdle && sched.topology.siblingsIdle(rq.CPU, sched)
	if allSiblingsIdle {
		sched.watermark.setCPU(smtIdleSlot, rq.CPU)
	} else {
		sched.watermark.clearCPU(smtIdleSlot, rq.CPU)
	}
}

// isCurr reports whether t is currently scheduled on this RunQueue.
func (rq *RunQueue) isCurr(t *Task) bool {
	rq.lock()
	defer rq.unlock()
	return rq.curr == t
}

// nrRunningTotal reports the queued-task count, including curr if curr
// is queued and not idle (the idle task is never counted as running
// work).
func (rq *RunQueue) nrRunningTotal() int { return rq.nrRunning }

// refreshPendingLocked updates the Scheduler's pending CPU set: a CPU
// joins the pending set when its nr_running crosses 1->2 (a pull
// migration candidate) and leaves it on the symmetric 2->1 transition.
func (rq *RunQueue) refreshPendingLocked(before, after int) {
	if before < 2 && after >= 2 {
		rq.sched.pending.set(rq.CPU)
	} else if before >= 2 && after < 2 {
		rq.sched.pending.clear(rq.CPU)
	}
}
