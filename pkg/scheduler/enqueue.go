package scheduler

import (
	"github.com/fideoman/bmqsched/pkg/errors"
)

// Enqueue links t into cpu's RunQueue at the level its current effective
// priority resolves to, updates the running-count and pending/watermark
// summaries, and marks t queued. Holding t.PILock is not required;
// Enqueue itself acquires the target RunQueue's lock, and a caller
// already holding PILock (lock order: PILock -> rq.lock) may call this
// safely too.
func (s *Scheduler) Enqueue(cpu int, t *Task) error {
	if cpu < 0 || cpu >= s.NumCPUs() {
		return errors.Validation("enqueue", "cpu out of range")
	}
	rq := s.rqs[cpu]
	rq.lock()
	defer rq.unlock()
	return rq.enqueueLocked(t)
}

// enqueueLocked performs the actual linkage; rq.lock must already be
// held. Used directly by wakeup/migration/dispatch paths that already
// hold the lock, to avoid re-entrant locking.
func (rq *RunQueue) enqueueLocked(t *Task) error {
	if t.OnRQ() == OnRQQueued && t.rq == rq {
		return errors.Invariant("enqueue", "task already queued on this runqueue")
	}
	level := t.bmqLevel()
	if t.policy.isRT() {
		rq.queue.addPriorityOrdered(t)
	} else {
		rq.queue.addTail(level, t)
	}
	t.rq = rq
	t.setOnRQ(OnRQQueued)

	before := rq.nrRunning
	rq.nrRunning++
	rq.refreshPendingLocked(before, rq.nrRunning)
	rq.publishWatermark()
	return nil
}

// Dequeue unlinks t from its current RunQueue and republishes the
// watermark/pending summaries. t must be OnRQQueued on the RunQueue
// identified by cpu.
func (s *Scheduler) Dequeue(cpu int, t *Task) error {
	if cpu < 0 || cpu >= s.NumCPUs() {
		return errors.Validation("dequeue", "cpu out of range")
	}
	rq := s.rqs[cpu]
	rq.lock()
	defer rq.unlock()
	return rq.dequeueLocked(t)
}

func (rq *RunQueue) dequeueLocked(t *Task) error {
	if t.OnRQ() != OnRQQueued || t.rq != rq {
		return errors.Invariant("dequeue", "task is not queued on this runqueue")
	}
	if rq.curr == t {
		// Dequeueing the running task (block, exit, stopper retirement)
		// ends its execution here; the release-store on onCPU is what a
		// concurrent wakeup spin-waits on.
		rq.curr = nil
		t.setOnCPU(false)
	}
	if rq.skip == t {
		rq.skip = nil
	}
	rq.queue.remove(t)
	t.setOnRQ(OnRQBlocked)
	t.rq = nil

	before := rq.nrRunning
	rq.nrRunning--
	rq.refreshPendingLocked(before, rq.nrRunning)
	rq.publishWatermark()
	return nil
}

// requeueLocked moves t to the tail of its current queue level without
// changing priority (Yield mode 1). rq.lock must
// be held by the caller.
func (rq *RunQueue) requeueLocked(t *Task) {
	rq.queue.moveToTail(t)
}

// bmqLevel resolves the queue level t currently addresses, from its
// effective Prio and BoostPrio. PILock must be held by the caller, or
// the caller must otherwise own exclusive access to t (e.g. during
// construction or while t is parked off every RunQueue).
func (t *Task) bmqLevel() int {
	return schedPrio(t.prio, t.boostPrio)
}

// boostLimit is the most-interactive boostPrio a policy may reach: only
// NORMAL climbs the full adjustment range; BATCH and IDLE saturate at 0
// so background work never accumulates interactivity credit.
func boostLimit(p Policy) int {
	if p == PolicyNormal {
		return -MaxPriorityAdj
	}
	return 0
}

// boost nudges t toward the more-interactive end of its band after a
// voluntary sleep, saturating at the per-policy limit. Real-time tasks
// are unaffected. Caller must hold the owning RunQueue's lock (or
// PILock while t is off every RunQueue).
func (t *Task) boost() {
	if t.policy.isRT() {
		return
	}
	t.boostPrio = clampInt(t.boostPrio-1, boostLimit(t.policy), MaxPriorityAdj)
}

// deboost nudges t toward the less-interactive end after it exhausts a
// full timeslice without sleeping, the CPU-bound counterpart to boost.
func (t *Task) deboost() {
	if t.policy.isRT() {
		return
	}
	t.boostPrio = clampInt(t.boostPrio+1, boostLimit(t.policy), MaxPriorityAdj)
}

// reLevelLocked recomputes t's bmqIdx from its current Prio/BoostPrio and
// relinks it at the new level if it changed, preserving FIFO order within
// the new level by appending at the tail. A boost/deboost that changes
// bmqIdx only takes effect here, not in place.
func (rq *RunQueue) reLevelLocked(t *Task) {
	newLevel := t.bmqLevel()
	if newLevel == t.bmqIdx {
		return
	}
	rq.queue.remove(t)
	if t.policy.isRT() {
		rq.queue.addPriorityOrdered(t)
	} else {
		rq.queue.addTail(newLevel, t)
	}
}
