package scheduler

import (
	"strconv"
	"time"
)

// pickNextLocked returns the head of the lowest non-empty queue level,
// honoring a one-shot rq.skip set by Yield mode 2, falling back to the
// idle task when the queue is empty. rq.lock must be held.
func (rq *RunQueue) pickNextLocked() *Task {
	next := rq.queue.first()
	if next != nil && next == rq.skip {
		next = rq.queue.nextAfter(next)
	}
	rq.skip = nil
	if next == nil {
		return rq.idle
	}
	return next
}

// checkCurrLocked settles the running task's timeslice before the next
// pick: once the remaining slice has dropped below the resched
// threshold it is refilled, and for the rotating policies the task moves
// to the tail of its (possibly deboosted) level. A FIFO task keeps its
// queue position on refill, so slice expiry alone never costs it the
// CPU. rq.lock must be held.
func (rq *RunQueue) checkCurrLocked(curr *Task) {
	if curr == nil || curr == rq.idle || curr.OnRQ() != OnRQQueued {
		return
	}
	if curr.timeSlice >= rq.sched.cfg.Scheduler.ReschedThreshold {
		return
	}
	curr.timeSlice = rq.sched.cfg.Scheduler.Timeslice
	if curr.policy == PolicyFIFO || curr.policy == PolicyStop {
		return
	}
	curr.PILock.Lock()
	curr.deboost()
	curr.PILock.Unlock()
	rq.rotateLocked(curr)
	rq.publishWatermark()
}

// rotateLocked relinks curr at the level its (possibly changed) boost now
// addresses, appending behind everything already there: RR rotation
// within the priority-ordered RT level, deboost-and-requeue for
// NORMAL/BATCH. rq.lock must be held.
func (rq *RunQueue) rotateLocked(t *Task) {
	rq.queue.remove(t)
	if t.policy.isRT() {
		rq.queue.addPriorityOrdered(t)
	} else {
		rq.queue.addTail(t.bmqLevel(), t)
	}
}

// PreemptDisable raises cpu's preempt count; Schedule refuses to switch
// while it is non-zero. PreemptEnable lowers it and, when the count
// drains to zero with a reschedule pending, immediately dispatches.
func (s *Scheduler) PreemptDisable(cpu int) {
	s.preemptDepth[cpu].Add(1)
}

func (s *Scheduler) PreemptEnable(cpu int) {
	if s.preemptDepth[cpu].Add(-1) > 0 {
		return
	}
	rq := s.rqs[cpu]
	rq.lock()
	resched := rq.curr != nil && rq.curr.NeedResched()
	rq.unlock()
	if resched {
		s.Schedule(cpu)
	}
}

// Schedule picks the next task to run on cpu and, if it differs from the
// currently running one, performs a context switch through the
// registered ContextSwitcher. Safe to call whenever a reschedule might
// be warranted (tick expiry, wakeup, dequeue, priority change) — it is a
// no-op if the current task is still the best choice, or if preemption
// is currently disabled on cpu.
func (s *Scheduler) Schedule(cpu int) {
	if s.preemptDepth[cpu].Load() > 0 {
		return
	}
	began := time.Now()

	rq := s.rqs[cpu]
	rq.lock()
	rq.updateClock()

	prev := rq.curr
	if prev != nil {
		prev.ClearNeedResched()
	}
	rq.checkCurrLocked(prev)

	next := rq.pickNextLocked()
	if next == rq.idle && rq.online {
		// Local work has run dry; walk the pending set for a pull before
		// settling on idle. Balance takes its own locks, so release ours
		// around it (try-lock-second discipline stays with Balance).
		rq.unlock()
		s.Balance(cpu)
		rq.lock()
		rq.updateClock()
		next = rq.pickNextLocked()
	}
	if next == prev {
		rq.armHRTickLocked(next)
		rq.unlock()
		return
	}

	if prev != nil {
		// Whether prev blocked (already dequeued by the caller) or is
		// merely preempted (still linked in its level), it is no longer
		// the executing task either way.
		prev.setOnCPU(false)
	}

	rq.curr = next
	next.setOnCPU(true)
	next.lastRan = rq.clock
	if next.timeSlice <= 0 {
		next.timeSlice = s.cfg.Scheduler.Timeslice
	}
	rq.lastTsSwitch = rq.clock
	rq.nrSwitches++
	rq.armHRTickLocked(next)

	wm := rq.watermark
	nr := rq.nrRunning
	rq.unlock()

	s.switcher.StartContextSwitch(cpu, prev, next)
	s.switcher.Switch(cpu, prev, next)
	s.switcher.EndContextSwitch(cpu, prev, next)

	cpuLabel := strconv.Itoa(cpu)
	s.metrics.dispatchTotal.WithLabelValues(cpuLabel).Inc()
	s.metrics.watermarkLevel.WithLabelValues(cpuLabel).Set(float64(wm))
	s.metrics.nrRunning.WithLabelValues(cpuLabel).Set(float64(nr))
	s.metrics.dispatchLatency.Observe(time.Since(began).Seconds())

	s.BalanceSMT(cpu)
}

// armHRTickLocked (re)arms the high-resolution slice timer so a task's
// expiry is noticed between regular ticks; going idle cancels it.
// rq.lock must be held.
func (rq *RunQueue) armHRTickLocked(next *Task) {
	if rq.hrtick != nil {
		rq.hrtick.Stop()
		rq.hrtick = nil
	}
	if next == nil || next == rq.idle {
		return
	}
	remaining := next.timeSlice
	if remaining <= 0 {
		remaining = rq.sched.cfg.Scheduler.Timeslice
	}
	cpu := rq.CPU
	sched := rq.sched
	rq.hrtick = time.AfterFunc(remaining, func() { sched.Tick(cpu) })
}

// Preempt marks cpu's current task for reschedule if the queue head is
// strictly more eligible than whatever cpu is currently running, then
// drives the actual dispatch decision through Schedule.
func (s *Scheduler) Preempt(cpu int, reason string) {
	rq := s.rqs[cpu]
	rq.lock()
	curr := rq.curr
	next := rq.queue.first()
	shouldPreempt := curr == nil || curr == rq.idle || (next != nil && next.bmqIdx < curr.bmqIdx)
	if shouldPreempt && curr != nil {
		curr.SetNeedResched()
	}
	rq.unlock()
	if !shouldPreempt {
		return
	}
	s.metrics.preemptions.Inc()
	s.log.Debug().Int("cpu", cpu).Str("reason", reason).Msg("preempting current task")
	s.Schedule(cpu)
}
