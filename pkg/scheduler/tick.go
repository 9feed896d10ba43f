package scheduler

// Tick is the periodic timer-interrupt handler for cpu. It refreshes the
// RunQueue clock, charges the elapsed wall time against the running
// task's timeslice, and marks the task for reschedule once the remaining
// slice drops below the resched threshold. Refill and requeue happen at
// the next dispatch (checkCurrLocked), not here: the tick path cannot
// fail and must not reorder the queue from interrupt context.
func (s *Scheduler) Tick(cpu int) {
	rq := s.rqs[cpu]
	rq.lock()
	rq.updateClock()
	elapsed := rq.clockTask.Sub(rq.lastTick)
	rq.lastTick = rq.clockTask

	curr := rq.curr
	if curr != nil && curr != rq.idle {
		curr.timeSlice -= elapsed
		if curr.timeSlice < s.cfg.Scheduler.ReschedThreshold {
			curr.SetNeedResched()
		}
	}
	// An idle CPU with queued work reschedules too, so tasks placed by
	// the balancer (which enqueues without notifying) are picked up no
	// later than the next tick.
	resched := (curr != nil && curr.NeedResched()) ||
		(curr == rq.idle && rq.queue.first() != nil)
	rq.unlock()

	if resched {
		s.Schedule(cpu)
	}
}
