package scheduler

// Yield is the configurable voluntary-yield syscall. YieldType comes
// from the scheduler's config (0 no-op, 1 deboost-to-floor-and-requeue,
// 2 one-shot rq.skip); 0 makes the call a pure no-op so the caller
// continues running until preempted normally.
func (s *Scheduler) Yield(cpu int, t *Task) {
	rq := s.rqs[cpu]
	rq.lock()
	defer rq.unlock()

	switch s.cfg.Scheduler.YieldType {
	case 0:
		return
	case 1:
		if t.policy.isRT() || t.policy == PolicyIdle {
			return
		}
		t.PILock.Lock()
		if t.piTopTask != nil {
			// A task currently running on a priority donated by a PI
			// donor (piTopTask set) is never self-deboosted by mode-1
			// yield; the donated priority survives until the donor
			// releases it.
			t.PILock.Unlock()
			return
		}
		t.boostPrio = MaxPriorityAdj
		t.PILock.Unlock()
		rq.reLevelLocked(t)
		rq.requeueLocked(t)
		rq.publishWatermark()
	case 2:
		rq.skip = t
	}
}
