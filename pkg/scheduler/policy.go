package scheduler

import (
	"time"

	"github.com/fideoman/bmqsched/pkg/errors"
)

// SetScheduler validates the requested policy/priority combination,
// applies it under the correct lock pair, and
// requeue plus check-preempt if the effective priority changed.
// Permission enforcement (unprivileged may only decrease RT priority) is
// modeled by the caller-supplied privileged flag.
func (s *Scheduler) SetScheduler(t *Task, policy Policy, rtPriority int, privileged bool) error {
	if policy == PolicyDeadline {
		// No deadline class exists; a deadline request runs at the top of
		// the FIFO band instead.
		policy, rtPriority = PolicyFIFO, 99
	}
	if policy < PolicyFIFO || policy > PolicyIdle {
		return errors.Validation("set_scheduler", "unknown or unsettable policy")
	}
	if policy.isRT() {
		if !validRTPriority(rtPriority) {
			return errors.Validation("set_scheduler", "rt priority must be in [1,99]")
		}
	} else if rtPriority != 0 {
		return errors.Validation("set_scheduler", "non-RT policy must carry rt priority 0")
	}

	t.PILock.Lock()
	if !privileged {
		wasRT := t.policy.isRT()
		if policy.isRT() && !wasRT {
			t.PILock.Unlock()
			return errors.Permission("set_scheduler", "unprivileged caller may not raise a task into a real-time policy")
		}
		if policy.isRT() && wasRT && rtPriority > t.rtPriority {
			t.PILock.Unlock()
			return errors.Permission("set_scheduler", "unprivileged caller may only decrease real-time priority")
		}
	}

	oldEffective := t.prio
	t.policy = policy
	t.rtPriority = rtPriority
	t.normalPrio = normalPrio(policy, t.staticPrio, rtPriority)
	t.prio = effectivePrio(t)
	t.PILock.Unlock()

	if t.prio != oldEffective {
		s.requeueForPriorityChange(t)
	}
	return nil
}

// SetParam changes only the real-time priority, keeping the task's
// current policy.
func (s *Scheduler) SetParam(t *Task, rtPriority int, privileged bool) error {
	return s.SetScheduler(t, t.Policy(), rtPriority, privileged)
}

// SetNice changes a task's nice value. Nice only affects NORMAL/BATCH/
// IDLE tasks; real-time tasks store it but it has no effect on
// normalPrio until the policy changes away from real-time.
func (s *Scheduler) SetNice(t *Task, nice int) error {
	if nice < -20 || nice > 19 {
		return errors.Validation("set_user_nice", "nice must be in [-20,19]")
	}

	t.PILock.Lock()
	oldEffective := t.prio
	t.staticPrio = staticPrioFromNice(nice)
	if !t.policy.isRT() {
		t.normalPrio = normalPrio(t.policy, t.staticPrio, t.rtPriority)
		t.prio = effectivePrio(t)
	}
	t.PILock.Unlock()

	if t.prio != oldEffective {
		s.requeueForPriorityChange(t)
	}
	return nil
}

// RTMutexSetPrio is the priority-inheritance entry point. The task's
// effective prio becomes min(normalPrio, donor.Prio()) if donor is
// non-nil, else normalPrio. Idempotent if unchanged; never mutates
// normalPrio; records the PI donor for introspection.
func (s *Scheduler) RTMutexSetPrio(t *Task, donor *Task) error {
	t.PILock.Lock()
	newPrio := t.normalPrio
	if donor != nil {
		donorPrio := donor.Prio()
		if donorPrio < newPrio {
			newPrio = donorPrio
		}
	}
	if newPrio == t.prio {
		t.piTopTask = donor
		t.PILock.Unlock()
		return nil
	}
	t.prio = newPrio
	t.piTopTask = donor
	t.PILock.Unlock()

	s.requeueForPriorityChange(t)
	return nil
}

// SetCPUsAllowed updates t's affinity mask. If t is queued on a CPU now
// outside mask, it is moved off immediately: a merely-queued task via a
// direct lock-ordered move, a currently running one by scheduling the
// CPU's stopper to perform the migration under its exclusivity.
func (s *Scheduler) SetCPUsAllowed(t *Task, mask CPUSet) error {
	if mask.Empty() {
		return errors.Validation("set_cpus_allowed", "mask must not be empty")
	}

	t.PILock.Lock()
	t.cpusMask = mask
	t.nrCPUsAllowed = popcount(mask)
	onRQ := t.OnRQ() == OnRQQueued
	cur := t.rq
	home := t.homeCPU
	t.PILock.Unlock()

	if !onRQ || cur == nil || mask.Has(home) {
		return nil
	}

	target, ok := mask.Lowest()
	if !ok {
		return errors.Invariant("set_cpus_allowed", "non-empty mask produced no lowest CPU")
	}
	if t.OnCPU() || cur.isCurr(t) {
		return s.stopOneCPU(cur.CPU, func() error {
			return s.forceMigrate(t, cur, s.rqs[target])
		})
	}
	return s.forceMigrate(t, cur, s.rqs[target])
}

// forceMigrate moves t from src to dst regardless of src's pending
// bookkeeping niceties, used by SetCPUsAllowed's forced-affinity path
// and by DrainCPU. It moves the task directly under both locks; when t
// is running, those callers first put src's stopper on the CPU via
// stopOneCPU and call forceMigrate from inside it.
func (s *Scheduler) forceMigrate(t *Task, src, dst *RunQueue) error {
	first, second := src, dst
	// Consistent lock ordering by CPU index avoids ABBA deadlock when two
	// forced migrations cross each other.
	if dst.CPU < src.CPU {
		first, second = dst, src
	}
	first.lock()
	defer first.unlock()
	second.lock()
	defer second.unlock()

	if t.OnRQ() != OnRQQueued || t.rq != src {
		return errors.Invariant("force_migrate", "task moved out from under forced migration")
	}
	s.migrateLocked(t, src, dst)
	return nil
}

// requeueForPriorityChange re-levels t within its current RunQueue after
// a priority-affecting update and checks whether it should now preempt
// whatever that RunQueue is running.
func (s *Scheduler) requeueForPriorityChange(t *Task) {
	t.PILock.Lock()
	onRQ := t.OnRQ() == OnRQQueued
	rq := t.rq
	t.PILock.Unlock()
	if !onRQ || rq == nil {
		return
	}

	rq.lock()
	rq.reLevelLocked(t)
	rq.publishWatermark()
	cpu := rq.CPU
	rq.unlock()

	s.Preempt(cpu, "priority_change")
}

// GetPriorityMax returns the largest priority value settable for
// policy: 99 for the real-time policies, 0 otherwise.
func GetPriorityMax(policy Policy) int {
	if policy.isRT() {
		return 99
	}
	return 0
}

// GetPriorityMin returns the smallest priority value settable for
// policy: 1 for the real-time policies, 0 otherwise.
func GetPriorityMin(policy Policy) int {
	if policy.isRT() {
		return 1
	}
	return 0
}

// RRGetInterval reports the round-robin time quantum, a scheduler-wide
// constant rather than a per-task one.
func (s *Scheduler) RRGetInterval() time.Duration {
	return s.cfg.Scheduler.Timeslice
}

// GetAffinity returns t's allowed CPU mask narrowed to the CPUs this
// Scheduler currently considers active.
func (s *Scheduler) GetAffinity(t *Task) CPUSet {
	return t.CPUsAllowed().And(s.onlineMask())
}

// Nice applies the syscall-level `nice` contract: delta is clamped into
// [-40,40] before being folded onto the task's current nice value, and
// the result is clamped into the settable [-20,19] range; unprivileged
// callers may not raise (decrease) their own nice value below the
// current one.
func (s *Scheduler) Nice(t *Task, delta int, privileged bool) error {
	delta = clampInt(delta, -40, 40)
	current := t.Nice()
	target := clampInt(current+delta, -20, 19)
	if !privileged && target < current {
		return errors.Permission("nice", "unprivileged caller cannot raise scheduling priority via nice")
	}
	return s.SetNice(t, target)
}

// SchedAttr is the extended policy document set_attr/get_attr exchange:
// policy plus whichever of nice/priority applies to it, and the
// reset-on-fork flag.
type SchedAttr struct {
	Policy      Policy
	Nice        int
	Priority    int
	ResetOnFork bool
}

// SetAttr applies a full SchedAttr in one call: policy and priority go
// through SetScheduler (including the DEADLINE squash), nice through
// SetNice for the non-RT policies, and the reset-on-fork flag last.
func (s *Scheduler) SetAttr(t *Task, attr SchedAttr, privileged bool) error {
	if err := s.SetScheduler(t, attr.Policy, attr.Priority, privileged); err != nil {
		return err
	}
	if !t.Policy().isRT() {
		if err := s.SetNice(t, attr.Nice); err != nil {
			return err
		}
	}
	s.SetResetOnFork(t, attr.ResetOnFork)
	return nil
}

// GetAttr returns the task's current extended attributes.
func (s *Scheduler) GetAttr(t *Task) SchedAttr {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return SchedAttr{
		Policy:      t.policy,
		Nice:        niceFromStaticPrio(t.staticPrio),
		Priority:    t.rtPriority,
		ResetOnFork: t.resetOnFork,
	}
}

// GetScheduler reports the task's current policy (the get_scheduler
// contract; get_param is GetParam).
func (s *Scheduler) GetScheduler(t *Task) Policy { return t.Policy() }

// GetParam reports the task's real-time priority; 0 for the non-RT
// policies.
func (s *Scheduler) GetParam(t *Task) int {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	if !t.policy.isRT() {
		return 0
	}
	return t.rtPriority
}

// effectivePrio recomputes t.prio from normalPrio and any live PI donor,
// preserving a PI boost across a policy/nice change (PILock must be
// held).
func effectivePrio(t *Task) int {
	if t.piTopTask != nil {
		if donor := t.piTopTask.Prio(); donor < t.normalPrio {
			return donor
		}
	}
	return t.normalPrio
}
