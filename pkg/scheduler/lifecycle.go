package scheduler

import (
	"runtime"
	"time"

	"github.com/fideoman/bmqsched/pkg/errors"
)

// CPUState is a CPU's position in the hotplug lifecycle.
type CPUState int

const (
	CPUPossible CPUState = iota
	CPUStarting
	CPUActive
	CPUInactive
	CPUDying
	CPUDead
)

// Fork places a freshly constructed task onto a RunQueue for the first
// time. Placement reuses the same
// watermark search wakeup uses, since a new task has no "previous CPU"
// preference beyond its constructor-assigned home. A task arriving with
// a slice already set (SchedFork's donated half) keeps it; one with no
// slice gets a full timeslice.
func (s *Scheduler) Fork(t *Task) error {
	t.PILock.Lock()
	if t.OnRQ() != OnRQBlocked {
		t.PILock.Unlock()
		return errors.Invariant("fork", "task already placed on a runqueue")
	}
	t.state = TaskRunning
	if t.timeSlice <= 0 {
		t.timeSlice = s.cfg.Scheduler.Timeslice
	}
	home := t.homeCPU
	allowed := t.cpusMask
	level := t.bmqLevel()
	t.PILock.Unlock()

	target := s.selectCPU(allowed, home, level)
	rq := s.rqs[target]
	rq.lock()
	rq.updateClock()
	t.homeCPU = target
	err := rq.enqueueLocked(t)
	curr := rq.curr
	shouldPreempt := err == nil && (curr == nil || curr == rq.idle || t.bmqIdx < curr.bmqIdx)
	rq.unlock()
	if err != nil {
		return err
	}
	if shouldPreempt {
		s.notifyResched(target, curr)
	}
	return nil
}

// SchedFork initializes child from parent before its first placement:
// the parent donates half its remaining time-slice (the slice is split,
// never granted fresh, so fork bombs cannot mint CPU time), and the
// child's boost is reset to its policy default when the parent has
// ResetOnFork set, otherwise inherited from the parent. Fork then places
// the child on a RunQueue.
func (s *Scheduler) SchedFork(parent, child *Task) error {
	parent.PILock.Lock()
	half := parent.timeSlice / 2
	parent.timeSlice = half
	resetOnFork := parent.resetOnFork
	parentBoost := parent.boostPrio
	parent.PILock.Unlock()

	child.PILock.Lock()
	child.timeSlice = half
	if resetOnFork {
		child.boostPrio = initialBoost(child.policy)
	} else {
		child.boostPrio = parentBoost
	}
	child.resetOnFork = resetOnFork
	child.PILock.Unlock()

	return s.Fork(child)
}

// SetResetOnFork sets the RESET_ON_FORK policy flag: when set, a task's
// children get their boost reset to the policy default at SchedFork
// instead of inheriting the parent's current boost.
func (s *Scheduler) SetResetOnFork(t *Task, v bool) {
	t.PILock.Lock()
	t.resetOnFork = v
	t.PILock.Unlock()
}

// WaitTaskInactive blocks the caller until t is observed neither running
// nor queued on an active RunQueue — used by callers (e.g. ptrace-like
// inspection, hotplug
// drains) that need a consistent snapshot of a task that may currently
// be runnable-but-not-running. It spins with a bounded hrtimer-style
// backoff rather than forever, surfacing a Transient error on timeout.
func (s *Scheduler) WaitTaskInactive(t *Task, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if t.OnRQ() == OnRQBlocked && !t.OnCPU() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Transient("wait_task_inactive", "task did not quiesce within timeout")
		}
		runtime.Gosched()
		time.Sleep(time.Microsecond)
	}
}

// InitIdle installs t as cpu's idle task, pinning it to that CPU and
// forcing the IDLE policy. The previous idle task (the one NewScheduler
// created) is discarded; callers use this to attach an idle task that
// carries external per-CPU context.
func (s *Scheduler) InitIdle(t *Task, cpu int) {
	rq := s.rqs[cpu]

	t.PILock.Lock()
	t.policy = PolicyIdle
	t.normalPrio = normalPrio(PolicyIdle, t.staticPrio, 0)
	t.prio = t.normalPrio
	t.cpusMask = NewCPUSet(cpu)
	t.nrCPUsAllowed = 1
	t.homeCPU = cpu
	t.state = TaskRunning
	t.PILock.Unlock()

	rq.lock()
	t.rq = rq
	t.bmqIdx = idleLevel
	t.setOnRQ(OnRQQueued)
	wasIdle := rq.curr == rq.idle
	rq.idle = t
	if wasIdle {
		rq.curr = t
	}
	rq.unlock()
}

// ActivateCPU transitions cpu from STARTING to ACTIVE, making it
// eligible for placement.
func (s *Scheduler) ActivateCPU(cpu int) {
	rq := s.rqs[cpu]
	rq.lock()
	rq.online = true
	rq.unlock()
	s.watermark.setCPU(wmIndex(idleLevel), cpu)
}

// DeactivateCPU transitions cpu to INACTIVE: no new tasks may be placed
// on it, but already-queued tasks keep running until drained by
// DrainCPU.
func (s *Scheduler) DeactivateCPU(cpu int) {
	rq := s.rqs[cpu]
	rq.lock()
	rq.online = false
	rq.unlock()
}

// DrainCPU implements the DYING-state drain: migrate every task still
// queued on cpu to a fallback CPU chosen by SelectFallbackRQ, leaving
// the queue with only the idle task. Queued-but-not-running tasks move
// directly under both locks; the currently running task (if any) is
// evicted last through the stopper, the same exclusive-control path a
// forced affinity change uses.
func (s *Scheduler) DrainCPU(cpu int) error {
	s.DeactivateCPU(cpu)
	rq := s.rqs[cpu]

	for {
		rq.lock()
		t := rq.queue.first()
		for t != nil && t == rq.curr {
			t = rq.queue.nextAfter(t)
		}
		rq.unlock()
		if t == nil {
			break
		}
		target := s.SelectFallbackRQ(cpu, t)
		if target == cpu {
			return errors.Invariant("drain_cpu", "fallback selector returned the dying CPU itself")
		}
		if err := s.forceMigrate(t, rq, s.rqs[target]); err != nil {
			return err
		}
	}

	rq.lock()
	curr := rq.curr
	rq.unlock()
	if curr == nil || curr == rq.idle || curr == rq.stop {
		return nil
	}
	target := s.SelectFallbackRQ(cpu, curr)
	if target == cpu {
		return errors.Invariant("drain_cpu", "fallback selector returned the dying CPU itself")
	}
	return s.stopOneCPU(cpu, func() error {
		return s.forceMigrate(curr, rq, s.rqs[target])
	})
}

// SelectFallbackRQ chooses a home for a task stranded by a dying CPU:
// prefer any allowed+online CPU, then force the affinity open to every
// online CPU, then to every possible CPU as a last resort.
func (s *Scheduler) SelectFallbackRQ(deadCPU int, t *Task) int {
	allowed := t.CPUsAllowed()
	online := s.onlineMask()

	if c, ok := allowed.And(online).Remove(deadCPU).Lowest(); ok {
		return c
	}
	if c, ok := online.Remove(deadCPU).Lowest(); ok {
		t.PILock.Lock()
		t.cpusMask = online
		t.nrCPUsAllowed = popcount(online)
		t.PILock.Unlock()
		return c
	}
	all := s.topology.all.Remove(deadCPU)
	c, _ := all.Lowest()
	t.PILock.Lock()
	t.cpusMask = s.topology.all
	t.nrCPUsAllowed = popcount(s.topology.all)
	t.PILock.Unlock()
	return c
}
