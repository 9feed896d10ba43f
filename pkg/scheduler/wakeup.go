package scheduler

import (
	"runtime"

	"github.com/fideoman/bmqsched/pkg/errors"
)

// WakeMask selects which TaskState values TryToWakeUp will transition
// out of.
type WakeMask uint32

const (
	WakeInterruptible WakeMask = 1 << iota
	WakeUninterruptible
)

func (m WakeMask) allows(s TaskState) bool {
	switch s {
	case TaskInterruptible:
		return m&WakeInterruptible != 0
	case TaskUninterruptible:
		return m&WakeUninterruptible != 0
	default:
		return false
	}
}

// TryToWakeUp transitions t from blocked to runnable, selects its target
// CPU via the watermark map, and
// enqueue it there, preempting the target's current task if warranted.
// It returns (woken, error): woken is false (not an error) if t's state
// was excluded by mask. A task still linked into a runqueue only has its
// state flipped to RUNNING, and that also reports woken as true.
func (s *Scheduler) TryToWakeUp(t *Task, mask WakeMask) (bool, error) {
	t.PILock.Lock()

	if !mask.allows(t.state) {
		t.PILock.Unlock()
		return false, nil
	}

	// Step 3: already linked into some RunQueue (e.g. a racing wakeup
	// already completed placement) — just flip state under the target
	// RQ's lock and we're done; no re-placement, no double enqueue.
	if t.OnRQ() == OnRQQueued {
		rq := t.rq
		t.PILock.Unlock()
		if rq == nil {
			return false, errors.Invariant("try_to_wake_up", "task marked queued with nil runqueue")
		}
		rq.lock()
		t.PILock.Lock()
		t.state = TaskRunning
		t.PILock.Unlock()
		rq.unlock()
		return true, nil
	}

	// Step 4: spin-wait for the previous runner's release (acquire-load).
	for t.OnCPU() {
		runtime.Gosched()
	}

	wasUninterruptible := t.state == TaskUninterruptible
	t.state = TaskRunning
	allowed := t.cpusMask
	home := t.homeCPU
	wantLevel := schedPrio(t.prio, t.boostPrio)
	t.PILock.Unlock()

	target := s.selectCPU(allowed, home, wantLevel)

	rq := s.rqs[target]
	rq.lock()
	rq.updateClock()
	t.homeCPU = target
	if err := rq.enqueueLocked(t); err != nil {
		rq.unlock()
		return false, err
	}
	// The sleep charges are released on the waking RunQueue, which may
	// differ from the one that blocked; per-RQ counts can go negative,
	// only the cross-CPU sum is meaningful.
	if wasUninterruptible {
		rq.nrUninterruptible--
	}
	if t.inIOWait {
		rq.nrIOWait--
		t.inIOWait = false
	}
	curr := rq.curr
	shouldPreempt := curr == nil || curr == rq.idle || t.bmqIdx < curr.bmqIdx
	rq.unlock()

	if shouldPreempt {
		s.notifyResched(target, curr)
	}
	return true, nil
}

// selectCPU searches the watermark map for the best CPU among allowed ∩
// online that beats t's own priority level,
// preferring t's previous CPU, falling back to topology-affinity rings,
// and finally to any allowed online CPU.
func (s *Scheduler) selectCPU(allowed CPUSet, prevCPU int, level int) int {
	preemptW := wmIndex(level)
	online := s.onlineMask()
	domain := allowed.And(online)

	idx, ok := s.watermark.firstSet()
	if ok && idx == smtIdleSlot {
		idx, ok = s.watermark.nextSet(smtIdleSlot)
	}
	if ok {
		for i := idx; i < preemptW; {
			cands := s.watermark.cpusAt(i).And(domain)
			if !cands.Empty() {
				if cands.Has(prevCPU) {
					return prevCPU
				}
				if c, ok := s.bestByTopology(cands, prevCPU); ok {
					return c
				}
			}
			next, ok := s.watermark.nextSet(i)
			if !ok || next >= preemptW {
				break
			}
			i = next
		}
	}

	if domain.Has(prevCPU) {
		return prevCPU
	}
	if c, ok := domain.Lowest(); ok {
		return c
	}
	// No allowed CPU is online: degrade to the previous CPU rather than
	// panic; the caller's enqueue will simply land on a possibly-offline
	// RQ, surfaced to callers via later invariant checks.
	return prevCPU
}

// bestByTopology expands prevCPU's affinity rings (SMT, package, all) and
// returns the first candidate CPU reached by expanding those
// topology-affinity rings.
func (s *Scheduler) bestByTopology(cands CPUSet, prevCPU int) (int, bool) {
	for _, ring := range s.topology.rings(prevCPU) {
		if hit := cands.And(ring); !hit.Empty() {
			if c, ok := hit.Lowest(); ok {
				return c, true
			}
		}
	}
	return cands.Lowest()
}

// onlineMask returns the set of CPUs currently online.
func (s *Scheduler) onlineMask() CPUSet {
	var m CPUSet
	for c, rq := range s.rqs {
		rq.lock()
		if rq.online {
			m = m.Add(c)
		}
		rq.unlock()
	}
	return m
}

// notifyResched implements IPI elision: if target's current task is
// polling for reschedule, just set the need-resched bit; otherwise
// count a simulated IPI and drive an immediate Schedule on the target
// CPU (standing in for the interrupt handler that would do so on real
// hardware).
func (s *Scheduler) notifyResched(cpu int, curr *Task) {
	if curr != nil && curr.IsPolling() {
		curr.SetNeedResched()
		s.metrics.ipiElided.Inc()
		return
	}
	if curr != nil {
		curr.SetNeedResched()
	}
	s.metrics.ipiSent.Inc()
	s.Schedule(cpu)
}
