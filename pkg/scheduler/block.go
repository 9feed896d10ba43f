package scheduler

import (
	"github.com/fideoman/bmqsched/pkg/errors"
)

// Block is the voluntary-schedule path for a task giving up the CPU: the
// caller (a task-context hook, never an interrupt) declares the state it
// is blocking into, the task is dequeued, and the CPU dispatches its
// next choice. A pending signal on an interruptible block re-arms the
// task to RUNNING instead, and the call reports false: the task never
// left the queue and no wakeup is owed.
//
// This is where boost-on-sleep lands: a task that blocks while the CPU
// has been switching rapidly is promoted one boost step, the
// interactivity half of the boost/deboost pair (deboost lives in
// checkCurrLocked).
func (s *Scheduler) Block(t *Task, state TaskState, ioWait bool) (bool, error) {
	if state != TaskInterruptible && state != TaskUninterruptible {
		return false, errors.Validation("block", "tasks may only block interruptible or uninterruptible")
	}

	t.PILock.Lock()
	if state == TaskInterruptible && t.sigPending.Load() {
		t.state = TaskRunning
		t.PILock.Unlock()
		return false, nil
	}
	t.state = state
	rq := t.rq
	t.PILock.Unlock()

	if rq == nil || t.OnRQ() != OnRQQueued {
		return false, errors.Invariant("block", "blocking task is not queued on any runqueue")
	}

	rq.lock()
	if rq.boostEligibleLocked(t) {
		t.boost()
	}
	if err := rq.dequeueLocked(t); err != nil {
		rq.unlock()
		return false, err
	}
	if state == TaskUninterruptible {
		rq.nrUninterruptible++
	}
	if ioWait {
		rq.nrIOWait++
		t.inIOWait = true
	}
	cpu := rq.CPU
	rq.unlock()

	s.Schedule(cpu)
	return true, nil
}

// boostEligibleLocked gates boost-on-sleep on how hot the RunQueue's
// switch rate is: the elapsed time since the last context switch must be
// under the task's boost threshold, timeslice >> (10 - MaxPriorityAdj -
// boost). A task already at maximum boost shifts by the widest amount
// and so is the hardest to promote further. rq.lock must be held.
func (rq *RunQueue) boostEligibleLocked(t *Task) bool {
	if t.policy.isRT() {
		return false
	}
	shift := 10 - MaxPriorityAdj - t.boostPrio
	if shift < 0 {
		shift = 0
	}
	threshold := rq.sched.cfg.Scheduler.Timeslice >> uint(shift)
	return rq.switchTime() < threshold
}

// IOSchedule blocks t uninterruptibly for I/O, charging the wait to the
// RunQueue's iowait counter until the task is woken.
func (s *Scheduler) IOSchedule(t *Task) error {
	_, err := s.Block(t, TaskUninterruptible, true)
	return err
}

// WakeUpProcess wakes t out of any sleeping state, interruptible or not.
func (s *Scheduler) WakeUpProcess(t *Task) (bool, error) {
	return s.TryToWakeUp(t, WakeInterruptible|WakeUninterruptible)
}

// SetSignalPending marks or clears a simulated pending signal on t; an
// interruptible Block observing it refuses to sleep.
func (s *Scheduler) SetSignalPending(t *Task, v bool) {
	t.sigPending.Store(v)
}

// DoTaskDead runs the final schedule for an exiting task: its state
// becomes DEAD, it is removed from its RunQueue, and the CPU moves on.
// The task must never be enqueued again afterward; external teardown
// (memory, descriptors) happens after the switch and is not modeled
// here.
func (s *Scheduler) DoTaskDead(t *Task) error {
	t.PILock.Lock()
	t.state = TaskDead
	rq := t.rq
	t.PILock.Unlock()

	if rq == nil || t.OnRQ() != OnRQQueued {
		return errors.Invariant("do_task_dead", "exiting task is not queued on any runqueue")
	}

	rq.lock()
	err := rq.dequeueLocked(t)
	cpu := rq.CPU
	rq.unlock()
	if err != nil {
		return err
	}

	s.Schedule(cpu)
	return nil
}

// stopOneCPU runs fn with cpu's stopper task scheduled: the stopper is
// enqueued at the head of the RT level, preempts whatever cpu was
// running, fn executes under that exclusivity, and the stopper retires.
// This is the simulation's stand-in for stop-machine-driven forced
// migration; fn runs without any RunQueue lock held.
func (s *Scheduler) stopOneCPU(cpu int, fn func() error) error {
	rq := s.rqs[cpu]

	rq.lock()
	if rq.stop.OnRQ() != OnRQBlocked {
		rq.unlock()
		return errors.Transient("stop_one_cpu", "stopper already scheduled on this cpu")
	}
	rq.stop.state = TaskRunning
	rq.stop.timeSlice = s.cfg.Scheduler.Timeslice
	if err := rq.enqueueLocked(rq.stop); err != nil {
		rq.unlock()
		return err
	}
	rq.unlock()

	s.Schedule(cpu)
	err := fn()

	rq.lock()
	rq.stop.state = TaskInterruptible
	deqErr := rq.dequeueLocked(rq.stop)
	rq.unlock()

	s.Schedule(cpu)

	if err != nil {
		return err
	}
	return deqErr
}

// WaitUninterruptible reports the scheduler-wide count of tasks blocked
// uninterruptibly, summed over every RunQueue; per-RQ counts may be
// negative because a task blocks on one CPU and wakes on another, only
// the sum is meaningful.
func (s *Scheduler) WaitUninterruptible() int {
	total := 0
	for _, rq := range s.rqs {
		rq.lock()
		total += rq.nrUninterruptible
		rq.unlock()
	}
	return total
}

// IOWait reports the scheduler-wide count of tasks blocked in I/O wait.
func (s *Scheduler) IOWait() int {
	total := 0
	for _, rq := range s.rqs {
		rq.lock()
		total += rq.nrIOWait
		rq.unlock()
	}
	return total
}
