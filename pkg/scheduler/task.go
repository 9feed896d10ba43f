package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OnRQState is a task's queue-linkage state machine.
type OnRQState int32

const (
	// OnRQBlocked is state "0": the task is not linked into any RunQueue.
	OnRQBlocked OnRQState = iota
	// OnRQQueued is "QUEUED": linked into some RunQueue's priority queue.
	OnRQQueued
	// OnRQMigrating is the transient state during move_queued_task; while
	// set, observers must spin rather than assume queue membership.
	OnRQMigrating
)

// TaskState mirrors the handful of task states the scheduler core cares
// about; anything richer (STOPPED, TRACED, ...) belongs to external
// collaborators, not this package.
type TaskState int32

const (
	TaskRunning TaskState = iota
	TaskInterruptible
	TaskUninterruptible
	TaskDead
)

// CPUSet is a small fixed-width bitset of CPU indices, standing in for
// Linux's cpumask_t.
type CPUSet uint64

func NewCPUSet(cpus ...int) CPUSet {
	var s CPUSet
	for _, c := range cpus {
		s = s.Add(c)
	}
	return s
}

func (s CPUSet) Add(cpu int) CPUSet    { return s | (1 << uint(cpu)) }
func (s CPUSet) Remove(cpu int) CPUSet { return s &^ (1 << uint(cpu)) }
func (s CPUSet) Has(cpu int) bool      { return s&(1<<uint(cpu)) != 0 }
func (s CPUSet) And(o CPUSet) CPUSet   { return s & o }
func (s CPUSet) Empty() bool           { return s == 0 }

// Lowest returns the lowest-numbered CPU in the set and true, or (0,
// false) if empty.
func (s CPUSet) Lowest() (int, bool) {
	if s == 0 {
		return 0, false
	}
	for c := 0; c < 64; c++ {
		if s.Has(c) {
			return c, true
		}
	}
	return 0, false
}

// Task is the scheduling view of a unit of work. Everything that is not
// scheduler-relevant (memory maps, file descriptors, registers) is an
// external collaborator's concern and is not modeled here.
type Task struct {
	ID   uuid.UUID
	Comm string // short human-readable name, for logs only

	PILock sync.Mutex

	// --- protected by PILock ---
	state      TaskState
	policy     Policy
	staticPrio int // nice-derived, for NORMAL/BATCH/IDLE
	rtPriority int // 1..99, for FIFO/RR
	normalPrio int // derived: policy-intrinsic priority, pre-PI
	prio       int // effective: normalPrio unless PI-boosted
	piTopTask  *Task
	resetOnFork bool

	// --- protected by the owning RunQueue's lock while OnRQ != blocked,
	// or by PILock while blocked/transitioning; see the lock ordering
	// note on RunQueue in runqueue.go. ---
	boostPrio int
	bmqIdx    int
	timeSlice time.Duration
	lastRan   time.Time

	// onRQ and onCPU use atomic acquire/release semantics: a wakeup
	// spin-waits on onCPU with an acquire-load, and observers of
	// OnRQMigrating must spin rather than assume linkage.
	onRQ atomic.Int32
	onCPU atomic.Bool

	// sigPending simulates signal_pending(): an interruptible Block
	// observing it re-arms to RUNNING instead of sleeping.
	sigPending atomic.Bool

	// inIOWait marks a task blocked via IOSchedule so the waking RunQueue
	// knows to release the iowait charge. Written under the blocking
	// RunQueue's lock, cleared under the waking one's.
	inIOWait bool

	// needResched and polling back the IPI-elision check: a CPU that is
	// spin-polling for reschedule (typically its idle task) can be woken
	// by a store into needResched instead of an actual IPI.
	needResched atomic.Bool
	polling     atomic.Bool

	cpusMask      CPUSet
	homeCPU       int
	nrCPUsAllowed int

	rq *RunQueue // home runqueue while onRQ != OnRQBlocked

	// queue linkage: index into the owning level's FIFO list. Valid only
	// while onRQ != OnRQBlocked and under the owning RunQueue's lock.
	qNext, qPrev *Task

	createdAt time.Time
}

// NewTask constructs a task in its initial not-yet-placed state; callers
// must still place it on a RunQueue via Scheduler.Fork.
func NewTask(comm string, policy Policy, nice int, rtPriority int, allowed CPUSet) *Task {
	staticPrio := staticPrioFromNice(nice)
	t := &Task{
		ID:            uuid.New(),
		Comm:          comm,
		state:         TaskInterruptible,
		policy:        policy,
		staticPrio:    staticPrio,
		rtPriority:    rtPriority,
		cpusMask:      allowed,
		nrCPUsAllowed: popcount(allowed),
		createdAt:     time.Now(),
	}
	t.normalPrio = normalPrio(policy, staticPrio, rtPriority)
	t.prio = t.normalPrio
	t.boostPrio = initialBoost(policy)
	return t
}

func initialBoost(p Policy) int {
	if p == PolicyNormal {
		return 0
	}
	return 0
}

func popcount(s CPUSet) int {
	n := 0
	for c := 0; c < 64; c++ {
		if s.Has(c) {
			n++
		}
	}
	return n
}

// Prio returns the task's current effective priority (PI-boosted if
// applicable). Safe to call without holding PILock for advisory reads;
// callers that need a consistent snapshot alongside other fields should
// hold PILock.
func (t *Task) Prio() int {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return t.prio
}

func (t *Task) Policy() Policy {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return t.policy
}

func (t *Task) State() TaskState {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return t.state
}

func (t *Task) CPUsAllowed() CPUSet {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return t.cpusMask
}

// Nice returns the task's current nice value, derived from staticPrio.
func (t *Task) Nice() int {
	t.PILock.Lock()
	defer t.PILock.Unlock()
	return niceFromStaticPrio(t.staticPrio)
}

// OnRQ reports the task's current queue-linkage state.
func (t *Task) OnRQ() OnRQState {
	return OnRQState(t.onRQ.Load())
}

func (t *Task) setOnRQ(s OnRQState) {
	t.onRQ.Store(int32(s))
}

// OnCPU reports whether the task is currently the executing task on some
// CPU.
func (t *Task) OnCPU() bool {
	return t.onCPU.Load()
}

func (t *Task) setOnCPU(v bool) {
	t.onCPU.Store(v)
}

// SetNeedResched/ClearNeedResched/NeedResched implement the need-resched
// bit; it is observed by the owning CPU's tick/dispatch loop rather than
// driving it directly.
func (t *Task) SetNeedResched()   { t.needResched.Store(true) }
func (t *Task) ClearNeedResched() { t.needResched.Store(false) }
func (t *Task) NeedResched() bool { return t.needResched.Load() }

// SetPolling/IsPolling mark a task (typically a CPU's idle task) as
// spin-polling for reschedule, letting wakers elide sending an IPI.
func (t *Task) SetPolling(v bool) { t.polling.Store(v) }
func (t *Task) IsPolling() bool   { return t.polling.Load() }
