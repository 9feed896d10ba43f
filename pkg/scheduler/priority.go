package scheduler

// Priority-space constants. The layout follows the BMQ scheme: 100
// real-time priorities collapsed onto one queue level, a nice-derived
// band widened by the boost range for the fair policies, and a trailing
// level reserved for the per-CPU idle task.
const (
	// MaxRTPrio is the number of real-time priority values (0..99); any
	// task with Prio below this is real-time and shares queue level 0.
	MaxRTPrio = 100

	// NiceWidth is the span of the nice value (-20..19).
	NiceWidth = 40

	// MaxPriorityAdj bounds BoostPrio to [-MaxPriorityAdj, MaxPriorityAdj]
	// for non-RT tasks.
	MaxPriorityAdj = 4

	// StopPrio is the priority reserved for the stopper task: a
	// dedicated high-priority task used to perform migrations and
	// hotplug drains.
	StopPrio = MaxRTPrio - 1

	// rtLevel is the single queue level real-time tasks (and the
	// stopper) share; insertion into it is priority-ordered, not FIFO.
	rtLevel = 0

	// normalLevelLo/normalLevelHi bound the levels addressable by
	// NORMAL/BATCH/IDLE tasks after boost/deboost is applied.
	normalLevelLo = 1
	normalLevelHi = NiceWidth + 2*MaxPriorityAdj // 48

	// idleLevel is the level reserved for the per-CPU idle task. The idle
	// task is never linked into the queue, so its bit stays clear; a
	// RunQueue with an empty queue reports idleLevel as its watermark and
	// dispatches the idle task.
	idleLevel = normalLevelHi + 1 // 49

	// numLevels is the width of the priority-bitmap queue.
	numLevels = idleLevel + 1
)

// Policy enumerates the scheduling classes: FIFO and RR (real-time),
// NORMAL and BATCH (fair-share), IDLE (lowest effort), and the internal
// STOP policy used only by the per-CPU stopper task. A deadline-style
// policy is intentionally absent: any such request is squashed to FIFO
// priority 99 at the syscall boundary (policy.go) and never becomes a
// stored Policy value.
type Policy int

const (
	PolicyFIFO Policy = iota
	PolicyRR
	PolicyNormal
	PolicyBatch
	PolicyIdle
	PolicyStop // internal: the stopper task only, never syscall-settable

	// PolicyDeadline is accepted at the syscall boundary only; it is
	// squashed to FIFO priority 99 before any task stores it.
	PolicyDeadline
)

func (p Policy) String() string {
	switch p {
	case PolicyFIFO:
		return "FIFO"
	case PolicyRR:
		return "RR"
	case PolicyNormal:
		return "NORMAL"
	case PolicyBatch:
		return "BATCH"
	case PolicyIdle:
		return "IDLE"
	case PolicyStop:
		return "STOP"
	case PolicyDeadline:
		return "DEADLINE"
	default:
		return "UNKNOWN"
	}
}

func (p Policy) isRT() bool {
	return p == PolicyFIFO || p == PolicyRR || p == PolicyStop
}

// validRTPriority reports whether prio is a legal real-time priority
// (1..99).
func validRTPriority(prio int) bool {
	return prio >= 1 && prio <= 99
}

// normalPrio derives the policy-intrinsic priority before any priority
// inheritance boost is applied.
func normalPrio(policy Policy, staticPrio, rtPriority int) int {
	if policy.isRT() {
		return MaxRTPrio - 1 - rtPriority
	}
	return staticPrio + MaxPriorityAdj
}

// staticPrioFromNice converts a nice value in [-20,19] to BMQ's
// static_prio, offset above the RT range the way Linux's task_struct
// does (MAX_RT_PRIO + nice + 20), so NORMAL/BATCH/IDLE priorities never
// collide with the RT priority space below MaxRTPrio.
func staticPrioFromNice(nice int) int {
	return MaxRTPrio + nice + 20
}

func niceFromStaticPrio(staticPrio int) int {
	return staticPrio - MaxRTPrio - 20
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// schedPrio derives the queue level a task's current effective Prio and
// BoostPrio address. Real-time tasks (and the stopper) always resolve to
// level 0, priority-ordered there by Prio.
func schedPrio(prio int, boostPrio int) int {
	if prio < MaxRTPrio {
		return rtLevel
	}
	idx := prio - MaxRTPrio + boostPrio
	return clampInt(idx, normalLevelLo, normalLevelHi)
}

// wmIndex maps a queue level to the bucket index used by the shared
// watermarkMap: w = idleLevel - level + 1, so lower (more urgent) levels
// land at higher watermark indices. Kept distinct from
// RunQueue.watermark, which always stores the raw level.
func wmIndex(level int) int {
	return idleLevel - level + 1
}

// numWatermarks is the width of the watermarkMap (wmIndex's range is
// [1, idleLevel+1], plus the reserved SMT slot 0).
const numWatermarks = idleLevel + 2
