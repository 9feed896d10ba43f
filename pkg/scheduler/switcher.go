package scheduler

// ContextSwitcher is the single external hook the dispatcher calls to
// actually transfer execution from prev to next. Register/stack/
// page-table transfer, per-task FPU state, and MM handoff are all left to
// whatever implementation is registered; bmqsched ships a NoopSwitcher
// good enough to drive the simulation and exercise every scheduling
// decision without real architecture backing.
type ContextSwitcher interface {
	// Switch transfers execution from prev to next on the calling
	// goroutine-CPU. It returns once next is ready to run (i.e. once the
	// simulated "hardware" has completed the switch).
	Switch(cpu int, prev, next *Task)

	// StartContextSwitch/EndContextSwitch are optional hooks bracketing
	// Switch, for implementations that need to prepare or tear down
	// state around the actual handoff.
	StartContextSwitch(cpu int, prev, next *Task)
	EndContextSwitch(cpu int, prev, next *Task)
}

// NoopSwitcher is the default ContextSwitcher: it performs no real
// register/MM transfer, only the accounting the scheduler core itself is
// responsible for (lastRan, onCPU). It is intended for tests and for
// cmd/bmqctl's in-process simulation; a real port would supply one backed
// by actual architecture switch_to()/switch_mm() hooks.
type NoopSwitcher struct{}

func (NoopSwitcher) Switch(cpu int, prev, next *Task)           {}
func (NoopSwitcher) StartContextSwitch(cpu int, prev, next *Task) {}
func (NoopSwitcher) EndContextSwitch(cpu int, prev, next *Task)   {}
