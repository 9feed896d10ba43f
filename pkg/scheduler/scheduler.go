// Package scheduler implements bmqsched: a user-space simulation of a
// priority-bitmap multi-queue CPU dispatcher in the BMQ style, with one
// runqueue per simulated CPU, a shared watermark map for placement, and
// pluggable context-switch backing.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fideoman/bmqsched/internal/config"
	"github.com/fideoman/bmqsched/internal/obslog"
	bmqerrors "github.com/fideoman/bmqsched/pkg/errors"
)

// pendingSet is the lock-free CPU-set Scheduler uses to track CPUs with
// two or more runnable tasks (pull-migration candidates), built the same
// CAS-loop way as watermarkMap's per-slot words since it only ever needs
// one word for up to 64 CPUs.
type pendingSet struct {
	bits atomic.Uint64
}

func (p *pendingSet) set(cpu int) {
	mask := uint64(1) << uint(cpu)
	for {
		old := p.bits.Load()
		if old&mask != 0 {
			return
		}
		if p.bits.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (p *pendingSet) clear(cpu int) {
	mask := uint64(1) << uint(cpu)
	for {
		old := p.bits.Load()
		if old&mask == 0 {
			return
		}
		if p.bits.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

func (p *pendingSet) snapshot() CPUSet { return CPUSet(p.bits.Load()) }

// Scheduler is the top-level handle owning every per-CPU RunQueue, the
// shared watermark map, topology, and the ambient stack (logging,
// metrics, config). The RunQueue count is fixed at construction and
// never changes afterward.
type Scheduler struct {
	cfg *config.Config

	rqs       []*RunQueue
	watermark *watermarkMap
	pending   *pendingSet
	topology  *topology

	switcher ContextSwitcher
	metrics  *Metrics
	log      zerolog.Logger

	irqNanos   []atomic.Int64
	stealNanos []atomic.Int64

	// preemptDepth models the per-CPU preempt count: Schedule refuses to
	// switch while a CPU's depth is above zero.
	preemptDepth []atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler with NumCPUs RunQueues, a populated
// watermark map (every CPU starts idle), the configured topology, and
// one idle task per CPU.
func NewScheduler(cfg *config.Config, switcher ContextSwitcher) (*Scheduler, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, bmqerrors.Resource("NewScheduler", "invalid configuration", err)
	}
	if switcher == nil {
		switcher = NoopSwitcher{}
	}

	n := cfg.Scheduler.NumCPUs
	sched := &Scheduler{
		cfg:        cfg,
		rqs:        make([]*RunQueue, n),
		watermark:  newWatermarkMap(),
		pending:    &pendingSet{},
		switcher:   switcher,
		metrics:    NewMetrics(),
		log:        obslog.For("scheduler"),
		irqNanos:     make([]atomic.Int64, n),
		stealNanos:   make([]atomic.Int64, n),
		preemptDepth: make([]atomic.Int32, n),
	}
	sched.topology = buildTopology(cfg.Scheduler.Topology, n)

	for c := 0; c < n; c++ {
		rq := newRunQueue(c, sched)
		idle := NewTask(fmt.Sprintf("idle/%d", c), PolicyIdle, 0, 0, NewCPUSet(c))
		idle.homeCPU = c
		idle.rq = rq
		idle.bmqIdx = idleLevel
		idle.setOnRQ(OnRQQueued)
		idle.setOnCPU(false)
		rq.idle = idle
		rq.curr = idle
		rq.online = true
		// The stopper stays parked off the queue until stopOneCPU enqueues
		// it; StopPrio resolves to effective priority 0, ahead of every
		// settable FIFO/RR priority.
		stop := NewTask(fmt.Sprintf("migration/%d", c), PolicyStop, 0, StopPrio, NewCPUSet(c))
		stop.homeCPU = c
		rq.stop = stop
		sched.rqs[c] = rq
		sched.watermark.setCPU(wmIndex(idleLevel), c)
	}
	// Every CPU starts with idle siblings, so the SMT-idle reserved slot
	// is populated for every CPU too.
	for c := 0; c < n; c++ {
		sched.watermark.setCPU(smtIdleSlot, c)
	}

	sched.log.Info().Int("num_cpus", n).Msg("scheduler constructed")
	return sched, nil
}

// NumCPUs reports the fixed CPU count.
func (s *Scheduler) NumCPUs() int { return len(s.rqs) }

// Metrics exposes the scheduler's private prometheus registry.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// RQ returns the RunQueue owning cpu. Panics on an out-of-range cpu,
// treating it as a programmer error rather than a recoverable condition.
func (s *Scheduler) RQ(cpu int) *RunQueue { return s.rqs[cpu] }

// clockSource, irqTime and stealTime are the monotonic-clock, IRQ-time,
// and steal-time hooks a RunQueue consults on every clock update. This
// user-space simulation has no real IRQ/steal accounting hardware, so
// irq/steal are driven purely by whatever the harness (tests, cmd/bmqctl
// scenario scripts) injects via AddIRQTime/AddStealTime.
func (s *Scheduler) clockSource(cpu int) time.Time { return time.Now() }

func (s *Scheduler) irqTime(cpu int) time.Duration {
	return time.Duration(s.irqNanos[cpu].Load())
}

func (s *Scheduler) stealTime(cpu int) time.Duration {
	return time.Duration(s.stealNanos[cpu].Load())
}

// AddIRQTime and AddStealTime let a harness simulate interrupt/hypervisor
// steal overhead charged against cpu's clockTask.
func (s *Scheduler) AddIRQTime(cpu int, d time.Duration) { s.irqNanos[cpu].Add(int64(d)) }
func (s *Scheduler) AddStealTime(cpu int, d time.Duration) { s.stealNanos[cpu].Add(int64(d)) }

// Start launches one tick-driver goroutine per CPU, each firing Tick at
// the configured timeslice granularity, plus the periodic rebalance
// loop. It returns once ctx is canceled or a driver goroutine returns an
// error.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	defer close(s.done)

	g, ctx := errgroup.WithContext(ctx)
	for c := 0; c < s.NumCPUs(); c++ {
		cpu := c
		g.Go(func() error { return s.runCPULoop(ctx, cpu) })
	}
	g.Go(func() error { return s.runBalanceLoop(ctx) })

	return g.Wait()
}

// Shutdown cancels every driver goroutine started by Start and waits for
// them to exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCPULoop drives RunQueue cpu's tick at the configured timeslice
// cadence until ctx is canceled.
func (s *Scheduler) runCPULoop(ctx context.Context, cpu int) error {
	ticker := time.NewTicker(s.cfg.Scheduler.Timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(cpu)
		}
	}
}

// runBalanceLoop periodically triggers pull migration on every CPU with
// an empty queue, at HealthCheckInterval cadence.
func (s *Scheduler) runBalanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Scheduler.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for c := 0; c < s.NumCPUs(); c++ {
				s.Balance(c)
			}
		}
	}
}
