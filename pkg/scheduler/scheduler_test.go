package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fideoman/bmqsched/internal/config"
)

func newTestScheduler(t *testing.T, numCPUs int) *Scheduler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Scheduler.NumCPUs = numCPUs
	cfg.Scheduler.Topology = config.TopologyConfig{}
	sched, err := NewScheduler(cfg, NoopSwitcher{})
	require.NoError(t, err)
	return sched
}

func TestNewSchedulerPopulatesOneRunQueuePerCPU(t *testing.T) {
	sched := newTestScheduler(t, 4)
	assert.Equal(t, 4, sched.NumCPUs())
	for c := 0; c < 4; c++ {
		rq := sched.RQ(c)
		assert.Equal(t, c, rq.CPU)
		assert.True(t, rq.online)
		assert.Same(t, rq.idle, rq.curr)
		assert.Equal(t, idleLevel, rq.watermark)
	}
}

func TestNewSchedulerEveryCPUStartsInSMTIdleSlot(t *testing.T) {
	sched := newTestScheduler(t, 2)
	assert.True(t, sched.watermark.cpusAt(smtIdleSlot).Has(0))
	assert.True(t, sched.watermark.cpusAt(smtIdleSlot).Has(1))
}

func TestNewSchedulerRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.NumCPUs = 0
	_, err := NewScheduler(cfg, NoopSwitcher{})
	assert.Error(t, err)
}
