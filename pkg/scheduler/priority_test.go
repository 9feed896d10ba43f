package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalPrio(t *testing.T) {
	assert.Equal(t, MaxRTPrio-1-50, normalPrio(PolicyFIFO, 0, 50))
	assert.Equal(t, MaxRTPrio-1-50, normalPrio(PolicyRR, 0, 50))
	assert.Equal(t, staticPrioFromNice(0)+MaxPriorityAdj, normalPrio(PolicyNormal, staticPrioFromNice(0), 0))
}

func TestStaticPrioNiceRoundTrip(t *testing.T) {
	for nice := -20; nice <= 19; nice++ {
		assert.Equal(t, nice, niceFromStaticPrio(staticPrioFromNice(nice)))
	}
}

func TestSchedPrioRTAlwaysLevelZero(t *testing.T) {
	assert.Equal(t, rtLevel, schedPrio(normalPrio(PolicyFIFO, 0, 1), 0))
	assert.Equal(t, rtLevel, schedPrio(normalPrio(PolicyFIFO, 0, 99), 0))
}

func TestSchedPrioNormalClampsToBand(t *testing.T) {
	base := normalPrio(PolicyNormal, staticPrioFromNice(19), 0)
	idx := schedPrio(base, MaxPriorityAdj)
	assert.LessOrEqual(t, idx, normalLevelHi)
	assert.GreaterOrEqual(t, idx, normalLevelLo)

	base = normalPrio(PolicyNormal, staticPrioFromNice(-20), 0)
	idx = schedPrio(base, -MaxPriorityAdj)
	assert.GreaterOrEqual(t, idx, normalLevelLo)
}

func TestWmIndexMonotonicallyReversesLevel(t *testing.T) {
	assert.Greater(t, wmIndex(rtLevel), wmIndex(idleLevel))
	assert.Equal(t, 1, wmIndex(idleLevel))
}

func TestValidRTPriority(t *testing.T) {
	assert.False(t, validRTPriority(0))
	assert.True(t, validRTPriority(1))
	assert.True(t, validRTPriority(99))
	assert.False(t, validRTPriority(100))
}
