package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelBitmapFirstNext(t *testing.T) {
	var b levelBitmap
	_, ok := b.first()
	assert.False(t, ok)

	b.set(5)
	b.set(40)
	b.set(idleLevel)

	lvl, ok := b.first()
	require.True(t, ok)
	assert.Equal(t, 5, lvl)

	lvl, ok = b.next(5)
	require.True(t, ok)
	assert.Equal(t, 40, lvl)

	lvl, ok = b.next(40)
	require.True(t, ok)
	assert.Equal(t, idleLevel, lvl)

	_, ok = b.next(idleLevel)
	assert.False(t, ok)

	b.clear(5)
	lvl, ok = b.first()
	require.True(t, ok)
	assert.Equal(t, 40, lvl)
}

func TestPriorityQueueFIFOOrdering(t *testing.T) {
	q := newPriorityQueue()
	a := NewTask("a", PolicyNormal, 0, 0, NewCPUSet(0))
	b := NewTask("b", PolicyNormal, 0, 0, NewCPUSet(0))
	c := NewTask("c", PolicyNormal, 0, 0, NewCPUSet(0))

	q.addTail(10, a)
	q.addTail(10, b)
	q.addTail(10, c)

	require.Equal(t, 3, q.size())
	assert.Same(t, a, q.first())
	assert.Same(t, b, q.nextAfter(a))
	assert.Same(t, c, q.nextAfter(b))
	assert.Nil(t, q.nextAfter(c))

	q.remove(b)
	assert.Same(t, c, q.nextAfter(a))
	assert.Equal(t, 2, q.size())
	assert.False(t, q.levelEmpty(10))

	q.remove(a)
	q.remove(c)
	assert.True(t, q.levelEmpty(10))
	assert.Nil(t, q.first())
}

func TestPriorityQueueOrderedInsertAtRTLevel(t *testing.T) {
	q := newPriorityQueue()
	low := NewTask("low", PolicyFIFO, 0, 10, NewCPUSet(0))
	high := NewTask("high", PolicyFIFO, 0, 80, NewCPUSet(0))
	mid := NewTask("mid", PolicyFIFO, 0, 40, NewCPUSet(0))

	// lower prio value = more urgent; normalPrio(FIFO) = MaxRTPrio-1-rtPriority
	low.prio = normalPrio(PolicyFIFO, 0, 10)
	high.prio = normalPrio(PolicyFIFO, 0, 80)
	mid.prio = normalPrio(PolicyFIFO, 0, 40)

	q.addPriorityOrdered(low)
	q.addPriorityOrdered(high)
	q.addPriorityOrdered(mid)

	got := []*Task{q.first()}
	got = append(got, q.nextAfter(got[0]))
	got = append(got, q.nextAfter(got[1]))

	assert.Same(t, high, got[0], "highest rtPriority (lowest prio value) dispatches first")
	assert.Same(t, mid, got[1])
	assert.Same(t, low, got[2])
}

func TestPriorityQueueMoveToTail(t *testing.T) {
	q := newPriorityQueue()
	a := NewTask("a", PolicyNormal, 0, 0, NewCPUSet(0))
	b := NewTask("b", PolicyNormal, 0, 0, NewCPUSet(0))
	q.addTail(20, a)
	q.addTail(20, b)

	q.moveToTail(a)
	assert.Same(t, b, q.first())
	assert.Same(t, a, q.nextAfter(b))
	assert.Equal(t, 2, q.size())
}
