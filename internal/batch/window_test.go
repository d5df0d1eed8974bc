package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bandlink/internal/batch"
)

// tick is a minimal timestamped sample for exercising the window.
type tick struct {
	ts float64
}

func (t tick) Time() float64 { return t.ts }

func TestCountWindow(t *testing.T) {
	// GOAL: Verify count-mode windows flush exactly N oldest samples
	//
	// TEST SCENARIO: Push past the threshold → flush of N in arrival order, excess retained

	t.Run("flushes on the Nth sample", func(t *testing.T) {
		w := batch.NewCount[tick](3)

		assert.Nil(t, w.Push(tick{1}), "first sample MUST NOT flush")
		assert.Nil(t, w.Push(tick{2}), "second sample MUST NOT flush")

		flushed := w.Push(tick{3})
		require.Len(t, flushed, 3, "third sample MUST flush the batch")
		assert.Equal(t, []tick{{1}, {2}, {3}}, flushed, "batch MUST preserve arrival order")
		assert.Equal(t, 0, w.Len(), "buffer MUST be empty after an exact flush")
	})

	t.Run("retains samples beyond N", func(t *testing.T) {
		w := batch.NewCount[tick](2)

		require.Nil(t, w.Push(tick{1}))
		flushed := w.Push(tick{2})
		require.Equal(t, []tick{{1}, {2}}, flushed)

		assert.Nil(t, w.Push(tick{3}), "sample after a flush starts the next batch")
		flushed = w.Push(tick{4})
		assert.Equal(t, []tick{{3}, {4}}, flushed, "next batch MUST carry only post-flush samples")
	})

	t.Run("rejects non-positive count", func(t *testing.T) {
		assert.Panics(t, func() { batch.NewCount[tick](0) }, "zero count MUST panic")
	})
}

func TestIntervalWindow(t *testing.T) {
	// GOAL: Verify interval-mode windows flush on sample-timestamp spans, not wall clock
	//
	// TEST SCENARIO: Push samples with known timestamps → flush when span reaches the interval

	t.Run("flushes when the span reaches the interval", func(t *testing.T) {
		w := batch.NewInterval[tick](1.0)

		assert.Nil(t, w.Push(tick{10.0}), "window opens at the first sample's timestamp")
		assert.Nil(t, w.Push(tick{10.4}))
		assert.Nil(t, w.Push(tick{10.8}))

		flushed := w.Push(tick{11.0})
		require.Len(t, flushed, 4, "sample at start+interval MUST flush everything buffered")
		assert.Equal(t, []tick{{10.0}, {10.4}, {10.8}, {11.0}}, flushed)
	})

	t.Run("rebases the window on the flushing sample", func(t *testing.T) {
		w := batch.NewInterval[tick](1.0)

		require.Nil(t, w.Push(tick{10.0}))
		require.NotNil(t, w.Push(tick{11.0}))

		assert.Nil(t, w.Push(tick{11.5}), "11.5 is within the rebased [11.0, 12.0) window")
		flushed := w.Push(tick{12.0})
		assert.Equal(t, []tick{{11.5}, {12.0}}, flushed, "next flush MUST carry only post-rebase samples")
	})

	t.Run("single sample spanning the interval flushes alone", func(t *testing.T) {
		w := batch.NewInterval[tick](1.0)

		require.Nil(t, w.Push(tick{5.0}))
		flushed := w.Push(tick{9.0})
		assert.Equal(t, []tick{{5.0}, {9.0}}, flushed, "a gap larger than the interval still flushes in one batch")
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		assert.Panics(t, func() { batch.NewInterval[tick](0) }, "zero interval MUST panic")
	})
}

func TestWindowReset(t *testing.T) {
	// GOAL: Verify Reset discards buffered samples and re-opens the window
	//
	// TEST SCENARIO: Buffer partial batch → reset → window behaves as freshly created

	t.Run("count mode", func(t *testing.T) {
		w := batch.NewCount[tick](2)
		require.Nil(t, w.Push(tick{1}))

		w.Reset()

		assert.Equal(t, 0, w.Len(), "reset MUST drop buffered samples")
		assert.Nil(t, w.Push(tick{2}), "count restarts from zero after reset")
		assert.Len(t, w.Push(tick{3}), 2)
	})

	t.Run("interval mode", func(t *testing.T) {
		w := batch.NewInterval[tick](1.0)
		require.Nil(t, w.Push(tick{10.0}))

		w.Reset()

		assert.Nil(t, w.Push(tick{10.9}), "window start MUST re-prime from the first post-reset sample")
		assert.Len(t, w.Push(tick{11.9}), 2)
	})
}
