// Package batch regroups a continuous reading stream into discrete
// batches per sensor, by sample count or by sample-time interval.
//
// There are no background timers: flushing is purely a function of
// observed samples, so a sensor that stops transmitting never
// spuriously flushes and never blocks other sensors. Interval mode
// measures the samples' own timestamps rather than wall-clock arrival,
// so BLE delivery jitter does not distort batch boundaries.
package batch

// Timestamped is implemented by samples that carry their own
// acquisition time in seconds.
type Timestamped interface {
	Time() float64
}

// Mode selects the flush criterion of a Window.
type Mode int

const (
	// ByInterval flushes when the latest sample's timestamp is at
	// least the configured interval past the window start.
	ByInterval Mode = iota
	// ByCount flushes when the buffer reaches the configured length.
	ByCount
)

// Window accumulates samples for one sensor and flushes a complete
// batch when its threshold is reached. Not safe for concurrent use;
// the pipeline owns each window exclusively.
type Window[T Timestamped] struct {
	mode     Mode
	interval float64
	count    int

	buf    []T
	start  float64
	primed bool
}

// NewInterval creates a duration-mode window. seconds must be > 0.
func NewInterval[T Timestamped](seconds float64) *Window[T] {
	if seconds <= 0 {
		panic("batch: interval must be > 0")
	}
	return &Window[T]{mode: ByInterval, interval: seconds}
}

// NewCount creates a count-mode window. n must be > 0.
func NewCount[T Timestamped](n int) *Window[T] {
	if n <= 0 {
		panic("batch: count must be > 0")
	}
	return &Window[T]{mode: ByCount, count: n}
}

// Mode returns the window's flush criterion.
func (w *Window[T]) Mode() Mode { return w.mode }

// Len returns the number of buffered samples.
func (w *Window[T]) Len() int { return len(w.buf) }

// Push appends a sample and returns a flushed batch, or nil if the
// threshold has not been reached.
//
// Interval mode returns the entire buffer and re-bases the window start
// to the flushing sample's timestamp, so elapsed window time is always
// below the interval immediately after a flush. Count mode returns
// exactly the first N buffered samples in FIFO order and retains any
// excess for the next window.
func (w *Window[T]) Push(s T) []T {
	if !w.primed {
		w.start = s.Time()
		w.primed = true
	}
	w.buf = append(w.buf, s)

	switch w.mode {
	case ByInterval:
		if s.Time()-w.start >= w.interval {
			out := w.buf
			w.buf = nil
			w.start = s.Time()
			return out
		}
	case ByCount:
		if len(w.buf) >= w.count {
			out := make([]T, w.count)
			copy(out, w.buf[:w.count])
			w.buf = append([]T(nil), w.buf[w.count:]...)
			return out
		}
	}
	return nil
}

// Reset clears the buffer and the window start. Used whenever the
// collection mode, sensor selection, or target value changes, so no
// partially-filled buffer crosses a configuration boundary.
func (w *Window[T]) Reset() {
	w.buf = nil
	w.start = 0
	w.primed = false
}
