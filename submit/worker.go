// Package submit runs the single per-session background worker that
// dequeues the most recent queued frame and hands it to the RDPEGFX
// emitter, dropping anything staler.
package submit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxQueueDepth is the hard cap on queued frames before the oldest is
// dropped.
const MaxQueueDepth = 8

// Frame is the minimal shape the worker needs to reason about
// staleness; callers embed their richer frame type behind this.
type Frame interface{}

// Stats reports the worker's drop counters for diagnostics.
type Stats struct {
	DroppedOverflow int64 // dropped by the producer-side hard cap
	DroppedStale    int64 // dropped by the worker picking only the newest
}

const staleDropLogThrottle = 2 * time.Second

// Worker owns the frame queue and the single goroutine that drains it.
// Enqueue is the producer side (called from the capture/pairer thread);
// Run is the consumer loop (the single submission worker).
type Worker struct {
	log    *zap.SugaredLogger
	submit func(Frame)

	mu      sync.Mutex
	queue   []Frame
	wake    chan struct{}
	stopped chan struct{}

	frameRate func() int // requestedFrameRate(), sampled each wait

	statsMu sync.Mutex
	stats   Stats

	lastStaleLog time.Time
}

// New creates a Worker that calls submit with the chosen frame from the
// single worker goroutine started by Run. frameRate is consulted once
// per wait iteration to compute the wait timeout as
// 1000/max(frameRate(),1) ms.
func New(log *zap.SugaredLogger, frameRate func() int, submit func(Frame)) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Worker{
		log:       log,
		submit:    submit,
		frameRate: frameRate,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
}

// Enqueue adds a frame to the queue, dropping the oldest if the queue
// exceeds MaxQueueDepth, and wakes the worker.
func (w *Worker) Enqueue(f Frame) {
	w.mu.Lock()
	w.queue = append(w.queue, f)
	overflowed := false
	for len(w.queue) > MaxQueueDepth {
		w.queue = w.queue[1:]
		overflowed = true
	}
	w.mu.Unlock()

	if overflowed {
		w.statsMu.Lock()
		w.stats.DroppedOverflow++
		w.statsMu.Unlock()
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Purge drops every queued frame without submitting any of them.
func (w *Worker) Purge() {
	w.mu.Lock()
	w.queue = nil
	w.mu.Unlock()
}

// Stats returns a snapshot of the drop counters.
func (w *Worker) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// Run executes the dequeue-and-submit loop until stop is closed. It
// must be run in its own goroutine; Close should close stop and then
// wait for Run to return.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		rate := w.frameRate()
		if rate < 1 {
			rate = 1
		}
		interval := time.Duration(1000/rate) * time.Millisecond
		timer := time.NewTimer(interval)

		select {
		case <-stop:
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}

		frame, droppedStale, ok := w.dequeueLatest()
		if !ok {
			continue
		}
		if droppedStale > 0 {
			w.recordStaleDrop(droppedStale)
		}
		w.submit(frame)
	}
}

// dequeueLatest removes and returns the most recent queued frame,
// counting (but discarding) everything older as dropped-stale.
func (w *Worker) dequeueLatest() (Frame, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return nil, 0, false
	}

	dropped := len(w.queue) - 1
	latest := w.queue[len(w.queue)-1]
	w.queue = nil
	return latest, dropped, true
}

func (w *Worker) recordStaleDrop(n int) {
	w.statsMu.Lock()
	w.stats.DroppedStale += int64(n)
	w.statsMu.Unlock()

	now := time.Now()
	w.mu.Lock()
	shouldLog := now.Sub(w.lastStaleLog) >= staleDropLogThrottle
	if shouldLog {
		w.lastStaleLog = now
	}
	w.mu.Unlock()

	if shouldLog {
		w.log.Debugw("dropped stale queued frames", "count", n)
	}
}
