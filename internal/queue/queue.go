// Package queue implements a bounded in-memory opportunity buffer: a FIFO
// with high/low watermarks that auto-pauses/resumes, plus manual pause for
// standby mode and an item-available callback with a fallback tick.
// Generalized from a plain unbounded channel into a bounded, watermark-aware
// structure to give callers explicit backpressure.
package queue

import (
	"sync"
	"time"

	"github.com/duneflow/arbengine"
)

// StateChangeFunc is invoked whenever the queue transitions between paused
// and resumed, either automatically (watermarks) or manually (standby mode).
type StateChangeFunc func(paused bool, reason string)

// Queue is a bounded FIFO of opportunities awaiting dispatch.
type Queue struct {
	maxSize       int
	highWaterMark int
	lowWaterMark  int

	mu            sync.Mutex
	items         []*arbengine.Opportunity
	autoPaused    bool
	manualPaused  bool
	onStateChange StateChangeFunc

	notify chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Queue. highWaterMark must be <= maxSize and >= lowWaterMark.
func New(maxSize, highWaterMark, lowWaterMark int) *Queue {
	if highWaterMark <= 0 || highWaterMark > maxSize {
		highWaterMark = maxSize
	}
	if lowWaterMark < 0 {
		lowWaterMark = 0
	}
	return &Queue{
		maxSize:       maxSize,
		highWaterMark: highWaterMark,
		lowWaterMark:  lowWaterMark,
		notify:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// OnStateChange registers the callback fired on pause/resume transitions.
func (q *Queue) OnStateChange(fn StateChangeFunc) {
	q.mu.Lock()
	q.onStateChange = fn
	q.mu.Unlock()
}

// Enqueue appends item to the tail. Returns false if the queue is full or
// paused (manually or via watermark auto-pause).
func (q *Queue) Enqueue(item *arbengine.Opportunity) bool {
	q.mu.Lock()
	if q.manualPaused || q.autoPaused || len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return false
	}

	q.items = append(q.items, item)
	size := len(q.items)

	var fireChange bool
	if size >= q.highWaterMark && !q.autoPaused {
		q.autoPaused = true
		fireChange = true
	}
	cb := q.onStateChange
	q.mu.Unlock()

	if fireChange && cb != nil {
		cb(true, "high_watermark")
	}
	q.signal()
	return true
}

// Dequeue pops the head item, or ok=false if empty.
func (q *Queue) Dequeue() (*arbengine.Opportunity, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	size := len(q.items)

	var fireChange bool
	if size <= q.lowWaterMark && q.autoPaused {
		q.autoPaused = false
		fireChange = true
	}
	cb := q.onStateChange
	q.mu.Unlock()

	if fireChange && cb != nil {
		cb(false, "low_watermark")
	}
	return item, true
}

// Pause manually pauses the queue (standby mode). Idempotent.
func (q *Queue) Pause() {
	q.mu.Lock()
	already := q.manualPaused
	q.manualPaused = true
	cb := q.onStateChange
	q.mu.Unlock()
	if !already && cb != nil {
		cb(true, "manual")
	}
}

// Resume manually resumes the queue. Idempotent; auto-pause (watermark) still
// applies independently of the manual flag.
func (q *Queue) Resume() {
	q.mu.Lock()
	already := !q.manualPaused
	q.manualPaused = false
	cb := q.onStateChange
	q.mu.Unlock()
	if !already && cb != nil {
		cb(false, "manual")
	}
}

// Paused reports whether the queue currently rejects Enqueue calls.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.manualPaused || q.autoPaused
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// ItemAvailable returns a channel that fires when an item is enqueued, or on
// a 1s fallback tick (spec §4.4: "ensures progress under pathological
// timing"). Callers should check Dequeue after every receive.
func (q *Queue) ItemAvailable() <-chan struct{} {
	out := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-q.notify:
				select {
				case out <- struct{}{}:
				case <-q.stopCh:
					return
				}
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				case <-q.stopCh:
					return
				}
			}
		}
	}()
	return out
}

// Close stops any outstanding ItemAvailable goroutines.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}
