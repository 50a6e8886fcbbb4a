package watcher

import (
	"context"
	"sync"
	"time"
)

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	stopped bool
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer that flushes delay after the last event.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 100),
		output: make(chan []ChangeEvent, 10),
	}
}

// Add queues an event. It returns false if the queue is full.
func (d *Debouncer) Add(event ChangeEvent) bool {
	select {
	case d.events <- event:
		return true
	default:
		return false
	}
}

// Output delivers flushed batches.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Start moves queued events into the pending batch until ctx is done.
func (d *Debouncer) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

// Stop cancels any pending flush.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// flush emits pending events, one per path, in order of first appearance.
// The latest event for a path wins.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 || d.stopped {
		return
	}

	index := make(map[string]int, len(d.pending))
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		if i, seen := index[event.Path]; seen {
			events[i] = event
			continue
		}
		index[event.Path] = len(events)
		events = append(events, event)
	}

	select {
	case d.output <- events:
		d.pending = nil
	default:
		// Consumer is behind; keep the batch and retry after another delay.
		d.pending = events
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}
