package receiver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cgeo/cgeofiles/internal/common"
)

// eventBuffer is the capacity of a task's event channel. The last slot is
// kept for the result, so a slow consumer loses progress events but never
// the result.
const eventBuffer = 64

// Event is either a progress update or the final result.
type Event struct {
	Progress *Progress
	Result   *Result
}

// Task is a receive running on its own goroutine.
type Task struct {
	Request Request

	events    chan Event
	cancelled atomic.Bool
	done      chan struct{}

	mu       sync.Mutex
	state    State
	progress Progress
	result   Result
}

// Start runs req on a background worker. It fails with common.ErrorBusy
// while another receive of r is in flight.
func (r *Receiver) Start(ctx context.Context, req Request) (*Task, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, common.ErrorBusy
	}

	t := &Task{
		Request: req,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		state:   StatePending,
	}

	go func() {
		res := r.receive(ctx, req, &t.cancelled, t.publish, func() {
			t.mu.Lock()
			t.state = StateCopying
			t.mu.Unlock()
		})
		r.running.Store(false)

		t.mu.Lock()
		t.state = res.State
		t.result = res
		t.mu.Unlock()

		t.events <- Event{Result: &res}
		close(t.events)
		close(t.done)
	}()

	return t, nil
}

func (t *Task) publish(p Progress) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()

	// only this goroutine sends, so the length can only shrink meanwhile
	if len(t.events) < cap(t.events)-1 {
		t.events <- Event{Progress: &p}
	}
}

// Events delivers progress in order, then the result; it is closed after the
// result.
func (t *Task) Events() <-chan Event {
	return t.events
}

// Cancel asks the copy to stop before its next chunk.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Done is closed when the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task has finished and returns its result.
func (t *Task) Wait() Result {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Snapshot returns the current state and the latest progress.
func (t *Task) Snapshot() (State, Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.progress
}
