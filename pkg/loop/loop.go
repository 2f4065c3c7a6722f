// Package loop implements the single-threaded cooperative scheduler every
// daemon runs on. All state owned by a daemon is touched only from functions
// executing on its Loop; blocking work runs elsewhere and posts its result
// back.
package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("loop")

// Scheduler is the view of a Loop that state machines depend on.
type Scheduler interface {
	Post(fn func())
	PostDelayed(d time.Duration, fn func()) *Task
	Go(work func() func())
	Now() time.Time
}

// Loop is a FIFO queue of callbacks executed one at a time.
type Loop struct {
	clock    clock.Clock
	mu       sync.Mutex
	changed  *sync.Cond
	queue    []func()
	inflight int
	wake     chan struct{}
}

// New returns a Loop whose delayed tasks are timed by c.
func New(c clock.Clock) *Loop {
	l := &Loop{clock: c, wake: make(chan struct{}, 1)}
	l.changed = sync.NewCond(&l.mu)
	return l
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post enqueues fn. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.changed.Broadcast()
	l.mu.Unlock()
	l.signal()
}

// PostDelayed enqueues fn once d has elapsed. The returned Task can cancel
// it; a cancelled task never runs even if its timer already fired.
func (l *Loop) PostDelayed(d time.Duration, fn func()) *Task {
	t := &Task{}
	if d <= 0 {
		l.Post(t.wrap(fn))
		return t
	}
	t.timer = l.clock.AfterFunc(d, func() { l.Post(t.wrap(fn)) })
	return t
}

// Go runs work on its own goroutine and posts the function it returns, if
// any, back onto the loop. Work in flight keeps RunUntilIdle waiting.
func (l *Loop) Go(work func() func()) {
	l.mu.Lock()
	l.inflight++
	l.mu.Unlock()
	go func() {
		var done func()
		defer func() {
			l.mu.Lock()
			l.inflight--
			if done != nil {
				l.queue = append(l.queue, done)
			}
			l.changed.Broadcast()
			l.mu.Unlock()
			l.signal()
		}()
		done = work()
	}()
}

// Call runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	l.Post(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.drain() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunUntilIdle executes callbacks until the queue is empty and no Go work
// is in flight, and returns how many ran. Used by tests and by callers
// that step the loop by hand instead of calling Run.
func (l *Loop) RunUntilIdle() int {
	n := 0
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && l.inflight > 0 {
			l.changed.Wait()
		}
		empty := len(l.queue) == 0
		l.mu.Unlock()
		if empty {
			return n
		}
		n += l.drain()
	}
}

func (l *Loop) drain() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		runSafely(fn)
	}
	return len(batch)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// runSafely keeps a panicking callback from taking the daemon down with it.
func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("callback panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Task is a delayed callback scheduled with PostDelayed.
type Task struct {
	timer     *clock.Timer
	cancelled atomic.Bool
	ran       atomic.Bool
}

func (t *Task) wrap(fn func()) func() {
	return func() {
		if t.cancelled.Load() {
			return
		}
		t.ran.Store(true)
		fn()
	}
}

// Cancel stops the task. It reports whether the callback was prevented
// from running. Cancel on a nil Task is a no-op.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ran.Load() {
		return false
	}
	return t.cancelled.CompareAndSwap(false, true)
}

// Pending reports whether the task has neither run nor been cancelled.
func (t *Task) Pending() bool {
	return t != nil && !t.ran.Load() && !t.cancelled.Load()
}
