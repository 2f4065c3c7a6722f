package loop

import (
	"context"
	"testing"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/clock"
	"gotest.tools/assert"
)

func newTestLoop() (*Loop, *clock.FakeClock) {
	c := clock.NewFake(time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC))
	return New(c), c
}

func TestPostRunsInOrder(t *testing.T) {
	l, _ := newTestLoop()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	assert.Equal(t, l.RunUntilIdle(), 3)
	assert.DeepEqual(t, got, []int{0, 1, 2})
}

func TestPostDelayedWaitsForClock(t *testing.T) {
	l, c := newTestLoop()
	fired := 0
	task := l.PostDelayed(time.Second, func() { fired++ })
	l.RunUntilIdle()
	assert.Equal(t, fired, 0)
	assert.Assert(t, task.Pending())

	c.Advance(time.Second)
	l.RunUntilIdle()
	assert.Equal(t, fired, 1)
	assert.Assert(t, !task.Pending())
	assert.Assert(t, !task.Cancel())
}

func TestCancelBeforeFire(t *testing.T) {
	l, c := newTestLoop()
	fired := false
	task := l.PostDelayed(time.Second, func() { fired = true })
	assert.Assert(t, task.Cancel())
	c.Advance(time.Minute)
	l.RunUntilIdle()
	assert.Assert(t, !fired)
}

func TestCancelAfterTimerFiredButBeforeRun(t *testing.T) {
	l, c := newTestLoop()
	fired := false
	task := l.PostDelayed(time.Second, func() { fired = true })
	c.Advance(time.Second)
	assert.Assert(t, task.Cancel())
	l.RunUntilIdle()
	assert.Assert(t, !fired)
}

func TestGoPostsResultBack(t *testing.T) {
	l, _ := newTestLoop()
	got := ""
	l.Go(func() func() {
		time.Sleep(10 * time.Millisecond)
		return func() { got = "done" }
	})
	l.RunUntilIdle()
	assert.Equal(t, got, "done")
}

func TestPanickingCallbackDoesNotStopLoop(t *testing.T) {
	l, _ := newTestLoop()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunUntilIdle()
	assert.Assert(t, ran)
}

func TestRunAndCall(t *testing.T) {
	l := New(clock.Real())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- l.Run(ctx) }()

	counter := 0
	for i := 0; i < 5; i++ {
		err := l.Call(ctx, func() error {
			counter++
			return nil
		})
		assert.NilError(t, err)
	}
	assert.Equal(t, counter, 5)
	cancel()
	assert.Equal(t, <-stopped, context.Canceled)
}
