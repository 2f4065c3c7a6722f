package locator

import (
	"context"
	"testing"
	"time"

	"github.com/Krajiyah/ble-navigator/internal"
	"github.com/Krajiyah/ble-navigator/pkg/clock"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"gotest.tools/assert"
)

type fixture struct {
	loop  *loop.Loop
	clock *clock.FakeClock
	conn  *internal.FakeConnector
	loc   *Locator
}

func newFixture() *fixture {
	c := clock.NewFake(time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC))
	l := loop.New(c)
	fc := internal.NewFakeConnector()
	connect := func(ctx context.Context, name string) (Handle, error) {
		h, err := fc.Connect(name)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return &fixture{loop: l, clock: c, conn: fc, loc: New(l, connect)}
}

func (f *fixture) tick(d time.Duration) {
	f.clock.Advance(d)
	f.loop.RunUntilIdle()
}

func TestResolveAvailableService(t *testing.T) {
	f := newFixture()
	f.conn.SetUp("screen", true)

	var got Handle
	f.loc.Resolve("screen", func(h Handle) { got = h })
	f.loop.RunUntilIdle()

	assert.Assert(t, got != nil)
	assert.Equal(t, got.Name(), "screen")
	assert.Equal(t, f.conn.Attempts("screen"), 1)
	assert.Assert(t, !f.loc.Pending("screen"))

	cached, ok := f.loc.Cached("screen")
	assert.Assert(t, ok)
	assert.Equal(t, cached, got)
}

func TestResolveRetriesForever(t *testing.T) {
	f := newFixture()
	calls := 0
	f.loc.Resolve("bluescan", func(Handle) { calls++ })
	f.loop.RunUntilIdle()
	assert.Equal(t, f.conn.Attempts("bluescan"), 1)

	for i := 0; i < 5; i++ {
		f.tick(time.Second)
	}
	assert.Equal(t, f.conn.Attempts("bluescan"), 6)
	assert.Equal(t, calls, 0)

	f.tick(500 * time.Millisecond)
	assert.Equal(t, f.conn.Attempts("bluescan"), 6)

	f.conn.SetUp("bluescan", true)
	f.tick(500 * time.Millisecond)
	assert.Equal(t, calls, 1)
	assert.Equal(t, f.conn.Attempts("bluescan"), 7)

	f.tick(10 * time.Second)
	assert.Equal(t, f.conn.Attempts("bluescan"), 7)
}

func TestConcurrentResolvesCoalesce(t *testing.T) {
	f := newFixture()
	var first, second Handle
	f.loc.Resolve("screen", func(h Handle) { first = h })
	f.loc.Resolve("screen", func(h Handle) { second = h })
	f.loop.RunUntilIdle()
	assert.Equal(t, f.conn.Attempts("screen"), 1)
	assert.Equal(t, f.clock.Pending(), 1)

	f.loc.Resolve("screen", func(Handle) {})
	f.loop.RunUntilIdle()
	assert.Equal(t, f.conn.Attempts("screen"), 1)

	f.tick(time.Second)
	assert.Equal(t, f.conn.Attempts("screen"), 2)
	assert.Equal(t, f.clock.Pending(), 1)

	f.conn.SetUp("screen", true)
	f.tick(time.Second)
	assert.Equal(t, f.conn.Attempts("screen"), 3)
	assert.Assert(t, first != nil)
	assert.Equal(t, first, second)
}

func TestLossTriggersReResolution(t *testing.T) {
	f := newFixture()
	f.conn.SetUp("bluescan", true)

	resolved := 0
	var watch func(Handle)
	watch = func(h Handle) {
		resolved++
		f.loc.WatchForLoss(h, func() {
			f.loc.Resolve("bluescan", watch)
		})
	}
	f.loc.Resolve("bluescan", watch)
	f.loop.RunUntilIdle()
	assert.Equal(t, resolved, 1)
	first := f.conn.Latest("bluescan")

	first.Drop()
	f.loop.RunUntilIdle()
	assert.Equal(t, resolved, 2)
	assert.Assert(t, first.Closed())
	second := f.conn.Latest("bluescan")
	assert.Assert(t, second != first)

	cached, _ := f.loc.Cached("bluescan")
	assert.Equal(t, cached, Handle(second))
}

func TestLossWhileServiceDownKeepsRetrying(t *testing.T) {
	f := newFixture()
	f.conn.SetUp("screen", true)

	resolved := 0
	var watch func(Handle)
	watch = func(h Handle) {
		resolved++
		f.loc.WatchForLoss(h, func() { f.loc.Resolve("screen", watch) })
	}
	f.loc.Resolve("screen", watch)
	f.loop.RunUntilIdle()

	f.conn.SetUp("screen", false)
	f.conn.Latest("screen").Drop()
	f.loop.RunUntilIdle()
	assert.Equal(t, f.conn.Attempts("screen"), 2)
	f.tick(time.Second)
	f.tick(time.Second)
	assert.Equal(t, f.conn.Attempts("screen"), 4)

	f.conn.SetUp("screen", true)
	f.tick(time.Second)
	assert.Equal(t, resolved, 2)
}

func TestSupersededLossIgnored(t *testing.T) {
	f := newFixture()
	f.conn.SetUp("screen", true)

	var h Handle
	f.loc.Resolve("screen", func(got Handle) { h = got })
	f.loop.RunUntilIdle()

	losses := 0
	f.loc.WatchForLoss(h, func() { losses++ })
	f.loc.WatchForLoss(h, func() { losses++ })
	f.conn.Latest("screen").Drop()
	f.loop.RunUntilIdle()
	assert.Equal(t, losses, 1)

	stale := internal.NewFakeHandle("screen")
	f.loc.WatchForLoss(stale, func() { losses++ })
	stale.Drop()
	f.loop.RunUntilIdle()
	assert.Equal(t, losses, 1)
}

func TestCloseStopsRetries(t *testing.T) {
	f := newFixture()
	called := false
	f.loc.Resolve("bluescan", func(Handle) { called = true })
	f.loop.RunUntilIdle()

	f.loc.Close()
	f.conn.SetUp("bluescan", true)
	f.tick(5 * time.Second)
	assert.Equal(t, f.conn.Attempts("bluescan"), 1)
	assert.Assert(t, !called)

	f.loc.Resolve("bluescan", func(Handle) { called = true })
	f.loop.RunUntilIdle()
	assert.Assert(t, !called)
}

func TestRetryDelayOption(t *testing.T) {
	c := clock.NewFake(time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC))
	l := loop.New(c)
	fc := internal.NewFakeConnector()
	loc := New(l, func(ctx context.Context, name string) (Handle, error) {
		h, err := fc.Connect(name)
		if err != nil {
			return nil, err
		}
		return h, nil
	}, WithRetryDelay(3*time.Second))

	loc.Resolve("screen", func(Handle) {})
	l.RunUntilIdle()
	c.Advance(2 * time.Second)
	l.RunUntilIdle()
	assert.Equal(t, fc.Attempts("screen"), 1)
	c.Advance(time.Second)
	l.RunUntilIdle()
	assert.Equal(t, fc.Attempts("screen"), 2)
}

func TestInvalidateForcesFreshConnection(t *testing.T) {
	f := newFixture()
	f.conn.SetUp("bluescan", true)

	var h Handle
	f.loc.Resolve("bluescan", func(got Handle) { h = got })
	f.loop.RunUntilIdle()
	losses := 0
	f.loc.WatchForLoss(h, func() { losses++ })

	f.loc.Invalidate(h)
	_, ok := f.loc.Cached("bluescan")
	assert.Assert(t, !ok)
	assert.Assert(t, f.conn.Latest("bluescan").Closed())

	var again Handle
	f.loc.Resolve("bluescan", func(got Handle) { again = got })
	f.loop.RunUntilIdle()
	assert.Equal(t, f.conn.Attempts("bluescan"), 2)
	assert.Assert(t, again != h)

	h.(*internal.FakeHandle).Drop()
	f.loop.RunUntilIdle()
	assert.Equal(t, losses, 0)

	f.loc.Invalidate(h)
	cached, ok := f.loc.Cached("bluescan")
	assert.Assert(t, ok)
	assert.Equal(t, cached, again)
}
