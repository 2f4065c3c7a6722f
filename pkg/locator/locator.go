// Package locator resolves named services and keeps their handles fresh.
//
// Resolution never fails from the caller's point of view: a name that cannot
// be connected is retried on a fixed delay until it can, and the caller's
// continuation runs once a handle exists. Concurrent requests for one name
// share a single attempt.
package locator

import (
	"context"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	mapset "github.com/deckarep/golang-set"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("locator")

// Handle is a live connection to a named service.
type Handle interface {
	Name() string
	// NotifyLost registers fn to run once when the connection drops. fn may
	// be called from any goroutine.
	NotifyLost(fn func())
	Close() error
}

// ConnectFunc makes one attempt at connecting to name. It runs off the loop.
type ConnectFunc func(ctx context.Context, name string) (Handle, error)

// Option configures a Locator.
type Option func(*Locator)

// WithRetryDelay sets the delay between failed attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// Locator is owned by a loop; every method must be called on it.
type Locator struct {
	sched      loop.Scheduler
	connect    ConnectFunc
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	pending  mapset.Set
	waiters  map[string][]func(Handle)
	retries  map[string]*loop.Task
	handles  map[string]Handle
	attempts map[string]int
}

// New returns a Locator that connects with connect and schedules on sched.
func New(sched loop.Scheduler, connect ConnectFunc, opts ...Option) *Locator {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Locator{
		sched:      sched,
		connect:    connect,
		retryDelay: util.DiscoveryRetryDelay,
		ctx:        ctx,
		cancel:     cancel,
		pending:    mapset.NewSet(),
		waiters:    make(map[string][]func(Handle)),
		retries:    make(map[string]*loop.Task),
		handles:    make(map[string]Handle),
		attempts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve calls onResolved with a handle for name once one exists. If a
// handle is cached it is delivered on the next loop turn; otherwise the
// request joins the attempt already pending for name or starts one.
func (l *Locator) Resolve(name string, onResolved func(Handle)) {
	if l.closed {
		return
	}
	if h, ok := l.handles[name]; ok {
		l.sched.Post(func() { onResolved(h) })
		return
	}
	l.waiters[name] = append(l.waiters[name], onResolved)
	if l.pending.Contains(name) {
		log.Debugw("resolution coalesced", "service", name)
		return
	}
	l.pending.Add(name)
	l.attempt(name)
}

func (l *Locator) attempt(name string) {
	l.attempts[name]++
	ctx := l.ctx
	l.sched.Go(func() func() {
		h, err := l.connect(ctx, name)
		return func() { l.finish(name, h, err) }
	})
}

func (l *Locator) finish(name string, h Handle, err error) {
	if l.closed {
		if h != nil {
			h.Close()
		}
		return
	}
	if err != nil {
		log.Debugw("service not available, retrying", "service", name, "attempt", l.attempts[name], "err", err)
		l.retries[name] = l.sched.PostDelayed(l.retryDelay, func() {
			delete(l.retries, name)
			if l.closed {
				return
			}
			l.attempt(name)
		})
		return
	}
	log.Infow("service resolved", "service", name, "attempts", l.attempts[name])
	l.pending.Remove(name)
	delete(l.attempts, name)
	l.handles[name] = h
	waiters := l.waiters[name]
	delete(l.waiters, name)
	for _, w := range waiters {
		w(h)
	}
}

// WatchForLoss arranges for onLost to run on the loop when h drops. The
// cached handle is invalidated first, so onLost may call Resolve directly.
// A loss reported for a handle that is no longer the cached one is ignored.
func (l *Locator) WatchForLoss(h Handle, onLost func()) {
	h.NotifyLost(func() {
		l.sched.Post(func() { l.lost(h, onLost) })
	})
}

func (l *Locator) lost(h Handle, onLost func()) {
	if l.closed {
		return
	}
	name := h.Name()
	if cur, ok := l.Cached(name); !ok || cur != h {
		log.Debugw("ignoring loss of superseded handle", "service", name)
		return
	}
	log.Warnw("service connection lost", "service", name)
	delete(l.handles, name)
	h.Close()
	onLost()
}

// Invalidate drops h from the cache and closes it, for callers that find a
// handle unusable before its connection drops. Loss callbacks registered for
// h will not run. The next Resolve connects afresh.
func (l *Locator) Invalidate(h Handle) {
	name := h.Name()
	if cur, ok := l.Cached(name); !ok || cur != h {
		return
	}
	log.Infow("service handle invalidated", "service", name)
	delete(l.handles, name)
	h.Close()
}

// Cached returns the current handle for name, if any.
func (l *Locator) Cached(name string) (Handle, bool) {
	h, ok := l.handles[name]
	return h, ok
}

// Pending reports whether a resolution for name is outstanding.
func (l *Locator) Pending(name string) bool {
	return l.pending.Contains(name)
}

// Close stops all retries and closes every cached handle. Continuations that
// have not run yet never will.
func (l *Locator) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.cancel()
	for _, t := range l.retries {
		t.Cancel()
	}
	for name, h := range l.handles {
		if err := h.Close(); err != nil {
			log.Debugw("close failed", "service", name, "err", err)
		}
	}
	l.handles = map[string]Handle{}
	l.waiters = map[string][]func(Handle){}
	l.pending.Clear()
}
