// Package navigator runs the positioning loop: it keeps the scan provider and
// the screen connected, triggers scan cycles on an interval, turns results
// into fingerprints and shows where the unit is.
package navigator

import (
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/finder"
	"github.com/Krajiyah/ble-navigator/pkg/locator"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/screen"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("navigator")

// resultGrace is how long after a scan's duration the navigator keeps
// waiting for its results before giving the cycle up.
const resultGrace = 2 * time.Second

// Scanner is the scan provider as seen from here. StartScan completes
// through done and the listener is driven from the loop.
type Scanner interface {
	StartScan(d time.Duration, done func(error))
	SetResultListener(l models.ResultListener)
	Close() error
}

// Resolver sends fingerprints upstream. done runs on the loop.
type Resolver interface {
	Submit(doc finder.Fingerprint, done func(finder.Resolution))
}

// Locator finds services and reports their loss.
type Locator interface {
	Resolve(name string, onResolved func(locator.Handle))
	WatchForLoss(h locator.Handle, onLost func())
	Invalidate(h locator.Handle)
}

// Deps are the collaborators a Navigator is built from.
type Deps struct {
	Locator    Locator
	Finder     Resolver
	NewScanner func(locator.Handle) Scanner
	NewDisplay func(locator.Handle) screen.Display
}

// Settings are the initial cycle parameters.
type Settings struct {
	Mode      models.OperatingMode
	Duration  time.Duration
	Interval  time.Duration
	Metadata  finder.Metadata
	Autostart bool
	// ReconnectDelay spaces out reconnects after a results subscription
	// fails on a live connection.
	ReconnectDelay time.Duration
}

// Status is a snapshot of the navigator.
type Status struct {
	Scanning         models.ScanningState
	Mode             models.OperatingMode
	Duration         time.Duration
	Interval         time.Duration
	ScannerConnected bool
	DisplayConnected bool
	InFlight         bool
	LastLocation     string
	LastFingerprint  *finder.Fingerprint
	Cycles           int
	PositionsLost    int
}

// Navigator owns all positioning state. Every method must run on its loop.
type Navigator struct {
	sched    loop.Scheduler
	deps     Deps
	settings Settings

	// scanner is set once its results subscription is up.
	scanner Scanner
	display screen.Display

	draws   []drawRequest
	drawing bool

	scanning  models.ScanningState
	mode      models.OperatingMode
	duration  time.Duration
	interval  time.Duration
	cycleTask *loop.Task

	inFlight     bool
	starting     bool
	awaiting     bool
	cycleMode    models.OperatingMode
	cycleScanner Scanner
	cycleID      int
	guardTask    *loop.Task
	reconnect    *loop.Task

	lastLocation    string
	lastFingerprint *finder.Fingerprint
	cycles          int
	positionsLost   int
}

// New returns a navigator that has not connected to anything yet.
func New(sched loop.Scheduler, deps Deps, settings Settings) *Navigator {
	if settings.Duration <= 0 {
		settings.Duration = util.DefaultScanDuration
	}
	if settings.ReconnectDelay <= 0 {
		settings.ReconnectDelay = util.DiscoveryRetryDelay
	}
	return &Navigator{
		sched:    sched,
		deps:     deps,
		settings: settings,
		mode:     settings.Mode,
		duration: settings.Duration,
		interval: settings.Interval,
	}
}

// Init starts resolving the scan provider and the screen, and starts
// scanning if configured to.
func (n *Navigator) Init() {
	n.connectScanner()
	n.connectDisplay()
	if n.settings.Autostart {
		if err := n.Start(n.settings.Duration, n.settings.Interval); err != nil {
			log.Warnw("autostart rejected", "err", err)
		}
	}
	log.Infow("navigator started", "mode", n.mode.String(), "autostart", n.settings.Autostart)
}

func (n *Navigator) connectScanner() {
	n.reconnect = nil
	n.deps.Locator.Resolve(util.BluescanServiceName, func(h locator.Handle) {
		k := &scanLink{n: n, h: h, s: n.deps.NewScanner(h)}
		n.deps.Locator.WatchForLoss(h, func() { n.scannerLost(k, 0) })
		k.s.SetResultListener(k)
	})
}

// scannerLost retires k and reconnects after delay. A cycle waiting on k's
// scan is abandoned.
func (n *Navigator) scannerLost(k *scanLink, delay time.Duration) {
	if k.dead {
		return
	}
	k.dead = true
	if n.scanner == k.s {
		n.scanner = nil
	}
	k.s.Close()
	if n.inFlight && n.cycleScanner == k.s && (n.starting || n.awaiting) {
		log.Warnw("scan provider lost mid scan, abandoning cycle", "cycle", n.cycleID)
		n.abandonCycle()
	}
	if delay <= 0 {
		n.connectScanner()
		return
	}
	n.reconnect.Cancel()
	n.reconnect = n.sched.PostDelayed(delay, n.connectScanner)
}

// scanLink is the results listener for one scanner proxy.
type scanLink struct {
	n    *Navigator
	h    locator.Handle
	s    Scanner
	dead bool
}

func (k *scanLink) OnSubscribed() {
	if k.dead {
		return
	}
	k.n.scanner = k.s
	log.Infow("scan provider connected")
}

func (k *scanLink) OnScanResult(tokens []string) {
	if k.dead || k.n.scanner != k.s {
		log.Debugw("dropping results from a retired scanner", "tokens", len(tokens))
		return
	}
	k.n.onScanResult(k.s, tokens)
}

func (k *scanLink) OnSubscriptionLost(err error) {
	if k.dead {
		return
	}
	log.Warnw("scan results subscription lost, reconnecting", "err", err)
	k.n.deps.Locator.Invalidate(k.h)
	k.n.scannerLost(k, k.n.settings.ReconnectDelay)
}

func (n *Navigator) connectDisplay() {
	n.deps.Locator.Resolve(util.ScreenServiceName, func(h locator.Handle) {
		d := n.deps.NewDisplay(h)
		n.display = d
		log.Infow("screen connected")
		n.deps.Locator.WatchForLoss(h, func() {
			if n.display == d {
				n.display = nil
			}
			n.connectDisplay()
		})
	})
}

// Status returns a snapshot.
func (n *Navigator) Status() Status {
	return Status{
		Scanning:         n.scanning,
		Mode:             n.mode,
		Duration:         n.duration,
		Interval:         n.interval,
		ScannerConnected: n.scanner != nil,
		DisplayConnected: n.display != nil,
		InFlight:         n.inFlight,
		LastLocation:     n.lastLocation,
		LastFingerprint:  n.lastFingerprint,
		Cycles:           n.cycles,
		PositionsLost:    n.positionsLost,
	}
}

var errNoDisplay = errors.New("screen service unavailable")

// drawRequest is one screen update. done, if set, runs on the loop with the
// outcome.
type drawRequest struct {
	what string
	draw func(screen.Display) error
	done func(error)
}

// show queues a best effort screen update.
func (n *Navigator) show(what string, draw func(screen.Display) error) {
	n.enqueueDraw(drawRequest{what: what, draw: draw})
}

// enqueueDraw runs screen updates one at a time, in order, off the loop.
func (n *Navigator) enqueueDraw(req drawRequest) {
	n.draws = append(n.draws, req)
	if !n.drawing {
		n.nextDraw()
	}
}

func (n *Navigator) nextDraw() {
	n.drawing = true
	for len(n.draws) > 0 {
		req := n.draws[0]
		n.draws = n.draws[1:]
		d := n.display
		if d == nil {
			log.Debugw("no screen, not showing", "what", req.what)
			if req.done != nil {
				req.done(errNoDisplay)
			}
			continue
		}
		n.sched.Go(func() func() {
			err := req.draw(d)
			return func() {
				if err != nil {
					log.Warnw("screen update failed", "what", req.what, "err", err)
				}
				if req.done != nil {
					req.done(err)
				}
				n.nextDraw()
			}
		})
		return
	}
	n.drawing = false
}
