package navigator

import (
	"fmt"

	"github.com/Krajiyah/ble-navigator/pkg/finder"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/screen"
	"github.com/pkg/errors"
)

var (
	errNoScanner      = errors.New("bluescan service unavailable")
	errCycleInFlight  = errors.New("scan cycle already in progress")
	errCycleAbandoned = errors.New("scan cycle abandoned")
)

// scheduleNext replaces any pending cycle with one interval from now.
func (n *Navigator) scheduleNext() {
	n.cycleTask.Cancel()
	n.cycleTask = n.sched.PostDelayed(n.interval, n.onCycleTimer)
}

func (n *Navigator) onCycleTimer() {
	n.cycleTask = nil
	if n.scanning != models.ScanningOn {
		return
	}
	n.beginCycle(func(err error) {
		switch {
		case err == nil:
		case errors.Cause(err) == errCycleAbandoned:
			log.Infow("scan cycle abandoned before it started")
		default:
			log.Infow("skipping scan cycle", "err", err)
			if n.scanning == models.ScanningOn && n.cycleTask == nil {
				n.scheduleNext()
			}
		}
	})
}

// beginCycle asks the scanner for a scan and reports through done once the
// scan is running or has been refused. The mode in force now governs the
// whole cycle.
func (n *Navigator) beginCycle(done func(error)) {
	if n.scanner == nil {
		done(errNoScanner)
		return
	}
	if n.inFlight {
		done(errCycleInFlight)
		return
	}
	s := n.scanner
	n.inFlight = true
	n.starting = true
	n.cycleMode = n.mode
	n.cycleScanner = s
	n.cycleID++
	id := n.cycleID
	duration := n.duration
	s.StartScan(duration, func(err error) {
		if n.cycleID != id || !n.starting {
			done(errCycleAbandoned)
			return
		}
		n.starting = false
		if err != nil {
			n.inFlight = false
			done(err)
			return
		}
		n.awaiting = true
		n.guardTask = n.sched.PostDelayed(duration+resultGrace, func() {
			if n.awaiting && n.cycleID == id {
				log.Warnw("scan results never arrived, abandoning cycle", "cycle", id)
				n.abandonCycle()
			}
		})
		log.Debugw("scan cycle started", "cycle", id, "mode", n.cycleMode.String(), "duration", duration)
		done(nil)
	})
}

func (n *Navigator) abandonCycle() {
	n.starting = false
	n.awaiting = false
	n.guardTask.Cancel()
	n.finishCycle()
}

func (n *Navigator) onScanResult(from Scanner, tokens []string) {
	if !n.awaiting || from != n.cycleScanner {
		log.Debugw("ignoring scan results outside a cycle", "tokens", len(tokens))
		return
	}
	n.awaiting = false
	n.guardTask.Cancel()

	results, err := models.ParseTokens(tokens)
	if err != nil {
		log.Warnw("bad scan tokens", "cycle", n.cycleID, "err", err)
	}
	doc := finder.NewFingerprint(results)

	if !n.cycleMode.Upstream() {
		n.lastFingerprint = &doc
		label := fmt.Sprintf("%d beacons", len(doc.Beacons))
		n.show("fingerprint", func(d screen.Display) error { return d.DisplayCentered(label) })
		n.finishCycle()
		return
	}

	doc = doc.WithMetadata(n.settings.Metadata, n.sched.Now())
	id := n.cycleID
	n.deps.Finder.Submit(doc, func(res finder.Resolution) {
		n.onResolved(id, res)
	})
}

func (n *Navigator) onResolved(cycle int, res finder.Resolution) {
	outcome := res.Outcome()
	if outcome == finder.Located {
		log.Infow("position resolved", "cycle", cycle, "request", res.RequestID, "location", res.Location)
		n.lastLocation = res.Location
		n.show("location", func(d screen.Display) error { return d.DisplayCentered(res.Location) })
	} else {
		n.positionsLost++
		log.Warnw("position lost",
			"cycle", cycle,
			"request", res.RequestID,
			"outcome", outcome.String(),
			"status", res.Status,
			"err", res.Err,
		)
		n.show("position lost", func(d screen.Display) error { return d.SignalPositionLost() })
	}
	n.finishCycle()
}

// finishCycle ends the in-flight cycle and keeps polling while scanning is on.
func (n *Navigator) finishCycle() {
	n.inFlight = false
	n.cycles++
	if n.scanning == models.ScanningOn {
		n.scheduleNext()
	}
}
