package navigator

import (
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/bluescan"
	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/screen"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/pkg/errors"
)

// Banner positions used by the command surface.
const (
	bannerX = 20
	bannerY = 10
)

// CommandError is how a command reports a failure its caller can act on.
type CommandError struct {
	Kind    string
	Message string
}

func (e *CommandError) Error() string { return e.Kind + ": " + e.Message }

// Code returns Kind; it is what travels over IPC.
func (e *CommandError) Code() string { return e.Kind }

func unavailable(format string, args ...interface{}) error {
	return &CommandError{Kind: ipc.CodeUnavailable, Message: errors.Errorf(format, args...).Error()}
}

func badParameter(format string, args ...interface{}) error {
	return &CommandError{Kind: ipc.CodeBadParameter, Message: errors.Errorf(format, args...).Error()}
}

// Start turns scanning on. Parameters are updated even when scanning is
// already on, but no extra cycle is scheduled in that case.
func (n *Navigator) Start(duration, interval time.Duration) error {
	if duration <= 0 {
		return badParameter("duration must be positive, got %s", duration)
	}
	if interval <= 0 {
		return badParameter("interval must be positive, got %s", interval)
	}
	n.duration = duration
	n.interval = interval
	if n.scanning == models.ScanningOn {
		log.Debugw("start while scanning, parameters updated", "duration", duration, "interval", interval)
		return nil
	}
	n.scanning = models.ScanningOn
	n.scheduleNext()
	log.Infow("scanning on", "duration", duration, "interval", interval, "mode", n.mode.String())
	n.show("banner", func(d screen.Display) error { return d.DisplayText("ON", bannerX, bannerY) })
	return nil
}

// Stop turns scanning off. A cycle already running still finishes but does
// not schedule another.
func (n *Navigator) Stop() error {
	wasOn := n.scanning == models.ScanningOn
	n.stopScanning()
	if wasOn {
		log.Infow("scanning off")
	}
	n.show("banner", func(d screen.Display) error { return d.DisplayText("OFF", bannerX, bannerY) })
	return nil
}

func (n *Navigator) stopScanning() {
	n.scanning = models.ScanningOff
	n.cycleTask.Cancel()
	n.cycleTask = nil
}

// ChangeMode switches the operating mode and turns scanning off.
func (n *Navigator) ChangeMode(name string) error {
	mode, err := models.ParseOperatingMode(name)
	if err != nil {
		return badParameter("%v", err)
	}
	n.mode = mode
	n.stopScanning()
	log.Infow("mode changed, scanning off", "mode", mode.String())
	return nil
}

// Identify shows the identify marker and runs one cycle regardless of
// whether scanning is on. done runs on the loop once the scan has started or
// the command has failed.
func (n *Navigator) Identify(done func(error)) {
	if n.display == nil {
		done(unavailable("%s service unavailable", util.ScreenServiceName))
		return
	}
	if n.scanner == nil {
		done(unavailable("%s service unavailable", util.BluescanServiceName))
		return
	}
	n.enqueueDraw(drawRequest{
		what: "identify",
		draw: func(d screen.Display) error { return d.DisplayText(util.IdentifyMarker, bannerX, bannerY) },
		done: func(err error) {
			if errors.Cause(err) == errNoDisplay {
				done(unavailable("%s service unavailable", util.ScreenServiceName))
				return
			}
			if err != nil {
				done(errors.Wrap(err, "identify display issue"))
				return
			}
			n.beginCycle(func(err error) { done(identifyError(err)) })
		},
	})
}

func identifyError(err error) error {
	switch errors.Cause(err) {
	case nil:
		return nil
	case errNoScanner:
		return unavailable("%s service unavailable", util.BluescanServiceName)
	case bluescan.ErrNotReady:
		return unavailable("scan provider not ready")
	case bluescan.ErrAlreadyScanning, errCycleInFlight:
		return unavailable("scan already in progress")
	case errCycleAbandoned:
		return unavailable("scan provider lost")
	}
	return errors.Wrap(err, "identify scan issue")
}
