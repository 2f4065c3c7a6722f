package navigator

import (
	"context"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/pkg/errors"
)

const (
	actionStart      = "start"
	actionStop       = "stop"
	actionChangeMode = "change_mode"
	actionIdentify   = "identify"
	actionStatus     = "status"
)

type startRequest struct {
	Duration int64 `cbor:"duration"`
	Interval int64 `cbor:"interval"`
}

type changeModeRequest struct {
	Mode string `cbor:"mode"`
}

// StatusReport is the wire form of Status. Durations are milliseconds.
type StatusReport struct {
	Scanning      string   `cbor:"scanning"`
	Mode          string   `cbor:"mode"`
	Duration      int64    `cbor:"duration"`
	Interval      int64    `cbor:"interval"`
	Scanner       bool     `cbor:"scanner"`
	Display       bool     `cbor:"display"`
	InFlight      bool     `cbor:"in_flight"`
	LastLocation  string   `cbor:"last_location,omitempty"`
	LastBeacons   []string `cbor:"last_beacons,omitempty"`
	Cycles        int      `cbor:"cycles"`
	PositionsLost int      `cbor:"positions_lost"`
}

func reportOf(st Status) StatusReport {
	r := StatusReport{
		Scanning:      st.Scanning.String(),
		Mode:          st.Mode.String(),
		Duration:      st.Duration.Milliseconds(),
		Interval:      st.Interval.Milliseconds(),
		Scanner:       st.ScannerConnected,
		Display:       st.DisplayConnected,
		InFlight:      st.InFlight,
		LastLocation:  st.LastLocation,
		Cycles:        st.Cycles,
		PositionsLost: st.PositionsLost,
	}
	if st.LastFingerprint != nil {
		for _, b := range st.LastFingerprint.Beacons {
			r.LastBeacons = append(r.LastBeacons, models.EncodeToken(models.ScanResult{Address: b.MAC, RSSI: b.RSSI}))
		}
	}
	return r
}

// Serve binds the command surface of n onto srv. Commands run on l.
func Serve(srv *ipc.Server, l *loop.Loop, n *Navigator) {
	srv.Handle(actionStart, func(ctx context.Context, raw []byte) (interface{}, error) {
		var req startRequest
		if err := ipc.Unmarshal(raw, &req); err != nil {
			return nil, badParameter("undecodable start request: %v", err)
		}
		return nil, l.Call(ctx, func() error {
			return n.Start(time.Duration(req.Duration)*time.Millisecond, time.Duration(req.Interval)*time.Millisecond)
		})
	})
	srv.Handle(actionStop, func(ctx context.Context, raw []byte) (interface{}, error) {
		return nil, l.Call(ctx, n.Stop)
	})
	srv.Handle(actionChangeMode, func(ctx context.Context, raw []byte) (interface{}, error) {
		var req changeModeRequest
		if err := ipc.Unmarshal(raw, &req); err != nil {
			return nil, badParameter("undecodable change_mode request: %v", err)
		}
		return nil, l.Call(ctx, func() error { return n.ChangeMode(req.Mode) })
	})
	srv.Handle(actionIdentify, func(ctx context.Context, raw []byte) (interface{}, error) {
		result := make(chan error, 1)
		err := l.Call(ctx, func() error {
			n.Identify(func(err error) { result <- err })
			return nil
		})
		if err != nil {
			return nil, err
		}
		select {
		case err := <-result:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	srv.Handle(actionStatus, func(ctx context.Context, raw []byte) (interface{}, error) {
		var st Status
		err := l.Call(ctx, func() error {
			st = n.Status()
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "status issue")
		}
		return reportOf(st), nil
	})
}

// Remote drives a navigator over IPC.
type Remote struct {
	client *ipc.Client
}

// NewRemote wraps client.
func NewRemote(client *ipc.Client) *Remote {
	return &Remote{client: client}
}

// Start asks the navigator to scan every interval for duration.
func (r *Remote) Start(ctx context.Context, duration, interval time.Duration) error {
	return r.client.Call(ctx, actionStart, map[string]interface{}{
		"duration": duration.Milliseconds(),
		"interval": interval.Milliseconds(),
	}, nil)
}

func (r *Remote) Stop(ctx context.Context) error {
	return r.client.Call(ctx, actionStop, nil, nil)
}

func (r *Remote) ChangeMode(ctx context.Context, mode string) error {
	return r.client.Call(ctx, actionChangeMode, map[string]interface{}{"mode": mode}, nil)
}

func (r *Remote) Identify(ctx context.Context) error {
	return r.client.Call(ctx, actionIdentify, nil, nil)
}

func (r *Remote) Status(ctx context.Context) (StatusReport, error) {
	var report StatusReport
	err := r.client.Call(ctx, actionStatus, nil, &report)
	return report, err
}
