package bluescan

import (
	"context"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/currantlabs/ble"
	"github.com/currantlabs/ble/linux"
	"github.com/pkg/errors"
)

const deviceStopTimeout = 2 * time.Second

// DeviceFactory opens the radio device.
type DeviceFactory func() (ble.Device, error)

func newLinuxDevice() (ble.Device, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, errors.Wrap(err, "linux.NewDevice issue")
	}
	return d, nil
}

type activeScan struct {
	cancel context.CancelFunc
}

// HCIStack implements Stack over a Linux HCI device. The adapter counts as On
// once the device has been opened; a scan that dies with a device error
// turns it Off again. Methods must run on the owning loop.
type HCIStack struct {
	sched     loop.Scheduler
	newDevice DeviceFactory

	device     ble.Device
	state      models.AdapterState
	listeners  []models.AdapterStateHandler
	nextClient int
	clients    map[int]bool
	scans      map[int]*activeScan
}

// NewHCIStack returns a stack that opens the default HCI device.
func NewHCIStack(sched loop.Scheduler) *HCIStack {
	return NewHCIStackWithDevice(sched, newLinuxDevice)
}

// NewHCIStackWithDevice returns a stack that opens devices with factory.
func NewHCIStackWithDevice(sched loop.Scheduler, factory DeviceFactory) *HCIStack {
	return &HCIStack{
		sched:     sched,
		newDevice: factory,
		state:     models.AdapterOff,
		clients:   make(map[int]bool),
		scans:     make(map[int]*activeScan),
	}
}

func (s *HCIStack) setState(next models.AdapterState) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	for _, l := range s.listeners {
		l(prev, next)
	}
}

// Enable opens the device off the loop. It returns immediately; the outcome
// arrives as an adapter state change.
func (s *HCIStack) Enable() error {
	if s.state == models.AdapterOn || s.state == models.AdapterTurningOn {
		return nil
	}
	s.setState(models.AdapterTurningOn)
	open := s.newDevice
	s.sched.Go(func() func() {
		var dev ble.Device
		err := util.CatchErrs(func() error {
			d, err := open()
			dev = d
			return err
		})
		return func() {
			if err != nil {
				log.Warnw("hci device open failed", "err", err)
				s.setState(models.AdapterOff)
				return
			}
			s.device = dev
			s.setState(models.AdapterOn)
		}
	})
	return nil
}

// AdapterState returns the current power state.
func (s *HCIStack) AdapterState() models.AdapterState { return s.state }

// OnAdapterStateChanged adds a state listener.
func (s *HCIStack) OnAdapterStateChanged(h models.AdapterStateHandler) {
	s.listeners = append(s.listeners, h)
}

// RegisterClient allocates a scan client id. The outcome is delivered on a
// later loop turn.
func (s *HCIStack) RegisterClient(h models.ClientRegisteredHandler) error {
	if s.state != models.AdapterOn {
		s.sched.Post(func() { h(models.RegistrationFailure, 0) })
		return nil
	}
	s.nextClient++
	id := s.nextClient
	s.clients[id] = true
	s.sched.Post(func() { h(models.RegistrationSuccess, id) })
	return nil
}

// StartScan starts passive scanning with duplicates reported, so RSSI
// updates for a beacon keep arriving.
func (s *HCIStack) StartScan(clientID int, onResult models.ScanResultHandler) error {
	if !s.clients[clientID] {
		return errors.Errorf("unknown scan client %d", clientID)
	}
	if s.device == nil {
		return errors.New("hci device not open")
	}
	if _, ok := s.scans[clientID]; ok {
		return errors.Errorf("client %d already scanning", clientID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	scan := &activeScan{cancel: cancel}
	s.scans[clientID] = scan
	dev := s.device
	handler := func(a ble.Advertisement) {
		r := models.ScanResult{Address: a.Address().String(), RSSI: a.RSSI()}
		s.sched.Post(func() { onResult(r) })
	}
	s.sched.Go(func() func() {
		err := util.CatchErrs(func() error {
			return dev.Scan(ctx, true, handler)
		})
		aborted := ctx.Err() == nil && err != nil
		return func() { s.scanEnded(clientID, scan, aborted, err) }
	})
	return nil
}

func (s *HCIStack) scanEnded(clientID int, scan *activeScan, aborted bool, err error) {
	if s.scans[clientID] == scan {
		delete(s.scans, clientID)
	}
	scan.cancel()
	if !aborted {
		return
	}
	log.Errorw("hci scan failed, closing device", "client", clientID, "err", err)
	s.closeDevice()
	s.setState(models.AdapterOff)
}

// StopScan cancels the client's scan.
func (s *HCIStack) StopScan(clientID int) error {
	scan, ok := s.scans[clientID]
	if !ok {
		return nil
	}
	delete(s.scans, clientID)
	scan.cancel()
	return nil
}

// Close stops every scan and releases the device.
func (s *HCIStack) Close() error {
	for id, scan := range s.scans {
		scan.cancel()
		delete(s.scans, id)
	}
	err := s.closeDevice()
	s.setState(models.AdapterOff)
	return err
}

func (s *HCIStack) closeDevice() error {
	dev := s.device
	s.device = nil
	s.clients = make(map[int]bool)
	if dev == nil {
		return nil
	}
	if err := util.Timeout(dev.Stop, deviceStopTimeout); err != nil {
		return errors.Wrap(err, "hci device stop issue")
	}
	return nil
}
