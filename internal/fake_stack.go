package internal

import (
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/pkg/errors"
)

// FakeStack is a scriptable radio stack. Like a real stack it delivers its
// callbacks on the loop, so tests drive it with RunUntilIdle.
type FakeStack struct {
	sched     loop.Scheduler
	state     models.AdapterState
	listeners []models.AdapterStateHandler

	// AutoEnable turns the adapter On when Enable is called.
	AutoEnable bool
	// ManualRegistration holds registration callbacks until CompleteRegistration.
	ManualRegistration bool
	// RegisterStatus is reported for automatic registrations.
	RegisterStatus models.RegistrationStatus
	// StartErr fails every StartScan when set.
	StartErr error

	EnableCalls   int
	RegisterCalls int
	StartCalls    int
	StopCalls     int

	nextClient int
	pending    []models.ClientRegisteredHandler
	scans      map[int]models.ScanResultHandler
}

// NewFakeStack returns a stack with the adapter Off.
func NewFakeStack(sched loop.Scheduler) *FakeStack {
	return &FakeStack{
		sched:          sched,
		state:          models.AdapterOff,
		RegisterStatus: models.RegistrationSuccess,
		scans:          make(map[int]models.ScanResultHandler),
	}
}

func (s *FakeStack) Enable() error {
	s.EnableCalls++
	if s.AutoEnable {
		s.SetAdapterState(models.AdapterOn)
	}
	return nil
}

func (s *FakeStack) AdapterState() models.AdapterState { return s.state }

func (s *FakeStack) OnAdapterStateChanged(h models.AdapterStateHandler) {
	s.listeners = append(s.listeners, h)
}

// SetAdapterState changes the adapter state now and notifies listeners on a
// later loop turn.
func (s *FakeStack) SetAdapterState(next models.AdapterState) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	if next != models.AdapterOn {
		s.scans = make(map[int]models.ScanResultHandler)
	}
	for _, l := range s.listeners {
		l := l
		s.sched.Post(func() { l(prev, next) })
	}
}

func (s *FakeStack) RegisterClient(h models.ClientRegisteredHandler) error {
	s.RegisterCalls++
	if s.ManualRegistration {
		s.pending = append(s.pending, h)
		return nil
	}
	s.nextClient++
	id, status := s.nextClient, s.RegisterStatus
	s.sched.Post(func() { h(status, id) })
	return nil
}

// PendingRegistrations returns how many registrations await completion.
func (s *FakeStack) PendingRegistrations() int { return len(s.pending) }

// CompleteRegistration answers the i-th held registration.
func (s *FakeStack) CompleteRegistration(i int, status models.RegistrationStatus, clientID int) {
	h := s.pending[i]
	s.sched.Post(func() { h(status, clientID) })
}

func (s *FakeStack) StartScan(clientID int, onResult models.ScanResultHandler) error {
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.state != models.AdapterOn {
		return errors.New("adapter off")
	}
	s.scans[clientID] = onResult
	return nil
}

func (s *FakeStack) StopScan(clientID int) error {
	s.StopCalls++
	delete(s.scans, clientID)
	return nil
}

// Scanning reports whether any client has an active scan.
func (s *FakeStack) Scanning() bool { return len(s.scans) > 0 }

// Advertise delivers one advertisement to every active scan.
func (s *FakeStack) Advertise(addr string, rssi int) {
	r := models.ScanResult{Address: addr, RSSI: rssi}
	for _, h := range s.scans {
		h := h
		s.sched.Post(func() { h(r) })
	}
}
