package internal

import (
	"fmt"
	"sync"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/models"
)

// FakeScanner stands in for a remote scan provider. Scans complete only when
// the test calls Deliver. StartScan answers synchronously.
type FakeScanner struct {
	// StartErr fails StartScan when set.
	StartErr error
	// HoldSubscription leaves new subscriptions pending until Attach.
	HoldSubscription bool
	// HoldStart leaves StartScan pending until FinishStart.
	HoldStart bool

	Starts        []time.Duration
	Subscriptions int
	Closed        bool

	listener models.ResultListener
	pending  []func(error)
}

func (s *FakeScanner) StartScan(d time.Duration, done func(error)) {
	if s.StartErr != nil {
		done(s.StartErr)
		return
	}
	s.Starts = append(s.Starts, d)
	if s.HoldStart {
		s.pending = append(s.pending, done)
		return
	}
	done(nil)
}

// FinishStart completes the oldest held StartScan with err.
func (s *FakeScanner) FinishStart(err error) {
	done := s.pending[0]
	s.pending = s.pending[1:]
	done(err)
}

func (s *FakeScanner) SetResultListener(l models.ResultListener) {
	s.Subscriptions++
	s.listener = l
	if l != nil && !s.HoldSubscription {
		l.OnSubscribed()
	}
}

func (s *FakeScanner) Close() error {
	s.Closed = true
	return nil
}

// Attach completes a held subscription.
func (s *FakeScanner) Attach() { s.listener.OnSubscribed() }

// FailSubscription reports the subscription as lost with err.
func (s *FakeScanner) FailSubscription(err error) { s.listener.OnSubscriptionLost(err) }

// Deliver hands tokens to the listener, as a finished scan would.
func (s *FakeScanner) Deliver(tokens ...string) {
	if s.listener != nil {
		s.listener.OnScanResult(tokens)
	}
}

// RecordingDisplay remembers everything drawn on it. Draws may arrive from
// any goroutine.
type RecordingDisplay struct {
	Err error

	mu    sync.Mutex
	calls []string
}

func (d *RecordingDisplay) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.Err
}

func (d *RecordingDisplay) DisplayText(text string, x, y int) error {
	return d.record(fmt.Sprintf("text %q at %d,%d", text, x, y))
}

func (d *RecordingDisplay) DisplayCentered(text string) error {
	return d.record(fmt.Sprintf("centered %q", text))
}

func (d *RecordingDisplay) SignalPositionLost() error {
	return d.record("position lost")
}

// Calls returns every call so far.
func (d *RecordingDisplay) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Last returns the most recent call, or "".
func (d *RecordingDisplay) Last() string {
	calls := d.Calls()
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1]
}
