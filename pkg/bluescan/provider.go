// Package bluescan owns the radio: it waits for the adapter, registers a scan
// client and runs timed scans whose deduplicated results are handed to a
// single registered callback as "address,rssi" tokens.
package bluescan

import (
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/Krajiyah/ble-navigator/pkg/util"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("bluescan")

var (
	// ErrNotReady means the scan client is not registered yet
	ErrNotReady = errors.New("scan provider not ready")
	// ErrAlreadyScanning means a scan is still collecting results
	ErrAlreadyScanning = errors.New("scan already in progress")
	// ErrBadDuration means a scan was requested for a non-positive duration
	ErrBadDuration = errors.New("scan duration must be positive")
)

// Stack is the radio driver boundary. Every callback it invokes must run on
// the loop that owns the Provider.
type Stack interface {
	Enable() error
	AdapterState() models.AdapterState
	OnAdapterStateChanged(models.AdapterStateHandler)
	RegisterClient(models.ClientRegisteredHandler) error
	StartScan(clientID int, onResult models.ScanResultHandler) error
	StopScan(clientID int) error
}

// Phase is the provider's position in its startup sequence.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseWaitingForAdapter
	PhaseRegistering
	PhaseReady
	PhaseRegistrationFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseWaitingForAdapter:
		return "waiting-for-adapter"
	case PhaseRegistering:
		return "registering"
	case PhaseReady:
		return "ready"
	case PhaseRegistrationFailed:
		return "registration-failed"
	}
	return "unknown"
}

// Status is a point-in-time view of the provider.
type Status struct {
	Phase          Phase
	Adapter        models.AdapterState
	ClientID       int
	Scanning       bool
	Buffered       int
	CompletedScans int
}

// Option configures a Provider.
type Option func(*Provider)

// WithMaxBeacons caps how many results one scan reports.
func WithMaxBeacons(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxBeacons = n
		}
	}
}

// WithAdapterRetry sets the adapter polling delay.
func WithAdapterRetry(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.adapterRetry = d
		}
	}
}

// Provider is the scan state machine. All methods must run on its loop.
type Provider struct {
	sched        loop.Scheduler
	stack        Stack
	maxBeacons   int
	adapterRetry time.Duration

	phase    Phase
	regGen   int
	clientID int
	pollTask *loop.Task

	scanning bool
	scanGen  int
	stopTask *loop.Task
	results  *models.ResultSet
	callback models.ResultCallback
	scans    int
}

// NewProvider returns an uninitialized provider driving stack.
func NewProvider(sched loop.Scheduler, stack Stack, opts ...Option) *Provider {
	p := &Provider{
		sched:        sched,
		stack:        stack,
		maxBeacons:   util.MaxScanBeacons,
		adapterRetry: util.AdapterRetryDelay,
		results:      models.NewResultSet(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init subscribes to adapter changes, powers the adapter and starts waiting
// for it. Calling it again is a no-op.
func (p *Provider) Init() {
	if p.phase != PhaseUninitialized {
		return
	}
	p.stack.OnAdapterStateChanged(p.onAdapterStateChanged)
	if err := p.stack.Enable(); err != nil {
		log.Warnw("adapter enable failed", "err", err)
	}
	p.awaitAdapter()
}

func (p *Provider) awaitAdapter() {
	p.phase = PhaseWaitingForAdapter
	p.checkAdapter()
}

func (p *Provider) checkAdapter() {
	if p.phase != PhaseWaitingForAdapter {
		return
	}
	state := p.stack.AdapterState()
	if state == models.AdapterOn {
		p.register()
		return
	}
	if state == models.AdapterOff || state == models.AdapterDisconnected {
		if err := p.stack.Enable(); err != nil {
			log.Debugw("adapter enable failed", "err", err)
		}
	}
	log.Debugw("adapter not on, retrying", "state", state.String(), "delay", p.adapterRetry)
	p.pollTask = p.sched.PostDelayed(p.adapterRetry, p.checkAdapter)
}

func (p *Provider) register() {
	p.pollTask.Cancel()
	p.phase = PhaseRegistering
	p.regGen++
	gen := p.regGen
	err := p.stack.RegisterClient(func(status models.RegistrationStatus, clientID int) {
		p.onRegistered(gen, status, clientID)
	})
	if err != nil {
		log.Errorw("scan client registration failed", "err", err)
		p.phase = PhaseRegistrationFailed
	}
}

func (p *Provider) onRegistered(gen int, status models.RegistrationStatus, clientID int) {
	if gen != p.regGen || p.phase != PhaseRegistering {
		log.Debugw("ignoring stale registration", "status", status.String(), "client", clientID)
		return
	}
	if status != models.RegistrationSuccess {
		log.Errorw("scan client registration rejected", "status", status.String())
		p.phase = PhaseRegistrationFailed
		return
	}
	p.clientID = clientID
	p.phase = PhaseReady
	log.Infow("scan provider ready", "client", clientID)
}

func (p *Provider) onAdapterStateChanged(prev, next models.AdapterState) {
	log.Infow("adapter state changed", "from", prev.String(), "to", next.String())
	if next == models.AdapterOn {
		switch p.phase {
		case PhaseWaitingForAdapter, PhaseRegistrationFailed:
			p.register()
		}
		return
	}
	if p.phase == PhaseUninitialized || p.phase == PhaseWaitingForAdapter {
		return
	}
	p.abortScan()
	p.regGen++
	p.clientID = 0
	p.awaitAdapter()
}

func (p *Provider) abortScan() {
	if !p.scanning {
		return
	}
	log.Warnw("scan aborted by adapter change", "buffered", p.results.Len())
	p.stopTask.Cancel()
	p.scanning = false
	p.results.Clear()
}

// StartScan begins a scan that stops itself after d. It does not block.
func (p *Provider) StartScan(d time.Duration) error {
	if p.phase != PhaseReady {
		return ErrNotReady
	}
	if d <= 0 {
		return ErrBadDuration
	}
	if p.scanning {
		return ErrAlreadyScanning
	}
	p.results.Clear()
	p.scanGen++
	gen := p.scanGen
	err := p.stack.StartScan(p.clientID, func(r models.ScanResult) {
		p.onScanResult(gen, r)
	})
	if err != nil {
		return errors.Wrap(err, "start scan issue")
	}
	p.scanning = true
	p.stopTask = p.sched.PostDelayed(d, p.StopScan)
	log.Debugw("scan started", "duration", d)
	return nil
}

func (p *Provider) onScanResult(gen int, r models.ScanResult) {
	if !p.scanning || gen != p.scanGen {
		return
	}
	if !util.ValidAddr(r.Address) {
		log.Warnw("dropping result with unusable address", "addr", r.Address)
		return
	}
	p.results.Set(r.Address, r.RSSI)
}

// StopScan ends the current scan and delivers its results. Outside an
// active scan it only logs.
func (p *Provider) StopScan() {
	if p.phase != PhaseReady {
		log.Infow("stop requested while not ready", "phase", p.phase.String())
		return
	}
	if !p.scanning {
		log.Debug("stop requested with no scan active")
		return
	}
	p.stopTask.Cancel()
	p.scanning = false
	if err := p.stack.StopScan(p.clientID); err != nil {
		log.Warnw("stop scan primitive failed", "err", err)
	}
	tokens := models.EncodeTokens(p.results.Drain(p.maxBeacons))
	p.scans++
	log.Debugw("scan complete", "beacons", len(tokens))
	if p.callback == nil {
		log.Debug("no result callback registered, dropping scan")
		return
	}
	p.callback(tokens)
}

// RegisterResultCallback replaces the result callback. nil unregisters.
func (p *Provider) RegisterResultCallback(cb models.ResultCallback) {
	p.callback = cb
}

// Status returns a snapshot of the provider.
func (p *Provider) Status() Status {
	return Status{
		Phase:          p.phase,
		Adapter:        p.stack.AdapterState(),
		ClientID:       p.clientID,
		Scanning:       p.scanning,
		Buffered:       p.results.Len(),
		CompletedScans: p.scans,
	}
}
