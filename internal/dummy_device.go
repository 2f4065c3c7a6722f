package internal

import (
	"context"
	"sync"

	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/currantlabs/ble"
)

// DummyDevice is a radio that reports a fixed list of advertisements on
// every scan and then returns ScanErr.
type DummyDevice struct {
	adverts []models.ScanResult

	mu      sync.Mutex
	scanErr error
	scans   int
	stopped bool
}

type dummyAdv struct {
	addr ble.Addr
	rssi int
}

type dummyAddr struct {
	addr string
}

func (addr dummyAddr) String() string { return addr.addr }

func (a dummyAdv) LocalName() string              { return "" }
func (a dummyAdv) ManufacturerData() []byte       { return nil }
func (a dummyAdv) ServiceData() []ble.ServiceData { return nil }
func (a dummyAdv) Services() []ble.UUID           { return nil }
func (a dummyAdv) OverflowService() []ble.UUID    { return nil }
func (a dummyAdv) TxPowerLevel() int              { return 0 }
func (a dummyAdv) Connectable() bool              { return false }
func (a dummyAdv) SolicitedService() []ble.UUID   { return nil }
func (a dummyAdv) RSSI() int                      { return a.rssi }
func (a dummyAdv) Address() ble.Addr              { return a.addr }

func (d *DummyDevice) AddService(svc *ble.Service) error     { return nil }
func (d *DummyDevice) RemoveAllServices() error              { return nil }
func (d *DummyDevice) SetServices(svcs []*ble.Service) error { return nil }
func (d *DummyDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	return nil
}
func (d *DummyDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error { return nil }
func (d *DummyDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	return nil
}
func (d *DummyDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error { return nil }
func (d *DummyDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	return nil
}
func (d *DummyDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) { return nil, nil }

func (d *DummyDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *DummyDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	d.mu.Lock()
	d.scans++
	err := d.scanErr
	d.mu.Unlock()
	for _, r := range d.adverts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h(NewDummyAdv(r.Address, r.RSSI))
	}
	return err
}

// FailScans makes every following scan end with err.
func (d *DummyDevice) FailScans(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanErr = err
}

// Scans returns how many scans were started.
func (d *DummyDevice) Scans() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scans
}

// Stopped reports whether Stop was called.
func (d *DummyDevice) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// NewDummyAdv returns an advertisement seen from addr at rssi.
func NewDummyAdv(addr string, rssi int) ble.Advertisement {
	return dummyAdv{dummyAddr{addr}, rssi}
}

// NewDummyDevice returns a device that reports adverts in order on each scan.
func NewDummyDevice(adverts ...models.ScanResult) *DummyDevice {
	return &DummyDevice{adverts: adverts}
}
