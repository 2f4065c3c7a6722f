package internal

import (
	"fmt"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/clock"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
)

// TestEpoch is the fake clock start used across tests.
var TestEpoch = time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC)

// NewTestLoop returns a loop on a fake clock.
func NewTestLoop() (*loop.Loop, *clock.FakeClock) {
	c := clock.NewFake(TestEpoch)
	return loop.New(c), c
}

// Settle runs the loop until nothing is left to do.
func Settle(l *loop.Loop) { l.RunUntilIdle() }

// Tick advances the clock and settles the loop.
func Tick(l *loop.Loop, c *clock.FakeClock, d time.Duration) {
	c.Advance(d)
	l.RunUntilIdle()
}

// TestBeaconAddr returns a stable beacon address for index i.
func TestBeaconAddr(i int) string {
	return fmt.Sprintf("C0:FF:EE:00:%02X:%02X", i/256, i%256)
}

// TestBeacons returns n beacons with descending signal strength.
func TestBeacons(n int) []models.ScanResult {
	out := make([]models.ScanResult, n)
	for i := range out {
		out[i] = models.ScanResult{Address: TestBeaconAddr(i), RSSI: -40 - i}
	}
	return out
}
