package finder

import (
	"encoding/json"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/models"
)

// Beacon is one entry of the fingerprint list.
type Beacon struct {
	MAC  string `json:"mac"`
	RSSI int    `json:"rssi"`
}

// Metadata identifies who is asking when a fingerprint is sent upstream.
type Metadata struct {
	Group    string
	Username string
	Location string
}

// Fingerprint is the document POSTed to the finder server. The metadata
// fields are only filled for upstream resolution.
type Fingerprint struct {
	Group    string   `json:"group,omitempty"`
	Username string   `json:"username,omitempty"`
	Location string   `json:"location,omitempty"`
	Time     int64    `json:"time,omitempty"`
	Beacons  []Beacon `json:"wifi-fingerprint"`
}

// NewFingerprint builds a bare fingerprint from results, keeping their order.
func NewFingerprint(results []models.ScanResult) Fingerprint {
	beacons := make([]Beacon, 0, len(results))
	for _, r := range results {
		beacons = append(beacons, Beacon{MAC: r.Address, RSSI: r.RSSI})
	}
	return Fingerprint{Beacons: beacons}
}

// WithMetadata returns a copy of f stamped with meta and now.
func (f Fingerprint) WithMetadata(meta Metadata, now time.Time) Fingerprint {
	f.Group = meta.Group
	f.Username = meta.Username
	f.Location = meta.Location
	f.Time = now.Unix()
	return f
}

// MarshalJSON always emits the beacon list, as [] when empty.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	type plain Fingerprint
	if f.Beacons == nil {
		f.Beacons = []Beacon{}
	}
	return json.Marshal(plain(f))
}
