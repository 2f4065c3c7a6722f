package models

import (
	"strings"

	"github.com/pkg/errors"
)

// AdapterState is the power state of the radio adapter as reported by the stack
type AdapterState int

const (
	// AdapterDisconnected means the stack has not reported any state yet
	AdapterDisconnected AdapterState = iota
	AdapterOff
	AdapterOn
	AdapterTurningOn
	AdapterTurningOff
)

func (s AdapterState) String() string {
	switch s {
	case AdapterDisconnected:
		return "Disconnected"
	case AdapterOff:
		return "Off"
	case AdapterOn:
		return "On"
	case AdapterTurningOn:
		return "TurningOn"
	case AdapterTurningOff:
		return "TurningOff"
	}
	return "Unknown"
}

// RegistrationStatus is the outcome of a scan client registration
type RegistrationStatus int

const (
	RegistrationSuccess RegistrationStatus = iota
	RegistrationFailure
)

func (s RegistrationStatus) String() string {
	switch s {
	case RegistrationSuccess:
		return "Success"
	case RegistrationFailure:
		return "Failure"
	}
	return "Unknown"
}

// OperatingMode selects what happens to a fingerprint once a scan completes
type OperatingMode int

const (
	// Find publishes the fingerprint locally and never talks to the finder server
	Find OperatingMode = iota
	// Locate sends the fingerprint, with group/user/location/time metadata, to the finder server
	Locate
)

// ErrUnknownMode is returned by ParseOperatingMode for unrecognized names
var ErrUnknownMode = errors.New("unknown operating mode")

func (m OperatingMode) String() string {
	if m == Locate {
		return "locate"
	}
	return "find"
}

// Upstream reports whether fingerprints are resolved by the finder server in this mode
func (m OperatingMode) Upstream() bool { return m == Locate }

// ParseOperatingMode maps "find" / "locate" (any case) to an OperatingMode
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "find":
		return Find, nil
	case "locate":
		return Locate, nil
	}
	return Find, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// ScanningState says whether scan cycles are being scheduled
type ScanningState int

const (
	ScanningOff ScanningState = iota
	ScanningOn
)

func (s ScanningState) String() string {
	switch s {
	case ScanningOff:
		return "Off"
	case ScanningOn:
		return "On"
	}
	return "Unknown"
}
