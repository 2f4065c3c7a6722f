package util

import "time"

const (
	// BluescanServiceName is the capability name of the scan provider daemon
	BluescanServiceName = "bluescan"
	// ScreenServiceName is the capability name of the display sink daemon
	ScreenServiceName = "screen"
	// NavigatorServiceName is the capability name of the orchestrator's command surface
	NavigatorServiceName = "navigator"
	// TokenDelimiter separates address and rssi in a transferred scan token
	TokenDelimiter = ","
	// MaxScanBeacons caps the number of beacons reported per scan
	MaxScanBeacons = 20
	// DiscoveryRetryDelay is the fixed delay between capability resolution attempts
	DiscoveryRetryDelay = time.Second
	// AdapterRetryDelay is the fixed delay between adapter state checks
	AdapterRetryDelay = time.Second
	// DefaultScanDuration is how long a single scan collects results
	DefaultScanDuration = time.Second
	// FinderTimeout bounds one fingerprint round trip to the finder server
	FinderTimeout = 1500 * time.Millisecond
	// IdentifyMarker is shown on the screen when the unit is asked to identify itself
	IdentifyMarker = "Here"
	// PositionLostMarker is shown when a fingerprint could not be resolved
	PositionLostMarker = "Position lost"
)
