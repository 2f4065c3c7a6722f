package models

// AdapterStateHandler is notified when the radio adapter changes power state
type AdapterStateHandler func(prev, next AdapterState)

// ScanResultHandler receives every advertisement observed while scanning
type ScanResultHandler func(ScanResult)

// ClientRegisteredHandler receives the outcome of a scan client registration
type ClientRegisteredHandler func(status RegistrationStatus, clientID int)

// ResultCallback receives the capped, ordered "address,rssi" tokens of one completed scan
type ResultCallback func(tokens []string)

// ResultListener follows a remote results subscription. Every method runs on
// the subscriber's loop.
type ResultListener interface {
	// OnSubscribed fires once the provider has accepted the subscription
	OnSubscribed()
	// OnScanResult receives the tokens of one completed scan
	OnScanResult(tokens []string)
	// OnSubscriptionLost fires once if the subscription could not be opened
	// or ended without being closed by the subscriber
	OnSubscriptionLost(err error)
}
