package models

import (
	"sync"

	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/bradfitz/slice"
)

// ScanResult is one observation of a beacon
type ScanResult struct {
	Address string
	RSSI    int
}

// ResultSet folds the observations of one scan into the latest rssi per address
type ResultSet struct {
	data  map[string]int
	mutex sync.RWMutex
}

// NewResultSet will return newly init struct
func NewResultSet() *ResultSet {
	return &ResultSet{data: map[string]int{}}
}

// Set records an observation, replacing any earlier reading for the same address
func (rs *ResultSet) Set(addr string, rssi int) {
	addr = util.NormalizeAddr(addr)
	rs.mutex.Lock()
	rs.data[addr] = rssi
	rs.mutex.Unlock()
}

// Get will get from the set
func (rs *ResultSet) Get(addr string) (int, bool) {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	ret, ok := rs.data[util.NormalizeAddr(addr)]
	return ret, ok
}

// Len returns the number of distinct addresses collected
func (rs *ResultSet) Len() int {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	return len(rs.data)
}

// Clear empties the set
func (rs *ResultSet) Clear() {
	rs.mutex.Lock()
	rs.data = map[string]int{}
	rs.mutex.Unlock()
}

// Drain copies out at most max results ordered by address, then clears the set.
// A max <= 0 means no cap.
func (rs *ResultSet) Drain(max int) []ScanResult {
	rs.mutex.Lock()
	data := rs.data
	rs.data = map[string]int{}
	rs.mutex.Unlock()

	results := make([]ScanResult, 0, len(data))
	for addr, rssi := range data {
		results = append(results, ScanResult{addr, rssi})
	}
	slice.Sort(results, func(i, j int) bool {
		return results[i].Address < results[j].Address
	})
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return results
}
