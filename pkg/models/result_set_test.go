package models

import (
	"fmt"
	"testing"

	"gotest.tools/assert"
)

func TestSetKeepsLastReading(t *testing.T) {
	rs := NewResultSet()
	rs.Set("aa:bb", -80)
	rs.Set("AA:BB", -60)
	rs.Set("aa:bb", -71)
	assert.Equal(t, rs.Len(), 1)
	rssi, ok := rs.Get("Aa:Bb")
	assert.Assert(t, ok)
	assert.Equal(t, rssi, -71)
}

func TestDrainOrdersCapsAndClears(t *testing.T) {
	rs := NewResultSet()
	for i := 29; i >= 0; i-- {
		rs.Set(fmt.Sprintf("00:00:00:00:00:%02d", i), -i)
	}
	drained := rs.Drain(20)
	assert.Equal(t, len(drained), 20)
	for i, r := range drained {
		assert.Equal(t, r.Address, fmt.Sprintf("00:00:00:00:00:%02d", i))
		assert.Equal(t, r.RSSI, -i)
	}
	assert.Equal(t, rs.Len(), 0)
	assert.Equal(t, len(rs.Drain(20)), 0)
}

func TestDrainIsReproducible(t *testing.T) {
	fill := func() *ResultSet {
		rs := NewResultSet()
		for _, a := range []string{"C", "A", "E", "B", "D"} {
			rs.Set(a, -50)
		}
		return rs
	}
	first := fill().Drain(3)
	second := fill().Drain(3)
	assert.DeepEqual(t, first, second)
	assert.DeepEqual(t, first, []ScanResult{{"A", -50}, {"B", -50}, {"C", -50}})
}

func TestDrainWithoutCap(t *testing.T) {
	rs := NewResultSet()
	rs.Set("B", -2)
	rs.Set("A", -1)
	assert.DeepEqual(t, rs.Drain(0), []ScanResult{{"A", -1}, {"B", -2}})
}
