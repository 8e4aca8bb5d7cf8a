package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointDefaults(t *testing.T) {
	now := time.Now()
	key := NewEndpointKey("192.168.1.10", 8080, ProtocolTCP)
	ep := NewEndpoint(key, "ESTABLISHED", now, 100)

	assert.Equal(t, 1, ep.ConnectionCount)
	assert.Equal(t, "ESTABLISHED", ep.ConnectionState)
	assert.Equal(t, EncryptionUnknown, ep.EncryptionType)
	assert.True(t, ep.IsPrivate)
	assert.Equal(t, now, ep.FirstSeen)
	assert.Equal(t, 100, ep.Samples.Cap())
}

func TestAddOpenPortSortedAndDeduplicated(t *testing.T) {
	ep := NewEndpoint(NewEndpointKey("1.1.1.1", 80, ProtocolTCP), "ESTABLISHED", time.Now(), 10)
	for _, p := range []uint16{443, 80, 22, 443, 8080, 22} {
		ep.AddOpenPort(p)
	}
	assert.Equal(t, []uint16{22, 80, 443, 8080}, ep.OpenPorts)
}

func TestBoundedListsCapAtLimit(t *testing.T) {
	ep := NewEndpoint(NewEndpointKey("1.1.1.1", 80, ProtocolTCP), "ESTABLISHED", time.Now(), 10)
	for i := 0; i < MaxBoundedList+50; i++ {
		ep.AddDNSQuery(fmt.Sprintf("q%d.example.com", i))
	}
	require.Len(t, ep.DNSQueries, MaxBoundedList)
	// Oldest entries were dropped.
	assert.Equal(t, "q50.example.com", ep.DNSQueries[0])
}

func TestObserveLatencyEWMA(t *testing.T) {
	ep := NewEndpoint(NewEndpointKey("1.1.1.1", 80, ProtocolTCP), "ESTABLISHED", time.Now(), 10)
	ep.ObserveLatency(100)
	assert.InDelta(t, 100.0, ep.Latency, 0.001)

	ep.ObserveLatency(200)
	assert.InDelta(t, 0.3*200+0.7*100, ep.Latency, 0.001)
}

func TestCloneIsIndependent(t *testing.T) {
	ep := NewEndpoint(NewEndpointKey("1.1.1.1", 443, ProtocolTCP), "ESTABLISHED", time.Now(), 10)
	ep.Process = &ProcessInfo{PID: 42, Name: "curl"}
	ep.Assessment = &SecurityAssessment{RiskLevel: RiskLow, RiskFactors: []string{"x"}}
	ep.AddOpenPort(443)
	ep.Samples.Record(TrafficSample{PayloadSize: 10})

	cp := ep.Clone()

	ep.Process.Name = "changed"
	ep.Assessment.RiskFactors[0] = "changed"
	ep.AddOpenPort(80)
	ep.Samples.Record(TrafficSample{PayloadSize: 20})

	assert.Equal(t, "curl", cp.Process.Name)
	assert.Equal(t, []string{"x"}, cp.Assessment.RiskFactors)
	assert.Equal(t, []uint16{443}, cp.OpenPorts)
	assert.Equal(t, 1, cp.Samples.Len())
}
