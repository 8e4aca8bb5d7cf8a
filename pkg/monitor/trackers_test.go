package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netvigil/netvigil/pkg/model"
)

func keyFor(host string, port uint16) model.EndpointKey {
	return model.NewEndpointKey(host, port, model.ProtocolTCP)
}

func TestBurstTrackerCountsDistinctEndpointsInWindow(t *testing.T) {
	tr := newBurstTracker(10 * time.Second)
	now := time.Now()

	for i := uint16(0); i < 5; i++ {
		tr.recordOpen(100, keyFor("1.1.1.1", 1000+i), now)
	}
	// Re-recording the same key does not inflate the count.
	tr.recordOpen(100, keyFor("1.1.1.1", 1000), now)

	assert.Equal(t, 5, tr.count(100, now))
	assert.Zero(t, tr.count(999, now))
}

func TestBurstTrackerExpiresOutsideWindow(t *testing.T) {
	tr := newBurstTracker(10 * time.Second)
	now := time.Now()

	tr.recordOpen(100, keyFor("1.1.1.1", 80), now)
	tr.recordOpen(100, keyFor("2.2.2.2", 80), now.Add(9*time.Second))

	assert.Equal(t, 1, tr.count(100, now.Add(12*time.Second)))
	assert.Zero(t, tr.count(100, now.Add(30*time.Second)))
}

func TestBurstTrackerIgnoresUnattributed(t *testing.T) {
	tr := newBurstTracker(10 * time.Second)
	tr.recordOpen(0, keyFor("1.1.1.1", 80), time.Now())
	tr.recordOpen(-1, keyFor("1.1.1.1", 81), time.Now())
	assert.Zero(t, tr.count(0, time.Now()))
}

func TestPortSpreadTracker(t *testing.T) {
	tr := newPortSpreadTracker(30 * time.Second)
	now := time.Now()

	for p := uint16(1000); p < 1010; p++ {
		tr.record("5.5.5.5", p, now)
	}
	tr.record("5.5.5.5", 1000, now.Add(time.Second))

	assert.Equal(t, 10, tr.count("5.5.5.5", now.Add(2*time.Second)))
	assert.Zero(t, tr.count("6.6.6.6", now))

	// Only the refreshed port survives past the window.
	assert.Equal(t, 1, tr.count("5.5.5.5", now.Add(31*time.Second)))
}

func TestReconnectTrackerSlidingWindow(t *testing.T) {
	tr := newReconnectTracker(time.Minute)
	now := time.Now()

	assert.Equal(t, 1, tr.record("h", now))
	assert.Equal(t, 2, tr.record("h", now.Add(10*time.Second)))
	assert.Equal(t, 3, tr.record("h", now.Add(20*time.Second)))

	// The first transition ages out.
	assert.Equal(t, 3, tr.record("h", now.Add(70*time.Second)))
}
