package hub

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netvigil/netvigil/pkg/config"
	"github.com/netvigil/netvigil/pkg/wire"
)

func testClient(soft, hard int) *client {
	h := New(config.HubConfig{
		MetricsInterval:     time.Second,
		ConnectionsInterval: time.Second,
		AlertFlushInterval:  100 * time.Millisecond,
		QueueSoftLimit:      soft,
		QueueHardLimit:      hard,
		WriteTimeout:        time.Second,
	}, "test", nil, nil, nil, nil, zerolog.Nop())
	return newClient(h, nil)
}

func queueTypes(c *client) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.queue))
	for i, env := range c.queue {
		out[i] = env.MessageType
	}
	return out
}

func TestEnqueueBelowSoftLimit(t *testing.T) {
	c := testClient(4, 8)
	for i := 0; i < 4; i++ {
		c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, nil))
	}
	assert.Len(t, queueTypes(c), 4)
}

func TestEnqueueSoftLimitDropsOldestNonAlert(t *testing.T) {
	c := testClient(3, 10)
	c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))
	c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, nil))
	c.enqueue(wire.NewEnvelope(wire.TypeConnectionsUpdate, nil))

	// Queue is at the soft limit; the oldest non-alert must go.
	c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))

	got := queueTypes(c)
	require.Len(t, got, 3)
	assert.Equal(t, []string{wire.TypeAlertUpdate, wire.TypeConnectionsUpdate, wire.TypeAlertUpdate}, got)
}

func TestEnqueueSoftLimitKeepsAlertsOverRoutine(t *testing.T) {
	c := testClient(2, 10)
	c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))
	c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))

	// An all-alert queue refuses a routine newcomer rather than drop alerts.
	c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, nil))

	got := queueTypes(c)
	require.Len(t, got, 2)
	assert.Equal(t, []string{wire.TypeAlertUpdate, wire.TypeAlertUpdate}, got)
}

func TestEnqueueHardLimitDisconnects(t *testing.T) {
	c := testClient(2, 4)
	for i := 0; i < 4; i++ {
		c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))
	}
	// Hard limit reached: the next enqueue tears the client down.
	c.enqueue(wire.NewEnvelope(wire.TypeAlertUpdate, nil))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.True(t, c.closed)
	assert.Equal(t, "backpressure", c.closeMsg)

	select {
	case <-c.done:
	default:
		t.Fatal("done channel not closed")
	}
}

func TestEnqueueAfterCloseIsNoOp(t *testing.T) {
	c := testClient(2, 4)
	c.disconnect("test")
	c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, nil))
	assert.Empty(t, queueTypes(c))
}

func TestAdvanceTrendsRates(t *testing.T) {
	h := New(config.HubConfig{}, "test", nil, nil, nil, nil, zerolog.Nop())

	first := h.advanceTrends(10, 1000, 2)
	assert.Zero(t, first, "no basis on the first call")

	h.trendMu.Lock()
	h.trend.at = h.trend.at.Add(-2 * time.Second) // pretend 2s elapsed
	h.trendMu.Unlock()

	second := h.advanceTrends(14, 3000, 6)
	assert.InDelta(t, 2.0, second.ConnectionsPerSec, 0.1)
	assert.InDelta(t, 1000.0, second.BytesPerSec, 50)
	assert.InDelta(t, 2.0, second.AlertsPerSec, 0.1)
}

func TestHubConfigFallbacks(t *testing.T) {
	h := New(config.HubConfig{}, "test", nil, nil, nil, nil, zerolog.Nop())
	assert.Equal(t, 100, h.cfg.QueueSoftLimit)
	assert.Equal(t, 500, h.cfg.QueueHardLimit)
	assert.Equal(t, 2*time.Second, h.cfg.WriteTimeout)
	assert.Equal(t, int64(wire.MaxFrameBytes), h.cfg.MaxFrameBytes)
}
