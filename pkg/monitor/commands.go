package monitor

import (
	"fmt"
	"sort"

	"github.com/netvigil/netvigil/pkg/intel"
	"github.com/netvigil/netvigil/pkg/model"
)

// Connections returns a cloned snapshot of the endpoint table, ordered
// by host then port for stable client rendering.
func (m *Monitor) Connections() []*model.NetworkEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.NetworkEndpoint, 0, len(m.table))
	for _, e := range m.table {
		out = append(out, e.ep.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// ConnectionDetail returns the cloned record for one host and port, or
// nil when the table has no such endpoint. An empty protocol matches
// either transport.
func (m *Monitor) ConnectionDetail(host string, port uint16, proto model.Protocol) *model.NetworkEndpoint {
	canonical := model.CanonicalHost(host)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, e := range m.table {
		if key.Host != canonical || key.Port != port {
			continue
		}
		if proto != "" && key.Protocol != proto {
			continue
		}
		return e.ep.Clone()
	}
	return nil
}

// Summary digests the table for the connections_update broadcast.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Summary
	for _, e := range m.table {
		s.Active++
		switch {
		case e.ep.ConnectionState == model.StateBlocked:
			s.Blocked++
		case e.ep.IsSafe:
			s.Safe++
		default:
			s.Suspicious++
		}
	}
	return s
}

// TotalBytes sums traffic over the whole table.
func (m *Monitor) TotalBytes() (sent, received uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.table {
		sent += e.ep.BytesSent
		received += e.ep.BytesReceived
	}
	return sent, received
}

// DrainAlerts hands the queued alerts to the caller and empties the
// queue. The hub calls this on its flush tick.
func (m *Monitor) DrainAlerts() []model.Alert {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	if len(m.alertQueue) == 0 {
		return nil
	}
	out := m.alertQueue
	m.alertQueue = nil
	return out
}

// RecentAlerts returns up to n of the most recent alerts, newest last.
func (m *Monitor) RecentAlerts(n int) []model.Alert {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	return append([]model.Alert(nil), m.recent[len(m.recent)-n:]...)
}

// TotalAlerts returns the lifetime alert count.
func (m *Monitor) TotalAlerts() uint64 {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	return m.totalAlerts
}

// BlockIP adds a host to the block list, flips its table entries to
// BLOCKED with cleared sample windows, and re-evaluates them. Idempotent.
func (m *Monitor) BlockIP(host string) error {
	canonical := model.CanonicalHost(host)
	if canonical == "" {
		return fmt.Errorf("invalid host %q", host)
	}

	changed, err := m.blocklist.Add(canonical)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for key, e := range m.table {
		if key.Host != canonical {
			continue
		}
		e.ep.ConnectionState = model.StateBlocked
		e.ep.Samples = model.NewSampleRing(m.samplerCfg.RingSize)
		m.reassessLocked(key, e)
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info().Str("host", canonical).Msg("Host blocked")
		m.pushAlert(model.NewAlert(m.clk.Now(), model.AlertIPBlocked, canonical, model.RiskHigh, map[string]interface{}{
			"host": canonical,
		}))
	}
	return nil
}

// UnblockIP removes a host from the block list and re-evaluates its
// table entries. The next scan restores the live connection state.
func (m *Monitor) UnblockIP(host string) error {
	canonical := model.CanonicalHost(host)
	if canonical == "" {
		return fmt.Errorf("invalid host %q", host)
	}

	changed, err := m.blocklist.Remove(canonical)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for key, e := range m.table {
		if key.Host != canonical {
			continue
		}
		if e.ep.ConnectionState == model.StateBlocked {
			e.ep.ConnectionState = model.StateStale
		}
		m.reassessLocked(key, e)
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info().Str("host", canonical).Msg("Host unblocked")
		m.pushAlert(model.NewAlert(m.clk.Now(), model.AlertIPUnblocked, canonical, model.RiskLow, map[string]interface{}{
			"host": canonical,
		}))
	}
	return nil
}

// reassessLocked re-runs the engine for one entry. Caller holds m.mu.
func (m *Monitor) reassessLocked(key model.EndpointKey, e *entry) {
	blocked := m.blocklist.Contains(key.Host)
	assessment := m.engine.Assess(m.intel.Corpus(), intel.Input{
		Endpoint:             e.ep,
		Blocked:              blocked,
		ProcessEndpointOpens: m.burst.count(e.lastPID, m.clk.Now()),
		RemotePortSpread:     m.portSweep.count(key.Host, m.clk.Now()),
	})
	e.ep.Assessment = &assessment
	e.ep.IsSafe = !blocked && !assessment.RiskLevel.Above(model.RiskMedium)
}

// Pause suspends scheduled scans. Command handlers keep working.
func (m *Monitor) Pause() {
	if m.paused.CompareAndSwap(false, true) {
		m.logger.Info().Msg("Monitoring paused")
	}
}

// Resume re-enables scheduled scans.
func (m *Monitor) Resume() {
	if m.paused.CompareAndSwap(true, false) {
		m.logger.Info().Msg("Monitoring resumed")
	}
}

// Paused reports whether scheduled scans are suspended.
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}

// RefreshNow requests an immediate out-of-cycle scan. Coalesced when one
// is already pending.
func (m *Monitor) RefreshNow() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}
