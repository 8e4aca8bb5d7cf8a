package monitor

import (
	"context"
	"time"

	"github.com/netvigil/netvigil/pkg/intel"
	"github.com/netvigil/netvigil/pkg/model"
	"github.com/netvigil/netvigil/pkg/probe"
)

// rapidReconnectThreshold is the number of absent-to-present transitions
// per host within the tracker window that raises an alert.
const rapidReconnectThreshold = 3

// observation is one deduplicated socket with everything gathered for it
// before the table lock is taken.
type observation struct {
	key  model.EndpointKey
	sock probe.SocketRecord
	info *model.ProcessInfo
	rdns string
}

// runScan performs one pass over the probe output and updates the table.
// Slow work (process attribution, reverse DNS) happens before the write
// lock so hub readers are never starved by a scan; the lock covers only
// the table mutation. Two scans over identical probe output leave the
// table in identical state apart from last_seen timestamps.
func (m *Monitor) runScan(ctx context.Context) {
	now := m.clk.Now()

	sockets, err := m.probe.EnumerateSockets(ctx)
	if err != nil {
		// Transient probe failure: keep the table as-is, no stale
		// accounting against data we never got.
		m.logger.Warn().Err(err).Msg("Socket enumeration failed, skipping scan")
		return
	}

	observations := m.gather(ctx, sockets)

	m.mu.Lock()
	m.scanSeq++
	seen := make(map[model.EndpointKey]bool, len(observations))
	for _, o := range observations {
		seen[o.key] = true
		m.apply(o, now)
	}
	m.sweepStale(seen, now)
	m.assessAll(now)
	seq, size := m.scanSeq, len(m.table)
	m.mu.Unlock()

	if m.resolver != nil {
		m.resolver.Cleanup()
	}

	m.logger.Debug().
		Uint64("scan", seq).
		Int("sockets", len(sockets)).
		Int("endpoints", size).
		Msg("Scan complete")
}

// gather deduplicates the probe output and collects process attribution
// and reverse DNS without holding the table write lock. The table is
// only read here, to decide which endpoints are new.
func (m *Monitor) gather(ctx context.Context, sockets []probe.SocketRecord) []observation {
	m.mu.RLock()
	known := make(map[model.EndpointKey]bool, len(m.table))
	for key := range m.table {
		known[key] = true
	}
	m.mu.RUnlock()

	out := make([]observation, 0, len(sockets))
	seen := make(map[model.EndpointKey]bool, len(sockets))
	for _, sock := range sockets {
		if sock.RemoteAddr == "" || sock.RemotePort == 0 {
			continue // listeners and unbound sockets have no remote endpoint
		}
		key := model.NewEndpointKey(sock.RemoteAddr, sock.RemotePort, sock.Protocol)
		if seen[key] {
			continue
		}
		seen[key] = true

		o := observation{key: key, sock: sock}
		if !m.blocklist.Contains(key.Host) {
			info, err := m.probe.ProcessInfo(ctx, sock.PID)
			if err != nil {
				m.logger.Debug().Err(err).Int32("pid", sock.PID).Msg("Process attribution failed")
			}
			o.info = info
		}
		if !known[key] && m.resolver != nil && !model.IsPrivateHost(key.Host) {
			o.rdns = m.resolver.ReverseDNS(ctx, key.Host)
		}
		out = append(out, o)
	}
	return out
}

// apply creates or refreshes the table entry for one observation.
// Caller holds m.mu.
func (m *Monitor) apply(o observation, now time.Time) {
	blocked := m.blocklist.Contains(o.key.Host)

	e, exists := m.table[o.key]
	if !exists {
		ep := model.NewEndpoint(o.key, o.sock.State, now, m.samplerCfg.RingSize)
		if m.engine.IsEncryptedPort(o.key.Port) {
			ep.EncryptionType = model.EncryptionTLS
		}
		ep.ReverseDNS = o.rdns
		e = &entry{ep: ep}
		m.table[o.key] = e
		m.recordArrival(o.sock.PID, o.key, now)
	} else {
		if !e.present {
			// Absent-to-present transition: a fresh connection on a
			// known key.
			e.ep.ConnectionCount++
			m.recordArrival(o.sock.PID, o.key, now)
		}
		e.ep.Touch(o.sock.State, now)
		e.staleScans = 0
		e.staleSince = time.Time{}
	}

	e.ep.AddOpenPort(o.key.Port)
	m.portSweep.record(o.key.Host, o.key.Port, now)

	if blocked {
		e.ep.ConnectionState = model.StateBlocked
		return // blocked hosts carry no live attribution or samples
	}
	m.ingest(e, o, now)
}

// recordArrival feeds the behavioral trackers with a new connection and
// raises the rapid-reconnection alert when a host churns.
func (m *Monitor) recordArrival(pid int32, key model.EndpointKey, now time.Time) {
	m.burst.recordOpen(pid, key, now)
	if n := m.reconnect.record(key.Host, now); n > rapidReconnectThreshold {
		m.pushAlert(model.NewAlert(now, model.AlertRapidReconnection, key.String(), model.RiskMedium, map[string]interface{}{
			"host":  key.Host,
			"count": n,
		}))
	}
}

// classifyEncrypted decides whether traffic counts as encrypted: either
// the destination port is in the configured encrypted set, or the
// payload excerpt carries a TLS record header.
func (m *Monitor) classifyEncrypted(port uint16, payload []byte) bool {
	return m.engine.IsEncryptedPort(port) || probe.LooksLikeTLS(payload)
}

// ingest folds a gathered process snapshot into the entry and
// synthesizes traffic samples from the byte deltas since the previous
// attribution.
func (m *Monitor) ingest(e *entry, o observation, now time.Time) {
	info := o.info
	if info == nil {
		e.ep.Process = nil
		e.lastPID = 0
		return
	}

	if e.lastPID != info.PID {
		// New or changed owner: establish the counter baseline, samples
		// start from the next scan.
		e.lastPID = info.PID
		e.lastReadBytes = info.ReadBytes
		e.lastWriteBytes = info.WriteBytes
		e.ep.Process = info
		return
	}

	encrypted := e.ep.EncryptionType == model.EncryptionTLS || m.classifyEncrypted(e.ep.Port, nil)

	if info.WriteBytes > e.lastWriteBytes {
		delta := info.WriteBytes - e.lastWriteBytes
		e.ep.Samples.Record(model.TrafficSample{
			Timestamp:       now,
			SourcePort:      o.sock.LocalPort,
			DestinationPort: e.ep.Port,
			Protocol:        e.ep.Protocol,
			PayloadSize:     delta,
			IsEncrypted:     encrypted,
			PacketType:      "outbound",
		})
		e.ep.BytesSent += delta
	}
	if info.ReadBytes > e.lastReadBytes {
		delta := info.ReadBytes - e.lastReadBytes
		e.ep.Samples.Record(model.TrafficSample{
			Timestamp:       now,
			SourcePort:      o.sock.LocalPort,
			DestinationPort: e.ep.Port,
			Protocol:        e.ep.Protocol,
			PayloadSize:     delta,
			IsEncrypted:     encrypted,
			PacketType:      "inbound",
		})
		e.ep.BytesReceived += delta
	}
	e.lastReadBytes = info.ReadBytes
	e.lastWriteBytes = info.WriteBytes
	e.ep.Process = info

	if st := e.ep.Samples.Stats(); st.Count > 0 {
		e.ep.AvgPacketSize = st.AvgSize
		if e.ep.EncryptionType == model.EncryptionUnknown {
			e.ep.EncryptionType = model.EncryptionPlain
		}
	}
}

// sweepStale advances stale counters for unseen endpoints and evicts the
// long-dead. Blocked hosts are never evicted. Caller holds m.mu.
func (m *Monitor) sweepStale(seen map[model.EndpointKey]bool, now time.Time) {
	for key, e := range m.table {
		if seen[key] {
			e.present = true
			continue
		}
		e.present = false
		e.staleScans++

		if m.blocklist.Contains(key.Host) {
			e.ep.ConnectionState = model.StateBlocked
			continue
		}
		if e.staleScans < m.cfg.StaleScans {
			continue
		}
		if e.ep.ConnectionState != model.StateStale {
			e.ep.ConnectionState = model.StateStale
			e.staleSince = now
			continue
		}
		if !e.staleSince.IsZero() && now.Sub(e.staleSince) >= m.cfg.EvictAfter {
			delete(m.table, key)
		}
	}
}

// assessAll re-evaluates every endpoint against the current corpus and
// behavioral windows, emitting alerts on upward risk transitions.
// Caller holds m.mu.
func (m *Monitor) assessAll(now time.Time) {
	corpus := m.intel.Corpus()

	for key, e := range m.table {
		blocked := m.blocklist.Contains(key.Host)
		assessment := m.engine.Assess(corpus, intel.Input{
			Endpoint:             e.ep,
			Blocked:              blocked,
			ProcessEndpointOpens: m.burst.count(e.lastPID, now),
			RemotePortSpread:     m.portSweep.count(key.Host, now),
		})

		prev := e.ep.Assessment
		e.ep.Assessment = &assessment
		e.ep.IsSafe = !blocked && !assessment.RiskLevel.Above(model.RiskMedium)

		// A first assessment alerts against a LOW baseline, so endpoints
		// that arrive already elevated are not silent.
		prevLevel := model.RiskLow
		if prev != nil {
			prevLevel = prev.RiskLevel
		}
		if !assessment.RiskLevel.Above(prevLevel) {
			continue
		}
		m.pushAlert(model.NewAlert(now, alertTypeFor(assessment), key.String(), assessment.RiskLevel, map[string]interface{}{
			"host":        key.Host,
			"port":        key.Port,
			"risk_level":  assessment.RiskLevel,
			"previous":    prevLevel,
			"factors":     assessment.RiskFactors,
			"trust_score": assessment.TrustScore,
		}))
		if assessment.RiskLevel == model.RiskCritical {
			m.pushAlert(model.NewAlert(now, model.AlertCriticalEndpoint, key.String(), model.RiskCritical, map[string]interface{}{
				"host": key.Host,
				"port": key.Port,
			}))
		}
	}
}

// alertTypeFor names the escalation alert after its dominant factor so
// scenario-specific alerts (port scan, burst) are recognizable.
func alertTypeFor(a model.SecurityAssessment) string {
	for _, f := range a.RiskFactors {
		switch f {
		case intel.FactorPortScan:
			return model.AlertPortScan
		case intel.FactorConnectionBurst:
			return model.AlertConnectionBurst
		}
	}
	return model.AlertRiskEscalation
}
