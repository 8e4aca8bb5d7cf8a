package monitor

import (
	"time"

	"github.com/netvigil/netvigil/pkg/model"
)

// burstTracker counts distinct remote endpoints opened per process inside
// a sliding window. Feeds the connection-burst heuristic.
type burstTracker struct {
	window time.Duration
	opens  map[int32]map[model.EndpointKey]time.Time
}

func newBurstTracker(window time.Duration) *burstTracker {
	return &burstTracker{
		window: window,
		opens:  make(map[int32]map[model.EndpointKey]time.Time),
	}
}

func (t *burstTracker) recordOpen(pid int32, key model.EndpointKey, now time.Time) {
	if pid <= 0 {
		return
	}
	m, ok := t.opens[pid]
	if !ok {
		m = make(map[model.EndpointKey]time.Time)
		t.opens[pid] = m
	}
	m[key] = now
}

func (t *burstTracker) count(pid int32, now time.Time) int {
	m, ok := t.opens[pid]
	if !ok {
		return 0
	}
	n := 0
	for key, ts := range m {
		if now.Sub(ts) > t.window {
			delete(m, key)
			continue
		}
		n++
	}
	if len(m) == 0 {
		delete(t.opens, pid)
	}
	return n
}

// portSpreadTracker counts distinct destination ports per remote host
// inside a sliding window. Feeds the port-scan heuristic.
type portSpreadTracker struct {
	window time.Duration
	ports  map[string]map[uint16]time.Time
}

func newPortSpreadTracker(window time.Duration) *portSpreadTracker {
	return &portSpreadTracker{
		window: window,
		ports:  make(map[string]map[uint16]time.Time),
	}
}

func (t *portSpreadTracker) record(host string, port uint16, now time.Time) {
	m, ok := t.ports[host]
	if !ok {
		m = make(map[uint16]time.Time)
		t.ports[host] = m
	}
	m[port] = now
}

func (t *portSpreadTracker) count(host string, now time.Time) int {
	m, ok := t.ports[host]
	if !ok {
		return 0
	}
	n := 0
	for port, ts := range m {
		if now.Sub(ts) > t.window {
			delete(m, port)
			continue
		}
		n++
	}
	if len(m) == 0 {
		delete(t.ports, host)
	}
	return n
}

// reconnectTracker records absent-to-present transitions per host to
// detect rapid reconnect churn.
type reconnectTracker struct {
	window time.Duration
	times  map[string][]time.Time
}

func newReconnectTracker(window time.Duration) *reconnectTracker {
	return &reconnectTracker{
		window: window,
		times:  make(map[string][]time.Time),
	}
}

// record adds a transition and returns how many landed inside the window.
func (t *reconnectTracker) record(host string, now time.Time) int {
	kept := t.times[host][:0]
	for _, ts := range t.times[host] {
		if now.Sub(ts) <= t.window {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.times[host] = kept
	return len(kept)
}
