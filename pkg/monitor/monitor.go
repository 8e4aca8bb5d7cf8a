package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/netvigil/netvigil/pkg/blocklist"
	"github.com/netvigil/netvigil/pkg/clock"
	"github.com/netvigil/netvigil/pkg/config"
	"github.com/netvigil/netvigil/pkg/intel"
	"github.com/netvigil/netvigil/pkg/model"
	"github.com/netvigil/netvigil/pkg/probe"
	"github.com/netvigil/netvigil/pkg/store"
)

// overrunAlertThreshold is the number of consecutive scan overruns that
// surface a monitor_overrun alert.
const overrunAlertThreshold = 3

// recentAlertCap bounds the recent-alert ring used by connection and
// initial-state broadcasts.
const recentAlertCap = 100

// NameResolver is the slice of the resolver the monitor needs; tests
// plug in a stub. Cleanup runs once per scan to expire cached entries.
type NameResolver interface {
	ReverseDNS(ctx context.Context, ip string) string
	Cleanup()
}

// entry wraps a table record with scan bookkeeping that never leaves the
// monitor.
type entry struct {
	ep         *model.NetworkEndpoint
	staleScans int
	staleSince time.Time
	present    bool // seen in the previous scan

	// Process I/O counters at last attribution, the byte source for
	// sample synthesis.
	lastReadBytes  uint64
	lastWriteBytes uint64
	lastPID        int32
}

// Summary is the per-scan table digest broadcast to clients.
type Summary struct {
	Active     int `json:"active"`
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Blocked    int `json:"blocked"`
}

// Monitor owns the endpoint table. It is the single writer: scans and
// command handlers mutate the table under one lock, everything exported
// to readers is a clone.
type Monitor struct {
	cfg        config.MonitorConfig
	samplerCfg config.SamplerConfig

	probe     probe.HostProbe
	resolver  NameResolver
	engine    *intel.Engine
	intel     *intel.Loader
	blocklist *blocklist.BlockList
	store     *store.Store
	clk       clock.Clock
	logger    zerolog.Logger

	mu      sync.RWMutex
	table   map[model.EndpointKey]*entry
	scanSeq uint64

	paused    atomic.Bool
	refreshCh chan struct{}

	alertMu     sync.Mutex
	alertQueue  []model.Alert
	recent      []model.Alert
	totalAlerts uint64
	alertSignal chan struct{}

	burst     *burstTracker
	portSweep *portSpreadTracker
	reconnect *reconnectTracker

	consecutiveOverruns int
}

// New wires a monitor. The store may be nil in tests; alerts are then
// kept in memory only.
func New(
	cfg config.MonitorConfig,
	samplerCfg config.SamplerConfig,
	hostProbe probe.HostProbe,
	resolver NameResolver,
	engine *intel.Engine,
	loader *intel.Loader,
	bl *blocklist.BlockList,
	st *store.Store,
	clk clock.Clock,
	logger zerolog.Logger,
) *Monitor {
	if cfg.AlertQueueSize <= 0 {
		cfg.AlertQueueSize = 1000
	}
	return &Monitor{
		cfg:         cfg,
		samplerCfg:  samplerCfg,
		probe:       hostProbe,
		resolver:    resolver,
		engine:      engine,
		intel:       loader,
		blocklist:   bl,
		store:       st,
		clk:         clk,
		logger:      logger.With().Str("component", "monitor").Logger(),
		table:       make(map[model.EndpointKey]*entry),
		refreshCh:   make(chan struct{}, 1),
		alertSignal: make(chan struct{}, 1),
		burst:       newBurstTracker(10 * time.Second),
		portSweep:   newPortSpreadTracker(30 * time.Second),
		reconnect:   newReconnectTracker(time.Minute),
	}
}

// Run executes the scan loop until the context is cancelled. Ticks are
// deadline-based: an overrunning scan makes the next tick fire
// immediately, and three consecutive overruns surface an alert.
func (m *Monitor) Run(ctx context.Context) {
	m.runScan(ctx)

	ticker := m.clk.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Connection monitor stopped")
			return
		case <-m.refreshCh:
			m.runScan(ctx)
		case <-ticker.C():
			if m.paused.Load() {
				continue
			}
			start := m.clk.Now()
			m.runScan(ctx)
			if m.clk.Since(start) > m.cfg.ScanInterval {
				m.consecutiveOverruns++
				if m.consecutiveOverruns >= overrunAlertThreshold {
					m.pushAlert(model.NewAlert(m.clk.Now(), model.AlertMonitorOverrun, "", model.RiskMedium, map[string]interface{}{
						"consecutive": m.consecutiveOverruns,
						"interval":    m.cfg.ScanInterval.String(),
					}))
					m.consecutiveOverruns = 0
				}
			} else {
				m.consecutiveOverruns = 0
			}
		}
	}
}

// AlertSignal fires (coalesced) whenever a new alert is queued. The hub
// uses it to drive the 100 ms alert flush.
func (m *Monitor) AlertSignal() <-chan struct{} {
	return m.alertSignal
}

// pushAlert enqueues an alert, evicting the oldest when the queue is
// full, persists it, and pokes the hub.
func (m *Monitor) pushAlert(a model.Alert) {
	m.alertMu.Lock()
	m.alertQueue = append(m.alertQueue, a)
	if len(m.alertQueue) > m.cfg.AlertQueueSize {
		m.alertQueue = m.alertQueue[len(m.alertQueue)-m.cfg.AlertQueueSize:]
	}
	m.recent = append(m.recent, a)
	if len(m.recent) > recentAlertCap {
		m.recent = m.recent[len(m.recent)-recentAlertCap:]
	}
	m.totalAlerts++
	m.alertMu.Unlock()

	if m.store != nil {
		if err := m.store.AppendAlert(a); err != nil {
			m.logger.Error().Err(err).Str("type", a.Type).Msg("Persisting alert failed")
		}
	}

	select {
	case m.alertSignal <- struct{}{}:
	default:
	}
}

// CorpusReloadFailed is the loader failure hook: surfaces the alert
// required when a reload is rejected.
func (m *Monitor) CorpusReloadFailed(err error) {
	m.pushAlert(model.NewAlert(m.clk.Now(), model.AlertCorpusReloadFailed, "", model.RiskHigh, map[string]interface{}{
		"error": err.Error(),
	}))
}
