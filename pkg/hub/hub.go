package hub

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/netvigil/netvigil/pkg/blocklist"
	"github.com/netvigil/netvigil/pkg/config"
	"github.com/netvigil/netvigil/pkg/metrics"
	"github.com/netvigil/netvigil/pkg/model"
	"github.com/netvigil/netvigil/pkg/monitor"
	"github.com/netvigil/netvigil/pkg/store"
	"github.com/netvigil/netvigil/pkg/wire"
)

// Hub fans endpoint-table, metrics and alert updates out to websocket
// clients and dispatches their commands against the monitor.
type Hub struct {
	cfg       config.HubConfig
	version   string
	monitor   *monitor.Monitor
	metrics   *metrics.Collector
	blocklist *blocklist.BlockList
	store     *store.Store
	logger    zerolog.Logger

	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	clients    map[*client]struct{}
	done       chan struct{}

	trendMu sync.Mutex
	trend   trendBasis
}

// trendBasis is the previous broadcast's totals, the baseline for
// per-second rate computation.
type trendBasis struct {
	at     time.Time
	active int
	bytes  uint64
	alerts uint64
}

// New wires a hub. The store may be nil; the export command then fails
// with an error ack.
func New(
	cfg config.HubConfig,
	version string,
	mon *monitor.Monitor,
	collector *metrics.Collector,
	bl *blocklist.BlockList,
	st *store.Store,
	logger zerolog.Logger,
) *Hub {
	if cfg.QueueSoftLimit <= 0 {
		cfg.QueueSoftLimit = 100
	}
	if cfg.QueueHardLimit <= cfg.QueueSoftLimit {
		cfg.QueueHardLimit = 5 * cfg.QueueSoftLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = wire.MaxFrameBytes
	}
	return &Hub{
		cfg:       cfg,
		version:   version,
		monitor:   mon,
		metrics:   collector,
		blocklist: bl,
		store:     st,
		logger:    logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and runs the session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}
	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Run owns the client registry and the broadcast cadences until the
// context is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	metricsTicker := time.NewTicker(h.cfg.MetricsInterval)
	defer metricsTicker.Stop()
	connectionsTicker := time.NewTicker(h.cfg.ConnectionsInterval)
	defer connectionsTicker.Stop()

	// The alert flush timer is armed by the monitor's signal and fires
	// once per coalescing window.
	flushTimer := time.NewTimer(h.cfg.AlertFlushInterval)
	if !flushTimer.Stop() {
		<-flushTimer.C
	}
	flushArmed := false

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				c.disconnect("server shutdown")
				delete(h.clients, c)
			}
			h.logger.Info().Msg("Hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.greet(c)
			h.logger.Info().Str("client", c.id).Int("clients", len(h.clients)).Msg("Client connected")

		case c := <-h.unregister:
			delete(h.clients, c)

		case <-h.monitor.AlertSignal():
			if !flushArmed {
				flushTimer.Reset(h.cfg.AlertFlushInterval)
				flushArmed = true
			}

		case <-flushTimer.C:
			flushArmed = false
			h.flushAlerts()

		case <-metricsTicker.C:
			if len(h.clients) > 0 {
				h.broadcast(wire.NewEnvelope(wire.TypeMetricsUpdate, h.metrics.Latest()))
			}

		case <-connectionsTicker.C:
			if len(h.clients) > 0 {
				h.broadcast(wire.NewEnvelope(wire.TypeConnectionsUpdate, h.connectionsPayload()))
			}
		}
	}
}

func (h *Hub) broadcast(env wire.Envelope) {
	for c := range h.clients {
		c.enqueue(env)
	}
}

// flushAlerts drains the monitor queue and broadcasts everything in one
// batched alert_update.
func (h *Hub) flushAlerts() {
	if alerts := h.monitor.DrainAlerts(); len(alerts) > 0 {
		h.broadcast(wire.NewEnvelope(wire.TypeAlertUpdate, alertsPayload{Alerts: alerts}))
	}
}

// alertsPayload is the alert_update body: every alert drained in one
// flush window travels in a single message.
type alertsPayload struct {
	Alerts []model.Alert `json:"alerts"`
}

// connectionsPayload is the connections_update body.
type connectionsPayload struct {
	ActiveConnections []*model.NetworkEndpoint `json:"active_connections"`
	Alerts            []model.Alert            `json:"alerts"`
	Summary           monitor.Summary          `json:"summary"`
	BlockedIPs        []string                 `json:"blocked_ips"`
	BytesSent         uint64                   `json:"bytes_sent"`
	BytesReceived     uint64                   `json:"bytes_received"`
	TotalAlerts       uint64                   `json:"total_alerts"`
	Trends            Trends                   `json:"trends"`
}

// initialState extends the connections body with metrics and run state
// for a freshly connected client.
type initialState struct {
	Metrics metrics.Snapshot `json:"metrics"`
	connectionsPayload
	Paused bool `json:"paused"`
}

// Trends are per-second rates since the previous connections broadcast.
type Trends struct {
	ConnectionsPerSec float64 `json:"connections_per_sec"`
	BytesPerSec       float64 `json:"bytes_per_sec"`
	AlertsPerSec      float64 `json:"alerts_per_sec"`
}

func (h *Hub) connectionsPayload() connectionsPayload {
	sent, received := h.monitor.TotalBytes()
	summary := h.monitor.Summary()
	totalAlerts := h.monitor.TotalAlerts()
	return connectionsPayload{
		ActiveConnections: h.monitor.Connections(),
		Alerts:            h.monitor.RecentAlerts(0),
		Summary:           summary,
		BlockedIPs:        h.blocklist.Snapshot(),
		BytesSent:         sent,
		BytesReceived:     received,
		TotalAlerts:       totalAlerts,
		Trends:            h.advanceTrends(summary.Active, sent+received, totalAlerts),
	}
}

// advanceTrends computes rates against the previous basis and replaces
// it. The first call reports zero rates.
func (h *Hub) advanceTrends(active int, bytes, alerts uint64) Trends {
	now := time.Now()

	h.trendMu.Lock()
	defer h.trendMu.Unlock()

	prev := h.trend
	h.trend = trendBasis{at: now, active: active, bytes: bytes, alerts: alerts}
	if prev.at.IsZero() {
		return Trends{}
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return Trends{}
	}
	return Trends{
		ConnectionsPerSec: float64(active-prev.active) / elapsed,
		BytesPerSec:       (float64(bytes) - float64(prev.bytes)) / elapsed,
		AlertsPerSec:      float64(alerts-prev.alerts) / elapsed,
	}
}

// greet sends the welcome and full initial state to a new client.
func (h *Hub) greet(c *client) {
	c.enqueue(wire.NewEnvelope(wire.TypeWelcome, map[string]interface{}{
		"server":    "netvigil",
		"version":   h.version,
		"client_id": c.id,
	}))

	c.enqueue(wire.NewEnvelope(wire.TypeInitialState, initialState{
		Metrics:            h.metrics.Latest(),
		connectionsPayload: h.connectionsPayload(),
		Paused:             h.monitor.Paused(),
	}))
}

// hostParam reads the target host of the block and unblock commands.
// Older clients send it as "ip".
func hostParam(cmd wire.Command) (string, bool) {
	if host, ok := cmd.StringParam("host"); ok {
		return host, true
	}
	return cmd.StringParam("ip")
}

// dispatch executes one validated command and queues the reply to the
// issuing client.
func (h *Hub) dispatch(c *client, cmd wire.Command) {
	ack := func(result interface{}) {
		env := wire.NewEnvelope(wire.TypeCommandAck, wire.CommandAck{ID: cmd.ID, OK: true, Result: result})
		env.ID = cmd.ID
		c.enqueue(env)
	}
	fail := func(msg string) {
		env := wire.NewEnvelope(wire.TypeCommandAck, wire.CommandAck{ID: cmd.ID, OK: false, Error: msg})
		env.ID = cmd.ID
		c.enqueue(env)
	}

	switch cmd.Command {
	case wire.CmdHello:
		ack(map[string]interface{}{"server": "netvigil", "version": h.version})

	case wire.CmdPing:
		ack(map[string]interface{}{"pong": true, "server_time": time.Now().UTC()})

	case wire.CmdGetConnections:
		if host, ok := cmd.StringParam("host"); ok {
			port, _ := cmd.IntParam("port")
			proto, _ := cmd.StringParam("protocol")
			detail := h.monitor.ConnectionDetail(host, uint16(port), model.Protocol(strings.ToUpper(proto)))
			if detail == nil {
				fail("no such endpoint")
				return
			}
			ack(detail)
			return
		}
		c.enqueue(wire.NewEnvelope(wire.TypeConnectionsUpdate, h.connectionsPayload()))
		ack(nil)

	case wire.CmdGetAlerts:
		limit, _ := cmd.IntParam("limit")
		ack(map[string]interface{}{"alerts": h.monitor.RecentAlerts(limit)})

	case wire.CmdGetMetrics:
		c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, h.metrics.Latest()))
		ack(nil)

	case wire.CmdBlockIP:
		host, ok := hostParam(cmd)
		if !ok {
			fail("missing host parameter")
			return
		}
		if err := h.monitor.BlockIP(host); err != nil {
			fail(err.Error())
			return
		}
		ack(map[string]interface{}{"blocked": host})

	case wire.CmdUnblockIP:
		host, ok := hostParam(cmd)
		if !ok {
			fail("missing host parameter")
			return
		}
		if err := h.monitor.UnblockIP(host); err != nil {
			fail(err.Error())
			return
		}
		ack(map[string]interface{}{"unblocked": host})

	case wire.CmdPauseMonitoring:
		h.monitor.Pause()
		ack(map[string]interface{}{"paused": true})

	case wire.CmdResumeMonitoring:
		h.monitor.Resume()
		ack(map[string]interface{}{"paused": false})

	case wire.CmdRefreshMetrics:
		h.monitor.RefreshNow()
		c.enqueue(wire.NewEnvelope(wire.TypeMetricsUpdate, h.metrics.Latest()))
		ack(nil)

	case wire.CmdExport:
		if h.store == nil {
			fail("no data directory configured")
			return
		}
		path, err := h.store.WriteExport(store.ExportSnapshot{
			Timestamp:   time.Now().UTC(),
			Connections: h.monitor.Connections(),
			BlockedIPs:  h.blocklist.Snapshot(),
			Alerts:      h.monitor.RecentAlerts(0),
		})
		if err != nil {
			fail(err.Error())
			return
		}
		ack(map[string]interface{}{"path": path})
	}
}
