package model

import (
	"time"

	"github.com/google/uuid"
)

// Alert types emitted by the monitor and hub.
const (
	AlertRiskEscalation     = "risk_escalation"
	AlertCriticalEndpoint   = "critical_endpoint"
	AlertPortScan           = "port_scan"
	AlertConnectionBurst    = "connection_burst"
	AlertRapidReconnection  = "rapid_reconnection"
	AlertMonitorOverrun     = "monitor_overrun"
	AlertCorpusReloadFailed = "corpus_reload_failed"
	AlertIPBlocked          = "ip_blocked"
	AlertIPUnblocked        = "ip_unblocked"
	AlertInternal           = "internal"
)

// Alert is one security alert record. Details carries type-specific
// context and is kept JSON-friendly.
type Alert struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Endpoint  string                 `json:"endpoint_key,omitempty"`
	Severity  RiskLevel              `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewAlert builds an alert with a fresh ID and the given timestamp.
func NewAlert(ts time.Time, alertType string, endpoint string, severity RiskLevel, details map[string]interface{}) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Type:      alertType,
		Endpoint:  endpoint,
		Severity:  severity,
		Details:   details,
	}
}
