package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound message types.
const (
	TypeWelcome           = "welcome"
	TypeInitialState      = "initial_state"
	TypeMetricsUpdate     = "metrics_update"
	TypeConnectionsUpdate = "connections_update"
	TypeAlertUpdate       = "alert_update"
	TypeCommandAck        = "command_ack"
	TypeError             = "error"
)

// Inbound command names. The hub validates against this allow-list.
const (
	CmdHello            = "hello"
	CmdPing             = "ping"
	CmdGetConnections   = "get_connections"
	CmdGetAlerts        = "get_alerts"
	CmdGetMetrics       = "get_metrics"
	CmdBlockIP          = "block_ip"
	CmdUnblockIP        = "unblock_ip"
	CmdPauseMonitoring  = "pause_monitoring"
	CmdResumeMonitoring = "resume_monitoring"
	CmdRefreshMetrics   = "refresh_metrics"
	CmdExport           = "export"
)

// MaxFrameBytes caps an inbound frame; larger frames are a protocol error.
const MaxFrameBytes = 1 << 20

// Timestamp wraps time.Time to serialize as ISO-8601 with millisecond
// precision, UTC, the fixed wire format for all messages.
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Envelope is the outbound message frame: one JSON object per transport
// frame.
type Envelope struct {
	MessageType string      `json:"message_type"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   Timestamp   `json:"timestamp"`
	Error       string      `json:"error,omitempty"`
	ID          string      `json:"id,omitempty"`
}

// NewEnvelope stamps a message with the current time.
func NewEnvelope(messageType string, data interface{}) Envelope {
	return Envelope{
		MessageType: messageType,
		Data:        data,
		Timestamp:   Timestamp(time.Now()),
	}
}

// NewError builds an error reply, optionally echoing the command id.
func NewError(msg, id string) Envelope {
	return Envelope{
		MessageType: TypeError,
		Error:       msg,
		ID:          id,
		Timestamp:   Timestamp(time.Now()),
	}
}

// Command is the inbound message frame.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
	ID      string                 `json:"id,omitempty"`
}

// ParseCommand decodes and validates an inbound frame.
func ParseCommand(data []byte) (Command, error) {
	if len(data) > MaxFrameBytes {
		return Command{}, fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command frame: %w", err)
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("missing command field")
	}
	return cmd, nil
}

// StringParam extracts a string parameter by name.
func (c Command) StringParam(name string) (string, bool) {
	v, ok := c.Params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntParam extracts an integer parameter by name (JSON numbers decode as
// float64).
func (c Command) IntParam(name string) (int, bool) {
	v, ok := c.Params[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// CommandAck is the payload of a command_ack message.
type CommandAck struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Allowed reports whether name is a known inbound command.
func Allowed(name string) bool {
	switch name {
	case CmdHello, CmdPing, CmdGetConnections, CmdGetAlerts, CmdGetMetrics,
		CmdBlockIP, CmdUnblockIP, CmdPauseMonitoring, CmdResumeMonitoring,
		CmdRefreshMetrics, CmdExport:
		return true
	}
	return false
}
