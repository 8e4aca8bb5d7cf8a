package model

import "time"

// ProcessInfo is an immutable snapshot of the process owning an endpoint,
// taken at attribution time and refreshed at most once per scan.
type ProcessInfo struct {
	PID            int32     `json:"pid"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	CommandLine    string    `json:"command_line"`
	Username       string    `json:"username"`
	StartTime      time.Time `json:"start_time"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	Status         string    `json:"status"`
	ReadBytes      uint64    `json:"read_bytes"`
	WriteBytes     uint64    `json:"write_bytes"`
	TCPConnections int       `json:"tcp_connections"`
	UDPConnections int       `json:"udp_connections"`
}
