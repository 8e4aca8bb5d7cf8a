package probe

import (
	"context"
	"errors"

	"github.com/netvigil/netvigil/pkg/model"
)

// ErrPrivilege indicates the process lacks the privilege to enumerate
// sockets; startup treats it as fatal (exit code 3).
var ErrPrivilege = errors.New("insufficient privilege for socket enumeration")

// SocketRecord is one OS-reported socket as handed to the monitor.
type SocketRecord struct {
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
	Protocol   model.Protocol
	State      string
	PID        int32 // 0 when the OS could not attribute the socket
}

// Addr is a per-interface byte counter pair.
type Addr struct {
	Sent uint64 `json:"sent"`
	Recv uint64 `json:"recv"`
}

// NICCounters aggregates interface byte counters, monotonic within a
// boot session.
type NICCounters struct {
	BytesSent    uint64          `json:"bytes_sent"`
	BytesRecv    uint64          `json:"bytes_recv"`
	PerInterface map[string]Addr `json:"per_interface"`
}

// HostProbe abstracts OS-level enumeration so the monitor core stays
// platform-independent and testable. Implementations must return partial
// data with an error rather than crash; the monitor continues the scan
// with whatever it got.
type HostProbe interface {
	// EnumerateSockets lists live inet sockets. Expected to return within
	// 500ms on a healthy host; a failure yields an empty slice and an error.
	EnumerateSockets(ctx context.Context) ([]SocketRecord, error)

	// ProcessInfo resolves pid to a process snapshot, or nil if the
	// process exited between enumeration and query.
	ProcessInfo(ctx context.Context, pid int32) (*model.ProcessInfo, error)

	// NICCounters reads interface byte counters.
	NICCounters(ctx context.Context) (NICCounters, error)
}
