package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/netvigil/netvigil/pkg/model"
)

// SystemProbe implements HostProbe on top of gopsutil.
type SystemProbe struct {
	processTimeout time.Duration
}

// NewSystemProbe returns the gopsutil-backed probe. processTimeout bounds
// each per-process attribution query.
func NewSystemProbe(processTimeout time.Duration) *SystemProbe {
	if processTimeout <= 0 {
		processTimeout = 200 * time.Millisecond
	}
	return &SystemProbe{processTimeout: processTimeout}
}

// enumerateTimeout bounds one socket enumeration pass.
const enumerateTimeout = 500 * time.Millisecond

// EnumerateSockets lists inet sockets with remote peers or in LISTEN state.
func (p *SystemProbe) EnumerateSockets(ctx context.Context) ([]SocketRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, enumerateTimeout)
	defer cancel()

	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		if isPermission(err) {
			return nil, fmt.Errorf("enumerating sockets: %w", ErrPrivilege)
		}
		return nil, fmt.Errorf("enumerating sockets: %w", err)
	}

	records := make([]SocketRecord, 0, len(conns))
	for _, c := range conns {
		proto := model.ProtocolTCP
		if c.Type == syscall.SOCK_DGRAM {
			proto = model.ProtocolUDP
		}
		records = append(records, SocketRecord{
			LocalAddr:  c.Laddr.IP,
			LocalPort:  uint16(c.Laddr.Port),
			RemoteAddr: c.Raddr.IP,
			RemotePort: uint16(c.Raddr.Port),
			Protocol:   proto,
			State:      c.Status,
			PID:        c.Pid,
		})
	}
	return records, nil
}

// ProcessInfo snapshots the process owning a connection. A missing
// process is not an error: the pid may have exited since enumeration.
func (p *SystemProbe) ProcessInfo(ctx context.Context, pid int32) (*model.ProcessInfo, error) {
	if pid <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.processTimeout)
	defer cancel()

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, nil
	}

	info := &model.ProcessInfo{PID: pid}
	info.Name, _ = proc.NameWithContext(ctx)
	info.Path, _ = proc.ExeWithContext(ctx)
	info.CommandLine, _ = proc.CmdlineWithContext(ctx)
	info.Username, _ = proc.UsernameWithContext(ctx)

	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		info.StartTime = time.UnixMilli(created).UTC()
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := proc.MemoryPercentWithContext(ctx); err == nil {
		info.MemoryPercent = float64(mem)
	}
	if status, err := proc.StatusWithContext(ctx); err == nil && len(status) > 0 {
		info.Status = status[0]
	}
	if io, err := proc.IOCountersWithContext(ctx); err == nil && io != nil {
		info.ReadBytes = io.ReadBytes
		info.WriteBytes = io.WriteBytes
	}
	if conns, err := proc.ConnectionsWithContext(ctx); err == nil {
		for _, c := range conns {
			if c.Type == syscall.SOCK_DGRAM {
				info.UDPConnections++
			} else {
				info.TCPConnections++
			}
		}
	}
	return info, nil
}

// NICCounters reads per-interface byte counters and the host totals.
func (p *SystemProbe) NICCounters(ctx context.Context) (NICCounters, error) {
	perNIC, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return NICCounters{}, fmt.Errorf("reading NIC counters: %w", err)
	}
	out := NICCounters{PerInterface: make(map[string]Addr, len(perNIC))}
	for _, nic := range perNIC {
		out.BytesSent += nic.BytesSent
		out.BytesRecv += nic.BytesRecv
		out.PerInterface[nic.Name] = Addr{Sent: nic.BytesSent, Recv: nic.BytesRecv}
	}
	return out, nil
}

// CheckPrivilege verifies the process can enumerate sockets at all.
// Called once at startup so a misconfigured deployment fails fast.
func (p *SystemProbe) CheckPrivilege(ctx context.Context) error {
	_, err := p.EnumerateSockets(ctx)
	if err != nil && errors.Is(err, ErrPrivilege) {
		return ErrPrivilege
	}
	return nil
}

func isPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "permission denied")
}
