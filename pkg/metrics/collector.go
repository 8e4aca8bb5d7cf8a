package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/netvigil/netvigil/pkg/probe"
)

// Snapshot is one system metrics sample, shaped for the wire.
type Snapshot struct {
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Disk      DiskStats    `json:"disk"`
	Network   NetworkStats `json:"network"`
	Uptime    uint64       `json:"uptime"`
	Timestamp time.Time    `json:"timestamp"`
}

type CPUStats struct {
	Percent   float64 `json:"percent"`
	Cores     int     `json:"cores"`
	Frequency float64 `json:"frequency"`
}

type MemoryStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

type DiskStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

type NetworkStats struct {
	BytesSent    uint64                `json:"bytes_sent"`
	BytesRecv    uint64                `json:"bytes_recv"`
	PerInterface map[string]probe.Addr `json:"per_interface"`
}

// Collector samples system stats on its own cadence into a small rolling
// window, independent of the connection monitor.
type Collector struct {
	probe    probe.HostProbe
	interval time.Duration
	window   int
	logger   zerolog.Logger

	mu      sync.RWMutex
	samples []Snapshot
}

// NewCollector builds a collector sampling every interval, keeping the
// last window samples.
func NewCollector(hostProbe probe.HostProbe, interval time.Duration, window int, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = time.Second
	}
	if window <= 0 {
		window = 60
	}
	return &Collector{
		probe:    hostProbe,
		interval: interval,
		window:   window,
		logger:   logger.With().Str("component", "metrics").Logger(),
	}
}

// Run samples until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.sample(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Metrics collector stopped")
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

// Latest returns the most recent snapshot, or a zero snapshot before the
// first sample lands.
func (c *Collector) Latest() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return Snapshot{Timestamp: time.Now().UTC()}
	}
	return c.samples[len(c.samples)-1]
}

// Window returns the rolling window oldest-first.
func (c *Collector) Window() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Snapshot(nil), c.samples...)
}

// sample reads all subsystems; a failure in one leaves that section zero
// and the scan continues with partial data.
func (c *Collector) sample(ctx context.Context) {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPU.Percent = percents[0]
	} else if err != nil {
		c.logger.Debug().Err(err).Msg("CPU sample failed")
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Cores = cores
	}
	if freqs, err := cpu.InfoWithContext(ctx); err == nil && len(freqs) > 0 {
		snap.CPU.Frequency = freqs[0].Mhz
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Memory = MemoryStats{Total: vm.Total, Used: vm.Used, Percent: vm.UsedPercent}
	} else {
		c.logger.Debug().Err(err).Msg("Memory sample failed")
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.Disk = DiskStats{Total: du.Total, Used: du.Used, Percent: du.UsedPercent}
	} else {
		c.logger.Debug().Err(err).Msg("Disk sample failed")
	}

	if nic, err := c.probe.NICCounters(ctx); err == nil {
		snap.Network = NetworkStats{
			BytesSent:    nic.BytesSent,
			BytesRecv:    nic.BytesRecv,
			PerInterface: nic.PerInterface,
		}
	} else {
		c.logger.Debug().Err(err).Msg("NIC counter sample failed")
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = uptime
	}

	c.mu.Lock()
	c.samples = append(c.samples, snap)
	if len(c.samples) > c.window {
		c.samples = c.samples[len(c.samples)-c.window:]
	}
	c.mu.Unlock()
}
