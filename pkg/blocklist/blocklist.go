package blocklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netvigil/netvigil/pkg/model"
)

// fileFormat is the persisted shape of blocklist.json.
type fileFormat struct {
	Hosts   []string  `json:"hosts"`
	Updated time.Time `json:"updated"`
}

// BlockList is the authoritative mutable set of blocked hosts. It is
// read-mostly: the monitor consults it on every scan, command handlers
// mutate it. Every mutation is persisted immediately.
type BlockList struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	hosts map[string]struct{}
}

// Load reads blocklist.json from path, tolerating a missing file.
func Load(path string, logger zerolog.Logger) (*BlockList, error) {
	bl := &BlockList{
		path:   path,
		logger: logger.With().Str("component", "blocklist").Logger(),
		hosts:  make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bl, nil
		}
		return nil, fmt.Errorf("reading blocklist: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing blocklist: %w", err)
	}
	for _, h := range ff.Hosts {
		bl.hosts[model.CanonicalHost(h)] = struct{}{}
	}
	bl.logger.Info().Int("hosts", len(bl.hosts)).Msg("Blocklist loaded")
	return bl, nil
}

// Add blocks a host. Returns true when the set changed.
func (b *BlockList) Add(host string) (bool, error) {
	host = model.CanonicalHost(host)
	b.mu.Lock()
	if _, exists := b.hosts[host]; exists {
		b.mu.Unlock()
		return false, nil
	}
	b.hosts[host] = struct{}{}
	b.mu.Unlock()
	return true, b.Save()
}

// Remove unblocks a host. Returns true when the set changed.
func (b *BlockList) Remove(host string) (bool, error) {
	host = model.CanonicalHost(host)
	b.mu.Lock()
	if _, exists := b.hosts[host]; !exists {
		b.mu.Unlock()
		return false, nil
	}
	delete(b.hosts, host)
	b.mu.Unlock()
	return true, b.Save()
}

// Contains reports whether host is blocked.
func (b *BlockList) Contains(host string) bool {
	host = model.CanonicalHost(host)
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[host]
	return ok
}

// Snapshot returns the blocked hosts, sorted.
func (b *BlockList) Snapshot() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		out = append(out, h)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of blocked hosts.
func (b *BlockList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hosts)
}

// Save writes the current set to disk atomically (write then rename).
func (b *BlockList) Save() error {
	ff := fileFormat{Hosts: b.Snapshot(), Updated: time.Now().UTC()}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding blocklist: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("creating blocklist dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing blocklist: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replacing blocklist: %w", err)
	}
	return nil
}
