package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netvigil/netvigil/pkg/model"
)

// Store manages the on-disk data directory:
//
//	<data-dir>/threat_intel/   corpus files (read by pkg/intel)
//	<data-dir>/blocklist.json  persisted block set (read by pkg/blocklist)
//	<data-dir>/alerts/         append-only JSONL alert log, one file per UTC date
//	<data-dir>/exports/        endpoint-table snapshots, rotated daily
type Store struct {
	root   string
	logger zerolog.Logger

	mu        sync.Mutex
	alertFile *os.File
	alertDate string
}

// Open creates the directory layout under root.
func Open(root string, logger zerolog.Logger) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "threat_intel"), filepath.Join(root, "alerts"), filepath.Join(root, "exports")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
		}
	}
	return &Store{
		root:   root,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// BlocklistPath returns the path of the persisted block set.
func (s *Store) BlocklistPath() string {
	return filepath.Join(s.root, "blocklist.json")
}

// IntelDir returns the threat-intel corpus directory.
func (s *Store) IntelDir() string {
	return filepath.Join(s.root, "threat_intel")
}

// AppendAlert writes one alert as a JSON line to the current date file.
func (s *Store) AppendAlert(alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := alert.Timestamp.UTC().Format("2006-01-02")
	if s.alertFile == nil || s.alertDate != date {
		if s.alertFile != nil {
			s.alertFile.Close()
		}
		path := filepath.Join(s.root, "alerts", date+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening alert log: %w", err)
		}
		s.alertFile = f
		s.alertDate = date
	}

	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	if _, err := s.alertFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending alert: %w", err)
	}
	return nil
}

// ExportSnapshot is the persisted shape of an endpoint-table export.
type ExportSnapshot struct {
	Timestamp   time.Time                `json:"timestamp"`
	Connections []*model.NetworkEndpoint `json:"active_connections"`
	BlockedIPs  []string                 `json:"blocked_ips"`
	Alerts      []model.Alert            `json:"alerts"`
}

// WriteExport writes a timestamped snapshot under exports/ and returns
// the file path.
func (s *Store) WriteExport(snap ExportSnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding export: %w", err)
	}
	name := fmt.Sprintf("export_%s.json", snap.Timestamp.UTC().Format("20060102_150405"))
	path := filepath.Join(s.root, "exports", name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// RotateExports removes export files older than keep days, keeping at
// least the newest file regardless of age.
func (s *Store) RotateExports(keep int) {
	if keep <= 0 {
		keep = 7
	}
	dir := filepath.Join(s.root, "exports")
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Reading exports dir failed")
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "export_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cutoff := time.Now().AddDate(0, 0, -keep)
	for i, name := range names {
		if i == len(names)-1 {
			break
		}
		path := filepath.Join(dir, name)
		st, err := os.Stat(path)
		if err != nil || st.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Removing old export failed")
		}
	}
}

// Close releases the alert log handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertFile != nil {
		err := s.alertFile.Close()
		s.alertFile = nil
		return err
	}
	return nil
}
