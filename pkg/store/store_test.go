package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netvigil/netvigil/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesLayout(t *testing.T) {
	root := t.TempDir()
	st, err := Open(root, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	for _, dir := range []string{"threat_intel", "alerts", "exports"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(root, "blocklist.json"), st.BlocklistPath())
	assert.Equal(t, filepath.Join(root, "threat_intel"), st.IntelDir())
}

func TestAppendAlertWritesDatedJSONL(t *testing.T) {
	st := newTestStore(t)
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	a1 := model.NewAlert(ts, model.AlertIPBlocked, "203.0.113.7:0/TCP", model.RiskHigh, nil)
	a2 := model.NewAlert(ts.Add(time.Minute), model.AlertRiskEscalation, "1.2.3.4:80/TCP", model.RiskMedium, nil)
	require.NoError(t, st.AppendAlert(a1))
	require.NoError(t, st.AppendAlert(a2))

	f, err := os.Open(filepath.Join(st.root, "alerts", "2026-08-24.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []model.Alert
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a model.Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &a))
		got = append(got, a)
	}
	require.Len(t, got, 2)
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, model.AlertRiskEscalation, got[1].Type)
}

func TestAppendAlertRotatesOnDateChange(t *testing.T) {
	st := newTestStore(t)

	day1 := time.Date(2026, 8, 23, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 24, 0, 1, 0, 0, time.UTC)
	require.NoError(t, st.AppendAlert(model.NewAlert(day1, model.AlertInternal, "", model.RiskLow, nil)))
	require.NoError(t, st.AppendAlert(model.NewAlert(day2, model.AlertInternal, "", model.RiskLow, nil)))

	assert.FileExists(t, filepath.Join(st.root, "alerts", "2026-08-23.jsonl"))
	assert.FileExists(t, filepath.Join(st.root, "alerts", "2026-08-24.jsonl"))
}

func TestWriteExport(t *testing.T) {
	st := newTestStore(t)

	path, err := st.WriteExport(ExportSnapshot{
		Timestamp:  time.Date(2026, 8, 24, 15, 4, 5, 0, time.UTC),
		BlockedIPs: []string{"203.0.113.7"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(st.root, "exports", "export_20260824_150405.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap ExportSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, []string{"203.0.113.7"}, snap.BlockedIPs)
}
