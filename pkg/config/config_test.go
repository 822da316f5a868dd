package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"KR", "CN", "JP", "EU", "US"}, cfg.Regions)
	assert.Equal(t, 2, cfg.MaxRetries())
	assert.Equal(t, "outputs", cfg.OutDir)
	assert.InDelta(t, 66.0, cfg.ValueChain.NearKM, 0)
	assert.InDelta(t, 140.0, cfg.ValueChain.RegionalKM, 0)
	assert.Contains(t, cfg.OEMNames(), "Tesla")
	assert.NotEmpty(t, cfg.CompaniesIn(CategoryBattery))
	assert.NotEmpty(t, cfg.CompaniesIn(CategoryHVAC))
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
companies:
  - name: Tesla
    ticker: TSLA
    category: OEM
    domain: tesla.com
  - name: CATL
    ticker: 300750.SZ
    category: Battery
regions: [KR, EU]
data_dir: fixtures
supervisor:
  max_retries: 0
model:
  provider: anthropic
history:
  kind: sqlite
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Companies, 2)
	assert.Equal(t, []string{"KR", "EU"}, cfg.Regions)
	assert.Equal(t, 0, cfg.MaxRetries())
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.NotEmpty(t, cfg.Model.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "fixtures"), cfg.DataDir)
	assert.Equal(t, filepath.Join("outputs", "history.db"), cfg.History.Path)

	co, ok := cfg.Company("tesla")
	require.True(t, ok)
	assert.Equal(t, "tesla.com", co.Domain)
	assert.Equal(t, []string{"Tesla"}, cfg.DefaultSubjects())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "regionz: [KR]\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := map[string]string{
		"unknown category": "companies:\n  - name: X\n    category: Tyres\n",
		"duplicate":        "companies:\n  - name: X\n    category: OEM\n  - name: X\n    category: OEM\n",
		"negative retries": "supervisor:\n  max_retries: -1\n",
		"bad provider":     "model:\n  provider: parrot\n",
		"bad history":      "history:\n  kind: floppy\n",
		"thresholds":       "valuechain:\n  near_km: 500\n  regional_km: 100\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EVAGENT_OUT_DIR", "/tmp/evagent-out")
	t.Setenv("EVAGENT_REGIONS", "JP,US")
	t.Setenv("EVAGENT_MAX_RETRIES", "1")
	t.Setenv("EVAGENT_MODEL_PROVIDER", "none")
	t.Setenv("EVAGENT_SUBJECTS", "BYD")

	cfg, err := Load(writeConfig(t, "regions: [KR]\nsupervisor:\n  max_retries: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/evagent-out", cfg.OutDir)
	assert.Equal(t, []string{"JP", "US"}, cfg.Regions)
	assert.Equal(t, 1, cfg.MaxRetries())
	assert.Equal(t, "none", cfg.Model.Provider)
	assert.Equal(t, []string{"BYD"}, cfg.DefaultSubjects())
}

func TestWatcher_EmitsReloadOnChange(t *testing.T) {
	path := writeConfig(t, "regions: [KR]\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })

	w.Start(t.Context())

	require.NoError(t, os.WriteFile(path, []byte("regions: [CN, JP]\n"), 0o644))

	select {
	case r := <-w.Reloads():
		require.NoError(t, r.Err)
		require.NotNil(t, r.Config)
		assert.Equal(t, []string{"CN", "JP"}, r.Config.Regions)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload received")
	}
}

func TestWatcher_ReportsBrokenConfig(t *testing.T) {
	path := writeConfig(t, "regions: [KR]\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })
	w.Start(t.Context())

	require.NoError(t, os.WriteFile(path, []byte("regions: [KR\n"), 0o644))

	select {
	case r := <-w.Reloads():
		require.Error(t, r.Err)
		assert.Nil(t, r.Config)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload received")
	}
}
