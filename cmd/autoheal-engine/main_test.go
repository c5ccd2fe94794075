package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

func setupEnv(t *testing.T, fleetURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AUTOHEAL_CONFIG", "")
	t.Setenv("AUTOHEAL_STATE_DIR", dir)
	t.Setenv("AUTOHEAL_ENDPOINTS", "bridge="+fleetURL+"/bridge")
	t.Setenv("AUTOHEAL_SERVICES", "bridge")
	t.Setenv("AUTOHEAL_ALLOWLIST", "bridge")
	t.Setenv("AUTOHEAL_DRY_RUN", "true")
	t.Setenv("AUTOHEAL_LOG_LEVEL", "error")
	return dir
}

func TestTickThenStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	setupEnv(t, srv.URL)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"tick"})
	require.NoError(t, root.Execute())

	var report struct {
		Summary *models.HealthSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.NotNil(t, report.Summary)
	assert.Equal(t, 100.0, report.Summary.RecentSuccessRate)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status"})
	require.NoError(t, root.Execute())

	var status statusOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	require.NotNil(t, status.Health)
	assert.Equal(t, 1, status.Health.SampleCount)
	assert.NotNil(t, status.Correlation)
	assert.NotNil(t, status.Autonomy)
	assert.False(t, status.Maintenance.Active)
}

func TestTickFailsOnBadConfig(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("AUTOHEAL_MODE", "sometimes")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"tick"})
	assert.Error(t, root.Execute())
}

func TestReadStatusReportsCorruptRecords(t *testing.T) {
	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), state.AutonomyStatusFile), []byte("{"), 0o600))
	require.NoError(t, state.SetMaintenance(store, "autohealed-too-often", time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC)))

	out := readStatus(store)
	assert.Nil(t, out.Health)
	assert.Nil(t, out.Autonomy)
	assert.Contains(t, out.Errors, state.AutonomyStatusFile)
	assert.True(t, out.Maintenance.Active)
	assert.Equal(t, "autohealed-too-often", out.Maintenance.Reason)
}
