package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/dutyhub/internal/config"
)

func withAPI(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prevAddr, prevUser := apiAddr, userID
	apiAddr, userID = srv.URL, "u-123"
	t.Cleanup(func() { apiAddr, userID = prevAddr, prevUser })
}

func TestAPIGet_UnwrapsEnvelope(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u-123", r.Header.Get("X-User-ID"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Page selected","payload":{"view":"onduty"},"now":"05/06/2024 08:00:00"}`))
	})

	var page struct {
		View string `json:"view"`
	}
	msg, err := apiGet("/duties/page", &page)
	require.NoError(t, err)
	assert.Equal(t, "Page selected", msg)
	assert.Equal(t, "onduty", page.View)
}

func TestAPIPost_ErrorCarriesMessage(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"max duty count reached","now":"05/06/2024 08:00:00"}`))
	})

	_, err := apiPost("/duties", map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, "API error (400): max duty count reached", err.Error())
}

func TestAPIDo_NonJSONBody(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := apiDelete("/duties/mine", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCheckHealth(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false,"db":"database is closed","version":"dev","time":"2024-05-06T08:00:00Z"}`))
	})

	health, err := CheckHealth()
	require.Error(t, err)
	require.NotNil(t, health)
	assert.False(t, health.OK)
	assert.Equal(t, "database is closed", health.DB)
}

func TestLoadDaemonConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dutyhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:9000\nduties:\n  max_duty: 4\n"), 0o600))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })

	cmd := &cobra.Command{Use: "daemon"}
	cmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen, "")
	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDBPath(), "")
	cmd.Flags().IntVar(&maxDuty, "max-duty", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--max-duty", "2", "--db", filepath.Join(dir, "x.db")}))

	cfg, err := loadDaemonConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 2, cfg.Duties.MaxDuty)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "x.db"), cfg.Database.Path)
}
