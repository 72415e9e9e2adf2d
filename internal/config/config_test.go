package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50, cfg.Extraction.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Extraction.BatchDelay)
	assert.Equal(t, 5*time.Second, cfg.Extraction.PageDelay)
	assert.Equal(t, 15*time.Second, cfg.Extraction.APITimeout)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero pages",
			mutate:  func(c *Config) { c.Extraction.Pages = 0 },
			wantErr: "EXTRACT_PAGES",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Extraction.BatchSize = 0 },
			wantErr: "EXTRACT_BATCH_SIZE",
		},
		{
			name:    "no target",
			mutate:  func(c *Config) { c.Extraction.TargetRecords = 0 },
			wantErr: "EXTRACT_TARGET_RECORDS",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Extraction.PageDelay = -time.Second },
			wantErr: "negative",
		},
		{
			name: "inverted date range",
			mutate: func(c *Config) {
				c.Extraction.DateFrom = "2025-06-30"
				c.Extraction.DateTo = "2025-06-01"
			},
			wantErr: "before",
		},
		{
			name:    "malformed date",
			mutate:  func(c *Config) { c.Extraction.DateFrom, c.Extraction.DateTo = "June", "2025-06-30" },
			wantErr: "EXTRACT_DATE_FROM",
		},
		{
			name:    "redis without database",
			mutate:  func(c *Config) { c.Redis.Addr = "localhost:6379" },
			wantErr: "DB_HOST",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
extraction:
  date_from: "2025-06-01"
  date_to: "2025-06-30"
  batch_size: 25
  page_delay: 2s
  pages: 3
portal:
  base_url: https://portal.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("EXTRACT_PAGES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Extraction.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Extraction.PageDelay)
	assert.Equal(t, 7, cfg.Extraction.Pages)
	assert.Equal(t, "https://portal.example.com", cfg.Portal.BaseURL)
	assert.Equal(t, "2025-06-01 - 2025-06-30", cfg.Extraction.DateRange())
	assert.Equal(t, "#orderTB", cfg.Portal.TableSelector)
}

func TestLoad_CredentialsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"ops","password":"secret"}`), 0o600))

	t.Setenv("PORTAL_CREDENTIALS_FILE", path)
	t.Setenv("PORTAL_USERNAME", "")
	t.Setenv("PORTAL_PASSWORD", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Portal.Username)
	assert.Equal(t, "secret", cfg.Portal.Password)
}

func TestLoad_MissingCredentialsFileIsDeferred(t *testing.T) {
	t.Setenv("PORTAL_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Portal.Username)
}

func TestGetStringSliceOrDefault(t *testing.T) {
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	assert.Equal(t, []string{"http://a.test", "http://b.test"},
		getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", nil))
}
