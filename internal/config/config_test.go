package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARCHIVEDROP_CATALOG_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.S3.Bucket)
	assert.Equal(t, "ffmpeg", cfg.Tools.FFmpeg)
	assert.Equal(t, 30*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.MaxWorkers)
	assert.Equal(t, []byte("s3cret"), cfg.CatalogSecret())
	assert.Equal(t, DefaultLedgerDir(), cfg.LedgerDir)
	assert.True(t, filepath.IsAbs(cfg.LedgerDir))
}

func TestLoadMakesLedgerDirAbsolute(t *testing.T) {
	t.Setenv("ARCHIVEDROP_CATALOG_SECRET", "x")
	t.Setenv("ARCHIVEDROP_LEDGER_DIR", "ledgers")

	cfg, err := Load()
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "ledgers"), cfg.LedgerDir)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ARCHIVEDROP_CATALOG_SECRET", "x")
	t.Setenv("ARCHIVEDROP_S3_BUCKET", "museum")
	t.Setenv("ARCHIVEDROP_MAX_WORKERS", "1")
	t.Setenv("ARCHIVEDROP_CATALOG_TIMEOUT", "5s")
	t.Setenv("ARCHIVEDROP_QUEUE_PUBLISH", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "museum", cfg.S3.Bucket)
	assert.Equal(t, 1, cfg.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Timeout)
	assert.True(t, cfg.QueuePublish)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("ARCHIVEDROP_CATALOG_SECRET", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingSecret)

	t.Setenv("ARCHIVEDROP_INSECURE", "true")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "archivedrop.yaml")
	require.NoError(t, os.WriteFile(file, []byte("catalog:\n  secret: fromfile\ntools:\n  watermark: /srv/logo.png\n"), 0o644))
	t.Setenv("ARCHIVEDROP_CONFIG", file)
	t.Setenv("ARCHIVEDROP_TOOLS_OCR_LANGUAGE", "deu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Catalog.Secret)
	assert.Equal(t, "/srv/logo.png", cfg.Tools.Watermark)
	assert.Equal(t, "deu", cfg.Tools.OCRLanguage)

	t.Setenv("ARCHIVEDROP_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}
