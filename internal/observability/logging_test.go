package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-automation/internal/config"
)

func loggerConfig(t *testing.T, env string) (*config.Config, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	return &config.Config{
		App:    config.AppConfig{Name: "support-automation", Version: "1.2.3", Env: env},
		Logger: config.LoggerConfig{Level: "info", Format: "json", Output: path},
	}, path
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		out = append(out, entry)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestLoggerCarriesServiceFields(t *testing.T) {
	cfg, path := loggerConfig(t, "production")
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("ticket escalated")
	_ = logger.Sync()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	require.Equal(t, "ticket escalated", entries[0]["message"])
	require.Equal(t, "info", entries[0]["level"])
	require.Equal(t, "support-automation", entries[0]["service"])
	require.Equal(t, "1.2.3", entries[0]["version"])
	require.Equal(t, "production", entries[0]["env"])
}

func TestDPanicOnlyPanicsInDevelopment(t *testing.T) {
	prod, _ := loggerConfig(t, "production")
	logger, err := NewLogger(prod)
	require.NoError(t, err)
	require.NotPanics(t, func() { logger.DPanic("unexpected state") })

	dev, _ := loggerConfig(t, "development")
	logger, err = NewLogger(dev)
	require.NoError(t, err)
	require.Panics(t, func() { logger.DPanic("unexpected state") })
}

func TestLoggerRejectsBadSettings(t *testing.T) {
	cfg, _ := loggerConfig(t, "production")
	cfg.Logger.Level = "loud"
	_, err := NewLogger(cfg)
	require.Error(t, err)

	cfg, _ = loggerConfig(t, "production")
	cfg.Logger.Format = "xml"
	_, err = NewLogger(cfg)
	require.Error(t, err)
}
