package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, logging.LogLevelInfo, config.Log.Level)
	assert.True(t, config.EnableWebConsole)
	assert.Equal(t, "0.0.0.0", config.WebConsole.Host)
	assert.Equal(t, 8000, config.WebConsole.Port)
	assert.Equal(t, 60*time.Second, config.WebConsole.ReadTimeout)
	assert.Equal(t, int64(10<<20), config.Ingest.MaxSize)
	assert.Equal(t, []string{"csv", "json"}, config.Ingest.Extensions)
	assert.Equal(t, "plugins", config.Plugins.Dir)
	assert.Equal(t, "plugins.yaml", config.Plugins.OverridesFile)
	assert.Equal(t, 90.0, config.WebConsole.Health.CPUThreshold)
	assert.Equal(t, 85.0, config.WebConsole.Health.MemoryThreshold)
	assert.Equal(t, 90.0, config.WebConsole.Health.DiskThreshold)
	assert.Equal(t, "/", config.WebConsole.Health.DiskPath)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatplot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
plugins:
  dir: /opt/chatplot/plugins
  rate_limit: 5
  rate_burst: 10
ingest:
  max_size: 2048
web_console:
  port: 9000
  read_timeout: 30s
  allow_origins: ["http://localhost:3000"]
  health:
    cpu_threshold: 0
    directories: ["/var/lib/chatplot"]
`), 0644))

	config, err := LoadConfig(nil, path)
	require.NoError(t, err)

	assert.Equal(t, logging.LogLevelDebug, config.Log.Level)
	assert.Equal(t, logging.LogFormatJSON, config.Log.Format)
	assert.Equal(t, "/opt/chatplot/plugins", config.Plugins.Dir)
	assert.Equal(t, 5.0, config.Plugins.RateLimit)
	assert.Equal(t, 10, config.Plugins.RateBurst)
	assert.Equal(t, int64(2048), config.Ingest.MaxSize)
	assert.Equal(t, 9000, config.WebConsole.Port)
	assert.Equal(t, 30*time.Second, config.WebConsole.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, config.WebConsole.AllowOrigins)
	assert.Equal(t, "/api", config.WebConsole.APIPrefix)
	assert.Equal(t, 0.0, config.WebConsole.Health.CPUThreshold)
	assert.Equal(t, 85.0, config.WebConsole.Health.MemoryThreshold)
	assert.Equal(t, []string{"/var/lib/chatplot"}, config.WebConsole.Health.Directories)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("CHATPLOT_WEB_CONSOLE_PORT", "9100")
	t.Setenv("CHATPLOT_LOG_LEVEL", "warn")

	config, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, 9100, config.WebConsole.Port)
	assert.Equal(t, logging.LogLevelWarn, config.Log.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "chatplot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web_console:\n  port: 70000\n"), 0644))
	_, err = LoadConfig(NewViper(), path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("enable_web_console: false\nweb_console:\n  port: 70000\n"), 0644))
	_, err = LoadConfig(NewViper(), path)
	assert.NoError(t, err)
}
