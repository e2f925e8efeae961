package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/lomehong/chatplot/pkg/plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, overrides string) (*App, string) {
	t.Helper()

	dir := t.TempDir()
	overridesFile := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(overridesFile, []byte(overrides), 0644))

	config, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)
	config.EnableWebConsole = false
	config.Plugins.Dir = filepath.Join(dir, "plugins")
	config.Plugins.OverridesFile = overridesFile

	app, err := NewApp(config,
		WithCatalog(plugins.Builtins()),
		WithVersion("test"),
		WithAppLogger(logging.NewWithWriter("chatplot", nil, io.Discard)))
	require.NoError(t, err)
	return app, overridesFile
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestAppInitLoadsPlugins(t *testing.T) {
	app, _ := newTestApp(t, `
plugins:
  visualization:
    waterfall_chart:
      enabled: false
`)
	ctx := context.Background()
	require.NoError(t, app.Init(ctx))
	defer app.Stop(ctx)

	assert.Len(t, app.Registry().Keys(), 4)
	assert.Nil(t, app.Console())

	status, err := app.Registry().Status(api.CategoryVisualization, "waterfall_chart")
	require.NoError(t, err)
	assert.Equal(t, api.PluginStateRegistered, status.State)

	_, err = app.Dispatcher().Dispatch(ctx, dispatch.Request{
		Category:  api.CategoryVisualization,
		Name:      "waterfall_chart",
		Operation: api.OperationRender,
	})
	assert.ErrorIs(t, err, api.ErrPluginNotReady)

	_, err = app.Registry().Get(api.CategoryModel, "anomaly_detector")
	assert.NoError(t, err)
}

func TestAppReloadsOnOverridesChange(t *testing.T) {
	app, overridesFile := newTestApp(t, `
plugins:
  visualization:
    waterfall_chart:
      enabled: false
`)
	ctx := context.Background()
	require.NoError(t, app.Init(ctx))
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)

	assert.Error(t, app.Start(ctx))

	require.NoError(t, os.WriteFile(overridesFile, []byte(`
plugins:
  visualization:
    waterfall_chart:
      enabled: true
      config:
        show_totals: false
`), 0644))

	assert.Eventually(t, func() bool {
		status, err := app.Registry().Status(api.CategoryVisualization, "waterfall_chart")
		return err == nil && status.State == api.PluginStateInitialized && status.Config["show_totals"] == false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAppStopRetiresPlugins(t *testing.T) {
	app, _ := newTestApp(t, "")
	ctx := context.Background()
	require.NoError(t, app.Init(ctx))
	require.NoError(t, app.Start(ctx))

	require.NoError(t, app.Stop(ctx))
	assert.Empty(t, app.Registry().Keys())
	require.NoError(t, app.Stop(ctx))
}

func TestAppMCPServer(t *testing.T) {
	app, _ := newTestApp(t, "")
	require.NoError(t, app.Init(context.Background()))

	s1, err := app.MCPServer()
	require.NoError(t, err)
	s2, err := app.MCPServer()
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestAppConsoleConfigChecksLogDirectory(t *testing.T) {
	app, _ := newTestApp(t, "")
	app.config.WebConsole.Health.Directories = []string{"/srv/data"}
	assert.Equal(t, []string{"/srv/data"}, app.consoleConfig().Health.Directories)

	logDir := t.TempDir()
	app.config.Log.Output = logging.LogOutputFile
	app.config.Log.FilePath = filepath.Join(logDir, "chatplot.log")
	assert.Equal(t, []string{"/srv/data", logDir}, app.consoleConfig().Health.Directories)
	assert.Equal(t, []string{"/srv/data"}, app.config.WebConsole.Health.Directories)
}
