package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewer.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := engine.LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultApplicationConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[window]
width = 800
height = 600

[renderer]
backend = "software"
vsync = false
fence_timeout = "250ms"

[scene]
path = "models/box.obj"
`)
	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(600), cfg.Window.Height)
	assert.Equal(t, "Model Viewer", cfg.Window.Name)
	assert.Equal(t, engine.BackendSoftware, cfg.Renderer.Backend)
	assert.False(t, cfg.Renderer.VSync)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FenceTimeout.Duration)
	assert.Equal(t, "models/box.obj", cfg.Scene.Path)
	assert.Equal(t, "assets/shaders", cfg.Scene.Shaders)

	rc := cfg.RenderConfig()
	assert.Equal(t, uint32(800), rc.Width)
	assert.Equal(t, 250*time.Millisecond, rc.FenceTimeout)
}

func TestLoadConfigRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "colour = \"red\"\n",
		"unknown backend": "[renderer]\nbackend = \"metal\"\n",
		"empty window":    "[window]\nwidth = 0\n",
		"bad duration":    "[renderer]\nfence_timeout = \"soon\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestConfigPathFromEnvironment(t *testing.T) {
	t.Setenv(engine.ConfigEnvVar, "")
	assert.Equal(t, engine.DefaultConfigPath, engine.ConfigPath())
	t.Setenv(engine.ConfigEnvVar, "/etc/modelviewer.toml")
	assert.Equal(t, "/etc/modelviewer.toml", engine.ConfigPath())
}
