package engine_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
	"github.com/spaghettifunk/modelviewer/engine/systems"
	"github.com/spaghettifunk/modelviewer/viewer"
)

const triangleOBJ = `o tri
v -1 0 0
v 1 0 0
v 0 1 0
f 1 2 3
`

// fakeHost stands in for the window. onPump runs before every pump and
// returns false to close the window.
type fakeHost struct {
	width, height uint32
	pumps         int
	onPump        func(n int) bool
	started       bool
	shutdown      bool
}

func (h *fakeHost) Startup(name string, x, y, width, height uint32) error {
	h.started = true
	return nil
}

func (h *fakeHost) PumpMessages() bool {
	h.pumps++
	return h.onPump(h.pumps)
}

func (h *fakeHost) FramebufferSize() (uint32, uint32) {
	return h.width, h.height
}

func (h *fakeHost) Shutdown() error {
	h.shutdown = true
	return nil
}

func testConfig(t *testing.T) *engine.ApplicationConfig {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tri.obj"), []byte(triangleOBJ), 0o644))
	header := make([]byte, 20)
	for i, w := range []uint32{0x07230203, 0x00010000, 0, 1, 0} {
		binary.LittleEndian.PutUint32(header[i*4:], w)
	}
	for _, name := range []string{viewer.VertexShaderName, viewer.PixelShaderName, systems.LightsShaderName} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".spv"), header, 0o644))
	}

	cfg := engine.DefaultApplicationConfig()
	cfg.Window.Width = 64
	cfg.Window.Height = 48
	cfg.Renderer.Backend = engine.BackendSoftware
	cfg.Renderer.VSync = false
	cfg.Renderer.FenceTimeout = engine.Duration{Duration: 5e9}
	cfg.Scene.Path = filepath.Join(dir, "tri.obj")
	cfg.Scene.Shaders = dir
	cfg.Scene.Watch = false
	return cfg
}

func newEngine(t *testing.T, host *fakeHost) (*engine.Engine, *viewer.ModelViewer) {
	t.Helper()
	v := viewer.New(testConfig(t))
	e, err := engine.New(v.Game, engine.WithHost(host))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	return e, v
}

func TestEngineRunsFramesUntilTheWindowCloses(t *testing.T) {
	host := &fakeHost{width: 64, height: 48, onPump: func(n int) bool { return n <= 3 }}
	e, v := newEngine(t, host)
	assert.True(t, host.started)
	assert.True(t, v.SystemManager.Scene.Loaded())

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.FrameCount())

	dev := e.Renderer().Device().(*software.Device)
	assert.Len(t, dev.Draws(), 3)
	assert.Empty(t, dev.ValidationMessages())

	require.NoError(t, e.Shutdown())
	assert.True(t, host.shutdown)
	assert.Equal(t, engine.EngineStageShutdown, e.Stage())
	assert.Equal(t, 0, dev.LiveResources())
	assert.NoError(t, e.Shutdown())
}

func TestEngineEscapeQuits(t *testing.T) {
	var e *engine.Engine
	host := &fakeHost{width: 64, height: 48}
	host.onPump = func(n int) bool {
		if n == 3 {
			e.Input().ProcessKey(core.KEY_ESCAPE, true)
		}
		return n < 100
	}
	e, _ = newEngine(t, host)
	defer e.Shutdown()

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(2), e.FrameCount())
}

func TestEngineSuspendsWhileMinimized(t *testing.T) {
	var e *engine.Engine
	host := &fakeHost{width: 64, height: 48}
	host.onPump = func(n int) bool {
		switch n {
		case 2:
			e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{}})
		case 4:
			e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 32, Height: 16}})
		}
		return n <= 5
	}
	e, _ = newEngine(t, host)
	defer e.Shutdown()

	require.NoError(t, e.Run())
	// Pumps 2 and 3 happen while minimized.
	assert.Equal(t, uint64(3), e.FrameCount())
	w, h := e.Renderer().Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(16), h)
	assert.Empty(t, e.Renderer().Device().(*software.Device).ValidationMessages())
}

func TestEngineStopsOnDeviceLoss(t *testing.T) {
	var e *engine.Engine
	host := &fakeHost{width: 64, height: 48}
	host.onPump = func(n int) bool {
		if n == 2 {
			e.Renderer().Device().(*software.Device).Lose(assert.AnError, 0)
		}
		return n < 100
	}
	e, _ = newEngine(t, host)
	defer e.Shutdown()

	err := e.Run()
	require.Error(t, err)
	assert.True(t, gpu.IsDeviceLost(err))
	assert.Equal(t, uint64(1), e.FrameCount())
}

func TestEngineRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer.Backend = "metal"
	_, err := engine.New(viewer.New(cfg).Game, engine.WithHost(&fakeHost{}))
	assert.Error(t, err)
}
