package engine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/assets"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/platform"
	"github.com/spaghettifunk/modelviewer/engine/renderer"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
	"github.com/spaghettifunk/modelviewer/engine/renderer/vulkan"
	"github.com/spaghettifunk/modelviewer/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

// Host is the window the engine renders into.
type Host interface {
	Startup(applicationName string, x, y, width, height uint32) error
	// PumpMessages dispatches window events and returns false once the
	// window should close.
	PumpMessages() bool
	FramebufferSize() (uint32, uint32)
	Shutdown() error
}

// suspendedPollInterval paces the loop while the window is minimized.
const suspendedPollInterval = 16 * time.Millisecond

type Option func(*Engine)

// WithHost replaces the glfw window.
func WithHost(h Host) Option {
	return func(e *Engine) {
		e.host = h
	}
}

// WithFactory replaces the backend selected by the configuration.
func WithFactory(f gpu.Factory) Option {
	return func(e *Engine) {
		e.factory = f
	}
}

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *ApplicationConfig
	isRunning     bool
	isSuspended   bool
	quit          atomic.Bool
	host          Host
	events        *core.EventSystem
	input         *core.Input
	factory       gpu.Factory
	renderer      *renderer.Context
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	width         uint32
	height        uint32
	clock         *core.Clock
	metrics       *core.Metrics
	lastTime      float64
	frameCount    uint64
	reloadPending bool
	deviceLost    error
}

func New(g *Game, opts ...Option) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = DefaultApplicationConfig()
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		return nil, err
	}
	events := core.NewEventSystem()
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig,
		events:       events,
		input:        core.NewInput(events),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        g.ApplicationConfig.Window.Width,
		height:       g.ApplicationConfig.Window.Height,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.host == nil {
		e.host = platform.New(e.input, e.events)
	}
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	if err := core.SetLogLevel(e.config.LogLevel); err != nil {
		core.LogWarn("unknown log level %q, keeping the default", e.config.LogLevel)
	}

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	w := e.config.Window
	if err := e.host.Startup(w.Name, w.X, w.Y, w.Width, w.Height); err != nil {
		return err
	}
	e.width, e.height = e.host.FramebufferSize()

	e.currentStage = EngineStageInitializing
	if e.factory == nil {
		f, err := e.createFactory()
		if err != nil {
			return err
		}
		e.factory = f
	}
	rcfg := e.config.RenderConfig()
	rcfg.Width, rcfg.Height = e.width, e.height
	r, err := renderer.Initialize(e.factory, rcfg)
	if err != nil {
		return errors.Wrap(err, "initializing renderer")
	}
	r.OnDeviceLost = e.onDeviceLost
	e.renderer = r

	e.assetManager = assets.NewAssetManager()
	if e.config.Scene.Watch {
		dir := filepath.Dir(e.config.Scene.Path)
		if err := e.assetManager.Watch(dir); err != nil {
			core.LogWarn("not watching %s for changes: %v", dir, err)
		}
	}

	sceneConfig := systems.DefaultSceneConfig()
	sceneConfig.DecodeWorkers = e.config.Scene.DecodeWorkers
	sm, err := systems.NewSystemManager(&systems.SystemManagerConfig{
		Scene:      sceneConfig,
		ShadersDir: e.config.Scene.Shaders,
	}, e.assetManager, r)
	if err != nil {
		return err
	}
	e.systemManager = sm

	e.gameInstance.SystemManager = sm
	e.gameInstance.Input = e.input
	if err := e.gameInstance.FnInitialize(); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) createFactory() (gpu.Factory, error) {
	switch e.config.Renderer.Backend {
	case BackendSoftware:
		core.LogWarn("Using the software reference device, nothing will be shown on screen.")
		return software.NewFactory(), nil
	case BackendVulkan:
		p, ok := e.host.(*platform.Platform)
		if !ok {
			return nil, errors.New("the vulkan backend needs a platform window")
		}
		return vulkan.NewFactory(p.Window, e.config.Renderer.Validation)
	}
	return nil, errors.Newf("unknown renderer backend %q", e.config.Renderer.Backend)
}

// Run drives frames until the window closes, Quit is called or a frame
// fails. A lost device is returned as an error.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrap(core.ErrNotInitialized, "engine")
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true
	ctx := context.Background()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning && !e.quit.Load() {
		if !e.host.PumpMessages() {
			e.isRunning = false
			break
		}
		// Events handled while pumping may have asked to quit.
		if !e.isRunning {
			break
		}
		e.assetManager.Poll(e.events)
		if e.isSuspended {
			time.Sleep(suspendedPollInterval)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.reloadPending {
			e.reloadPending = false
			if err := e.systemManager.ReloadScene(ctx); err != nil {
				core.LogError("scene reload failed: %v", err)
			}
		}

		if err := e.frame(ctx, delta); err != nil {
			e.isRunning = false
			if e.deviceLost != nil {
				return e.deviceLost
			}
			return err
		}

		e.clock.Update()
		if e.metrics.Update(e.clock.Elapsed() - currentTime) {
			fps, frameTime := e.metrics.Frame()
			core.LogDebug("FPS: %.0f (%.3fms/frame)", fps, frameTime)
		}

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		e.input.Update(delta)
		e.lastTime = currentTime
	}
	return e.deviceLost
}

func (e *Engine) frame(ctx context.Context, delta float64) error {
	if err := e.gameInstance.FnUpdate(delta); err != nil {
		core.LogError("Game update failed, shutting down: %v", err)
		return err
	}
	if err := e.gameInstance.FnRender(delta); err != nil {
		core.LogError("Game render failed, shutting down: %v", err)
		return err
	}
	if err := e.renderer.Present(ctx); err != nil {
		core.LogError("Present failed, shutting down: %v", err)
		return err
	}
	e.frameCount++
	return nil
}

// Quit stops Run after the current frame. Safe to call from any goroutine.
func (e *Engine) Quit() {
	e.quit.Store(true)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	ctx := context.Background()
	var errs error
	if e.renderer != nil && e.deviceLost == nil {
		errs = errors.CombineErrors(errs, e.renderer.Flush(ctx))
	}
	if e.gameInstance.FnShutdown != nil {
		errs = errors.CombineErrors(errs, e.gameInstance.FnShutdown())
	}
	if e.systemManager != nil {
		errs = errors.CombineErrors(errs, e.systemManager.Shutdown(ctx))
	}
	if e.assetManager != nil {
		e.assetManager.Shutdown()
	}
	if e.renderer != nil {
		errs = errors.CombineErrors(errs, e.renderer.Shutdown())
	}
	if e.factory != nil {
		e.factory.Release()
	}
	errs = errors.CombineErrors(errs, e.host.Shutdown())
	e.events.Shutdown()
	e.currentStage = EngineStageShutdown
	return errs
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Context {
	return e.renderer
}

func (e *Engine) Events() *core.EventSystem {
	return e.events
}

func (e *Engine) Input() *core.Input {
	return e.input
}

func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onDeviceLost(diag gpu.Diagnostics) {
	e.deviceLost = errors.Wrap(diag.Reason, "GPU device lost")
	e.isRunning = false
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if ke.KeyCode == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		// Block anything else from processing this.
		return true
	}
	if ke.KeyCode == core.KEY_F5 {
		e.reloadPending = true
		return true
	}
	return false
}

func (e *Engine) onAssetChanged(context core.EventContext) bool {
	path, _ := context.Data.(string)
	core.LogDebug("asset changed: %s", path)
	e.reloadPending = true
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	se, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	width, height := se.Width, se.Height
	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		if err := e.renderer.Resize(width, height); err != nil {
			core.LogError("renderer resize failed: %v", err)
			return true
		}
	}
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
	return true
}
