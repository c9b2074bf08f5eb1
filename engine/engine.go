package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/assets/compilers"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Option overrides a piece of the engine, mostly for tests and tools.
type Option func(e *Engine)

// WithBackend skips backend creation and drives b instead.
func WithBackend(b renderer.RendererBackend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithCompiler replaces the dxc/naga compilers.
func WithCompiler(c compilers.Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// WithoutWatcher disables shader hot reload.
func WithoutWatcher() Option {
	return func(e *Engine) { e.noWatcher = true }
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	isRunning    atomic.Bool
	isSuspended  bool

	platform      *platform.Platform
	events        *core.EventBus
	input         *core.Input
	metrics       *core.FrameMetrics
	backend       renderer.RendererBackend
	compiler      compilers.Compiler
	noWatcher     bool
	renderer      *renderer.Renderer
	systemManager *systems.SystemManager
	graph         *systems.RenderGraph

	width         uint32
	height        uint32
	pendingResize bool
	clock         *core.Clock
	lastTime      float64
}

func New(g *Game, opts ...Option) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Config == nil {
		return nil, fmt.Errorf("func engine.New - game and its configuration are required")
	}
	events := core.NewEventBus()
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig.Config,
		events:       events,
		input:        core.NewInput(events),
		metrics:      core.NewFrameMetrics(),
		clock:        core.NewClock(),
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

/**
 * @brief Creates the window, the backend and every system, verifies the
 * device and hands control to the game's initialize callback.
 */
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	cfg := e.config
	core.SetLogLevel(cfg.Log.Level)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if e.backend == nil {
		backend, err := e.createBackend()
		if err != nil {
			return err
		}
		e.backend = backend
	}

	if err := e.backend.Initialize(&metadata.RendererBackendConfig{
		ApplicationName:  e.gameInstance.ApplicationConfig.Name,
		Width:            e.width,
		Height:           e.height,
		FramesInFlight:   cfg.Renderer.FramesInFlight,
		EnableValidation: cfg.Renderer.Validation,
	}); err != nil {
		return err
	}
	features := e.backend.Features()
	if err := renderer.VerifyFeatures(features); err != nil {
		core.LogError("device `%s` cannot run the path tracer: %s", features.DeviceName, err)
		return err
	}
	core.LogInfo("using device `%s`", features.DeviceName)

	r, err := renderer.NewRenderer(&renderer.RendererConfig{
		FramesInFlight: cfg.Renderer.FramesInFlight,
		ClearColor:     cfg.Renderer.ClearColor,
		FenceTimeout:   cfg.Renderer.FenceTimeout(),
	}, e.backend, e.metrics)
	if err != nil {
		return err
	}
	e.renderer = r

	if e.compiler == nil {
		e.compiler = compilers.NewRouter(compilers.NewDXC(cfg.Shaders.Compiler)).
			Register(".wgsl", compilers.NewNaga())
	}
	var watcher *assets.Watcher
	if !e.noWatcher {
		watcher, err = assets.NewWatcher(100 * time.Millisecond)
		if err != nil {
			core.LogWarn("shader hot reload disabled: %s", err)
			watcher = nil
		}
	}

	sm, err := systems.NewSystemManager(&systems.SystemManagerConfig{
		Shaders:  &cfg.Shaders,
		Renderer: &cfg.Renderer,
	}, r, e.compiler, watcher, e.events)
	if err != nil {
		return err
	}
	e.systemManager = sm
	e.graph = systems.NewRenderGraph(&systems.RenderWorld{
		Pipelines:  sm.PipelineCache,
		BindGroups: sm.BindGroupBuilder,
	})

	g := e.gameInstance
	g.SystemManager = sm
	g.Graph = e.graph
	g.Input = e.input
	g.Events = e.events
	if err := g.FnInitialize(); err != nil {
		return err
	}
	if g.FnOnResize != nil {
		if err := g.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	if _, err := e.graph.Order(); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) createBackend() (renderer.RendererBackend, error) {
	cfg := e.config
	switch cfg.Renderer.Backend {
	case config.BackendHeadless:
		return headless.New(headless.Config{Kernels: headless.ReferenceKernels().Resolve}), nil
	case config.BackendVulkan:
		p, err := platform.New(e.input, e.events)
		if err != nil {
			return nil, err
		}
		app := e.gameInstance.ApplicationConfig
		if err := p.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
			return nil, err
		}
		e.platform = p
		return vulkan.New(p), nil
	}
	return nil, fmt.Errorf("unknown renderer backend `%s`", cfg.Renderer.Backend)
}

/**
 * @brief The frame loop. Returns nil when the window closes or the frame
 * budget is used up, and the first fatal error otherwise.
 */
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	maxFrames := e.config.Renderer.MaxFrames
	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := e.applyResize(); err != nil {
			return err
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("game update failed, shutting down: %s", err)
			return err
		}

		if err := e.drawFrame(); err != nil {
			return err
		}
		e.metrics.Update(delta)

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		e.input.Update()
		e.lastTime = currentTime

		if maxFrames > 0 && e.renderer.FrameNumber() >= maxFrames {
			core.LogInfo("rendered %d frames, stopping", maxFrames)
			e.isRunning.Store(false)
		}
	}
	return nil
}

func (e *Engine) drawFrame() error {
	frame := e.renderer.FrameNumber()
	var handles []metadata.ImageHandle
	if e.gameInstance.FnExtract != nil {
		handles = e.gameInstance.FnExtract()
	}
	e.systemManager.Extract(e.graph.World(), frame, handles...)

	err := e.renderer.DrawFrame(e.graph)
	if err == nil {
		return nil
	}
	if core.IsFatal(err) {
		core.LogError("frame %d: %s", frame, err)
		return err
	}
	core.LogWarn("frame %d: %s", frame, err)
	return nil
}

func (e *Engine) applyResize() error {
	if !e.pendingResize {
		return nil
	}
	e.pendingResize = false
	if err := e.renderer.Resize(e.width, e.height); err != nil {
		return err
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			core.LogError("game resize failed: %s", err)
		}
	}
	return nil
}

/**
 * @brief Waits for the GPU, then tears down the game, the systems, the
 * backend and the window, in that order.
 */
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.renderer != nil {
		if err := e.renderer.WaitIdle(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	} else if e.backend != nil {
		errs = append(errs, e.backend.Shutdown())
	}
	if e.platform != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	errs = append(errs, e.events.Shutdown())
	return errors.Join(errs...)
}

// Stop ends the run loop after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

// AssetPath resolves rel against the configured asset root.
func (e *Engine) AssetPath(rel string) string {
	return filepath.Join(e.config.Shaders.AssetRoot, rel)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if core.KeyCode(data.U32[0]) == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.pendingResize = true
	return false
}
