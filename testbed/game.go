package testbed

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/views"
)

const (
	moveSpeed float32 = 2.0
	turnSpeed float32 = 1.0
	// held shift
	fastMultiplier float32 = 4.0
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	camera *components.Camera

	width  uint32
	height uint32

	pair    metadata.PingPongPair
	display metadata.ImageHandle

	tracer  *views.PathTracerNode
	tonemap *views.TonemapNode

	lastSamples uint32
}

func NewTestGame(cfg *config.Config) (*TestGame, error) {
	if cfg == nil {
		return nil, fmt.Errorf("testbed needs a configuration")
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: engine.NewApplicationConfig(cfg),
			State: &gameState{
				camera: components.NewCamera(),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnExtract = tg.Extract
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil {
		return fmt.Errorf("testbed initialized without a system manager")
	}
	state := g.State.(*gameState)
	cfg := g.ApplicationConfig.Config
	sm := g.SystemManager

	state.width, state.height = g.ApplicationConfig.StartWidth, g.ApplicationConfig.StartHeight

	accum := cfg.Renderer.Format()
	var err error
	state.pair.A, err = sm.ImageSystem.Create(metadata.NewStorageImageDescriptor("accumulation_a", state.width, state.height, accum), nil)
	if err != nil {
		return err
	}
	state.pair.B, err = sm.ImageSystem.Create(metadata.NewStorageImageDescriptor("accumulation_b", state.width, state.height, accum), nil)
	if err != nil {
		return err
	}

	shader, err := sm.ShaderSystem.Load(cfg.Shaders.Entry, cfg.Shaders.Profile)
	if err != nil {
		return err
	}
	state.tracer, err = views.NewPathTracerNode(sm.PipelineCache, views.PathTracerConfig{
		Shader:        shader,
		Pair:          state.pair,
		Format:        accum,
		WorkgroupSize: cfg.Renderer.WorkgroupSize,
		Camera:        state.camera,
	})
	if err != nil {
		return err
	}

	switch {
	case cfg.Shaders.Tonemap == "":
	case accum != gputypes.TextureFormatRGBA16Float:
		// tonemap.wgsl reads rgba16float
		core.LogWarn("tonemap disabled for %s accumulation", cfg.Renderer.TargetFormat)
	default:
		if err := g.createTonemap(cfg, accum); err != nil {
			return err
		}
	}

	if err := views.AddPathTracing(g.Graph, state.tracer, state.tonemap); err != nil {
		return err
	}
	core.LogInfo("testbed ready: %dx%d, accumulation %s", state.width, state.height, cfg.Renderer.TargetFormat)
	return nil
}

func (g *TestGame) createTonemap(cfg *config.Config, source gputypes.TextureFormat) error {
	state := g.State.(*gameState)
	sm := g.SystemManager

	var err error
	state.display, err = sm.ImageSystem.Create(metadata.NewStorageImageDescriptor("display", state.width, state.height, gputypes.TextureFormatRGBA8Unorm), nil)
	if err != nil {
		return err
	}
	shader, err := sm.ShaderSystem.Load(cfg.Shaders.Tonemap, "wgsl")
	if err != nil {
		return err
	}
	state.tonemap, err = views.NewTonemapNode(sm.PipelineCache, views.TonemapConfig{
		Shader:        shader,
		SourceFormat:  source,
		Target:        state.display,
		TargetFormat:  gputypes.TextureFormatRGBA8Unorm,
		WorkgroupSize: cfg.Renderer.WorkgroupSize,
	})
	return err
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	in := g.Input
	if in == nil {
		return nil
	}

	dt := float32(deltaTime)
	speed := moveSpeed * dt
	if in.IsKeyDown(core.KEY_LSHIFT) {
		speed *= fastMultiplier
	}

	if in.IsKeyDown(core.KEY_W) {
		state.camera.MoveForward(speed)
	}
	if in.IsKeyDown(core.KEY_S) {
		state.camera.MoveBackward(speed)
	}
	if in.IsKeyDown(core.KEY_A) {
		state.camera.MoveLeft(speed)
	}
	if in.IsKeyDown(core.KEY_D) {
		state.camera.MoveRight(speed)
	}
	if in.IsKeyDown(core.KEY_E) {
		state.camera.MoveUp(speed)
	}
	if in.IsKeyDown(core.KEY_Q) {
		state.camera.MoveDown(speed)
	}

	if in.IsKeyDown(core.KEY_LEFT) {
		state.camera.Yaw(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_RIGHT) {
		state.camera.Yaw(-turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_UP) {
		state.camera.Pitch(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		state.camera.Pitch(-turnSpeed * dt)
	}

	if in.KeyPressedThisFrame(core.KEY_R) {
		state.camera.Reset()
		core.LogInfo("camera reset")
	}

	if state.tracer != nil {
		samples := state.tracer.Samples()
		// log every power of two
		if samples != state.lastSamples && samples&(samples-1) == 0 && samples >= 64 {
			core.LogDebug("path tracer: %d samples (%s)", samples, state.tracer.State())
		}
		state.lastSamples = samples
	}
	return nil
}

// Extract lists the images the render graph reads this frame.
func (g *TestGame) Extract() []metadata.ImageHandle {
	state := g.State.(*gameState)
	handles := []metadata.ImageHandle{state.pair.A, state.pair.B}
	if state.display != core.InvalidHandle {
		handles = append(handles, state.display)
	}
	return handles
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	if width == 0 || height == 0 || (width == state.width && height == state.height) {
		return nil
	}
	state.width = width
	state.height = height

	if g.SystemManager == nil || state.tracer == nil {
		return nil
	}
	images := g.SystemManager.ImageSystem
	for _, h := range []metadata.ImageHandle{state.pair.A, state.pair.B, state.display} {
		if h == core.InvalidHandle {
			continue
		}
		if err := images.Resize(h, width, height); err != nil {
			return err
		}
	}
	core.LogDebug("testbed targets resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	if g.SystemManager == nil {
		return nil
	}
	images := g.SystemManager.ImageSystem
	for _, h := range []metadata.ImageHandle{state.pair.A, state.pair.B, state.display} {
		if h == core.InvalidHandle {
			continue
		}
		if err := images.Release(h); err != nil {
			core.LogWarn("failed to release image %s: %s", h, err)
		}
	}
	core.LogInfo("testbed rendered %d samples", state.lastSamples)
	return nil
}

