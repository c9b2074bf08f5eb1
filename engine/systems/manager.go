package systems

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/assets/compilers"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type SystemManagerConfig struct {
	Shaders  *config.ShaderConfig
	Renderer *config.RendererConfig
	// MaxImageCount bounds the image store.
	MaxImageCount int
}

/**
 * @brief Owns every render-side system and wires them to the frame
 * scheduler. Systems are shut down in reverse dependency order.
 */
type SystemManager struct {
	JobSystem        *JobSystem
	ShaderSystem     *ShaderSystem
	DeletionQueue    *DeletionQueue
	PipelineCache    *PipelineCache
	ImageSystem      *ImageSystem
	BindGroupBuilder *BindGroupBuilder

	renderer *renderer.Renderer
	watcher  *assets.Watcher
}

func NewSystemManager(cfg *SystemManagerConfig, r *renderer.Renderer, compiler compilers.Compiler, watcher *assets.Watcher, events *core.EventBus) (*SystemManager, error) {
	if cfg == nil || cfg.Shaders == nil || cfg.Renderer == nil {
		err := fmt.Errorf("func NewSystemManager - shader and renderer configuration are required")
		core.LogError("%s", err)
		return nil, err
	}
	if r == nil {
		err := fmt.Errorf("func NewSystemManager - renderer must not be nil")
		core.LogError("%s", err)
		return nil, err
	}
	maxImages := cfg.MaxImageCount
	if maxImages <= 0 {
		maxImages = 64
	}

	js, err := NewJobSystem(max(1, runtime.NumCPU()/2), 16)
	if err != nil {
		return nil, err
	}
	ss, err := NewShaderSystem(&ShaderSystemConfig{
		MaxShaderCount: 64,
		AssetRoot:      cfg.Shaders.AssetRoot,
		IncludeDir:     cfg.Shaders.IncludeDir,
		CacheDir:       cfg.Shaders.CacheDir,
		ForceRecompile: cfg.Shaders.ForceRecompile,
		DebugInfo:      cfg.Shaders.DebugInfo,
	}, compiler, watcher, js, events)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	dq := NewDeletionQueue(r)
	pc, err := NewPipelineCache(ss, r.Backend(), dq, events)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	is, err := NewImageSystem(r.Backend(), dq, maxImages)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	bb, err := NewBindGroupBuilder(r.Backend(), r.FramesInFlight(), cfg.Renderer.MissingResourceGraceFrames)
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}

	sm := &SystemManager{
		JobSystem:        js,
		ShaderSystem:     ss,
		DeletionQueue:    dq,
		PipelineCache:    pc,
		ImageSystem:      is,
		BindGroupBuilder: bb,
		renderer:         r,
		watcher:          watcher,
	}
	r.OnRetire(sm.onRetire)
	return sm, nil
}

// onRetire runs when a frame slot is about to be recorded again.
func (sm *SystemManager) onRetire(slot uint32, completed uint64) {
	sm.BindGroupBuilder.ReleaseSlot(slot)
	if n := sm.DeletionQueue.Collect(completed); n > 0 {
		core.LogDebug("destroyed %d retired objects (fence %d)", n, completed)
	}
}

/**
 * @brief Prepares the render world of the next frame: snapshots the images
 * the graph reads and builds pipelines whose shaders became ready.
 */
func (sm *SystemManager) Extract(world *RenderWorld, frame uint64, handles ...metadata.ImageHandle) {
	world.Images = sm.ImageSystem.Extract(frame, handles...)
	world.Pipelines = sm.PipelineCache
	world.BindGroups = sm.BindGroupBuilder
	sm.PipelineCache.Tick(frame)
}

/**
 * @brief Shuts every system down. The renderer must be idle.
 */
func (sm *SystemManager) Shutdown() error {
	errs := []error{
		sm.BindGroupBuilder.Shutdown(),
		sm.PipelineCache.Shutdown(),
		sm.DeletionQueue.Flush(),
		sm.ImageSystem.Shutdown(),
		sm.ShaderSystem.Shutdown(),
	}
	if sm.watcher != nil {
		errs = append(errs, sm.watcher.Shutdown())
	}
	errs = append(errs, sm.JobSystem.Shutdown())
	return errors.Join(errs...)
}
