package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// BytecodeSource hands out compiled shader variants. ShaderSystem is the
// production implementation.
type BytecodeSource interface {
	Bytecode(handle metadata.ShaderHandle, entry string, defines metadata.Defines) (*metadata.CompiledShader, error)
	Stage(handle metadata.ShaderHandle) (metadata.ShaderStage, bool)
}

type pipelineEntry struct {
	id      metadata.PipelineID
	desc    *metadata.ComputePipelineDescriptor
	state   metadata.PipelineState
	current *metadata.ComputePipeline
	// bytecode current was built from
	builtFrom *metadata.CompiledShader
	lastErr   error
}

/**
 * @brief Builds compute pipelines lazily, once per frame, and rebuilds them
 * when their shader publishes new bytecode.
 */
type PipelineCache struct {
	shaders  BytecodeSource
	backend  renderer.RendererBackend
	deletion *DeletionQueue
	events   *core.EventBus

	mutex    sync.RWMutex
	entries  []*pipelineEntry
	byKey    map[string]metadata.PipelineID
	layouts  []*metadata.BindGroupLayout
	revision uint64

	dirtyMutex sync.Mutex
	dirty      map[metadata.ShaderHandle]struct{}

	onReloaded core.FnOnEvent
}

func NewPipelineCache(shaders BytecodeSource, backend renderer.RendererBackend, deletion *DeletionQueue, events *core.EventBus) (*PipelineCache, error) {
	if shaders == nil || backend == nil || deletion == nil {
		err := fmt.Errorf("func NewPipelineCache - shaders, backend and deletion queue are required")
		core.LogError("%s", err)
		return nil, err
	}
	pc := &PipelineCache{
		shaders:  shaders,
		backend:  backend,
		deletion: deletion,
		events:   events,
		byKey:    make(map[string]metadata.PipelineID),
		dirty:    make(map[metadata.ShaderHandle]struct{}),
	}
	if events != nil {
		pc.onReloaded = pc.onShaderReloaded
		events.Register(core.EVENT_CODE_SHADER_RELOADED, pc, pc.onReloaded)
	}
	return pc, nil
}

func (pc *PipelineCache) onShaderReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	pc.OnShaderChanged(metadata.ShaderHandle(data.U64[0]))
	// other listeners may care too
	return false
}

// OnShaderChanged marks every pipeline built from handle for a rebuild on the
// next Tick. Safe to call from any goroutine.
func (pc *PipelineCache) OnShaderChanged(handle metadata.ShaderHandle) {
	pc.dirtyMutex.Lock()
	pc.dirty[handle] = struct{}{}
	pc.dirtyMutex.Unlock()
}

/**
 * @brief Queues a compute pipeline. Structurally equal descriptors share an id.
 */
func (pc *PipelineCache) QueueCompute(desc *metadata.ComputePipelineDescriptor) (metadata.PipelineID, error) {
	if desc == nil || len(desc.Layouts) == 0 {
		return 0, fmt.Errorf("compute pipeline `%s` needs at least one layout", descLabel(desc))
	}
	key := desc.Key()

	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	if id, ok := pc.byKey[key]; ok {
		return id, nil
	}
	id := metadata.PipelineID(len(pc.entries) + 1)
	pc.entries = append(pc.entries, &pipelineEntry{id: id, desc: desc, state: metadata.PipelineStateQueued})
	pc.byKey[key] = id
	core.LogDebug("compute pipeline `%s` queued as %d", desc.Label, id)
	return id, nil
}

// GetCompute returns the pipeline to bind for id, or nil while none has been
// built. A pipeline waiting for a rebuild keeps returning its previous build.
func (pc *PipelineCache) GetCompute(id metadata.PipelineID) *metadata.ComputePipeline {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	e := pc.entryLocked(id)
	if e == nil {
		return nil
	}
	return e.current
}

func (pc *PipelineCache) State(id metadata.PipelineID) (metadata.PipelineState, error) {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	e := pc.entryLocked(id)
	if e == nil {
		return 0, fmt.Errorf("unknown pipeline id %d", id)
	}
	return e.state, e.lastErr
}

/**
 * @brief Processes queued and dirty pipelines. Called once per frame before
 * the graph runs, so what GetCompute returns never changes mid-frame.
 */
func (pc *PipelineCache) Tick(frame uint64) {
	pc.dirtyMutex.Lock()
	dirty := pc.dirty
	pc.dirty = make(map[metadata.ShaderHandle]struct{})
	pc.dirtyMutex.Unlock()

	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	for _, e := range pc.entries {
		if _, ok := dirty[e.desc.Shader]; ok && (e.state == metadata.PipelineStateReady || e.state == metadata.PipelineStateError) {
			e.state = metadata.PipelineStateDirty
		}
	}
	for _, e := range pc.entries {
		if e.state == metadata.PipelineStateQueued || e.state == metadata.PipelineStateDirty {
			pc.build(frame, e)
		}
	}
}

func (pc *PipelineCache) build(frame uint64, e *pipelineEntry) {
	desc := e.desc
	if stage, ok := pc.shaders.Stage(desc.Shader); !ok || stage != metadata.ShaderStageCompute {
		pc.failLocked(e, fmt.Errorf("shader %s is not a compute shader", desc.Shader))
		return
	}

	compiled, err := pc.shaders.Bytecode(desc.Shader, desc.Entry, desc.Defines)
	if err != nil {
		if errors.Is(err, core.ErrPipelineNotReady) {
			// stays queued until the shader compiles
			e.lastErr = err
			return
		}
		pc.failLocked(e, err)
		return
	}
	if e.current != nil && compiled == e.builtFrom {
		e.state = metadata.PipelineStateReady
		return
	}

	for _, l := range desc.Layouts {
		if l.InternalData != nil {
			continue
		}
		if err := pc.backend.CreateBindGroupLayout(l); err != nil {
			pc.failLocked(e, fmt.Errorf("layout `%s`: %w", l.Label, err))
			return
		}
		pc.layouts = append(pc.layouts, l)
	}

	pc.revision++
	p := &metadata.ComputePipeline{
		ID:               e.id,
		Label:            desc.Label,
		Descriptor:       desc,
		ShaderGeneration: compiled.Generation,
		Revision:         pc.revision,
	}
	if err := pc.backend.CreateComputePipeline(p, compiled.Code); err != nil {
		pc.failLocked(e, err)
		return
	}

	if old := e.current; old != nil {
		pc.deletion.Defer("pipeline "+old.Label, func() error {
			return pc.backend.DestroyComputePipeline(old)
		})
	}
	e.current = p
	e.builtFrom = compiled
	e.state = metadata.PipelineStateReady
	e.lastErr = nil
	core.LogInfo("compute pipeline `%s` ready (frame %d, shader generation %d)", desc.Label, frame, compiled.Generation)
}

func (pc *PipelineCache) failLocked(e *pipelineEntry, err error) {
	e.state = metadata.PipelineStateError
	e.lastErr = err
	if e.current != nil {
		core.LogError("compute pipeline `%s` rebuild failed, keeping the previous build: %s", e.desc.Label, err)
		return
	}
	core.LogError("compute pipeline `%s` failed: %s", e.desc.Label, err)
}

func (pc *PipelineCache) entryLocked(id metadata.PipelineID) *pipelineEntry {
	if id == 0 || int(id) > len(pc.entries) {
		return nil
	}
	return pc.entries[id-1]
}

/**
 * @brief Destroys every pipeline and layout. The device must be idle.
 */
func (pc *PipelineCache) Shutdown() error {
	if pc.events != nil {
		pc.events.Unregister(core.EVENT_CODE_SHADER_RELOADED, pc, pc.onReloaded)
	}
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	var errs []error
	for _, e := range pc.entries {
		if e.current != nil {
			if err := pc.backend.DestroyComputePipeline(e.current); err != nil {
				errs = append(errs, err)
			}
			e.current = nil
		}
	}
	for _, l := range pc.layouts {
		if err := pc.backend.DestroyBindGroupLayout(l); err != nil {
			errs = append(errs, err)
		}
	}
	pc.entries = nil
	pc.layouts = nil
	pc.byKey = make(map[string]metadata.PipelineID)
	return errors.Join(errs...)
}

func descLabel(desc *metadata.ComputePipelineDescriptor) string {
	if desc == nil {
		return "<nil>"
	}
	return desc.Label
}
