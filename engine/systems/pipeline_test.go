package systems

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves whatever bytecode the test published for a handle.
type fakeSource struct {
	mutex    sync.Mutex
	compiled map[metadata.ShaderHandle]*metadata.CompiledShader
	stages   map[metadata.ShaderHandle]metadata.ShaderStage
	errs     map[metadata.ShaderHandle]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		compiled: make(map[metadata.ShaderHandle]*metadata.CompiledShader),
		stages:   make(map[metadata.ShaderHandle]metadata.ShaderStage),
		errs:     make(map[metadata.ShaderHandle]error),
	}
}

func (f *fakeSource) publish(h metadata.ShaderHandle, generation uint64) *metadata.CompiledShader {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	c := &metadata.CompiledShader{Code: []uint32{loaders.SpirvMagic, uint32(generation)}, Generation: generation}
	f.compiled[h] = c
	if _, ok := f.stages[h]; !ok {
		f.stages[h] = metadata.ShaderStageCompute
	}
	delete(f.errs, h)
	return c
}

func (f *fakeSource) Bytecode(h metadata.ShaderHandle, entry string, defines metadata.Defines) (*metadata.CompiledShader, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err, ok := f.errs[h]; ok {
		return nil, err
	}
	c, ok := f.compiled[h]
	if !ok {
		return nil, ErrShaderNotReady
	}
	return c, nil
}

func (f *fakeSource) Stage(h metadata.ShaderHandle) (metadata.ShaderStage, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	s, ok := f.stages[h]
	if !ok {
		return metadata.ShaderStageCompute, true
	}
	return s, true
}

type pipelineFixture struct {
	backend  *headless.Backend
	timeline *fakeTimeline
	deletion *DeletionQueue
	source   *fakeSource
	events   *core.EventBus
	cache    *PipelineCache
	reject   bool
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{timeline: &fakeTimeline{}, source: newFakeSource(), events: core.NewEventBus()}
	kernels := headless.Kernels{}.Add(&headless.Kernel{Name: "k", WorkgroupSize: [3]uint32{8, 8, 1}, Run: func(*headless.Invocation) {}})
	f.backend = headless.New(headless.Config{Kernels: func(p *metadata.ComputePipeline, code []uint32) (*headless.Kernel, error) {
		if f.reject {
			return nil, errors.New("rejected by driver")
		}
		return kernels.Resolve(p, code)
	}})
	require.NoError(t, f.backend.Initialize(&metadata.RendererBackendConfig{Width: 8, Height: 8, FramesInFlight: 2}))
	f.deletion = NewDeletionQueue(f.timeline)
	var err error
	f.cache, err = NewPipelineCache(f.source, f.backend, f.deletion, f.events)
	require.NoError(t, err)
	t.Cleanup(func() { f.cache.Shutdown() })
	return f
}

func computeDesc(shader metadata.ShaderHandle, defines metadata.Defines) *metadata.ComputePipelineDescriptor {
	return &metadata.ComputePipelineDescriptor{
		Label:   "k",
		Layouts: []*metadata.BindGroupLayout{metadata.NewPingPongLayout(gputypes.TextureFormatRGBA16Float)},
		Shader:  shader,
		Entry:   metadata.DefaultShaderEntry,
		Defines: defines,
	}
}

func TestQueueComputeDeduplicates(t *testing.T) {
	f := newPipelineFixture(t)
	a, err := f.cache.QueueCompute(computeDesc(1, nil))
	require.NoError(t, err)
	b, err := f.cache.QueueCompute(computeDesc(1, nil))
	require.NoError(t, err)
	c, err := f.cache.QueueCompute(computeDesc(1, metadata.Defines{"INIT": "1"}))
	require.NoError(t, err)

	assert.Equal(t, metadata.PipelineID(1), a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = f.cache.QueueCompute(&metadata.ComputePipelineDescriptor{Label: "no layout"})
	assert.Error(t, err)
}

func TestPipelineStaysQueuedUntilShaderIsReady(t *testing.T) {
	f := newPipelineFixture(t)
	id, err := f.cache.QueueCompute(computeDesc(7, nil))
	require.NoError(t, err)

	f.cache.Tick(0)
	assert.Nil(t, f.cache.GetCompute(id))
	state, lastErr := f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateQueued, state)
	assert.ErrorIs(t, lastErr, core.ErrPipelineNotReady)

	f.source.publish(7, 1)
	f.cache.Tick(1)
	p := f.cache.GetCompute(id)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, uint64(1), p.ShaderGeneration)
	state, lastErr = f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateReady, state)
	assert.NoError(t, lastErr)
	assert.Equal(t, 1, f.backend.Stats().LivePipelines)
}

func TestReadinessDoesNotChangeBetweenTicks(t *testing.T) {
	f := newPipelineFixture(t)
	id, _ := f.cache.QueueCompute(computeDesc(2, nil))
	f.source.publish(2, 1)
	// nothing is built outside Tick
	assert.Nil(t, f.cache.GetCompute(id))
	f.cache.Tick(0)
	first := f.cache.GetCompute(id)
	require.NotNil(t, first)

	f.source.publish(2, 2)
	f.cache.OnShaderChanged(2)
	assert.Same(t, first, f.cache.GetCompute(id))
}

func TestShaderReloadRebuildsAndDefersDestruction(t *testing.T) {
	f := newPipelineFixture(t)
	id, _ := f.cache.QueueCompute(computeDesc(3, nil))
	f.source.publish(3, 1)
	f.cache.Tick(0)
	old := f.cache.GetCompute(id)
	require.NotNil(t, old)

	f.timeline.signaled = 10
	f.source.publish(3, 2)
	ctx := core.EventContext{}
	ctx.U64[0] = 3
	f.events.Fire(core.EVENT_CODE_SHADER_RELOADED, nil, ctx)

	// dirty entries keep serving the old build until the tick
	state, _ := f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateReady, state)
	assert.Same(t, old, f.cache.GetCompute(id))

	f.cache.Tick(10)
	next := f.cache.GetCompute(id)
	require.NotNil(t, next)
	assert.NotSame(t, old, next)
	assert.Equal(t, id, next.ID)
	assert.Greater(t, next.Revision, old.Revision)
	assert.Equal(t, uint64(2), next.ShaderGeneration)

	assert.Equal(t, 1, f.deletion.Len())
	assert.Equal(t, 0, f.deletion.Collect(10))
	assert.Equal(t, 1, f.deletion.Collect(11))
	assert.Equal(t, 1, f.backend.Stats().DestroyedPipelines)
}

func TestIdenticalBytecodeKeepsThePipeline(t *testing.T) {
	f := newPipelineFixture(t)
	id, _ := f.cache.QueueCompute(computeDesc(4, nil))
	f.source.publish(4, 1)
	f.cache.Tick(0)
	p := f.cache.GetCompute(id)

	f.cache.OnShaderChanged(4)
	f.cache.Tick(1)
	assert.Same(t, p, f.cache.GetCompute(id))
	assert.Equal(t, 0, f.deletion.Len())
}

func TestFailedRebuildKeepsLastGoodPipeline(t *testing.T) {
	f := newPipelineFixture(t)
	id, _ := f.cache.QueueCompute(computeDesc(5, nil))
	f.source.publish(5, 1)
	f.cache.Tick(0)
	good := f.cache.GetCompute(id)
	require.NotNil(t, good)

	f.reject = true
	f.source.publish(5, 2)
	f.cache.OnShaderChanged(5)
	f.cache.Tick(1)

	state, lastErr := f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateError, state)
	assert.ErrorContains(t, lastErr, "rejected by driver")
	assert.Same(t, good, f.cache.GetCompute(id))

	// a later good compile recovers
	f.reject = false
	f.source.publish(5, 3)
	f.cache.OnShaderChanged(5)
	f.cache.Tick(2)
	state, _ = f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateReady, state)
	assert.NotSame(t, good, f.cache.GetCompute(id))
}

func TestNonComputeShaderIsAnError(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.publish(6, 1)
	f.source.stages[6] = metadata.ShaderStageVertex
	id, _ := f.cache.QueueCompute(computeDesc(6, nil))
	f.cache.Tick(0)
	state, lastErr := f.cache.State(id)
	assert.Equal(t, metadata.PipelineStateError, state)
	assert.Error(t, lastErr)
	assert.Nil(t, f.cache.GetCompute(id))
}

func TestPipelineCacheShutdownDestroysEverything(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.publish(8, 1)
	_, _ = f.cache.QueueCompute(computeDesc(8, nil))
	_, _ = f.cache.QueueCompute(computeDesc(8, metadata.Defines{"INIT": "1"}))
	f.cache.Tick(0)
	require.Equal(t, 2, f.backend.Stats().LivePipelines)

	require.NoError(t, f.cache.Shutdown())
	assert.Equal(t, 0, f.backend.Stats().LivePipelines)
	assert.Equal(t, 2, f.backend.Stats().DestroyedPipelines)
}

func TestColdStartBuildsBothVariantsFromTheCache(t *testing.T) {
	sf := newShaderFixture(t)
	sf.write(t, ptPath, "// v1")
	sf.age(t, ptPath)
	seed := metadata.Defines{"INIT": "1"}

	// an earlier run left both variants on disk
	warm := sf.system(t, false, nil)
	h, err := warm.Load(ptPath, "cs_6_5")
	require.NoError(t, err)
	require.NoError(t, warm.Specialize(h, metadata.DefaultShaderEntry, seed))
	require.Equal(t, 2, sf.compiler.Calls())

	ss := sf.system(t, false, nil)
	h, err = ss.Load(ptPath, "cs_6_5")
	require.NoError(t, err)

	f := newPipelineFixture(t)
	cache, err := NewPipelineCache(ss, f.backend, f.deletion, f.events)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Shutdown() })

	initID, err := cache.QueueCompute(computeDesc(h, seed))
	require.NoError(t, err)
	updateID, err := cache.QueueCompute(computeDesc(h, nil))
	require.NoError(t, err)
	require.NotEqual(t, initID, updateID)

	cache.Tick(0)
	assert.NotNil(t, cache.GetCompute(initID))
	assert.NotNil(t, cache.GetCompute(updateID))

	assert.Equal(t, 2, sf.compiler.Calls())
	stats, ok := ss.Stats(h)
	require.True(t, ok)
	assert.Equal(t, uint64(0), stats.Compiles)
	assert.Equal(t, uint64(2), stats.CacheHits)
}
