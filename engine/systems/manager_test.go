package systems

import (
	"bytes"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	shaders  *shaderFixture
	backend  *headless.Backend
	renderer *renderer.Renderer
	manager  *SystemManager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{shaders: newShaderFixture(t)}
	kernels := headless.Kernels{}.Add(&headless.Kernel{Name: "k", WorkgroupSize: [3]uint32{8, 8, 1}, Run: func(*headless.Invocation) {}})
	f.backend = headless.New(headless.Config{Kernels: kernels.Resolve})
	require.NoError(t, f.backend.Initialize(&metadata.RendererBackendConfig{Width: 8, Height: 8, FramesInFlight: 2}))
	var err error
	f.renderer, err = renderer.NewRenderer(&renderer.RendererConfig{FramesInFlight: 2}, f.backend, nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Shaders.AssetRoot = f.shaders.root
	cfg.Shaders.IncludeDir = f.shaders.root
	cfg.Shaders.CacheDir = f.shaders.cacheDir
	f.manager, err = NewSystemManager(&SystemManagerConfig{
		Shaders:       &cfg.Shaders,
		Renderer:      &cfg.Renderer,
		MaxImageCount: 4,
	}, f.renderer, f.shaders.compiler, nil, core.NewEventBus())
	require.NoError(t, err)
	return f
}

func TestSystemManagerNeedsConfiguration(t *testing.T) {
	b := headless.New(headless.Config{})
	require.NoError(t, b.Initialize(&metadata.RendererBackendConfig{Width: 8, Height: 8, FramesInFlight: 1}))
	r, err := renderer.NewRenderer(&renderer.RendererConfig{FramesInFlight: 1}, b, nil)
	require.NoError(t, err)

	_, err = NewSystemManager(nil, r, &fakeCompiler{}, nil, nil)
	assert.Error(t, err)
	cfg := config.Default()
	_, err = NewSystemManager(&SystemManagerConfig{Shaders: &cfg.Shaders, Renderer: &cfg.Renderer}, nil, &fakeCompiler{}, nil, nil)
	assert.Error(t, err)
}

func TestSystemManagerExtractPreparesTheWorld(t *testing.T) {
	f := newManagerFixture(t)
	f.shaders.write(t, "shaders/k.hlsl", "kernel")
	sm := f.manager

	shader, err := sm.ShaderSystem.Load("shaders/k.hlsl", "cs_6_5")
	require.NoError(t, err)
	id, err := sm.PipelineCache.QueueCompute(&metadata.ComputePipelineDescriptor{
		Label:   "k",
		Layouts: []*metadata.BindGroupLayout{metadata.NewPingPongLayout(gputypes.TextureFormatRGBA16Float)},
		Shader:  shader,
		Entry:   metadata.DefaultShaderEntry,
	})
	require.NoError(t, err)
	img, err := sm.ImageSystem.Create(metadata.NewStorageImageDescriptor("a", 8, 8, gputypes.TextureFormatRGBA16Float), nil)
	require.NoError(t, err)
	assert.Nil(t, sm.PipelineCache.GetCompute(id))

	world := &RenderWorld{}
	sm.Extract(world, 0, img)

	assert.Same(t, sm.PipelineCache, world.Pipelines)
	assert.Same(t, sm.BindGroupBuilder, world.BindGroups)
	assert.Equal(t, []metadata.ImageHandle{img}, world.Images.Handles())
	assert.NotNil(t, sm.PipelineCache.GetCompute(id))

	require.NoError(t, sm.Shutdown())
	stats := f.backend.Stats()
	assert.Zero(t, stats.LivePipelines)
	assert.Zero(t, stats.LiveImages)
}

func TestSystemManagerReleasedImagesWaitForTheirFrame(t *testing.T) {
	f := newManagerFixture(t)
	sm := f.manager

	img, err := sm.ImageSystem.Create(metadata.NewStorageImageDescriptor("a", 8, 8, gputypes.TextureFormatRGBA16Float), nil)
	require.NoError(t, err)
	_, err = sm.ImageSystem.GetView(img)
	require.NoError(t, err)
	require.Equal(t, 1, f.backend.Stats().LiveImages)

	require.NoError(t, sm.ImageSystem.Release(img))
	assert.Equal(t, 1, sm.DeletionQueue.Len())
	assert.Equal(t, 1, f.backend.Stats().LiveImages)

	require.NoError(t, sm.Shutdown())
	assert.Zero(t, sm.DeletionQueue.Len())
	assert.Zero(t, f.backend.Stats().LiveImages)
}

func TestConstructorErrorsAreLoggedVerbatim(t *testing.T) {
	var buf bytes.Buffer
	core.SetLogOutput(&buf)
	t.Cleanup(func() { core.SetLogOutput(nil) })

	_, err := NewImageSystem(nil, nil, 4)
	require.Error(t, err)
	assert.Contains(t, buf.String(), err.Error())
	assert.NotContains(t, buf.String(), "%!")
}
