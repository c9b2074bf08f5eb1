package headless

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKernels() Kernels {
	return Kernels{}.
		Add(&Kernel{Name: "copy", WorkgroupSize: [3]uint32{8, 8, 1}, Run: func(inv *Invocation) {
			inv.Store(1, inv.Load(0))
		}}).
		Add(&Kernel{Name: "scribble", WorkgroupSize: [3]uint32{8, 8, 1}, Run: func(inv *Invocation) {
			inv.Store(0, [4]float32{1, 1, 1, 1})
		}})
}

func newBackend(t *testing.T, config Config) *Backend {
	t.Helper()
	if config.Kernels == nil {
		config.Kernels = testKernels().Resolve
	}
	b := New(config)
	require.NoError(t, b.Initialize(&metadata.RendererBackendConfig{Width: 16, Height: 16, FramesInFlight: 3}))
	return b
}

type computeSetup struct {
	a, b     *metadata.GPUImage
	layout   *metadata.BindGroupLayout
	pipeline *metadata.ComputePipeline
	group    *metadata.BindGroup
}

func setupCompute(t *testing.T, b *Backend, label string) *computeSetup {
	t.Helper()
	s := &computeSetup{}
	var err error
	descA := metadata.NewStorageImageDescriptor("a", 4, 4, gputypes.TextureFormatR32Float)
	descB := metadata.NewStorageImageDescriptor("b", 4, 4, gputypes.TextureFormatR32Float)
	s.a, err = b.CreateImage(&descA)
	require.NoError(t, err)
	s.b, err = b.CreateImage(&descB)
	require.NoError(t, err)

	texels := make([][4]float32, 16)
	for i := range texels {
		texels[i] = [4]float32{float32(i), 0, 0, 1}
	}
	data, err := Encode(gputypes.TextureFormatR32Float, texels)
	require.NoError(t, err)
	require.NoError(t, b.WriteImage(s.a, data))

	s.layout = metadata.NewPingPongLayout(gputypes.TextureFormatR32Float)
	require.NoError(t, b.CreateBindGroupLayout(s.layout))

	desc := &metadata.ComputePipelineDescriptor{Label: label, Layouts: []*metadata.BindGroupLayout{s.layout}}
	s.pipeline = &metadata.ComputePipeline{ID: 1, Label: label, Descriptor: desc}
	require.NoError(t, b.CreateComputePipeline(s.pipeline, []uint32{loaders.SpirvMagic}))

	viewA, err := b.CreateView(s.a)
	require.NoError(t, err)
	viewB, err := b.CreateView(s.b)
	require.NoError(t, err)
	s.group = &metadata.BindGroup{
		Label:  "group",
		Layout: s.layout,
		Entries: []metadata.BindGroupEntry{
			{Binding: 0, Image: 1, View: viewA},
			{Binding: 1, Image: 2, View: viewB},
		},
	}
	require.NoError(t, b.CreateBindGroup(s.group))
	return s
}

func recordDispatch(t *testing.T, b *Backend, s *computeSetup) {
	t.Helper()
	enc, err := b.BeginFrame(0)
	require.NoError(t, err)
	bb, err := b.AcquireBackBuffer()
	require.NoError(t, err)
	enc.TransitionBackBuffer(bb, metadata.ResourceStateCommon, metadata.ResourceStateRenderTarget)
	pass := enc.BeginComputePass("test")
	pass.PushDebugGroup("Dispatch")
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, s.group)
	pass.Dispatch(1, 1, 1)
	pass.PopDebugGroup()
	pass.End()
	enc.TransitionBackBuffer(bb, metadata.ResourceStateRenderTarget, metadata.ResourceStateCommon)
	require.NoError(t, b.Submit(0))
}

func TestDispatchRunsKernel(t *testing.T) {
	b := newBackend(t, Config{})
	s := setupCompute(t, b, "copy")
	recordDispatch(t, b, s)

	out, err := b.ReadImage(s.b)
	require.NoError(t, err)
	for i, texel := range out.Texels {
		assert.Equal(t, float32(i), texel[0])
	}
	assert.Empty(t, b.ValidationErrors())
	assert.Equal(t, []string{"Dispatch"}, b.DebugLabels())
	assert.Equal(t, uint64(1), b.Stats().Dispatches)
}

func TestWritingReadOnlyBindingIsAValidationError(t *testing.T) {
	b := newBackend(t, Config{})
	s := setupCompute(t, b, "scribble")
	recordDispatch(t, b, s)

	require.Len(t, b.ValidationErrors(), 1)
	out, err := b.ReadImage(s.a)
	require.NoError(t, err)
	assert.Equal(t, float32(5), out.At(1, 1)[0])
}

func TestUseAfterDestroyIsDetected(t *testing.T) {
	b := newBackend(t, Config{})
	s := setupCompute(t, b, "copy")
	require.NoError(t, b.DestroyImage(s.b))
	recordDispatch(t, b, s)

	assert.NotEmpty(t, b.ValidationErrors())
	assert.Equal(t, 1, b.Stats().DestroyedImages)
	assert.Error(t, b.DestroyImage(s.b))
}

func TestUnbalancedTransitionsAreReported(t *testing.T) {
	b := newBackend(t, Config{})
	enc, err := b.BeginFrame(1)
	require.NoError(t, err)
	bb, err := b.AcquireBackBuffer()
	require.NoError(t, err)
	enc.TransitionBackBuffer(bb, metadata.ResourceStateCommon, metadata.ResourceStateRenderTarget)
	enc.ClearBackBuffer(bb, [4]float32{1, 0, 0, 1})
	require.NoError(t, b.Submit(1))

	assert.ErrorIs(t, b.Present(bb), core.ErrPresentFailed)
}

func TestKernelResolvedFromBytecodeTag(t *testing.T) {
	code, err := loaders.BytesToBytecode(TagBytecode("copy"))
	require.NoError(t, err)
	name, ok := KernelName(code)
	require.True(t, ok)
	assert.Equal(t, "copy", name)

	k, err := testKernels().Resolve(&metadata.ComputePipeline{Label: "scribble"}, code)
	require.NoError(t, err)
	assert.Equal(t, "copy", k.Name)

	k, err = testKernels().Resolve(&metadata.ComputePipeline{Label: "scribble"}, []uint32{loaders.SpirvMagic, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, "scribble", k.Name)

	_, err = testKernels().Resolve(&metadata.ComputePipeline{Label: "nope"}, nil)
	assert.Error(t, err)
}

func TestBackBuffersRotate(t *testing.T) {
	b := newBackend(t, Config{SwapchainImages: 2})
	var seen []uint32
	for i := 0; i < 4; i++ {
		bb, err := b.AcquireBackBuffer()
		require.NoError(t, err)
		seen = append(seen, bb)
	}
	assert.Equal(t, []uint32{0, 1, 0, 1}, seen)

	require.NoError(t, b.Resized(8, 8))
	_, err := b.AcquireBackBuffer()
	assert.ErrorIs(t, err, core.ErrSwapchainBooting)
	w, h := b.BackBufferExtent()
	assert.Equal(t, uint32(8), w)
	assert.Equal(t, uint32(8), h)
}

func TestLatencyCompletesOlderValues(t *testing.T) {
	b := newBackend(t, Config{Latency: 2})
	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, b.Signal(0, v))
	}
	assert.Equal(t, uint64(3), b.CompletedValue())
	assert.Equal(t, uint64(2), b.Stats().MaxInFlight)
	assert.Error(t, b.Signal(0, 5))
}

func TestManualCompletionOnlyOnWait(t *testing.T) {
	b := newBackend(t, Config{Latency: -1})
	require.NoError(t, b.Signal(0, 1))
	require.NoError(t, b.Signal(1, 2))
	assert.Equal(t, uint64(0), b.CompletedValue())

	require.NoError(t, b.WaitForFence(1, 0))
	assert.Equal(t, uint64(1), b.CompletedValue())
	assert.Equal(t, []uint64{1}, b.FenceWaits())
}

func TestStalledWaitTimesOut(t *testing.T) {
	b := newBackend(t, Config{Latency: -1})
	require.NoError(t, b.Signal(0, 1))
	b.Stall()

	err := b.WaitForFence(1, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFenceWaitTimeout))
	assert.True(t, core.IsFatal(err))
	assert.ErrorIs(t, b.WaitIdle(), core.ErrDeviceLost)
}

func TestStalledWaitResumes(t *testing.T) {
	b := newBackend(t, Config{Latency: -1})
	require.NoError(t, b.Signal(0, 1))
	b.Stall()

	done := make(chan error)
	go func() { done <- b.WaitForFence(1, 0) }()
	time.Sleep(10 * time.Millisecond)
	b.Resume()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}
	assert.Equal(t, uint64(1), b.CompletedValue())
}

func TestHalfConversion(t *testing.T) {
	for _, f := range []float32{0, 1, -2, 0.5, 65504, 0.25} {
		assert.Equal(t, f, HalfToFloat32(Float32ToHalf(f)))
	}
	assert.Equal(t, uint16(0x3c00), Float32ToHalf(1))
	assert.Equal(t, uint16(0x7c00), Float32ToHalf(1e6))
	assert.InDelta(t, 0.1, HalfToFloat32(Float32ToHalf(0.1)), 1e-4)
}

func TestReferencePathTracerConverges(t *testing.T) {
	b := newBackend(t, Config{Kernels: ReferenceKernels().Resolve})
	desc := metadata.NewStorageImageDescriptor("a", 8, 8, gputypes.TextureFormatRGBA16Float)
	img, err := b.CreateImage(&desc)
	require.NoError(t, err)
	require.NoError(t, b.WriteImage(img, make([]byte, desc.ByteSize())))

	layout := metadata.NewPingPongLayout(gputypes.TextureFormatRGBA16Float)
	require.NoError(t, b.CreateBindGroupLayout(layout))
	p := &metadata.ComputePipeline{Label: "path_tracer_init", Descriptor: &metadata.ComputePipelineDescriptor{Layouts: []*metadata.BindGroupLayout{layout}}}
	require.NoError(t, b.CreateComputePipeline(p, nil))

	desc2 := metadata.NewStorageImageDescriptor("b", 8, 8, gputypes.TextureFormatRGBA16Float)
	out, err := b.CreateImage(&desc2)
	require.NoError(t, err)
	va, _ := b.CreateView(img)
	vb, _ := b.CreateView(out)
	g := &metadata.BindGroup{Layout: layout, Entries: []metadata.BindGroupEntry{{Binding: 0, View: va}, {Binding: 1, View: vb}}}
	require.NoError(t, b.CreateBindGroup(g))

	recordDispatch(t, b, &computeSetup{pipeline: p, group: g})
	require.Empty(t, b.ValidationErrors())

	result, err := b.ReadImage(out)
	require.NoError(t, err)
	nonBlack := 0
	for _, texel := range result.Texels {
		if texel[0]+texel[1]+texel[2] > 0 {
			nonBlack++
		}
		assert.Equal(t, float32(1), texel[3])
	}
	assert.Equal(t, len(result.Texels), nonBlack)
}
