package systems

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageFixture(t *testing.T) (*ImageSystem, *headless.Backend, *fakeTimeline, *DeletionQueue) {
	t.Helper()
	b := headless.New(headless.Config{})
	require.NoError(t, b.Initialize(&metadata.RendererBackendConfig{Width: 8, Height: 8, FramesInFlight: 2}))
	tl := &fakeTimeline{}
	dq := NewDeletionQueue(tl)
	is, err := NewImageSystem(b, dq, 8)
	require.NoError(t, err)
	return is, b, tl, dq
}

func TestImageUploadIsLazy(t *testing.T) {
	is, b, _, _ := newImageFixture(t)

	texels := make([][4]float32, 4)
	for i := range texels {
		texels[i] = [4]float32{float32(i), 0, 0, 1}
	}
	data, err := headless.Encode(gputypes.TextureFormatR32Float, texels)
	require.NoError(t, err)

	h, err := is.Create(metadata.NewStorageImageDescriptor("lut", 2, 2, gputypes.TextureFormatR32Float), data)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Stats().LiveImages)

	view, err := is.GetView(h)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().LiveImages)
	again, err := is.GetView(h)
	require.NoError(t, err)
	assert.Same(t, view, again)

	img, err := b.ReadImage(view.Image)
	require.NoError(t, err)
	assert.Equal(t, float32(3), img.At(1, 1)[0])
}

func TestImageCreateValidates(t *testing.T) {
	is, _, _, _ := newImageFixture(t)
	_, err := is.Create(metadata.NewStorageImageDescriptor("empty", 0, 4, gputypes.TextureFormatRGBA16Float), nil)
	assert.Error(t, err)
	_, err = is.Create(metadata.NewStorageImageDescriptor("short", 2, 2, gputypes.TextureFormatRGBA16Float), make([]byte, 3))
	assert.Error(t, err)
}

func TestImageResizeDefersDestruction(t *testing.T) {
	is, b, tl, dq := newImageFixture(t)
	h, err := is.Create(metadata.NewStorageImageDescriptor("accum", 4, 4, gputypes.TextureFormatRGBA16Float), nil)
	require.NoError(t, err)
	old, err := is.GetView(h)
	require.NoError(t, err)

	require.NoError(t, is.Resize(h, 4, 4))
	assert.Equal(t, 0, dq.Len(), "same extent is a no-op")

	tl.signaled = 3
	require.NoError(t, is.Resize(h, 8, 2))
	assert.Equal(t, 1, dq.Len())
	assert.Equal(t, 1, b.Stats().LiveImages)

	desc, err := is.Descriptor(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), desc.Size.Width)
	assert.Equal(t, uint32(2), desc.Size.Height)

	next, err := is.GetView(h)
	require.NoError(t, err)
	assert.NotSame(t, old, next)
	assert.Equal(t, uint32(1), next.Image.Generation)
	assert.Equal(t, 2, b.Stats().LiveImages)

	dq.Collect(4)
	assert.Equal(t, 1, b.Stats().LiveImages)
	assert.Equal(t, 1, b.Stats().DestroyedImages)
}

func TestExtractSnapshotsKnownHandles(t *testing.T) {
	is, _, _, _ := newImageFixture(t)
	a, _ := is.Create(metadata.NewStorageImageDescriptor("a", 4, 4, gputypes.TextureFormatRGBA16Float), nil)
	b, _ := is.Create(metadata.NewStorageImageDescriptor("b", 4, 4, gputypes.TextureFormatRGBA16Float), nil)

	ex := is.Extract(5, a, b, a, core.InvalidHandle)
	assert.Equal(t, uint64(5), ex.Frame())
	assert.Equal(t, []metadata.ImageHandle{a, b}, ex.Handles())
	desc, ok := ex.Descriptor(b)
	require.True(t, ok)
	assert.Equal(t, "b", desc.Label)

	// the store is rebuilt every frame
	ex = is.Extract(6, b)
	_, ok = ex.Descriptor(a)
	assert.False(t, ok)
	_, err := ex.View(a)
	assert.ErrorIs(t, err, core.ErrMissingResource)
	view, err := ex.View(b)
	require.NoError(t, err)
	assert.NotNil(t, view)
}

func TestReleasedImageDisappears(t *testing.T) {
	is, b, tl, dq := newImageFixture(t)
	h, _ := is.Create(metadata.NewStorageImageDescriptor("tmp", 2, 2, gputypes.TextureFormatRGBA8Unorm), nil)
	_, err := is.GetView(h)
	require.NoError(t, err)

	tl.signaled = 1
	require.NoError(t, is.Release(h))
	_, err = is.GetView(h)
	assert.Error(t, err)
	assert.Empty(t, is.Extract(2, h).Handles())

	assert.Equal(t, 1, dq.Collect(2))
	assert.Equal(t, 0, b.Stats().LiveImages)
}

func TestImageShutdownDestroysLiveImages(t *testing.T) {
	is, b, _, _ := newImageFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		h, err := is.Create(metadata.NewStorageImageDescriptor(name, 2, 2, gputypes.TextureFormatRGBA16Float), nil)
		require.NoError(t, err)
		_, err = is.GetView(h)
		require.NoError(t, err)
	}
	require.Equal(t, 3, b.Stats().LiveImages)
	require.NoError(t, is.Shutdown())
	assert.Equal(t, 0, b.Stats().LiveImages)
}
