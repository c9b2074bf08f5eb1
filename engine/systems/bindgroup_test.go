package systems

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindGroupFixture struct {
	images  *ImageSystem
	builder *BindGroupBuilder
	layout  *metadata.BindGroupLayout
	pair    metadata.PingPongPair
}

func newBindGroupFixture(t *testing.T, grace uint32) *bindGroupFixture {
	t.Helper()
	is, b, _, _ := newImageFixture(t)
	f := &bindGroupFixture{images: is, layout: metadata.NewPingPongLayout(gputypes.TextureFormatRGBA16Float)}
	var err error
	f.builder, err = NewBindGroupBuilder(b, 2, grace)
	require.NoError(t, err)
	f.pair.A, err = is.Create(metadata.NewStorageImageDescriptor("a", 4, 4, gputypes.TextureFormatRGBA16Float), nil)
	require.NoError(t, err)
	f.pair.B, err = is.Create(metadata.NewStorageImageDescriptor("b", 4, 4, gputypes.TextureFormatRGBA16Float), nil)
	require.NoError(t, err)
	require.NoError(t, b.CreateBindGroupLayout(f.layout))
	return f
}

func (f *bindGroupFixture) prepare(frame uint64, handles ...metadata.ImageHandle) (*PingPongGroups, error) {
	if handles == nil {
		handles = []metadata.ImageHandle{f.pair.A, f.pair.B}
	}
	ex := f.images.Extract(frame, handles...)
	return f.builder.PreparePingPong(frame, uint32(frame%2), f.layout, f.pair, ex)
}

func TestPingPongGroupsAlternate(t *testing.T) {
	f := newBindGroupFixture(t, 3)
	for frame := uint64(0); frame < 4; frame++ {
		groups, err := f.prepare(frame)
		require.NoError(t, err)
		g := groups.Select(frame)
		read, _ := g.Image(0)
		write, _ := g.Image(1)
		assert.Equal(t, f.pair.Read(frame), read)
		assert.Equal(t, f.pair.Write(frame), write)

		selected, ok := f.builder.Select(frame)
		require.True(t, ok)
		assert.Same(t, g, selected)
	}
	_, ok := f.builder.Select(99)
	assert.False(t, ok)
}

func TestMissingImageIsToleratedForTheGracePeriod(t *testing.T) {
	f := newBindGroupFixture(t, 2)
	for frame := uint64(0); frame < 2; frame++ {
		_, err := f.prepare(frame, f.pair.A)
		assert.ErrorIs(t, err, core.ErrMissingResource)
		assert.False(t, core.IsFatal(err))
		assert.Nil(t, f.builder.Current())
	}
	_, err := f.prepare(2, f.pair.A)
	assert.ErrorIs(t, err, core.ErrResourceExpired)
	assert.True(t, core.IsFatal(err))

	// a good frame resets the counter
	_, err = f.prepare(3)
	require.NoError(t, err)
	_, err = f.prepare(4, f.pair.B)
	assert.False(t, core.IsFatal(err))
}

func TestUncreatedLayoutIsNotReady(t *testing.T) {
	f := newBindGroupFixture(t, 3)
	f.layout = metadata.NewPingPongLayout(gputypes.TextureFormatRGBA16Float)
	_, err := f.prepare(0)
	assert.ErrorIs(t, err, core.ErrPipelineNotReady)
}

func TestReleaseSlotDestroysItsGroups(t *testing.T) {
	f := newBindGroupFixture(t, 3)
	_, err := f.prepare(0)
	require.NoError(t, err)
	_, err = f.prepare(1)
	require.NoError(t, err)
	_, err = f.prepare(2)
	require.NoError(t, err)

	assert.Equal(t, 4, f.builder.Retained(0))
	assert.Equal(t, 2, f.builder.Retained(1))
	f.builder.ReleaseSlot(0)
	assert.Equal(t, 0, f.builder.Retained(0))
	assert.Equal(t, 2, f.builder.Retained(1))

	require.NoError(t, f.builder.Shutdown())
	assert.Equal(t, 0, f.builder.Retained(1))
}

func TestPrepareBindsHandlesInOrder(t *testing.T) {
	f := newBindGroupFixture(t, 3)
	ex := f.images.Extract(0, f.pair.A, f.pair.B)
	g, err := f.builder.Prepare(1, "custom", f.layout, ex, f.pair.B, f.pair.A)
	require.NoError(t, err)
	first, _ := g.Image(0)
	second, _ := g.Image(1)
	assert.Equal(t, f.pair.B, first)
	assert.Equal(t, f.pair.A, second)
	assert.Equal(t, 1, f.builder.Retained(1))

	_, err = f.builder.Prepare(1, "short", f.layout, ex, f.pair.A)
	assert.Error(t, err)
	_, err = f.builder.Prepare(5, "slot", f.layout, ex, f.pair.A, f.pair.B)
	assert.Error(t, err)
}
