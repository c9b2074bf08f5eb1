package metadata

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingPongRolesAlternate(t *testing.T) {
	pair := PingPongPair{A: 10, B: 20}
	for frame := uint64(0); frame < 6; frame++ {
		r, w := pair.Read(frame), pair.Write(frame)
		assert.NotEqual(t, r, w)
		assert.ElementsMatch(t, []ImageHandle{10, 20}, []ImageHandle{r, w})
		assert.Equal(t, pair.Write(frame), pair.Read(frame+1))
	}
	assert.Equal(t, ImageHandle(10), pair.Read(0))
	assert.Equal(t, ImageHandle(20), pair.Write(0))
}

func TestShaderStageFromProfile(t *testing.T) {
	cases := map[string]ShaderStage{
		"cs_6_5": ShaderStageCompute,
		"cs_6_0": ShaderStageCompute,
		"ms_6_5": ShaderStageMesh,
		"as_6_5": ShaderStageAmplification,
		"ps_6_0": ShaderStageFragment,
		"wgsl":   ShaderStageCompute,
	}
	for profile, stage := range cases {
		got, err := ShaderStageFromProfile(profile)
		require.NoError(t, err, profile)
		assert.Equal(t, stage, got, profile)
	}
	_, err := ShaderStageFromProfile("lib_6_3")
	assert.Error(t, err)
}

func TestDefinesCanonical(t *testing.T) {
	a := Defines{"INIT": "1", "SAMPLES": "4", "DEBUG": ""}
	b := Defines{"DEBUG": "", "SAMPLES": "4", "INIT": "1"}
	assert.Equal(t, "DEBUG;INIT=1;SAMPLES=4", a.Canonical())
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, a, ParseDefines(a.Canonical()))
	assert.Equal(t, "", Defines(nil).Canonical())

	assert.True(t, NewShaderVariant("", nil).IsDefault())
	assert.False(t, NewShaderVariant("main", Defines{"INIT": "1"}).IsDefault())
}

func TestPipelineDescriptorKeyIgnoresLabels(t *testing.T) {
	layout := NewPingPongLayout(gputypes.TextureFormatRGBA16Float)
	other := NewPingPongLayout(gputypes.TextureFormatRGBA16Float)
	other.Label = "something else"

	a := &ComputePipelineDescriptor{Label: "a", Layouts: []*BindGroupLayout{layout}, Shader: 1, Entry: "main"}
	b := &ComputePipelineDescriptor{Label: "b", Layouts: []*BindGroupLayout{other}, Shader: 1}
	assert.Equal(t, a.Key(), b.Key())

	c := &ComputePipelineDescriptor{Layouts: []*BindGroupLayout{layout}, Shader: 1, Defines: Defines{"INIT": "1"}}
	assert.NotEqual(t, a.Key(), c.Key())

	d := &ComputePipelineDescriptor{Layouts: []*BindGroupLayout{layout}, Shader: 1, PushConstants: []PushConstantRange{{Stages: ShaderStageCompute, Size: 16}}}
	assert.NotEqual(t, a.Key(), d.Key())
}

func TestImageDescriptorValidate(t *testing.T) {
	d := NewStorageImageDescriptor("target", 1920, 1080, gputypes.TextureFormatRGBA16Float)
	require.NoError(t, d.Validate())
	assert.Equal(t, uint64(1920*1080*8), d.ByteSize())

	empty := NewStorageImageDescriptor("empty", 0, 10, gputypes.TextureFormatR32Float)
	assert.Error(t, empty.Validate())
}
