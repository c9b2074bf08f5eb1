package views

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const (
	TonemapNodeName = "tonemap"
	TonemapLabel    = "tonemap"
)

type TonemapConfig struct {
	// Shader is a WGSL compute module with a (source, target) layout.
	Shader        metadata.ShaderHandle
	SourceFormat  gputypes.TextureFormat
	Target        metadata.ImageHandle
	TargetFormat  gputypes.TextureFormat
	WorkgroupSize uint32
}

/**
 * @brief Maps the accumulated radiance into a displayable image. The
 * accumulation images are never written.
 */
type TonemapNode struct {
	config     TonemapConfig
	layout     *metadata.BindGroupLayout
	pipelineID metadata.PipelineID

	pipeline *metadata.ComputePipeline
	group    *metadata.BindGroup
	width    uint32
	height   uint32
}

func NewTonemapNode(pipelines *systems.PipelineCache, config TonemapConfig) (*TonemapNode, error) {
	if config.WorkgroupSize == 0 {
		return nil, fmt.Errorf("tonemap workgroup size must be > 0")
	}
	if config.Target == core.InvalidHandle {
		return nil, fmt.Errorf("tonemap needs a target image")
	}
	n := &TonemapNode{
		config: config,
		layout: &metadata.BindGroupLayout{
			Label: "tonemap_layout",
			Entries: []metadata.BindGroupLayoutEntry{
				{Binding: 0, Kind: metadata.BindingKindReadOnlyStorageImage, Format: config.SourceFormat, Visibility: metadata.ShaderStageCompute},
				{Binding: 1, Kind: metadata.BindingKindWriteOnlyStorageImage, Format: config.TargetFormat, Visibility: metadata.ShaderStageCompute},
			},
		},
	}
	id, err := pipelines.QueueCompute(&metadata.ComputePipelineDescriptor{
		Label:   TonemapLabel,
		Layouts: []*metadata.BindGroupLayout{n.layout},
		Shader:  config.Shader,
		Entry:   metadata.DefaultShaderEntry,
	})
	if err != nil {
		return nil, err
	}
	n.pipelineID = id
	return n, nil
}

func (n *TonemapNode) Name() string {
	return TonemapNodeName
}

func (n *TonemapNode) PipelineID() metadata.PipelineID {
	return n.pipelineID
}

func (n *TonemapNode) Update(world *systems.RenderWorld) error {
	n.pipeline, n.group = nil, nil
	if world.Display == core.InvalidHandle {
		return nil
	}
	pipeline := world.Pipelines.GetCompute(n.pipelineID)
	if pipeline == nil {
		// present shows the raw accumulation meanwhile
		return nil
	}
	desc, ok := world.Images.Descriptor(n.config.Target)
	if !ok {
		return fmt.Errorf("tonemap target %s: %w", n.config.Target, core.ErrMissingResource)
	}
	group, err := world.BindGroups.Prepare(world.Slot, TonemapLabel, n.layout, world.Images, world.Display, n.config.Target)
	if err != nil {
		return err
	}
	n.pipeline = pipeline
	n.group = group
	n.width, n.height = desc.Size.Width, desc.Size.Height
	world.Display = n.config.Target
	return nil
}

func (n *TonemapNode) Run(fc *renderer.FrameContext, world *systems.RenderWorld) error {
	if n.pipeline == nil {
		return nil
	}
	x, y, z := math.DispatchSize(n.width, n.height, n.config.WorkgroupSize)
	pass := fc.Encoder.BeginComputePass(n.Name())
	pass.PushDebugGroup("Tonemap")
	pass.SetPipeline(n.pipeline)
	pass.SetBindGroup(0, n.group)
	pass.Dispatch(x, y, z)
	pass.PopDebugGroup()
	pass.End()
	return nil
}
