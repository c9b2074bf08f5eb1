package views

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const (
	PathTracerNodeName = "path_tracer"
	PathTracerLabel    = "Reference Path Tracer"

	PathTracerInitLabel   = "path_tracer_init"
	PathTracerUpdateLabel = "path_tracer_update"
)

/**
 * @brief Push constants of path_tracer_entry.hlsl. Layout must match the
 * cbuffer declared there.
 */
type PathTracerConstants struct {
	Frame      uint32
	Width      uint32
	Height     uint32
	Sample     uint32
	Eye        [3]float32
	TanHalfFov float32
	Forward    [3]float32
	Aspect     float32
	Right      [3]float32
	Pad0       float32
	Up         [3]float32
	Pad1       float32
}

const PathTracerConstantsSize = 80

func (c *PathTracerConstants) Bytes() []byte {
	out, err := binary.Append(make([]byte, 0, PathTracerConstantsSize), binary.LittleEndian, c)
	if err != nil {
		// fixed size struct, cannot fail
		panic(err)
	}
	return out
}

type PathTracerState int

const (
	// waiting for the init pipeline
	PathTracerLoading PathTracerState = iota
	// seeding the accumulation with the init variant
	PathTracerInit
	// ping-ponging with the update variant
	PathTracerUpdate
)

func (s PathTracerState) String() string {
	switch s {
	case PathTracerLoading:
		return "loading"
	case PathTracerInit:
		return "init"
	case PathTracerUpdate:
		return "update"
	}
	return "unknown"
}

type PathTracerConfig struct {
	Shader        metadata.ShaderHandle
	Pair          metadata.PingPongPair
	Format        gputypes.TextureFormat
	WorkgroupSize uint32
	// Camera is read every frame. Nil uses a default camera.
	Camera *components.Camera
}

/**
 * @brief Progressive path tracer over a ping-pong pair of storage images.
 * Each frame reads the previous frame's output and writes the other image.
 */
type PathTracerNode struct {
	config   PathTracerConfig
	layout   *metadata.BindGroupLayout
	initID   metadata.PipelineID
	updateID metadata.PipelineID

	state          PathTracerState
	samples        uint32
	cameraRevision uint64

	// prepared by Update for Run
	active    *metadata.ComputePipeline
	group     *metadata.BindGroup
	constants PathTracerConstants
}

func NewPathTracerNode(pipelines *systems.PipelineCache, config PathTracerConfig) (*PathTracerNode, error) {
	if config.WorkgroupSize == 0 {
		return nil, fmt.Errorf("path tracer workgroup size must be > 0")
	}
	if config.Camera == nil {
		config.Camera = components.NewCamera()
	}
	n := &PathTracerNode{
		config: config,
		layout: metadata.NewPingPongLayout(config.Format),
	}
	n.layout.Label = "path_tracer_layout"

	push := []metadata.PushConstantRange{{Stages: metadata.ShaderStageCompute, Size: PathTracerConstantsSize}}
	var err error
	n.initID, err = pipelines.QueueCompute(&metadata.ComputePipelineDescriptor{
		Label:         PathTracerInitLabel,
		Layouts:       []*metadata.BindGroupLayout{n.layout},
		Shader:        config.Shader,
		Entry:         metadata.DefaultShaderEntry,
		Defines:       metadata.Defines{"INIT": "1"},
		PushConstants: push,
	})
	if err != nil {
		return nil, err
	}
	n.updateID, err = pipelines.QueueCompute(&metadata.ComputePipelineDescriptor{
		Label:         PathTracerUpdateLabel,
		Layouts:       []*metadata.BindGroupLayout{n.layout},
		Shader:        config.Shader,
		Entry:         metadata.DefaultShaderEntry,
		PushConstants: push,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (n *PathTracerNode) Name() string {
	return PathTracerNodeName
}

func (n *PathTracerNode) State() PathTracerState {
	return n.state
}

// Samples is the number of frames accumulated since the last reset.
func (n *PathTracerNode) Samples() uint32 {
	return n.samples
}

func (n *PathTracerNode) PipelineIDs() (metadata.PipelineID, metadata.PipelineID) {
	return n.initID, n.updateID
}

func (n *PathTracerNode) Update(world *systems.RenderWorld) error {
	n.active, n.group = nil, nil

	initP := world.Pipelines.GetCompute(n.initID)
	updateP := world.Pipelines.GetCompute(n.updateID)

	if n.state == PathTracerLoading {
		if initP == nil {
			return nil
		}
		n.state = PathTracerInit
	}
	if rev := n.config.Camera.Revision; rev != n.cameraRevision {
		n.cameraRevision = rev
		n.restart("camera moved")
	}
	desc, ok := world.Images.Descriptor(n.config.Pair.Write(world.Frame))
	if !ok {
		return fmt.Errorf("path tracer target %s: %w", n.config.Pair.Write(world.Frame), core.ErrMissingResource)
	}
	if w, h := desc.Size.Width, desc.Size.Height; w != n.constants.Width || h != n.constants.Height {
		n.restart("target resized")
	}

	pipeline := updateP
	if n.state == PathTracerInit {
		pipeline = initP
	}
	if pipeline == nil {
		return nil
	}

	groups, err := world.BindGroups.PreparePingPong(world.Frame, world.Slot, n.layout, n.config.Pair, world.Images)
	if err != nil {
		return err
	}

	if n.state == PathTracerInit {
		n.samples = 0
	}
	n.constants = n.pushConstants(world.Frame, desc.Size.Width, desc.Size.Height)
	n.active = pipeline
	n.group = groups.Select(world.Frame)
	n.samples++

	if n.state == PathTracerInit && updateP != nil {
		n.state = PathTracerUpdate
	}
	world.Output = n.config.Pair.Write(world.Frame)
	return nil
}

func (n *PathTracerNode) restart(reason string) {
	if n.state != PathTracerUpdate {
		return
	}
	core.LogDebug("%s, restarting accumulation after %d samples", reason, n.samples)
	n.state = PathTracerInit
}

func (n *PathTracerNode) pushConstants(frame uint64, width, height uint32) PathTracerConstants {
	b := n.config.Camera.Basis()
	c := PathTracerConstants{
		Frame:      uint32(frame),
		Width:      width,
		Height:     height,
		Sample:     n.samples,
		Eye:        vec3(b.Position),
		TanHalfFov: b.TanHalfFov,
		Forward:    vec3(b.Forward),
		Right:      vec3(b.Right),
		Up:         vec3(b.Up),
	}
	if height > 0 {
		c.Aspect = float32(width) / float32(height)
	}
	return c
}

func vec3(v math.Vec3) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

func (n *PathTracerNode) Run(fc *renderer.FrameContext, world *systems.RenderWorld) error {
	if n.active == nil || n.group == nil {
		return nil
	}
	x, y, z := math.DispatchSize(n.constants.Width, n.constants.Height, n.config.WorkgroupSize)

	pass := fc.Encoder.BeginComputePass(n.Name())
	pass.PushDebugGroup(PathTracerLabel)
	pass.SetPipeline(n.active)
	pass.SetBindGroup(0, n.group)
	pass.SetPushConstants(0, n.constants.Bytes())
	pass.Dispatch(x, y, z)
	pass.PopDebugGroup()
	pass.End()
	return nil
}
