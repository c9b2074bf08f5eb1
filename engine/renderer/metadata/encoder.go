package metadata

/** @brief Resource states used for back-buffer transitions. */
type ResourceState int

const (
	ResourceStateCommon ResourceState = iota
	ResourceStateRenderTarget
	ResourceStateCopySrc
	ResourceStateCopyDst
	ResourceStateStorage
	ResourceStatePresent
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "common"
	case ResourceStateRenderTarget:
		return "render-target"
	case ResourceStateCopySrc:
		return "copy-src"
	case ResourceStateCopyDst:
		return "copy-dst"
	case ResourceStateStorage:
		return "storage"
	case ResourceStatePresent:
		return "present"
	}
	return "unknown"
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

/**
 * @brief Records the commands of one frame slot. Recording errors are
 * reported when the frame is submitted.
 */
type CommandEncoder interface {
	TransitionBackBuffer(backBuffer uint32, from, to ResourceState)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	ClearBackBuffer(backBuffer uint32, color [4]float32)
	BeginComputePass(label string) ComputePassEncoder
	// CopyToBackBuffer scales src onto the back buffer.
	CopyToBackBuffer(src *ImageView, backBuffer uint32)
	PushDebugGroup(label string)
	PopDebugGroup()
}

type ComputePassEncoder interface {
	PushDebugGroup(label string)
	PopDebugGroup()
	SetPipeline(p *ComputePipeline)
	SetBindGroup(index uint32, g *BindGroup)
	SetPushConstants(offset uint32, data []byte)
	Dispatch(x, y, z uint32)
	End()
}
