package metadata

import (
	"fmt"
	"strings"
)

/** @brief Returned by the pipeline cache when a descriptor is queued. */
type PipelineID uint32

/** @brief The readiness of a queued pipeline. */
type PipelineState int

const (
	/** @brief Waiting for the next cache tick or for shader bytecode. */
	PipelineStateQueued PipelineState = iota
	/** @brief A GPU pipeline exists. */
	PipelineStateReady
	/** @brief Bytecode changed, a rebuild will happen on the next tick. */
	PipelineStateDirty
	/** @brief The backend rejected the last build. */
	PipelineStateError
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateQueued:
		return "queued"
	case PipelineStateReady:
		return "ready"
	case PipelineStateDirty:
		return "dirty"
	case PipelineStateError:
		return "error"
	}
	return "unknown"
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

/**
 * @brief Everything needed to build a compute pipeline.
 */
type ComputePipelineDescriptor struct {
	Label         string
	Layouts       []*BindGroupLayout
	Shader        ShaderHandle
	Entry         string
	Defines       Defines
	PushConstants []PushConstantRange
}

func (d *ComputePipelineDescriptor) Variant() ShaderVariant {
	return NewShaderVariant(d.Entry, d.Defines)
}

// Key is the structural identity used to dedupe queued descriptors.
func (d *ComputePipelineDescriptor) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "shader=%s;variant=%s;layouts=", d.Shader, d.Variant())
	for _, l := range d.Layouts {
		sb.WriteString(l.Key())
	}
	sb.WriteString(";push=")
	for _, r := range d.PushConstants {
		fmt.Fprintf(&sb, "%d:%d:%d,", r.Stages, r.Offset, r.Size)
	}
	return sb.String()
}

/**
 * @brief A built compute pipeline. Every rebuild produces a new object.
 */
type ComputePipeline struct {
	ID         PipelineID
	Label      string
	Descriptor *ComputePipelineDescriptor
	/** @brief Shader generation the pipeline was built from. */
	ShaderGeneration uint64
	/** @brief Unique per build. */
	Revision     uint64
	InternalData interface{}
}
