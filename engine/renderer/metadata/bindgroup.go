package metadata

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

/** @brief The kind of resource a binding slot accepts. */
type BindingKind int

const (
	BindingKindReadOnlyStorageImage BindingKind = iota
	BindingKindWriteOnlyStorageImage
	BindingKindReadWriteStorageImage
	BindingKindUniformBuffer
	BindingKindSampler
)

func (k BindingKind) String() string {
	switch k {
	case BindingKindReadOnlyStorageImage:
		return "storage-image-ro"
	case BindingKindWriteOnlyStorageImage:
		return "storage-image-wo"
	case BindingKindReadWriteStorageImage:
		return "storage-image-rw"
	case BindingKindUniformBuffer:
		return "uniform-buffer"
	case BindingKindSampler:
		return "sampler"
	}
	return "unknown"
}

func (k BindingKind) IsStorageImage() bool {
	return k <= BindingKindReadWriteStorageImage
}

func (k BindingKind) Readable() bool {
	return k == BindingKindReadOnlyStorageImage || k == BindingKindReadWriteStorageImage
}

func (k BindingKind) Writable() bool {
	return k == BindingKindWriteOnlyStorageImage || k == BindingKindReadWriteStorageImage
}

type BindGroupLayoutEntry struct {
	Binding    uint32
	Kind       BindingKind
	Format     gputypes.TextureFormat
	Visibility ShaderStage
}

/**
 * @brief Ordered list of binding slots. Immutable after creation.
 */
type BindGroupLayout struct {
	Label   string
	Entries []BindGroupLayoutEntry
	/** @brief Backend specific data (descriptor set layout). */
	InternalData interface{}
}

func (l *BindGroupLayout) Entry(binding uint32) (BindGroupLayoutEntry, bool) {
	for _, e := range l.Entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return BindGroupLayoutEntry{}, false
}

// Key is the structural identity of the layout. Labels are ignored.
func (l *BindGroupLayout) Key() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for _, e := range l.Entries {
		fmt.Fprintf(&sb, "%d:%d:%d:%d,", e.Binding, e.Kind, e.Format, e.Visibility)
	}
	sb.WriteByte('}')
	return sb.String()
}

// NewPingPongLayout is the (read-only, write-only) storage image layout used
// by the compute pass.
func NewPingPongLayout(format gputypes.TextureFormat) *BindGroupLayout {
	return &BindGroupLayout{
		Label: "ping_pong_layout",
		Entries: []BindGroupLayoutEntry{
			{Binding: 0, Kind: BindingKindReadOnlyStorageImage, Format: format, Visibility: ShaderStageCompute},
			{Binding: 1, Kind: BindingKindWriteOnlyStorageImage, Format: format, Visibility: ShaderStageCompute},
		},
	}
}

type BindGroupEntry struct {
	Binding uint32
	Image   ImageHandle
	View    *ImageView
}

/**
 * @brief A concrete table binding views to a layout. Recreated every frame.
 */
type BindGroup struct {
	Label   string
	Layout  *BindGroupLayout
	Entries []BindGroupEntry
	/** @brief Backend specific data (descriptor set). */
	InternalData interface{}
}

func (g *BindGroup) Image(binding uint32) (ImageHandle, bool) {
	for _, e := range g.Entries {
		if e.Binding == binding {
			return e.Image, true
		}
	}
	return 0, false
}
