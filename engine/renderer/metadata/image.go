package metadata

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
)

/** @brief Opaque identifier of an image owned by the image store. */
type ImageHandle = core.Handle

/**
 * @brief Describes an image. Immutable once created, except through an
 * explicit resize which forces a GPU reallocation.
 */
type ImageDescriptor struct {
	/** @brief Debug name of the image. */
	Label string
	/** @brief Width, height and depth/array layers (1 for 2D). */
	Size gputypes.Extent3D
	/** @brief The texel format. */
	Format gputypes.TextureFormat
	/** @brief Always 2D for now. */
	Dimension gputypes.TextureDimension
	/** @brief CopyDst, StorageBinding, TextureBinding... */
	Usage gputypes.TextureUsage
}

// NewStorageImageDescriptor describes a 2D image usable as a storage image,
// a copy destination and a sampled texture.
func NewStorageImageDescriptor(label string, width, height uint32, format gputypes.TextureFormat) ImageDescriptor {
	return ImageDescriptor{
		Label:     label,
		Size:      gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		Format:    format,
		Dimension: gputypes.TextureDimension2D,
		Usage:     gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc | gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding,
	}
}

func (d *ImageDescriptor) Validate() error {
	if d.Size.Width == 0 || d.Size.Height == 0 {
		return fmt.Errorf("image `%s` has an empty extent %dx%d", d.Label, d.Size.Width, d.Size.Height)
	}
	if d.Size.DepthOrArrayLayers > 1 {
		return fmt.Errorf("image `%s`: only 2D images are supported", d.Label)
	}
	if _, err := BytesPerTexel(d.Format); err != nil {
		return fmt.Errorf("image `%s`: %w", d.Label, err)
	}
	return nil
}

// TexelCount is width * height * layers.
func (d *ImageDescriptor) TexelCount() uint64 {
	layers := d.Size.DepthOrArrayLayers
	if layers == 0 {
		layers = 1
	}
	return uint64(d.Size.Width) * uint64(d.Size.Height) * uint64(layers)
}

func (d *ImageDescriptor) ByteSize() uint64 {
	bpt, err := BytesPerTexel(d.Format)
	if err != nil {
		return 0
	}
	return d.TexelCount() * uint64(bpt)
}

// BytesPerTexel only knows about the formats a compute target can use.
func BytesPerTexel(format gputypes.TextureFormat) (uint32, error) {
	switch format {
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint:
		return 4, nil
	case gputypes.TextureFormatRGBA16Float:
		return 8, nil
	case gputypes.TextureFormatRGBA32Float:
		return 16, nil
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4, nil
	}
	return 0, fmt.Errorf("unsupported texel format %v", format)
}

// Channels returns the number of components of the format.
func Channels(format gputypes.TextureFormat) int {
	switch format {
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint:
		return 1
	}
	return 4
}

/**
 * @brief A live GPU image. The backend owns InternalData.
 */
type GPUImage struct {
	Descriptor ImageDescriptor
	/** @brief Bumped each time the image is reallocated. */
	Generation uint32
	/** @brief Backend specific data. */
	InternalData interface{}
}

/** @brief Default view over a GPUImage. */
type ImageView struct {
	Image        *GPUImage
	InternalData interface{}
}

/**
 * @brief Two images with identical descriptors used as alternating
 * read/write targets.
 */
type PingPongPair struct {
	A ImageHandle
	B ImageHandle
}

// Read is the image sampled by the dispatch of the given frame.
func (p PingPongPair) Read(frame uint64) ImageHandle {
	if frame&1 == 0 {
		return p.A
	}
	return p.B
}

// Write is the image written by the dispatch of the given frame.
func (p PingPongPair) Write(frame uint64) ImageHandle {
	if frame&1 == 0 {
		return p.B
	}
	return p.A
}
