package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief A storage image. It lives in the GENERAL layout for its whole life
 * so compute passes and blits can use it without tracking.
 */
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Format vk.Format
	Width  uint32
	Height uint32
}

var colorRange = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

var colorLayers = vk.ImageSubresourceLayers{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LayerCount: 1,
}

func vulkanFormat(format gputypes.TextureFormat) (vk.Format, error) {
	switch format {
	case gputypes.TextureFormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat, nil
	case gputypes.TextureFormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat, nil
	case gputypes.TextureFormatR32Float:
		return vk.FormatR32Sfloat, nil
	case gputypes.TextureFormatR32Uint:
		return vk.FormatR32Uint, nil
	case gputypes.TextureFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm, nil
	case gputypes.TextureFormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm, nil
	}
	return vk.FormatUndefined, fmt.Errorf("texel format %v has no Vulkan equivalent", format)
}

func imageUsage(usage gputypes.TextureUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage&gputypes.TextureUsageCopySrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage&gputypes.TextureUsageCopyDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if usage&gputypes.TextureUsageTextureBinding != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if usage&gputypes.TextureUsageStorageBinding != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	// Presenting blits from the image.
	flags |= vk.ImageUsageTransferSrcBit
	return vk.ImageUsageFlags(flags)
}

func ImageCreate(context *VulkanContext, desc *metadata.ImageDescriptor) (*VulkanImage, error) {
	format, err := vulkanFormat(desc.Format)
	if err != nil {
		return nil, err
	}
	out := &VulkanImage{
		Format: format,
		Width:  desc.Size.Width,
		Height: desc.Size.Height,
	}
	device := context.Device.LogicalDevice

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Size.Width,
			Height: desc.Size.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := vkCheck("vkCreateImage", vk.CreateImage(device, &imageCreateInfo, context.Allocator, &out.Handle)); err != nil {
		return nil, fmt.Errorf("image `%s`: %w", desc.Label, err)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, out.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryType == -1 {
		out.Destroy(context)
		return nil, fmt.Errorf("image `%s`: required memory type not found", desc.Label)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := vkCheck("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &out.Memory)); err != nil {
		out.Destroy(context)
		return nil, fmt.Errorf("image `%s`: %w", desc.Label, err)
	}
	if err := vkCheck("vkBindImageMemory", vk.BindImageMemory(device, out.Handle, out.Memory, 0)); err != nil {
		out.Destroy(context)
		return nil, fmt.Errorf("image `%s`: %w", desc.Label, err)
	}
	return out, nil
}

func (vi *VulkanImage) CreateView(context *VulkanContext) error {
	if vi.View != vk.NullImageView {
		return nil
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            vi.Handle,
		ViewType:         vk.ImageViewType2d,
		Format:           vi.Format,
		SubresourceRange: colorRange,
	}
	return vkCheck("vkCreateImageView", vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &vi.View))
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
}

// imageBarrier moves image between layouts, covering every access the
// frame makes.
func imageBarrier(cmd vk.CommandBuffer, image vk.Image, from, to vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlagBits) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    colorRange,
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// Upload copies data into the image through a staging buffer, then leaves
// the image in the GENERAL layout. data may be nil for a fresh image.
func (vi *VulkanImage) Upload(context *VulkanContext, locks *VulkanLockPool, data []byte) error {
	device := context.Device.LogicalDevice
	var (
		staging       vk.Buffer
		stagingMemory vk.DeviceMemory
	)
	if len(data) > 0 {
		var err error
		staging, stagingMemory, err = createStagingBuffer(context, data)
		if err != nil {
			return err
		}
		defer func() {
			vk.DestroyBuffer(device, staging, context.Allocator)
			vk.FreeMemory(device, stagingMemory, context.Allocator)
		}()
	}

	cb, err := AllocateAndBeginSingleUse(context, context.Device.CommandPool)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		imageBarrier(cb.Handle, vi.Handle, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit)
		region := vk.BufferImageCopy{
			ImageSubresource: colorLayers,
			ImageExtent:      vk.Extent3D{Width: vi.Width, Height: vi.Height, Depth: 1},
		}
		vk.CmdCopyBufferToImage(cb.Handle, staging, vi.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
		imageBarrier(cb.Handle, vi.Handle, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutGeneral, vk.PipelineStageTransferBit, vk.PipelineStageComputeShaderBit)
	} else {
		imageBarrier(cb.Handle, vi.Handle, vk.ImageLayoutUndefined, vk.ImageLayoutGeneral, vk.PipelineStageTopOfPipeBit, vk.PipelineStageComputeShaderBit)
	}
	return cb.EndSingleUse(context, context.Device.CommandPool, context.Device.Queue, locks)
}

func createStagingBuffer(context *VulkanContext, data []byte) (vk.Buffer, vk.DeviceMemory, error) {
	device := context.Device.LogicalDevice
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(len(data)),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vkCheck("vkCreateBuffer", vk.CreateBuffer(device, &bufferCreateInfo, context.Allocator, &buffer)); err != nil {
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memoryRequirements)
	memoryRequirements.Deref()
	memoryType := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryType == -1 {
		vk.DestroyBuffer(device, buffer, context.Allocator)
		return vk.NullBuffer, vk.NullDeviceMemory, fmt.Errorf("no host visible memory for a staging buffer")
	}

	var memory vk.DeviceMemory
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := vkCheck("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		vk.DestroyBuffer(device, buffer, context.Allocator)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}
	vk.BindBufferMemory(device, buffer, memory, 0)

	var mapped unsafe.Pointer
	if err := vkCheck("vkMapMemory", vk.MapMemory(device, memory, 0, vk.DeviceSize(len(data)), 0, &mapped)); err != nil {
		vk.DestroyBuffer(device, buffer, context.Allocator)
		vk.FreeMemory(device, memory, context.Allocator)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(device, memory)
	core.LogDebug("staging buffer of %d bytes", len(data))
	return buffer, memory, nil
}
