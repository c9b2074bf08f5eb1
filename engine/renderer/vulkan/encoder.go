package vulkan

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// commandEncoder records into the command buffer of one frame slot. Errors
// are collected and reported by Submit.
type commandEncoder struct {
	context *VulkanContext
	cb      *VulkanCommandBuffer

	labels []string
	errs   []error

	pipeline *VulkanPipeline
}

func newCommandEncoder(context *VulkanContext, cb *VulkanCommandBuffer) *commandEncoder {
	return &commandEncoder{context: context, cb: cb}
}

func (e *commandEncoder) fail(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	if len(e.labels) > 0 {
		err = fmt.Errorf("%s: %w", strings.Join(e.labels, "/"), err)
	}
	e.errs = append(e.errs, err)
}

func (e *commandEncoder) err() error {
	return errors.Join(e.errs...)
}

func layoutFor(state metadata.ResourceState) vk.ImageLayout {
	switch state {
	case metadata.ResourceStateRenderTarget, metadata.ResourceStateCopyDst:
		// Back buffers are only written by clears and blits.
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ResourceStateCopySrc:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ResourceStateStorage:
		return vk.ImageLayoutGeneral
	}
	return vk.ImageLayoutPresentSrc
}

func (e *commandEncoder) TransitionBackBuffer(backBuffer uint32, from, to metadata.ResourceState) {
	sc := e.context.Swapchain
	if int(backBuffer) >= len(sc.Images) {
		e.fail("back buffer %d out of range", backBuffer)
		return
	}
	// The tracked layout wins over from, a fresh image starts undefined.
	current := sc.Layouts[backBuffer]
	target := layoutFor(to)
	if current == target {
		return
	}
	imageBarrier(e.cb.Handle, sc.Images[backBuffer], current, target, vk.PipelineStageAllCommandsBit, vk.PipelineStageAllCommandsBit)
	sc.Layouts[backBuffer] = target
}

func (e *commandEncoder) SetViewport(v metadata.Viewport) {
	vk.CmdSetViewport(e.cb.Handle, 0, 1, []vk.Viewport{{
		X: v.X, Y: v.Y, Width: v.Width, Height: v.Height, MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
	}})
}

func (e *commandEncoder) SetScissor(r metadata.Rect) {
	vk.CmdSetScissor(e.cb.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (e *commandEncoder) ClearBackBuffer(backBuffer uint32, color [4]float32) {
	sc := e.context.Swapchain
	if int(backBuffer) >= len(sc.Images) {
		e.fail("back buffer %d out of range", backBuffer)
		return
	}
	clear := vk.NewClearValue(color[:])
	vk.CmdClearColorImage(e.cb.Handle, sc.Images[backBuffer], sc.Layouts[backBuffer],
		(*vk.ClearColorValue)(unsafe.Pointer(&clear)), 1, []vk.ImageSubresourceRange{colorRange})
}

func (e *commandEncoder) BeginComputePass(label string) metadata.ComputePassEncoder {
	e.labels = append(e.labels, label)
	e.pipeline = nil
	return &computePass{enc: e}
}

func (e *commandEncoder) CopyToBackBuffer(src *metadata.ImageView, backBuffer uint32) {
	sc := e.context.Swapchain
	if int(backBuffer) >= len(sc.Images) {
		e.fail("back buffer %d out of range", backBuffer)
		return
	}
	if src == nil || src.Image == nil {
		e.fail("copy to back buffer without a source")
		return
	}
	image, ok := src.Image.InternalData.(*VulkanImage)
	if !ok {
		e.fail("source `%s` is not a Vulkan image", src.Image.Descriptor.Label)
		return
	}

	// Make the compute writes visible to the transfer.
	computeToTransfer(e.cb.Handle)

	filter := vk.FilterNearest
	if image.Width != sc.Extent.Width || image.Height != sc.Extent.Height {
		filter = vk.FilterLinear
	}
	blit := vk.ImageBlit{
		SrcSubresource: colorLayers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(image.Width), Y: int32(image.Height), Z: 1}},
		DstSubresource: colorLayers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: int32(sc.Extent.Width), Y: int32(sc.Extent.Height), Z: 1}},
	}
	vk.CmdBlitImage(e.cb.Handle,
		image.Handle, vk.ImageLayoutGeneral,
		sc.Images[backBuffer], sc.Layouts[backBuffer],
		1, []vk.ImageBlit{blit}, filter)
}

func (e *commandEncoder) PushDebugGroup(label string) {
	e.labels = append(e.labels, label)
}

func (e *commandEncoder) PopDebugGroup() {
	if len(e.labels) == 0 {
		e.fail("debug group underflow")
		return
	}
	e.labels = e.labels[:len(e.labels)-1]
}

func computeToCompute(cmd vk.CommandBuffer) {
	memoryBarrier(cmd, vk.PipelineStageComputeShaderBit, vk.PipelineStageComputeShaderBit)
}

func computeToTransfer(cmd vk.CommandBuffer) {
	memoryBarrier(cmd, vk.PipelineStageComputeShaderBit, vk.PipelineStageTransferBit)
}

func memoryBarrier(cmd vk.CommandBuffer, src, dst vk.PipelineStageFlagBits) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit | vk.AccessTransferReadBit),
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

type computePass struct {
	enc *commandEncoder
}

func (p *computePass) PushDebugGroup(label string) {
	p.enc.PushDebugGroup(label)
}

func (p *computePass) PopDebugGroup() {
	p.enc.PopDebugGroup()
}

func (p *computePass) SetPipeline(pipeline *metadata.ComputePipeline) {
	vp, ok := pipeline.InternalData.(*VulkanPipeline)
	if !ok {
		p.enc.fail("pipeline `%s` has no GPU object: %w", pipeline.Label, core.ErrPipelineNotReady)
		return
	}
	vp.Bind(p.enc.cb)
	p.enc.pipeline = vp
}

func (p *computePass) SetBindGroup(index uint32, g *metadata.BindGroup) {
	if p.enc.pipeline == nil {
		p.enc.fail("bind group `%s` set before a pipeline", g.Label)
		return
	}
	set, ok := g.InternalData.(*VulkanDescriptorSet)
	if !ok {
		p.enc.fail("bind group `%s` was not created", g.Label)
		return
	}
	vk.CmdBindDescriptorSets(p.enc.cb.Handle, vk.PipelineBindPointCompute, p.enc.pipeline.PipelineLayout,
		index, 1, []vk.DescriptorSet{set.Handle}, 0, nil)
}

func (p *computePass) SetPushConstants(offset uint32, data []byte) {
	if p.enc.pipeline == nil {
		p.enc.fail("push constants set before a pipeline")
		return
	}
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(p.enc.cb.Handle, p.enc.pipeline.PipelineLayout, p.enc.pipeline.PushConstantStages,
		offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if p.enc.pipeline == nil {
		p.enc.fail("dispatch without a pipeline")
		return
	}
	// Earlier dispatches of the frame may have written what this one reads.
	computeToCompute(p.enc.cb.Handle)
	vk.CmdDispatch(p.enc.cb.Handle, x, y, z)
}

func (p *computePass) End() {
	p.enc.PopDebugGroup()
	p.enc.pipeline = nil
}
