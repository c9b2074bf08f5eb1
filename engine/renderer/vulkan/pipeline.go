package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan compute pipeline and its layout.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	/** @brief Stages the push constant ranges are visible to. */
	PushConstantStages vk.ShaderStageFlags
}

func NewComputePipeline(context *VulkanContext, pipeline *metadata.ComputePipeline, code []uint32) (*VulkanPipeline, error) {
	desc := pipeline.Descriptor
	device := context.Device.LogicalDevice
	out := &VulkanPipeline{}

	setLayouts := make([]vk.DescriptorSetLayout, 0, len(desc.Layouts))
	for _, l := range desc.Layouts {
		vl, ok := l.InternalData.(*VulkanDescriptorSetLayout)
		if !ok {
			return nil, fmt.Errorf("pipeline `%s`: layout `%s` was not created: %w", pipeline.Label, l.Label, core.ErrPipelineNotReady)
		}
		setLayouts = append(setLayouts, vl.Handle)
	}

	ranges := make([]vk.PushConstantRange, 0, len(desc.PushConstants))
	for _, r := range desc.PushConstants {
		stages := shaderStageFlags(r.Stages)
		out.PushConstantStages |= stages
		ranges = append(ranges, vk.PushConstantRange{
			StageFlags: stages,
			Offset:     r.Offset,
			Size:       r.Size,
		})
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	if err := vkCheck("vkCreatePipelineLayout", vk.CreatePipelineLayout(device, &layoutCreateInfo, context.Allocator, &out.PipelineLayout)); err != nil {
		return nil, fmt.Errorf("pipeline `%s`: %w", pipeline.Label, err)
	}

	moduleCreateInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := vkCheck("vkCreateShaderModule", vk.CreateShaderModule(device, &moduleCreateInfo, context.Allocator, &module)); err != nil {
		out.Destroy(context)
		return nil, fmt.Errorf("pipeline `%s`: %w", pipeline.Label, err)
	}
	// The module is only needed while the pipeline is created.
	defer vk.DestroyShaderModule(device, module, context.Allocator)

	entry := desc.Entry
	if entry == "" {
		entry = "main"
	}
	createInfos := []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  VulkanSafeString(entry),
		},
		Layout: out.PipelineLayout,
	}}
	pipelines := make([]vk.Pipeline, 1)
	if err := vkCheck("vkCreateComputePipelines", vk.CreateComputePipelines(device, vk.NullPipelineCache, 1, createInfos, context.Allocator, pipelines)); err != nil {
		out.Destroy(context)
		return nil, fmt.Errorf("pipeline `%s`: %w", pipeline.Label, err)
	}
	out.Handle = pipelines[0]
	core.LogDebug("compute pipeline `%s` created (entry %s)", pipeline.Label, entry)
	return out, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(device, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, pipeline.PipelineLayout, context.Allocator)
		pipeline.PipelineLayout = vk.NullPipelineLayout
	}
}

func (pipeline *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer) {
	vk.CmdBindPipeline(commandBuffer.Handle, vk.PipelineBindPointCompute, pipeline.Handle)
}
