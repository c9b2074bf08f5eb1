package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanDescriptorSetLayout struct {
	Handle vk.DescriptorSetLayout
}

type VulkanDescriptorSet struct {
	Handle vk.DescriptorSet
}

func descriptorType(kind metadata.BindingKind) (vk.DescriptorType, error) {
	switch {
	case kind.IsStorageImage():
		return vk.DescriptorTypeStorageImage, nil
	case kind == metadata.BindingKindUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, nil
	case kind == metadata.BindingKindSampler:
		return vk.DescriptorTypeSampler, nil
	}
	return 0, fmt.Errorf("binding kind %s has no descriptor type", kind)
}

func shaderStageFlags(stages metadata.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if stages&metadata.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	if stages&metadata.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if stages&metadata.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if flags == 0 {
		flags = vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func createDescriptorPool(context *VulkanContext) error {
	poolSizes := []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeStorageImage,
		DescriptorCount: VULKAN_MAX_STORAGE_IMAGE_COUNT,
	}}
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType: vk.StructureTypeDescriptorPoolCreateInfo,
		// Bind groups are freed one by one when their slot retires.
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       VULKAN_MAX_BIND_GROUP_COUNT,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	return vkCheck("vkCreateDescriptorPool", vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &context.DescriptorPool))
}

func DescriptorSetLayoutCreate(context *VulkanContext, layout *metadata.BindGroupLayout) (*VulkanDescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(layout.Entries))
	for _, e := range layout.Entries {
		dt, err := descriptorType(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("layout `%s`: %w", layout.Label, err)
		}
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         e.Binding,
			DescriptorType:  dt,
			DescriptorCount: 1,
			StageFlags:      shaderStageFlags(e.Visibility),
		})
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	out := &VulkanDescriptorSetLayout{}
	if err := vkCheck("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &out.Handle)); err != nil {
		return nil, fmt.Errorf("layout `%s`: %w", layout.Label, err)
	}
	return out, nil
}

func (l *VulkanDescriptorSetLayout) Destroy(context *VulkanContext) {
	if l.Handle != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l.Handle, context.Allocator)
		l.Handle = vk.NullDescriptorSetLayout
	}
}

// DescriptorSetCreate allocates a set for group and writes every entry.
// Storage images are always bound in the GENERAL layout.
func DescriptorSetCreate(context *VulkanContext, layout *VulkanDescriptorSetLayout, group *metadata.BindGroup) (*VulkanDescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     context.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}
	out := &VulkanDescriptorSet{}
	if err := vkCheck("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &out.Handle)); err != nil {
		return nil, err
	}

	writes := make([]vk.WriteDescriptorSet, 0, len(group.Entries))
	for _, e := range group.Entries {
		if e.View == nil || e.View.Image == nil {
			out.Free(context)
			return nil, fmt.Errorf("binding %d has no view", e.Binding)
		}
		image, ok := e.View.Image.InternalData.(*VulkanImage)
		if !ok {
			out.Free(context)
			return nil, fmt.Errorf("binding %d is not a Vulkan image", e.Binding)
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          out.Handle,
			DstBinding:      e.Binding,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageView:   image.View,
				ImageLayout: vk.ImageLayoutGeneral,
			}},
		})
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	return out, nil
}

func (s *VulkanDescriptorSet) Free(context *VulkanContext) {
	if s.Handle != vk.NullDescriptorSet {
		vk.FreeDescriptorSets(context.Device.LogicalDevice, context.DescriptorPool, 1, &s.Handle)
		s.Handle = vk.NullDescriptorSet
	}
}
