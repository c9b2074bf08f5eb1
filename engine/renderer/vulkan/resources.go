package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var _ renderer.RendererBackend = (*VulkanRenderer)(nil)

func vulkanImageOf(image *metadata.GPUImage) (*VulkanImage, error) {
	if image == nil {
		return nil, fmt.Errorf("%w: nil image", core.ErrMissingResource)
	}
	vi, ok := image.InternalData.(*VulkanImage)
	if !ok {
		return nil, fmt.Errorf("%w: image `%s` has no Vulkan storage", core.ErrMissingResource, image.Descriptor.Label)
	}
	return vi, nil
}

func (vr *VulkanRenderer) CreateImage(desc *metadata.ImageDescriptor) (*metadata.GPUImage, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	vi, err := ImageCreate(vr.context, desc)
	if err != nil {
		return nil, err
	}
	if err := vi.CreateView(vr.context); err != nil {
		vi.Destroy(vr.context)
		return nil, err
	}
	// Moves the fresh image to GENERAL.
	if err := vi.Upload(vr.context, vr.locks, nil); err != nil {
		vi.Destroy(vr.context)
		return nil, err
	}
	return &metadata.GPUImage{Descriptor: *desc, InternalData: vi}, nil
}

func (vr *VulkanRenderer) WriteImage(image *metadata.GPUImage, data []byte) error {
	vi, err := vulkanImageOf(image)
	if err != nil {
		return err
	}
	texel, err := metadata.BytesPerTexel(image.Descriptor.Format)
	if err != nil {
		return err
	}
	want := int(vi.Width) * int(vi.Height) * int(texel)
	if len(data) != want {
		return fmt.Errorf("image `%s`: got %d bytes, want %d", image.Descriptor.Label, len(data), want)
	}
	return vi.Upload(vr.context, vr.locks, data)
}

func (vr *VulkanRenderer) CreateView(image *metadata.GPUImage) (*metadata.ImageView, error) {
	vi, err := vulkanImageOf(image)
	if err != nil {
		return nil, err
	}
	if err := vi.CreateView(vr.context); err != nil {
		return nil, err
	}
	return &metadata.ImageView{Image: image, InternalData: vi.View}, nil
}

func (vr *VulkanRenderer) DestroyImage(image *metadata.GPUImage) error {
	vi, err := vulkanImageOf(image)
	if err != nil {
		return err
	}
	vi.Destroy(vr.context)
	image.InternalData = nil
	return nil
}

func (vr *VulkanRenderer) CreateBindGroupLayout(layout *metadata.BindGroupLayout) error {
	return vr.locks.SafeCall(DescriptorManagement, func() error {
		l, err := DescriptorSetLayoutCreate(vr.context, layout)
		if err != nil {
			return err
		}
		layout.InternalData = l
		return nil
	})
}

func (vr *VulkanRenderer) DestroyBindGroupLayout(layout *metadata.BindGroupLayout) error {
	l, ok := layout.InternalData.(*VulkanDescriptorSetLayout)
	if !ok {
		return fmt.Errorf("%w: layout `%s`", core.ErrMissingResource, layout.Label)
	}
	l.Destroy(vr.context)
	layout.InternalData = nil
	return nil
}

func (vr *VulkanRenderer) CreateComputePipeline(pipeline *metadata.ComputePipeline, code []uint32) error {
	if len(code) == 0 {
		return fmt.Errorf("pipeline `%s`: empty bytecode: %w", pipeline.Label, core.ErrShaderCompile)
	}
	vp, err := NewComputePipeline(vr.context, pipeline, code)
	if err != nil {
		return err
	}
	pipeline.InternalData = vp
	return nil
}

func (vr *VulkanRenderer) DestroyComputePipeline(pipeline *metadata.ComputePipeline) error {
	vp, ok := pipeline.InternalData.(*VulkanPipeline)
	if !ok {
		return fmt.Errorf("%w: pipeline `%s`", core.ErrMissingResource, pipeline.Label)
	}
	vp.Destroy(vr.context)
	pipeline.InternalData = nil
	return nil
}

func (vr *VulkanRenderer) CreateBindGroup(group *metadata.BindGroup) error {
	if group.Layout == nil {
		return fmt.Errorf("bind group `%s` has no layout", group.Label)
	}
	l, ok := group.Layout.InternalData.(*VulkanDescriptorSetLayout)
	if !ok {
		return fmt.Errorf("%w: layout `%s` of bind group `%s`", core.ErrMissingResource, group.Layout.Label, group.Label)
	}
	return vr.locks.SafeCall(DescriptorManagement, func() error {
		set, err := DescriptorSetCreate(vr.context, l, group)
		if err != nil {
			return fmt.Errorf("bind group `%s`: %w", group.Label, err)
		}
		group.InternalData = set
		return nil
	})
}

func (vr *VulkanRenderer) DestroyBindGroup(group *metadata.BindGroup) error {
	set, ok := group.InternalData.(*VulkanDescriptorSet)
	if !ok {
		return fmt.Errorf("%w: bind group `%s`", core.ErrMissingResource, group.Label)
	}
	return vr.locks.SafeCall(DescriptorManagement, func() error {
		set.Free(vr.context)
		group.InternalData = nil
		return nil
	})
}
