package headless

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type pipelineData struct {
	kernel    *Kernel
	destroyed bool
}

type layoutData struct {
	destroyed bool
}

type bindGroupData struct {
	destroyed bool
}

func imageOf(image *metadata.GPUImage) (*Image, error) {
	if image == nil {
		return nil, fmt.Errorf("%w: nil image", core.ErrMissingResource)
	}
	img, ok := image.InternalData.(*Image)
	if !ok {
		return nil, fmt.Errorf("%w: image `%s` has no headless storage", core.ErrMissingResource, image.Descriptor.Label)
	}
	return img, nil
}

func (b *Backend) CreateImage(desc *metadata.ImageDescriptor) (*metadata.GPUImage, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	img := newImage(desc.Size.Width, desc.Size.Height, desc.Format)
	b.stats.LiveImages++
	return &metadata.GPUImage{Descriptor: *desc, InternalData: img}, nil
}

func (b *Backend) WriteImage(image *metadata.GPUImage, data []byte) error {
	img, err := imageOf(image)
	if err != nil {
		return err
	}
	if img.released {
		return fmt.Errorf("write to destroyed image `%s`", image.Descriptor.Label)
	}
	return img.decode(data)
}

func (b *Backend) CreateView(image *metadata.GPUImage) (*metadata.ImageView, error) {
	if _, err := imageOf(image); err != nil {
		return nil, err
	}
	return &metadata.ImageView{Image: image}, nil
}

func (b *Backend) DestroyImage(image *metadata.GPUImage) error {
	img, err := imageOf(image)
	if err != nil {
		return err
	}
	if img.released {
		return fmt.Errorf("image `%s` destroyed twice", image.Descriptor.Label)
	}
	img.released = true
	b.stats.LiveImages--
	b.stats.DestroyedImages++
	return nil
}

func (b *Backend) CreateBindGroupLayout(layout *metadata.BindGroupLayout) error {
	seen := map[uint32]bool{}
	for _, e := range layout.Entries {
		if seen[e.Binding] {
			return fmt.Errorf("layout `%s` declares binding %d twice", layout.Label, e.Binding)
		}
		seen[e.Binding] = true
	}
	layout.InternalData = &layoutData{}
	return nil
}

func (b *Backend) DestroyBindGroupLayout(layout *metadata.BindGroupLayout) error {
	if data, ok := layout.InternalData.(*layoutData); ok {
		data.destroyed = true
	}
	layout.InternalData = nil
	return nil
}

func (b *Backend) CreateComputePipeline(pipeline *metadata.ComputePipeline, code []uint32) error {
	if b.config.Kernels == nil {
		return fmt.Errorf("headless: no kernel resolver configured")
	}
	for _, l := range pipeline.Descriptor.Layouts {
		if _, ok := l.InternalData.(*layoutData); !ok {
			return fmt.Errorf("pipeline `%s` uses layout `%s` which was never created", pipeline.Label, l.Label)
		}
	}
	var pushSize uint32
	for _, r := range pipeline.Descriptor.PushConstants {
		if end := r.Offset + r.Size; end > pushSize {
			pushSize = end
		}
	}
	if pushSize > b.features.MaxPushConstantsSize {
		return fmt.Errorf("pipeline `%s` needs %d bytes of push constants, device allows %d", pipeline.Label, pushSize, b.features.MaxPushConstantsSize)
	}
	kernel, err := b.config.Kernels(pipeline, code)
	if err != nil {
		return err
	}
	pipeline.InternalData = &pipelineData{kernel: kernel}
	b.stats.LivePipelines++
	return nil
}

func (b *Backend) DestroyComputePipeline(pipeline *metadata.ComputePipeline) error {
	data, ok := pipeline.InternalData.(*pipelineData)
	if !ok || data.destroyed {
		return fmt.Errorf("pipeline `%s` is not alive", pipeline.Label)
	}
	data.destroyed = true
	b.stats.LivePipelines--
	b.stats.DestroyedPipelines++
	return nil
}

func (b *Backend) CreateBindGroup(group *metadata.BindGroup) error {
	if group.Layout == nil {
		return fmt.Errorf("bind group `%s` has no layout", group.Label)
	}
	for _, le := range group.Layout.Entries {
		var entry *metadata.BindGroupEntry
		for i := range group.Entries {
			if group.Entries[i].Binding == le.Binding {
				entry = &group.Entries[i]
			}
		}
		if entry == nil || entry.View == nil {
			return fmt.Errorf("%w: bind group `%s` binding %d", core.ErrMissingResource, group.Label, le.Binding)
		}
		img, err := imageOf(entry.View.Image)
		if err != nil {
			return err
		}
		if img.released {
			return fmt.Errorf("bind group `%s` binding %d references a destroyed image", group.Label, le.Binding)
		}
		if le.Kind.IsStorageImage() && img.Format != le.Format {
			return fmt.Errorf("bind group `%s` binding %d: format %v does not match layout %v", group.Label, le.Binding, img.Format, le.Format)
		}
	}
	group.InternalData = &bindGroupData{}
	b.stats.LiveBindGroups++
	return nil
}

func (b *Backend) DestroyBindGroup(group *metadata.BindGroup) error {
	data, ok := group.InternalData.(*bindGroupData)
	if !ok || data.destroyed {
		return fmt.Errorf("bind group `%s` is not alive", group.Label)
	}
	data.destroyed = true
	b.stats.LiveBindGroups--
	b.stats.DestroyedBindGroups++
	return nil
}
