package renderer

import (
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// RendererBackend is implemented by each GPU API. The frame scheduler drives
// it once per frame; systems use the resource half to create GPU objects.
type RendererBackend interface {
	Initialize(config *metadata.RendererBackendConfig) error
	Shutdown() error
	Resized(width, height uint32) error
	Features() metadata.DeviceFeatures
	// Blocks until every submitted frame has completed.
	WaitIdle() error

	// Timeline. Values are signaled in increasing order.
	CompletedValue() uint64
	WaitForFence(value uint64, timeout time.Duration) error
	Signal(slot uint32, value uint64) error

	// Frame
	AcquireBackBuffer() (uint32, error)
	BackBufferExtent() (uint32, uint32)
	BeginFrame(slot uint32) (metadata.CommandEncoder, error)
	Submit(slot uint32) error
	Present(backBuffer uint32) error

	// Resources
	CreateImage(desc *metadata.ImageDescriptor) (*metadata.GPUImage, error)
	WriteImage(image *metadata.GPUImage, data []byte) error
	CreateView(image *metadata.GPUImage) (*metadata.ImageView, error)
	DestroyImage(image *metadata.GPUImage) error
	CreateBindGroupLayout(layout *metadata.BindGroupLayout) error
	DestroyBindGroupLayout(layout *metadata.BindGroupLayout) error
	CreateComputePipeline(pipeline *metadata.ComputePipeline, code []uint32) error
	DestroyComputePipeline(pipeline *metadata.ComputePipeline) error
	CreateBindGroup(group *metadata.BindGroup) error
	DestroyBindGroup(group *metadata.BindGroup) error
}

type RendererType uint8

const (
	Vulkan RendererType = iota
	Headless
)
