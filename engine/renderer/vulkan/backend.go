package vulkan

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Surface is the window the swapchain presents to.
type Surface interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance interface{}) (uintptr, error)
	FramebufferSize() (uint32, uint32)
}

/**
 * @brief Compute only Vulkan backend. The timeline fence is emulated with
 * one binary fence per frame slot: the queue completes submissions in
 * order, so a signaled slot fence completes every value up to its own.
 */
type VulkanRenderer struct {
	surface Surface
	context *VulkanContext
	locks   *VulkanLockPool

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	// slot of the next submission, owns the acquire semaphore
	nextSlot  uint32
	signaled  uint64
	completed uint64

	debug bool
}

func New(surface Surface) *VulkanRenderer {
	return &VulkanRenderer{
		surface: surface,
		context: &VulkanContext{},
		locks:   NewVulkanLockPool(),
	}
}

func (vr *VulkanRenderer) Initialize(config *metadata.RendererBackendConfig) error {
	if config.FramesInFlight == 0 {
		return fmt.Errorf("vulkan: frames in flight must be > 0")
	}
	vr.debug = config.EnableValidation

	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogError("GetInstanceProcAddress is nil")
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	vr.context.FramebufferWidth = config.Width
	vr.context.FramebufferHeight = config.Height

	if err := vr.createInstance(config.ApplicationName); err != nil {
		return err
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.surface.CreateSurface(vr.context.Instance)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return err
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device: %s", err)
		return err
	}
	core.LogInfo("Using %s", describeDevice(vr.context.Device))

	// Swapchain
	sc, err := SwapchainCreate(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	if err := createDescriptorPool(vr.context); err != nil {
		return err
	}

	// Frame slots: command buffer, sync objects.
	vr.context.Frames = make([]*VulkanFrame, config.FramesInFlight)
	for i := range vr.context.Frames {
		frame, err := vr.createFrame()
		if err != nil {
			return err
		}
		vr.context.Frames[i] = frame
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vr *VulkanRenderer) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Lumen"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"} // Generic surface extension
	requiredExtensions = append(requiredExtensions, vr.surface.RequiredInstanceExtensions()...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	var layers []string
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := requireLayers(layers); err != nil {
			return err
		}
	}
	for _, ext := range requiredExtensions {
		core.LogDebug("instance extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := vkCheck("vkCreateInstance", vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance)); err != nil {
		core.LogError("%s", err)
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError("%s", err)
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

// requireLayers fails when a validation layer is not installed.
func requireLayers(names []string) error {
	var count uint32
	if err := vkCheck("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := vkCheck("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for _, name := range names {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			return &core.FeatureUnsupportedError{Feature: "validation layer " + name}
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (vr *VulkanRenderer) createFrame() (*VulkanFrame, error) {
	device := vr.context.Device
	cb, err := NewVulkanCommandBuffer(vr.context, device.CommandPool)
	if err != nil {
		return nil, err
	}
	frame := &VulkanFrame{CommandBuffer: cb}

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	if err := vkCheck("vkCreateSemaphore", vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &frame.ImageAvailable)); err != nil {
		return nil, err
	}
	if err := vkCheck("vkCreateSemaphore", vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &frame.RenderComplete)); err != nil {
		return nil, err
	}

	// Signaled at creation so the first wait on the slot returns at once.
	fence, err := NewFence(vr.context, true)
	if err != nil {
		return nil, err
	}
	frame.InFlightFence = fence
	return frame, nil
}

func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device == nil || vr.context.Device.LogicalDevice == nil {
		return nil
	}
	device := vr.context.Device
	vk.DeviceWaitIdle(device.LogicalDevice)

	// Destroy in the opposite order of creation.
	for _, frame := range vr.context.Frames {
		if frame == nil {
			continue
		}
		if frame.ImageAvailable != vk.NullSemaphore {
			vk.DestroySemaphore(device.LogicalDevice, frame.ImageAvailable, vr.context.Allocator)
		}
		if frame.RenderComplete != vk.NullSemaphore {
			vk.DestroySemaphore(device.LogicalDevice, frame.RenderComplete, vr.context.Allocator)
		}
		if frame.InFlightFence != nil {
			frame.InFlightFence.FenceDestroy(vr.context)
		}
		frame.CommandBuffer.Free(vr.context, device.CommandPool)
	}
	vr.context.Frames = nil

	if vr.context.DescriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device.LogicalDevice, vr.context.DescriptorPool, vr.context.Allocator)
		vr.context.DescriptorPool = vk.NullDescriptorPool
	}

	if vr.context.Swapchain != nil {
		vr.context.Swapchain.SwapchainDestroy(vr.context)
		vr.context.Swapchain = nil
	}

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vr.context)

	core.LogDebug("Destroying Vulkan surface...")
	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		vr.context.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
	vr.context.Instance = nil
	return nil
}

func (vr *VulkanRenderer) Resized(width, height uint32) error {
	// Update the "framebuffer size generation", a counter which indicates when the
	// framebuffer size has been updated.
	vr.cachedFramebufferWidth = width
	vr.cachedFramebufferHeight = height
	vr.context.FramebufferSizeGeneration++

	core.LogInfo("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, vr.context.FramebufferSizeGeneration)
	return nil
}

func (vr *VulkanRenderer) Features() metadata.DeviceFeatures {
	if vr.context.Device == nil {
		return metadata.DeviceFeatures{}
	}
	return vr.context.Device.Capabilities
}

func (vr *VulkanRenderer) WaitIdle() error {
	if err := vkCheck("vkDeviceWaitIdle", vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)); err != nil {
		return err
	}
	vr.completed = vr.signaled
	for _, frame := range vr.context.Frames {
		frame.InFlightFence.IsSignaled = true
	}
	return nil
}

func (vr *VulkanRenderer) CompletedValue() uint64 {
	for _, frame := range vr.context.Frames {
		done, err := frame.InFlightFence.Poll(vr.context)
		if err != nil {
			core.LogError("fence poll: %s", err)
			continue
		}
		if done && frame.Value > vr.completed {
			vr.completed = frame.Value
		}
	}
	return vr.completed
}

// WaitForFence waits on the oldest submission that covers value.
func (vr *VulkanRenderer) WaitForFence(value uint64, timeout time.Duration) error {
	if vr.CompletedValue() >= value {
		return nil
	}
	if value > vr.signaled {
		return fmt.Errorf("vulkan: value %d was never signaled (last %d)", value, vr.signaled)
	}
	var target *VulkanFrame
	for _, frame := range vr.context.Frames {
		if frame.Value >= value && (target == nil || frame.Value < target.Value) {
			target = frame
		}
	}
	if target == nil {
		return nil
	}
	if err := target.InFlightFence.FenceWait(vr.context, timeout); err != nil {
		return err
	}
	if target.Value > vr.completed {
		vr.completed = target.Value
	}
	return nil
}

func (vr *VulkanRenderer) Signal(slot uint32, value uint64) error {
	if int(slot) >= len(vr.context.Frames) {
		return fmt.Errorf("vulkan: slot %d out of range", slot)
	}
	if value <= vr.signaled {
		return fmt.Errorf("vulkan: signal value %d is not above %d", value, vr.signaled)
	}
	vr.context.Frames[slot].Value = value
	vr.signaled = value
	return nil
}

func (vr *VulkanRenderer) AcquireBackBuffer() (uint32, error) {
	device := vr.context.Device

	// Check if the framebuffer has been resized. If so, a new swapchain must be created.
	if vr.context.FramebufferSizeGeneration != vr.context.FramebufferSizeLastGeneration {
		if err := vkCheck("vkDeviceWaitIdle", vk.DeviceWaitIdle(device.LogicalDevice)); err != nil {
			return 0, err
		}
		if err := vr.recreateSwapchain(); err != nil {
			return 0, err
		}
		core.LogInfo("Resized, booting.")
		return 0, core.ErrSwapchainBooting
	}

	frame := vr.context.Frames[vr.nextSlot]
	imageIndex, err := vr.context.Swapchain.SwapchainAcquireNextImageIndex(vr.context, VULKAN_ACQUIRE_TIMEOUT, frame.ImageAvailable)
	if err != nil {
		// Out of date: rebuild on the next acquire.
		vr.context.FramebufferSizeGeneration++
		return 0, err
	}
	vr.context.ImageIndex = imageIndex
	return imageIndex, nil
}

func (vr *VulkanRenderer) BackBufferExtent() (uint32, uint32) {
	if vr.context.Swapchain == nil {
		return vr.context.FramebufferWidth, vr.context.FramebufferHeight
	}
	return vr.context.Swapchain.Extent.Width, vr.context.Swapchain.Extent.Height
}

func (vr *VulkanRenderer) BeginFrame(slot uint32) (metadata.CommandEncoder, error) {
	if int(slot) >= len(vr.context.Frames) {
		return nil, fmt.Errorf("vulkan: slot %d out of range", slot)
	}
	frame := vr.context.Frames[slot]
	if err := frame.CommandBuffer.Reset(); err != nil {
		return nil, err
	}
	if err := frame.CommandBuffer.Begin(true); err != nil {
		return nil, err
	}
	vr.context.CurrentSlot = slot
	frame.encoder = newCommandEncoder(vr.context, frame.CommandBuffer)
	return frame.encoder, nil
}

func (vr *VulkanRenderer) Submit(slot uint32) error {
	if int(slot) >= len(vr.context.Frames) || vr.context.Frames[slot].encoder == nil {
		return fmt.Errorf("vulkan: nothing recorded for slot %d", slot)
	}
	frame := vr.context.Frames[slot]
	enc := frame.encoder
	frame.encoder = nil

	// Recording problems do not stop the submission: the acquired image
	// still has to be presented.
	if err := enc.err(); err != nil {
		core.LogError("frame recorded with errors: %s", err)
	}
	if err := frame.CommandBuffer.End(); err != nil {
		return err
	}

	// A slot is only recorded after its previous submission completed.
	if err := frame.InFlightFence.FenceWait(vr.context, 0); err != nil {
		return err
	}
	if err := frame.InFlightFence.FenceReset(vr.context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{frame.CommandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{frame.RenderComplete},
		// Wait semaphore ensures that the operation cannot begin until the image is available.
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{vr.context.Frames[vr.nextSlot].ImageAvailable},
		PWaitDstStageMask:  []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)},
	}
	err := vr.locks.SafeCall(QueueManagement, func() error {
		return vkCheck("vkQueueSubmit", vk.QueueSubmit(vr.context.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, frame.InFlightFence.Handle))
	})
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	frame.CommandBuffer.UpdateSubmitted()
	vr.nextSlot = (slot + 1) % uint32(len(vr.context.Frames))
	return nil
}

func (vr *VulkanRenderer) Present(backBuffer uint32) error {
	frame := vr.context.Frames[vr.context.CurrentSlot]
	return vr.locks.SafeCall(QueueManagement, func() error {
		return vr.context.Swapchain.SwapchainPresent(vr.context, vr.context.Device.Queue, frame.RenderComplete, backBuffer)
	})
}

func (vr *VulkanRenderer) recreateSwapchain() error {
	// If already being recreated, do not try again.
	if vr.context.RecreatingSwapchain {
		core.LogDebug("recreate_swapchain called when already recreating. Booting.")
		return core.ErrSwapchainBooting
	}

	width, height := vr.cachedFramebufferWidth, vr.cachedFramebufferHeight
	if width == 0 || height == 0 {
		width, height = vr.surface.FramebufferSize()
	}
	// Detect if the window is too small to be drawn to
	if width == 0 || height == 0 {
		core.LogDebug("recreate_swapchain called when window is < 1 in a dimension. Booting.")
		return core.ErrSwapchainBooting
	}

	// Mark as recreating if the dimensions are valid.
	vr.context.RecreatingSwapchain = true
	defer func() { vr.context.RecreatingSwapchain = false }()

	// Requery support
	if err := DeviceQuerySwapchainSupport(vr.context.Device.PhysicalDevice, vr.context.Surface, &vr.context.Device.SwapchainSupport); err != nil {
		return err
	}

	sc, err := vr.context.Swapchain.SwapchainRecreate(vr.context, width, height)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	// Sync the framebuffer size with the cached sizes.
	vr.context.FramebufferWidth = sc.Extent.Width
	vr.context.FramebufferHeight = sc.Extent.Height
	vr.cachedFramebufferWidth = 0
	vr.cachedFramebufferHeight = 0

	// Update framebuffer size generation.
	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
