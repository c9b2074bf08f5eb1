package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo

	// One family runs compute, transfers and present.
	QueueIndex uint32
	Queue      vk.Queue

	CommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	// What the device reported, before any requirement check.
	Capabilities metadata.DeviceFeatures
	// Device extensions enabled on the logical device.
	Extensions []string
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	device := context.Device

	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	// Request only what the path tracer uses. Missing features are reported
	// by VerifyFeatures, not here.
	caps := device.Capabilities
	features12 := vk.PhysicalDeviceVulkan12Features{
		SType:              vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing: vk.True,
	}
	if caps.NonUniformSampledImageIndexing {
		features12.ShaderSampledImageArrayNonUniformIndexing = vk.True
	}
	if caps.NonUniformStorageBufferIndexing {
		features12.ShaderStorageBufferArrayNonUniformIndexing = vk.True
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(device.Extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(device.Extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			ShaderStorageImageWriteWithoutFormat: vk.True,
			ShaderStorageImageReadWithoutFormat:  vk.True,
		}},
		PNext: unsafe.Pointer(&features12),
	}

	if err := vkCheck("vkCreateDevice", vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice)); err != nil {
		core.LogError("%s", err)
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(device.LogicalDevice, device.QueueIndex, 0, &device.Queue)
	core.LogInfo("Queue obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := vkCheck("vkCreateCommandPool", vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &device.CommandPool)); err != nil {
		core.LogError("%s", err)
		return err
	}
	core.LogInfo("Command pool created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	device.Queue = nil

	if device.CommandPool != vk.NullCommandPool {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(device.LogicalDevice, device.CommandPool, context.Allocator)
		device.CommandPool = vk.NullCommandPool
	}

	// Destroy logical device
	if device.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	// Surface capabilities
	if err := vkCheck("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	// Surface formats
	if err := vkCheck("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil)); err != nil {
		return err
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if err := vkCheck("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	// Present modes
	if err := vkCheck("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil)); err != nil {
		return err
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if err := vkCheck("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes)); err != nil {
			return err
		}
	}
	return nil
}

// queryCapabilities reads the descriptor indexing and push constant support
// of a physical device.
func queryCapabilities(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties) metadata.DeviceFeatures {
	features12 := vk.PhysicalDeviceVulkan12Features{
		SType: vk.StructureTypePhysicalDeviceVulkan12Features,
	}
	ref, _ := features12.PassRef()
	features2 := vk.PhysicalDeviceFeatures2{
		SType: vk.StructureTypePhysicalDeviceFeatures2,
		PNext: unsafe.Pointer(ref),
	}
	vk.GetPhysicalDeviceFeatures2(device, &features2)
	features12.Deref()

	properties.Limits.Deref()
	return metadata.DeviceFeatures{
		DeviceName:                      cString(properties.DeviceName[:]),
		NonUniformSampledImageIndexing:  features12.ShaderSampledImageArrayNonUniformIndexing == vk.True,
		NonUniformStorageBufferIndexing: features12.ShaderStorageBufferArrayNonUniformIndexing == vk.True,
		PushConstants:                   properties.Limits.MaxPushConstantsSize > 0,
		MaxPushConstantsSize:            properties.Limits.MaxPushConstantsSize,
	}
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32 = 0
	if err := vkCheck("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return &core.FeatureUnsupportedError{Feature: "a Vulkan capable device"}
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := vkCheck("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	// A discrete GPU is preferred, anything else that meets the
	// requirements is kept as a fallback.
	var fallback *VulkanDevice
	for i := 0; i < int(physicalDeviceCount); i++ {
		candidate, ok := evaluatePhysicalDevice(physicalDevices[i], context.Surface, &requirements)
		if !ok {
			continue
		}
		if candidate.Properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			context.Device = candidate
			break
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if context.Device == nil {
		context.Device = fallback
	}
	if context.Device == nil {
		core.LogError("No physical devices were found which meet the requirements.")
		return &core.FeatureUnsupportedError{Feature: "a device with a compute queue that can present"}
	}

	properties := context.Device.Properties
	core.LogInfo("Selected device: '%s'.", context.Device.Capabilities.DeviceName)
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch(),
	)

	memory := context.Device.Memory
	for j := 0; j < int(memory.MemoryHeapCount); j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	return nil
}

func evaluatePhysicalDevice(device vk.PhysicalDevice, surface vk.Surface, requirements *VulkanPhysicalDeviceRequirements) (*VulkanDevice, bool) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(device, &properties)
	properties.Deref()

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(device, &memory)
	memory.Deref()

	name := cString(properties.DeviceName[:])
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device `%s` is not a discrete GPU, and one is required. Skipping.", name)
		return nil, false
	}

	queueIndex, ok := findQueueFamily(device, surface)
	if !ok {
		core.LogInfo("Device `%s` has no queue family that computes and presents. Skipping.", name)
		return nil, false
	}

	out := &VulkanDevice{
		PhysicalDevice: device,
		QueueIndex:     queueIndex,
		Properties:     properties,
		Memory:         memory,
	}
	if err := DeviceQuerySwapchainSupport(device, surface, &out.SwapchainSupport); err != nil {
		core.LogInfo("Device `%s`: %s. Skipping.", name, err)
		return nil, false
	}
	if out.SwapchainSupport.FormatCount < 1 || out.SwapchainSupport.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return nil, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return nil, false
	}
	for _, required := range requirements.DeviceExtensionNames {
		if _, found := available[required]; !found {
			core.LogInfo("Required extension not found: '%s', skipping device.", required)
			return nil, false
		}
	}
	out.Extensions = append(out.Extensions, requirements.DeviceExtensionNames...)
	if _, found := available["VK_KHR_portability_subset"]; found || runtime.GOOS == "darwin" {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		out.Extensions = append(out.Extensions, "VK_KHR_portability_subset")
	}

	out.Capabilities = queryCapabilities(device, &properties)
	return out, true
}

// findQueueFamily returns the first family with graphics and compute
// support that can present to surface.
func findQueueFamily(device vk.PhysicalDevice, surface vk.Surface) (uint32, bool) {
	var queueFamilyCount uint32 = 0
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&required != required {
			continue
		}
		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, i, surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			return i, true
		}
	}
	return 0, false
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if err := vkCheck("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := vkCheck("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, props)); err != nil {
			return nil, err
		}
	}
	out := make(map[string]struct{}, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = struct{}{}
	}
	return out, nil
}

func describeDevice(d *VulkanDevice) string {
	return fmt.Sprintf("%s (queue family %d)", d.Capabilities.DeviceName, d.QueueIndex)
}
