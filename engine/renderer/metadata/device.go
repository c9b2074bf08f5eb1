package metadata

/**
 * @brief What the selected device can do. Filled in by the backend at startup.
 */
type DeviceFeatures struct {
	DeviceName string
	/** @brief shaderSampledImageArrayNonUniformIndexing */
	NonUniformSampledImageIndexing bool
	/** @brief shaderStorageBufferArrayNonUniformIndexing */
	NonUniformStorageBufferIndexing bool
	/** @brief Push constants with at least MinPushConstantsSize bytes. */
	PushConstants        bool
	MaxPushConstantsSize uint32
	/** @brief Debug labels are recorded into command buffers. */
	DebugLabels bool
}

// Vulkan guarantees at least 128 bytes.
const MinPushConstantsSize uint32 = 128

type RendererBackendConfig struct {
	/** @brief The name of the application */
	ApplicationName string
	Width           uint32
	Height          uint32
	/** @brief Number of frames in flight. */
	FramesInFlight uint32
	EnableValidation bool
}
