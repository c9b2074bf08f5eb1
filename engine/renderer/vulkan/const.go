package vulkan

/**
 * @brief Max number of descriptor sets alive at once. Bind groups are
 * recreated every frame and released when their slot retires.
 * @todo TODO: make configurable
 */
const VULKAN_MAX_BIND_GROUP_COUNT uint32 = 1024

/**
 * @brief Max number of storage image descriptors in the pool.
 */
const VULKAN_MAX_STORAGE_IMAGE_COUNT uint32 = 4 * VULKAN_MAX_BIND_GROUP_COUNT

/**
 * @brief How long AcquireNextImage may block, in nanoseconds.
 */
const VULKAN_ACQUIRE_TIMEOUT uint64 = 1_000_000_000
