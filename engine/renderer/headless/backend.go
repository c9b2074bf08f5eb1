package headless

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var ErrNotInitialized = errors.New("headless backend not initialized")

type Config struct {
	// Features reported to the renderer. Nil reports everything.
	Features *metadata.DeviceFeatures
	// SwapchainImages defaults to 2.
	SwapchainImages uint32
	// Latency is how many submissions the simulated queue lags behind the
	// last signal. A negative value means work only completes when waited on.
	Latency int
	Kernels KernelResolver
	// BackBufferFormat defaults to BGRA8Unorm.
	BackBufferFormat gputypes.TextureFormat
}

func DefaultFeatures() metadata.DeviceFeatures {
	return metadata.DeviceFeatures{
		DeviceName:                      "lumen headless",
		NonUniformSampledImageIndexing:  true,
		NonUniformStorageBufferIndexing: true,
		PushConstants:                   true,
		MaxPushConstantsSize:            256,
		DebugLabels:                     true,
	}
}

type Stats struct {
	Submissions         uint64
	Dispatches          uint64
	LiveImages          int
	LivePipelines       int
	LiveBindGroups      int
	DestroyedImages     int
	DestroyedPipelines  int
	DestroyedBindGroups int
	MaxInFlight         uint64
	ValidationErrors    int
}

/**
 * @brief A renderer backend that executes compute work on the CPU the moment
 * a frame is submitted. The timeline fence is simulated.
 */
type Backend struct {
	config   Config
	features metadata.DeviceFeatures

	initialized bool
	width       uint32
	height      uint32

	backBuffers      []*Image
	backBufferStates []metadata.ResourceState
	nextBackBuffer   uint32
	booting          bool

	encoders []*encoder
	last     []Command
	labels   []string

	// timeline
	mutex     sync.Mutex
	cond      *sync.Cond
	signaled  uint64
	completed uint64
	stalled   bool
	waits     []uint64

	stats      Stats
	validation []error
}

func New(config Config) *Backend {
	if config.SwapchainImages == 0 {
		config.SwapchainImages = 2
	}
	if config.BackBufferFormat == gputypes.TextureFormatUndefined {
		config.BackBufferFormat = gputypes.TextureFormatBGRA8Unorm
	}
	b := &Backend{config: config, features: DefaultFeatures()}
	if config.Features != nil {
		b.features = *config.Features
	}
	b.cond = sync.NewCond(&b.mutex)
	return b
}

func (b *Backend) Initialize(config *metadata.RendererBackendConfig) error {
	if config.FramesInFlight == 0 {
		return fmt.Errorf("headless: frames in flight must be > 0")
	}
	b.encoders = make([]*encoder, config.FramesInFlight)
	b.createSwapchain(config.Width, config.Height)
	b.initialized = true
	core.LogInfo("headless backend initialized (%dx%d, %d back buffers)", config.Width, config.Height, len(b.backBuffers))
	return nil
}

func (b *Backend) createSwapchain(width, height uint32) {
	b.width, b.height = width, height
	b.backBuffers = make([]*Image, b.config.SwapchainImages)
	b.backBufferStates = make([]metadata.ResourceState, b.config.SwapchainImages)
	for i := range b.backBuffers {
		b.backBuffers[i] = newImage(width, height, b.config.BackBufferFormat)
	}
	b.nextBackBuffer = 0
}

func (b *Backend) Shutdown() error {
	b.initialized = false
	b.backBuffers = nil
	return nil
}

// Resized recreates the swapchain. The next acquire reports ErrSwapchainBooting.
func (b *Backend) Resized(width, height uint32) error {
	b.createSwapchain(width, height)
	b.booting = true
	return nil
}

func (b *Backend) Features() metadata.DeviceFeatures {
	return b.features
}

func (b *Backend) WaitIdle() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.stalled && b.completed < b.signaled {
		return fmt.Errorf("%w: queue is stalled", core.ErrDeviceLost)
	}
	b.completed = b.signaled
	return nil
}

func (b *Backend) CompletedValue() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.completed
}

// WaitForFence completes work up to value. A stalled queue blocks until
// Resume or the timeout. A zero timeout waits forever.
func (b *Backend) WaitForFence(value uint64, timeout time.Duration) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.waits = append(b.waits, value)

	if b.stalled {
		var timer *time.Timer
		expired := false
		if timeout > 0 {
			timer = time.AfterFunc(timeout, func() {
				b.mutex.Lock()
				expired = true
				b.mutex.Unlock()
				b.cond.Broadcast()
			})
			defer timer.Stop()
		}
		for b.stalled && b.completed < value {
			if expired {
				return fmt.Errorf("%w: value %d, completed %d", core.ErrFenceWaitTimeout, value, b.completed)
			}
			b.cond.Wait()
		}
	}
	if b.completed < value {
		b.completed = value
	}
	return nil
}

func (b *Backend) Signal(slot uint32, value uint64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if value <= b.signaled {
		return fmt.Errorf("headless: signal value %d is not above %d", value, b.signaled)
	}
	b.signaled = value
	if !b.stalled && b.config.Latency >= 0 && value > uint64(b.config.Latency) {
		if done := value - uint64(b.config.Latency); done > b.completed {
			b.completed = done
		}
	}
	if inFlight := b.signaled - b.completed; inFlight > b.stats.MaxInFlight {
		b.stats.MaxInFlight = inFlight
	}
	return nil
}

// Stall stops the simulated queue from making progress.
func (b *Backend) Stall() {
	b.mutex.Lock()
	b.stalled = true
	b.mutex.Unlock()
}

func (b *Backend) Resume() {
	b.mutex.Lock()
	b.stalled = false
	b.completed = b.signaled
	b.mutex.Unlock()
	b.cond.Broadcast()
}

// Complete marks everything up to value as done.
func (b *Backend) Complete(value uint64) {
	b.mutex.Lock()
	if value > b.completed {
		b.completed = value
	}
	b.mutex.Unlock()
	b.cond.Broadcast()
}

func (b *Backend) AcquireBackBuffer() (uint32, error) {
	if !b.initialized {
		return 0, ErrNotInitialized
	}
	if b.booting {
		b.booting = false
		return 0, core.ErrSwapchainBooting
	}
	index := b.nextBackBuffer
	b.nextBackBuffer = (b.nextBackBuffer + 1) % uint32(len(b.backBuffers))
	return index, nil
}

func (b *Backend) BackBufferExtent() (uint32, uint32) {
	return b.width, b.height
}

func (b *Backend) BeginFrame(slot uint32) (metadata.CommandEncoder, error) {
	if !b.initialized {
		return nil, ErrNotInitialized
	}
	if int(slot) >= len(b.encoders) {
		return nil, fmt.Errorf("headless: slot %d out of range", slot)
	}
	enc := &encoder{}
	b.encoders[slot] = enc
	return enc, nil
}

// Submit executes the slot's recorded commands.
func (b *Backend) Submit(slot uint32) error {
	if int(slot) >= len(b.encoders) || b.encoders[slot] == nil {
		return fmt.Errorf("headless: nothing recorded for slot %d", slot)
	}
	enc := b.encoders[slot]
	b.encoders[slot] = nil
	b.stats.Submissions++
	b.last = enc.commands
	b.labels = b.labels[:0]
	return b.execute(enc.commands)
}

func (b *Backend) Present(backBuffer uint32) error {
	if int(backBuffer) >= len(b.backBuffers) {
		return fmt.Errorf("%w: back buffer %d", core.ErrPresentFailed, backBuffer)
	}
	if b.backBufferStates[backBuffer] != metadata.ResourceStateCommon {
		return fmt.Errorf("%w: back buffer %d is in state %s", core.ErrPresentFailed, backBuffer, b.backBufferStates[backBuffer])
	}
	return nil
}

func (b *Backend) validationError(err error) {
	b.stats.ValidationErrors++
	b.validation = append(b.validation, err)
	core.LogError("headless validation: %s", err)
}

/**
 * @brief Inspection helpers used by tests.
 */

func (b *Backend) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats
}

func (b *Backend) ValidationErrors() []error {
	return append([]error(nil), b.validation...)
}

// LastSubmission returns the commands of the most recent submit.
func (b *Backend) LastSubmission() []Command {
	return append([]Command(nil), b.last...)
}

// DebugLabels returns the debug group labels opened by the last submit.
func (b *Backend) DebugLabels() []string {
	return append([]string(nil), b.labels...)
}

// FenceWaits lists every value WaitForFence was called with.
func (b *Backend) FenceWaits() []uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]uint64(nil), b.waits...)
}

func (b *Backend) SignaledValue() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.signaled
}

func (b *Backend) ReadBackBuffer(index uint32) (*Image, error) {
	if int(index) >= len(b.backBuffers) {
		return nil, fmt.Errorf("headless: back buffer %d out of range", index)
	}
	return b.backBuffers[index].Clone(), nil
}

func (b *Backend) ReadImage(image *metadata.GPUImage) (*Image, error) {
	img, err := imageOf(image)
	if err != nil {
		return nil, err
	}
	return img.Clone(), nil
}
