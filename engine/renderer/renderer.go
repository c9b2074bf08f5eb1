package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type RendererConfig struct {
	/** @brief Number of frames that may be in flight at once. */
	FramesInFlight uint32
	/** @brief Back buffer clear colour. */
	ClearColor [4]float32
	/** @brief 0 waits forever. */
	FenceTimeout time.Duration
	/** @brief Keep a log of every fence wait. */
	RecordFenceWaits bool
}

/**
 * @brief Handed to the frame recorder while a frame slot is open.
 */
type FrameContext struct {
	/** @brief Monotonic frame number, starts at 0. */
	Frame uint64
	/** @brief Frame slot in [0, FramesInFlight). */
	Slot uint32
	/** @brief Swapchain image index. Not related to Slot. */
	BackBuffer uint32
	Width      uint32
	Height     uint32
	Encoder    metadata.CommandEncoder
}

// FrameRecorder records the work of a frame, usually the render graph.
type FrameRecorder interface {
	RecordFrame(fc *FrameContext) error
}

type FrameRecorderFunc func(fc *FrameContext) error

func (f FrameRecorderFunc) RecordFrame(fc *FrameContext) error {
	return f(fc)
}

// RetireHook runs once a slot's previous submission has completed, before
// the slot is recorded again.
type RetireHook func(slot uint32, completed uint64)

type FenceWait struct {
	Frame     uint64
	Slot      uint32
	Value     uint64
	Completed uint64
	Duration  time.Duration
}

/**
 * @brief Rotates through FramesInFlight slots, each guarded by the value it
 * signaled on its last submission.
 */
type Renderer struct {
	backend RendererBackend
	config  RendererConfig
	metrics *core.FrameMetrics

	frameIndex    uint32
	frameNumber   uint64
	fenceValues   []uint64
	signaledValue uint64

	hooks []RetireHook
	waits []FenceWait
}

func NewRenderer(config *RendererConfig, backend RendererBackend, metrics *core.FrameMetrics) (*Renderer, error) {
	if config == nil || config.FramesInFlight == 0 {
		err := fmt.Errorf("func NewRenderer - config.FramesInFlight must be > 0")
		core.LogError("%s", err)
		return nil, err
	}
	if backend == nil {
		err := fmt.Errorf("func NewRenderer - backend must not be nil")
		core.LogError("%s", err)
		return nil, err
	}
	if metrics == nil {
		metrics = core.NewFrameMetrics()
	}
	return &Renderer{
		backend:     backend,
		config:      *config,
		metrics:     metrics,
		fenceValues: make([]uint64, config.FramesInFlight),
	}, nil
}

func (r *Renderer) Backend() RendererBackend {
	return r.backend
}

// OnRetire registers a hook called every time a slot is about to be reused.
func (r *Renderer) OnRetire(hook RetireHook) {
	r.hooks = append(r.hooks, hook)
}

/**
 * @brief Waits for the slot, records, submits, presents and signals one frame.
 */
func (r *Renderer) DrawFrame(recorder FrameRecorder) error {
	slot := r.frameIndex

	if err := r.waitForSlot(slot); err != nil {
		return err
	}
	completed := r.backend.CompletedValue()
	for _, hook := range r.hooks {
		hook(slot, completed)
	}

	backBuffer, err := r.backend.AcquireBackBuffer()
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("swapchain is being recreated, skipping frame %d", r.frameNumber)
			return nil
		}
		return err
	}

	enc, err := r.backend.BeginFrame(slot)
	if err != nil {
		return err
	}
	width, height := r.backend.BackBufferExtent()

	enc.TransitionBackBuffer(backBuffer, metadata.ResourceStateCommon, metadata.ResourceStateRenderTarget)
	enc.SetViewport(metadata.Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1})
	enc.SetScissor(metadata.Rect{Width: width, Height: height})
	enc.ClearBackBuffer(backBuffer, r.config.ClearColor)

	fc := &FrameContext{
		Frame:      r.frameNumber,
		Slot:       slot,
		BackBuffer: backBuffer,
		Width:      width,
		Height:     height,
		Encoder:    enc,
	}
	if err := recorder.RecordFrame(fc); err != nil {
		if core.IsFatal(err) {
			return err
		}
		core.LogWarn("frame %d recorded with errors: %s", r.frameNumber, err)
	}

	enc.TransitionBackBuffer(backBuffer, metadata.ResourceStateRenderTarget, metadata.ResourceStateCommon)

	if err := r.backend.Submit(slot); err != nil {
		return err
	}
	presentErr := r.backend.Present(backBuffer)

	// The submission happened, so the slot is guarded whatever present says.
	r.signaledValue++
	if err := r.backend.Signal(slot, r.signaledValue); err != nil {
		return err
	}
	r.fenceValues[slot] = r.signaledValue
	r.frameIndex = (r.frameIndex + 1) % r.config.FramesInFlight
	r.frameNumber++

	if presentErr != nil && !errors.Is(presentErr, core.ErrSwapchainBooting) {
		return presentErr
	}
	return nil
}

func (r *Renderer) waitForSlot(slot uint32) error {
	value := r.fenceValues[slot]
	completed := r.backend.CompletedValue()
	if completed >= value {
		return nil
	}

	start := time.Now()
	if err := r.backend.WaitForFence(value, r.config.FenceTimeout); err != nil {
		if errors.Is(err, core.ErrFenceWaitTimeout) {
			core.LogError("slot %d: fence value %d not reached after %s", slot, value, r.config.FenceTimeout)
		}
		return err
	}
	elapsed := time.Since(start)
	r.metrics.RecordFenceWait(elapsed)
	if r.config.RecordFenceWaits {
		r.waits = append(r.waits, FenceWait{
			Frame:     r.frameNumber,
			Slot:      slot,
			Value:     value,
			Completed: completed,
			Duration:  elapsed,
		})
	}
	return nil
}

// WaitIdle blocks until the GPU has finished everything and retires every slot.
func (r *Renderer) WaitIdle() error {
	if err := r.backend.WaitIdle(); err != nil {
		return err
	}
	completed := r.backend.CompletedValue()
	for slot := uint32(0); slot < r.config.FramesInFlight; slot++ {
		for _, hook := range r.hooks {
			hook(slot, completed)
		}
	}
	return nil
}

func (r *Renderer) Resize(width, height uint32) error {
	if err := r.WaitIdle(); err != nil {
		return err
	}
	return r.backend.Resized(width, height)
}

func (r *Renderer) Shutdown() error {
	if err := r.WaitIdle(); err != nil {
		core.LogWarn("renderer shutdown: %s", err)
	}
	return r.backend.Shutdown()
}

func (r *Renderer) FramesInFlight() uint32 {
	return r.config.FramesInFlight
}

// FrameIndex is the slot the next frame records into.
func (r *Renderer) FrameIndex() uint32 {
	return r.frameIndex
}

// FrameNumber is the number of submitted frames.
func (r *Renderer) FrameNumber() uint64 {
	return r.frameNumber
}

// SignaledValue is the last value handed to the queue.
func (r *Renderer) SignaledValue() uint64 {
	return r.signaledValue
}

func (r *Renderer) CompletedValue() uint64 {
	return r.backend.CompletedValue()
}

func (r *Renderer) FenceValues() []uint64 {
	out := make([]uint64, len(r.fenceValues))
	copy(out, r.fenceValues)
	return out
}

func (r *Renderer) FenceWaits() []FenceWait {
	out := make([]FenceWait, len(r.waits))
	copy(out, r.waits)
	return out
}

func (r *Renderer) Metrics() *core.FrameMetrics {
	return r.metrics
}
