package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling frame-time average, the measured frames per
// second and how long the CPU spent blocked on the frame fence.
type FrameMetrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	fenceWaits    uint64
	fenceWaitTime time.Duration
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

func (m *FrameMetrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

func (m *FrameMetrics) RecordFenceWait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fenceWaits++
	m.fenceWaitTime += d
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// FenceWaits returns the number of blocking waits and their total duration.
func (m *FrameMetrics) FenceWaits() (uint64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fenceWaits, m.fenceWaitTime
}
