package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
)

// Timeline is the fence view the deletion queue needs.
type Timeline interface {
	SignaledValue() uint64
	CompletedValue() uint64
}

type deferredDestroy struct {
	retireAt uint64
	label    string
	destroy  func() error
}

/**
 * @brief Holds GPU objects replaced mid-frame until every frame that could
 * still reference them has completed.
 */
type DeletionQueue struct {
	mutex    sync.Mutex
	timeline Timeline
	queue    *containers.RingQueue[deferredDestroy]
}

func NewDeletionQueue(timeline Timeline) *DeletionQueue {
	return &DeletionQueue{
		timeline: timeline,
		queue:    containers.NewGrowableRingQueue[deferredDestroy](16),
	}
}

// Defer schedules destroy for after the frame currently being recorded.
func (dq *DeletionQueue) Defer(label string, destroy func() error) {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	retireAt := dq.timeline.SignaledValue() + 1
	// growable, never full
	_ = dq.queue.Enqueue(deferredDestroy{retireAt: retireAt, label: label, destroy: destroy})
}

// Collect runs every deferred destroy whose frame has completed. Entries are
// retired in order, so it stops at the first one that is still in flight.
func (dq *DeletionQueue) Collect(completed uint64) int {
	dq.mutex.Lock()
	var ready []deferredDestroy
	for {
		next, err := dq.queue.Peek()
		if err != nil || next.retireAt > completed {
			break
		}
		item, _ := dq.queue.Dequeue()
		ready = append(ready, item)
	}
	dq.mutex.Unlock()

	for _, item := range ready {
		if err := item.destroy(); err != nil {
			core.LogWarn("failed to destroy `%s`: %s", item.label, err)
		}
	}
	return len(ready)
}

// Flush destroys everything. Only valid once the device is idle.
func (dq *DeletionQueue) Flush() error {
	dq.mutex.Lock()
	var items []deferredDestroy
	for !dq.queue.IsEmpty() {
		item, _ := dq.queue.Dequeue()
		items = append(items, item)
	}
	dq.mutex.Unlock()

	var errs []error
	for _, item := range items {
		if err := item.destroy(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.label, err))
		}
	}
	return errors.Join(errs...)
}

func (dq *DeletionQueue) Len() int {
	dq.mutex.Lock()
	defer dq.mutex.Unlock()
	return dq.queue.Len()
}
