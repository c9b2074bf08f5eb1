package core

import (
	"fmt"
	"sync"
)

// Handle packs a slot index with the generation of that slot, so a released
// slot that gets reused never compares equal to the handle it replaced.
type Handle uint64

const InvalidHandle Handle = 0

func newHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32 {
	return uint32(h)
}

func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index(), h.Generation())
}

// HandlePool hands out Handles and remembers which owner holds each slot.
type HandlePool struct {
	mu          sync.Mutex
	owners      []interface{}
	generations []uint32
	free        []uint32
}

func NewHandlePool(capacity int) *HandlePool {
	return &HandlePool{
		owners:      make([]interface{}, 0, capacity),
		generations: make([]uint32, 0, capacity),
	}
}

func (hp *HandlePool) Acquire(owner interface{}) Handle {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	// Existing free spot. Take it.
	if n := len(hp.free); n > 0 {
		index := hp.free[n-1]
		hp.free = hp.free[:n-1]
		hp.owners[index] = owner
		return newHandle(index, hp.generations[index])
	}

	// If here, no existing free slots. Push a new one. Generations start at 1
	// so the zero Handle stays invalid.
	hp.owners = append(hp.owners, owner)
	hp.generations = append(hp.generations, 1)
	return newHandle(uint32(len(hp.owners)-1), 1)
}

func (hp *HandlePool) Get(h Handle) (interface{}, bool) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	if !hp.validLocked(h) {
		return nil, false
	}
	return hp.owners[h.Index()], true
}

func (hp *HandlePool) Release(h Handle) error {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if !hp.validLocked(h) {
		return fmt.Errorf("handle %s is not live, nothing was done", h)
	}
	index := h.Index()
	hp.owners[index] = nil
	hp.generations[index]++
	hp.free = append(hp.free, index)
	return nil
}

func (hp *HandlePool) Len() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.owners) - len(hp.free)
}

// Each calls fn with every live owner. fn runs without the pool locked.
func (hp *HandlePool) Each(fn func(owner interface{})) {
	hp.mu.Lock()
	owners := make([]interface{}, 0, len(hp.owners))
	for _, o := range hp.owners {
		if o != nil {
			owners = append(owners, o)
		}
	}
	hp.mu.Unlock()

	for _, o := range owners {
		fn(o)
	}
}

func (hp *HandlePool) validLocked(h Handle) bool {
	index := h.Index()
	return h != InvalidHandle &&
		int(index) < len(hp.owners) &&
		hp.generations[index] == h.Generation() &&
		hp.owners[index] != nil
}
