package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type imageEntry struct {
	handle  metadata.ImageHandle
	desc    metadata.ImageDescriptor
	pending []byte
	gpu     *metadata.GPUImage
	view    *metadata.ImageView
	// bumped on every resize
	generation uint32
}

/**
 * @brief CPU side image descriptors keyed by handle. GPU images are created
 * and uploaded on first use by the render phase.
 */
type ImageSystem struct {
	backend  renderer.RendererBackend
	deletion *DeletionQueue

	mutex     sync.RWMutex
	handles   *core.HandlePool
	extracted *ExtractedImages
}

func NewImageSystem(backend renderer.RendererBackend, deletion *DeletionQueue, capacity int) (*ImageSystem, error) {
	if backend == nil || deletion == nil {
		err := fmt.Errorf("func NewImageSystem - backend and deletion queue are required")
		core.LogError("%s", err)
		return nil, err
	}
	return &ImageSystem{
		backend:   backend,
		deletion:  deletion,
		handles:   core.NewHandlePool(capacity),
		extracted: &ExtractedImages{descriptors: make(map[metadata.ImageHandle]metadata.ImageDescriptor)},
	}, nil
}

/**
 * @brief Registers an image. initial, when given, must hold exactly
 * desc.ByteSize() bytes; otherwise the image starts zeroed.
 */
func (is *ImageSystem) Create(desc metadata.ImageDescriptor, initial []byte) (metadata.ImageHandle, error) {
	if err := desc.Validate(); err != nil {
		return core.InvalidHandle, err
	}
	if initial != nil && uint64(len(initial)) != desc.ByteSize() {
		return core.InvalidHandle, fmt.Errorf("image `%s`: initial data is %d bytes, expected %d", desc.Label, len(initial), desc.ByteSize())
	}
	e := &imageEntry{desc: desc, pending: initial}
	e.handle = is.handles.Acquire(e)
	core.LogDebug("image `%s` created as %s (%dx%d)", desc.Label, e.handle, desc.Size.Width, desc.Size.Height)
	return e.handle, nil
}

func (is *ImageSystem) entry(h metadata.ImageHandle) (*imageEntry, error) {
	owner, ok := is.handles.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: image %s", core.ErrMissingResource, h)
	}
	return owner.(*imageEntry), nil
}

func (is *ImageSystem) Descriptor(h metadata.ImageHandle) (metadata.ImageDescriptor, error) {
	e, err := is.entry(h)
	if err != nil {
		return metadata.ImageDescriptor{}, err
	}
	is.mutex.RLock()
	defer is.mutex.RUnlock()
	return e.desc, nil
}

/**
 * @brief Returns the GPU view of h, creating and uploading the image the
 * first time it is asked for.
 */
func (is *ImageSystem) GetView(h metadata.ImageHandle) (*metadata.ImageView, error) {
	e, err := is.entry(h)
	if err != nil {
		return nil, err
	}
	is.mutex.Lock()
	defer is.mutex.Unlock()
	if e.view != nil {
		return e.view, nil
	}

	gpu, err := is.backend.CreateImage(&e.desc)
	if err != nil {
		return nil, fmt.Errorf("image `%s`: %w", e.desc.Label, err)
	}
	data := e.pending
	if data == nil {
		data = make([]byte, e.desc.ByteSize())
	}
	if err := is.backend.WriteImage(gpu, data); err != nil {
		_ = is.backend.DestroyImage(gpu)
		return nil, fmt.Errorf("image `%s` upload: %w", e.desc.Label, err)
	}
	view, err := is.backend.CreateView(gpu)
	if err != nil {
		_ = is.backend.DestroyImage(gpu)
		return nil, fmt.Errorf("image `%s` view: %w", e.desc.Label, err)
	}
	gpu.Generation = e.generation
	e.gpu, e.view, e.pending = gpu, view, nil
	core.LogDebug("image `%s` uploaded (generation %d)", e.desc.Label, e.generation)
	return view, nil
}

/**
 * @brief Changes the extent of h. The GPU image is destroyed once the frames
 * using it complete, and a zeroed one is created on next use.
 */
func (is *ImageSystem) Resize(h metadata.ImageHandle, width, height uint32) error {
	e, err := is.entry(h)
	if err != nil {
		return err
	}
	is.mutex.Lock()
	defer is.mutex.Unlock()
	if e.desc.Size.Width == width && e.desc.Size.Height == height {
		return nil
	}
	next := e.desc
	next.Size.Width, next.Size.Height = width, height
	if err := next.Validate(); err != nil {
		return err
	}

	is.retireLocked(e)
	e.desc = next
	e.pending = nil
	e.generation++
	core.LogDebug("image `%s` resized to %dx%d", e.desc.Label, width, height)
	return nil
}

// Release forgets h. Its GPU image outlives the frames already recorded.
func (is *ImageSystem) Release(h metadata.ImageHandle) error {
	e, err := is.entry(h)
	if err != nil {
		return err
	}
	is.mutex.Lock()
	is.retireLocked(e)
	is.mutex.Unlock()
	return is.handles.Release(h)
}

func (is *ImageSystem) retireLocked(e *imageEntry) {
	if e.gpu == nil {
		return
	}
	gpu := e.gpu
	is.deletion.Defer("image "+e.desc.Label, func() error {
		return is.backend.DestroyImage(gpu)
	})
	e.gpu, e.view = nil, nil
}

/**
 * @brief Extraction. Snapshots the descriptors of the given handles into the
 * render side store, which is rebuilt from scratch every frame. Unknown
 * handles are left out.
 */
func (is *ImageSystem) Extract(frame uint64, handles ...metadata.ImageHandle) *ExtractedImages {
	is.mutex.RLock()
	defer is.mutex.RUnlock()

	ex := is.extracted
	ex.frame = frame
	ex.handles = ex.handles[:0]
	clear(ex.descriptors)
	for _, h := range handles {
		owner, ok := is.handles.Get(h)
		if !ok {
			continue
		}
		if _, dup := ex.descriptors[h]; dup {
			continue
		}
		ex.handles = append(ex.handles, h)
		ex.descriptors[h] = owner.(*imageEntry).desc
	}
	ex.views = is
	return ex
}

// Shutdown destroys every live GPU image. The device must be idle.
func (is *ImageSystem) Shutdown() error {
	is.mutex.Lock()
	defer is.mutex.Unlock()
	var errs []error
	is.forEachLocked(func(e *imageEntry) {
		if e.gpu != nil {
			if err := is.backend.DestroyImage(e.gpu); err != nil {
				errs = append(errs, err)
			}
			e.gpu, e.view = nil, nil
		}
	})
	return errors.Join(errs...)
}

func (is *ImageSystem) forEachLocked(fn func(e *imageEntry)) {
	is.handles.Each(func(owner interface{}) {
		fn(owner.(*imageEntry))
	})
}

/**
 * @brief The render world's read only copy of the image descriptors it uses.
 */
type ExtractedImages struct {
	frame       uint64
	handles     []metadata.ImageHandle
	descriptors map[metadata.ImageHandle]metadata.ImageDescriptor
	views       *ImageSystem
}

func (ex *ExtractedImages) Frame() uint64 {
	return ex.frame
}

func (ex *ExtractedImages) Handles() []metadata.ImageHandle {
	return append([]metadata.ImageHandle(nil), ex.handles...)
}

func (ex *ExtractedImages) Descriptor(h metadata.ImageHandle) (metadata.ImageDescriptor, bool) {
	d, ok := ex.descriptors[h]
	return d, ok
}

// View resolves the GPU view of an extracted handle.
func (ex *ExtractedImages) View(h metadata.ImageHandle) (*metadata.ImageView, error) {
	if _, ok := ex.descriptors[h]; !ok {
		return nil, fmt.Errorf("%w: image %s was not extracted for frame %d", core.ErrMissingResource, h, ex.frame)
	}
	return ex.views.GetView(h)
}
