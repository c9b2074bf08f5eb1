package systems

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// PingPongGroups are the two tables of one frame. Groups[0] reads A and
// writes B, Groups[1] the opposite.
type PingPongGroups struct {
	Frame  uint64
	Slot   uint32
	Groups [2]*metadata.BindGroup
}

// Select picks the table matching the parity of frame.
func (g *PingPongGroups) Select(frame uint64) *metadata.BindGroup {
	return g.Groups[frame&1]
}

/**
 * @brief Builds the bind groups of each frame. Groups stay alive until the
 * frame slot that recorded them is retired.
 */
type BindGroupBuilder struct {
	backend renderer.RendererBackend
	// frames a view may be missing before it is fatal
	grace uint32

	retained [][]*metadata.BindGroup
	current  *PingPongGroups
	missing  uint32
}

func NewBindGroupBuilder(backend renderer.RendererBackend, framesInFlight, graceFrames uint32) (*BindGroupBuilder, error) {
	if backend == nil || framesInFlight == 0 {
		err := fmt.Errorf("func NewBindGroupBuilder - backend and frames in flight are required")
		core.LogError("%s", err)
		return nil, err
	}
	return &BindGroupBuilder{
		backend:  backend,
		grace:    graceFrames,
		retained: make([][]*metadata.BindGroup, framesInFlight),
	}, nil
}

/**
 * @brief Creates both ping-pong tables for frame in slot. A missing view
 * yields ErrMissingResource, which the caller treats as "skip this frame",
 * until it has been missing for more than the grace period.
 */
func (bb *BindGroupBuilder) PreparePingPong(frame uint64, slot uint32, layout *metadata.BindGroupLayout, pair metadata.PingPongPair, images *ExtractedImages) (*PingPongGroups, error) {
	bb.current = nil
	if int(slot) >= len(bb.retained) {
		return nil, fmt.Errorf("frame slot %d out of range", slot)
	}
	if layout.InternalData == nil {
		return nil, fmt.Errorf("layout `%s` not created yet: %w", layout.Label, core.ErrPipelineNotReady)
	}

	viewA, errA := images.View(pair.A)
	viewB, errB := images.View(pair.B)
	if err := errors.Join(errA, errB); err != nil {
		bb.missing++
		if bb.missing > bb.grace {
			return nil, fmt.Errorf("%w: ping-pong pair missing for %d frames: %w", core.ErrResourceExpired, bb.missing, err)
		}
		core.LogWarn("frame %d: ping-pong pair unavailable (%d/%d): %s", frame, bb.missing, bb.grace, err)
		return nil, err
	}
	bb.missing = 0

	id := uuid.NewString()[:8]
	read := [2]*metadata.ImageView{viewA, viewB}
	write := [2]*metadata.ImageView{viewB, viewA}
	handles := [2]metadata.ImageHandle{pair.A, pair.B}

	out := &PingPongGroups{Frame: frame, Slot: slot}
	for i := 0; i < 2; i++ {
		g := &metadata.BindGroup{
			Label:  fmt.Sprintf("%s/%d#%s", layout.Label, i, id),
			Layout: layout,
			Entries: []metadata.BindGroupEntry{
				{Binding: 0, Image: handles[i], View: read[i]},
				{Binding: 1, Image: handles[1-i], View: write[i]},
			},
		}
		if err := bb.backend.CreateBindGroup(g); err != nil {
			if i == 1 {
				_ = bb.backend.DestroyBindGroup(out.Groups[0])
			}
			return nil, fmt.Errorf("bind group `%s`: %w", g.Label, err)
		}
		out.Groups[i] = g
	}
	bb.retained[slot] = append(bb.retained[slot], out.Groups[0], out.Groups[1])
	bb.current = out
	return out, nil
}

/**
 * @brief Creates a single table binding handles, in order, to the entries of
 * layout. The group is retained until slot is retired.
 */
func (bb *BindGroupBuilder) Prepare(slot uint32, label string, layout *metadata.BindGroupLayout, images *ExtractedImages, handles ...metadata.ImageHandle) (*metadata.BindGroup, error) {
	if int(slot) >= len(bb.retained) {
		return nil, fmt.Errorf("frame slot %d out of range", slot)
	}
	if layout.InternalData == nil {
		return nil, fmt.Errorf("layout `%s` not created yet: %w", layout.Label, core.ErrPipelineNotReady)
	}
	if len(handles) != len(layout.Entries) {
		return nil, fmt.Errorf("layout `%s` has %d bindings, got %d images", layout.Label, len(layout.Entries), len(handles))
	}
	g := &metadata.BindGroup{
		Label:  fmt.Sprintf("%s#%s", label, uuid.NewString()[:8]),
		Layout: layout,
	}
	for i, h := range handles {
		view, err := images.View(h)
		if err != nil {
			return nil, err
		}
		g.Entries = append(g.Entries, metadata.BindGroupEntry{Binding: layout.Entries[i].Binding, Image: h, View: view})
	}
	if err := bb.backend.CreateBindGroup(g); err != nil {
		return nil, fmt.Errorf("bind group `%s`: %w", g.Label, err)
	}
	bb.retained[slot] = append(bb.retained[slot], g)
	return g, nil
}

// Select returns this frame's table for frame, if one was prepared.
func (bb *BindGroupBuilder) Select(frame uint64) (*metadata.BindGroup, bool) {
	if bb.current == nil || bb.current.Frame != frame {
		return nil, false
	}
	return bb.current.Select(frame), true
}

// Current is the frame's published groups, nil when preparation failed.
func (bb *BindGroupBuilder) Current() *PingPongGroups {
	return bb.current
}

// ReleaseSlot destroys the groups recorded by slot. Only call once the
// slot's fence has been reached.
func (bb *BindGroupBuilder) ReleaseSlot(slot uint32) {
	if int(slot) >= len(bb.retained) {
		return
	}
	for _, g := range bb.retained[slot] {
		if err := bb.backend.DestroyBindGroup(g); err != nil {
			core.LogWarn("bind group `%s`: %s", g.Label, err)
		}
	}
	bb.retained[slot] = bb.retained[slot][:0]
}

func (bb *BindGroupBuilder) Retained(slot uint32) int {
	if int(slot) >= len(bb.retained) {
		return 0
	}
	return len(bb.retained[slot])
}

func (bb *BindGroupBuilder) Shutdown() error {
	for slot := range bb.retained {
		bb.ReleaseSlot(uint32(slot))
	}
	bb.current = nil
	return nil
}
