package headless

import (
	"fmt"
	stdmath "math"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type executor struct {
	b        *Backend
	inPass   bool
	pipeline *metadata.ComputePipeline
	kernel   *Kernel
	groups   map[uint32]*metadata.BindGroup
	push     []byte
	depth    int
}

func (b *Backend) execute(commands []Command) error {
	ex := &executor{b: b, groups: map[uint32]*metadata.BindGroup{}}
	for _, c := range commands {
		ex.run(c)
	}
	if ex.inPass {
		b.validationError(fmt.Errorf("compute pass was never ended"))
	}
	if ex.depth != 0 {
		b.validationError(fmt.Errorf("%d debug groups left open", ex.depth))
	}
	return nil
}

func (ex *executor) run(c Command) {
	b := ex.b
	switch c.Kind {
	case CommandTransition:
		if int(c.BackBuffer) >= len(b.backBuffers) {
			b.validationError(fmt.Errorf("transition of unknown back buffer %d", c.BackBuffer))
			return
		}
		if cur := b.backBufferStates[c.BackBuffer]; cur != c.From {
			b.validationError(fmt.Errorf("back buffer %d transitioned from %s but is %s", c.BackBuffer, c.From, cur))
		}
		b.backBufferStates[c.BackBuffer] = c.To
	case CommandSetViewport, CommandSetScissor:
	case CommandClear:
		if bb := ex.renderTarget(c.BackBuffer, "clear"); bb != nil {
			bb.Fill(c.Color)
		}
	case CommandPushDebugGroup:
		ex.depth++
		b.labels = append(b.labels, c.Label)
	case CommandPopDebugGroup:
		if ex.depth == 0 {
			b.validationError(fmt.Errorf("debug group popped with none open"))
			return
		}
		ex.depth--
	case CommandBeginComputePass:
		if ex.inPass {
			b.validationError(fmt.Errorf("compute pass `%s` begun inside another pass", c.Label))
		}
		ex.inPass = true
		ex.pipeline, ex.kernel, ex.push = nil, nil, nil
		clear(ex.groups)
	case CommandEndComputePass:
		if !ex.inPass {
			b.validationError(fmt.Errorf("compute pass ended with none open"))
		}
		ex.inPass = false
	case CommandSetPipeline:
		data, ok := c.Pipeline.InternalData.(*pipelineData)
		if !ok || data.destroyed {
			b.validationError(fmt.Errorf("pipeline `%s` bound after destruction", c.Pipeline.Label))
			ex.pipeline, ex.kernel = nil, nil
			return
		}
		ex.pipeline, ex.kernel = c.Pipeline, data.kernel
	case CommandSetBindGroup:
		data, ok := c.Group.InternalData.(*bindGroupData)
		if !ok || data.destroyed {
			b.validationError(fmt.Errorf("bind group `%s` bound after destruction", c.Group.Label))
			delete(ex.groups, c.Index)
			return
		}
		ex.groups[c.Index] = c.Group
	case CommandSetPushConstants:
		if end := int(c.Offset) + len(c.Data); end > len(ex.push) {
			grown := make([]byte, end)
			copy(grown, ex.push)
			ex.push = grown
		}
		copy(ex.push[c.Offset:], c.Data)
	case CommandDispatch:
		ex.dispatch(c)
	case CommandCopyToBackBuffer:
		ex.copyToBackBuffer(c)
	}
}

func (ex *executor) renderTarget(index uint32, op string) *Image {
	b := ex.b
	if int(index) >= len(b.backBuffers) {
		b.validationError(fmt.Errorf("%s on unknown back buffer %d", op, index))
		return nil
	}
	if state := b.backBufferStates[index]; state != metadata.ResourceStateRenderTarget {
		b.validationError(fmt.Errorf("%s on back buffer %d in state %s", op, index, state))
		return nil
	}
	return b.backBuffers[index]
}

func (ex *executor) dispatch(c Command) {
	b := ex.b
	if !ex.inPass {
		b.validationError(fmt.Errorf("dispatch outside a compute pass"))
		return
	}
	if ex.kernel == nil {
		b.validationError(fmt.Errorf("dispatch without a pipeline"))
		return
	}
	group, ok := ex.groups[0]
	if !ok {
		b.validationError(fmt.Errorf("dispatch of `%s` without bind group 0", ex.pipeline.Label))
		return
	}

	state := &dispatchState{label: ex.pipeline.Label}
	var bindings []*boundImage
	for _, le := range group.Layout.Entries {
		var view *metadata.ImageView
		for _, e := range group.Entries {
			if e.Binding == le.Binding {
				view = e.View
			}
		}
		if view == nil {
			b.validationError(fmt.Errorf("dispatch of `%s`: binding %d has no view", ex.pipeline.Label, le.Binding))
			return
		}
		img, err := imageOf(view.Image)
		if err != nil {
			b.validationError(err)
			return
		}
		if img.released {
			b.validationError(fmt.Errorf("dispatch of `%s` reads destroyed image `%s`", ex.pipeline.Label, view.Image.Descriptor.Label))
			return
		}
		for int(le.Binding) >= len(bindings) {
			bindings = append(bindings, nil)
		}
		bindings[le.Binding] = &boundImage{image: img, kind: le.Kind}
	}

	b.stats.Dispatches++
	wg := ex.kernel.WorkgroupSize
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}
	inv := &Invocation{bindings: bindings, push: ex.push, dispatch: state}
	for gz := uint32(0); gz < c.Z; gz++ {
		for gy := uint32(0); gy < c.Y; gy++ {
			for gx := uint32(0); gx < c.X; gx++ {
				for lz := uint32(0); lz < wg[2]; lz++ {
					for ly := uint32(0); ly < wg[1]; ly++ {
						for lx := uint32(0); lx < wg[0]; lx++ {
							inv.ID = [3]uint32{gx*wg[0] + lx, gy*wg[1] + ly, gz*wg[2] + lz}
							ex.kernel.Run(inv)
						}
					}
				}
			}
		}
	}
	if state.errors > 0 {
		b.validationError(fmt.Errorf("%w (%d invocations failed)", state.first, state.errors))
	}
}

func (ex *executor) copyToBackBuffer(c Command) {
	b := ex.b
	if ex.inPass {
		b.validationError(fmt.Errorf("copy to back buffer inside a compute pass"))
		return
	}
	dst := ex.renderTarget(c.BackBuffer, "copy")
	if dst == nil {
		return
	}
	if c.Source == nil {
		b.validationError(fmt.Errorf("copy to back buffer without a source"))
		return
	}
	src, err := imageOf(c.Source.Image)
	if err != nil {
		b.validationError(err)
		return
	}
	if src.released {
		b.validationError(fmt.Errorf("copy from destroyed image `%s`", c.Source.Image.Descriptor.Label))
		return
	}
	for y := uint32(0); y < dst.Height; y++ {
		sy := uint32(uint64(y) * uint64(src.Height) / uint64(dst.Height))
		for x := uint32(0); x < dst.Width; x++ {
			sx := uint32(uint64(x) * uint64(src.Width) / uint64(dst.Width))
			dst.Set(x, y, toUnorm(dst.Format, src.At(sx, sy)))
		}
	}
}

func toUnorm(format gputypes.TextureFormat, v [4]float32) [4]float32 {
	if format != gputypes.TextureFormatBGRA8Unorm && format != gputypes.TextureFormatRGBA8Unorm {
		return v
	}
	for i := range v {
		f := stdmath.Max(0, stdmath.Min(1, float64(v[i])))
		v[i] = float32(stdmath.Round(f*255) / 255)
	}
	return v
}
