package headless

import (
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type CommandKind int

const (
	CommandTransition CommandKind = iota
	CommandSetViewport
	CommandSetScissor
	CommandClear
	CommandBeginComputePass
	CommandEndComputePass
	CommandPushDebugGroup
	CommandPopDebugGroup
	CommandSetPipeline
	CommandSetBindGroup
	CommandSetPushConstants
	CommandDispatch
	CommandCopyToBackBuffer
)

func (k CommandKind) String() string {
	return [...]string{
		"transition", "set-viewport", "set-scissor", "clear", "begin-compute-pass", "end-compute-pass",
		"push-debug-group", "pop-debug-group", "set-pipeline", "set-bind-group", "set-push-constants",
		"dispatch", "copy-to-back-buffer",
	}[k]
}

// Command is one recorded encoder call.
type Command struct {
	Kind       CommandKind
	Label      string
	BackBuffer uint32
	From, To   metadata.ResourceState
	Color      [4]float32
	Viewport   metadata.Viewport
	Scissor    metadata.Rect
	Pipeline   *metadata.ComputePipeline
	Index      uint32
	Group      *metadata.BindGroup
	Offset     uint32
	Data       []byte
	X, Y, Z    uint32
	Source     *metadata.ImageView
}

type encoder struct {
	commands []Command
}

func (e *encoder) record(c Command) {
	e.commands = append(e.commands, c)
}

func (e *encoder) TransitionBackBuffer(backBuffer uint32, from, to metadata.ResourceState) {
	e.record(Command{Kind: CommandTransition, BackBuffer: backBuffer, From: from, To: to})
}

func (e *encoder) SetViewport(v metadata.Viewport) {
	e.record(Command{Kind: CommandSetViewport, Viewport: v})
}

func (e *encoder) SetScissor(r metadata.Rect) {
	e.record(Command{Kind: CommandSetScissor, Scissor: r})
}

func (e *encoder) ClearBackBuffer(backBuffer uint32, color [4]float32) {
	e.record(Command{Kind: CommandClear, BackBuffer: backBuffer, Color: color})
}

func (e *encoder) BeginComputePass(label string) metadata.ComputePassEncoder {
	e.record(Command{Kind: CommandBeginComputePass, Label: label})
	return &computePass{enc: e}
}

func (e *encoder) CopyToBackBuffer(src *metadata.ImageView, backBuffer uint32) {
	e.record(Command{Kind: CommandCopyToBackBuffer, Source: src, BackBuffer: backBuffer})
}

func (e *encoder) PushDebugGroup(label string) {
	e.record(Command{Kind: CommandPushDebugGroup, Label: label})
}

func (e *encoder) PopDebugGroup() {
	e.record(Command{Kind: CommandPopDebugGroup})
}

type computePass struct {
	enc *encoder
}

func (p *computePass) PushDebugGroup(label string) {
	p.enc.PushDebugGroup(label)
}

func (p *computePass) PopDebugGroup() {
	p.enc.PopDebugGroup()
}

func (p *computePass) SetPipeline(pipeline *metadata.ComputePipeline) {
	p.enc.record(Command{Kind: CommandSetPipeline, Pipeline: pipeline})
}

func (p *computePass) SetBindGroup(index uint32, g *metadata.BindGroup) {
	p.enc.record(Command{Kind: CommandSetBindGroup, Index: index, Group: g})
}

func (p *computePass) SetPushConstants(offset uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	p.enc.record(Command{Kind: CommandSetPushConstants, Offset: offset, Data: cp})
}

func (p *computePass) Dispatch(x, y, z uint32) {
	p.enc.record(Command{Kind: CommandDispatch, X: x, Y: y, Z: z})
}

func (p *computePass) End() {
	p.enc.record(Command{Kind: CommandEndComputePass})
}
