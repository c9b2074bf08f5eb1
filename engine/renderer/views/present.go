package views

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const PresentNodeName = "present"

// PresentNode scales the display image onto the back buffer.
type PresentNode struct{}

func NewPresentNode() *PresentNode {
	return &PresentNode{}
}

func (n *PresentNode) Name() string {
	return PresentNodeName
}

func (n *PresentNode) Update(world *systems.RenderWorld) error {
	return nil
}

func (n *PresentNode) Run(fc *renderer.FrameContext, world *systems.RenderWorld) error {
	if world.Display == core.InvalidHandle {
		return nil
	}
	view, err := world.Images.View(world.Display)
	if err != nil {
		return err
	}
	fc.Encoder.PushDebugGroup("Present")
	fc.Encoder.CopyToBackBuffer(view, fc.BackBuffer)
	fc.Encoder.PopDebugGroup()
	return nil
}
