package views

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const CameraDriverNodeName = "camera_driver"

// CameraDriverNode points the display at the image the compute pass wrote
// last. Until something has been written the display stays empty.
type CameraDriverNode struct{}

func NewCameraDriverNode() *CameraDriverNode {
	return &CameraDriverNode{}
}

func (n *CameraDriverNode) Name() string {
	return CameraDriverNodeName
}

func (n *CameraDriverNode) Update(world *systems.RenderWorld) error {
	if world.Output != core.InvalidHandle {
		world.Display = world.Output
	}
	return nil
}

func (n *CameraDriverNode) Run(fc *renderer.FrameContext, world *systems.RenderWorld) error {
	return nil
}
