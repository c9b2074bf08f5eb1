package engine

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

/**
 * @brief The application plugged into the engine. The engine fills in the
 * systems before FnInitialize is called.
 */
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	Graph             *systems.RenderGraph
	Input             *core.Input
	Events            *core.EventBus
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnExtract         Extract
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Extract lists the images the render graph reads this frame.
type Extract func() []metadata.ImageHandle
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
