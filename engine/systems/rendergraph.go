package systems

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief The render side store shared by every node during a frame.
 */
type RenderWorld struct {
	Frame uint64
	Slot  uint32

	Images     *ExtractedImages
	Pipelines  *PipelineCache
	BindGroups *BindGroupBuilder

	// Output is the image most recently written by a compute pass.
	Output metadata.ImageHandle
	// Display is what the present node copies to the back buffer.
	Display metadata.ImageHandle
}

// RenderNode is one step of the render graph. Update may change the world;
// Run only records commands.
type RenderNode interface {
	Name() string
	Update(world *RenderWorld) error
	Run(fc *renderer.FrameContext, world *RenderWorld) error
}

/**
 * @brief A DAG of named nodes. Edges are ordering constraints only.
 */
type RenderGraph struct {
	world *RenderWorld
	nodes map[string]RenderNode
	// insertion order, used to break ties
	names []string
	edges map[string][]string

	order []RenderNode
	dirty bool
}

func NewRenderGraph(world *RenderWorld) *RenderGraph {
	return &RenderGraph{
		world: world,
		nodes: make(map[string]RenderNode),
		edges: make(map[string][]string),
	}
}

func (rg *RenderGraph) World() *RenderWorld {
	return rg.world
}

func (rg *RenderGraph) AddNode(node RenderNode) error {
	name := node.Name()
	if _, ok := rg.nodes[name]; ok {
		return fmt.Errorf("render graph already has a node named `%s`", name)
	}
	rg.nodes[name] = node
	rg.names = append(rg.names, name)
	rg.dirty = true
	return nil
}

// AddEdge orders from before to.
func (rg *RenderGraph) AddEdge(from, to string) error {
	for _, n := range []string{from, to} {
		if _, ok := rg.nodes[n]; !ok {
			return fmt.Errorf("render graph has no node named `%s`", n)
		}
	}
	if from == to {
		return fmt.Errorf("node `%s` cannot depend on itself", from)
	}
	if !slices.Contains(rg.edges[from], to) {
		rg.edges[from] = append(rg.edges[from], to)
		rg.dirty = true
	}
	return nil
}

/**
 * @brief Topological order of the nodes. Nodes with no ordering constraint
 * between them keep the order they were added in.
 */
func (rg *RenderGraph) Order() ([]RenderNode, error) {
	if !rg.dirty && rg.order != nil {
		return rg.order, nil
	}
	indegree := make(map[string]int, len(rg.names))
	for _, tos := range rg.edges {
		for _, to := range tos {
			indegree[to]++
		}
	}

	order := make([]RenderNode, 0, len(rg.names))
	done := make(map[string]bool, len(rg.names))
	for len(order) < len(rg.names) {
		progressed := false
		for _, name := range rg.names {
			if done[name] || indegree[name] > 0 {
				continue
			}
			done[name] = true
			order = append(order, rg.nodes[name])
			for _, to := range rg.edges[name] {
				indegree[to]--
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, name := range rg.names {
				if !done[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("render graph has a cycle through %v", stuck)
		}
	}
	rg.order = order
	rg.dirty = false
	return order, nil
}

// Update calls every node's Update in order. Node failures are logged and
// the rest of the graph still runs; fatal errors are returned.
func (rg *RenderGraph) Update(world *RenderWorld) error {
	order, err := rg.Order()
	if err != nil {
		return err
	}
	var errs []error
	for _, node := range order {
		if err := node.Update(world); err != nil {
			if core.IsFatal(err) {
				return fmt.Errorf("node `%s`: %w", node.Name(), err)
			}
			core.LogWarn("node `%s` update: %s", node.Name(), err)
			errs = append(errs, fmt.Errorf("node `%s`: %w", node.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (rg *RenderGraph) Run(fc *renderer.FrameContext, world *RenderWorld) error {
	order, err := rg.Order()
	if err != nil {
		return err
	}
	var errs []error
	for _, node := range order {
		if err := node.Run(fc, world); err != nil {
			if core.IsFatal(err) {
				return fmt.Errorf("node `%s`: %w", node.Name(), err)
			}
			core.LogWarn("node `%s` run: %s", node.Name(), err)
			errs = append(errs, fmt.Errorf("node `%s`: %w", node.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RecordFrame updates then runs the graph against the frame's slot.
func (rg *RenderGraph) RecordFrame(fc *renderer.FrameContext) error {
	rg.world.Frame = fc.Frame
	rg.world.Slot = fc.Slot
	updateErr := rg.Update(rg.world)
	if core.IsFatal(updateErr) {
		return updateErr
	}
	runErr := rg.Run(fc, rg.world)
	if core.IsFatal(runErr) {
		return runErr
	}
	return errors.Join(updateErr, runErr)
}
