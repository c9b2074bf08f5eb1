package views

import (
	"github.com/spaghettifunk/lumen/engine/systems"
)

// AddPathTracing adds the compute node, the camera driver, the optional
// tonemap and the present node to graph, chained in that order.
func AddPathTracing(graph *systems.RenderGraph, tracer *PathTracerNode, tonemap *TonemapNode) error {
	nodes := []systems.RenderNode{tracer, NewCameraDriverNode()}
	if tonemap != nil {
		nodes = append(nodes, tonemap)
	}
	nodes = append(nodes, NewPresentNode())

	for i, node := range nodes {
		if err := graph.AddNode(node); err != nil {
			return err
		}
		if i > 0 {
			if err := graph.AddEdge(nodes[i-1].Name(), node.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}
