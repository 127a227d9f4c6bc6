package plan

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types/xslices"
)

// Graph is an execution-plan graph: the operation and variable nodes
// compiled from a program, plus typed graph-level attributes (see attrs.go).
//
// Nodes are owned exclusively: AddNode refuses a node that currently belongs
// to any graph, and RemoveNode detaches a node and hands it back, so a move
// between graphs is dst.AddNode(src.RemoveNode(n)) and the node is never
// reachable from both. Removal leaves the node's edges intact.
type Graph struct {
	program *program.ProgramDesc

	// nodes lists the graph's nodes in registration order, with nil holes
	// where nodes were removed; index maps each owned node to its position.
	nodes []Node
	index map[Node]int

	attrs map[string]any
}

// New creates an empty graph whose origin is the given program descriptor.
func New(prog *program.ProgramDesc) *Graph {
	if prog == nil {
		exceptions.Panicf("plan.New: program descriptor is nil")
	}
	return &Graph{
		program: prog,
		index:   make(map[Node]int),
		attrs:   make(map[string]any),
	}
}

// Program returns the program descriptor the graph originates from.
func (g *Graph) Program() *program.ProgramDesc { return g.program }

// AddNode registers n as owned by g and returns it.
func (g *Graph) AddNode(n Node) Node {
	if n.owner() != nil {
		exceptions.Panicf("node %s is already owned by a graph, remove it there before adding it to another",
			n.Name())
	}
	n.setOwner(g)
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return n
}

// RemoveNode detaches n from g and returns it, leaving its edges intact. The
// node must currently be owned by g.
func (g *Graph) RemoveNode(n Node) Node {
	pos, found := g.index[n]
	if !found {
		exceptions.Panicf("node %s is not owned by this graph, it cannot be removed", n.Name())
	}
	g.nodes[pos] = nil
	delete(g.index, n)
	n.setOwner(nil)
	if len(g.nodes) > 2*len(g.index) {
		g.compact()
	}
	return n
}

// compact drops the holes left behind by removed nodes.
func (g *Graph) compact() {
	kept := g.nodes[:0]
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		g.index[n] = len(kept)
		kept = append(kept, n)
	}
	clear(g.nodes[len(kept):])
	g.nodes = kept
}

// Contains reports whether n is currently owned by g.
func (g *Graph) Contains(n Node) bool {
	_, found := g.index[n]
	return found
}

// NumNodes returns the number of nodes currently owned by the graph.
func (g *Graph) NumNodes() int { return len(g.index) }

// Nodes returns the graph's nodes in registration order. The returned slice
// is a copy and remains valid while the graph is mutated.
func (g *Graph) Nodes() []Node {
	all := make([]Node, 0, len(g.index))
	for _, n := range g.nodes {
		if n != nil {
			all = append(all, n)
		}
	}
	return all
}

// Ops returns the operation nodes in registration order. The returned slice
// is a copy and remains valid while the graph is mutated.
func (g *Graph) Ops() []*OpNode {
	ops := make([]*OpNode, 0, len(g.index))
	for _, n := range g.nodes {
		if op, ok := n.(*OpNode); ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// VarNodes returns the variable nodes in registration order. The returned
// slice is a copy and remains valid while the graph is mutated.
func (g *Graph) VarNodes() []*VarNode {
	vars := make([]*VarNode, 0, len(g.index))
	for _, n := range g.nodes {
		if v, ok := n.(*VarNode); ok {
			vars = append(vars, v)
		}
	}
	return vars
}

// String returns a multi-line dump of the graph: one line per operation with
// its input and output variables.
func (g *Graph) String() string {
	ops, vars := g.Ops(), g.VarNodes()
	var sb strings.Builder
	fmt.Fprintf(&sb, "plan.Graph: %d op node(s), %d variable node(s)\n", len(ops), len(vars))
	for idx, op := range ops {
		fmt.Fprintf(&sb, "#%d\t%s: (%s) -> (%s)\n", idx, op,
			joinVars(op.inputs), joinVars(op.outputs))
	}
	return sb.String()
}

func joinVars(vars []*VarNode) string {
	return strings.Join(xslices.Map(vars, (*VarNode).String), ", ")
}
