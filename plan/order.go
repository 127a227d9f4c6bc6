package plan

import (
	"slices"

	"github.com/gomlx/execplan/types"
	"github.com/pkg/errors"
)

// Validate checks the bidirectional consistency of the graph's links: every
// edge endpoint of an owned node is itself owned by the graph, every input
// variable of an operation lists the operation as pending, and every output
// variable records the operation as its generator. It returns the first
// violation found, or nil.
func (g *Graph) Validate() error {
	for _, op := range g.Ops() {
		for _, v := range op.Inputs() {
			if !g.Contains(v) {
				return errors.Errorf("op %s reads %s, which is not owned by the graph", op, v)
			}
			if !slices.Contains(v.PendingOps(), op) {
				return errors.Errorf("op %s reads %s, but the variable does not list it as pending", op, v)
			}
		}
		for _, v := range op.Outputs() {
			if !g.Contains(v) {
				return errors.Errorf("op %s writes %s, which is not owned by the graph", op, v)
			}
			if v.GeneratedBy() != op {
				return errors.Errorf("op %s writes %s, but the variable does not record it as generator", op, v)
			}
		}
	}
	for _, v := range g.VarNodes() {
		if gen := v.GeneratedBy(); gen != nil {
			if !g.Contains(gen) {
				return errors.Errorf("variable %s is generated by %s, which is not owned by the graph", v, gen)
			}
			if !slices.Contains(gen.Outputs(), v) {
				return errors.Errorf("variable %s records generator %s, but the op does not list it as an output", v, gen)
			}
		}
		for _, pending := range v.PendingOps() {
			if !g.Contains(pending) {
				return errors.Errorf("variable %s is pending on %s, which is not owned by the graph", v, pending)
			}
			if !slices.Contains(pending.Inputs(), v) {
				return errors.Errorf("variable %s lists pending op %s, but the op does not read it", v, pending)
			}
		}
	}
	return nil
}

// TopologicalOrder returns the graph's operation nodes in an order that
// respects its data dependencies: an operation appears after every operation
// generating one of its inputs. The result is deterministic for a given
// construction sequence: ties are broken by node registration and edge
// wiring order, never by map iteration. It returns an error if the links are
// inconsistent (see Validate) or the dependencies form a cycle.
func (g *Graph) TopologicalOrder() ([]*OpNode, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	ops := g.Ops()
	indegree := make(map[*OpNode]int, len(ops))
	for _, op := range ops {
		// Count each distinct input variable once: an operation reading the
		// same variable through two parameters still waits on one generator.
		count := 0
		seen := types.MakeSet[*VarNode](len(op.Inputs()))
		for _, v := range op.Inputs() {
			if seen.Has(v) {
				continue
			}
			seen.Insert(v)
			if v.GeneratedBy() != nil {
				count++
			}
		}
		indegree[op] = count
	}

	queue := make([]*OpNode, 0, len(ops))
	for _, op := range ops {
		if indegree[op] == 0 {
			queue = append(queue, op)
		}
	}
	order := make([]*OpNode, 0, len(ops))
	for len(queue) > 0 {
		op := queue[0]
		queue = queue[1:]
		order = append(order, op)
		for _, v := range op.Outputs() {
			for _, pending := range v.PendingOps() {
				indegree[pending]--
				if indegree[pending] == 0 {
					queue = append(queue, pending)
				}
			}
		}
	}
	if len(order) != len(ops) {
		return nil, errors.Errorf("the graph has a dependency cycle: only %d of %d operations could be ordered",
			len(order), len(ops))
	}
	return order, nil
}
