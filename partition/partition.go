// Package partition implements the single-device separation pass over
// execution-plan graphs.
//
// A data-parallel plan replicates a program's operations once per execution
// device. When the replicas never communicate, one large plan buys nothing
// over one small plan per device, and costs scheduling overhead. The
// Partitioner decides whether a plan can be losslessly torn into independent
// per-device plans and, if so, physically splits it: node ownership is
// transferred, never copied, so the union of the resulting plans is exactly
// the original node set.
//
// The pass never returns an error. Every rejection, whether "not separable"
// or "a single device, nothing to split", reports the same nil result, and
// the caller falls back to running the original plan. All validation happens
// before the first node moves, so a rejected plan is left untouched.
//
// The package also carries the read-truncation queries HasDropLastRead and
// HasKeepLastRead, small predicates over the same plan scan.
//
// Typical use:
//
//	g := must.M1(plan.FromProgram(prog, numDevices))
//	if subgraphs := partition.TrySeparateByDevice(g); subgraphs != nil {
//		// Schedule each single-device plan independently.
//	} else {
//		// Run g as one plan.
//	}
package partition

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/plan"
	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types"
)

// Partitioner separates multi-device plans into single-device plans. The
// zero value is not usable, create it with NewPartitioner.
type Partitioner struct {
	registry *Registry
}

// NewPartitioner creates a Partitioner that vetoes separation on the
// operation types of registry. A nil registry selects Default.
func NewPartitioner(registry *Registry) *Partitioner {
	if registry == nil {
		registry = Default()
	}
	return &Partitioner{registry: registry}
}

// TrySeparateByDevice separates g into independent single-device plans using
// the default registry. See Partitioner.TrySeparate.
func TrySeparateByDevice(g *plan.Graph) []*plan.Graph {
	return NewPartitioner(nil).TrySeparate(g)
}

// TrySeparate tries to separate g into multiple plans, each running on a
// single device. This is usually used to split a data-parallel inference
// plan into per-device plans that are scheduled independently.
//
// The plan can be separated if and only if:
//
//   - no block of its program beyond the main one, and none of its attached
//     sub-programs, has a cross-device operation (collectives, send, recv,
//     sync_batch_norm and friends, see Registry), and
//
//   - operations on different devices do not depend on each other, that is,
//     the plan already consists of per-device disconnected subgraphs.
//
// On success it returns the new plans indexed by device; g is left without
// nodes and its variable bookkeeping attributes are erased. Every other
// outcome returns nil and leaves g unmodified: "not separable" and "a single
// device, nothing to split" are deliberately indistinguishable, the caller
// runs g unchanged either way.
func (p *Partitioner) TrySeparate(g *plan.Graph) []*plan.Graph {
	// A cross-device operation vetoes separation even inside control-flow
	// blocks that are not materialized as nodes.
	if p.registry.HasMultiDeviceOp(g.Program(), 1) {
		klog.V(2).Infof("a sub-block has a cross-device op, not separating")
		return nil
	}
	if g.HasAttr(plan.AttrPrograms) {
		for _, sub := range plan.GetAttr[[]*program.ProgramDesc](g, plan.AttrPrograms) {
			if p.registry.HasMultiDeviceOp(sub, 0) {
				klog.V(2).Infof("a sub-program has a cross-device op, not separating")
				return nil
			}
		}
	}

	ops := g.Ops()
	if len(ops) == 0 {
		return nil
	}

	deviceCount := 0
	opDevice := make(map[*plan.OpNode]plan.DeviceIndex, len(ops))
	for _, op := range ops {
		dev := p.ResolveDevice(op)
		if dev == plan.DeviceUndefined {
			klog.V(2).Infof("device of op %s is not determined, not separating", op)
			return nil
		}
		deviceCount = max(deviceCount, int(dev)+1)
		opDevice[op] = dev
	}

	// No edge may cross a device boundary: the generator of every input and
	// the pending readers of every output must have resolved to the same
	// device. A neighbor missing from the map did not resolve and counts as
	// a mismatch.
	for _, op := range ops {
		dev := opDevice[op]
		for _, in := range op.Inputs() {
			if gen := in.GeneratedBy(); gen != nil {
				if genDev, found := opDevice[gen]; !found || genDev != dev {
					klog.V(2).Infof("ops %s and %s are connected across devices, not separating", gen, op)
					return nil
				}
			}
		}
		for _, out := range op.Outputs() {
			for _, pending := range out.PendingOps() {
				if pendingDev, found := opDevice[pending]; !found || pendingDev != dev {
					klog.V(2).Infof("ops %s and %s are connected across devices, not separating", op, pending)
					return nil
				}
			}
		}
	}

	if deviceCount < 1 {
		exceptions.Panicf("no device found for a plan of %d operation(s), the plan construction is broken",
			len(ops))
	}
	if deviceCount == 1 {
		klog.V(2).Infof("plan already runs on a single device, nothing to separate")
		return nil
	}

	subgraphs := make([]*plan.Graph, deviceCount)
	for dev := range subgraphs {
		sub := plan.New(program.New())
		plan.SetAttr(sub, plan.AttrVars, plan.GraphVars{make(plan.VarTable)})
		plan.SetAttr(sub, plan.AttrDepVars, types.MakeSet[*plan.VarNode]())
		subgraphs[dev] = sub
	}

	srcVars := plan.GetAttr[plan.GraphVars](g, plan.AttrVars)
	for _, op := range ops {
		dev := opDevice[op]
		dst := subgraphs[dev]
		dstVars := plan.GetAttr[plan.GraphVars](dst, plan.AttrVars)[0]
		dstDeps := plan.GetAttr[plan.GraphDepVars](dst, plan.AttrDepVars)
		dst.AddNode(g.RemoveNode(op))

		// Move the variables the op touches, unless an earlier op already
		// took them. Named variables carry their version list over from the
		// source table; dependency variables go into the dep-var set.
		moveVars := func(vars []*plan.VarNode) {
			for _, v := range vars {
				if !g.Contains(v) {
					continue
				}
				dst.AddNode(g.RemoveNode(v))
				if v.IsDependency() {
					dstDeps.Insert(v)
					continue
				}
				if int(dev) >= len(srcVars) {
					exceptions.Panicf("plan has variable tables for %d device(s), but op %s resolved to device %d",
						len(srcVars), op, dev)
				}
				versions, found := srcVars[dev][v.Name()]
				if !found {
					exceptions.Panicf("variable %s of device %d is missing from the plan's variable table", v, dev)
				}
				dstVars[v.Name()] = versions
			}
		}
		moveVars(op.Inputs())
		moveVars(op.Outputs())
	}

	g.EraseAttr(plan.AttrVars)
	g.EraseAttr(plan.AttrDepVars)

	for _, sub := range subgraphs {
		plan.CopyAttrIfExists[[]*program.ProgramDesc](g, sub, plan.AttrPrograms)
		plan.CopyAttrIfExists[plan.FusedVars](g, sub, plan.AttrFusedVars)
	}

	klog.V(2).Infof("separated the plan into %d single-device plans", deviceCount)
	return subgraphs
}
