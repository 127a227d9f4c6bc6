package plan

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types"
	"github.com/gomlx/execplan/types/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FromProgram builds the execution-plan graph of a data-parallel run of prog
// over numDevices devices.
//
// The main block's operations are replicated once per device as RoleCompute
// nodes, wired through per-device variable nodes in static single-assignment
// form: an operation reading a name with no version yet gets a fresh version
// 0 (an externally provided input or preexisting state), and every write to
// a name appends a new version. The per-device variable tables are installed
// under AttrVars and an empty dependency-variable set under AttrDepVars.
//
// Sub-blocks of prog (control-flow bodies) do not materialize as nodes; each
// is recorded as a standalone sub-program under AttrPrograms so consumers of
// the graph still see the operations those blocks will eventually run.
func FromProgram(prog *program.ProgramDesc, numDevices int) (*Graph, error) {
	if prog == nil {
		return nil, errors.Errorf("cannot build an execution plan from a nil program")
	}
	if numDevices < 1 {
		return nil, errors.Errorf("cannot build an execution plan for %d devices, at least 1 is required", numDevices)
	}

	g := New(prog)
	graphVars := make(GraphVars, numDevices)
	for dev := range graphVars {
		graphVars[dev] = make(VarTable)
	}
	SetAttr(g, AttrVars, graphVars)
	SetAttr(g, AttrDepVars, types.MakeSet[*VarNode]())

	for dev := DeviceIndex(0); int(dev) < numDevices; dev++ {
		table := graphVars[dev]
		for _, opDesc := range prog.MainBlock().Ops() {
			opNode := NewComputeOp(opDesc, dev)
			g.AddNode(opNode)
			for _, name := range opDesc.InputVarNames() {
				if len(table[name]) == 0 {
					v := NewVar(name, dev, 0)
					g.AddNode(v)
					table[name] = append(table[name], v)
				}
				opNode.AddInput(xslices.Last(table[name]))
			}
			for _, name := range opDesc.OutputVarNames() {
				v := NewVar(name, dev, len(table[name]))
				g.AddNode(v)
				table[name] = append(table[name], v)
				opNode.AddOutput(v)
			}
		}
	}

	if prog.NumBlocks() > 1 {
		subPrograms := make([]*program.ProgramDesc, 0, prog.NumBlocks()-1)
		for blockIdx := 1; blockIdx < prog.NumBlocks(); blockIdx++ {
			subPrograms = append(subPrograms, subBlockProgram(prog.Block(blockIdx)))
		}
		SetAttr(g, AttrPrograms, subPrograms)
	}

	klog.V(1).Infof("built execution plan for %d device(s): %d op node(s), %d variable node(s)",
		numDevices, len(g.Ops()), len(g.VarNodes()))
	return g, nil
}

// subBlockProgram wraps one sub-block as a standalone single-block program.
// Descriptors are shared with the original block, not copied.
func subBlockProgram(block *program.BlockDesc) *program.ProgramDesc {
	sub := program.New()
	main := sub.MainBlock()
	for _, name := range block.VarNames() {
		main.DeclareVar(block.Var(name))
	}
	for _, op := range block.Ops() {
		main.AppendOp(op)
	}
	return sub
}

// AddDependency wires an explicit execution-order edge between two
// operations of g: a fresh dependency-only variable generated by from and
// pending on to. The variable is added to the graph and to its AttrDepVars
// set, creating the set if the graph does not carry one yet. Both operations
// must be owned by g.
func AddDependency(g *Graph, from, to *OpNode) *VarNode {
	if !g.Contains(from) || !g.Contains(to) {
		exceptions.Panicf("AddDependency(%s -> %s): both operations must be owned by the graph", from, to)
	}
	v := NewDepVar()
	g.AddNode(v)
	from.AddOutput(v)
	to.AddInput(v)
	if !g.HasAttr(AttrDepVars) {
		SetAttr(g, AttrDepVars, types.MakeSet[*VarNode]())
	}
	GetAttr[GraphDepVars](g, AttrDepVars).Insert(v)
	return v
}
