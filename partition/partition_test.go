package partition

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/execplan/plan"
	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types"
)

// chainProgram builds a 3-op main block whose data-parallel plan separates
// cleanly: no collectives, every variable stays on its device.
//
//	read() -> (x)
//	matmul(x, w) -> (y)
//	scale(y) -> (y)
func chainProgram() *program.ProgramDesc {
	prog := program.New()
	main := prog.MainBlock()
	main.DeclareVar(program.NewVarDesc("x", dtypes.Float32, -1, 8))
	main.DeclareVar(program.NewVarDesc("w", dtypes.Float32, 8, 8).SetPersistable(true))
	main.DeclareVar(program.NewVarDesc("y", dtypes.Float32, -1, 8))
	main.AppendOp(program.NewOpDesc("read").SetOutput("Out", "x").SetAttr("drop_last", true))
	main.AppendOp(program.NewOpDesc("matmul").
		SetInput("X", "x").SetInput("Y", "w").SetOutput("Out", "y"))
	main.AppendOp(program.NewOpDesc("scale").SetInput("X", "y").SetOutput("Out", "y").SetAttr("scale", 0.5))
	return prog
}

func TestTrySeparateCleanSplit(t *testing.T) {
	const numDevices = 3
	g, err := plan.FromProgram(chainProgram(), numDevices)
	require.NoError(t, err)
	originalOps := g.Ops()
	totalNodes := g.NumNodes()
	srcTables := plan.GetAttr[plan.GraphVars](g, plan.AttrVars)

	subgraphs := TrySeparateByDevice(g)
	require.Len(t, subgraphs, numDevices)

	// The source is fully drained and its bookkeeping attributes erased.
	assert.Zero(t, g.NumNodes())
	assert.False(t, g.HasAttr(plan.AttrVars))
	assert.False(t, g.HasAttr(plan.AttrDepVars))

	// The subgraphs hold exactly the original node set: nothing lost,
	// nothing duplicated.
	var migrated []*plan.OpNode
	migratedNodes := 0
	for _, sub := range subgraphs {
		migrated = append(migrated, sub.Ops()...)
		migratedNodes += sub.NumNodes()
	}
	assert.ElementsMatch(t, originalOps, migrated)
	assert.Equal(t, totalNodes, migratedNodes)

	p := NewPartitioner(nil)
	for dev, sub := range subgraphs {
		require.NoError(t, sub.Validate())
		for _, op := range sub.Ops() {
			assert.Equal(t, plan.DeviceIndex(dev), p.ResolveDevice(op))
		}
		// The single table slot carries the device's full version lists.
		tables := plan.GetAttr[plan.GraphVars](sub, plan.AttrVars)
		require.Len(t, tables, 1)
		assert.Equal(t, srcTables[dev], tables[0])
		assert.Empty(t, plan.GetAttr[plan.GraphDepVars](sub, plan.AttrDepVars))
	}
}

func TestTrySeparateCopiesOptionalAttrs(t *testing.T) {
	prog := chainProgram()
	cond := prog.AppendBlock()
	cond.AppendOp(program.NewOpDesc("less_than").SetInput("X", "y").SetOutput("Out", "cond"))
	g, err := plan.FromProgram(prog, 2)
	require.NoError(t, err)
	plan.SetAttr(g, plan.AttrFusedVars, types.SetWith("fused@grad"))
	subPrograms := plan.GetAttr[[]*program.ProgramDesc](g, plan.AttrPrograms)

	subgraphs := TrySeparateByDevice(g)
	require.Len(t, subgraphs, 2)
	for _, sub := range subgraphs {
		assert.Equal(t, subPrograms, plan.GetAttr[[]*program.ProgramDesc](sub, plan.AttrPrograms))
		assert.True(t, plan.GetAttr[plan.FusedVars](sub, plan.AttrFusedVars).Has("fused@grad"))
	}

	// Optional attributes are copied forward, not moved.
	assert.True(t, g.HasAttr(plan.AttrPrograms))
	assert.True(t, g.HasAttr(plan.AttrFusedVars))
}

func TestTrySeparateRejectsCrossDeviceOps(t *testing.T) {
	t.Run("sub-block", func(t *testing.T) {
		prog := chainProgram()
		sub := prog.AppendBlock()
		sub.AppendOp(program.NewOpDesc("all_reduce").SetInput("X", "y").SetOutput("Out", "y"))
		g, err := plan.FromProgram(prog, 2)
		require.NoError(t, err)
		before := g.NumNodes()
		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, before, g.NumNodes())
		assert.True(t, g.HasAttr(plan.AttrVars))
	})

	t.Run("attached sub-program", func(t *testing.T) {
		g := plan.New(program.New())
		g.AddNode(plan.NewComputeOp(program.NewOpDesc("matmul"), 0))
		g.AddNode(plan.NewComputeOp(program.NewOpDesc("matmul"), 1))
		plan.SetAttr(g, plan.AttrVars, plan.GraphVars{make(plan.VarTable), make(plan.VarTable)})
		plan.SetAttr(g, plan.AttrDepVars, types.MakeSet[*plan.VarNode]())
		commProg := program.New()
		commProg.MainBlock().AppendOp(program.NewOpDesc("gen_comm_id"))
		plan.SetAttr(g, plan.AttrPrograms, []*program.ProgramDesc{commProg})

		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, 2, g.NumNodes())

		// The same plan without the offending sub-program separates fine.
		g.EraseAttr(plan.AttrPrograms)
		require.Len(t, TrySeparateByDevice(g), 2)
	})

	t.Run("main block", func(t *testing.T) {
		// The block scan starts beyond the main block; a main-block
		// collective is caught by device resolution instead.
		prog := chainProgram()
		prog.MainBlock().AppendOp(program.NewOpDesc("send").SetInput("X", "y"))
		g, err := plan.FromProgram(prog, 2)
		require.NoError(t, err)
		before := g.NumNodes()
		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, before, g.NumNodes())
	})
}

func TestTrySeparateRejectsEmptyPlan(t *testing.T) {
	require.Nil(t, TrySeparateByDevice(plan.New(program.New())))
}

func TestTrySeparateSingleDevice(t *testing.T) {
	g, err := plan.FromProgram(chainProgram(), 1)
	require.NoError(t, err)
	before := g.NumNodes()
	require.Nil(t, TrySeparateByDevice(g))
	assert.Equal(t, before, g.NumNodes())
	assert.True(t, g.HasAttr(plan.AttrVars))
	assert.True(t, g.HasAttr(plan.AttrDepVars))
}

func TestTrySeparateRejectsCrossDeviceEdges(t *testing.T) {
	t.Run("shared variable", func(t *testing.T) {
		g := plan.New(program.New())
		gen := plan.NewComputeOp(program.NewOpDesc("matmul"), 0)
		use := plan.NewComputeOp(program.NewOpDesc("matmul"), 1)
		x := plan.NewVar("x", 0, 0)
		gen.AddOutput(x)
		use.AddInput(x)
		for _, n := range []plan.Node{gen, use, x} {
			g.AddNode(n)
		}
		before := g.NumNodes()
		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, before, g.NumNodes())

		// Rejection mutates nothing, so re-running rejects identically.
		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, before, g.NumNodes())
	})

	t.Run("dependency edge", func(t *testing.T) {
		g := plan.New(program.New())
		a := plan.NewComputeOp(program.NewOpDesc("matmul"), 0)
		b := plan.NewComputeOp(program.NewOpDesc("matmul"), 1)
		g.AddNode(a)
		g.AddNode(b)
		plan.AddDependency(g, a, b)
		before := g.NumNodes()
		require.Nil(t, TrySeparateByDevice(g))
		assert.Equal(t, before, g.NumNodes())
	})
}

func TestTrySeparateMigratesDependencyVars(t *testing.T) {
	g := plan.New(program.New())
	a := plan.NewComputeOp(program.NewOpDesc("producer"), 0)
	b := plan.NewComputeOp(program.NewOpDesc("consumer"), 1)
	g.AddNode(a)
	g.AddNode(b)
	dep0 := plan.NewDepVar()
	g.AddNode(dep0)
	a.AddOutput(dep0)
	dep1 := plan.NewDepVar()
	g.AddNode(dep1)
	b.AddInput(dep1)
	plan.SetAttr(g, plan.AttrVars, plan.GraphVars{make(plan.VarTable), make(plan.VarTable)})
	plan.SetAttr(g, plan.AttrDepVars, types.SetWith(dep0, dep1))

	subgraphs := TrySeparateByDevice(g)
	require.Len(t, subgraphs, 2)
	assert.Zero(t, g.NumNodes())

	// Each dependency variable follows the operation that references it.
	require.Equal(t, 2, subgraphs[0].NumNodes())
	assert.True(t, subgraphs[0].Contains(a))
	assert.True(t, subgraphs[0].Contains(dep0))
	assert.True(t, plan.GetAttr[plan.GraphDepVars](subgraphs[0], plan.AttrDepVars).Has(dep0))

	require.Equal(t, 2, subgraphs[1].NumNodes())
	assert.True(t, subgraphs[1].Contains(b))
	assert.True(t, subgraphs[1].Contains(dep1))
	assert.True(t, plan.GetAttr[plan.GraphDepVars](subgraphs[1], plan.AttrDepVars).Has(dep1))
}

func TestTrySeparateSparseDeviceIndices(t *testing.T) {
	// The device count is max index + 1, so ops pinned to devices 0 and 2
	// only still produce three subgraphs. The gap device gets an empty one.
	g := plan.New(program.New())
	left := plan.NewComputeOp(program.NewOpDesc("scale"), 0)
	right := plan.NewComputeOp(program.NewOpDesc("scale"), 2)
	xLeft := plan.NewVar("x", 0, 0)
	xRight := plan.NewVar("x", 2, 0)
	left.AddOutput(xLeft)
	right.AddOutput(xRight)
	for _, n := range []plan.Node{left, right, xLeft, xRight} {
		g.AddNode(n)
	}
	plan.SetAttr(g, plan.AttrVars, plan.GraphVars{
		plan.VarTable{"x": {xLeft}},
		make(plan.VarTable),
		plan.VarTable{"x": {xRight}},
	})
	plan.SetAttr(g, plan.AttrDepVars, types.MakeSet[*plan.VarNode]())

	subgraphs := TrySeparateByDevice(g)
	require.Len(t, subgraphs, 3)
	assert.Zero(t, g.NumNodes())
	for _, sub := range subgraphs {
		require.NoError(t, sub.Validate())
	}

	// Device 1 holds no nodes, an empty variable table and no dependencies.
	assert.Zero(t, subgraphs[1].NumNodes())
	assert.Empty(t, plan.GetAttr[plan.GraphVars](subgraphs[1], plan.AttrVars)[0])
	assert.Empty(t, plan.GetAttr[plan.GraphDepVars](subgraphs[1], plan.AttrDepVars))

	require.Equal(t, 2, subgraphs[0].NumNodes())
	assert.True(t, subgraphs[0].Contains(left))
	assert.True(t, subgraphs[0].Contains(xLeft))
	assert.Equal(t, []*plan.VarNode{xLeft},
		plan.GetAttr[plan.GraphVars](subgraphs[0], plan.AttrVars)[0]["x"])

	require.Equal(t, 2, subgraphs[2].NumNodes())
	assert.True(t, subgraphs[2].Contains(right))
	assert.True(t, subgraphs[2].Contains(xRight))
	assert.Equal(t, []*plan.VarNode{xRight},
		plan.GetAttr[plan.GraphVars](subgraphs[2], plan.AttrVars)[0]["x"])
}

func TestTrySeparateDeviceCountInvariant(t *testing.T) {
	// A negative device that is not the undefined sentinel resolves, leaving
	// a device count of zero after the scan. That is an upstream bug, not a
	// rejection.
	g := plan.New(program.New())
	g.AddNode(plan.NewComputeOp(program.NewOpDesc("matmul"), -2))
	require.Panics(t, func() { TrySeparateByDevice(g) })
}

func TestResolveDevice(t *testing.T) {
	p := NewPartitioner(nil)

	// Compute ops follow their own device when every named variable agrees.
	op := plan.NewComputeOp(program.NewOpDesc("matmul"), 1)
	op.AddInput(plan.NewVar("x", 1, 0))
	op.AddOutput(plan.NewVar("y", 1, 0))
	assert.Equal(t, plan.DeviceIndex(1), p.ResolveDevice(op))

	// A cross-device op type is never bound to one device.
	allReduce := plan.NewComputeOp(program.NewOpDesc("all_reduce"), 1)
	assert.Equal(t, plan.DeviceUndefined, p.ResolveDevice(allReduce))

	// A variable on another device makes the affinity ambiguous.
	conflicted := plan.NewComputeOp(program.NewOpDesc("matmul"), 1)
	conflicted.AddInput(plan.NewVar("x", 0, 0))
	assert.Equal(t, plan.DeviceUndefined, p.ResolveDevice(conflicted))

	// Dependency variables carry no device and are skipped.
	synced := plan.NewComputeOp(program.NewOpDesc("matmul"), 2)
	synced.AddInput(plan.NewDepVar())
	synced.AddOutput(plan.NewDepVar())
	assert.Equal(t, plan.DeviceIndex(2), p.ResolveDevice(synced))

	// Deletion and buffer-share roles resolve through their own device, and
	// are held to the same variable consistency.
	assert.Equal(t, plan.DeviceIndex(3), p.ResolveDevice(plan.NewDeletionOp("delete_vars", 3)))
	delConflict := plan.NewDeletionOp("delete_vars", 3)
	delConflict.AddInput(plan.NewVar("x", 1, 0))
	assert.Equal(t, plan.DeviceUndefined, p.ResolveDevice(delConflict))
	assert.Equal(t, plan.DeviceIndex(0), p.ResolveDevice(plan.NewBufferShareOp("share_buffer", 0)))

	// Generic nodes have no affinity of their own.
	assert.Equal(t, plan.DeviceUndefined, p.ResolveDevice(plan.NewGenericOp("fetch")))

	// A custom registry changes which compute types are vetoed.
	custom := NewPartitioner(NewRegistry("matmul"))
	assert.Equal(t, plan.DeviceUndefined, custom.ResolveDevice(op))
}
