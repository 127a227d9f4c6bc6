// Package program defines the descriptor form of an execution program: the
// textual (serializable) representation a compiler front-end produces and
// from which execution-plan graphs are built (see package plan).
//
// A ProgramDesc holds an ordered list of blocks. Block 0 is the main block;
// blocks at index 1 and up describe the bodies of control-flow constructs
// (conditionals, loops) that may or may not materialize as plan nodes. Each
// block declares variables (VarDesc) and lists operations (OpDesc) in
// program order. Operations name their input and output variables per
// parameter, and carry a typed attribute map (see attrs.go).
//
// Descriptors are plain data: they do not execute anything and hold no
// device placement. Placement belongs to the plan graph built from them.
package program

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/maps"
)

// ProgramDesc is the descriptor of a whole program: an ordered list of
// blocks, of which block 0 (the main block) always exists.
type ProgramDesc struct {
	blocks []*BlockDesc
}

// New creates a ProgramDesc with an empty main block.
func New() *ProgramDesc {
	p := &ProgramDesc{}
	p.AppendBlock()
	return p
}

// NumBlocks returns the number of blocks in the program, always ≥ 1.
func (p *ProgramDesc) NumBlocks() int { return len(p.blocks) }

// Block returns the block at the given index. It panics if the index is out
// of range.
func (p *ProgramDesc) Block(idx int) *BlockDesc {
	if idx < 0 || idx >= len(p.blocks) {
		exceptions.Panicf("program has %d blocks, requested block %d", len(p.blocks), idx)
	}
	return p.blocks[idx]
}

// MainBlock returns block 0.
func (p *ProgramDesc) MainBlock() *BlockDesc { return p.Block(0) }

// AppendBlock adds a new empty block to the program and returns it.
func (p *ProgramDesc) AppendBlock() *BlockDesc {
	b := &BlockDesc{
		program: p,
		index:   len(p.blocks),
		vars:    make(map[string]*VarDesc),
	}
	p.blocks = append(p.blocks, b)
	return b
}

// BlockDesc is one block of a program: its declared variables and its
// operations, in program order.
type BlockDesc struct {
	program *ProgramDesc
	index   int
	ops     []*OpDesc
	vars    map[string]*VarDesc
}

// Program returns the ProgramDesc this block belongs to.
func (b *BlockDesc) Program() *ProgramDesc { return b.program }

// Index returns the position of this block within its program.
func (b *BlockDesc) Index() int { return b.index }

// Ops returns the operations of the block in program order. The returned
// slice is owned by the block and must not be modified.
func (b *BlockDesc) Ops() []*OpDesc { return b.ops }

// AppendOp adds op at the end of the block and returns it.
func (b *BlockDesc) AppendOp(op *OpDesc) *OpDesc {
	b.ops = append(b.ops, op)
	return op
}

// DeclareVar registers a variable descriptor in the block. Declaring the
// same name twice is a contract violation and panics.
func (b *BlockDesc) DeclareVar(v *VarDesc) *VarDesc {
	if _, found := b.vars[v.name]; found {
		exceptions.Panicf("duplicate declaration of variable %q in block %d", v.name, b.index)
	}
	b.vars[v.name] = v
	return v
}

// Var returns the variable descriptor declared under name, or nil if the
// block doesn't declare it.
func (b *BlockDesc) Var(name string) *VarDesc { return b.vars[name] }

// VarNames returns the names of the variables declared in the block, sorted.
func (b *BlockDesc) VarNames() []string {
	names := maps.Keys(b.vars)
	slices.Sort(names)
	return names
}

// OpDesc describes one operation: its type name, its named input/output
// variable lists (parameter name → ordered variable names) and its
// attributes.
type OpDesc struct {
	opType  string
	inputs  map[string][]string
	outputs map[string][]string
	attrs   map[string]any
}

// NewOpDesc creates an empty operation descriptor of the given type name.
func NewOpDesc(opType string) *OpDesc {
	return &OpDesc{
		opType:  opType,
		inputs:  make(map[string][]string),
		outputs: make(map[string][]string),
		attrs:   make(map[string]any),
	}
}

// Type returns the operation type name, e.g. "read" or "elementwise_add".
func (op *OpDesc) Type() string { return op.opType }

// SetInput sets the input variable names for the given parameter. It
// returns op to allow chaining.
func (op *OpDesc) SetInput(param string, varNames ...string) *OpDesc {
	op.inputs[param] = slices.Clone(varNames)
	return op
}

// SetOutput sets the output variable names for the given parameter. It
// returns op to allow chaining.
func (op *OpDesc) SetOutput(param string, varNames ...string) *OpDesc {
	op.outputs[param] = slices.Clone(varNames)
	return op
}

// Input returns the input variable names of the given parameter, or nil.
func (op *OpDesc) Input(param string) []string { return op.inputs[param] }

// Output returns the output variable names of the given parameter, or nil.
func (op *OpDesc) Output(param string) []string { return op.outputs[param] }

// InputVarNames returns all input variable names, flattened over the
// parameters in sorted parameter order.
func (op *OpDesc) InputVarNames() []string { return flattenArgs(op.inputs) }

// OutputVarNames returns all output variable names, flattened over the
// parameters in sorted parameter order.
func (op *OpDesc) OutputVarNames() []string { return flattenArgs(op.outputs) }

func flattenArgs(args map[string][]string) []string {
	params := maps.Keys(args)
	slices.Sort(params)
	var all []string
	for _, param := range params {
		all = append(all, args[param]...)
	}
	return all
}

// String returns a compact "type(inputs) -> (outputs)" rendering of the op.
func (op *OpDesc) String() string {
	return fmt.Sprintf("%s(%s) -> (%s)", op.opType,
		strings.Join(op.InputVarNames(), ", "), strings.Join(op.OutputVarNames(), ", "))
}

// VarDesc describes one variable of a block: name, element dtype and
// dimensions. Dimension -1 means dynamic (resolved at execution time).
type VarDesc struct {
	name        string
	dtype       dtypes.DType
	dims        []int
	persistable bool
}

// NewVarDesc creates a variable descriptor.
func NewVarDesc(name string, dtype dtypes.DType, dims ...int) *VarDesc {
	return &VarDesc{name: name, dtype: dtype, dims: slices.Clone(dims)}
}

// Name returns the variable name.
func (v *VarDesc) Name() string { return v.name }

// DType returns the element type of the variable.
func (v *VarDesc) DType() dtypes.DType { return v.dtype }

// Dims returns the variable dimensions. The returned slice is owned by the
// descriptor and must not be modified.
func (v *VarDesc) Dims() []int { return v.dims }

// SetPersistable marks whether the variable outlives a single execution
// (model parameters/weights are persistable, activations are not). It
// returns v to allow chaining.
func (v *VarDesc) SetPersistable(persistable bool) *VarDesc {
	v.persistable = persistable
	return v
}

// Persistable reports whether the variable outlives a single execution.
func (v *VarDesc) Persistable() bool { return v.persistable }

// String returns "name: dtype[dims]", with "*" appended for persistable
// variables.
func (v *VarDesc) String() string {
	dims := make([]string, len(v.dims))
	for i, d := range v.dims {
		if d < 0 {
			dims[i] = "?"
		} else {
			dims[i] = fmt.Sprintf("%d", d)
		}
	}
	suffix := ""
	if v.persistable {
		suffix = "*"
	}
	return fmt.Sprintf("%s: %s[%s]%s", v.name, v.dtype, strings.Join(dims, ", "), suffix)
}
