package plan

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/execplan/program"
)

// Node is a node of an execution-plan graph: either an *OpNode or a
// *VarNode.
type Node interface {
	// Name identifies the node in dumps and error messages. It is not
	// necessarily unique.
	Name() string

	owner() *Graph
	setOwner(g *Graph)
}

// owned tracks which graph currently owns a node. It is embedded by both
// node kinds.
type owned struct {
	graph *Graph
}

func (o *owned) owner() *Graph     { return o.graph }
func (o *owned) setOwner(g *Graph) { o.graph = g }

// OpNode is one executable step of a plan. Its role says what kind of step
// (see NodeRole); RoleCompute nodes are additionally backed by the operation
// descriptor they execute.
//
// The node's edges are variable nodes: Inputs are read before the operation
// runs, Outputs are produced by it.
type OpNode struct {
	owned
	name   string
	role   NodeRole
	device DeviceIndex
	op     *program.OpDesc

	inputs  []*VarNode
	outputs []*VarNode
}

// NewComputeOp creates the operation node that executes op on the given
// device. The node is named after the operation type.
func NewComputeOp(op *program.OpDesc, device DeviceIndex) *OpNode {
	if op == nil {
		exceptions.Panicf("NewComputeOp: operation descriptor is nil")
	}
	return &OpNode{name: op.Type(), role: RoleCompute, device: device, op: op}
}

// NewDeletionOp creates the cleanup operation node that frees dead variables
// on the given device.
func NewDeletionOp(name string, device DeviceIndex) *OpNode {
	return &OpNode{name: name, role: RoleDeletion, device: device}
}

// NewBufferShareOp creates the operation node that aliases variable buffers
// on the given device.
func NewBufferShareOp(name string, device DeviceIndex) *OpNode {
	return &OpNode{name: name, role: RoleBufferShare, device: device}
}

// NewGenericOp creates an operation node of no particular role. It carries
// no device of its own.
func NewGenericOp(name string) *OpNode {
	return &OpNode{name: name, role: RoleGeneric, device: DeviceUndefined}
}

// Name implements Node.
func (op *OpNode) Name() string { return op.name }

// Role returns the kind of step the node represents.
func (op *OpNode) Role() NodeRole { return op.role }

// Device returns the device the node was placed on. It is DeviceUndefined
// for RoleGeneric nodes.
func (op *OpNode) Device() DeviceIndex { return op.device }

// Op returns the operation descriptor backing a RoleCompute node, and nil
// for every other role.
func (op *OpNode) Op() *program.OpDesc { return op.op }

// Inputs returns the variables the operation reads, in the order they were
// added. The returned slice is owned by the node and must not be modified.
func (op *OpNode) Inputs() []*VarNode { return op.inputs }

// Outputs returns the variables the operation produces, in the order they
// were added. The returned slice is owned by the node and must not be
// modified.
func (op *OpNode) Outputs() []*VarNode { return op.outputs }

// AddInput appends v to the operation's inputs and registers the operation
// as pending on v. It returns op to allow chaining.
func (op *OpNode) AddInput(v *VarNode) *OpNode {
	op.inputs = append(op.inputs, v)
	v.addPending(op)
	return op
}

// AddOutput appends v to the operation's outputs and records op as its
// generating operation. A variable has at most one generating operation, so
// adding a variable that is already generated elsewhere panics.
func (op *OpNode) AddOutput(v *VarNode) *OpNode {
	if v.generatedBy != nil {
		exceptions.Panicf("variable %s is already generated by %s, it cannot also be generated by %s",
			v, v.generatedBy, op)
	}
	v.generatedBy = op
	op.outputs = append(op.outputs, v)
	return op
}

// String formats the node as role(name)@dN, dropping the device suffix when
// there is none.
func (op *OpNode) String() string {
	if op.device == DeviceUndefined {
		return fmt.Sprintf("%s(%s)", op.role, op.name)
	}
	return fmt.Sprintf("%s(%s)@d%d", op.role, op.name, op.device)
}

// VarNode is a variable node of a plan: one version of a named value on one
// device, or an anonymous dependency-only variable whose sole purpose is to
// order its generating operation before its pending operations.
//
// A variable records at most one generating operation (the operation that
// writes it) and any number of pending operations (the operations that read
// it). Wiring happens through OpNode.AddInput and OpNode.AddOutput.
type VarNode struct {
	owned
	name    string
	device  DeviceIndex
	version int
	dep     bool

	generatedBy *OpNode
	pendingOps  []*OpNode
}

// NewVar creates a named variable node: the given version of the variable
// name, living on the given device.
func NewVar(name string, device DeviceIndex, version int) *VarNode {
	return &VarNode{name: name, device: device, version: version}
}

var depVarCount atomic.Int64

// NewDepVar creates a dependency-only variable node: it carries no data and
// no device, only the ordering edge between its generating and pending
// operations. Dependency variables are named dep_var@N with N unique within
// the process.
func NewDepVar() *VarNode {
	return &VarNode{
		name:   fmt.Sprintf("dep_var@%d", depVarCount.Add(1)-1),
		device: DeviceUndefined,
		dep:    true,
	}
}

// Name implements Node.
func (v *VarNode) Name() string { return v.name }

// Device returns the device the variable lives on. It is DeviceUndefined for
// dependency-only variables.
func (v *VarNode) Device() DeviceIndex { return v.device }

// Version says which version of the named variable this node is: every
// operation writing a name produces a new version of it.
func (v *VarNode) Version() int { return v.version }

// IsDependency reports whether v is an anonymous dependency-only variable.
func (v *VarNode) IsDependency() bool { return v.dep }

// GeneratedBy returns the operation that produces v, or nil if v is
// externally provided (a graph input or preexisting state).
func (v *VarNode) GeneratedBy() *OpNode { return v.generatedBy }

// PendingOps returns the operations that read v, in the order they were
// wired and without duplicates. The returned slice is owned by the node and
// must not be modified.
func (v *VarNode) PendingOps() []*OpNode { return v.pendingOps }

func (v *VarNode) addPending(op *OpNode) {
	if slices.Contains(v.pendingOps, op) {
		return
	}
	v.pendingOps = append(v.pendingOps, op)
}

// String formats named variables as name@dN:vK and dependency variables as
// their unique name.
func (v *VarNode) String() string {
	if v.dep {
		return v.name
	}
	if v.device == DeviceUndefined {
		return fmt.Sprintf("%s:v%d", v.name, v.version)
	}
	return fmt.Sprintf("%s@d%d:v%d", v.name, v.device, v.version)
}
