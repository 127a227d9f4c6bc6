// Package plan defines the execution-plan graph of a compiled program: the
// operation and variable nodes an execution engine schedules, plus the typed
// graph-level attributes that carry the plan's bookkeeping.
//
// A Graph is usually built from a program descriptor with FromProgram, which
// replicates the program's main block once per execution device. Operation
// nodes (OpNode) each represent one executable step and carry a role and,
// where the role supports one, the index of the device they are bound to.
// Variable nodes (VarNode) represent either one version of a named value on
// one device, or an anonymous dependency used purely to order two operations.
//
// A Graph owns its nodes exclusively: a node belongs to at most one graph at
// a time, and moving a node is done as dst.AddNode(src.RemoveNode(n)), so a
// node is never reachable from two graphs. Package partition relies on this
// to tear a multi-device plan into independent per-device plans without
// copying nodes.
package plan

import "fmt"

// DeviceIndex identifies the execution device (and its variable scope) an
// entity is bound to. Devices are numbered from 0.
type DeviceIndex int

// DeviceUndefined is the DeviceIndex of entities that are not bound to any
// single device.
const DeviceUndefined = DeviceIndex(-1)

// NodeRole classifies operation nodes. It is a closed set: consumers switch
// over the role instead of inspecting the node's payload.
type NodeRole int

const (
	// RoleCompute runs the operation described by the node's program.OpDesc.
	RoleCompute NodeRole = iota

	// RoleDeletion frees the variables of one device that are no longer
	// referenced.
	RoleDeletion

	// RoleBufferShare aliases the buffer of one variable into another on the
	// same device, to reuse memory in place.
	RoleBufferShare

	// RoleGeneric covers operation nodes that carry no device of their own.
	RoleGeneric
)

// String implements fmt.Stringer.
func (r NodeRole) String() string {
	switch r {
	case RoleCompute:
		return "compute"
	case RoleDeletion:
		return "deletion"
	case RoleBufferShare:
		return "buffer_share"
	case RoleGeneric:
		return "generic"
	}
	return fmt.Sprintf("NodeRole(%d)", int(r))
}
