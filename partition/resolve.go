package partition

import (
	"slices"

	"github.com/gomlx/execplan/plan"
)

// scopeDevice returns the device index intrinsic to the operation's role, or
// DeviceUndefined when the role carries none. A compute operation whose type
// is in the registry is never bound to a single device, whatever index its
// node carries.
func (p *Partitioner) scopeDevice(op *plan.OpNode) plan.DeviceIndex {
	switch op.Role() {
	case plan.RoleCompute:
		if p.registry.Has(op.Op().Type()) {
			return plan.DeviceUndefined
		}
		return op.Device()
	case plan.RoleDeletion, plan.RoleBufferShare:
		return op.Device()
	default:
		return plan.DeviceUndefined
	}
}

// ResolveDevice returns the unique device op is bound to, or DeviceUndefined
// if none can be determined. The role-intrinsic device must agree with the
// device of every named variable the operation reads or writes; dependency
// variables carry no device and are skipped.
func (p *Partitioner) ResolveDevice(op *plan.OpNode) plan.DeviceIndex {
	dev := p.scopeDevice(op)
	if dev == plan.DeviceUndefined {
		return plan.DeviceUndefined
	}
	for _, v := range slices.Concat(op.Inputs(), op.Outputs()) {
		if v.IsDependency() {
			continue
		}
		if v.Device() != dev {
			return plan.DeviceUndefined
		}
	}
	return dev
}
