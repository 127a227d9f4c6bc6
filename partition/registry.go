package partition

import (
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types"
	"github.com/gomlx/execplan/types/xslices"
)

// Registry is an immutable set of operation type names that communicate
// across devices. Such operations create dependencies between devices that
// cannot be honored once a plan is torn into disjoint per-device pieces, so
// their presence anywhere in a program vetoes separation.
type Registry struct {
	ops types.Set[string]
}

// NewRegistry creates a registry of the given operation type names.
func NewRegistry(opTypes ...string) *Registry {
	return &Registry{ops: types.SetWith(opTypes...)}
}

// defaultRegistry covers collective reductions, gathers and broadcasts,
// communicator setup, point-to-point transfers and their barriers.
var defaultRegistry = NewRegistry(
	"sync_batch_norm",
	"sync_batch_norm_grad",
	"all_reduce",
	"all_reduce_sum",
	"all_reduce_prod",
	"all_reduce_min",
	"all_reduce_max",
	"all_gather",
	"reduce_scatter",
	"collective_broadcast",
	"comm_init",
	"comm_init_all",
	"gen_comm_id",
	"sync_comm_stream",
	"send",
	"recv",
	"send_barrier",
	"fetch_barrier",
)

// Default returns the built-in registry of cross-device operation types.
func Default() *Registry { return defaultRegistry }

// Has reports whether opType is a cross-device operation type.
func (r *Registry) Has(opType string) bool { return r.ops.Has(opType) }

// OpTypes returns the registry's operation type names, sorted.
func (r *Registry) OpTypes() []string { return xslices.SortedKeys(r.ops) }

// HasMultiDeviceOp reports whether any block of prog at or after fromBlock
// has an operation whose type is in the registry. A nil program has no
// operations; a negative fromBlock scans from the main block.
func (r *Registry) HasMultiDeviceOp(prog *program.ProgramDesc, fromBlock int) bool {
	if prog == nil {
		return false
	}
	for blockIdx := max(fromBlock, 0); blockIdx < prog.NumBlocks(); blockIdx++ {
		for _, op := range prog.Block(blockIdx).Ops() {
			if r.Has(op.Type()) {
				klog.V(2).Infof("block %d has cross-device op %q", blockIdx, op.Type())
				return true
			}
		}
	}
	return false
}
