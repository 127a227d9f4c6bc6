package partition

import (
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/plan"
	"github.com/gomlx/execplan/program"
)

const (
	readOpType   = "read"
	dropLastAttr = "drop_last"
)

func hasReadOpWithDropLast(g *plan.Graph, dropLast bool) bool {
	for _, op := range g.Ops() {
		if op.Role() != plan.RoleCompute || op.Op().Type() != readOpType {
			continue
		}
		if program.Attr[bool](op.Op(), dropLastAttr) == dropLast {
			klog.V(2).Infof("the plan has a drop_last=%v read op", dropLast)
			return true
		}
	}
	klog.V(2).Infof("the plan has no drop_last=%v read op", dropLast)
	return false
}

// HasDropLastRead reports whether the plan has a read operation that drops
// the last, incomplete batch of its dataset. Read operations must carry the
// drop_last attribute.
func HasDropLastRead(g *plan.Graph) bool { return hasReadOpWithDropLast(g, true) }

// HasKeepLastRead reports whether the plan has a read operation that keeps
// the last, incomplete batch of its dataset.
func HasKeepLastRead(g *plan.Graph) bool { return hasReadOpWithDropLast(g, false) }
