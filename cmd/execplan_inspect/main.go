// execplan_inspect renders a program descriptor file and the execution plan
// built from it: program and plan summaries, per-device op and variable
// listings, and the verdict of the single-device partition pass.
//
// Usage:
//
//	execplan_inspect [flags] <program.json>
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/partition"
	"github.com/gomlx/execplan/plan"
	"github.com/gomlx/execplan/program"
	"github.com/gomlx/execplan/types/xslices"
)

var (
	flagDevices = flag.Int("devices", 2, "Number of devices to replicate the program over when building the plan.")

	flagSummary   = flag.Bool("summary", false, "Displays a summary of the program and of the plan built from it.")
	flagOps       = flag.Bool("ops", false, "Lists the plan's operation nodes with their devices and edges.")
	flagVars      = flag.Bool("vars", false, "Lists the plan's named variables and their versions, per device.")
	flagPartition = flag.Bool("partition", false, "Runs the partition pass on the plan and reports the outcome.")
	flagRegistry  = flag.Bool("registry", false, "Lists the op types that veto partitioning.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing program file to inspect. See 'execplan_inspect -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'execplan_inspect -help'.")
		os.Exit(1)
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(programPath string) {
	prog := must.M1(program.Load(programPath))
	g := must.M1(plan.FromProgram(prog, *flagDevices))

	if *flagSummary {
		summary(programPath, prog, g)
	}
	if *flagOps {
		listOps(g)
	}
	if *flagVars {
		listVars(g)
	}
	if *flagRegistry {
		listRegistry()
	}
	// TrySeparate drains the plan on success, so it renders last.
	if *flagPartition {
		reportPartition(g)
	}
}

func summary(programPath string, prog *program.ProgramDesc, g *plan.Graph) {
	fmt.Println(titleStyle.Render("Summary"))
	var numOps, numVars int
	for blockIdx := 0; blockIdx < prog.NumBlocks(); blockIdx++ {
		block := prog.Block(blockIdx)
		numOps += len(block.Ops())
		numVars += len(block.VarNames())
	}
	table := newPlainTable(false)
	table.Row("program", programPath)
	table.Row("# blocks", humanize.Comma(int64(prog.NumBlocks())))
	table.Row("# ops", humanize.Comma(int64(numOps)))
	table.Row("# declared vars", humanize.Comma(int64(numVars)))
	table.Row("# devices", humanize.Comma(int64(*flagDevices)))
	table.Row("# plan op nodes", humanize.Comma(int64(len(g.Ops()))))
	table.Row("# plan var nodes", humanize.Comma(int64(len(g.VarNodes()))))
	table.Row("drop_last read", fmt.Sprintf("%v", partition.HasDropLastRead(g)))
	fmt.Println(table.Render())
}

func listOps(g *plan.Graph) {
	fmt.Println(titleStyle.Render("Operation Nodes"))
	table := newPlainTable(true)
	table.Row("Device", "Role", "Type", "Inputs", "Outputs", "Attributes")
	for _, op := range g.Ops() {
		table.Row(deviceLabel(op.Device()), op.Role().String(), op.Name(),
			varNames(op.Inputs()), varNames(op.Outputs()), attrLabel(op))
	}
	fmt.Println(table.Render())
}

func listVars(g *plan.Graph) {
	fmt.Println(titleStyle.Render("Variable Nodes"))
	table := newPlainTable(true)
	table.Row("Device", "Name", "Versions", "Generated By", "Pending Ops")
	graphVars := plan.GetAttr[plan.GraphVars](g, plan.AttrVars)
	for dev, varTable := range graphVars {
		for _, name := range xslices.SortedKeys(varTable) {
			versions := varTable[name]
			last := xslices.Last(versions)
			genName := "-"
			if gen := last.GeneratedBy(); gen != nil {
				genName = gen.Name()
			}
			table.Row(fmt.Sprintf("d%d", dev), name,
				humanize.Comma(int64(len(versions))), genName,
				humanize.Comma(int64(len(last.PendingOps()))))
		}
	}
	fmt.Println(table.Render())
}

func listRegistry() {
	fmt.Println(titleStyle.Render("Cross-Device Op Types"))
	table := newPlainTable(false)
	for _, opType := range partition.Default().OpTypes() {
		table.Row(opType)
	}
	fmt.Println(table.Render())
}

func reportPartition(g *plan.Graph) {
	fmt.Println(titleStyle.Render("Partition"))
	subgraphs := partition.TrySeparateByDevice(g)
	table := newPlainTable(false)
	if subgraphs == nil {
		table.Row("verdict", "not separated (run the plan as a whole)")
	} else {
		table.Row("verdict", fmt.Sprintf("separated into %d single-device plans", len(subgraphs)))
		for dev, sub := range subgraphs {
			table.Row(fmt.Sprintf("plan d%d", dev),
				fmt.Sprintf("%s op node(s), %s variable node(s)",
					humanize.Comma(int64(len(sub.Ops()))),
					humanize.Comma(int64(len(sub.VarNodes())))))
		}
	}
	fmt.Println(table.Render())
}

func varNames(vars []*plan.VarNode) string {
	return strings.Join(xslices.Map(vars, (*plan.VarNode).String), ", ")
}

// attrLabel renders a compute op's attributes as "name=value" pairs.
// Non-compute roles carry no descriptor.
func attrLabel(op *plan.OpNode) string {
	desc := op.Op()
	if desc == nil {
		return "-"
	}
	attrs := desc.Attrs()
	if len(attrs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(attrs))
	for _, name := range xslices.SortedKeys(attrs) {
		parts = append(parts, fmt.Sprintf("%s=%v", name, attrs[name]))
	}
	return strings.Join(parts, ", ")
}

func deviceLabel(dev plan.DeviceIndex) string {
	if dev == plan.DeviceUndefined {
		return "-"
	}
	return fmt.Sprintf("d%d", dev)
}
