// chunkcat prints the contents of scenario chunk files for quick
// inspection without pulling them into a training pipeline.
//
//	chunkcat file.msgpack               one summary line per scenario
//	chunkcat -structure file.msgpack    table layout with shapes and dtypes
//	chunkcat -scenario 12 file.msgpack  full dump of one record
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gridsignal/scenariogen/dataset"
)

func main() {
	structure := flag.Bool("structure", false, "print the table layout instead of the summary")
	scenario := flag.Int("scenario", 0, "dump every value of the given scenario ID")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: chunkcat [-structure | -scenario N] file.msgpack ...")
		os.Exit(2)
	}

	for _, path := range flag.Args() {
		cf, err := dataset.ReadChunk(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chunkcat: %s: %v\n", path, err)
			os.Exit(1)
		}

		switch {
		case *scenario > 0:
			if err := printScenario(cf, *scenario); err != nil {
				fmt.Fprintf(os.Stderr, "chunkcat: %s: %v\n", path, err)
				os.Exit(1)
			}
		case *structure:
			printStructure(path, cf)
		default:
			printSummary(path, cf)
		}
	}
}

func printSummary(path string, cf *dataset.ChunkFile) {
	fmt.Printf("%s: %d scenarios\n", path, cf.NScenarios)
	for _, key := range cf.Keys() {
		rec := cf.Scenarios[key]
		md := rec.Metadata
		fmt.Printf("  %s  status=%-10s objective=%12.4f  solve=%6.3fs  slack_p=%8.3f  slack_l=%8.3f  demand=%8.2f MW\n",
			key, md.Status, md.Objective, md.SolveTime, md.TotalPowerSlack, md.TotalLineSlack,
			sumColumn(rec.Grid.Nodes.Load, 0),
		)
	}
}

func printStructure(path string, cf *dataset.ChunkFile) {
	fmt.Println(path)
	fmt.Printf("  n_scenarios: %d\n", cf.NScenarios)
	keys := cf.Keys()
	if len(keys) == 0 {
		return
	}

	// All records in a chunk share one layout; show the first.
	rec := cf.Scenarios[keys[0]]
	fmt.Printf("  %s\n", keys[0])
	fmt.Printf("    %-30s baseMVA=%g\n", "grid/context", rec.Grid.Context.BaseMVA)
	printTableShape("grid/nodes/bus", rec.Grid.Nodes.Bus)
	printTableShape("grid/nodes/generator", rec.Grid.Nodes.Generator)
	printTableShape("grid/nodes/load", rec.Grid.Nodes.Load)
	printTableShape("grid/nodes/shunt", rec.Grid.Nodes.Shunt)
	printEdgeShape("grid/edges/ac_line", rec.Grid.Edges.ACLine)
	printEdgeShape("grid/edges/transformer", rec.Grid.Edges.Transformer)
	printEdgeShape("grid/edges/generator_link", rec.Grid.Edges.GeneratorLink)
	printEdgeShape("grid/edges/load_link", rec.Grid.Edges.LoadLink)
	printEdgeShape("grid/edges/shunt_link", rec.Grid.Edges.ShuntLink)
	printTableShape("solution/nodes/bus", rec.Solution.Nodes.Bus)
	printTableShape("solution/nodes/generator", rec.Solution.Nodes.Generator)
	printSolutionEdgeShape("solution/edges/ac_line", rec.Solution.Edges.ACLine)
	printSolutionEdgeShape("solution/edges/transformer", rec.Solution.Edges.Transformer)
}

func printTableShape(name string, t *dataset.Table) {
	if t == nil {
		fmt.Printf("    %-30s (absent)\n", name)
		return
	}
	fmt.Printf("    %-30s [%d x %d] float32  cols: %s\n",
		name, t.Rows(), len(t.Cols), strings.Join(t.Cols, ", "))
}

func printEdgeShape(name string, g *dataset.EdgeGroup) {
	if g == nil {
		fmt.Printf("    %-30s (absent)\n", name)
		return
	}
	fmt.Printf("    %-30s senders[%d] receivers[%d] int32\n", name, len(g.Senders), len(g.Receivers))
	if g.Features != nil {
		printTableShape(name+"/features", g.Features)
	}
}

func printSolutionEdgeShape(name string, e *dataset.SolutionEdge) {
	if e == nil {
		fmt.Printf("    %-30s (absent)\n", name)
		return
	}
	printTableShape(name, e.Features)
}

func printScenario(cf *dataset.ChunkFile, id int) error {
	key := dataset.ScenarioKey(id)
	rec, ok := cf.Scenarios[key]
	if !ok {
		return fmt.Errorf("no %s in this chunk (have: %s)", key, strings.Join(cf.Keys(), ", "))
	}

	md := rec.Metadata
	fmt.Printf("%s  status=%s  objective=%g  solve=%gs  slack_p=%g  slack_l=%g\n",
		key, md.Status, md.Objective, md.SolveTime, md.TotalPowerSlack, md.TotalLineSlack)
	fmt.Printf("grid/context  baseMVA=%g\n", rec.Grid.Context.BaseMVA)

	dumpTable("grid/nodes/bus", rec.Grid.Nodes.Bus)
	dumpTable("grid/nodes/generator", rec.Grid.Nodes.Generator)
	dumpTable("grid/nodes/load", rec.Grid.Nodes.Load)
	dumpTable("grid/nodes/shunt", rec.Grid.Nodes.Shunt)
	dumpEdges("grid/edges/ac_line", rec.Grid.Edges.ACLine)
	dumpEdges("grid/edges/transformer", rec.Grid.Edges.Transformer)
	dumpEdges("grid/edges/generator_link", rec.Grid.Edges.GeneratorLink)
	dumpEdges("grid/edges/load_link", rec.Grid.Edges.LoadLink)
	dumpEdges("grid/edges/shunt_link", rec.Grid.Edges.ShuntLink)
	dumpTable("solution/nodes/bus", rec.Solution.Nodes.Bus)
	dumpTable("solution/nodes/generator", rec.Solution.Nodes.Generator)
	if rec.Solution.Edges.ACLine != nil {
		dumpTable("solution/edges/ac_line", rec.Solution.Edges.ACLine.Features)
	}
	if rec.Solution.Edges.Transformer != nil {
		dumpTable("solution/edges/transformer", rec.Solution.Edges.Transformer.Features)
	}
	return nil
}

func dumpTable(name string, t *dataset.Table) {
	if t == nil {
		return
	}
	fmt.Printf("%s  cols: %s\n", name, strings.Join(t.Cols, ", "))
	for i := 0; i < t.Rows(); i++ {
		fmt.Printf("  [%3d] %v\n", i, t.Row(i))
	}
}

func dumpEdges(name string, g *dataset.EdgeGroup) {
	if g == nil {
		return
	}
	fmt.Printf("%s\n", name)
	fmt.Printf("  senders:   %v\n", g.Senders)
	fmt.Printf("  receivers: %v\n", g.Receivers)
	if g.Features != nil {
		dumpTable(name+"/features", g.Features)
	}
}

func sumColumn(t *dataset.Table, col int) float64 {
	if t == nil || col >= len(t.Cols) {
		return 0
	}
	var sum float64
	for i := 0; i < t.Rows(); i++ {
		sum += float64(t.Row(i)[col])
	}
	return sum
}
