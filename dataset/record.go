// Package dataset turns solved scenarios into the chunked graph-tensor
// container consumed by model-training pipelines.
//
// Each chunk file holds one record per successful scenario. A record is a
// small tree: a grid subtree with the pre-solve topology encoded as typed
// float32 feature tables plus sender/receiver incidence arrays, a solution
// subtree with the post-solve operating point in the same row order, and
// scalar metadata. Row order is always ascending entity ID, never insertion
// order, so row i of a grid table and row i of the matching solution table
// describe the same entity.
package dataset

import "fmt"

// Column layouts, fixed per table class. Readers rely on these orders.
var (
	BusCols       = []string{"vmin", "vmax", "zone", "area", "bus_type"}
	GeneratorCols = []string{"pmax", "pmin", "qmax", "qmin", "cost_c2", "cost_c1", "cost_c0", "vg", "mbase", "status"}
	LoadCols      = []string{"pd", "qd"}
	ShuntCols     = []string{"gs", "bs"}

	ACLineCols      = []string{"angmin", "angmax", "br_r", "br_x", "b_fr", "b_to", "rate_a", "rate_b", "rate_c", "br_status"}
	TransformerCols = []string{"angmin", "angmax", "br_r", "br_x", "b_fr", "b_to", "rate_a", "rate_b", "rate_c", "br_status", "tap", "shift"}

	BusSolutionCols    = []string{"va", "vm"}
	GenSolutionCols    = []string{"pg", "qg"}
	BranchSolutionCols = []string{"pf", "qf", "pt", "qt"}
)

// Table is a dense row-major float32 matrix with named columns. A table with
// zero rows still carries its column names so readers learn the width.
type Table struct {
	Cols   []string  `msgpack:"cols"`
	Values []float32 `msgpack:"values"`
}

// NewTable creates an empty table with the given column layout.
func NewTable(cols []string) *Table {
	return &Table{Cols: cols, Values: []float32{}}
}

// Rows returns the number of complete rows stored.
func (t *Table) Rows() int {
	if len(t.Cols) == 0 {
		return 0
	}
	return len(t.Values) / len(t.Cols)
}

// AppendRow adds one row. The value count must match the column count;
// anything else is a programming error in the encoder.
func (t *Table) AppendRow(vals ...float32) {
	if len(vals) != len(t.Cols) {
		panic(fmt.Sprintf("dataset: row width %d does not match %d columns", len(vals), len(t.Cols)))
	}
	t.Values = append(t.Values, vals...)
}

// Row returns row i as a slice view into the table's backing storage.
func (t *Table) Row(i int) []float32 {
	w := len(t.Cols)
	return t.Values[i*w : (i+1)*w]
}

// EdgeGroup holds one edge class: zero-based sender and receiver bus
// positions plus an optional feature table. Incidence-only pseudo edges
// (generator_link, load_link, shunt_link) carry no features.
type EdgeGroup struct {
	Senders   []int32 `msgpack:"senders"`
	Receivers []int32 `msgpack:"receivers"`
	Features  *Table  `msgpack:"features,omitempty"`
}

// SolutionEdge wraps a flow feature table. Senders and receivers are
// implied by the grid subtree's edge group of the same name.
type SolutionEdge struct {
	Features *Table `msgpack:"features"`
}

// GridNodes carries one feature table per node class. Shunt is nil when the
// network has no shunts; readers treat absent and zero-row as equivalent.
type GridNodes struct {
	Bus       *Table `msgpack:"bus"`
	Generator *Table `msgpack:"generator"`
	Load      *Table `msgpack:"load"`
	Shunt     *Table `msgpack:"shunt,omitempty"`
}

// GridContext carries system-wide scalars.
type GridContext struct {
	BaseMVA float32 `msgpack:"baseMVA"`
}

// GridEdges carries the two branch subtypes plus the incidence pseudo edges.
type GridEdges struct {
	ACLine        *EdgeGroup `msgpack:"ac_line"`
	Transformer   *EdgeGroup `msgpack:"transformer"`
	GeneratorLink *EdgeGroup `msgpack:"generator_link"`
	LoadLink      *EdgeGroup `msgpack:"load_link"`
	ShuntLink     *EdgeGroup `msgpack:"shunt_link,omitempty"`
}

// Grid is the pre-solve topology subtree, load values already perturbed.
type Grid struct {
	Nodes   *GridNodes   `msgpack:"nodes"`
	Context *GridContext `msgpack:"context"`
	Edges   *GridEdges   `msgpack:"edges"`
}

// SolutionNodes carries post-solve bus and generator tables.
type SolutionNodes struct {
	Bus       *Table `msgpack:"bus"`
	Generator *Table `msgpack:"generator"`
}

// SolutionEdges carries post-solve branch flows split by subtype.
type SolutionEdges struct {
	ACLine      *SolutionEdge `msgpack:"ac_line"`
	Transformer *SolutionEdge `msgpack:"transformer"`
}

// Solution is the post-solve subtree.
type Solution struct {
	Nodes *SolutionNodes `msgpack:"nodes"`
	Edges *SolutionEdges `msgpack:"edges"`
}

// Metadata carries per-scenario scalar attributes.
type Metadata struct {
	ScenarioID      int32   `msgpack:"scenario_id"`
	Objective       float32 `msgpack:"objective"`
	SolveTime       float32 `msgpack:"solve_time"`
	Status          string  `msgpack:"status"`
	TotalPowerSlack float32 `msgpack:"total_power_slack"`
	TotalLineSlack  float32 `msgpack:"total_line_slack"`
}

// Record is one encoded scenario.
type Record struct {
	Grid     *Grid     `msgpack:"grid"`
	Solution *Solution `msgpack:"solution"`
	Metadata *Metadata `msgpack:"metadata"`
}

// ScenarioKey names a scenario group inside a chunk file.
func ScenarioKey(scenarioID int) string {
	return fmt.Sprintf("scenario_%06d", scenarioID)
}

// ChunkFileName names the container file for a 1-based chunk index.
func ChunkFileName(chunkIndex int) string {
	return fmt.Sprintf("chunk_%04d.msgpack", chunkIndex)
}
