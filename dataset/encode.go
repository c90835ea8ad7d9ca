package dataset

import (
	"fmt"

	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/model"
)

// Encode builds the record for one solved scenario. net is the perturbed
// topology the solver saw; out carries the operating point and metadata.
//
// Every table orders rows by ascending entity ID. Sender and receiver
// arrays index buses by their zero-based position in ascending bus ID
// order. Entities the solution does not mention, such as out-of-service
// equipment, encode as zero rows in the solution subtree.
func Encode(net *model.Network, out *core.SolveOutcome) (*Record, error) {
	if net == nil {
		return nil, fmt.Errorf("dataset.Encode: nil network")
	}
	if out == nil || out.Solution == nil {
		return nil, fmt.Errorf("dataset.Encode: scenario %d has no solution", scenarioIDOf(out))
	}

	busIndex := net.BusIndex()
	lines, transformers := splitBranches(net)

	grid := &Grid{
		Nodes:   encodeNodes(net),
		Context: &GridContext{BaseMVA: float32(net.BaseMVA)},
		Edges: &GridEdges{
			ACLine:        encodeBranchGroup(lines, busIndex, ACLineCols, false),
			Transformer:   encodeBranchGroup(transformers, busIndex, TransformerCols, true),
			GeneratorLink: encodeAttachmentLinks(generatorBuses(net), busIndex),
			LoadLink:      encodeAttachmentLinks(loadBuses(net), busIndex),
		},
	}
	if len(net.Shunts()) > 0 {
		grid.Edges.ShuntLink = encodeAttachmentLinks(shuntBuses(net), busIndex)
	}

	sol := &Solution{
		Nodes: &SolutionNodes{
			Bus:       encodeBusSolution(net, out.Solution),
			Generator: encodeGenSolution(net, out.Solution),
		},
		Edges: &SolutionEdges{
			ACLine:      &SolutionEdge{Features: encodeFlowTable(lines, out.Solution)},
			Transformer: &SolutionEdge{Features: encodeFlowTable(transformers, out.Solution)},
		},
	}

	return &Record{
		Grid:     grid,
		Solution: sol,
		Metadata: &Metadata{
			ScenarioID:      int32(out.ScenarioID),
			Objective:       float32(out.Objective),
			SolveTime:       float32(out.SolveTime.Seconds()),
			Status:          string(out.Status),
			TotalPowerSlack: float32(out.PowerSlack),
			TotalLineSlack:  float32(out.LineSlack),
		},
	}, nil
}

func scenarioIDOf(out *core.SolveOutcome) int {
	if out == nil {
		return 0
	}
	return out.ScenarioID
}

// splitBranches partitions branches into plain AC lines and transformers,
// each in ascending ID order.
func splitBranches(net *model.Network) (lines, transformers []*model.Branch) {
	for _, br := range net.Branches() {
		if br.IsTransformer() {
			transformers = append(transformers, br)
		} else {
			lines = append(lines, br)
		}
	}
	return lines, transformers
}

func encodeNodes(net *model.Network) *GridNodes {
	bus := NewTable(BusCols)
	for _, b := range net.Buses() {
		bus.AppendRow(
			float32(b.VMin), float32(b.VMax),
			float32(b.Zone), float32(b.Area), float32(b.Type),
		)
	}

	gen := NewTable(GeneratorCols)
	for _, g := range net.Generators() {
		gen.AppendRow(
			float32(g.PMax), float32(g.PMin), float32(g.QMax), float32(g.QMin),
			float32(g.CostC2), float32(g.CostC1), float32(g.CostC0),
			float32(g.VSetpoint), float32(g.MBase), boolAsFeature(g.InService),
		)
	}

	load := NewTable(LoadCols)
	for _, l := range net.Loads() {
		load.AppendRow(float32(l.PD), float32(l.QD))
	}

	nodes := &GridNodes{Bus: bus, Generator: gen, Load: load}
	if shunts := net.Shunts(); len(shunts) > 0 {
		tbl := NewTable(ShuntCols)
		for _, s := range shunts {
			tbl.AppendRow(float32(s.GS), float32(s.BS))
		}
		nodes.Shunt = tbl
	}
	return nodes
}

func encodeBranchGroup(branches []*model.Branch, busIndex map[int]int, cols []string, transformer bool) *EdgeGroup {
	g := &EdgeGroup{
		Senders:   make([]int32, 0, len(branches)),
		Receivers: make([]int32, 0, len(branches)),
		Features:  NewTable(cols),
	}
	for _, br := range branches {
		g.Senders = append(g.Senders, int32(busIndex[br.From]))
		g.Receivers = append(g.Receivers, int32(busIndex[br.To]))
		row := []float32{
			float32(br.AngMin), float32(br.AngMax),
			float32(br.R), float32(br.X),
			float32(br.BFrom), float32(br.BTo),
			float32(br.RateA), float32(br.RateB), float32(br.RateC),
			boolAsFeature(br.InService),
		}
		if transformer {
			row = append(row, float32(br.Tap), float32(br.Shift))
		}
		g.Features.AppendRow(row...)
	}
	return g
}

// encodeAttachmentLinks encodes entity-to-bus incidence: sender i is the
// entity's position in its own class, receiver i the position of its bus.
func encodeAttachmentLinks(buses []int, busIndex map[int]int) *EdgeGroup {
	g := &EdgeGroup{
		Senders:   make([]int32, 0, len(buses)),
		Receivers: make([]int32, 0, len(buses)),
	}
	for i, bus := range buses {
		g.Senders = append(g.Senders, int32(i))
		g.Receivers = append(g.Receivers, int32(busIndex[bus]))
	}
	return g
}

func generatorBuses(net *model.Network) []int {
	out := make([]int, 0, len(net.Generators()))
	for _, g := range net.Generators() {
		out = append(out, g.Bus)
	}
	return out
}

func loadBuses(net *model.Network) []int {
	out := make([]int, 0, len(net.Loads()))
	for _, l := range net.Loads() {
		out = append(out, l.Bus)
	}
	return out
}

func shuntBuses(net *model.Network) []int {
	out := make([]int, 0, len(net.Shunts()))
	for _, s := range net.Shunts() {
		out = append(out, s.Bus)
	}
	return out
}

func encodeBusSolution(net *model.Network, sol *model.Solution) *Table {
	tbl := NewTable(BusSolutionCols)
	for _, id := range net.BusIDs() {
		st := sol.Bus[id]
		tbl.AppendRow(float32(st.Va), float32(st.Vm))
	}
	return tbl
}

func encodeGenSolution(net *model.Network, sol *model.Solution) *Table {
	tbl := NewTable(GenSolutionCols)
	for _, id := range net.GeneratorIDs() {
		d := sol.Generator[id]
		tbl.AppendRow(float32(d.Pg), float32(d.Qg))
	}
	return tbl
}

func encodeFlowTable(branches []*model.Branch, sol *model.Solution) *Table {
	tbl := NewTable(BranchSolutionCols)
	for _, br := range branches {
		f := sol.Branch[br.ID]
		tbl.AppendRow(float32(f.PFrom), float32(f.QFrom), float32(f.PTo), float32(f.QTo))
	}
	return tbl
}

func boolAsFeature(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
