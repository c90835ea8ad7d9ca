package dataset

import (
	"testing"
	"time"

	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/model"
)

// encodeFixture builds a network with deliberately non-contiguous IDs so
// position-based indexing cannot be confused with ID-based indexing, plus
// a solved outcome for it. Bus positions: 2 -> 0, 4 -> 1, 7 -> 2.
func encodeFixture(t *testing.T) (*model.Network, *core.SolveOutcome) {
	t.Helper()
	net := model.NewNetwork("fixture", 100)
	add := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("building fixture: %v", err)
		}
	}
	add(net.AddBus(&model.Bus{ID: 2, Type: model.BusRef, VMin: 0.9, VMax: 1.1, Zone: 1, Area: 1}))
	add(net.AddBus(&model.Bus{ID: 4, Type: model.BusPQ, VMin: 0.9, VMax: 1.1, Zone: 1, Area: 1}))
	add(net.AddBus(&model.Bus{ID: 7, Type: model.BusPQ, VMin: 0.9, VMax: 1.1, Zone: 2, Area: 1}))

	add(net.AddGenerator(&model.Generator{
		ID: 3, Bus: 2, PMax: 200, CostC2: 0.01, CostC1: 20,
		VSetpoint: 1.0, MBase: 100, InService: true,
	}))
	add(net.AddGenerator(&model.Generator{
		ID: 8, Bus: 4, PMax: 100, CostC1: 25,
		VSetpoint: 1.0, MBase: 100, InService: false,
	}))

	add(net.AddLoad(&model.Load{ID: 1, Bus: 7, PD: 70, QD: 20}))
	add(net.AddLoad(&model.Load{ID: 6, Bus: 4, PD: 30, QD: 10}))

	add(net.AddShunt(&model.Shunt{ID: 5, Bus: 7, BS: 4}))

	add(net.AddBranch(&model.Branch{ID: 10, From: 2, To: 4, X: 0.1, RateA: 120, Tap: 1, InService: true}))
	add(net.AddBranch(&model.Branch{ID: 11, From: 4, To: 7, X: 0.2, RateA: 80, Tap: 1.05, InService: true}))
	add(net.AddBranch(&model.Branch{ID: 12, From: 7, To: 2, X: 0.3, RateA: 80, Tap: 1, Shift: 0.03, InService: true}))

	sol := model.NewSolution()
	sol.Bus[2] = model.BusState{Va: 0, Vm: 1.0}
	sol.Bus[4] = model.BusState{Va: -0.01, Vm: 0.99}
	sol.Bus[7] = model.BusState{Va: -0.02, Vm: 0.98}
	sol.Generator[3] = model.Dispatch{Pg: 100, Qg: 30}
	sol.Branch[10] = model.Flow{PFrom: 55, PTo: -55}
	sol.Branch[11] = model.Flow{PFrom: 25, PTo: -25}
	sol.Branch[12] = model.Flow{PFrom: -15, PTo: 15}

	out := &core.SolveOutcome{
		ScenarioID: 42,
		Network:    net,
		Status:     model.StatusSolved,
		Objective:  1234.5,
		SolveTime:  1500 * time.Millisecond,
		Solution:   sol,
	}
	return net, out
}

func wantInt32s(t *testing.T, name string, got, want []int32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestEncodeNodeTables(t *testing.T) {
	net, out := encodeFixture(t)
	rec, err := Encode(net, out)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	nodes := rec.Grid.Nodes
	if got := nodes.Bus.Rows(); got != 3 {
		t.Fatalf("bus rows = %d, want 3", got)
	}
	// Row 0 is bus 2, the reference bus.
	if row := nodes.Bus.Row(0); row[4] != float32(model.BusRef) {
		t.Errorf("bus row 0 type = %v, want ref", row[4])
	}
	if row := nodes.Bus.Row(2); row[2] != 2 {
		t.Errorf("bus row 2 zone = %v, want 2 (bus 7)", row[2])
	}

	if got := nodes.Generator.Rows(); got != 2 {
		t.Fatalf("generator rows = %d, want 2", got)
	}
	// Generator rows ascend by ID: row 0 is gen 3, row 1 is gen 8.
	if row := nodes.Generator.Row(0); row[0] != 200 || row[9] != 1 {
		t.Errorf("gen row 0 = pmax %v status %v, want 200 in service", row[0], row[9])
	}
	if row := nodes.Generator.Row(1); row[0] != 100 || row[9] != 0 {
		t.Errorf("gen row 1 = pmax %v status %v, want 100 out of service", row[0], row[9])
	}

	// Load rows ascend by ID: load 1 then load 6, perturbed values verbatim.
	if row := nodes.Load.Row(0); row[0] != 70 || row[1] != 20 {
		t.Errorf("load row 0 = %v, want [70 20]", row)
	}
	if row := nodes.Load.Row(1); row[0] != 30 || row[1] != 10 {
		t.Errorf("load row 1 = %v, want [30 10]", row)
	}

	if nodes.Shunt == nil || nodes.Shunt.Rows() != 1 {
		t.Fatalf("shunt table missing or wrong size: %+v", nodes.Shunt)
	}
	if row := nodes.Shunt.Row(0); row[1] != 4 {
		t.Errorf("shunt row 0 bs = %v, want 4", row[1])
	}

	if rec.Grid.Context.BaseMVA != 100 {
		t.Errorf("baseMVA = %v, want 100", rec.Grid.Context.BaseMVA)
	}
}

func TestEncodeBranchSplitAndIndices(t *testing.T) {
	net, out := encodeFixture(t)
	rec, err := Encode(net, out)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	edges := rec.Grid.Edges

	// Branch 10 is the only plain line; 11 (tap) and 12 (shift) are
	// transformers. Senders and receivers are bus positions, not IDs.
	wantInt32s(t, "ac_line senders", edges.ACLine.Senders, []int32{0})
	wantInt32s(t, "ac_line receivers", edges.ACLine.Receivers, []int32{1})
	if got := len(edges.ACLine.Features.Cols); got != len(ACLineCols) {
		t.Errorf("ac_line width = %d, want %d", got, len(ACLineCols))
	}

	wantInt32s(t, "transformer senders", edges.Transformer.Senders, []int32{1, 2})
	wantInt32s(t, "transformer receivers", edges.Transformer.Receivers, []int32{2, 0})
	ft := edges.Transformer.Features
	if got := len(ft.Cols); got != len(TransformerCols) {
		t.Fatalf("transformer width = %d, want %d", got, len(TransformerCols))
	}
	// tap and shift occupy the last two columns.
	if row := ft.Row(0); row[10] != 1.05 || row[11] != 0 {
		t.Errorf("transformer row 0 tap/shift = [%v %v], want [1.05 0]", row[10], row[11])
	}
	if row := ft.Row(1); row[10] != 1 || row[11] != 0.03 {
		t.Errorf("transformer row 1 tap/shift = [%v %v], want [1 0.03]", row[10], row[11])
	}

	wantInt32s(t, "generator_link senders", edges.GeneratorLink.Senders, []int32{0, 1})
	wantInt32s(t, "generator_link receivers", edges.GeneratorLink.Receivers, []int32{0, 1})
	wantInt32s(t, "load_link senders", edges.LoadLink.Senders, []int32{0, 1})
	wantInt32s(t, "load_link receivers", edges.LoadLink.Receivers, []int32{2, 1})
	if edges.ShuntLink == nil {
		t.Fatal("shunt_link missing despite a shunt in the network")
	}
	wantInt32s(t, "shunt_link senders", edges.ShuntLink.Senders, []int32{0})
	wantInt32s(t, "shunt_link receivers", edges.ShuntLink.Receivers, []int32{2})
	if edges.GeneratorLink.Features != nil {
		t.Error("incidence links must not carry features")
	}
}

func TestEncodeSolutionAlignment(t *testing.T) {
	net, out := encodeFixture(t)
	rec, err := Encode(net, out)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sol := rec.Solution

	if g, s := rec.Grid.Nodes.Generator.Rows(), sol.Nodes.Generator.Rows(); g != s {
		t.Fatalf("generator row counts differ: grid %d, solution %d", g, s)
	}
	// Gen 3 (row 0) dispatches 100 MW; gen 8 (row 1) is out of service and
	// absent from the solution, so its row is zeros.
	if row := sol.Nodes.Generator.Row(0); row[0] != 100 || row[1] != 30 {
		t.Errorf("solution gen row 0 = %v, want [100 30]", row)
	}
	if row := sol.Nodes.Generator.Row(1); row[0] != 0 || row[1] != 0 {
		t.Errorf("solution gen row 1 = %v, want zeros", row)
	}

	if row := sol.Nodes.Bus.Row(2); row[0] != float32(-0.02) || row[1] != float32(0.98) {
		t.Errorf("solution bus row 2 = %v, want [-0.02 0.98]", row)
	}

	// Flow rows follow the grid edge split: ac_line holds branch 10,
	// transformer rows hold branches 11 and 12 in ID order.
	if row := sol.Edges.ACLine.Features.Row(0); row[0] != 55 || row[2] != -55 {
		t.Errorf("ac_line flow row = %v, want pf 55 pt -55", row)
	}
	if row := sol.Edges.Transformer.Features.Row(1); row[0] != -15 {
		t.Errorf("transformer flow row 1 pf = %v, want -15", row[0])
	}
}

func TestEncodeMetadata(t *testing.T) {
	net, out := encodeFixture(t)
	out.PowerSlack = 12.5
	out.LineSlack = 3.25
	out.Relaxed = true
	rec, err := Encode(net, out)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	md := rec.Metadata
	if md.ScenarioID != 42 {
		t.Errorf("scenario_id = %d, want 42", md.ScenarioID)
	}
	if md.Objective != 1234.5 {
		t.Errorf("objective = %v, want 1234.5", md.Objective)
	}
	if md.SolveTime != 1.5 {
		t.Errorf("solve_time = %v, want 1.5 seconds", md.SolveTime)
	}
	if md.Status != "solved" {
		t.Errorf("status = %q, want solved", md.Status)
	}
	if md.TotalPowerSlack != 12.5 || md.TotalLineSlack != 3.25 {
		t.Errorf("slacks = (%v, %v), want (12.5, 3.25)", md.TotalPowerSlack, md.TotalLineSlack)
	}
}

func TestEncodeEmptyClasses(t *testing.T) {
	// A shuntless network omits the shunt table and shunt_link entirely,
	// while an empty branch subtype still encodes a zero-row table of the
	// right width.
	net := model.NewNetwork("lean", 100)
	if err := net.AddBus(&model.Bus{ID: 1, Type: model.BusRef, VMin: 0.9, VMax: 1.1}); err != nil {
		t.Fatal(err)
	}
	if err := net.AddBus(&model.Bus{ID: 2, Type: model.BusPQ, VMin: 0.9, VMax: 1.1}); err != nil {
		t.Fatal(err)
	}
	if err := net.AddBranch(&model.Branch{ID: 1, From: 1, To: 2, X: 0.1, Tap: 1, InService: true}); err != nil {
		t.Fatal(err)
	}

	out := &core.SolveOutcome{
		ScenarioID: 1,
		Network:    net,
		Status:     model.StatusSolved,
		Solution:   model.NewSolution(),
	}
	rec, err := Encode(net, out)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if rec.Grid.Nodes.Shunt != nil {
		t.Error("shunt table should be omitted for a shuntless network")
	}
	if rec.Grid.Edges.ShuntLink != nil {
		t.Error("shunt_link should be omitted for a shuntless network")
	}

	tr := rec.Grid.Edges.Transformer
	if tr.Features.Rows() != 0 {
		t.Errorf("transformer rows = %d, want 0", tr.Features.Rows())
	}
	if got := len(tr.Features.Cols); got != len(TransformerCols) {
		t.Errorf("empty transformer table width = %d, want %d", got, len(TransformerCols))
	}
	if len(tr.Senders) != 0 || len(tr.Receivers) != 0 {
		t.Error("empty transformer group must have empty sender/receiver arrays")
	}
	if rec.Grid.Nodes.Load.Rows() != 0 {
		t.Errorf("load rows = %d, want 0", rec.Grid.Nodes.Load.Rows())
	}
	if got := len(rec.Grid.Nodes.Load.Cols); got != len(LoadCols) {
		t.Errorf("empty load table width = %d, want %d", got, len(LoadCols))
	}
}

func TestEncodeInputValidation(t *testing.T) {
	net, out := encodeFixture(t)
	if _, err := Encode(nil, out); err == nil {
		t.Error("expected an error for a nil network")
	}
	if _, err := Encode(net, nil); err == nil {
		t.Error("expected an error for a nil outcome")
	}
	out.Solution = nil
	if _, err := Encode(net, out); err == nil {
		t.Error("expected an error for an outcome without a solution")
	}
}
