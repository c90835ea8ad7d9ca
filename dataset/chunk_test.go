package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixtureRecords(t *testing.T, scenarioIDs ...int) []*Record {
	t.Helper()
	out := make([]*Record, 0, len(scenarioIDs))
	for _, id := range scenarioIDs {
		net, outcome := encodeFixture(t)
		outcome.ScenarioID = id
		rec, err := Encode(net, outcome)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func sameTable(t *testing.T, name string, got, want *Table) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Fatalf("%s: presence mismatch: got %v, want %v", name, got, want)
	}
	if got == nil {
		return
	}
	if strings.Join(got.Cols, ",") != strings.Join(want.Cols, ",") {
		t.Fatalf("%s cols = %v, want %v", name, got.Cols, want.Cols)
	}
	if len(got.Values) != len(want.Values) {
		t.Fatalf("%s has %d values, want %d", name, len(got.Values), len(want.Values))
	}
	for i := range want.Values {
		if got.Values[i] != want.Values[i] {
			t.Fatalf("%s value %d = %v, want %v", name, i, got.Values[i], want.Values[i])
		}
	}
}

func sameEdgeGroup(t *testing.T, name string, got, want *EdgeGroup) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Fatalf("%s: presence mismatch", name)
	}
	if got == nil {
		return
	}
	wantInt32s(t, name+" senders", got.Senders, want.Senders)
	wantInt32s(t, name+" receivers", got.Receivers, want.Receivers)
	if want.Features != nil {
		sameTable(t, name+" features", got.Features, want.Features)
	}
}

func sameRecord(t *testing.T, key string, got, want *Record) {
	t.Helper()
	sameTable(t, key+" grid/nodes/bus", got.Grid.Nodes.Bus, want.Grid.Nodes.Bus)
	sameTable(t, key+" grid/nodes/generator", got.Grid.Nodes.Generator, want.Grid.Nodes.Generator)
	sameTable(t, key+" grid/nodes/load", got.Grid.Nodes.Load, want.Grid.Nodes.Load)
	sameTable(t, key+" grid/nodes/shunt", got.Grid.Nodes.Shunt, want.Grid.Nodes.Shunt)
	if got.Grid.Context.BaseMVA != want.Grid.Context.BaseMVA {
		t.Errorf("%s baseMVA = %v, want %v", key, got.Grid.Context.BaseMVA, want.Grid.Context.BaseMVA)
	}
	sameEdgeGroup(t, key+" ac_line", got.Grid.Edges.ACLine, want.Grid.Edges.ACLine)
	sameEdgeGroup(t, key+" transformer", got.Grid.Edges.Transformer, want.Grid.Edges.Transformer)
	sameEdgeGroup(t, key+" generator_link", got.Grid.Edges.GeneratorLink, want.Grid.Edges.GeneratorLink)
	sameEdgeGroup(t, key+" load_link", got.Grid.Edges.LoadLink, want.Grid.Edges.LoadLink)
	sameEdgeGroup(t, key+" shunt_link", got.Grid.Edges.ShuntLink, want.Grid.Edges.ShuntLink)
	sameTable(t, key+" solution/nodes/bus", got.Solution.Nodes.Bus, want.Solution.Nodes.Bus)
	sameTable(t, key+" solution/nodes/generator", got.Solution.Nodes.Generator, want.Solution.Nodes.Generator)
	sameTable(t, key+" solution/edges/ac_line", got.Solution.Edges.ACLine.Features, want.Solution.Edges.ACLine.Features)
	sameTable(t, key+" solution/edges/transformer", got.Solution.Edges.Transformer.Features, want.Solution.Edges.Transformer.Features)
	if *got.Metadata != *want.Metadata {
		t.Errorf("%s metadata = %+v, want %+v", key, got.Metadata, want.Metadata)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := fixtureRecords(t, 3, 1)

	var w ChunkWriter
	path, err := w.Write(dir, 1, records)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "chunk_0001.msgpack" {
		t.Errorf("wrote %s, want chunk_0001.msgpack", filepath.Base(path))
	}

	chunk, err := ReadChunk(path)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if chunk.NScenarios != 2 {
		t.Errorf("n_scenarios = %d, want 2", chunk.NScenarios)
	}
	if chunk.FileName != "chunk_0001.msgpack" {
		t.Errorf("chunk_file = %q, want chunk_0001.msgpack", chunk.FileName)
	}
	keys := chunk.Keys()
	if len(keys) != 2 || keys[0] != "scenario_000001" || keys[1] != "scenario_000003" {
		t.Fatalf("keys = %v, want ascending scenario keys", keys)
	}

	// Records were handed over as [3, 1]; the container keys them by ID.
	sameRecord(t, keys[0], chunk.Scenarios["scenario_000001"], records[1])
	sameRecord(t, keys[1], chunk.Scenarios["scenario_000003"], records[0])
}

func TestChunkWriteIsByteDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	var w ChunkWriter
	if _, err := w.Write(dirA, 7, fixtureRecords(t, 1, 2, 3)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Same content, different arrival order.
	if _, err := w.Write(dirB, 7, fixtureRecords(t, 3, 1, 2)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a, err := os.ReadFile(filepath.Join(dirA, "chunk_0007.msgpack"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dirB, "chunk_0007.msgpack"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical chunk content produced different bytes")
	}
}

func TestChunkWriteRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	var w ChunkWriter
	if _, err := w.Write(dir, 1, fixtureRecords(t, 1)); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := w.Write(dir, 1, fixtureRecords(t, 2)); !errors.Is(err, ErrChunkExists) {
		t.Fatalf("second Write = %v, want ErrChunkExists", err)
	}

	forced := ChunkWriter{Force: true}
	if _, err := forced.Write(dir, 1, fixtureRecords(t, 2)); err != nil {
		t.Fatalf("forced Write: %v", err)
	}
	chunk, err := ReadChunk(filepath.Join(dir, "chunk_0001.msgpack"))
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if keys := chunk.Keys(); len(keys) != 1 || keys[0] != "scenario_000002" {
		t.Errorf("forced rewrite left keys %v, want [scenario_000002]", keys)
	}
}

func TestChunkWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	var w ChunkWriter
	if _, err := w.Write(dir, 2, fixtureRecords(t, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "chunk_0002.msgpack" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only the chunk file", names)
	}
}

func TestChunkWriteRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	var w ChunkWriter
	if _, err := w.Write(dir, 1, nil); err == nil {
		t.Error("expected an error for an empty record set")
	}
	if _, err := w.Write(dir, 1, fixtureRecords(t, 5, 5)); err == nil {
		t.Error("expected an error for duplicate scenario IDs")
	}
}

func TestContainerNaming(t *testing.T) {
	if got := ChunkFileName(1); got != "chunk_0001.msgpack" {
		t.Errorf("ChunkFileName(1) = %q", got)
	}
	if got := ChunkFileName(123); got != "chunk_0123.msgpack" {
		t.Errorf("ChunkFileName(123) = %q", got)
	}
	// Padding is to at least four digits, wider indices keep their width.
	if got := ChunkFileName(12345); got != "chunk_12345.msgpack" {
		t.Errorf("ChunkFileName(12345) = %q", got)
	}
	if got := ScenarioKey(42); got != "scenario_000042" {
		t.Errorf("ScenarioKey(42) = %q", got)
	}
}

func TestReadChunkErrors(t *testing.T) {
	if _, err := ReadChunk(filepath.Join(t.TempDir(), "chunk_0001.msgpack")); err == nil {
		t.Error("expected an error for a missing file")
	}
	bad := filepath.Join(t.TempDir(), "chunk_0001.msgpack")
	if err := os.WriteFile(bad, []byte("not msgpack at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadChunk(bad); err == nil {
		t.Error("expected an error for a corrupt file")
	}
}
