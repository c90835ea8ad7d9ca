package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func wantSet(t *testing.T, got map[int]bool, want ...int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("completed set = %v, want %v", got, want)
	}
	for _, idx := range want {
		if !got[idx] {
			t.Fatalf("completed set = %v, missing %d", got, idx)
		}
	}
}

func TestCompletedFreshInstance(t *testing.T) {
	s := NewStore(t.TempDir())
	done, err := s.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	wantSet(t, done)
}

func TestCompletedFromFileListing(t *testing.T) {
	root := t.TempDir()
	// Real chunk files at minimum four digits, plus decoys that must not
	// count: too few digits, trailing temp suffix, unrelated files.
	touch(t, filepath.Join(root, "alpha", "chunk_0001.msgpack"))
	touch(t, filepath.Join(root, "alpha", "chunk_0007.msgpack"))
	touch(t, filepath.Join(root, "alpha", "chunk_00012.msgpack"))
	touch(t, filepath.Join(root, "alpha", "chunk_12.msgpack"))
	touch(t, filepath.Join(root, "alpha", "chunk_0003.msgpack.tmp-55"))
	touch(t, filepath.Join(root, "alpha", "notes.txt"))
	touch(t, filepath.Join(root, "beta", "chunk_0002.msgpack"))

	s := NewStore(root)
	done, err := s.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	wantSet(t, done, 1, 7, 12)
}

func TestCompletedUnionsListingAndLedger(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "alpha", "chunk_0001.msgpack"))
	ledger := `{"completed_chunks": [2, 3], "total_chunks": 5, "updated_at": "2026-08-01T10:00:00Z"}`
	if err := os.WriteFile(filepath.Join(root, "alpha", LedgerFileName), []byte(ledger), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	done, err := s.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	wantSet(t, done, 1, 2, 3)
}

func TestCompletedSurvivesCorruptLedger(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "alpha", "chunk_0002.msgpack"))
	if err := os.WriteFile(filepath.Join(root, "alpha", LedgerFileName), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	done, err := s.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("a corrupt ledger must not be fatal, got %v", err)
	}
	wantSet(t, done, 2)
}

func TestMarkCompleteRewritesLedger(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "alpha", "chunk_0001.msgpack"))

	s := NewStore(root, WithRunID("task-3"))
	if err := s.MarkComplete(context.Background(), "alpha", 2, 5); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	raw, err := os.ReadFile(s.LedgerPath("alpha"))
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	var ledger ledgerJSON
	if err := json.Unmarshal(raw, &ledger); err != nil {
		t.Fatalf("ledger is not valid JSON: %v", err)
	}
	// The rewrite folds in the pre-existing chunk file, sorted ascending.
	if len(ledger.CompletedChunks) != 2 || ledger.CompletedChunks[0] != 1 || ledger.CompletedChunks[1] != 2 {
		t.Errorf("completed_chunks = %v, want [1 2]", ledger.CompletedChunks)
	}
	if ledger.TotalChunks != 5 {
		t.Errorf("total_chunks = %d, want 5", ledger.TotalChunks)
	}
	if ledger.UpdatedBy != "task-3" {
		t.Errorf("updated_by = %q, want task-3", ledger.UpdatedBy)
	}
	if ledger.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}

	done, err := s.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	wantSet(t, done, 1, 2)

	// No temp files left behind.
	entries, err := os.ReadDir(s.InstanceDir("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMarkCompleteSticksWithoutChunkFile(t *testing.T) {
	// Zero-success chunks write no container file but still count as
	// attempted; the ledger alone must carry them across runs.
	root := t.TempDir()
	s := NewStore(root)
	if err := s.MarkComplete(context.Background(), "alpha", 4, 4); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	fresh := NewStore(root)
	done, err := fresh.Completed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	wantSet(t, done, 4)
}

func TestMarkCompleteRejectsBadIndex(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.MarkComplete(context.Background(), "alpha", 0, 4); err == nil {
		t.Error("expected an error for chunk index 0")
	}
}

func TestSubscribe(t *testing.T) {
	s := NewStore(t.TempDir())

	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	if err := s.MarkComplete(context.Background(), "alpha", 1, 2); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Type != EventChunkCompleted || e.Instance != "alpha" || e.Chunk != 1 {
		t.Errorf("event = %+v", e)
	}
	if e.Done != 1 || e.Total != 2 {
		t.Errorf("progress = %d/%d, want 1/2", e.Done, e.Total)
	}

	unsubscribe()
	if err := s.MarkComplete(context.Background(), "alpha", 2, 2); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if len(events) != 1 {
		t.Error("unsubscribed callback still invoked")
	}
}
