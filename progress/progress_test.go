package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/internal/logging"
)

// recordingLogger captures message names so tests can assert on what was
// reported without parsing handler output.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func (l *recordingLogger) Debug(ctx context.Context, msg string, fields ...logging.Field) {
	l.record(msg)
}

func (l *recordingLogger) Info(ctx context.Context, msg string, fields ...logging.Field) {
	l.record(msg)
}

func (l *recordingLogger) Warn(ctx context.Context, msg string, fields ...logging.Field) {
	l.record(msg)
}

func (l *recordingLogger) Error(ctx context.Context, msg string, fields ...logging.Field) {
	l.record(msg)
}

func (l *recordingLogger) With(fields ...logging.Field) logging.Logger { return l }

func TestTrackerCountsScenariosAndChunks(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetTotals(10, 5)

	tr.ScenarioDone("alpha", 1, &core.SolveOutcome{ScenarioID: 1})
	tr.ScenarioDone("alpha", 2, &core.SolveOutcome{ScenarioID: 2})
	tr.ScenarioDone("alpha", 3, nil)
	tr.ChunkDone("alpha", 1, 2, 3)

	s := tr.Snapshot()
	if s.ScenariosSolved != 2 || s.ScenariosDropped != 1 {
		t.Errorf("solved/dropped = %d/%d, want 2/1", s.ScenariosSolved, s.ScenariosDropped)
	}
	if s.Attempted() != 3 {
		t.Errorf("Attempted() = %d, want 3", s.Attempted())
	}
	if s.ChunksDone != 1 || s.ChunksTotal != 5 {
		t.Errorf("chunks = %d/%d, want 1/5", s.ChunksDone, s.ChunksTotal)
	}
	if s.ScenariosTotal != 10 {
		t.Errorf("ScenariosTotal = %d, want 10", s.ScenariosTotal)
	}
	if s.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", s.Elapsed)
	}
}

func TestTrackerNotifiesListeners(t *testing.T) {
	tr := NewTracker(nil)

	var (
		mu   sync.Mutex
		seen []Snapshot
	)
	tr.AddListener(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.ScenarioDone("alpha", 1, &core.SolveOutcome{ScenarioID: 1})
	tr.ChunkDone("alpha", 1, 1, 1)
	tr.ChunkDone("alpha", 2, 1, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("listener saw %d snapshots, want 2", len(seen))
	}
	if seen[0].ChunksDone != 1 || seen[1].ChunksDone != 2 {
		t.Errorf("listener snapshots %+v, want chunks done 1 then 2", seen)
	}
}

func TestTrackerStartLogsSummaryOnCancel(t *testing.T) {
	log := &recordingLogger{}
	tr := NewTracker(log)
	tr.Interval = 0 // summary only

	ctx, cancel := context.WithCancel(context.Background())
	done := tr.Start(ctx)
	tr.ScenarioDone("alpha", 1, &core.SolveOutcome{ScenarioID: 1})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop after cancellation")
	}
	if got := log.count("run summary"); got != 1 {
		t.Errorf("logged %d run summaries, want 1", got)
	}
	if got := log.count("progress"); got != 0 {
		t.Errorf("logged %d progress lines with reporting disabled, want 0", got)
	}
}

func TestTrackerPeriodicReports(t *testing.T) {
	log := &recordingLogger{}
	tr := NewTracker(log)
	tr.Interval = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := tr.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop after cancellation")
	}
	if got := log.count("progress"); got == 0 {
		t.Error("expected at least one periodic progress report")
	}
	if got := log.count("run summary"); got != 1 {
		t.Errorf("logged %d run summaries, want 1", got)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker(nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if i%5 == 0 {
					tr.ScenarioDone("alpha", i, nil)
				} else {
					tr.ScenarioDone("alpha", i, &core.SolveOutcome{ScenarioID: i})
				}
			}
		}(w)
	}
	wg.Wait()

	s := tr.Snapshot()
	if got := s.Attempted(); got != 400 {
		t.Errorf("Attempted() = %d, want 400", got)
	}
	if s.ScenariosDropped != 80 {
		t.Errorf("ScenariosDropped = %d, want 80", s.ScenariosDropped)
	}
}

func TestSnapshotRate(t *testing.T) {
	s := Snapshot{ScenariosSolved: 90, ScenariosDropped: 10, Elapsed: 4 * time.Second}
	if got := s.Rate(); got != 25 {
		t.Errorf("Rate() = %v, want 25", got)
	}
	if got := (Snapshot{}).Rate(); got != 0 {
		t.Errorf("Rate() on empty snapshot = %v, want 0", got)
	}
}
