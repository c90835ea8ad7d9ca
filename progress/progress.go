// Package progress tracks scenario and chunk completion across a run and
// periodically reports throughput through the structured logger.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/internal/logging"
	"github.com/gridsignal/scenariogen/scheduler"
)

// Snapshot is a point-in-time view of the run counters.
type Snapshot struct {
	ScenariosSolved  int
	ScenariosDropped int
	ChunksDone       int
	ChunksTotal      int
	ScenariosTotal   int
	Elapsed          time.Duration
}

// Attempted returns the number of scenarios the run has finished with,
// whether they produced a record or were dropped.
func (s Snapshot) Attempted() int {
	return s.ScenariosSolved + s.ScenariosDropped
}

// Rate returns finished scenarios per second since the tracker started.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Attempted()) / s.Elapsed.Seconds()
}

// Tracker accumulates run counters and notifies registered listeners as
// chunks complete. It implements scheduler.Observer and is safe for
// concurrent use by the worker pool.
type Tracker struct {
	mu sync.RWMutex

	// Interval is the period between progress reports. Values <= 0
	// disable the periodic reporter; Start then only waits for the
	// context and prints the final summary.
	Interval time.Duration

	log logging.Logger

	scenariosTotal int
	chunksTotal    int
	solved         int
	dropped        int
	chunksDone     int
	started        time.Time

	listeners []func(Snapshot)
}

var _ scheduler.Observer = (*Tracker)(nil)

// NewTracker constructs a tracker reporting through log.
func NewTracker(log logging.Logger) *Tracker {
	if log == nil {
		log = logging.Noop()
	}
	return &Tracker{
		Interval: 30 * time.Second,
		log:      log,
		started:  time.Now(),
	}
}

// SetTotals records the planned workload so reports can show done/total.
func (t *Tracker) SetTotals(scenarios, chunks int) {
	t.mu.Lock()
	t.scenariosTotal = scenarios
	t.chunksTotal = chunks
	t.mu.Unlock()
}

// AddListener registers a callback invoked after every completed chunk.
func (t *Tracker) AddListener(fn func(Snapshot)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		ScenariosSolved:  t.solved,
		ScenariosDropped: t.dropped,
		ChunksDone:       t.chunksDone,
		ChunksTotal:      t.chunksTotal,
		ScenariosTotal:   t.scenariosTotal,
		Elapsed:          time.Since(t.started),
	}
}

// ScenarioDone implements scheduler.Observer. A nil outcome counts as a
// dropped scenario.
func (t *Tracker) ScenarioDone(instance string, scenarioID int, outcome *core.SolveOutcome) {
	t.mu.Lock()
	if outcome == nil {
		t.dropped++
	} else {
		t.solved++
	}
	t.mu.Unlock()
}

// ChunkDone implements scheduler.Observer. It logs a progress line for the
// finished chunk and notifies listeners with a fresh snapshot.
func (t *Tracker) ChunkDone(instance string, chunk, written, requested int) {
	t.mu.Lock()
	t.chunksDone++
	snap := t.snapshotLocked()
	listeners := make([]func(Snapshot), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	t.log.Info(context.Background(), "chunk progress",
		logging.String("instance", instance),
		logging.Int("chunk", chunk),
		logging.Int("records", written),
		logging.Int("requested", requested),
		logging.Int("chunks_done", snap.ChunksDone),
		logging.Int("chunks_total", snap.ChunksTotal),
	)

	// Listeners run outside the lock and may call back into the tracker.
	for _, fn := range listeners {
		fn(snap)
	}
}

// Start runs the periodic reporter in a separate goroutine until ctx is
// done, then logs the final summary. It returns a channel that is closed
// after the summary is written.
func (t *Tracker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tick <-chan time.Time
		if t.Interval > 0 {
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				t.logSummary(ctx)
				return
			case <-tick:
				t.logProgress(ctx)
			}
		}
	}()
	return done
}

func (t *Tracker) logProgress(ctx context.Context) {
	s := t.Snapshot()
	t.log.Info(ctx, "progress",
		logging.Int("chunks_done", s.ChunksDone),
		logging.Int("chunks_total", s.ChunksTotal),
		logging.Int("scenarios_solved", s.ScenariosSolved),
		logging.Int("scenarios_dropped", s.ScenariosDropped),
		logging.Int("scenarios_total", s.ScenariosTotal),
		logging.Float64("scenarios_per_sec", s.Rate()),
	)
}

func (t *Tracker) logSummary(ctx context.Context) {
	s := t.Snapshot()
	ratio := 0.0
	if n := s.Attempted(); n > 0 {
		ratio = float64(s.ScenariosSolved) / float64(n)
	}
	t.log.Info(ctx, "run summary",
		logging.Int("scenarios_solved", s.ScenariosSolved),
		logging.Int("scenarios_attempted", s.Attempted()),
		logging.Float64("success_ratio", ratio),
		logging.Int("chunks_done", s.ChunksDone),
		logging.Duration("elapsed", s.Elapsed),
	)
}
