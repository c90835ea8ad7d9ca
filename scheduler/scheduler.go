// Package scheduler drives dataset generation: it partitions each
// instance's scenario range into chunks, fans every pending chunk's
// scenarios out across a bounded worker pool, and writes one container
// file per chunk, checkpointing completion as it goes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/gridsignal/scenariogen/checkpoint"
	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/dataset"
	"github.com/gridsignal/scenariogen/internal/logging"
	"github.com/gridsignal/scenariogen/model"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use; scenario events arrive from worker goroutines.
type Observer interface {
	// ScenarioDone fires once per attempted scenario. outcome is nil for a
	// dropped scenario.
	ScenarioDone(instance string, scenarioID int, outcome *core.SolveOutcome)

	// ChunkDone fires after a chunk is finished, whether or not a file was
	// written. written is the record count actually persisted.
	ChunkDone(instance string, chunk, written, requested int)
}

// InstanceJob describes one instance's generation work.
type InstanceJob struct {
	Name      string
	Network   *model.Network
	Scenarios int
	ChunkSize int

	// Contingency, when set, takes one element out of service in every
	// scenario, turning the batch into a post-contingency dataset.
	Contingency *core.Contingency
}

// Scheduler coordinates perturbation, solving, encoding and checkpointing.
// Chunks run one at a time; scenarios within a chunk run concurrently and
// the scheduler blocks on the full chunk before writing, so a chunk file
// either exists completely or not at all.
type Scheduler struct {
	// Workers bounds concurrent scenario solves within one chunk.
	// Defaults to the machine's CPU count.
	Workers int

	// Force redoes chunks even when a chunk file or ledger entry marks
	// them complete, replacing existing files.
	Force bool

	// Log receives chunk lifecycle logs and per-scenario drop diagnostics.
	Log logging.Logger

	perturber  *core.Perturber
	controller *core.SolveController
	store      *checkpoint.Store

	observers []Observer
}

// NewScheduler wires the pipeline stages together.
func NewScheduler(p *core.Perturber, c *core.SolveController, store *checkpoint.Store) (*Scheduler, error) {
	if p == nil {
		return nil, fmt.Errorf("NewScheduler: nil perturber")
	}
	if c == nil {
		return nil, fmt.Errorf("NewScheduler: nil solve controller")
	}
	if store == nil {
		return nil, fmt.Errorf("NewScheduler: nil checkpoint store")
	}
	return &Scheduler{
		Workers:    runtime.NumCPU(),
		Log:        logging.Noop(),
		perturber:  p,
		controller: c,
		store:      store,
	}, nil
}

// AddObserver registers a pipeline observer.
func (s *Scheduler) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// RunInstance processes every pending chunk of a single instance.
func (s *Scheduler) RunInstance(ctx context.Context, job InstanceJob) error {
	units := BuildUnits([]InstanceChunks{
		{Instance: job.Name, Chunks: NumChunks(job.Scenarios, job.ChunkSize)},
	})
	return s.RunUnits(ctx, map[string]InstanceJob{job.Name: job}, units)
}

// RunUnits processes an assigned work unit list in order. A unit that fails
// on I/O is left unmarked for the next run and does not stop the remaining
// units; context cancellation stops everything.
func (s *Scheduler) RunUnits(ctx context.Context, jobs map[string]InstanceJob, units []Unit) error {
	for name, job := range jobs {
		if err := validateJob(name, job); err != nil {
			return err
		}
	}

	var failed int
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, ok := jobs[u.Instance]
		if !ok {
			return fmt.Errorf("scheduler: unit references unknown instance %q", u.Instance)
		}
		total := NumChunks(job.Scenarios, job.ChunkSize)
		if u.Chunk < 1 || u.Chunk > total {
			return fmt.Errorf("scheduler: chunk %d out of range for instance %q with %d chunks", u.Chunk, u.Instance, total)
		}

		if !s.Force {
			done, err := s.store.Completed(ctx, u.Instance)
			if err != nil {
				return err
			}
			if done[u.Chunk] {
				s.Log.Debug(ctx, "skipping completed chunk",
					logging.String("instance", u.Instance),
					logging.Int("chunk", u.Chunk))
				continue
			}
		}

		cctx, span := startSpan(ctx, "chunk.run", u.Instance, attribute.Int("chunk", u.Chunk))
		err := s.runChunk(cctx, job, u.Chunk, total)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			s.Log.Error(ctx, "chunk failed, left pending for a future run",
				logging.String("instance", u.Instance),
				logging.Int("chunk", u.Chunk),
				logging.String("error", err.Error()))
		}
	}
	if failed > 0 {
		return fmt.Errorf("scheduler: %d of %d work units failed", failed, len(units))
	}
	return nil
}

// runChunk solves every scenario in the chunk behind a fan-out/fan-in
// barrier, then writes the container and marks completion.
func (s *Scheduler) runChunk(ctx context.Context, job InstanceJob, chunk, totalChunks int) error {
	first, last := ChunkRange(chunk, job.Scenarios, job.ChunkSize)
	requested := last - first + 1
	start := time.Now()

	s.Log.Info(ctx, "chunk started",
		logging.String("instance", job.Name),
		logging.Int("chunk", chunk),
		logging.Int("first_scenario", first),
		logging.Int("last_scenario", last))

	var (
		mu       sync.Mutex
		outcomes []*core.SolveOutcome
	)
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for id := first; id <= last; id++ {
		id := id
		g.Go(func() error {
			out, err := s.runScenario(gctx, job, id)
			if err != nil {
				return err
			}
			for _, o := range s.observers {
				o.ScenarioDone(job.Name, id, out)
			}
			if out != nil {
				mu.Lock()
				outcomes = append(outcomes, out)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Workers finish in arbitrary order; the container is keyed and
	// written in ascending scenario order regardless.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].ScenarioID < outcomes[j].ScenarioID
	})

	written := len(outcomes)
	if written == 0 {
		// All scenarios dropped. The chunk still counts as attempted so
		// it is not silently redone every run; a repeat of this warning
		// across chunks points at solver misconfiguration rather than
		// individual hard scenarios.
		s.Log.Warn(ctx, "chunk wrote no records: every scenario was dropped",
			logging.String("instance", job.Name),
			logging.Int("chunk", chunk),
			logging.Int("requested", requested))
	} else {
		records := make([]*dataset.Record, 0, written)
		for _, out := range outcomes {
			rec, err := dataset.Encode(out.Network, out)
			if err != nil {
				return fmt.Errorf("encoding chunk %d: %w", chunk, err)
			}
			records = append(records, rec)
		}

		w := dataset.ChunkWriter{Force: s.Force}
		path, err := w.Write(s.store.InstanceDir(job.Name), chunk, records)
		switch {
		case errors.Is(err, dataset.ErrChunkExists):
			// Another task got here first; its file is proof enough.
			s.Log.Info(ctx, "chunk file already present, treating as complete",
				logging.String("instance", job.Name),
				logging.Int("chunk", chunk))
		case err != nil:
			return fmt.Errorf("writing chunk %d: %w", chunk, err)
		default:
			s.Log.Info(ctx, "chunk written",
				logging.String("instance", job.Name),
				logging.Int("chunk", chunk),
				logging.String("path", path),
				logging.Int("written", written),
				logging.Int("requested", requested),
				logging.Duration("elapsed", time.Since(start)))
		}
	}

	if err := s.store.MarkComplete(ctx, job.Name, chunk, totalChunks); err != nil {
		// The chunk artifact (or its absence, for all-dropped chunks)
		// already tells the story; a stale ledger only costs a redo.
		s.Log.Warn(ctx, "checkpoint update failed",
			logging.String("instance", job.Name),
			logging.Int("chunk", chunk),
			logging.String("error", err.Error()))
	}
	for _, o := range s.observers {
		o.ChunkDone(job.Name, chunk, written, requested)
	}
	return nil
}

// runScenario builds one scenario's private topology and solves it.
func (s *Scheduler) runScenario(ctx context.Context, job InstanceJob, scenarioID int) (*core.SolveOutcome, error) {
	ctx, span := startSpan(ctx, "scenario.solve", job.Name, attribute.Int("scenario_id", scenarioID))
	defer span.End()

	net := job.Network.Clone()
	if job.Contingency != nil {
		if err := core.ApplyContingency(net, *job.Contingency); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	s.perturber.Apply(net, scenarioID)
	out, err := s.controller.Solve(ctx, scenarioID, net)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func validateJob(name string, job InstanceJob) error {
	if job.Name == "" || job.Name != name {
		return fmt.Errorf("scheduler: job name %q does not match key %q", job.Name, name)
	}
	if job.Network == nil {
		return fmt.Errorf("scheduler: instance %q has no network", name)
	}
	if job.Scenarios < 1 {
		return fmt.Errorf("scheduler: instance %q has scenario count %d", name, job.Scenarios)
	}
	if job.ChunkSize < 1 {
		return fmt.Errorf("scheduler: instance %q has chunk size %d", name, job.ChunkSize)
	}
	if job.Contingency != nil {
		// Probe on a throwaway clone so a bad element ID fails the job up
		// front instead of failing every scenario.
		if err := core.ApplyContingency(job.Network.Clone(), *job.Contingency); err != nil {
			return fmt.Errorf("scheduler: instance %q: %w", name, err)
		}
	}
	return nil
}
