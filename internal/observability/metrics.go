package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridsignal/scenariogen/checkpoint"
	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/model"
	"github.com/gridsignal/scenariogen/scheduler"
)

// PipelineCollector bundles Prometheus metrics for the generation pipeline
// and provides a ready-to-serve /metrics handler. It plugs into the
// scheduler as an Observer, into the solve controller as a SolveRecorder,
// and into the checkpoint store as a completion subscriber.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	SolvesTotal   *prometheus.CounterVec
	SolveDuration *prometheus.HistogramVec

	ScenariosTotal *prometheus.CounterVec
	ChunkFiles     *prometheus.CounterVec
	ChunkRecords   *prometheus.CounterVec

	CompletedChunks *prometheus.GaugeVec
	TotalChunks     *prometheus.GaugeVec
}

var (
	_ scheduler.Observer = (*PipelineCollector)(nil)
	_ core.SolveRecorder = (*PipelineCollector)(nil)
)

// NewPipelineCollector registers pipeline Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_solves_total",
		Help: "Total solver invocations, labeled by phase (strict or relaxed) and resulting status.",
	}, []string{"phase", "status"})
	solves, err := registerCounterVec(reg, solves, "solver_solves_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solver_solve_duration_seconds",
		Help:    "Solver wall time per invocation in seconds, labeled by phase.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"phase"})
	durations, err = registerHistogramVec(reg, durations, "solver_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	scenarios := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_scenarios_total",
		Help: "Finished scenarios, labeled by instance and result (solved, relaxed, or dropped).",
	}, []string{"instance", "result"})
	scenarios, err = registerCounterVec(reg, scenarios, "pipeline_scenarios_total")
	if err != nil {
		return nil, err
	}

	chunkFiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_chunk_files_written_total",
		Help: "Chunk container files finished per instance.",
	}, []string{"instance"})
	chunkFiles, err = registerCounterVec(reg, chunkFiles, "pipeline_chunk_files_written_total")
	if err != nil {
		return nil, err
	}

	chunkRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_chunk_records_written_total",
		Help: "Scenario records written into chunk containers per instance.",
	}, []string{"instance"})
	chunkRecords, err = registerCounterVec(reg, chunkRecords, "pipeline_chunk_records_written_total")
	if err != nil {
		return nil, err
	}

	completed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "checkpoint_completed_chunks",
		Help: "Chunks recorded as complete in the checkpoint ledger, per instance.",
	}, []string{"instance"})
	completed, err = registerGaugeVec(reg, completed, "checkpoint_completed_chunks")
	if err != nil {
		return nil, err
	}

	total := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "checkpoint_total_chunks",
		Help: "Planned chunk count per instance, as stamped into the ledger.",
	}, []string{"instance"})
	total, err = registerGaugeVec(reg, total, "checkpoint_total_chunks")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:        gatherer,
		SolvesTotal:     solves,
		SolveDuration:   durations,
		ScenariosTotal:  scenarios,
		ChunkFiles:      chunkFiles,
		ChunkRecords:    chunkRecords,
		CompletedChunks: completed,
		TotalChunks:     total,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordSolve satisfies core.SolveRecorder: one observation per solver
// invocation, attributed to its phase.
func (c *PipelineCollector) RecordSolve(phase string, status model.SolverStatus, seconds float64) {
	if c == nil {
		return
	}
	if c.SolvesTotal != nil {
		c.SolvesTotal.WithLabelValues(phase, string(status)).Inc()
	}
	if c.SolveDuration != nil {
		c.SolveDuration.WithLabelValues(phase).Observe(seconds)
	}
}

// ScenarioDone satisfies scheduler.Observer. A nil outcome counts as a
// dropped scenario.
func (c *PipelineCollector) ScenarioDone(instance string, scenarioID int, outcome *core.SolveOutcome) {
	if c == nil || c.ScenariosTotal == nil {
		return
	}
	result := "dropped"
	if outcome != nil {
		result = "solved"
		if outcome.Relaxed {
			result = "relaxed"
		}
	}
	c.ScenariosTotal.WithLabelValues(instance, result).Inc()
}

// ChunkDone satisfies scheduler.Observer.
func (c *PipelineCollector) ChunkDone(instance string, chunk, written, requested int) {
	if c == nil {
		return
	}
	if c.ChunkFiles != nil {
		c.ChunkFiles.WithLabelValues(instance).Inc()
	}
	if c.ChunkRecords != nil && written > 0 {
		c.ChunkRecords.WithLabelValues(instance).Add(float64(written))
	}
}

// ObserveCheckpoint mirrors checkpoint completion events into gauges. Wire
// it with store.Subscribe(collector.ObserveCheckpoint).
func (c *PipelineCollector) ObserveCheckpoint(e checkpoint.Event) {
	if c == nil || e.Type != checkpoint.EventChunkCompleted {
		return
	}
	if c.CompletedChunks != nil {
		c.CompletedChunks.WithLabelValues(e.Instance).Set(float64(e.Done))
	}
	if c.TotalChunks != nil && e.Total > 0 {
		c.TotalChunks.WithLabelValues(e.Instance).Set(float64(e.Total))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
