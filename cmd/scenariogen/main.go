package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gridsignal/scenariogen/checkpoint"
	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/internal/config"
	"github.com/gridsignal/scenariogen/internal/logging"
	"github.com/gridsignal/scenariogen/internal/observability"
	"github.com/gridsignal/scenariogen/internal/sink"
	"github.com/gridsignal/scenariogen/progress"
	"github.com/gridsignal/scenariogen/scheduler"
	"github.com/gridsignal/scenariogen/solver"
)

func main() {
	planPath := flag.String("plan", "", "Path to a YAML run plan; omit to use the single-case flags")
	casePath := flag.String("case", "", "Single-case mode: path to a JSON grid case")
	instance := flag.String("instance", "", "Single-case mode: instance name (defaults to the case file name)")
	scenarios := flag.Int("scenarios", 100, "Single-case mode: number of scenarios to generate")
	chunkSize := flag.Int("chunk-size", 0, "Single-case mode: scenarios per chunk file")
	outDir := flag.String("out", "", "Output directory override")
	workers := flag.Int("workers", 0, "Worker goroutines per chunk (0 = one per CPU)")
	solverName := flag.String("solver", "", "Solver backend override (dc, exec)")
	taskIndex := flag.Int("task-index", 0, "Zero-based index of this task in a multi-task run")
	taskCount := flag.Int("task-count", 1, "Total number of cooperating tasks")
	force := flag.Bool("force", false, "Re-solve completed chunks and overwrite their files")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.Parse()

	base := logging.NewFromEnv()
	ctx, log := logging.WithRunLogger(context.Background(), base)

	var plan *config.Plan
	var err error
	switch {
	case *planPath != "":
		plan, err = config.LoadPlan(*planPath)
	case *casePath != "":
		plan = singleCasePlan(*casePath, *instance, *scenarios, *chunkSize)
	default:
		err = fmt.Errorf("either -plan or -case is required")
	}
	if err != nil {
		log.Error(ctx, "invalid run configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}

	// Flag overrides win over the plan file.
	if *outDir != "" {
		plan.Output.Dir = *outDir
	}
	if *workers > 0 {
		plan.Workers = *workers
	}
	if *solverName != "" {
		plan.Solver.Name = *solverName
	}
	plan.Normalize()
	if err := plan.Validate(); err != nil {
		log.Error(ctx, "invalid run configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if *taskCount < 1 || *taskIndex < 0 || *taskIndex >= *taskCount {
		log.Error(ctx, "task flags out of range",
			logging.Int("task_index", *taskIndex),
			logging.Int("task_count", *taskCount),
		)
		os.Exit(1)
	}

	tracingShutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}

	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	timeLimit, _ := plan.Solver.TimeLimitDuration()
	backend, err := solver.New(solver.Config{
		Name:   plan.Solver.Name,
		Binary: plan.Solver.Binary,
		Args:   plan.Solver.Args,
	})
	if err != nil {
		log.Error(ctx, "solver configuration rejected", logging.String("error", err.Error()))
		os.Exit(1)
	}

	pRange, qRange := plan.PerturbRanges()
	perturber, err := core.NewPerturber(pRange, qRange, plan.SeedOffset)
	if err != nil {
		log.Error(ctx, "perturbation configuration rejected", logging.String("error", err.Error()))
		os.Exit(1)
	}

	ctrlOpts := []core.ControllerOption{
		core.WithControllerLogger(log),
		core.WithSolveRecorder(collector),
	}
	if plan.Solver.SlackPenalty > 0 {
		ctrlOpts = append(ctrlOpts, core.WithSlackPenalty(plan.Solver.SlackPenalty))
	}
	if timeLimit > 0 {
		ctrlOpts = append(ctrlOpts, core.WithTimeLimit(timeLimit))
	}
	controller, err := core.NewSolveController(backend, ctrlOpts...)
	if err != nil {
		log.Error(ctx, "failed to build solve controller", logging.String("error", err.Error()))
		os.Exit(1)
	}

	updatedBy := logging.RunIDFromContext(ctx)
	if *taskCount > 1 {
		updatedBy = fmt.Sprintf("task-%d", *taskIndex)
	}
	store := checkpoint.NewStore(plan.Output.Dir,
		checkpoint.WithLogger(log),
		checkpoint.WithRunID(updatedBy),
	)
	store.Subscribe(collector.ObserveCheckpoint)

	sched, err := scheduler.NewScheduler(perturber, controller, store)
	if err != nil {
		log.Error(ctx, "failed to build scheduler", logging.String("error", err.Error()))
		os.Exit(1)
	}
	sched.Workers = plan.Workers
	sched.Force = *force
	sched.Log = log
	sched.AddObserver(collector)

	tracker := progress.NewTracker(log)
	sched.AddObserver(tracker)

	if plan.Output.S3.Enabled() {
		s3 := plan.Output.S3
		mirror, err := sink.NewS3Mirror(sink.S3Config{
			Endpoint: s3.Endpoint,
			Bucket:   s3.Bucket,
			Prefix:   s3.Prefix,
			Secure:   s3.Secure,
		}.WithEnvCredentials(), log)
		if err != nil {
			log.Error(ctx, "object storage configuration rejected", logging.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mirror.Verify(ctx); err != nil {
			log.Error(ctx, "object storage unavailable", logging.String("error", err.Error()))
			os.Exit(1)
		}
		sched.AddObserver(mirror.Observer(plan.Output.Dir))
	}

	jobs, order, err := loadJobs(ctx, log, plan)
	if err != nil {
		log.Error(ctx, "failed to load cases", logging.String("error", err.Error()))
		os.Exit(1)
	}

	units := scheduler.Assign(scheduler.BuildUnits(order), *taskIndex, *taskCount)
	totalScenarios := 0
	for _, u := range units {
		job := jobs[u.Instance]
		first, last := scheduler.ChunkRange(u.Chunk, job.Scenarios, job.ChunkSize)
		totalScenarios += last - first + 1
	}
	tracker.SetTotals(totalScenarios, len(units))

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	trackerCtx, trackerCancel := context.WithCancel(context.Background())
	trackerDone := tracker.Start(trackerCtx)

	log.Info(runCtx, "run starting",
		logging.Int("instances", len(plan.Instances)),
		logging.Int("units", len(units)),
		logging.Int("scenarios", totalScenarios),
		logging.String("solver", plan.Solver.Name),
		logging.String("out", plan.Output.Dir),
	)
	runErr := sched.RunUnits(runCtx, jobs, units)

	trackerCancel()
	<-trackerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(context.Background(), tracingShutdown, log)

	if runErr != nil {
		log.Error(ctx, "run finished with failures", logging.String("error", runErr.Error()))
		os.Exit(1)
	}
	log.Info(ctx, "run finished")
}

// singleCasePlan builds a plan from the shortcut flags. Quick runs scale
// both demand components by up to 15% either way, matching the example plan
// shipped in configs/.
func singleCasePlan(casePath, name string, scenarios, chunkSize int) *config.Plan {
	if name == "" {
		base := filepath.Base(casePath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &config.Plan{
		Version:   1,
		Instances: []config.InstancePlan{{Name: name, Case: casePath}},
		Scenarios: scenarios,
		ChunkSize: chunkSize,
		Perturbation: config.PerturbationPlan{
			PRange: [2]float64{0.85, 1.15},
			QRange: [2]float64{0.85, 1.15},
		},
	}
}

// loadJobs reads every case named by the plan and resolves per-instance
// settings. The returned slice preserves the plan's instance order so unit
// assignment comes out identical on every cooperating task.
func loadJobs(ctx context.Context, log logging.Logger, plan *config.Plan) (map[string]scheduler.InstanceJob, []scheduler.InstanceChunks, error) {
	jobs := make(map[string]scheduler.InstanceJob, len(plan.Instances))
	order := make([]scheduler.InstanceChunks, 0, len(plan.Instances))
	for _, inst := range plan.Instances {
		net, err := core.LoadCaseFile(inst.Case)
		if err != nil {
			return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
		}

		job := scheduler.InstanceJob{
			Name:      inst.Name,
			Network:   net,
			Scenarios: plan.InstanceScenarios(inst),
			ChunkSize: plan.ChunkSize,
		}
		if inst.Contingency != nil {
			cont, err := inst.Contingency.Parse()
			if err != nil {
				return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
			}
			job.Contingency = cont
		}
		jobs[inst.Name] = job
		order = append(order, scheduler.InstanceChunks{
			Instance: inst.Name,
			Chunks:   scheduler.NumChunks(job.Scenarios, job.ChunkSize),
		})

		log.Info(ctx, "loaded case",
			logging.String("instance", inst.Name),
			logging.String("case", inst.Case),
			logging.Int("buses", len(net.BusIDs())),
			logging.Int("scenarios", job.Scenarios),
		)
	}
	return jobs, order, nil
}

func serveMetrics(addr string, collector *observability.PipelineCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
