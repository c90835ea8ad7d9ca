package core

import (
	"context"
	"fmt"
	"time"

	"github.com/gridsignal/scenariogen/internal/logging"
	"github.com/gridsignal/scenariogen/model"
	"github.com/gridsignal/scenariogen/solver"
)

// DefaultSlackPenalty prices constraint violations in relaxed solves. It is
// deliberately far above any plausible production cost so the solver only
// uses slack when the scenario is genuinely infeasible.
const DefaultSlackPenalty = 1e6

// Phase names reported to solve recorders.
const (
	PhaseStrict  = "strict"
	PhaseRelaxed = "relaxed"
)

// SolveRecorder receives per-phase solve telemetry.
type SolveRecorder interface {
	RecordSolve(phase string, status model.SolverStatus, seconds float64)
}

// SolveOutcome is the terminal result of one scenario. Outcomes are never
// retried: a scenario either lands in a chunk file or is dropped.
type SolveOutcome struct {
	ScenarioID int
	Network    *model.Network
	Status     model.SolverStatus
	Objective  float64

	// SolveTime accumulates solver wall time across attempted phases.
	SolveTime time.Duration
	Solution  *model.Solution

	// Total violation magnitudes in MW. Identically zero when the strict
	// phase succeeded.
	PowerSlack float64
	LineSlack  float64

	// Relaxed marks operating points that needed the slack formulation.
	Relaxed bool
}

// SolveController drives one scenario through the two-phase solve ladder:
// a strict attempt first, then a single relaxed attempt with violations
// priced into the objective. Scenarios failing both phases are dropped.
type SolveController struct {
	solver    solver.Solver
	log       logging.Logger
	recorder  SolveRecorder
	penalty   float64
	timeLimit time.Duration
}

// ControllerOption customizes a SolveController.
type ControllerOption func(*SolveController)

// WithControllerLogger routes phase and drop logs somewhere visible.
func WithControllerLogger(l logging.Logger) ControllerOption {
	return func(c *SolveController) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSlackPenalty overrides the relaxed-phase violation price.
func WithSlackPenalty(p float64) ControllerOption {
	return func(c *SolveController) {
		if p > 0 {
			c.penalty = p
		}
	}
}

// WithTimeLimit bounds each solver invocation.
func WithTimeLimit(d time.Duration) ControllerOption {
	return func(c *SolveController) {
		if d > 0 {
			c.timeLimit = d
		}
	}
}

// WithSolveRecorder attaches per-phase telemetry.
func WithSolveRecorder(r SolveRecorder) ControllerOption {
	return func(c *SolveController) { c.recorder = r }
}

// NewSolveController wires a controller around a solver backend.
func NewSolveController(s solver.Solver, opts ...ControllerOption) (*SolveController, error) {
	if s == nil {
		return nil, fmt.Errorf("NewSolveController: nil solver")
	}
	c := &SolveController{
		solver:  s,
		log:     logging.Noop(),
		penalty: DefaultSlackPenalty,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Solve runs the ladder for one scenario. It returns (nil, nil) when both
// phases fail: a dropped scenario is an expected data condition, not an
// error. The error return is reserved for faults that must stop the run,
// such as context cancellation or a nil network.
//
// Solve never mutates net; callers hand it the perturbed private clone and
// may serialize it afterwards exactly as solved.
func (c *SolveController) Solve(ctx context.Context, scenarioID int, net *model.Network) (*SolveOutcome, error) {
	if net == nil {
		return nil, fmt.Errorf("SolveController: nil network for scenario %d", scenarioID)
	}

	var total time.Duration

	strict, err := c.runPhase(ctx, net, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Debug(ctx, "strict solve failed",
			logging.Int("scenario_id", scenarioID),
			logging.String("error", err.Error()))
	}
	if strict != nil {
		total += strict.SolveTime
		if strict.Status.Solved() {
			return &SolveOutcome{
				ScenarioID: scenarioID,
				Network:    net,
				Status:     strict.Status,
				Objective:  strict.Objective,
				SolveTime:  total,
				Solution:   strict.Solution,
			}, nil
		}
	}

	relaxed, err := c.runPhase(ctx, net, true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Debug(ctx, "relaxed solve failed",
			logging.Int("scenario_id", scenarioID),
			logging.String("error", err.Error()))
	}
	if relaxed != nil {
		total += relaxed.SolveTime
		if relaxed.Status.Solved() {
			power, line := relaxed.TotalSlacks()
			return &SolveOutcome{
				ScenarioID: scenarioID,
				Network:    net,
				Status:     relaxed.Status,
				Objective:  relaxed.Objective,
				SolveTime:  total,
				Solution:   relaxed.Solution,
				PowerSlack: power,
				LineSlack:  line,
				Relaxed:    true,
			}, nil
		}
	}

	c.log.Debug(ctx, "scenario dropped after strict and relaxed attempts",
		logging.Int("scenario_id", scenarioID))
	return nil, nil
}

// runPhase performs one solver invocation, shielding the run from solver
// panics: a crashing backend costs one scenario, never the batch.
func (c *SolveController) runPhase(ctx context.Context, net *model.Network, relaxed bool) (res *solver.Result, err error) {
	phase := PhaseStrict
	if relaxed {
		phase = PhaseRelaxed
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("solver panic in %s phase: %v", phase, r)
		}
		if c.recorder != nil {
			status := model.StatusError
			if res != nil {
				status = res.Status
			}
			seconds := 0.0
			if res != nil {
				seconds = res.SolveTime.Seconds()
			}
			c.recorder.RecordSolve(phase, status, seconds)
		}
	}()

	res, err = c.solver.Solve(ctx, net, solver.Options{
		Relaxed:      relaxed,
		SlackPenalty: c.penalty,
		TimeLimit:    c.timeLimit,
	})
	return res, err
}
