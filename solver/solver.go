// Package solver defines the boundary to optimal-power-flow backends and
// ships two implementations: a linearized built-in backend for development
// and tests, and a subprocess bridge for production solvers that cannot be
// linked in-process.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridsignal/scenariogen/model"
)

var ErrUnknownBackend = errors.New("unknown solver backend")

// Backend names accepted by New.
const (
	BackendDC   = "dc"
	BackendExec = "exec"
)

// Backends lists the available backend names.
func Backends() []string { return []string{BackendDC, BackendExec} }

// Options control a single solve invocation.
type Options struct {
	// Relaxed permits constraint violations, priced into the objective at
	// SlackPenalty per MW. A strict solve forbids violations outright.
	Relaxed      bool
	SlackPenalty float64

	// TimeLimit bounds one invocation; zero means no limit.
	TimeLimit time.Duration
}

// Result is the typed outcome of one invocation.
type Result struct {
	Status    model.SolverStatus
	Objective float64
	SolveTime time.Duration

	// Solution is populated when Status is solved.
	Solution *model.Solution

	// Per-element violations in MW, keyed by bus and branch ID. Empty on
	// strict solves that succeed.
	BusPowerSlack    map[int]float64
	BranchLimitSlack map[int]float64
}

// TotalSlacks sums the absolute per-element violations.
func (r *Result) TotalSlacks() (power, line float64) {
	for _, v := range r.BusPowerSlack {
		if v < 0 {
			v = -v
		}
		power += v
	}
	for _, v := range r.BranchLimitSlack {
		if v < 0 {
			v = -v
		}
		line += v
	}
	return power, line
}

// Solver produces an operating point for a network. Implementations must
// not retain or mutate net, and must be safe for concurrent use: the chunk
// workers share one Solver instance.
type Solver interface {
	Name() string
	Solve(ctx context.Context, net *model.Network, opts Options) (*Result, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Name string

	// Binary and Args configure the exec backend.
	Binary string
	Args   []string
}

// New constructs the named backend. Unknown names are configuration errors
// and should abort the run before any work starts.
func New(cfg Config) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case BackendDC:
		return NewDC(), nil
	case BackendExec:
		return NewExec(cfg.Binary, cfg.Args...)
	default:
		return nil, fmt.Errorf("%w: %q (have: %s)", ErrUnknownBackend, cfg.Name, strings.Join(Backends(), ", "))
	}
}
