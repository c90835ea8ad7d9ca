package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gridsignal/scenariogen/model"
)

// Exec bridges to an external solver binary. Every invocation spawns one
// short-lived OS process: the request is written to stdin as JSON and the
// result is read back from stdout, so a solver crash or leaked state can
// never take down the generator or contaminate the next scenario.
type Exec struct {
	binary string
	args   []string
}

// NewExec configures the subprocess backend. The binary is resolved via
// PATH at invocation time.
func NewExec(binary string, args ...string) (*Exec, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, fmt.Errorf("exec solver: empty binary path")
	}
	return &Exec{binary: binary, args: args}, nil
}

func (e *Exec) Name() string { return BackendExec }

//
// ---------- Wire format ----------
//

type execRequest struct {
	Network execNetwork `json:"network"`
	Options execOptions `json:"options"`
}

type execOptions struct {
	Relaxed          bool    `json:"relaxed"`
	SlackPenalty     float64 `json:"slack_penalty"`
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
}

type execNetwork struct {
	Name       string          `json:"name"`
	BaseMVA    float64         `json:"base_mva"`
	Buses      []execBus       `json:"buses"`
	Generators []execGenerator `json:"generators"`
	Loads      []execLoad      `json:"loads"`
	Shunts     []execShunt     `json:"shunts,omitempty"`
	Branches   []execBranch    `json:"branches"`
}

type execBus struct {
	ID   int     `json:"id"`
	VMin float64 `json:"vmin"`
	VMax float64 `json:"vmax"`
	Zone int     `json:"zone"`
	Area int     `json:"area"`
	Type int     `json:"bus_type"`
}

type execGenerator struct {
	ID        int     `json:"id"`
	Bus       int     `json:"bus"`
	PMax      float64 `json:"pmax"`
	PMin      float64 `json:"pmin"`
	QMax      float64 `json:"qmax"`
	QMin      float64 `json:"qmin"`
	CostC2    float64 `json:"cost_c2"`
	CostC1    float64 `json:"cost_c1"`
	CostC0    float64 `json:"cost_c0"`
	VSetpoint float64 `json:"vg"`
	MBase     float64 `json:"mbase"`
	Status    int     `json:"status"`
}

type execLoad struct {
	ID  int     `json:"id"`
	Bus int     `json:"bus"`
	PD  float64 `json:"pd"`
	QD  float64 `json:"qd"`
}

type execShunt struct {
	ID  int     `json:"id"`
	Bus int     `json:"bus"`
	GS  float64 `json:"gs"`
	BS  float64 `json:"bs"`
}

type execBranch struct {
	ID     int     `json:"id"`
	From   int     `json:"from"`
	To     int     `json:"to"`
	R      float64 `json:"br_r"`
	X      float64 `json:"br_x"`
	BFrom  float64 `json:"b_fr"`
	BTo    float64 `json:"b_to"`
	RateA  float64 `json:"rate_a"`
	RateB  float64 `json:"rate_b"`
	RateC  float64 `json:"rate_c"`
	Tap    float64 `json:"tap"`
	Shift  float64 `json:"shift"`
	AngMin float64 `json:"angmin"`
	AngMax float64 `json:"angmax"`
	Status int     `json:"br_status"`
}

type execResponse struct {
	Status           string        `json:"status"`
	Objective        float64       `json:"objective"`
	SolveTimeSeconds float64       `json:"solve_time_seconds"`
	Solution         *execSolution `json:"solution"`
	BusPowerSlack    []execSlack   `json:"bus_power_slack"`
	BranchLimitSlack []execSlack   `json:"branch_limit_slack"`
}

type execSolution struct {
	Buses      []execBusState `json:"buses"`
	Generators []execDispatch `json:"generators"`
	Branches   []execFlow     `json:"branches"`
}

type execBusState struct {
	ID int     `json:"id"`
	Va float64 `json:"va"`
	Vm float64 `json:"vm"`
}

type execDispatch struct {
	ID int     `json:"id"`
	Pg float64 `json:"pg"`
	Qg float64 `json:"qg"`
}

type execFlow struct {
	ID int     `json:"id"`
	Pf float64 `json:"pf"`
	Qf float64 `json:"qf"`
	Pt float64 `json:"pt"`
	Qt float64 `json:"qt"`
}

type execSlack struct {
	ID int     `json:"id"`
	MW float64 `json:"mw"`
}

//
// ---------- Invocation ----------
//

func (e *Exec) Solve(ctx context.Context, net *model.Network, opts Options) (*Result, error) {
	start := time.Now()
	if net == nil {
		return nil, fmt.Errorf("exec solver: nil network")
	}

	payload, err := json.Marshal(buildExecRequest(net, opts))
	if err != nil {
		return nil, fmt.Errorf("exec solver: marshal request: %w", err)
	}

	runCtx := ctx
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.binary, e.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A killed solver can leave children holding the output pipes; stop
	// waiting on them after a grace period.
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			// Per-solve time limit: the scenario failed, the run goes on.
			return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
		}
		return nil, fmt.Errorf("exec solver %s: %w (stderr: %s)", e.binary, err, tailOf(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("exec solver %s: decode response: %w", e.binary, err)
	}
	return e.buildResult(&resp, time.Since(start))
}

func (e *Exec) buildResult(resp *execResponse, elapsed time.Duration) (*Result, error) {
	res := &Result{
		Status:    model.NormalizeStatus(resp.Status),
		Objective: resp.Objective,
		SolveTime: elapsed,
	}
	if resp.SolveTimeSeconds > 0 {
		res.SolveTime = time.Duration(resp.SolveTimeSeconds * float64(time.Second))
	}

	if res.Status.Solved() {
		if resp.Solution == nil {
			return nil, fmt.Errorf("exec solver %s: status %q but no solution", e.binary, resp.Status)
		}
		sol := model.NewSolution()
		for _, b := range resp.Solution.Buses {
			sol.Bus[b.ID] = model.BusState{Va: b.Va, Vm: b.Vm}
		}
		for _, g := range resp.Solution.Generators {
			sol.Generator[g.ID] = model.Dispatch{Pg: g.Pg, Qg: g.Qg}
		}
		for _, f := range resp.Solution.Branches {
			sol.Branch[f.ID] = model.Flow{PFrom: f.Pf, QFrom: f.Qf, PTo: f.Pt, QTo: f.Qt}
		}
		res.Solution = sol
	}

	if len(resp.BusPowerSlack) > 0 {
		res.BusPowerSlack = make(map[int]float64, len(resp.BusPowerSlack))
		for _, s := range resp.BusPowerSlack {
			res.BusPowerSlack[s.ID] = s.MW
		}
	}
	if len(resp.BranchLimitSlack) > 0 {
		res.BranchLimitSlack = make(map[int]float64, len(resp.BranchLimitSlack))
		for _, s := range resp.BranchLimitSlack {
			res.BranchLimitSlack[s.ID] = s.MW
		}
	}
	return res, nil
}

func buildExecRequest(net *model.Network, opts Options) *execRequest {
	req := &execRequest{
		Options: execOptions{
			Relaxed:          opts.Relaxed,
			SlackPenalty:     opts.SlackPenalty,
			TimeLimitSeconds: opts.TimeLimit.Seconds(),
		},
	}
	req.Network = execNetwork{
		Name:    net.Name,
		BaseMVA: net.BaseMVA,
	}
	for _, b := range net.Buses() {
		req.Network.Buses = append(req.Network.Buses, execBus{
			ID: b.ID, VMin: b.VMin, VMax: b.VMax, Zone: b.Zone, Area: b.Area, Type: int(b.Type),
		})
	}
	for _, g := range net.Generators() {
		req.Network.Generators = append(req.Network.Generators, execGenerator{
			ID: g.ID, Bus: g.Bus,
			PMax: g.PMax, PMin: g.PMin, QMax: g.QMax, QMin: g.QMin,
			CostC2: g.CostC2, CostC1: g.CostC1, CostC0: g.CostC0,
			VSetpoint: g.VSetpoint, MBase: g.MBase,
			Status: boolToStatus(g.InService),
		})
	}
	for _, l := range net.Loads() {
		req.Network.Loads = append(req.Network.Loads, execLoad{ID: l.ID, Bus: l.Bus, PD: l.PD, QD: l.QD})
	}
	for _, s := range net.Shunts() {
		req.Network.Shunts = append(req.Network.Shunts, execShunt{ID: s.ID, Bus: s.Bus, GS: s.GS, BS: s.BS})
	}
	for _, br := range net.Branches() {
		req.Network.Branches = append(req.Network.Branches, execBranch{
			ID: br.ID, From: br.From, To: br.To,
			R: br.R, X: br.X, BFrom: br.BFrom, BTo: br.BTo,
			RateA: br.RateA, RateB: br.RateB, RateC: br.RateC,
			Tap: br.Tap, Shift: br.Shift, AngMin: br.AngMin, AngMax: br.AngMax,
			Status: boolToStatus(br.InService),
		})
	}
	return req
}

func boolToStatus(on bool) int {
	if on {
		return 1
	}
	return 0
}

// tailOf keeps error messages readable when a solver dumps a long trace.
func tailOf(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
