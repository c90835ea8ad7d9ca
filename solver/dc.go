package solver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gridsignal/scenariogen/model"
)

const (
	balanceTolMW = 1e-6
	pivotTol     = 1e-12
	lambdaIters  = 100
)

// DC is the built-in backend: equal-marginal-cost economic dispatch plus a
// linearized B-theta power flow. Voltages are held flat and reactive power
// is not modelled, which is enough to produce consistent, rating-aware
// operating points for development runs and tests without an external
// solver.
//
// Strict solves fail on dispatch infeasibility, island imbalance, or branch
// overloads. Relaxed solves absorb imbalance with per-bus power slack and
// price overloads as per-branch limit slack, so they succeed on any network
// with positive branch reactances.
type DC struct{}

// NewDC returns the built-in linearized backend.
func NewDC() *DC { return &DC{} }

func (d *DC) Name() string { return BackendDC }

func (d *DC) Solve(ctx context.Context, net *model.Network, opts Options) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if net == nil {
		return nil, fmt.Errorf("dc: nil network")
	}
	for _, br := range net.Branches() {
		if br.InService && br.X <= 0 {
			return nil, fmt.Errorf("dc: branch %d has non-positive reactance %v", br.ID, br.X)
		}
	}

	busIDs := net.BusIDs()
	n := len(busIDs)
	pos := net.BusIndex()

	// Demand seen by the dispatch: loads plus conductive shunt draw at
	// flat voltage.
	demand := 0.0
	for _, l := range net.Loads() {
		demand += l.PD
	}
	for _, s := range net.Shunts() {
		demand += s.GS
	}

	gens := make([]*model.Generator, 0, len(net.GeneratorIDs()))
	var minCap, maxCap float64
	for _, g := range net.Generators() {
		if !g.InService {
			continue
		}
		gens = append(gens, g)
		minCap += g.PMin
		maxCap += g.PMax
	}

	served := demand
	if opts.Relaxed {
		served = math.Min(math.Max(demand, minCap), maxCap)
	} else if demand < minCap-balanceTolMW || demand > maxCap+balanceTolMW {
		return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
	}
	pg, ok := equalLambdaDispatch(gens, served)
	if !ok {
		return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
	}

	// Bus injection targets in MW.
	injMW := make([]float64, n)
	for _, g := range gens {
		injMW[pos[g.Bus]] += pg[g.ID]
	}
	for _, l := range net.Loads() {
		injMW[pos[l.Bus]] -= l.PD
	}
	for _, s := range net.Shunts() {
		injMW[pos[s.Bus]] -= s.GS
	}

	// Each electrical island must balance on its own. Strict solves reject
	// any residual; relaxed solves absorb it as per-bus power slack.
	slackMW := make([]float64, n)
	comps := components(net, busIDs, pos)
	for _, island := range comps {
		imb := 0.0
		for _, i := range island {
			imb += injMW[i]
		}
		if math.Abs(imb) <= balanceTolMW {
			continue
		}
		if !opts.Relaxed {
			return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
		}
		share := imb / float64(len(island))
		for _, i := range island {
			injMW[i] -= share
			slackMW[i] += math.Abs(share)
		}
	}

	theta, ok := solveAngles(net, comps, pos, injMW)
	if !ok {
		return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
	}

	// Branch flows and thermal checks.
	flows := make(map[int]model.Flow, len(net.BranchIDs()))
	lineSlack := make(map[int]float64)
	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		b := 1.0 / (br.X * tap)
		pf := b * (theta[pos[br.From]] - theta[pos[br.To]] - br.Shift) * net.BaseMVA
		flows[br.ID] = model.Flow{PFrom: pf, PTo: -pf}

		if br.RateA > 0 && math.Abs(pf) > br.RateA+balanceTolMW {
			if !opts.Relaxed {
				return &Result{Status: model.StatusNotSolved, SolveTime: time.Since(start)}, nil
			}
			lineSlack[br.ID] = math.Abs(pf) - br.RateA
		}
	}

	// Objective: production cost, plus penalty on violations when relaxed.
	objective := 0.0
	for _, g := range gens {
		p := pg[g.ID]
		objective += g.CostC2*p*p + g.CostC1*p + g.CostC0
	}

	res := &Result{
		Status:    model.StatusSolved,
		SolveTime: time.Since(start),
		Solution:  buildSolution(net, pos, theta, pg, flows),
	}
	if opts.Relaxed {
		busSlack := make(map[int]float64)
		for i, id := range busIDs {
			if slackMW[i] > 0 {
				busSlack[id] = slackMW[i]
			}
		}
		res.BusPowerSlack = busSlack
		res.BranchLimitSlack = lineSlack
		power, line := res.TotalSlacks()
		objective += opts.SlackPenalty * (power + line)
	}
	res.Objective = objective
	return res, nil
}

// equalLambdaDispatch allocates demand across units so that all marginal
// units run at equal marginal cost, respecting box limits. Returns the MW
// output per generator ID.
func equalLambdaDispatch(gens []*model.Generator, demand float64) (map[int]float64, bool) {
	out := make(map[int]float64, len(gens))
	if len(gens) == 0 {
		return out, math.Abs(demand) <= balanceTolMW
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range gens {
		lo = math.Min(lo, marginalCost(g, g.PMin))
		hi = math.Max(hi, marginalCost(g, g.PMax))
	}
	lo--
	hi++
	for i := 0; i < lambdaIters; i++ {
		mid := (lo + hi) / 2
		total := 0.0
		for _, g := range gens {
			total += outputAt(g, mid)
		}
		if total < demand {
			lo = mid
		} else {
			hi = mid
		}
	}
	lambda := (lo + hi) / 2

	total := 0.0
	for _, g := range gens {
		p := outputAt(g, lambda)
		out[g.ID] = p
		total += p
	}

	// With constant-cost units several can sit exactly at the margin; spread
	// any residual over whoever still has headroom, in ID order.
	residual := demand - total
	for _, g := range gens {
		if math.Abs(residual) <= balanceTolMW {
			break
		}
		if residual > 0 {
			head := g.PMax - out[g.ID]
			if head <= 0 {
				continue
			}
			d := math.Min(head, residual)
			out[g.ID] += d
			residual -= d
		} else {
			head := out[g.ID] - g.PMin
			if head <= 0 {
				continue
			}
			d := math.Min(head, -residual)
			out[g.ID] -= d
			residual += d
		}
	}
	return out, math.Abs(residual) <= balanceTolMW
}

func marginalCost(g *model.Generator, p float64) float64 {
	return 2*g.CostC2*p + g.CostC1
}

func outputAt(g *model.Generator, lambda float64) float64 {
	if g.CostC2 > 0 {
		p := (lambda - g.CostC1) / (2 * g.CostC2)
		return math.Min(math.Max(p, g.PMin), g.PMax)
	}
	if lambda >= g.CostC1 {
		return g.PMax
	}
	return g.PMin
}

// components returns the electrical islands as slices of bus positions in
// ascending order, connected via in-service branches.
func components(net *model.Network, busIDs []int, pos map[int]int) [][]int {
	adj := make(map[int][]int, len(busIDs))
	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		f, t := pos[br.From], pos[br.To]
		adj[f] = append(adj[f], t)
		adj[t] = append(adj[t], f)
	}

	seen := make([]bool, len(busIDs))
	var comps [][]int
	for i := range busIDs {
		if seen[i] {
			continue
		}
		island := []int{i}
		seen[i] = true
		for k := 0; k < len(island); k++ {
			for _, nb := range adj[island[k]] {
				if !seen[nb] {
					seen[nb] = true
					island = append(island, nb)
				}
			}
		}
		sort.Ints(island)
		comps = append(comps, island)
	}
	return comps
}

// solveAngles computes bus voltage angles per island with the island
// reference pinned to zero. Injections are in MW.
func solveAngles(net *model.Network, comps [][]int, pos map[int]int, injMW []float64) ([]float64, bool) {
	theta := make([]float64, len(injMW))

	refPos := -1
	for _, b := range net.Buses() {
		if b.Type == model.BusRef {
			refPos = pos[b.ID]
			break
		}
	}

	for _, island := range comps {
		if len(island) == 1 {
			continue
		}

		local := make(map[int]int, len(island))
		for li, gi := range island {
			local[gi] = li
		}
		ref := 0
		if refPos >= 0 {
			if li, ok := local[refPos]; ok {
				ref = li
			}
		}

		m := len(island)
		bmat := make([][]float64, m)
		for i := range bmat {
			bmat[i] = make([]float64, m)
		}
		rhs := make([]float64, m)
		for li, gi := range island {
			rhs[li] = injMW[gi] / net.BaseMVA
		}

		for _, br := range net.Branches() {
			if !br.InService {
				continue
			}
			lf, ok := local[pos[br.From]]
			if !ok {
				continue
			}
			lt := local[pos[br.To]]
			tap := br.Tap
			if tap == 0 {
				tap = 1
			}
			b := 1.0 / (br.X * tap)
			bmat[lf][lf] += b
			bmat[lt][lt] += b
			bmat[lf][lt] -= b
			bmat[lt][lf] -= b
			rhs[lf] += b * br.Shift
			rhs[lt] -= b * br.Shift
		}

		// Ground the reference: drop its row and column.
		red := make([][]float64, 0, m-1)
		redRHS := make([]float64, 0, m-1)
		keep := make([]int, 0, m-1)
		for li := 0; li < m; li++ {
			if li == ref {
				continue
			}
			row := make([]float64, 0, m-1)
			for lj := 0; lj < m; lj++ {
				if lj == ref {
					continue
				}
				row = append(row, bmat[li][lj])
			}
			red = append(red, row)
			redRHS = append(redRHS, rhs[li])
			keep = append(keep, li)
		}

		x, ok := solveLinear(red, redRHS)
		if !ok {
			return nil, false
		}
		for k, li := range keep {
			theta[island[li]] = x[k]
		}
	}
	return theta, true
}

// solveLinear solves a dense system in place via Gaussian elimination with
// partial pivoting. Returns false when the system is singular.
func solveLinear(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	for col := 0; col < n; col++ {
		piv := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[piv][col]) {
				piv = r
			}
		}
		if math.Abs(a[piv][col]) < pivotTol {
			return nil, false
		}
		a[col], a[piv] = a[piv], a[col]
		b[col], b[piv] = b[piv], b[col]
		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			if f == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, true
}

func buildSolution(net *model.Network, pos map[int]int, theta []float64, pg map[int]float64, flows map[int]model.Flow) *model.Solution {
	sol := model.NewSolution()

	// Flat voltage profile, lifted to the setpoint on regulated buses.
	setpoint := make(map[int]float64)
	for _, g := range net.Generators() {
		if g.InService && g.VSetpoint > 0 {
			if _, ok := setpoint[g.Bus]; !ok {
				setpoint[g.Bus] = g.VSetpoint
			}
		}
	}
	for _, b := range net.Buses() {
		vm := 1.0
		if v, ok := setpoint[b.ID]; ok {
			vm = v
		}
		sol.Bus[b.ID] = model.BusState{Va: theta[pos[b.ID]], Vm: vm}
	}

	for _, g := range net.Generators() {
		d := model.Dispatch{}
		if g.InService {
			d.Pg = pg[g.ID]
		}
		sol.Generator[g.ID] = d
	}
	for _, br := range net.Branches() {
		sol.Branch[br.ID] = flows[br.ID]
	}
	return sol
}
