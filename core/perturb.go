package core

import (
	"fmt"
	"math/rand"

	"github.com/gridsignal/scenariogen/model"
)

// Range is a closed interval for uniform sampling of demand scale factors.
type Range struct {
	Low  float64
	High float64
}

// Validate rejects ranges that cannot produce a usable scale factor.
func (r Range) Validate() error {
	if r.Low < 0 {
		return fmt.Errorf("range low %v is negative", r.Low)
	}
	if r.Low > r.High {
		return fmt.Errorf("range low %v exceeds high %v", r.Low, r.High)
	}
	return nil
}

func (r Range) sample(rng *rand.Rand) float64 {
	return r.Low + rng.Float64()*(r.High-r.Low)
}

// Perturber derives per-scenario demand variations from a base topology by
// scaling each load's active and reactive demand with uniform samples.
//
// Reproducibility contract: every scenario gets a private generator seeded
// with seedOffset + scenarioID, loads are visited in ascending ID order, and
// the active draw precedes the reactive draw for each load. The same inputs
// therefore produce bit-identical demand no matter which worker runs the
// scenario or in what order the batch executes.
type Perturber struct {
	pRange     Range
	qRange     Range
	seedOffset int64
}

// NewPerturber validates the scale ranges and returns a Perturber.
func NewPerturber(pRange, qRange Range, seedOffset int64) (*Perturber, error) {
	if err := pRange.Validate(); err != nil {
		return nil, fmt.Errorf("NewPerturber: p_range: %w", err)
	}
	if err := qRange.Validate(); err != nil {
		return nil, fmt.Errorf("NewPerturber: q_range: %w", err)
	}
	return &Perturber{pRange: pRange, qRange: qRange, seedOffset: seedOffset}, nil
}

// Apply mutates net's loads in place. Callers own net exclusively, normally
// by cloning the shared base network first.
func (p *Perturber) Apply(net *model.Network, scenarioID int) {
	rng := rand.New(rand.NewSource(p.seedOffset + int64(scenarioID)))
	for _, id := range net.LoadIDs() {
		l := net.Load(id)
		l.PD *= p.pRange.sample(rng)
		l.QD *= p.qRange.sample(rng)
	}
}
