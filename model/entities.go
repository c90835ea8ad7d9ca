package model

// BusType classifies a bus by its role in the power-flow formulation.
type BusType int

const (
	BusPQ       BusType = 1 // load bus, P and Q fixed
	BusPV       BusType = 2 // generator bus, P and Vm fixed
	BusRef      BusType = 3 // reference (slack) bus
	BusIsolated BusType = 4
)

func (t BusType) String() string {
	switch t {
	case BusPQ:
		return "PQ"
	case BusPV:
		return "PV"
	case BusRef:
		return "ref"
	case BusIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Bus is a network node. Voltage bounds are in per-unit.
type Bus struct {
	ID   int
	VMin float64
	VMax float64
	Zone int
	Area int
	Type BusType
}

// Generator is a dispatchable injection attached to a bus. Power limits are
// in MW / MVAr, cost coefficients describe the quadratic production cost
// c2*p^2 + c1*p + c0 in $/h with p in MW.
type Generator struct {
	ID     int
	Bus    int
	PMax   float64
	PMin   float64
	QMax   float64
	QMin   float64
	CostC2 float64
	CostC1 float64
	CostC0 float64

	// VSetpoint is the voltage magnitude the generator regulates to, p.u.
	VSetpoint float64

	// MBase is the machine MVA base.
	MBase float64

	InService bool
}

// Load is a fixed demand attached to a bus, in MW / MVAr.
type Load struct {
	ID  int
	Bus int
	PD  float64
	QD  float64
}

// Shunt is a fixed admittance to ground attached to a bus, specified as
// MW / MVAr consumed at 1.0 p.u. voltage.
type Shunt struct {
	ID  int
	Bus int
	GS  float64
	BS  float64
}

// Branch connects two buses. Impedances are per-unit on the system base;
// angle limits are radians. A branch with Tap != 1 or Shift != 0 is a
// transformer, otherwise it is a plain AC line.
type Branch struct {
	ID    int
	From  int
	To    int
	R     float64
	X     float64
	BFrom float64
	BTo   float64

	// Thermal ratings in MVA: long-term, short-term, emergency.
	// A zero rating means unlimited.
	RateA float64
	RateB float64
	RateC float64

	Tap       float64
	Shift     float64
	AngMin    float64
	AngMax    float64
	InService bool
}

// IsTransformer reports whether the branch models a transformer rather than
// a plain AC line.
func (b *Branch) IsTransformer() bool {
	return b.Tap != 1 || b.Shift != 0
}
