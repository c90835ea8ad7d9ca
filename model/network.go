package model

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrBadEntity      = errors.New("invalid entity")
	ErrEntityExists   = errors.New("entity already exists")
	ErrUnknownBus     = errors.New("references unknown bus")
	ErrBusNotFound    = errors.New("bus not found")
	ErrBranchNotFound = errors.New("branch not found")
	ErrGenNotFound    = errors.New("generator not found")
	ErrNoReferenceBus = errors.New("network has no reference bus")
)

// Network is the in-memory grid topology: buses plus the generators, loads,
// shunts and branches attached to them, keyed by stable positive integer IDs.
//
// A Network is built once by a case loader and treated as read-only
// afterwards. Anything that needs to mutate it (demand perturbation, outage
// application) works on a private Clone, so the base network can be shared
// across worker goroutines without locking.
type Network struct {
	Name    string
	BaseMVA float64

	buses      map[int]*Bus
	generators map[int]*Generator
	loads      map[int]*Load
	shunts     map[int]*Shunt
	branches   map[int]*Branch
}

// NewNetwork creates an empty network on the given MVA base.
func NewNetwork(name string, baseMVA float64) *Network {
	return &Network{
		Name:       name,
		BaseMVA:    baseMVA,
		buses:      make(map[int]*Bus),
		generators: make(map[int]*Generator),
		loads:      make(map[int]*Load),
		shunts:     make(map[int]*Shunt),
		branches:   make(map[int]*Branch),
	}
}

//
// ---------- Buses ----------
//

func (n *Network) AddBus(b *Bus) error {
	if b == nil || b.ID <= 0 {
		return fmt.Errorf("%w: bus", ErrBadEntity)
	}
	if _, exists := n.buses[b.ID]; exists {
		return fmt.Errorf("%w: bus %d", ErrEntityExists, b.ID)
	}
	n.buses[b.ID] = b
	return nil
}

// Bus returns the bus with the given ID, or nil if missing.
func (n *Network) Bus(id int) *Bus { return n.buses[id] }

// BusIDs returns all bus IDs in ascending order.
func (n *Network) BusIDs() []int { return sortedKeys(n.buses) }

// Buses returns all buses in ascending ID order.
func (n *Network) Buses() []*Bus {
	out := make([]*Bus, 0, len(n.buses))
	for _, id := range n.BusIDs() {
		out = append(out, n.buses[id])
	}
	return out
}

// BusIndex maps each bus ID to its zero-based position in ascending ID
// order. Graph encoders and flow solvers index matrices with it.
func (n *Network) BusIndex() map[int]int {
	idx := make(map[int]int, len(n.buses))
	for i, id := range n.BusIDs() {
		idx[id] = i
	}
	return idx
}

//
// ---------- Generators ----------
//

func (n *Network) AddGenerator(g *Generator) error {
	if g == nil || g.ID <= 0 {
		return fmt.Errorf("%w: generator", ErrBadEntity)
	}
	if _, exists := n.generators[g.ID]; exists {
		return fmt.Errorf("%w: generator %d", ErrEntityExists, g.ID)
	}
	if _, ok := n.buses[g.Bus]; !ok {
		return fmt.Errorf("%w: generator %d on bus %d", ErrUnknownBus, g.ID, g.Bus)
	}
	n.generators[g.ID] = g
	return nil
}

func (n *Network) Generator(id int) *Generator { return n.generators[id] }

func (n *Network) GeneratorIDs() []int { return sortedKeys(n.generators) }

// Generators returns all generators in ascending ID order.
func (n *Network) Generators() []*Generator {
	out := make([]*Generator, 0, len(n.generators))
	for _, id := range n.GeneratorIDs() {
		out = append(out, n.generators[id])
	}
	return out
}

//
// ---------- Loads ----------
//

func (n *Network) AddLoad(l *Load) error {
	if l == nil || l.ID <= 0 {
		return fmt.Errorf("%w: load", ErrBadEntity)
	}
	if _, exists := n.loads[l.ID]; exists {
		return fmt.Errorf("%w: load %d", ErrEntityExists, l.ID)
	}
	if _, ok := n.buses[l.Bus]; !ok {
		return fmt.Errorf("%w: load %d on bus %d", ErrUnknownBus, l.ID, l.Bus)
	}
	n.loads[l.ID] = l
	return nil
}

func (n *Network) Load(id int) *Load { return n.loads[id] }

func (n *Network) LoadIDs() []int { return sortedKeys(n.loads) }

// Loads returns all loads in ascending ID order.
func (n *Network) Loads() []*Load {
	out := make([]*Load, 0, len(n.loads))
	for _, id := range n.LoadIDs() {
		out = append(out, n.loads[id])
	}
	return out
}

// TotalDemand sums PD and QD over all loads.
func (n *Network) TotalDemand() (pd, qd float64) {
	for _, l := range n.loads {
		pd += l.PD
		qd += l.QD
	}
	return pd, qd
}

//
// ---------- Shunts ----------
//

func (n *Network) AddShunt(s *Shunt) error {
	if s == nil || s.ID <= 0 {
		return fmt.Errorf("%w: shunt", ErrBadEntity)
	}
	if _, exists := n.shunts[s.ID]; exists {
		return fmt.Errorf("%w: shunt %d", ErrEntityExists, s.ID)
	}
	if _, ok := n.buses[s.Bus]; !ok {
		return fmt.Errorf("%w: shunt %d on bus %d", ErrUnknownBus, s.ID, s.Bus)
	}
	n.shunts[s.ID] = s
	return nil
}

func (n *Network) Shunt(id int) *Shunt { return n.shunts[id] }

func (n *Network) ShuntIDs() []int { return sortedKeys(n.shunts) }

// Shunts returns all shunts in ascending ID order.
func (n *Network) Shunts() []*Shunt {
	out := make([]*Shunt, 0, len(n.shunts))
	for _, id := range n.ShuntIDs() {
		out = append(out, n.shunts[id])
	}
	return out
}

//
// ---------- Branches ----------
//

func (n *Network) AddBranch(b *Branch) error {
	if b == nil || b.ID <= 0 {
		return fmt.Errorf("%w: branch", ErrBadEntity)
	}
	if b.From == b.To {
		return fmt.Errorf("%w: branch %d connects bus %d to itself", ErrBadEntity, b.ID, b.From)
	}
	if _, exists := n.branches[b.ID]; exists {
		return fmt.Errorf("%w: branch %d", ErrEntityExists, b.ID)
	}
	if _, ok := n.buses[b.From]; !ok {
		return fmt.Errorf("%w: branch %d from bus %d", ErrUnknownBus, b.ID, b.From)
	}
	if _, ok := n.buses[b.To]; !ok {
		return fmt.Errorf("%w: branch %d to bus %d", ErrUnknownBus, b.ID, b.To)
	}
	n.branches[b.ID] = b
	return nil
}

func (n *Network) Branch(id int) *Branch { return n.branches[id] }

func (n *Network) BranchIDs() []int { return sortedKeys(n.branches) }

// Branches returns all branches in ascending ID order.
func (n *Network) Branches() []*Branch {
	out := make([]*Branch, 0, len(n.branches))
	for _, id := range n.BranchIDs() {
		out = append(out, n.branches[id])
	}
	return out
}

//
// ---------- Whole-network operations ----------
//

// Clone returns a deep copy. Mutating the copy never affects the receiver.
func (n *Network) Clone() *Network {
	out := NewNetwork(n.Name, n.BaseMVA)
	for id, b := range n.buses {
		cp := *b
		out.buses[id] = &cp
	}
	for id, g := range n.generators {
		cp := *g
		out.generators[id] = &cp
	}
	for id, l := range n.loads {
		cp := *l
		out.loads[id] = &cp
	}
	for id, s := range n.shunts {
		cp := *s
		out.shunts[id] = &cp
	}
	for id, b := range n.branches {
		cp := *b
		out.branches[id] = &cp
	}
	return out
}

// Validate checks structural soundness: a positive MVA base, at least one
// bus, every attachment on a known bus, and exactly one reference bus.
func (n *Network) Validate() error {
	if n.BaseMVA <= 0 {
		return fmt.Errorf("%w: base MVA %.3f", ErrBadEntity, n.BaseMVA)
	}
	if len(n.buses) == 0 {
		return fmt.Errorf("%w: network has no buses", ErrBadEntity)
	}

	refs := 0
	for _, b := range n.buses {
		if b.Type == BusRef {
			refs++
		}
	}
	if refs == 0 {
		return ErrNoReferenceBus
	}
	if refs > 1 {
		return fmt.Errorf("%w: found %d reference buses, want exactly 1", ErrBadEntity, refs)
	}

	for _, g := range n.generators {
		if _, ok := n.buses[g.Bus]; !ok {
			return fmt.Errorf("%w: generator %d on bus %d", ErrUnknownBus, g.ID, g.Bus)
		}
	}
	for _, l := range n.loads {
		if _, ok := n.buses[l.Bus]; !ok {
			return fmt.Errorf("%w: load %d on bus %d", ErrUnknownBus, l.ID, l.Bus)
		}
	}
	for _, s := range n.shunts {
		if _, ok := n.buses[s.Bus]; !ok {
			return fmt.Errorf("%w: shunt %d on bus %d", ErrUnknownBus, s.ID, s.Bus)
		}
	}
	for _, b := range n.branches {
		if _, ok := n.buses[b.From]; !ok {
			return fmt.Errorf("%w: branch %d from bus %d", ErrUnknownBus, b.ID, b.From)
		}
		if _, ok := n.buses[b.To]; !ok {
			return fmt.Errorf("%w: branch %d to bus %d", ErrUnknownBus, b.ID, b.To)
		}
	}
	return nil
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
