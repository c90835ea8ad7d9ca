package model

import "strings"

// SolverStatus is the normalized outcome reported by a solver backend.
type SolverStatus string

const (
	StatusSolved    SolverStatus = "solved"
	StatusNotSolved SolverStatus = "not_solved"
	StatusError     SolverStatus = "error"
)

// Solved reports whether the status counts as a usable operating point.
func (s SolverStatus) Solved() bool { return s == StatusSolved }

// NormalizeStatus maps a raw backend status string onto the SolverStatus
// enum. Common success spellings map to solved; anything unrecognized is
// treated as not solved.
func NormalizeStatus(raw string) SolverStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "solved", "optimal", "converged":
		return StatusSolved
	case "error":
		return StatusError
	default:
		return StatusNotSolved
	}
}

// BusState is the solved voltage at a bus: angle in radians, magnitude in
// per-unit.
type BusState struct {
	Va float64
	Vm float64
}

// Dispatch is the solved output of a generator in MW / MVAr.
type Dispatch struct {
	Pg float64
	Qg float64
}

// Flow is the solved power flow on a branch, measured at each end. Positive
// values flow into the branch.
type Flow struct {
	PFrom float64
	QFrom float64
	PTo   float64
	QTo   float64
}

// Solution is a full operating point keyed by entity ID.
type Solution struct {
	Bus       map[int]BusState
	Generator map[int]Dispatch
	Branch    map[int]Flow
}

// NewSolution creates an empty solution.
func NewSolution() *Solution {
	return &Solution{
		Bus:       make(map[int]BusState),
		Generator: make(map[int]Dispatch),
		Branch:    make(map[int]Flow),
	}
}
