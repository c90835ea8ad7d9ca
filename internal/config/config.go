// Package config loads and validates the YAML run plan that drives a
// generation run. Every problem in the plan is reported before any work
// starts; a plan that loads cleanly will not fail validation mid-run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridsignal/scenariogen/core"
)

// Defaults applied by Normalize when the plan omits a value.
const (
	DefaultChunkSize = 50
	DefaultSolver    = "dc"
	DefaultOutDir    = "./data"
)

// Plan is the top-level run plan.
type Plan struct {
	Version   int            `yaml:"version"`
	Instances []InstancePlan `yaml:"instances"`

	// Scenarios is the per-instance scenario count unless an instance
	// overrides it.
	Scenarios  int   `yaml:"scenarios"`
	ChunkSize  int   `yaml:"chunk_size"`
	Workers    int   `yaml:"workers"`
	SeedOffset int64 `yaml:"seed_offset"`

	Perturbation PerturbationPlan `yaml:"perturbation"`
	Solver       SolverPlan       `yaml:"solver"`
	Output       OutputPlan       `yaml:"output"`
}

// InstancePlan names one grid case to generate scenarios for.
type InstancePlan struct {
	Name        string           `yaml:"name"`
	Case        string           `yaml:"case"`
	Scenarios   int              `yaml:"scenarios"`
	Contingency *ContingencyPlan `yaml:"contingency"`
}

// ContingencyPlan describes an outage applied to every scenario of an
// instance.
type ContingencyPlan struct {
	Type string `yaml:"type"`
	ID   int    `yaml:"id"`
}

// Parse maps the plan entry onto the core contingency type.
func (c *ContingencyPlan) Parse() (*core.Contingency, error) {
	typ, err := core.ParseContingencyType(c.Type)
	if err != nil {
		return nil, err
	}
	if c.ID < 1 {
		return nil, fmt.Errorf("contingency id must be >= 1, got %d", c.ID)
	}
	return &core.Contingency{Type: typ, ID: c.ID}, nil
}

// PerturbationPlan carries the multiplicative load scaling ranges. Both
// ranges are required; there is no sensible default scale.
type PerturbationPlan struct {
	PRange [2]float64 `yaml:"p_range"`
	QRange [2]float64 `yaml:"q_range"`
}

// SolverPlan selects and configures the solver backend.
type SolverPlan struct {
	Name         string   `yaml:"name"`
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	SlackPenalty float64  `yaml:"slack_penalty"`
	TimeLimit    string   `yaml:"time_limit"`
}

// TimeLimitDuration parses the configured per-solve time limit. Empty
// means no limit.
func (s SolverPlan) TimeLimitDuration() (time.Duration, error) {
	if s.TimeLimit == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.TimeLimit)
	if err != nil {
		return 0, fmt.Errorf("solver.time_limit: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("solver.time_limit must not be negative, got %s", s.TimeLimit)
	}
	return d, nil
}

// OutputPlan says where chunk files and ledgers land.
type OutputPlan struct {
	Dir string  `yaml:"dir"`
	S3  *S3Plan `yaml:"s3"`
}

// S3Plan configures optional mirroring of finished artifacts to object
// storage. Credentials come from the environment, never from the plan.
type S3Plan struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Secure   bool   `yaml:"secure"`
}

// Enabled reports whether mirroring is configured.
func (s *S3Plan) Enabled() bool {
	return s != nil && s.Endpoint != ""
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParsePlan(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePlan decodes, normalizes, and validates plan YAML.
func ParsePlan(b []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Version != 1 {
		return nil, fmt.Errorf("unsupported plan version: %d", p.Version)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Normalize fills defaults in place. It is safe to call more than once.
func (p *Plan) Normalize() {
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.Solver.Name == "" {
		p.Solver.Name = DefaultSolver
	}
	if p.Output.Dir == "" {
		p.Output.Dir = DefaultOutDir
	}
}

// InstanceScenarios resolves the scenario count for one instance.
func (p *Plan) InstanceScenarios(inst InstancePlan) int {
	if inst.Scenarios > 0 {
		return inst.Scenarios
	}
	return p.Scenarios
}

// Validate checks the whole plan and returns the first problem found.
func (p *Plan) Validate() error {
	if len(p.Instances) == 0 {
		return fmt.Errorf("plan has no instances")
	}
	seen := make(map[string]bool, len(p.Instances))
	for i, inst := range p.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instances[%d]: name is required", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("instances[%d]: duplicate name %q", i, inst.Name)
		}
		seen[inst.Name] = true
		if inst.Case == "" {
			return fmt.Errorf("instance %q: case file is required", inst.Name)
		}
		if n := p.InstanceScenarios(inst); n < 1 {
			return fmt.Errorf("instance %q: scenario count must be >= 1, got %d", inst.Name, n)
		}
		if inst.Contingency != nil {
			if _, err := inst.Contingency.Parse(); err != nil {
				return fmt.Errorf("instance %q: %w", inst.Name, err)
			}
		}
	}

	if p.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be >= 1, got %d", p.ChunkSize)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", p.Workers)
	}

	if err := validateRange("perturbation.p_range", p.Perturbation.PRange); err != nil {
		return err
	}
	if err := validateRange("perturbation.q_range", p.Perturbation.QRange); err != nil {
		return err
	}

	if p.Solver.SlackPenalty < 0 {
		return fmt.Errorf("solver.slack_penalty must not be negative, got %v", p.Solver.SlackPenalty)
	}
	if _, err := p.Solver.TimeLimitDuration(); err != nil {
		return err
	}

	if p.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if s3 := p.Output.S3; s3.Enabled() && s3.Bucket == "" {
		return fmt.Errorf("output.s3.bucket is required when an endpoint is set")
	}
	return nil
}

func validateRange(field string, r [2]float64) error {
	if r == [2]float64{} {
		return fmt.Errorf("%s is required", field)
	}
	rng := core.Range{Low: r[0], High: r[1]}
	if err := rng.Validate(); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// PerturbRanges converts the plan ranges into core ranges.
func (p *Plan) PerturbRanges() (core.Range, core.Range) {
	return core.Range{Low: p.Perturbation.PRange[0], High: p.Perturbation.PRange[1]},
		core.Range{Low: p.Perturbation.QRange[0], High: p.Perturbation.QRange[1]}
}
