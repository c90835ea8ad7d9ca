package core

import (
	"fmt"
	"strings"

	"github.com/gridsignal/scenariogen/model"
)

// ContingencyType names the kind of element taken out of service.
type ContingencyType string

const (
	ContingencyLine      ContingencyType = "line"
	ContingencyGenerator ContingencyType = "generator"
)

// Contingency describes a single-element outage applied to every scenario of
// an instance, turning a base-case batch into a post-contingency batch.
type Contingency struct {
	Type ContingencyType
	ID   int
}

// ParseContingencyType maps a config string onto the enum.
func ParseContingencyType(s string) (ContingencyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "line", "branch":
		return ContingencyLine, nil
	case "generator", "gen":
		return ContingencyGenerator, nil
	default:
		return "", fmt.Errorf("unknown contingency type %q", s)
	}
}

// ApplyContingency flips the in-service flag of the named element. It
// mutates net, so callers pass a private clone. Referencing an element the
// network does not have is a configuration fault, not a solver failure.
func ApplyContingency(net *model.Network, c Contingency) error {
	switch c.Type {
	case ContingencyLine:
		br := net.Branch(c.ID)
		if br == nil {
			return fmt.Errorf("ApplyContingency: %w: %d", model.ErrBranchNotFound, c.ID)
		}
		br.InService = false
	case ContingencyGenerator:
		g := net.Generator(c.ID)
		if g == nil {
			return fmt.Errorf("ApplyContingency: %w: %d", model.ErrGenNotFound, c.ID)
		}
		g.InService = false
	default:
		return fmt.Errorf("ApplyContingency: unknown contingency type %q", c.Type)
	}
	return nil
}
