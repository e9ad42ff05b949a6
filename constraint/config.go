package constraint

import (
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/quad"
)

// Spec is the YAML/JSON shape of §6's `constraint` config tree:
//
//	@type: checklist | single-valued
//	property: <iri>        # single-valued only
//	constraints: [...]     # checklist only
type Spec struct {
	Type        string `yaml:"@type" json:"@type"`
	Property    string `yaml:"property,omitempty" json:"property,omitempty"`
	Constraints []Spec `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// Build recursively constructs a Constraint tree from its config.
func Build(spec Spec) (Constraint, error) {
	switch spec.Type {
	case "checklist":
		members := make([]Constraint, 0, len(spec.Constraints))
		for _, child := range spec.Constraints {
			c, err := Build(child)
			if err != nil {
				return nil, err
			}
			members = append(members, c)
		}
		return NewCheckList(members...), nil
	case "single-valued":
		if spec.Property == "" {
			return nil, errors.New("constraint: single-valued requires property")
		}
		return NewSingleValued(quad.IRI(spec.Property)), nil
	default:
		return nil, errors.Errorf("constraint: unknown @type %q", spec.Type)
	}
}
