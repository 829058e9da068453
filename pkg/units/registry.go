package units

import (
	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// Registry is the immutable, ordered set of enabled units of one run
type Registry struct {
	specs  []UnitSpec
	byName map[string]int
}

// NewRegistry validates the unit definitions and applies their defaults.
// Disabled units are dropped; depending on one is a configuration error.
// The input is not modified.
func NewRegistry(specs []UnitSpec) (*Registry, error) {
	registry := &Registry{
		byName: make(map[string]int, len(specs)),
	}

	declared := make(map[string]bool, len(specs))
	disabled := make(map[string]bool)

	for i, in := range specs {
		if declared[in.Name] && in.Name != "" {
			return nil, errors.NewConfigError("duplicate unit name: "+in.Name, nil).
				WithContext("unit", in.Name).WithContext("unit_index", i)
		}

		spec := in.Clone()
		ApplyDefaults(&spec)
		if err := ValidateUnitSpec(spec); err != nil {
			if domainErr, ok := err.(*errors.DomainError); ok {
				domainErr.WithContext("unit_index", i)
			}
			return nil, err
		}
		declared[spec.Name] = true

		if !spec.IsEnabled() {
			disabled[spec.Name] = true
			continue
		}

		registry.byName[spec.Name] = len(registry.specs)
		registry.specs = append(registry.specs, spec)
	}

	for _, spec := range registry.specs {
		for _, dep := range spec.After {
			if disabled[dep] {
				return nil, errors.NewConfigError("depends on disabled unit: "+dep, nil).WithContext("unit", spec.Name)
			}
			if !declared[dep] {
				return nil, errors.NewConfigError("depends on unknown unit: "+dep, nil).WithContext("unit", spec.Name)
			}
		}
	}

	return registry, nil
}

// Get returns a copy of the named unit
func (r *Registry) Get(name string) (UnitSpec, bool) {
	i, ok := r.byName[name]
	if !ok {
		return UnitSpec{}, false
	}
	return r.specs[i].Clone(), true
}

// Names returns unit names in declaration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, spec := range r.specs {
		names[i] = spec.Name
	}
	return names
}

// Specs returns copies of all units in declaration order
func (r *Registry) Specs() []UnitSpec {
	specs := make([]UnitSpec, len(r.specs))
	for i, spec := range r.specs {
		specs[i] = spec.Clone()
	}
	return specs
}

func (r *Registry) Len() int {
	return len(r.specs)
}

// Dependencies maps every unit to the units it starts after
func (r *Registry) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(r.specs))
	for _, spec := range r.specs {
		deps[spec.Name] = cloneStrings(spec.After)
	}
	return deps
}
