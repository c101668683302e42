package wizard

import (
	"fmt"
	"strings"
)

type StepKind string

const (
	KindEmail    StepKind = "email"
	KindPlan     StepKind = "plan"
	KindChildren StepKind = "children"
	KindParent   StepKind = "parent"
	KindReview   StepKind = "review"
)

var kindAliases = map[string]StepKind{
	"email":    KindEmail,
	"identity": KindEmail,
	"plan":     KindPlan,
	"package":  KindPlan,
	"children": KindChildren,
	"kids":     KindChildren,
	"parent":   KindParent,
	"contact":  KindParent,
	"details":  KindParent,
	"review":   KindReview,
	"pay":      KindReview,
	"payment":  KindReview,
}

type Step struct {
	Name string   `json:"name"`
	Kind StepKind `json:"kind"`
}

var DefaultSteps = []Step{
	{Name: "plan", Kind: KindPlan},
	{Name: "children", Kind: KindChildren},
	{Name: "parent", Kind: KindParent},
	{Name: "review", Kind: KindReview},
}

// ParseSteps reads a comma separated list such as
// "email,package,children,details,pay". An entry is either a known name or
// "name:kind".
func ParseSteps(raw string) ([]Step, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]Step(nil), DefaultSteps...), nil
	}
	var steps []Step
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		name, kindName, ok := strings.Cut(part, ":")
		if !ok {
			kindName = name
		}
		kind, known := kindAliases[strings.TrimSpace(kindName)]
		if !known {
			return nil, fmt.Errorf("%w: unknown step kind %q", ErrInvalidSteps, kindName)
		}
		steps = append(steps, Step{Name: strings.TrimSpace(name), Kind: kind})
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidSteps)
	}
	seen := make(map[string]struct{}, len(steps))
	plans := 0
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidSteps, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidSteps, s.Name)
		}
		seen[s.Name] = struct{}{}
		switch s.Kind {
		case KindEmail, KindParent:
		case KindChildren:
			if plans == 0 {
				return fmt.Errorf("%w: children step %q must follow a plan step", ErrInvalidSteps, s.Name)
			}
		case KindPlan:
			plans++
		case KindReview:
			if i != len(steps)-1 {
				return fmt.Errorf("%w: review step %q must be last", ErrInvalidSteps, s.Name)
			}
		default:
			return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidSteps, s.Name, s.Kind)
		}
	}
	switch {
	case plans == 0:
		return fmt.Errorf("%w: no plan step", ErrInvalidSteps)
	case plans > 1:
		return fmt.Errorf("%w: more than one plan step", ErrInvalidSteps)
	}
	return nil
}
