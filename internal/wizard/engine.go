package wizard

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/clock"
)

// CatalogSource supplies the current pricing catalog. *catalog.Holder
// satisfies it.
type CatalogSource interface {
	Get() catalog.Catalog
}

type staticCatalog catalog.Catalog

func (s staticCatalog) Get() catalog.Catalog { return catalog.Catalog(s) }

// StaticCatalog wraps a fixed catalog as a CatalogSource.
func StaticCatalog(c catalog.Catalog) CatalogSource { return staticCatalog(c) }

// Engine is a linear stepper over a configured list of steps. It holds no
// per-session state; every transition takes a Draft and returns a new one.
type Engine struct {
	steps    []Step
	catalog  CatalogSource
	clock    clock.Clock
	validate *validator.Validate
}

func New(src CatalogSource, clk clock.Clock, steps ...Step) (*Engine, error) {
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil catalog", ErrInvalidSteps)
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Engine{
		steps:    append([]Step(nil), steps...),
		catalog:  src,
		clock:    clk,
		validate: validator.New(),
	}, nil
}

func (e *Engine) Steps() []Step {
	return append([]Step(nil), e.steps...)
}

// Catalog returns the catalog drafts are currently priced against.
func (e *Engine) Catalog() catalog.Catalog {
	return e.catalog.Get()
}

func (e *Engine) Start() Draft {
	return Draft{}
}

func (e *Engine) Current(d Draft) Step {
	return e.steps[e.clampIndex(d.Step)]
}

func (e *Engine) IsFinal(d Draft) bool {
	return e.clampIndex(d.Step) == len(e.steps)-1
}

// Cart prices the draft's selection against the current catalog.
func (e *Engine) Cart(d Draft) (cart.Cart, error) {
	return cart.Quote(e.catalog.Get(), d.Selection)
}

// RequiredChildren is the number of children the selected package covers,
// or zero when no valid package is selected.
func (e *Engine) RequiredChildren(d Draft) int {
	c, err := e.Cart(d)
	if err != nil {
		return 0
	}
	return c.ChildCount()
}

// CoveredChildren returns the drafted children the selected package pays
// for, in order. Surplus drafts are never part of it.
func (e *Engine) CoveredChildren(d Draft) []ChildDraft {
	n := min(len(d.Children), e.RequiredChildren(d))
	if n <= 0 {
		return nil
	}
	return append([]ChildDraft(nil), d.Children[:n]...)
}

// SyncSurplus recounts the surplus against the selected package without
// growing the children list.
func (e *Engine) SyncSurplus(d Draft) Draft {
	out := d.clone()
	out.Surplus = 0
	if required := e.RequiredChildren(d); required > 0 && len(out.Children) > required {
		out.Surplus = len(out.Children) - required
	}
	return out
}

// CheckStep evaluates the predicate of step i against d.
func (e *Engine) CheckStep(d Draft, i int) Check {
	if i < 0 || i >= len(e.steps) {
		return Check{Step: fmt.Sprintf("#%d", i), Reasons: []Reason{{
			Field: "step", Code: CodeRequired, Message: "no such step",
		}}}
	}
	step := e.steps[i]
	var reasons []Reason
	if step.Kind == KindReview {
		for j := 0; j < i; j++ {
			reasons = append(reasons, e.reasons(d, e.steps[j].Kind)...)
		}
	}
	reasons = append(reasons, e.reasons(d, step.Kind)...)
	return Check{Step: step.Name, OK: len(reasons) == 0, Reasons: reasons}
}

// CanProceed evaluates the predicate of the draft's current step.
func (e *Engine) CanProceed(d Draft) Check {
	return e.CheckStep(d, e.clampIndex(d.Step))
}

// Next advances one step when the current predicate holds. A blocked call
// returns the draft unchanged along with the failing check. Next on the
// final step never advances; submission is the terminal transition.
func (e *Engine) Next(d Draft) (Draft, Check) {
	i := e.clampIndex(d.Step)
	check := e.CheckStep(d, i)
	if !check.OK || i == len(e.steps)-1 {
		return d, check
	}
	out := d.clone()
	if e.steps[i].Kind == KindPlan {
		out = e.reconcileChildren(out)
	}
	out.Step = i + 1
	return out, check
}

// Back moves one step backwards without validating or clearing anything.
func (e *Engine) Back(d Draft) Draft {
	i := e.clampIndex(d.Step)
	if i == 0 {
		return d
	}
	out := d.clone()
	out.Step = i - 1
	return out
}

// ConfirmTrim drops children beyond the package's count.
func (e *Engine) ConfirmTrim(d Draft) Draft {
	required := e.RequiredChildren(d)
	out := d.clone()
	if required > 0 && len(out.Children) > required {
		out.Children = out.Children[:required]
	}
	out.Surplus = 0
	return out
}

// BeginSubmit re-validates every step and sets the submission guard.
func (e *Engine) BeginSubmit(d Draft) (Draft, error) {
	if d.Submitted {
		return d, ErrAlreadySubmitted
	}
	if d.Submitting {
		return d, ErrSubmissionInFlight
	}
	if !e.IsFinal(d) {
		return d, ErrNotAtFinalStep
	}
	last := len(e.steps) - 1
	check := e.CheckStep(d, last)
	if e.steps[last].Kind != KindReview {
		check = e.checkAll(d)
	}
	if err := check.Err(); err != nil {
		return d, err
	}
	out := d.clone()
	out.Submitting = true
	return out, nil
}

// FinishSubmit releases the guard. On failure every entered field stays as
// it was so the caller can retry.
func (e *Engine) FinishSubmit(d Draft, err error) Draft {
	out := d.clone()
	out.Submitting = false
	if err == nil {
		out.Submitted = true
	}
	return out
}

func (e *Engine) checkAll(d Draft) Check {
	var reasons []Reason
	for _, s := range e.steps {
		reasons = append(reasons, e.reasons(d, s.Kind)...)
	}
	last := e.steps[len(e.steps)-1]
	return Check{Step: last.Name, OK: len(reasons) == 0, Reasons: reasons}
}

func (e *Engine) reconcileChildren(d Draft) Draft {
	required := e.RequiredChildren(d)
	for len(d.Children) < required {
		d.Children = append(d.Children, ChildDraft{})
	}
	d.Surplus = 0
	if len(d.Children) > required {
		d.Surplus = len(d.Children) - required
	}
	return d
}

func (e *Engine) clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(e.steps) {
		return len(e.steps) - 1
	}
	return i
}
