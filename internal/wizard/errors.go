package wizard

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSteps       = errors.New("invalid_wizard_steps")
	ErrValidation         = errors.New("validation_failed")
	ErrSubmissionInFlight = errors.New("submission_in_flight")
	ErrAlreadySubmitted   = errors.New("already_submitted")
	ErrNotAtFinalStep     = errors.New("not_at_final_step")
)

const (
	CodeRequired         = "required"
	CodeInvalidEmail     = "invalid_email"
	CodeUnknownPackage   = "unknown_package"
	CodeInvalidSelection = "invalid_selection"
	CodeInvalidAge       = "invalid_age"
	CodeInvalidBirthDate = "invalid_birth_date"
	CodeFutureBirthDate  = "birth_date_in_future"
	CodeAcknowledgement  = "acknowledgement_required"
	CodeChildrenSurplus  = "children_surplus"
)

// Reason explains one failed field of a step predicate.
type Reason struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Check is the outcome of evaluating a step predicate.
type Check struct {
	Step    string   `json:"step"`
	OK      bool     `json:"ok"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Summary renders the reasons for display, e.g.
// "missing fields: children[0].school, parent.phone".
func (c Check) Summary() string {
	if c.OK {
		return ""
	}
	var missing, other []string
	for _, r := range c.Reasons {
		if r.Code == CodeRequired {
			missing = append(missing, r.Field)
			continue
		}
		other = append(other, r.Message)
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(missing, ", "))
	}
	parts = append(parts, other...)
	return strings.Join(parts, "; ")
}

// Err returns nil for a passing check and a *ValidationError otherwise.
func (c Check) Err() error {
	if c.OK {
		return nil
	}
	return &ValidationError{Step: c.Step, Reasons: c.Reasons, summary: c.Summary()}
}

type ValidationError struct {
	Step    string
	Reasons []Reason
	summary string
}

func (e *ValidationError) Error() string {
	if e.summary == "" {
		return ErrValidation.Error()
	}
	return e.summary
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
