package wizard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/tumblebus/internal/cart"
)

func (e *Engine) reasons(d Draft, kind StepKind) []Reason {
	switch kind {
	case KindEmail:
		return e.emailReasons("email", d.Email)
	case KindPlan:
		return e.planReasons(d)
	case KindChildren:
		return e.childrenReasons(d)
	case KindParent:
		return e.parentReasons(d)
	case KindReview:
		return e.surplusReasons(d)
	}
	return nil
}

func required(field string) Reason {
	return Reason{Field: field, Code: CodeRequired, Message: field + " is required"}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (e *Engine) emailReasons(field, email string) []Reason {
	if blank(email) {
		return []Reason{required(field)}
	}
	if err := e.validate.Var(strings.TrimSpace(email), "email"); err != nil {
		return []Reason{{Field: field, Code: CodeInvalidEmail, Message: field + " is not a valid email address"}}
	}
	return nil
}

func (e *Engine) planReasons(d Draft) []Reason {
	if blank(d.Selection.PackageID) {
		return []Reason{required("package")}
	}
	_, err := e.Cart(d)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cart.ErrUnknownPackage):
		return []Reason{{Field: "package", Code: CodeUnknownPackage, Message: fmt.Sprintf("package %q does not exist", d.Selection.PackageID)}}
	default:
		return []Reason{{Field: "selection", Code: CodeInvalidSelection, Message: err.Error()}}
	}
}

func (e *Engine) childrenReasons(d Draft) []Reason {
	n := e.RequiredChildren(d)
	if n == 0 {
		return []Reason{required("package")}
	}
	now := e.clock.Now()
	var out []Reason
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("children[%d]", i)
		if i >= len(d.Children) {
			out = append(out, required(prefix))
			continue
		}
		out = append(out, childReasons(prefix, d.Children[i], now)...)
	}
	return out
}

func childReasons(prefix string, c ChildDraft, now time.Time) []Reason {
	var out []Reason
	if blank(c.FirstName) {
		out = append(out, required(prefix+".first_name"))
	}
	if blank(c.LastName) {
		out = append(out, required(prefix+".last_name"))
	}

	dobValid := false
	if !blank(c.BirthDate) {
		dob, err := time.Parse(BirthDateLayout, strings.TrimSpace(c.BirthDate))
		switch {
		case err != nil:
			out = append(out, Reason{Field: prefix + ".birth_date", Code: CodeInvalidBirthDate, Message: prefix + ".birth_date must be YYYY-MM-DD"})
		case dob.After(now):
			out = append(out, Reason{Field: prefix + ".birth_date", Code: CodeFutureBirthDate, Message: prefix + ".birth_date is in the future"})
		default:
			dobValid = true
		}
	}
	switch {
	case c.Age != nil && *c.Age < 0:
		out = append(out, Reason{Field: prefix + ".age", Code: CodeInvalidAge, Message: prefix + ".age cannot be negative"})
	case c.Age == nil && !dobValid:
		out = append(out, required(prefix+".age"))
	}

	if blank(c.School) {
		out = append(out, required(prefix+".school"))
	}
	if blank(c.ShirtSize) {
		out = append(out, required(prefix+".shirt_size"))
	}
	return out
}

func (e *Engine) parentReasons(d Draft) []Reason {
	p := d.Parent
	var out []Reason
	if blank(p.FirstName) {
		out = append(out, required("parent.first_name"))
	}
	if blank(p.LastName) {
		out = append(out, required("parent.last_name"))
	}
	email := p.Email
	if blank(email) {
		email = d.Email
	}
	out = append(out, e.emailReasons("parent.email", email)...)
	if blank(p.Phone) {
		out = append(out, required("parent.phone"))
	}
	if blank(p.EmergencyName) {
		out = append(out, required("parent.emergency_name"))
	}
	if blank(p.EmergencyPhone) {
		out = append(out, required("parent.emergency_phone"))
	}
	if blank(p.EmergencyRelation) {
		out = append(out, required("parent.emergency_relation"))
	}
	if !d.Acknowledged {
		out = append(out, Reason{Field: "acknowledgement", Code: CodeAcknowledgement, Message: "the liability and permission acknowledgement must be accepted"})
	}
	return out
}

func (e *Engine) surplusReasons(d Draft) []Reason {
	want := e.RequiredChildren(d)
	if want == 0 || len(d.Children) <= want {
		return nil
	}
	return []Reason{{
		Field:   "children",
		Code:    CodeChildrenSurplus,
		Message: fmt.Sprintf("%d drafted children exceed the package; confirm removal", len(d.Children)-want),
	}}
}
