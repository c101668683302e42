package wizard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/clock"
)

func newEngine(t *testing.T, steps ...Step) *Engine {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := New(StaticCatalog(catalog.Default()), clk, steps...)
	require.NoError(t, err)
	return e
}

func intPtr(v int) *int { return &v }

func completeChild(name string) ChildDraft {
	return ChildDraft{
		FirstName: name,
		LastName:  "Rivera",
		Age:       intPtr(5),
		School:    "Little Oaks",
		ShirtSize: "youth-s",
	}
}

func completeParent() ParentDraft {
	return ParentDraft{
		FirstName:         "Dana",
		LastName:          "Rivera",
		Email:             "dana@example.com",
		Phone:             "555-0100",
		EmergencyName:     "Sam Rivera",
		EmergencyPhone:    "555-0101",
		EmergencyRelation: "uncle",
	}
}

func codes(c Check) []string {
	var out []string
	for _, r := range c.Reasons {
		out = append(out, r.Code)
	}
	return out
}

func TestWizardScenarioD(t *testing.T) {
	e := newEngine(t)
	d := e.Start()

	check := e.CanProceed(d)
	assert.False(t, check.OK)
	assert.Equal(t, "plan", check.Step)
	assert.Equal(t, "missing fields: package", check.Summary())

	next, check := e.Next(d)
	assert.False(t, check.OK)
	assert.Equal(t, d, next)
	assert.Equal(t, 0, next.Step)

	d = d.WithPackage("pkg_2children_noreg", 0).WithChild(0, completeChild("Ava"))
	d, check = e.Next(d)
	require.True(t, check.OK)
	assert.Equal(t, 1, d.Step)
	require.Len(t, d.Children, 2)
	assert.Equal(t, ChildDraft{}, d.Children[1])
	assert.Equal(t, 0, d.Surplus)

	check = e.CanProceed(d)
	assert.False(t, check.OK)
	assert.Contains(t, check.Summary(), "children[1].first_name")

	blocked, _ := e.Next(d)
	assert.Equal(t, 1, blocked.Step)

	d = d.WithChild(1, completeChild("Leo"))
	check = e.CanProceed(d)
	assert.True(t, check.OK, check.Summary())
	d, _ = e.Next(d)
	assert.Equal(t, 2, d.Step)
}

func TestWizardBackAlwaysAllowed(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_1child_noreg", 0)
	d, check := e.Next(d)
	require.True(t, check.OK)
	require.Equal(t, 1, d.Step)

	d = d.WithChild(0, ChildDraft{FirstName: "Ava"})
	require.False(t, e.CanProceed(d).OK)

	back := e.Back(d)
	assert.Equal(t, 0, back.Step)
	assert.Equal(t, "Ava", back.Children[0].FirstName)
	assert.Equal(t, 0, e.Back(back).Step)
}

func TestWizardChildrenRequiredFields(t *testing.T) {
	e := newEngine(t)
	base := e.Start().WithPackage("pkg_1child_noreg", 0)
	base, _ = e.Next(base)

	tests := []struct {
		name  string
		child ChildDraft
		code  string
		field string
	}{
		{"missing first name", func() ChildDraft { c := completeChild(""); return c }(), CodeRequired, "children[0].first_name"},
		{"missing school", func() ChildDraft { c := completeChild("Ava"); c.School = " "; return c }(), CodeRequired, "children[0].school"},
		{"missing shirt size", func() ChildDraft { c := completeChild("Ava"); c.ShirtSize = ""; return c }(), CodeRequired, "children[0].shirt_size"},
		{"missing age", func() ChildDraft { c := completeChild("Ava"); c.Age = nil; return c }(), CodeRequired, "children[0].age"},
		{"negative age", func() ChildDraft { c := completeChild("Ava"); c.Age = intPtr(-1); return c }(), CodeInvalidAge, "children[0].age"},
		{"malformed birth date", func() ChildDraft { c := completeChild("Ava"); c.BirthDate = "03/04/2020"; return c }(), CodeInvalidBirthDate, "children[0].birth_date"},
		{"future birth date", func() ChildDraft { c := completeChild("Ava"); c.BirthDate = "2027-01-01"; return c }(), CodeFutureBirthDate, "children[0].birth_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base.WithChild(0, tt.child)
			check := e.CanProceed(d)
			require.False(t, check.OK)
			require.Len(t, check.Reasons, 1)
			assert.Equal(t, tt.code, check.Reasons[0].Code)
			assert.Equal(t, tt.field, check.Reasons[0].Field)

			next, _ := e.Next(d)
			assert.Equal(t, d.Step, next.Step)
		})
	}

	t.Run("age derived from birth date", func(t *testing.T) {
		c := completeChild("Ava")
		c.Age = nil
		c.BirthDate = "2021-03-02"
		d := base.WithChild(0, c)
		assert.True(t, e.CanProceed(d).OK)
		age, ok := c.ResolvedAge(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		assert.True(t, ok)
		assert.Equal(t, 4, age)
	})
}

func TestWizardAcknowledgementGate(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_1child_noreg", 0)
	d, _ = e.Next(d)
	d = d.WithChild(0, completeChild("Ava"))
	d, _ = e.Next(d)
	require.Equal(t, 2, d.Step)

	d = d.WithParent(completeParent())
	check := e.CanProceed(d)
	require.False(t, check.OK)
	assert.Equal(t, []string{CodeAcknowledgement}, codes(check))

	blocked, _ := e.Next(d)
	assert.Equal(t, 2, blocked.Step)

	d = d.WithAcknowledgement(true)
	d, check = e.Next(d)
	require.True(t, check.OK)
	assert.Equal(t, 3, d.Step)
	assert.True(t, e.IsFinal(d))
}

func TestWizardReviewRevalidates(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_1child_noreg", 0)
	d, _ = e.Next(d)
	d = d.WithChild(0, completeChild("Ava"))
	d, _ = e.Next(d)
	d = d.WithParent(completeParent()).WithAcknowledgement(true)
	d, _ = e.Next(d)
	require.True(t, e.CanProceed(d).OK)

	// Data edited out from under the review step is caught again.
	d = d.WithAcknowledgement(false)
	check := e.CanProceed(d)
	assert.False(t, check.OK)
	assert.Equal(t, "review", check.Step)
	assert.Contains(t, codes(check), CodeAcknowledgement)

	_, err := e.BeginSubmit(d)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestWizardSurplusIsFlaggedNotTruncated(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_2children_noreg", 0)
	d = d.WithChild(0, completeChild("Ava")).WithChild(1, completeChild("Leo"))
	d, _ = e.Next(d)
	d = e.Back(d)

	d = d.WithPackage("pkg_1child_noreg", 0)
	d, check := e.Next(d)
	require.True(t, check.OK)
	require.Len(t, d.Children, 2)
	assert.Equal(t, 1, d.Surplus)

	d, _ = e.Next(d)
	d = d.WithParent(completeParent()).WithAcknowledgement(true)
	d, _ = e.Next(d)
	require.True(t, e.IsFinal(d))
	assert.Equal(t, []string{CodeChildrenSurplus}, codes(e.CanProceed(d)))

	d = e.ConfirmTrim(d)
	require.Len(t, d.Children, 1)
	assert.Equal(t, "Ava", d.Children[0].FirstName)
	assert.Equal(t, 0, d.Surplus)
	assert.True(t, e.CanProceed(d).OK)
}

func TestWizardSurplusFollowsChildEdits(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_1child_noreg", 0)
	d = d.WithChild(0, completeChild("Ava")).WithChild(1, completeChild("Leo")).WithChild(2, completeChild("Mia"))
	d, check := e.Next(d)
	require.True(t, check.OK)
	require.Equal(t, 2, d.Surplus)

	trimmed := d.WithoutChild(2).WithoutChild(1)
	assert.Equal(t, 0, trimmed.Surplus)
	assert.Equal(t, 1, e.SyncSurplus(trimmed.WithChild(1, completeChild("Leo"))).Surplus)

	grown := d.WithChild(3, completeChild("Noa"))
	assert.Equal(t, 3, grown.Surplus)

	// a full replacement of the list is recounted against the package
	replaced := d
	for len(replaced.Children) > 0 {
		replaced = replaced.WithoutChild(len(replaced.Children) - 1)
	}
	replaced = e.SyncSurplus(replaced.WithChild(0, completeChild("Ava")))
	assert.Equal(t, 0, replaced.Surplus)
	assert.Equal(t, 2, e.SyncSurplus(d).Surplus)
}

func TestCoveredChildrenNeverExceedsDrafts(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_2children_noreg", 0).WithChild(0, completeChild("Ava"))
	d.Surplus = 2

	covered := e.CoveredChildren(d)
	require.Len(t, covered, 1)
	assert.Equal(t, "Ava", covered[0].FirstName)

	d = d.WithChild(1, completeChild("Leo")).WithChild(2, completeChild("Mia"))
	covered = e.CoveredChildren(d)
	require.Len(t, covered, 2)
	assert.Equal(t, "Leo", covered[1].FirstName)

	assert.Empty(t, e.CoveredChildren(e.Start()))
}

func TestWizardSubmissionGuard(t *testing.T) {
	e := newEngine(t)
	d := e.Start().WithPackage("pkg_1child_noreg", 0).WithChild(0, completeChild("Ava"))
	_, err := e.BeginSubmit(d)
	assert.ErrorIs(t, err, ErrNotAtFinalStep)

	for !e.IsFinal(d) {
		var check Check
		d, check = e.Next(d)
		if !check.OK {
			d = d.WithParent(completeParent()).WithAcknowledgement(true)
		}
	}

	inflight, err := e.BeginSubmit(d)
	require.NoError(t, err)
	assert.True(t, inflight.Submitting)
	assert.False(t, d.Submitting)

	_, err = e.BeginSubmit(inflight)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	failed := e.FinishSubmit(inflight, errors.New("gateway down"))
	assert.False(t, failed.Submitting)
	assert.False(t, failed.Submitted)
	assert.Equal(t, inflight.Children, failed.Children)
	assert.Equal(t, inflight.Parent, failed.Parent)

	retry, err := e.BeginSubmit(failed)
	require.NoError(t, err)
	done := e.FinishSubmit(retry, nil)
	assert.True(t, done.Submitted)

	_, err = e.BeginSubmit(done)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestWizardEmailStep(t *testing.T) {
	steps, err := ParseSteps("email,package,children,details,pay")
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, KindParent, steps[3].Kind)

	e := newEngine(t, steps...)
	d := e.Start().WithEmail("not-an-email")
	check := e.CanProceed(d)
	assert.Equal(t, []string{CodeInvalidEmail}, codes(check))

	d = d.WithEmail("dana@example.com")
	d, check = e.Next(d)
	require.True(t, check.OK)
	assert.Equal(t, "package", e.Current(d).Name)
	assert.Equal(t, "dana@example.com", d.Parent.Email)
}

func TestParseStepsRejectsBadConfig(t *testing.T) {
	for _, raw := range []string{
		"plan,plan",
		"review,plan",
		"plan,package:plan",
		"plan,unknown",
		"children,plan",
		"email,kids,package",
		"email,details,pay",
	} {
		_, err := ParseSteps(raw)
		assert.ErrorIs(t, err, ErrInvalidSteps, raw)
	}

	steps, err := ParseSteps("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSteps, steps)
}

func TestDraftSettersDoNotMutate(t *testing.T) {
	d := Draft{}.WithChild(0, completeChild("Ava")).WithAddOn("misc_5", 2)
	e := d.WithChild(0, completeChild("Leo")).WithAddOn("misc_5", 0)

	assert.Equal(t, "Ava", d.Children[0].FirstName)
	assert.Equal(t, 2, d.Selection.AddOns[0].Quantity)
	assert.Equal(t, "Leo", e.Children[0].FirstName)
	assert.Empty(t, e.Selection.AddOns)

	assert.Equal(t, d, d.WithChild(5, completeChild("x")))
}
