package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/enrollment/repository"
	"github.com/smallbiznis/tumblebus/internal/status"
	"github.com/smallbiznis/tumblebus/pkg/db/dbtest"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &domain.Enrollment{}, &domain.Child{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func createRequest(email string) domain.CreateEnrollmentRequest {
	return domain.CreateEnrollmentRequest{
		Email:           email,
		ParentFirstName: "Dana",
		ParentLastName:  "Rivera",
		Phone:           "555-0100",
		PackageID:       "pkg_1child_noreg",
		AmountCents:     5000,
		Children: []domain.ChildInput{
			{FirstName: "Ava", LastName: "Rivera", Age: intPtr(5), School: "Little Oaks", ShirtSize: "youth-s"},
		},
	}
}

func TestCreateAndGetWithChildren(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := createRequest(" Dana@Example.com ")
	req.Children = append(req.Children, domain.ChildInput{
		FirstName: "Leo", LastName: "Rivera", BirthDate: "2022-06-01", School: "Little Oaks", ShirtSize: "toddler",
	})
	created, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", created.Email)
	assert.Equal(t, string(status.StoredPending), created.Status)
	assert.True(t, created.IsNew)
	assert.Nil(t, created.LastPaymentAt)

	got, err := svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Children, 2)
	assert.Equal(t, "Ava", got.Children[0].FirstName)
	assert.Equal(t, "Leo", got.Children[1].FirstName)
	assert.Equal(t, 3, got.Children[1].Age)
	assert.Equal(t, "pkg_1child_noreg", got.PackageID)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.CreateEnrollmentRequest)
		want   error
	}{
		{"bad email", func(r *domain.CreateEnrollmentRequest) { r.Email = "nope" }, domain.ErrInvalidEmail},
		{"missing name", func(r *domain.CreateEnrollmentRequest) { r.ParentLastName = " " }, domain.ErrInvalidName},
		{"missing phone", func(r *domain.CreateEnrollmentRequest) { r.Phone = "" }, domain.ErrInvalidPhone},
		{"no children", func(r *domain.CreateEnrollmentRequest) { r.Children = nil }, domain.ErrNoChildren},
		{"future birth date", func(r *domain.CreateEnrollmentRequest) { r.Children[0].BirthDate = "2030-01-01" }, domain.ErrInvalidChild},
		{"negative amount", func(r *domain.CreateEnrollmentRequest) { r.AmountCents = -1 }, domain.ErrInvalidAmount},
		{"unknown status", func(r *domain.CreateEnrollmentRequest) { r.Status = "frozen" }, domain.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest("valid@example.com")
			tt.mutate(&req)
			_, err := svc.Create(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, createRequest("dup@example.com"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, createRequest("DUP@example.com"))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestRecordPaymentPromotesAndMovesForward(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, createRequest("pay@example.com"))
	require.NoError(t, err)

	paid := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	res, err := svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: e.ID, PaidAt: paid, AmountCents: 5000})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, string(status.StoredActive), res.Enrollment.Status)

	res, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: e.ID, PaidAt: paid.Add(-time.Hour), AmountCents: 5000})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	got, err := svc.Get(ctx, e.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, paid.Equal(*got.LastPaymentAt))

	clk.Set(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	eval, err := got.Evaluate(clk.Now())
	require.NoError(t, err)
	assert.Equal(t, status.EffectiveInactive, eval.Effective)

	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: e.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidPayment)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: 42, PaidAt: paid})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeStatusIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, createRequest("status@example.com"))
	require.NoError(t, err)

	changed, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: e.ID.String(), Status: "Approved"})
	require.NoError(t, err)
	assert.Equal(t, "active", changed.Status)

	again, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: e.ID.String(), Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, "active", again.Status)

	_, err = svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: e.ID.String(), Status: "paid"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, createRequest("delete@example.com"))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, domain.DeleteEnrollmentRequest{ID: e.ID.String()})
	assert.ErrorIs(t, err, domain.ErrConfirmRequired)

	res, err := svc.Delete(ctx, domain.DeleteEnrollmentRequest{ID: e.ID.String(), Confirm: true})
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	res, err = svc.Delete(ctx, domain.DeleteEnrollmentRequest{ID: e.ID.String(), Confirm: true})
	require.NoError(t, err)
	assert.False(t, res.Deleted)

	_, err = svc.Get(ctx, e.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateReplacesChildren(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, createRequest("update@example.com"))
	require.NoError(t, err)

	children := []domain.ChildInput{
		{FirstName: "Max", LastName: "Rivera", Age: intPtr(6), School: "Elm", ShirtSize: "youth-m"},
		{FirstName: "Ivy", LastName: "Rivera", Age: intPtr(4), School: "Elm", ShirtSize: "youth-xs"},
	}
	updated, err := svc.Update(ctx, domain.UpdateEnrollmentRequest{
		ID:       e.ID.String(),
		Phone:    strPtr("555-0199"),
		Children: &children,
	})
	require.NoError(t, err)
	assert.Equal(t, "555-0199", updated.Phone)

	got, err := svc.Get(ctx, e.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Children, 2)
	assert.Equal(t, "Max", got.Children[0].FirstName)
	assert.Equal(t, "555-0199", got.Phone)

	_, err = svc.Update(ctx, domain.UpdateEnrollmentRequest{ID: e.ID.String(), ParentFirstName: strPtr("")})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestListUsesEffectiveStatus(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	overdue, err := svc.Create(ctx, createRequest("late@example.com"))
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: overdue.ID, PaidAt: clk.Now()})
	require.NoError(t, err)
	_, err = svc.Create(ctx, createRequest("waiting@example.com"))
	require.NoError(t, err)

	clk.Set(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	resp, err := svc.List(ctx, domain.ListEnrollmentRequest{Status: "inactive"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, overdue.ID, resp.Items[0].Enrollment.ID)
	assert.Contains(t, resp.Items[0].Message, "overdue by")

	resp, err = svc.List(ctx, domain.ListEnrollmentRequest{Status: "active"})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)

	resp, err = svc.List(ctx, domain.ListEnrollmentRequest{Text: "waiting", Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 1, resp.Total)
}

func TestLookupAndReview(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	res, err := svc.Lookup(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, res.Found)

	e, err := svc.Create(ctx, createRequest("back@example.com"))
	require.NoError(t, err)
	res, err = svc.Lookup(ctx, "BACK@example.com")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "Dana", res.Person.FirstName)
	require.Len(t, res.Children, 1)

	reviewed, err := svc.MarkReviewed(ctx, e.ID.String())
	require.NoError(t, err)
	assert.False(t, reviewed.IsNew)

	other, err := svc.Create(ctx, createRequest("fresh@example.com"))
	require.NoError(t, err)
	clk.Advance(72 * time.Hour)
	n, err := svc.ExpireNewFlags(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := svc.Get(ctx, other.ID.String())
	require.NoError(t, err)
	assert.False(t, got.IsNew)
}

func TestReenrollRenewsExistingRecord(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest("dana@example.com"))
	require.NoError(t, err)
	paidAt := clk.Now()
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: created.ID, PaidAt: paidAt, AmountCents: 5000})
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: created.ID.String(), Status: "cancelled"})
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	req := createRequest("dana@example.com")
	req.ID = created.ID
	req.PackageID = "pkg_2children_noreg"
	req.AmountCents = 7500
	req.CheckoutProvider = "stripe"
	req.CheckoutReference = "cs_2"
	req.Children = append(req.Children, domain.ChildInput{
		FirstName: "Leo", LastName: "Rivera", Age: intPtr(3), School: "Little Oaks", ShirtSize: "toddler",
	})
	renewed, err := svc.Reenroll(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, created.ID, renewed.ID)
	assert.Equal(t, string(status.StoredPending), renewed.Status)
	assert.Equal(t, int64(7500), renewed.AmountCents)

	got, err := svc.FindByEmail(ctx, "DANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "pkg_2children_noreg", got.PackageID)
	assert.Equal(t, "cs_2", got.CheckoutReference)
	require.Len(t, got.Children, 2)
	assert.Equal(t, "Leo", got.Children[1].FirstName)
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, paidAt.Equal(*got.LastPaymentAt))
	assert.True(t, created.EnrolledAt.Equal(got.EnrolledAt))
}

func TestReenrollKeepsActiveStatusAndRejectsTakenEmail(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	dana, err := svc.Create(ctx, createRequest("dana@example.com"))
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{ID: dana.ID, PaidAt: clk.Now(), AmountCents: 5000})
	require.NoError(t, err)
	_, err = svc.Create(ctx, createRequest("sam@example.com"))
	require.NoError(t, err)

	req := createRequest("dana@example.com")
	req.ID = dana.ID
	renewed, err := svc.Reenroll(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, string(status.StoredActive), renewed.Status)

	req.Email = "sam@example.com"
	_, err = svc.Reenroll(ctx, req)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	req.ID = 0
	_, err = svc.Reenroll(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
