package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/tumblebus/internal/enrollment/repository"
	enrollmentsvc "github.com/smallbiznis/tumblebus/internal/enrollment/service"
	"github.com/smallbiznis/tumblebus/internal/observability/metrics"
	"github.com/smallbiznis/tumblebus/internal/providers/email"
	"github.com/smallbiznis/tumblebus/internal/reminder/domain"
	"github.com/smallbiznis/tumblebus/internal/reminder/repository"
	"github.com/smallbiznis/tumblebus/pkg/db/dbtest"
)

type sentMail struct {
	to       []string
	template string
	data     map[string]any
}

type captureEmail struct {
	mu   sync.Mutex
	fail error
	sent []sentMail
}

func (c *captureEmail) Send(context.Context, []string, string, string) error { return c.fail }

func (c *captureEmail) SendTemplate(_ context.Context, to []string, name string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	m, _ := data.(map[string]any)
	c.sent = append(c.sent, sentMail{to: to, template: name, data: m})
	return nil
}

type fixture struct {
	svc         domain.Service
	enrollments enrollmentdomain.Service
	mail        *captureEmail
	clock       *clock.FakeClock
}

func newFixture(t *testing.T, maxPerBatch int) *fixture {
	t.Helper()
	db := dbtest.Open(t, &enrollmentdomain.Enrollment{}, &enrollmentdomain.Child{}, &domain.Reminder{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	enrollments := enrollmentsvc.New(enrollmentsvc.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  enrollmentrepo.Provide(),
	})
	cfg := config.Config{PublicURL: "https://tumblebus.test/"}
	cfg.Reminder.LeadDays = 3
	cfg.Reminder.MaxPerBatch = maxPerBatch

	mail := &captureEmail{}
	svc := New(Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Clock:         clk,
		Cfg:           cfg,
		Repo:          repository.Provide(),
		EnrollmentSvc: enrollments,
		Email:         mail,
	})
	return &fixture{svc: svc, enrollments: enrollments, mail: mail, clock: clk}
}

func intPtr(v int) *int { return &v }

// enroll creates an enrollment paid at paidAt, which makes it active.
func (f *fixture) enroll(t *testing.T, addr string, paidAt time.Time) enrollmentdomain.Enrollment {
	t.Helper()
	ctx := context.Background()
	e, err := f.enrollments.Create(ctx, enrollmentdomain.CreateEnrollmentRequest{
		Email:           addr,
		ParentFirstName: "Dana",
		ParentLastName:  "Rivera",
		Phone:           "555-0100",
		PackageID:       "pkg_1child_noreg",
		AmountCents:     5000,
		Children: []enrollmentdomain.ChildInput{
			{FirstName: "Ava", LastName: "Rivera", Age: intPtr(5), School: "Little Oaks", ShirtSize: "youth-s"},
		},
	})
	require.NoError(t, err)
	res, err := f.enrollments.RecordPayment(ctx, enrollmentdomain.RecordPaymentRequest{ID: e.ID, PaidAt: paidAt, AmountCents: 5000})
	require.NoError(t, err)
	require.True(t, res.Applied)
	return res.Enrollment
}

func TestSendDueUpcomingOncePerDueDate(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	e := f.enroll(t, "dana@example.com", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	f.enroll(t, "far@example.com", time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC))

	now := time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC)
	summary, err := f.svc.SendDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Skipped)

	require.Len(t, f.mail.sent, 1)
	mail := f.mail.sent[0]
	assert.Equal(t, []string{"dana@example.com"}, mail.to)
	assert.Equal(t, email.TemplatePaymentReminder, mail.template)
	assert.Equal(t, "due in 2 days", mail.data["Message"])
	assert.Equal(t, false, mail.data["Overdue"])
	assert.Equal(t, []string{"Ava Rivera"}, mail.data["Children"])

	summary, err = f.svc.SendDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sent)
	assert.Len(t, f.mail.sent, 1)

	items, err := f.svc.List(ctx, e.ID.String())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusSent, items[0].Status)
	assert.Equal(t, domain.KindUpcoming, items[0].Kind)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), items[0].DueDate.UTC())
}

func TestSendDueOverdue(t *testing.T) {
	f := newFixture(t, 0)
	f.enroll(t, "late@example.com", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	summary, err := f.svc.SendDue(context.Background(), time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, true, f.mail.sent[0].data["Overdue"])
	assert.Equal(t, "overdue by 5 days", f.mail.sent[0].data["Message"])
	assert.Equal(t, "Your TumbleBus payment is overdue", f.mail.sent[0].data["subject"])
}

func TestSendDueFailureIsRetried(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	e := f.enroll(t, "dana@example.com", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	now := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

	f.mail.fail = errors.New("smtp down")
	summary, err := f.svc.SendDue(ctx, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, metrics.ErrDelivery)
	assert.Equal(t, 1, summary.Failed)

	items, err := f.svc.List(ctx, e.ID.String())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusFailed, items[0].Status)
	assert.Equal(t, "smtp down", items[0].LastError)

	f.mail.fail = nil
	summary, err = f.svc.SendDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)

	items, err = f.svc.List(ctx, e.ID.String())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusSent, items[0].Status)
	assert.Equal(t, 2, items[0].Attempts)
	assert.Empty(t, items[0].LastError)
}

func TestSendDueBatchCapDefers(t *testing.T) {
	f := newFixture(t, 1)
	paid := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	f.enroll(t, "one@example.com", paid)
	f.enroll(t, "two@example.com", paid)

	summary, err := f.svc.SendDue(context.Background(), time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Deferred)
}

func TestSendSingle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	e := f.enroll(t, "dana@example.com", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	f.clock.Set(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	res, err := f.svc.Send(ctx, e.ID.String())
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, domain.KindUpcoming, res.Reminder.Kind)

	res, err = f.svc.Send(ctx, e.ID.String())
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Len(t, f.mail.sent, 1)
}

func TestSendWithoutPaymentHasNothingDue(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	e, err := f.enrollments.Create(ctx, enrollmentdomain.CreateEnrollmentRequest{
		Email:           "new@example.com",
		ParentFirstName: "Sam",
		ParentLastName:  "Lee",
		Phone:           "555-0101",
		AmountCents:     5000,
		Children: []enrollmentdomain.ChildInput{
			{FirstName: "Mia", LastName: "Lee", Age: intPtr(4), School: "Little Oaks", ShirtSize: "toddler"},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, e.ID.String())
	assert.ErrorIs(t, err, domain.ErrNothingDue)

	_, err = f.svc.Send(ctx, "12345")
	assert.ErrorIs(t, err, enrollmentdomain.ErrNotFound)
}

func TestReminderPayLinkEscapesEmail(t *testing.T) {
	f := newFixture(t, 0)
	f.enroll(t, "dana+kids@example.com", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	_, err := f.svc.SendDue(context.Background(), time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "https://tumblebus.test/signup?email=dana%2Bkids%40example.com", f.mail.sent[0].data["PayURL"])
}
