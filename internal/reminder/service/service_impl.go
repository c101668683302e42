package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/money"
	"github.com/smallbiznis/tumblebus/internal/observability/metrics"
	"github.com/smallbiznis/tumblebus/internal/providers/email"
	"github.com/smallbiznis/tumblebus/internal/reminder/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
)

const dueDateLayout = "Jan 2, 2006"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Repo          domain.Repository
	EnrollmentSvc enrollmentdomain.Service
	Email         email.Provider
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	enrollmentsvc enrollmentdomain.Service
	email         email.Provider
	metrics       *metrics.Metrics
	leadDays      int
	maxPerBatch   int
	publicURL     string
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reminder.service"),
		genID:         p.GenID,
		clock:         clk,
		repo:          p.Repo,
		enrollmentsvc: p.EnrollmentSvc,
		email:         p.Email,
		metrics:       p.Metrics,
		leadDays:      p.Cfg.Reminder.LeadDays,
		maxPerBatch:   p.Cfg.Reminder.MaxPerBatch,
		publicURL:     strings.TrimRight(p.Cfg.PublicURL, "/"),
	}
}

func (s *Service) SendDue(ctx context.Context, now time.Time) (domain.Summary, error) {
	var summary domain.Summary
	records, err := s.enrollmentsvc.ListActive(ctx)
	if err != nil {
		return summary, err
	}

	var jobErr error
	for _, e := range records {
		if err := ctx.Err(); err != nil {
			return summary, errors.Join(jobErr, err)
		}
		summary.Scanned++

		eval, err := e.Evaluate(now)
		if err != nil {
			summary.Invalid++
			s.log.Warn("skipping unevaluable enrollment", zap.String("enrollment_id", e.ID.String()), zap.Error(err))
			continue
		}
		kind, due := s.classify(eval)
		if kind == "" {
			summary.Skipped++
			continue
		}
		if s.maxPerBatch > 0 && summary.Sent+summary.Failed >= s.maxPerBatch {
			summary.Deferred++
			continue
		}

		res, err := s.deliver(ctx, e, eval, kind, due, now)
		switch {
		case err != nil:
			summary.Failed++
			jobErr = errors.Join(jobErr, err)
		case res.Delivered:
			summary.Sent++
		default:
			summary.Skipped++
		}
	}
	return summary, jobErr
}

func (s *Service) Send(ctx context.Context, enrollmentID string) (domain.SendResult, error) {
	e, err := s.enrollmentsvc.Get(ctx, enrollmentID)
	if err != nil {
		return domain.SendResult{}, err
	}
	now := s.clock.Now()
	eval, err := e.Evaluate(now)
	if err != nil {
		return domain.SendResult{}, err
	}
	if eval.NextDue == nil {
		return domain.SendResult{}, domain.ErrNothingDue
	}
	kind := domain.KindUpcoming
	if eval.Overdue() {
		kind = domain.KindOverdue
	}
	return s.deliver(ctx, e, eval, kind, *eval.NextDue, now)
}

func (s *Service) List(ctx context.Context, enrollmentID string) ([]domain.Reminder, error) {
	e, err := s.enrollmentsvc.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByEnrollment(ctx, s.db, e.ID)
}

// classify picks the reminder kind for an evaluation, or "" when none is due.
func (s *Service) classify(eval status.Evaluation) (string, time.Time) {
	if eval.NextDue == nil || eval.DaysUntilDue == nil {
		return "", time.Time{}
	}
	switch {
	case eval.Overdue():
		return domain.KindOverdue, *eval.NextDue
	case *eval.DaysUntilDue <= s.leadDays:
		return domain.KindUpcoming, *eval.NextDue
	}
	return "", time.Time{}
}

// deliver sends the reminder for one due date. A reminder already sent for
// that date is returned with Delivered false. Failed attempts are retried.
func (s *Service) deliver(ctx context.Context, e enrollmentdomain.Enrollment, eval status.Evaluation, kind string, due, now time.Time) (domain.SendResult, error) {
	if strings.TrimSpace(e.Email) == "" {
		return domain.SendResult{}, domain.ErrNoEmail
	}
	day := domain.DueDay(due)
	item := domain.Reminder{
		ID:           s.genID.Generate(),
		EnrollmentID: e.ID,
		DueDate:      day,
		Kind:         kind,
		Channel:      domain.ChannelEmail,
		Recipient:    e.Email,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inserted, err := s.repo.Reserve(ctx, s.db, &item)
	if err != nil {
		return domain.SendResult{}, err
	}
	if !inserted {
		existing, err := s.repo.FindByKey(ctx, s.db, e.ID, day)
		if err != nil {
			return domain.SendResult{}, err
		}
		if existing == nil {
			return domain.SendResult{}, fmt.Errorf("reminder for %s on %s vanished", e.ID, day.Format(time.DateOnly))
		}
		if existing.Status == domain.StatusSent {
			return domain.SendResult{Reminder: *existing}, nil
		}
		item = *existing
	}

	log := s.log.With(
		zap.String("enrollment_id", e.ID.String()),
		zap.String("kind", kind),
		zap.String("due_date", day.Format(time.DateOnly)),
		zap.String("email", e.Email),
	)
	if err := s.email.SendTemplate(ctx, []string{e.Email}, email.TemplatePaymentReminder, s.templateData(e, eval, due, kind)); err != nil {
		if markErr := s.repo.MarkFailed(ctx, s.db, item.ID, err.Error(), now); markErr != nil {
			log.Error("failed to mark reminder failed", zap.Error(markErr))
		}
		log.Warn("payment reminder delivery failed", zap.Error(err))
		return domain.SendResult{}, fmt.Errorf("%w: %v", metrics.ErrDelivery, err)
	}
	if err := s.repo.MarkSent(ctx, s.db, item.ID, now); err != nil {
		return domain.SendResult{}, err
	}
	item.Status = domain.StatusSent
	item.SentAt = &now
	item.Attempts++
	item.LastError = ""

	s.metrics.RecordReminderSent(ctx, kind)
	log.Info("payment reminder sent")
	return domain.SendResult{Reminder: item, Delivered: true}, nil
}

func (s *Service) templateData(e enrollmentdomain.Enrollment, eval status.Evaluation, due time.Time, kind string) map[string]any {
	children := make([]string, 0, len(e.Children))
	for _, c := range e.Children {
		children = append(children, c.Name())
	}
	data := map[string]any{
		"ParentName": e.ParentFirstName,
		"Amount":     money.Format(e.AmountCents, e.Currency),
		"DueDate":    due.Format(dueDateLayout),
		"Message":    eval.Message(),
		"Overdue":    kind == domain.KindOverdue,
		"Children":   children,
	}
	if s.publicURL != "" {
		data["PayURL"] = s.publicURL + "/signup?email=" + url.QueryEscape(e.Email)
	}
	if kind == domain.KindOverdue {
		data["subject"] = "Your TumbleBus payment is overdue"
	}
	return data
}
