package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/clock"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	obsmetrics "github.com/smallbiznis/tumblebus/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	EnrollmentSvc enrollmentdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          paymentdomain.Repository
	enrollmentSvc enrollmentdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         clk,
		repo:          p.Repo,
		enrollmentSvc: p.EnrollmentSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

// ProcessEvent records the event once per provider event id and applies it
// to the enrollment. A failed application leaves the event unprocessed so a
// provider retry runs it again.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	enrollment, err := s.resolveEnrollment(ctx, event)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		EnrollmentID:    enrollment.ID,
		Amount:          event.Amount,
		Currency:        event.Currency,
		Payload:         jsonPayload(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.apply(ctx, enrollment, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}

	if inserted {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.EnrollmentID == 0 && strings.TrimSpace(event.CheckoutReference) == "" {
		return paymentdomain.ErrInvalidEnrollment
	}
	currency := strings.TrimSpace(event.Currency)
	if currency == "" {
		return paymentdomain.ErrInvalidCurrency
	}
	event.Currency = strings.ToUpper(currency)
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypeRefunded:
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) resolveEnrollment(ctx context.Context, event *paymentdomain.PaymentEvent) (enrollmentdomain.Enrollment, error) {
	if event.EnrollmentID != 0 {
		e, err := s.enrollmentSvc.Get(ctx, event.EnrollmentID.String())
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, enrollmentdomain.ErrNotFound) {
			return enrollmentdomain.Enrollment{}, err
		}
	}
	if ref := strings.TrimSpace(event.CheckoutReference); ref != "" {
		e, err := s.enrollmentSvc.FindByCheckout(ctx, event.Provider, ref)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, enrollmentdomain.ErrNotFound) {
			return enrollmentdomain.Enrollment{}, err
		}
	}
	s.log.Warn("payment event without matching enrollment",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("checkout_reference", event.CheckoutReference),
	)
	return enrollmentdomain.Enrollment{}, paymentdomain.ErrInvalidEnrollment
}

func (s *Service) apply(ctx context.Context, enrollment enrollmentdomain.Enrollment, event *paymentdomain.PaymentEvent) error {
	fields := []zap.Field{
		zap.String("enrollment_id", enrollment.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.Int64("amount", event.Amount),
		zap.String("currency", event.Currency),
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		res, err := s.enrollmentSvc.RecordPayment(ctx, enrollmentdomain.RecordPaymentRequest{
			ID:          enrollment.ID,
			PaidAt:      event.OccurredAt,
			AmountCents: event.Amount,
		})
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		if !res.Applied {
			s.log.Info("payment older than last recorded payment", fields...)
		}
	case paymentdomain.EventTypePaymentFailed:
		s.log.Warn("payment failed", fields...)
	case paymentdomain.EventTypeRefunded:
		s.log.Info("payment refunded", fields...)
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

// jsonPayload stores non-JSON bodies, such as form posts, as a JSON string.
func jsonPayload(payload []byte) datatypes.JSON {
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(wrapped)
}
