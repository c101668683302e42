package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/directory"
	"github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/observability/metrics"
	"github.com/smallbiznis/tumblebus/internal/status"
	"github.com/smallbiznis/tumblebus/internal/wizard"
	"github.com/smallbiznis/tumblebus/pkg/db"
	"github.com/smallbiznis/tumblebus/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("enrollment.service"),
		genID:    p.GenID,
		clock:    clk,
		repo:     p.Repo,
		metrics:  p.Metrics,
		validate: validator.New(),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateEnrollmentRequest) (domain.Enrollment, error) {
	email, err := s.normalizeEmail(req.Email)
	if err != nil {
		return domain.Enrollment{}, err
	}
	first, last := strings.TrimSpace(req.ParentFirstName), strings.TrimSpace(req.ParentLastName)
	if first == "" || last == "" {
		return domain.Enrollment{}, domain.ErrInvalidName
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return domain.Enrollment{}, domain.ErrInvalidPhone
	}
	if req.AmountCents < 0 {
		return domain.Enrollment{}, domain.ErrInvalidAmount
	}
	stored := status.StoredPending
	if strings.TrimSpace(req.Status) != "" {
		if stored, err = status.ParseStored(req.Status); err != nil {
			return domain.Enrollment{}, domain.ErrInvalidStatus
		}
	}

	now := s.clock.Now()
	id := req.ID
	if id == 0 {
		id = s.genID.Generate()
	}
	children, err := s.buildChildren(id, req.Children, now)
	if err != nil {
		return domain.Enrollment{}, err
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if existing != nil {
		return domain.Enrollment{}, domain.ErrEmailTaken
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	e := domain.Enrollment{
		ID:                id,
		Email:             email,
		ParentFirstName:   first,
		ParentLastName:    last,
		Phone:             phone,
		Address:           strings.TrimSpace(req.Address),
		EmergencyName:     strings.TrimSpace(req.EmergencyName),
		EmergencyPhone:    strings.TrimSpace(req.EmergencyPhone),
		EmergencyRelation: strings.TrimSpace(req.EmergencyRelation),
		ReferralSource:    strings.TrimSpace(req.ReferralSource),
		Notes:             strings.TrimSpace(req.Notes),
		PackageID:         strings.TrimSpace(req.PackageID),
		PlanDescriptor:    strings.TrimSpace(req.PlanDescriptor),
		Selection:         datatypes.NewJSONType(req.Selection),
		AmountCents:       req.AmountCents,
		Currency:          currency,
		Status:            string(stored),
		EnrolledAt:        now,
		IsNew:             true,
		CheckoutProvider:  strings.TrimSpace(req.CheckoutProvider),
		CheckoutReference: strings.TrimSpace(req.CheckoutReference),
		Children:          children,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, &e); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Enrollment{}, domain.ErrEmailTaken
		}
		return domain.Enrollment{}, err
	}

	s.metrics.RecordEnrollmentCreated(ctx, e.PackageID)
	s.log.Info("enrollment created",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("package_id", e.PackageID),
		zap.Int("children", len(e.Children)),
	)
	return e, nil
}

// Reenroll replaces the family's details, selection, amount and children on
// the existing record req.ID. Inactive and cancelled records go back to
// pending until the new checkout settles. The enroll date and last payment
// are kept.
func (s *Service) Reenroll(ctx context.Context, req domain.CreateEnrollmentRequest) (domain.Enrollment, error) {
	if req.ID == 0 {
		return domain.Enrollment{}, domain.ErrInvalidID
	}
	email, err := s.normalizeEmail(req.Email)
	if err != nil {
		return domain.Enrollment{}, err
	}
	first, last := strings.TrimSpace(req.ParentFirstName), strings.TrimSpace(req.ParentLastName)
	if first == "" || last == "" {
		return domain.Enrollment{}, domain.ErrInvalidName
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return domain.Enrollment{}, domain.ErrInvalidPhone
	}
	if req.AmountCents < 0 {
		return domain.Enrollment{}, domain.ErrInvalidAmount
	}

	e, err := s.get(ctx, req.ID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if email != e.Email {
		other, err := s.repo.FindByEmail(ctx, s.db, email)
		if err != nil {
			return domain.Enrollment{}, err
		}
		if other != nil && other.ID != e.ID {
			return domain.Enrollment{}, domain.ErrEmailTaken
		}
	}

	now := s.clock.Now()
	children, err := s.buildChildren(e.ID, req.Children, now)
	if err != nil {
		return domain.Enrollment{}, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = e.Currency
	}
	previous := e.Status
	if stored, err := status.ParseStored(e.Status); err != nil || stored == status.StoredInactive || stored == status.StoredCancelled {
		e.Status = string(status.StoredPending)
	}
	e.Email = email
	e.ParentFirstName = first
	e.ParentLastName = last
	e.Phone = phone
	e.Address = strings.TrimSpace(req.Address)
	e.EmergencyName = strings.TrimSpace(req.EmergencyName)
	e.EmergencyPhone = strings.TrimSpace(req.EmergencyPhone)
	e.EmergencyRelation = strings.TrimSpace(req.EmergencyRelation)
	if v := strings.TrimSpace(req.ReferralSource); v != "" {
		e.ReferralSource = v
	}
	if v := strings.TrimSpace(req.Notes); v != "" {
		e.Notes = v
	}
	e.PackageID = strings.TrimSpace(req.PackageID)
	e.PlanDescriptor = strings.TrimSpace(req.PlanDescriptor)
	e.Selection = datatypes.NewJSONType(req.Selection)
	e.AmountCents = req.AmountCents
	e.Currency = currency
	e.CheckoutProvider = strings.TrimSpace(req.CheckoutProvider)
	e.CheckoutReference = strings.TrimSpace(req.CheckoutReference)
	e.Children = children
	e.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, &e, true); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Enrollment{}, domain.ErrEmailTaken
		}
		return domain.Enrollment{}, err
	}

	s.log.Info("enrollment renewed",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("package_id", e.PackageID),
		zap.String("from", previous),
		zap.String("to", e.Status),
		zap.Int("children", len(e.Children)),
	)
	return e, nil
}

// FindByEmail returns ErrNotFound when no record uses the address.
func (s *Service) FindByEmail(ctx context.Context, rawEmail string) (domain.Enrollment, error) {
	email, err := s.normalizeEmail(rawEmail)
	if err != nil {
		return domain.Enrollment{}, err
	}
	item, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if item == nil {
		return domain.Enrollment{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Get(ctx context.Context, rawID string) (domain.Enrollment, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id snowflake.ID) (domain.Enrollment, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if item == nil {
		return domain.Enrollment{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListEnrollmentRequest) (domain.ListEnrollmentResponse, error) {
	records, err := s.repo.List(ctx, s.db, domain.ListFilter{})
	if err != nil {
		return domain.ListEnrollmentResponse{}, err
	}
	res, err := directory.Run(records, directory.Query{
		Text:      req.Text,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Now:       s.clock.Now(),
	})
	if err != nil {
		return domain.ListEnrollmentResponse{}, err
	}

	page, info := pagination.Slice(res.Entries, pagination.Pagination{Page: req.Page, Limit: req.Limit})
	items := make([]domain.Listing, 0, len(page))
	for _, entry := range page {
		item := domain.Listing{Enrollment: entry.Enrollment}
		if entry.Invalid != nil {
			item.Invalid = entry.Invalid.Error()
		} else {
			eval := entry.Evaluation
			item.Evaluation = &eval
			item.Message = eval.Message()
		}
		items = append(items, item)
	}

	resp := domain.ListEnrollmentResponse{PageInfo: info, Items: items}
	for _, bad := range res.Invalid {
		resp.Warnings = append(resp.Warnings, bad.Invalid.Error())
	}
	if len(res.Invalid) > 0 {
		s.log.Warn("enrollments with invalid status data", zap.Int("count", len(res.Invalid)))
	}
	return resp, nil
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Enrollment, error) {
	return s.repo.List(ctx, s.db, domain.ListFilter{
		Statuses:    []string{string(status.StoredActive), "approved"},
		WithPayment: true,
	})
}

func (s *Service) Update(ctx context.Context, req domain.UpdateEnrollmentRequest) (domain.Enrollment, error) {
	e, err := s.Get(ctx, req.ID)
	if err != nil {
		return domain.Enrollment{}, err
	}

	if req.Email != nil {
		email, err := s.normalizeEmail(*req.Email)
		if err != nil {
			return domain.Enrollment{}, err
		}
		if email != e.Email {
			other, err := s.repo.FindByEmail(ctx, s.db, email)
			if err != nil {
				return domain.Enrollment{}, err
			}
			if other != nil {
				return domain.Enrollment{}, domain.ErrEmailTaken
			}
		}
		e.Email = email
	}
	if err := assignRequired(&e.ParentFirstName, req.ParentFirstName, domain.ErrInvalidName); err != nil {
		return domain.Enrollment{}, err
	}
	if err := assignRequired(&e.ParentLastName, req.ParentLastName, domain.ErrInvalidName); err != nil {
		return domain.Enrollment{}, err
	}
	if err := assignRequired(&e.Phone, req.Phone, domain.ErrInvalidPhone); err != nil {
		return domain.Enrollment{}, err
	}
	assign(&e.Address, req.Address)
	assign(&e.EmergencyName, req.EmergencyName)
	assign(&e.EmergencyPhone, req.EmergencyPhone)
	assign(&e.EmergencyRelation, req.EmergencyRelation)
	assign(&e.Notes, req.Notes)
	assign(&e.PlanDescriptor, req.PlanDescriptor)
	if req.AmountCents != nil {
		if *req.AmountCents < 0 {
			return domain.Enrollment{}, domain.ErrInvalidAmount
		}
		e.AmountCents = *req.AmountCents
	}

	now := s.clock.Now()
	replace := req.Children != nil
	if replace {
		children, err := s.buildChildren(e.ID, *req.Children, now)
		if err != nil {
			return domain.Enrollment{}, err
		}
		e.Children = children
	}
	e.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, &e, replace); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Enrollment{}, domain.ErrEmailTaken
		}
		return domain.Enrollment{}, err
	}
	return e, nil
}

func (s *Service) ChangeStatus(ctx context.Context, req domain.ChangeStatusRequest) (domain.Enrollment, error) {
	next, err := status.ParseStored(req.Status)
	if err != nil {
		return domain.Enrollment{}, domain.ErrInvalidStatus
	}
	e, err := s.Get(ctx, req.ID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if current, err := status.ParseStored(e.Status); err == nil && current == next {
		return e, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, e.ID, string(next), now); err != nil {
		return domain.Enrollment{}, err
	}
	s.log.Info("enrollment status changed",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("from", e.Status),
		zap.String("to", string(next)),
	)
	e.Status = string(next)
	e.UpdatedAt = now
	return e, nil
}

func (s *Service) Delete(ctx context.Context, req domain.DeleteEnrollmentRequest) (domain.DeleteEnrollmentResult, error) {
	if !req.Confirm {
		return domain.DeleteEnrollmentResult{}, domain.ErrConfirmRequired
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.DeleteEnrollmentResult{}, err
	}
	deleted, err := s.repo.Delete(ctx, s.db, id)
	if err != nil {
		return domain.DeleteEnrollmentResult{}, err
	}
	if deleted {
		s.log.Info("enrollment deleted", zap.String("enrollment_id", id.String()))
	}
	return domain.DeleteEnrollmentResult{Deleted: deleted}, nil
}

// RecordPayment moves LastPaymentAt forward and promotes a pending record to
// active. Payments not newer than the recorded one are ignored.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.RecordPaymentResult, error) {
	if req.ID == 0 {
		return domain.RecordPaymentResult{}, domain.ErrInvalidID
	}
	if req.PaidAt.IsZero() || req.AmountCents < 0 {
		return domain.RecordPaymentResult{}, domain.ErrInvalidPayment
	}
	e, err := s.get(ctx, req.ID)
	if err != nil {
		return domain.RecordPaymentResult{}, err
	}
	paidAt := req.PaidAt.UTC()
	if e.LastPaymentAt != nil && !paidAt.After(*e.LastPaymentAt) {
		return domain.RecordPaymentResult{Enrollment: e, Applied: false}, nil
	}

	next := e.Status
	if stored, err := status.ParseStored(e.Status); err == nil && stored == status.StoredPending {
		next = string(status.StoredActive)
	}
	now := s.clock.Now()
	if err := s.repo.UpdatePayment(ctx, s.db, e.ID, paidAt, next, now); err != nil {
		return domain.RecordPaymentResult{}, err
	}
	s.log.Info("payment recorded",
		zap.String("enrollment_id", e.ID.String()),
		zap.Time("paid_at", paidAt),
		zap.Int64("amount_cents", req.AmountCents),
	)
	e.LastPaymentAt = &paidAt
	e.Status = next
	e.UpdatedAt = now
	return domain.RecordPaymentResult{Enrollment: e, Applied: true}, nil
}

func (s *Service) AttachCheckout(ctx context.Context, id snowflake.ID, provider, reference string) error {
	e, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	e.CheckoutProvider = strings.TrimSpace(provider)
	e.CheckoutReference = strings.TrimSpace(reference)
	e.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.db, &e, false)
}

func (s *Service) FindByCheckout(ctx context.Context, provider, reference string) (domain.Enrollment, error) {
	item, err := s.repo.FindByCheckoutReference(ctx, s.db, strings.TrimSpace(provider), strings.TrimSpace(reference))
	if err != nil {
		return domain.Enrollment{}, err
	}
	if item == nil {
		return domain.Enrollment{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) MarkReviewed(ctx context.Context, rawID string) (domain.Enrollment, error) {
	e, err := s.Get(ctx, rawID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if !e.IsNew && e.ReviewedAt != nil {
		return e, nil
	}
	now := s.clock.Now()
	if err := s.repo.MarkReviewed(ctx, s.db, e.ID, now); err != nil {
		return domain.Enrollment{}, err
	}
	e.IsNew = false
	e.ReviewedAt = &now
	e.UpdatedAt = now
	return e, nil
}

func (s *Service) ExpireNewFlags(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.clock.Now()
	n, err := s.repo.ExpireNewFlags(ctx, s.db, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired new flags", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) Lookup(ctx context.Context, rawEmail string) (domain.LookupResult, error) {
	email, err := s.normalizeEmail(rawEmail)
	if err != nil {
		return domain.LookupResult{}, err
	}
	item, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.LookupResult{}, err
	}
	if item == nil {
		return domain.LookupResult{Found: false}, nil
	}
	return domain.LookupResult{
		Found: true,
		Person: &domain.Person{
			FirstName:         item.ParentFirstName,
			LastName:          item.ParentLastName,
			Email:             item.Email,
			Phone:             item.Phone,
			Address:           item.Address,
			EmergencyName:     item.EmergencyName,
			EmergencyPhone:    item.EmergencyPhone,
			EmergencyRelation: item.EmergencyRelation,
		},
		Children: item.Children,
	}, nil
}

func (s *Service) normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || s.validate.Var(email, "email") != nil {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) buildChildren(enrollmentID snowflake.ID, inputs []domain.ChildInput, now time.Time) ([]domain.Child, error) {
	if len(inputs) == 0 {
		return nil, domain.ErrNoChildren
	}
	out := make([]domain.Child, 0, len(inputs))
	for i, in := range inputs {
		child, err := buildChild(in, now)
		if err != nil {
			return nil, err
		}
		child.ID = s.genID.Generate()
		child.EnrollmentID = enrollmentID
		child.Position = i
		out = append(out, child)
	}
	return out, nil
}

func buildChild(in domain.ChildInput, now time.Time) (domain.Child, error) {
	c := domain.Child{
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		Sex:               strings.TrimSpace(in.Sex),
		School:            strings.TrimSpace(in.School),
		Classroom:         strings.TrimSpace(in.Classroom),
		ShirtSize:         strings.TrimSpace(in.ShirtSize),
		TreatAllowed:      in.TreatAllowed,
		Allergies:         strings.TrimSpace(in.Allergies),
		MedicalConditions: strings.TrimSpace(in.MedicalConditions),
	}
	if c.FirstName == "" || c.LastName == "" {
		return domain.Child{}, domain.ErrInvalidChild
	}
	if raw := strings.TrimSpace(in.BirthDate); raw != "" {
		dob, err := time.Parse(wizard.BirthDateLayout, raw)
		if err != nil || dob.After(now) {
			return domain.Child{}, domain.ErrInvalidChild
		}
		c.BirthDate = &dob
		c.Age = wizard.AgeAt(dob, now)
	}
	if in.Age != nil {
		if *in.Age < 0 {
			return domain.Child{}, domain.ErrInvalidChild
		}
		c.Age = *in.Age
	}
	return c, nil
}

func assign(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func assignRequired(dst *string, v *string, err error) error {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return err
	}
	*dst = trimmed
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
