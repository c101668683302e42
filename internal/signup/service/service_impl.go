package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/checkout"
	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/observability/metrics"
	"github.com/smallbiznis/tumblebus/internal/ratelimit"
	"github.com/smallbiznis/tumblebus/internal/signup/domain"
	"github.com/smallbiznis/tumblebus/internal/wizard"
)

const defaultSessionTTL = 2 * time.Hour

var (
	errSubmitAborted = errors.New("submit aborted")
	errStaleGuard    = errors.New("stale submission guard")
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	GenID         *snowflake.Node
	Clock         clock.Clock
	Engine        *wizard.Engine
	Store         domain.Store
	Gateway       checkout.Gateway
	EnrollmentSvc enrollmentdomain.Service
	Limiter       *ratelimit.Limiter
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	engine        *wizard.Engine
	store         domain.Store
	gateway       checkout.Gateway
	enrollmentsvc enrollmentdomain.Service
	limiter       *ratelimit.Limiter
	metrics       *metrics.Metrics
	ttl           time.Duration
	publicURL     string
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Cfg.WizardSessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		log:           p.Log.Named("signup.service"),
		genID:         p.GenID,
		clock:         clk,
		engine:        p.Engine,
		store:         p.Store,
		gateway:       p.Gateway,
		enrollmentsvc: p.EnrollmentSvc,
		limiter:       p.Limiter,
		metrics:       p.Metrics,
		ttl:           ttl,
		publicURL:     strings.TrimRight(p.Cfg.PublicURL, "/"),
	}
}

// Start opens a session. A known email pre-fills the parent and children
// from the previous enrollment.
func (s *Service) Start(ctx context.Context, req domain.StartRequest) (domain.View, error) {
	now := s.clock.Now()
	draft := s.engine.Start()

	if email := strings.TrimSpace(req.Email); email != "" {
		draft = draft.WithEmail(email)
		found, err := s.enrollmentsvc.Lookup(ctx, email)
		switch {
		case errors.Is(err, enrollmentdomain.ErrInvalidEmail):
			// left for the email predicate to report
		case err != nil:
			return domain.View{}, err
		case found.Found:
			draft = prefill(draft, found)
		}
	}

	sess := domain.Session{
		ID:        ulid.Make().String(),
		Draft:     draft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, &sess); err != nil {
		return domain.View{}, err
	}
	s.log.Debug("signup session started", zap.String("session_id", sess.ID), zap.Bool("returning", draft.Returning))
	return s.view(sess), nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	return s.view(sess), nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (domain.View, error) {
	if err := s.clearStaleGuard(ctx, req.ID); err != nil {
		return domain.View{}, err
	}
	return s.mutate(ctx, req.ID, func(d wizard.Draft) (wizard.Draft, error) {
		if d.Submitted {
			return d, wizard.ErrAlreadySubmitted
		}
		if d.Submitting {
			return d, wizard.ErrSubmissionInFlight
		}
		if req.Email != nil {
			d = d.WithEmail(*req.Email)
		}
		if req.PackageID != nil {
			children := d.Selection.Children
			if req.Children != nil {
				children = *req.Children
			}
			d = d.WithPackage(*req.PackageID, children)
		} else if req.Children != nil {
			d = d.WithPackage(d.Selection.PackageID, *req.Children)
		}
		for _, a := range req.AddOns {
			if a.Quantity < 0 {
				return d, cart.ErrNegativeQuantity
			}
			d = d.WithAddOn(strings.TrimSpace(a.ID), a.Quantity)
		}
		if req.ChildDrafts != nil {
			next := d
			for len(next.Children) > 0 {
				next = next.WithoutChild(len(next.Children) - 1)
			}
			for i, c := range *req.ChildDrafts {
				next = next.WithChild(i, c)
			}
			d = next
		}
		if req.Parent != nil {
			d = d.WithParent(*req.Parent)
		}
		if req.Acknowledged != nil {
			d = d.WithAcknowledgement(*req.Acknowledged)
		}
		return s.engine.SyncSurplus(d), nil
	})
}

// clearStaleGuard drops a persisted submission guard that no running submit
// holds. The guard only counts while the submit lock is taken.
func (s *Service) clearStaleGuard(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil || !sess.Draft.Submitting {
		return err
	}
	token, ok, err := s.limiter.TryLockSubmit(ctx, sess.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer s.limiter.ReleaseSubmit(context.WithoutCancel(ctx), sess.ID, token)

	// reload under the lock so a submit that finished meanwhile wins
	if sess, err = s.load(ctx, id); err != nil || !sess.Draft.Submitting {
		return err
	}
	sess.Draft = s.engine.FinishSubmit(sess.Draft, errStaleGuard)
	s.log.Warn("cleared stale submission guard", zap.String("session_id", sess.ID))
	return s.save(ctx, &sess)
}

// Next advances when the current step passes. A blocked step leaves the
// draft untouched and reports why in the view's check.
func (s *Service) Next(ctx context.Context, id string) (domain.View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	next, check := s.engine.Next(sess.Draft)
	if !check.OK {
		s.metrics.RecordWizardBlocked(ctx, check.Step)
		v := s.view(sess)
		v.Check = check
		return v, nil
	}
	sess.Draft = next
	if err := s.save(ctx, &sess); err != nil {
		return domain.View{}, err
	}
	return s.view(sess), nil
}

func (s *Service) Back(ctx context.Context, id string) (domain.View, error) {
	return s.mutate(ctx, id, func(d wizard.Draft) (wizard.Draft, error) {
		return s.engine.Back(d), nil
	})
}

func (s *Service) ConfirmTrim(ctx context.Context, id string) (domain.View, error) {
	return s.mutate(ctx, id, func(d wizard.Draft) (wizard.Draft, error) {
		return s.engine.ConfirmTrim(d), nil
	})
}

// Submit turns a complete draft into a pending enrollment, or re-enrolls the
// family on file for the same email, and opens the gateway checkout for it.
// The enrollment id is settled before the gateway call so provider metadata
// and webhooks can reference it.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	if strings.TrimSpace(req.ID) == "" {
		return domain.SubmitResult{}, domain.ErrInvalidRequest
	}
	if req.ClientKey != "" {
		res, err := s.limiter.AllowSubmit(ctx, req.ClientKey)
		if err != nil {
			s.log.Warn("submit rate limit check failed", zap.Error(err))
		} else if !res.Allowed {
			return domain.SubmitResult{}, domain.ErrRateLimited
		}
	}

	token, ok, err := s.limiter.TryLockSubmit(ctx, req.ID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if !ok {
		return domain.SubmitResult{}, wizard.ErrSubmissionInFlight
	}
	defer s.limiter.ReleaseSubmit(context.WithoutCancel(ctx), req.ID, token)

	sess, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if sess.Draft.Submitting {
		// the lock is ours, so no submit is running for this flag
		s.log.Warn("cleared stale submission guard", zap.String("session_id", sess.ID))
		sess.Draft = s.engine.FinishSubmit(sess.Draft, errStaleGuard)
	}
	guarded, err := s.engine.BeginSubmit(sess.Draft)
	if err != nil {
		var verr *wizard.ValidationError
		if errors.As(err, &verr) {
			s.metrics.RecordWizardBlocked(ctx, verr.Step)
		}
		return domain.SubmitResult{}, err
	}
	sess.Draft = guarded
	if err := s.resolveEnrollment(ctx, &sess); err != nil {
		return domain.SubmitResult{}, err
	}
	if err := s.save(ctx, &sess); err != nil {
		return domain.SubmitResult{}, err
	}

	return s.submitGuarded(ctx, sess, req)
}

// submitGuarded runs the dispatch with the guard persisted and always
// releases it, including when dispatch panics.
func (s *Service) submitGuarded(ctx context.Context, sess domain.Session, req domain.SubmitRequest) (result domain.SubmitResult, err error) {
	submitErr := errSubmitAborted
	defer func() {
		sess.Draft = s.engine.FinishSubmit(sess.Draft, submitErr)
		if saveErr := s.saveRetry(context.WithoutCancel(ctx), &sess); saveErr != nil {
			s.log.Error("failed to persist signup session after submit", zap.String("session_id", sess.ID), zap.Error(saveErr))
			if err == nil {
				result, err = domain.SubmitResult{}, saveErr
			}
		}
	}()

	result, submitErr = s.dispatch(ctx, sess, req)
	if submitErr != nil {
		s.log.Warn("signup submission failed",
			zap.String("session_id", sess.ID),
			zap.String("enrollment_id", sess.EnrollmentID),
			zap.Error(submitErr),
		)
		return domain.SubmitResult{}, submitErr
	}

	s.log.Info("signup submitted",
		zap.String("session_id", sess.ID),
		zap.String("enrollment_id", result.Enrollment.ID.String()),
		zap.String("provider", s.gateway.Provider()),
		zap.Bool("returning", sess.Draft.Returning),
	)
	return result, nil
}

// resolveEnrollment picks the record the submission writes to before any
// gateway call. A family already on file is re-enrolled under its existing
// id. Otherwise the id left by an earlier attempt is reused, or a new one is
// allocated.
func (s *Service) resolveEnrollment(ctx context.Context, sess *domain.Session) error {
	email := sess.Draft.Parent.Email
	if strings.TrimSpace(email) == "" {
		email = sess.Draft.Email
	}
	existing, err := s.enrollmentsvc.FindByEmail(ctx, email)
	switch {
	case err == nil:
		sess.EnrollmentID = existing.ID.String()
		sess.Draft.Returning = true
		return nil
	case !errors.Is(err, enrollmentdomain.ErrNotFound):
		return err
	}
	if sess.EnrollmentID == "" {
		sess.EnrollmentID = s.genID.Generate().String()
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, sess domain.Session, req domain.SubmitRequest) (domain.SubmitResult, error) {
	d := sess.Draft
	priced, err := s.engine.Cart(d)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	id, err := snowflake.ParseString(sess.EnrollmentID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	currency := s.currency()
	customer := checkout.Customer{
		Email: d.Parent.Email,
		Name:  strings.TrimSpace(d.Parent.FirstName + " " + d.Parent.LastName),
		Phone: d.Parent.Phone,
	}

	var result domain.SubmitResult
	var reference string
	charger, canCharge := s.gateway.(checkout.Charger)

	switch {
	case req.Nonce != "" && canCharge:
		// charged after the enrollment exists
	case req.Embedded:
		intent, err := s.gateway.CreatePaymentIntent(ctx, checkout.IntentRequest{
			EnrollmentID: sess.EnrollmentID,
			Currency:     currency,
			AmountCents:  priced.Total(),
			Customer:     customer,
		})
		if err != nil {
			return domain.SubmitResult{}, err
		}
		result.Intent = &intent
		reference = intent.ID
	default:
		session, err := s.gateway.CreateSession(ctx, checkout.SessionRequest{
			EnrollmentID: sess.EnrollmentID,
			Currency:     currency,
			Lines:        checkout.LinesFromCart(priced),
			Customer:     customer,
			SuccessURL:   s.publicURL + "/signup/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:    s.publicURL + "/signup/cancel?enrollment_id=" + sess.EnrollmentID,
		})
		if err != nil {
			return domain.SubmitResult{}, err
		}
		result.Session = &session
		reference = session.ID
	}

	create := createRequest(id, d, s.engine.CoveredChildren(d), priced, currency, s.gateway.Provider(), reference)
	enrollment, err := s.ensureEnrollment(ctx, id, create)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	result.Enrollment = enrollment

	if req.Nonce != "" && canCharge {
		charge, err := charger.Charge(ctx, checkout.ChargeRequest{
			EnrollmentID: sess.EnrollmentID,
			AmountCents:  priced.Total(),
			Nonce:        req.Nonce,
			Email:        d.Parent.Email,
		})
		if err != nil {
			return domain.SubmitResult{}, err
		}
		if err := s.enrollmentsvc.AttachCheckout(ctx, id, s.gateway.Provider(), charge.ID); err != nil {
			return domain.SubmitResult{}, err
		}
		result.Enrollment.CheckoutProvider = s.gateway.Provider()
		result.Enrollment.CheckoutReference = charge.ID
		result.Charge = &charge
	}
	return result, nil
}

// ensureEnrollment creates the pending record, or renews the one already
// stored under id: a returning family, or an earlier attempt of the same
// session whose payment step failed.
func (s *Service) ensureEnrollment(ctx context.Context, id snowflake.ID, req enrollmentdomain.CreateEnrollmentRequest) (enrollmentdomain.Enrollment, error) {
	_, err := s.enrollmentsvc.Get(ctx, id.String())
	switch {
	case errors.Is(err, enrollmentdomain.ErrNotFound):
		return s.enrollmentsvc.Create(ctx, req)
	case err != nil:
		return enrollmentdomain.Enrollment{}, err
	}
	return s.enrollmentsvc.Reenroll(ctx, req)
}

func (s *Service) currency() string {
	if c := strings.ToLower(strings.TrimSpace(s.engine.Catalog().Currency)); c != "" {
		return c
	}
	return "usd"
}

func (s *Service) mutate(ctx context.Context, id string, fn func(wizard.Draft) (wizard.Draft, error)) (domain.View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	next, err := fn(sess.Draft)
	if err != nil {
		return domain.View{}, err
	}
	sess.Draft = next
	if err := s.save(ctx, &sess); err != nil {
		return domain.View{}, err
	}
	return s.view(sess), nil
}

func (s *Service) load(ctx context.Context, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) save(ctx context.Context, sess *domain.Session) error {
	now := s.clock.Now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	return s.store.Save(ctx, *sess, s.ttl)
}

// saveRetry persists a released guard. A lost write would leave the session
// looking submitted, so it is tried twice.
func (s *Service) saveRetry(ctx context.Context, sess *domain.Session) error {
	err := s.save(ctx, sess)
	if err == nil {
		return nil
	}
	s.log.Warn("retrying signup session save", zap.String("session_id", sess.ID), zap.Error(err))
	return s.save(ctx, sess)
}

func (s *Service) view(sess domain.Session) domain.View {
	v := domain.View{
		ID:        sess.ID,
		Steps:     s.engine.Steps(),
		Current:   s.engine.Current(sess.Draft),
		Final:     s.engine.IsFinal(sess.Draft),
		Draft:     sess.Draft,
		Check:     s.engine.CanProceed(sess.Draft),
		ExpiresAt: sess.ExpiresAt,
	}
	if c, err := s.engine.Cart(sess.Draft); err == nil && !c.IsEmpty() {
		v.Cart = &c
	}
	return v
}

func prefill(d wizard.Draft, found enrollmentdomain.LookupResult) wizard.Draft {
	if found.Person != nil {
		d = d.WithParent(wizard.ParentDraft{
			FirstName:         found.Person.FirstName,
			LastName:          found.Person.LastName,
			Email:             found.Person.Email,
			Phone:             found.Person.Phone,
			Address:           found.Person.Address,
			EmergencyName:     found.Person.EmergencyName,
			EmergencyPhone:    found.Person.EmergencyPhone,
			EmergencyRelation: found.Person.EmergencyRelation,
		})
	}
	for i, c := range found.Children {
		age := c.Age
		child := wizard.ChildDraft{
			FirstName:         c.FirstName,
			LastName:          c.LastName,
			Age:               &age,
			Sex:               c.Sex,
			School:            c.School,
			Classroom:         c.Classroom,
			ShirtSize:         c.ShirtSize,
			TreatAllowed:      c.TreatAllowed,
			Allergies:         c.Allergies,
			MedicalConditions: c.MedicalConditions,
		}
		if c.BirthDate != nil {
			child.Age = nil
			child.BirthDate = c.BirthDate.Format(wizard.BirthDateLayout)
		}
		d = d.WithChild(i, child)
	}
	d.Returning = true
	return d
}

func createRequest(id snowflake.ID, d wizard.Draft, children []wizard.ChildDraft, priced cart.Cart, currency, provider, reference string) enrollmentdomain.CreateEnrollmentRequest {
	req := enrollmentdomain.CreateEnrollmentRequest{
		ID:                id,
		Email:             d.Parent.Email,
		ParentFirstName:   d.Parent.FirstName,
		ParentLastName:    d.Parent.LastName,
		Phone:             d.Parent.Phone,
		Address:           d.Parent.Address,
		EmergencyName:     d.Parent.EmergencyName,
		EmergencyPhone:    d.Parent.EmergencyPhone,
		EmergencyRelation: d.Parent.EmergencyRelation,
		ReferralSource:    d.Parent.ReferralSource,
		Notes:             d.Parent.Notes,
		PackageID:         d.Selection.PackageID,
		Selection:         priced.Selection(),
		AmountCents:       priced.Total(),
		Currency:          currency,
		CheckoutProvider:  provider,
		CheckoutReference: reference,
	}
	if pkg, ok := priced.Package(); ok {
		req.PlanDescriptor = pkg.Name
	}
	if req.Email == "" {
		req.Email = d.Email
	}
	for _, c := range children {
		req.Children = append(req.Children, enrollmentdomain.ChildInput{
			FirstName:         c.FirstName,
			LastName:          c.LastName,
			Age:               c.Age,
			BirthDate:         c.BirthDate,
			Sex:               c.Sex,
			School:            c.School,
			Classroom:         c.Classroom,
			ShirtSize:         c.ShirtSize,
			TreatAllowed:      c.TreatAllowed,
			Allergies:         c.Allergies,
			MedicalConditions: c.MedicalConditions,
		})
	}
	return req
}
