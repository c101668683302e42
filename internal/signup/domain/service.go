package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/checkout"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/wizard"
)

// Session is one visitor's pass through the sign up wizard.
type Session struct {
	ID           string       `json:"id"`
	Draft        wizard.Draft `json:"draft"`
	EnrollmentID string       `json:"enrollment_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Store keeps sessions until they expire. Get returns ErrSessionNotFound for
// unknown or expired ids.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// View is what the client renders for the current step.
type View struct {
	ID        string        `json:"id"`
	Steps     []wizard.Step `json:"steps"`
	Current   wizard.Step   `json:"current"`
	Final     bool          `json:"final"`
	Draft     wizard.Draft  `json:"draft"`
	Check     wizard.Check  `json:"check"`
	Cart      *cart.Cart    `json:"cart,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type StartRequest struct {
	Email string `json:"email"`
}

type AddOnInput struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// UpdateRequest patches the draft. Nil fields are left as they are.
type UpdateRequest struct {
	ID           string               `json:"-"`
	Email        *string              `json:"email,omitempty"`
	PackageID    *string              `json:"package_id,omitempty"`
	Children     *int                 `json:"children,omitempty"`
	AddOns       []AddOnInput         `json:"add_ons,omitempty"`
	ChildDrafts  *[]wizard.ChildDraft `json:"child_drafts,omitempty"`
	Parent       *wizard.ParentDraft  `json:"parent,omitempty"`
	Acknowledged *bool                `json:"acknowledged,omitempty"`
}

type SubmitRequest struct {
	ID string `json:"-"`
	// Embedded asks for a client confirmable payment instead of a hosted
	// checkout redirect.
	Embedded bool `json:"embedded"`
	// Nonce settles the payment server side on gateways that support it.
	Nonce     string `json:"nonce,omitempty"`
	ClientKey string `json:"-"`
}

type SubmitResult struct {
	Enrollment enrollmentdomain.Enrollment `json:"enrollment"`
	Session    *checkout.Session           `json:"checkout_session,omitempty"`
	Intent     *checkout.Intent            `json:"payment_intent,omitempty"`
	Charge     *checkout.Charge            `json:"charge,omitempty"`
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (View, error)
	Get(ctx context.Context, id string) (View, error)
	Update(ctx context.Context, req UpdateRequest) (View, error)
	Next(ctx context.Context, id string) (View, error)
	Back(ctx context.Context, id string) (View, error)
	ConfirmTrim(ctx context.Context, id string) (View, error)
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

var (
	ErrInvalidRequest  = errors.New("invalid_signup_request")
	ErrSessionNotFound = errors.New("signup_session_not_found")
	ErrRateLimited     = errors.New("rate_limited")
)
