// Package checkout talks to payment gateways on behalf of the sign-up flow.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/tumblebus/internal/cart"
)

const (
	ProviderStripe    = "stripe"
	ProviderBraintree = "braintree"
	ProviderManual    = "manual"
)

var (
	ErrExternalService = errors.New("external_service_error")
	ErrUnsupported     = errors.New("unsupported_operation")
	ErrInvalidRequest  = errors.New("invalid_checkout_request")
	ErrUnknownProvider = errors.New("unknown_payment_provider")
)

type LineItem struct {
	Name            string `json:"name"`
	UnitAmountCents int64  `json:"unit_amount_cents"`
	Quantity        int    `json:"quantity"`
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type SessionRequest struct {
	EnrollmentID string
	Currency     string
	Lines        []LineItem
	Customer     Customer
	SuccessURL   string
	CancelURL    string
}

func (r SessionRequest) TotalCents() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.UnitAmountCents * int64(l.Quantity)
	}
	return total
}

func (r SessionRequest) Validate() error {
	if r.EnrollmentID == "" || len(r.Lines) == 0 || r.Customer.Email == "" {
		return ErrInvalidRequest
	}
	for _, l := range r.Lines {
		if l.Quantity < 1 || l.UnitAmountCents < 0 {
			return ErrInvalidRequest
		}
	}
	return nil
}

// Session is a hosted checkout the customer is redirected to.
type Session struct {
	Provider    string `json:"provider"`
	ID          string `json:"id"`
	URL         string `json:"url,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type IntentRequest struct {
	EnrollmentID string
	Currency     string
	AmountCents  int64
	Customer     Customer
}

// Intent is a client confirmable payment handle for embedded checkout.
type Intent struct {
	Provider     string `json:"provider"`
	ID           string `json:"id,omitempty"`
	ClientSecret string `json:"client_secret"`
}

type Verification struct {
	SessionID        string `json:"session_id"`
	EnrollmentID     string `json:"enrollment_id,omitempty"`
	AmountTotalCents int64  `json:"amount_total_cents"`
	Currency         string `json:"currency"`
	Email            string `json:"email"`
	PaymentStatus    string `json:"payment_status"`
	Paid             bool   `json:"paid"`
}

type ChargeRequest struct {
	EnrollmentID string
	AmountCents  int64
	Nonce        string
	Email        string
}

type Charge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Gateway is a payment provider able to start a checkout.
type Gateway interface {
	Provider() string
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifySession(ctx context.Context, sessionID string) (Verification, error)
}

// Charger is implemented by gateways that settle a client nonce server side.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// ExternalServiceError wraps a failed call to a payment provider.
type ExternalServiceError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// LinesFromCart converts priced cart lines into gateway line items.
func LinesFromCart(c cart.Cart) []LineItem {
	lines := c.Lines()
	out := make([]LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineItem{Name: l.Name, UnitAmountCents: l.UnitPriceCents, Quantity: l.Quantity})
	}
	return out
}
