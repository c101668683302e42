package checkout

import (
	"context"
	"sync"
)

// Manual records checkouts that are settled offline, e.g. cash at the first
// class. Sessions are never paid until staff record a payment.
type Manual struct {
	mu       sync.Mutex
	sessions map[string]Session
	currency map[string]string
}

func NewManual() *Manual {
	return &Manual{sessions: map[string]Session{}, currency: map[string]string{}}
}

func (m *Manual) Provider() string { return ProviderManual }

func (m *Manual) CreateSession(_ context.Context, req SessionRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}
	s := Session{Provider: ProviderManual, ID: "manual_" + req.EnrollmentID, AmountCents: req.TotalCents()}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.currency[s.ID] = req.Currency
	m.mu.Unlock()
	return s, nil
}

func (m *Manual) CreatePaymentIntent(context.Context, IntentRequest) (Intent, error) {
	return Intent{}, ErrUnsupported
}

func (m *Manual) VerifySession(_ context.Context, id string) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Verification{}, ErrInvalidRequest
	}
	return Verification{
		SessionID:        s.ID,
		AmountTotalCents: s.AmountCents,
		Currency:         m.currency[id],
		PaymentStatus:    "unpaid",
	}, nil
}
