// Package braintree settles embedded checkouts through the Braintree SDK.
package braintree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bt "github.com/braintree-go/braintree-go"

	"github.com/smallbiznis/tumblebus/internal/checkout"
)

type Config struct {
	Environment string
	MerchantID  string
	PublicKey   string
	PrivateKey  string
}

type Gateway struct {
	client *bt.Braintree
}

func New(cfg Config) (*Gateway, error) {
	if cfg.MerchantID == "" || cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("braintree merchant id and keys are required")
	}
	env := bt.Sandbox
	if strings.EqualFold(cfg.Environment, "production") {
		env = bt.Production
	}
	return &Gateway{client: bt.New(env, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey)}, nil
}

func (g *Gateway) Provider() string { return checkout.ProviderBraintree }

// CreateSession is not offered: Braintree has no hosted payment page.
func (g *Gateway) CreateSession(context.Context, checkout.SessionRequest) (checkout.Session, error) {
	return checkout.Session{}, checkout.ErrUnsupported
}

// CreatePaymentIntent returns a client token the drop-in UI exchanges for a
// nonce; the nonce is then settled with Charge.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, req checkout.IntentRequest) (checkout.Intent, error) {
	if req.EnrollmentID == "" || req.AmountCents <= 0 {
		return checkout.Intent{}, checkout.ErrInvalidRequest
	}
	token, err := g.client.ClientToken().Generate(ctx)
	if err != nil {
		return checkout.Intent{}, &checkout.ExternalServiceError{Provider: checkout.ProviderBraintree, Op: "client_token", Err: err}
	}
	return checkout.Intent{Provider: checkout.ProviderBraintree, ClientSecret: token}, nil
}

func (g *Gateway) VerifySession(ctx context.Context, transactionID string) (checkout.Verification, error) {
	if strings.TrimSpace(transactionID) == "" {
		return checkout.Verification{}, checkout.ErrInvalidRequest
	}
	tx, err := g.client.Transaction().Find(ctx, transactionID)
	if err != nil {
		return checkout.Verification{}, &checkout.ExternalServiceError{Provider: checkout.ProviderBraintree, Op: "find_transaction", Err: err}
	}
	v := checkout.Verification{
		SessionID:     tx.Id,
		EnrollmentID:  tx.OrderId,
		Currency:      strings.ToLower(tx.CurrencyISOCode),
		PaymentStatus: string(tx.Status),
		Paid:          settled(tx.Status),
	}
	if tx.Amount != nil {
		v.AmountTotalCents = tx.Amount.Unscaled
		if tx.Amount.Scale != 2 {
			v.AmountTotalCents = rescale(tx.Amount.Unscaled, tx.Amount.Scale)
		}
	}
	return v, nil
}

func (g *Gateway) Charge(ctx context.Context, req checkout.ChargeRequest) (checkout.Charge, error) {
	if req.EnrollmentID == "" || req.Nonce == "" || req.AmountCents <= 0 {
		return checkout.Charge{}, checkout.ErrInvalidRequest
	}
	tx, err := g.client.Transaction().Create(ctx, &bt.TransactionRequest{
		Type:               "sale",
		Amount:             bt.NewDecimal(req.AmountCents, 2),
		PaymentMethodNonce: req.Nonce,
		OrderId:            req.EnrollmentID,
		Customer:           &bt.CustomerRequest{Email: req.Email},
		Options: &bt.TransactionOptions{
			SubmitForSettlement: true,
		},
	})
	if err != nil {
		return checkout.Charge{}, &checkout.ExternalServiceError{Provider: checkout.ProviderBraintree, Op: "charge", Err: err}
	}
	if tx.Status == bt.TransactionStatusProcessorDeclined || tx.Status == bt.TransactionStatusGatewayRejected {
		return checkout.Charge{}, &checkout.ExternalServiceError{
			Provider: checkout.ProviderBraintree,
			Op:       "charge",
			Err:      fmt.Errorf("transaction declined: %s", tx.ProcessorResponseText),
		}
	}
	return checkout.Charge{ID: tx.Id, Status: string(tx.Status)}, nil
}

func settled(s bt.TransactionStatus) bool {
	switch s {
	case bt.TransactionStatusSettled, bt.TransactionStatusSettling, bt.TransactionStatusSubmittedForSettlement:
		return true
	}
	return false
}

func rescale(unscaled int64, scale int) int64 {
	for scale > 2 {
		unscaled /= 10
		scale--
	}
	for scale < 2 {
		unscaled *= 10
		scale++
	}
	return unscaled
}
