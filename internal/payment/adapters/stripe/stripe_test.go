package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, timestamp))

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing signature error, got %v", err)
	}
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: "stripe", Config: map[string]any{}})
	if !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	_, err = NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: "stripe", Config: map[string]any{"webhook_secret": "  "}})
	if !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for blank secret, got %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	enrollmentID := node.Generate()
	created := time.Now().UTC().Unix()

	tests := []struct {
		name      string
		event     any
		wantType  string
		amount    int64
		reference string
	}{{
		name: "checkout.session.completed",
		event: map[string]any{
			"id":      "evt_cs",
			"type":    "checkout.session.completed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "cs_1",
					"amount_total":   35000,
					"currency":       "usd",
					"payment_status": "paid",
					"payment_intent": "pi_1",
					"created":        created,
					"metadata": map[string]any{
						"enrollment_id": enrollmentID.String(),
					},
				},
			},
		},
		wantType:  paymentdomain.EventTypePaymentSucceeded,
		amount:    35000,
		reference: "cs_1",
	}, {
		name: "checkout.session.async_payment_failed",
		event: map[string]any{
			"id":      "evt_cs_fail",
			"type":    "checkout.session.async_payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":                  "cs_2",
					"amount_total":        35000,
					"currency":            "usd",
					"payment_status":      "unpaid",
					"client_reference_id": enrollmentID.String(),
				},
			},
		},
		wantType:  paymentdomain.EventTypePaymentFailed,
		amount:    35000,
		reference: "cs_2",
	}, {
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_1",
					"amount":          2500,
					"amount_received": 2500,
					"currency":        "usd",
					"created":         created,
					"metadata": map[string]any{
						"enrollment_id": enrollmentID.String(),
					},
				},
			},
		},
		wantType:  paymentdomain.EventTypePaymentSucceeded,
		amount:    2500,
		reference: "pi_1",
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id":      "evt_charge",
			"type":    "charge.refunded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "ch_1",
					"amount":          5000,
					"amount_refunded": 1200,
					"currency":        "usd",
					"payment_intent":  "pi_9",
					"created":         created,
					"metadata": map[string]any{
						"enrollment_id": enrollmentID.String(),
					},
				},
			},
		},
		wantType:  paymentdomain.EventTypeRefunded,
		amount:    1200,
		reference: "pi_9",
	}}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			if event.EnrollmentID != enrollmentID {
				t.Fatalf("expected enrollment %s, got %s", enrollmentID, event.EnrollmentID)
			}
			if event.CheckoutReference != tt.reference {
				t.Fatalf("expected reference %s, got %s", tt.reference, event.CheckoutReference)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
		})
	}
}

func TestParseIgnoresUnpaidSessionsAndUnknownEvents(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}

	unpaid := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"unpaid"}}}`)
	if _, err := adapter.Parse(context.Background(), unpaid); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored for unpaid session, got %v", err)
	}

	unknown := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)
	if _, err := adapter.Parse(context.Background(), unknown); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored for unknown type, got %v", err)
	}

	if _, err := adapter.Parse(context.Background(), []byte(`not json`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	ts := fmt.Sprintf("%d", timestamp)
	return fmt.Sprintf("t=%s,v1=%s", ts, Sign(secret, ts, payload))
}
