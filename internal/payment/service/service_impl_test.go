package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/tumblebus/internal/enrollment/repository"
	enrollmentservice "github.com/smallbiznis/tumblebus/internal/enrollment/service"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters/braintree"
	"github.com/smallbiznis/tumblebus/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tumblebus/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tumblebus/internal/payment/service"
	paymentwebhook "github.com/smallbiznis/tumblebus/internal/payment/webhook"
	"github.com/smallbiznis/tumblebus/internal/status"
	"github.com/smallbiznis/tumblebus/pkg/db/dbtest"
)

const stripeSecret = "whsec_test"

type fixture struct {
	db          *gorm.DB
	enrollments enrollmentdomain.Service
	webhooks    paymentdomain.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &enrollmentdomain.Enrollment{}, &enrollmentdomain.Child{}, &paymentdomain.EventRecord{})
	node, err := snowflake.NewNode(10)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))

	enrollments := enrollmentservice.New(enrollmentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  enrollmentrepo.Provide(),
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Repo:          paymentrepo.Provide(),
		EnrollmentSvc: enrollments,
	})
	webhooks := paymentwebhook.NewService(paymentwebhook.Params{
		Log:        zap.NewNop(),
		PaymentSvc: paymentSvc,
		Adapters:   adapters.NewRegistry(stripe.NewFactory(), braintree.NewFactory()),
		Cfg: config.Config{
			Stripe: config.StripeConfig{WebhookSecret: stripeSecret},
		},
	})
	return fixture{db: db, enrollments: enrollments, webhooks: webhooks}
}

func createEnrollment(t *testing.T, svc enrollmentdomain.Service) enrollmentdomain.Enrollment {
	t.Helper()
	age := 6
	e, err := svc.Create(context.Background(), enrollmentdomain.CreateEnrollmentRequest{
		Email:           "parent@example.com",
		ParentFirstName: "Sam",
		ParentLastName:  "Lee",
		Phone:           "555-0101",
		PackageID:       "pkg_1child_noreg",
		AmountCents:     35000,
		Children: []enrollmentdomain.ChildInput{
			{FirstName: "Mia", LastName: "Lee", Age: &age, School: "Oak Park", ShirtSize: "youth-m"},
		},
	})
	require.NoError(t, err)
	return e
}

func sessionCompleted(t *testing.T, eventID string, enrollmentID string, created time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    "checkout.session.completed",
		"created": created.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"amount_total":   35000,
				"currency":       "usd",
				"payment_status": "paid",
				"created":        created.Unix(),
				"metadata":       map[string]any{"enrollment_id": enrollmentID},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func signedHeaders(secret string, payload []byte) http.Header {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, stripe.Sign(secret, ts, payload)))
	return headers
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	return count
}

func TestIngestWebhookRecordsPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := createEnrollment(t, f.enrollments)
	paidAt := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)

	payload := sessionCompleted(t, "evt_1", e.ID.String(), paidAt)
	require.NoError(t, f.webhooks.IngestWebhook(ctx, "stripe", payload, signedHeaders(stripeSecret, payload)))

	got, err := f.enrollments.Get(ctx, e.ID.String())
	require.NoError(t, err)
	assert.Equal(t, string(status.StoredActive), got.Status)
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, paidAt.Equal(*got.LastPaymentAt))
	assert.Equal(t, int64(1), countEvents(t, f.db))
}

func TestIngestWebhookIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := createEnrollment(t, f.enrollments)
	paidAt := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)

	payload := sessionCompleted(t, "evt_dup", e.ID.String(), paidAt)
	require.NoError(t, f.webhooks.IngestWebhook(ctx, "stripe", payload, signedHeaders(stripeSecret, payload)))
	require.NoError(t, f.webhooks.IngestWebhook(ctx, "stripe", payload, signedHeaders(stripeSecret, payload)))

	assert.Equal(t, int64(1), countEvents(t, f.db))
	got, err := f.enrollments.Get(ctx, e.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, paidAt.Equal(*got.LastPaymentAt))
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	f := setup(t)
	e := createEnrollment(t, f.enrollments)
	payload := sessionCompleted(t, "evt_2", e.ID.String(), time.Now())

	err := f.webhooks.IngestWebhook(context.Background(), "stripe", payload, signedHeaders("whsec_other", payload))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, int64(0), countEvents(t, f.db))
}

func TestIngestWebhookUnknownEnrollment(t *testing.T) {
	f := setup(t)
	payload := sessionCompleted(t, "evt_3", "1234567", time.Now())

	err := f.webhooks.IngestWebhook(context.Background(), "stripe", payload, signedHeaders(stripeSecret, payload))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEnrollment)
	assert.Equal(t, int64(0), countEvents(t, f.db))
}

func TestIngestWebhookProviderNotConfigured(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.webhooks.IngestWebhook(ctx, "braintree", []byte("bt_payload=x"), nil), paymentdomain.ErrProviderNotFound)
	assert.ErrorIs(t, f.webhooks.IngestWebhook(ctx, "paypal", []byte("{}"), nil), paymentdomain.ErrProviderNotFound)
}

func TestIngestWebhookIgnoresUnhandledEvents(t *testing.T) {
	f := setup(t)
	payload := []byte(`{"id":"evt_4","type":"customer.created","data":{"object":{}}}`)

	require.NoError(t, f.webhooks.IngestWebhook(context.Background(), "stripe", payload, signedHeaders(stripeSecret, payload)))
	assert.Equal(t, int64(0), countEvents(t, f.db))
}

func TestIngestWebhookResolvesByCheckoutReference(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := createEnrollment(t, f.enrollments)
	require.NoError(t, f.enrollments.AttachCheckout(ctx, e.ID, "stripe", "pi_ref_1"))

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_pi",
		"type":    "payment_intent.succeeded",
		"created": time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC).Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_ref_1",
				"amount":          35000,
				"amount_received": 35000,
				"currency":        "usd",
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.webhooks.IngestWebhook(ctx, "stripe", payload, signedHeaders(stripeSecret, payload)))
	got, err := f.enrollments.Get(ctx, e.ID.String())
	require.NoError(t, err)
	assert.Equal(t, string(status.StoredActive), got.Status)
}
