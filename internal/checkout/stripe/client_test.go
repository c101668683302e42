package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/tumblebus/internal/checkout"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{SecretKey: "sk_test_123", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestCreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_123", user)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "5000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "1 Child", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "2", r.PostForm.Get("line_items[1][quantity]"))
		assert.Equal(t, "123", r.PostForm.Get("metadata[enrollment_id]"))
		assert.Equal(t, "dana@example.com", r.PostForm.Get("customer_email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/cs_test_1","amount_total":7500}`))
	})

	session, err := c.CreateSession(context.Background(), checkout.SessionRequest{
		EnrollmentID: "123",
		Currency:     "usd",
		Lines: []checkout.LineItem{
			{Name: "1 Child", UnitAmountCents: 5000, Quantity: 1},
			{Name: "1 Week of TUMBLEBUS", UnitAmountCents: 1250, Quantity: 2},
		},
		Customer:   checkout.Customer{Email: "dana@example.com", Name: "Dana Rivera"},
		SuccessURL: "https://example.com/ok",
		CancelURL:  "https://example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, int64(7500), session.AmountCents)
	assert.Equal(t, checkout.ProviderStripe, session.Provider)
}

func TestVerifySession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"cs_test_1","amount_total":6250,"currency":"usd","payment_status":"paid",
			"customer_details":{"email":"dana@example.com"},"metadata":{"enrollment_id":"123"}}`))
	})

	v, err := c.VerifySession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.True(t, v.Paid)
	assert.Equal(t, int64(6250), v.AmountTotalCents)
	assert.Equal(t, "dana@example.com", v.Email)
	assert.Equal(t, "123", v.EnrollmentID)
}

func TestErrorsAreExternalServiceErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined."}}`))
	})

	_, err := c.CreatePaymentIntent(context.Background(), checkout.IntentRequest{
		EnrollmentID: "123",
		AmountCents:  5000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, checkout.ErrExternalService)
	var ext *checkout.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusPaymentRequired, ext.StatusCode)
	assert.Contains(t, err.Error(), "Your card was declined.")
}

func TestCreateSessionValidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.CreateSession(context.Background(), checkout.SessionRequest{EnrollmentID: "1"})
	assert.ErrorIs(t, err, checkout.ErrInvalidRequest)
}
