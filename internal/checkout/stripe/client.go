// Package stripe drives Stripe Checkout over its REST API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/tumblebus/internal/checkout"
)

const defaultBaseURL = "https://api.stripe.com"

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey: cfg.SecretKey,
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Provider() string { return checkout.ProviderStripe }

type sessionResponse struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customer_email"`
	PaymentStatus   string            `json:"payment_status"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateSession(ctx context.Context, req checkout.SessionRequest) (checkout.Session, error) {
	if err := req.Validate(); err != nil {
		return checkout.Session{}, err
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("customer_email", req.Customer.Email)
	form.Set("client_reference_id", req.EnrollmentID)
	for i, line := range req.Lines {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", line.Name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.UnitAmountCents, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(line.Quantity))
	}
	setMetadata(form, "metadata", req.EnrollmentID, req.Customer)
	setMetadata(form, "payment_intent_data[metadata]", req.EnrollmentID, req.Customer)

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &resp, "create_session"); err != nil {
		return checkout.Session{}, err
	}
	amount := resp.AmountTotal
	if amount == 0 {
		amount = req.TotalCents()
	}
	return checkout.Session{Provider: checkout.ProviderStripe, ID: resp.ID, URL: resp.URL, AmountCents: amount}, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req checkout.IntentRequest) (checkout.Intent, error) {
	if req.EnrollmentID == "" || req.AmountCents <= 0 {
		return checkout.Intent{}, checkout.ErrInvalidRequest
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Customer.Email != "" {
		form.Set("receipt_email", req.Customer.Email)
	}
	setMetadata(form, "metadata", req.EnrollmentID, req.Customer)

	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &resp, "create_payment_intent"); err != nil {
		return checkout.Intent{}, err
	}
	return checkout.Intent{Provider: checkout.ProviderStripe, ID: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

func (c *Client) VerifySession(ctx context.Context, sessionID string) (checkout.Verification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return checkout.Verification{}, checkout.ErrInvalidRequest
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &resp, "verify_session"); err != nil {
		return checkout.Verification{}, err
	}
	email := resp.CustomerEmail
	if resp.CustomerDetails != nil && resp.CustomerDetails.Email != "" {
		email = resp.CustomerDetails.Email
	}
	return checkout.Verification{
		SessionID:        resp.ID,
		EnrollmentID:     resp.Metadata["enrollment_id"],
		AmountTotalCents: resp.AmountTotal,
		Currency:         resp.Currency,
		Email:            email,
		PaymentStatus:    resp.PaymentStatus,
		Paid:             resp.PaymentStatus == "paid",
	}, nil
}

func setMetadata(form url.Values, prefix, enrollmentID string, customer checkout.Customer) {
	form.Set(prefix+"[enrollment_id]", enrollmentID)
	if customer.Name != "" {
		form.Set(prefix+"[name]", customer.Name)
	}
	if customer.Phone != "" {
		form.Set(prefix+"[phone]", customer.Phone)
	}
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any, op string) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &checkout.ExternalServiceError{Provider: checkout.ProviderStripe, Op: op, Err: err}
	}
	req.SetBasicAuth(c.secretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &checkout.ExternalServiceError{Provider: checkout.ProviderStripe, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &checkout.ExternalServiceError{Provider: checkout.ProviderStripe, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &checkout.ExternalServiceError{
			Provider:   checkout.ProviderStripe,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(msg),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &checkout.ExternalServiceError{Provider: checkout.ProviderStripe, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}
