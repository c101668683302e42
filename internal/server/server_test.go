package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/tumblebus/internal/audit/domain"
	auditrepo "github.com/smallbiznis/tumblebus/internal/audit/repository"
	auditsvc "github.com/smallbiznis/tumblebus/internal/audit/service"
	"github.com/smallbiznis/tumblebus/internal/authorization"
	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/checkout"
	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/tumblebus/internal/enrollment/repository"
	enrollmentsvc "github.com/smallbiznis/tumblebus/internal/enrollment/service"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
	"github.com/smallbiznis/tumblebus/internal/providers/pdf"
	reminderdomain "github.com/smallbiznis/tumblebus/internal/reminder/domain"
	signupdomain "github.com/smallbiznis/tumblebus/internal/signup/domain"
	"github.com/smallbiznis/tumblebus/internal/wizard"
	"github.com/smallbiznis/tumblebus/pkg/db/dbtest"
)

const (
	adminToken = "admin-token"
	staffToken = "staff-token"
)

type fakeSignup struct {
	signupdomain.Service
	submitErr error
	submitted []signupdomain.SubmitRequest
}

func (f *fakeSignup) Submit(_ context.Context, req signupdomain.SubmitRequest) (signupdomain.SubmitResult, error) {
	f.submitted = append(f.submitted, req)
	return signupdomain.SubmitResult{}, f.submitErr
}

func (f *fakeSignup) Get(_ context.Context, id string) (signupdomain.View, error) {
	return signupdomain.View{}, signupdomain.ErrSessionNotFound
}

type fakeGateway struct {
	checkout.Gateway
	verifyErr error
}

func (f *fakeGateway) VerifySession(_ context.Context, id string) (checkout.Verification, error) {
	if f.verifyErr != nil {
		return checkout.Verification{}, f.verifyErr
	}
	return checkout.Verification{SessionID: id, PaymentStatus: "paid", Paid: true}, nil
}

type fakePayments struct {
	err error
}

func (f *fakePayments) IngestWebhook(context.Context, string, []byte, http.Header) error {
	return f.err
}

type fakeReminders struct {
	sendErr error
}

func (f *fakeReminders) SendDue(context.Context, time.Time) (reminderdomain.Summary, error) {
	return reminderdomain.Summary{}, nil
}

func (f *fakeReminders) Send(context.Context, string) (reminderdomain.SendResult, error) {
	return reminderdomain.SendResult{Delivered: true}, f.sendErr
}

func (f *fakeReminders) List(context.Context, string) ([]reminderdomain.Reminder, error) {
	return []reminderdomain.Reminder{}, nil
}

type fakePDF struct {
	last pdf.ReceiptData
}

func (f *fakePDF) GenerateReceipt(_ context.Context, data pdf.ReceiptData) ([]byte, error) {
	f.last = data
	return []byte("%PDF-1.4"), nil
}

type testServer struct {
	srv       *Server
	db        *gorm.DB
	signup    *fakeSignup
	gateway   *fakeGateway
	payments  *fakePayments
	reminders *fakeReminders
	pdf       *fakePDF
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t, &enrollmentdomain.Enrollment{}, &enrollmentdomain.Child{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	holder, err := catalog.NewStaticHolder(catalog.Default())
	require.NoError(t, err)

	cfg := config.Config{
		AppName:   "TumbleBus",
		PublicURL: "https://tumblebus.test",
		StaffTokens: map[string]string{
			adminToken: authorization.RoleAdmin,
			staffToken: authorization.RoleStaff,
		},
	}
	cfg.SMTP.From = "office@tumblebus.test"

	ts := &testServer{
		db:        db,
		signup:    &fakeSignup{},
		gateway:   &fakeGateway{},
		payments:  &fakePayments{},
		reminders: &fakeReminders{},
		pdf:       &fakePDF{},
	}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts.srv = NewServer(ServerParams{
		Gin:   engine,
		Cfg:   cfg,
		Log:   log,
		Clock: clk,

		Catalog: holder,
		EnrollmentSvc: enrollmentsvc.New(enrollmentsvc.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  enrollmentrepo.Provide(),
		}),
		SignupSvc:   ts.signup,
		PaymentSvc:  ts.payments,
		Gateway:     ts.gateway,
		ReminderSvc: ts.reminders,
		PDF:         ts.pdf,
		AuthzSvc:    authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		AuditSvc: auditsvc.NewService(auditsvc.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  auditrepo.Provide(),
		}),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func newFamily(email string) map[string]any {
	return map[string]any{
		"email":             email,
		"parent_first_name": "Dana",
		"parent_last_name":  "Rivera",
		"phone":             "555-0100",
		"package_id":        "pkg_1child_noreg",
		"children": []map[string]any{
			{"first_name": "Ava", "last_name": "Rivera", "age": 5, "school": "Little Oaks", "shirt_size": "youth-s"},
		},
	}
}

func (ts *testServer) create(t *testing.T, email string) enrollmentdomain.Enrollment {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/enrollments", adminToken, newFamily(email))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data enrollmentdomain.Enrollment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestStaffRoutesRequireBearerToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/enrollments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/enrollments", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)

	w = ts.do(t, http.MethodGet, "/api/enrollments", staffToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateEnrollmentPricesFromCatalog(t *testing.T) {
	ts := newTestServer(t)

	item := ts.create(t, "dana@example.com")
	assert.Equal(t, int64(5000), item.AmountCents)
	assert.Equal(t, "1 Child", item.PlanDescriptor)
	assert.Equal(t, "pending", item.Status)
	require.Len(t, item.Children, 1)

	w := ts.do(t, http.MethodPost, "/api/enrollments", adminToken, newFamily("dana@example.com"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "email already enrolled", decodeError(t, w).Message)
}

func TestCreateEnrollmentReportsMissingFields(t *testing.T) {
	ts := newTestServer(t)
	body := newFamily("")
	delete(body, "email")

	w := ts.do(t, http.MethodPost, "/api/enrollments", adminToken, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "email", payload.Errors[0].Field)
	assert.Equal(t, "required", payload.Errors[0].Code)
}

func TestGetEnrollmentIncludesEvaluation(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")

	w := ts.do(t, http.MethodGet, "/api/enrollments/"+item.ID.String(), staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data struct {
			Evaluation struct {
				Stored    string `json:"stored_status"`
				Effective string `json:"effective_status"`
			} `json:"evaluation"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body.Data.Evaluation.Stored)
	assert.Equal(t, "pending", body.Data.Evaluation.Effective)

	w = ts.do(t, http.MethodGet, "/api/enrollments/123456789", staffToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEnrollmentWithCorruptStatusIsUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")
	require.NoError(t, ts.db.Model(&enrollmentdomain.Enrollment{}).
		Where("id = ?", item.ID).
		Update("status", "paused").Error)

	w := ts.do(t, http.MethodGet, "/api/enrollments/"+item.ID.String(), staffToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeError(t, w).Message, item.ID.String())
}

func TestDeleteEnrollmentNeedsAdminAndConfirmation(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")
	path := "/api/enrollments/" + item.ID.String()

	w := ts.do(t, http.MethodDelete, path+"?confirm=true", staffToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodDelete, path, adminToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "confirmation_required", payload.Errors[0].Code)

	w = ts.do(t, http.MethodDelete, path+"?confirm=true", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, path, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")
	path := "/api/enrollments/" + item.ID.String() + "/status"

	w := ts.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "frozen"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, path, adminToken, map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestReceiptRendersChildrenAndCheckInCode(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")

	w := ts.do(t, http.MethodGet, "/api/enrollments/"+item.ID.String()+"/receipt.pdf", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"Ava Rivera"}, ts.pdf.last.Children)
	assert.Equal(t, "TumbleBus", ts.pdf.last.SchoolName)
	assert.NotEmpty(t, ts.pdf.last.CheckInQR)
	require.Len(t, ts.pdf.last.Items, 1)
	assert.Equal(t, "1 Child", ts.pdf.last.Items[0].Description)

	w = ts.do(t, http.MethodGet, "/api/enrollments/"+item.ID.String()+"/qr.png?size=128", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestSendReminderWithoutDueDate(t *testing.T) {
	ts := newTestServer(t)
	ts.reminders.sendErr = reminderdomain.ErrNothingDue

	w := ts.do(t, http.MethodPost, "/api/enrollments/1/reminders", staffToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLookupFindsReturningFamily(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "dana@example.com")

	w := ts.do(t, http.MethodGet, "/api/lookup?email=DANA@example.com", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data enrollmentdomain.LookupResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Found)

	w = ts.do(t, http.MethodGet, "/api/lookup", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteUnknownPackage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/quote", "", map[string]any{"package_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/quote", "", map[string]any{"package_id": "pkg_2children_noreg"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitSignupPassesClientAddress(t *testing.T) {
	ts := newTestServer(t)
	ts.signup.submitErr = wizard.ErrSubmissionInFlight

	w := ts.do(t, http.MethodPost, "/api/signup/sessions/s1/submit", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, ts.signup.submitted, 1)
	assert.Equal(t, "s1", ts.signup.submitted[0].ID)
	assert.NotEmpty(t, ts.signup.submitted[0].ClientKey)

	w = ts.do(t, http.MethodGet, "/api/signup/sessions/gone", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyCheckout(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/checkout/verify?session_id=cs_1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.gateway.verifyErr = &checkout.ExternalServiceError{Provider: "stripe", Op: "verify", Err: errors.New("timeout")}
	w = ts.do(t, http.MethodGet, "/api/checkout/verify?session_id=cs_1", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.do(t, http.MethodGet, "/api/checkout/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhookOutcomes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{paymentdomain.ErrEventAlreadyProcessed, http.StatusOK},
		{fmt.Errorf("wrap: %w", paymentdomain.ErrEventIgnored), http.StatusOK},
		{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized},
		{paymentdomain.ErrProviderNotFound, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	ts := newTestServer(t)
	for _, tc := range cases {
		ts.payments.err = tc.err
		w := ts.do(t, http.MethodPost, "/webhooks/stripe", "", map[string]string{"type": "checkout.session.completed"})
		assert.Equal(t, tc.want, w.Code, "err=%v", tc.err)
	}
}

func TestMapErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{signupdomain.ErrRateLimited, http.StatusTooManyRequests},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{wizard.ErrAlreadySubmitted, http.StatusConflict},
		{authorization.ErrForbidden, http.StatusForbidden},
		{reminderdomain.ErrNoEmail, http.StatusUnprocessableEntity},
		{checkout.ErrUnsupported, http.StatusUnprocessableEntity},
		{enrollmentdomain.ErrInvalidID, http.StatusBadRequest},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
		{gorm.ErrRecordNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		got, _ := mapError(tc.err)
		assert.Equal(t, tc.want, got, "err=%v", tc.err)
	}
}

func TestStaffActionsAreAudited(t *testing.T) {
	ts := newTestServer(t)
	item := ts.create(t, "dana@example.com")

	w := ts.do(t, http.MethodPost, "/api/enrollments/"+item.ID.String()+"/review", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/audit-logs", staffToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/api/audit-logs?target_id="+item.ID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body auditdomain.ListAuditLogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.AuditLogs, 2)

	actions := []string{body.AuditLogs[0].Action, body.AuditLogs[1].Action}
	assert.ElementsMatch(t, []string{auditdomain.ActionEnrollmentCreate, auditdomain.ActionEnrollmentReview}, actions)
	for _, entry := range body.AuditLogs {
		assert.Equal(t, authorization.ActorStaff, entry.ActorType)
		if entry.Action == auditdomain.ActionEnrollmentCreate {
			assert.Equal(t, "d****@example.com", entry.Metadata["email"])
		}
	}

	w = ts.do(t, http.MethodGet, "/api/audit-logs?start_at=2026-03-01&end_at=2026-02-01", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
