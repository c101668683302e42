package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/tumblebus/internal/audit/domain"
	"github.com/smallbiznis/tumblebus/internal/authorization"
	"github.com/smallbiznis/tumblebus/internal/cart"
	"github.com/smallbiznis/tumblebus/internal/checkout"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
	reminderdomain "github.com/smallbiznis/tumblebus/internal/reminder/domain"
	signupdomain "github.com/smallbiznis/tumblebus/internal/signup/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
	"github.com/smallbiznis/tumblebus/internal/wizard"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var wErr *wizard.ValidationError
	if errors.As(err, &wErr) {
		out := make([]ValidationError, 0, len(wErr.Reasons))
		for _, r := range wErr.Reasons {
			out = append(out, ValidationError{Field: r.Field, Code: r.Code, Message: r.Message})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
			Errors:  out,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, enrollmentdomain.ErrEmailTaken),
		errors.Is(err, wizard.ErrSubmissionInFlight),
		errors.Is(err, wizard.ErrAlreadySubmitted):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, status.ErrInvalidRecord),
		errors.Is(err, reminderdomain.ErrNothingDue),
		errors.Is(err, reminderdomain.ErrNoEmail),
		errors.Is(err, checkout.ErrUnsupported):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	case errors.Is(err, ErrTooManyRequests),
		errors.Is(err, signupdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, checkout.ErrExternalService):
		return http.StatusBadGateway, errorPayload{
			Type:    "external_service_error",
			Message: "payment provider unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded by the
// request logger.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	auditdomain.ErrInvalidTimeRange,
	signupdomain.ErrInvalidRequest,
	wizard.ErrNotAtFinalStep,
	enrollmentdomain.ErrInvalidID,
	enrollmentdomain.ErrInvalidEmail,
	enrollmentdomain.ErrInvalidName,
	enrollmentdomain.ErrInvalidPhone,
	enrollmentdomain.ErrNoChildren,
	enrollmentdomain.ErrInvalidChild,
	enrollmentdomain.ErrInvalidAmount,
	enrollmentdomain.ErrInvalidStatus,
	enrollmentdomain.ErrInvalidPayment,
	enrollmentdomain.ErrConfirmRequired,
	cart.ErrNegativeQuantity,
	cart.ErrUnknownAddOn,
	cart.ErrUnknownPackage,
	cart.ErrInvalidChildCount,
	cart.ErrSiblingDiscountExhausted,
	checkout.ErrInvalidRequest,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidEnrollment,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
}

func isValidationError(err error) bool {
	return validationErrorCode(err) != ""
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_id":
		return "id"
	case "invalid_email":
		return "email"
	case "invalid_name":
		return "parent_first_name"
	case "invalid_phone":
		return "phone"
	case "no_children", "invalid_child":
		return "children"
	case "invalid_amount":
		return "amount_cents"
	case "invalid_status":
		return "status"
	case "confirmation_required":
		return "confirm"
	case "unknown_package", "invalid_child_count", "sibling_discount_exhausted":
		return "package_id"
	case "unknown_add_on", "negative_quantity":
		return "add_ons"
	case "invalid_provider":
		return "provider"
	case "invalid_time_range":
		return "start_at"
	case "not_at_final_step":
		return "step"
	default:
		return "request"
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "confirmation_required":
		return "pass confirm=true to delete"
	case "not_at_final_step":
		return "the wizard is not at its final step"
	case "no_children":
		return "at least one child is required"
	}
	return strings.ReplaceAll(code, "_", " ")
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, enrollmentdomain.ErrEmailTaken):
		return "email already enrolled"
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		return "submission already in progress"
	case errors.Is(err, wizard.ErrAlreadySubmitted):
		return "already submitted"
	}
	return "conflict"
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, enrollmentdomain.ErrNotFound),
		errors.Is(err, signupdomain.ErrSessionNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound):
		return true
	}
	return false
}
