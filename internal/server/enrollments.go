package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/smallbiznis/tumblebus/internal/audit/domain"
	"github.com/smallbiznis/tumblebus/internal/cart"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/status"
)

type createEnrollmentRequest struct {
	Email             string                        `json:"email" binding:"required,email"`
	ParentFirstName   string                        `json:"parent_first_name" binding:"required"`
	ParentLastName    string                        `json:"parent_last_name" binding:"required"`
	Phone             string                        `json:"phone" binding:"required"`
	Address           string                        `json:"address"`
	EmergencyName     string                        `json:"emergency_name"`
	EmergencyPhone    string                        `json:"emergency_phone"`
	EmergencyRelation string                        `json:"emergency_relation"`
	ReferralSource    string                        `json:"referral_source"`
	Notes             string                        `json:"notes"`
	PackageID         string                        `json:"package_id"`
	AddOns            []cart.AddOnQuantity          `json:"add_ons"`
	PlanDescriptor    string                        `json:"plan_descriptor"`
	AmountCents       *int64                        `json:"amount_cents"`
	Currency          string                        `json:"currency"`
	Status            string                        `json:"status"`
	Children          []enrollmentdomain.ChildInput `json:"children" binding:"required,min=1"`
}

type updateEnrollmentRequest struct {
	Email             *string                        `json:"email"`
	ParentFirstName   *string                        `json:"parent_first_name"`
	ParentLastName    *string                        `json:"parent_last_name"`
	Phone             *string                        `json:"phone"`
	Address           *string                        `json:"address"`
	EmergencyName     *string                        `json:"emergency_name"`
	EmergencyPhone    *string                        `json:"emergency_phone"`
	EmergencyRelation *string                        `json:"emergency_relation"`
	Notes             *string                        `json:"notes"`
	PlanDescriptor    *string                        `json:"plan_descriptor"`
	AmountCents       *int64                         `json:"amount_cents"`
	Children          *[]enrollmentdomain.ChildInput `json:"children"`
}

// changedFields names the fields present in the patch.
func (r updateEnrollmentRequest) changedFields() []any {
	fields := []any{}
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(r.Email != nil, "email")
	add(r.ParentFirstName != nil, "parent_first_name")
	add(r.ParentLastName != nil, "parent_last_name")
	add(r.Phone != nil, "phone")
	add(r.Address != nil, "address")
	add(r.EmergencyName != nil, "emergency_name")
	add(r.EmergencyPhone != nil, "emergency_phone")
	add(r.EmergencyRelation != nil, "emergency_relation")
	add(r.Notes != nil, "notes")
	add(r.PlanDescriptor != nil, "plan_descriptor")
	add(r.AmountCents != nil, "amount_cents")
	add(r.Children != nil, "children")
	return fields
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// enrollmentDetail is one record with its status derived at request time.
type enrollmentDetail struct {
	Enrollment enrollmentdomain.Enrollment `json:"enrollment"`
	Evaluation status.Evaluation           `json:"evaluation"`
	Message    string                      `json:"message,omitempty"`
}

func (s *Server) ListEnrollments(c *gin.Context) {
	page, err := parseOptionalInt(c.Query("page"))
	if err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "invalid page"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.enrollmentSvc.List(c.Request.Context(), enrollmentdomain.ListEnrollmentRequest{
		Text:      strings.TrimSpace(c.Query("q")),
		Status:    strings.TrimSpace(c.Query("status")),
		SortBy:    strings.TrimSpace(c.Query("sort_by")),
		SortOrder: strings.TrimSpace(c.Query("sort_order")),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CreateEnrollment records a family entered by staff. A package without an
// explicit amount is priced from the catalog.
func (s *Server) CreateEnrollment(c *gin.Context) {
	var req createEnrollmentRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	create := enrollmentdomain.CreateEnrollmentRequest{
		Email:             req.Email,
		ParentFirstName:   req.ParentFirstName,
		ParentLastName:    req.ParentLastName,
		Phone:             req.Phone,
		Address:           req.Address,
		EmergencyName:     req.EmergencyName,
		EmergencyPhone:    req.EmergencyPhone,
		EmergencyRelation: req.EmergencyRelation,
		ReferralSource:    req.ReferralSource,
		Notes:             req.Notes,
		PackageID:         req.PackageID,
		PlanDescriptor:    req.PlanDescriptor,
		Currency:          req.Currency,
		Status:            req.Status,
		Children:          req.Children,
		Selection: cart.Selection{
			PackageID: req.PackageID,
			Children:  len(req.Children),
			AddOns:    req.AddOns,
		},
	}

	switch {
	case req.AmountCents != nil:
		create.AmountCents = *req.AmountCents
	case req.PackageID != "":
		catalog := s.catalog.Get()
		quote, err := cart.Quote(catalog, create.Selection)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		create.AmountCents = quote.Total()
		if create.Currency == "" {
			create.Currency = catalog.Currency
		}
		if create.PlanDescriptor == "" {
			if pkg, ok := quote.Package(); ok {
				create.PlanDescriptor = pkg.Name
			}
		}
	default:
		AbortWithError(c, enrollmentdomain.ErrInvalidAmount)
		return
	}

	item, err := s.enrollmentSvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEnrollmentCreate, item.ID.String(), map[string]any{
		"email":        item.Email,
		"amount_cents": item.AmountCents,
		"status":       item.Status,
	})

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// GetEnrollment answers 422 when the stored status data cannot be evaluated.
func (s *Server) GetEnrollment(c *gin.Context) {
	item, err := s.enrollmentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	eval, err := item.Evaluate(s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": enrollmentDetail{
		Enrollment: item,
		Evaluation: eval,
		Message:    eval.Message(),
	}})
}

func (s *Server) UpdateEnrollment(c *gin.Context) {
	var req updateEnrollmentRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.enrollmentSvc.Update(c.Request.Context(), enrollmentdomain.UpdateEnrollmentRequest{
		ID:                c.Param("id"),
		Email:             req.Email,
		ParentFirstName:   req.ParentFirstName,
		ParentLastName:    req.ParentLastName,
		Phone:             req.Phone,
		Address:           req.Address,
		EmergencyName:     req.EmergencyName,
		EmergencyPhone:    req.EmergencyPhone,
		EmergencyRelation: req.EmergencyRelation,
		Notes:             req.Notes,
		PlanDescriptor:    req.PlanDescriptor,
		AmountCents:       req.AmountCents,
		Children:          req.Children,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEnrollmentUpdate, item.ID.String(), map[string]any{
		"fields": req.changedFields(),
	})

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// DeleteEnrollment requires ?confirm=true.
func (s *Server) DeleteEnrollment(c *gin.Context) {
	confirm, err := parseOptionalBool(c.Query("confirm"))
	if err != nil {
		AbortWithError(c, newValidationError("confirm", "invalid_confirm", "invalid confirm"))
		return
	}

	res, err := s.enrollmentSvc.Delete(c.Request.Context(), enrollmentdomain.DeleteEnrollmentRequest{
		ID:      c.Param("id"),
		Confirm: confirm != nil && *confirm,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res.Deleted {
		s.recordAudit(c, auditdomain.ActionEnrollmentDelete, c.Param("id"), nil)
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ChangeEnrollmentStatus(c *gin.Context) {
	var req changeStatusRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.enrollmentSvc.ChangeStatus(c.Request.Context(), enrollmentdomain.ChangeStatusRequest{
		ID:     c.Param("id"),
		Status: req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEnrollmentStatus, item.ID.String(), map[string]any{
		"status": item.Status,
	})

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ReviewEnrollment(c *gin.Context) {
	item, err := s.enrollmentSvc.MarkReviewed(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEnrollmentReview, item.ID.String(), nil)

	c.JSON(http.StatusOK, gin.H{"data": item})
}
