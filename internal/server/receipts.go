package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/cart"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/money"
	"github.com/smallbiznis/tumblebus/internal/providers/pdf"
	"github.com/smallbiznis/tumblebus/internal/providers/qr"
)

const receiptDateLayout = "Jan 2, 2006"

// EnrollmentReceipt renders the enrollment receipt with its check-in code.
func (s *Server) EnrollmentReceipt(c *gin.Context) {
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

	data := s.receiptData(item)
	data.Status = string(eval.Effective)
	data.StatusNote = eval.Message()

	code, err := qr.PNG(qr.CheckInContent(s.cfg.PublicURL, item.ID.String()), qr.DefaultSize)
	if err != nil {
		s.log.Warn("check-in qr failed", zap.String("enrollment_id", item.ID.String()), zap.Error(err))
	} else {
		data.CheckInQR = code
	}

	body, err := s.pdf.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+item.ID.String()+".pdf"))
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) EnrollmentQR(c *gin.Context) {
	size, err := parseOptionalInt(c.Query("size"))
	if err != nil || size > 1024 {
		AbortWithError(c, newValidationError("size", "invalid_size", "size must be between 1 and 1024"))
		return
	}

	item, err := s.enrollmentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	code, err := qr.PNG(qr.CheckInContent(s.cfg.PublicURL, item.ID.String()), size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", code)
}

func (s *Server) receiptData(item enrollmentdomain.Enrollment) pdf.ReceiptData {
	data := pdf.ReceiptData{
		ReceiptNumber: item.ID.String(),
		IssuedOn:      s.clock.Now().Format(receiptDateLayout),
		SchoolName:    s.cfg.AppName,
		SchoolEmail:   s.cfg.SMTP.From,
		ParentName:    item.ParentName(),
		ParentEmail:   item.Email,
		ParentPhone:   item.Phone,
		ParentAddress: item.Address,
		Total:         money.Format(item.AmountCents, item.Currency),
	}
	if item.LastPaymentAt != nil {
		data.LastPaidOn = item.LastPaymentAt.Format(receiptDateLayout)
	}
	for _, child := range item.Children {
		data.Children = append(data.Children, child.Name())
	}

	// lines are re-priced from the stored selection; a selection the catalog
	// no longer carries collapses to one line at the recorded amount
	quote, err := cart.Quote(s.catalog.Get(), item.Selection.Data())
	if err == nil && !quote.IsEmpty() && quote.Total() == item.AmountCents {
		for _, line := range quote.Lines() {
			data.Items = append(data.Items, pdf.ReceiptItem{
				Description: line.Name,
				Qty:         line.Quantity,
				UnitPrice:   money.Format(line.UnitPriceCents, item.Currency),
				Amount:      money.Format(line.AmountCents(), item.Currency),
			})
		}
		return data
	}

	description := strings.TrimSpace(item.PlanDescriptor)
	if description == "" {
		description = "Enrollment"
	}
	data.Items = []pdf.ReceiptItem{{
		Description: description,
		Qty:         1,
		UnitPrice:   data.Total,
		Amount:      data.Total,
	}}
	return data
}
