package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/smallbiznis/tumblebus/internal/audit/domain"
)

func (s *Server) ListReminders(c *gin.Context) {
	items, err := s.reminderSvc.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// SendReminder notifies the family for its current due date. Repeating the
// call for the same due date does not send a second email.
func (s *Server) SendReminder(c *gin.Context) {
	res, err := s.reminderSvc.Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res.Delivered {
		s.recordAudit(c, auditdomain.ActionReminderSend, c.Param("id"), map[string]any{
			"kind": res.Reminder.Kind,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}
