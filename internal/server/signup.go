package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	obscontext "github.com/smallbiznis/tumblebus/internal/observability/context"
	signupdomain "github.com/smallbiznis/tumblebus/internal/signup/domain"
)

func (s *Server) StartSignup(c *gin.Context) {
	var req signupdomain.StartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.signupSvc.Start(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obscontext.TagSignupSessionID, view.ID)
	respondSignup(c, http.StatusCreated, view)
}

func (s *Server) GetSignup(c *gin.Context) {
	view, err := s.signupSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondSignup(c, http.StatusOK, view)
}

func (s *Server) UpdateSignup(c *gin.Context) {
	var req signupdomain.UpdateRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.ID = c.Param("id")

	view, err := s.signupSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondSignup(c, http.StatusOK, view)
}

func (s *Server) NextSignupStep(c *gin.Context) {
	view, err := s.signupSvc.Next(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondSignup(c, http.StatusOK, view)
}

func (s *Server) BackSignupStep(c *gin.Context) {
	view, err := s.signupSvc.Back(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondSignup(c, http.StatusOK, view)
}

// ConfirmSignupTrim accepts dropping the surplus child drafts after the
// package child count went down.
func (s *Server) ConfirmSignupTrim(c *gin.Context) {
	view, err := s.signupSvc.ConfirmTrim(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondSignup(c, http.StatusOK, view)
}

func (s *Server) SubmitSignup(c *gin.Context) {
	var req signupdomain.SubmitRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = c.Param("id")
	req.ClientKey = c.ClientIP()

	res, err := s.signupSvc.Submit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obscontext.TagEnrollmentID, res.Enrollment.ID.String())
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

func respondSignup(c *gin.Context, status int, view signupdomain.View) {
	c.Set(obscontext.TagWizardStep, view.Current.Name)
	c.JSON(status, gin.H{"data": view})
}
