package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/tumblebus/internal/cart"
)

func (s *Server) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.catalog.Get()})
}

// QuoteCart prices a selection without storing anything.
func (s *Server) QuoteCart(c *gin.Context) {
	var req cart.Selection
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := cart.Quote(s.catalog.Get(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}
