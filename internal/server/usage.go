package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/marahq/tally/internal/account/domain"
)

func (s *Server) ListUsage(c *gin.Context) {
	accountID, err := accountdomain.ParseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	records, err := s.meteringSvc.ListByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": records})
}
