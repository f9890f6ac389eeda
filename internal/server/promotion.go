package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/marahq/tally/internal/account/domain"
)

type promotionEligibilityResponse struct {
	Eligible             bool    `json:"eligible"`
	Claimed              bool    `json:"claimed"`
	TimeRemainingSeconds float64 `json:"time_remaining_seconds"`
}

func (s *Server) GetPromotionEligibility(c *gin.Context) {
	accountID, err := accountdomain.ParseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, accountdomain.ErrInvalidID)
		return
	}

	eligibility, err := s.promoSvc.CheckEligibility(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, promotionEligibilityResponse{
		Eligible:             eligibility.Eligible,
		Claimed:              eligibility.Claimed,
		TimeRemainingSeconds: eligibility.TimeRemaining.Seconds(),
	})
}
