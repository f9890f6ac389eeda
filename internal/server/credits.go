package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
)

func (s *Server) GetAccountCredits(c *gin.Context) {
	credits, err := s.accountSvc.GetCredits(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, credits)
}

type AdjustmentCreditRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// CreateAdjustmentCredit applies a manual credit to an account. Only positive
// amounts are accepted; adjustments that consume credit go through the debit
// path so the balance guard applies.
func (s *Server) CreateAdjustmentCredit(c *gin.Context) {
	accountID, err := accountdomain.ParseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account", "account id is invalid"))
		return
	}

	var req AdjustmentCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Manual adjustment"
	}

	entry, err := s.ledgerSvc.Credit(c.Request.Context(), ledgerdomain.CreditRequest{
		AccountID:   accountID,
		Amount:      req.Amount,
		Kind:        ledgerdomain.KindAdjustment,
		Description: description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}
