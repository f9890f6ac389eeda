package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	"github.com/marahq/tally/internal/inference"
	meteringdomain "github.com/marahq/tally/internal/metering/domain"
)

const maxTokensLimit = 4000

type InferenceRequest struct {
	AccountID   string  `json:"account_id"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type InferenceResponse struct {
	ID               string  `json:"id"`
	Model            string  `json:"model"`
	Text             string  `json:"text"`
	TokensUsed       int64   `json:"tokens_used"`
	LatencyMs        int64   `json:"latency_ms"`
	Cost             float64 `json:"cost"`
	Paid             bool    `json:"paid"`
	PromotionGranted bool    `json:"promotion_granted"`
	CreditBalance    float64 `json:"credit_balance"`
}

func (s *Server) RunInference(c *gin.Context) {
	var req InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := accountdomain.ParseID(strings.TrimSpace(req.AccountID))
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account", "account_id is required"))
		return
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		AbortWithError(c, newValidationError("model", "invalid_model", "model is required"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		AbortWithError(c, newValidationError("prompt", "invalid_prompt", "prompt is required"))
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1000
	}
	if req.MaxTokens < 1 || req.MaxTokens > maxTokensLimit {
		AbortWithError(c, newValidationError("max_tokens", "invalid_max_tokens", "max_tokens must be between 1 and 4000"))
		return
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		AbortWithError(c, newValidationError("temperature", "invalid_temperature", "temperature must be between 0 and 2"))
		return
	}

	// surfaced in the request log
	c.Set("model", model)

	result, err := s.generator.Generate(inference.Request{
		Model:       model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	settlement, err := s.meteringSvc.Settle(c.Request.Context(), meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      model,
		TokensUsed: result.TokensUsed,
		Metadata: map[string]interface{}{
			"request_id": result.ID,
			"latency_ms": result.LatencyMs,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, InferenceResponse{
		ID:               result.ID,
		Model:            model,
		Text:             result.Text,
		TokensUsed:       result.TokensUsed,
		LatencyMs:        result.LatencyMs,
		Cost:             settlement.Cost,
		Paid:             settlement.PaidWithCredits,
		PromotionGranted: settlement.PromotionGranted,
		CreditBalance:    settlement.ResultingBalance,
	})
}

func (s *Server) ListModels(c *gin.Context) {
	models := s.pricingSvc.Models()
	names := make([]string, 0, len(models))
	for model := range models {
		names = append(names, model)
	}
	sort.Strings(names)

	out := make([]gin.H, 0, len(names))
	for _, model := range names {
		out = append(out, gin.H{
			"model":              model,
			"rate_per_1k_tokens": models[model],
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}
