package routes

import (
	"net/http"

	"lesson-content-engine/middleware"
	"lesson-content-engine/services"
	"lesson-content-engine/utils"

	"github.com/gin-gonic/gin"
)

type retrieveRequest struct {
	Query       string   `json:"query" binding:"required"`
	DocumentIDs []string `json:"document_ids"`
	TopK        int      `json:"top_k"`
}

func HandleRetrieve(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}

		res, err := deps.Retriever.Retrieve(c.Request.Context(), req.Query, middleware.GetTeacherID(c), req.DocumentIDs, req.TopK)
		if err != nil {
			respondServiceError(c, err, "Failed to retrieve context")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type summaryRequest struct {
	Text           string `json:"text" binding:"required"`
	SummaryType    string `json:"summary_type"`
	Language       string `json:"language"`
	MaxInputTokens int    `json:"max_input_tokens"`
}

func HandleSummarize(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req summaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}

		ctx := c.Request.Context()
		maxInput := req.MaxInputTokens
		if maxInput <= 0 {
			maxInput = services.DefaultSummaryMaxInputTokens
		}
		estimate := min(services.EstimateTokens(req.Text), maxInput) + summaryOutputTokens
		if err := deps.Quota.Consume(ctx, middleware.GetTeacherID(c), estimate); err != nil {
			respondServiceError(c, err, "Failed to check quota")
			return
		}

		res, err := deps.Summarizer.Summarize(ctx, services.SummaryRequest{
			Text:           req.Text,
			SummaryType:    req.SummaryType,
			Language:       req.Language,
			MaxInputTokens: req.MaxInputTokens,
		})
		if err != nil {
			respondServiceError(c, err, "Failed to summarize")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// Rough completion budgets charged against the daily quota
const (
	summaryOutputTokens = 2048
	tokensPerQuestion   = 400
)

func HandleQuotaStatus(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		quota, err := deps.Quota.Status(c.Request.Context(), middleware.GetTeacherID(c))
		if err != nil {
			respondServiceError(c, err, "Failed to load quota")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"quota":            quota,
			"tokens_remaining": max(quota.DailyTokenLimit-quota.TokensUsedToday, 0),
		})
	}
}
