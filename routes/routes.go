package routes

import (
	"context"
	"errors"
	"io"
	"net/http"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/queue"
	"lesson-content-engine/internal/storage"
	"lesson-content-engine/middleware"
	"lesson-content-engine/models"
	"lesson-content-engine/services"
	"lesson-content-engine/utils"

	"github.com/gin-gonic/gin"
)

type DocumentIndexer interface {
	IndexDocument(ctx context.Context, req services.IndexRequest) (*services.IndexResult, error)
	DeleteDocument(ctx context.Context, teacherID, documentID string) error
}

type DocumentRegistry interface {
	Upsert(ctx context.Context, doc *models.Document) error
}

type Retriever interface {
	Retrieve(ctx context.Context, query, teacherID string, documentIDs []string, topK int) (*models.RetrievalResult, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req services.SummaryRequest) (*services.SummaryResult, error)
}

type QuizGenerator interface {
	Generate(ctx context.Context, req services.MCQRequest) (*services.MCQResult, error)
}

type QuizStore interface {
	Create(ctx context.Context, quiz *models.Quiz) error
	Get(ctx context.Context, teacherID, quizID string) (*models.Quiz, error)
}

type BlobSaver interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
}

type Quota interface {
	Consume(ctx context.Context, teacherID string, estimatedTokens int) error
	Status(ctx context.Context, teacherID string) (*ai.TeacherQuota, error)
}

// TaskQueue hands long-running work to the worker. A nil queue runs it inline.
type TaskQueue interface {
	EnqueueIndex(ctx context.Context, p queue.IndexDocumentPayload) (string, error)
	EnqueueDelete(ctx context.Context, p queue.DeleteDocumentPayload) (string, error)
	EnqueueQuiz(ctx context.Context, p queue.GenerateQuizPayload) (string, error)
}

// Room for multipart boundaries and headers on top of the file itself
const multipartOverhead = 1 << 20

// Dependencies groups what the API handlers call into.
type Dependencies struct {
	Config     *config.Config
	Indexer    DocumentIndexer
	Documents  DocumentRegistry
	Blobs      BlobSaver
	Retriever  Retriever
	Summarizer Summarizer
	Quizzes    QuizGenerator
	QuizStore  QuizStore
	Quota      Quota
	Queue      TaskQueue
}

// SetupContentRoutes registers the /api group. Every route requires X-Teacher-ID.
func SetupContentRoutes(router *gin.Engine, deps Dependencies) {
	api := router.Group("/api")
	api.Use(middleware.RequireTeacher())
	{
		api.POST("/documents/:id/index", middleware.RequestSizeLimit(deps.Config.MaxFileSize+multipartOverhead), HandleIndexDocument(deps))
		api.DELETE("/documents/:id", HandleDeleteDocument(deps))
		api.POST("/retrieve", HandleRetrieve(deps))
		api.POST("/summaries", HandleSummarize(deps))
		api.POST("/quizzes", HandleCreateQuiz(deps))
		api.GET("/quizzes/:id", HandleGetQuiz(deps))
		api.GET("/quota", HandleQuotaStatus(deps))
	}
}

// respondServiceError maps service errors onto the JSON error envelope.
func respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ai.ErrQuotaExceeded):
		utils.RespondWithError(c, http.StatusTooManyRequests, "quota_exceeded", "Daily completion quota exceeded", nil)
	case errors.Is(err, ai.ErrRateLimited):
		utils.RespondWithError(c, http.StatusTooManyRequests, "provider_rate_limited", "Completion provider is rate limited, retry later", nil)
	case errors.Is(err, ai.ErrMissingAPIKey):
		utils.RespondWithError(c, http.StatusServiceUnavailable, "provider_not_configured", "Completion provider is not configured", nil)
	case errors.Is(err, services.ErrUnreadableDocument):
		utils.RespondWithError(c, http.StatusUnprocessableEntity, "unreadable_document", "Document could not be parsed", err.Error())
	case errors.Is(err, services.ErrEmptyQuery),
		errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrInvalidQuestionCount),
		errors.Is(err, services.ErrMissingDocumentID):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, storage.ErrQuizNotFound), errors.Is(err, storage.ErrDocumentNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(c, http.StatusGatewayTimeout, "timeout", "Request timed out", nil)
	default:
		logger.FromContext(c.Request.Context()).Error(fallback, "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithInternalError(c, fallback, nil)
	}
}
