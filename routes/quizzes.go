package routes

import (
	"net/http"
	"time"

	"lesson-content-engine/internal/queue"
	"lesson-content-engine/middleware"
	"lesson-content-engine/models"
	"lesson-content-engine/services"
	"lesson-content-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type quizRequest struct {
	Summary      string `json:"summary" binding:"required"`
	DocumentID   string `json:"document_id"`
	NumQuestions int    `json:"num_questions" binding:"required"`
	QuestionType string `json:"question_type"`
	Difficulty   string `json:"difficulty"`
	Language     string `json:"language"`
	Async        bool   `json:"async"`
}

// HandleCreateQuiz runs the quiz pipeline inline, or queues it when async is
// requested and a queue is configured.
func HandleCreateQuiz(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req quizRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}
		if req.NumQuestions < 1 || req.NumQuestions > services.MaxQuestionsPerQuiz {
			respondServiceError(c, services.ErrInvalidQuestionCount, "")
			return
		}
		if req.QuestionType == "" {
			req.QuestionType = models.QuestionTypeMixed
		}

		ctx := c.Request.Context()
		teacherID := middleware.GetTeacherID(c)
		estimate := services.EstimateTokens(req.Summary) + req.NumQuestions*tokensPerQuestion
		if err := deps.Quota.Consume(ctx, teacherID, estimate); err != nil {
			respondServiceError(c, err, "Failed to check quota")
			return
		}

		mcq := services.MCQRequest{
			Summary:      req.Summary,
			NumQuestions: req.NumQuestions,
			QuestionType: req.QuestionType,
			Difficulty:   req.Difficulty,
			Language:     req.Language,
		}
		quiz := &models.Quiz{
			ID:           uuid.NewString(),
			TeacherID:    teacherID,
			DocumentID:   req.DocumentID,
			Status:       models.QuizPending,
			QuestionType: req.QuestionType,
			Difficulty:   req.Difficulty,
			Requested:    req.NumQuestions,
			CreatedAt:    time.Now(),
		}

		if req.Async && deps.Queue != nil {
			if err := deps.QuizStore.Create(ctx, quiz); err != nil {
				respondServiceError(c, err, "Failed to create quiz")
				return
			}
			taskID, err := deps.Queue.EnqueueQuiz(ctx, queue.GenerateQuizPayload{QuizID: quiz.ID, TeacherID: teacherID, Request: mcq})
			if err != nil {
				respondServiceError(c, err, "Failed to queue quiz")
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"quiz_id": quiz.ID, "status": quiz.Status, "task_id": taskID})
			return
		}

		res, err := deps.Quizzes.Generate(ctx, mcq)
		if err != nil {
			respondServiceError(c, err, "Failed to generate quiz")
			return
		}

		now := time.Now()
		quiz.Status = models.QuizCompleted
		quiz.Questions = res.Questions
		quiz.Stage1Count = res.Stage1Count
		quiz.Stage2Count = res.Stage2Count
		quiz.Stage3Count = res.Stage3Count
		quiz.ProcessingTimeMs = res.ProcessingTimeMs
		quiz.CompletedAt = &now
		if err := deps.QuizStore.Create(ctx, quiz); err != nil {
			respondServiceError(c, err, "Failed to save quiz")
			return
		}
		c.JSON(http.StatusOK, quiz)
	}
}

func HandleGetQuiz(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		quiz, err := deps.QuizStore.Get(c.Request.Context(), middleware.GetTeacherID(c), c.Param("id"))
		if err != nil {
			respondServiceError(c, err, "Failed to load quiz")
			return
		}
		c.JSON(http.StatusOK, quiz)
	}
}
