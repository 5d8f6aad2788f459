package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"lesson-content-engine/internal/logger"
	"lesson-content-engine/models"
	"lesson-content-engine/services"
	"lesson-content-engine/utils"
)

const (
	TaskIndexDocument  = "document:index"
	TaskDeleteDocument = "document:delete"
	TaskGenerateQuiz   = "quiz:generate"
)

type IndexDocumentPayload struct {
	TeacherID   string `json:"teacher_id"`
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
	MimeType    string `json:"mime_type"`
}

type DeleteDocumentPayload struct {
	TeacherID  string `json:"teacher_id"`
	DocumentID string `json:"document_id"`
}

type GenerateQuizPayload struct {
	QuizID    string              `json:"quiz_id"`
	TeacherID string              `json:"teacher_id"`
	Request   services.MCQRequest `json:"request"`
}

// Task creators
func NewIndexDocumentTask(p IndexDocumentPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewDeleteDocumentTask(p DeleteDocumentPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskDeleteDocument,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("default"),
	), nil
}

func NewGenerateQuizTask(p GenerateQuizPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskGenerateQuiz,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Dependencies of the task handlers
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, req services.IndexRequest) (*services.IndexResult, error)
	DeleteDocument(ctx context.Context, teacherID, documentID string) error
}

type QuizGenerator interface {
	Generate(ctx context.Context, req services.MCQRequest) (*services.MCQResult, error)
}

type QuizStore interface {
	Complete(ctx context.Context, quiz *models.Quiz) error
	Fail(ctx context.Context, quizID, reason string) error
}

type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Task handlers
type TaskProcessor struct {
	indexer DocumentIndexer
	quizzes QuizGenerator
	store   QuizStore
	blobs   BlobOpener
}

func NewTaskProcessor(indexer DocumentIndexer, quizzes QuizGenerator, store QuizStore, blobs BlobOpener) *TaskProcessor {
	return &TaskProcessor{
		indexer: indexer,
		quizzes: quizzes,
		store:   store,
		blobs:   blobs,
	}
}

// Register wires every handler into mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIndexDocument, p.IndexDocument)
	mux.HandleFunc(TaskDeleteDocument, p.DeleteDocument)
	mux.HandleFunc(TaskGenerateQuiz, p.GenerateQuiz)
}

func (p *TaskProcessor) IndexDocument(ctx context.Context, t *asynq.Task) error {
	var payload IndexDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	log := logger.FromContext(ctx)
	log.Info("Indexing document", "teacher_id", payload.TeacherID, "document_id", payload.DocumentID)

	rc, err := p.blobs.Open(ctx, payload.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open document %s: %w", payload.StoragePath, err)
	}
	buf, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", payload.StoragePath, err)
	}

	res, err := p.indexer.IndexDocument(ctx, services.IndexRequest{
		DocumentID: payload.DocumentID,
		TeacherID:  payload.TeacherID,
		Buffer:     buf,
		MimeType:   payload.MimeType,
	})
	if err != nil {
		// Parse and window errors are not transient
		if errors.Is(err, services.ErrUnreadableDocument) ||
			errors.Is(err, services.ErrInvalidChunkWindow) ||
			errors.Is(err, services.ErrMissingDocumentID) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Info("Document indexed", "document_id", res.DocumentID, "chunks", res.ChunkCount)
	return nil
}

func (p *TaskProcessor) DeleteDocument(ctx context.Context, t *asynq.Task) error {
	var payload DeleteDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	return p.indexer.DeleteDocument(ctx, payload.TeacherID, payload.DocumentID)
}

// GenerateQuiz runs the quiz pipeline and stores the result. The quiz is only
// marked failed once no retry is left.
func (p *TaskProcessor) GenerateQuiz(ctx context.Context, t *asynq.Task) error {
	var payload GenerateQuizPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	res, err := p.quizzes.Generate(ctx, payload.Request)
	if err != nil {
		final := errors.Is(err, services.ErrInvalidQuestionCount) || lastAttempt(ctx)
		if !final {
			return err
		}
		fctx, cancel := utils.WithTimeout(context.WithoutCancel(ctx))
		defer cancel()
		if ferr := p.store.Fail(fctx, payload.QuizID, err.Error()); ferr != nil {
			logger.FromContext(ctx).Error("failed to mark quiz failed", "quiz_id", payload.QuizID, "error", ferr)
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	quiz := &models.Quiz{
		ID:               payload.QuizID,
		TeacherID:        payload.TeacherID,
		Questions:        res.Questions,
		Stage1Count:      res.Stage1Count,
		Stage2Count:      res.Stage2Count,
		Stage3Count:      res.Stage3Count,
		ProcessingTimeMs: res.ProcessingTimeMs,
	}
	if err := p.store.Complete(ctx, quiz); err != nil {
		return err
	}

	logger.FromContext(ctx).Info("Quiz generated", "quiz_id", payload.QuizID, "questions", len(res.Questions))
	return nil
}

func lastAttempt(ctx context.Context) bool {
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return true
	}
	return retried >= maxRetry
}

// Enqueuer submits background tasks.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) EnqueueIndex(ctx context.Context, p IndexDocumentPayload) (string, error) {
	task, err := NewIndexDocumentTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) EnqueueDelete(ctx context.Context, p DeleteDocumentPayload) (string, error) {
	task, err := NewDeleteDocumentTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) EnqueueQuiz(ctx context.Context, p GenerateQuizPayload) (string, error) {
	task, err := NewGenerateQuizTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}
