package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/config"
	"lesson-content-engine/internal/queue"
	"lesson-content-engine/internal/storage"
	"lesson-content-engine/middleware"
	"lesson-content-engine/models"
	"lesson-content-engine/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBackend struct {
	indexed   []services.IndexRequest
	deleted   []string
	docs      []*models.Document
	blobs     map[string]string
	quizzes   map[string]*models.Quiz
	consumed  int
	quotaErr  error
	genErr    error
	enqueued  []string
	summaries []services.SummaryRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blobs: map[string]string{}, quizzes: map[string]*models.Quiz{}}
}

func (f *fakeBackend) IndexDocument(_ context.Context, req services.IndexRequest) (*services.IndexResult, error) {
	f.indexed = append(f.indexed, req)
	if strings.HasPrefix(string(req.Buffer), "%PDF-broken") {
		return nil, services.ErrUnreadableDocument
	}
	return &services.IndexResult{DocumentID: req.DocumentID, PageCount: 1, ChunkCount: 2, Method: services.ExtractionMethodPlain}, nil
}

func (f *fakeBackend) DeleteDocument(_ context.Context, teacherID, documentID string) error {
	f.deleted = append(f.deleted, teacherID+"/"+documentID)
	return nil
}

func (f *fakeBackend) Upsert(_ context.Context, doc *models.Document) error {
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeBackend) Save(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	f.blobs[key] = string(data)
	return err
}

func (f *fakeBackend) Retrieve(_ context.Context, query, teacherID string, _ []string, _ int) (*models.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, services.ErrEmptyQuery
	}
	return &models.RetrievalResult{Context: "[Kaynak 1 (Sayfa 1)] " + teacherID}, nil
}

func (f *fakeBackend) Summarize(_ context.Context, req services.SummaryRequest) (*services.SummaryResult, error) {
	f.summaries = append(f.summaries, req)
	return &services.SummaryResult{Summary: "Özet.", SummaryType: req.SummaryType, Language: req.Language}, nil
}

func (f *fakeBackend) Generate(_ context.Context, req services.MCQRequest) (*services.MCQResult, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	qs := make([]models.MCQQuestion, req.NumQuestions)
	return &services.MCQResult{Questions: qs, Stage1Count: req.NumQuestions, Stage2Count: req.NumQuestions, Stage3Count: req.NumQuestions}, nil
}

func (f *fakeBackend) Create(_ context.Context, quiz *models.Quiz) error {
	f.quizzes[quiz.ID] = quiz
	return nil
}

func (f *fakeBackend) Get(_ context.Context, teacherID, quizID string) (*models.Quiz, error) {
	q, ok := f.quizzes[quizID]
	if !ok || q.TeacherID != teacherID {
		return nil, storage.ErrQuizNotFound
	}
	return q, nil
}

func (f *fakeBackend) Consume(_ context.Context, _ string, tokens int) error {
	if f.quotaErr != nil {
		return f.quotaErr
	}
	f.consumed += tokens
	return nil
}

func (f *fakeBackend) Status(_ context.Context, teacherID string) (*ai.TeacherQuota, error) {
	if f.quotaErr != nil && !errors.Is(f.quotaErr, ai.ErrQuotaExceeded) {
		return nil, f.quotaErr
	}
	return &ai.TeacherQuota{TeacherID: teacherID, DailyTokenLimit: 1000, TokensUsedToday: f.consumed}, nil
}

type fakeQueue struct{ backend *fakeBackend }

func (q fakeQueue) EnqueueIndex(_ context.Context, p queue.IndexDocumentPayload) (string, error) {
	q.backend.enqueued = append(q.backend.enqueued, "index:"+p.StoragePath)
	return "task-1", nil
}

func (q fakeQueue) EnqueueDelete(_ context.Context, p queue.DeleteDocumentPayload) (string, error) {
	q.backend.enqueued = append(q.backend.enqueued, "delete:"+p.DocumentID)
	return "task-2", nil
}

func (q fakeQueue) EnqueueQuiz(_ context.Context, p queue.GenerateQuizPayload) (string, error) {
	q.backend.enqueued = append(q.backend.enqueued, "quiz:"+p.QuizID)
	return "task-3", nil
}

func newTestRouter(f *fakeBackend, q TaskQueue) *gin.Engine {
	cfg := &config.Config{MaxFileSize: 1 << 20, AllowedTypes: []string{"text/plain", "application/pdf"}}
	r := gin.New()
	SetupContentRoutes(r, Dependencies{
		Config:     cfg,
		Indexer:    f,
		Documents:  f,
		Blobs:      f,
		Retriever:  f,
		Summarizer: f,
		Quizzes:    f,
		QuizStore:  f,
		Quota:      f,
		Queue:      q,
	})
	return r
}

func doJSON(r http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TeacherIDHeader, "t1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, url, filename, contentType, body string) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.TeacherIDHeader, "t1")
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.ErrorCode
}

func TestRoutesRequireTeacher(t *testing.T) {
	r := newTestRouter(newFakeBackend(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(`{"query":"x"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIndexDocumentInline(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/documents/d1/index", "notes.txt", "text/plain; charset=utf-8", "Hücre bölünmesi"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "Hücre bölünmesi", f.blobs["documents/t1/d1/notes.txt"])
	require.Len(t, f.indexed, 1)
	assert.Equal(t, "text/plain", f.indexed[0].MimeType)
	require.Len(t, f.docs, 1)
	assert.Equal(t, models.StatusPending, f.docs[0].Status)

	var res services.IndexResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.ChunkCount)
}

func TestIndexDocumentErrors(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/documents/d1/index", "a.pdf", "application/pdf", "%PDF-broken"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "unreadable_document", errorCode(t, w))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/documents/d1/index", "a.mp4", "video/mp4", "xx"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = doJSON(r, http.MethodPost, "/api/documents/d1/index", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexAndDeleteQueued(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, fakeQueue{f})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/documents/d1/index", "notes.txt", "text/plain", "metin"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, f.indexed)

	w = doJSON(r, http.MethodDelete, "/api/documents/d1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"index:documents/t1/d1/notes.txt", "delete:d1"}, f.enqueued)
}

func TestDeleteDocumentInline(t *testing.T) {
	f := newFakeBackend()
	w := doJSON(newTestRouter(f, nil), http.MethodDelete, "/api/documents/d9", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"t1/d9"}, f.deleted)
}

func TestRetrieveRoute(t *testing.T) {
	r := newTestRouter(newFakeBackend(), nil)

	w := doJSON(r, http.MethodPost, "/api/retrieve", gin.H{"query": "fotosentez", "top_k": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kaynak 1")

	w = doJSON(r, http.MethodPost, "/api/retrieve", gin.H{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/retrieve", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummarizeRoute(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, nil)

	w := doJSON(r, http.MethodPost, "/api/summaries", gin.H{"text": "Uzun bir metin.", "summary_type": "key_points", "language": "tr"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.summaries, 1)
	assert.Equal(t, "key_points", f.summaries[0].SummaryType)
	assert.Greater(t, f.consumed, summaryOutputTokens)

	f.quotaErr = ai.ErrQuotaExceeded
	w = doJSON(r, http.MethodPost, "/api/summaries", gin.H{"text": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "quota_exceeded", errorCode(t, w))
	assert.Len(t, f.summaries, 1, "summarizer is not called over quota")
}

func TestCreateQuizInlineAndFetch(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, nil)

	w := doJSON(r, http.MethodPost, "/api/quizzes", gin.H{"summary": "Özet", "num_questions": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var quiz models.Quiz
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quiz))
	assert.Equal(t, models.QuizCompleted, quiz.Status)
	assert.Equal(t, models.QuestionTypeMixed, quiz.QuestionType)
	assert.Len(t, quiz.Questions, 4)

	w = doJSON(r, http.MethodGet, "/api/quizzes/"+quiz.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/quizzes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateQuizValidationAndFailures(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, nil)

	w := doJSON(r, http.MethodPost, "/api/quizzes", gin.H{"summary": "Özet", "num_questions": services.MaxQuestionsPerQuiz + 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.consumed)

	f.genErr = errors.New("provider exploded")
	w = doJSON(r, http.MethodPost, "/api/quizzes", gin.H{"summary": "Özet", "num_questions": 3})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	f.genErr = ai.ErrMissingAPIKey
	w = doJSON(r, http.MethodPost, "/api/quizzes", gin.H{"summary": "Özet", "num_questions": 3})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateQuizAsync(t *testing.T) {
	f := newFakeBackend()
	r := newTestRouter(f, fakeQueue{f})

	w := doJSON(r, http.MethodPost, "/api/quizzes", gin.H{"summary": "Özet", "num_questions": 5, "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)

	var body struct {
		QuizID string `json:"quiz_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, f.quizzes, body.QuizID)
	assert.Equal(t, models.QuizPending, f.quizzes[body.QuizID].Status)
	assert.Equal(t, []string{"quiz:" + body.QuizID}, f.enqueued)
}

func TestQuotaStatusRoute(t *testing.T) {
	f := newFakeBackend()
	f.consumed = 250
	r := newTestRouter(f, nil)

	w := doJSON(r, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Quota           ai.TeacherQuota `json:"quota"`
		TokensRemaining int             `json:"tokens_remaining"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "t1", body.Quota.TeacherID)
	assert.Equal(t, 250, body.Quota.TokensUsedToday)
	assert.Equal(t, 750, body.TokensRemaining)

	f.quotaErr = errors.New("mongo down")
	w = doJSON(r, http.MethodGet, "/api/quota", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
