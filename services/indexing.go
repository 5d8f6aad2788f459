package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/telemetry"
	"lesson-content-engine/internal/vectorindex"
	"lesson-content-engine/models"
	"lesson-content-engine/utils"
)

// embedBatchSize matches the vector upsert batch.
const embedBatchSize = vectorindex.UpsertBatchSize

var ErrMissingDocumentID = errors.New("document id and teacher id are required")

// DocumentStatusStore records indexing progress.
type DocumentStatusStore interface {
	MarkProcessing(ctx context.Context, teacherID, documentID string) error
	MarkIndexed(ctx context.Context, teacherID, documentID string, pageCount, chunkCount int) error
	MarkFailed(ctx context.Context, teacherID, documentID, reason string) error
	Delete(ctx context.Context, teacherID, documentID string) error
}

// ImageRowDeleter removes a document's image rows and returns them.
type ImageRowDeleter interface {
	DeleteByDocument(ctx context.Context, teacherID, documentID string) ([]models.DocumentImage, error)
}

type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type IndexRequest struct {
	DocumentID string
	TeacherID  string
	Buffer     []byte
	MimeType   string
}

type IndexResult struct {
	DocumentID string `json:"document_id"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	Method     string `json:"method"`
}

// IndexingService turns documents into searchable chunks and removes them again.
type IndexingService struct {
	extractor *TextExtractor
	embedder  ai.Embedder
	index     vectorindex.Index
	documents DocumentStatusStore
	images    ImageRowDeleter
	blobs     BlobDeleter
	cache     *ContentCache
	metrics   *telemetry.Metrics
	chunking  models.ChunkingConfig
}

func NewIndexingService(
	extractor *TextExtractor,
	embedder ai.Embedder,
	index vectorindex.Index,
	documents DocumentStatusStore,
	images ImageRowDeleter,
	blobs BlobDeleter,
	cache *ContentCache,
	metrics *telemetry.Metrics,
	chunking models.ChunkingConfig,
) *IndexingService {
	if chunking.ChunkSize <= 0 {
		chunking.ChunkSize = DefaultChunkSize
		chunking.Overlap = DefaultChunkOverlap
	}
	return &IndexingService{
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		documents: documents,
		images:    images,
		blobs:     blobs,
		cache:     cache,
		metrics:   metrics,
		chunking:  chunking,
	}
}

// IndexDocument parses the buffer, replaces every earlier chunk of the document
// and stores the new chunks. The document status ends as indexed or failed.
func (s *IndexingService) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if req.DocumentID == "" || req.TeacherID == "" {
		return nil, ErrMissingDocumentID
	}
	start := time.Now()
	log := logger.FromContext(ctx).With("document_id", req.DocumentID, "teacher_id", req.TeacherID)

	if err := s.documents.MarkProcessing(ctx, req.TeacherID, req.DocumentID); err != nil {
		return nil, err
	}
	fail := func(err error) (*IndexResult, error) {
		log.Error("document indexing failed", "error", err)
		// Record the failure even when ctx is what failed
		fctx, cancel := utils.WithTimeout(context.WithoutCancel(ctx))
		defer cancel()
		if merr := s.documents.MarkFailed(fctx, req.TeacherID, req.DocumentID, err.Error()); merr != nil {
			log.Error("failed to record indexing failure", "error", merr)
		}
		s.metrics.RecordPipeline(ctx, "index", "error", time.Since(start).Seconds())
		return nil, err
	}

	doc, err := s.extractor.Parse(req.Buffer, req.MimeType)
	if err != nil {
		return fail(err)
	}
	chunks, err := ChunkParsed(doc, s.chunking.ChunkSize, s.chunking.Overlap)
	if err != nil {
		return fail(err)
	}
	AssignChunkIDs(req.DocumentID, req.TeacherID, chunks)

	filter := vectorindex.Filter{TeacherID: req.TeacherID, DocumentIDs: []string{req.DocumentID}}
	if err := s.index.DeleteMany(ctx, filter); err != nil {
		return fail(fmt.Errorf("failed to clear previous chunks: %w", err))
	}

	for i := 0; i < len(chunks); i += embedBatchSize {
		batch := chunks[i:min(i+embedBatchSize, len(chunks))]
		if err := s.storeBatch(ctx, batch); err != nil {
			return fail(err)
		}
	}

	if err := s.documents.MarkIndexed(ctx, req.TeacherID, req.DocumentID, doc.PageCount(), len(chunks)); err != nil {
		return nil, err
	}
	s.cache.InvalidateTeacher(ctx, req.TeacherID)
	s.metrics.RecordChunksIndexed(ctx, len(chunks))
	s.metrics.RecordPipeline(ctx, "index", "ok", time.Since(start).Seconds())

	log.Info("document indexed",
		"pages", doc.PageCount(),
		"chunks", len(chunks),
		"method", doc.Method,
		"duration_ms", time.Since(start).Milliseconds())
	return &IndexResult{
		DocumentID: req.DocumentID,
		PageCount:  doc.PageCount(),
		ChunkCount: len(chunks),
		Method:     doc.Method,
	}, nil
}

func (s *IndexingService) storeBatch(ctx context.Context, batch []models.TextChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("failed to embed chunks: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	records := make([]vectorindex.Record, len(batch))
	for i, c := range batch {
		records[i] = vectorindex.Record{
			ID:     c.ID,
			Vector: vectors[i],
			Metadata: vectorindex.ChunkMetadata{
				TeacherID:   c.TeacherID,
				DocumentID:  c.DocumentID,
				ChunkID:     c.ID,
				ChunkIndex:  c.ChunkIndex,
				TotalChunks: c.TotalChunks,
				Text:        c.Text,
				PageNumbers: c.PageNumbers,
			},
		}
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// DeleteDocument removes the document's vectors, then its image rows, then
// the image blobs. A blob that cannot be deleted is logged and skipped.
func (s *IndexingService) DeleteDocument(ctx context.Context, teacherID, documentID string) error {
	if documentID == "" || teacherID == "" {
		return ErrMissingDocumentID
	}
	log := logger.FromContext(ctx).With("document_id", documentID, "teacher_id", teacherID)

	filter := vectorindex.Filter{TeacherID: teacherID, DocumentIDs: []string{documentID}}
	if err := s.index.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}

	images, err := s.images.DeleteByDocument(ctx, teacherID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document images: %w", err)
	}
	for _, img := range images {
		if err := s.blobs.Delete(ctx, img.StoragePath); err != nil {
			log.Warn("failed to delete image blob", "path", img.StoragePath, "error", err)
		}
	}

	if err := s.documents.Delete(ctx, teacherID, documentID); err != nil {
		return err
	}
	s.cache.InvalidateTeacher(ctx, teacherID)
	log.Info("document deleted", "images", len(images))
	return nil
}
