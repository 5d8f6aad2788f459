package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lesson-content-engine/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository tracks each document's indexing status.
type DocumentRepository struct {
	documents *mongo.Collection
}

func NewDocumentRepository(db *mongo.Database) *DocumentRepository {
	return &DocumentRepository{documents: db.Collection("documents")}
}

// Upsert creates or replaces the document row.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = doc.UpdatedAt
	}
	_, err := r.documents.ReplaceOne(ctx,
		bson.M{"_id": doc.ID, "teacher_id": doc.TeacherID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, teacherID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := r.documents.FindOne(ctx, bson.M{"_id": documentID, "teacher_id": teacherID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

// MarkProcessing moves a document into processing, creating the row if needed.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, teacherID, documentID string) error {
	now := time.Now()
	_, err := r.documents.UpdateOne(ctx,
		bson.M{"_id": documentID, "teacher_id": teacherID},
		bson.M{
			"$set":         bson.M{"status": models.StatusProcessing, "updated_at": now},
			"$unset":       bson.M{"error_message": ""},
			"$setOnInsert": bson.M{"uploaded_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkIndexed(ctx context.Context, teacherID, documentID string, pageCount, chunkCount int) error {
	now := time.Now()
	_, err := r.documents.UpdateOne(ctx,
		bson.M{"_id": documentID, "teacher_id": teacherID},
		bson.M{"$set": bson.M{
			"status":      models.StatusIndexed,
			"page_count":  pageCount,
			"chunk_count": chunkCount,
			"indexed_at":  now,
			"updated_at":  now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, teacherID, documentID, reason string) error {
	_, err := r.documents.UpdateOne(ctx,
		bson.M{"_id": documentID, "teacher_id": teacherID},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"error_message": reason,
			"updated_at":    time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, teacherID, documentID string) error {
	if _, err := r.documents.DeleteOne(ctx, bson.M{"_id": documentID, "teacher_id": teacherID}); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// FailStale marks documents stuck in processing since before cutoff as failed.
func (r *DocumentRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.documents.UpdateMany(ctx,
		bson.M{"status": models.StatusProcessing, "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"error_message": "indexing timed out",
			"updated_at":    time.Now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale documents: %w", err)
	}
	return res.ModifiedCount, nil
}
