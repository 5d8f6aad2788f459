// Package storage holds the Mongo repositories and blob stores behind the services.
package storage

import (
	"context"
	"fmt"

	"lesson-content-engine/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoImageRepository reads and deletes rows of the document_images side table.
type MongoImageRepository struct {
	images *mongo.Collection
}

func NewMongoImageRepository(db *mongo.Database) *MongoImageRepository {
	return &MongoImageRepository{images: db.Collection("document_images")}
}

// ListByDocuments returns the teacher's images for the given documents,
// ordered by document, page and position on the page.
func (r *MongoImageRepository) ListByDocuments(ctx context.Context, teacherID string, documentIDs []string) ([]models.DocumentImage, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"teacher_id":  teacherID,
		"document_id": bson.M{"$in": documentIDs},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "document_id", Value: 1},
		{Key: "page_index", Value: 1},
		{Key: "image_index", Value: 1},
	})

	cursor, err := r.images.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query document images: %w", err)
	}
	defer cursor.Close(ctx)

	var images []models.DocumentImage
	if err := cursor.All(ctx, &images); err != nil {
		return nil, fmt.Errorf("failed to decode document images: %w", err)
	}
	return images, nil
}

// DeleteByDocument removes the document's image rows and returns the removed rows
// so their blobs can be deleted.
func (r *MongoImageRepository) DeleteByDocument(ctx context.Context, teacherID, documentID string) ([]models.DocumentImage, error) {
	filter := bson.M{"teacher_id": teacherID, "document_id": documentID}

	cursor, err := r.images.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query document images: %w", err)
	}
	var images []models.DocumentImage
	if err := cursor.All(ctx, &images); err != nil {
		return nil, fmt.Errorf("failed to decode document images: %w", err)
	}

	if _, err := r.images.DeleteMany(ctx, filter); err != nil {
		return nil, fmt.Errorf("failed to delete document images: %w", err)
	}
	return images, nil
}
