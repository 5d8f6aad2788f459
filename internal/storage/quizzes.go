package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lesson-content-engine/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrQuizNotFound = errors.New("quiz not found")

type QuizRepository struct {
	quizzes *mongo.Collection
}

func NewQuizRepository(db *mongo.Database) *QuizRepository {
	return &QuizRepository{quizzes: db.Collection("quizzes")}
}

func (r *QuizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = time.Now()
	}
	if _, err := r.quizzes.InsertOne(ctx, quiz); err != nil {
		return fmt.Errorf("failed to create quiz: %w", err)
	}
	return nil
}

func (r *QuizRepository) Get(ctx context.Context, teacherID, quizID string) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.quizzes.FindOne(ctx, bson.M{"_id": quizID, "teacher_id": teacherID}).Decode(&quiz)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quiz: %w", err)
	}
	return &quiz, nil
}

// Complete stores the generated questions and stage counts.
func (r *QuizRepository) Complete(ctx context.Context, quiz *models.Quiz) error {
	now := time.Now()
	quiz.Status = models.QuizCompleted
	quiz.CompletedAt = &now
	_, err := r.quizzes.UpdateOne(ctx,
		bson.M{"_id": quiz.ID},
		bson.M{"$set": bson.M{
			"status":             quiz.Status,
			"questions":          quiz.Questions,
			"stage1_count":       quiz.Stage1Count,
			"stage2_count":       quiz.Stage2Count,
			"stage3_count":       quiz.Stage3Count,
			"processing_time_ms": quiz.ProcessingTimeMs,
			"completed_at":       now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to complete quiz: %w", err)
	}
	return nil
}

func (r *QuizRepository) Fail(ctx context.Context, quizID, reason string) error {
	now := time.Now()
	_, err := r.quizzes.UpdateOne(ctx,
		bson.M{"_id": quizID},
		bson.M{"$set": bson.M{"status": models.QuizFailed, "error_message": reason, "completed_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark quiz failed: %w", err)
	}
	return nil
}
