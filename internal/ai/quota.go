package ai

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrQuotaExceeded = errors.New("daily completion quota exceeded")

// TeacherQuota is a teacher's daily completion token allowance.
type TeacherQuota struct {
	TeacherID       string    `bson:"teacher_id" json:"teacher_id"`
	DailyTokenLimit int       `bson:"daily_token_limit" json:"daily_token_limit"`
	TokensUsedToday int       `bson:"tokens_used_today" json:"tokens_used_today"`
	RequestsToday   int       `bson:"requests_today" json:"requests_today"`
	LastResetDate   time.Time `bson:"last_reset_date" json:"last_reset_date"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// QuotaStore keeps per-teacher quotas in the completion_quotas collection.
type QuotaStore struct {
	col          *mongo.Collection
	defaultLimit int
}

func NewQuotaStore(db *mongo.Database, defaultLimit int) *QuotaStore {
	return &QuotaStore{col: db.Collection("completion_quotas"), defaultLimit: defaultLimit}
}

// Consume reserves estimatedTokens for the teacher or returns ErrQuotaExceeded.
// The reservation is a single conditional update so concurrent requests cannot overshoot.
func (q *QuotaStore) Consume(ctx context.Context, teacherID string, estimatedTokens int) error {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	// Make sure a row exists, then roll it over if it belongs to a previous day
	_, err := q.col.UpdateOne(ctx,
		bson.M{"teacher_id": teacherID},
		bson.M{"$setOnInsert": bson.M{
			"teacher_id":        teacherID,
			"daily_token_limit": q.defaultLimit,
			"tokens_used_today": 0,
			"requests_today":    0,
			"last_reset_date":   today,
			"created_at":        now,
			"updated_at":        now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	_, err = q.col.UpdateOne(ctx,
		bson.M{"teacher_id": teacherID, "last_reset_date": bson.M{"$lt": today}},
		bson.M{"$set": bson.M{
			"tokens_used_today": 0,
			"requests_today":    0,
			"last_reset_date":   today,
			"updated_at":        now,
		}},
	)
	if err != nil {
		return err
	}

	res, err := q.col.UpdateOne(ctx,
		bson.M{
			"teacher_id": teacherID,
			"$expr": bson.M{"$lte": bson.A{
				bson.M{"$add": bson.A{"$tokens_used_today", estimatedTokens}},
				"$daily_token_limit",
			}},
		},
		bson.M{
			"$inc": bson.M{"tokens_used_today": estimatedTokens, "requests_today": 1},
			"$set": bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// Status returns the teacher's quota for today. A teacher with no row yet, or
// whose row belongs to an earlier day, has nothing used.
func (q *QuotaStore) Status(ctx context.Context, teacherID string) (*TeacherQuota, error) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var quota TeacherQuota
	err := q.col.FindOne(ctx, bson.M{"teacher_id": teacherID}).Decode(&quota)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &TeacherQuota{TeacherID: teacherID, DailyTokenLimit: q.defaultLimit, LastResetDate: today}, nil
	}
	if err != nil {
		return nil, err
	}
	if quota.LastResetDate.Before(today) {
		quota.TokensUsedToday = 0
		quota.RequestsToday = 0
		quota.LastResetDate = today
	}
	return &quota, nil
}
