package models

import (
	"time"
)

// DocumentImage is a row of the document_images side table. PageIndex is 0-based.
type DocumentImage struct {
	ID          string    `bson:"_id" json:"id"`
	DocumentID  string    `bson:"document_id" json:"document_id"`
	TeacherID   string    `bson:"teacher_id" json:"teacher_id"`
	PageIndex   int       `bson:"page_index" json:"page_index"`
	ImageIndex  int       `bson:"image_index" json:"image_index"`
	StoragePath string    `bson:"storage_path" json:"storage_path"`
	Width       int       `bson:"width" json:"width"`
	Height      int       `bson:"height" json:"height"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}
