package models

import (
	"time"
)

// Document tracks the indexing lifecycle of one uploaded teaching document.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	TeacherID    string     `bson:"teacher_id" json:"teacher_id"`
	Filename     string     `bson:"filename" json:"filename"`
	MimeType     string     `bson:"mime_type" json:"mime_type"`
	FilePath     string     `bson:"file_path,omitempty" json:"-"`
	Status       string     `bson:"status" json:"status"` // pending, processing, indexed, failed
	PageCount    int        `bson:"page_count" json:"page_count"`
	ChunkCount   int        `bson:"chunk_count" json:"chunk_count"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
	IndexedAt    *time.Time `bson:"indexed_at,omitempty" json:"indexed_at,omitempty"`
}

// Document status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// ChunkingConfig defines how text should be chunked. Sizes are in characters.
type ChunkingConfig struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}
