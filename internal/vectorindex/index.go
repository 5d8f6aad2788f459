// Package vectorindex stores chunk embeddings with filterable metadata.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// UpsertBatchSize is the maximum number of records sent in one upsert call.
const UpsertBatchSize = 100

var (
	// ErrInvalidMetadata is returned when stored metadata cannot be decoded.
	ErrInvalidMetadata = errors.New("invalid chunk metadata")

	// ErrMissingTenant guards against unscoped queries and deletes.
	ErrMissingTenant = errors.New("teacher id is required")
)

// Metadata keys
const (
	KeyTeacherID   = "teacherId"
	KeyDocumentID  = "documentId"
	KeyChunkID     = "chunkId"
	KeyChunkIndex  = "chunkIndex"
	KeyTotalChunks = "totalChunks"
	KeyText        = "text"
	KeyPageNumbers = "pageNumbers"
)

// ChunkMetadata is stored next to every chunk vector.
type ChunkMetadata struct {
	TeacherID   string
	DocumentID  string
	ChunkID     string
	ChunkIndex  int
	TotalChunks int
	Text        string
	PageNumbers []int
}

// Record is one vector to upsert.
type Record struct {
	ID       string
	Vector   []float32
	Metadata ChunkMetadata
}

// Match is a query hit, highest score first.
type Match struct {
	ID       string
	Score    float32
	Metadata ChunkMetadata
}

// Filter scopes queries and deletes to a tenant and, optionally, to documents.
type Filter struct {
	TeacherID   string
	DocumentIDs []string
}

func (f Filter) validate() error {
	if f.TeacherID == "" {
		return ErrMissingTenant
	}
	return nil
}

// Index is the vector store used by indexing and retrieval.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteMany(ctx context.Context, filter Filter) error
}

// EncodeMetadata flattens metadata into store-safe values. Page numbers are
// stored as strings since numeric lists are not valid metadata values.
func EncodeMetadata(m ChunkMetadata) map[string]any {
	pages := make([]string, len(m.PageNumbers))
	for i, p := range m.PageNumbers {
		pages[i] = strconv.Itoa(p)
	}
	return map[string]any{
		KeyTeacherID:   m.TeacherID,
		KeyDocumentID:  m.DocumentID,
		KeyChunkID:     m.ChunkID,
		KeyChunkIndex:  int64(m.ChunkIndex),
		KeyTotalChunks: int64(m.TotalChunks),
		KeyText:        m.Text,
		KeyPageNumbers: pages,
	}
}

// DecodeMetadata reverses EncodeMetadata. Page numbers come back sorted.
func DecodeMetadata(values map[string]any) (ChunkMetadata, error) {
	var m ChunkMetadata
	var err error

	if m.TeacherID, err = stringValue(values, KeyTeacherID); err != nil {
		return m, err
	}
	if m.DocumentID, err = stringValue(values, KeyDocumentID); err != nil {
		return m, err
	}
	m.ChunkID, _ = stringValue(values, KeyChunkID)
	m.Text, _ = stringValue(values, KeyText)
	m.ChunkIndex = intValue(values[KeyChunkIndex])
	m.TotalChunks = intValue(values[KeyTotalChunks])

	switch raw := values[KeyPageNumbers].(type) {
	case nil:
	case []string:
		for _, s := range raw {
			p, err := strconv.Atoi(s)
			if err != nil {
				return m, fmt.Errorf("%w: page number %q", ErrInvalidMetadata, s)
			}
			m.PageNumbers = append(m.PageNumbers, p)
		}
	case []any:
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return m, fmt.Errorf("%w: page number %v", ErrInvalidMetadata, v)
			}
			p, err := strconv.Atoi(s)
			if err != nil {
				return m, fmt.Errorf("%w: page number %q", ErrInvalidMetadata, s)
			}
			m.PageNumbers = append(m.PageNumbers, p)
		}
	default:
		return m, fmt.Errorf("%w: %s has type %T", ErrInvalidMetadata, KeyPageNumbers, raw)
	}
	sort.Ints(m.PageNumbers)
	return m, nil
}

func stringValue(values map[string]any, key string) (string, error) {
	s, ok := values[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s missing", ErrInvalidMetadata, key)
	}
	return s, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
