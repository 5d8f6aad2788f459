package models

// TextChunk is a contiguous, possibly overlapping slice of a parsed document.
// Chunks are immutable; re-indexing a document replaces the whole set.
type TextChunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	TeacherID   string `json:"teacher_id"`
	Text        string `json:"text"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	PageNumbers []int  `json:"page_numbers"`

	// Rune offsets of the window in the normalized document text, [Start, End).
	Start int `json:"start"`
	End   int `json:"end"`
}
