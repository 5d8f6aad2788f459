package models

// RetrievedChunk is one vector match, in relevance order.
type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	PageNumbers []int   `json:"page_numbers"`
	Score       float32 `json:"score"`
	Text        string  `json:"text"`
}

// ResolvedImage is an image whose page is referenced by a retrieved chunk.
type ResolvedImage struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"` // 1-based
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// RetrievalResult is the rendered context block plus its structured parts.
type RetrievalResult struct {
	Context string           `json:"context"`
	Chunks  []RetrievedChunk `json:"chunks"`
	Images  []ResolvedImage  `json:"images"`
}
