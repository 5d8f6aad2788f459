package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/telemetry"
	"lesson-content-engine/internal/vectorindex"
	"lesson-content-engine/models"
)

const DefaultRetrievalTopK = 8

var ErrEmptyQuery = errors.New("query is empty")

const imageTrailer = "Yanıtında konuyla ilgili olduğunda yukarıdaki görselleri Markdown formatında kullanabilirsin."

// ImageLister reads the document_images side table.
type ImageLister interface {
	ListByDocuments(ctx context.Context, teacherID string, documentIDs []string) ([]models.DocumentImage, error)
}

// URLResolver turns a blob key into a public URL.
type URLResolver interface {
	PublicURL(key string) string
}

// RetrievalService builds the context block for a query from the teacher's indexed documents.
type RetrievalService struct {
	embedder    ai.Embedder
	index       vectorindex.Index
	images      ImageLister
	urls        URLResolver
	cache       *ContentCache
	metrics     *telemetry.Metrics
	defaultTopK int
	cacheTTL    time.Duration
}

// NewRetrievalService wires the retrieval engine. cache and metrics may be nil.
func NewRetrievalService(embedder ai.Embedder, index vectorindex.Index, images ImageLister, urls URLResolver, cache *ContentCache, metrics *telemetry.Metrics, defaultTopK int) *RetrievalService {
	if defaultTopK <= 0 {
		defaultTopK = DefaultRetrievalTopK
	}
	return &RetrievalService{
		embedder:    embedder,
		index:       index,
		images:      images,
		urls:        urls,
		cache:       cache,
		metrics:     metrics,
		defaultTopK: defaultTopK,
		cacheTTL:    10 * time.Minute,
	}
}

// Retrieve embeds query, searches the teacher's chunks (optionally limited to
// documentIDs) and renders the matches in relevance order, followed by the
// images that sit on the matched pages. Embedding and search failures are returned.
func (rs *RetrievalService) Retrieve(ctx context.Context, query, teacherID string, documentIDs []string, topK int) (*models.RetrievalResult, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if teacherID == "" {
		return nil, vectorindex.ErrMissingTenant
	}
	if topK <= 0 {
		topK = rs.defaultTopK
	}

	key := rs.cacheKey(ctx, query, teacherID, documentIDs, topK)
	var cached models.RetrievalResult
	if rs.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	vectors, err := rs.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors", len(vectors))
	}

	matches, err := rs.index.Query(ctx, vectors[0], topK, vectorindex.Filter{
		TeacherID:   teacherID,
		DocumentIDs: documentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	result := &models.RetrievalResult{Chunks: make([]models.RetrievedChunk, 0, len(matches))}
	for _, m := range matches {
		result.Chunks = append(result.Chunks, models.RetrievedChunk{
			ChunkID:     m.ID,
			DocumentID:  m.Metadata.DocumentID,
			ChunkIndex:  m.Metadata.ChunkIndex,
			PageNumbers: m.Metadata.PageNumbers,
			Score:       m.Score,
			Text:        m.Metadata.Text,
		})
	}
	result.Images = rs.resolveImages(ctx, teacherID, result.Chunks)
	result.Context = RenderContext(result.Chunks, result.Images)

	rs.cache.SetJSON(ctx, key, result, rs.cacheTTL)
	rs.metrics.RecordRetrieval(ctx, time.Since(start).Seconds(), len(matches))
	return result, nil
}

// resolveImages keeps the images whose page was referenced by a matched chunk.
// Image rows count pages from 0 and chunks from 1. A failed lookup yields no
// images rather than failing the retrieval.
func (rs *RetrievalService) resolveImages(ctx context.Context, teacherID string, chunks []models.RetrievedChunk) []models.ResolvedImage {
	if rs.images == nil || len(chunks) == 0 {
		return nil
	}

	pages := make(map[string]map[int]struct{})
	var docIDs []string
	for _, c := range chunks {
		set, ok := pages[c.DocumentID]
		if !ok {
			set = make(map[int]struct{})
			pages[c.DocumentID] = set
			docIDs = append(docIDs, c.DocumentID)
		}
		for _, p := range c.PageNumbers {
			set[p] = struct{}{}
		}
	}

	rows, err := rs.images.ListByDocuments(ctx, teacherID, docIDs)
	if err != nil {
		logger.FromContext(ctx).Warn("image lookup failed, continuing without images", "error", err)
		return nil
	}

	seen := make(map[string]struct{}, len(rows))
	var resolved []models.ResolvedImage
	for _, img := range rows {
		page := img.PageIndex + 1
		if _, ok := pages[img.DocumentID][page]; !ok {
			continue
		}
		if _, dup := seen[img.ID]; dup {
			continue
		}
		seen[img.ID] = struct{}{}

		url := img.StoragePath
		if rs.urls != nil {
			url = rs.urls.PublicURL(img.StoragePath)
		}
		resolved = append(resolved, models.ResolvedImage{
			ID:         img.ID,
			DocumentID: img.DocumentID,
			PageNumber: page,
			URL:        url,
			Width:      img.Width,
			Height:     img.Height,
		})
	}
	return resolved
}

// RenderContext formats chunks as "[Kaynak i (Sayfa p1, p2)] text" blocks
// separated by blank lines, then the image block if there are images.
func RenderContext(chunks []models.RetrievedChunk, images []models.ResolvedImage) string {
	parts := make([]string, 0, len(chunks)+1)
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Kaynak %d (Sayfa %s)] %s", i+1, joinPages(c.PageNumbers), c.Text))
	}

	if len(images) > 0 {
		var sb strings.Builder
		sb.WriteString("İlgili görseller:\n")
		for _, img := range images {
			fmt.Fprintf(&sb, "![Sayfa %d görseli](%s)\n*Sayfa %d*\n", img.PageNumber, img.URL, img.PageNumber)
		}
		sb.WriteString(imageTrailer)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

func joinPages(pages []int) string {
	strs := make([]string, len(pages))
	for i, p := range pages {
		strs[i] = strconv.Itoa(p)
	}
	return strings.Join(strs, ", ")
}

func (rs *RetrievalService) cacheKey(ctx context.Context, query, teacherID string, documentIDs []string, topK int) string {
	if rs.cache == nil {
		return ""
	}
	docs := append([]string(nil), documentIDs...)
	sort.Strings(docs)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", query, strings.Join(docs, ","), topK)
	return fmt.Sprintf("retrieval:%s:%d:%s", teacherID, rs.cache.TeacherGeneration(ctx, teacherID), hex.EncodeToString(h.Sum(nil)))
}
