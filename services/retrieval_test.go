package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lesson-content-engine/internal/vectorindex"
	"lesson-content-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(id, doc string, score float32, text string, pages ...int) vectorindex.Match {
	return vectorindex.Match{
		ID:    id,
		Score: score,
		Metadata: vectorindex.ChunkMetadata{
			TeacherID:   "t1",
			DocumentID:  doc,
			ChunkID:     id,
			Text:        text,
			PageNumbers: pages,
		},
	}
}

func TestRetrieveRendersChunksAndImages(t *testing.T) {
	idx := newFakeIndex()
	idx.matches = []vectorindex.Match{
		match("d1_chunk_4", "d1", 0.91, "Türev bir fonksiyonun değişim hızıdır.", 3, 4),
		match("d1_chunk_0", "d1", 0.72, "Limit kavramı.", 1),
	}
	images := &fakeImages{rows: []models.DocumentImage{
		{ID: "img-a", DocumentID: "d1", TeacherID: "t1", PageIndex: 2, StoragePath: "images/d1/p2_0.png"},
		{ID: "img-a", DocumentID: "d1", TeacherID: "t1", PageIndex: 2, StoragePath: "images/d1/p2_0.png"},
		{ID: "img-b", DocumentID: "d1", TeacherID: "t1", PageIndex: 9, StoragePath: "images/d1/p9_0.png"},
	}}
	rs := NewRetrievalService(&fakeEmbedder{}, idx, images, fakeURLs{}, nil, nil, 0)

	res, err := rs.Retrieve(context.Background(), "türev nedir", "t1", []string{"d1"}, 5)
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "d1_chunk_4", res.Chunks[0].ChunkID, "relevance order is kept")
	require.Len(t, res.Images, 1, "duplicates and pages without a matched chunk are dropped")
	assert.Equal(t, 3, res.Images[0].PageNumber)
	assert.Equal(t, "https://cdn.test/images/d1/p2_0.png", res.Images[0].URL)

	want := "[Kaynak 1 (Sayfa 3, 4)] Türev bir fonksiyonun değişim hızıdır.\n\n" +
		"[Kaynak 2 (Sayfa 1)] Limit kavramı.\n\n" +
		"İlgili görseller:\n" +
		"![Sayfa 3 görseli](https://cdn.test/images/d1/p2_0.png)\n*Sayfa 3*\n" +
		imageTrailer
	assert.Equal(t, want, res.Context)

	require.Len(t, idx.queries, 1)
	assert.Equal(t, vectorindex.Filter{TeacherID: "t1", DocumentIDs: []string{"d1"}}, idx.queries[0])
}

func TestRetrieveDefaultTopK(t *testing.T) {
	idx := newFakeIndex()
	for i := 0; i < 12; i++ {
		idx.matches = append(idx.matches, match("c", "d1", 0.5, "x", 1))
	}
	rs := NewRetrievalService(&fakeEmbedder{}, idx, nil, nil, nil, nil, 0)

	res, err := rs.Retrieve(context.Background(), "q", "t1", nil, 0)
	require.NoError(t, err)
	assert.Len(t, res.Chunks, DefaultRetrievalTopK)
	assert.Empty(t, res.Images)
	assert.NotContains(t, res.Context, "İlgili görseller")
}

func TestRetrieveImageLookupFailureDegrades(t *testing.T) {
	idx := newFakeIndex()
	idx.matches = []vectorindex.Match{match("d1_chunk_0", "d1", 0.9, "metin", 1)}
	rs := NewRetrievalService(&fakeEmbedder{}, idx, &fakeImages{err: errors.New("mongo down")}, fakeURLs{}, nil, nil, 3)

	res, err := rs.Retrieve(context.Background(), "q", "t1", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Images)
	assert.Equal(t, "[Kaynak 1 (Sayfa 1)] metin", res.Context)
}

func TestRetrieveErrors(t *testing.T) {
	idx := newFakeIndex()
	rs := NewRetrievalService(&fakeEmbedder{}, idx, nil, nil, nil, nil, 0)

	_, err := rs.Retrieve(context.Background(), "   ", "t1", nil, 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = rs.Retrieve(context.Background(), "q", "", nil, 0)
	assert.ErrorIs(t, err, vectorindex.ErrMissingTenant)

	embedErr := errors.New("quota exhausted")
	rs = NewRetrievalService(&fakeEmbedder{err: embedErr}, idx, nil, nil, nil, nil, 0)
	_, err = rs.Retrieve(context.Background(), "q", "t1", nil, 0)
	assert.ErrorIs(t, err, embedErr)
	assert.Empty(t, idx.queries, "search is not attempted without a query vector")

	idx.queryErr = errors.New("qdrant unavailable")
	rs = NewRetrievalService(&fakeEmbedder{}, idx, nil, nil, nil, nil, 0)
	_, err = rs.Retrieve(context.Background(), "q", "t1", nil, 0)
	assert.ErrorIs(t, err, idx.queryErr)
}

func TestRenderContextWithoutChunks(t *testing.T) {
	assert.Equal(t, "", RenderContext(nil, nil))

	out := RenderContext(nil, []models.ResolvedImage{{PageNumber: 2, URL: "u"}})
	assert.True(t, strings.HasPrefix(out, "İlgili görseller:\n![Sayfa 2 görseli](u)\n*Sayfa 2*\n"))
}
