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

func newTestIndexer(emb *fakeEmbedder, idx *fakeIndex, docs *fakeDocuments, images *fakeImages, blobs *fakeBlobs, cfg models.ChunkingConfig) *IndexingService {
	return NewIndexingService(NewTextExtractor(), emb, idx, docs, images, blobs, nil, nil, cfg)
}

func TestIndexDocumentStoresChunks(t *testing.T) {
	emb, idx, docs := &fakeEmbedder{}, newFakeIndex(), newFakeDocuments()
	svc := newTestIndexer(emb, idx, docs, &fakeImages{}, &fakeBlobs{}, models.ChunkingConfig{ChunkSize: 100, Overlap: 20})

	text := strings.Repeat("Hücre zarı seçici geçirgendir. ", 20)
	res, err := svc.IndexDocument(context.Background(), IndexRequest{
		DocumentID: "d1", TeacherID: "t1", Buffer: []byte(text), MimeType: "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, ExtractionMethodPlain, res.Method)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Len(t, idx.records, res.ChunkCount)
	assert.Equal(t, models.StatusIndexed, docs.status["d1"])
	assert.Equal(t, [2]int{1, res.ChunkCount}, docs.counts["d1"])

	rec, ok := idx.records["d1_chunk_0"]
	require.True(t, ok)
	assert.Equal(t, "t1", rec.Metadata.TeacherID)
	assert.Equal(t, "d1", rec.Metadata.DocumentID)
	assert.Equal(t, res.ChunkCount, rec.Metadata.TotalChunks)
	assert.Equal(t, []int{1}, rec.Metadata.PageNumbers)

	require.Len(t, idx.deletes, 1, "earlier chunks are cleared before upserting")
	assert.Equal(t, vectorindex.Filter{TeacherID: "t1", DocumentIDs: []string{"d1"}}, idx.deletes[0])
}

func TestIndexDocumentReplacesPreviousChunks(t *testing.T) {
	idx := newFakeIndex()
	svc := newTestIndexer(&fakeEmbedder{}, idx, newFakeDocuments(), &fakeImages{}, &fakeBlobs{}, models.ChunkingConfig{ChunkSize: 50, Overlap: 10})
	ctx := context.Background()

	_, err := svc.IndexDocument(ctx, IndexRequest{DocumentID: "d1", TeacherID: "t1", Buffer: []byte(strings.Repeat("a", 400))})
	require.NoError(t, err)
	first := len(idx.records)

	_, err = svc.IndexDocument(ctx, IndexRequest{DocumentID: "d1", TeacherID: "t1", Buffer: []byte("kısa metin")})
	require.NoError(t, err)
	assert.Greater(t, first, 1)
	assert.Len(t, idx.records, 1)
}

func TestIndexDocumentBatchesEmbeddings(t *testing.T) {
	emb, idx := &fakeEmbedder{}, newFakeIndex()
	svc := newTestIndexer(emb, idx, newFakeDocuments(), &fakeImages{}, &fakeBlobs{}, models.ChunkingConfig{ChunkSize: 10, Overlap: 0})

	res, err := svc.IndexDocument(context.Background(), IndexRequest{
		DocumentID: "d1", TeacherID: "t1", Buffer: []byte(strings.Repeat("b", 2500)),
	})
	require.NoError(t, err)
	assert.Equal(t, 250, res.ChunkCount)
	require.Len(t, emb.batches, 3)
	assert.Len(t, emb.batches[0], embedBatchSize)
	assert.Len(t, emb.batches[2], 50)
	assert.Equal(t, 3, idx.upserts)
}

func TestIndexDocumentFailuresMarkDocument(t *testing.T) {
	tests := []struct {
		name    string
		emb     *fakeEmbedder
		idx     func() *fakeIndex
		buf     []byte
		mime    string
		cfg     models.ChunkingConfig
		wantErr error
	}{
		{
			name:    "unreadable pdf",
			emb:     &fakeEmbedder{},
			idx:     newFakeIndex,
			buf:     []byte("%PDF-1.4 broken"),
			mime:    MimePDF,
			wantErr: ErrUnreadableDocument,
		},
		{
			name:    "bad window",
			emb:     &fakeEmbedder{},
			idx:     newFakeIndex,
			buf:     []byte("text"),
			cfg:     models.ChunkingConfig{ChunkSize: 10, Overlap: 10},
			wantErr: ErrInvalidChunkWindow,
		},
		{
			name: "embedding error",
			emb:  &fakeEmbedder{err: errors.New("rate limited")},
			idx:  newFakeIndex,
			buf:  []byte("text"),
		},
		{
			name: "vector count mismatch",
			emb:  &fakeEmbedder{short: true},
			idx:  newFakeIndex,
			buf:  []byte("text"),
		},
		{
			name: "upsert error",
			emb:  &fakeEmbedder{},
			idx: func() *fakeIndex {
				f := newFakeIndex()
				f.upsertErr = errors.New("qdrant unavailable")
				return f
			},
			buf: []byte("text"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := newFakeDocuments()
			svc := newTestIndexer(tt.emb, tt.idx(), docs, &fakeImages{}, &fakeBlobs{}, tt.cfg)

			_, err := svc.IndexDocument(context.Background(), IndexRequest{
				DocumentID: "d1", TeacherID: "t1", Buffer: tt.buf, MimeType: tt.mime,
			})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, models.StatusFailed, docs.status["d1"])
			assert.NotEmpty(t, docs.reason["d1"])
		})
	}
}

func TestIndexDocumentRequiresIDs(t *testing.T) {
	svc := newTestIndexer(&fakeEmbedder{}, newFakeIndex(), newFakeDocuments(), &fakeImages{}, &fakeBlobs{}, models.ChunkingConfig{})
	_, err := svc.IndexDocument(context.Background(), IndexRequest{DocumentID: "d1"})
	assert.ErrorIs(t, err, ErrMissingDocumentID)
}

func TestDeleteDocument(t *testing.T) {
	idx := newFakeIndex()
	docs := newFakeDocuments()
	images := &fakeImages{rows: []models.DocumentImage{
		{ID: "i1", DocumentID: "d1", TeacherID: "t1", StoragePath: "images/d1/p0_0.png"},
		{ID: "i2", DocumentID: "d1", TeacherID: "t1", StoragePath: "images/d1/p1_0.png"},
		{ID: "i3", DocumentID: "d2", TeacherID: "t1", StoragePath: "images/d2/p0_0.png"},
	}}
	blobs := &fakeBlobs{failOn: "images/d1/p1_0.png"}
	svc := newTestIndexer(&fakeEmbedder{}, idx, docs, images, blobs, models.ChunkingConfig{})
	ctx := context.Background()

	_, err := svc.IndexDocument(ctx, IndexRequest{DocumentID: "d1", TeacherID: "t1", Buffer: []byte("bir")})
	require.NoError(t, err)
	_, err = svc.IndexDocument(ctx, IndexRequest{DocumentID: "d2", TeacherID: "t1", Buffer: []byte("iki")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, "t1", "d1"), "a failed blob delete does not fail the call")

	_, ok := idx.records["d1_chunk_0"]
	assert.False(t, ok)
	_, ok = idx.records["d2_chunk_0"]
	assert.True(t, ok)
	assert.Equal(t, []string{"images/d1/p0_0.png"}, blobs.deleted)
	require.Len(t, images.rows, 1)
	assert.Equal(t, "i3", images.rows[0].ID)
	assert.Equal(t, []string{"d1"}, docs.deleted)
}

func TestDeleteDocumentStopsOnVectorFailure(t *testing.T) {
	idx := newFakeIndex()
	idx.deleteErr = errors.New("qdrant unavailable")
	images := &fakeImages{rows: []models.DocumentImage{{ID: "i1", DocumentID: "d1", TeacherID: "t1"}}}
	svc := newTestIndexer(&fakeEmbedder{}, idx, newFakeDocuments(), images, &fakeBlobs{}, models.ChunkingConfig{})

	err := svc.DeleteDocument(context.Background(), "t1", "d1")
	assert.ErrorIs(t, err, idx.deleteErr)
	assert.Len(t, images.rows, 1, "image rows stay when vectors could not be removed")
	assert.Empty(t, images.deleted)
}
