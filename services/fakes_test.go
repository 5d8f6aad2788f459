package services

import (
	"context"
	"errors"
	"slices"
	"sync"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/vectorindex"
	"lesson-content-engine/models"
)

type completionCall struct {
	Prompt       string
	SystemPrompt string
	Opts         ai.CompletionOptions
}

// fakeCompleter answers through respond and records every call.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   []completionCall
	respond func(call int, prompt, system string) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, prompt, systemPrompt string, opts ai.CompletionOptions) (string, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, completionCall{Prompt: prompt, SystemPrompt: systemPrompt, Opts: opts})
	f.mu.Unlock()
	return f.respond(n, prompt, systemPrompt)
}

func (f *fakeCompleter) Calls() []completionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completionCall(nil), f.calls...)
}

// scripted returns a fakeCompleter that replays replies in order.
func scripted(replies ...string) *fakeCompleter {
	return &fakeCompleter{respond: func(call int, _, _ string) (string, error) {
		if call < len(replies) {
			return replies[call], nil
		}
		return "", ai.ErrEmptyCompletion
	}}
}

// fakeEmbedder returns a small vector derived from each text length.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	short   bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

// fakeIndex stores records in memory and returns scripted matches.
type fakeIndex struct {
	mu        sync.Mutex
	records   map[string]vectorindex.Record
	upserts   int
	deletes   []vectorindex.Filter
	queries   []vectorindex.Filter
	matches   []vectorindex.Match
	queryErr  error
	deleteErr error
	upsertErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[string]vectorindex.Record)}
}

func (f *fakeIndex) Upsert(_ context.Context, records []vectorindex.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, filter)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeIndex) DeleteMany(_ context.Context, filter vectorindex.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, r := range f.records {
		if r.Metadata.TeacherID != filter.TeacherID {
			continue
		}
		if len(filter.DocumentIDs) > 0 && !slices.Contains(filter.DocumentIDs, r.Metadata.DocumentID) {
			continue
		}
		delete(f.records, id)
	}
	return nil
}

type fakeImages struct {
	rows    []models.DocumentImage
	err     error
	deleted []string
}

func (f *fakeImages) ListByDocuments(_ context.Context, teacherID string, documentIDs []string) ([]models.DocumentImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.DocumentImage
	for _, r := range f.rows {
		if r.TeacherID == teacherID && slices.Contains(documentIDs, r.DocumentID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeImages) DeleteByDocument(_ context.Context, teacherID, documentID string) ([]models.DocumentImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	var kept, removed []models.DocumentImage
	for _, r := range f.rows {
		if r.TeacherID == teacherID && r.DocumentID == documentID {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	f.deleted = append(f.deleted, documentID)
	return removed, nil
}

type fakeURLs struct{}

func (fakeURLs) PublicURL(key string) string { return "https://cdn.test/" + key }

type fakeBlobs struct {
	deleted []string
	failOn  string
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if key == f.failOn {
		return errors.New("blob backend unavailable")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

// fakeDocuments keeps the last status per document.
type fakeDocuments struct {
	status  map[string]string
	reason  map[string]string
	counts  map[string][2]int
	deleted []string
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		status: make(map[string]string),
		reason: make(map[string]string),
		counts: make(map[string][2]int),
	}
}

func (f *fakeDocuments) MarkProcessing(_ context.Context, _, documentID string) error {
	f.status[documentID] = models.StatusProcessing
	return nil
}

func (f *fakeDocuments) MarkIndexed(_ context.Context, _, documentID string, pageCount, chunkCount int) error {
	f.status[documentID] = models.StatusIndexed
	f.counts[documentID] = [2]int{pageCount, chunkCount}
	return nil
}

func (f *fakeDocuments) MarkFailed(_ context.Context, _, documentID, reason string) error {
	f.status[documentID] = models.StatusFailed
	f.reason[documentID] = reason
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, _, documentID string) error {
	delete(f.status, documentID)
	f.deleted = append(f.deleted, documentID)
	return nil
}
