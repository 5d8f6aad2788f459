package services

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"lesson-content-engine/models"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

// ErrInvalidChunkWindow rejects windows that would not advance.
var ErrInvalidChunkWindow = errors.New("chunk overlap must be non-negative and smaller than chunk size")

var pageMarkerRe = regexp.MustCompile(`\[\[PAGE_(\d+)\]\]`)

// PageStart records that Page begins at rune Offset of the cleaned text.
type PageStart struct {
	Offset int
	Page   int
}

// ChunkText splits marker-annotated text into overlapping windows of chunkSize
// runes advancing by chunkSize-overlap, each tagged with the pages it overlaps.
func ChunkText(text string, chunkSize, overlap int) ([]models.TextChunk, error) {
	if err := validateWindow(chunkSize, overlap); err != nil {
		return nil, err
	}
	cleaned, pageMap := BuildPageMap(text)
	return chunkCleaned(cleaned, pageMap, chunkSize, overlap), nil
}

// ChunkParsed chunks extractor output directly from its page list, skipping the
// marker round trip. The result is identical to ChunkText(doc.Annotated(), ...).
func ChunkParsed(doc *ParsedDocument, chunkSize, overlap int) ([]models.TextChunk, error) {
	if err := validateWindow(chunkSize, overlap); err != nil {
		return nil, err
	}

	var sb strings.Builder
	pageMap := make([]PageStart, 0, len(doc.Pages))
	runes := 0
	for i, p := range doc.Pages {
		pageMap = appendPageStart(pageMap, PageStart{Offset: runes, Page: i + 1})
		sb.WriteByte('\n')
		sb.WriteString(p)
		sb.WriteByte('\n')
		runes += utf8.RuneCountInString(p) + 2
	}
	return chunkCleaned(sb.String(), pageMap, chunkSize, overlap), nil
}

// BuildPageMap strips every [[PAGE_n]] marker and records the rune offset in
// the stripped text at which each page begins.
func BuildPageMap(text string) (string, []PageStart) {
	var sb strings.Builder
	var pageMap []PageStart
	runes, last := 0, 0

	for _, m := range pageMarkerRe.FindAllStringSubmatchIndex(text, -1) {
		segment := text[last:m[0]]
		sb.WriteString(segment)
		runes += utf8.RuneCountInString(segment)
		last = m[1]

		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		pageMap = appendPageStart(pageMap, PageStart{Offset: runes, Page: page})
	}
	sb.WriteString(text[last:])
	return sb.String(), pageMap
}

// AssignChunkIDs stamps ownership and the deterministic {documentId}_chunk_{index} id.
func AssignChunkIDs(documentID, teacherID string, chunks []models.TextChunk) {
	for i := range chunks {
		chunks[i].ID = ChunkID(documentID, chunks[i].ChunkIndex)
		chunks[i].DocumentID = documentID
		chunks[i].TeacherID = teacherID
	}
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

func validateWindow(chunkSize, overlap int) error {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkWindow, chunkSize, overlap)
	}
	return nil
}

// appendPageStart lets a later page replace an earlier one at the same offset;
// the earlier page had no text.
func appendPageStart(pageMap []PageStart, ps PageStart) []PageStart {
	if n := len(pageMap); n > 0 && pageMap[n-1].Offset == ps.Offset {
		pageMap[n-1] = ps
		return pageMap
	}
	return append(pageMap, ps)
}

func chunkCleaned(cleaned string, pageMap []PageStart, chunkSize, overlap int) []models.TextChunk {
	text, pageMap := collapseWhitespace(cleaned, pageMap)
	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []models.TextChunk
	emit := func(start, end int) {
		chunks = append(chunks, models.TextChunk{
			Text:        strings.TrimSpace(string(text[start:end])),
			ChunkIndex:  len(chunks),
			PageNumbers: pagesForWindow(pageMap, start, end),
			Start:       start,
			End:         end,
		})
	}

	if n <= chunkSize {
		emit(0, n)
	} else {
		step := chunkSize - overlap
		for start := 0; start < n; start += step {
			emit(start, min(start+chunkSize, n))
		}
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// collapseWhitespace folds whitespace runs to one space, trims both ends, and
// re-projects page offsets onto the collapsed text. A page that starts inside
// a whitespace run is moved to the next visible rune.
func collapseWhitespace(cleaned string, pageMap []PageStart) ([]rune, []PageStart) {
	out := make([]rune, 0, len(cleaned))
	mapped := make([]PageStart, 0, len(pageMap))
	pending := false
	next := 0

	project := func(offset int) {
		for next < len(pageMap) && pageMap[next].Offset <= offset {
			pos := len(out)
			if pending && len(out) > 0 {
				pos++
			}
			mapped = appendPageStart(mapped, PageStart{Offset: pos, Page: pageMap[next].Page})
			next++
		}
	}

	i := 0
	for _, r := range cleaned {
		project(i)
		i++
		if unicode.IsSpace(r) {
			pending = true
			continue
		}
		if pending && len(out) > 0 {
			out = append(out, ' ')
		}
		pending = false
		out = append(out, r)
	}
	pending = false
	project(i)

	for k := range mapped {
		if mapped[k].Offset > len(out) {
			mapped[k].Offset = len(out)
		}
	}
	return out, mapped
}

// pagesForWindow returns the page active at start plus every page that begins
// strictly inside (start, end), ascending. Text before any marker is page 1.
func pagesForWindow(pageMap []PageStart, start, end int) []int {
	active := 1
	seen := make(map[int]struct{})
	for _, ps := range pageMap {
		if ps.Offset <= start {
			active = ps.Page
			continue
		}
		if ps.Offset < end {
			seen[ps.Page] = struct{}{}
			continue
		}
		break
	}
	seen[active] = struct{}{}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
