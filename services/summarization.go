package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/telemetry"
)

// Summary types
const (
	SummaryComprehensive = "comprehensive"
	SummaryKeyPoints     = "key_points"
	SummaryStudyGuide    = "study_guide"
)

const (
	DefaultSummaryMaxInputTokens = 12000
	minCompleteSummaryRunes      = 50
	minLastSentenceRunes         = 10
)

var ErrEmptyText = errors.New("text is empty")

// Words that end a sentence only when the model was cut off mid-thought.
var trailingConnectors = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "however": {}, "therefore": {}, "moreover": {},
	"ve": {}, "veya": {}, "ya": {}, "ama": {}, "fakat": {}, "ancak": {}, "ayrıca": {},
	"dolayısıyla": {}, "ile": {}, "çünkü": {},
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]`)

type promptTemplate struct {
	system string
	user   string // %s receives the source text
}

var summaryPrompts = map[string]map[string]promptTemplate{
	SummaryComprehensive: {
		"en": {
			system: "You are an experienced teacher who writes accurate, well-structured summaries of course material. Use LaTeX between $ signs for formulas.",
			user:   "Write a comprehensive summary of the following material. Cover every main concept, definition and formula in the order they appear, in full paragraphs.\n\nMaterial:\n%s",
		},
		"tr": {
			system: "Ders materyallerinin doğru ve düzenli özetlerini yazan deneyimli bir öğretmensin. Formüller için $ işaretleri arasında LaTeX kullan.",
			user:   "Aşağıdaki materyalin kapsamlı bir özetini yaz. Tüm ana kavramları, tanımları ve formülleri geçtikleri sırayla, tam paragraflar halinde ele al.\n\nMateryal:\n%s",
		},
	},
	SummaryKeyPoints: {
		"en": {
			system: "You are an experienced teacher who extracts the essential points of course material. Use LaTeX between $ signs for formulas.",
			user:   "List the key points of the following material as a bulleted list. Each bullet must be a complete sentence.\n\nMaterial:\n%s",
		},
		"tr": {
			system: "Ders materyallerinin temel noktalarını çıkaran deneyimli bir öğretmensin. Formüller için $ işaretleri arasında LaTeX kullan.",
			user:   "Aşağıdaki materyalin anahtar noktalarını madde işaretli liste olarak yaz. Her madde tam bir cümle olmalı.\n\nMateryal:\n%s",
		},
	},
	SummaryStudyGuide: {
		"en": {
			system: "You are an experienced teacher who prepares study guides for students. Use LaTeX between $ signs for formulas.",
			user:   "Prepare a study guide from the following material with these sections: Core Concepts, Important Formulas, Common Mistakes, Review Questions.\n\nMaterial:\n%s",
		},
		"tr": {
			system: "Öğrenciler için çalışma kılavuzu hazırlayan deneyimli bir öğretmensin. Formüller için $ işaretleri arasında LaTeX kullan.",
			user:   "Aşağıdaki materyalden şu bölümleri içeren bir çalışma kılavuzu hazırla: Temel Kavramlar, Önemli Formüller, Sık Yapılan Hatalar, Tekrar Soruları.\n\nMateryal:\n%s",
		},
	},
}

var continuationPrompts = map[string]string{
	"en": "The summary below was cut off before it was finished. Continue it from exactly where it stops and bring it to a proper conclusion. Do not repeat anything already written; output only the continuation.\n\nSummary so far:\n%s",
	"tr": "Aşağıdaki özet tamamlanmadan kesildi. Tam kaldığı yerden devam et ve düzgün bir sonuca bağla. Daha önce yazılanları tekrar etme; yalnızca devamını yaz.\n\nŞu ana kadarki özet:\n%s",
}

// SummaryRequest asks for one summary. Zero MaxInputTokens uses the service default.
type SummaryRequest struct {
	Text           string `json:"text"`
	SummaryType    string `json:"summary_type"`
	Language       string `json:"language"`
	MaxInputTokens int    `json:"max_input_tokens"`
}

type SummaryResult struct {
	Summary          string `json:"summary"`
	WordCount        int    `json:"wordCount"`
	ProcessingTimeMs int64  `json:"processingTime"`
	SummaryType      string `json:"summaryType"`
	Language         string `json:"language"`
	InputTokens      int    `json:"inputTokens"`
	Compressed       bool   `json:"compressed"`
	Continued        bool   `json:"continued"`
	Cached           bool   `json:"cached"`
}

// SummaryOptions are the completion settings for summary calls.
type SummaryOptions struct {
	MaxInputTokens int
	MaxTokens      int
	Temperature    float64
	CacheTTL       time.Duration
}

// SummarizationService compresses, summarizes and repairs truncated summaries.
type SummarizationService struct {
	completer ai.Completer
	cache     *ContentCache
	metrics   *telemetry.Metrics
	opts      SummaryOptions
}

// NewSummarizationService creates a summarization service. cache and metrics may be nil.
func NewSummarizationService(completer ai.Completer, cache *ContentCache, metrics *telemetry.Metrics, opts SummaryOptions) *SummarizationService {
	if opts.MaxInputTokens <= 0 {
		opts.MaxInputTokens = DefaultSummaryMaxInputTokens
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	return &SummarizationService{completer: completer, cache: cache, metrics: metrics, opts: opts}
}

// Summarize runs compress → complete → (at most one) continuation → LaTeX normalization.
// A failed first completion is returned as an error; a failed continuation keeps the partial text.
func (ss *SummarizationService) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	start := time.Now()
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	summaryType := normalizeSummaryType(req.SummaryType)
	lang := normalizeLanguage(req.Language)
	maxInput := req.MaxInputTokens
	if maxInput <= 0 {
		maxInput = ss.opts.MaxInputTokens
	}

	key := summaryCacheKey(req.Text, summaryType, lang, maxInput)
	var cached SummaryResult
	if ss.cache.GetJSON(ctx, key, &cached) {
		cached.Cached = true
		return &cached, nil
	}

	compressed := CompressExtractive(req.Text, maxInput)
	tmpl := summaryPrompts[summaryType][lang]
	completionOpts := ai.CompletionOptions{MaxTokens: ss.opts.MaxTokens, Temperature: ss.opts.Temperature}

	summary, err := ss.completer.Complete(ctx, fmt.Sprintf(tmpl.user, compressed), tmpl.system, completionOpts)
	if err != nil {
		ss.metrics.RecordPipeline(ctx, "summary", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("summary completion failed: %w", err)
	}

	continued := false
	if !IsSummaryComplete(summary) {
		logger.FromContext(ctx).Info("summary looks truncated, requesting continuation",
			"summary_type", summaryType, "length", utf8.RuneCountInString(summary))

		more, err := ss.completer.Complete(ctx, fmt.Sprintf(continuationPrompts[lang], summary), tmpl.system, completionOpts)
		if err != nil {
			logger.FromContext(ctx).Warn("summary continuation failed, keeping partial summary", "error", err)
		} else if strings.TrimSpace(more) != "" {
			summary = strings.TrimRightFunc(summary, unicode.IsSpace) + " " + strings.TrimLeftFunc(more, unicode.IsSpace)
			continued = true
		}
	}

	summary = NormalizeLatex(summary)
	result := &SummaryResult{
		Summary:          summary,
		WordCount:        len(strings.Fields(summary)),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		SummaryType:      summaryType,
		Language:         lang,
		InputTokens:      EstimateTokens(compressed),
		Compressed:       compressed != req.Text,
		Continued:        continued,
	}

	ss.cache.SetJSON(ctx, key, result, ss.opts.CacheTTL)
	ss.metrics.RecordPipeline(ctx, "summary", "ok", time.Since(start).Seconds())
	return result, nil
}

// IsSummaryComplete reports whether text looks like a finished answer rather
// than one cut off by the output token limit.
func IsSummaryComplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minCompleteSummaryRunes {
		return false
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if !strings.ContainsRune(".!?:;", last) {
		return false
	}

	parts := sentenceSplitRe.Split(trimmed, -1)
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	if utf8.RuneCountInString(strings.TrimSpace(parts[len(parts)-1])) < minLastSentenceRunes {
		return false
	}

	words := strings.Fields(trimmed)
	for _, w := range words[max(0, len(words)-3):] {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if _, ok := trailingConnectors[w]; ok {
			return false
		}
	}
	return true
}

func normalizeSummaryType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if _, ok := summaryPrompts[t]; ok {
		return t
	}
	return SummaryComprehensive
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "tr", "tr-tr", "turkish", "türkçe":
		return "tr"
	default:
		return "en"
	}
}

func summaryCacheKey(text, summaryType, lang string, maxInput int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", text, summaryType, lang, maxInput)
	return "summary:" + hex.EncodeToString(h.Sum(nil))
}
