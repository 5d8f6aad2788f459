package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"lesson-content-engine/internal/ai"
	"lesson-content-engine/internal/logger"
	"lesson-content-engine/internal/telemetry"
	"lesson-content-engine/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMCQBlockSize      = 5
	DefaultMCQMaxConcurrency = 6
	MaxQuestionsPerQuiz      = 50

	qualityGroupSize    = 5
	summaryContextRunes = 2000
)

var (
	ErrInvalidQuestionCount = fmt.Errorf("question count must be between 1 and %d", MaxQuestionsPerQuiz)
	ErrNoQuestionsGenerated = errors.New("no questions could be generated")
)

// MCQRequest describes one quiz to synthesize from a document summary.
type MCQRequest struct {
	Summary      string `json:"summary"`
	NumQuestions int    `json:"num_questions"`
	QuestionType string `json:"question_type"` // theoretical, mathematical, mixed
	Difficulty   string `json:"difficulty"`
	Language     string `json:"language"`
}

// MCQResult is the final question set plus per-stage counts.
type MCQResult struct {
	Questions        []models.MCQQuestion `json:"questions"`
	Stage1Count      int                  `json:"stage1Count"`
	Stage2Count      int                  `json:"stage2Count"`
	Stage3Count      int                  `json:"stage3Count"`
	ProcessingTimeMs int64                `json:"processingTime"`
}

type MCQOptions struct {
	BlockSize      int
	MaxConcurrency int
	// RetryAllOnFailure re-runs every block sequentially, not only the failed
	// ones, when any block of the concurrent pass fails.
	RetryAllOnFailure bool
	// Rand drives the distribution shuffle; nil uses the global source.
	Rand *rand.Rand
}

// MCQPipeline generates, de-duplicates and reviews multiple choice questions.
type MCQPipeline struct {
	completer ai.Completer
	metrics   *telemetry.Metrics
	opts      MCQOptions

	rngMu sync.Mutex
}

func NewMCQPipeline(completer ai.Completer, metrics *telemetry.Metrics, opts MCQOptions) *MCQPipeline {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultMCQBlockSize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMCQMaxConcurrency
	}
	return &MCQPipeline{completer: completer, metrics: metrics, opts: opts}
}

// Generate runs the three stages and normalizes the survivors. Fewer questions
// than requested is a valid result; callers inspect the stage counts.
func (p *MCQPipeline) Generate(ctx context.Context, req MCQRequest) (*MCQResult, error) {
	start := time.Now()
	if req.NumQuestions < 1 || req.NumQuestions > MaxQuestionsPerQuiz {
		return nil, ErrInvalidQuestionCount
	}
	if strings.TrimSpace(req.Summary) == "" {
		return nil, ErrEmptyText
	}
	req.Language = normalizeLanguage(req.Language)
	req.Difficulty = normalizeDifficulty(req.Difficulty)
	log := logger.FromContext(ctx)

	p.rngMu.Lock()
	dist := CalculateQuestionDistribution(req.NumQuestions, req.QuestionType, p.opts.Rand)
	p.rngMu.Unlock()

	stage1 := p.Stage1Generate(ctx, req, dist)
	p.metrics.RecordStage(ctx, "stage1", len(stage1))
	if len(stage1) == 0 {
		p.metrics.RecordPipeline(ctx, "mcq", "error", time.Since(start).Seconds())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoQuestionsGenerated
	}

	stage2 := p.Stage2DuplicateDetection(ctx, stage1, req.NumQuestions)
	p.metrics.RecordStage(ctx, "stage2", len(stage2))

	stage3 := p.Stage3QualityEnhancement(ctx, stage2, req)
	p.metrics.RecordStage(ctx, "stage3", len(stage3))

	result := &MCQResult{
		Questions:        NormalizeAll(stage3),
		Stage1Count:      len(stage1),
		Stage2Count:      len(stage2),
		Stage3Count:      len(stage3),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	log.Info("mcq pipeline finished",
		"requested", req.NumQuestions,
		"stage1", result.Stage1Count,
		"stage2", result.Stage2Count,
		"stage3", result.Stage3Count,
		"final", len(result.Questions),
		"duration_ms", result.ProcessingTimeMs)
	p.metrics.RecordPipeline(ctx, "mcq", "ok", time.Since(start).Seconds())
	return result, nil
}

// Stage1Generate splits dist into blocks and generates each block with one
// completion call, at most MaxConcurrency in flight. Failed blocks are retried
// once sequentially; blocks that fail again are skipped. The output may hold
// more questions than len(dist).
func (p *MCQPipeline) Stage1Generate(ctx context.Context, req MCQRequest, dist []models.QuestionKind) []models.RawMCQ {
	log := logger.FromContext(ctx)
	blocks := splitBlocks(dist, p.opts.BlockSize)
	results := make([][]models.RawMCQ, len(blocks))
	errs := make([]error, len(blocks))

	sem := semaphore.NewWeighted(int64(p.opts.MaxConcurrency))
	var wg sync.WaitGroup
	for i, block := range blocks {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, block []models.QuestionKind) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = p.generateBlock(ctx, i, block, req)
		}(i, block)
	}
	wg.Wait()

	var retry []int
	for i, err := range errs {
		if err != nil {
			log.Warn("mcq block failed in concurrent pass", "block", i, "error", err)
			retry = append(retry, i)
		}
	}
	if len(retry) > 0 {
		if p.opts.RetryAllOnFailure {
			retry = retry[:0]
			for i := range blocks {
				retry = append(retry, i)
			}
		}
		log.Info("retrying mcq blocks sequentially", "blocks", len(retry))
		for _, i := range retry {
			if ctx.Err() != nil {
				break
			}
			qs, err := p.generateBlock(ctx, i, blocks[i], req)
			if err != nil {
				log.Warn("mcq block skipped", "block", i, "error", err)
				continue
			}
			results[i] = append(results[i], qs...)
		}
	}

	var out []models.RawMCQ
	for _, qs := range results {
		out = append(out, qs...)
	}
	return out
}

func (p *MCQPipeline) generateBlock(ctx context.Context, index int, kinds []models.QuestionKind, req MCQRequest) ([]models.RawMCQ, error) {
	theoretical, mathematical := countKinds(kinds)
	prompt := buildGenerationPrompt(req, theoretical, mathematical)

	raw, err := p.completer.Complete(ctx, prompt, generationSystemPrompt(req.Language), ai.CompletionOptions{
		MaxTokens:   4096,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	qs, err := parseMCQArray(raw)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("block %d: %w: empty question array", index, ErrMalformedModelOutput)
	}
	return qs, nil
}

// Stage2DuplicateDetection asks the model which target questions to keep.
// It never fails: on any problem the first target questions are kept.
func (p *MCQPipeline) Stage2DuplicateDetection(ctx context.Context, raws []models.RawMCQ, target int) []models.RawMCQ {
	if len(raws) <= target {
		return raws
	}
	log := logger.FromContext(ctx)
	fallback := func(reason string, err error) []models.RawMCQ {
		log.Warn("duplicate detection fell back to first questions", "reason", reason, "error", err, "target", target)
		return append([]models.RawMCQ(nil), raws[:target]...)
	}

	var sb strings.Builder
	for i, q := range raws {
		fmt.Fprintf(&sb, "%d. %s\n", i, strings.TrimSpace(q.Question))
	}
	prompt := fmt.Sprintf(dedupPrompt, len(raws), target, sb.String(), target)

	reply, err := p.completer.Complete(ctx, prompt, "You are an assessment expert. Reply with JSON only.", ai.CompletionOptions{
		MaxTokens:   1024,
		Temperature: 0.1,
	})
	if err != nil {
		return fallback("request", err)
	}

	var parsed struct {
		KeepIndices []float64 `json:"keep_indices"`
	}
	if err := ParseModelJSON(reply, &parsed); err != nil {
		return fallback("parse", err)
	}

	seen := make(map[int]struct{}, len(parsed.KeepIndices))
	kept := make([]models.RawMCQ, 0, target)
	for _, f := range parsed.KeepIndices {
		idx := int(f)
		if float64(idx) != f || idx < 0 || idx >= len(raws) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		kept = append(kept, raws[idx])
		if len(kept) == target {
			break
		}
	}
	if len(kept) == 0 {
		return fallback("no valid indices", nil)
	}
	return kept
}

// Stage3QualityEnhancement reviews questions in groups of five, all groups at
// once. A group whose review fails or changes the question count keeps its
// original questions, so the output length always equals the input length.
func (p *MCQPipeline) Stage3QualityEnhancement(ctx context.Context, raws []models.RawMCQ, req MCQRequest) []models.RawMCQ {
	groups := splitBlocks(raws, qualityGroupSize)
	results := make([][]models.RawMCQ, len(groups))
	summary := truncateRunes(req.Summary, summaryContextRunes)

	var g errgroup.Group
	for i, group := range groups {
		results[i] = group
		g.Go(func() error {
			improved, err := p.enhanceGroup(ctx, group, summary, req)
			if err != nil {
				logger.FromContext(ctx).Warn("quality pass kept original group", "group", i, "error", err)
				return nil
			}
			results[i] = improved
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.RawMCQ, 0, len(raws))
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (p *MCQPipeline) enhanceGroup(ctx context.Context, group []models.RawMCQ, summary string, req MCQRequest) ([]models.RawMCQ, error) {
	payload, err := json.MarshalIndent(group, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(qualityPrompt, summary, req.Difficulty, languageName(req.Language), payload, len(group))

	reply, err := p.completer.Complete(ctx, prompt, "You are a meticulous exam editor. Reply with JSON only.", ai.CompletionOptions{
		MaxTokens:   4096,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	improved, err := parseMCQArray(reply)
	if err != nil {
		return nil, err
	}
	if len(improved) != len(group) {
		return nil, fmt.Errorf("%w: expected %d questions, got %d", ErrMalformedModelOutput, len(group), len(improved))
	}
	for i, q := range improved {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) != 4 {
			return nil, fmt.Errorf("%w: question %d incomplete", ErrMalformedModelOutput, i)
		}
	}
	return improved, nil
}

func splitBlocks[T any](items []T, size int) [][]T {
	var blocks [][]T
	for start := 0; start < len(items); start += size {
		blocks = append(blocks, items[start:min(start+size, len(items))])
	}
	return blocks
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func languageName(lang string) string {
	if lang == "tr" {
		return "Turkish"
	}
	return "English"
}

func generationSystemPrompt(lang string) string {
	return fmt.Sprintf("You are an experienced teacher who writes exam questions in %s. Reply with a JSON array only, no commentary.", languageName(lang))
}

func buildGenerationPrompt(req MCQRequest, theoretical, mathematical int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write exactly %d multiple choice questions in %s based on the material below.\n", theoretical+mathematical, languageName(req.Language))
	if theoretical > 0 {
		fmt.Fprintf(&sb, "- %d theoretical questions testing concepts, definitions and reasoning.\n", theoretical)
	}
	if mathematical > 0 {
		fmt.Fprintf(&sb, "- %d mathematical questions that require a calculation; write every formula in LaTeX between $ signs.\n", mathematical)
	}
	fmt.Fprintf(&sb, "Target difficulty: %s.\n", req.Difficulty)
	sb.WriteString(`Each question has exactly four options labelled A, B, C and D with one correct answer.
Return a JSON array of objects with this shape:
[{"question": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "correct_answer": "A", "explanation": "...", "difficulty": "easy|medium|hard", "topic": "..."}]

Material:
`)
	sb.WriteString(req.Summary)
	return sb.String()
}

const dedupPrompt = `Below are %d exam questions, numbered from 0. Select the best %d questions that are not duplicates of each other.
Two questions are duplicates if they test the same concept or knowledge point, have equivalent correct answers that measure the same understanding, have nearly identical explanations, or ask the same thing in different words.

Questions:
%s
Return JSON only: {"keep_indices": [..]} with exactly %d indices, best first.`

const qualityPrompt = `Review these multiple choice questions against the source summary and improve them where needed.

Source summary:
%s

Checklist:
- The question is clear and unambiguous.
- Exactly one option is correct and the correct_answer letter points to it.
- Distractors are plausible but clearly wrong to a student who knows the material.
- The explanation justifies the correct answer.
- The difficulty matches the target: %s.
- Keep the language %s and keep formulas in LaTeX between $ signs.

Questions:
%s

Return a JSON array with exactly %d questions in the same shape, unchanged where no improvement is needed.`
