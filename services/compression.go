package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minSentenceRunes = 20

var latexPatternRe = regexp.MustCompile(`\$[^$]+\$|\\[a-zA-Z]+`)

// EstimateTokens approximates token count as ceil(characters / 4).
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

type scoredSentence struct {
	pos   int
	text  string
	score float64
}

// CompressExtractive keeps the highest-scoring sentences of text that fit in
// maxTokens, in their original order. Text that already fits is returned as is.
// Sentences are never cut; if the best sentence alone is over budget it is
// returned by itself.
func CompressExtractive(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	all := splitSentences(text)
	sentences := make([]string, 0, len(all))
	for _, s := range all {
		if utf8.RuneCountInString(s) >= minSentenceRunes {
			sentences = append(sentences, s)
		}
	}
	// Nothing but fragments: rank the fragments rather than return nothing
	if len(sentences) == 0 {
		sentences = all
	}
	if len(sentences) == 0 {
		return ""
	}

	freq := wordFrequencies(text)
	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{pos: i, text: s, score: sentenceScore(s, i, len(sentences), freq)}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score > scored[b].score
	})

	var selected []scoredSentence
	runes := 0
	for _, s := range scored {
		add := utf8.RuneCountInString(s.text)
		if len(selected) > 0 {
			add++ // joining space
		}
		if (runes+add+3)/4 > maxTokens {
			break
		}
		selected = append(selected, s)
		runes += add
	}
	if len(selected) == 0 {
		return scored[0].text
	}

	sort.Slice(selected, func(a, b int) bool {
		return selected[a].pos < selected[b].pos
	})
	parts := make([]string, len(selected))
	for i, s := range selected {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// splitSentences cuts after '.', '!', '?' or ';' when followed by whitespace or end of text.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != ';' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func wordFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, w := range tokenizeWords(text) {
		freq[w]++
	}
	return freq
}

// sentenceScore is the mean term frequency of the sentence's words plus
// position and formula bonuses.
func sentenceScore(sentence string, pos, total int, freq map[string]int) float64 {
	words := tokenizeWords(sentence)
	score := 0.0
	if len(words) > 0 {
		sum := 0
		for _, w := range words {
			sum += freq[w]
		}
		score = float64(sum) / float64(len(words))
	}
	if pos < 3 {
		score += 0.3
	}
	if pos >= total-3 {
		score += 0.2
	}
	if latexPatternRe.MatchString(sentence) {
		score += 0.3
	}
	return score
}
