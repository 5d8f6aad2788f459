package services

import (
	"encoding/json"
	"math/rand"
	"testing"

	"lesson-content-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRaw(t *testing.T, s string) models.RawMCQ {
	t.Helper()
	var raw models.RawMCQ
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestNormalizeMCQLetterMap(t *testing.T) {
	raw := decodeRaw(t, `{"question":"Pick one","options":{"A":"x","B":"y","C":"z","D":"w"},"correct_answer":"C"}`)

	q, ok := NormalizeMCQ(raw)
	require.True(t, ok)
	assert.Equal(t, [4]string{"x", "y", "z", "w"}, q.Options)
	assert.Equal(t, 2, q.CorrectAnswer)
}

func TestNormalizeMCQAnswerForms(t *testing.T) {
	tests := []struct {
		answer string
		want   int
	}{
		{`"A"`, 0},
		{`"b"`, 1},
		{`" D "`, 3},
		{`"C) 42"`, 2},
		{`3`, 3},
		{`0`, 0},
		{`"2"`, 2},
		{`7`, 0},
		{`1.5`, 0},
		{`"E"`, 0},
		{`"Because"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			raw := decodeRaw(t, `{"question":"q","options":["a","b","c","d"],"correct_answer":`+tt.answer+`}`)
			q, ok := NormalizeMCQ(raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, q.CorrectAnswer)
		})
	}
}

func TestNormalizeMCQMissingAnswerAndOptions(t *testing.T) {
	q, ok := NormalizeMCQ(decodeRaw(t, `{"question":"q","options":{"a":"first","d":"last"}}`))
	require.True(t, ok)
	assert.Equal(t, [4]string{"first", "", "", "last"}, q.Options)
	assert.Equal(t, 0, q.CorrectAnswer)
	assert.Equal(t, "medium", q.Difficulty)
}

func TestNormalizeMCQLatexFields(t *testing.T) {
	raw := decodeRaw(t, `{"question":"Solve \\(x^2=4\\)","options":["\\(2\\)","\\(-2\\)","\\(\\pm 2\\)","0"],"correct_answer":"C","explanation":"\\[x=\\pm 2\\]","difficulty":"Zor","topic":"  Denklemler \\(x^2\\) "}`)

	q, ok := NormalizeMCQ(raw)
	require.True(t, ok)
	assert.Equal(t, "Solve $x^2=4$", q.Question)
	assert.Equal(t, `$\pm 2$`, q.Options[2])
	assert.Equal(t, `$$x=\pm 2$$`, q.Explanation)
	assert.Equal(t, "hard", q.Difficulty)
	assert.Equal(t, "Denklemler $x^2$", q.Topic)
}

func TestNormalizeAllDropsEmptyQuestions(t *testing.T) {
	raws := []models.RawMCQ{
		{Question: "kept", Options: models.OptionSet{"a", "b", "c", "d"}},
		{Question: "   ", Options: models.OptionSet{"a", "b", "c", "d"}},
	}
	out := NormalizeAll(raws)
	require.Len(t, out, 1)
	assert.Equal(t, "kept", out[0].Question)
	for _, q := range out {
		assert.Len(t, q.Options, 4)
		assert.GreaterOrEqual(t, q.CorrectAnswer, 0)
		assert.LessOrEqual(t, q.CorrectAnswer, 3)
	}
}

func TestParseModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `[{"question":"q1"}]`},
		{"fenced", "```json\n[{\"question\":\"q1\"}]\n```"},
		{"prose around", "Here are your questions:\n[{\"question\":\"q1\"}]\nGood luck!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []models.RawMCQ
			require.NoError(t, ParseModelJSON(tt.raw, &out))
			require.Len(t, out, 1)
			assert.Equal(t, "q1", out[0].Question)
		})
	}

	var idx struct {
		KeepIndices []int `json:"keep_indices"`
	}
	require.NoError(t, ParseModelJSON("Sure! {\"keep_indices\": [2, 0]} done", &idx))
	assert.Equal(t, []int{2, 0}, idx.KeepIndices)
}

func TestParseModelJSONMalformed(t *testing.T) {
	var out []models.RawMCQ
	for _, raw := range []string{"", "no json here", "[{\"question\": ", "{\"question\":\"q\"} ]"} {
		err := ParseModelJSON(raw, &out)
		assert.ErrorIs(t, err, ErrMalformedModelOutput, "input %q", raw)
	}
}

func TestParseMCQArrayAcceptsWrappedObject(t *testing.T) {
	qs, err := parseMCQArray(`{"questions":[{"question":"a"},{"question":"b"}]}`)
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	_, err = parseMCQArray(`{"question":"single"}`)
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}

func TestCalculateQuestionDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	dist := CalculateQuestionDistribution(10, models.QuestionTypeTheoretical, rng)
	require.Len(t, dist, 10)
	th, ma := countKinds(dist)
	assert.Equal(t, 8, th)
	assert.Equal(t, 2, ma)

	th, ma = countKinds(CalculateQuestionDistribution(10, models.QuestionTypeMathematical, rng))
	assert.Equal(t, 3, th)
	assert.Equal(t, 7, ma)

	for n := 1; n <= 40; n++ {
		dist := CalculateQuestionDistribution(n, models.QuestionTypeMixed, rng)
		require.Len(t, dist, n)
		th, _ := countKinds(dist)
		assert.InDelta(t, float64(n)/2, float64(th), 1, "n=%d", n)
	}

	assert.Empty(t, CalculateQuestionDistribution(0, models.QuestionTypeMixed, nil))
	assert.Len(t, CalculateQuestionDistribution(4, "unknown", nil), 4)
}

func TestDistributionShuffleIsSeeded(t *testing.T) {
	a := CalculateQuestionDistribution(20, models.QuestionTypeMixed, rand.New(rand.NewSource(42)))
	b := CalculateQuestionDistribution(20, models.QuestionTypeMixed, rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)
}
