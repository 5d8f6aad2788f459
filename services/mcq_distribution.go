package services

import (
	"math"
	"math/rand"

	"lesson-content-engine/models"
)

// theoreticalRatio maps a requested question type to its share of theoretical questions.
func theoreticalRatio(questionType string) float64 {
	switch questionType {
	case models.QuestionTypeTheoretical:
		return 0.75
	case models.QuestionTypeMathematical:
		return 0.25
	default:
		return 0.5
	}
}

// CalculateQuestionDistribution returns n shuffled labels with round(n*ratio)
// theoretical questions and the rest mathematical. Unknown types are treated
// as mixed. rng may be nil.
func CalculateQuestionDistribution(n int, questionType string, rng *rand.Rand) []models.QuestionKind {
	if n <= 0 {
		return nil
	}
	numTheoretical := int(math.Round(float64(n) * theoreticalRatio(questionType)))

	dist := make([]models.QuestionKind, n)
	for i := range dist {
		if i < numTheoretical {
			dist[i] = models.KindTheoretical
		} else {
			dist[i] = models.KindMathematical
		}
	}

	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(dist), func(i, j int) {
		dist[i], dist[j] = dist[j], dist[i]
	})
	return dist
}

func countKinds(dist []models.QuestionKind) (theoretical, mathematical int) {
	for _, k := range dist {
		if k == models.KindTheoretical {
			theoretical++
		} else {
			mathematical++
		}
	}
	return theoretical, mathematical
}
