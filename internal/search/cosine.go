package search

import (
	"math"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// CosineSimilarity computes the cosine similarity between two vectors,
// clamped to [0,1]. Mismatched lengths and zero-magnitude vectors score 0.
func CosineSimilarity(a, b inspiration.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}

	score := dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
