package chunking

import "math"

// pickBoundary selects the best boundary token index within
// (startToken, maxEnd], scoring by proximity to preferredEnd, minimum
// chunk size, avoiding tiny remainders, and a preferred-size bonus.
// Returns -1 if no boundary is in range.
func pickBoundary(boundaries []int, startToken, preferredEnd, maxEnd int) int {
	var valid []int
	for _, b := range boundaries {
		if b >= startToken+1 && b <= maxEnd {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return -1
	}
	if len(valid) == 1 {
		return valid[0]
	}

	bestBoundary := -1
	bestScore := math.Inf(-1)

	minChunkSize := (maxEnd - startToken) / 10
	if minChunkSize < 1 {
		minChunkSize = 1
	}
	maxDistance := maxEnd - startToken

	for _, boundary := range valid {
		score := 0.0

		distanceFromPreferred := abs(boundary - preferredEnd)
		if maxDistance > 0 {
			distanceScore := 1.0 - float64(distanceFromPreferred)/float64(maxDistance)
			score += distanceScore * 3.0
		}

		if boundary-startToken >= minChunkSize {
			score += 2.0
		} else {
			score -= 1.0
		}

		remainingTokens := maxEnd - boundary
		if remainingTokens == 0 {
			score += 1.0
		} else if remainingTokens < minChunkSize {
			score -= 0.5
		}

		if boundary <= preferredEnd {
			score += 0.5
		}

		if score > bestScore {
			bestScore = score
			bestBoundary = boundary
		}
	}

	return bestBoundary
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
