package chunking

import (
	"math"

	"github.com/kano-ai/backlog/internal/tokenizer"
)

const (
	budgetRatio     = 0.05
	budgetMinMargin = 16
)

// EnforceTokenBudget trims text so it fits within maxTokens using adapter
// for ground-truth counts. The trim target is
// max_tokens - max(ceil(ratio*max), min_margin); if the structural
// token-span trim overshoots the budget, it falls back to a binary search
// over prefix rune lengths.
func EnforceTokenBudget(text string, maxTokens int, adapter tokenizer.Adapter) (string, error) {
	tc, err := adapter.CountTokens(text)
	if err != nil {
		return "", err
	}
	if tc.Count <= maxTokens {
		return text, nil
	}

	margin := int(math.Ceil(budgetRatio * float64(maxTokens)))
	if margin < budgetMinMargin {
		margin = budgetMinMargin
	}
	target := maxTokens - margin
	if target < 1 {
		target = 1
	}

	runes := []rune(text)
	spans := TokenSpans(runes)

	trimEnd := len(runes)
	tokensSoFar := 0
	for _, span := range spans {
		tokensSoFar++
		if tokensSoFar > target {
			break
		}
		trimEnd = span.End
	}

	candidate := string(runes[:trimEnd])
	candidateTC, err := adapter.CountTokens(candidate)
	if err == nil && candidateTC.Count <= maxTokens {
		return candidate, nil
	}

	return binarySearchPrefixBudget(runes, maxTokens, adapter)
}

// binarySearchPrefixBudget finds, via binary search on rune-prefix length,
// the longest prefix whose token count fits maxTokens.
func binarySearchPrefixBudget(runes []rune, maxTokens int, adapter tokenizer.Adapter) (string, error) {
	left, right := 0, len(runes)
	best := 0

	for left <= right {
		mid := (left + right) / 2
		candidate := string(runes[:mid])

		tc, err := adapter.CountTokens(candidate)
		if err != nil {
			right = mid - 1
			continue
		}
		if tc.Count <= maxTokens {
			best = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	return string(runes[:best]), nil
}
