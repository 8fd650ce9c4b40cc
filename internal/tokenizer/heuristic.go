package tokenizer

import (
	"fmt"
	"unicode"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// HeuristicAdapter is the deterministic, dependency-free fallback: an
// adaptive chars-per-token ratio blending CJK and ASCII composition.
// Always returns IsExact=false.
type HeuristicAdapter struct {
	ModelNameValue string
	CharsPerToken  float64
	MaxTokensValue int
}

// NewHeuristicAdapter constructs a HeuristicAdapter with the documented
// default chars-per-token ratio of 4.0.
func NewHeuristicAdapter(model string) *HeuristicAdapter {
	return &HeuristicAdapter{
		ModelNameValue: model,
		CharsPerToken:  4.0,
		MaxTokensValue: modelMaxTokens(model),
	}
}

func (h *HeuristicAdapter) AdapterID() string  { return "heuristic" }
func (h *HeuristicAdapter) ModelName() string  { return h.ModelNameValue }
func (h *HeuristicAdapter) MaxTokens() int     { return h.MaxTokensValue }

// CountTokens estimates token count with a blended CJK/ASCII ratio,
// adding roughly half of punctuation-like runes as extra tokens.
func (h *HeuristicAdapter) CountTokens(text string) (TokenCount, error) {
	cpt := h.CharsPerToken
	if cpt <= 0 {
		return TokenCount{}, fmt.Errorf("%w: chars_per_token must be positive", kanoerr.ErrTokenizationFailed)
	}
	id := fmt.Sprintf("heuristic:%s:chars_%g", h.ModelNameValue, cpt)
	if text == "" {
		return TokenCount{Count: 0, Method: "heuristic", TokenizerID: id, IsExact: false, ModelMaxTokens: h.MaxTokensValue}, nil
	}

	runes := []rune(text)
	charCount := len(runes)
	if charCount <= 3 {
		return TokenCount{Count: 1, Method: "heuristic", TokenizerID: id, IsExact: false, ModelMaxTokens: h.MaxTokensValue}, nil
	}

	cjkCount := 0
	punctCount := 0
	for _, r := range runes {
		switch {
		case isCJK(r):
			cjkCount++
		case !unicode.IsSpace(r) && !unicode.IsLetter(r) && !unicode.IsDigit(r):
			punctCount++
		}
	}
	cjkRatio := float64(cjkCount) / float64(charCount)

	var effectiveRatio float64
	switch {
	case cjkRatio > 0.5:
		effectiveRatio = 1.2
	case cjkRatio > 0.1:
		cjkWeight := cjkRatio * 3
		if cjkWeight > 0.7 {
			cjkWeight = 0.7
		}
		asciiWeight := 1 - cjkWeight
		effectiveRatio = 1.2*cjkWeight + cpt*asciiWeight
	default:
		effectiveRatio = cpt
	}

	estimated := int(float64(charCount) / effectiveRatio)
	if estimated < 1 {
		estimated = 1
	}
	if punctCount > 0 {
		estimated += punctCount / 2
	}

	return TokenCount{
		Count:          estimated,
		Method:         "heuristic",
		TokenizerID:    id,
		IsExact:        false,
		ModelMaxTokens: h.MaxTokensValue,
	}, nil
}
