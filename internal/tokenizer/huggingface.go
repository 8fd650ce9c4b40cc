package tokenizer

import "fmt"

// HuggingFaceAdapter delegates to the heuristic adapter with a
// fallback_from telemetry tag. This build binds no huggingface-tokenizers
// library, so the adapter permanently takes its documented fallback path:
// heuristic counting, marked non-exact.
type HuggingFaceAdapter struct {
	ModelNameValue string
	heuristic      *HeuristicAdapter
}

// NewHuggingFaceAdapter constructs a HuggingFaceAdapter for model.
func NewHuggingFaceAdapter(model string) *HuggingFaceAdapter {
	return &HuggingFaceAdapter{
		ModelNameValue: model,
		heuristic:      NewHeuristicAdapter(model),
	}
}

func (h *HuggingFaceAdapter) AdapterID() string { return "huggingface" }
func (h *HuggingFaceAdapter) ModelName() string { return h.ModelNameValue }
func (h *HuggingFaceAdapter) MaxTokens() int    { return h.heuristic.MaxTokens() }

func (h *HuggingFaceAdapter) CountTokens(text string) (TokenCount, error) {
	tc, err := h.heuristic.CountTokens(text)
	if err != nil {
		return TokenCount{}, err
	}
	tc.Method = "huggingface"
	tc.TokenizerID = fmt.Sprintf("huggingface:%s:fallback_from_heuristic", h.ModelNameValue)
	tc.IsExact = false
	return tc, nil
}
