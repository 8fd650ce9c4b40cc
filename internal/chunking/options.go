// Package chunking implements the deterministic text chunking pipeline:
// normalization, boundary-aware span selection, and stable chunk ID
// generation.
package chunking

import "fmt"

// Options controls the chunking algorithm. Zero values are not valid; use
// DefaultOptions and override fields as needed.
type Options struct {
	TargetTokens     int
	MaxTokens        int
	OverlapTokens    int
	Version          string
	TokenizerAdapter string
}

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{
		TargetTokens:     256,
		MaxTokens:        512,
		OverlapTokens:    32,
		Version:          "chunk-v1",
		TokenizerAdapter: "auto",
	}
}

// Validate checks the option invariants: 0 < target <= max and
// 0 <= overlap < max.
func (o Options) Validate() error {
	if o.TargetTokens <= 0 {
		return fmt.Errorf("target_tokens must be positive")
	}
	if o.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if o.TargetTokens > o.MaxTokens {
		return fmt.Errorf("target_tokens must be <= max_tokens")
	}
	if o.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens must be >= 0")
	}
	if o.OverlapTokens >= o.MaxTokens {
		return fmt.Errorf("overlap_tokens must be < max_tokens")
	}
	if o.Version == "" {
		return fmt.Errorf("version must be non-empty")
	}
	if o.TokenizerAdapter == "" {
		return fmt.Errorf("tokenizer_adapter must be non-empty")
	}
	return nil
}
