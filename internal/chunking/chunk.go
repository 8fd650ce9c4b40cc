package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Chunk is one deterministic span of a source document.
type Chunk struct {
	SourceID  string
	StartChar int
	EndChar   int
	Text      string
	ChunkID   string
}

// BuildChunkID builds the deterministic chunk ID
// "{source_id}:{version}:{start_char}:{end_char}:{hash16}". The hash
// covers the trimmed span text, so the ID is stable under whitespace
// edits to neighboring spans.
func BuildChunkID(sourceID, version string, startChar, endChar int, spanText string) string {
	normalizedSpan := strings.TrimSpace(spanText)
	hashInput := fmt.Sprintf("%s\n%s\n%d\n%d\n%s", sourceID, version, startChar, endChar, normalizedSpan)
	sum := sha256.Sum256([]byte(hashInput))
	shortHash := hex.EncodeToString(sum[:])[:16]
	return fmt.Sprintf("%s:%s:%d:%d:%s", sourceID, version, startChar, endChar, shortHash)
}

// ChunkText chunks text into deterministic spans with stable IDs using
// only the tokenizer-agnostic token-span heuristic.
func ChunkText(sourceID, text string, opts Options) ([]Chunk, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source_id must be non-empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	normalized := NormalizeText(text)
	if normalized == "" {
		return nil, nil
	}

	runes := []rune(normalized)
	spans := TokenSpans(runes)
	if len(spans) == 0 {
		return nil, nil
	}

	paraBoundaries := boundaryTokenIndexes(ParagraphBoundaryChars(normalized, runes), spans)
	sentBoundaries := boundaryTokenIndexes(SentenceBoundaryChars(normalized, runes), spans)

	var chunks []Chunk
	startToken := 0
	totalTokens := len(spans)

	for startToken < totalTokens {
		maxEnd := min(startToken+opts.MaxTokens, totalTokens)
		preferredEnd := min(startToken+opts.TargetTokens, maxEnd)

		endToken := pickBoundary(paraBoundaries, startToken, preferredEnd, maxEnd)
		if endToken < 0 {
			endToken = pickBoundary(sentBoundaries, startToken, preferredEnd, maxEnd)
		}
		if endToken < 0 {
			endToken = maxEnd
		}
		if endToken <= startToken {
			endToken = min(startToken+1, totalTokens)
		}

		startChar := spans[startToken].Start
		endChar := spans[endToken-1].End
		spanText := string(runes[startChar:endChar])

		chunks = append(chunks, Chunk{
			SourceID:  sourceID,
			StartChar: startChar,
			EndChar:   endChar,
			Text:      spanText,
			ChunkID:   BuildChunkID(sourceID, opts.Version, startChar, endChar, spanText),
		})

		if endToken >= totalTokens {
			break
		}

		chunkLen := endToken - startToken
		switch {
		case opts.OverlapTokens <= 0:
			startToken = endToken
		case chunkLen <= 2:
			startToken = endToken
		case chunkLen <= opts.OverlapTokens:
			overlapAmount := chunkLen - 1
			if overlapAmount < 0 {
				overlapAmount = 0
			}
			startToken = maxInt(endToken-overlapAmount, startToken+1)
		default:
			maxOverlap := min(opts.OverlapTokens, chunkLen/2)
			startToken = endToken - maxOverlap
		}
	}

	return chunks, nil
}

// ValidateOverlapConsistency checks that adjacent chunks' character
// overlap stays within sane character-based bounds.
func ValidateOverlapConsistency(chunks []Chunk) []string {
	var errs []string
	if len(chunks) <= 1 {
		return errs
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		curr := chunks[i]

		if curr.StartChar >= prev.EndChar {
			continue
		}

		overlapStart := curr.StartChar - prev.StartChar
		if overlapStart < 0 || overlapStart > len(prev.Text) {
			continue
		}
		overlapText := prev.Text[overlapStart:]
		if strings.TrimSpace(overlapText) == "" {
			continue
		}

		overlapChars := len([]rune(overlapText))
		prevChars := len([]rune(prev.Text))
		currChars := len([]rune(curr.Text))

		if float64(overlapChars) > float64(prevChars)*0.8 {
			errs = append(errs, fmt.Sprintf("chunk %d: character overlap (%d) is more than 80%% of previous chunk (%d chars)", i, overlapChars, prevChars))
		}
		if overlapChars >= currChars {
			errs = append(errs, fmt.Sprintf("chunk %d: character overlap (%d) is larger than or equal to current chunk (%d chars)", i, overlapChars, currChars))
		}
	}

	return errs
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
