package chunking

import (
	"fmt"
	"strings"

	"github.com/kano-ai/backlog/internal/tokenizer"
)

// ChunkTextWithTokenizer chunks text using a resolved tokenizer adapter
// for accurate token-budget decisions, falling back to the token-span
// heuristic (ChunkText) if adapter is nil.
func ChunkTextWithTokenizer(sourceID, text string, opts Options, adapter tokenizer.Adapter) ([]Chunk, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source_id must be non-empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return ChunkText(sourceID, text, opts)
	}

	normalized := NormalizeText(text)
	if strings.TrimSpace(normalized) == "" {
		return nil, nil
	}
	runes := []rune(normalized)

	paraBoundaries := ParagraphBoundaryChars(normalized, runes)
	sentBoundaries := SentenceBoundaryChars(normalized, runes)

	var chunks []Chunk
	currentPos := 0
	textLen := len(runes)

	for currentPos < textLen {
		chunkEnd, err := findOptimalChunkEnd(runes, currentPos, opts, adapter, paraBoundaries, sentBoundaries)
		if err != nil {
			return nil, err
		}
		if chunkEnd <= currentPos {
			chunkEnd = min(currentPos+1, textLen)
		}

		chunkText := string(runes[currentPos:chunkEnd])
		chunks = append(chunks, Chunk{
			SourceID:  sourceID,
			StartChar: currentPos,
			EndChar:   chunkEnd,
			Text:      chunkText,
			ChunkID:   BuildChunkID(sourceID, opts.Version, currentPos, chunkEnd, chunkText),
		})

		if chunkEnd >= textLen {
			break
		}

		nextStart, err := calculateOverlapStart(runes, chunkEnd, opts, adapter, currentPos)
		if err != nil {
			return nil, err
		}
		currentPos = maxInt(nextStart, currentPos+1)
	}

	return chunks, nil
}

// findOptimalChunkEnd binary-searches for the largest prefix whose token
// count fits max_tokens, then picks the best boundary within it.
func findOptimalChunkEnd(runes []rune, startPos int, opts Options, adapter tokenizer.Adapter, paraBoundaries, sentBoundaries []int) (int, error) {
	textLen := len(runes)

	left := startPos + 1
	right := min(startPos+opts.MaxTokens*10, textLen)
	bestEnd := left

	for left <= right {
		mid := (left + right) / 2
		candidate := string(runes[startPos:mid])

		tc, err := adapter.CountTokens(candidate)
		if err != nil {
			right = mid - 1
			continue
		}
		if tc.Count <= opts.MaxTokens {
			bestEnd = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	return findBestBoundary(runes, startPos, bestEnd, opts.TargetTokens, adapter, paraBoundaries, sentBoundaries), nil
}

func findBestBoundary(runes []rune, startPos, maxEnd, targetTokens int, adapter tokenizer.Adapter, paraBoundaries, sentBoundaries []int) int {
	targetEnd := findPositionForTargetTokens(runes, startPos, targetTokens, adapter, maxEnd)

	if paraEnd, ok := findNearestBoundary(paraBoundaries, targetEnd, startPos+1, maxEnd); ok {
		return paraEnd
	}
	if sentEnd, ok := findNearestBoundary(sentBoundaries, targetEnd, startPos+1, maxEnd); ok {
		return sentEnd
	}
	return maxEnd
}

func findPositionForTargetTokens(runes []rune, startPos, targetTokens int, adapter tokenizer.Adapter, maxEnd int) int {
	left := startPos + 1
	right := maxEnd
	bestPos := left

	for left <= right {
		mid := (left + right) / 2
		candidate := string(runes[startPos:mid])

		tc, err := adapter.CountTokens(candidate)
		if err != nil {
			right = mid - 1
			continue
		}
		if tc.Count <= targetTokens {
			bestPos = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	return bestPos
}

func findNearestBoundary(boundaries []int, targetPos, minPos, maxPos int) (int, bool) {
	var valid []int
	for _, b := range boundaries {
		if b >= minPos && b <= maxPos {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}

	best := valid[0]
	bestDistance := abs(best - targetPos)
	for _, b := range valid[1:] {
		d := abs(b - targetPos)
		if d < bestDistance {
			best = b
			bestDistance = d
		}
	}
	return best, true
}

// calculateOverlapStart finds the token-aware overlap start via binary
// search, capped at half the previous chunk's token count.
func calculateOverlapStart(runes []rune, chunkEnd int, opts Options, adapter tokenizer.Adapter, previousChunkStart int) (int, error) {
	if opts.OverlapTokens <= 0 {
		return chunkEnd, nil
	}

	previousChunkText := string(runes[previousChunkStart:chunkEnd])
	prevTC, err := adapter.CountTokens(previousChunkText)
	if err != nil {
		return chunkEnd, nil
	}
	previousChunkTokens := prevTC.Count

	var effectiveOverlapTokens int
	if previousChunkTokens <= 2 {
		maxOverlap := previousChunkTokens - 1
		if maxOverlap < 0 {
			maxOverlap = 0
		}
		effectiveOverlapTokens = min(opts.OverlapTokens, maxOverlap)
	} else {
		effectiveOverlapTokens = min(opts.OverlapTokens, previousChunkTokens/2)
	}

	if effectiveOverlapTokens <= 0 {
		return chunkEnd, nil
	}

	left := previousChunkStart
	if left < 0 {
		left = 0
	}
	right := chunkEnd - 1
	bestStart := chunkEnd

	if left >= right {
		return chunkEnd, nil
	}

	for left <= right {
		mid := (left + right) / 2
		overlapText := string(runes[mid:chunkEnd])

		if strings.TrimSpace(overlapText) == "" {
			left = mid + 1
			continue
		}

		tc, err := adapter.CountTokens(overlapText)
		if err != nil {
			left = mid + 1
			continue
		}
		if tc.Count <= effectiveOverlapTokens {
			bestStart = mid
			right = mid - 1
		} else {
			left = mid + 1
		}
	}

	return bestStart, nil
}
