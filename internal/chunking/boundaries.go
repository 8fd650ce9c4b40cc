package chunking

import (
	"regexp"
	"sort"
)

var (
	paraBreakRe   = regexp.MustCompile(`\n{2,}`)
	headerRe      = regexp.MustCompile(`(?m)^#{1,6}\s`)
	listRe        = regexp.MustCompile(`(?m)^(?:[-*+]|\d+\.)\s`)
	quoteRe       = regexp.MustCompile(`(?m)^>\s`)
	sentenceEndRe = regexp.MustCompile(`(?:[.!?]+|[\x{3002}\x{FF01}\x{FF1F}]+)`)
)

// abbreviations that must not trigger a sentence boundary.
var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Prof.", "Sr.", "Jr.",
	"Inc.", "Ltd.", "Corp.", "Co.", "etc.", "vs.", "e.g.", "i.e.",
	"U.S.", "U.K.", "U.N.", "Ph.D.", "M.D.", "B.A.", "M.A.",
}

// followedByBoundaryContext reports whether the rune at idx (or end of
// text) is whitespace, absent, closing punctuation/quote, or CJK, the
// lookahead required after a sentence terminator.
func followedByBoundaryContext(runes []rune, idx int) bool {
	if idx >= len(runes) {
		return true
	}
	r := runes[idx]
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	case '"', '\'', 0xFF09, 0x3011, 0x3009, 0x300B, 0x300D, 0x300F:
		return true
	}
	if isCJK(r) {
		return true
	}
	if !isWordRune(r) {
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return isAlnumOrUnderscore(r)
}

// ParagraphBoundaryChars returns character (rune-index) positions where a
// paragraph boundary occurs: double newlines, Markdown headers, list
// markers, and block quotes.
func ParagraphBoundaryChars(normalized string, runes []rune) []int {
	set := map[int]bool{}

	for _, loc := range paraBreakRe.FindAllStringIndex(normalized, -1) {
		set[byteToRune(normalized, loc[0])] = true
	}
	for _, loc := range headerRe.FindAllStringIndex(normalized, -1) {
		if loc[0] > 0 {
			set[byteToRune(normalized, loc[0])] = true
		}
	}
	for _, loc := range listRe.FindAllStringIndex(normalized, -1) {
		if loc[0] > 0 {
			set[byteToRune(normalized, loc[0])] = true
		}
	}
	for _, loc := range quoteRe.FindAllStringIndex(normalized, -1) {
		if loc[0] > 0 {
			set[byteToRune(normalized, loc[0])] = true
		}
	}
	set[len(runes)] = true

	return sortedKeys(set)
}

// SentenceBoundaryChars returns character positions where a sentence
// boundary occurs, excluding known abbreviations.
func SentenceBoundaryChars(normalized string, runes []rune) []int {
	set := map[int]bool{}

	for _, loc := range sentenceEndRe.FindAllStringIndex(normalized, -1) {
		startRune := byteToRune(normalized, loc[0])
		endRune := byteToRune(normalized, loc[1])

		if !followedByBoundaryContext(runes, endRune) {
			continue
		}

		checkStart := startRune - 10
		if checkStart < 0 {
			checkStart = 0
		}
		context := string(runes[checkStart:endRune])

		isAbbrev := false
		for _, abbrev := range abbreviations {
			if hasSuffix(context, abbrev) {
				isAbbrev = true
				break
			}
		}
		if !isAbbrev {
			set[endRune] = true
		}
	}
	set[len(runes)] = true

	return sortedKeys(set)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// byteToRune converts a byte offset into s to the corresponding rune index.
func byteToRune(s string, byteIdx int) int {
	count := 0
	for i := range s {
		if i >= byteIdx {
			return count
		}
		count++
	}
	return count
}

// boundaryTokenIndexes maps boundary character positions to token indexes
// via the end position of each span.
func boundaryTokenIndexes(boundaryChars []int, spans []Span) []int {
	ends := make([]int, len(spans))
	for i, s := range spans {
		ends[i] = s.End
	}

	set := map[int]bool{}
	for _, c := range boundaryChars {
		idx := bisectRight(ends, c)
		set[idx] = true
	}
	return sortedKeys(set)
}

// bisectRight returns the insertion point to the right of any existing
// entries equal to c.
func bisectRight(sorted []int, c int) int {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if c < sorted[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
