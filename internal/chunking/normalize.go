package chunking

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	trailingSpaceBeforeNewlineRe = regexp.MustCompile(`[ \t]+\n`)
	longRunOfSpacesRe            = regexp.MustCompile(`[ \t]{4,}`)
	trailingSpaceAtEndRe         = regexp.MustCompile(`[ \t]+$`)
)

// NormalizeText applies the deterministic normalization pipeline: Unicode
// NFC, newline unification, whitespace collapsing, and control-character
// removal (format characters are kept).
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}

	normalized := norm.NFC.String(text)
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	normalized = trailingSpaceBeforeNewlineRe.ReplaceAllString(normalized, "\n")
	normalized = longRunOfSpacesRe.ReplaceAllString(normalized, "   ")

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == '\n' || r == '\t' || !isControlCategory(r) || unicode.Is(unicode.Cf, r) {
			b.WriteRune(r)
		}
	}
	normalized = b.String()

	normalized = trailingSpaceAtEndRe.ReplaceAllString(normalized, "")
	return normalized
}

// isControlCategory reports whether r is in a Unicode C* category:
// control, format, private-use, surrogate, or unassigned code points.
func isControlCategory(r rune) bool {
	return unicode.IsControl(r) || unicode.Is(unicode.Co, r) || unicode.Is(unicode.Cs, r) || !unicode.IsGraphic(r)
}

func isCJK(r rune) bool {
	return (r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
