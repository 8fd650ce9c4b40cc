package chunking

import (
	"regexp"
	"testing"

	"github.com/kano-ai/backlog/internal/tokenizer"
	"github.com/stretchr/testify/require"
)

func TestChunkTextIsDeterministic(t *testing.T) {
	text := "Alpha beta gamma.\n\nDelta epsilon zeta eta.\n\nTheta iota kappa."
	opts := Options{TargetTokens: 16, MaxTokens: 24, OverlapTokens: 4, Version: "chunk-v1", TokenizerAdapter: "auto"}

	first, err := ChunkText("S", text, opts)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := ChunkText("S", text, opts)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestChunkTextIDsMatchDocumentedFormat(t *testing.T) {
	text := "Alpha beta gamma.\n\nDelta epsilon zeta eta.\n\nTheta iota kappa."
	opts := Options{TargetTokens: 16, MaxTokens: 24, OverlapTokens: 4, Version: "chunk-v1", TokenizerAdapter: "auto"}

	chunks, err := ChunkText("S", text, opts)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	idFormat := regexp.MustCompile(`^S:chunk-v1:\d+:\d+:[0-9a-f]{16}$`)
	for _, c := range chunks {
		require.Regexp(t, idFormat, c.ChunkID)
	}
}

func TestChunkTextCoversWholeText(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve"
	opts := Options{TargetTokens: 4, MaxTokens: 6, OverlapTokens: 0, Version: "chunk-v1", TokenizerAdapter: "auto"}

	chunks, err := ChunkText("doc", text, opts)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.Equal(t, 0, chunks[0].StartChar)
	require.Equal(t, len([]rune(NormalizeText(text))), chunks[len(chunks)-1].EndChar)
}

func TestChunkTextEmptyProducesNoChunks(t *testing.T) {
	chunks, err := ChunkText("doc", "", DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkTextRejectsEmptySourceID(t *testing.T) {
	_, err := ChunkText("", "hello", DefaultOptions())
	require.Error(t, err)
}

func TestOptionsValidateRejectsTargetGreaterThanMax(t *testing.T) {
	opts := DefaultOptions()
	opts.TargetTokens = opts.MaxTokens + 1
	require.Error(t, opts.Validate())
}

func TestNormalizeTextCollapsesWhitespaceAndNewlines(t *testing.T) {
	in := "line one   \r\nline two\r\tab\t\t\t\t\tdone   "
	out := NormalizeText(in)
	require.NotContains(t, out, "\r")
	require.NotContains(t, out, "   \n")
}

func TestTokenSpansSplitsCJKIndividually(t *testing.T) {
	spans := TokenSpans([]rune("你好world"))
	require.Len(t, spans, 3)
}

func TestBuildChunkIDStableUnderWhitespaceTrim(t *testing.T) {
	id1 := BuildChunkID("s", "v1", 0, 5, "hello")
	id2 := BuildChunkID("s", "v1", 0, 5, "hello ")
	require.Equal(t, id1, id2)
}

func TestChunkTextWithTokenizerMatchesHeuristicWhenNilAdapter(t *testing.T) {
	text := "Alpha beta gamma.\n\nDelta epsilon zeta eta."
	opts := Options{TargetTokens: 8, MaxTokens: 16, OverlapTokens: 2, Version: "chunk-v1", TokenizerAdapter: "auto"}

	withNil, err := ChunkTextWithTokenizer("S", text, opts, nil)
	require.NoError(t, err)
	plain, err := ChunkText("S", text, opts)
	require.NoError(t, err)
	require.Equal(t, plain, withNil)
}

func TestChunkTextWithTokenizerIsDeterministic(t *testing.T) {
	text := "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi."
	opts := Options{TargetTokens: 6, MaxTokens: 10, OverlapTokens: 2, Version: "chunk-v1", TokenizerAdapter: "heuristic"}
	adapter := tokenizer.NewHeuristicAdapter("gpt-4o")

	first, err := ChunkTextWithTokenizer("S", text, opts, adapter)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := ChunkTextWithTokenizer("S", text, opts, adapter)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnforceTokenBudgetNoopUnderBudget(t *testing.T) {
	adapter := tokenizer.NewHeuristicAdapter("gpt-4o")
	out, err := EnforceTokenBudget("short text", 1000, adapter)
	require.NoError(t, err)
	require.Equal(t, "short text", out)
}

func TestEnforceTokenBudgetTrimsOverBudget(t *testing.T) {
	adapter := tokenizer.NewHeuristicAdapter("gpt-4o")
	long := ""
	for i := 0; i < 200; i++ {
		long += "word "
	}
	out, err := EnforceTokenBudget(long, 20, adapter)
	require.NoError(t, err)
	require.Less(t, len(out), len(long))

	tc, err := adapter.CountTokens(out)
	require.NoError(t, err)
	require.LessOrEqual(t, tc.Count, 20)
}

func TestValidateOverlapConsistencyFlagsExcessiveOverlap(t *testing.T) {
	chunks := []Chunk{
		{SourceID: "s", StartChar: 0, EndChar: 10, Text: "0123456789"},
		{SourceID: "s", StartChar: 1, EndChar: 11, Text: "123456789A"},
	}
	errs := ValidateOverlapConsistency(chunks)
	require.NotEmpty(t, errs)
}
