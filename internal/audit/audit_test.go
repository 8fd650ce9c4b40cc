package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendWorklogWithAgent(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC)
	line := AppendWorklog("State: New → Ready", "alice", "", now)
	require.Equal(t, "2026-03-01 08:05 [agent=alice] [model=unknown] State: New → Ready", line)
}

func TestAppendWorklogWithoutAgent(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC)
	line := AppendWorklog("note", "", "", now)
	require.Equal(t, "2026-03-01 08:05 note", line)
}

func TestParseWorklogLineRoundTrip(t *testing.T) {
	line := AppendWorklog("did a thing", "bob", "claude-sonnet", time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC))
	entry, ok := ParseWorklogLine(line)
	require.True(t, ok)
	require.Equal(t, "bob", entry.Agent)
	require.Equal(t, "claude-sonnet", entry.Model)
	require.Equal(t, "did a thing", entry.Message)
}

func TestParseWorklogSkipsLegacyPlainLines(t *testing.T) {
	entries := ParseWorklog([]string{
		"2026-03-01 08:05 plain legacy note",
		"2026-03-01 08:06 [agent=alice] [model=unknown] State: New → Ready",
	})
	require.Len(t, entries, 1)
	require.Equal(t, "alice", entries[0].Agent)
}

func TestLogFileOperationAppendsAndReads(t *testing.T) {
	root := t.TempDir()
	l := NewLog(root)
	l.Now = func() time.Time { return time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC) }

	require.NoError(t, l.LogFileOperation("create", "items/tasks/0000/X.md", "canonical.Create", "alice", map[string]any{"id": "X"}))
	require.NoError(t, l.LogFileOperation("update", "items/tasks/0000/X.md", "statemachine.Transition", "alice", nil))

	entries, err := l.ReadFileOperations("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "create", entries[0].Operation)

	filtered, err := l.ReadFileOperations("update")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestReadFileOperationsFallsBackToLegacyPath(t *testing.T) {
	root := t.TempDir()
	legacy := filepath.Join(root, LegacyLogRelPath)
	require.NoError(t, writeTestFile(legacy, `{"timestamp":"2026-01-01T00:00:00Z","agent":"a","operation":"create","path":"p","tool":"t"}`+"\n"))

	l := NewLog(root)
	entries, err := l.ReadFileOperations("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestReadFileOperationsSkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	cur := filepath.Join(root, DefaultLogRelPath)
	require.NoError(t, writeTestFile(cur, "not json\n{\"timestamp\":\"2026-01-01T00:00:00Z\",\"agent\":\"a\",\"operation\":\"create\",\"path\":\"p\",\"tool\":\"t\"}\n"))

	l := NewLog(root)
	entries, err := l.ReadFileOperations("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func writeTestFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
