package topic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

func TestCreateRejectsInvalidNameAndDuplicate(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	_, err := Create(root, "bad name!", "alice", now)
	require.ErrorIs(t, err, kanoerr.ErrInvalidTopicName)

	_, err = Create(root, "auth-rework", "alice", now)
	require.NoError(t, err)

	_, err = Create(root, "auth-rework", "alice", now)
	require.ErrorIs(t, err, kanoerr.ErrTopicExists)
}

func TestAddItemAndPinDocument(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "auth-rework", "alice", now)
	require.NoError(t, err)

	m, err := AddItem(root, "auth-rework", "uid-123", now)
	require.NoError(t, err)
	require.Contains(t, m.Items, "uid-123")

	m, err = AddItem(root, "auth-rework", "uid-123", now)
	require.NoError(t, err)
	require.Len(t, m.Items, 1)

	m, err = PinDocument(root, "auth-rework", "docs/auth.md", now)
	require.NoError(t, err)
	require.Contains(t, m.PinnedDocs, "docs/auth.md")

	_, err = PinDocument(root, "auth-rework", "/abs/path", now)
	require.ErrorIs(t, err, kanoerr.ErrSchemaViolation)
}

func TestAddSnippetValidatesRangeAndRecordsContentHash(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "auth-rework", "alice", now)
	require.NoError(t, err)

	srcFile := filepath.Join(t.TempDir(), "handler.go")
	require.NoError(t, os.WriteFile(srcFile, []byte("line1\nline2\nline3\nline4\n"), 0o644))

	m, err := AddSnippet(root, "auth-rework", srcFile, 2, 3, "alice", true, now)
	require.NoError(t, err)
	require.Len(t, m.Snippets, 1)
	require.Equal(t, "line2\nline3", m.Snippets[0].Snapshot)

	_, err = AddSnippet(root, "auth-rework", srcFile, 0, 1, "alice", false, now)
	require.ErrorIs(t, err, kanoerr.ErrSchemaViolation)

	m, err = AddSnippet(root, "auth-rework", srcFile, 2, 3, "bob", false, now)
	require.NoError(t, err)
	require.Len(t, m.Snippets, 2)
	require.Equal(t, m.Snippets[0].Hash, m.Snippets[1].Hash)
}

func TestDistillIsDeterministicAcrossCalls(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "auth-rework", "alice", now)
	require.NoError(t, err)
	_, err = AddItem(root, "auth-rework", "uid-2", now)
	require.NoError(t, err)
	_, err = AddItem(root, "auth-rework", "uid-1", now)
	require.NoError(t, err)

	first, err := Distill(root, "auth-rework", nil)
	require.NoError(t, err)
	second, err := Distill(root, "auth-rework", nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Contains(t, first, "uid-1")
	require.Contains(t, first, "uid-2")
}

func TestSwitchReturnsPreviousTopicAndActiveTopicResolution(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "topic-a", "alice", now)
	require.NoError(t, err)
	_, err = Create(root, "topic-b", "alice", now)
	require.NoError(t, err)

	_, err = ActiveTopic(root, "alice")
	require.ErrorIs(t, err, kanoerr.ErrNoActiveTopic)

	prev, err := Switch(root, "topic-a", "alice", now)
	require.NoError(t, err)
	require.Empty(t, prev)

	prev, err = Switch(root, "topic-b", "alice", now)
	require.NoError(t, err)
	require.Equal(t, "topic-a", prev)

	active, err := ActiveTopic(root, "alice")
	require.NoError(t, err)
	require.Equal(t, "topic-b", active)
}

func TestCloseThenCleanupDeletesEligibleTopic(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-40 * 24 * time.Hour)
	_, err := Create(root, "stale-topic", "alice", old)
	require.NoError(t, err)
	_, err = Close(root, "stale-topic", "alice", old)
	require.NoError(t, err)

	result, err := Cleanup(root, 30, false, true, time.Now())
	require.NoError(t, err)
	require.Contains(t, result.EligibleTopics, "stale-topic")

	result, err = Cleanup(root, 30, true, true, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, result.DeletedDirs)

	_, err = loadManifest(root, "stale-topic")
	require.ErrorIs(t, err, kanoerr.ErrTopicNotFound)
}

func TestDecisionAuditWritesReportAndClassifiesItems(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "auth-rework", "alice", now)
	require.NoError(t, err)
	_, err = AddItem(root, "auth-rework", "uid-with", now)
	require.NoError(t, err)
	_, err = AddItem(root, "auth-rework", "uid-without", now)
	require.NoError(t, err)

	notes := "Decision: keep sessions server-side.\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "topics", "auth-rework", "notes.md"), []byte(notes), 0o644))

	bodies := map[string]string{
		"uid-with":    "Context here.\n\nDecision: use SQLite.",
		"uid-without": "Context only, nothing recorded.",
	}
	result, err := DecisionAudit(root, "auth-rework", func(uid string) (string, error) {
		return bodies[uid], nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.DecisionsFound)
	require.Equal(t, []string{"uid-with"}, result.ItemsWithWriteback)
	require.Equal(t, []string{"uid-without"}, result.ItemsMissingWriteback)
	require.Equal(t, 3, result.SourcesScanned)

	raw, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	var onDisk DecisionAuditResult
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Equal(t, result, onDisk)
}

func TestAddAndRemoveReferenceIsBidirectional(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "topic-a", "alice", now)
	require.NoError(t, err)
	_, err = Create(root, "topic-b", "alice", now)
	require.NoError(t, err)

	require.NoError(t, AddReference(root, "topic-a", "topic-b", now))
	ma, err := loadManifest(root, "topic-a")
	require.NoError(t, err)
	mb, err := loadManifest(root, "topic-b")
	require.NoError(t, err)
	require.Contains(t, ma.References, "topic-b")
	require.Contains(t, mb.References, "topic-a")

	require.NoError(t, RemoveReference(root, "topic-a", "topic-b", now))
	ma, err = loadManifest(root, "topic-a")
	require.NoError(t, err)
	require.NotContains(t, ma.References, "topic-b")
}

func TestMergeUnionsItemsAndDedupsSnippets(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "target", "alice", now)
	require.NoError(t, err)
	_, err = Create(root, "source", "alice", now)
	require.NoError(t, err)

	_, err = AddItem(root, "target", "uid-1", now)
	require.NoError(t, err)
	_, err = AddItem(root, "source", "uid-1", now)
	require.NoError(t, err)
	_, err = AddItem(root, "source", "uid-2", now)
	require.NoError(t, err)

	result, err := Merge(root, "target", []string{"source"}, false, true, []string{"target", "source"}, now)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsMerged)
	require.Contains(t, result.SourcesDeleted, "source")

	tm, err := loadManifest(root, "target")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"uid-1", "uid-2"}, tm.Items)
}

func TestSplitPartitionsItemsIntoNewTopics(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "bucket", "alice", now)
	require.NoError(t, err)
	_, err = AddItem(root, "bucket", "uid-1", now)
	require.NoError(t, err)
	_, err = AddItem(root, "bucket", "uid-2", now)
	require.NoError(t, err)
	_, err = AddItem(root, "bucket", "uid-3", now)
	require.NoError(t, err)

	result, err := Split(root, "bucket", map[string][]string{
		"bucket-a": {"uid-1"},
		"bucket-b": {"uid-2", "uid-3"},
	}, false, false, "alice", now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"bucket-a", "bucket-b"}, result.CreatedTopics)

	ma, err := loadManifest(root, "bucket-a")
	require.NoError(t, err)
	require.Equal(t, []string{"uid-1"}, ma.Items)

	bucket, err := loadManifest(root, "bucket")
	require.NoError(t, err)
	require.Empty(t, bucket.Items)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := Create(root, "topic-a", "alice", now)
	require.NoError(t, err)
	_, err = AddItem(root, "topic-a", "uid-1", now)
	require.NoError(t, err)

	snapPath, err := Snapshot(root, "topic-a", "before-changes", "alice", false, now)
	require.NoError(t, err)
	require.DirExists(t, snapPath)

	_, err = AddItem(root, "topic-a", "uid-2", now)
	require.NoError(t, err)

	restoreResult, err := Restore(root, "topic-a", "before-changes", "alice", now)
	require.NoError(t, err)
	require.DirExists(t, restoreResult.BackupPath)

	m, err := loadManifest(root, "topic-a")
	require.NoError(t, err)
	require.Equal(t, []string{"uid-1"}, m.Items)
}

func TestReachableUsesVisitedSetToAvoidCycles(t *testing.T) {
	g := &RefGraph{edges: map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}}
	order := g.Reachable("a")
	require.ElementsMatch(t, []string{"b", "c"}, order)
}
