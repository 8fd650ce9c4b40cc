package workset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kano-ai/backlog/internal/canonical"
)

func newTestItem() *canonical.Item {
	return &canonical.Item{
		Frontmatter:        canonical.Frontmatter{ID: "KANO-TSK-0001", UID: "uid-1", Type: canonical.TypeTask, Title: "Fix thing", State: canonical.StateNew},
		Approach:           "Patch the flaky retry loop.",
		AcceptanceCriteria: "Retry loop has a bounded backoff\nTest covers the busy path",
	}
}

func TestInitCreatesSkeletonAndSeedsPlan(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()

	result, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)
	require.True(t, result.Created)

	plan, err := os.ReadFile(filepath.Join(result.WorksetPath, planFileName))
	require.NoError(t, err)
	require.Contains(t, string(plan), "Patch the flaky retry loop.")
	require.Contains(t, string(plan), "- [ ] Retry loop has a bounded backoff")
}

func TestInitIsIdempotent(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()

	first, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)
	require.False(t, second.Created)
}

func TestNextReturnsFirstUncheckedStep(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	_, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)

	next, err := Next(cacheRoot, "kano", item.ID)
	require.NoError(t, err)
	require.False(t, next.IsComplete)
	require.Equal(t, 1, next.StepNumber)
	require.Equal(t, "Retry loop has a bounded backoff", next.Description)
}

func TestRefreshPreservesAgentFence(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	result, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)

	planPath := filepath.Join(result.WorksetPath, planFileName)
	raw, err := os.ReadFile(planPath)
	require.NoError(t, err)
	updated := strings.Replace(string(raw), "<!-- agent:notes:start -->\n<!-- agent:notes:end -->",
		"<!-- agent:notes:start -->\nmy scratch notes\n<!-- agent:notes:end -->", 1)
	require.NoError(t, os.WriteFile(planPath, []byte(updated), 0o644))

	item.Approach = "Revised approach after investigation."
	_, err = Refresh(cacheRoot, "kano", item, "agent-1", time.Now())
	require.NoError(t, err)

	raw, err = os.ReadFile(planPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "my scratch notes")
	require.Contains(t, string(raw), "Revised approach after investigation.")
}

func TestDetectADRCandidatesFindsDecisionLanguage(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	result, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)

	notes := "We decided to use SQLite instead of Postgres for local-first storage.\n\nJust a regular observation with no decision content."
	require.NoError(t, os.WriteFile(filepath.Join(result.WorksetPath, notesFileName), []byte(notes), 0o644))

	candidates, err := DetectADRCandidates(cacheRoot, "kano", item.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Contains(t, candidates[0].Excerpt, "SQLite")
}

func TestCleanupDeletesExpiredWorksets(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	old := time.Now().Add(-100 * time.Hour)
	_, err := Init(cacheRoot, "kano", item, "agent-1", 72, old)
	require.NoError(t, err)

	result, err := Cleanup(cacheRoot, 72, false, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.DeletedCount)

	_, statErr := os.Stat(Dir(cacheRoot, "kano", item.ID))
	require.True(t, os.IsNotExist(statErr))
}

func TestCleanupDryRunDoesNotDelete(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	old := time.Now().Add(-100 * time.Hour)
	_, err := Init(cacheRoot, "kano", item, "agent-1", 72, old)
	require.NoError(t, err)

	result, err := Cleanup(cacheRoot, 72, true, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.DeletedCount)

	_, statErr := os.Stat(Dir(cacheRoot, "kano", item.ID))
	require.NoError(t, statErr)
}

func TestListEnumeratesWorksets(t *testing.T) {
	cacheRoot := t.TempDir()
	item := newTestItem()
	_, err := Init(cacheRoot, "kano", item, "agent-1", 72, time.Now())
	require.NoError(t, err)

	listings, err := List(cacheRoot, time.Now())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, item.ID, listings[0].ItemID)
}
