package canonical

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	counter := 0
	s := NewStore(t.TempDir(), func(string) (int, error) {
		counter++
		return counter, nil
	})
	s.Now = fixedNow
	return s
}

func TestCreateAllocatesSequentialIDs(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Create("KABSD", TypeTask, "Scaffold core", "", "P2", "alice")
	require.NoError(t, err)
	require.Equal(t, "KABSD-TSK-0001", first.ID)
	require.Equal(t, StateNew, first.State)
	require.Equal(t, "2026-02-10", first.Created)

	second, err := s.Create("KABSD", TypeTask, "Wire the index", "", "P2", "alice")
	require.NoError(t, err)
	require.Equal(t, "KABSD-TSK-0002", second.ID)
	require.NotEqual(t, first.UID, second.UID)
}

func TestCreatePlacesFileInBucketWithSlug(t *testing.T) {
	s := newTestStore(t)

	it, err := s.Create("KANO", TypeBug, "Fix: the Flaky! checkout??", "", "P1", "bob")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.ProductRoot, "items", "bugs", "0000", "KANO-BUG-0001_fix-the-flaky-checkout.md"), it.FilePath)
	require.FileExists(t, it.FilePath)
}

func TestBucketDirFloorDividesBy100(t *testing.T) {
	require.Equal(t, "0000", bucketDir(1))
	require.Equal(t, "0000", bucketDir(99))
	require.Equal(t, "0100", bucketDir(100))
	require.Equal(t, "0100", bucketDir(101))
	require.Equal(t, "1200", bucketDir(1234))
}

func TestSlugifyCollapsesAndTruncates(t *testing.T) {
	require.Equal(t, "scaffold-core", Slugify("Scaffold core"))
	require.Equal(t, "a-b-c", Slugify("  a -- b__ c!!  "))
	require.Equal(t, "untitled", Slugify("???"))
	long := Slugify("this title is deliberately much longer than the fifty character slug limit allows")
	require.LessOrEqual(t, len(long), 50)
}

func TestParseSerializeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	it, err := s.Create("KANO", TypeTask, "Round trip", "", "P2", "alice")
	require.NoError(t, err)
	it.Context = "Some context.\n\nWith two paragraphs."
	it.Goal = "A goal."
	it.AcceptanceCriteria = "- [ ] it round-trips"
	it.Worklog = []string{"2026-02-10 14:00 [agent=alice] [model=unknown] created"}
	require.NoError(t, s.Write(it))

	parsed, err := Read(it.FilePath)
	require.NoError(t, err)
	require.Equal(t, it.Frontmatter, parsed.Frontmatter)
	require.Equal(t, it.Context, parsed.Context)
	require.Equal(t, it.Goal, parsed.Goal)
	require.Equal(t, it.AcceptanceCriteria, parsed.AcceptanceCriteria)
	require.Equal(t, it.Worklog, parsed.Worklog)

	// A second write of unmodified content is byte-identical.
	before, err := os.ReadFile(it.FilePath)
	require.NoError(t, err)
	require.NoError(t, s.Write(parsed))
	after, err := os.ReadFile(parsed.FilePath)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestSerializeKeepsSectionOrder(t *testing.T) {
	s := newTestStore(t)
	it, err := s.Create("KANO", TypeTask, "Ordering", "", "P2", "alice")
	require.NoError(t, err)
	it.Risks = "some risk"
	it.Context = "ctx"
	out, err := Serialize(it)
	require.NoError(t, err)
	ctxIdx := strings.Index(out, "# Context")
	riskIdx := strings.Index(out, "# Risks / Dependencies")
	require.GreaterOrEqual(t, ctxIdx, 0)
	require.GreaterOrEqual(t, riskIdx, 0)
	require.Less(t, ctxIdx, riskIdx, "Context must serialize before Risks / Dependencies")
}

func TestParseRejectsMissingFrontmatter(t *testing.T) {
	_, err := Parse("# Context\n\nno frontmatter here\n")
	require.Error(t, err)
}

func TestValidateSchemaFlagsViolations(t *testing.T) {
	it := &Item{Frontmatter: Frontmatter{
		ID:      "bad-id",
		UID:     "not-a-uuid",
		State:   State("Bogus"),
		Created: "02/10/2026",
		Updated: "2026-02-10",
	}}
	violations := ValidateSchema(it)
	require.Len(t, violations, 4)
}

func TestListExcludesIndexFiles(t *testing.T) {
	s := newTestStore(t)
	it, err := s.Create("KANO", TypeTask, "Listable", "", "P2", "alice")
	require.NoError(t, err)

	indexPath := filepath.Join(filepath.Dir(it.FilePath), "tasks.index.md")
	require.NoError(t, os.WriteFile(indexPath, []byte("generated"), 0o644))

	paths, err := s.List(nil)
	require.NoError(t, err)
	require.Equal(t, []string{it.FilePath}, paths)
}

func TestFindByIDUsesFilenameThenFrontmatter(t *testing.T) {
	s := newTestStore(t)
	it, err := s.Create("KANO", TypeTask, "Findable", "", "P2", "alice")
	require.NoError(t, err)

	found, err := s.FindByID(it.ID)
	require.NoError(t, err)
	require.Equal(t, it.UID, found.UID)

	// Rename the file so the filename pattern no longer matches; the
	// frontmatter scan must still locate it.
	renamed := filepath.Join(filepath.Dir(it.FilePath), "renamed-by-hand.md")
	require.NoError(t, os.Rename(it.FilePath, renamed))
	found, err = s.FindByID(it.ID)
	require.NoError(t, err)
	require.Equal(t, it.UID, found.UID)

	_, err = s.FindByID("KANO-TSK-9999")
	require.Error(t, err)
}

func TestMaxNumberOnDiskScansAllocatedSuffixes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("KANO", TypeTask, "One", "", "P2", "alice")
	require.NoError(t, err)
	_, err = s.Create("KANO", TypeTask, "Two", "", "P2", "alice")
	require.NoError(t, err)
	_, err = s.Create("KANO", TypeBug, "A bug", "", "P2", "alice")
	require.NoError(t, err)

	max, err := MaxNumberOnDisk(s.ProductRoot, "TSK")
	require.NoError(t, err)
	require.Equal(t, 2, max)

	max, err = MaxNumberOnDisk(s.ProductRoot, "BUG")
	require.NoError(t, err)
	require.Equal(t, 3, max)
}
