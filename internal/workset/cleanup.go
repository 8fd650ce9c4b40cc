package workset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron"
)

// CleanupResult is the outcome of Cleanup.
type CleanupResult struct {
	DeletedCount        int
	DeletedPaths        []string
	SpaceReclaimedBytes int64
}

// Cleanup deletes worksets under cacheRoot whose meta.json refreshed_at is
// older than ttlHours. In dry_run mode it only reports what would be
// deleted.
func Cleanup(cacheRoot string, ttlHours int, dryRun bool, now time.Time) (CleanupResult, error) {
	worksetsRoot := filepath.Join(cacheRoot, "worksets", "items")
	result := CleanupResult{}

	productDirs, err := os.ReadDir(worksetsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("workset: listing %s: %w", worksetsRoot, err)
	}

	cutoff := now.Add(-time.Duration(ttlHours) * time.Hour)

	for _, productDir := range productDirs {
		if !productDir.IsDir() {
			continue
		}
		productPath := filepath.Join(worksetsRoot, productDir.Name())
		itemDirs, err := os.ReadDir(productPath)
		if err != nil {
			continue
		}
		for _, itemDir := range itemDirs {
			if !itemDir.IsDir() {
				continue
			}
			dir := filepath.Join(productPath, itemDir.Name())
			meta, err := readMeta(dir)
			if err != nil {
				continue
			}
			refreshedAt, err := time.Parse(time.RFC3339, meta.RefreshedAt)
			if err != nil || refreshedAt.After(cutoff) {
				continue
			}

			size := dirSize(dir)
			result.DeletedPaths = append(result.DeletedPaths, dir)
			result.DeletedCount++
			result.SpaceReclaimedBytes += size

			if !dryRun {
				if err := os.RemoveAll(dir); err != nil {
					return result, fmt.Errorf("workset: removing %s: %w", dir, err)
				}
			}
		}
	}

	return result, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Listing describes one workset for the `list` operation.
type Listing struct {
	ItemID    string
	Product   string
	AgeHours  float64
	SizeBytes int64
	TTLHours  int
}

// List enumerates every workset under cacheRoot with its age, size, and
// configured TTL.
func List(cacheRoot string, now time.Time) ([]Listing, error) {
	worksetsRoot := filepath.Join(cacheRoot, "worksets", "items")
	var out []Listing

	productDirs, err := os.ReadDir(worksetsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("workset: listing %s: %w", worksetsRoot, err)
	}

	for _, productDir := range productDirs {
		if !productDir.IsDir() {
			continue
		}
		productPath := filepath.Join(worksetsRoot, productDir.Name())
		itemDirs, err := os.ReadDir(productPath)
		if err != nil {
			continue
		}
		for _, itemDir := range itemDirs {
			if !itemDir.IsDir() {
				continue
			}
			dir := filepath.Join(productPath, itemDir.Name())
			meta, err := readMeta(dir)
			if err != nil {
				continue
			}
			createdAt, _ := time.Parse(time.RFC3339, meta.CreatedAt)
			out = append(out, Listing{
				ItemID:    itemDir.Name(),
				Product:   productDir.Name(),
				AgeHours:  now.Sub(createdAt).Hours(),
				SizeBytes: dirSize(dir),
				TTLHours:  meta.TTLHours,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Product != out[j].Product {
			return out[i].Product < out[j].Product
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// ADRCandidate is one paragraph in notes.md that looks like an
// architecture decision.
type ADRCandidate struct {
	SuggestedTitle string
	Excerpt        string
}

var decisionHeuristicRe = regexp.MustCompile(`(?i)\b(we (decided|chose|will use)\b|decision:|going with\b|instead of\b)`)

// DetectADRCandidates scans notes.md for paragraphs matching the
// "decision" heuristic: a sentence containing decision-indicating
// language ("we decided", "decision:", "going with", "instead of").
func DetectADRCandidates(cacheRoot, product, itemID string) ([]ADRCandidate, error) {
	dir := Dir(cacheRoot, product, itemID)
	raw, err := os.ReadFile(filepath.Join(dir, notesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workset: reading notes.md: %w", err)
	}

	var candidates []ADRCandidate
	for _, para := range strings.Split(string(raw), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || !decisionHeuristicRe.MatchString(para) {
			continue
		}
		title := para
		if idx := strings.IndexAny(title, ".\n"); idx > 0 {
			title = title[:idx]
		}
		if len(title) > 80 {
			title = title[:80]
		}
		candidates = append(candidates, ADRCandidate{SuggestedTitle: strings.TrimSpace(title), Excerpt: para})
	}
	return candidates, nil
}

// ScheduleCleanup registers a cron-spec-driven periodic sweep of Cleanup.
// The returned cron.Cron is not started; callers call Start().
func ScheduleCleanup(spec, cacheRoot string, ttlHours int, onResult func(CleanupResult, error)) (*cron.Cron, error) {
	c := cron.New()
	err := c.AddFunc(spec, func() {
		result, err := Cleanup(cacheRoot, ttlHours, false, time.Now())
		if onResult != nil {
			onResult(result, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("workset: scheduling cleanup: %w", err)
	}
	return c, nil
}
