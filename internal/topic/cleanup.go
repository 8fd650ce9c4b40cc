package topic

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ListTopics enumerates topic names under sharedRoot/topics/.
func ListTopics(sharedRoot string) ([]string, error) {
	root := filepath.Join(sharedRoot, "topics")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("topic: listing %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CleanupResult is the outcome of Cleanup.
type CleanupResult struct {
	EligibleTopics []string
	DeletedDirs    []string
}

// Cleanup finds closed topics older than ttlDays (by closed_at) and,
// when apply is true, deletes their materials buffer, or with
// deleteTopicDir the whole topic directory. With apply false it only
// reports what is eligible.
func Cleanup(sharedRoot string, ttlDays int, apply, deleteTopicDir bool, now time.Time) (CleanupResult, error) {
	names, err := ListTopics(sharedRoot)
	if err != nil {
		return CleanupResult{}, err
	}
	cutoff := now.Add(-time.Duration(ttlDays) * 24 * time.Hour)

	result := CleanupResult{}
	for _, name := range names {
		m, err := loadManifest(sharedRoot, name)
		if err != nil || m.ClosedAt == "" {
			continue
		}
		closedAt, err := time.Parse(time.RFC3339, m.ClosedAt)
		if err != nil || closedAt.After(cutoff) {
			continue
		}
		result.EligibleTopics = append(result.EligibleTopics, name)
		if !apply {
			continue
		}

		dir := topicDir(sharedRoot, name)
		if deleteTopicDir {
			if err := os.RemoveAll(dir); err != nil {
				return result, fmt.Errorf("topic: deleting %s: %w", dir, err)
			}
			result.DeletedDirs = append(result.DeletedDirs, dir)
			continue
		}

		materials := filepath.Join(dir, "materials")
		if _, statErr := os.Stat(materials); statErr == nil {
			if err := os.RemoveAll(materials); err != nil {
				return result, fmt.Errorf("topic: deleting %s: %w", materials, err)
			}
			result.DeletedDirs = append(result.DeletedDirs, materials)
		}
	}

	return result, nil
}
