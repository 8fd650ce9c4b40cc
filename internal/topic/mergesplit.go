package topic

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Target         string
	ItemsMerged    int
	SnippetsMerged int
	SourcesDeleted []string
}

// Merge unions sources' items, snippets, pinned_docs, and references into
// target. Items are unioned by UID (first writer wins: a source's item
// already present in target, or already added from an earlier source, is
// skipped). Snippets are deduped by their content hash. Cross-references
// held by other topics against any source are rewritten to target. When
// dryRun is true no manifest is written. When deleteSources is true and
// dryRun is false, each source's directory is removed after merging.
func Merge(sharedRoot, target string, sources []string, dryRun, deleteSources bool, allTopics []string, now time.Time) (MergeResult, error) {
	tm, err := loadManifest(sharedRoot, target)
	if err != nil {
		return MergeResult{}, err
	}
	if tm.ClosedAt != "" {
		return MergeResult{}, fmt.Errorf("%w: target topic %q is closed", kanoerr.ErrTopicClosed, target)
	}

	seenItems := map[string]bool{}
	for _, it := range tm.Items {
		seenItems[it] = true
	}
	seenHashes := map[string]bool{}
	for _, s := range tm.Snippets {
		seenHashes[s.Hash] = true
	}

	result := MergeResult{Target: target}
	for _, src := range sources {
		sm, err := loadManifest(sharedRoot, src)
		if err != nil {
			return MergeResult{}, err
		}
		for _, it := range sm.Items {
			if !seenItems[it] {
				seenItems[it] = true
				tm.Items = append(tm.Items, it)
				result.ItemsMerged++
			}
		}
		for _, doc := range sm.PinnedDocs {
			if !containsString(tm.PinnedDocs, doc) {
				tm.PinnedDocs = append(tm.PinnedDocs, doc)
			}
		}
		for _, sn := range sm.Snippets {
			if !seenHashes[sn.Hash] {
				seenHashes[sn.Hash] = true
				tm.Snippets = append(tm.Snippets, sn)
				result.SnippetsMerged++
			}
		}
		for _, ref := range sm.References {
			if ref != target && !containsString(tm.References, ref) {
				tm.References = append(tm.References, ref)
			}
		}
	}

	// Rewrite cross-references: any other topic pointing at a source now
	// points at target instead.
	for _, other := range allTopics {
		if other == target || containsString(sources, other) {
			continue
		}
		om, err := loadManifest(sharedRoot, other)
		if err != nil {
			continue
		}
		changed := false
		for _, src := range sources {
			if containsString(om.References, src) {
				om.References = removeEdge(om.References, src)
				if !containsString(om.References, target) {
					om.References = append(om.References, target)
				}
				changed = true
			}
		}
		if changed && !dryRun {
			om.UpdatedAt = now.UTC().Format(time.RFC3339)
			if err := saveManifest(sharedRoot, om); err != nil {
				return MergeResult{}, err
			}
		}
	}

	if dryRun {
		return result, nil
	}

	tm.UpdatedAt = now.UTC().Format(time.RFC3339)
	if err := saveManifest(sharedRoot, tm); err != nil {
		return result, err
	}

	if deleteSources {
		for _, src := range sources {
			if err := os.RemoveAll(topicDir(sharedRoot, src)); err != nil {
				return result, fmt.Errorf("topic: deleting merged source %q: %w", src, err)
			}
			result.SourcesDeleted = append(result.SourcesDeleted, src)
		}
	}

	return result, nil
}

// SplitResult is the outcome of Split.
type SplitResult struct {
	CreatedTopics []string
}

// Split partitions source's items across new topics named by the keys of
// itemsByNewTopic. Each new topic is created (refusing an existing name)
// and seeded with the listed item UIDs; source's own item list is reduced
// to whatever was not assigned to any partition. When snapshots is true,
// source is snapshotted before the split. dryRun reports the partition
// without writing anything.
func Split(sharedRoot, source string, itemsByNewTopic map[string][]string, dryRun, snapshots bool, agent string, now time.Time) (SplitResult, error) {
	sm, err := loadManifest(sharedRoot, source)
	if err != nil {
		return SplitResult{}, err
	}

	if dryRun {
		names := make([]string, 0, len(itemsByNewTopic))
		for name := range itemsByNewTopic {
			names = append(names, name)
		}
		return SplitResult{CreatedTopics: names}, nil
	}

	if snapshots {
		if _, err := Snapshot(sharedRoot, source, "pre-split-"+now.UTC().Format("20060102T150405Z"), agent, true, now); err != nil {
			return SplitResult{}, err
		}
	}

	assigned := map[string]bool{}
	var created []string
	for name, items := range itemsByNewTopic {
		if _, err := Create(sharedRoot, name, agent, now); err != nil {
			return SplitResult{}, err
		}
		m, err := loadManifest(sharedRoot, name)
		if err != nil {
			return SplitResult{}, err
		}
		m.Items = append(m.Items, items...)
		m.UpdatedAt = now.UTC().Format(time.RFC3339)
		if err := saveManifest(sharedRoot, m); err != nil {
			return SplitResult{}, err
		}
		for _, it := range items {
			assigned[it] = true
		}
		created = append(created, name)
	}

	remaining := sm.Items[:0:0]
	for _, it := range sm.Items {
		if !assigned[it] {
			remaining = append(remaining, it)
		}
	}
	sm.Items = remaining
	sm.UpdatedAt = now.UTC().Format(time.RFC3339)
	if err := saveManifest(sharedRoot, sm); err != nil {
		return SplitResult{}, err
	}

	return SplitResult{CreatedTopics: created}, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
