// Package topic implements the shared topic store: ad hoc working
// contexts under _shared/topics/<name>/ that agents use to pool items,
// pinned documents, and code snippets around a cross-cutting concern.
package topic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// NameRe validates topic names.
var NameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Snippet is one pinned code excerpt.
type Snippet struct {
	File      string `json:"file"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Agent     string `json:"agent"`
	Hash      string `json:"hash"`
	Snapshot  string `json:"snapshot,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Manifest is a topic's manifest.json.
type Manifest struct {
	Name       string    `json:"name"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
	ClosedAt   string    `json:"closed_at,omitempty"`
	Items      []string  `json:"items"`
	PinnedDocs []string  `json:"pinned_docs"`
	Snippets   []Snippet `json:"snippets"`
	References []string  `json:"references"`
}

func topicDir(sharedRoot, name string) string {
	return filepath.Join(sharedRoot, "topics", name)
}

func manifestPath(sharedRoot, name string) string {
	return filepath.Join(topicDir(sharedRoot, name), "manifest.json")
}

func loadManifest(sharedRoot, name string) (*Manifest, error) {
	raw, err := os.ReadFile(manifestPath(sharedRoot, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: topic %q", kanoerr.ErrTopicNotFound, name)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest for %q: %v", kanoerr.ErrParse, name, err)
	}
	return &m, nil
}

func saveManifest(sharedRoot string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("topic: marshaling manifest: %w", err)
	}
	dir := topicDir(sharedRoot, m.Name)
	tmp := filepath.Join(dir, ".manifest.json.tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("topic: writing manifest: %w", err)
	}
	return os.Rename(tmp, manifestPath(sharedRoot, m.Name))
}

// Create validates name, refuses duplicates, and writes the topic
// skeleton (manifest.json, notes.md, brief.generated.md).
func Create(sharedRoot, name, agent string, now time.Time) (*Manifest, error) {
	if !NameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", kanoerr.ErrInvalidTopicName, name)
	}
	dir := topicDir(sharedRoot, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %q", kanoerr.ErrTopicExists, name)
	}
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o755); err != nil {
		return nil, fmt.Errorf("topic: creating %s: %w", dir, err)
	}

	stamp := now.UTC().Format(time.RFC3339)
	m := &Manifest{Name: name, CreatedAt: stamp, UpdatedAt: stamp}
	if err := saveManifest(sharedRoot, m); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte(""), 0o644); err != nil {
		return nil, fmt.Errorf("topic: writing notes.md: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brief.generated.md"), []byte(""), 0o644); err != nil {
		return nil, fmt.Errorf("topic: writing brief.generated.md: %w", err)
	}
	return m, nil
}

// AddItem appends a UID to the topic's items if absent.
func AddItem(sharedRoot, name, itemUID string, now time.Time) (*Manifest, error) {
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return nil, err
	}
	if m.ClosedAt != "" {
		return nil, fmt.Errorf("%w: topic %q is closed", kanoerr.ErrTopicClosed, name)
	}
	if !containsString(m.Items, itemUID) {
		m.Items = append(m.Items, itemUID)
	}
	m.UpdatedAt = now.UTC().Format(time.RFC3339)
	return m, saveManifest(sharedRoot, m)
}

// PinDocument stores a workspace-relative path in pinned_docs.
func PinDocument(sharedRoot, name, relPath string, now time.Time) (*Manifest, error) {
	if filepath.IsAbs(relPath) {
		return nil, fmt.Errorf("%w: pinned document path must be workspace-relative: %s", kanoerr.ErrSchemaViolation, relPath)
	}
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return nil, err
	}
	if m.ClosedAt != "" {
		return nil, fmt.Errorf("%w: topic %q is closed", kanoerr.ErrTopicClosed, name)
	}
	if !containsString(m.PinnedDocs, relPath) {
		m.PinnedDocs = append(m.PinnedDocs, relPath)
	}
	m.UpdatedAt = now.UTC().Format(time.RFC3339)
	return m, saveManifest(sharedRoot, m)
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// sortedUnique returns a sorted copy of vs with duplicates removed.
func sortedUnique(vs []string) []string {
	set := map[string]bool{}
	for _, v := range vs {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
