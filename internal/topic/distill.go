package topic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// AddSnippet validates a 1-based inclusive line range against file,
// computes a SHA-256 integrity witness over the selected lines, and
// records it on the topic. When snapshot is true the selected text is
// cached alongside the witness so later distill/export calls do not need
// to re-read the source file.
func AddSnippet(sharedRoot, name, file string, start, end int, agent string, snapshot bool, now time.Time) (*Manifest, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("%w: invalid line range %d-%d", kanoerr.ErrSchemaViolation, start, end)
	}
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return nil, err
	}
	if m.ClosedAt != "" {
		return nil, fmt.Errorf("%w: topic %q is closed", kanoerr.ErrTopicClosed, name)
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("topic: reading snippet source %s: %w", file, err)
	}
	lines := strings.Split(string(raw), "\n")
	if end > len(lines) {
		return nil, fmt.Errorf("%w: line range %d-%d exceeds %d lines in %s", kanoerr.ErrSchemaViolation, start, end, len(lines), file)
	}
	selected := strings.Join(lines[start-1:end], "\n")
	sum := sha256.Sum256([]byte(selected))
	digest := hex.EncodeToString(sum[:])

	snap := ""
	if snapshot {
		snap = selected
	}
	s := Snippet{
		File:      file,
		Start:     start,
		End:       end,
		Agent:     agent,
		Hash:      digest,
		Snapshot:  snap,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	m.Snippets = append(m.Snippets, s)
	m.UpdatedAt = now.UTC().Format(time.RFC3339)
	return m, saveManifest(sharedRoot, m)
}

// Distill regenerates brief.generated.md from the topic's items, pinned
// documents, and snippets in a fixed section order with items sorted by
// UID, so repeated calls over unchanged state produce byte-identical
// output.
func Distill(sharedRoot, name string, resolveTitle func(uid string) string) (string, error) {
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Topic brief — %s\n\n", m.Name)

	b.WriteString("## Items\n\n")
	items := sortedUnique(m.Items)
	if len(items) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		for _, uid := range items {
			title := uid
			if resolveTitle != nil {
				if t := resolveTitle(uid); t != "" {
					title = t
				}
			}
			fmt.Fprintf(&b, "- %s — %s\n", uid, title)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Pinned documents\n\n")
	docs := sortedUnique(m.PinnedDocs)
	if len(docs) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Snippets\n\n")
	if len(m.Snippets) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		snippets := append([]Snippet(nil), m.Snippets...)
		sort.Slice(snippets, func(i, j int) bool {
			if snippets[i].File != snippets[j].File {
				return snippets[i].File < snippets[j].File
			}
			return snippets[i].Start < snippets[j].Start
		})
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s:%d-%d (%s)\n", s.File, s.Start, s.End, s.Hash[:12])
		}
		b.WriteString("\n")
	}

	brief := b.String()
	if err := os.WriteFile(filepath.Join(topicDir(sharedRoot, name), "brief.generated.md"), []byte(brief), 0o644); err != nil {
		return "", fmt.Errorf("topic: writing brief.generated.md: %w", err)
	}
	return brief, nil
}

// ContextBundle is the result of ExportContext.
type ContextBundle struct {
	Topic       string   `json:"topic"`
	Items       []string `json:"items"`
	PinnedDocs  []string `json:"pinned_docs"`
	GeneratedAt string   `json:"generated_at"`
}

// ExportContext returns the topic's bundle. format selects "json" or
// "markdown" rendering; callers requesting markdown get the same content
// Distill produces.
func ExportContext(sharedRoot, name, format string, now time.Time) (ContextBundle, string, error) {
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return ContextBundle{}, "", err
	}
	bundle := ContextBundle{
		Topic:       m.Name,
		Items:       sortedUnique(m.Items),
		PinnedDocs:  sortedUnique(m.PinnedDocs),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	if format == "markdown" {
		rendered, err := Distill(sharedRoot, name, nil)
		return bundle, rendered, err
	}
	return bundle, "", nil
}

// DecisionAuditResult is the outcome of DecisionAudit.
type DecisionAuditResult struct {
	DecisionsFound        int      `json:"decisions_found"`
	ItemsWithWriteback    []string `json:"items_with_writeback"`
	ItemsMissingWriteback []string `json:"items_missing_writeback"`
	SourcesScanned        int      `json:"sources_scanned"`
	ReportPath            string   `json:"report_path"`
}

var decisionWritebackRe = regexp.MustCompile(`(?i)decision[s]?\s*:\s*\S`)

// DecisionAudit scans the topic's notes.md and each referenced item's
// body (via readItemBody) for decision-writeback markers, reporting which
// items have one and which don't, and writes the result as a JSON report
// under the topic directory.
func DecisionAudit(sharedRoot, name string, readItemBody func(uid string) (string, error)) (DecisionAuditResult, error) {
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return DecisionAuditResult{}, err
	}

	result := DecisionAuditResult{}
	notes, _ := os.ReadFile(filepath.Join(topicDir(sharedRoot, name), "notes.md"))
	result.DecisionsFound += len(decisionWritebackRe.FindAllString(string(notes), -1))
	result.SourcesScanned++

	for _, uid := range sortedUnique(m.Items) {
		result.SourcesScanned++
		var body string
		if readItemBody != nil {
			body, _ = readItemBody(uid)
		}
		if decisionWritebackRe.MatchString(body) {
			result.ItemsWithWriteback = append(result.ItemsWithWriteback, uid)
			result.DecisionsFound += len(decisionWritebackRe.FindAllString(body, -1))
		} else {
			result.ItemsMissingWriteback = append(result.ItemsMissingWriteback, uid)
		}
	}

	result.ReportPath = filepath.Join(topicDir(sharedRoot, name), "decision-audit.json")
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return DecisionAuditResult{}, fmt.Errorf("topic: marshaling decision audit: %w", err)
	}
	if err := os.WriteFile(result.ReportPath, raw, 0o644); err != nil {
		return DecisionAuditResult{}, fmt.Errorf("topic: writing decision audit report: %w", err)
	}
	return result, nil
}
