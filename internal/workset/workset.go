// Package workset implements the per-item workset cache: scratch
// directories under .cache/worksets/items/<product>/<id>/ that an agent
// plans and stages deliverables in before promoting them into the
// canonical store.
package workset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kano-ai/backlog/internal/audit"
	"github.com/kano-ai/backlog/internal/canonical"
	"github.com/kano-ai/backlog/internal/kanoerr"
)

const (
	metaFileName  = "meta.json"
	planFileName  = "plan.md"
	notesFileName = "notes.md"
	deliverables  = "deliverables"
)

// Meta is the workset's meta.json sidecar.
type Meta struct {
	ItemUID     string `json:"item_uid"`
	ItemID      string `json:"item_id"`
	Agent       string `json:"agent"`
	CreatedAt   string `json:"created_at"`
	RefreshedAt string `json:"refreshed_at"`
	TTLHours    int    `json:"ttl_hours"`
}

// Dir returns the workset directory for item id under cacheRoot/product.
func Dir(cacheRoot, product, itemID string) string {
	return filepath.Join(cacheRoot, "worksets", "items", product, itemID)
}

func readMeta(dir string) (Meta, error) {
	var m Meta
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: parsing %s: %v", kanoerr.ErrParse, metaFileName, err)
	}
	return m, nil
}

func writeMeta(dir string, m Meta) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("workset: marshaling meta: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, metaFileName), raw, 0o644)
}

// InitResult is the outcome of Init.
type InitResult struct {
	WorksetPath string
	Created     bool
}

// Init creates the workset skeleton for item (or returns the existing one
// if already present), seeding plan.md from the item's Approach and
// Acceptance Criteria.
func Init(cacheRoot, product string, item *canonical.Item, agent string, ttlHours int, now time.Time) (InitResult, error) {
	dir := Dir(cacheRoot, product, item.ID)
	if _, err := os.Stat(dir); err == nil {
		return InitResult{WorksetPath: dir, Created: false}, nil
	}

	if err := os.MkdirAll(filepath.Join(dir, deliverables), 0o755); err != nil {
		return InitResult{}, fmt.Errorf("workset: creating %s: %w", dir, err)
	}

	stamp := now.UTC().Format(time.RFC3339)
	meta := Meta{
		ItemUID:     item.UID,
		ItemID:      item.ID,
		Agent:       agent,
		CreatedAt:   stamp,
		RefreshedAt: stamp,
		TTLHours:    ttlHours,
	}
	if err := writeMeta(dir, meta); err != nil {
		return InitResult{}, err
	}

	plan := renderPlan(item, "")
	if err := os.WriteFile(filepath.Join(dir, planFileName), []byte(plan), 0o644); err != nil {
		return InitResult{}, fmt.Errorf("workset: writing plan.md: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, notesFileName), []byte(""), 0o644); err != nil {
		return InitResult{}, fmt.Errorf("workset: writing notes.md: %w", err)
	}

	return InitResult{WorksetPath: dir, Created: true}, nil
}

// agentFenceRe matches a documented agent-written fence block, preserved
// verbatim across Refresh.
var agentFenceRe = regexp.MustCompile(`(?s)<!-- agent:notes:start -->.*?<!-- agent:notes:end -->`)

func renderPlan(item *canonical.Item, preservedFence string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan — %s\n\n", item.ID)
	b.WriteString("## Approach\n\n")
	b.WriteString(strings.TrimSpace(item.Approach))
	b.WriteString("\n\n## Acceptance Criteria\n\n")
	for _, line := range strings.Split(strings.TrimSpace(item.AcceptanceCriteria), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "- [") {
			line = "- [ ] " + strings.TrimPrefix(line, "- ")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if preservedFence != "" {
		b.WriteString("\n")
		b.WriteString(preservedFence)
		b.WriteString("\n")
	} else {
		b.WriteString("\n<!-- agent:notes:start -->\n<!-- agent:notes:end -->\n")
	}
	return b.String()
}

// RefreshResult is the outcome of Refresh.
type RefreshResult struct {
	WorksetPath string
}

// Refresh rewrites plan.md from the item's current canonical content,
// preserving the agent-written fence, and updates refreshed_at.
func Refresh(cacheRoot, product string, item *canonical.Item, agent string, now time.Time) (RefreshResult, error) {
	dir := Dir(cacheRoot, product, item.ID)
	meta, err := readMeta(dir)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: workset for %s not found: %v", kanoerr.ErrItemNotFound, item.ID, err)
	}

	existingPlan, _ := os.ReadFile(filepath.Join(dir, planFileName))
	preserved := agentFenceRe.FindString(string(existingPlan))

	plan := renderPlan(item, preserved)
	if err := os.WriteFile(filepath.Join(dir, planFileName), []byte(plan), 0o644); err != nil {
		return RefreshResult{}, fmt.Errorf("workset: rewriting plan.md: %w", err)
	}

	meta.RefreshedAt = now.UTC().Format(time.RFC3339)
	meta.Agent = agent
	if err := writeMeta(dir, meta); err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{WorksetPath: dir}, nil
}

var checklistItemRe = regexp.MustCompile(`^- \[( |x|X)\] (.*)$`)

// NextAction is the outcome of Next.
type NextAction struct {
	StepNumber  int
	Description string
	IsComplete  bool
}

// Next parses plan.md for the first unchecked checklist item.
func Next(cacheRoot, product, itemID string) (NextAction, error) {
	dir := Dir(cacheRoot, product, itemID)
	raw, err := os.ReadFile(filepath.Join(dir, planFileName))
	if err != nil {
		return NextAction{}, fmt.Errorf("%w: workset for %s not found: %v", kanoerr.ErrItemNotFound, itemID, err)
	}

	step := 0
	for _, line := range strings.Split(string(raw), "\n") {
		m := checklistItemRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		step++
		checked := m[1] == "x" || m[1] == "X"
		if !checked {
			return NextAction{StepNumber: step, Description: m[2]}, nil
		}
	}
	return NextAction{IsComplete: true}, nil
}

// PromoteResult is the outcome of Promote.
type PromoteResult struct {
	PromotedFiles []string
	TargetPath    string
}

// Promote moves files from the workset's deliverables/ into
// productRoot/artifacts/<id>/, preserving relative structure, and appends
// a worklog line to item referencing each promoted file. In dry_run mode
// it only lists targets.
func Promote(cacheRoot, product string, item *canonical.Item, store *canonical.Store, agent string, dryRun bool, now time.Time) (PromoteResult, error) {
	dir := Dir(cacheRoot, product, item.ID)
	deliverablesDir := filepath.Join(dir, deliverables)

	var files []string
	err := filepath.WalkDir(deliverablesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(deliverablesDir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return PromoteResult{}, fmt.Errorf("workset: scanning deliverables: %w", err)
	}

	targetDir := filepath.Join(store.ProductRoot, "artifacts", item.ID)
	if dryRun || len(files) == 0 {
		return PromoteResult{PromotedFiles: files, TargetPath: targetDir}, nil
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return PromoteResult{}, fmt.Errorf("workset: creating artifact dir: %w", err)
	}
	for _, rel := range files {
		src := filepath.Join(deliverablesDir, rel)
		dst := filepath.Join(targetDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return PromoteResult{}, fmt.Errorf("workset: creating target dir: %w", err)
		}
		raw, err := os.ReadFile(src)
		if err != nil {
			return PromoteResult{}, fmt.Errorf("workset: reading deliverable %s: %w", rel, err)
		}
		if err := os.WriteFile(dst, raw, 0o644); err != nil {
			return PromoteResult{}, fmt.Errorf("workset: writing artifact %s: %w", rel, err)
		}
		if err := os.Remove(src); err != nil {
			return PromoteResult{}, fmt.Errorf("workset: removing deliverable %s: %w", rel, err)
		}
		item.Worklog = append(item.Worklog, audit.AppendWorklog(fmt.Sprintf("promoted %s to artifacts/%s/%s", rel, item.ID, rel), agent, "", now))
	}
	if err := store.Write(item); err != nil {
		return PromoteResult{}, err
	}

	return PromoteResult{PromotedFiles: files, TargetPath: targetDir}, nil
}
