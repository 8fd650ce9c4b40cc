package canonical

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// Store is the single writer of item markdown files under one product's
// items/<type_plural>/<bucket>/ tree.
type Store struct {
	// ProductRoot is products/<name> under the backlog root.
	ProductRoot string
	// IDAllocator mints the next display-ID number for a type; callers
	// typically pass an *idseq.Sequencer here.
	IDAllocator func(typeCode string) (int, error)
	// UIDGenerator mints a new UID string (UUIDv7); overridable for tests.
	UIDGenerator func() (string, error)
	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

// NewStore constructs a Store with production defaults for UID generation
// and the clock; callers must still set IDAllocator.
func NewStore(productRoot string, allocator func(string) (int, error)) *Store {
	return &Store{
		ProductRoot:  productRoot,
		IDAllocator:  allocator,
		UIDGenerator: NewUUIDv7String,
		Now:          time.Now,
	}
}

func (s *Store) itemsRoot() string {
	return filepath.Join(s.ProductRoot, "items")
}

// bucketDir returns the zero-padded 4-digit bucket folder for a 1-based
// sequence number: the number floor-divided by 100, * 100, zero-padded.
func bucketDir(number int) string {
	bucket := (number / 100) * 100
	return fmt.Sprintf("%04d", bucket)
}

var slugNonWord = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases, collapses non-word runs to single hyphens, trims
// leading/trailing hyphens, and truncates to 50 characters.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugNonWord.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = s[:50]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

var idPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}-(EPIC|FTR|USR|TSK|BUG)-\d{4}$`)

// Create allocates uid/id, derives the filesystem slug and bucket, and
// writes a new item file. parent and priority are optional ("" to omit).
func (s *Store) Create(prefix string, itype ItemType, title, parent, priority, owner string) (*Item, error) {
	code := itype.TypeCode()
	if code == "" {
		return nil, fmt.Errorf("%w: unknown item type %q", kanoerr.ErrSchemaViolation, itype)
	}
	number, err := s.IDAllocator(code)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating id: %v", kanoerr.ErrWrite, err)
	}
	uid, err := s.UIDGenerator()
	if err != nil {
		return nil, fmt.Errorf("%w: minting uid: %v", kanoerr.ErrWrite, err)
	}

	now := s.Now()
	today := now.UTC().Format("2006-01-02")
	id := fmt.Sprintf("%s-%s-%04d", prefix, code, number)
	slug := Slugify(title)

	it := &Item{
		Frontmatter: Frontmatter{
			ID:      id,
			UID:     uid,
			Type:    itype,
			Title:   title,
			State:   StateNew,
			Parent:  parent,
			Owner:   owner,
			Created: today,
			Updated: today,
		},
	}
	if priority != "" {
		it.Priority = priority
	}

	dir := filepath.Join(s.itemsRoot(), itype.Plural(), bucketDir(number))
	it.FilePath = filepath.Join(dir, fmt.Sprintf("%s_%s.md", id, slug))

	if err := s.Write(it); err != nil {
		return nil, err
	}
	return it, nil
}

// Write validates the schema, stamps Updated to today, serializes, and
// atomically replaces the file (temp file in the same directory, fsync,
// rename).
func (s *Store) Write(it *Item) error {
	if violations := ValidateSchema(it); len(violations) > 0 {
		return fmt.Errorf("%w: %s", kanoerr.ErrSchemaViolation, strings.Join(violations, "; "))
	}
	it.Touch(s.Now())

	dir := filepath.Dir(it.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", kanoerr.ErrWrite, dir, err)
	}

	serialized, err := Serialize(it)
	if err != nil {
		return fmt.Errorf("%w: %v", kanoerr.ErrWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", kanoerr.ErrWrite, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(serialized); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: writing temp file: %v", kanoerr.ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync temp file: %v", kanoerr.ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: closing temp file: %v", kanoerr.ErrWrite, err)
	}
	if err := os.Rename(tmpPath, it.FilePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming into place: %v", kanoerr.ErrWrite, err)
	}
	return nil
}

// Read parses frontmatter and the documented body sections from path.
func Read(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", kanoerr.ErrItemNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", kanoerr.ErrParse, path, err)
	}
	it, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	it.FilePath = path
	return it, nil
}

var frontmatterFence = "---"

// Parse splits raw file content into frontmatter and body, then scans the
// body for the eight documented sections. Content under any other heading
// is dropped: it is not kept on the Item, and Serialize does not write it
// back.
func Parse(raw string) (*Item, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != frontmatterFence {
		return nil, fmt.Errorf("%w: missing frontmatter opening fence", kanoerr.ErrParse)
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterFence {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("%w: missing frontmatter closing fence", kanoerr.ErrParse)
	}
	fmText := strings.Join(lines[1:end], "\n")

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return nil, fmt.Errorf("%w: decoding frontmatter: %v", kanoerr.ErrParse, err)
	}
	if fm.ID == "" || fm.UID == "" {
		return nil, fmt.Errorf("%w: frontmatter missing required id/uid", kanoerr.ErrParse)
	}

	body := strings.Join(lines[end+1:], "\n")
	it := &Item{Frontmatter: fm}
	parseBody(it, body)
	return it, nil
}

var sectionHeadingRe = regexp.MustCompile(`(?m)^# (.+?)\s*$`)

// parseBody scans the body text for the documented section headings and
// assigns their content, preserving the exact between-heading text.
func parseBody(it *Item, body string) {
	matches := sectionHeadingRe.FindAllStringSubmatchIndex(body, -1)
	type span struct {
		name       string
		contentBeg int
		contentEnd int
	}
	var spans []span
	for i, m := range matches {
		name := body[m[2]:m[3]]
		contentBeg := m[1]
		contentEnd := len(body)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		spans = append(spans, span{name: name, contentBeg: contentBeg, contentEnd: contentEnd})
	}
	for _, sp := range spans {
		content := strings.Trim(body[sp.contentBeg:sp.contentEnd], "\n")
		switch bodySection(sp.name) {
		case sectionContext:
			it.Context = content
		case sectionGoal:
			it.Goal = content
		case sectionNonGoals:
			it.NonGoals = content
		case sectionApproach:
			it.Approach = content
		case sectionAlternatives:
			it.Alternatives = content
		case sectionAcceptance:
			it.AcceptanceCriteria = content
		case sectionRisks:
			it.Risks = content
		case sectionWorklog:
			it.Worklog = parseWorklogLines(content)
		}
	}
}

func parseWorklogLines(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

// Serialize renders an item back to its canonical on-disk text: YAML
// frontmatter between `---` fences, followed by non-empty body sections in
// the fixed documented order.
func Serialize(it *Item) (string, error) {
	fmBytes, err := yaml.Marshal(it.Frontmatter)
	if err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n")

	sectionText := map[bodySection]string{
		sectionContext:      it.Context,
		sectionGoal:         it.Goal,
		sectionNonGoals:     it.NonGoals,
		sectionApproach:     it.Approach,
		sectionAlternatives: it.Alternatives,
		sectionAcceptance:   it.AcceptanceCriteria,
		sectionRisks:        it.Risks,
	}
	for _, sec := range orderedSections {
		if sec == sectionWorklog {
			continue
		}
		content := sectionText[sec]
		if strings.TrimSpace(content) == "" {
			continue
		}
		b.WriteString("\n# ")
		b.WriteString(string(sec))
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(content, "\n"))
		b.WriteString("\n")
	}
	if len(it.Worklog) > 0 {
		b.WriteString("\n# Worklog\n\n")
		for _, line := range it.Worklog {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var validStates = map[State]bool{
	StateNew: true, StateProposed: true, StatePlanned: true, StateReady: true,
	StateInProgress: true, StateReview: true, StateDone: true, StateBlocked: true, StateDropped: true,
}

// ValidateSchema returns a list of human-readable violations without
// raising; an empty list means the item is well-formed.
func ValidateSchema(it *Item) []string {
	var violations []string
	if !idPattern.MatchString(it.ID) {
		violations = append(violations, fmt.Sprintf("id %q does not match required pattern", it.ID))
	}
	if _, err := ParseUUID(it.UID); err != nil {
		violations = append(violations, fmt.Sprintf("uid %q is not a valid UUID", it.UID))
	}
	if !datePattern.MatchString(it.Created) {
		violations = append(violations, fmt.Sprintf("created %q is not YYYY-MM-DD", it.Created))
	}
	if !datePattern.MatchString(it.Updated) {
		violations = append(violations, fmt.Sprintf("updated %q is not YYYY-MM-DD", it.Updated))
	}
	if !validStates[it.State] {
		violations = append(violations, fmt.Sprintf("state %q is not a recognized state", it.State))
	}
	return violations
}

// List returns all item paths under the product's items tree, optionally
// filtered to one type, excluding files ending in .index.md.
func (s *Store) List(itype *ItemType) ([]string, error) {
	root := s.itemsRoot()
	if itype != nil {
		root = filepath.Join(root, itype.Plural())
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".index.md") {
			return nil
		}
		if strings.HasSuffix(path, ".md") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", kanoerr.ErrParse, root, err)
	}
	sort.Strings(out)
	return out, nil
}

// FindByID locates an item by its display ID: first by filename pattern
// <id>_*.md, falling back to scanning frontmatter id fields.
func (s *Store) FindByID(id string) (*Item, error) {
	paths, err := s.List(nil)
	if err != nil {
		return nil, err
	}
	prefix := id + "_"
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), prefix) {
			return Read(p)
		}
	}
	for _, p := range paths {
		it, err := Read(p)
		if err != nil {
			continue
		}
		if it.ID == id {
			return it, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", kanoerr.ErrItemNotFound, id)
}

// MaxNumberOnDisk scans every item of typeCode under root and returns the
// largest NNNN suffix found, or 0 if none exist. Used by the ID sequencer
// to reconcile against out-of-band file creation.
func MaxNumberOnDisk(productRoot, typeCode string) (int, error) {
	max := 0
	itemsRoot := filepath.Join(productRoot, "items")
	err := filepath.WalkDir(itemsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		base := filepath.Base(path)
		parts := strings.SplitN(base, "-", 3)
		if len(parts) < 3 || parts[1] != typeCode {
			return nil
		}
		numStr := strings.SplitN(parts[2], "_", 2)[0]
		n, convErr := strconv.Atoi(numStr)
		if convErr != nil {
			return nil
		}
		if n > max {
			max = n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max, nil
}
