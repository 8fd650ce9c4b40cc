package topic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// StateIndex is the shared state store under _shared/state/: per-agent
// active-topic pointers.
type StateIndex struct {
	ActiveTopics map[string]string `json:"active_topics"`
}

func stateFilePath(sharedRoot string) string {
	return filepath.Join(sharedRoot, "state", "topics.json")
}

func loadState(sharedRoot string) (*StateIndex, error) {
	raw, err := os.ReadFile(stateFilePath(sharedRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &StateIndex{ActiveTopics: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("topic: reading state index: %w", err)
	}
	var s StateIndex
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: parsing state index: %v", kanoerr.ErrParse, err)
	}
	if s.ActiveTopics == nil {
		s.ActiveTopics = map[string]string{}
	}
	return &s, nil
}

func saveState(sharedRoot string, s *StateIndex) error {
	dir := filepath.Join(sharedRoot, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("topic: creating state dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("topic: marshaling state index: %w", err)
	}
	tmp := filepath.Join(dir, ".topics.json.tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("topic: writing state index: %w", err)
	}
	return os.Rename(tmp, stateFilePath(sharedRoot))
}

// Switch updates agent's active-topic pointer to name, returning the
// previously active topic if any.
func Switch(sharedRoot, name, agent string, now time.Time) (previous string, err error) {
	if _, err := loadManifest(sharedRoot, name); err != nil {
		return "", err
	}
	s, err := loadState(sharedRoot)
	if err != nil {
		return "", err
	}
	previous = s.ActiveTopics[agent]
	s.ActiveTopics[agent] = name
	if err := saveState(sharedRoot, s); err != nil {
		return "", err
	}
	return previous, nil
}

// ActiveTopic resolves the agent's current topic. A missing entry yields
// kanoerr.ErrNoActiveTopic.
func ActiveTopic(sharedRoot, agent string) (string, error) {
	s, err := loadState(sharedRoot)
	if err != nil {
		return "", err
	}
	name, ok := s.ActiveTopics[agent]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: agent %q has no active topic", kanoerr.ErrNoActiveTopic, agent)
	}
	return name, nil
}

// Close sets closed_at on the topic's manifest. AddItem, PinDocument,
// AddSnippet and Merge (with the topic as target) then refuse the topic
// with ErrTopicClosed; AddReference, RemoveReference, Split, Distill and
// DecisionAudit do not check closed_at.
func Close(sharedRoot, name, agent string, now time.Time) (*Manifest, error) {
	m, err := loadManifest(sharedRoot, name)
	if err != nil {
		return nil, err
	}
	if m.ClosedAt == "" {
		m.ClosedAt = now.UTC().Format(time.RFC3339)
	}
	m.UpdatedAt = now.UTC().Format(time.RFC3339)
	return m, saveManifest(sharedRoot, m)
}
