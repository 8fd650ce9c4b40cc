// Package statemachine validates item state transitions and enforces the
// Ready gate for Task/Bug items.
package statemachine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kano-ai/backlog/internal/canonical"
	"github.com/kano-ai/backlog/internal/kanoerr"
)

// Action enumerates the transition actions an item may undergo.
type Action string

const (
	ActionPropose Action = "propose"
	ActionReady   Action = "ready"
	ActionStart   Action = "start"
	ActionReview  Action = "review"
	ActionDone    Action = "done"
	ActionBlock   Action = "block"
	ActionDrop    Action = "drop"
)

type transitionKey struct {
	from   canonical.State
	action Action
}

// transitions is the directed transition graph: (from, action) -> to.
// Multiple from-states mapping to the same action/to pair are expressed as
// repeated entries.
var transitions = map[transitionKey]canonical.State{
	{canonical.StateNew, ActionPropose}: canonical.StateProposed,

	{canonical.StateProposed, ActionReady}: canonical.StateReady,
	{canonical.StateNew, ActionReady}:      canonical.StateReady,

	{canonical.StateReady, ActionStart}:   canonical.StateInProgress,
	{canonical.StateNew, ActionStart}:     canonical.StateInProgress,
	{canonical.StateBlocked, ActionStart}: canonical.StateInProgress,

	{canonical.StateInProgress, ActionReview}: canonical.StateReview,

	{canonical.StateInProgress, ActionDone}: canonical.StateDone,
	{canonical.StateReview, ActionDone}:     canonical.StateDone,
	{canonical.StateReady, ActionDone}:      canonical.StateDone,

	{canonical.StateNew, ActionBlock}:        canonical.StateBlocked,
	{canonical.StateProposed, ActionBlock}:   canonical.StateBlocked,
	{canonical.StateReady, ActionBlock}:      canonical.StateBlocked,
	{canonical.StateInProgress, ActionBlock}: canonical.StateBlocked,
	{canonical.StateReview, ActionBlock}:     canonical.StateBlocked,

	{canonical.StateNew, ActionDrop}:        canonical.StateDropped,
	{canonical.StateProposed, ActionDrop}:   canonical.StateDropped,
	{canonical.StateReady, ActionDrop}:      canonical.StateDropped,
	{canonical.StateInProgress, ActionDrop}: canonical.StateDropped,
	{canonical.StateReview, ActionDrop}:     canonical.StateDropped,
	{canonical.StateBlocked, ActionDrop}:    canonical.StateDropped,
}

// CanTransition reports whether (state, action) has a defined target state,
// without the Ready-gate side check.
func CanTransition(state canonical.State, action Action) bool {
	_, ok := transitions[transitionKey{state, action}]
	return ok
}

// readyRequiredFields lists the Ready-gate body sections in the documented
// order, paired with their accessor.
func readyRequiredFields(it *canonical.Item) []struct {
	name  string
	value string
} {
	return []struct {
		name  string
		value string
	}{
		{"context", it.Context},
		{"goal", it.Goal},
		{"approach", it.Approach},
		{"acceptance_criteria", it.AcceptanceCriteria},
		{"risks", it.Risks},
	}
}

// CheckReadyGate returns the names of required body sections that are
// empty or whitespace-only, in documented order; an empty slice means the
// item passes the gate. Only Task and Bug items are checked; other types
// always pass.
func CheckReadyGate(it *canonical.Item) []string {
	if it.Type != canonical.TypeTask && it.Type != canonical.TypeBug {
		return nil
	}
	var missing []string
	for _, f := range readyRequiredFields(it) {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// TransitionOptions carries the optional agent/model/message attribution
// for the emitted worklog entry.
type TransitionOptions struct {
	Agent   string
	Model   string
	Message string
	Now     func() time.Time
}

// Transition validates and executes action on it in place: on success it
// sets State and Updated, and appends a worklog entry of the documented
// form. It never partially mutates the item on failure.
func Transition(it *canonical.Item, action Action, opts TransitionOptions) error {
	to, ok := transitions[transitionKey{it.State, action}]
	if !ok {
		return fmt.Errorf("%w: %s --%s--> (no target state)", kanoerr.ErrInvalidTransition, it.State, action)
	}

	if action == ActionReady {
		if missing := CheckReadyGate(it); len(missing) > 0 {
			return kanoerr.NewReadyGateError(missing)
		}
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	nowT := now()

	old := it.State
	it.State = to
	it.Updated = nowT.UTC().Format("2006-01-02")

	it.Worklog = append(it.Worklog, formatTransitionLine(nowT, old, to, opts))
	return nil
}

func formatTransitionLine(now time.Time, old, to canonical.State, opts TransitionOptions) string {
	timestamp := now.UTC().Format("2006-01-02 15:04")
	msg := fmt.Sprintf("State: %s → %s", old, to)
	if opts.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, opts.Message)
	}
	if opts.Agent == "" {
		return fmt.Sprintf("%s %s", timestamp, msg)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "unknown"
	}
	return fmt.Sprintf("%s [agent=%s] [model=%s] %s", timestamp, opts.Agent, model, msg)
}

// SiblingsDone reports whether every sibling in siblings (items sharing the
// same Parent) has reached Done; used by parent-forward sync. An empty
// siblings slice is vacuously true.
func SiblingsDone(siblings []*canonical.Item) bool {
	for _, s := range siblings {
		if s.State != canonical.StateDone {
			return false
		}
	}
	return true
}

// ForwardParent advances parent by action if every item in siblings has
// reached Done; it is a no-op (returns false, nil) otherwise. The caller is
// responsible for writing parent back to the canonical store on success.
func ForwardParent(parent *canonical.Item, siblings []*canonical.Item, action Action, opts TransitionOptions) (bool, error) {
	if !SiblingsDone(siblings) {
		return false, nil
	}
	if !CanTransition(parent.State, action) {
		return false, nil
	}
	if err := Transition(parent, action, opts); err != nil {
		return false, err
	}
	return true, nil
}
