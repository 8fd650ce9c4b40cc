package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kano-ai/backlog/internal/canonical"
	"github.com/kano-ai/backlog/internal/kanoerr"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
}

func readyTask() *canonical.Item {
	return &canonical.Item{
		Frontmatter: canonical.Frontmatter{
			Type:  canonical.TypeTask,
			State: canonical.StateNew,
		},
		Context:            "ctx",
		Goal:               "goal",
		Approach:           "approach",
		AcceptanceCriteria: "ac",
		Risks:              "risks",
	}
}

func TestTransitionNewToReadyProducesWorklogLine(t *testing.T) {
	it := readyTask()
	err := Transition(it, ActionReady, TransitionOptions{Agent: "alice", Now: fixedNow})
	require.NoError(t, err)
	require.Equal(t, canonical.StateReady, it.State)
	require.Len(t, it.Worklog, 1)
	require.Equal(t, "2026-01-15 09:30 [agent=alice] [model=unknown] State: New → Ready", it.Worklog[0])
}

func TestReadyGateFailsListingMissingFields(t *testing.T) {
	it := readyTask()
	it.Risks = "  "
	err := Transition(it, ActionReady, TransitionOptions{Agent: "alice", Now: fixedNow})
	require.Error(t, err)
	var rge *kanoerr.ReadyGateError
	require.ErrorAs(t, err, &rge)
	require.Equal(t, []string{"risks"}, rge.Missing)
	require.Equal(t, canonical.StateNew, it.State, "failed transition must not mutate state")
	require.Empty(t, it.Worklog)
}

func TestReadyGateSkippedForNonTaskBugTypes(t *testing.T) {
	it := &canonical.Item{Frontmatter: canonical.Frontmatter{Type: canonical.TypeFeature, State: canonical.StateNew}}
	err := Transition(it, ActionReady, TransitionOptions{Now: fixedNow})
	require.NoError(t, err)
	require.Equal(t, canonical.StateReady, it.State)
}

func TestInvalidTransitionRejected(t *testing.T) {
	it := &canonical.Item{Frontmatter: canonical.Frontmatter{Type: canonical.TypeTask, State: canonical.StateDone}}
	err := Transition(it, ActionStart, TransitionOptions{Now: fixedNow})
	require.ErrorIs(t, err, kanoerr.ErrInvalidTransition)
}

func TestForwardParentAdvancesOnlyWhenSiblingsDone(t *testing.T) {
	parent := &canonical.Item{Frontmatter: canonical.Frontmatter{Type: canonical.TypeFeature, State: canonical.StateInProgress}}
	siblingA := &canonical.Item{Frontmatter: canonical.Frontmatter{State: canonical.StateDone}}
	siblingB := &canonical.Item{Frontmatter: canonical.Frontmatter{State: canonical.StateReview}}

	advanced, err := ForwardParent(parent, []*canonical.Item{siblingA, siblingB}, ActionDone, TransitionOptions{Now: fixedNow})
	require.NoError(t, err)
	require.False(t, advanced)
	require.Equal(t, canonical.StateInProgress, parent.State)

	siblingB.State = canonical.StateDone
	advanced, err = ForwardParent(parent, []*canonical.Item{siblingA, siblingB}, ActionDone, TransitionOptions{Now: fixedNow})
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, canonical.StateDone, parent.State)
}
