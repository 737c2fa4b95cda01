package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-service/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// sampleTree is E > S > A > {C > {chk1, chk2}, C2 > chk3}, plus svcchk attached to S.
func sampleTree() *models.TreeNode {
	check := func(id string, freq int) *models.TreeNode {
		return &models.TreeNode{ElementID: id, Name: id, Kind: models.KindCheck, Frequency: freq}
	}
	return &models.TreeNode{
		ElementID: "E", Name: "prod", Kind: models.KindEnvironment,
		Children: []*models.TreeNode{{
			ElementID: "S", Name: "shop", Kind: models.KindService,
			Children: []*models.TreeNode{
				{
					ElementID: "A", Name: "checkout", Kind: models.KindAction,
					Children: []*models.TreeNode{
						{ElementID: "C", Name: "api", Kind: models.KindComponent, Children: []*models.TreeNode{check("chk1", 60), check("chk2", -1)}},
						{ElementID: "C2", Name: "db", Kind: models.KindComponent, Links: []string{"A2"}, Children: []*models.TreeNode{check("chk3", 0)}},
					},
				},
				check("svcchk", 0),
			},
		}},
	}
}

func newTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := NewTree("env1", sampleTree(), t0)
	require.NoError(t, err)
	return tree
}

func transition(checkID string, state models.State, ts time.Time) models.StateTransition {
	return models.StateTransition{
		EnvironmentID:   "env1",
		CheckID:         checkID,
		AlertName:       "heartbeat",
		State:           state,
		SourceTimestamp: ts,
	}
}

// assertRollup checks that every inner node equals the max of its children.
func assertRollup(t *testing.T, tree *Tree) {
	t.Helper()
	var walk func(n *node)
	walk = func(n *node) {
		if n.isCheck() {
			return
		}
		want := models.StateOk
		for _, c := range n.children {
			walk(c)
			want = models.MaxState(want, c.effective)
		}
		assert.Equal(t, want, n.effective, "rollup of %s", n.id)
	}
	walk(tree.root)
}

func elementIDs(events []models.StateChanged) []string {
	var out []string
	for _, ev := range events {
		out = append(out, ev.ElementID)
	}
	return out
}

func TestScenarioErrorPropagatesBottomUp(t *testing.T) {
	tree := newTree(t)

	res, events, err := tree.Apply(transition("chk1", models.StateError, t0), t0)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)
	assert.Equal(t, []string{"chk1", "C", "A", "S", "E"}, elementIDs(events))
	for _, ev := range events {
		assert.Equal(t, models.StateOk, ev.OldState)
		assert.Equal(t, models.StateError, ev.NewState)
		assert.Equal(t, t0, ev.At)
		assert.Equal(t, "chk1", ev.Cause.CheckID)
	}
	assert.Equal(t, models.StateError, tree.root.effective)
	assertRollup(t, tree)
}

func TestRollupStopsAtFirstUnchangedNode(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk1", models.StateError, t0), t0)
	require.NoError(t, err)

	// C is already Error because of chk1, nothing above chk2 changes.
	_, events, err := tree.Apply(transition("chk2", models.StateWarning, t0.Add(time.Second)), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"chk2"}, elementIDs(events))

	// Resolving chk1 leaves C at Warning because of chk2.
	_, events, err = tree.Apply(transition("chk1", models.StateOk, t0.Add(2*time.Second)), t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"chk1", "C", "A", "S", "E"}, elementIDs(events))
	assert.Equal(t, models.StateWarning, events[len(events)-1].NewState)
	assertRollup(t, tree)
}

func TestCheckAttachedToServiceRollsUp(t *testing.T) {
	tree := newTree(t)
	_, events, err := tree.Apply(transition("svcchk", models.StateWarning, t0), t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"svcchk", "S", "E"}, elementIDs(events))
}

func TestApplyIsIdempotent(t *testing.T) {
	tree := newTree(t)
	tr := transition("chk1", models.StateError, t0)

	_, first, err := tree.Apply(tr, t0)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	before, err := tree.Status("", t0)
	require.NoError(t, err)

	res, events, err := tree.Apply(tr, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Empty(t, events)

	after, err := tree.Status("", t0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStaleTransitionIsDiscarded(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk1", models.StateError, t0), t0)
	require.NoError(t, err)

	res, events, err := tree.Apply(transition("chk1", models.StateOk, t0.Add(-time.Minute)), t0)
	require.NoError(t, err)
	assert.Equal(t, ResultStale, res)
	assert.Empty(t, events)
	assert.Equal(t, models.StateError, tree.byID["chk1"].effective)
}

func TestDifferentIdentitiesAreIndependent(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk1", models.StateError, t0), t0)
	require.NoError(t, err)

	other := transition("chk1", models.StateOk, t0.Add(-time.Minute))
	other.AlertName = "other-heartbeat"
	res, _, err := tree.Apply(other, t0)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)
	assert.Equal(t, models.StateOk, tree.byID["chk1"].effective)
}

func TestStaleCheckBecomesError(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk1", models.StateOk, t0), t0)
	require.NoError(t, err)

	// Exactly at the frequency boundary the check is still fresh.
	assert.Empty(t, tree.Refresh(t0.Add(60*time.Second)))

	events := tree.Refresh(t0.Add(61 * time.Second))
	assert.Equal(t, []string{"chk1", "C", "A", "S", "E"}, elementIDs(events))
	assert.Equal(t, t0.Add(60*time.Second), events[0].At, "staleness starts when the validity window ends")
	assert.Equal(t, models.StateError, events[0].NewState)

	status, err := tree.Status("chk1", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, status.Stale)
	assert.Equal(t, models.StateError, status.State)

	// A fresh transition clears staleness.
	_, events, err = tree.Apply(transition("chk1", models.StateOk, t0.Add(70*time.Second)), t0.Add(70*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"chk1", "C", "A", "S", "E"}, elementIDs(events))
	assert.Equal(t, models.StateOk, tree.root.effective)
}

func TestNeverExpiringCheckIsNotStale(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk2", models.StateOk, t0), t0)
	require.NoError(t, err)

	far := t0.Add(365 * 24 * time.Hour)
	for _, ev := range tree.Refresh(far) {
		assert.NotEqual(t, "chk2", ev.ElementID)
	}
	status, err := tree.Status("chk2", far)
	require.NoError(t, err)
	assert.False(t, status.Stale)
	assert.Equal(t, models.StateOk, status.State)
}

func TestSilentCheckBecomesStaleAfterLoad(t *testing.T) {
	tree := newTree(t)

	// chk1 never reported: its window starts when the tree is loaded.
	status, err := tree.Status("chk1", t0.Add(60*time.Second))
	require.NoError(t, err)
	assert.False(t, status.Stale)
	assert.Nil(t, status.LastUpdate)

	events := tree.Refresh(t0.Add(61 * time.Second))
	assert.Equal(t, []string{"chk1", "C", "A", "S", "E"}, elementIDs(events))
	assert.Equal(t, t0.Add(60*time.Second), events[0].At)
	assert.Equal(t, models.StateError, tree.root.effective)
}

func TestSilentCheckCreatedLaterUsesCreateDate(t *testing.T) {
	root := sampleTree()
	// chk1 is declared as created ten minutes after the tree is loaded.
	root.Children[0].Children[0].Children[0].Children[0].CreateDate = t0.Add(10 * time.Minute)
	tree, err := NewTree("env1", root, t0)
	require.NoError(t, err)

	assert.Empty(t, tree.Refresh(t0.Add(5*time.Minute)))
	events := tree.Refresh(t0.Add(11*time.Minute + time.Second))
	require.NotEmpty(t, events)
	assert.Equal(t, "chk1", events[0].ElementID)
	assert.Equal(t, t0.Add(11*time.Minute), events[0].At)
}

func TestEscalationHoldsUntilOk(t *testing.T) {
	tree := newTree(t)
	warn := transition("chk3", models.StateWarning, t0)
	_, _, err := tree.Apply(warn, t0)
	require.NoError(t, err)

	esc := transition("chk3", models.StateError, t0.Add(5*time.Minute))
	esc.AlertName = warn.AlertName + models.EscalatedSuffix
	esc.TriggeredByAlertName = warn.AlertName
	esc.TriggeredByCheckID = "chk3"
	_, events, err := tree.Apply(esc, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"chk3", "C2", "A", "S", "E"}, elementIDs(events))

	// The agent keeps re-sending its Warning: the check stays escalated.
	for i := 6; i <= 30; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		res, events, err := tree.Apply(transition("chk3", models.StateWarning, at), at)
		require.NoError(t, err)
		assert.Equal(t, ResultApplied, res)
		assert.Empty(t, events, "minute %d", i)
	}
	st, err := tree.CheckStatus("C2", "chk3")
	require.NoError(t, err)
	assert.Equal(t, models.StateError, st.State)
	assert.Equal(t, t0.Add(5*time.Minute), st.Since)
	require.NotNil(t, st.Last)
	assert.True(t, st.Last.Escalated())

	// Only recovery clears it; a later Warning is a new episode.
	_, events, err = tree.Apply(transition("chk3", models.StateOk, t0.Add(31*time.Minute)), t0.Add(31*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.StateOk, events[0].NewState)

	_, events, err = tree.Apply(transition("chk3", models.StateWarning, t0.Add(32*time.Minute)), t0.Add(32*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.StateWarning, events[0].NewState)
	assertRollup(t, tree)
}

func TestUnknownElement(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("nope", models.StateError, t0), t0)
	assert.True(t, errors.Is(err, ErrUnknownElement))

	// Components are not leaves.
	tr := transition("", models.StateError, t0)
	tr.ElementID = "C"
	_, _, err = tree.Apply(tr, t0)
	assert.True(t, errors.Is(err, ErrUnknownElement))
}

func TestResolveByComponentAndCheck(t *testing.T) {
	tree := newTree(t)

	tr := transition("chk3", models.StateWarning, t0)
	tr.ElementID = "c2"
	_, events, err := tree.Apply(tr, t0)
	require.NoError(t, err)
	assert.Equal(t, "chk3", events[0].ElementID)

	tr = transition("chk3", models.StateError, t0.Add(time.Second))
	tr.ElementID = "C"
	_, _, err = tree.Apply(tr, t0)
	assert.True(t, errors.Is(err, ErrUnknownElement), "check does not belong to component C")

	byElement := transition("", models.StateError, t0)
	byElement.ElementID = "chk1"
	_, events, err = tree.Apply(byElement, t0)
	require.NoError(t, err)
	assert.Equal(t, "chk1", events[0].ElementID)
}

func TestNewTreeValidation(t *testing.T) {
	tests := []struct {
		name string
		root *models.TreeNode
	}{
		{"nil root", nil},
		{"root is not environment", &models.TreeNode{ElementID: "S", Kind: models.KindService}},
		{"skipped level", &models.TreeNode{ElementID: "E", Kind: models.KindEnvironment, Children: []*models.TreeNode{
			{ElementID: "A", Kind: models.KindAction},
		}}},
		{"duplicate id", &models.TreeNode{ElementID: "E", Kind: models.KindEnvironment, Children: []*models.TreeNode{
			{ElementID: "X", Kind: models.KindService}, {ElementID: "x", Kind: models.KindService},
		}}},
		{"check with children", &models.TreeNode{ElementID: "E", Kind: models.KindEnvironment, Children: []*models.TreeNode{
			{ElementID: "c", Kind: models.KindCheck, Children: []*models.TreeNode{{ElementID: "d", Kind: models.KindCheck}}},
		}}},
		{"missing id", &models.TreeNode{Kind: models.KindEnvironment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTree("env1", tt.root, t0)
			assert.True(t, errors.Is(err, ErrInvalidTree), "got %v", err)
		})
	}
}

func TestInitialStatesRollUp(t *testing.T) {
	root := sampleTree()
	// chk3 starts in Warning.
	root.Children[0].Children[0].Children[1].Children[0].State = models.StateWarning
	// Configured states of inner nodes are ignored.
	root.Children[0].State = models.StateError

	tree, err := NewTree("env1", root, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateWarning, tree.root.effective)
	assertRollup(t, tree)

	status, err := tree.Status("C2", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, status.Links)
}

func TestCheckStatus(t *testing.T) {
	tree := newTree(t)
	_, _, err := tree.Apply(transition("chk1", models.StateWarning, t0), t0)
	require.NoError(t, err)

	st, err := tree.CheckStatus("C", "chk1")
	require.NoError(t, err)
	assert.Equal(t, "chk1", st.ElementID)
	assert.Equal(t, "C", st.ComponentID)
	assert.Equal(t, models.StateWarning, st.State)
	assert.Equal(t, t0, st.Since)
	require.NotNil(t, st.Last)
	assert.Equal(t, "heartbeat", st.Last.AlertName)

	_, err = tree.CheckStatus("C2", "chk1")
	assert.True(t, errors.Is(err, ErrUnknownElement))
}

func TestRollupInvariantUnderRandomUpdates(t *testing.T) {
	tree := newTree(t)
	checks := []string{"chk1", "chk2", "chk3", "svcchk"}
	rnd := rand.New(rand.NewSource(42))
	now := t0

	for i := 0; i < 500; i++ {
		now = now.Add(time.Duration(rnd.Intn(30)) * time.Second)
		tr := transition(checks[rnd.Intn(len(checks))], models.State(rnd.Intn(3)), now.Add(-time.Duration(rnd.Intn(20))*time.Second))
		tr.AlertName = fmt.Sprintf("heartbeat-%d", rnd.Intn(2))
		tree.Refresh(now)
		_, _, err := tree.Apply(tr, now)
		require.NoError(t, err)
		assertRollup(t, tree)
	}
}
