package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"health-service/internal/models"
)

// Result classifies what happened to a transition handed to the engine.
type Result int

const (
	ResultApplied Result = iota
	ResultDuplicate
	ResultStale
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDuplicate:
		return "duplicate"
	case ResultStale:
		return "stale"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownElement is returned when a transition references no check of the tree.
	ErrUnknownElement = errors.New("unknown element")
	// ErrInvalidTree is returned when a tree snapshot violates the tree invariants.
	ErrInvalidTree = errors.New("invalid environment tree")
)

// childKinds lists the structural child kinds allowed under each kind.
// A Check may additionally be attached to any non-Check node.
var childKinds = map[models.NodeKind]models.NodeKind{
	models.KindEnvironment: models.KindService,
	models.KindService:     models.KindAction,
	models.KindAction:      models.KindComponent,
	models.KindComponent:   models.KindCheck,
}

type node struct {
	id         string
	name       string
	kind       models.NodeKind
	parent     *node
	children   []*node
	links      []string
	createDate time.Time

	// Check variant only.
	state      models.State
	frequency  int
	lastUpdate time.Time
	watchFrom  time.Time
	applied    map[models.Identity]time.Time
	last       *models.StateTransition

	// escalated holds the check at Error until an Ok transition arrives.
	escalated bool

	effective models.State
	since     time.Time
}

func (n *node) isCheck() bool {
	return n.kind == models.KindCheck
}

// staleAt returns the instant after which a check without new transitions is
// stale. A check that never reported is measured from watchFrom.
func (n *node) staleAt() (time.Time, bool) {
	if !n.isCheck() || n.frequency <= 0 {
		return time.Time{}, false
	}
	base := n.lastUpdate
	if base.IsZero() {
		base = n.watchFrom
	}
	return base.Add(time.Duration(n.frequency) * time.Second), true
}

func (n *node) stale(now time.Time) bool {
	at, ok := n.staleAt()
	return ok && now.After(at)
}

// evaluate computes the effective state of n from its own data (checks) or
// from the cached effective states of its children.
func (n *node) evaluate(now time.Time) models.State {
	if n.isCheck() {
		if n.stale(now) {
			return models.StateError
		}
		return n.state
	}
	s := models.StateOk
	for _, c := range n.children {
		s = models.MaxState(s, c.effective)
	}
	return s
}

// Tree is the live health-state tree of one environment. It is not safe for
// concurrent use; the engine confines each tree to its environment worker.
type Tree struct {
	envID  string
	root   *node
	byID   map[string]*node
	checks []*node
}

func key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NewTree builds a tree from a configuration snapshot.
func NewTree(envID string, root *models.TreeNode, now time.Time) (*Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: environment %s has no root", ErrInvalidTree, envID)
	}
	if root.Kind != models.KindEnvironment {
		return nil, fmt.Errorf("%w: root %s is a %s", ErrInvalidTree, root.ElementID, root.Kind)
	}

	t := &Tree{envID: envID, byID: make(map[string]*node)}
	r, err := t.build(root, nil, now)
	if err != nil {
		return nil, err
	}
	t.root = r
	return t, nil
}

func (t *Tree) build(src *models.TreeNode, parent *node, now time.Time) (*node, error) {
	if src.ElementID == "" {
		return nil, fmt.Errorf("%w: node without elementId", ErrInvalidTree)
	}
	k := key(src.ElementID)
	if _, dup := t.byID[k]; dup {
		return nil, fmt.Errorf("%w: duplicate elementId %s", ErrInvalidTree, src.ElementID)
	}
	if parent != nil && src.Kind != models.KindCheck && childKinds[parent.kind] != src.Kind {
		return nil, fmt.Errorf("%w: %s %s cannot be a child of %s %s",
			ErrInvalidTree, src.Kind, src.ElementID, parent.kind, parent.id)
	}
	if src.Kind == models.KindCheck && len(src.Children) > 0 {
		return nil, fmt.Errorf("%w: check %s has children", ErrInvalidTree, src.ElementID)
	}

	n := &node{
		id:         src.ElementID,
		name:       src.Name,
		kind:       src.Kind,
		parent:     parent,
		links:      src.Links,
		createDate: src.CreateDate,
		since:      now,
	}
	if !src.LastUpdate.IsZero() {
		n.since = src.LastUpdate
	}
	t.byID[k] = n

	if n.isCheck() {
		n.state = src.State
		n.effective = src.State
		n.frequency = src.Frequency
		n.lastUpdate = src.LastUpdate
		n.watchFrom = now
		if src.CreateDate.After(now) {
			n.watchFrom = src.CreateDate
		}
		n.applied = make(map[models.Identity]time.Time)
		t.checks = append(t.checks, n)
		return n, nil
	}

	for _, c := range src.Children {
		child, err := t.build(c, n, now)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	// Configured states of inner nodes are ignored; they are a rollup.
	n.effective = n.evaluate(now)
	return n, nil
}

// resolve finds the check a transition targets: checkId first, then elementId.
func (t *Tree) resolve(tr models.StateTransition) (*node, error) {
	if tr.CheckID != "" {
		if n, ok := t.byID[key(tr.CheckID)]; ok && n.isCheck() {
			if tr.ElementID == "" || key(tr.ElementID) == key(n.id) ||
				(n.parent != nil && key(tr.ElementID) == key(n.parent.id)) {
				return n, nil
			}
		}
	}
	if n, ok := t.byID[key(tr.ElementID)]; ok && n.isCheck() {
		return n, nil
	}
	return nil, fmt.Errorf("%w: element %q check %q in environment %s",
		ErrUnknownElement, tr.ElementID, tr.CheckID, t.envID)
}

// Apply applies a transition to its check and rolls the change up to the root.
// Duplicate and stale transitions leave the tree untouched.
func (t *Tree) Apply(tr models.StateTransition, now time.Time) (Result, []models.StateChanged, error) {
	leaf, err := t.resolve(tr)
	if err != nil {
		return ResultApplied, nil, err
	}

	id := tr.Identity()
	if prev, ok := leaf.applied[id]; ok {
		if tr.SourceTimestamp.Equal(prev) {
			return ResultDuplicate, nil, nil
		}
		if tr.SourceTimestamp.Before(prev) {
			return ResultStale, nil, nil
		}
	}

	leaf.applied[id] = tr.SourceTimestamp
	if tr.SourceTimestamp.After(leaf.lastUpdate) {
		leaf.lastUpdate = tr.SourceTimestamp
	}
	switch {
	case tr.Escalated():
		leaf.escalated = true
	case tr.State == models.StateOk:
		leaf.escalated = false
	case leaf.escalated:
		// Still failing: the escalation stays in force.
		return ResultApplied, nil, nil
	}
	leaf.state = tr.State
	cause := tr
	leaf.last = &cause

	return ResultApplied, t.propagate(leaf, now, tr.SourceTimestamp, tr), nil
}

// Refresh re-evaluates check staleness and rolls up every check whose
// effective state changed since it was last propagated.
func (t *Tree) Refresh(now time.Time) []models.StateChanged {
	var events []models.StateChanged
	for _, c := range t.checks {
		if c.evaluate(now) == c.effective {
			continue
		}
		at := now
		if staleAt, ok := c.staleAt(); ok && c.stale(now) {
			at = staleAt
		}
		cause := models.StateTransition{
			EnvironmentID:   t.envID,
			ElementID:       c.parentID(),
			CheckID:         c.id,
			State:           models.StateError,
			SourceTimestamp: at,
			TimeGenerated:   now,
			Description:     fmt.Sprintf("no update within %d seconds", c.frequency),
		}
		if c.last != nil {
			cause.AlertName = c.last.AlertName
		}
		events = append(events, t.propagate(c, now, at, cause)...)
	}
	return events
}

// propagate recomputes start and its ancestors bottom-up, stopping at the
// first node whose effective state does not change.
func (t *Tree) propagate(start *node, now, at time.Time, cause models.StateTransition) []models.StateChanged {
	var events []models.StateChanged
	for n := start; n != nil; n = n.parent {
		next := n.evaluate(now)
		if next == n.effective {
			break
		}
		changedAt := at
		if changedAt.Before(n.since) {
			changedAt = n.since
		}
		events = append(events, models.StateChanged{
			EnvironmentID: t.envID,
			ElementID:     n.id,
			Name:          n.name,
			Kind:          n.kind,
			OldState:      n.effective,
			NewState:      next,
			At:            changedAt,
			Cause:         cause,
		})
		n.effective = next
		n.since = changedAt
	}
	return events
}

func (n *node) parentID() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.id
}

// Status returns the read view of the subtree rooted at elementID, or of the
// whole tree when elementID is empty.
func (t *Tree) Status(elementID string, now time.Time) (*models.NodeStatus, error) {
	n := t.root
	if elementID != "" {
		var ok bool
		if n, ok = t.byID[key(elementID)]; !ok {
			return nil, fmt.Errorf("%w: element %q in environment %s", ErrUnknownElement, elementID, t.envID)
		}
	}
	return n.status(now), nil
}

func (n *node) status(now time.Time) *models.NodeStatus {
	s := &models.NodeStatus{
		ElementID: n.id,
		Name:      n.name,
		Kind:      n.kind,
		State:     n.effective,
		Since:     n.since,
		Links:     n.links,
		Stale:     n.stale(now),
	}
	if n.isCheck() && !n.lastUpdate.IsZero() {
		lu := n.lastUpdate
		s.LastUpdate = &lu
	}
	for _, c := range n.children {
		s.Children = append(s.Children, c.status(now))
	}
	return s
}

// CheckStatus describes the check checkID, optionally constrained to componentID.
func (t *Tree) CheckStatus(componentID, checkID string) (models.CheckStatus, error) {
	n, err := t.resolve(models.StateTransition{ElementID: componentID, CheckID: checkID})
	if err != nil {
		return models.CheckStatus{}, err
	}
	st := models.CheckStatus{
		EnvironmentID: t.envID,
		ElementID:     n.id,
		ComponentID:   n.parentID(),
		State:         n.effective,
		Since:         n.since,
	}
	if n.last != nil {
		last := *n.last
		st.Last = &last
	}
	return st, nil
}
