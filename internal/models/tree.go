package models

import "time"

// TreeNode is the configuration snapshot of one node of an environment tree.
type TreeNode struct {
	ElementID  string      `json:"elementId" yaml:"elementId"`
	Name       string      `json:"name" yaml:"name"`
	Kind       NodeKind    `json:"kind" yaml:"kind"`
	CreateDate time.Time   `json:"createDate" yaml:"createDate"`
	State      State       `json:"state" yaml:"state"`
	Frequency  int         `json:"frequency,omitempty" yaml:"frequency"`
	LastUpdate time.Time   `json:"lastUpdate,omitempty" yaml:"lastUpdate"`
	Links      []string    `json:"links,omitempty" yaml:"links"`
	Children   []*TreeNode `json:"children,omitempty" yaml:"children"`
}

// NodeStatus is the read view of a node and its subtree.
type NodeStatus struct {
	ElementID  string        `json:"elementId"`
	Name       string        `json:"name"`
	Kind       NodeKind      `json:"kind"`
	State      State         `json:"state"`
	Since      time.Time     `json:"since"`
	LastUpdate *time.Time    `json:"lastUpdate,omitempty"`
	Stale      bool          `json:"stale,omitempty"`
	Links      []string      `json:"links,omitempty"`
	Children   []*NodeStatus `json:"children,omitempty"`
}

// CheckStatus describes a single check as seen by the escalation sweep.
type CheckStatus struct {
	EnvironmentID string
	ElementID     string
	ComponentID   string
	State         State
	Since         time.Time
	Last          *StateTransition
}

// StateChanged is emitted for every node whose effective state changed.
type StateChanged struct {
	EnvironmentID string          `json:"environmentId"`
	ElementID     string          `json:"elementId"`
	Name          string          `json:"name"`
	Kind          NodeKind        `json:"kind"`
	OldState      State           `json:"oldState"`
	NewState      State           `json:"newState"`
	At            time.Time       `json:"at"`
	Cause         StateTransition `json:"cause"`
}

// IsResolution reports whether the change clears a previously alerting node.
func (e StateChanged) IsResolution() bool {
	return e.NewState == StateOk && e.OldState != StateOk
}

// StateTransitionHistory is one interval of constant effective state of an element.
// A nil EndDate marks the open (current) interval.
type StateTransitionHistory struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environmentId"`
	ElementID     string     `json:"elementId"`
	ElementType   NodeKind   `json:"elementType"`
	State         State      `json:"state"`
	StartDate     time.Time  `json:"startDate"`
	EndDate       *time.Time `json:"endDate,omitempty"`
}
