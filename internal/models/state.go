package models

import (
	"fmt"
	"strings"
)

// State is the health of a tree node. States are totally ordered: Ok < Warning < Error.
type State int

const (
	StateOk State = iota
	StateWarning
	StateError
)

var stateNames = [...]string{"Ok", "Warning", "Error"}

func (s State) String() string {
	if s < StateOk || s > StateError {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState parses a state name case-insensitively.
func ParseState(v string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return State(i), nil
		}
	}
	return StateOk, fmt.Errorf("invalid state %q", v)
}

// MaxState returns the more severe of a and b.
func MaxState(a, b State) State {
	if b > a {
		return b
	}
	return a
}

func (s State) MarshalText() ([]byte, error) {
	if s < StateOk || s > StateError {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(data []byte) error {
	parsed, err := ParseState(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NodeKind tags the variant of an environment tree node.
type NodeKind int

const (
	KindEnvironment NodeKind = iota
	KindService
	KindAction
	KindComponent
	KindCheck
)

var kindNames = [...]string{"Environment", "Service", "Action", "Component", "Check"}

func (k NodeKind) String() string {
	if k < KindEnvironment || k > KindCheck {
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseNodeKind parses a node kind name case-insensitively.
func ParseNodeKind(v string) (NodeKind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return NodeKind(i), nil
		}
	}
	return KindEnvironment, fmt.Errorf("invalid node kind %q", v)
}

func (k NodeKind) MarshalText() ([]byte, error) {
	if k < KindEnvironment || k > KindCheck {
		return nil, fmt.Errorf("invalid node kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *NodeKind) UnmarshalText(data []byte) error {
	parsed, err := ParseNodeKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ProgressState is the operator-set handling progress of a transition.
type ProgressState int

const (
	ProgressNone ProgressState = iota
	ProgressOpen
	ProgressInProgress
	ProgressDone
)

var progressNames = [...]string{"None", "Open", "InProgress", "Done"}

func (p ProgressState) String() string {
	if p < ProgressNone || p > ProgressDone {
		return fmt.Sprintf("ProgressState(%d)", int(p))
	}
	return progressNames[p]
}

func (p ProgressState) MarshalText() ([]byte, error) {
	if p < ProgressNone || p > ProgressDone {
		return nil, fmt.Errorf("invalid progress state %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *ProgressState) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = ProgressNone
		return nil
	}
	for i, name := range progressNames {
		if strings.EqualFold(string(data), name) {
			*p = ProgressState(i)
			return nil
		}
	}
	return fmt.Errorf("invalid progress state %q", string(data))
}
