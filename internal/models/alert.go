package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Alert is a raw health-check alert as delivered by the monitoring agents.
type Alert struct {
	RecordID             string    `json:"recordId,omitempty"`
	AlertName            string    `json:"alertName"`
	CheckID              string    `json:"checkId"`
	ComponentID          string    `json:"componentId,omitempty"`
	ElementID            string    `json:"elementId,omitempty"`
	SubscriptionID       string    `json:"subscriptionId"`
	State                State     `json:"state"`
	SourceTimestamp      time.Time `json:"sourceTimestamp"`
	Description          string    `json:"description,omitempty"`
	CustomField1         string    `json:"customField1,omitempty"`
	CustomField2         string    `json:"customField2,omitempty"`
	CustomField3         string    `json:"customField3,omitempty"`
	CustomField4         string    `json:"customField4,omitempty"`
	CustomField5         string    `json:"customField5,omitempty"`
	TriggeredByCheckID   string    `json:"triggeredByCheckId,omitempty"`
	TriggeredByElementID string    `json:"triggeredByElementId,omitempty"`
	TriggeredByAlertName string    `json:"triggeredByAlertName,omitempty"`
}

// Identity is the business key of a transition: (elementId, checkId, alertName).
type Identity struct {
	ElementID string
	CheckID   string
	AlertName string
}

func (i Identity) String() string {
	return i.ElementID + "/" + i.CheckID + "/" + i.AlertName
}

// StateTransition is the canonical, normalized form of an Alert.
type StateTransition struct {
	RecordID             string        `json:"recordId"`
	EnvironmentID        string        `json:"environmentId"`
	ElementID            string        `json:"elementId"`
	CheckID              string        `json:"checkId"`
	AlertName            string        `json:"alertName"`
	State                State         `json:"state"`
	SourceTimestamp      time.Time     `json:"sourceTimestamp"`
	TimeGenerated        time.Time     `json:"timeGenerated"`
	Description          string        `json:"description,omitempty"`
	CustomField1         string        `json:"customField1,omitempty"`
	CustomField2         string        `json:"customField2,omitempty"`
	CustomField3         string        `json:"customField3,omitempty"`
	CustomField4         string        `json:"customField4,omitempty"`
	CustomField5         string        `json:"customField5,omitempty"`
	TriggeredByCheckID   string        `json:"triggeredByCheckId,omitempty"`
	TriggeredByElementID string        `json:"triggeredByElementId,omitempty"`
	TriggeredByAlertName string        `json:"triggeredByAlertName,omitempty"`
	ProgressState        ProgressState `json:"progressState"`
	IsSyncedToDatabase   bool          `json:"isSyncedToDatabase"`
}

// Identity returns the supersession key of the transition.
func (t StateTransition) Identity() Identity {
	return Identity{
		ElementID: strings.ToLower(t.ElementID),
		CheckID:   strings.ToLower(t.CheckID),
		AlertName: strings.ToLower(t.AlertName),
	}
}

// EscalatedSuffix is appended to the alert name of synthesized escalations.
const EscalatedSuffix = " (escalated)"

// Escalated reports whether t was synthesized by a state-increase rule.
func (t StateTransition) Escalated() bool {
	return t.TriggeredByAlertName != "" && strings.HasSuffix(t.AlertName, EscalatedSuffix)
}

// SameEvent reports whether t and o describe the same alert occurrence.
func (t StateTransition) SameEvent(o StateTransition) bool {
	return t.Identity() == o.Identity() && t.SourceTimestamp.Equal(o.SourceTimestamp)
}

// DecodeAlerts parses a payload holding either one alert object or an array of alerts.
func DecodeAlerts(payload []byte) ([]Alert, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var alerts []Alert
		if err := json.Unmarshal(trimmed, &alerts); err != nil {
			return nil, fmt.Errorf("decode alert array: %w", err)
		}
		return alerts, nil
	}
	var a Alert
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	return []Alert{a}, nil
}
