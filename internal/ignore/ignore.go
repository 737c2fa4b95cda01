// Package ignore evaluates alert ignore rules against state transitions.
package ignore

import (
	"strings"
	"time"

	"health-service/internal/models"
)

// ShouldIgnore reports whether at least one active rule of the transition's
// environment matches it.
func ShouldIgnore(t models.StateTransition, rules []models.AlertIgnoreRule, now time.Time) bool {
	_, ok := Match(t, rules, now)
	return ok
}

// Match returns the first active rule matching t.
func Match(t models.StateTransition, rules []models.AlertIgnoreRule, now time.Time) (*models.AlertIgnoreRule, bool) {
	for i := range rules {
		r := &rules[i]
		if !equal(r.EnvironmentSubscriptionID, t.EnvironmentID) || !r.IsActive(now) {
			continue
		}
		if matches(r.IgnoreCondition, t) {
			return r, true
		}
	}
	return nil, false
}

func matches(c models.IgnoreCondition, t models.StateTransition) bool {
	return field(c.AlertName, t.AlertName) &&
		field(c.ComponentID, t.ElementID) &&
		field(c.CheckID, t.CheckID) &&
		field(c.Description, t.Description) &&
		field(c.CustomField1, t.CustomField1) &&
		field(c.CustomField2, t.CustomField2) &&
		field(c.CustomField3, t.CustomField3) &&
		field(c.CustomField4, t.CustomField4) &&
		field(c.CustomField5, t.CustomField5) &&
		field(c.State, t.State.String())
}

// field treats an empty condition value as a wildcard.
func field(cond, value string) bool {
	if strings.TrimSpace(cond) == "" {
		return true
	}
	return equal(cond, value)
}

func equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
