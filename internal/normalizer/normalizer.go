// Package normalizer turns raw alerts into canonical state transitions.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"health-service/internal/models"
)

// ValidationError reports an alert that is missing an identity field.
type ValidationError struct {
	Field   string
	AlertID string
}

func (e *ValidationError) Error() string {
	if e.AlertID == "" {
		return fmt.Sprintf("invalid alert: missing %s", e.Field)
	}
	return fmt.Sprintf("invalid alert %s: missing %s", e.AlertID, e.Field)
}

// Normalize converts an Alert into a StateTransition generated at now.
func Normalize(a models.Alert, now time.Time) (models.StateTransition, error) {
	elementID := strings.TrimSpace(a.ElementID)
	if elementID == "" {
		elementID = strings.TrimSpace(a.ComponentID)
	}
	checkID := strings.TrimSpace(a.CheckID)

	switch {
	case strings.TrimSpace(a.SubscriptionID) == "":
		return models.StateTransition{}, &ValidationError{Field: "subscriptionId", AlertID: a.RecordID}
	case elementID == "" && checkID == "":
		return models.StateTransition{}, &ValidationError{Field: "elementId or checkId", AlertID: a.RecordID}
	case a.SourceTimestamp.IsZero():
		return models.StateTransition{}, &ValidationError{Field: "sourceTimestamp", AlertID: a.RecordID}
	}

	recordID := a.RecordID
	if recordID == "" {
		recordID = uuid.New().String()
	}

	return models.StateTransition{
		RecordID:             recordID,
		EnvironmentID:        strings.TrimSpace(a.SubscriptionID),
		ElementID:            elementID,
		CheckID:              checkID,
		AlertName:            strings.TrimSpace(a.AlertName),
		State:                a.State,
		SourceTimestamp:      a.SourceTimestamp.UTC(),
		TimeGenerated:        now.UTC(),
		Description:          a.Description,
		CustomField1:         a.CustomField1,
		CustomField2:         a.CustomField2,
		CustomField3:         a.CustomField3,
		CustomField4:         a.CustomField4,
		CustomField5:         a.CustomField5,
		TriggeredByCheckID:   a.TriggeredByCheckID,
		TriggeredByElementID: a.TriggeredByElementID,
		TriggeredByAlertName: a.TriggeredByAlertName,
		ProgressState:        models.ProgressNone,
	}, nil
}
