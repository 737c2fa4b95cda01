package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-service/internal/models"
)

var (
	now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src = time.Date(2024, 3, 1, 11, 59, 30, 0, time.UTC)
)

func TestNormalizeFillsGeneratedFields(t *testing.T) {
	a := models.Alert{
		AlertName:       "cpu",
		CheckID:         "chk1",
		ComponentID:     "comp1",
		SubscriptionID:  "env1",
		State:           models.StateWarning,
		SourceTimestamp: src,
		CustomField3:    "node-7",
	}

	tr, err := Normalize(a, now)
	require.NoError(t, err)

	_, perr := uuid.Parse(tr.RecordID)
	assert.NoError(t, perr)
	assert.Equal(t, "env1", tr.EnvironmentID)
	assert.Equal(t, "comp1", tr.ElementID, "componentId is used when elementId is empty")
	assert.Equal(t, "chk1", tr.CheckID)
	assert.Equal(t, models.StateWarning, tr.State)
	assert.Equal(t, now, tr.TimeGenerated)
	assert.Equal(t, src, tr.SourceTimestamp)
	assert.Equal(t, models.ProgressNone, tr.ProgressState)
	assert.False(t, tr.IsSyncedToDatabase)
	assert.Equal(t, "node-7", tr.CustomField3)
}

func TestNormalizeKeepsRecordID(t *testing.T) {
	a := models.Alert{RecordID: "rec-1", ElementID: "chk1", SubscriptionID: "env1", SourceTimestamp: src}

	tr, err := Normalize(a, now)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", tr.RecordID)
	assert.Equal(t, "chk1", tr.ElementID)
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name  string
		alert models.Alert
		field string
	}{
		{"missing subscription", models.Alert{ElementID: "e", SourceTimestamp: src}, "subscriptionId"},
		{"missing element and check", models.Alert{SubscriptionID: "env", SourceTimestamp: src}, "elementId or checkId"},
		{"missing timestamp", models.Alert{SubscriptionID: "env", CheckID: "c"}, "sourceTimestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.alert, now)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestIdentityIsCaseInsensitive(t *testing.T) {
	a, err := Normalize(models.Alert{ElementID: "Comp", CheckID: "CHK", AlertName: "Disk", SubscriptionID: "e", SourceTimestamp: src}, now)
	require.NoError(t, err)
	b, err := Normalize(models.Alert{ElementID: "comp", CheckID: "chk", AlertName: "disk", SubscriptionID: "e", SourceTimestamp: src}, now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, a.Identity(), b.Identity())
	assert.True(t, a.SameEvent(b))
}
