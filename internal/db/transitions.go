package db

import (
	"context"
	"fmt"

	"health-service/internal/models"
)

// SaveStateTransition stores an accepted transition. Redelivered records
// are ignored.
func (d *DB) SaveStateTransition(ctx context.Context, t models.StateTransition) error {
	query := `
	INSERT INTO state_transitions (
		record_id, environment_id, element_id, check_id, alert_name, state, source_timestamp, time_generated,
		description, custom_field1, custom_field2, custom_field3, custom_field4, custom_field5,
		triggered_by_check_id, triggered_by_element_id, triggered_by_alert_name, progress_state, is_synced_to_database
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, TRUE
	)
	ON CONFLICT (record_id) DO NOTHING`

	_, err := d.Pool.Exec(ctx, query,
		t.RecordID,
		t.EnvironmentID,
		t.ElementID,
		t.CheckID,
		t.AlertName,
		t.State.String(),
		t.SourceTimestamp,
		t.TimeGenerated,
		t.Description,
		t.CustomField1,
		t.CustomField2,
		t.CustomField3,
		t.CustomField4,
		t.CustomField5,
		t.TriggeredByCheckID,
		t.TriggeredByElementID,
		t.TriggeredByAlertName,
		t.ProgressState.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert state transition %s: %w", t.RecordID, err)
	}
	return nil
}
