package db

import (
	"context"
	"fmt"
	"time"

	"health-service/internal/models"
)

// AppendStateTransitionHistory inserts an open history row.
func (d *DB) AppendStateTransitionHistory(ctx context.Context, row models.StateTransitionHistory) error {
	query := `
	INSERT INTO state_transition_history (id, environment_id, element_id, element_type, state, start_date, end_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := d.Pool.Exec(ctx, query,
		row.ID,
		row.EnvironmentID,
		row.ElementID,
		row.ElementType.String(),
		row.State.String(),
		row.StartDate,
		row.EndDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// CloseOpenHistoryRow sets the end date of the element's open rows. The end
// is never placed before a row's start.
func (d *DB) CloseOpenHistoryRow(ctx context.Context, envID, elementID string, endDate time.Time) error {
	query := `
	UPDATE state_transition_history
	SET end_date = GREATEST($3, start_date)
	WHERE environment_id = $1 AND LOWER(element_id) = LOWER($2) AND end_date IS NULL`

	if _, err := d.Pool.Exec(ctx, query, envID, elementID, endDate); err != nil {
		return fmt.Errorf("failed to close history row of %s: %w", elementID, err)
	}
	return nil
}

// QueryHistory returns the element's rows overlapping [from, to], oldest first.
func (d *DB) QueryHistory(ctx context.Context, envID, elementID string, from, to time.Time) ([]models.StateTransitionHistory, error) {
	query := `
	SELECT id, environment_id, element_id, element_type, state, start_date, end_date
	FROM state_transition_history
	WHERE environment_id = $1 AND LOWER(element_id) = LOWER($2)
		AND start_date < $4 AND (end_date IS NULL OR end_date > $3)
	ORDER BY start_date`

	rows, err := d.Pool.Query(ctx, query, envID, elementID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of %s: %w", elementID, err)
	}
	defer rows.Close()

	var out []models.StateTransitionHistory
	for rows.Next() {
		row, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// OpenHistoryRow returns the element's current open row, or nil.
func (d *DB) OpenHistoryRow(ctx context.Context, envID, elementID string) (*models.StateTransitionHistory, error) {
	query := `
	SELECT id, environment_id, element_id, element_type, state, start_date, end_date
	FROM state_transition_history
	WHERE environment_id = $1 AND LOWER(element_id) = LOWER($2) AND end_date IS NULL
	ORDER BY start_date DESC
	LIMIT 1`

	rows, err := d.Pool.Query(ctx, query, envID, elementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open history row of %s: %w", elementID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(s scanner) (models.StateTransitionHistory, error) {
	var row models.StateTransitionHistory
	var kind, state string
	if err := s.Scan(&row.ID, &row.EnvironmentID, &row.ElementID, &kind, &state, &row.StartDate, &row.EndDate); err != nil {
		return row, fmt.Errorf("failed to scan history row: %w", err)
	}
	var err error
	if row.ElementType, err = models.ParseNodeKind(kind); err != nil {
		return row, fmt.Errorf("history row %s: %w", row.ID, err)
	}
	if row.State, err = models.ParseState(state); err != nil {
		return row, fmt.Errorf("history row %s: %w", row.ID, err)
	}
	return row, nil
}
