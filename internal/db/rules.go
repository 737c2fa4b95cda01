package db

import (
	"context"
	"fmt"

	"health-service/internal/models"
)

// GetActiveIgnoreRules returns the ignore rules of an environment that have not expired.
func (d *DB) GetActiveIgnoreRules(ctx context.Context, envID string) ([]models.AlertIgnoreRule, error) {
	query := `
	SELECT
		environment_subscription_id, name, creation_date, expiration_date,
		COALESCE(alert_name, ''), COALESCE(component_id, ''), COALESCE(check_id, ''), COALESCE(description, ''),
		COALESCE(custom_field1, ''), COALESCE(custom_field2, ''), COALESCE(custom_field3, ''),
		COALESCE(custom_field4, ''), COALESCE(custom_field5, ''), COALESCE(state, '')
	FROM alert_ignore_rules
	WHERE LOWER(environment_subscription_id) = LOWER($1) AND expiration_date > NOW()`

	rows, err := d.Pool.Query(ctx, query, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ignore rules of %s: %w", envID, err)
	}
	defer rows.Close()

	var out []models.AlertIgnoreRule
	for rows.Next() {
		var r models.AlertIgnoreRule
		c := &r.IgnoreCondition
		if err := rows.Scan(
			&r.EnvironmentSubscriptionID, &r.Name, &r.CreationDate, &r.ExpirationDate,
			&c.AlertName, &c.ComponentID, &c.CheckID, &c.Description,
			&c.CustomField1, &c.CustomField2, &c.CustomField3, &c.CustomField4, &c.CustomField5, &c.State,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ignore rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetActiveNotificationRules returns the active notification rules of an environment.
func (d *DB) GetActiveNotificationRules(ctx context.Context, envID string) ([]models.NotificationRule, error) {
	query := `
	SELECT
		id, environment_subscription_id, levels, states, email_addresses, webhook_url,
		telegram_chat_id, is_active, notification_interval_seconds
	FROM notification_rules
	WHERE LOWER(environment_subscription_id) = LOWER($1) AND is_active`

	rows, err := d.Pool.Query(ctx, query, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification rules of %s: %w", envID, err)
	}
	defer rows.Close()

	var out []models.NotificationRule
	for rows.Next() {
		var r models.NotificationRule
		var levels, states []string
		if err := rows.Scan(
			&r.ID, &r.EnvironmentSubscriptionID, &levels, &states, &r.EmailAddresses, &r.WebhookURL,
			&r.TelegramChatID, &r.IsActive, &r.NotificationIntervalSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification rule: %w", err)
		}
		for _, l := range levels {
			k, err := models.ParseNodeKind(l)
			if err != nil {
				return nil, fmt.Errorf("notification rule %s: %w", r.ID, err)
			}
			r.Levels = append(r.Levels, k)
		}
		for _, s := range states {
			st, err := models.ParseState(s)
			if err != nil {
				return nil, fmt.Errorf("notification rule %s: %w", r.ID, err)
			}
			r.States = append(r.States, st)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetActiveStateIncreaseRules returns the active state-increase rules of an environment.
func (d *DB) GetActiveStateIncreaseRules(ctx context.Context, envID string) ([]models.StateIncreaseRule, error) {
	query := `
	SELECT id, environment_subscription_id, check_id, component_id, alert_name, trigger_time_seconds, is_active
	FROM state_increase_rules
	WHERE LOWER(environment_subscription_id) = LOWER($1) AND is_active`

	rows, err := d.Pool.Query(ctx, query, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state increase rules of %s: %w", envID, err)
	}
	defer rows.Close()

	var out []models.StateIncreaseRule
	for rows.Next() {
		var r models.StateIncreaseRule
		if err := rows.Scan(&r.ID, &r.EnvironmentSubscriptionID, &r.CheckID, &r.ComponentID,
			&r.AlertName, &r.TriggerTimeSeconds, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan state increase rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
