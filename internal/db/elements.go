package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"health-service/internal/models"
)

// ListEnvironments returns every configured environment id.
func (d *DB) ListEnvironments(ctx context.Context) ([]string, error) {
	rows, err := d.Pool.Query(ctx, `SELECT environment_id FROM environments ORDER BY environment_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type elementRow struct {
	ElementID  string
	ParentID   *string
	Kind       string
	Name       string
	CreateDate time.Time
	State      string
	Frequency  int
	LastUpdate *time.Time
}

// GetEnvironmentTree loads the element tree of an environment.
func (d *DB) GetEnvironmentTree(ctx context.Context, envID string) (*models.TreeNode, error) {
	query := `
	SELECT element_id, parent_id, kind, name, create_date, state, frequency, last_update
	FROM elements
	WHERE environment_id = $1
	ORDER BY position, element_id`

	rows, err := d.Pool.Query(ctx, query, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements of %s: %w", envID, err)
	}
	defer rows.Close()

	var elements []elementRow
	for rows.Next() {
		var r elementRow
		if err := rows.Scan(&r.ElementID, &r.ParentID, &r.Kind, &r.Name, &r.CreateDate, &r.State, &r.Frequency, &r.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		elements = append(elements, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read elements of %s: %w", envID, err)
	}

	links, err := d.actionComponents(ctx, envID)
	if err != nil {
		return nil, err
	}
	return buildTree(envID, elements, links)
}

// actionComponents maps a component id to the actions that reference it
// besides its structural parent.
func (d *DB) actionComponents(ctx context.Context, envID string) (map[string][]string, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT action_id, component_id FROM action_components WHERE environment_id = $1 ORDER BY action_id`, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action components of %s: %w", envID, err)
	}
	defer rows.Close()

	links := make(map[string][]string)
	for rows.Next() {
		var actionID, componentID string
		if err := rows.Scan(&actionID, &componentID); err != nil {
			return nil, fmt.Errorf("failed to scan action component: %w", err)
		}
		k := strings.ToLower(componentID)
		links[k] = append(links[k], actionID)
	}
	return links, rows.Err()
}

// buildTree assembles flat element rows into a tree. Exactly one row must
// have no parent.
func buildTree(envID string, elements []elementRow, links map[string][]string) (*models.TreeNode, error) {
	nodes := make(map[string]*models.TreeNode, len(elements))
	for _, r := range elements {
		kind, err := models.ParseNodeKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("element %s of %s: %w", r.ElementID, envID, err)
		}
		state, err := models.ParseState(r.State)
		if err != nil {
			return nil, fmt.Errorf("element %s of %s: %w", r.ElementID, envID, err)
		}
		n := &models.TreeNode{
			ElementID:  r.ElementID,
			Name:       r.Name,
			Kind:       kind,
			CreateDate: r.CreateDate,
			State:      state,
			Frequency:  r.Frequency,
		}
		if r.LastUpdate != nil {
			n.LastUpdate = *r.LastUpdate
		}
		if kind == models.KindComponent {
			n.Links = links[strings.ToLower(r.ElementID)]
		}
		nodes[strings.ToLower(r.ElementID)] = n
	}

	var root *models.TreeNode
	for _, r := range elements {
		n := nodes[strings.ToLower(r.ElementID)]
		if r.ParentID == nil || *r.ParentID == "" {
			if root != nil {
				return nil, fmt.Errorf("environment %s has more than one root element", envID)
			}
			root = n
			continue
		}
		parent, ok := nodes[strings.ToLower(*r.ParentID)]
		if !ok {
			return nil, fmt.Errorf("element %s of %s references unknown parent %s", r.ElementID, envID, *r.ParentID)
		}
		parent.Children = append(parent.Children, n)
	}
	if root == nil {
		return nil, fmt.Errorf("environment %s has no root element", envID)
	}
	return root, nil
}
