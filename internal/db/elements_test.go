package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-service/internal/models"
)

func strPtr(s string) *string { return &s }

func TestBuildTree(t *testing.T) {
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []elementRow{
		{ElementID: "E", Kind: "Environment", State: "Ok"},
		{ElementID: "S", ParentID: strPtr("E"), Kind: "Service", State: "Ok"},
		{ElementID: "A", ParentID: strPtr("s"), Kind: "Action", State: "Ok"},
		{ElementID: "C", ParentID: strPtr("A"), Kind: "Component", State: "Ok"},
		{ElementID: "chk", ParentID: strPtr("C"), Kind: "Check", State: "Warning", Frequency: 60, LastUpdate: &last},
	}
	links := map[string][]string{"c": {"A2"}}

	root, err := buildTree("prod", rows, links)
	require.NoError(t, err)
	assert.Equal(t, "E", root.ElementID)
	require.Len(t, root.Children, 1)

	comp := root.Children[0].Children[0].Children[0]
	assert.Equal(t, models.KindComponent, comp.Kind)
	assert.Equal(t, []string{"A2"}, comp.Links)

	chk := comp.Children[0]
	assert.Equal(t, models.StateWarning, chk.State)
	assert.Equal(t, 60, chk.Frequency)
	assert.Equal(t, last, chk.LastUpdate)
}

func TestBuildTreeErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []elementRow
	}{
		{"no root", []elementRow{{ElementID: "S", ParentID: strPtr("E"), Kind: "Service", State: "Ok"}}},
		{"two roots", []elementRow{
			{ElementID: "E", Kind: "Environment", State: "Ok"},
			{ElementID: "F", Kind: "Environment", State: "Ok"},
		}},
		{"unknown kind", []elementRow{{ElementID: "E", Kind: "Cluster", State: "Ok"}}},
		{"unknown state", []elementRow{{ElementID: "E", Kind: "Environment", State: "Broken"}}},
		{"unknown parent", []elementRow{
			{ElementID: "E", Kind: "Environment", State: "Ok"},
			{ElementID: "S", ParentID: strPtr("X"), Kind: "Service", State: "Ok"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildTree("prod", tt.rows, nil)
			assert.Error(t, err)
		})
	}
}
