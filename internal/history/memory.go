// Package history provides an in-memory state transition history store,
// used when no database is configured.
package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"health-service/internal/models"
)

// MemoryStore keeps history rows in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []models.StateTransitionHistory
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func same(row models.StateTransitionHistory, envID, elementID string) bool {
	return strings.EqualFold(row.EnvironmentID, envID) && strings.EqualFold(row.ElementID, elementID)
}

// AppendStateTransitionHistory stores a new row.
func (s *MemoryStore) AppendStateTransitionHistory(_ context.Context, row models.StateTransitionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

// CloseOpenHistoryRow sets endDate on the element's open rows. The end is
// never placed before a row's start.
func (s *MemoryStore) CloseOpenHistoryRow(_ context.Context, envID, elementID string, endDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		row := &s.rows[i]
		if row.EndDate != nil || !same(*row, envID, elementID) {
			continue
		}
		end := endDate
		if end.Before(row.StartDate) {
			end = row.StartDate
		}
		row.EndDate = &end
	}
	return nil
}

// QueryHistory returns the element's rows overlapping [from, to], oldest first.
func (s *MemoryStore) QueryHistory(_ context.Context, envID, elementID string, from, to time.Time) ([]models.StateTransitionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StateTransitionHistory
	for _, row := range s.rows {
		if !same(row, envID, elementID) {
			continue
		}
		if !row.StartDate.Before(to) {
			continue
		}
		if row.EndDate != nil && !row.EndDate.After(from) {
			continue
		}
		out = append(out, copyRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// OpenHistoryRow returns the element's current open row, or nil.
func (s *MemoryStore) OpenHistoryRow(_ context.Context, envID, elementID string) (*models.StateTransitionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		row := s.rows[i]
		if row.EndDate == nil && same(row, envID, elementID) {
			r := copyRow(row)
			return &r, nil
		}
	}
	return nil, nil
}

// Rows returns a copy of every stored row in insertion order.
func (s *MemoryStore) Rows() []models.StateTransitionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StateTransitionHistory, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, copyRow(row))
	}
	return out
}

func copyRow(row models.StateTransitionHistory) models.StateTransitionHistory {
	if row.EndDate != nil {
		end := *row.EndDate
		row.EndDate = &end
	}
	return row
}
