package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-service/internal/logging"
	"health-service/internal/models"
)

type fakeSource struct {
	mu      sync.Mutex
	envs    []string
	listErr error
	failEnv string
	notify  map[string][]models.NotificationRule
}

func (f *fakeSource) ListEnvironments(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envs, f.listErr
}

func (f *fakeSource) GetActiveIgnoreRules(_ context.Context, envID string) ([]models.AlertIgnoreRule, error) {
	return []models.AlertIgnoreRule{{EnvironmentSubscriptionID: envID, Name: "maintenance"}}, nil
}

func (f *fakeSource) GetActiveNotificationRules(_ context.Context, envID string) ([]models.NotificationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if envID == f.failEnv {
		return nil, errors.New("connection reset")
	}
	return f.notify[envID], nil
}

func (f *fakeSource) GetActiveStateIncreaseRules(_ context.Context, envID string) ([]models.StateIncreaseRule, error) {
	return []models.StateIncreaseRule{{ID: "r-" + envID, EnvironmentSubscriptionID: envID}}, nil
}

func TestRefreshLoadsEveryEnvironment(t *testing.T) {
	src := &fakeSource{
		envs: []string{"Prod", "staging"},
		notify: map[string][]models.NotificationRule{
			"Prod":    {{ID: "n1"}},
			"staging": {{ID: "n2"}, {ID: "n3"}},
		},
	}
	c := NewCache(src, logging.NewNop())
	assert.Empty(t, c.Environments())

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"Prod", "staging"}, c.Environments())
	assert.Len(t, c.NotificationRules("prod"), 1, "lookups ignore case")
	assert.Len(t, c.NotificationRules("staging"), 2)
	assert.Len(t, c.IgnoreRules("PROD"), 1)
	assert.Equal(t, "r-staging", c.StateIncreaseRules("staging")[0].ID)
	assert.Nil(t, c.NotificationRules("unknown"))
	assert.False(t, c.LoadedAt().IsZero())
}

func TestFailedEnvironmentKeepsPreviousRules(t *testing.T) {
	src := &fakeSource{
		envs:   []string{"prod"},
		notify: map[string][]models.NotificationRule{"prod": {{ID: "n1"}}},
	}
	c := NewCache(src, logging.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	src.mu.Lock()
	src.failEnv = "prod"
	src.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))
	require.Len(t, c.NotificationRules("prod"), 1)
	assert.Equal(t, "n1", c.NotificationRules("prod")[0].ID)
}

func TestListFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{envs: []string{"prod"}}
	c := NewCache(src, logging.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	src.mu.Lock()
	src.listErr = errors.New("db down")
	src.mu.Unlock()
	assert.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"prod"}, c.Environments())
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	src.mu.Lock()
	src.envs = []string{"late"}
	src.mu.Unlock()

	assert.Eventually(t, func() bool {
		return len(c.Environments()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
