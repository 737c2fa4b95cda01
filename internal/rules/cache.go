// Package rules keeps a read-mostly snapshot of the per-environment rules.
package rules

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"health-service/internal/logging"
	"health-service/internal/models"
)

// Source loads rules from the configuration store.
type Source interface {
	ListEnvironments(ctx context.Context) ([]string, error)
	GetActiveIgnoreRules(ctx context.Context, envID string) ([]models.AlertIgnoreRule, error)
	GetActiveNotificationRules(ctx context.Context, envID string) ([]models.NotificationRule, error)
	GetActiveStateIncreaseRules(ctx context.Context, envID string) ([]models.StateIncreaseRule, error)
}

type envRules struct {
	envID        string
	ignore       []models.AlertIgnoreRule
	notification []models.NotificationRule
	increase     []models.StateIncreaseRule
}

type snapshot struct {
	envs     map[string]*envRules
	loadedAt time.Time
}

// Cache serves rules from an immutable snapshot that Refresh replaces whole.
type Cache struct {
	source Source
	logger *logging.Logger
	snap   atomic.Pointer[snapshot]
}

// NewCache creates an empty cache. Call Refresh before serving traffic.
func NewCache(source Source, logger *logging.Logger) *Cache {
	c := &Cache{source: source, logger: logger}
	c.snap.Store(&snapshot{envs: map[string]*envRules{}})
	return c
}

func envKey(envID string) string {
	return strings.ToLower(strings.TrimSpace(envID))
}

func (c *Cache) env(envID string) *envRules {
	return c.snap.Load().envs[envKey(envID)]
}

// IgnoreRules returns the ignore rules of an environment.
func (c *Cache) IgnoreRules(envID string) []models.AlertIgnoreRule {
	if r := c.env(envID); r != nil {
		return r.ignore
	}
	return nil
}

// NotificationRules returns the notification rules of an environment.
func (c *Cache) NotificationRules(envID string) []models.NotificationRule {
	if r := c.env(envID); r != nil {
		return r.notification
	}
	return nil
}

// StateIncreaseRules returns the state-increase rules of an environment.
func (c *Cache) StateIncreaseRules(envID string) []models.StateIncreaseRule {
	if r := c.env(envID); r != nil {
		return r.increase
	}
	return nil
}

// Environments lists the environments of the current snapshot.
func (c *Cache) Environments() []string {
	snap := c.snap.Load()
	out := make([]string, 0, len(snap.envs))
	for _, r := range snap.envs {
		out = append(out, r.envID)
	}
	sort.Strings(out)
	return out
}

// LoadedAt returns when the current snapshot was built.
func (c *Cache) LoadedAt() time.Time {
	return c.snap.Load().loadedAt
}

// Refresh loads every environment's rules and swaps the snapshot. An
// environment whose rules fail to load keeps the rules of the previous snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	envs, err := c.source.ListEnvironments(ctx)
	if err != nil {
		return err
	}

	prev := c.snap.Load()
	next := &snapshot{envs: make(map[string]*envRules, len(envs)), loadedAt: time.Now()}
	for _, envID := range envs {
		r, err := c.load(ctx, envID)
		if err != nil {
			c.logger.WithError(err).WithField("environment", envID).Warn("Load rules failed, keeping previous rules")
			if old, ok := prev.envs[envKey(envID)]; ok {
				next.envs[envKey(envID)] = old
			}
			continue
		}
		next.envs[envKey(envID)] = r
	}
	c.snap.Store(next)

	c.logger.WithFields(logrus.Fields{
		"environments": len(next.envs),
	}).Debug("Rules refreshed")
	return nil
}

func (c *Cache) load(ctx context.Context, envID string) (*envRules, error) {
	ignore, err := c.source.GetActiveIgnoreRules(ctx, envID)
	if err != nil {
		return nil, err
	}
	notification, err := c.source.GetActiveNotificationRules(ctx, envID)
	if err != nil {
		return nil, err
	}
	increase, err := c.source.GetActiveStateIncreaseRules(ctx, envID)
	if err != nil {
		return nil, err
	}
	return &envRules{envID: envID, ignore: ignore, notification: notification, increase: increase}, nil
}

// Run refreshes the cache every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.WithError(err).Error("Refresh rules failed")
			}
		}
	}
}
