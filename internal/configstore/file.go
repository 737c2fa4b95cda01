// Package configstore serves environments, trees and rules from a YAML file.
package configstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"health-service/internal/logging"
	"health-service/internal/models"
)

// Environment is one environment entry of the file.
type Environment struct {
	ID                 string                     `yaml:"id"`
	Name               string                     `yaml:"name"`
	Tree               *models.TreeNode           `yaml:"tree"`
	IgnoreRules        []models.AlertIgnoreRule   `yaml:"ignoreRules"`
	NotificationRules  []models.NotificationRule  `yaml:"notificationRules"`
	StateIncreaseRules []models.StateIncreaseRule `yaml:"stateIncreaseRules"`
}

// File is the document layout.
type File struct {
	Environments []Environment `yaml:"environments"`
}

// Store is a configuration store backed by a YAML file. It is safe for
// concurrent use and can be reloaded in place.
type Store struct {
	path   string
	logger *logging.Logger
	now    func() time.Time

	mu   sync.RWMutex
	envs map[string]*Environment
}

// Load reads path and returns a store serving its contents.
func Load(path string, logger *logging.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, now: time.Now}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes a configuration document.
func Parse(data []byte) (map[string]*Environment, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	envs := make(map[string]*Environment, len(f.Environments))
	for i := range f.Environments {
		env := &f.Environments[i]
		if env.ID == "" {
			return nil, fmt.Errorf("environment %d has no id", i)
		}
		k := strings.ToLower(env.ID)
		if _, dup := envs[k]; dup {
			return nil, fmt.Errorf("duplicate environment %s", env.ID)
		}
		for j := range env.IgnoreRules {
			if env.IgnoreRules[j].EnvironmentSubscriptionID == "" {
				env.IgnoreRules[j].EnvironmentSubscriptionID = env.ID
			}
		}
		for j := range env.NotificationRules {
			if env.NotificationRules[j].EnvironmentSubscriptionID == "" {
				env.NotificationRules[j].EnvironmentSubscriptionID = env.ID
			}
		}
		for j := range env.StateIncreaseRules {
			if env.StateIncreaseRules[j].EnvironmentSubscriptionID == "" {
				env.StateIncreaseRules[j].EnvironmentSubscriptionID = env.ID
			}
		}
		envs[k] = env
	}
	return envs, nil
}

// Reload re-reads the file. On error the previous contents stay active.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	envs, err := Parse(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.envs = envs
	s.mu.Unlock()
	return nil
}

func (s *Store) env(envID string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envs[strings.ToLower(strings.TrimSpace(envID))]
	if !ok {
		return nil, fmt.Errorf("environment %s not found", envID)
	}
	return env, nil
}

// ListEnvironments returns every environment id.
func (s *Store) ListEnvironments(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.envs))
	for _, env := range s.envs {
		out = append(out, env.ID)
	}
	sort.Strings(out)
	return out, nil
}

// GetEnvironmentTree returns the configured tree of an environment.
func (s *Store) GetEnvironmentTree(_ context.Context, envID string) (*models.TreeNode, error) {
	env, err := s.env(envID)
	if err != nil {
		return nil, err
	}
	if env.Tree == nil {
		return nil, fmt.Errorf("environment %s has no tree", envID)
	}
	return env.Tree, nil
}

// GetActiveIgnoreRules returns the ignore rules that have not expired.
func (s *Store) GetActiveIgnoreRules(_ context.Context, envID string) ([]models.AlertIgnoreRule, error) {
	env, err := s.env(envID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []models.AlertIgnoreRule
	for _, r := range env.IgnoreRules {
		if r.IsActive(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetActiveNotificationRules returns the active notification rules.
func (s *Store) GetActiveNotificationRules(_ context.Context, envID string) ([]models.NotificationRule, error) {
	env, err := s.env(envID)
	if err != nil {
		return nil, err
	}
	var out []models.NotificationRule
	for _, r := range env.NotificationRules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetActiveStateIncreaseRules returns the active state-increase rules.
func (s *Store) GetActiveStateIncreaseRules(_ context.Context, envID string) ([]models.StateIncreaseRule, error) {
	env, err := s.env(envID)
	if err != nil {
		return nil, err
	}
	var out []models.StateIncreaseRule
	for _, r := range env.StateIncreaseRules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// Watch reloads the file whenever it is written and then calls onChange.
// It runs until ctx is cancelled. A failed reload keeps the previous contents.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}
	s.logger.WithField("path", s.path).Info("Watching config file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves replace the file, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.WithError(err).WithField("path", s.path).Error("Config reload failed, keeping previous config")
				continue
			}
			s.logger.WithField("path", s.path).Info("Config file reloaded")
			if onChange != nil {
				onChange()
			}
			_ = watcher.Add(s.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Error("Config watcher error")
		}
	}
}
