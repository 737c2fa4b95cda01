// Package escalation promotes checks that stay in Warning for longer than
// their state-increase rule allows.
package escalation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"health-service/internal/engine"
	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
)

// EscalatedSuffix is appended to the alert name of synthesized transitions.
const EscalatedSuffix = models.EscalatedSuffix

// Engine is the part of the aggregation engine the evaluator drives.
type Engine interface {
	CheckStatus(ctx context.Context, envID, componentID, checkID string) (models.CheckStatus, error)
	Apply(ctx context.Context, t models.StateTransition) (engine.Result, error)
}

// HistoryReader exposes the open history interval of an element.
type HistoryReader interface {
	OpenHistoryRow(ctx context.Context, envID, elementID string) (*models.StateTransitionHistory, error)
}

// RuleSource provides the state-increase rules per environment.
type RuleSource interface {
	Environments() []string
	StateIncreaseRules(envID string) []models.StateIncreaseRule
}

// Evaluator runs escalation sweeps.
type Evaluator struct {
	engine  Engine
	history HistoryReader
	rules   RuleSource
	logger  *logging.Logger
	now     func() time.Time

	mu sync.Mutex

	// escalated remembers, per rule and check, the start of the non-Ok
	// episode already escalated.
	escalated map[string]time.Time
}

// New creates an evaluator. history may be nil, dwell time then starts at the
// engine's own state-since instant.
func New(e Engine, history HistoryReader, rules RuleSource, logger *logging.Logger) *Evaluator {
	return &Evaluator{
		engine:    e,
		history:   history,
		rules:     rules,
		logger:    logger,
		now:       time.Now,
		escalated: make(map[string]time.Time),
	}
}

// Run sweeps every interval until ctx is cancelled. A sweep in progress is
// always completed.
func (ev *Evaluator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// Sweep evaluates every active state-increase rule once and returns the
// number of escalations applied.
func (ev *Evaluator) Sweep(ctx context.Context) int {
	count := 0
	for _, envID := range ev.rules.Environments() {
		for _, rule := range ev.rules.StateIncreaseRules(envID) {
			if !rule.IsActive {
				continue
			}
			if ev.evaluate(ctx, envID, rule) {
				count++
			}
		}
	}
	return count
}

func (ev *Evaluator) evaluate(ctx context.Context, envID string, rule models.StateIncreaseRule) bool {
	log := ev.logger.WithFields(logrus.Fields{
		"environment":  envID,
		"rule_id":      rule.ID,
		"check_id":     rule.CheckID,
		"component_id": rule.ComponentID,
	})

	st, err := ev.engine.CheckStatus(ctx, envID, rule.ComponentID, rule.CheckID)
	if err != nil {
		log.WithError(err).Debug("Escalation target unavailable")
		return false
	}
	key := markKey(envID, rule.ID, st.ElementID)

	if st.State == models.StateOk {
		ev.forget(key)
		return false
	}
	if st.State == models.StateError || st.Last == nil {
		return false
	}
	last := *st.Last
	if rule.AlertName != "" && !strings.EqualFold(rule.AlertName, last.AlertName) {
		return false
	}

	now := ev.now()
	since := ev.dwellStart(ctx, log, envID, st)
	if now.Sub(since) < rule.TriggerTime() {
		return false
	}

	// Re-sent Warnings of the same episode keep since unchanged.
	if ev.seen(key, since) {
		return false
	}

	t := escalate(envID, st, last, now)
	res, err := ev.engine.Apply(ctx, t)
	if err != nil {
		log.WithError(err).Error("Apply escalation failed")
		return false
	}
	ev.remember(key, since)
	metrics.EscalationsTotal.Inc()
	log.WithFields(logrus.Fields{
		"alert_name": last.AlertName,
		"dwell":      now.Sub(since).String(),
		"result":     res.String(),
	}).Info("Check escalated to Error")
	return true
}

// dwellStart is the start of the element's current open history interval.
func (ev *Evaluator) dwellStart(ctx context.Context, log *logrus.Entry, envID string, st models.CheckStatus) time.Time {
	if ev.history == nil {
		return st.Since
	}
	row, err := ev.history.OpenHistoryRow(ctx, envID, st.ElementID)
	if err != nil {
		log.WithError(err).Warn("Read open history row failed, using engine state time")
		return st.Since
	}
	if row == nil || row.State != st.State {
		return st.Since
	}
	return row.StartDate
}

func escalate(envID string, st models.CheckStatus, last models.StateTransition, now time.Time) models.StateTransition {
	return models.StateTransition{
		RecordID:             uuid.New().String(),
		EnvironmentID:        envID,
		ElementID:            st.ComponentID,
		CheckID:              st.ElementID,
		AlertName:            last.AlertName + EscalatedSuffix,
		State:                models.StateError,
		SourceTimestamp:      now,
		TimeGenerated:        now,
		Description:          last.Description,
		CustomField1:         last.CustomField1,
		CustomField2:         last.CustomField2,
		CustomField3:         last.CustomField3,
		CustomField4:         last.CustomField4,
		CustomField5:         last.CustomField5,
		TriggeredByCheckID:   last.CheckID,
		TriggeredByElementID: last.ElementID,
		TriggeredByAlertName: last.AlertName,
		ProgressState:        models.ProgressNone,
	}
}

func markKey(envID, ruleID, checkID string) string {
	return strings.ToLower(envID + "|" + ruleID + "|" + checkID)
}

func (ev *Evaluator) seen(key string, since time.Time) bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	at, ok := ev.escalated[key]
	return ok && at.Equal(since)
}

func (ev *Evaluator) remember(key string, since time.Time) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.escalated[key] = since
}

func (ev *Evaluator) forget(key string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	delete(ev.escalated, key)
}
