// Package pipeline is the entry point for alert batches: it normalizes
// alerts, applies ignore rules and routes transitions to the engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"health-service/internal/ignore"
	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
	"health-service/internal/normalizer"
)

// Engine accepts transitions for asynchronous application.
type Engine interface {
	Submit(ctx context.Context, t models.StateTransition) error
}

// IgnoreRules provides the ignore rules of an environment.
type IgnoreRules interface {
	IgnoreRules(envID string) []models.AlertIgnoreRule
}

// TransitionRecorder persists accepted transitions.
type TransitionRecorder interface {
	SaveStateTransition(ctx context.Context, t models.StateTransition) error
}

// Result counts what happened to a batch.
type Result struct {
	Accepted int `json:"accepted"`
	Ignored  int `json:"ignored"`
	Invalid  int `json:"invalid"`
	Failed   int `json:"failed"`
}

// Coordinator handles alert batches.
type Coordinator struct {
	engine   Engine
	rules    IgnoreRules
	recorder TransitionRecorder
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a coordinator. recorder may be nil.
func New(engine Engine, rules IgnoreRules, recorder TransitionRecorder, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		engine:   engine,
		rules:    rules,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleAlerts processes a batch. Every valid alert is handed to the engine
// even when others in the batch are invalid; the returned error joins the
// per-alert failures.
func (c *Coordinator) HandleAlerts(ctx context.Context, alerts []models.Alert) error {
	_, err := c.Handle(ctx, alerts)
	return err
}

// Handle processes a batch and reports the outcome per alert.
func (c *Coordinator) Handle(ctx context.Context, alerts []models.Alert) (Result, error) {
	var res Result
	var errs []error
	now := c.now()

	for _, a := range alerts {
		t, err := normalizer.Normalize(a, now)
		if err != nil {
			res.Invalid++
			metrics.AlertsReceivedTotal.WithLabelValues("invalid").Inc()
			c.logger.WithError(err).WithFields(logrus.Fields{
				"subscription_id": a.SubscriptionID,
				"check_id":        a.CheckID,
				"alert_name":      a.AlertName,
			}).Warn("Invalid alert dropped")
			errs = append(errs, err)
			continue
		}

		log := c.logger.WithFields(logrus.Fields{
			"environment": t.EnvironmentID,
			"record_id":   t.RecordID,
			"check_id":    t.CheckID,
		})

		if rule, ok := ignore.Match(t, c.rules.IgnoreRules(t.EnvironmentID), now); ok {
			res.Ignored++
			metrics.AlertsReceivedTotal.WithLabelValues("ignored").Inc()
			log.WithField("rule", rule.Name).Debug("Alert matched ignore rule")
			continue
		}

		if c.recorder != nil {
			if err := c.recorder.SaveStateTransition(ctx, t); err != nil {
				log.WithError(err).Error("Persist transition failed")
			} else {
				t.IsSyncedToDatabase = true
			}
		}

		if err := c.engine.Submit(ctx, t); err != nil {
			res.Failed++
			metrics.AlertsReceivedTotal.WithLabelValues("failed").Inc()
			log.WithError(err).Error("Submit transition failed")
			errs = append(errs, fmt.Errorf("submit %s: %w", t.RecordID, err))
			continue
		}
		res.Accepted++
		metrics.AlertsReceivedTotal.WithLabelValues("accepted").Inc()
	}

	return res, errors.Join(errs...)
}
