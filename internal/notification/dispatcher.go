// Package notification turns state changes into notifications according to
// the environment's notification rules.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
	"health-service/internal/providers"
)

// Provider delivers a notification over one channel.
type Provider interface {
	Send(ctx context.Context, n models.Notification) error
}

// RuleSource provides the notification rules of an environment.
type RuleSource interface {
	NotificationRules(envID string) []models.NotificationRule
}

// Options configures the dispatcher.
type Options struct {
	QueueSize  int
	MaxWorkers int
	// Now stamps notifications and stands in for events without a change
	// instant. Used by tests.
	Now func() time.Time
}

// Dispatcher evaluates notification rules for state changes on a worker pool.
type Dispatcher struct {
	rules     RuleSource
	providers map[string]Provider
	logger    *logging.Logger
	opts      Options

	tasks  chan models.StateChanged
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New creates a dispatcher. providers maps a channel name to its transport;
// channels without a provider are skipped.
func New(rules RuleSource, providers map[string]Provider, logger *logging.Logger, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 500
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		rules:     rules,
		providers: providers,
		logger:    logger,
		opts:      opts,
		tasks:     make(chan models.StateChanged, opts.QueueSize),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		lastSent:  make(map[string]time.Time),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.MaxWorkers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// OnStateChanged enqueues ev without blocking. Events are dropped when the
// queue is full or the dispatcher is stopped.
func (d *Dispatcher) OnStateChanged(ev models.StateChanged) {
	if d.closed.Load() {
		return
	}
	select {
	case d.tasks <- ev:
	default:
		metrics.QueueDroppedTotal.WithLabelValues("notification").Inc()
		d.logger.WithFields(logrus.Fields{
			"environment": ev.EnvironmentID,
			"element_id":  ev.ElementID,
		}).Error("Notification queue full, dropping state change")
	}
}

// Stop processes the events already queued and waits for the workers.
func (d *Dispatcher) Stop() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.quit)
	d.wg.Wait()
	d.cancel()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.tasks:
			d.handle(ev)
		case <-d.quit:
			for {
				select {
				case ev := <-d.tasks:
					d.handle(ev)
				default:
					d.logger.Debugf("Worker %d stopped", id)
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(ev models.StateChanged) {
	for _, n := range d.evaluate(ev, d.opts.Now()) {
		d.dispatch(n)
	}
}

// evaluate returns the notifications ev produces at now and records them
// against the debounce clock of each matching rule.
func (d *Dispatcher) evaluate(ev models.StateChanged, now time.Time) []models.Notification {
	var out []models.Notification
	for _, rule := range d.rules.NotificationRules(ev.EnvironmentID) {
		if !Matches(rule, ev) {
			continue
		}
		if !d.allow(rule, ev, now) {
			metrics.NotificationsSuppressedTotal.Inc()
			d.logger.WithFields(logrus.Fields{
				"rule_id":    rule.ID,
				"element_id": ev.ElementID,
			}).Debug("Notification suppressed by rule interval")
			continue
		}
		out = append(out, build(rule, ev, now)...)
	}
	return out
}

// Matches reports whether rule covers ev.
func Matches(rule models.NotificationRule, ev models.StateChanged) bool {
	if !rule.IsActive || !strings.EqualFold(rule.EnvironmentSubscriptionID, ev.EnvironmentID) {
		return false
	}
	if !rule.HasLevel(ev.Kind) {
		return false
	}
	return rule.HasState(ev.NewState) || ev.IsResolution()
}

// allow applies the per (rule, element) debounce on the instant the change
// happened, so queued or replayed events are judged by when they occurred.
// The clock is reset only when a notification goes out.
func (d *Dispatcher) allow(rule models.NotificationRule, ev models.StateChanged, now time.Time) bool {
	at := ev.At
	if at.IsZero() {
		at = now
	}
	key := strings.ToLower(rule.ID + "|" + ev.EnvironmentID + "|" + ev.ElementID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSent[key]; ok && at.Sub(last) < rule.Interval() {
		return false
	}
	d.lastSent[key] = at
	return true
}

func build(rule models.NotificationRule, ev models.StateChanged, now time.Time) []models.Notification {
	typ := models.TypeAlert
	label := ev.NewState.String()
	if ev.IsResolution() {
		typ = models.TypeResolved
		label = "Resolved"
	}
	name := ev.Name
	if name == "" {
		name = ev.ElementID
	}
	subject := fmt.Sprintf("[%s] %s %s in %s", label, ev.Kind, name, ev.EnvironmentID)
	body := fmt.Sprintf("%s %s (%s) changed from %s to %s at %s.",
		ev.Kind, name, ev.ElementID, ev.OldState, ev.NewState, ev.At.UTC().Format(time.RFC3339))
	if ev.Cause.AlertName != "" {
		body += fmt.Sprintf("\nAlert: %s on check %s", ev.Cause.AlertName, ev.Cause.CheckID)
	}
	if ev.Cause.Description != "" {
		body += "\n" + ev.Cause.Description
	}

	base := models.Notification{
		CreatedAt:     now,
		Type:          typ,
		Subject:       subject,
		Body:          body,
		RuleID:        rule.ID,
		EnvironmentID: ev.EnvironmentID,
		ElementID:     ev.ElementID,
		Event:         ev,
	}

	var out []models.Notification
	if recipients := providers.SplitAddresses(rule.EmailAddresses); len(recipients) > 0 {
		n := base
		n.ID = uuid.New().String()
		n.Channel = models.ChannelEmail
		n.Recipients = recipients
		out = append(out, n)
	}
	if rule.WebhookURL != "" {
		n := base
		n.ID = uuid.New().String()
		n.Channel = models.ChannelWebhook
		n.WebhookURL = rule.WebhookURL
		out = append(out, n)
	}
	if rule.TelegramChatID != 0 {
		n := base
		n.ID = uuid.New().String()
		n.Channel = models.ChannelTelegram
		n.ChatID = rule.TelegramChatID
		out = append(out, n)
	}
	return out
}

func (d *Dispatcher) dispatch(n models.Notification) {
	log := d.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"rule_id":         n.RuleID,
		"channel":         n.Channel,
		"element_id":      n.ElementID,
	})

	provider, ok := d.providers[n.Channel]
	if !ok {
		metrics.NotificationsTotal.WithLabelValues(n.Channel, "unconfigured").Inc()
		log.Warn("No provider configured for channel, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()
	if err := provider.Send(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(n.Channel, "failed").Inc()
		log.WithError(err).Errorf("Dispatch error via %s", n.Channel)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(n.Channel, "success").Inc()
	log.Infof("Notification %s dispatched via %s", n.Type, n.Channel)
}
