// Package engine maintains the live health-state tree of every environment.
//
// Each environment is owned by exactly one worker goroutine which applies
// transitions, re-evaluates stale checks, writes state history and notifies
// listeners. Different environments never share mutable state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
)

var (
	// ErrUnknownEnvironment is returned when no tree can be loaded for an environment.
	ErrUnknownEnvironment = errors.New("unknown environment")
	// ErrStopped is returned once the engine has been stopped.
	ErrStopped = errors.New("engine stopped")
)

// TreeSource loads the configured tree of an environment.
type TreeSource interface {
	GetEnvironmentTree(ctx context.Context, envID string) (*models.TreeNode, error)
}

// HistoryWriter persists state transition history rows.
type HistoryWriter interface {
	CloseOpenHistoryRow(ctx context.Context, envID, elementID string, endDate time.Time) error
	AppendStateTransitionHistory(ctx context.Context, row models.StateTransitionHistory) error
}

// Listener receives state change events. It is called on the environment
// worker and must not block.
type Listener interface {
	OnStateChanged(ev models.StateChanged)
}

// Options configures the engine.
type Options struct {
	// QueueSize is the per-environment queue length.
	QueueSize int
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Engine routes transitions to per-environment workers.
type Engine struct {
	trees     TreeSource
	history   HistoryWriter
	listeners []Listener
	logger    *logging.Logger
	opts      Options

	mu      sync.Mutex
	workers map[string]*worker
	stopped bool
	wg      sync.WaitGroup
}

type opResult struct {
	result Result
	err    error
}

type op struct {
	transition *models.StateTransition
	fn         func(*Tree, time.Time) error
	reply      chan opResult
}

func (o op) respond(r opResult) {
	if o.reply != nil {
		o.reply <- r
	}
}

type worker struct {
	envID string
	ops   chan op
	quit  chan struct{}
	done  chan struct{}
	err   error
}

// New creates an engine. Listeners are fixed for the engine's lifetime.
func New(trees TreeSource, history HistoryWriter, logger *logging.Logger, opts Options, listeners ...Listener) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		trees:     trees,
		history:   history,
		listeners: listeners,
		logger:    logger,
		opts:      opts,
		workers:   make(map[string]*worker),
	}
}

// Submit enqueues a transition for its environment worker without waiting
// for it to be applied. It blocks only while the environment queue is full.
func (e *Engine) Submit(ctx context.Context, t models.StateTransition) error {
	w, err := e.worker(t.EnvironmentID)
	if err != nil {
		return err
	}
	return w.send(ctx, op{transition: &t})
}

// Apply applies a transition and waits for the result.
func (e *Engine) Apply(ctx context.Context, t models.StateTransition) (Result, error) {
	w, err := e.worker(t.EnvironmentID)
	if err != nil {
		return ResultApplied, err
	}
	r, err := w.call(ctx, op{transition: &t, reply: make(chan opResult, 1)})
	if err != nil {
		return ResultApplied, err
	}
	return r.result, r.err
}

// Status returns the state of elementID (or the whole tree when empty).
func (e *Engine) Status(ctx context.Context, envID, elementID string) (*models.NodeStatus, error) {
	var status *models.NodeStatus
	err := e.do(ctx, envID, func(t *Tree, now time.Time) error {
		var err error
		status, err = t.Status(elementID, now)
		return err
	})
	return status, err
}

// CheckStatus returns the state of a single check.
func (e *Engine) CheckStatus(ctx context.Context, envID, componentID, checkID string) (models.CheckStatus, error) {
	var status models.CheckStatus
	err := e.do(ctx, envID, func(t *Tree, _ time.Time) error {
		var err error
		status, err = t.CheckStatus(componentID, checkID)
		return err
	})
	return status, err
}

// Environments lists the environments with a running worker.
func (e *Engine) Environments() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w.envID)
	}
	sort.Strings(out)
	return out
}

// Stop drains every environment queue and waits for the workers to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, w := range e.workers {
		close(w.quit)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

func (e *Engine) do(ctx context.Context, envID string, fn func(*Tree, time.Time) error) error {
	w, err := e.worker(envID)
	if err != nil {
		return err
	}
	r, err := w.call(ctx, op{fn: fn, reply: make(chan opResult, 1)})
	if err != nil {
		return err
	}
	return r.err
}

func (e *Engine) worker(envID string) (*worker, error) {
	k := key(envID)
	if k == "" {
		return nil, fmt.Errorf("%w: empty environment id", ErrUnknownEnvironment)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrStopped
	}
	if w, ok := e.workers[k]; ok {
		return w, nil
	}
	w := &worker{
		envID: envID,
		ops:   make(chan op, e.opts.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	e.workers[k] = w
	e.wg.Add(1)
	go e.run(w)
	return w, nil
}

func (e *Engine) remove(w *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.workers[key(w.envID)]; ok && cur == w {
		delete(e.workers, key(w.envID))
	}
}

func (w *worker) send(ctx context.Context, o op) error {
	select {
	case <-w.done:
		return w.err
	default:
	}
	select {
	case w.ops <- o:
		return nil
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) call(ctx context.Context, o op) (opResult, error) {
	if err := w.send(ctx, o); err != nil {
		return opResult{}, err
	}
	select {
	case r := <-o.reply:
		return r, nil
	case <-w.done:
		select {
		case r := <-o.reply:
			return r, nil
		default:
			return opResult{}, w.err
		}
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
}

// run is the environment worker loop. It owns the environment's tree.
func (e *Engine) run(w *worker) {
	defer e.wg.Done()
	defer close(w.done)

	log := e.logger.WithField("environment", w.envID)
	ctx := context.Background()

	tree, err := e.load(ctx, w.envID)
	if err != nil {
		w.err = err
		log.WithError(err).Warn("Environment tree unavailable, dropping its transitions")
		e.remove(w)
		e.fail(w)
		return
	}

	metrics.EnvironmentWorkers.Inc()
	defer metrics.EnvironmentWorkers.Dec()
	log.Info("Environment worker started")

	for {
		select {
		case o := <-w.ops:
			e.handle(ctx, log, tree, o)
		case <-w.quit:
			for {
				select {
				case o := <-w.ops:
					e.handle(ctx, log, tree, o)
				default:
					w.err = ErrStopped
					log.Info("Environment worker stopped")
					return
				}
			}
		}
	}
}

func (e *Engine) load(ctx context.Context, envID string) (*Tree, error) {
	root, err := e.trees.GetEnvironmentTree(ctx, envID)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownEnvironment, envID, err)
	}
	tree, err := NewTree(envID, root, e.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownEnvironment, envID, err)
	}
	return tree, nil
}

// fail answers every queued operation of a worker whose tree failed to load.
func (e *Engine) fail(w *worker) {
	for {
		select {
		case o := <-w.ops:
			metrics.TransitionsTotal.WithLabelValues("unknown_environment").Inc()
			o.respond(opResult{err: w.err})
		default:
			return
		}
	}
}

func (e *Engine) handle(ctx context.Context, log *logrus.Entry, tree *Tree, o op) {
	now := e.opts.Now()
	e.publish(ctx, log, tree.Refresh(now))

	if o.fn != nil {
		o.respond(opResult{err: o.fn(tree, now)})
		return
	}

	t := *o.transition
	res, events, err := tree.Apply(t, now)
	switch {
	case errors.Is(err, ErrUnknownElement):
		metrics.TransitionsTotal.WithLabelValues("unknown_element").Inc()
		log.WithFields(logrus.Fields{
			"element_id": t.ElementID,
			"check_id":   t.CheckID,
			"record_id":  t.RecordID,
		}).Warn("Transition references unknown element, dropped")
	case err != nil:
		metrics.TransitionsTotal.WithLabelValues("error").Inc()
		log.WithError(err).Error("Apply transition failed")
	default:
		metrics.TransitionsTotal.WithLabelValues(res.String()).Inc()
		if res != ResultApplied {
			log.WithFields(logrus.Fields{
				"identity":         t.Identity().String(),
				"source_timestamp": t.SourceTimestamp,
			}).Debugf("Transition %s, skipped", res)
		}
	}
	e.publish(ctx, log, events)
	o.respond(opResult{result: res, err: err})
}

// publish records history for every change and hands it to the listeners.
func (e *Engine) publish(ctx context.Context, log *logrus.Entry, events []models.StateChanged) {
	for _, ev := range events {
		metrics.StateChangesTotal.WithLabelValues(ev.Kind.String(), ev.NewState.String()).Inc()
		log.WithFields(logrus.Fields{
			"element_id": ev.ElementID,
			"kind":       ev.Kind.String(),
			"old_state":  ev.OldState.String(),
			"new_state":  ev.NewState.String(),
		}).Info("State changed")

		if e.history != nil {
			if err := e.history.CloseOpenHistoryRow(ctx, ev.EnvironmentID, ev.ElementID, ev.At); err != nil {
				log.WithError(err).WithField("element_id", ev.ElementID).Error("Close history row failed")
			}
			row := models.StateTransitionHistory{
				ID:            uuid.New().String(),
				EnvironmentID: ev.EnvironmentID,
				ElementID:     ev.ElementID,
				ElementType:   ev.Kind,
				State:         ev.NewState,
				StartDate:     ev.At,
			}
			if err := e.history.AppendStateTransitionHistory(ctx, row); err != nil {
				log.WithError(err).WithField("element_id", ev.ElementID).Error("Append history row failed")
			}
		}

		for _, l := range e.listeners {
			l.OnStateChanged(ev)
		}
	}
}
