// Package sla computes element availability from state transition history.
package sla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
)

// ErrInvalidWindow is returned when a window does not end after it starts.
var ErrInvalidWindow = errors.New("invalid sla window")

// HistoryReader reads the history rows of an element.
type HistoryReader interface {
	QueryHistory(ctx context.Context, envID, elementID string, from, to time.Time) ([]models.StateTransitionHistory, error)
}

// Cache stores computed results of windows that lie in the past.
type Cache interface {
	GetSla(ctx context.Context, key string) (models.SlaData, bool, error)
	SetSla(ctx context.Context, key string, data models.SlaData) error
}

// Thresholds map a calculated value to a level.
type Thresholds struct {
	Warning float64
	Error   float64
}

// NoDataPolicy decides the value of a window without any history.
type NoDataPolicy int

const (
	// NoDataAvailable treats a window without history as fully available.
	NoDataAvailable NoDataPolicy = iota
	// NoDataUnavailable treats a window without history as an outage.
	NoDataUnavailable
)

// ParseNoDataPolicy parses "available" or "unavailable".
func ParseNoDataPolicy(s string) (NoDataPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "available":
		return NoDataAvailable, nil
	case "unavailable":
		return NoDataUnavailable, nil
	}
	return NoDataAvailable, fmt.Errorf("invalid no-data policy %q", s)
}

// Options configures a Calculator.
type Options struct {
	Thresholds Thresholds
	NoData     NoDataPolicy
	// Cache is optional.
	Cache Cache
	// Now overrides the clock, used by tests.
	Now func() time.Time
	// Parallelism bounds ComputeMany.
	Parallelism int
}

// Calculator computes SLA figures. It never writes history.
type Calculator struct {
	history HistoryReader
	logger  *logging.Logger
	opts    Options
}

// New creates a calculator.
func New(history HistoryReader, logger *logging.Logger, opts Options) *Calculator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = Thresholds{Warning: 0.99, Error: 0.95}
	}
	return &Calculator{history: history, logger: logger, opts: opts}
}

// Level maps a calculated value to a state.
func (c *Calculator) Level(value float64) models.State {
	switch {
	case value > c.opts.Thresholds.Warning:
		return models.StateOk
	case value > c.opts.Thresholds.Error:
		return models.StateWarning
	default:
		return models.StateError
	}
}

func validate(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidWindow, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}

func cacheKey(envID, elementID string, from, to time.Time, includeWarnings bool) string {
	return fmt.Sprintf("sla:%s:%s:%d:%d:%t",
		strings.ToLower(envID), strings.ToLower(elementID), from.Unix(), to.Unix(), includeWarnings)
}

// Compute returns the availability of elementID over [from, to].
func (c *Calculator) Compute(ctx context.Context, envID, elementID string, from, to time.Time, includeWarnings bool) (models.SlaData, error) {
	if err := validate(from, to); err != nil {
		return models.SlaData{}, err
	}
	from, to = from.UTC(), to.UTC()
	now := c.opts.Now()

	// Only finished windows are cached; an open window still changes.
	cacheable := c.opts.Cache != nil && !to.After(now)
	key := cacheKey(envID, elementID, from, to, includeWarnings)
	if cacheable {
		data, ok, err := c.opts.Cache.GetSla(ctx, key)
		if err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Read SLA cache failed")
		} else if ok {
			metrics.SLAComputationsTotal.WithLabelValues("cache").Inc()
			return data, nil
		}
	}

	segments, err := c.segments(ctx, envID, elementID, from, to, now)
	if err != nil {
		return models.SlaData{}, err
	}
	data := c.summarize(envID, elementID, from, to, includeWarnings, segments)
	metrics.SLAComputationsTotal.WithLabelValues("history").Inc()

	if cacheable {
		if err := c.opts.Cache.SetSla(ctx, key, data); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Write SLA cache failed")
		}
	}
	return data, nil
}

// ComputeRaw returns the clipped history segments of elementID over [from, to].
func (c *Calculator) ComputeRaw(ctx context.Context, envID, elementID string, from, to time.Time) (models.SlaDataRaw, error) {
	if err := validate(from, to); err != nil {
		return models.SlaDataRaw{}, err
	}
	from, to = from.UTC(), to.UTC()
	segments, err := c.segments(ctx, envID, elementID, from, to, c.opts.Now())
	if err != nil {
		return models.SlaDataRaw{}, err
	}
	return models.SlaDataRaw{
		EnvironmentID: envID,
		ElementID:     elementID,
		StartDate:     from,
		EndDate:       to,
		Segments:      segments,
	}, nil
}

// ComputePerDay splits [from, to] into UTC calendar days and computes each
// day from a single history query.
func (c *Calculator) ComputePerDay(ctx context.Context, envID, elementID string, from, to time.Time, includeWarnings bool) ([]models.SlaData, error) {
	if err := validate(from, to); err != nil {
		return nil, err
	}
	from, to = from.UTC(), to.UTC()
	segments, err := c.segments(ctx, envID, elementID, from, to, c.opts.Now())
	if err != nil {
		return nil, err
	}

	var out []models.SlaData
	for dayStart := from.Truncate(24 * time.Hour); dayStart.Before(to); dayStart = dayStart.AddDate(0, 0, 1) {
		start, end := maxTime(dayStart, from), minTime(dayStart.AddDate(0, 0, 1), to)
		out = append(out, c.summarize(envID, elementID, start, end, includeWarnings, clip(segments, start, end)))
	}
	metrics.SLAComputationsTotal.WithLabelValues("history").Add(float64(len(out)))
	return out, nil
}

// ComputeMany computes several elements of one environment in parallel.
// Results are in the order of elementIDs.
func (c *Calculator) ComputeMany(ctx context.Context, envID string, elementIDs []string, from, to time.Time, includeWarnings bool) ([]models.SlaData, error) {
	if err := validate(from, to); err != nil {
		return nil, err
	}
	out := make([]models.SlaData, len(elementIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, elementID := range elementIDs {
		i, elementID := i, elementID
		g.Go(func() error {
			data, err := c.Compute(gctx, envID, elementID, from, to, includeWarnings)
			if err != nil {
				return fmt.Errorf("compute sla for %s: %w", elementID, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Calculator) segments(ctx context.Context, envID, elementID string, from, to, now time.Time) ([]models.SlaSegment, error) {
	rows, err := c.history.QueryHistory(ctx, envID, elementID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", elementID, err)
	}

	// An open row lasts until now, or the window end if that comes first.
	openEnd := minTime(now, to)
	segments := make([]models.SlaSegment, 0, len(rows))
	for _, row := range rows {
		end := openEnd
		if row.EndDate != nil {
			end = *row.EndDate
		}
		seg := models.SlaSegment{State: row.State, StartDate: maxTime(row.StartDate, from), EndDate: minTime(end, to)}
		if !seg.EndDate.After(seg.StartDate) {
			continue
		}
		segments = append(segments, seg)
	}

	c.logger.WithFields(logrus.Fields{
		"environment": envID,
		"element_id":  elementID,
		"rows":        len(rows),
		"segments":    len(segments),
	}).Debug("SLA history loaded")
	return segments, nil
}

func clip(segments []models.SlaSegment, from, to time.Time) []models.SlaSegment {
	var out []models.SlaSegment
	for _, s := range segments {
		seg := models.SlaSegment{State: s.State, StartDate: maxTime(s.StartDate, from), EndDate: minTime(s.EndDate, to)}
		if seg.EndDate.After(seg.StartDate) {
			out = append(out, seg)
		}
	}
	return out
}

func (c *Calculator) summarize(envID, elementID string, from, to time.Time, includeWarnings bool, segments []models.SlaSegment) models.SlaData {
	data := models.SlaData{
		EnvironmentID:   envID,
		ElementID:       elementID,
		StartDate:       from,
		EndDate:         to,
		IncludeWarnings: includeWarnings,
	}
	for _, s := range segments {
		if s.State == models.StateOk || (includeWarnings && s.State == models.StateWarning) {
			data.UpTime += s.Duration()
		} else {
			data.DownTime += s.Duration()
		}
	}

	total := data.UpTime + data.DownTime
	switch {
	case total > 0:
		data.CalculatedValue = float64(data.UpTime) / float64(total)
	case c.opts.NoData == NoDataUnavailable:
		data.NoData = true
		data.CalculatedValue = 0
	default:
		data.NoData = true
		data.CalculatedValue = 1
	}
	data.Level = c.Level(data.CalculatedValue)
	return data
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
