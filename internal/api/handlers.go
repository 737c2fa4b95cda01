package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"health-service/internal/engine"
	"health-service/internal/logging"
	"health-service/internal/models"
	"health-service/internal/pipeline"
	"health-service/internal/sla"
)

// AlertHandler accepts alert batches.
type AlertHandler interface {
	Handle(ctx context.Context, alerts []models.Alert) (pipeline.Result, error)
}

// StateReader reads the live state trees.
type StateReader interface {
	Status(ctx context.Context, envID, elementID string) (*models.NodeStatus, error)
}

// SlaCalculator computes availability from state history.
type SlaCalculator interface {
	Compute(ctx context.Context, envID, elementID string, from, to time.Time, includeWarnings bool) (models.SlaData, error)
	ComputePerDay(ctx context.Context, envID, elementID string, from, to time.Time, includeWarnings bool) ([]models.SlaData, error)
	ComputeRaw(ctx context.Context, envID, elementID string, from, to time.Time) (models.SlaDataRaw, error)
	ComputeMany(ctx context.Context, envID string, elementIDs []string, from, to time.Time, includeWarnings bool) ([]models.SlaData, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	alerts AlertHandler
	states StateReader
	sla    SlaCalculator
	stream *Stream
	logger *logging.Logger
	now    func() time.Time
	checks map[string]HealthChecker
}

// NewHandler creates a handler. stream may be nil.
func NewHandler(alerts AlertHandler, states StateReader, calc SlaCalculator, stream *Stream, logger *logging.Logger) *Handler {
	return &Handler{
		alerts: alerts,
		states: states,
		sla:    calc,
		stream: stream,
		logger: logger,
		now:    time.Now,
		checks: make(map[string]HealthChecker),
	}
}

// AddHealthCheck registers a dependency reported by /health.
func (h *Handler) AddHealthCheck(name string, hc HealthChecker) {
	h.checks[name] = hc
}

// Health pings every registered dependency.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := gin.H{}
	for name, hc := range h.checks {
		if err := hc.HealthCheck(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	if len(deps) == 0 {
		c.JSON(code, gin.H{"status": status})
		return
	}
	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

type alertsResponse struct {
	pipeline.Result
	Error string `json:"error,omitempty"`
}

// PostAlerts accepts one alert object or an array of alerts.
func (h *Handler) PostAlerts(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	alerts, err := models.DecodeAlerts(body)
	if err != nil {
		h.logger.WithError(err).Warn("Invalid alert payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.alerts.Handle(c.Request.Context(), alerts)
	resp := alertsResponse{Result: res}
	if err != nil {
		resp.Error = err.Error()
		if res.Accepted == 0 && errors.Is(err, engine.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetEnvironmentState returns the whole state tree of an environment.
func (h *Handler) GetEnvironmentState(c *gin.Context) {
	h.state(c, c.Param("envId"), "")
}

// GetElementState returns the state subtree rooted at one element.
func (h *Handler) GetElementState(c *gin.Context) {
	h.state(c, c.Param("envId"), c.Param("elementId"))
}

func (h *Handler) state(c *gin.Context, envID, elementID string) {
	status, err := h.states.Status(c.Request.Context(), envID, elementID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetElementSla returns the availability of one element. With perDay=true
// the window is split into UTC days; with raw=true the clipped history
// segments are returned instead.
func (h *Handler) GetElementSla(c *gin.Context) {
	envID, elementID := c.Param("envId"), c.Param("elementId")
	from, to, err := h.window(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeWarnings, err := queryBool(c, "includeWarnings")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perDay, err := queryBool(c, "perDay")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, err := queryBool(c, "raw")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch {
	case raw:
		data, err := h.sla.ComputeRaw(ctx, envID, elementID, from, to)
		h.respond(c, data, err)
	case perDay:
		data, err := h.sla.ComputePerDay(ctx, envID, elementID, from, to, includeWarnings)
		h.respond(c, data, err)
	default:
		data, err := h.sla.Compute(ctx, envID, elementID, from, to, includeWarnings)
		h.respond(c, data, err)
	}
}

// GetEnvironmentSla computes several elements at once: ?elements=a,b,c.
func (h *Handler) GetEnvironmentSla(c *gin.Context) {
	var elementIDs []string
	for _, id := range strings.Split(c.Query("elements"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			elementIDs = append(elementIDs, id)
		}
	}
	if len(elementIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "elements is required"})
		return
	}
	from, to, err := h.window(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeWarnings, err := queryBool(c, "includeWarnings")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := h.sla.ComputeMany(c.Request.Context(), c.Param("envId"), elementIDs, from, to, includeWarnings)
	h.respond(c, data, err)
}

// Stream upgrades to a websocket carrying the environment's state changes.
func (h *Handler) Stream(c *gin.Context) {
	envID := c.Param("envId")
	if h.stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream disabled"})
		return
	}
	if _, err := h.states.Status(c.Request.Context(), envID, ""); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.stream.Serve(c.Writer, c.Request, envID); err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		// The upgrader has already written the error response.
		h.logger.WithError(err).WithField("environment", envID).Warn("Stream upgrade failed")
	}
}

// window reads from/to (RFC 3339). to defaults to now, from to 24h before to.
func (h *Handler) window(c *gin.Context) (time.Time, time.Time, error) {
	to := h.now()
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to: expected RFC 3339")
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from: expected RFC 3339")
		}
		from = t
	}
	return from, to, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid " + name + ": expected a boolean")
	}
	return b, nil
}

func (h *Handler) respond(c *gin.Context, data any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownEnvironment), errors.Is(err, engine.ErrUnknownElement):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sla.ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
