package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

// defaultListLimit bounds GET /imports responses when no limit is given.
const defaultListLimit = 20

// Runner is the interface the API uses to trigger and inspect import runs.
type Runner interface {
	StartRun(req engine.ImportRequest) (string, error)
	Status(id string) (engine.RunStatus, error)
	RecentRuns(n int) []engine.RunStatus
}

// StatsSource provides catalog aggregates for the stats endpoint.
type StatsSource interface {
	Statistics(ctx context.Context) (*types.CatalogStats, error)
}

// Handler serves the import API.
type Handler struct {
	runner  Runner
	stats   StatsSource
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler. stats may be nil when no catalog store is
// configured; the stats endpoint then reports unavailable.
func NewHandler(runner Runner, stats StatsSource, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		runner:  runner,
		stats:   stats,
		metrics: metrics,
		logger:  logger.With("component", "api"),
	}
}

// importRequest is the POST /api/v1/imports payload.
type importRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Domain string `json:"domain"`
}

// CreateImport starts a background import run and returns its id.
func (h *Handler) CreateImport(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "import engine not available"})
		return
	}

	var body importRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	id, err := h.runner.StartRun(engine.ImportRequest{
		Query:  body.Query,
		Limit:  body.Limit,
		Domain: body.Domain,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("import run accepted", "run_id", id, "query", body.Query)
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

// GetImport returns the status of one run.
func (h *Handler) GetImport(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "import engine not available"})
		return
	}

	st, err := h.runner.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListImports returns recent runs, newest first.
func (h *Handler) ListImports(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "import engine not available"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs := h.runner.RecentRuns(limit)
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetStats returns catalog aggregates plus operational counters.
func (h *Handler) GetStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": types.ErrNoStore.Error()})
		return
	}

	catalog, err := h.stats.Statistics(c.Request.Context())
	if err != nil {
		h.logger.Error("statistics query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect statistics"})
		return
	}

	resp := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"catalog":   catalog,
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": config.Version,
	})
}
