package reminders

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/response"
)

// Runner is the part of Scheduler the admin endpoints drive.
type Runner interface {
	Run(ctx context.Context, kind Kind, opts Options) (Summary, error)
	RunAll(ctx context.Context, opts Options) ([]Summary, error)
}

// RecordLister lists sent reminders.
type RecordLister interface {
	List(ctx context.Context, f ListFilter) ([]models.ReminderRecord, error)
}

// Handler exposes reminder batches to staff.
type Handler struct {
	runner  Runner
	records RecordLister
	logger  *zap.Logger
}

// NewHandler creates a reminders handler.
func NewHandler(runner Runner, records RecordLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, records: records, logger: logger}
}

// RunRequest is the optional body for POST /admin/reminders/:kind/run.
type RunRequest struct {
	DryRun bool `json:"dry_run"`
	Force  bool `json:"force"`
}

// Run handles POST /admin/reminders/:kind/run. kind is payment, course-details, session or all.
func (h *Handler) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	opts := Options{DryRun: req.DryRun, Force: req.Force}
	ctx := c.Request.Context()

	if c.Param("kind") == "all" {
		sums, err := h.runner.RunAll(ctx, opts)
		if err != nil {
			h.logger.Error("reminder batches failed", zap.Error(err))
			response.Internal(c, "reminder run failed")
			return
		}
		response.OK(c, sums)
		return
	}
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		response.BadRequest(c, "kind must be one of payment, course-details, session, all")
		return
	}
	sum, err := h.runner.Run(ctx, kind, opts)
	if err != nil {
		h.logger.Error("reminder batch failed", zap.String("kind", string(kind)), zap.Error(err))
		response.Internal(c, "reminder run failed")
		return
	}
	response.OK(c, sum)
}

// List handles GET /admin/reminders?type=payment_reminder&limit=50.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{Type: c.Query("type")}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "limit must be a number")
			return
		}
		f.Limit = n
	}
	list, err := h.records.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("list reminder records failed", zap.Error(err))
		response.Internal(c, "failed to list reminders")
		return
	}
	if list == nil {
		list = []models.ReminderRecord{}
	}
	response.OK(c, list)
}
