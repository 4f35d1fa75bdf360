package reconcile

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/pkg/queue"
	"github.com/aura-events/backend/pkg/response"
)

// Enqueuer hands batch runs to the worker.
type Enqueuer interface {
	EnqueueReconcileAll(ctx context.Context, payload queue.ReconcileAllPayload) error
}

// Presigner turns an archive key into a download link.
type Presigner interface {
	PresignedReportURL(ctx context.Context, key string) (string, error)
}

// Handler exposes reconciliation to operators.
type Handler struct {
	matcher   *Matcher
	job       *Job
	queue     Enqueuer
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates a reconcile handler. queue and presigner may be nil.
func NewHandler(matcher *Matcher, job *Job, q Enqueuer, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{matcher: matcher, job: job, queue: q, presigner: presigner, logger: logger}
}

// RunAll handles POST /admin/reconcile. With ?async=true the batch is queued for the worker.
func (h *Handler) RunAll(c *gin.Context) {
	if c.Query("async") == "true" && h.queue != nil {
		requestedBy := "admin"
		if p, ok := middleware.Principal(c); ok {
			requestedBy = p.UserID.String()
		}
		if err := h.queue.EnqueueReconcileAll(c.Request.Context(), queue.ReconcileAllPayload{RequestedBy: requestedBy}); err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, gin.H{"queued": true})
		return
	}

	report, err := h.job.ReconcileAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	out := gin.H{"report": report}
	if report.ArchiveKey != "" && h.presigner != nil {
		if url, err := h.presigner.PresignedReportURL(c.Request.Context(), report.ArchiveKey); err == nil {
			out["report_url"] = url
		} else {
			h.logger.Warn("presign report failed", zap.String("key", report.ArchiveKey), zap.Error(err))
		}
	}
	response.OK(c, out)
}

// RunOne handles POST /admin/reconcile/transactions/:id.
func (h *Handler) RunOne(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid transaction id")
		return
	}
	out, err := h.matcher.ReconcileOne(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, out)
}
