package payments

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/queue"
	"github.com/aura-events/backend/pkg/response"
	"github.com/aura-events/backend/pkg/validate"
)

// HeaderWebhookSecret carries the shared secret configured for payment webhooks.
const HeaderWebhookSecret = "X-Webhook-Secret"

const (
	defaultUnlinkedLimit = 100
	maxUnlinkedLimit     = 1000
)

// WebhookPayload is the normalized transaction report the gateway integration layer forwards.
type WebhookPayload struct {
	ExternalID string          `json:"external_id" validate:"required,max=128"`
	Status     string          `json:"status" validate:"required,max=64"`
	Method     string          `json:"method" validate:"max=32"`
	Amount     decimal.Decimal `json:"amount"`
	Protocol   string          `json:"protocol" validate:"max=64"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
}

// Transaction converts the payload into a transaction for provider.
func (p WebhookPayload) Transaction(provider models.Provider) *models.PaymentTransaction {
	externalID := strings.TrimSpace(p.ExternalID)
	t := &models.PaymentTransaction{
		Provider:   provider,
		ExternalID: &externalID,
		Status:     NormalizeStatus(p.Status),
		RawStatus:  p.Status,
		Amount:     p.Amount.Round(2),
		Entity:     models.NewEntityRef(p.EntityType, p.EntityID),
	}
	if m := models.PaymentMethod(strings.ToUpper(strings.TrimSpace(p.Method))); m.Valid() {
		t.Method = m
	}
	if protocol := strings.TrimSpace(p.Protocol); protocol != "" {
		t.Protocol = &protocol
	}
	return t
}

// NormalizeStatus folds the status vocabularies providers use onto TransactionStatus.
// Anything unrecognized is treated as still pending.
func NormalizeStatus(raw string) models.TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "paid", "authorized", "completed", "succeeded":
		return models.TransactionApproved
	case "rejected", "failed", "declined", "denied":
		return models.TransactionFailed
	case "refunded", "charged_back", "chargeback":
		return models.TransactionRefunded
	case "cancelled", "canceled", "expired":
		return models.TransactionCanceled
	}
	return models.TransactionPending
}

// TransactionStore is the persistence the payments handler needs.
type TransactionStore interface {
	Upsert(ctx context.Context, t *models.PaymentTransaction) error
	ListUnlinked(ctx context.Context, approvedOnly bool, limit int) ([]*models.PaymentTransaction, error)
}

// Enqueuer hands transactions to the reconciliation worker.
type Enqueuer interface {
	EnqueueReconcileTransaction(ctx context.Context, payload queue.ReconcileTransactionPayload) error
}

// Handler handles payment webhooks and the operator views over transactions.
type Handler struct {
	store     TransactionStore
	queue     Enqueuer
	validator *validate.Validator
	secret    string
	logger    *zap.Logger
}

// NewHandler creates a payments handler. With an empty secret every webhook is refused.
func NewHandler(store TransactionStore, q Enqueuer, v *validate.Validator, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, queue: q, validator: v, secret: secret, logger: logger}
}

// Webhook handles POST /webhooks/payments/:provider. The transaction is stored synchronously and
// reconciled by the worker; a failed enqueue is picked up by the next batch.
func (h *Handler) Webhook(c *gin.Context) {
	got := c.GetHeader(HeaderWebhookSecret)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		response.Unauthorized(c, "invalid webhook secret")
		return
	}
	provider := models.Provider(strings.ToUpper(strings.TrimSpace(c.Param("provider"))))
	if provider == "" {
		response.BadRequest(c, "provider required")
		return
	}
	var req WebhookPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, err)
		return
	}
	if req.Amount.IsNegative() {
		response.Error(c, apperrors.Validation("amount: must not be negative"))
		return
	}

	t := req.Transaction(provider)
	if err := h.store.Upsert(c.Request.Context(), t); err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("payment webhook stored",
		zap.String("transaction_id", t.ID.String()),
		zap.String("provider", string(provider)),
		zap.String("status", string(t.Status)))

	if !t.Linked() || t.Status == models.TransactionApproved {
		err := h.queue.EnqueueReconcileTransaction(c.Request.Context(), queue.ReconcileTransactionPayload{
			TransactionID: t.ID,
			Source:        "webhook:" + string(provider),
		})
		if err != nil {
			h.logger.Warn("enqueue reconcile failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
		}
	}
	response.Accepted(c, gin.H{"transaction_id": t.ID, "status": t.Status})
}

// ListUnlinked handles GET /admin/transactions/unlinked?approved=true&limit=.
func (h *Handler) ListUnlinked(c *gin.Context) {
	var q struct {
		Approved bool `form:"approved"`
		Limit    int  `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	if q.Limit <= 0 {
		q.Limit = defaultUnlinkedLimit
	}
	if q.Limit > maxUnlinkedLimit {
		q.Limit = maxUnlinkedLimit
	}
	list, err := h.store.ListUnlinked(c.Request.Context(), q.Approved, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []*models.PaymentTransaction{}
	}
	response.OK(c, list)
}
