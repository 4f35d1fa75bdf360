package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/queue"
	"github.com/aura-events/backend/pkg/validate"
)

type memTransactions struct {
	byExternal map[string]*models.PaymentTransaction
}

func (m *memTransactions) Upsert(_ context.Context, t *models.PaymentTransaction) error {
	key := string(t.Provider) + "/" + *t.ExternalID
	if existing, ok := m.byExternal[key]; ok {
		t.ID = existing.ID
		t.RegistrationID = existing.RegistrationID
	} else {
		t.ID = uuid.New()
		t.CreatedAt = time.Now()
	}
	cp := *t
	m.byExternal[key] = &cp
	return nil
}

func (m *memTransactions) ListUnlinked(_ context.Context, approvedOnly bool, limit int) ([]*models.PaymentTransaction, error) {
	var out []*models.PaymentTransaction
	for _, t := range m.byExternal {
		if !t.Linked() && (!approvedOnly || t.Status == models.TransactionApproved) {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingQueue struct {
	jobs []queue.ReconcileTransactionPayload
	err  error
}

func (q *recordingQueue) EnqueueReconcileTransaction(_ context.Context, p queue.ReconcileTransactionPayload) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, p)
	return nil
}

func newWebhookRouter(store *memTransactions, q *recordingQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, q, validate.New(), "s3cret", nil)
	r := gin.New()
	r.POST("/webhooks/payments/:provider", h.Webhook)
	r.GET("/admin/transactions/unlinked", h.ListUnlinked)
	return r
}

func postWebhook(r *gin.Engine, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/mercado_pago", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(HeaderWebhookSecret, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook(t *testing.T) {
	const body = `{"external_id":"mp-1","status":"approved","method":"pix","amount":"150.00","protocol":"EVE-20250101-ABC123","entity_type":"event_registration","entity_id":"not-a-uuid"}`

	tests := []struct {
		name   string
		secret string
		body   string
		status int
		jobs   int
	}{
		{"missing secret", "", body, http.StatusUnauthorized, 0},
		{"wrong secret", "nope", body, http.StatusUnauthorized, 0},
		{"missing external id", "s3cret", `{"status":"approved","amount":"1"}`, http.StatusBadRequest, 0},
		{"negative amount", "s3cret", `{"external_id":"x","status":"approved","amount":"-1"}`, http.StatusBadRequest, 0},
		{"accepted", "s3cret", body, http.StatusAccepted, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memTransactions{byExternal: map[string]*models.PaymentTransaction{}}
			q := &recordingQueue{}
			w := postWebhook(newWebhookRouter(store, q), tt.secret, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Len(t, q.jobs, tt.jobs)
		})
	}
}

func TestWebhookStoresNormalizedTransaction(t *testing.T) {
	store := &memTransactions{byExternal: map[string]*models.PaymentTransaction{}}
	q := &recordingQueue{}
	r := newWebhookRouter(store, q)

	w := postWebhook(r, "s3cret", `{"external_id":"mp-1","status":"approved","method":"pix","amount":150.456,"protocol":" EVE-1 ","entity_type":"EVENT","entity_id":"bogus"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	stored := store.byExternal["MERCADO_PAGO/mp-1"]
	require.NotNil(t, stored)
	assert.Equal(t, models.TransactionApproved, stored.Status)
	assert.Equal(t, "approved", stored.RawStatus)
	assert.Equal(t, models.MethodPix, stored.Method)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("150.46")))
	assert.Equal(t, "EVE-1", *stored.Protocol)
	assert.True(t, stored.Entity.IsZero(), "unparsable entity hints are dropped")
	require.Len(t, q.jobs, 1)
	assert.Equal(t, stored.ID, q.jobs[0].TransactionID)
	assert.Equal(t, "webhook:MERCADO_PAGO", q.jobs[0].Source)
}

func TestWebhookSurvivesEnqueueFailure(t *testing.T) {
	store := &memTransactions{byExternal: map[string]*models.PaymentTransaction{}}
	w := postWebhook(newWebhookRouter(store, &recordingQueue{err: errors.New("redis down")}), "s3cret",
		`{"external_id":"mp-2","status":"pending","amount":"10"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, store.byExternal, 1)
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]models.TransactionStatus{
		"approved":     models.TransactionApproved,
		"PAID":         models.TransactionApproved,
		"rejected":     models.TransactionFailed,
		"charged_back": models.TransactionRefunded,
		"cancelled":    models.TransactionCanceled,
		"in_process":   models.TransactionPending,
		"":             models.TransactionPending,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}

func TestListUnlinked(t *testing.T) {
	linked := uuid.New()
	store := &memTransactions{byExternal: map[string]*models.PaymentTransaction{
		"a": {ID: uuid.New(), Status: models.TransactionApproved},
		"b": {ID: uuid.New(), Status: models.TransactionPending},
		"c": {ID: uuid.New(), Status: models.TransactionApproved, RegistrationID: &linked},
	}}
	r := newWebhookRouter(store, &recordingQueue{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/transactions/unlinked?approved=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/transactions/unlinked", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}
