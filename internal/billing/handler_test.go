package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	ids  []int64
	fail error
}

func (f *fakeEnqueuer) EnqueueSubmit(saleID int64) error {
	if f.fail != nil {
		return f.fail
	}
	f.ids = append(f.ids, saleID)
	return nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *testEnv, *fakeEnqueuer) {
	t.Helper()
	env := newTestEnv(t)
	enq := &fakeEnqueuer{}
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc, enq)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, env, enq
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateSaleEndpointQueuesSubmission(t *testing.T) {
	r, _, enq := newTestRouter(t)

	rec := postJSON(t, r, "/sales", map[string]any{
		"series":           "B001",
		"buyer_doc_type":   "DNI",
		"buyer_doc_number": "45678912",
		"buyer_name":       "Maria Quispe",
		"items": []map[string]any{
			{"sku": "GAS-10KG", "name": "Balon de gas 10kg", "quantity": 1, "unit_price": "59.00"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		SaleID      int64  `json:"sale_id"`
		Correlative string `json:"correlative"`
		Status      string `json:"status"`
		Gross       string `json:"gross"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "B001-00000001", resp.Correlative)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "59.00", resp.Gross)
	assert.Equal(t, []int64{resp.SaleID}, enq.ids)
}

func TestCreateSaleEndpointValidation(t *testing.T) {
	r, _, enq := newTestRouter(t)

	rec := postJSON(t, r, "/sales", map[string]any{
		"series":         "B1",
		"buyer_doc_type": "DNI",
		"items":          []map[string]any{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, enq.ids)

	var problem struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.NotEmpty(t, problem.Errors)
}

func TestCreateSaleEndpointRejectsBadPrice(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := postJSON(t, r, "/sales", map[string]any{
		"series":           "B001",
		"buyer_doc_type":   "DNI",
		"buyer_doc_number": "45678912",
		"items": []map[string]any{
			{"name": "Gas", "quantity": 1, "unit_price": "-1.00"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSaleStatusEndpoint(t *testing.T) {
	r, env, _ := newTestRouter(t)
	sale := env.createSale(t, "25.00")

	rec := get(r, "/sales/1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status SaleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, sale.ID, status.SaleID)
	assert.Equal(t, StatusPending, status.Status)
	assert.Equal(t, "Pendiente", status.StatusDisplay)

	assert.Equal(t, http.StatusNotFound, get(r, "/sales/99/status").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/sales/abc/status").Code)
}

func TestSubmitEndpointShortCircuitsWhenAccepted(t *testing.T) {
	r, env, enq := newTestRouter(t)
	sale := env.createSale(t, "30.00")

	rec := postJSON(t, r, "/sales/1/submit", map[string]any{})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{sale.ID}, enq.ids)

	_, err := env.svc.Submit(context.Background(), sale.ID)
	require.NoError(t, err)

	rec = postJSON(t, r, "/sales/1/submit", map[string]any{})
	assert.Equal(t, http.StatusOK, rec.Code, "an accepted sale returns its stored status without queueing")
	assert.Len(t, enq.ids, 1)
}

func TestVoidEndpoint(t *testing.T) {
	r, env, _ := newTestRouter(t)
	env.createSale(t, "15.00")

	rec := postJSON(t, r, "/sales/1/void", map[string]any{"reason": "cliente desistió"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, r, "/sales/1/void", map[string]any{"reason": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestVoidEndpointRefusesAcceptedSale(t *testing.T) {
	r, env, _ := newTestRouter(t)
	sale := env.createSale(t, "20.00")
	_, err := env.svc.Submit(context.Background(), sale.ID)
	require.NoError(t, err)

	rec := postJSON(t, r, "/sales/1/void", map[string]any{"reason": "tarde"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResendEndpointRequiresFailedState(t *testing.T) {
	r, env, _ := newTestRouter(t)
	env.createSale(t, "10.00")

	rec := postJSON(t, r, "/sales/1/resend", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCurrentLimitEndpoint(t *testing.T) {
	r, env, _ := newTestRouter(t)
	sale := env.createSale(t, "118.00")
	_, err := env.svc.Submit(context.Background(), sale.ID)
	require.NoError(t, err)

	rec := get(r, "/limits/current")
	require.Equal(t, http.StatusOK, rec.Code)

	var status LimitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.TotalInvoiced.Equal(decimal.RequireFromString("118.00")))
	assert.Equal(t, AlertNormal, status.AlertLevel)
	assert.NotEmpty(t, status.RemainingDisplay)
}

func TestNextCorrelativeEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := get(r, "/correlatives/next?series=B001")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "B001-00000001", resp["next"])

	assert.Equal(t, http.StatusBadRequest, get(r, "/correlatives/next").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/correlatives/next?series=B999").Code)
}

func TestDownloadCDREndpoint(t *testing.T) {
	r, env, _ := newTestRouter(t)
	sale := env.createSale(t, "40.00")

	rec := get(r, "/sales/1/cdr")
	assert.Equal(t, http.StatusConflict, rec.Code, "no acknowledgment before acceptance")

	_, err := env.svc.Submit(context.Background(), sale.ID)
	require.NoError(t, err)

	rec = get(r, "/sales/1/cdr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "zip-bytes", rec.Body.String())
}
