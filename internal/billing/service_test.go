package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickstmt/izisales/internal/billing/gateway"
	"github.com/mickstmt/izisales/internal/billing/ubl"
	"github.com/mickstmt/izisales/internal/storage"
	_ "github.com/mickstmt/izisales/internal/testing/guard"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu             sync.Mutex
	sales          map[int64]*Sale
	nextSaleID     int64
	correlatives   map[string]*Correlative
	nextCorrID     int64
	monthly        map[string]*MonthlyLimit
	failAcceptance error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		sales:        make(map[int64]*Sale),
		nextSaleID:   1,
		correlatives: make(map[string]*Correlative),
		nextCorrID:   1,
		monthly:      make(map[string]*MonthlyLimit),
	}
}

func corrKey(kind DocumentKind, series string) string {
	return string(kind) + "/" + series
}

func monthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

func (m *mockRepository) CreateSale(ctx context.Context, input CreateSaleInput) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	corr, ok := m.correlatives[corrKey(input.Kind, input.Series)]
	if !ok {
		return nil, fmt.Errorf("%w: series %s/%s", ErrNotFound, input.Kind, input.Series)
	}
	if !corr.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrSeriesInactive, input.Series)
	}
	number := corr.CurrentNumber + 1
	for _, s := range m.sales {
		if s.Kind == input.Kind && s.Series() == input.Series && !s.IsVoided && s.Number() >= number {
			number = s.Number() + 1
		}
	}
	now := time.Now().UTC()
	sale := &Sale{
		ID:          m.nextSaleID,
		Correlative: FormatCorrelative(input.Series, number),
		Kind:        input.Kind,
		Buyer:       input.Buyer,
		NetAmount:   input.Net,
		TaxAmount:   input.Tax,
		GrossAmount: input.Gross,
		Items:       append([]SaleItem(nil), input.Items...),
		Status:      StatusPending,
		IssuedAt:    input.IssuedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.nextSaleID++
	m.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (m *mockRepository) GetSale(ctx context.Context, id int64) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	return cloneSale(sale), nil
}

func (m *mockRepository) SetSaleDocument(ctx context.Context, id int64, xmlPath, hash, qrPayload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return ErrNotFound
	}
	sale.XMLPath = &xmlPath
	sale.DocumentHash = &hash
	sale.QRPayload = &qrPayload
	return nil
}

func (m *mockRepository) UpdateSaleSubmission(ctx context.Context, id int64, status SubmissionStatus, code, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return ErrNotFound
	}
	if sale.Status == StatusAccepted || sale.IsVoided {
		return fmt.Errorf("%w: sale %d is terminal", ErrInvalidTransition, id)
	}
	sale.Status = status
	sale.GatewayCode = &code
	sale.GatewayMessage = &message
	sale.SubmittedAt = &at
	return nil
}

func (m *mockRepository) MarkRemoteAcceptance(ctx context.Context, id int64, code, message string, cdrPath *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return ErrNotFound
	}
	sale.AcceptedRemotely = true
	sale.GatewayCode = &code
	sale.GatewayMessage = &message
	if cdrPath != nil {
		sale.CDRPath = cdrPath
	}
	sale.SubmittedAt = &at
	return nil
}

func (m *mockRepository) ResetSubmission(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return ErrNotFound
	}
	sale.Status = StatusPending
	sale.GatewayCode = nil
	sale.GatewayMessage = nil
	sale.SubmittedAt = nil
	sale.CDRPath = nil
	return nil
}

func (m *mockRepository) SetSaleCDRPath(ctx context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sale, ok := m.sales[id]; ok {
		sale.CDRPath = &path
	}
	return nil
}

func (m *mockRepository) SetSaleReceiptPath(ctx context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sale, ok := m.sales[id]; ok {
		sale.ReceiptPath = &path
	}
	return nil
}

func (m *mockRepository) ClearReceiptPath(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sale, ok := m.sales[id]; ok {
		sale.ReceiptPath = nil
	}
	return nil
}

func (m *mockRepository) VoidSale(ctx context.Context, id int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return ErrNotFound
	}
	if sale.IsVoided || sale.Status == StatusAccepted {
		return fmt.Errorf("%w: sale %d is terminal", ErrInvalidTransition, id)
	}
	sale.Status = StatusVoided
	sale.IsVoided = true
	sale.VoidedAt = &at
	sale.VoidReason = &reason
	return nil
}

func (m *mockRepository) RecordAcceptance(ctx context.Context, input AcceptanceInput) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAcceptance != nil {
		err := m.failAcceptance
		m.failAcceptance = nil
		return nil, err
	}
	sale, ok := m.sales[input.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", ErrNotFound, input.SaleID)
	}
	if sale.Status == StatusAccepted {
		return nil, ErrAlreadyAccepted
	}
	corr, ok := m.correlatives[corrKey(input.Kind, input.Series)]
	if !ok {
		return nil, fmt.Errorf("%w: series %s/%s", ErrNotFound, input.Kind, input.Series)
	}
	if input.Number != corr.CurrentNumber+1 {
		return nil, fmt.Errorf("%w: sale holds %d, counter at %d",
			ErrCorrelativeOutOfOrder, input.Number, corr.CurrentNumber)
	}
	limit, ok := m.monthly[monthKey(input.Year, input.Month)]
	if !ok {
		limit = &MonthlyLimit{Year: input.Year, Month: input.Month, TotalInvoiced: decimal.Zero}
		m.monthly[monthKey(input.Year, input.Month)] = limit
	}
	if limit.TotalInvoiced.Add(input.Amount).GreaterThan(input.BlockLimit) {
		return nil, fmt.Errorf("%w: month %s", ErrLimitExceeded, monthKey(input.Year, input.Month))
	}
	corr.CurrentNumber = input.Number
	corr.LastIssuedAt = &input.SubmittedAt
	limit.TotalInvoiced = limit.TotalInvoiced.Add(input.Amount)
	limit.TransactionCount++
	sale.Status = StatusAccepted
	sale.GatewayCode = &input.Code
	sale.GatewayMessage = &input.Message
	sale.SubmittedAt = &input.SubmittedAt
	if input.CDRPath != nil {
		sale.CDRPath = input.CDRPath
	}
	return cloneSale(sale), nil
}

func (m *mockRepository) ListRetryable(ctx context.Context, failedBefore time.Time, limit int) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sale
	for _, sale := range m.sales {
		if sale.Status != StatusError || sale.IsVoided || sale.SubmittedAt == nil {
			continue
		}
		if sale.SubmittedAt.Before(failedBefore) {
			out = append(out, *cloneSale(sale))
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepository) ListVoidedReceipts(ctx context.Context, voidedBefore time.Time) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sale
	for _, sale := range m.sales {
		if sale.IsVoided && sale.ReceiptPath != nil && sale.VoidedAt != nil && sale.VoidedAt.Before(voidedBefore) {
			out = append(out, *cloneSale(sale))
		}
	}
	return out, nil
}

func (m *mockRepository) DailyStats(ctx context.Context, day time.Time) (*DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	stats := &DailyStats{Day: start, TotalInvoiced: decimal.Zero}
	for _, sale := range m.sales {
		if sale.IsVoided || sale.IssuedAt.Before(start) || !sale.IssuedAt.Before(end) {
			continue
		}
		stats.Total++
		switch sale.Status {
		case StatusAccepted:
			stats.Accepted++
			stats.TotalInvoiced = stats.TotalInvoiced.Add(sale.GrossAmount)
		case StatusRejected:
			stats.Rejected++
		case StatusError:
			stats.Errored++
		case StatusPending:
			stats.Pending++
		}
	}
	return stats, nil
}

func (m *mockRepository) GetCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	corr, ok := m.correlatives[corrKey(kind, series)]
	if !ok {
		return nil, nil
	}
	clone := *corr
	return &clone, nil
}

func (m *mockRepository) EnsureCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := corrKey(kind, series)
	if corr, ok := m.correlatives[key]; ok {
		clone := *corr
		return &clone, nil
	}
	corr := &Correlative{
		ID:        m.nextCorrID,
		Kind:      kind,
		Series:    series,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	m.nextCorrID++
	m.correlatives[key] = corr
	clone := *corr
	return &clone, nil
}

func (m *mockRepository) GetMonthlyLimit(ctx context.Context, year int, month time.Month) (*MonthlyLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, ok := m.monthly[monthKey(year, month)]
	if !ok {
		return &MonthlyLimit{Year: year, Month: month, TotalInvoiced: decimal.Zero}, nil
	}
	clone := *limit
	return &clone, nil
}

func (m *mockRepository) failAcceptanceOnce(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAcceptance = err
}

func (m *mockRepository) setMonthlyTotal(year int, month time.Month, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monthly[monthKey(year, month)] = &MonthlyLimit{
		Year: year, Month: month, TotalInvoiced: total,
	}
}

func cloneSale(sale *Sale) *Sale {
	clone := *sale
	clone.Items = append([]SaleItem(nil), sale.Items...)
	return &clone
}

// ============================================================================
// FAKE GATEWAY AND RENDERER
// ============================================================================

type fakeGateway struct {
	mu      sync.Mutex
	results []*gateway.Result
	calls   int
	ack     []byte
}

func (f *fakeGateway) Submit(ctx context.Context, sub gateway.Submission) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx], nil
}

func (f *fakeGateway) FetchAcknowledgment(ctx context.Context, correlative string) ([]byte, error) {
	return f.ack, nil
}

func (f *fakeGateway) submitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct{}

func (fakeRenderer) Render(sale *Sale, issuer ubl.Issuer, qrPayload string) ([]byte, error) {
	return []byte("%PDF-1.4 fake " + sale.Correlative), nil
}

func accepted() *gateway.Result {
	return &gateway.Result{
		Outcome:        gateway.OutcomeAccepted,
		Code:           "2000",
		Message:        "Aceptado",
		Acknowledgment: []byte("zip-bytes"),
	}
}

// ============================================================================
// TEST HARNESS
// ============================================================================

type testEnv struct {
	svc   *Service
	repo  *mockRepository
	gw    *fakeGateway
	store *storage.Store
}

func newTestEnv(t *testing.T, results ...*gateway.Result) *testEnv {
	t.Helper()
	repo := newMockRepository()
	_, err := repo.EnsureCorrelative(context.Background(), KindBoleta, "B001")
	require.NoError(t, err)

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	if len(results) == 0 {
		results = []*gateway.Result{accepted()}
	}
	gw := &fakeGateway{results: results}

	tracker := NewLimitTracker(repo, nil, decimal.NewFromInt(5000), decimal.NewFromInt(8000))
	svc := NewService(ServiceConfig{
		Repo:     repo,
		Limits:   tracker,
		Gateway:  gw,
		Store:    store,
		Receipts: fakeRenderer{},
		Issuer: ubl.Issuer{
			RUC:       "20123456789",
			LegalName: "Bodega Central SAC",
			Address:   "Av. Grau 123, Lima",
			Ubigeo:    "150101",
		},
		TaxRate: decimal.NewFromFloat(0.18),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{svc: svc, repo: repo, gw: gw, store: store}
}

func (e *testEnv) createSale(t *testing.T, gross string) *Sale {
	t.Helper()
	price, err := decimal.NewFromString(gross)
	require.NoError(t, err)
	sale, err := e.svc.CreateSale(context.Background(), CreateSaleInput{
		Kind:   KindBoleta,
		Series: "B001",
		Buyer:  Buyer{DocType: BuyerDocDNI, DocNumber: "45678912", Name: "Maria Quispe"},
		Items: []SaleItem{
			{ProductSKU: "GAS-10KG", ProductName: "Balon de gas 10kg", Quantity: 1, UnitPrice: price},
		},
	})
	require.NoError(t, err)
	return sale
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateSaleReservesSequentialNumbers(t *testing.T) {
	env := newTestEnv(t)

	first := env.createSale(t, "59.00")
	second := env.createSale(t, "41.30")

	assert.Equal(t, "B001-00000001", first.Correlative)
	assert.Equal(t, "B001-00000002", second.Correlative)
	assert.Equal(t, StatusPending, first.Status)
}

func TestCreateSaleDerivesTaxFromInclusivePrices(t *testing.T) {
	env := newTestEnv(t)

	sale := env.createSale(t, "35.50")

	assert.True(t, sale.GrossAmount.Equal(decimal.RequireFromString("35.50")), "gross %s", sale.GrossAmount)
	assert.True(t, sale.NetAmount.Equal(decimal.RequireFromString("30.08")), "net %s", sale.NetAmount)
	assert.True(t, sale.TaxAmount.Equal(decimal.RequireFromString("5.42")), "tax %s", sale.TaxAmount)
}

func TestSubmitAcceptedAdvancesCounterAndCreditsMonth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "118.00")

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, outcome.Status)
	assert.Equal(t, "2000", outcome.Code)
	assert.False(t, outcome.Retryable)

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), corr.CurrentNumber)

	limit, err := env.repo.GetMonthlyLimit(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
	require.NoError(t, err)
	assert.True(t, limit.TotalInvoiced.Equal(decimal.RequireFromString("118.00")))
	assert.Equal(t, int64(1), limit.TransactionCount)

	status, err := env.svc.Status(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, status.HasDocument, "composed XML should be stored")
	assert.True(t, status.HasCDR, "acknowledgment should be stored")
	assert.True(t, status.HasReceipt, "receipt should be rendered")
	assert.False(t, status.CanResend)
}

func TestSubmitIsIdempotentAfterAcceptance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "50.00")

	first, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	second, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, 1, env.gw.submitCalls(), "gateway must not be contacted twice")

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), corr.CurrentNumber, "counter must advance exactly once")
}

func TestSubmitRejectionLeavesCounterAndMonthUntouched(t *testing.T) {
	env := newTestEnv(t, &gateway.Result{
		Outcome: gateway.OutcomeRejected,
		Code:    "4001",
		Message: "RUC del receptor inválido",
	})
	ctx := context.Background()
	sale := env.createSale(t, "80.00")

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, outcome.Status)
	assert.False(t, outcome.Retryable, "permanent rejections must not retry")

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), corr.CurrentNumber)

	limit, err := env.repo.GetMonthlyLimit(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
	require.NoError(t, err)
	assert.True(t, limit.TotalInvoiced.IsZero())
}

func TestSubmitTransientErrorIsRetryableAndResendKeepsNumber(t *testing.T) {
	env := newTestEnv(t,
		&gateway.Result{Outcome: gateway.OutcomeError, Code: "5000", Message: "Error interno de SUNAT"},
		accepted(),
	)
	ctx := context.Background()
	sale := env.createSale(t, "60.00")

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, outcome.Status)
	assert.True(t, outcome.Retryable)

	resent, err := env.svc.Resend(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, resent.Status)
	assert.Equal(t, sale.Correlative, resent.Correlative, "resubmission keeps the reserved number")

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), corr.CurrentNumber)
}

func TestSubmitBlocksBusinessRUCBeforeGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sale, err := env.svc.CreateSale(ctx, CreateSaleInput{
		Kind:   KindBoleta,
		Series: "B001",
		Buyer:  Buyer{DocType: BuyerDocRUC, DocNumber: "20512345678", Name: "Ferretería El Sol SAC"},
		Items: []SaleItem{
			{ProductName: "Cemento", Quantity: 2, UnitPrice: decimal.RequireFromString("32.90")},
		},
	})
	require.NoError(t, err)

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Errors)
	assert.Equal(t, 0, env.gw.submitCalls(), "validation failures never reach the gateway")

	status, err := env.svc.Status(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)
}

func TestSubmitAccumulatesAllViolations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.repo.setMonthlyTotal(time.Now().UTC().Year(), time.Now().UTC().Month(), decimal.NewFromInt(7990))

	sale, err := env.svc.CreateSale(ctx, CreateSaleInput{
		Kind:   KindBoleta,
		Series: "B001",
		Buyer:  Buyer{DocType: BuyerDocRUC, DocNumber: "20512345678"},
		Items: []SaleItem{
			{ProductName: "Taladro", Quantity: 1, UnitPrice: decimal.RequireFromString("250.00")},
		},
	})
	require.NoError(t, err)

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(outcome.Errors), 2, "all rule failures are reported together: %v", outcome.Errors)
	assert.Equal(t, 0, env.gw.submitCalls())
}

func TestSubmitRefusedWhenCeilingWouldBeCrossed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "200.00")
	env.repo.setMonthlyTotal(sale.IssuedAt.Year(), sale.IssuedAt.Month(), decimal.RequireFromString("7900.00"))

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Errors)
	assert.Equal(t, 0, env.gw.submitCalls())
}

func TestSubmitAllowsExactCeilingFill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "100.00")
	env.repo.setMonthlyTotal(sale.IssuedAt.Year(), sale.IssuedAt.Month(), decimal.RequireFromString("7900.00"))

	outcome, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, outcome.Status, "landing exactly on the ceiling is allowed: %v", outcome.Errors)
}

func TestSubmitWaitsForEarlierDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createSale(t, "10.00")
	second := env.createSale(t, "20.00")

	// The counter advances one acceptance at a time, so a later number may
	// not go out while an earlier one is still unfiled.
	outcome, err := env.svc.Submit(ctx, second.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Errors)
	assert.Equal(t, 0, env.gw.submitCalls(), "a held-back document never reaches the gateway")

	status, err := env.svc.Status(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)

	// In numeric order both documents file cleanly.
	got, err := env.svc.Submit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	got, err = env.svc.Submit(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), corr.CurrentNumber)
}

func TestAcceptanceOutOfOrderIsRefused(t *testing.T) {
	// The transaction re-checks the counter itself; even if a later number
	// slipped past the gate, the acceptance would not commit.
	repo := newMockRepository()
	ctx := context.Background()
	_, err := repo.EnsureCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)

	sale, err := repo.CreateSale(ctx, CreateSaleInput{
		Kind: KindBoleta, Series: "B001",
		Buyer:    Buyer{DocType: BuyerDocDNI, DocNumber: "45678912"},
		Items:    []SaleItem{{ProductName: "Gas", Quantity: 1, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(10)}},
		Gross:    decimal.NewFromInt(10),
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = repo.RecordAcceptance(ctx, AcceptanceInput{
		SaleID: sale.ID, Kind: KindBoleta, Series: "B001",
		Number: sale.Number() + 1, Amount: sale.GrossAmount,
		Year: sale.IssuedAt.Year(), Month: sale.IssuedAt.Month(),
		Code: "2000", SubmittedAt: time.Now().UTC(),
		BlockLimit: decimal.NewFromInt(8000),
	})
	assert.ErrorIs(t, err, ErrCorrelativeOutOfOrder)
}

func TestBookkeepingRefusalNeverRedispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "100.00")

	env.repo.failAcceptanceOnce(fmt.Errorf("deadlock detected"))
	_, err := env.svc.Submit(ctx, sale.ID)
	require.Error(t, err)

	stored, err := env.repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, stored.Status)
	assert.True(t, stored.AcceptedRemotely, "the gateway's acceptance must survive the refusal")
	require.NotNil(t, stored.GatewayCode)
	assert.Equal(t, "2000", *stored.GatewayCode)

	// The next attempt replays the bookkeeping from the stored response.
	outcome, err := env.svc.Resend(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, outcome.Status)
	assert.Equal(t, "2000", outcome.Code)
	assert.Equal(t, 1, env.gw.submitCalls(), "an accepted document is never dispatched twice")

	corr, err := env.repo.GetCorrelative(ctx, KindBoleta, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), corr.CurrentNumber)
	limit, err := env.repo.GetMonthlyLimit(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
	require.NoError(t, err)
	assert.True(t, limit.TotalInvoiced.Equal(decimal.RequireFromString("100.00")), "the month is credited exactly once")
	assert.Equal(t, int64(1), limit.TransactionCount)
}

func TestTerminalSaleRejectsLateOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "70.00")

	_, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)

	// A straggling duplicate response must not overwrite the acceptance.
	err = env.repo.UpdateSaleSubmission(ctx, sale.ID, StatusRejected, "4002", "duplicado", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = env.repo.VoidSale(ctx, sale.ID, "tarde", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err := env.svc.Status(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status.Status)
}

func TestPruneVoidedReceiptsDeletesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "20.00")
	require.NoError(t, env.svc.Void(ctx, sale.ID, "cliente desistió"))

	path, err := env.store.Write(storage.ClassReceipt, "20123456789-03-B001-00000001.pdf", []byte("%PDF-1.4 stale"))
	require.NoError(t, err)
	require.NoError(t, env.repo.SetSaleReceiptPath(ctx, sale.ID, path))

	removed, err := env.svc.PruneVoidedReceipts(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, env.store.Exists(path), "the artifact must actually be deleted")

	stored, err := env.repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReceiptPath)
}

func TestVoidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.createSale(t, "15.00")
	require.NoError(t, env.svc.Void(ctx, pending.ID, "cliente desistió"))
	status, err := env.svc.Status(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, status.Status)

	// Voiding twice is a no-op.
	require.NoError(t, env.svc.Void(ctx, pending.ID, "de nuevo"))

	filed := env.createSale(t, "25.00")
	_, err = env.svc.Submit(ctx, filed.ID)
	require.NoError(t, err)
	err = env.svc.Void(ctx, filed.ID, "tarde")
	assert.ErrorIs(t, err, ErrInvalidTransition, "accepted filings cannot be voided locally")
}

func TestResendRequiresFailedState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.createSale(t, "30.00")

	_, err := env.svc.Resend(ctx, sale.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitUnknownSale(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Submit(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestRetryCandidatesHonorsCooldown(t *testing.T) {
	env := newTestEnv(t, &gateway.Result{Outcome: gateway.OutcomeError, Code: "5001", Message: "caído"})
	ctx := context.Background()
	sale := env.createSale(t, "45.00")

	_, err := env.svc.Submit(ctx, sale.ID)
	require.NoError(t, err)

	// The failure just happened, so a one-hour cooldown excludes it.
	fresh, err := env.svc.RetryCandidates(ctx, time.Hour, 50)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	ready, err := env.svc.RetryCandidates(ctx, -time.Minute, 50)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, sale.ID, ready[0].ID)
}
