package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mickstmt/izisales/internal/billing/gateway"
	"github.com/mickstmt/izisales/internal/billing/ubl"
	"github.com/mickstmt/izisales/internal/storage"
)

// Domain errors.
var (
	ErrSaleNotFound = errors.New("billing: sale not found")
	// ErrInvalidTransition guards the sale state machine; voiding an
	// accepted filing requires a separate cancellation document and is not
	// allowed here.
	ErrInvalidTransition = errors.New("billing: invalid state transition")
	// ErrCorrelativeOutOfOrder means the sale's reserved number is not the
	// next one on the counter. Accepting it would create a gap or a
	// duplicate; treated as an invariant violation, never retried silently.
	ErrCorrelativeOutOfOrder = errors.New("billing: correlative out of order")
	// ErrAlreadyAccepted guards against crediting a sale twice.
	ErrAlreadyAccepted = errors.New("billing: sale already accepted")
)

// RepositoryPort defines data access for the compliance pipeline.
type RepositoryPort interface {
	CreateSale(ctx context.Context, input CreateSaleInput) (*Sale, error)
	GetSale(ctx context.Context, id int64) (*Sale, error)
	SetSaleDocument(ctx context.Context, id int64, xmlPath, hash, qrPayload string) error
	UpdateSaleSubmission(ctx context.Context, id int64, status SubmissionStatus, code, message string, at time.Time) error
	MarkRemoteAcceptance(ctx context.Context, id int64, code, message string, cdrPath *string, at time.Time) error
	ResetSubmission(ctx context.Context, id int64) error
	SetSaleCDRPath(ctx context.Context, id int64, path string) error
	SetSaleReceiptPath(ctx context.Context, id int64, path string) error
	VoidSale(ctx context.Context, id int64, reason string, at time.Time) error
	RecordAcceptance(ctx context.Context, input AcceptanceInput) (*Sale, error)
	ListRetryable(ctx context.Context, failedBefore time.Time, limit int) ([]Sale, error)
	ListVoidedReceipts(ctx context.Context, voidedBefore time.Time) ([]Sale, error)
	ClearReceiptPath(ctx context.Context, id int64) error
	DailyStats(ctx context.Context, day time.Time) (*DailyStats, error)

	GetCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error)
	EnsureCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error)
	GetMonthlyLimit(ctx context.Context, year int, month time.Month) (*MonthlyLimit, error)
}

// GatewayPort is the synchronous PSE transport.
type GatewayPort interface {
	Submit(ctx context.Context, sub gateway.Submission) (*gateway.Result, error)
	FetchAcknowledgment(ctx context.Context, correlative string) ([]byte, error)
}

// ReceiptRenderer produces the printable receipt for an accepted sale.
type ReceiptRenderer interface {
	Render(sale *Sale, issuer ubl.Issuer, qrPayload string) ([]byte, error)
}

// CreateSaleInput is the point-of-sale order. The correlative is reserved
// inside the same transaction that stores the sale.
type CreateSaleInput struct {
	Kind     DocumentKind
	Series   string
	Buyer    Buyer
	Items    []SaleItem
	Net      decimal.Decimal
	Tax      decimal.Decimal
	Gross    decimal.Decimal
	IssuedAt time.Time
}

// AcceptanceInput carries everything RecordAcceptance must apply atomically:
// the counter advance, the revenue commit and the terminal status update are
// the legal consequences of one successful filing and happen together or not
// at all.
type AcceptanceInput struct {
	SaleID       int64
	Kind         DocumentKind
	Series       string
	Number       int64
	Amount       decimal.Decimal
	Year         int
	Month        time.Month
	Code         string
	Message      string
	CDRPath      *string
	SubmittedAt  time.Time
	WarningLimit decimal.Decimal
	BlockLimit   decimal.Decimal
}

// DailyStats aggregates one day of submissions for the nightly report.
type DailyStats struct {
	Day           time.Time       `json:"day"`
	Total         int             `json:"total"`
	Accepted      int             `json:"accepted"`
	Rejected      int             `json:"rejected"`
	Errored       int             `json:"errored"`
	Pending       int             `json:"pending"`
	TotalInvoiced decimal.Decimal `json:"total_invoiced"`
}

// Outcome is the result of one submission attempt, returned as data rather
// than thrown: validation failures and permanent rejections are terminal for
// the attempt, transient failures mark the outcome retryable for the queue.
type Outcome struct {
	SaleID      int64            `json:"sale_id"`
	Correlative string           `json:"correlative"`
	Status      SubmissionStatus `json:"status"`
	Code        string           `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
	Retryable   bool             `json:"retryable"`
}

// SaleStatus is the polling read model.
type SaleStatus struct {
	SaleID        int64            `json:"sale_id"`
	Correlative   string           `json:"correlative"`
	Status        SubmissionStatus `json:"status"`
	StatusDisplay string           `json:"status_display"`
	Code          string           `json:"code,omitempty"`
	Message       string           `json:"message,omitempty"`
	SubmittedAt   *time.Time       `json:"submitted_at,omitempty"`
	CanResend     bool             `json:"can_resend"`
	HasDocument   bool             `json:"has_document"`
	HasCDR        bool             `json:"has_cdr"`
	HasReceipt    bool             `json:"has_receipt"`
}

// Service drives a sale through validation, composition, gateway submission
// and acceptance bookkeeping.
type Service struct {
	repo      RepositoryPort
	allocator *Allocator
	limits    *LimitTracker
	gate      *Gate
	gw        GatewayPort
	store     *storage.Store
	receipts  ReceiptRenderer
	issuer    ubl.Issuer
	taxRate   decimal.Decimal
	logger    *slog.Logger
	clock     func() time.Time
}

// ServiceConfig collects the orchestrator dependencies.
type ServiceConfig struct {
	Repo     RepositoryPort
	Limits   *LimitTracker
	Gateway  GatewayPort
	Store    *storage.Store
	Receipts ReceiptRenderer
	Issuer   ubl.Issuer
	TaxRate  decimal.Decimal
	Logger   *slog.Logger
}

// NewService builds the submission orchestrator.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:      cfg.Repo,
		allocator: NewAllocator(cfg.Repo),
		limits:    cfg.Limits,
		gate:      NewGate(cfg.Limits, cfg.Repo),
		gw:        cfg.Gateway,
		store:     cfg.Store,
		receipts:  cfg.Receipts,
		issuer:    cfg.Issuer,
		taxRate:   cfg.TaxRate,
		logger:    cfg.Logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Allocator exposes the correlative component for display and startup
// seeding.
func (s *Service) Allocator() *Allocator {
	return s.allocator
}

// Limits exposes the monthly tracker read model.
func (s *Service) Limits() *LimitTracker {
	return s.limits
}

// CreateSale snapshots a completed point-of-sale order and reserves its
// correlative. The number is assigned exactly once and survives every
// later resubmission.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (*Sale, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: sale requires at least one item", ErrInvalidTransition)
	}
	if input.Kind == "" {
		input.Kind = KindBoleta
	}
	if input.IssuedAt.IsZero() {
		input.IssuedAt = s.clock()
	}

	for i := range input.Items {
		item := &input.Items[i]
		if item.LineTotal.IsZero() {
			item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
		}
	}
	totals := Sale{Items: input.Items}
	totals.ComputeTotals(s.taxRate)
	input.Gross = totals.GrossAmount
	input.Net = totals.NetAmount
	input.Tax = totals.TaxAmount

	sale, err := s.repo.CreateSale(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("billing: create sale: %w", err)
	}
	s.logger.Info("sale created",
		slog.Int64("sale_id", sale.ID),
		slog.String("correlative", sale.Correlative),
		slog.String("gross", sale.GrossAmount.StringFixed(2)))
	return sale, nil
}

// Submit runs the full pipeline for one sale. Submitting an already
// accepted sale is a no-op returning the stored outcome; the gateway is
// never contacted twice for the same acceptance.
func (s *Service) Submit(ctx context.Context, saleID int64) (*Outcome, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("billing: load sale %d: %w", saleID, err)
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}

	if sale.Status == StatusAccepted {
		return s.storedOutcome(sale), nil
	}

	if sale.AcceptedRemotely {
		// The gateway already accepted this document on an earlier attempt
		// but the local bookkeeping did not land. Replay the bookkeeping
		// from the stored response; dispatching again would come back as a
		// duplicate-filing rejection.
		result := &gateway.Result{Outcome: gateway.OutcomeAccepted, Code: "2000", Message: "Aceptado"}
		if sale.GatewayCode != nil {
			result.Code = *sale.GatewayCode
		}
		if sale.GatewayMessage != nil {
			result.Message = *sale.GatewayMessage
		}
		s.logger.Info("replaying acceptance bookkeeping",
			slog.Int64("sale_id", sale.ID),
			slog.String("correlative", sale.Correlative))
		return s.recordAcceptance(ctx, sale, result, s.clock())
	}

	if errs := s.gate.Check(ctx, sale); len(errs) > 0 {
		s.logger.Warn("submission blocked by validation",
			slog.Int64("sale_id", sale.ID),
			slog.Int("violations", len(errs)))
		return &Outcome{
			SaleID:      sale.ID,
			Correlative: sale.Correlative,
			Status:      sale.Status,
			Message:     "Validación fallida",
			Errors:      errs,
		}, nil
	}

	xmlDoc, qrPayload, err := s.compose(sale)
	if err != nil {
		s.markError(ctx, sale, "COMPOSE", err.Error())
		return nil, err
	}
	hash := sha256.Sum256(xmlDoc)
	docHash := hex.EncodeToString(hash[:])

	xmlName := storage.DocumentName(s.issuer.RUC, sale.Kind.ElectronicTypeCode(), sale.Series(), numberPart(sale), "xml")
	xmlPath, err := s.store.Write(storage.ClassXML, xmlName, xmlDoc)
	if err != nil {
		s.markError(ctx, sale, "STORAGE", err.Error())
		return nil, err
	}
	if err := s.repo.SetSaleDocument(ctx, sale.ID, xmlPath, docHash, qrPayload); err != nil {
		s.markError(ctx, sale, "PERSIST", err.Error())
		return nil, fmt.Errorf("billing: persist document refs %d: %w", sale.ID, err)
	}

	s.logger.Info("submitting document",
		slog.Int64("sale_id", sale.ID),
		slog.String("correlative", sale.Correlative))

	result, err := s.gw.Submit(ctx, gateway.Submission{
		XML:         xmlDoc,
		TypeCode:    sale.Kind.ElectronicTypeCode(),
		Series:      sale.Series(),
		Number:      numberPart(sale),
		Correlative: sale.Correlative,
		IssuerRUC:   s.issuer.RUC,
	})
	if err != nil {
		s.markError(ctx, sale, "DISPATCH", err.Error())
		return nil, err
	}

	now := s.clock()
	switch result.Outcome {
	case gateway.OutcomeAccepted:
		return s.recordAcceptance(ctx, sale, result, now)

	case gateway.OutcomeRejected:
		if err := s.repo.UpdateSaleSubmission(ctx, sale.ID, StatusRejected, result.Code, result.Message, now); err != nil {
			return nil, fmt.Errorf("billing: record rejection %d: %w", sale.ID, err)
		}
		s.logger.Warn("document rejected",
			slog.Int64("sale_id", sale.ID),
			slog.String("correlative", sale.Correlative),
			slog.String("code", result.Code),
			slog.String("reason", result.Message))
		return &Outcome{
			SaleID:      sale.ID,
			Correlative: sale.Correlative,
			Status:      StatusRejected,
			Code:        result.Code,
			Message:     result.Message,
		}, nil

	default:
		if err := s.repo.UpdateSaleSubmission(ctx, sale.ID, StatusError, result.Code, result.Message, now); err != nil {
			return nil, fmt.Errorf("billing: record gateway error %d: %w", sale.ID, err)
		}
		s.logger.Warn("transient gateway failure",
			slog.Int64("sale_id", sale.ID),
			slog.String("correlative", sale.Correlative),
			slog.String("code", result.Code))
		return &Outcome{
			SaleID:      sale.ID,
			Correlative: sale.Correlative,
			Status:      StatusError,
			Code:        result.Code,
			Message:     result.Message,
			Retryable:   true,
		}, nil
	}
}

func (s *Service) recordAcceptance(ctx context.Context, sale *Sale, result *gateway.Result, now time.Time) (*Outcome, error) {
	var cdrPath *string
	if len(result.Acknowledgment) > 0 {
		name := storage.AcknowledgmentName(s.issuer.RUC, sale.Kind.ElectronicTypeCode(), sale.Series(), numberPart(sale))
		path, err := s.store.Write(storage.ClassCDR, name, result.Acknowledgment)
		if err != nil {
			// The acknowledgment can be re-fetched later; the acceptance
			// itself must still be recorded.
			s.logger.Error("persist acknowledgment failed",
				slog.Int64("sale_id", sale.ID),
				slog.Any("error", err))
		} else {
			cdrPath = &path
		}
	}

	if !sale.AcceptedRemotely {
		// Persist the gateway's answer before the bookkeeping transaction.
		// Should that transaction be refused, the flag keeps every later
		// attempt on the replay path instead of dispatching again.
		if err := s.repo.MarkRemoteAcceptance(ctx, sale.ID, result.Code, result.Message, cdrPath, now); err != nil {
			s.logger.Error("persist remote acceptance failed",
				slog.Int64("sale_id", sale.ID),
				slog.String("correlative", sale.Correlative),
				slog.Any("error", err))
		}
	}

	warning, block := s.limits.Thresholds()
	accepted, err := s.repo.RecordAcceptance(ctx, AcceptanceInput{
		SaleID:       sale.ID,
		Kind:         sale.Kind,
		Series:       sale.Series(),
		Number:       sale.Number(),
		Amount:       sale.GrossAmount,
		Year:         sale.IssuedAt.Year(),
		Month:        sale.IssuedAt.Month(),
		Code:         result.Code,
		Message:      result.Message,
		CDRPath:      cdrPath,
		SubmittedAt:  now,
		WarningLimit: warning,
		BlockLimit:   block,
	})
	if err != nil {
		// The gateway accepted but the local bookkeeping refused. The
		// accepted-remotely flag is already persisted, so the next attempt
		// replays this bookkeeping only; the stored gateway response stays
		// intact for that replay.
		s.logger.Error("acceptance bookkeeping failed",
			slog.Int64("sale_id", sale.ID),
			slog.String("correlative", sale.Correlative),
			slog.Any("error", err))
		s.markError(ctx, sale, result.Code, result.Message)
		return nil, err
	}

	s.limits.Invalidate(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
	s.alertOnCrossing(ctx, sale)
	s.logger.Info("document accepted",
		slog.Int64("sale_id", accepted.ID),
		slog.String("correlative", accepted.Correlative),
		slog.String("code", result.Code))

	s.renderReceipt(ctx, accepted)

	return &Outcome{
		SaleID:      accepted.ID,
		Correlative: accepted.Correlative,
		Status:      StatusAccepted,
		Code:        result.Code,
		Message:     result.Message,
	}, nil
}

// alertOnCrossing raises a tiered alert when this acceptance moved the
// month across the warning or blocking threshold. Alerts fire on the
// crossing, not on every acceptance above it.
func (s *Service) alertOnCrossing(ctx context.Context, sale *Sale) {
	status, err := s.limits.Status(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
	if err != nil {
		s.logger.Warn("limit status after acceptance failed", slog.Any("error", err))
		return
	}
	warning, block := s.limits.Thresholds()
	prevLevel, _ := LevelFor(status.TotalInvoiced.Sub(sale.GrossAmount), warning, block)
	if status.AlertLevel == prevLevel {
		return
	}
	switch status.AlertLevel {
	case AlertBlocked:
		s.logger.Error("monthly revenue ceiling reached",
			slog.String("total", status.TotalInvoiced.StringFixed(2)),
			slog.String("ceiling", block.StringFixed(2)))
	case AlertWarning:
		s.logger.Warn("monthly revenue crossed warning threshold",
			slog.String("total", status.TotalInvoiced.StringFixed(2)),
			slog.String("remaining", status.Remaining.StringFixed(2)))
	}
}

// renderReceipt produces the printable artifact after acceptance. A renderer
// failure never fails the submission; the filing already happened.
func (s *Service) renderReceipt(ctx context.Context, sale *Sale) {
	if s.receipts == nil {
		return
	}
	qr := ""
	if sale.QRPayload != nil {
		qr = *sale.QRPayload
	}
	pdf, err := s.receipts.Render(sale, s.issuer, qr)
	if err != nil {
		s.logger.Error("render receipt failed",
			slog.Int64("sale_id", sale.ID),
			slog.Any("error", err))
		return
	}
	name := storage.DocumentName(s.issuer.RUC, sale.Kind.ElectronicTypeCode(), sale.Series(), numberPart(sale), "pdf")
	path, err := s.store.Write(storage.ClassReceipt, name, pdf)
	if err != nil {
		s.logger.Error("persist receipt failed",
			slog.Int64("sale_id", sale.ID),
			slog.Any("error", err))
		return
	}
	if err := s.repo.SetSaleReceiptPath(ctx, sale.ID, path); err != nil {
		s.logger.Error("persist receipt path failed",
			slog.Int64("sale_id", sale.ID),
			slog.Any("error", err))
	}
}

// Resend pushes a failed or rejected sale through the pipeline again with
// its original correlative. Response metadata is reset; the number never is.
func (s *Service) Resend(ctx context.Context, saleID int64) (*Outcome, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("billing: load sale %d: %w", saleID, err)
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	if !sale.CanResend() {
		return nil, fmt.Errorf("%w: cannot resend sale in state %s", ErrInvalidTransition, sale.Status)
	}
	if !sale.AcceptedRemotely {
		// A remotely accepted sale keeps its stored gateway response; the
		// replay path in Submit needs it.
		if err := s.repo.ResetSubmission(ctx, saleID); err != nil {
			return nil, fmt.Errorf("billing: reset submission %d: %w", saleID, err)
		}
	}
	s.logger.Info("resending sale",
		slog.Int64("sale_id", saleID),
		slog.String("correlative", sale.Correlative))
	return s.Submit(ctx, saleID)
}

// Void cancels a sale that has not been filed. Accepted filings cannot be
// voided here; that requires the separate cancellation-document workflow.
func (s *Service) Void(ctx context.Context, saleID int64, reason string) error {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return fmt.Errorf("billing: load sale %d: %w", saleID, err)
	}
	if sale == nil {
		return ErrSaleNotFound
	}
	if sale.IsVoided {
		return nil
	}
	if sale.Status != StatusPending && sale.Status != StatusError {
		return fmt.Errorf("%w: cannot void sale in state %s", ErrInvalidTransition, sale.Status)
	}
	if sale.AcceptedRemotely {
		return fmt.Errorf("%w: sale %s was accepted by the gateway", ErrInvalidTransition, sale.Correlative)
	}
	if err := s.repo.VoidSale(ctx, saleID, reason, s.clock()); err != nil {
		return fmt.Errorf("billing: void sale %d: %w", saleID, err)
	}
	s.logger.Info("sale voided",
		slog.Int64("sale_id", saleID),
		slog.String("reason", reason))
	return nil
}

// Status returns the polling read model for one sale.
func (s *Service) Status(ctx context.Context, saleID int64) (*SaleStatus, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("billing: load sale %d: %w", saleID, err)
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	status := &SaleStatus{
		SaleID:        sale.ID,
		Correlative:   sale.Correlative,
		Status:        sale.Status,
		StatusDisplay: sale.StatusDisplay(),
		SubmittedAt:   sale.SubmittedAt,
		CanResend:     sale.CanResend(),
		HasDocument:   sale.XMLPath != nil && s.store.Exists(*sale.XMLPath),
		HasCDR:        sale.CDRPath != nil && s.store.Exists(*sale.CDRPath),
		HasReceipt:    sale.ReceiptPath != nil && s.store.Exists(*sale.ReceiptPath),
	}
	if sale.GatewayCode != nil {
		status.Code = *sale.GatewayCode
	}
	if sale.GatewayMessage != nil {
		status.Message = *sale.GatewayMessage
	}
	return status, nil
}

// Acknowledgment returns the stored acknowledgment for an accepted sale,
// re-downloading it from the gateway when the local copy is missing.
func (s *Service) Acknowledgment(ctx context.Context, saleID int64) ([]byte, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("billing: load sale %d: %w", saleID, err)
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	if sale.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: no acknowledgment before acceptance", ErrInvalidTransition)
	}
	if sale.CDRPath != nil && s.store.Exists(*sale.CDRPath) {
		return s.store.Read(*sale.CDRPath)
	}

	data, err := s.gw.FetchAcknowledgment(ctx, sale.Correlative)
	if err != nil {
		return nil, err
	}
	name := storage.AcknowledgmentName(s.issuer.RUC, sale.Kind.ElectronicTypeCode(), sale.Series(), numberPart(sale))
	path, err := s.store.Write(storage.ClassCDR, name, data)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetSaleCDRPath(ctx, saleID, path); err != nil {
		s.logger.Warn("persist acknowledgment path failed",
			slog.Int64("sale_id", saleID),
			slog.Any("error", err))
	}
	return data, nil
}

// RetryCandidates lists erred sales whose last attempt is older than the
// cooldown, capped to keep one scan bounded.
func (s *Service) RetryCandidates(ctx context.Context, cooldown time.Duration, limit int) ([]Sale, error) {
	return s.repo.ListRetryable(ctx, s.clock().Add(-cooldown), limit)
}

// DailyReport aggregates the day's submissions.
func (s *Service) DailyReport(ctx context.Context, day time.Time) (*DailyStats, error) {
	return s.repo.DailyStats(ctx, day)
}

// PruneVoidedReceipts deletes receipt artifacts of voided sales older than
// the cutoff.
func (s *Service) PruneVoidedReceipts(ctx context.Context, cutoff time.Time) (int, error) {
	sales, err := s.repo.ListVoidedReceipts(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sale := range sales {
		if sale.ReceiptPath == nil {
			continue
		}
		existed := s.store.Exists(*sale.ReceiptPath)
		if err := s.store.Remove(*sale.ReceiptPath); err != nil {
			s.logger.Warn("remove receipt artifact failed",
				slog.Int64("sale_id", sale.ID),
				slog.Any("error", err))
			continue
		}
		if existed {
			removed++
		}
		if err := s.repo.ClearReceiptPath(ctx, sale.ID); err != nil {
			s.logger.Warn("clear receipt path failed",
				slog.Int64("sale_id", sale.ID),
				slog.Any("error", err))
		}
	}
	return removed, nil
}

func (s *Service) storedOutcome(sale *Sale) *Outcome {
	out := &Outcome{
		SaleID:      sale.ID,
		Correlative: sale.Correlative,
		Status:      sale.Status,
	}
	if sale.GatewayCode != nil {
		out.Code = *sale.GatewayCode
	}
	if sale.GatewayMessage != nil {
		out.Message = *sale.GatewayMessage
	}
	return out
}

// markError records a transient/internal failure, best effort: a sale must
// end an attempt in ERROR rather than a half-updated state.
func (s *Service) markError(ctx context.Context, sale *Sale, code, message string) {
	if err := s.repo.UpdateSaleSubmission(ctx, sale.ID, StatusError, code, message, s.clock()); err != nil {
		s.logger.Error("mark error failed",
			slog.Int64("sale_id", sale.ID),
			slog.Any("error", err))
	}
}

func numberPart(sale *Sale) string {
	return fmt.Sprintf("%08d", sale.Number())
}
