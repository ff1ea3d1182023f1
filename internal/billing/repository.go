package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mickstmt/izisales/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("billing: not found")

const saleColumns = `
	id, correlative, kind, series, number,
	buyer_doc_type, buyer_doc_number, buyer_name,
	net_amount, tax_amount, gross_amount,
	status, gateway_code, gateway_message, submitted_at, accepted_remotely,
	xml_path, cdr_path, receipt_path, qr_payload, document_hash,
	is_voided, voided_at, void_reason,
	issued_at, created_at, updated_at`

// CreateSale stores the sale snapshot and reserves its correlative in the
// same transaction. The counter row is locked so two concurrent sales can
// never reserve the same number; the reserved number is one past the
// highest of the advanced counter and any live reservation.
func (r *Repository) CreateSale(ctx context.Context, input CreateSaleInput) (*Sale, error) {
	var sale *Sale
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var counterID int64
		var current int64
		var active bool
		err := tx.QueryRow(ctx, `
			SELECT id, current_number, is_active
			FROM correlatives
			WHERE kind = $1 AND series = $2
			FOR UPDATE`,
			input.Kind, input.Series,
		).Scan(&counterID, &current, &active)
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: series %s/%s", ErrNotFound, input.Kind, input.Series)
		}
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("%w: %s", ErrSeriesInactive, input.Series)
		}

		// Live reservations (not yet accepted) may run ahead of the
		// counter; the next number continues past both.
		var reserved int64
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(number), 0)
			FROM sales
			WHERE kind = $1 AND series = $2 AND NOT is_voided`,
			input.Kind, input.Series,
		).Scan(&reserved)
		if err != nil {
			return err
		}
		number := current + 1
		if reserved >= number {
			number = reserved + 1
		}

		s := &Sale{
			Correlative: FormatCorrelative(input.Series, number),
			Kind:        input.Kind,
			Buyer:       input.Buyer,
			NetAmount:   input.Net,
			TaxAmount:   input.Tax,
			GrossAmount: input.Gross,
			Status:      StatusPending,
			IssuedAt:    input.IssuedAt,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO sales (
				correlative, kind, series, number,
				buyer_doc_type, buyer_doc_number, buyer_name,
				net_amount, tax_amount, gross_amount,
				status, issued_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			s.Correlative, s.Kind, input.Series, number,
			s.Buyer.DocType, s.Buyer.DocNumber, s.Buyer.Name,
			s.NetAmount, s.TaxAmount, s.GrossAmount,
			StatusPending, s.IssuedAt,
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return err
		}

		for i := range input.Items {
			item := &input.Items[i]
			err = tx.QueryRow(ctx, `
				INSERT INTO sale_items (
					sale_id, product_sku, product_name, quantity, unit_price, line_total
				) VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				s.ID, item.ProductSKU, item.ProductName,
				item.Quantity, item.UnitPrice, item.LineTotal,
			).Scan(&item.ID)
			if err != nil {
				return err
			}
			item.SaleID = s.ID
		}
		s.Items = input.Items
		sale = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetSale loads a sale with its items. Returns (nil, nil) when absent.
func (r *Repository) GetSale(ctx context.Context, id int64) (*Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	sale, err := scanSale(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sale_id, product_sku, product_name, quantity, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductSKU, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	return sale, rows.Err()
}

// SetSaleDocument stores the composed document references.
func (r *Repository) SetSaleDocument(ctx context.Context, id int64, xmlPath, hash, qrPayload string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales
		SET xml_path = $2, document_hash = $3, qr_payload = $4, updated_at = NOW()
		WHERE id = $1`,
		id, xmlPath, hash, qrPayload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSaleSubmission records the outcome of one submission attempt. The
// guard on the UPDATE keeps a slow duplicate response from overwriting a
// terminal acceptance: once a row is ACCEPTED or voided, attempt outcomes no
// longer apply to it.
func (r *Repository) UpdateSaleSubmission(ctx context.Context, id int64, status SubmissionStatus, code, message string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales
		SET status = $2, gateway_code = $3, gateway_message = $4, submitted_at = $5, updated_at = NOW()
		WHERE id = $1 AND status <> $6 AND NOT is_voided`,
		id, status, code, message, at, StatusAccepted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d is terminal", ErrInvalidTransition, id)
	}
	return nil
}

// MarkRemoteAcceptance persists the gateway's acceptance before the local
// bookkeeping runs. If the bookkeeping transaction is refused the flag
// survives, and the submission path replays only the bookkeeping instead of
// dispatching the already-accepted document again.
func (r *Repository) MarkRemoteAcceptance(ctx context.Context, id int64, code, message string, cdrPath *string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales
		SET accepted_remotely = TRUE, gateway_code = $2, gateway_message = $3,
		    cdr_path = COALESCE($4, cdr_path), submitted_at = $5, updated_at = NOW()
		WHERE id = $1`,
		id, code, message, cdrPath, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetSubmission clears response metadata before a resend. The correlative
// and the reserved number are untouched.
func (r *Repository) ResetSubmission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales
		SET status = $2, gateway_code = NULL, gateway_message = NULL,
		    submitted_at = NULL, cdr_path = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSaleCDRPath records where the acknowledgment was stored.
func (r *Repository) SetSaleCDRPath(ctx context.Context, id int64, path string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sales SET cdr_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	return err
}

// SetSaleReceiptPath records where the printable receipt was stored.
func (r *Repository) SetSaleReceiptPath(ctx context.Context, id int64, path string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sales SET receipt_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	return err
}

// ClearReceiptPath detaches a pruned receipt artifact.
func (r *Repository) ClearReceiptPath(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sales SET receipt_path = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// VoidSale marks a sale voided. The service checks the state first, but the
// UPDATE re-checks it so a concurrent acceptance cannot be voided after the
// fact.
func (r *Repository) VoidSale(ctx context.Context, id int64, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales
		SET status = $2, is_voided = TRUE, voided_at = $3, void_reason = $4, updated_at = NOW()
		WHERE id = $1 AND NOT is_voided AND status <> $5`,
		id, StatusVoided, at, reason, StatusAccepted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d is terminal", ErrInvalidTransition, id)
	}
	return nil
}

// RecordAcceptance applies the legal consequences of one accepted filing in
// a single transaction: the counter advances by exactly one, the month's
// revenue is credited, and the sale goes terminal ACCEPTED. Both the counter
// row and the accumulator row are locked for the duration.
func (r *Repository) RecordAcceptance(ctx context.Context, input AcceptanceInput) (*Sale, error) {
	var sale *Sale
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status SubmissionStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM sales WHERE id = $1 FOR UPDATE`,
			input.SaleID,
		).Scan(&status)
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: sale %d", ErrNotFound, input.SaleID)
		}
		if err != nil {
			return err
		}
		if status == StatusAccepted {
			return ErrAlreadyAccepted
		}

		var current int64
		err = tx.QueryRow(ctx, `
			SELECT current_number FROM correlatives
			WHERE kind = $1 AND series = $2
			FOR UPDATE`,
			input.Kind, input.Series,
		).Scan(&current)
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: series %s/%s", ErrNotFound, input.Kind, input.Series)
		}
		if err != nil {
			return err
		}
		if input.Number != current+1 {
			return fmt.Errorf("%w: sale holds %d, counter at %d",
				ErrCorrelativeOutOfOrder, input.Number, current)
		}
		_, err = tx.Exec(ctx, `
			UPDATE correlatives
			SET current_number = $3, last_issued_at = $4, updated_at = NOW()
			WHERE kind = $1 AND series = $2`,
			input.Kind, input.Series, input.Number, input.SubmittedAt)
		if err != nil {
			return err
		}

		var total decimal.Decimal
		err = tx.QueryRow(ctx, `
			INSERT INTO monthly_limits (year, month, total_invoiced, transaction_count, created_at, updated_at)
			VALUES ($1, $2, 0, 0, NOW(), NOW())
			ON CONFLICT (year, month) DO UPDATE SET updated_at = NOW()
			RETURNING total_invoiced`,
			input.Year, int(input.Month),
		).Scan(&total)
		if err != nil {
			return err
		}
		// The advisory gate already checked; this is the authoritative
		// refusal when a concurrent acceptance crossed the ceiling first.
		if total.Add(input.Amount).GreaterThan(input.BlockLimit) {
			return fmt.Errorf("%w: month %04d-%02d at %s",
				ErrLimitExceeded, input.Year, int(input.Month), total.StringFixed(2))
		}
		_, err = tx.Exec(ctx, `
			UPDATE monthly_limits
			SET total_invoiced = total_invoiced + $3,
			    transaction_count = transaction_count + 1,
			    updated_at = NOW()
			WHERE year = $1 AND month = $2`,
			input.Year, int(input.Month), input.Amount)
		if err != nil {
			return err
		}

		query := `
			UPDATE sales
			SET status = $2, gateway_code = $3, gateway_message = $4,
			    submitted_at = $5, cdr_path = COALESCE($6, cdr_path), updated_at = NOW()
			WHERE id = $1
			RETURNING ` + saleColumns
		sale, err = scanSale(tx.QueryRow(ctx, query,
			input.SaleID, StatusAccepted, input.Code, input.Message,
			input.SubmittedAt, input.CDRPath))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// ListRetryable returns erred sales whose last attempt predates the cutoff,
// oldest first, capped at limit.
func (r *Repository) ListRetryable(ctx context.Context, failedBefore time.Time, limit int) ([]Sale, error) {
	query := `SELECT ` + saleColumns + `
		FROM sales
		WHERE status = $1 AND NOT is_voided AND submitted_at < $2
		ORDER BY submitted_at ASC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, StatusError, failedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// ListVoidedReceipts returns voided sales that still reference a receipt
// artifact.
func (r *Repository) ListVoidedReceipts(ctx context.Context, voidedBefore time.Time) ([]Sale, error) {
	query := `SELECT ` + saleColumns + `
		FROM sales
		WHERE is_voided AND receipt_path IS NOT NULL AND voided_at < $1
		ORDER BY voided_at ASC`
	rows, err := r.pool.Query(ctx, query, voidedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// DailyStats aggregates one calendar day of submissions.
func (r *Repository) DailyStats(ctx context.Context, day time.Time) (*DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	stats := &DailyStats{Day: start, TotalInvoiced: decimal.Zero}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ACCEPTED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status = 'ERROR'),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COALESCE(SUM(gross_amount) FILTER (WHERE status = 'ACCEPTED'), 0)
		FROM sales
		WHERE issued_at >= $1 AND issued_at < $2 AND NOT is_voided`,
		start, end,
	).Scan(&stats.Total, &stats.Accepted, &stats.Rejected, &stats.Errored,
		&stats.Pending, &stats.TotalInvoiced)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetCorrelative returns the counter for a series. Returns (nil, nil) when
// the series does not exist.
func (r *Repository) GetCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	var c Correlative
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, series, current_number, last_issued_at, is_active, created_at
		FROM correlatives
		WHERE kind = $1 AND series = $2`,
		kind, series,
	).Scan(&c.ID, &c.Kind, &c.Series, &c.CurrentNumber, &c.LastIssuedAt, &c.IsActive, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EnsureCorrelative creates the counter row at zero when missing.
func (r *Repository) EnsureCorrelative(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	var c Correlative
	err := r.pool.QueryRow(ctx, `
		INSERT INTO correlatives (kind, series, current_number, is_active, created_at, updated_at)
		VALUES ($1, $2, 0, TRUE, NOW(), NOW())
		ON CONFLICT (kind, series) DO UPDATE SET updated_at = NOW()
		RETURNING id, kind, series, current_number, last_issued_at, is_active, created_at`,
		kind, series,
	).Scan(&c.ID, &c.Kind, &c.Series, &c.CurrentNumber, &c.LastIssuedAt, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetMonthlyLimit returns the month's accumulator, zero-valued when the
// month has no row yet.
func (r *Repository) GetMonthlyLimit(ctx context.Context, year int, month time.Month) (*MonthlyLimit, error) {
	var m MonthlyLimit
	err := r.pool.QueryRow(ctx, `
		SELECT id, year, month, total_invoiced, transaction_count, created_at, updated_at
		FROM monthly_limits
		WHERE year = $1 AND month = $2`,
		year, int(month),
	).Scan(&m.ID, &m.Year, &m.Month, &m.TotalInvoiced, &m.TransactionCount, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &MonthlyLimit{Year: year, Month: month, TotalInvoiced: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	var series string
	var number int64
	err := row.Scan(
		&s.ID, &s.Correlative, &s.Kind, &series, &number,
		&s.Buyer.DocType, &s.Buyer.DocNumber, &s.Buyer.Name,
		&s.NetAmount, &s.TaxAmount, &s.GrossAmount,
		&s.Status, &s.GatewayCode, &s.GatewayMessage, &s.SubmittedAt, &s.AcceptedRemotely,
		&s.XMLPath, &s.CDRPath, &s.ReceiptPath, &s.QRPayload, &s.DocumentHash,
		&s.IsVoided, &s.VoidedAt, &s.VoidReason,
		&s.IssuedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSales(rows pgx.Rows) ([]Sale, error) {
	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}
