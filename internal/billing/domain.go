package billing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// DOCUMENT NUMBERING
// ============================================================================

// DocumentKind identifies the electronic document family a series belongs to.
type DocumentKind string

const (
	KindBoleta     DocumentKind = "BOLETA"
	KindFactura    DocumentKind = "FACTURA"
	KindNotaCredit DocumentKind = "NOTA_CREDITO"
	KindNotaDebit  DocumentKind = "NOTA_DEBITO"
)

// ElectronicTypeCode returns the two-digit document type code used on the
// wire (03 = boleta).
func (k DocumentKind) ElectronicTypeCode() string {
	switch k {
	case KindFactura:
		return "01"
	case KindBoleta:
		return "03"
	case KindNotaCredit:
		return "07"
	case KindNotaDebit:
		return "08"
	default:
		return "03"
	}
}

// Correlative is the gap-free counter for one (kind, series) pair. The
// current number only moves forward, by one, and only once the gateway has
// confirmed acceptance of the document carrying the next number.
type Correlative struct {
	ID            int64        `json:"id" db:"id"`
	Kind          DocumentKind `json:"document_kind" db:"document_kind"`
	Series        string       `json:"series" db:"series"`
	CurrentNumber int64        `json:"current_number" db:"current_number"`
	LastIssuedAt  *time.Time   `json:"last_issued_at,omitempty" db:"last_issued_at"`
	IsActive      bool         `json:"is_active" db:"is_active"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// NextNumber returns the number the next accepted document will carry
// without consuming it.
func (c Correlative) NextNumber() int64 {
	return c.CurrentNumber + 1
}

// Next returns the formatted correlative for the next document.
func (c Correlative) Next() string {
	return FormatCorrelative(c.Series, c.NextNumber())
}

// FormatCorrelative renders series and number as B001-00000002.
func FormatCorrelative(series string, number int64) string {
	return fmt.Sprintf("%s-%08d", series, number)
}

var correlativePattern = regexp.MustCompile(`^[BFN]\d{3}-\d{8}$`)

// ParseCorrelative splits a formatted correlative into series and number.
func ParseCorrelative(correlative string) (string, int64, error) {
	if !correlativePattern.MatchString(correlative) {
		return "", 0, fmt.Errorf("billing: malformed correlative %q", correlative)
	}
	parts := strings.SplitN(correlative, "-", 2)
	number, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("billing: malformed correlative %q: %w", correlative, err)
	}
	return parts[0], number, nil
}

// ============================================================================
// BUYER
// ============================================================================

// BuyerDocType is the identity-document class of the buyer.
type BuyerDocType string

const (
	BuyerDocDNI      BuyerDocType = "DNI"
	BuyerDocRUC      BuyerDocType = "RUC"
	BuyerDocCE       BuyerDocType = "CE"
	BuyerDocPassport BuyerDocType = "PASAPORTE"
	BuyerDocOther    BuyerDocType = "OTRO"
)

// WireCode maps the identity class to the code carried on the document.
func (t BuyerDocType) WireCode() string {
	switch t {
	case BuyerDocDNI:
		return "1"
	case BuyerDocRUC:
		return "6"
	case BuyerDocCE:
		return "4"
	case BuyerDocPassport:
		return "7"
	default:
		return "-"
	}
}

// Buyer is the customer snapshot frozen onto a sale.
type Buyer struct {
	DocType   BuyerDocType `json:"doc_type" db:"buyer_doc_type"`
	DocNumber string       `json:"doc_number" db:"buyer_doc_number"`
	Name      string       `json:"name" db:"buyer_name"`
}

// ============================================================================
// SALE
// ============================================================================

// SubmissionStatus tracks a sale through the compliance pipeline.
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "PENDING"
	StatusAccepted SubmissionStatus = "ACCEPTED"
	StatusRejected SubmissionStatus = "REJECTED"
	StatusError    SubmissionStatus = "ERROR"
	StatusVoided   SubmissionStatus = "VOIDED"
)

// SaleItem is a line frozen at sale time; product details are never
// re-derived from a live catalog.
type SaleItem struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      int64           `json:"sale_id" db:"sale_id"`
	ProductSKU  string          `json:"product_sku" db:"product_sku"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`
}

// Sale is the aggregate under compliance processing.
type Sale struct {
	ID          int64        `json:"id" db:"id"`
	Correlative string       `json:"correlative" db:"correlative"`
	Kind        DocumentKind `json:"document_kind" db:"document_kind"`

	Buyer Buyer `json:"buyer"`

	// Prices include tax; net is derived as gross / (1 + rate).
	NetAmount   decimal.Decimal `json:"net_amount" db:"net_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	GrossAmount decimal.Decimal `json:"gross_amount" db:"gross_amount"`

	Items []SaleItem `json:"items"`

	Status         SubmissionStatus `json:"status" db:"status"`
	GatewayCode    *string          `json:"gateway_code,omitempty" db:"gateway_code"`
	GatewayMessage *string          `json:"gateway_message,omitempty" db:"gateway_message"`
	SubmittedAt    *time.Time       `json:"submitted_at,omitempty" db:"submitted_at"`

	// AcceptedRemotely is set the moment the gateway confirms acceptance,
	// before the local bookkeeping commits. A sale carrying this flag must
	// never be dispatched to the gateway again; only the bookkeeping may be
	// replayed.
	AcceptedRemotely bool `json:"accepted_remotely" db:"accepted_remotely"`

	XMLPath      *string `json:"xml_path,omitempty" db:"xml_path"`
	CDRPath      *string `json:"cdr_path,omitempty" db:"cdr_path"`
	ReceiptPath  *string `json:"receipt_path,omitempty" db:"receipt_path"`
	QRPayload    *string `json:"qr_payload,omitempty" db:"qr_payload"`
	DocumentHash *string `json:"document_hash,omitempty" db:"document_hash"`

	IsVoided   bool       `json:"is_voided" db:"is_voided"`
	VoidedAt   *time.Time `json:"voided_at,omitempty" db:"voided_at"`
	VoidReason *string    `json:"void_reason,omitempty" db:"void_reason"`

	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Series returns the series portion of the assigned correlative.
func (s *Sale) Series() string {
	series, _, err := ParseCorrelative(s.Correlative)
	if err != nil {
		return ""
	}
	return series
}

// Number returns the numeric portion of the assigned correlative.
func (s *Sale) Number() int64 {
	_, number, err := ParseCorrelative(s.Correlative)
	if err != nil {
		return 0
	}
	return number
}

// CanResend reports whether the business may push the sale through the
// pipeline again. Accepted filings and voided sales are terminal.
func (s *Sale) CanResend() bool {
	return !s.IsVoided && (s.Status == StatusError || s.Status == StatusRejected)
}

// ComputeTotals derives net/tax/gross from the line items. Unit prices are
// tax inclusive, so the gross is the item sum and the net strips the tax
// back out.
func (s *Sale) ComputeTotals(taxRate decimal.Decimal) {
	gross := decimal.Zero
	for _, item := range s.Items {
		gross = gross.Add(item.LineTotal)
	}
	net := gross.Div(decimal.NewFromInt(1).Add(taxRate)).Round(2)
	s.GrossAmount = gross.Round(2)
	s.NetAmount = net
	s.TaxAmount = s.GrossAmount.Sub(net)
}

// StatusDisplay returns the human-readable status label.
func (s *Sale) StatusDisplay() string {
	switch s.Status {
	case StatusPending:
		return "Pendiente"
	case StatusAccepted:
		return "Aceptado"
	case StatusRejected:
		return "Rechazado"
	case StatusError:
		return "Error"
	case StatusVoided:
		return "Anulado"
	default:
		return string(s.Status)
	}
}

// ============================================================================
// MONTHLY LIMIT
// ============================================================================

// AlertLevel is the tiered state of the monthly accumulator.
type AlertLevel string

const (
	AlertNormal  AlertLevel = "NORMAL"
	AlertWarning AlertLevel = "WARNING"
	AlertBlocked AlertLevel = "BLOCKED"
)

// MonthlyLimit accumulates accepted revenue for one calendar month under the
// RUS regime ceiling.
type MonthlyLimit struct {
	ID               int64           `json:"id" db:"id"`
	Year             int             `json:"year" db:"year"`
	Month            time.Month      `json:"month" db:"month"`
	TotalInvoiced    decimal.Decimal `json:"total_invoiced" db:"total_invoiced"`
	TransactionCount int64           `json:"transaction_count" db:"transaction_count"`
	AlertLevel       AlertLevel      `json:"alert_level" db:"alert_level"`
	IsBlocked        bool            `json:"is_blocked" db:"is_blocked"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// LevelFor computes the alert tier as a pure function of the running total.
func LevelFor(total, warning, block decimal.Decimal) (AlertLevel, bool) {
	switch {
	case total.GreaterThanOrEqual(block):
		return AlertBlocked, true
	case total.GreaterThanOrEqual(warning):
		return AlertWarning, false
	default:
		return AlertNormal, false
	}
}

// Recompute refreshes the alert tier against the configured thresholds.
func (m *MonthlyLimit) Recompute(warning, block decimal.Decimal) {
	m.AlertLevel, m.IsBlocked = LevelFor(m.TotalInvoiced, warning, block)
}

// LimitStatus is the read model exposed to the POS for display.
type LimitStatus struct {
	Year             int             `json:"year"`
	Month            time.Month      `json:"month"`
	TotalInvoiced    decimal.Decimal `json:"total_invoiced"`
	TransactionCount int64           `json:"transaction_count"`
	Remaining        decimal.Decimal `json:"remaining"`
	Percentage       decimal.Decimal `json:"percentage"`
	AlertLevel       AlertLevel      `json:"alert_level"`
	Blocked          bool            `json:"blocked"`
	RemainingDisplay string          `json:"remaining_display"`
}
