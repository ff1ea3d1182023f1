package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mickstmt/izisales/internal/billing/ubl"
)

// compose maps the sale snapshot onto the document model and renders the
// XML plus the QR payload. Item prices are tax inclusive at the point of
// sale; the per-line net amounts are derived here.
func (s *Service) compose(sale *Sale) ([]byte, string, error) {
	one := decimal.NewFromInt(1)
	divisor := one.Add(s.taxRate)

	lines := make([]ubl.Line, 0, len(sale.Items))
	for _, item := range sale.Items {
		lineExt := item.LineTotal.Div(divisor).Round(2)
		lines = append(lines, ubl.Line{
			SKU:           item.ProductSKU,
			Description:   item.ProductName,
			Quantity:      item.Quantity,
			UnitPriceNet:  item.UnitPrice.Div(divisor).Round(2),
			LineExtension: lineExt,
			PriceWithTax:  item.UnitPrice,
			TaxAmount:     lineExt.Mul(s.taxRate).Round(2),
		})
	}

	data := ubl.InvoiceData{
		Correlative: sale.Correlative,
		TypeCode:    sale.Kind.ElectronicTypeCode(),
		IssuedAt:    sale.IssuedAt,
		Currency:    "PEN",
		Issuer:      s.issuer,
		Buyer: ubl.Party{
			DocTypeCode: sale.Buyer.DocType.WireCode(),
			DocNumber:   sale.Buyer.DocNumber,
			Name:        sale.Buyer.Name,
		},
		TaxableBase:    sale.NetAmount,
		TaxAmount:      sale.TaxAmount,
		Gross:          sale.GrossAmount,
		TaxRatePercent: s.taxRate.Mul(decimal.NewFromInt(100)),
		Lines:          lines,
	}

	doc, err := ubl.Compose(data)
	if err != nil {
		return nil, "", fmt.Errorf("billing: compose %s: %w", sale.Correlative, err)
	}

	// Parse the rendered document back and verify it still carries the
	// sale's identity and totals before anything is stored or sent.
	parsed, err := ubl.Parse(doc)
	if err != nil {
		return nil, "", fmt.Errorf("billing: verify composed %s: %w", sale.Correlative, err)
	}
	if parsed.Correlative != sale.Correlative || !parsed.Gross.Equal(sale.GrossAmount) {
		return nil, "", fmt.Errorf("billing: composed document %s does not match the sale (gross %s vs %s)",
			sale.Correlative, parsed.Gross, sale.GrossAmount)
	}

	return doc, ubl.QRPayload(data), nil
}
