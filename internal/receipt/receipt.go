// Package receipt renders the printable ticket for an accepted electronic
// document. The PDF is a customer-facing artifact; the XML already filed is
// the legal document, so rendering failures never affect the filing.
package receipt

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/mickstmt/izisales/internal/billing"
	"github.com/mickstmt/izisales/internal/billing/ubl"
)

// Renderer builds ticket-format PDFs.
type Renderer struct{}

// NewRenderer constructs a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the receipt PDF for an accepted sale.
func (r *Renderer) Render(sale *billing.Sale, issuer ubl.Issuer, qrPayload string) ([]byte, error) {
	// 80mm ticket width, height grows with the item count.
	height := 120.0 + float64(len(sale.Items))*5.0
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: 80, Ht: height},
	})
	pdf.SetMargins(5, 5, 5)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 5, issuer.LegalName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 4, "RUC "+issuer.RUC, "", 1, "C", false, 0, "")
	if issuer.Address != "" {
		pdf.CellFormat(0, 4, issuer.Address, "", 1, "C", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(0, 5, documentTitle(sale.Kind), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, sale.Correlative, "", 1, "C", false, 0, "")
	pdf.Ln(1)

	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 4, "Fecha: "+sale.IssuedAt.Format("02/01/2006 15:04"), "", 1, "L", false, 0, "")
	if sale.Buyer.Name != "" {
		pdf.CellFormat(0, 4, "Cliente: "+sale.Buyer.Name, "", 1, "L", false, 0, "")
	}
	if sale.Buyer.DocNumber != "" {
		pdf.CellFormat(0, 4, fmt.Sprintf("%s: %s", sale.Buyer.DocType, sale.Buyer.DocNumber), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(34, 4, "Descripcion", "B", 0, "L", false, 0, "")
	pdf.CellFormat(10, 4, "Cant", "B", 0, "R", false, 0, "")
	pdf.CellFormat(13, 4, "P.U.", "B", 0, "R", false, 0, "")
	pdf.CellFormat(13, 4, "Total", "B", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	for _, item := range sale.Items {
		pdf.CellFormat(34, 4, truncate(item.ProductName, 24), "", 0, "L", false, 0, "")
		pdf.CellFormat(10, 4, fmt.Sprintf("%d", item.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(13, 4, item.UnitPrice.StringFixed(2), "", 0, "R", false, 0, "")
		pdf.CellFormat(13, 4, item.LineTotal.StringFixed(2), "", 1, "R", false, 0, "")
	}
	pdf.Ln(2)

	pdf.CellFormat(44, 4, "Op. Gravada", "T", 0, "L", false, 0, "")
	pdf.CellFormat(26, 4, "S/ "+sale.NetAmount.StringFixed(2), "T", 1, "R", false, 0, "")
	pdf.CellFormat(44, 4, "IGV", "", 0, "L", false, 0, "")
	pdf.CellFormat(26, 4, "S/ "+sale.TaxAmount.StringFixed(2), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(44, 5, "TOTAL", "", 0, "L", false, 0, "")
	pdf.CellFormat(26, 5, "S/ "+sale.GrossAmount.StringFixed(2), "", 1, "R", false, 0, "")
	pdf.Ln(2)

	if qrPayload != "" {
		pdf.SetFont("Arial", "", 6)
		pdf.MultiCell(0, 3, qrPayload, "", "C", false)
	}
	pdf.SetFont("Arial", "I", 7)
	pdf.CellFormat(0, 4, "Representacion impresa del comprobante electronico", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipt: render %s: %w", sale.Correlative, err)
	}
	return buf.Bytes(), nil
}

func documentTitle(kind billing.DocumentKind) string {
	switch kind {
	case billing.KindFactura:
		return "FACTURA ELECTRONICA"
	case billing.KindNotaCredit:
		return "NOTA DE CREDITO ELECTRONICA"
	case billing.KindNotaDebit:
		return "NOTA DE DEBITO ELECTRONICA"
	default:
		return "BOLETA DE VENTA ELECTRONICA"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "."
}
