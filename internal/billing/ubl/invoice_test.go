package ubl

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() InvoiceData {
	return InvoiceData{
		Correlative: "B001-00000042",
		TypeCode:    "03",
		IssuedAt:    time.Date(2026, 8, 15, 14, 30, 0, 0, time.UTC),
		Currency:    "PEN",
		Issuer: Issuer{
			RUC:       "20100070970",
			LegalName: "Bodega Central SAC",
			Address:   "Av. Grau 123, Lima",
			Ubigeo:    "150101",
		},
		Buyer: Party{
			DocTypeCode: "1",
			DocNumber:   "45678912",
			Name:        "Maria Quispe",
		},
		TaxableBase:    decimal.RequireFromString("100.00"),
		TaxAmount:      decimal.RequireFromString("18.00"),
		Gross:          decimal.RequireFromString("118.00"),
		TaxRatePercent: decimal.RequireFromString("18"),
		Lines: []Line{
			{
				SKU:           "GAS-10KG",
				Description:   "Balon de gas 10kg",
				Quantity:      2,
				UnitPriceNet:  decimal.RequireFromString("50.00"),
				LineExtension: decimal.RequireFromString("100.00"),
				PriceWithTax:  decimal.RequireFromString("59.00"),
				TaxAmount:     decimal.RequireFromString("18.00"),
			},
		},
	}
}

func TestComposeProducesWellFormedUBL(t *testing.T) {
	out, err := Compose(sampleData())
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "<?xml"), "document starts with the XML declaration")
	assert.Contains(t, doc, `xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"`)
	assert.Contains(t, doc, "<cbc:UBLVersionID>2.1</cbc:UBLVersionID>")
	assert.Contains(t, doc, "<cbc:ID>B001-00000042</cbc:ID>")
	assert.Contains(t, doc, "<cbc:IssueDate>2026-08-15</cbc:IssueDate>")
	assert.Contains(t, doc, "<cbc:IssueTime>14:30:00</cbc:IssueTime>")
	assert.Contains(t, doc, `listID="0101"`)
	assert.Contains(t, doc, "<cbc:DocumentCurrencyCode>PEN</cbc:DocumentCurrencyCode>")

	// Issuer and buyer identification.
	assert.Contains(t, doc, `schemeID="6"`)
	assert.Contains(t, doc, "20100070970")
	assert.Contains(t, doc, `schemeID="1"`)
	assert.Contains(t, doc, "45678912")
	assert.Contains(t, doc, "<cbc:RegistrationName>Maria Quispe</cbc:RegistrationName>")

	// Totals with exactly two decimals.
	assert.Contains(t, doc, `<cbc:TaxInclusiveAmount currencyID="PEN">118.00</cbc:TaxInclusiveAmount>`)
	assert.Contains(t, doc, `<cbc:PayableAmount currencyID="PEN">118.00</cbc:PayableAmount>`)
	assert.Contains(t, doc, `<cbc:LineExtensionAmount currencyID="PEN">100.00</cbc:LineExtensionAmount>`)

	// Line detail carries the tax-inclusive reference price.
	assert.Contains(t, doc, `<cbc:PriceAmount currencyID="PEN">59.00</cbc:PriceAmount>`)
	assert.Contains(t, doc, `unitCode="NIU"`)
	assert.Contains(t, doc, "<cbc:Description>Balon de gas 10kg</cbc:Description>")
	assert.Contains(t, doc, "<cbc:Name>IGV</cbc:Name>")
}

func TestComposeDefaultsCurrencyAndAnonymousBuyer(t *testing.T) {
	data := sampleData()
	data.Currency = ""
	data.Buyer.DocNumber = "  "

	out, err := Compose(data)
	require.NoError(t, err)
	doc := string(out)
	assert.Contains(t, doc, "<cbc:DocumentCurrencyCode>PEN</cbc:DocumentCurrencyCode>")
	assert.Contains(t, doc, `>-</cbc:ID>`, "blank buyer document renders as a dash")
}

func TestComposeParseRoundTrip(t *testing.T) {
	data := sampleData()
	out, err := Compose(data)
	require.NoError(t, err)

	parsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, data.Correlative, parsed.Correlative)
	assert.Equal(t, data.Buyer.DocNumber, parsed.BuyerDocNumber)
	assert.Equal(t, data.Buyer.DocTypeCode, parsed.BuyerDocType)
	assert.True(t, parsed.TaxableBase.Equal(data.TaxableBase))
	assert.True(t, parsed.TaxAmount.Equal(data.TaxAmount))
	assert.True(t, parsed.Gross.Equal(data.Gross))
	assert.Equal(t, len(data.Lines), parsed.LineCount)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not xml at all"))
	assert.Error(t, err)

	_, err = Parse([]byte(`<?xml version="1.0"?><Invoice></Invoice>`))
	assert.Error(t, err, "a document without an ID is not a composed invoice")
}

func TestQRPayloadFieldOrder(t *testing.T) {
	payload := QRPayload(sampleData())
	fields := strings.Split(payload, "|")
	require.Len(t, fields, 9)
	assert.Equal(t, "20100070970", fields[0])
	assert.Equal(t, "03", fields[1])
	assert.Equal(t, "B001", fields[2])
	assert.Equal(t, "00000042", fields[3])
	assert.Equal(t, "18.00", fields[4])
	assert.Equal(t, "118.00", fields[5])
	assert.Equal(t, "2026-08-15", fields[6])
	assert.Equal(t, "1", fields[7])
	assert.Equal(t, "45678912", fields[8])
}
