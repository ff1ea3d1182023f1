package ubl

import (
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"
)

// Parsed carries the fields recovered from a composed document. Used to
// verify document integrity before archival: composing and parsing back must
// agree on the correlative, the buyer identity and the totals.
type Parsed struct {
	Correlative    string
	BuyerDocNumber string
	BuyerDocType   string
	TaxableBase    decimal.Decimal
	TaxAmount      decimal.Decimal
	Gross          decimal.Decimal
	LineCount      int
}

// The decoder matches on local names only; the composed document carries
// cbc/cac prefixes which resolve to namespaces the decoder ignores here.
type parsedInvoice struct {
	XMLName xml.Name `xml:"Invoice"`
	ID      string   `xml:"ID"`
	Buyer   struct {
		Party struct {
			Identification struct {
				ID struct {
					SchemeID string `xml:"schemeID,attr"`
					Value    string `xml:",chardata"`
				} `xml:"ID"`
			} `xml:"PartyIdentification"`
		} `xml:"Party"`
	} `xml:"AccountingCustomerParty"`
	TaxTotal struct {
		TaxAmount string `xml:"TaxAmount"`
	} `xml:"TaxTotal"`
	Totals struct {
		LineExtensionAmount string `xml:"LineExtensionAmount"`
		TaxInclusiveAmount  string `xml:"TaxInclusiveAmount"`
	} `xml:"LegalMonetaryTotal"`
	Lines []struct {
		ID string `xml:"ID"`
	} `xml:"InvoiceLine"`
}

// Parse recovers the identifying fields and totals from a composed document.
func Parse(doc []byte) (*Parsed, error) {
	var inv parsedInvoice
	if err := xml.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("ubl: parse invoice: %w", err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("ubl: parse invoice: missing document ID")
	}

	taxableBase, err := decimal.NewFromString(inv.Totals.LineExtensionAmount)
	if err != nil {
		return nil, fmt.Errorf("ubl: parse taxable base: %w", err)
	}
	taxAmount, err := decimal.NewFromString(inv.TaxTotal.TaxAmount)
	if err != nil {
		return nil, fmt.Errorf("ubl: parse tax amount: %w", err)
	}
	gross, err := decimal.NewFromString(inv.Totals.TaxInclusiveAmount)
	if err != nil {
		return nil, fmt.Errorf("ubl: parse gross amount: %w", err)
	}

	return &Parsed{
		Correlative:    inv.ID,
		BuyerDocNumber: inv.Buyer.Party.Identification.ID.Value,
		BuyerDocType:   inv.Buyer.Party.Identification.ID.SchemeID,
		TaxableBase:    taxableBase,
		TaxAmount:      taxAmount,
		Gross:          gross,
		LineCount:      len(inv.Lines),
	}, nil
}
