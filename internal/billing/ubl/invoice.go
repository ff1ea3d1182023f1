// Package ubl composes UBL 2.1 invoice documents for the boleta flow. The
// composer is a pure transformation: it reads only the snapshotted sale data
// and the issuer configuration, and the actual digital signature is applied
// downstream by the gateway.
package ubl

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Issuer identifies the emitting business on every document.
type Issuer struct {
	RUC       string
	LegalName string
	Address   string
	Ubigeo    string
}

// Party identifies the buyer.
type Party struct {
	DocTypeCode string // 1=DNI 6=RUC 4=CE 7=passport "-"=other
	DocNumber   string
	Name        string
}

// Line is one invoice line with amounts already derived from the snapshot.
type Line struct {
	SKU           string
	Description   string
	Quantity      int64
	UnitPriceNet  decimal.Decimal
	LineExtension decimal.Decimal
	PriceWithTax  decimal.Decimal
	TaxAmount     decimal.Decimal
}

// InvoiceData is the composer input.
type InvoiceData struct {
	Correlative    string
	TypeCode       string // 03 = boleta
	IssuedAt       time.Time
	Currency       string
	Issuer         Issuer
	Buyer          Party
	TaxableBase    decimal.Decimal
	TaxAmount      decimal.Decimal
	Gross          decimal.Decimal
	TaxRatePercent decimal.Decimal
	Lines          []Line
}

const (
	nsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	nsCAC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	nsCBC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	nsDS      = "http://www.w3.org/2000/09/xmldsig#"
	nsEXT     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
)

type amount struct {
	CurrencyID string `xml:"currencyID,attr"`
	Value      string `xml:",chardata"`
}

type codedValue struct {
	SchemeID   string `xml:"schemeID,attr,omitempty"`
	SchemeName string `xml:"schemeName,attr,omitempty"`
	ListID     string `xml:"listID,attr,omitempty"`
	Value      string `xml:",chardata"`
}

type quantityValue struct {
	UnitCode string `xml:"unitCode,attr"`
	Value    string `xml:",chardata"`
}

type taxScheme struct {
	ID          codedValue `xml:"cbc:ID"`
	Name        string     `xml:"cbc:Name"`
	TaxTypeCode string     `xml:"cbc:TaxTypeCode"`
}

type taxCategory struct {
	ID                     *codedValue `xml:"cbc:ID,omitempty"`
	Percent                string      `xml:"cbc:Percent,omitempty"`
	TaxExemptionReasonCode string      `xml:"cbc:TaxExemptionReasonCode,omitempty"`
	TaxScheme              taxScheme   `xml:"cac:TaxScheme"`
}

type taxSubtotal struct {
	TaxableAmount amount      `xml:"cbc:TaxableAmount"`
	TaxAmount     amount      `xml:"cbc:TaxAmount"`
	TaxCategory   taxCategory `xml:"cac:TaxCategory"`
}

type taxTotal struct {
	TaxAmount   amount      `xml:"cbc:TaxAmount"`
	TaxSubtotal taxSubtotal `xml:"cac:TaxSubtotal"`
}

type signature struct {
	ID             string `xml:"cbc:ID"`
	SignatoryParty struct {
		PartyIdentification struct {
			ID string `xml:"cbc:ID"`
		} `xml:"cac:PartyIdentification"`
		PartyName struct {
			Name string `xml:"cbc:Name"`
		} `xml:"cac:PartyName"`
	} `xml:"cac:SignatoryParty"`
	DigitalSignatureAttachment struct {
		ExternalReference struct {
			URI string `xml:"cbc:URI"`
		} `xml:"cac:ExternalReference"`
	} `xml:"cac:DigitalSignatureAttachment"`
}

type supplierParty struct {
	Party struct {
		PartyIdentification struct {
			ID codedValue `xml:"cbc:ID"`
		} `xml:"cac:PartyIdentification"`
		PartyName struct {
			Name string `xml:"cbc:Name"`
		} `xml:"cac:PartyName"`
		PartyLegalEntity struct {
			RegistrationName    string `xml:"cbc:RegistrationName"`
			RegistrationAddress struct {
				AddressTypeCode string `xml:"cbc:AddressTypeCode"`
				ID              string `xml:"cbc:ID"`
				AddressLine     struct {
					Line string `xml:"cbc:Line"`
				} `xml:"cac:AddressLine"`
				Country struct {
					IdentificationCode string `xml:"cbc:IdentificationCode"`
				} `xml:"cac:Country"`
			} `xml:"cac:RegistrationAddress"`
		} `xml:"cac:PartyLegalEntity"`
	} `xml:"cac:Party"`
}

type customerParty struct {
	Party struct {
		PartyIdentification struct {
			ID codedValue `xml:"cbc:ID"`
		} `xml:"cac:PartyIdentification"`
		PartyLegalEntity struct {
			RegistrationName string `xml:"cbc:RegistrationName"`
		} `xml:"cac:PartyLegalEntity"`
	} `xml:"cac:Party"`
}

type monetaryTotal struct {
	LineExtensionAmount amount `xml:"cbc:LineExtensionAmount"`
	TaxInclusiveAmount  amount `xml:"cbc:TaxInclusiveAmount"`
	PayableAmount       amount `xml:"cbc:PayableAmount"`
}

type pricingReference struct {
	AlternativeConditionPrice struct {
		PriceAmount   amount `xml:"cbc:PriceAmount"`
		PriceTypeCode string `xml:"cbc:PriceTypeCode"`
	} `xml:"cac:AlternativeConditionPrice"`
}

type invoiceLine struct {
	ID                  string           `xml:"cbc:ID"`
	InvoicedQuantity    quantityValue    `xml:"cbc:InvoicedQuantity"`
	LineExtensionAmount amount           `xml:"cbc:LineExtensionAmount"`
	PricingReference    pricingReference `xml:"cac:PricingReference"`
	TaxTotal            taxTotal         `xml:"cac:TaxTotal"`
	Item                struct {
		Description               string `xml:"cbc:Description"`
		SellersItemIdentification struct {
			ID string `xml:"cbc:ID"`
		} `xml:"cac:SellersItemIdentification"`
	} `xml:"cac:Item"`
	Price struct {
		PriceAmount amount `xml:"cbc:PriceAmount"`
	} `xml:"cac:Price"`
}

type invoice struct {
	XMLName  xml.Name `xml:"Invoice"`
	XmlnsDef string   `xml:"xmlns,attr"`
	XmlnsCAC string   `xml:"xmlns:cac,attr"`
	XmlnsCBC string   `xml:"xmlns:cbc,attr"`
	XmlnsDS  string   `xml:"xmlns:ds,attr"`
	XmlnsEXT string   `xml:"xmlns:ext,attr"`

	UBLVersionID         string        `xml:"cbc:UBLVersionID"`
	CustomizationID      string        `xml:"cbc:CustomizationID"`
	ID                   string        `xml:"cbc:ID"`
	IssueDate            string        `xml:"cbc:IssueDate"`
	IssueTime            string        `xml:"cbc:IssueTime"`
	InvoiceTypeCode      codedValue    `xml:"cbc:InvoiceTypeCode"`
	DocumentCurrencyCode string        `xml:"cbc:DocumentCurrencyCode"`
	Signature            signature     `xml:"cac:Signature"`
	Supplier             supplierParty `xml:"cac:AccountingSupplierParty"`
	Customer             customerParty `xml:"cac:AccountingCustomerParty"`
	TaxTotal             taxTotal      `xml:"cac:TaxTotal"`
	LegalMonetaryTotal   monetaryTotal `xml:"cac:LegalMonetaryTotal"`
	InvoiceLines         []invoiceLine `xml:"cac:InvoiceLine"`
}

// Compose renders the invoice as UBL 2.1 XML. All monetary values are
// written with exactly two decimals, quantities as integers.
func Compose(data InvoiceData) ([]byte, error) {
	if data.Currency == "" {
		data.Currency = "PEN"
	}
	doc := invoice{
		XmlnsDef: nsInvoice,
		XmlnsCAC: nsCAC,
		XmlnsCBC: nsCBC,
		XmlnsDS:  nsDS,
		XmlnsEXT: nsEXT,

		UBLVersionID:         "2.1",
		CustomizationID:      "2.0",
		ID:                   data.Correlative,
		IssueDate:            data.IssuedAt.Format("2006-01-02"),
		IssueTime:            data.IssuedAt.Format("15:04:05"),
		InvoiceTypeCode:      codedValue{ListID: "0101", Value: data.TypeCode},
		DocumentCurrencyCode: data.Currency,
	}

	doc.Signature.ID = "SignatureSP"
	doc.Signature.SignatoryParty.PartyIdentification.ID = data.Issuer.RUC
	doc.Signature.SignatoryParty.PartyName.Name = data.Issuer.LegalName
	doc.Signature.DigitalSignatureAttachment.ExternalReference.URI = "#SignatureSP"

	doc.Supplier.Party.PartyIdentification.ID = codedValue{SchemeID: "6", Value: data.Issuer.RUC}
	doc.Supplier.Party.PartyName.Name = data.Issuer.LegalName
	legal := &doc.Supplier.Party.PartyLegalEntity
	legal.RegistrationName = data.Issuer.LegalName
	legal.RegistrationAddress.AddressTypeCode = "0000"
	legal.RegistrationAddress.ID = data.Issuer.Ubigeo
	legal.RegistrationAddress.AddressLine.Line = data.Issuer.Address
	legal.RegistrationAddress.Country.IdentificationCode = "PE"

	doc.Customer.Party.PartyIdentification.ID = codedValue{SchemeID: data.Buyer.DocTypeCode, Value: buyerDocOrDash(data.Buyer.DocNumber)}
	doc.Customer.Party.PartyLegalEntity.RegistrationName = data.Buyer.Name

	doc.TaxTotal = taxTotal{
		TaxAmount: money(data.Currency, data.TaxAmount),
		TaxSubtotal: taxSubtotal{
			TaxableAmount: money(data.Currency, data.TaxableBase),
			TaxAmount:     money(data.Currency, data.TaxAmount),
			TaxCategory: taxCategory{
				ID: &codedValue{SchemeID: "UN/ECE 5305", SchemeName: "Tax Category Identifier", Value: "S"},
				TaxScheme: taxScheme{
					ID:          codedValue{SchemeID: "UN/ECE 5153", SchemeName: "Tax Scheme Identifier", Value: "1000"},
					Name:        "IGV",
					TaxTypeCode: "VAT",
				},
			},
		},
	}

	doc.LegalMonetaryTotal = monetaryTotal{
		LineExtensionAmount: money(data.Currency, data.TaxableBase),
		TaxInclusiveAmount:  money(data.Currency, data.Gross),
		PayableAmount:       money(data.Currency, data.Gross),
	}

	for i, line := range data.Lines {
		il := invoiceLine{
			ID:                  fmt.Sprintf("%d", i+1),
			InvoicedQuantity:    quantityValue{UnitCode: "NIU", Value: fmt.Sprintf("%d", line.Quantity)},
			LineExtensionAmount: money(data.Currency, line.LineExtension),
		}
		il.PricingReference.AlternativeConditionPrice.PriceAmount = money(data.Currency, line.PriceWithTax)
		il.PricingReference.AlternativeConditionPrice.PriceTypeCode = "01"
		il.TaxTotal = taxTotal{
			TaxAmount: money(data.Currency, line.TaxAmount),
			TaxSubtotal: taxSubtotal{
				TaxableAmount: money(data.Currency, line.LineExtension),
				TaxAmount:     money(data.Currency, line.TaxAmount),
				TaxCategory: taxCategory{
					Percent:                data.TaxRatePercent.String(),
					TaxExemptionReasonCode: "10",
					TaxScheme: taxScheme{
						ID:          codedValue{Value: "1000"},
						Name:        "IGV",
						TaxTypeCode: "VAT",
					},
				},
			},
		}
		il.Item.Description = line.Description
		il.Item.SellersItemIdentification.ID = line.SKU
		il.Price.PriceAmount = money(data.Currency, line.UnitPriceNet)
		doc.InvoiceLines = append(doc.InvoiceLines, il)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ubl: marshal invoice %s: %w", data.Correlative, err)
	}
	return append([]byte(xml.Header), body...), nil
}

// QRPayload builds the pipe-delimited string embedded in the printed
// receipt's scannable code.
func QRPayload(data InvoiceData) string {
	series, number := splitCorrelative(data.Correlative)
	return strings.Join([]string{
		data.Issuer.RUC,
		data.TypeCode,
		series,
		number,
		data.TaxAmount.StringFixed(2),
		data.Gross.StringFixed(2),
		data.IssuedAt.Format("2006-01-02"),
		data.Buyer.DocTypeCode,
		data.Buyer.DocNumber,
	}, "|")
}

func money(currency string, v decimal.Decimal) amount {
	return amount{CurrencyID: currency, Value: v.StringFixed(2)}
}

func buyerDocOrDash(docNumber string) string {
	if strings.TrimSpace(docNumber) == "" {
		return "-"
	}
	return docNumber
}

func splitCorrelative(correlative string) (string, string) {
	parts := strings.SplitN(correlative, "-", 2)
	if len(parts) != 2 {
		return correlative, ""
	}
	return parts[0], parts[1]
}
