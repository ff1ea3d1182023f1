package billing

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Gate runs every pre-submission business rule and accumulates the failures
// so the caller sees the full list at once. No rule short-circuits and a
// failing gate never reaches the gateway.
type Gate struct {
	limits  *LimitTracker
	repo    RepositoryPort
	printer *message.Printer
}

// NewGate builds the pre-submission validation gate.
func NewGate(limits *LimitTracker, repo RepositoryPort) *Gate {
	return &Gate{
		limits:  limits,
		repo:    repo,
		printer: message.NewPrinter(language.MustParse("es-PE")),
	}
}

// Check evaluates all submission rules for the sale.
func (g *Gate) Check(ctx context.Context, sale *Sale) []string {
	var errs []string

	if sale.IsVoided {
		errs = append(errs, "sale is voided and cannot be submitted")
	}
	if sale.Status != StatusPending && sale.Status != StatusError {
		errs = append(errs, fmt.Sprintf("invalid state for submission: %s", sale.Status))
	}
	if len(sale.Items) == 0 {
		errs = append(errs, "sale has no line items")
	}
	if strings.TrimSpace(sale.Buyer.DocNumber) == "" {
		errs = append(errs, "buyer has no identity document number")
	}
	if IsBusinessRUC(sale.Buyer.DocType, sale.Buyer.DocNumber) {
		errs = append(errs, "boletas cannot be issued to businesses (RUC 20); the regime only bills natural persons")
	}
	if _, _, err := ParseCorrelative(sale.Correlative); err != nil {
		errs = append(errs, fmt.Sprintf("malformed correlative %q", sale.Correlative))
	} else if g.repo != nil {
		// Acceptance advances the counter by exactly one, so submissions
		// within a series must go out in numeric order. Holding a later
		// number here keeps a fast acceptance for it from colliding with
		// the counter when the earlier document finally lands.
		corr, err := g.repo.GetCorrelative(ctx, sale.Kind, sale.Series())
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("correlative check unavailable: %v", err))
		case corr == nil:
			errs = append(errs, fmt.Sprintf("no counter registered for series %s", sale.Series()))
		case !corr.IsActive:
			errs = append(errs, fmt.Sprintf("series %s is inactive", sale.Series()))
		case sale.Number() != corr.CurrentNumber+1:
			errs = append(errs, fmt.Sprintf(
				"document %s must wait for %s-%08d to be accepted first",
				sale.Correlative, sale.Series(), corr.CurrentNumber+1))
		}
	}
	if !sale.GrossAmount.IsPositive() {
		errs = append(errs, "total amount must be positive")
	}

	ok, err := g.limits.CanAccommodate(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month(), sale.GrossAmount)
	if err != nil {
		errs = append(errs, fmt.Sprintf("limit check unavailable: %v", err))
	} else if !ok {
		status, statusErr := g.limits.Status(ctx, sale.IssuedAt.Year(), sale.IssuedAt.Month())
		if statusErr == nil {
			remainingF, _ := status.Remaining.Float64()
			errs = append(errs, g.printer.Sprintf("monthly limit exceeded; available S/ %.2f", remainingF))
		} else {
			errs = append(errs, "monthly limit exceeded")
		}
	}

	return errs
}

// ValidRUC reports whether the eleven-digit tax ID passes the modulus-11
// check digit.
func ValidRUC(ruc string) bool {
	if len(ruc) != 11 {
		return false
	}
	factors := []int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i := 0; i < 10; i++ {
		d := int(ruc[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * factors[i]
	}
	last := int(ruc[10] - '0')
	if last < 0 || last > 9 {
		return false
	}
	check := 11 - sum%11
	switch check {
	case 10:
		check = 0
	case 11:
		check = 1
	}
	return check == last
}

// IsBusinessRUC recognizes a legal-entity tax ID by its structural prefix.
// RUC numbers starting with 20 identify juridical persons; 10, 15 and 17 are
// natural persons and remain billable.
func IsBusinessRUC(docType BuyerDocType, docNumber string) bool {
	if docType != BuyerDocRUC {
		return false
	}
	return strings.HasPrefix(docNumber, "20")
}

// ValidDNI reports whether the national identity number is well formed.
func ValidDNI(dni string) bool {
	if len(dni) != 8 {
		return false
	}
	for _, r := range dni {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
