package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrLimitExceeded signals that accepting an amount would push the monthly
// total past the regime ceiling. The sale must be refused, never partially
// counted.
var ErrLimitExceeded = errors.New("billing: monthly invoicing limit exceeded")

// LimitTracker owns the rolling monthly revenue accumulator. CanAccommodate
// is advisory; the authoritative gate is the commit performed inside the
// acceptance transaction, which re-checks the ceiling under a row lock.
type LimitTracker struct {
	repo    RepositoryPort
	cache   *redis.Client
	ttl     time.Duration
	warning decimal.Decimal
	block   decimal.Decimal
	printer *message.Printer
	clock   func() time.Time
}

// NewLimitTracker builds a LimitTracker. The cache client may be nil, in
// which case every read goes to the repository.
func NewLimitTracker(repo RepositoryPort, cache *redis.Client, warning, block decimal.Decimal) *LimitTracker {
	return &LimitTracker{
		repo:    repo,
		cache:   cache,
		ttl:     5 * time.Minute,
		warning: warning,
		block:   block,
		printer: message.NewPrinter(language.MustParse("es-PE")),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Thresholds exposes the configured tiers.
func (t *LimitTracker) Thresholds() (warning, block decimal.Decimal) {
	return t.warning, t.block
}

// StatusFor returns the accumulator for a month, creating it lazily. The
// alert tier is recomputed against the configured thresholds so a stale
// stored tier never leaks out.
func (t *LimitTracker) StatusFor(ctx context.Context, year int, month time.Month) (*MonthlyLimit, error) {
	limit, err := t.repo.GetMonthlyLimit(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("billing: monthly limit %d-%02d: %w", year, month, err)
	}
	limit.Recompute(t.warning, t.block)
	return limit, nil
}

// CanAccommodate reports whether amount still fits under the ceiling for the
// given month. Exact decimal comparison; a cent over is a refusal.
func (t *LimitTracker) CanAccommodate(ctx context.Context, year int, month time.Month, amount decimal.Decimal) (bool, error) {
	limit, err := t.StatusFor(ctx, year, month)
	if err != nil {
		return false, err
	}
	return limit.TotalInvoiced.Add(amount).LessThanOrEqual(t.block), nil
}

// Status assembles the display read model, served from cache when possible.
func (t *LimitTracker) Status(ctx context.Context, year int, month time.Month) (*LimitStatus, error) {
	key := t.cacheKey(year, month)
	if t.cache != nil {
		raw, err := t.cache.Get(ctx, key).Bytes()
		if err == nil {
			var cached LimitStatus
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return &cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("billing: limit cache get: %w", err)
		}
	}

	limit, err := t.StatusFor(ctx, year, month)
	if err != nil {
		return nil, err
	}
	status := t.buildStatus(limit)

	if t.cache != nil {
		if raw, err := json.Marshal(status); err == nil {
			_ = t.cache.Set(ctx, key, raw, t.ttl).Err()
		}
	}
	return status, nil
}

// CurrentStatus is Status for the current calendar month.
func (t *LimitTracker) CurrentStatus(ctx context.Context) (*LimitStatus, error) {
	now := t.clock()
	return t.Status(ctx, now.Year(), now.Month())
}

// Invalidate drops the cached read model after a commit changed the totals.
func (t *LimitTracker) Invalidate(ctx context.Context, year int, month time.Month) {
	if t.cache == nil {
		return
	}
	_ = t.cache.Del(ctx, t.cacheKey(year, month)).Err()
}

func (t *LimitTracker) buildStatus(limit *MonthlyLimit) *LimitStatus {
	remaining := t.block.Sub(limit.TotalInvoiced)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	percentage := decimal.Zero
	if t.block.IsPositive() {
		percentage = limit.TotalInvoiced.Div(t.block).Mul(decimal.NewFromInt(100)).Round(2)
	}
	level, blocked := LevelFor(limit.TotalInvoiced, t.warning, t.block)

	remainingF, _ := remaining.Float64()
	return &LimitStatus{
		Year:             limit.Year,
		Month:            limit.Month,
		TotalInvoiced:    limit.TotalInvoiced,
		TransactionCount: limit.TransactionCount,
		Remaining:        remaining,
		Percentage:       percentage,
		AlertLevel:       level,
		Blocked:          blocked,
		RemainingDisplay: t.printer.Sprintf("S/ %.2f", remainingF),
	}
}

func (t *LimitTracker) cacheKey(year int, month time.Month) string {
	return fmt.Sprintf("limits:%04d-%02d", year, int(month))
}
