package billing

import (
	"context"
	"errors"
	"fmt"
)

// Allocator owns gap-free document numbering per (kind, series). Numbers are
// reserved when a sale is created and the shared counter only advances once
// the gateway confirms acceptance, so a failed submission legitimately
// resubmits the same number instead of skipping it.
type Allocator struct {
	repo RepositoryPort
}

// NewAllocator builds an Allocator instance.
func NewAllocator(repo RepositoryPort) *Allocator {
	return &Allocator{repo: repo}
}

// ErrSeriesInactive is returned when asked to number documents on a series
// that has been retired. This is a configuration error, never retryable.
var ErrSeriesInactive = errors.New("billing: correlative series is inactive")

// PeekNext returns the formatted correlative the next accepted document on
// the series will carry, without consuming it.
func (a *Allocator) PeekNext(ctx context.Context, kind DocumentKind, series string) (string, error) {
	corr, err := a.repo.GetCorrelative(ctx, kind, series)
	if err != nil {
		return "", fmt.Errorf("billing: peek correlative %s/%s: %w", kind, series, err)
	}
	if corr == nil {
		return "", fmt.Errorf("billing: unknown series %s/%s: %w", kind, series, ErrNotFound)
	}
	if !corr.IsActive {
		return "", ErrSeriesInactive
	}
	return corr.Next(), nil
}

// Current returns the counter state for display.
func (a *Allocator) Current(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	return a.repo.GetCorrelative(ctx, kind, series)
}

// EnsureSeries seeds the counter row for a series if it does not exist yet.
// Called once at startup for the default boleta series.
func (a *Allocator) EnsureSeries(ctx context.Context, kind DocumentKind, series string) (*Correlative, error) {
	return a.repo.EnsureCorrelative(ctx, kind, series)
}
