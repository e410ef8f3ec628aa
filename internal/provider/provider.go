// Package provider implements the price-adapter contract: fetch daily
// OHLCV history and latest quotes for an instrument. It follows the
// small-interface-plus-fallback-wrapper shape: a thin per-source adapter
// interface plus a composite that tries each in order.
package provider

import (
	"context"

	"signalengine/pkg/model"
)

// PriceAdapter fetches historical daily bars and latest quotes for one
// instrument. Implementations are expected to pace themselves with a
// ratelimit.Limiter rather than relying on the caller to throttle.
type PriceAdapter interface {
	// Name identifies the adapter for logging and error wrapping.
	Name() string

	// GetHistoricalSeries returns up to days ascending daily bars.
	GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error)

	// GetLatestQuote returns the most recent price and previous close.
	GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error)

	// IsAvailable reports whether the adapter has what it needs to run
	// (an API key, a reachable endpoint) before it is tried.
	IsAvailable() bool
}

// Error wraps an adapter-specific failure and marks whether the caller
// should retry via ratelimit.Limiter.Retry (satisfies ratelimit.Retryable).
type Error struct {
	Adapter   string
	Err       error
	Transient bool
}

func (e *Error) Error() string { return e.Adapter + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable satisfies ratelimit.Retryable.
func (e *Error) Retryable() bool { return e.Transient }

// Fallback tries each adapter in order until one succeeds. Unavailable
// adapters are filtered out up front rather than tried and failed every
// call.
type Fallback struct {
	adapters []PriceAdapter
}

// NewFallback builds a Fallback from the subset of adapters that report
// themselves available.
func NewFallback(adapters ...PriceAdapter) *Fallback {
	available := make([]PriceAdapter, 0, len(adapters))
	for _, a := range adapters {
		if a.IsAvailable() {
			available = append(available, a)
		}
	}
	return &Fallback{adapters: available}
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) IsAvailable() bool { return len(f.adapters) > 0 }

// GetHistoricalSeries tries each adapter in order, returning the first
// successful result.
func (f *Fallback) GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	var lastErr error
	for _, a := range f.adapters {
		bars, err := a.GetHistoricalSeries(ctx, instrumentID, days)
		if err == nil {
			return bars, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetLatestQuote tries each adapter in order, returning the first
// successful result.
func (f *Fallback) GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error) {
	var lastErr error
	for _, a := range f.adapters {
		q, err := a.GetLatestQuote(ctx, instrumentID)
		if err == nil {
			return q, nil
		}
		lastErr = err
	}
	return model.Quote{}, lastErr
}

// Adapters returns the underlying, filtered-to-available adapter list.
func (f *Fallback) Adapters() []PriceAdapter {
	return f.adapters
}
