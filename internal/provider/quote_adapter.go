package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"signalengine/internal/ratelimit"
	"signalengine/pkg/model"
)

// QuoteAdapter fetches a latest-quote JSON payload keyed by symbol,
// in the style of a chart-API JSON-decoding adapter. It does
// not serve historical series; Fallback is expected to place it after a
// CSVAdapter so history still comes from a real OHLCV source.
type QuoteAdapter struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewQuoteAdapter builds a QuoteAdapter against baseURL, expected to accept
// a "%s" symbol placeholder and return {"price": n, "previousClose": n}.
// limiter paces requests and governs the retry backoff; callers share one
// limiter per provider rather than letting each adapter instance pace
// independently.
func NewQuoteAdapter(baseURL string, limiter *ratelimit.Limiter) *QuoteAdapter {
	return &QuoteAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
	}
}

func (a *QuoteAdapter) Name() string      { return "quote" }
func (a *QuoteAdapter) IsAvailable() bool { return a.baseURL != "" }

type quoteResponse struct {
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previousClose"`
}

func (a *QuoteAdapter) GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error) {
	var q model.Quote
	err := a.limiter.Retry(ctx, retryAttempts, func(ctx context.Context) error {
		url := fmt.Sprintf(a.baseURL, instrumentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("quote adapter: building request: %w", err)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return &Error{Adapter: a.Name(), Err: err, Transient: true}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &Error{Adapter: a.Name(), Err: fmt.Errorf("rate limited"), Transient: true}
		}
		if resp.StatusCode >= 500 {
			return &Error{Adapter: a.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Transient: true}
		}
		if resp.StatusCode != http.StatusOK {
			return &Error{Adapter: a.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Transient: false}
		}

		var body quoteResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &Error{Adapter: a.Name(), Err: fmt.Errorf("decoding response: %w", err), Transient: false}
		}
		q = model.Quote{
			InstrumentID: instrumentID,
			Price:        body.Price,
			PrevClose:    body.PreviousClose,
			AsOf:         time.Now(),
		}
		return nil
	})
	if err != nil {
		return model.Quote{}, err
	}
	return q, nil
}

// GetHistoricalSeries is unsupported: this adapter only serves latest quotes.
func (a *QuoteAdapter) GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	return nil, &Error{Adapter: a.Name(), Err: fmt.Errorf("historical series not supported"), Transient: false}
}
