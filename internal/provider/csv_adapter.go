package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"signalengine/internal/ratelimit"
	"signalengine/pkg/model"
)

// CSVAdapter fetches daily OHLCV history from a free CSV endpoint
// (stooq.com and similar sources serve "date,open,high,low,close,volume"
// rows ascending by date with one request per symbol, no API key).
type CSVAdapter struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// retryAttempts is the number of tries Retry makes for a transient fetch
// failure before the caller gives up on this instrument for the tick.
const retryAttempts = 5

// NewCSVAdapter builds a CSVAdapter against baseURL, which is expected to
// accept a "%s" symbol placeholder, e.g. "https://stooq.com/q/d/l/?s=%s&i=d".
// limiter paces requests and governs the retry backoff; callers share one
// limiter per provider rather than letting each adapter instance pace
// independently.
func NewCSVAdapter(baseURL string, limiter *ratelimit.Limiter) *CSVAdapter {
	return &CSVAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

func (a *CSVAdapter) Name() string      { return "csv" }
func (a *CSVAdapter) IsAvailable() bool { return a.baseURL != "" }

// GetHistoricalSeries fetches the full series the endpoint returns and
// keeps the trailing `days` rows, ascending by date. Transient failures
// (timeouts, 429, 5xx) are retried through the limiter's backoff before
// the error is returned to the caller.
func (a *CSVAdapter) GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	var bars []model.Bar
	err := a.limiter.Retry(ctx, retryAttempts, func(ctx context.Context) error {
		url := fmt.Sprintf(a.baseURL, instrumentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("csv adapter: building request: %w", err)
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

		parsed, err := parseCSVBars(instrumentID, resp.Body)
		if err != nil {
			return &Error{Adapter: a.Name(), Err: err, Transient: false}
		}
		bars = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

func parseCSVBars(instrumentID string, r io.Reader) ([]model.Bar, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv response")
	}

	bars := make([]model.Bar, 0, len(records))
	for i, row := range records {
		if i == 0 && len(row) > 0 && row[0] == "Date" {
			continue // header row
		}
		if len(row) < 6 {
			continue
		}
		open, oerr := strconv.ParseFloat(row[1], 64)
		high, herr := strconv.ParseFloat(row[2], 64)
		low, lerr := strconv.ParseFloat(row[3], 64)
		closePrice, cerr := strconv.ParseFloat(row[4], 64)
		volume, verr := strconv.ParseInt(row[5], 10, 64)
		if oerr != nil || herr != nil || lerr != nil || cerr != nil || verr != nil {
			continue // skip malformed row rather than fail the whole series
		}
		bars = append(bars, model.Bar{
			InstrumentID: instrumentID,
			Date:         row[0],
			Open:         open,
			High:         high,
			Low:          low,
			Close:        closePrice,
			Volume:       volume,
			AdjClose:     closePrice,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no usable rows in csv response")
	}
	return bars, nil
}

// GetLatestQuote derives the latest quote from the tail of the historical
// series, since the CSV endpoint has no separate real-time quote route.
func (a *CSVAdapter) GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error) {
	bars, err := a.GetHistoricalSeries(ctx, instrumentID, 2)
	if err != nil {
		return model.Quote{}, err
	}
	last := bars[len(bars)-1]
	q := model.Quote{InstrumentID: instrumentID, Price: last.Close, PrevClose: last.Close}
	if len(bars) >= 2 {
		q.PrevClose = bars[len(bars)-2].Close
	}
	return q, nil
}
