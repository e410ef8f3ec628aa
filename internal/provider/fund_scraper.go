package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalengine/internal/ratelimit"
	"signalengine/pkg/model"
)

// navPattern extracts a NAV figure (e.g. "12,345 JPY") from a fund detail
// page. There is no structured NAV API for the funds this engine tracks,
// so the page is scraped with a single targeted regexp rather than a full
// HTML parser — nothing in the reference stack pulls in an HTML-tree
// library, and one regexp is enough for a single known field.
var navPattern = regexp.MustCompile(`NAV[^0-9]*([0-9,]+(?:\.[0-9]+)?)`)

// FundScraper fetches a single current NAV for mutual funds identified by
// a curated display-name→code mapping, since fund codes rarely match
// their display names. Results are cached for cacheTTL because a scrape
// is relatively expensive and NAVs only update once a day.
type FundScraper struct {
	baseURL  string
	codes    map[string]string
	client   *http.Client
	limiter  *ratelimit.Limiter
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   model.Quote
	fetched time.Time
}

// NewFundScraper builds a FundScraper. baseURL accepts a "%s" fund-code
// placeholder; codes maps instrument IDs to the provider's fund codes.
// limiter paces requests (~2s between requests) and governs the retry
// backoff; callers share one limiter per provider rather than letting
// each adapter instance pace independently.
func NewFundScraper(baseURL string, codes map[string]string, limiter *ratelimit.Limiter) *FundScraper {
	return &FundScraper{
		baseURL:  baseURL,
		codes:    codes,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
		cacheTTL: time.Hour,
		cache:    make(map[string]cachedQuote),
	}
}

func (s *FundScraper) Name() string      { return "fund-scraper" }
func (s *FundScraper) IsAvailable() bool { return s.baseURL != "" && len(s.codes) > 0 }

// GetHistoricalSeries is unsupported: fund pages only expose today's NAV.
func (s *FundScraper) GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	return nil, &Error{Adapter: s.Name(), Err: fmt.Errorf("historical series not supported"), Transient: false}
}

func (s *FundScraper) GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error) {
	code, ok := s.codes[instrumentID]
	if !ok {
		return model.Quote{}, &Error{Adapter: s.Name(), Err: fmt.Errorf("no fund code mapped for %s", instrumentID), Transient: false}
	}

	s.mu.Lock()
	if c, ok := s.cache[instrumentID]; ok && time.Since(c.fetched) < s.cacheTTL {
		s.mu.Unlock()
		return c.quote, nil
	}
	s.mu.Unlock()

	var q model.Quote
	err := s.limiter.Retry(ctx, retryAttempts, func(ctx context.Context) error {
		url := fmt.Sprintf(s.baseURL, code)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("fund scraper: building request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return &Error{Adapter: s.Name(), Err: err, Transient: true}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			return &Error{Adapter: s.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Transient: transient}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Adapter: s.Name(), Err: err, Transient: true}
		}

		nav, err := parseNAV(body)
		if err != nil {
			return &Error{Adapter: s.Name(), Err: err, Transient: false}
		}
		q = model.Quote{InstrumentID: instrumentID, Price: nav, PrevClose: nav, AsOf: time.Now()}
		return nil
	})
	if err != nil {
		return model.Quote{}, err
	}

	s.mu.Lock()
	s.cache[instrumentID] = cachedQuote{quote: q, fetched: time.Now()}
	s.mu.Unlock()

	return q, nil
}

func parseNAV(body []byte) (float64, error) {
	m := navPattern.FindSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("nav not found in response")
	}
	cleaned := strings.ReplaceAll(string(m[1]), ",", "")
	nav, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing nav %q: %w", cleaned, err)
	}
	return nav, nil
}
