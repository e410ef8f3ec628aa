package orchestrator

import (
	"context"
	"testing"
	"time"

	"signalengine/internal/gate"
	"signalengine/internal/store/kvstore"
	"signalengine/internal/store/sqlitestore"
	"signalengine/pkg/model"
)

type fakeAdapter struct {
	bars []model.Bar
}

func (f *fakeAdapter) Name() string      { return "fake" }
func (f *fakeAdapter) IsAvailable() bool { return true }
func (f *fakeAdapter) GetHistoricalSeries(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	return f.bars, nil
}
func (f *fakeAdapter) GetLatestQuote(ctx context.Context, instrumentID string) (model.Quote, error) {
	last := f.bars[len(f.bars)-1]
	return model.Quote{InstrumentID: instrumentID, Price: last.Close, PrevClose: last.Close}, nil
}

type fakeTransport struct{ calls int }

func (f *fakeTransport) SendPush(ctx context.Context, token, recipient, text string) (bool, error) {
	f.calls++
	return true, nil
}

func trendingBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.5
		bars[i] = model.Bar{
			InstrumentID: "AAPL",
			Date:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"),
			Open:         price - 0.3,
			High:         price + 0.5,
			Low:          price - 0.5,
			Close:        price,
			Volume:       int64(1000 + i*10),
			AdjClose:     price,
		}
	}
	return bars
}

func newTestOrchestrator(t *testing.T, bars []model.Bar) (*Orchestrator, *sqlitestore.Store) {
	t.Helper()
	ts, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { ts.Close() })

	kv, err := kvstore.New("")
	if err != nil {
		t.Fatalf("kvstore.New: %v", err)
	}

	ctx := context.Background()
	if err := ts.UpsertInstrument(ctx, model.Instrument{ID: "AAPL", Name: "Apple", Market: model.MarketUS, AssetType: model.AssetStock, Active: true}); err != nil {
		t.Fatalf("seeding instrument: %v", err)
	}

	g := gate.New(kv, ts, &fakeTransport{}, "tok", "user1", nil)
	o := New(ts, kv, &fakeAdapter{bars: bars}, g, nil)
	return o, ts
}

func TestMonitoringTickSkipsInstrumentsWithTooFewBars(t *testing.T) {
	o, ts := newTestOrchestrator(t, trendingBars(30))

	if err := o.RunMonitoringTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := ts.GetDailyPrices(context.Background(), "AAPL", 100)
	if err != nil {
		t.Fatalf("GetDailyPrices: %v", err)
	}
	if len(rows) != 30 {
		t.Errorf("expected bars to still be persisted even when skipped, got %d", len(rows))
	}

	hist, err := ts.GetLatestSignalHistory(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatestSignalHistory: %v", err)
	}
	if hist != nil {
		t.Error("expected no signal history for an instrument below the minimum bar count")
	}
}

func TestMonitoringTickPersistsDecisionForSufficientBars(t *testing.T) {
	o, ts := newTestOrchestrator(t, trendingBars(150))

	if err := o.RunMonitoringTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := ts.GetDailyPrices(context.Background(), "AAPL", 200)
	if err != nil {
		t.Fatalf("GetDailyPrices: %v", err)
	}
	if len(rows) != 150 {
		t.Errorf("expected 150 persisted bars, got %d", len(rows))
	}

	hist, err := ts.GetLatestSignalHistory(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatestSignalHistory: %v", err)
	}
	if hist == nil {
		t.Error("expected a persisted decision for an instrument with enough bars")
	}
}

func TestRunSummaryPersistsSnapshotAndSends(t *testing.T) {
	o, ts := newTestOrchestrator(t, trendingBars(60))
	ctx := context.Background()

	if err := ts.UpsertHolding(ctx, model.Holding{
		InstrumentID: "AAPL", AccountClass: "taxable", Quantity: 10, AvgCost: 100,
		CurrentPrice: 110, MarketValue: 1100, UnrealizedPnL: 100, Currency: model.CurrencyUSD, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seeding holding: %v", err)
	}

	if err := o.RunSummary(ctx, model.MarketUS, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	snap, err := ts.GetSnapshot(ctx, today)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap == nil || snap.TotalValue != 1100 {
		t.Fatalf("expected snapshot with total value 1100, got %+v", snap)
	}
}

func TestRouteTickDispatchesFundRefreshAt1300UTC(t *testing.T) {
	o, ts := newTestOrchestrator(t, trendingBars(60))
	ctx := context.Background()

	fund := model.Instrument{ID: "FUND1", Name: "Test Fund", Market: model.MarketJP, AssetType: model.AssetMutualFund, Active: true}
	if err := ts.UpsertInstrument(ctx, fund); err != nil {
		t.Fatalf("seeding fund: %v", err)
	}

	at := time.Date(2026, 1, 5, 13, 2, 0, 0, time.UTC) // Monday
	if err := o.RouteTick(ctx, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := ts.GetDailyPrices(ctx, "FUND1", 10)
	if err != nil {
		t.Fatalf("GetDailyPrices: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected fund refresh to write exactly one bar, got %d", len(rows))
	}
}
