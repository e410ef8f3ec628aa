package sqlitestore

import (
	"context"
	"testing"
	"time"

	"signalengine/pkg/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertDailyPriceIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	bar := model.Bar{InstrumentID: "AAPL", Date: "2026-01-02", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000}
	if err := s.InsertDailyPrice(ctx, bar); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertDailyPrice(ctx, bar); err != nil {
		t.Fatalf("repeat insert: %v", err)
	}

	rows, err := s.GetDailyPrices(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("GetDailyPrices: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row after idempotent insert, got %d", len(rows))
	}
}

func TestGetDailyPricesAscending(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	dates := []string{"2026-01-03", "2026-01-01", "2026-01-02"}
	for _, d := range dates {
		bar := model.Bar{InstrumentID: "AAPL", Date: d, Open: 1, High: 2, Low: 0, Close: 1.5, Volume: 10}
		if err := s.InsertDailyPrice(ctx, bar); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := s.GetDailyPrices(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("GetDailyPrices: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Date > rows[i].Date {
			t.Errorf("rows not ascending: %s before %s", rows[i-1].Date, rows[i].Date)
		}
	}
}

func TestUpsertInstrumentIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	in := model.Instrument{ID: "AAPL", Name: "Apple", Market: model.MarketUS, AssetType: model.AssetStock, Active: true}
	if err := s.UpsertInstrument(ctx, in); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	in.Active = false
	if err := s.UpsertInstrument(ctx, in); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := s.GetAllSymbols(ctx, false)
	if err != nil {
		t.Fatalf("GetAllSymbols: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 instrument after idempotent upsert, got %d", len(all))
	}
	if all[0].Active {
		t.Error("expected second upsert's Active=false to take effect")
	}
}

func TestGetLatestSignalHistoryReturnsMostRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	older := model.Decision{InstrumentID: "AAPL", Action: model.ActionBuy, Confidence: 0.7, Timestamp: base}
	newer := model.Decision{InstrumentID: "AAPL", Action: model.ActionSell, Confidence: 0.8, Timestamp: base.Add(time.Hour)}

	if err := s.InsertSignalHistory(ctx, older); err != nil {
		t.Fatalf("insert older: %v", err)
	}
	if err := s.InsertSignalHistory(ctx, newer); err != nil {
		t.Fatalf("insert newer: %v", err)
	}

	got, err := s.GetLatestSignalHistory(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetLatestSignalHistory: %v", err)
	}
	if got == nil || got.Action != model.ActionSell {
		t.Fatalf("expected latest row to be the SELL decision, got %+v", got)
	}
}

func TestGetLatestSignalHistoryNilWhenAbsent(t *testing.T) {
	s := openTest(t)
	got, err := s.GetLatestSignalHistory(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for an instrument with no history, got %+v", got)
	}
}

func TestUpdateHoldingPriceDerivesFields(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO instruments (id, name, market, asset_type, active) VALUES (?, ?, ?, ?, 1)`,
		"AAPL", "Apple", "US", "stock")
	if err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO holdings (instrument_id, account_class, quantity, avg_cost,
		current_price, market_value, unrealized_pnl, currency, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"AAPL", "taxable", 10.0, 100.0, 100.0, 1000.0, 0.0, "USD", time.Now().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	if err := s.UpdateHoldingPrice(ctx, "AAPL", 120, time.Now()); err != nil {
		t.Fatalf("UpdateHoldingPrice: %v", err)
	}

	holdings, err := s.GetAllHoldings(ctx)
	if err != nil {
		t.Fatalf("GetAllHoldings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}
	h := holdings[0]
	if h.MarketValue != 1200 {
		t.Errorf("MarketValue = %v, want 1200", h.MarketValue)
	}
	if h.UnrealizedPnL != 200 {
		t.Errorf("UnrealizedPnL = %v, want 200", h.UnrealizedPnL)
	}
}
