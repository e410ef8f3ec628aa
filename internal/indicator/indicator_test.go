package indicator

import (
	"testing"
	"time"

	"signalengine/pkg/model"
)

func syntheticBars(n int, start float64, step float64) []model.Bar {
	bars := make([]model.Bar, n)
	price := start
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		open := price
		close := price + step
		hi := open
		lo := close
		if close > hi {
			hi = close
		}
		if open < lo {
			lo = open
		}
		bars[i] = model.Bar{
			InstrumentID: "TEST",
			Date:         base.AddDate(0, 0, i).Format("2006-01-02"),
			Open:         open,
			High:         hi + 0.5,
			Low:          lo - 0.5,
			Close:        close,
			Volume:       1_000_000,
		}
		price = close
	}
	return bars
}

func TestSMAFallsBackToMeanWhenShort(t *testing.T) {
	closes := []float64{1, 2, 3}
	got := SMA(closes, 20)
	want := 2.0
	if got != want {
		t.Errorf("SMA short series = %v, want %v", got, want)
	}
}

func TestSMAMatchesLengthForLongerSeries(t *testing.T) {
	closes := []float64{10, 20, 30, 40, 50}
	got := SMA(closes, 3)
	want := (30.0 + 40.0 + 50.0) / 3
	if got != want {
		t.Errorf("SMA(3) = %v, want %v", got, want)
	}
}

func TestRSIBoundsAndEdgeCases(t *testing.T) {
	allUp := make([]float64, 20)
	for i := range allUp {
		allUp[i] = float64(i)
	}
	if got := RSI(allUp, 14); got != 100 {
		t.Errorf("all-up RSI = %v, want 100", got)
	}

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	if got := RSI(flat, 14); got != 50 {
		t.Errorf("flat RSI = %v, want 50", got)
	}

	short := []float64{1, 2, 3}
	if got := RSI(short, 14); got != 50 {
		t.Errorf("short series RSI = %v, want 50 (neutral)", got)
	}

	mixed := []float64{10, 11, 10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16}
	got := RSI(mixed, 14)
	if got < 0 || got > 100 {
		t.Errorf("RSI out of bounds: %v", got)
	}
}

func TestMACDHistogramSignOnUptrend(t *testing.T) {
	bars := syntheticBars(60, 100, 1.0)
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	line, signal, hist := MACD(closes)
	if line <= 0 {
		t.Errorf("expected positive MACD line on uptrend, got %v", line)
	}
	if hist != line-signal {
		t.Errorf("histogram should equal line-signal, got hist=%v line=%v signal=%v", hist, line, signal)
	}
}

func TestComputeRequiresMinBars(t *testing.T) {
	bars := syntheticBars(MinBars-1, 100, 0.5)
	_, err := Compute(bars)
	if err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestComputeFullBundle(t *testing.T) {
	bars := syntheticBars(80, 100, 0.5)
	bundle, err := Compute(bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Insufficient {
		t.Error("bundle should not be marked insufficient")
	}
	if bundle.SMA20 == 0 || bundle.EMA12 == 0 {
		t.Error("expected non-zero moving averages on a trending series")
	}
	if bundle.RSI14 < 0 || bundle.RSI14 > 100 {
		t.Errorf("RSI14 out of bounds: %v", bundle.RSI14)
	}
	if bundle.ADX14 < 0 || bundle.ADX14 > 100 {
		t.Errorf("ADX14 out of bounds: %v", bundle.ADX14)
	}
}

func TestVolumeRatioDefaultsToOneWhenShort(t *testing.T) {
	bars := syntheticBars(5, 100, 1)
	if got := VolumeRatio(bars, 20); got != 1 {
		t.Errorf("VolumeRatio short series = %v, want 1", got)
	}
}

func TestBollingerBandsOrdering(t *testing.T) {
	bars := syntheticBars(30, 100, 0.2)
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	upper, middle, lower := Bollinger(closes, 20, 2.0)
	if !(upper >= middle && middle >= lower) {
		t.Errorf("expected upper >= middle >= lower, got %v %v %v", upper, middle, lower)
	}
}
