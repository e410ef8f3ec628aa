// Package orchestrator sequences one scheduled invocation: fetch the
// recent series for each active instrument, derive indicators and
// signals, aggregate a Decision, and submit it to the Notification Gate.
// It also routes wall-clock-triggered summary jobs. The tick loop runs
// sequential per-instrument work with per-instrument error isolation and
// no shared mutable state, across a multi-market, multi-job schedule.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"signalengine/internal/aggregator"
	"signalengine/internal/gate"
	"signalengine/internal/indicator"
	"signalengine/internal/logx"
	"signalengine/internal/provider"
	"signalengine/internal/signal"
	"signalengine/internal/store"
	"signalengine/pkg/model"
)

// seriesDepth is the number of recent daily bars read per tick.
const seriesDepth = 200

// Orchestrator wires the store, price adapter, and gate together for one
// scheduled invocation.
type Orchestrator struct {
	Tabular  store.TabularStore
	KV       store.KVStore
	Prices   provider.PriceAdapter
	Gate     *gate.Gate
	Log      logx.Logger
}

// New builds an Orchestrator from its collaborators.
func New(tabular store.TabularStore, kv store.KVStore, prices provider.PriceAdapter, g *gate.Gate, log logx.Logger) *Orchestrator {
	if log == nil {
		log = logx.New()
	}
	return &Orchestrator{Tabular: tabular, KV: kv, Prices: prices, Gate: g, Log: log}
}

// RouteTick inspects the UTC wall clock and runs whichever scheduled job(s)
// apply, per the routing table below. It is meant to be called once per
// 5-minute ticker fire; `now` is passed in rather than read internally so
// a single invocation routes to at most the jobs whose window it lands in.
func (o *Orchestrator) RouteTick(ctx context.Context, now time.Time) error {
	utc := now.UTC()

	switch {
	case utc.Hour() == 7 && utc.Minute() < 5:
		return o.RunSummary(ctx, model.MarketJP, utc)
	case utc.Hour() == 22 && utc.Minute() < 5:
		return o.RunSummary(ctx, model.MarketUS, utc)
	case utc.Hour() == 13 && utc.Minute() < 5:
		return o.RunFundRefresh(ctx, utc)
	case utc.Weekday() == time.Saturday && utc.Hour() == 10 && utc.Minute() < 5:
		return o.RunWeeklySummary(ctx, utc)
	}

	if AnyMarketOpen(utc) {
		if mkt, ok := marketFor(utc); ok {
			o.Log.Debug("monitoring tick: %s session open", mkt)
		}
		return o.RunMonitoringTick(ctx, utc)
	}
	return nil
}

// RunMonitoringTick runs the per-instrument monitoring sequence: fetch,
// persist, derive signals, aggregate a decision, and submit it to the gate.
func (o *Orchestrator) RunMonitoringTick(ctx context.Context, now time.Time) error {
	instruments, err := o.Tabular.GetAllSymbols(ctx, true)
	if err != nil {
		return fmt.Errorf("orchestrator: listing instruments: %w", err)
	}

	holdingIDs, err := o.Tabular.GetHoldingSymbolIDs(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: listing holdings: %w", err)
	}
	holding := make(map[string]bool, len(holdingIDs))
	for _, id := range holdingIDs {
		holding[id] = true
	}

	th, ok, err := o.KV.GetThresholds(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reading thresholds: %w", err)
	}
	if !ok {
		th = model.DefaultThresholds()
	}

	for _, in := range instruments {
		if err := o.processInstrument(ctx, in, holding[in.ID], th, now); err != nil {
			o.Log.Warn("monitoring tick: %s: %v", in.ID, err)
			continue
		}
	}
	return nil
}

func (o *Orchestrator) processInstrument(ctx context.Context, in model.Instrument, isHolding bool, th model.Thresholds, now time.Time) error {
	bars, err := o.Prices.GetHistoricalSeries(ctx, in.ID, seriesDepth)
	if err != nil {
		return fmt.Errorf("fetching series: %w", err)
	}
	for _, b := range bars {
		if err := o.Tabular.InsertDailyPrice(ctx, b); err != nil {
			return fmt.Errorf("persisting bar %s: %w", b.Date, err)
		}
	}

	if len(bars) < indicator.MinBars {
		o.Log.Debug("%s: only %d bars, below minimum %d, skipping", in.ID, len(bars), indicator.MinBars)
		return nil
	}

	bundle, err := indicator.Compute(bars)
	if err != nil {
		return fmt.Errorf("computing indicators: %w", err)
	}

	if err := o.Tabular.UpdateHoldingPrice(ctx, in.ID, bundle.LastClose, now); err != nil && isHolding {
		o.Log.Warn("%s: updating holding price: %v", in.ID, err)
	}

	signals := signal.Compute(bars, bundle)

	events, err := o.Tabular.GetUpcomingEvents(ctx, 14)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	var instrumentEvents []model.Event
	for _, e := range events {
		if e.InstrumentID == in.ID {
			instrumentEvents = append(instrumentEvents, e)
		}
	}

	decision := aggregator.Decide(aggregator.Input{
		InstrumentID: in.ID,
		Signals:      signals,
		Indicators:   bundle,
		Events:       instrumentEvents,
		IsHolding:    isHolding,
		Thresholds:   th,
		Now:          now,
	})

	prev, err := o.Tabular.GetLatestSignalHistory(ctx, in.ID)
	if err != nil {
		return fmt.Errorf("reading previous signal snapshot: %w", err)
	}
	if prev == nil || prev.Action != decision.Action || prev.Confidence != decision.Confidence {
		o.Log.Debug("%s: decision changed to %s (confidence %.2f)", in.ID, decision.Action, decision.Confidence)
	}

	if decision.Action != model.ActionHold {
		if err := o.Tabular.InsertSignalHistory(ctx, decision); err != nil {
			return fmt.Errorf("persisting signal history: %w", err)
		}
	}

	if decision.Action == model.ActionBuy || decision.Action == model.ActionSell {
		if _, err := o.Gate.Submit(ctx, th, decision); err != nil {
			return fmt.Errorf("submitting to gate: %w", err)
		}
	}
	return nil
}

// RunFundRefresh is the mutual-fund-price-only job: it fetches a latest
// quote for every fund instrument and writes a single-point "bar" so the
// series stays current without pulling a full daily history (fund scrapes
// are comparatively expensive).
func (o *Orchestrator) RunFundRefresh(ctx context.Context, now time.Time) error {
	instruments, err := o.Tabular.GetAllSymbols(ctx, true)
	if err != nil {
		return fmt.Errorf("orchestrator: listing instruments: %w", err)
	}
	for _, in := range instruments {
		if in.AssetType != model.AssetMutualFund {
			continue
		}
		q, err := o.Prices.GetLatestQuote(ctx, in.ID)
		if err != nil {
			o.Log.Warn("fund refresh: %s: %v", in.ID, err)
			continue
		}
		bar := model.Bar{
			InstrumentID: in.ID,
			Date:         now.Format("2006-01-02"),
			Open:         q.PrevClose,
			High:         q.Price,
			Low:          q.Price,
			Close:        q.Price,
			Volume:       0,
			AdjClose:     q.Price,
		}
		if q.PrevClose > q.Price {
			bar.High, bar.Low = bar.Low, bar.High
		}
		if err := o.Tabular.InsertDailyPrice(ctx, bar); err != nil {
			o.Log.Warn("fund refresh: %s: persisting bar: %v", in.ID, err)
			continue
		}
		if err := o.Tabular.UpdateHoldingPrice(ctx, in.ID, q.Price, now); err != nil {
			o.Log.Debug("fund refresh: %s: %v", in.ID, err)
		}
	}
	return nil
}

// RunSummary is the daily-summary job: aggregate holdings,
// compute P&L, persist the day's snapshot, and send one message for the
// named market. Caller is expected to have filtered the job's trigger
// time to the correct market already; RunSummary itself does not filter
// instruments by market since holdings/snapshots are portfolio-wide.
func (o *Orchestrator) RunSummary(ctx context.Context, mkt model.Market, now time.Time) error {
	holdings, err := o.Tabular.GetAllHoldings(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: listing holdings: %w", err)
	}

	var totalValue float64
	for _, h := range holdings {
		totalValue += h.MarketValue
	}

	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	dailyPnL := 0.0
	if prevSnap, err := o.Tabular.GetSnapshot(ctx, yesterday); err == nil && prevSnap != nil {
		dailyPnL = totalValue - prevSnap.TotalValue
	}

	monthStart, err := o.Tabular.GetMonthStartValue(ctx, today)
	if err != nil {
		return fmt.Errorf("orchestrator: reading month-start value: %w", err)
	}
	if monthStart == 0 {
		monthStart = totalValue
	}

	snap := model.PortfolioSnapshot{
		Date:            today,
		TotalValue:      totalValue,
		DailyPnL:        dailyPnL,
		MonthStartValue: monthStart,
	}
	if err := o.Tabular.SavePortfolioSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("orchestrator: saving snapshot: %w", err)
	}

	weeklyPnL, err := o.Tabular.CalculateWeeklyPnL(ctx, totalValue)
	if err != nil {
		return fmt.Errorf("orchestrator: calculating weekly pnl: %w", err)
	}
	monthlyPnL, err := o.Tabular.CalculateMonthlyPnL(ctx, totalValue)
	if err != nil {
		return fmt.Errorf("orchestrator: calculating monthly pnl: %w", err)
	}

	msg := fmt.Sprintf("%s summary %s\ntotal value: %.2f\ndaily P&L: %.2f\nweekly P&L: %.2f\nmonthly P&L: %.2f",
		mkt, today, totalValue, dailyPnL, weeklyPnL, monthlyPnL)

	logEntry := model.NotificationLog{
		ID:           fmt.Sprintf("summary-%s-%s", mkt, today),
		InstrumentID: string(mkt),
		Action:       "SUMMARY",
		Message:      msg,
		Timestamp:    now,
	}
	_, sendErr := o.Gate.SendRaw(ctx, msg)
	logEntry.Success = sendErr == nil
	if sendErr != nil {
		logEntry.Err = sendErr.Error()
	}
	if err := o.Tabular.InsertNotificationLog(ctx, logEntry); err != nil {
		o.Log.Warn("summary: writing audit log: %v", err)
	}
	return sendErr
}

// RunWeeklySummary is the Saturday job. It runs the same aggregation as
// RunSummary under the US market label; the message carries no separate
// "weekly" label.
func (o *Orchestrator) RunWeeklySummary(ctx context.Context, now time.Time) error {
	return o.RunSummary(ctx, model.MarketUS, now)
}
