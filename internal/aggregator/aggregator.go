// Package aggregator reconciles a SignalBundle with event-calendar and
// holding-awareness context into a single Decision, following the
// scoring-then-reasons pattern common to risk-manager signal validation.
package aggregator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"signalengine/pkg/model"
)

// Input bundles everything the Aggregator needs for one instrument.
type Input struct {
	InstrumentID string
	Signals      model.SignalBundle
	Indicators   model.IndicatorBundle
	Events       []model.Event // upcoming events, any horizon; Decide keeps those within 14 days of Now
	IsHolding    bool
	Thresholds   model.Thresholds
	Now          time.Time
}

// Decide applies the scoring and holding-override rules.
func Decide(in Input) model.Decision {
	s := in.Signals
	th := in.Thresholds

	buyConds := []bool{
		s.L1.Probability >= th.L1MinProbability,
		s.L3.IsAdvantage || s.L3.SharpeRatio >= th.L3MinSharpe,
		s.L4.State == model.TrendUp || s.L4.Signal == model.SignalReversalUp,
	}
	sellConds := []bool{
		s.L2.Probability >= th.L2MinProbability,
		s.L3.SharpeRatio < -0.3,
		s.L4.State == model.TrendDown || s.L4.Signal == model.SignalReversalDown,
	}
	buyScore := countTrue(buyConds)
	sellScore := countTrue(sellConds)

	var action model.Action
	var confidence float64
	var warnings []string

	switch {
	case buyScore >= 2 && sellScore < 2:
		action = model.ActionBuy
		confidence = (s.L1.Probability + s.L4.Confidence) / 2
	case sellScore >= 2 && buyScore < 2:
		action = model.ActionSell
		confidence = (s.L2.Probability + s.L4.Confidence) / 2
	case buyScore >= 2 && sellScore >= 2:
		action = model.ActionWatch
		confidence = 0.5
		warnings = append(warnings, "conflict")
	case (buyScore >= 1) != (sellScore >= 1):
		action = model.ActionWatch
		confidence = 0.5
	default:
		action = model.ActionHold
		confidence = 0.5
	}

	reasons := []string{}
	// Holding override: a preliminary SELL on a held instrument is
	// downgraded to WATCH unless both L2 and L3 guards confirm conviction.
	if in.IsHolding && action == model.ActionSell {
		if !(s.L2.Probability >= 0.7 && s.L3.SharpeRatio <= -0.5) {
			action = model.ActionWatch
			reasons = append(reasons, "holding; cautious")
		}
	}

	reasons = append(reasons, buildReasons(s, in.Indicators)...)
	if len(reasons) > 5 {
		reasons = reasons[:5]
	}

	warnings = append(warnings, buildEventWarnings(in.Events, in.Now)...)
	if dd := expectedDrawdownWarning(s.L2); dd != "" {
		warnings = append(warnings, dd)
	}
	if len(warnings) > 3 {
		warnings = warnings[:3]
	}

	return model.Decision{
		InstrumentID: in.InstrumentID,
		Action:       action,
		Confidence:   confidence,
		HorizonDays:  s.L1.HorizonDays,
		Reasons:      reasons,
		Warnings:     warnings,
		Signals:      s,
		Timestamp:    in.Now,
	}
}

func countTrue(conds []bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}

func buildReasons(s model.SignalBundle, ind model.IndicatorBundle) []string {
	var reasons []string

	switch {
	case ind.RSI14 < 30:
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.0f)", ind.RSI14))
	case ind.RSI14 > 70:
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.0f)", ind.RSI14))
	}

	switch {
	case ind.LastClose > ind.SMA20 && ind.LastClose > ind.SMA60:
		reasons = append(reasons, "price above SMA20 and SMA60")
	case ind.LastClose < ind.SMA20 && ind.LastClose < ind.SMA60:
		reasons = append(reasons, "price below SMA20 and SMA60")
	}

	if ind.VolumeRatio > 1.5 {
		reasons = append(reasons, fmt.Sprintf("volume surge (%.1fx average)", ind.VolumeRatio))
	}

	switch {
	case ind.MACDHist > 0:
		reasons = append(reasons, "MACD histogram positive")
	case ind.MACDHist < 0:
		reasons = append(reasons, "MACD histogram negative")
	}

	if ind.ADX14 > 25 {
		reasons = append(reasons, fmt.Sprintf("strong trend (ADX %.0f)", ind.ADX14))
	}

	reasons = append(reasons, trendDescription(s.L4))
	return reasons
}

func trendDescription(t model.Trend) string {
	return fmt.Sprintf("%s / %s (confidence %.2f)", t.State, t.Signal, t.Confidence)
}

func buildEventWarnings(events []model.Event, now time.Time) []string {
	var warnings []string
	horizon := now.Add(14 * 24 * time.Hour)
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	for _, e := range sorted {
		if e.Importance >= 2 && !e.Date.Before(now) && e.Date.Before(horizon) {
			warnings = append(warnings, fmt.Sprintf("%s: %s", e.Date.Format("2006-01-02"), e.Description))
		}
	}
	return warnings
}

func expectedDrawdownWarning(l2 model.ReachSignal) string {
	dd := math.Round(l2.TargetPct * l2.Probability)
	if dd > 5 {
		return fmt.Sprintf("expected max drawdown ~%.0f%%", dd)
	}
	return ""
}
