// Package signal derives the four per-instrument probabilistic signals
// (L1 upside reach, L2 downside reach, L3 risk-adjusted expectation, L4
// trend state) from an IndicatorBundle plus the raw bar series, following
// a multi-factor weighted-blend continuation-probability scoring style.
package signal

import (
	"math"

	"signalengine/pkg/model"
)

// Horizons are the two trading-day look-ahead windows L1/L2/L3 evaluate.
var Horizons = []int{60, 120}

// Compute derives the full SignalBundle for one instrument's bar series.
// bars must be the same ascending series the IndicatorBundle was computed
// from (at least indicator.MinBars long).
func Compute(bars []model.Bar, bundle model.IndicatorBundle) model.SignalBundle {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	price := bundle.LastClose
	atrPct := 0.0
	if price > 0 {
		atrPct = bundle.ATR20 / price * 100
	}
	targetPct := clamp(atrPct*2, 5, 30)

	var bestL1, bestL2 model.ReachSignal
	var bestL3 model.RiskAdjusted
	bestL1.Probability = -1
	bestL2.Probability = -1
	bestL3.SharpeRatio = math.Inf(-1)

	for _, n := range Horizons {
		l1 := computeL1(bars, closes, bundle, targetPct, n)
		if l1.Probability > bestL1.Probability {
			bestL1 = l1
		}
		l2 := computeL2(bars, closes, bundle, targetPct, n)
		if l2.Probability > bestL2.Probability {
			bestL2 = l2
		}
		l3 := computeL3(bundle, l1.Probability, l2.Probability, targetPct, n)
		if l3.SharpeRatio > bestL3.SharpeRatio {
			bestL3 = l3
		}
	}

	// The reported horizon label is always L1's, even when L2/L3
	// picked a different N for their own maximization. Preserved exactly
	// per DESIGN.md's open-question decision.
	l4 := computeL4(bundle)

	return model.SignalBundle{L1: bestL1, L2: bestL2, L3: bestL3, L4: l4}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func computeL1(bars []model.Bar, closes []float64, b model.IndicatorBundle, targetPct float64, horizon int) model.ReachSignal {
	momentum := momentumScoreUp(b.RSI14)
	trend := trendScoreUp(b)
	breakout := breakoutScoreUp(b)
	volume := volumeScoreUp(b.VolumeRatio)

	factorScore := momentum*0.25 + trend*0.30 + breakout*0.20 + volume*0.25
	baseRate := empiricalUpRate(closes, targetPct, horizon)
	blended := factorScore*0.6 + baseRate*0.4
	prob := clamp(blended, 0.1, 0.9)

	return model.ReachSignal{
		Probability: prob,
		TargetPct:   targetPct,
		HorizonDays: horizon,
		FactorScores: map[string]float64{
			"momentum": momentum,
			"trend":    trend,
			"breakout": breakout,
			"volume":   volume,
		},
	}
}

func computeL2(bars []model.Bar, closes []float64, b model.IndicatorBundle, targetPct float64, horizon int) model.ReachSignal {
	momentum := momentumScoreDown(b.RSI14)
	trend := trendScoreDown(b)
	breakdown := breakdownScoreDown(b)
	volume := volumeScoreDown(bars)

	factorScore := momentum*0.25 + trend*0.30 + breakdown*0.20 + volume*0.25
	baseRate := empiricalDownRate(closes, targetPct, horizon)
	blended := factorScore*0.6 + baseRate*0.4
	prob := clamp(blended, 0.1, 0.9)

	return model.ReachSignal{
		Probability: prob,
		TargetPct:   targetPct,
		HorizonDays: horizon,
		FactorScores: map[string]float64{
			"momentum":  momentum,
			"trend":     trend,
			"breakdown": breakdown,
			"volume":    volume,
		},
	}
}

func momentumScoreUp(rsi float64) float64 {
	switch {
	case rsi < 30:
		return 0.75
	case rsi < 50:
		return 0.6
	case rsi < 70:
		return 0.45
	default:
		return 0.3
	}
}

func momentumScoreDown(rsi float64) float64 {
	switch {
	case rsi > 70:
		return 0.75
	case rsi > 50:
		return 0.6
	case rsi > 30:
		return 0.45
	default:
		return 0.3
	}
}

func trendScoreUp(b model.IndicatorBundle) float64 {
	var score float64
	switch {
	case b.LastClose > b.SMA20 && b.LastClose > b.SMA60:
		score = 0.7
	case b.LastClose > b.SMA60:
		score = 0.6
	case b.LastClose > b.SMA20:
		score = 0.5
	default:
		score = 0.35
	}
	if b.SMA20 > b.SMA60 {
		score = math.Min(score+0.1, 0.8)
	}
	return score
}

func trendScoreDown(b model.IndicatorBundle) float64 {
	var score float64
	switch {
	case b.LastClose < b.SMA20 && b.LastClose < b.SMA60:
		score = 0.7
	case b.LastClose < b.SMA60:
		score = 0.6
	case b.LastClose < b.SMA20:
		score = 0.5
	default:
		score = 0.35
	}
	if b.SMA20 < b.SMA60 {
		score = math.Min(score+0.1, 0.8)
	}
	return score
}

func breakoutScoreUp(b model.IndicatorBundle) float64 {
	if b.High52Week <= 0 {
		return 0.35
	}
	distPct := (b.High52Week - b.LastClose) / b.High52Week * 100
	switch {
	case distPct < 5:
		return 0.7
	case distPct < 15:
		return 0.55
	case distPct < 30:
		return 0.45
	default:
		return 0.35
	}
}

func breakdownScoreDown(b model.IndicatorBundle) float64 {
	if b.Low52Week <= 0 {
		return 0.35
	}
	distPct := (b.LastClose - b.Low52Week) / b.Low52Week * 100
	switch {
	case distPct < 5:
		return 0.7
	case distPct < 15:
		return 0.55
	case distPct < 30:
		return 0.45
	default:
		return 0.35
	}
}

func volumeScoreUp(ratio float64) float64 {
	switch {
	case ratio > 1.5:
		return 0.7
	case ratio > 1.0:
		return 0.55
	default:
		return 0.4
	}
}

// volumeScoreDown confirms downside moves on down-days with elevated volume.
func volumeScoreDown(bars []model.Bar) float64 {
	if len(bars) < 21 {
		return 0.4
	}
	cur := bars[len(bars)-1]
	isDownDay := cur.Close < cur.Open
	ratio := 1.0
	window := bars[len(bars)-21 : len(bars)-1]
	var sum int64
	for _, b := range window {
		sum += b.Volume
	}
	if sum > 0 {
		ratio = float64(cur.Volume) / (float64(sum) / 20)
	}
	if !isDownDay {
		return 0.4
	}
	switch {
	case ratio > 1.5:
		return 0.7
	case ratio > 1.0:
		return 0.55
	default:
		return 0.4
	}
}

// empiricalUpRate scans overlapping windows of length horizon and measures
// the fraction in which a later close in the window climbed targetPct%
// above the window's starting close. Only closes are used; bar highs (and,
// for empiricalDownRate, bar lows) are not consulted.
func empiricalUpRate(closes []float64, targetPct float64, horizon int) float64 {
	return empiricalRate(closes, targetPct, horizon, true)
}

func empiricalDownRate(closes []float64, targetPct float64, horizon int) float64 {
	return empiricalRate(closes, targetPct, horizon, false)
}

func empiricalRate(closes []float64, targetPct float64, horizon int, up bool) float64 {
	if len(closes) < horizon+2 {
		return 0.5
	}
	maxWindows := 120
	lastStart := len(closes) - horizon - 1
	firstStart := lastStart - maxWindows + 1
	if firstStart < 0 {
		firstStart = 0
	}

	var hits, total int
	for start := firstStart; start <= lastStart; start++ {
		base := closes[start]
		if base == 0 {
			continue
		}
		window := closes[start+1 : start+1+horizon]
		reached := false
		if up {
			for _, c := range window {
				if (c-base)/base*100 >= targetPct {
					reached = true
					break
				}
			}
		} else {
			for _, c := range window {
				if (base-c)/base*100 >= targetPct {
					reached = true
					break
				}
			}
		}
		if reached {
			hits++
		}
		total++
	}
	if total == 0 {
		return 0.5
	}
	return float64(hits) / float64(total)
}

func computeL3(b model.IndicatorBundle, pUp, pDown, targetPct float64, horizon int) model.RiskAdjusted {
	expectedReturn := pUp*targetPct - pDown*targetPct
	adjVol := annualizedStd(b.DailyReturns) * math.Sqrt(float64(horizon)/252)
	var sharpe float64
	if adjVol > 0 {
		sharpe = (expectedReturn/100 - 0.005) / adjVol
	}
	return model.RiskAdjusted{
		ExpectedReturn: expectedReturn,
		SharpeRatio:    sharpe,
		IsAdvantage:    sharpe > 0.5,
	}
}

func annualizedStd(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := 0.0
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))
	var sumSq float64
	for _, r := range returns {
		d := r - m
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(returns)-1))
	return std * math.Sqrt(252)
}

func computeL4(b model.IndicatorBundle) model.Trend {
	state := model.TrendRange
	switch {
	case b.ADX14 >= 20 && b.DIPlus > b.DIMinus:
		state = model.TrendUp
	case b.ADX14 >= 20 && b.DIPlus <= b.DIMinus:
		state = model.TrendDown
	}

	goldenCross := b.SMA20 > b.SMA60
	deathCross := b.SMA20 < b.SMA60
	macdUp := b.MACDHist > 0
	macdDown := b.MACDHist < 0

	var sig model.TrendSignal
	var conf float64

	switch state {
	case model.TrendRange:
		switch {
		case b.RSI14 < 30 && macdUp:
			sig, conf = model.SignalReversalUp, 0.55
		case b.RSI14 > 70 && macdDown:
			sig, conf = model.SignalReversalDown, 0.55
		default:
			sig, conf = model.SignalContinue, 0.5
		}
	case model.TrendUp:
		switch {
		case deathCross || (b.RSI14 > 70 && macdDown):
			sig, conf = model.SignalReversalDown, 0.6
		case b.ADX14 > 25 && macdUp:
			sig, conf = model.SignalContinue, 0.7
		default:
			sig, conf = model.SignalContinue, 0.55
		}
	case model.TrendDown:
		switch {
		case goldenCross || (b.RSI14 < 30 && macdUp):
			sig, conf = model.SignalReversalUp, 0.6
		case b.ADX14 > 25 && macdDown:
			sig, conf = model.SignalContinue, 0.7
		default:
			sig, conf = model.SignalContinue, 0.55
		}
	}

	if b.ADX14 > 30 {
		conf += 0.1
	} else if b.ADX14 < 15 {
		conf -= 0.1
	}
	conf = clamp(conf, 0.3, 0.85)

	return model.Trend{State: state, Signal: sig, ADX: b.ADX14, Confidence: conf}
}
