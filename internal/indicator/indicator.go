// Package indicator computes the pure technical indicators the signal
// layer blends into probabilities: moving averages, RSI, MACD, ATR,
// ADX/DI, Bollinger bands, and volume ratio. Every function is
// deterministic and side-effect-free; none of them mutate the input slice.
package indicator

import (
	"errors"
	"math"

	"signalengine/pkg/model"
)

// ErrInsufficientData is returned by Compute when fewer than MinBars bars
// are available to produce a full bundle.
var ErrInsufficientData = errors.New("indicator: insufficient data")

// MinBars is the minimum series length Compute requires.
const MinBars = 60

// SMA returns the arithmetic mean of the last period closes. If the series
// is shorter than period it falls back to the mean of all closes; it never
// fails on a short series.
func SMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return mean(closes)
	}
	return mean(closes[len(closes)-period:])
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// EMA computes the exponential moving average over the full closes slice,
// seeded with an SMA over the first period points.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return SMA(closes, period)
	}
	k := 2.0 / float64(period+1)
	ema := mean(closes[:period])
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

// emaSeries returns the EMA value at every index from `period` onward,
// used internally to build MACD's signal line.
func emaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	ema := mean(closes[:period])
	out = append(out, ema)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI computes Wilder-style RSI over the given period. Below period+1 bars
// it returns the neutral value 50; if there have been no losses it returns
// 100, except for a flat window (no gains either), which returns 50.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	start := len(closes) - period
	var gains, losses float64
	for i := start; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line (EMA12-EMA26), its 9-period signal line, and
// the histogram (line-signal).
func MACD(closes []float64) (line, signal, hist float64) {
	if len(closes) < 26 {
		return 0, 0, 0
	}
	fast := emaSeries(closes, 12)
	slow := emaSeries(closes, 26)
	offset := len(fast) - len(slow)
	macdSeries := make([]float64, len(slow))
	for i := range slow {
		macdSeries[i] = fast[i+offset] - slow[i]
	}
	line = macdSeries[len(macdSeries)-1]
	if len(macdSeries) < 9 {
		return line, line, 0
	}
	sig := emaSeries(macdSeries, 9)
	signal = sig[len(sig)-1]
	hist = line - signal
	return line, signal, hist
}

// ATR computes the mean true range over the last period bars.
func ATR(bars []model.Bar, period int) float64 {
	if len(bars) < 2 {
		return 0
	}
	start := len(bars) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	n := 0
	for i := start; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1])
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func trueRange(cur, prev model.Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ADX computes a simplified ADX together with DI+ and DI-. The last
// 2*period bars are split into consecutive blocks of period bars; DX is
// computed from each block's summed true range and directional movement,
// and ADX is the plain mean of those block DX values (no Wilder smoothing).
// DI+ and DI- are those of the last block. A block with zero true range or
// zero directional movement contributes DX 0. See DESIGN.md's
// open-question decision.
func ADX(bars []model.Bar, period int) (adx, diPlus, diMinus float64) {
	if len(bars) < period+1 {
		return 0, 0, 0
	}
	start := len(bars) - period*2
	if start < 1 {
		start = 1
	}

	var trSum, plusDMSum, minusDMSum float64
	var dxValues []float64

	for i := start; i < len(bars); i += period {
		end := i + period
		if end > len(bars) {
			end = len(bars)
		}
		if end-i < 2 {
			continue
		}
		trSum, plusDMSum, minusDMSum = 0, 0, 0
		for j := i; j < end; j++ {
			trSum += trueRange(bars[j], bars[j-1])
			upMove := bars[j].High - bars[j-1].High
			downMove := bars[j-1].Low - bars[j].Low
			if upMove > downMove && upMove > 0 {
				plusDMSum += upMove
			}
			if downMove > upMove && downMove > 0 {
				minusDMSum += downMove
			}
		}
		if trSum == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dp := 100 * plusDMSum / trSum
		dm := 100 * minusDMSum / trSum
		sum := dp + dm
		dx := 0.0
		if sum > 0 {
			dx = 100 * math.Abs(dp-dm) / sum
		}
		dxValues = append(dxValues, dx)
	}

	if trSum > 0 {
		diPlus = 100 * plusDMSum / trSum
		diMinus = 100 * minusDMSum / trSum
	}
	adx = mean(dxValues)
	return adx, diPlus, diMinus
}

// Bollinger returns the 20-period SMA band ± stdDevMult standard deviations.
func Bollinger(closes []float64, period int, stdDevMult float64) (upper, middle, lower float64) {
	if len(closes) < period {
		return 0, 0, 0
	}
	window := closes[len(closes)-period:]
	middle = mean(window)
	var sumSq float64
	for _, c := range window {
		d := c - middle
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(period))
	upper = middle + std*stdDevMult
	lower = middle - std*stdDevMult
	return upper, middle, lower
}

// VolumeRatio is the current bar's volume divided by the mean volume of
// the previous `period` bars (excluding the current one).
func VolumeRatio(bars []model.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 1
	}
	cur := bars[len(bars)-1]
	window := bars[len(bars)-1-period : len(bars)-1]
	var sum int64
	for _, b := range window {
		sum += b.Volume
	}
	if sum == 0 {
		return 1
	}
	avg := float64(sum) / float64(period)
	return float64(cur.Volume) / avg
}

// Compute produces a full IndicatorBundle from an ascending bar series.
// It requires at least MinBars bars.
func Compute(bars []model.Bar) (model.IndicatorBundle, error) {
	if len(bars) < MinBars {
		return model.IndicatorBundle{Insufficient: true}, ErrInsufficientData
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	macdLine, macdSignal, macdHist := MACD(closes)
	adx, diPlus, diMinus := ADX(bars, 14)
	bbUpper, bbMiddle, bbLower := Bollinger(closes, 20, 2.0)

	lookback := bars
	if len(lookback) > 252 {
		lookback = lookback[len(lookback)-252:]
	}
	hi, lo := lookback[0].High, lookback[0].Low
	for _, b := range lookback {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}

	return model.IndicatorBundle{
		SMA20:        SMA(closes, 20),
		SMA60:        SMA(closes, 60),
		SMA120:       SMA(closes, 120),
		EMA12:        EMA(closes, 12),
		EMA26:        EMA(closes, 26),
		RSI14:        RSI(closes, 14),
		MACDLine:     macdLine,
		MACDSignal:   macdSignal,
		MACDHist:     macdHist,
		ATR20:        ATR(bars, 20),
		ADX14:        adx,
		DIPlus:       diPlus,
		DIMinus:      diMinus,
		BollUpper:    bbUpper,
		BollMiddle:   bbMiddle,
		BollLower:    bbLower,
		VolumeRatio:  VolumeRatio(bars, 20),
		High52Week:   hi,
		Low52Week:    lo,
		LastClose:    closes[len(closes)-1],
		DailyReturns: returns,
	}, nil
}
