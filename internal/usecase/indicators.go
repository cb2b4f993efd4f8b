package usecase

import (
	"math"
	"sort"

	"github.com/vitos/crypto_ut_bot/internal/domain"
)

// TrueRange for bar i given the previous close.
func TrueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// ATR is the plain mean of true ranges over the last period bars. This is
// deliberately not Wilder-smoothed: the trailing stop tracks the simple mean.
// Returns 0 when there is not enough history (period+1 bars needed).
func ATR(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		sum += TrueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}
	return sum / float64(period)
}

// UpdateTrailingStop advances the UT-Bot trailing stop by one completed bar.
// nLoss is key_value * ATR. The stop ratchets while price stays on one side
// and re-anchors on a crossing.
func UpdateTrailingStop(prevStop, prevClose, close, nLoss float64) float64 {
	switch {
	case close > prevStop && prevClose > prevStop:
		return math.Max(prevStop, close-nLoss)
	case close < prevStop && prevClose < prevStop:
		return math.Min(prevStop, close+nLoss)
	case close > prevStop:
		return close - nLoss
	default:
		return close + nLoss
	}
}

// BarSignal is +1 on an upward crossing of the trailing stop, -1 on a
// downward crossing, 0 otherwise. prevStop is the stop before this bar's
// update.
func BarSignal(prevStop, prevClose, close float64) int {
	if prevClose < prevStop && close > prevStop {
		return 1
	}
	if prevClose > prevStop && close < prevStop {
		return -1
	}
	return 0
}

// ResampleCandles aggregates 1-minute bars into periodMinutes bars. Bar
// starts align to UTC boundaries divisible by the period; chunks still
// missing bars are discarded.
func ResampleCandles(candles []domain.Candle, periodMinutes int) []domain.Candle {
	if periodMinutes <= 1 {
		return candles
	}
	periodSecs := int64(periodMinutes) * 60

	buckets := make(map[int64][]domain.Candle)
	for _, c := range candles {
		start := c.Time - c.Time%periodSecs
		buckets[start] = append(buckets[start], c)
	}

	starts := make([]int64, 0, len(buckets))
	for start, group := range buckets {
		if len(group) < periodMinutes {
			continue
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]domain.Candle, 0, len(starts))
	for _, start := range starts {
		group := buckets[start]
		sort.Slice(group, func(i, j int) bool { return group[i].Time < group[j].Time })

		bar := domain.Candle{
			Time: start,
			Open: group[0].Open,
			High: group[0].High,
			Low:  group[0].Low,
		}
		for _, c := range group {
			if c.High > bar.High {
				bar.High = c.High
			}
			if c.Low < bar.Low {
				bar.Low = c.Low
			}
			bar.Volume += c.Volume
		}
		bar.Close = group[len(group)-1].Close
		out = append(out, bar)
	}
	return out
}

// RSI over closes with the given period. avg_loss == 0 saturates to 100.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
