package indicators

import (
	"math"
	"sort"

	"zrx-ladder-bot/internal/models"
)

const (
	SMAPeriod = 50
	ATRPeriod = 14
)

// DefaultMultipliers are the ATR multiples placed on each side of the SMA.
var DefaultMultipliers = []float64{1, 2, 3}

// Snapshot is the set of indicator values computed for one reference price.
type Snapshot struct {
	SMA   float64
	ATR   float64
	Bands []float64
}

// SMA returns the simple moving average of the last period values.
// ok is false when there are fewer values than the period.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}

// TrueRange of a candle given the previous close. The first candle of a
// series has no previous close and uses its own range.
func TrueRange(c models.Candle, prevClose float64, hasPrev bool) float64 {
	tr := c.High - c.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the Wilder-smoothed average true range over the candles.
// Requires at least period candles.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}

	// Initial ATR is the plain mean of the first `period` true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += TrueRange(candles[i], prevClose(candles, i), i > 0)
	}
	atr /= float64(period)

	for i := period; i < len(candles); i++ {
		tr := TrueRange(candles[i], candles[i-1].Close, true)
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

func prevClose(candles []models.Candle, i int) float64 {
	if i == 0 {
		return 0
	}
	return candles[i-1].Close
}

// Compute evaluates the SMA at lastPrice and the ATR at the most recent
// candle, then lays the bands around the SMA. ok is false when there are
// not enough candles for either indicator.
func Compute(candles []models.Candle, lastPrice float64, multipliers []float64) (Snapshot, bool) {
	if len(candles) == 0 {
		return Snapshot{}, false
	}
	sorted := sortedByTime(candles)

	closes := make([]float64, 0, len(sorted)+1)
	for _, c := range sorted {
		closes = append(closes, c.Close)
	}
	if len(sorted) < SMAPeriod {
		return Snapshot{}, false
	}
	sma, ok := SMA(append(closes, lastPrice), SMAPeriod)
	if !ok {
		return Snapshot{}, false
	}

	// The latest candle is fed once more as the newest sample
	withLatest := append(append([]models.Candle{}, sorted...), sorted[len(sorted)-1])
	atr, ok := ATR(withLatest, ATRPeriod)
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{SMA: sma, ATR: atr, Bands: Bands(sma, atr, multipliers)}, true
}

// PriceBands returns the six band levels ascending, or an empty slice when
// there is not enough history.
func PriceBands(candles []models.Candle, lastPrice float64) []float64 {
	snap, ok := Compute(candles, lastPrice, DefaultMultipliers)
	if !ok {
		return []float64{}
	}
	return snap.Bands
}

// Bands returns sma ± k·atr for every multiplier k, ascending.
func Bands(sma, atr float64, multipliers []float64) []float64 {
	levels := make([]float64, 0, len(multipliers)*2)
	for _, k := range multipliers {
		levels = append(levels, sma-k*atr, sma+k*atr)
	}
	sort.Float64s(levels)
	return levels
}

func sortedByTime(candles []models.Candle) []models.Candle {
	out := append([]models.Candle(nil), candles...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
