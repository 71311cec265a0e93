package indicators

import "math"

// BollingerBand is one evaluation of the Bollinger indicator.
type BollingerBand struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes the band over the last period values, using the
// population standard deviation.
func Bollinger(values []float64, period int, stdDev float64) (BollingerBand, bool) {
	middle, ok := SMA(values, period)
	if !ok {
		return BollingerBand{}, false
	}
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return BollingerBand{
		Upper:  middle + stdDev*sd,
		Middle: middle,
		Lower:  middle - stdDev*sd,
	}, true
}

// NextBollinger evaluates the band with price appended as the newest sample.
func NextBollinger(values []float64, period int, stdDev float64, price float64) (BollingerBand, bool) {
	series := append(append(make([]float64, 0, len(values)+1), values...), price)
	return Bollinger(series, period, stdDev)
}
