package analysis

import (
	"math"
)

// Every series returned here has the same length as its input. Positions
// where the indicator is not yet defined hold NaN and are never stored.

// nanSeries returns a series of n undefined points
func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Defined reports whether a series value was emitted
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MA calculates the simple moving average of the trailing period values
func MA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA calculates the exponential moving average seeded with the simple
// average of the first period values, smoothing factor 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSI calculates Wilder's relative strength index over day-over-day deltas.
// A window without losses is 100.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDSeries holds the three MACD lines
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates EMA(fast) - EMA(slow), its EMA(signal) and the histogram
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	n := len(closes)
	res := MACDSeries{Line: nanSeries(n), Signal: nanSeries(n), Histogram: nanSeries(n)}
	if n < slow {
		return res
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	first := -1
	for i := 0; i < n; i++ {
		if Defined(emaFast[i]) && Defined(emaSlow[i]) {
			res.Line[i] = emaFast[i] - emaSlow[i]
			if first < 0 {
				first = i
			}
		}
	}
	if first < 0 {
		return res
	}

	sig := EMA(res.Line[first:], signal)
	for i, v := range sig {
		if !Defined(v) {
			continue
		}
		res.Signal[first+i] = v
		res.Histogram[first+i] = res.Line[first+i] - v
	}
	return res
}

// KDJSeries holds the stochastic K, D and J lines
type KDJSeries struct {
	K []float64
	D []float64
	J []float64
}

// KDJ calculates the stochastic oscillator from the trailing n-bar high/low
// range. K and D start at 50 and are smoothed with weights (m-1)/m and 1/m.
// J = 3K - 2D. A flat range counts as RSV 50.
func KDJ(highs, lows, closes []float64, n, kSmooth, dSmooth int) KDJSeries {
	size := len(closes)
	res := KDJSeries{K: nanSeries(size), D: nanSeries(size), J: nanSeries(size)}
	if n <= 0 || kSmooth <= 0 || dSmooth <= 0 || size < n || len(highs) != size || len(lows) != size {
		return res
	}

	k, d := 50.0, 50.0
	for i := n - 1; i < size; i++ {
		high, low := highs[i], lows[i]
		for j := i - n + 1; j < i; j++ {
			high = math.Max(high, highs[j])
			low = math.Min(low, lows[j])
		}

		rsv := 50.0
		if high > low {
			rsv = (closes[i] - low) / (high - low) * 100
		}

		k = (float64(kSmooth-1)*k + rsv) / float64(kSmooth)
		d = (float64(dSmooth-1)*d + k) / float64(dSmooth)
		res.K[i] = k
		res.D[i] = d
		res.J[i] = 3*k - 2*d
	}
	return res
}

// BollingerSeries holds the three Bollinger bands
type BollingerSeries struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger calculates MA(period) with bands at mult population standard
// deviations over the same trailing window.
func Bollinger(closes []float64, period int, mult float64) BollingerSeries {
	n := len(closes)
	res := BollingerSeries{Upper: nanSeries(n), Middle: MA(closes, period), Lower: nanSeries(n)}
	for i := range closes {
		mean := res.Middle[i]
		if !Defined(mean) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := closes[j] - mean
			variance += diff * diff
		}
		std := math.Sqrt(variance / float64(period))
		res.Upper[i] = mean + mult*std
		res.Lower[i] = mean - mult*std
	}
	return res
}
