// Package indicators computes the baseline technical indicators used by
// the analyzer pipeline. All functions are pure over a candle slice.
package indicators

import (
	"math"

	"market-analysis-engine/internal/models"
)

// Snapshot is the indicator-stage output consumed by the analyzers and
// the prior-levels derivation. Field names are part of the artifact
// contract.
type Snapshot struct {
	Close       float64 `json:"close"`
	SMA20       float64 `json:"sma_20"`
	SMA50       float64 `json:"sma_50"`
	EMA9        float64 `json:"ema_9"`
	EMA21       float64 `json:"ema_21"`
	RSI14       float64 `json:"rsi_14"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_histogram"`
	ATR14       float64 `json:"atr_14"`
	ADX14       float64 `json:"adx_14"`
	BBUpper     float64 `json:"bb_upper"`
	BBMiddle    float64 `json:"bb_middle"`
	BBLower     float64 `json:"bb_lower"`
	StochK      float64 `json:"stoch_k"`
	StochD      float64 `json:"stoch_d"`
	AvgVolume20 float64 `json:"avg_volume_20"`
	VolumeRatio float64 `json:"volume_ratio"`
	Momentum10  float64 `json:"momentum_10"`
	PivotPoint  float64 `json:"pivot_point"`
	Support1    float64 `json:"support_1"`
	Resistance1 float64 `json:"resistance_1"`
}

// Compute builds a full snapshot from candles. Returns a zero-valued
// snapshot when there is too little history; callers gate on len(candles).
func Compute(candles []models.Candle) Snapshot {
	if len(candles) == 0 {
		return Snapshot{}
	}
	last := candles[len(candles)-1]
	macd, signal, hist := MACD(candles, 12, 26, 9)
	bbU, bbM, bbL := BollingerBands(candles, 20, 2.0)
	k, d := Stochastic(candles, 14, 3)
	pivot, s1, r1 := PivotPoints(candles)

	avgVol := AverageVolume(candles, 20)
	volRatio := 0.0
	if avgVol > 0 {
		volRatio = last.Volume / avgVol
	}

	return Snapshot{
		Close:       last.Close,
		SMA20:       SMA(candles, 20),
		SMA50:       SMA(candles, 50),
		EMA9:        EMA(candles, 9),
		EMA21:       EMA(candles, 21),
		RSI14:       RSI(candles, 14),
		MACD:        macd,
		MACDSignal:  signal,
		MACDHist:    hist,
		ATR14:       ATR(candles, 14),
		ADX14:       ADX(candles, 14),
		BBUpper:     bbU,
		BBMiddle:    bbM,
		BBLower:     bbL,
		StochK:      k,
		StochD:      d,
		AvgVolume20: avgVol,
		VolumeRatio: volRatio,
		Momentum10:  Momentum(candles, 10),
		PivotPoint:  pivot,
		Support1:    s1,
		Resistance1: r1,
	}
}

// Bias reads the directional lean of the snapshot by majority vote of
// trend, momentum and oscillator signals. Confidence is 0-100.
func (s Snapshot) Bias() (models.Bias, float64) {
	bull, bear := 0, 0
	vote := func(cond, inv bool) {
		if cond {
			bull++
		} else if inv {
			bear++
		}
	}
	vote(s.Close > s.SMA20 && s.SMA20 != 0, s.Close < s.SMA20 && s.SMA20 != 0)
	vote(s.EMA9 > s.EMA21 && s.EMA21 != 0, s.EMA9 < s.EMA21 && s.EMA21 != 0)
	vote(s.MACDHist > 0, s.MACDHist < 0)
	vote(s.RSI14 > 55, s.RSI14 < 45)
	vote(s.Momentum10 > 0.5, s.Momentum10 < -0.5)

	total := bull + bear
	if total == 0 {
		return models.BiasNeutral, 30
	}
	strength := float64(abs(bull-bear)) / 5.0
	confidence := 40 + 50*strength
	switch {
	case bull-bear >= 2:
		return models.BiasBullish, confidence
	case bear-bull >= 2:
		return models.BiasBearish, confidence
	default:
		return models.BiasNeutral, 40
	}
}

// SMA is the simple moving average of closes over period.
func SMA(candles []models.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// EMA is the exponential moving average of closes over period, seeded
// with the SMA of the first period closes.
func EMA(candles []models.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	ema := SMA(candles[:period], period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = candles[i].Close*mult + ema*(1-mult)
	}
	return ema
}

// RSI is the relative strength index over period. Returns the neutral 50
// when there is insufficient history.
func RSI(candles []models.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0
	}
	gains, losses := 0.0, 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line, signal line and histogram. The signal line
// is a true EMA over the MACD series rather than a scaled approximation.
func MACD(candles []models.Candle, fast, slow, signalPeriod int) (macd, signal, hist float64) {
	if len(candles) < slow+signalPeriod {
		return 0, 0, 0
	}
	series := make([]float64, 0, len(candles)-slow+1)
	for i := slow; i <= len(candles); i++ {
		window := candles[:i]
		series = append(series, EMA(window, fast)-EMA(window, slow))
	}
	macd = series[len(series)-1]
	signal = emaOf(series, signalPeriod)
	return macd, signal, macd - signal
}

// BollingerBands returns upper, middle, lower bands over period.
func BollingerBands(candles []models.Candle, period int, mult float64) (upper, middle, lower float64) {
	if len(candles) < period {
		return 0, 0, 0
	}
	middle = SMA(candles, period)
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(period))
	return middle + std*mult, middle, middle - std*mult
}

// ATR is the average true range over period.
func ATR(candles []models.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high, low := candles[i].High, candles[i].Low
		prevClose := candles[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}

// ADX approximates trend strength from the latest bar range against ATR.
func ADX(candles []models.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	atr := ATR(candles, period)
	if atr == 0 {
		return 0
	}
	last := candles[len(candles)-1]
	adx := (last.High - last.Low) / atr * 25
	if adx > 100 {
		adx = 100
	}
	return adx
}

// Stochastic returns %K and %D (%D as an SMA over the last dPeriod %K values).
func Stochastic(candles []models.Candle, kPeriod, dPeriod int) (k, d float64) {
	if len(candles) < kPeriod {
		return 50, 50
	}
	kValues := make([]float64, 0, dPeriod)
	for n := dPeriod - 1; n >= 0; n-- {
		end := len(candles) - n
		if end < kPeriod {
			continue
		}
		kValues = append(kValues, rawStochK(candles[:end], kPeriod))
	}
	if len(kValues) == 0 {
		return 50, 50
	}
	k = kValues[len(kValues)-1]
	sum := 0.0
	for _, v := range kValues {
		sum += v
	}
	return k, sum / float64(len(kValues))
}

func rawStochK(candles []models.Candle, period int) float64 {
	start := len(candles) - period
	hi, lo := candles[start].High, candles[start].Low
	for i := start; i < len(candles); i++ {
		if candles[i].High > hi {
			hi = candles[i].High
		}
		if candles[i].Low < lo {
			lo = candles[i].Low
		}
	}
	if hi == lo {
		return 50
	}
	return (candles[len(candles)-1].Close - lo) / (hi - lo) * 100
}

// AverageVolume is the mean volume over the trailing period.
func AverageVolume(candles []models.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}

// Momentum is the percent change of close over period bars.
func Momentum(candles []models.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	cur := candles[len(candles)-1].Close
	past := candles[len(candles)-period-1].Close
	if past == 0 {
		return 0
	}
	return (cur - past) / past * 100
}

// PivotPoints returns the classic pivot with first support/resistance
// from the latest completed bar.
func PivotPoints(candles []models.Candle) (pivot, s1, r1 float64) {
	if len(candles) == 0 {
		return 0, 0, 0
	}
	last := candles[len(candles)-1]
	pivot = (last.High + last.Low + last.Close) / 3
	return pivot, 2*pivot - last.High, 2*pivot - last.Low
}

func emaOf(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if len(series) < period {
		period = len(series)
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	ema := sum / float64(period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(series); i++ {
		ema = series[i]*mult + ema*(1-mult)
	}
	return ema
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
