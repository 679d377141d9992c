package agents

import (
	"context"
	"fmt"
	"math"

	"market-analysis-engine/internal/indicators"
	"market-analysis-engine/internal/models"
)

// MLAgent produces a short-horizon expected-move estimate from weighted
// momentum, mean-reversion, volume and trend signals. It consumes the
// technical agent's result to stay consistent with the indicator read
// the rest of the pipeline sees.
type MLAgent struct {
	tf models.Timeframe

	momentumWeight      float64
	meanReversionWeight float64
	volumeWeight        float64
	trendWeight         float64
}

// NewMLAgent builds the predictor with the default signal weights.
func NewMLAgent(tf models.Timeframe) *MLAgent {
	return &MLAgent{
		tf:                  tf,
		momentumWeight:      0.35,
		meanReversionWeight: 0.20,
		volumeWeight:        0.15,
		trendWeight:         0.30,
	}
}

func (a *MLAgent) Spec() Spec {
	return Spec{ID: AgentML, DependsOn: []string{AgentTechnical}}
}

func (a *MLAgent) Run(_ context.Context, in Inputs) models.AgentResult {
	if in.Indicators == nil {
		return models.FailedResult(AgentML, fmt.Errorf("no indicator snapshot available"))
	}
	candles := in.BaseCandles(a.tf)
	if len(candles) < 30 {
		return models.FailedResult(AgentML, fmt.Errorf("need 30 candles, have %d", len(candles)))
	}
	s := *in.Indicators

	signals := map[string]float64{
		"momentum":       a.momentumSignal(s),
		"mean_reversion": a.meanReversionSignal(s),
		"volume":         a.volumeSignal(s, candles),
		"trend":          a.trendSignal(s),
	}
	score := signals["momentum"]*a.momentumWeight +
		signals["mean_reversion"]*a.meanReversionWeight +
		signals["volume"]*a.volumeWeight +
		signals["trend"]*a.trendWeight

	// Expected move scales the score by recent volatility.
	vol := recentVolatility(candles, 20)
	expectedMovePct := score * vol * 100

	bias := models.BiasNeutral
	if score > 0.15 {
		bias = models.BiasBullish
	} else if score < -0.15 {
		bias = models.BiasBearish
	}

	return models.OKResult(AgentML, a.agreementConfidence(signals), map[string]interface{}{
		"bias":              string(bias),
		"score":             score,
		"expected_move_pct": expectedMovePct,
		"signals":           signals,
		"volatility":        vol,
	})
}

// momentumSignal leans with short-term momentum, scaled into [-1, 1].
func (a *MLAgent) momentumSignal(s indicators.Snapshot) float64 {
	return clampSignal(s.Momentum10 / 3.0)
}

// meanReversionSignal fades RSI extremes.
func (a *MLAgent) meanReversionSignal(s indicators.Snapshot) float64 {
	switch {
	case s.RSI14 >= 70:
		return -clampSignal((s.RSI14 - 70) / 15)
	case s.RSI14 <= 30 && s.RSI14 > 0:
		return clampSignal((30 - s.RSI14) / 15)
	default:
		return 0
	}
}

// volumeSignal confirms the last bar's direction when volume runs hot.
func (a *MLAgent) volumeSignal(s indicators.Snapshot, candles []models.Candle) float64 {
	if s.VolumeRatio < 1.3 {
		return 0
	}
	last := candles[len(candles)-1]
	dir := 0.0
	if last.Close > last.Open {
		dir = 1
	} else if last.Close < last.Open {
		dir = -1
	}
	return dir * clampSignal((s.VolumeRatio-1)/2)
}

// trendSignal reads the moving-average stack.
func (a *MLAgent) trendSignal(s indicators.Snapshot) float64 {
	if s.SMA20 == 0 || s.SMA50 == 0 {
		return 0
	}
	signal := 0.0
	if s.Close > s.SMA20 {
		signal += 0.5
	} else {
		signal -= 0.5
	}
	if s.SMA20 > s.SMA50 {
		signal += 0.5
	} else {
		signal -= 0.5
	}
	return signal
}

// agreementConfidence grows when the signals point the same way.
func (a *MLAgent) agreementConfidence(signals map[string]float64) float64 {
	pos, neg := 0, 0
	for _, v := range signals {
		if v > 0.1 {
			pos++
		} else if v < -0.1 {
			neg++
		}
	}
	agreement := math.Abs(float64(pos-neg)) / float64(len(signals))
	return 35 + 50*agreement
}

// recentVolatility is the stddev of bar-over-bar returns.
func recentVolatility(candles []models.Candle, lookback int) float64 {
	if len(candles) < lookback+1 {
		lookback = len(candles) - 1
	}
	window := candles[len(candles)-lookback-1:]
	returns := make([]float64, 0, lookback)
	for i := 1; i < len(window); i++ {
		if window[i-1].Close == 0 {
			continue
		}
		returns = append(returns, (window[i].Close-window[i-1].Close)/window[i-1].Close)
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var varSum float64
	for _, r := range returns {
		varSum += (r - mean) * (r - mean)
	}
	return math.Sqrt(varSum / float64(len(returns)))
}

func clampSignal(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
