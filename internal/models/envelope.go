package models

// Envelope wire types. The strings are part of the WebSocket contract.
const (
	EnvelopeTick   = "tick"
	EnvelopeCandle = "candle"
	EnvelopeError  = "backend_error"

	StageRolling = "rolling"
	StageClosed  = "closed"
)

// CandleData is the candle body inside a candle envelope.
type CandleData struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Start  int64   `json:"start"`
	End    int64   `json:"end"`
}

// Envelope is one self-describing message delivered to stream
// subscribers. Every envelope carries enough identity (token, timeframe)
// for a client to route it regardless of filter races.
type Envelope struct {
	Type         string                 `json:"type"`
	Token        int64                  `json:"token,omitempty"`
	Price        float64                `json:"price,omitempty"`
	VolumeTraded float64                `json:"volume_traded,omitempty"`
	Timeframe    Timeframe              `json:"timeframe,omitempty"`
	Data         *CandleData            `json:"data,omitempty"`
	Stage        string                 `json:"stage,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
}

// TickEnvelope wraps a tick for fan-out.
func TickEnvelope(t Tick) Envelope {
	return Envelope{
		Type:         EnvelopeTick,
		Token:        t.Token,
		Price:        t.Price,
		VolumeTraded: t.VolumeTraded,
		Timestamp:    t.Timestamp,
	}
}

// CandleEnvelope wraps a candle snapshot for fan-out at the given stage.
func CandleEnvelope(c Candle, stage string, nowMs int64) Envelope {
	return Envelope{
		Type:      EnvelopeCandle,
		Token:     c.Token,
		Timeframe: c.Timeframe,
		Stage:     stage,
		Data: &CandleData{
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, Start: c.Start, End: c.End,
		},
		Timestamp: nowMs,
	}
}

// ErrorEnvelope wraps a backend error for fan-out. Error envelopes are
// never suppressed by the drop policy.
func ErrorEnvelope(msg string, ctx map[string]interface{}, nowMs int64) Envelope {
	return Envelope{Type: EnvelopeError, Error: msg, Context: ctx, Timestamp: nowMs}
}

// Droppable reports whether the drop policy may discard this envelope
// under back-pressure. Closed candles and backend errors are protected.
func (e Envelope) Droppable() bool {
	switch e.Type {
	case EnvelopeTick:
		return true
	case EnvelopeCandle:
		return e.Stage == StageRolling
	default:
		return false
	}
}

// SubscriptionFilter is a subscriber's interest set: plain tokens for
// ticks plus (token, timeframe) pairs for candles. Updates replace the
// whole filter atomically.
type SubscriptionFilter struct {
	Tokens     map[int64]struct{}
	Timeframes map[Timeframe]struct{}
}

// NewSubscriptionFilter builds a filter from slices.
func NewSubscriptionFilter(tokens []int64, timeframes []Timeframe) SubscriptionFilter {
	f := SubscriptionFilter{
		Tokens:     make(map[int64]struct{}, len(tokens)),
		Timeframes: make(map[Timeframe]struct{}, len(timeframes)),
	}
	for _, t := range tokens {
		f.Tokens[t] = struct{}{}
	}
	for _, tf := range timeframes {
		f.Timeframes[tf] = struct{}{}
	}
	return f
}

// Matches reports whether the envelope passes this filter. Error
// envelopes always pass.
func (f SubscriptionFilter) Matches(e Envelope) bool {
	switch e.Type {
	case EnvelopeError:
		return true
	case EnvelopeTick:
		_, ok := f.Tokens[e.Token]
		return ok
	case EnvelopeCandle:
		if _, ok := f.Tokens[e.Token]; !ok {
			return false
		}
		_, ok := f.Timeframes[e.Timeframe]
		return ok
	default:
		return false
	}
}
