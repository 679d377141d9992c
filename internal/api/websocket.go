package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/models"
	"market-analysis-engine/internal/stream"
)

const (
	wsWriteWait  = 2 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribeMessage is the only inbound message shape: a full filter
// replacement.
type subscribeMessage struct {
	Action     string   `json:"action"` // "subscribe"
	Tokens     []int64  `json:"tokens"`
	Timeframes []string `json:"timeframes"`
}

// handleStream upgrades the connection and bridges it to the hub. Each
// connection gets its own subscriber; the writer drains the subscriber
// queue, the reader applies filter updates.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(models.SubscriptionFilter{})
	ctx, cancel := context.WithCancel(c.Request.Context())

	log := s.log.With().Uint64("subscriber", sub.ID()).Logger()
	log.Info().Msg("stream client connected")

	go s.readLoop(conn, sub, cancel, log)
	s.writeLoop(ctx, conn, sub, log)

	cancel()
	s.hub.Unsubscribe(sub)
	conn.Close()
	log.Info().Int64("tick_drops", sub.Drops()).Msg("stream client disconnected")
}

// readLoop applies subscribe messages until the connection dies.
func (s *Server) readLoop(conn *websocket.Conn, sub *stream.Subscriber, cancel context.CancelFunc, log zerolog.Logger) {
	defer cancel()
	conn.SetReadLimit(8 * 1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("stream read error")
			}
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action != "subscribe" {
			log.Warn().Msg("ignoring malformed subscribe message")
			continue
		}
		timeframes := make([]models.Timeframe, 0, len(msg.Timeframes))
		for _, tf := range msg.Timeframes {
			parsed, err := models.ParseTimeframe(tf)
			if err != nil {
				continue
			}
			timeframes = append(timeframes, parsed)
		}
		sub.UpdateFilter(models.NewSubscriptionFilter(msg.Tokens, timeframes))
		log.Debug().Int("tokens", len(msg.Tokens)).Msg("filter updated")
	}
}

// writeLoop drains the subscriber queue onto the socket with a write
// deadline, interleaving pings.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *stream.Subscriber, log zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	envelopes := make(chan models.Envelope)
	go func() {
		defer close(envelopes)
		for {
			env, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case envelopes <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Warn().Err(err).Msg("stream write error")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
