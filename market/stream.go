package market

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamBaseURL     = "wss://stream.binance.com:9443/stream"
	keepaliveInterval = 20 * time.Second
	streamReadTimeout = 90 * time.Second
	reconnectDelay    = 5 * time.Second
)

// Stream subscribes to the combined miniTicker feed for all tracked symbols
// and forwards each tick to the service. One goroutine owns the connection;
// it reconnects with a fixed delay and stops cleanly on ctx cancel.
type Stream struct {
	url    string
	onTick func(symbol string, price, changePct, volume24h float64)
}

func NewStream(universe []CoinMeta, onTick func(string, float64, float64, float64)) *Stream {
	streams := make([]string, 0, len(universe))
	for _, coin := range universe {
		streams = append(streams, strings.ToLower(coin.Binance)+"@miniTicker")
	}
	return &Stream{
		url:    streamBaseURL + "?streams=" + strings.Join(streams, "/"),
		onTick: onTick,
	}
}

// combined-stream envelope
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	Symbol   string `json:"s"`
	Close    string `json:"c"`
	Open     string `json:"o"`
	QuoteVol string `json:"q"`
}

func (st *Stream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, st.url, nil)
		if err != nil {
			log.Warn().Err(err).Msg("[stream] connect failed, retrying")
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		log.Info().Msg("[stream] connected")

		done := make(chan struct{})
		go st.keepalive(ctx, conn, done)
		st.readLoop(ctx, conn)
		close(done)
		conn.Close()

		if ctx.Err() != nil {
			log.Info().Msg("[stream] stopped")
			return
		}
		log.Warn().Msg("[stream] disconnected, reconnecting")
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func (st *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("[stream] read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		var env streamEnvelope
		if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
			continue
		}
		var tick miniTicker
		if err := json.Unmarshal(env.Data, &tick); err != nil || tick.Symbol == "" {
			continue
		}

		closePrice := parseFloat(tick.Close)
		openPrice := parseFloat(tick.Open)
		changePct := 0.0
		if openPrice > 0 {
			// normalized to percent, e.g. 2.5 for +2.5%
			changePct = (closePrice/openPrice - 1) * 100
		}
		st.onTick(tick.Symbol, closePrice, changePct, parseFloat(tick.QuoteVol))
	}
}

func (st *Stream) keepalive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
