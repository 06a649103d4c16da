package pricefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	reconnectBase = 1 * time.Second
	reconnectCap  = 30 * time.Second
	pongWait      = 60 * time.Second
)

// Stream keeps the price cache warm over a websocket. Symbols are subscribed
// while a position is open and unsubscribed on exit; the monitor never blocks
// on the stream, it only benefits from fresher cache entries.
type Stream struct {
	url  string
	sink *Client

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStream(url string, sink *Client) *Stream {
	return &Stream{
		url:     url,
		sink:    sink,
		symbols: make(map[string]bool),
	}
}

// Start launches the read loop. Reconnects use capped exponential backoff and
// replay the current subscription set.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop tears the connection down and waits for the read loop.
func (s *Stream) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// Subscribe starts streaming a symbol. Idempotent.
func (s *Stream) Subscribe(symbol string) {
	symbol = normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbols[symbol] {
		return
	}
	s.symbols[symbol] = true
	s.send("subscribe", symbol)
}

// Unsubscribe stops streaming a symbol.
func (s *Stream) Unsubscribe(symbol string) {
	symbol = normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.symbols[symbol] {
		return
	}
	delete(s.symbols, symbol)
	s.send("unsubscribe", symbol)
}

// send writes a control message on the live connection; a nil connection is
// fine, the subscription set is replayed on reconnect.
func (s *Stream) send(op, symbol string) {
	if s.conn == nil {
		return
	}
	msg := map[string]string{"op": op, "symbol": symbol}
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Debug().Str("op", op).Str("symbol", symbol).Err(err).Msg("stream write failed")
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Warn().Str("url", s.url).Dur("backoff", backoff).Err(err).Msg("price stream dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
			continue
		}
		backoff = reconnectBase

		s.mu.Lock()
		s.conn = conn
		for symbol := range s.symbols {
			s.send("subscribe", symbol)
		}
		s.mu.Unlock()

		log.Info().Str("url", s.url).Msg("price stream connected")
		s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}
}

type streamTick struct {
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("price stream read failed, reconnecting")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var tick streamTick
		if err := json.Unmarshal(data, &tick); err != nil || tick.Symbol == "" {
			continue
		}
		s.sink.Observe(Price{
			Symbol:    tick.Symbol,
			PriceUSD:  tick.PriceUSD,
			Change24h: tick.Change24h,
			Volume24h: tick.Volume24h,
		})
	}
}
