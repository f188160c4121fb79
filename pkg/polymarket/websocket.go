package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultWSURL is the CLOB market-data websocket endpoint.
const DefaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// Stream maintains a websocket subscription to the CLOB market channel and
// caches the last trade price per token id. It is a best-effort price
// source: the loop works without it, the transient price fields just stay
// empty.
type Stream struct {
	url    string
	conn   *websocket.Conn
	log    *logrus.Logger
	cancel context.CancelFunc

	mu         sync.Mutex
	connected  bool
	subscribed map[string]bool
	prices     map[string]float64
}

type wsSubscribeMessage struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

// NewStream creates a market-data stream.
func NewStream(url string, log *logrus.Logger) *Stream {
	if url == "" {
		url = DefaultWSURL
	}
	if log == nil {
		log = logrus.New()
	}
	return &Stream{
		url:        url,
		log:        log,
		subscribed: make(map[string]bool),
		prices:     make(map[string]float64),
	}
}

// Connect dials the websocket and starts the read and keepalive loops.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial market stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel
	s.connected = true

	go s.readLoop(ctx)
	go s.keepAlive(ctx)
	return nil
}

// Close tears the connection down.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.disconnectLocked()
}

// Subscribe adds token ids to the market channel subscription. Already
// subscribed ids are skipped.
func (s *Stream) Subscribe(tokenIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("market stream not connected")
	}

	var fresh []string
	for _, id := range tokenIDs {
		if id != "" && !s.subscribed[id] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	msg := wsSubscribeMessage{AssetIDs: fresh, Type: "market"}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for _, id := range fresh {
		s.subscribed[id] = true
	}
	return nil
}

// LastPrice returns the cached last trade price for a token id.
func (s *Stream) LastPrice(tokenID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[tokenID]
	return price, ok
}

// maxReconnectDelay caps the redial backoff.
const maxReconnectDelay = time.Minute

func (s *Stream) readLoop(ctx context.Context) {
	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.WithError(err).Warn("Market stream read failed, reconnecting")
			s.mu.Lock()
			s.disconnectLocked()
			s.mu.Unlock()
			if !s.reconnect(ctx, &delay) {
				return
			}
			continue
		}
		delay = time.Second
		s.handleMessage(data)
	}
}

// reconnect redials with doubling backoff until it succeeds or ctx is
// cancelled, then restores the market-channel subscription.
func (s *Stream) reconnect(ctx context.Context, delay *time.Duration) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(*delay):
		}
		if *delay < maxReconnectDelay {
			*delay *= 2
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.log.WithError(err).Warn("Market stream redial failed")
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		ids := make([]string, 0, len(s.subscribed))
		for id := range s.subscribed {
			ids = append(ids, id)
		}
		s.mu.Unlock()

		if len(ids) > 0 {
			if err := conn.WriteJSON(wsSubscribeMessage{AssetIDs: ids, Type: "market"}); err != nil {
				s.log.WithError(err).Warn("Market stream resubscribe failed")
			}
		}
		s.log.Info("Market stream reconnected")
		return true
	}
}

// handleMessage caches last trade prices. The channel delivers both single
// events and event batches.
func (s *Stream) handleMessage(data []byte) {
	var events []wsEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		events = []wsEvent{single}
	}

	for _, ev := range events {
		if ev.EventType != "last_trade_price" || ev.AssetID == "" {
			continue
		}
		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.prices[ev.AssetID] = price
		s.mu.Unlock()
	}
}

func (s *Stream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.connected {
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.WithError(err).Warn("Market stream ping failed")
					s.disconnectLocked()
				}
			}
			s.mu.Unlock()
		}
	}
}

// disconnectLocked closes the connection. Caller holds the lock.
func (s *Stream) disconnectLocked() {
	s.connected = false
	if s.conn != nil {
		s.conn.Close()
	}
}
