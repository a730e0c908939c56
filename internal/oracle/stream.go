package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Tick is a live price update from the stream.
type Tick struct {
	FeedID string
	Price  uint64
	Time   time.Time
}

// TickStream subscribes to a public websocket ticker stream and delivers
// live ticks. The daemon uses it to drive trade updates between polling
// intervals.
type TickStream struct {
	conn    *websocket.Conn
	url     string
	log     *zap.Logger
	mu      sync.Mutex
	running bool
}

// NewTickStream connects to the websocket endpoint.
func NewTickStream(url string, log *zap.Logger) (*TickStream, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	ts := &TickStream{
		conn:    conn,
		url:     url,
		log:     log.Named("tick_stream"),
		running: true,
	}
	go ts.keepAlive()
	return ts, nil
}

// Subscribe subscribes to ticker updates for the given symbols.
func (ts *TickStream) Subscribe(symbols ...string) error {
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "tickers."+s)
	}
	msg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe message: %w", err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	ts.log.Info("subscribed", zap.Strings("symbols", symbols))
	return nil
}

// Run reads ticks until the context is cancelled or the connection drops,
// invoking onTick for each decoded price update.
func (ts *TickStream) Run(ctx context.Context, onTick func(Tick)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := ts.conn.ReadMessage()
		if err != nil {
			if !ts.isRunning() {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var frame struct {
			Topic string `json:"topic"`
			TS    int64  `json:"ts"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Data.Symbol == "" || frame.Data.LastPrice == "" {
			continue
		}

		var price float64
		if _, err := fmt.Sscanf(frame.Data.LastPrice, "%f", &price); err != nil {
			continue
		}
		onTick(Tick{
			FeedID: frame.Data.Symbol,
			Price:  ToFixed(price),
			Time:   time.UnixMilli(frame.TS),
		})
	}
}

// Close stops the keepalive loop and closes the connection.
func (ts *TickStream) Close() error {
	ts.mu.Lock()
	ts.running = false
	ts.mu.Unlock()
	return ts.conn.Close()
}

func (ts *TickStream) isRunning() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running
}

// keepAlive sends periodic pings so the server keeps the connection open.
func (ts *TickStream) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if !ts.isRunning() {
			return
		}
		ts.mu.Lock()
		err := ts.conn.WriteMessage(websocket.PingMessage, nil)
		ts.mu.Unlock()
		if err != nil {
			ts.log.Warn("failed to send ping", zap.Error(err))
			return
		}
	}
}
