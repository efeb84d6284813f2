package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polymercado/engine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSState is the connection lifecycle state of the market-channel client.
type WSState string

const (
	WSDisconnected WSState = "disconnected"
	WSConnecting   WSState = "connecting"
	WSSubscribing  WSState = "subscribing"
	WSLive         WSState = "live"
	WSDraining     WSState = "draining"
)

// WSHandlers receives parsed market-channel messages. Nil handlers are
// skipped. OnReconnect fires after every successful resubscribe with the
// token IDs that were restored, so the owner can force a REST snapshot
// refresh.
type WSHandlers struct {
	OnBook           func(APIBook)
	OnPriceChange    func(WSPriceChange)
	OnTickSizeChange func(WSTickSizeChange)
	OnOther          func(msgType string, raw []byte)
	OnReconnect      func(assetIDs []string)
}

// WSClient is the websocket client for the CLOB market channel. It owns the
// connection lifecycle: connect (rotating through fallback URLs), subscribe,
// read, and reconnect with jittered exponential backoff. Run blocks until the
// context is cancelled, at which point the client transitions to Draining and
// closes cleanly.
type WSClient struct {
	urls        []string
	pingPeriod  time.Duration
	handlers    WSHandlers
	logger      *slog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	assets   map[string]struct{}
	state    WSState
	urlIndex int
}

// NewWSClient creates a market-channel client for the given endpoint and
// fallbacks.
func NewWSClient(url string, fallbacks []string, pingSeconds int, handlers WSHandlers, logger *slog.Logger) *WSClient {
	urls := append([]string{url}, fallbacks...)
	if pingSeconds <= 0 {
		pingSeconds = 10
	}
	return &WSClient{
		urls:       urls,
		pingPeriod: time.Duration(pingSeconds) * time.Second,
		handlers:   handlers,
		logger:     logger.With(slog.String("component", "clob_ws")),
		assets:     make(map[string]struct{}),
		state:      WSDisconnected,
	}
}

// State returns the current lifecycle state.
func (w *WSClient) State() WSState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SubscriptionCount returns the number of tokens currently subscribed.
func (w *WSClient) SubscriptionCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.assets)
}

// SetAssets reconciles the wanted subscription set. Newly added tokens are
// subscribed on the live connection; removed tokens stop being dispatched
// immediately and drop off the wire subscription at the next reconnect.
func (w *WSClient) SetAssets(assetIDs []string) error {
	w.mu.Lock()
	wanted := make(map[string]struct{}, len(assetIDs))
	var added []string
	for _, id := range assetIDs {
		wanted[id] = struct{}{}
		if _, ok := w.assets[id]; !ok {
			added = append(added, id)
		}
	}
	w.assets = wanted
	conn := w.conn
	live := w.state == WSLive
	w.mu.Unlock()

	if live && conn != nil && len(added) > 0 {
		return w.sendSubscribe(conn, added)
	}
	return nil
}

// Run drives the connect/subscribe/read loop until ctx is cancelled. It
// never returns a non-nil error for a clean shutdown.
func (w *WSClient) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			w.setState(WSDraining)
			return nil
		}

		err := w.session(ctx)
		if ctx.Err() != nil {
			w.setState(WSDraining)
			return nil
		}
		w.setState(WSDisconnected)
		if err != nil {
			w.logger.Warn("websocket session ended",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		}

		// Jittered exponential backoff before the next attempt.
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		if err := sleepWS(ctx, delay+jitter); err != nil {
			w.setState(WSDraining)
			return nil
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one full connection lifetime: dial, subscribe, read until
// failure or cancellation.
func (w *WSClient) session(ctx context.Context) error {
	w.setState(WSConnecting)

	w.mu.Lock()
	url := w.urls[w.urlIndex%len(w.urls)]
	w.urlIndex++
	w.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect %s: %w", url, err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	assets := make([]string, 0, len(w.assets))
	for id := range w.assets {
		assets = append(assets, id)
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	w.setState(WSSubscribing)
	if len(assets) > 0 {
		if err := w.sendSubscribe(conn, assets); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe: %w", err)
		}
	}
	w.setState(WSLive)
	w.logger.Info("websocket live",
		slog.String("url", url),
		slog.Int("assets", len(assets)),
	)

	if w.handlers.OnReconnect != nil && len(assets) > 0 {
		w.handlers.OnReconnect(assets)
	}

	// Ping loop keeps the connection alive; closing done stops it with the
	// session.
	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(conn, done)

	// Close the connection when ctx is cancelled so the blocking read
	// returns promptly.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("polymarket/ws: read: %w", domain.ErrWSDisconnect)
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) sendSubscribe(conn *websocket.Conn, assetIDs []string) error {
	cmd := WSCommand{Type: "market", AssetsIDs: assetIDs}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one raw frame and routes it. Frames may carry a single
// message object or an array of them.
func (w *WSClient) handleMessage(raw []byte) {
	trimmed := raw
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return
		}
		for _, item := range items {
			w.dispatch(item)
		}
		return
	}
	w.dispatch(trimmed)
}

func (w *WSClient) dispatch(raw []byte) {
	var env WSEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // silently drop unparseable frames
	}

	switch env.MessageType() {
	case "book":
		var book APIBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		if !w.subscribed(book.AssetID) {
			return
		}
		if w.handlers.OnBook != nil {
			w.handlers.OnBook(book)
		}
	case "price_change":
		var pc WSPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		if !w.subscribed(pc.AssetID) {
			return
		}
		if w.handlers.OnPriceChange != nil {
			w.handlers.OnPriceChange(pc)
		}
	case "tick_size_change":
		var tc WSTickSizeChange
		if err := json.Unmarshal(raw, &tc); err != nil {
			return
		}
		if w.handlers.OnTickSizeChange != nil {
			w.handlers.OnTickSizeChange(tc)
		}
	default:
		// last_trade_price, best_bid_ask, new_market, market_resolved and
		// any feature-flagged types are optional.
		if w.handlers.OnOther != nil {
			w.handlers.OnOther(env.MessageType(), raw)
		}
	}
}

func (w *WSClient) subscribed(assetID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.assets[assetID]
	return ok
}

func (w *WSClient) setState(s WSState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func sleepWS(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
