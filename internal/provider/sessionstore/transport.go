// transport.go — WebSocket 传输层: 连接、重连、读循环。
package sessionstore

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ai-workbench/chat-engine/internal/chat"
	apperrors "github.com/ai-workbench/chat-engine/pkg/errors"
	"github.com/ai-workbench/chat-engine/pkg/logger"
	"github.com/ai-workbench/chat-engine/pkg/util"
)

const (
	dialTimeout        = 5 * time.Second
	readIdleTimeout    = 90 * time.Second
	pingInterval       = 30 * time.Second
	writeTimeout       = 10 * time.Second
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 15 * time.Second
	reconnectMaxTries  = 8
)

// Sink receives parsed WS events (the engine's ingestor).
type Sink interface {
	Push(ev chat.Event)
}

// WSClient maintains the long-lived session-store connection. Read failures
// trigger exponential-backoff reconnects; connection loss surfaces to the
// sink as a provider-error event rather than killing the process.
type WSClient struct {
	url  string
	sink Sink

	ctx    context.Context
	cancel context.CancelFunc

	wsMu    sync.Mutex
	ws      *websocket.Conn
	stopped atomic.Bool
}

// NewWSClient creates a client for the given ws:// URL.
func NewWSClient(url string, sink Sink) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{url: url, sink: sink, ctx: ctx, cancel: cancel}
}

// Connect dials the session store and starts the read and ping loops.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return apperrors.Wrap(err, "sessionstore.Connect", "ws connect")
	}
	c.replaceConn(conn)
	util.SafeGo(func() { c.readLoop() })
	util.SafeGo(func() { c.pingLoop(conn) })
	return nil
}

// Close tears the connection down permanently.
func (c *WSClient) Close() {
	if c.stopped.Swap(true) {
		return
	}
	c.cancel()
	c.wsMu.Lock()
	conn := c.ws
	c.ws = nil
	c.wsMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: dialTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})
	return conn, nil
}

func (c *WSClient) currentConn() *websocket.Conn {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws
}

func (c *WSClient) replaceConn(conn *websocket.Conn) {
	c.wsMu.Lock()
	prev := c.ws
	c.ws = conn
	c.wsMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// Send writes one JSON message on the connection.
func (c *WSClient) Send(v any) error {
	conn := c.currentConn()
	if conn == nil {
		return apperrors.Wrap(apperrors.ErrStreamClosed, "sessionstore.Send", "not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return apperrors.Wrap(err, "sessionstore.Send", "write")
	}
	return nil
}

func (c *WSClient) readLoop() {
	for {
		conn := c.currentConn()
		if conn == nil || c.stopped.Load() {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.stopped.Load() || c.ctx.Err() != nil {
				return
			}
			logger.Warn("sessionstore: ws read failed", logger.FieldError, err)
			if !c.reconnect(err) {
				return
			}
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		c.dispatch(data)
	}
}

// dispatch parses one frame and forwards it. A malformed frame drops with a
// log entry; the connection keeps reading.
func (c *WSClient) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		logger.Warn("sessionstore: dropped malformed ws frame", logger.FieldError, err)
		return
	}
	payload := env.Payload
	if len(payload) == 0 {
		// 扁平 envelope 兼容: 载荷字段与 type 同级
		payload = data
	}
	c.sink.Push(chat.Event{
		Type:      env.Type,
		SessionID: env.SessionID,
		Provider:  ProviderName,
		Payload:   payload,
	})
}

func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		if c.currentConn() != conn {
			return // 连接已被重连替换, 本循环退出
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// reconnect retries the dial with exponential backoff. Returns false when
// retries are exhausted or the client is closed.
func (c *WSClient) reconnect(lastErr error) bool {
	for attempt := 1; attempt <= reconnectMaxTries; attempt++ {
		if c.stopped.Load() {
			return false
		}
		if !c.sleep(reconnectDelay(attempt)) {
			return false
		}
		conn, err := c.dial(c.ctx)
		if err != nil {
			logger.Warn("sessionstore: ws reconnect attempt failed",
				"attempt", attempt, "max_retries", reconnectMaxTries, logger.FieldError, err)
			lastErr = err
			continue
		}
		c.replaceConn(conn)
		util.SafeGo(func() { c.pingLoop(conn) })
		logger.Info("sessionstore: ws reconnected", "attempt", attempt)
		return true
	}

	logger.Warn("sessionstore: ws reconnect exhausted",
		"max_retries", reconnectMaxTries, logger.FieldError, lastErr)
	c.emitTransportError(lastErr)
	return false
}

// emitTransportError surfaces connection loss as a transcript-visible error.
func (c *WSClient) emitTransportError(err error) {
	payload, _ := json.Marshal(providerErrorPayload{
		Message: "connection to session store lost: " + err.Error(),
	})
	c.sink.Push(chat.Event{
		Type:     EventProviderError,
		Provider: ProviderName,
		Payload:  payload,
	})
}

func reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return reconnectBaseDelay
	}
	delay := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return delay
}

func (c *WSClient) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}
