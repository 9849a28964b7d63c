package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"markflow/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
)

// runWebSocket maintains a subscribed bybit v5 connection until the context is
// cancelled, reconnecting after read or subscribe failures.
func runWebSocket(ctx context.Context, url string, topics []string, reconnectDelay time.Duration, log *logger.Entry, handler func(string) error, onConn func(*websocket.Conn)) {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	dialer := websocket.DefaultDialer
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("failed to connect to bybit websocket")
			if waitForReconnect(ctx, reconnectDelay) {
				return
			}
			continue
		}
		if onConn != nil {
			onConn(conn)
		}

		if len(topics) > 0 {
			if err := subscribe(conn, topics); err != nil {
				log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("failed to subscribe to bybit topics")
				if onConn != nil {
					onConn(nil)
				}
				conn.Close()
				if waitForReconnect(ctx, reconnectDelay) {
					return
				}
				continue
			}
		}

		pingCancel := startPingLoop(ctx, conn, defaultKeepAlive, log)

		if err := readMessages(ctx, conn, handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("bybit websocket read loop ended")
		}

		pingCancel()

		if onConn != nil {
			onConn(nil)
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if waitForReconnect(ctx, reconnectDelay) {
			return
		}
	}
}

func subscribe(conn *websocket.Conn, topics []string) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	return conn.WriteJSON(req)
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func(string) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			_ = handler(string(msg))
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startPingLoop sends the v5 application-level ping frame on an interval.
// Bybit closes connections that stay silent for more than 30 seconds.
func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
