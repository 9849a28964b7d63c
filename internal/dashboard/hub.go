package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"markflow/logger"
)

const wsPollInterval = 500 * time.Millisecond

// markHub fans published snapshots out to websocket subscribers. It polls the
// engine's version counter instead of tapping the archive channel, so a slow
// browser never backpressures the publication path.
type markHub struct {
	view     DataSource
	upgrader websocket.Upgrader
	log      *logger.Log

	mu          sync.Mutex
	clients     map[*websocket.Conn]struct{}
	lastVersion uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newMarkHub(view DataSource, log *logger.Log) *markHub {
	return &markHub{
		view:     view,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      log,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

func (h *markHub) start(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if current, ok := h.view.CurrentMark(); ok {
		h.lastVersion = current.Version
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(wsPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case <-ticker.C:
				h.pump()
			}
		}
	}()
}

// pump sends every snapshot published since the previous poll to all
// subscribers, in version order.
func (h *markHub) pump() {
	current, ok := h.view.CurrentMark()
	if !ok || current.Version <= h.lastVersion {
		return
	}
	backlog := h.view.MarkHistory(h.lastVersion+1, current.Version)
	h.lastVersion = current.Version
	for _, snap := range backlog {
		data, err := json.Marshal(snap)
		if err != nil {
			h.log.WithComponent("dashboard").WithError(err).Warn("failed to marshal snapshot")
			continue
		}
		h.broadcast(data)
	}
}

func (h *markHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// handler upgrades the request and registers the connection. The catch-up
// write happens before registration, so it never races a broadcast; the
// snapshot version disambiguates any overlap on the client side.
func (h *markHub) handler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Debug("websocket upgrade failed")
		return
	}

	if current, ok := h.view.CurrentMark(); ok {
		if data, err := json.Marshal(current); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// The read loop exists only to notice the peer going away.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *markHub) stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
