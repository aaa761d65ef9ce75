package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/events"
	"github.com/vyrodovalexey/reusepack/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	closeGrace     = 2 * time.Second
)

type feedClient struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	sub     *events.Subscription
	storeID string
	done    chan struct{}
}

// FeedHandler streams registry change events to WebSocket clients. A client
// may pass ?storeId= to receive only events for items of that store.
type FeedHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*feedClient
}

// NewFeedHandler returns a FeedHandler that subscribes clients to hub.
func NewFeedHandler(hub *events.Hub, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]*feedClient),
	}
}

// RegisterRoutes adds GET /ws to router.
func (h *FeedHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

// HandleWebSocket upgrades the connection and starts its pumps. The
// connection outlives the request, so it gets its own context.
//
//nolint:contextcheck // the feed outlives the upgrade request
func (h *FeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &feedClient{
		conn:    conn,
		cancel:  cancel,
		sub:     h.hub.Subscribe(events.DefaultSubscriberBuffer),
		storeID: r.URL.Query().Get("storeId"),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	metrics.WebSocketSubscribers.Inc()

	h.logger.Info("change feed client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.String("store_id", c.storeID),
	)

	go h.writePump(ctx, c)
	go h.readPump(ctx, c)
}

// Clients returns the number of connected feed clients.
func (h *FeedHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// readPump only services control frames; clients do not send data.
func (h *FeedHandler) readPump(ctx context.Context, c *feedClient) {
	defer h.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("change feed read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *FeedHandler) writePump(ctx context.Context, c *feedClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		close(c.done)
		// Unblocks readPump, which then removes the client.
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.sendClose(c.conn, websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-c.sub.C:
			if !ok {
				h.sendClose(c.conn, websocket.CloseGoingAway, "feed closed")
				return
			}
			if c.storeID != "" && ev.Item.StoreID != c.storeID {
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.Debug("failed to send change event", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *FeedHandler) sendClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

// removeClient releases everything held for c. Safe to call repeatedly.
func (h *FeedHandler) removeClient(c *feedClient) {
	h.mu.Lock()
	_, exists := h.clients[c.conn]
	delete(h.clients, c.conn)
	h.mu.Unlock()

	if !exists {
		return
	}

	c.cancel()
	c.sub.Cancel()
	select {
	case <-c.done:
	case <-time.After(closeGrace):
	}
	if err := c.conn.Close(); err != nil {
		h.logger.Debug("error closing connection", zap.Error(err))
	}
	metrics.WebSocketSubscribers.Dec()

	h.logger.Info("change feed client disconnected",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
	)
}

// CloseAllConnections sends a close frame to every client and closes it.
func (h *FeedHandler) CloseAllConnections() {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *feedClient) {
			defer wg.Done()
			h.removeClient(c)
		}(c)
	}
	wg.Wait()

	h.logger.Info("all change feed connections closed", zap.Int("count", len(clients)))
}
