package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sataplan/server/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10 // search frames are tiny

	defaultBufferSize = 16
	searchTimeout     = 5 * time.Second
)

// SearchRequest is the frame a live-search client sends for each keystroke.
type SearchRequest struct {
	Query    string `json:"query"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// SearchFunc resolves a search request into the payload written back to the
// client. Implementations must be safe for concurrent use.
type SearchFunc func(ctx context.Context, req SearchRequest) (any, error)

// SearchHub owns the live-search WebSocket endpoint: it upgrades connections,
// answers each request frame with a JSON result array, and keeps connections
// alive with ping/pong.
type SearchHub struct {
	search   SearchFunc
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*searchConn]struct{}
	closed  bool
}

// NewSearchHub constructs a hub that answers frames with the supplied search function.
func NewSearchHub(search SearchFunc) *SearchHub {
	return &SearchHub{
		search:  search,
		clients: make(map[*searchConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection and runs the search loop until the client
// disconnects or the hub shuts down.
func (h *SearchHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed: %v", err)
		return
	}

	client := &searchConn{
		hub:    h,
		socket: conn,
		send:   make(chan any, defaultBufferSize),
	}

	if !h.register(client) {
		_ = conn.Close()
		return
	}

	go client.writeLoop()
	client.readLoop()
}

// ClientCount reports the number of connected search clients.
func (h *SearchHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new connections.
func (h *SearchHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*searchConn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *SearchHub) register(client *searchConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *SearchHub) unregister(client *searchConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (h *SearchHub) answer(ctx context.Context, req SearchRequest) any {
	if strings.TrimSpace(req.Query) == "" {
		return []any{}
	}

	metrics.SearchQueries.WithLabelValues("ws").Inc()

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	result, err := h.search(ctx, req)
	if err != nil {
		log.Printf("realtime: search failed: %v", err)
		return []any{}
	}
	return result
}

type searchConn struct {
	hub    *SearchHub
	socket *websocket.Conn
	send   chan any
	once   sync.Once
}

func (c *searchConn) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: unexpected close: %v", err)
			}
			break
		}

		if len(strings.TrimSpace(string(payload))) == 0 {
			c.enqueue([]any{})
			continue
		}

		var req SearchRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("realtime: invalid search frame: %v", err)
			c.enqueue([]any{})
			continue
		}

		c.enqueue(c.hub.answer(context.Background(), req))
	}
}

func (c *searchConn) enqueue(result any) {
	select {
	case c.send <- result:
	default:
		log.Printf("realtime: dropping backpressure search client")
		c.close()
	}
}

func (c *searchConn) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case result, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(result); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *searchConn) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.send)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
