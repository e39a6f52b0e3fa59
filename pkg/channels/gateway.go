package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
)

// GatewayChannel exposes the assistant over a websocket endpoint so local
// frontends can attach. Each connection is its own chat; replies are routed
// back over the socket they came from.
type GatewayChannel struct {
	*BaseChannel
	config config.GatewayConfig
	server *http.Server

	mu    sync.Mutex
	conns map[string]*gatewayConn
	next  int
}

type gatewayConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (g *gatewayConn) writeJSON(v interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ws.WriteJSON(v)
}

type gatewayFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local gateway; origin checks are the frontend's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewGatewayChannel(cfg config.GatewayConfig, msgBus *bus.MessageBus) *GatewayChannel {
	return &GatewayChannel{
		BaseChannel: NewBaseChannel("gateway", msgBus, nil),
		config:      cfg,
		conns:       make(map[string]*gatewayConn),
	}
}

func (c *GatewayChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWS)

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", addr, err)
	}

	c.setRunning(true)
	logger.InfoCF("gateway", "Gateway listening", map[string]interface{}{"addr": addr})

	go func() {
		if err := c.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "Server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	return nil
}

func (c *GatewayChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *GatewayChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "Upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c.mu.Lock()
	c.next++
	chatID := "conn-" + strconv.Itoa(c.next)
	conn := &gatewayConn{ws: ws}
	c.conns[chatID] = conn
	c.mu.Unlock()

	logger.InfoCF("gateway", "Client connected", map[string]interface{}{"chat_id": chatID})

	defer func() {
		c.mu.Lock()
		delete(c.conns, chatID)
		c.mu.Unlock()
		ws.Close()
		logger.InfoCF("gateway", "Client disconnected", map[string]interface{}{"chat_id": chatID})
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame gatewayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.writeJSON(gatewayFrame{Type: "error", Content: "invalid frame"})
			continue
		}
		if frame.Type != "" && frame.Type != "message" {
			continue
		}
		if frame.Content == "" {
			continue
		}

		c.HandleMessage(r.RemoteAddr, chatID, frame.Content, nil)
	}
}

func (c *GatewayChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	conn, ok := c.conns[msg.Context.ChatID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("gateway: no connection for chat %s", msg.Context.ChatID)
	}
	return conn.writeJSON(gatewayFrame{Type: "message", Content: msg.Content})
}
