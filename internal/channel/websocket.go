package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"evolve/internal/reminder"
)

// Notifier sends ad hoc notifications through the reminder dispatcher.
type Notifier interface {
	Notify(ctx context.Context, recipientID, text string) (reminder.DispatchReport, error)
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	Registry     *Registry
	Notifier     Notifier
	WriteTimeout time.Duration // default 10s
	Logger       *slog.Logger
}

// WebSocketChannel serves the per-recipient push connection and its
// companion HTTP endpoints.
type WebSocketChannel struct {
	registry     *Registry
	notifier     Notifier
	writeTimeout time.Duration
	logger       *slog.Logger
}

// WSMessage is the JSON frame exchanged with clients.
type WSMessage struct {
	Type    string `json:"type"` // "notification" | "status" | "ping" | "pong" | "error"
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the channel is unauthenticated
	},
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketChannel{
		registry:     cfg.Registry,
		notifier:     cfg.Notifier,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Routes registers the websocket endpoints on mux.
func (ws *WebSocketChannel) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/status", ws.handleStatus)
	mux.HandleFunc("POST /api/v1/ws/notification", ws.handleNotification)
	mux.HandleFunc("GET /api/v1/ws/{user_id}", ws.handleUpgrade)
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsConn{conn: conn, writeTimeout: ws.writeTimeout}
	ws.registry.Register(userID, client, ws.Name())
	client.write(WSMessage{Type: "status", Status: "connected", UserID: userID})

	defer func() {
		client.close()
		ws.registry.UnregisterIf(userID, client)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "recipient", userID, "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.Debug("invalid websocket frame", "recipient", userID, "err", err)
			client.write(WSMessage{Type: "error", Message: "Invalid message format. Please send valid JSON."})
			continue
		}

		switch msg.Type {
		case "ping":
			client.write(WSMessage{Type: "pong"})
		default:
			ws.logger.Debug("ignoring websocket frame", "recipient", userID, "type", msg.Type)
		}
	}
}

func (ws *WebSocketChannel) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.registry.Status())
}

type notificationRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type notificationResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	SentCount         int    `json:"sent_count"`
	TotalConnections  int    `json:"total_connections"`
	DisconnectedUsers int    `json:"disconnected_users"`
}

func (ws *WebSocketChannel) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = "New notification"
	}
	if ws.registry.Count() == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No active WebSocket connections"})
		return
	}

	report, err := ws.notifier.Notify(r.Context(), req.UserID, req.Message)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, notificationResponse{
		Status:            "success",
		Message:           fmt.Sprintf("Notification sent to %d users", report.Delivered),
		SentCount:         report.Delivered,
		TotalConnections:  ws.registry.Count(),
		DisconnectedUsers: len(report.Pruned),
	})
}

// wsConn is a registered websocket client. Writes are serialised because
// gorilla connections allow one concurrent writer.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// Send pushes a notification frame.
func (c *wsConn) Send(ctx context.Context, text string) error {
	return c.writeCtx(ctx, WSMessage{Type: "notification", Message: text})
}

func (c *wsConn) write(msg WSMessage) {
	_ = c.writeCtx(context.Background(), msg)
}

func (c *wsConn) writeCtx(ctx context.Context, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
