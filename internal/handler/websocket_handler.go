// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"node-service/internal/model"
	"node-service/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketHandler streams discovery progress events to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	eventBus    *EventBus
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins list accepts every origin.
func NewWebSocketHandler(eventBus *EventBus, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections: NewConnectionManager(),
		eventBus:    eventBus,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/discovery", h.HandleDiscoveryConnection)
}

// Run forwards bus events to connected clients until stop is closed
func (h *WebSocketHandler) Run(stop <-chan struct{}) {
	events, unsubscribe := h.eventBus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-stop:
			return
		case event := <-events:
			h.Broadcast(event)
		}
	}
}

// HandleDiscoveryConnection upgrades the request and streams discovery events
// @Summary Discovery event stream
// @Description Stream discovery progress events over a WebSocket. Optional run_id and event_type query parameters filter the stream.
// @Tags WebSocket
// @Param run_id query string false "Only stream events for this run"
// @Param event_type query []string false "Only stream these event types" collectionFormat(multi)
// @Success 101 "Switching protocols"
// @Failure 400 {object} utils.APIResponse "Invalid run_id"
// @Router /ws/discovery [get]
func (h *WebSocketHandler) HandleDiscoveryConnection(c *gin.Context) {
	var runID *uuid.UUID
	if raw := c.Query("run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid run_id", err)
			return
		}
		runID = &id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	client.Follow(runID)
	client.SetEventTypes(eventTypes(c.QueryArray("event_type")))

	h.connections.Register(client)
	h.logger.Info("Discovery WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func eventTypes(raw []string) []model.EventType {
	types := make([]model.EventType, 0, len(raw))
	for _, t := range raw {
		if t != "" {
			types = append(types, model.EventType(t))
		}
	}
	return types
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Discovery WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadLimit(maxMessageSize)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}
		h.handleClientMessage(client, &message, messageBytes)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage, raw []byte) {
	switch message.Type {
	case "subscribe":
		var envelope struct {
			Data SubscriptionRequest `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			h.sendError(client, "invalid subscription")
			return
		}
		h.handleSubscription(client, envelope.Data)
	case "unsubscribe":
		client.Follow(nil)
		client.SetEventTypes(nil)
		h.sendMessage(client, &WebSocketMessage{Type: "unsubscribed", Timestamp: time.Now()})
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

// handleSubscription replaces the client's filters
func (h *WebSocketHandler) handleSubscription(client *Client, req SubscriptionRequest) {
	var runID *uuid.UUID
	if req.RunID != "" {
		id, err := uuid.Parse(req.RunID)
		if err != nil {
			h.sendError(client, "invalid run_id")
			return
		}
		runID = &id
	}
	client.Follow(runID)
	client.SetEventTypes(req.EventTypes)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "subscription_confirmed",
		Data:      req,
		Timestamp: time.Now(),
	})
}

// sendMessage sends a message to a client. It is only called from the
// client's read goroutine, which is also the one that unregisters it.
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// Broadcast sends a discovery event to every client whose filters accept it
func (h *WebSocketHandler) Broadcast(event model.DiscoveryEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "discovery_event",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	if _, dropped := h.connections.Deliver(event, messageBytes); dropped > 0 {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("event_type", string(event.EventType)),
			zap.Int("dropped", dropped),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
