// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"node-service/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mutex      sync.RWMutex
	runID      *uuid.UUID
	eventTypes map[model.EventType]bool
}

// Follow restricts the client to events of one run; nil follows every run
func (c *Client) Follow(runID *uuid.UUID) {
	c.mutex.Lock()
	c.runID = runID
	c.mutex.Unlock()
}

// SetEventTypes restricts the client to the given event types; none means all
func (c *Client) SetEventTypes(types []model.EventType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(types) == 0 {
		c.eventTypes = nil
		return
	}
	c.eventTypes = make(map[model.EventType]bool, len(types))
	for _, t := range types {
		c.eventTypes[t] = true
	}
}

// Wants reports whether the event passes the client's filters
func (c *Client) Wants(event model.DiscoveryEvent) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.runID != nil && *c.runID != event.RunID {
		return false
	}
	if c.eventTypes != nil && !c.eventTypes[event.EventType] {
		return false
	}
	return true
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// SubscriptionRequest is the payload of a client "subscribe" message
type SubscriptionRequest struct {
	RunID      string            `json:"run_id,omitempty"`
	EventTypes []model.EventType `json:"event_types,omitempty"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	cm.clients[client.ID] = client
	cm.mutex.Unlock()
}

// Unregister removes a client and closes its send channel. Unregistering
// twice is a no-op.
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Deliver queues payload on every client wanting event, dropping it for
// clients whose buffer is full. It returns the number of clients reached.
func (cm *ConnectionManager) Deliver(event model.DiscoveryEvent, payload []byte) (delivered, dropped int) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for _, client := range cm.clients {
		if !client.Wants(event) {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}
	for _, client := range cm.clients {
		stats.Clients = append(stats.Clients, client)
	}
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
