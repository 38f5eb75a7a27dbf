package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// sendBufferSize bounds the per-connection outbox. A connection that falls
// this far behind starts losing frames rather than stalling the room.
const sendBufferSize = 256

// Client represents a single WebSocket connection to the server.
// It implements types.ClientInterface.
type Client struct {
	conn        wsConnection             // WebSocket connection for real-time communication
	coordinator types.SessionCoordinator // Session layer receiving frames and lifecycle callbacks
	hub         *Hub                     // Owning hub, for deregistration on disconnect
	ID          types.ConnIDType         // Unique per connection; a reconnect gets a new one
	remoteAddr  string                   // Peer address for logging

	mu     sync.RWMutex // Protects closed
	closed bool         // Set once the client has been disconnected

	// All outbound frames share one channel. Writes happen in channel order,
	// so everything a client is told arrives in the order it was queued.
	send chan []byte
}

// GetID satisfies types.ClientInterface.
func (c *Client) GetID() types.ConnIDType {
	return c.ID
}

// RemoteAddr satisfies types.ClientInterface.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Disconnect tears the connection down. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// Closing the channel triggers the writePump to drain the buffer, send a
	// CloseMessage, and then close the connection.
	close(c.send)
}

// readPump continuously processes incoming WebSocket frames from the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "Failed to unmarshal frame", zap.String("connId", string(c.ID)), zap.Error(err))
			continue
		}
		if frame.Event == "" {
			continue
		}

		// Dispatched synchronously so frames keep their arrival order.
		c.coordinator.HandleFrame(context.Background(), c, frame)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
}

// Send satisfies types.ClientInterface. It marshals the envelope and enqueues
// it without blocking.
func (c *Client) Send(event types.Event, payload any) {
	data, err := json.Marshal(types.Message{Event: event, Payload: payload})
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal frame", zap.String("event", string(event)), zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw satisfies types.ClientInterface and allows sending pre-serialized data.
func (c *Client) SendRaw(data []byte) {
	// Check if client is closed before attempting to send
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("connId", string(c.ID)))
		return
	}
	c.mu.RUnlock()

	// The channel can close between the check above and the send below.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw", zap.String("connId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full - dropping frame", zap.String("connId", string(c.ID)))
	}
}
