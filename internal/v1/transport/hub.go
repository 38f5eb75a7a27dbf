package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/ratelimit"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// Hub owns every live WebSocket connection and the named groups they belong
// to. It implements types.Broadcaster; the session layer addresses
// connections only through it.
type Hub struct {
	validator   types.TokenValidator     // Session token authentication service
	coordinator types.SessionCoordinator // Session layer receiving lifecycle callbacks and frames
	rateLimiter *ratelimit.RateLimiter

	mu     sync.RWMutex
	conns  map[types.ConnIDType]*Client
	groups map[string]set.Set[types.ConnIDType]
}

// NewHub creates a new Hub and configures it with its dependencies.
func NewHub(validator types.TokenValidator, coordinator types.SessionCoordinator, rateLimiter *ratelimit.RateLimiter) *Hub {
	return &Hub{
		validator:   validator,
		coordinator: coordinator,
		rateLimiter: rateLimiter,
		conns:       make(map[types.ConnIDType]*Client),
		groups:      make(map[string]set.Set[types.ConnIDType]),
	}
}

// ServeWs authenticates the user and upgrades to a WebSocket connection.
func (h *Hub) ServeWs(c *gin.Context) {
	// 0. Rate limiting check (IP based first)
	// We check this before anything else to save resources
	if !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	// 1-3. Validation (pure logic + Gin bridge)
	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	// 4-5. Upgrade to WebSocket (isolated I/O glue)
	conn, err := h.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	// 6-8. Setup and start (orchestration logic)
	h.HandleConnection(c, conn, claims)
}

// HandleConnection registers an established WebSocket connection and hands it
// to the session coordinator.
func (h *Hub) HandleConnection(c *gin.Context, conn wsConnection, claims *auth.Claims) {
	client := h.newClient(conn, c.ClientIP())

	h.mu.Lock()
	h.conns[client.ID] = client
	h.mu.Unlock()

	metrics.IncConnection()

	logging.Info(context.Background(), "WebSocket connection established",
		zap.String("connId", string(client.ID)),
		zap.String("email", logging.RedactEmail(claims.Email)),
		zap.String("remoteAddr", client.remoteAddr))

	// The request context dies when ServeWs returns; the connection outlives
	// it, so the coordinator gets a fresh one.
	h.coordinator.HandleConnect(context.Background(), client, claims)

	// Start message pumps
	go client.writePump()
	go client.readPump()
}

// dropClient removes a connection from every group and the registry, then
// notifies the session layer. Called from the readPump defer.
func (h *Hub) dropClient(client *Client) {
	// Membership goes first so room notifications triggered by the
	// disconnect skip the departing connection.
	h.mu.Lock()
	for group, members := range h.groups {
		members.Delete(client.ID)
		if members.Len() == 0 {
			delete(h.groups, group)
		}
	}
	delete(h.conns, client.ID)
	h.mu.Unlock()

	h.coordinator.HandleDisconnect(client)

	// Releases the writePump if the read side failed first.
	client.Disconnect()
}

// --- types.Broadcaster ---

// JoinGroup adds a connection to a named group, creating it if needed.
func (h *Hub) JoinGroup(group string, id types.ConnIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = set.New[types.ConnIDType]()
		h.groups[group] = members
	}
	members.Insert(id)
}

// LeaveGroup removes a connection from a group, dropping the group once empty.
func (h *Hub) LeaveGroup(group string, id types.ConnIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	members.Delete(id)
	if members.Len() == 0 {
		delete(h.groups, group)
	}
}

// LeaveAllGroups removes a connection from every group it belongs to.
func (h *Hub) LeaveAllGroups(id types.ConnIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group, members := range h.groups {
		members.Delete(id)
		if members.Len() == 0 {
			delete(h.groups, group)
		}
	}
}

// EmitToGroup marshals the envelope once and fans it out to every live member
// of the group. Delivery is best effort per connection.
func (h *Hub) EmitToGroup(group string, event types.Event, payload any) {
	data, err := json.Marshal(types.Message{Event: event, Payload: payload})
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal frame", zap.String("event", string(event)), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, h.groups[group].Len())
	for id := range h.groups[group] {
		if client, ok := h.conns[id]; ok {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	// Enqueue outside the lock; SendRaw never blocks.
	for _, client := range clients {
		client.SendRaw(data)
	}
}

// EmitToConn sends one envelope to one connection, if it is still registered.
func (h *Hub) EmitToConn(id types.ConnIDType, event types.Event, payload any) {
	h.mu.RLock()
	client, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		logging.GetLogger().Debug("Skipping emit to unknown connection", zap.String("connId", string(id)))
		return
	}
	client.Send(event, payload)
}

// GroupSize reports the number of connections in a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.groups[group].Len()
}

// Shutdown gracefully disconnects all active connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all active connections...")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.conns))
	for _, client := range h.conns {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	// Close frames go out through each writePump as it drains.
	for _, client := range clients {
		client.Disconnect()
	}

	logging.Info(ctx, "All connections closed", zap.Int("count", len(clients)))
	return nil
}
