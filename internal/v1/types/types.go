package types

import (
	"context"
	"strings"

	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
)

// --- Core Domain Types ---

// RoleType defines the different roles a connected user can have.
type RoleType string

// ConnIDType represents a unique identifier for a single WebSocket connection.
// A user who reconnects gets a new connection id; their UserIDType is stable.
type ConnIDType string

// UserIDType represents the persistent identifier of a User in the store.
type UserIDType string

// JoinCodeType represents the short shareable code identifying a live room.
type JoinCodeType string

// DisplayNameType represents the human-readable name for a connected user.
type DisplayNameType string

// Role constants define the permission tiers.
const (
	RoleTypeStudent RoleType = "student" // Submits thoughts, receives swaps
	RoleTypeTeacher RoleType = "teacher" // Runs the room: prompts, swaps, moderation
	RoleTypeAdmin   RoleType = "admin"   // Research/operations visibility only
	RoleTypeUnknown RoleType = "unknown" // Default/unresolved state
)

// ParseRole normalizes a role string from handshake hints or token claims.
func ParseRole(s string) RoleType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleTypeStudent
	case "teacher", "facilitator":
		return RoleTypeTeacher
	case "admin":
		return RoleTypeAdmin
	default:
		return RoleTypeUnknown
	}
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for session token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// ClientInterface defines the behavior required from a WebSocket client connection.
// This allows the room package to interact with connections without depending
// on the transport package.
type ClientInterface interface {
	GetID() ConnIDType
	// Send marshals {event, payload} and enqueues it on the connection's
	// outbox. It never blocks; frames to a stalled connection are dropped.
	Send(event Event, payload any)
	// SendRaw enqueues a pre-marshaled frame.
	SendRaw(data []byte)
	// Disconnect flushes queued frames, sends a close frame, and tears the
	// connection down. Safe to call more than once.
	Disconnect()
	// RemoteAddr reports the peer address for logging.
	RemoteAddr() string
}

// Broadcaster is the group-messaging primitive the transport layer provides.
// Rooms address connections only by id or by named group, never by holding
// transport objects.
type Broadcaster interface {
	JoinGroup(group string, id ConnIDType)
	LeaveGroup(group string, id ConnIDType)
	LeaveAllGroups(id ConnIDType)
	// EmitToGroup marshals once and fans out to every live member. Delivery
	// is best effort per connection.
	EmitToGroup(group string, event Event, payload any)
	EmitToConn(id ConnIDType, event Event, payload any)
	GroupSize(group string) int
}

// SessionCoordinator receives connection lifecycle callbacks and inbound
// frames from the transport layer.
type SessionCoordinator interface {
	// HandleConnect is called once per accepted connection, before any frame
	// is dispatched. Identity resolution starts here.
	HandleConnect(ctx context.Context, client ClientInterface, claims *auth.Claims)
	// HandleFrame is called from the connection's read loop, one frame at a
	// time, preserving arrival order.
	HandleFrame(ctx context.Context, client ClientInterface, frame Frame)
	HandleDisconnect(client ClientInterface)
}
