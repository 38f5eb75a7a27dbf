// Package room hosts the live classroom layer: who is connected, which
// rooms exist, and what happens to each decoded frame. A single Registry
// implements types.SessionCoordinator for the transport hub. It resolves
// connection identities against the store, routes frames to role-gated
// handlers, rebuilds room state from the store after a restart, and ends a
// teacher's sessions for them when their last connection stays gone past a
// grace window.
//
// Rooms never hold transport objects. All fan-out goes through the
// types.Broadcaster seam by connection id or named group, which keeps the
// whole state machine testable without sockets.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// DefaultAutoEndDelay is how long a teacher may be fully disconnected
// before their active sessions are ended on their behalf. Long enough to
// ride out a page refresh, short enough that an abandoned class does not
// strand its students.
const DefaultAutoEndDelay = 5 * time.Second

// Config carries the registry's tunables.
type Config struct {
	// SurveyURL, when set, rides along on SESSION_ENDED frames.
	SurveyURL string
	// DefaultMaxSwapRequests seeds the re-swap quota of new sessions.
	DefaultMaxSwapRequests int
	// AutoEndDelay overrides DefaultAutoEndDelay when positive.
	AutoEndDelay time.Duration
}

// connection is the registry's view of one live socket.
type connection struct {
	client types.ClientInterface
	claims *auth.Claims

	// ready closes once identity resolution finishes. user is written at
	// most once, before the close, so any goroutine that has observed the
	// close may read it without locking. A nil user after close means
	// resolution failed and the connection is being torn down.
	ready chan struct{}
	user  *store.User

	// joinCode is the room this connection last joined. Only the
	// connection's own read-pump goroutine touches it: handlers run there,
	// and the hub invokes HandleDisconnect from the same goroutine.
	joinCode types.JoinCodeType
}

// Registry is the session coordinator. It owns the connection table, the
// live room table, and the pending auto-end timers.
//
// Lock order: a handler may take reg.mu or a Room's mu, and may call the
// broadcaster (which locks the hub) while holding a Room's mu, but never
// takes reg.mu while holding a Room's mu.
type Registry struct {
	store store.Store
	audit *audit.Logger
	clock clockwork.Clock
	bcast types.Broadcaster

	surveyURL       string
	defaultMaxSwaps int
	autoEndDelay    time.Duration

	mu       sync.Mutex
	conns    map[types.ConnIDType]*connection
	rooms    map[types.JoinCodeType]*Room
	autoEnds map[string]clockwork.Timer // pending auto-ends by teacher user id
}

var _ types.SessionCoordinator = (*Registry)(nil)

// NewRegistry wires a coordinator over the given store and audit trail.
// Pass a fake clock in tests to drive the auto-end window; nil means wall
// clock. Call Bind before serving traffic.
func NewRegistry(st store.Store, auditLog *audit.Logger, clock clockwork.Clock, cfg Config) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := cfg.AutoEndDelay
	if delay <= 0 {
		delay = DefaultAutoEndDelay
	}
	return &Registry{
		store:           st,
		audit:           auditLog,
		clock:           clock,
		surveyURL:       cfg.SurveyURL,
		defaultMaxSwaps: cfg.DefaultMaxSwapRequests,
		autoEndDelay:    delay,
		conns:           make(map[types.ConnIDType]*connection),
		rooms:           make(map[types.JoinCodeType]*Room),
		autoEnds:        make(map[string]clockwork.Timer),
	}
}

// Bind attaches the broadcaster. The registry and the hub reference each
// other, so one side has to be wired after construction.
func (reg *Registry) Bind(b types.Broadcaster) { reg.bcast = b }

// HandleConnect registers the socket and starts identity resolution in the
// background. The read pump keeps running meanwhile; HandleFrame parks any
// early frames on the connection's ready barrier, so per-connection frame
// order is preserved and nothing executes for an unresolved identity.
func (reg *Registry) HandleConnect(ctx context.Context, client types.ClientInterface, claims *auth.Claims) {
	conn := &connection{client: client, claims: claims, ready: make(chan struct{})}
	reg.mu.Lock()
	reg.conns[client.GetID()] = conn
	reg.mu.Unlock()

	go reg.resolveIdentity(ctx, conn)
}

// HandleFrame routes one decoded frame. Unknown events and frames from the
// wrong role are dropped without a reply; the client learns nothing about
// commands it may not issue.
func (reg *Registry) HandleFrame(ctx context.Context, client types.ClientInterface, frame types.Frame) {
	conn := reg.connection(client.GetID())
	if conn == nil {
		return
	}

	<-conn.ready
	user := conn.user
	if user == nil {
		return // resolution failed; the connection is already closing
	}

	ctx = context.WithValue(ctx, logging.UserIDKey, user.ID)

	start := time.Now()
	status := "ok"
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(string(frame.Event), status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(string(frame.Event)).Observe(time.Since(start).Seconds())
	}()

	allowed := func(role store.Role) bool {
		if user.Role == role {
			return true
		}
		status = "denied"
		logging.Warn(ctx, "Dropping frame from unauthorized role",
			zap.String("event", string(frame.Event)),
			zap.String("role", string(user.Role)))
		return false
	}

	switch frame.Event {
	case types.EventJoinRoom:
		reg.handleJoinRoom(ctx, conn, frame.Payload)
	case types.EventUpdateConsent:
		reg.handleUpdateConsent(ctx, conn, frame.Payload)

	case types.EventTeacherStartClass:
		if allowed(store.RoleTeacher) {
			reg.handleStartClass(ctx, conn, frame.Payload)
		}
	case types.EventTeacherRejoin:
		if allowed(store.RoleTeacher) {
			reg.handleRejoin(ctx, conn, frame.Payload)
		}
	case types.EventTeacherSendPrompt:
		if allowed(store.RoleTeacher) {
			reg.handleSendPrompt(ctx, conn, frame.Payload)
		}
	case types.EventTeacherDeleteThought:
		if allowed(store.RoleTeacher) {
			reg.handleDeleteThought(ctx, conn, frame.Payload)
		}
	case types.EventTriggerSwap:
		if allowed(store.RoleTeacher) {
			reg.handleTriggerSwap(ctx, conn, frame.Payload)
		}
	case types.EventTeacherReassign:
		if allowed(store.RoleTeacher) {
			reg.handleReassign(ctx, conn, frame.Payload)
		}
	case types.EventTeacherResetState:
		if allowed(store.RoleTeacher) {
			reg.handleResetState(ctx, conn, frame.Payload)
		}
	case types.EventEndSession:
		if allowed(store.RoleTeacher) {
			reg.handleEndSession(ctx, conn, frame.Payload)
		}
	case types.EventUpdateSessionSettings:
		if allowed(store.RoleTeacher) {
			reg.handleUpdateSettings(ctx, conn, frame.Payload)
		}
	case types.EventSavePrompt:
		if allowed(store.RoleTeacher) {
			reg.handleSavePrompt(ctx, conn, frame.Payload)
		}
	case types.EventGetSavedPrompts:
		if allowed(store.RoleTeacher) {
			reg.handleGetSavedPrompts(ctx, conn)
		}
	case types.EventDeleteSavedPrompt:
		if allowed(store.RoleTeacher) {
			reg.handleDeleteSavedPrompt(ctx, conn, frame.Payload)
		}
	case types.EventGetPreviousSessions:
		if allowed(store.RoleTeacher) {
			reg.handleGetPreviousSessions(ctx, conn)
		}

	case types.EventSubmitThought:
		if allowed(store.RoleStudent) {
			reg.handleSubmitThought(ctx, conn, frame.Payload)
		}
	case types.EventStudentRequestNewThought:
		if allowed(store.RoleStudent) {
			reg.handleRequestNewThought(ctx, conn, frame.Payload)
		}

	case types.EventAdminJoin:
		if allowed(store.RoleAdmin) {
			reg.handleAdminJoin(ctx, conn)
		}
	case types.EventAdminGetData:
		if allowed(store.RoleAdmin) {
			reg.handleAdminGetData(ctx, conn)
		}

	case types.EventPing:
		// Keepalive. The transport layer already answered at the protocol
		// level; nothing to do here.

	default:
		status = "unknown"
		logging.Warn(ctx, "Dropping unknown event", zap.String("event", string(frame.Event)))
	}
}

// HandleDisconnect runs after the hub has dropped the connection from its
// groups. It prunes registry state and, when a teacher's last connection
// goes away, arms the auto-end timer.
func (reg *Registry) HandleDisconnect(client types.ClientInterface) {
	id := client.GetID()
	reg.mu.Lock()
	conn := reg.conns[id]
	delete(reg.conns, id)
	reg.mu.Unlock()
	if conn == nil {
		return
	}

	select {
	case <-conn.ready:
	default:
		return // never resolved, so it never joined anything
	}
	user := conn.user
	if user == nil {
		return
	}

	ctx := context.WithValue(context.Background(), logging.UserIDKey, user.ID)
	if conn.joinCode != "" {
		if r := reg.lookupRoom(conn.joinCode); r != nil {
			reg.removeMember(ctx, r, id)
		}
	}
	if user.Role == store.RoleTeacher && !reg.userStillConnected(user.ID) {
		reg.scheduleAutoEnd(user.ID)
	}
	logging.Info(ctx, "Connection closed", zap.String("connectionId", string(id)))
}

// Shutdown stops pending auto-end timers and drops all live rooms without
// notifying members; the hub is responsible for the close frames. Sessions
// stay ACTIVE in the store so rooms rebuild on the next boot.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	timers := reg.autoEnds
	reg.autoEnds = make(map[string]clockwork.Timer)
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	ctx := context.Background()
	for _, r := range rooms {
		reg.closeRoom(ctx, r, false)
	}
}

// connection looks up the registry state for a connection id.
func (reg *Registry) connection(id types.ConnIDType) *connection {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.conns[id]
}

// connectionCount reports how many sockets are live, resolved or not.
func (reg *Registry) connectionCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.conns)
}

// userStillConnected reports whether any resolved connection belongs to
// userID. Unresolved connections don't count; if one turns out to be this
// user, its resolution cancels the auto-end timer anyway.
func (reg *Registry) userStillConnected(userID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, c := range reg.conns {
		select {
		case <-c.ready:
			if c.user != nil && c.user.ID == userID {
				return true
			}
		default:
		}
	}
	return false
}

// scheduleAutoEnd arms the delayed auto-end for a teacher. A timer already
// pending for the same teacher is left alone.
func (reg *Registry) scheduleAutoEnd(teacherID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, pending := reg.autoEnds[teacherID]; pending {
		return
	}
	reg.autoEnds[teacherID] = reg.clock.AfterFunc(reg.autoEndDelay, func() {
		reg.autoEnd(teacherID)
	})
}

// cancelAutoEnd disarms a pending auto-end, typically because the teacher
// reconnected inside the grace window.
func (reg *Registry) cancelAutoEnd(teacherID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.autoEnds[teacherID]; ok {
		t.Stop()
		delete(reg.autoEnds, teacherID)
	}
}

// autoEnd fires when the grace window elapses with the teacher still gone.
// It completes every active session the teacher owns and tears down the
// matching rooms, telling the students the class is over.
func (reg *Registry) autoEnd(teacherID string) {
	reg.mu.Lock()
	delete(reg.autoEnds, teacherID)
	reg.mu.Unlock()

	ctx := context.WithValue(context.Background(), logging.UserIDKey, teacherID)
	sessions, err := reg.store.CompleteActiveSessionsByTeacher(ctx, teacherID)
	if err != nil {
		logging.Error(ctx, "Auto-end failed to complete sessions", zap.Error(err))
		return
	}
	for _, sess := range sessions {
		reg.audit.Record(audit.EventSessionAutoEnd, &teacherID, map[string]any{
			"sessionId": sess.ID,
			"joinCode":  sess.JoinCode,
		})
		if r := reg.lookupRoom(types.JoinCodeType(sess.JoinCode)); r != nil {
			reg.closeRoom(ctx, r, true)
		}
		logging.Info(ctx, "Session auto-ended after teacher disconnect",
			zap.String("sessionId", sess.ID),
			zap.String("joinCode", sess.JoinCode))
	}
}
