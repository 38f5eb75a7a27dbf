package room

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// Error strings clients render verbatim. The room-code pair matches the
// UI's long-standing copy, so keep them stable.
const (
	msgInvalidRoomCode = "Invalid Room Code"
	msgSessionEnded    = "This class session has ended."
	msgInternalError   = "internal error"
	msgNotInRoom       = "You have not joined this room."
)

const (
	joinCodeLength      = 6
	joinCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxJoinCodeAttempts = 10
)

// sendError reports a handler failure to the originating connection.
func sendError(conn *connection, msg string) {
	conn.client.Send(types.EventError, types.ErrorPayload{Message: msg})
}

// decodeOrDrop unmarshals a payload, logging and dropping the frame when
// the client sent something malformed.
func decodeOrDrop[T any](ctx context.Context, event types.Event, raw json.RawMessage) (T, bool) {
	v, err := types.DecodePayload[T](raw)
	if err != nil {
		logging.Warn(ctx, "Dropping frame with malformed payload",
			zap.String("event", string(event)), zap.Error(err))
		var zero T
		return zero, false
	}
	return v, true
}

// lookupRoom returns the live room for a code, nil when none is resident.
func (reg *Registry) lookupRoom(code types.JoinCodeType) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[code]
}

// resolveRoom finds the live room for a code, rebuilding it from the store
// when the session is active but the process restarted since it began. The
// returned message is empty on success and client-ready otherwise.
func (reg *Registry) resolveRoom(ctx context.Context, code types.JoinCodeType) (*Room, string) {
	if code == "" {
		return nil, msgInvalidRoomCode
	}
	if r := reg.lookupRoom(code); r != nil {
		return r, ""
	}

	sess, err := reg.store.FindActiveSessionByJoinCode(ctx, string(code))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, msgInvalidRoomCode
	case errors.Is(err, store.ErrNotActive):
		return nil, msgSessionEnded
	default:
		logging.Error(ctx, "Room lookup failed", zap.Error(err))
		return nil, msgInternalError
	}

	prompt, err := reg.store.LatestPromptUse(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Error(ctx, "Prompt lookup failed during room rebuild", zap.Error(err))
		return nil, msgInternalError
	}

	r := reg.registerRoom(newRoom(sess, prompt))
	logging.Info(ctx, "Room rebuilt from store",
		zap.String("joinCode", string(r.joinCode)),
		zap.String("sessionId", r.sessionID))
	return r, ""
}

// registerRoom inserts a room unless another goroutine won the race, in
// which case the resident room wins and the newcomer is discarded.
func (reg *Registry) registerRoom(r *Room) *Room {
	reg.mu.Lock()
	if existing, ok := reg.rooms[r.joinCode]; ok {
		reg.mu.Unlock()
		return existing
	}
	reg.rooms[r.joinCode] = r
	reg.mu.Unlock()
	metrics.ActiveRooms.Inc()
	return r
}

// closeRoom retires a live room. With notify set the members hear
// SESSION_ENDED first; either way every member leaves the room's groups
// and the room disappears from the registry. Idempotent.
func (reg *Registry) closeRoom(ctx context.Context, r *Room, notify bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if notify {
		reg.bcast.EmitToGroup(r.groupAll(), types.EventSessionEnded,
			types.SessionEndedPayload{SurveyLink: reg.surveyURL})
	}
	for id := range r.members {
		reg.bcast.LeaveGroup(r.groupAll(), id)
		reg.bcast.LeaveGroup(r.groupTeachers(), id)
	}
	r.members = make(map[types.ConnIDType]*participant)
	r.mu.Unlock()

	reg.mu.Lock()
	if reg.rooms[r.joinCode] == r {
		delete(reg.rooms, r.joinCode)
	}
	reg.mu.Unlock()

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(r.joinCode))
	logging.Info(ctx, "Room closed",
		zap.String("joinCode", string(r.joinCode)),
		zap.String("sessionId", r.sessionID))
}

// ownedRoom resolves a room and checks the caller owns it. ok is false
// when the command must not proceed; a non-empty message then means the
// client gets an ERROR, otherwise the frame is dropped silently.
func (reg *Registry) ownedRoom(ctx context.Context, conn *connection, code types.JoinCodeType) (*Room, string, bool) {
	r, errMsg := reg.resolveRoom(ctx, code)
	if errMsg != "" {
		return nil, errMsg, false
	}
	if conn.user.ID != r.teacherID {
		logging.Warn(ctx, "Dropping command for a room the caller does not own",
			zap.String("joinCode", string(code)))
		return nil, "", false
	}
	return r, "", true
}

// addMemberLocked records membership and joins the broadcast groups. Only
// the owning teacher lands in the teachers group; other teachers observing
// a colleague's room are plain members. Callers hold r.mu and have already
// checked r.closed.
func (reg *Registry) addMemberLocked(r *Room, conn *connection) {
	id := conn.client.GetID()
	user := conn.user
	r.members[id] = &participant{connID: id, userID: user.ID, name: user.Name, role: user.Role}
	reg.bcast.JoinGroup(r.groupAll(), id)
	if user.Role == store.RoleTeacher && user.ID == r.teacherID {
		reg.bcast.JoinGroup(r.groupTeachers(), id)
	}
	metrics.RoomParticipants.WithLabelValues(string(r.joinCode)).Set(float64(r.studentCountLocked()))
}

// removeMember drops a connection from the room and refreshes the roster
// for teachers when a student left. Group membership is the hub's job on
// the disconnect path and leaveCurrentRoom's on the room-switch path.
func (reg *Registry) removeMember(ctx context.Context, r *Room, id types.ConnIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return
	}
	delete(r.members, id)
	if r.closed {
		return
	}
	metrics.RoomParticipants.WithLabelValues(string(r.joinCode)).Set(float64(r.studentCountLocked()))
	if m.role == store.RoleStudent {
		reg.broadcastParticipantsLocked(ctx, r)
	}
}

// leaveCurrentRoom detaches a still-live connection from the room it
// joined earlier, groups included. Disconnects never come through here.
func (reg *Registry) leaveCurrentRoom(ctx context.Context, conn *connection) {
	code := conn.joinCode
	if code == "" {
		return
	}
	conn.joinCode = ""
	r := reg.lookupRoom(code)
	if r == nil {
		return
	}
	id := conn.client.GetID()
	reg.bcast.LeaveGroup(r.groupAll(), id)
	reg.bcast.LeaveGroup(r.groupTeachers(), id)
	reg.removeMember(ctx, r, id)
}

// broadcastParticipantsLocked pushes the roster and submission progress to
// the room's teachers. Callers hold r.mu.
func (reg *Registry) broadcastParticipantsLocked(ctx context.Context, r *Room) {
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventParticipantsUpdate, types.ParticipantsUpdatePayload{
		Participants:    r.participantInfosLocked(),
		SubmissionCount: reg.submissionCountLocked(ctx, r),
	})
}

// submissionCountLocked counts live thoughts for the current prompt, zero
// when none is active. Callers hold r.mu.
func (reg *Registry) submissionCountLocked(ctx context.Context, r *Room) int {
	if r.prompt == nil {
		return 0
	}
	thoughts, err := reg.store.ListThoughts(ctx, r.prompt.ID)
	if err != nil {
		logging.Error(ctx, "Counting submissions failed", zap.Error(err))
		return 0
	}
	return len(thoughts)
}

// generateJoinCode draws a random six-character room code. Uniqueness is
// the store's job; a collision surfaces as ErrDuplicateJoinCode and the
// caller draws again.
func generateJoinCode() string {
	b := make([]byte, joinCodeLength)
	for i := range b {
		b[i] = joinCodeAlphabet[rand.Intn(len(joinCodeAlphabet))]
	}
	return string(b)
}
