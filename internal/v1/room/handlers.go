package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const (
	defaultCourseTitle   = "Untitled Class"
	msgJoinCodeExhausted = "Could not generate a room code. Please try again."
)

// handleJoinRoom admits any authenticated connection into a room by code.
// Students get the catch-up sequence after JOIN_SUCCESS; teachers and
// admins entering someone else's room ride along as silent observers. A
// connection switching rooms is detached from its previous one first.
func (reg *Registry) handleJoinRoom(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.JoinRoomPayload](ctx, types.EventJoinRoom, raw)
	if !ok {
		return
	}
	code := normalizeJoinCode(payload.JoinCode)
	ctx = context.WithValue(ctx, logging.JoinCodeKey, string(code))

	r, errMsg := reg.resolveRoom(ctx, code)
	if errMsg != "" {
		sendError(conn, errMsg)
		return
	}

	if conn.joinCode != "" && conn.joinCode != code {
		reg.leaveCurrentRoom(ctx, conn)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sendError(conn, msgSessionEnded)
		return
	}
	reg.addMemberLocked(r, conn)
	conn.client.Send(types.EventJoinSuccess, types.JoinSuccessPayload{JoinCode: string(code)})
	if conn.user.Role == store.RoleStudent {
		reg.broadcastParticipantsLocked(ctx, r)
		reg.restoreStudentLocked(ctx, r, conn)
	}
	r.mu.Unlock()

	conn.joinCode = code
	reg.audit.Record(audit.EventJoinRoom, &conn.user.ID, map[string]any{
		"joinCode": string(code),
		"role":     string(conn.user.Role),
	})
	logging.Info(ctx, "Joined room", zap.String("connectionId", string(conn.client.GetID())))
}

// restoreStudentLocked replays what a joining student missed: the thought
// they hold mid-discussion, the prompt they have already answered, the
// prompt they still owe an answer for, or nothing but a WAITING status.
// JOIN_SUCCESS has already gone out. Callers hold r.mu.
func (reg *Registry) restoreStudentLocked(ctx context.Context, r *Room, conn *connection) {
	if r.prompt == nil {
		conn.client.Send(types.EventRestoreState, types.RestoreStatePayload{Status: types.RestoreStatusWaiting})
		return
	}

	if ent, ok := r.distribution[conn.user.ID]; ok && r.state == StateSwapped {
		conn.client.Send(types.EventReceiveSwap, types.ReceiveSwapPayload{
			ThoughtID: ent.thoughtID,
			Content:   ent.content,
		})
		conn.client.Send(types.EventRestoreState, restorePayload(types.RestoreStatusDiscussing, r.prompt))
		return
	}

	if reg.hasSubmitted(ctx, r.prompt.ID, conn.user.ID) {
		conn.client.Send(types.EventRestoreState, restorePayload(types.RestoreStatusSubmitted, r.prompt))
		return
	}

	conn.client.Send(types.EventNewPrompt, promptPayload(r.prompt))
}

// hasSubmitted reports whether userID has a live thought for the prompt.
// Derived from the store every time so deletions and re-submissions never
// desync from what teachers see.
func (reg *Registry) hasSubmitted(ctx context.Context, promptUseID, userID string) bool {
	thoughts, err := reg.store.ListThoughts(ctx, promptUseID)
	if err != nil {
		logging.Error(ctx, "Submission check failed", zap.Error(err))
		return false
	}
	for _, t := range thoughts {
		if t.AuthorID == userID {
			return true
		}
	}
	return false
}

// promptPayload shapes the active prompt for NEW_PROMPT frames.
func promptPayload(p *store.PromptUse) types.NewPromptPayload {
	return types.NewPromptPayload{
		PromptUseID: p.ID,
		Content:     p.Content,
		PromptType:  string(p.PromptType),
		Options:     p.Options,
	}
}

// restorePayload shapes RESTORE_STATE for a student already past WAITING.
func restorePayload(status string, p *store.PromptUse) types.RestoreStatePayload {
	return types.RestoreStatePayload{
		Status:      status,
		Prompt:      p.Content,
		PromptUseID: p.ID,
		PromptType:  string(p.PromptType),
		Options:     p.Options,
	}
}

// handleStartClass creates a course with an active session and a fresh
// join code, then seats the teacher in the new room. Join codes are drawn
// until the store accepts one; collisions among active sessions are the
// only rejection.
func (reg *Registry) handleStartClass(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.StartClassPayload](ctx, types.EventTeacherStartClass, raw)
	if !ok {
		return
	}
	title := trimOrDefault(payload.Title, defaultCourseTitle)

	var (
		sess *store.Session
		err  error
	)
	for attempt := 0; attempt < maxJoinCodeAttempts; attempt++ {
		_, sess, err = reg.store.CreateCourseWithSession(ctx, store.CreateClassParams{
			TeacherID:       conn.user.ID,
			Title:           title,
			JoinCode:        generateJoinCode(),
			MaxSwapRequests: reg.defaultMaxSwaps,
		})
		if err == nil || !errors.Is(err, store.ErrDuplicateJoinCode) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateJoinCode) {
			sendError(conn, msgJoinCodeExhausted)
		} else {
			logging.Error(ctx, "Starting class failed", zap.Error(err))
			sendError(conn, msgInternalError)
		}
		return
	}

	ctx = context.WithValue(ctx, logging.JoinCodeKey, sess.JoinCode)
	reg.leaveCurrentRoom(ctx, conn)
	r := reg.registerRoom(newRoom(sess, nil))

	r.mu.Lock()
	reg.addMemberLocked(r, conn)
	conn.client.Send(types.EventClassStarted, types.ClassStartedPayload{
		JoinCode:        sess.JoinCode,
		SessionID:       sess.ID,
		MaxSwapRequests: sess.MaxSwapRequests,
	})
	r.mu.Unlock()

	conn.joinCode = r.joinCode
	reg.audit.Record(audit.EventStartClass, &conn.user.ID, map[string]any{
		"joinCode":  sess.JoinCode,
		"sessionId": sess.ID,
	})
	logging.Info(ctx, "Class started", zap.String("sessionId", sess.ID))
}

// handleRejoin reseats a returning teacher in their own live room and
// replays the teacher-side snapshots: roster, live thoughts, and the
// current distribution. Works after a server restart too, since
// resolveRoom rebuilds the room from the store.
func (reg *Registry) handleRejoin(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.RejoinPayload](ctx, types.EventTeacherRejoin, raw)
	if !ok {
		return
	}
	code := normalizeJoinCode(payload.JoinCode)
	ctx = context.WithValue(ctx, logging.JoinCodeKey, string(code))

	r, errMsg, ok := reg.ownedRoom(ctx, conn, code)
	if !ok {
		if errMsg != "" {
			sendError(conn, errMsg)
		}
		return
	}

	if conn.joinCode != "" && conn.joinCode != code {
		reg.leaveCurrentRoom(ctx, conn)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sendError(conn, msgSessionEnded)
		return
	}
	reg.addMemberLocked(r, conn)
	conn.client.Send(types.EventClassStarted, types.ClassStartedPayload{
		JoinCode:        string(r.joinCode),
		SessionID:       r.sessionID,
		MaxSwapRequests: r.maxSwapRequests,
	})
	conn.client.Send(types.EventParticipantsUpdate, types.ParticipantsUpdatePayload{
		Participants:    r.participantInfosLocked(),
		SubmissionCount: reg.submissionCountLocked(ctx, r),
	})
	thoughts, err := reg.currentThoughtsLocked(ctx, r)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for rejoin failed", zap.Error(err))
	}
	conn.client.Send(types.EventThoughtsUpdate, thoughtsPayload(thoughts))
	conn.client.Send(types.EventDistributionUpdate, r.distributionViewLocked())
	r.mu.Unlock()

	conn.joinCode = code
	reg.audit.Record(audit.EventJoinRoom, &conn.user.ID, map[string]any{
		"joinCode": string(code),
		"role":     string(conn.user.Role),
	})
	logging.Info(ctx, "Teacher rejoined room", zap.String("sessionId", r.sessionID))
}

// currentThoughtsLocked lists live thoughts for the active prompt, nil
// when no prompt has been sent. Callers hold r.mu.
func (reg *Registry) currentThoughtsLocked(ctx context.Context, r *Room) ([]store.Thought, error) {
	if r.prompt == nil {
		return nil, nil
	}
	return reg.store.ListThoughts(ctx, r.prompt.ID)
}

// trimOrDefault returns the trimmed string, or fallback when that leaves
// nothing.
func trimOrDefault(s, fallback string) string {
	if t := strings.TrimSpace(s); t != "" {
		return t
	}
	return fallback
}
