package room

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const msgSettingsNegative = "Swap request limit cannot be negative."

// handleResetState clears the live prompt and distribution so the teacher
// can start the exercise over. Nothing persisted is touched; prompt uses,
// thoughts, and the swap-request ledger all stay in the session's history.
func (reg *Registry) handleResetState(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.RoomActionPayload](ctx, types.EventTeacherResetState, raw)
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

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sendError(conn, msgSessionEnded)
		return
	}

	r.prompt = nil
	r.distribution = make(map[string]assignment)
	r.state = StateIdle

	for _, s := range r.studentsLocked() {
		reg.bcast.EmitToConn(s.connID, types.EventRestoreState,
			types.RestoreStatePayload{Status: types.RestoreStatusWaiting})
	}
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventThoughtsUpdate, thoughtsPayload(nil))
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventDistributionUpdate, r.distributionViewLocked())

	reg.audit.Record(audit.EventResetState, &conn.user.ID, map[string]any{
		"joinCode": string(r.joinCode),
	})
	logging.Info(ctx, "Room state reset")
}

// handleEndSession completes the session in the store first, then tears
// the live room down with SESSION_ENDED so nobody hears the goodbye for a
// session that is still officially running. Racing a duplicate end, or the
// auto-end timer, is harmless: the loser finds the session already
// completed and just makes sure the room is gone.
func (reg *Registry) handleEndSession(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.RoomActionPayload](ctx, types.EventEndSession, raw)
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

	if err := reg.store.CompleteSession(ctx, r.sessionID); err != nil {
		if !errors.Is(err, store.ErrNotActive) {
			logging.Error(ctx, "Completing session failed", zap.Error(err))
			sendError(conn, msgInternalError)
			return
		}
	} else {
		reg.audit.Record(audit.EventEndSession, &conn.user.ID, map[string]any{
			"joinCode":  string(r.joinCode),
			"sessionId": r.sessionID,
		})
	}

	reg.closeRoom(ctx, r, true)
	logging.Info(ctx, "Session ended", zap.String("sessionId", r.sessionID))
}

// handleUpdateSettings changes the session's re-swap quota, store first so
// a crash cannot leave the live room more permissive than the record.
func (reg *Registry) handleUpdateSettings(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.UpdateSettingsPayload](ctx, types.EventUpdateSessionSettings, raw)
	if !ok {
		return
	}
	if payload.MaxSwapRequests < 0 {
		sendError(conn, msgSettingsNegative)
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

	if err := reg.store.UpdateSessionSettings(ctx, r.sessionID, payload.MaxSwapRequests); err != nil {
		if errors.Is(err, store.ErrNotActive) {
			sendError(conn, msgSessionEnded)
		} else {
			logging.Error(ctx, "Updating session settings failed", zap.Error(err))
			sendError(conn, msgInternalError)
		}
		return
	}

	r.mu.Lock()
	if !r.closed {
		r.maxSwapRequests = payload.MaxSwapRequests
	}
	r.mu.Unlock()

	reg.audit.Record(audit.EventUpdateSettings, &conn.user.ID, map[string]any{
		"joinCode":        string(r.joinCode),
		"maxSwapRequests": payload.MaxSwapRequests,
	})
	logging.Info(ctx, "Session settings updated", zap.Int("maxSwapRequests", payload.MaxSwapRequests))
}
