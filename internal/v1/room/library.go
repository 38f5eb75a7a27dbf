package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const msgSavedPromptNotFound = "Prompt not found."

// handleSavePrompt stores a prompt in the teacher's reusable library,
// validated exactly like a live one, and replies with the refreshed
// library so the client never has to merge.
func (reg *Registry) handleSavePrompt(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.SavePromptPayload](ctx, types.EventSavePrompt, raw)
	if !ok {
		return
	}
	fields, errMsg := validatePrompt(payload.Content, payload.PromptType, payload.Options)
	if errMsg != "" {
		sendError(conn, errMsg)
		return
	}

	if _, err := reg.store.SavePrompt(ctx, store.SavePromptParams{
		TeacherID:  conn.user.ID,
		Content:    fields.content,
		PromptType: fields.ptype,
		Options:    fields.options,
	}); err != nil {
		logging.Error(ctx, "Saving prompt failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	reg.sendSavedPrompts(ctx, conn)
}

// handleGetSavedPrompts replies with the caller's prompt library.
func (reg *Registry) handleGetSavedPrompts(ctx context.Context, conn *connection) {
	reg.sendSavedPrompts(ctx, conn)
}

// handleDeleteSavedPrompt removes a library entry. Someone else's prompt
// and a missing prompt answer identically so ids cannot be probed.
func (reg *Registry) handleDeleteSavedPrompt(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.DeleteSavedPromptPayload](ctx, types.EventDeleteSavedPrompt, raw)
	if !ok {
		return
	}

	err := reg.store.DeleteSavedPrompt(ctx, payload.PromptID, conn.user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrForbidden):
		sendError(conn, msgSavedPromptNotFound)
		return
	case err != nil:
		logging.Error(ctx, "Deleting saved prompt failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	reg.sendSavedPrompts(ctx, conn)
}

func (reg *Registry) sendSavedPrompts(ctx context.Context, conn *connection) {
	prompts, err := reg.store.ListSavedPrompts(ctx, conn.user.ID)
	if err != nil {
		logging.Error(ctx, "Listing saved prompts failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	infos := make([]types.SavedPromptInfo, 0, len(prompts))
	for _, p := range prompts {
		infos = append(infos, types.SavedPromptInfo{
			ID:         p.ID,
			Content:    p.Content,
			PromptType: string(p.PromptType),
			Options:    p.Options,
		})
	}
	conn.client.Send(types.EventSavedPrompts, types.SavedPromptsPayload{Prompts: infos})
}

// handleGetPreviousSessions replies with the caller's completed-session
// history, newest first as the store returns it.
func (reg *Registry) handleGetPreviousSessions(ctx context.Context, conn *connection) {
	sessions, err := reg.store.ListSessionsByTeacher(ctx, conn.user.ID)
	if err != nil {
		logging.Error(ctx, "Listing previous sessions failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	infos := make([]types.SessionSummaryInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, types.SessionSummaryInfo{
			SessionID:   s.ID,
			CourseTitle: s.CourseTitle,
			JoinCode:    s.JoinCode,
			StartedAt:   fmtTime(s.StartedAt),
			EndedAt:     fmtTimePtr(s.EndedAt),
			PromptCount: s.PromptCount,
		})
	}
	conn.client.Send(types.EventPreviousSessions, types.PreviousSessionsPayload{Sessions: infos})
}

// fmtTime renders timestamps the way every wire payload does.
func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return fmtTime(*t)
}
