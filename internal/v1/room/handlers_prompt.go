package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const (
	minPromptOptions = 2
	maxPromptOptions = 6

	msgPromptEmpty       = "Prompt content cannot be empty."
	msgPromptTypeUnknown = "Unknown prompt type."
	msgPromptOptions     = "Multiple choice prompts need between 2 and 6 options."
	msgThoughtEmpty      = "Thought cannot be empty."
	msgThoughtDuplicate  = "You have already submitted a response for this prompt."
	msgThoughtNotFound   = "Thought not found."

	thoughtDeletedNotice = "Your response was removed by your teacher. You can submit a new one."
)

// promptFields is a validated, normalized prompt ready for the store.
type promptFields struct {
	content string
	ptype   store.PromptType
	options []string
}

// parsePromptType maps client prompt-type strings onto store constants.
// Empty means TEXT; MC is accepted as shorthand for MULTIPLE_CHOICE.
func parsePromptType(s string) (store.PromptType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TEXT":
		return store.PromptTypeText, true
	case "MC", "MULTIPLE_CHOICE":
		return store.PromptTypeMultipleChoice, true
	case "SCALE":
		return store.PromptTypeScale, true
	default:
		return "", false
	}
}

// validatePrompt normalizes teacher-entered prompt fields. Options are
// meaningful only for multiple choice and are silently dropped otherwise.
// The returned message is empty when the prompt is acceptable.
func validatePrompt(content, promptType string, options []string) (promptFields, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return promptFields{}, msgPromptEmpty
	}
	pt, ok := parsePromptType(promptType)
	if !ok {
		return promptFields{}, msgPromptTypeUnknown
	}
	if pt != store.PromptTypeMultipleChoice {
		return promptFields{content: content, ptype: pt}, ""
	}
	opts := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	if len(opts) < minPromptOptions || len(opts) > maxPromptOptions {
		return promptFields{}, msgPromptOptions
	}
	return promptFields{content: content, ptype: pt, options: opts}, ""
}

// handleSendPrompt posts a new prompt into the room. Any previous prompt's
// distribution is retired, the whole room hears NEW_PROMPT, and teachers
// get a cleared thought list to count fresh submissions against.
func (reg *Registry) handleSendPrompt(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.SendPromptPayload](ctx, types.EventTeacherSendPrompt, raw)
	if !ok {
		return
	}
	code := normalizeJoinCode(payload.JoinCode)
	ctx = context.WithValue(ctx, logging.JoinCodeKey, string(code))

	fields, errMsg := validatePrompt(payload.Content, payload.PromptType, payload.Options)
	if errMsg != "" {
		sendError(conn, errMsg)
		return
	}

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

	use, err := reg.store.AppendPromptUse(ctx, store.AppendPromptParams{
		SessionID:  r.sessionID,
		Content:    fields.content,
		PromptType: fields.ptype,
		Options:    fields.options,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotActive) {
			sendError(conn, msgSessionEnded)
		} else {
			logging.Error(ctx, "Appending prompt failed", zap.Error(err))
			sendError(conn, msgInternalError)
		}
		return
	}

	r.prompt = use
	r.distribution = make(map[string]assignment)
	r.state = StateAwaitingSubmissions

	reg.bcast.EmitToGroup(r.groupAll(), types.EventNewPrompt, promptPayload(use))
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventThoughtsUpdate, thoughtsPayload(nil))

	reg.audit.Record(audit.EventSendPrompt, &conn.user.ID, map[string]any{
		"joinCode":    string(r.joinCode),
		"promptUseId": use.ID,
		"type":        string(use.PromptType),
	})
	logging.Info(ctx, "Prompt sent", zap.String("promptUseId", use.ID))
}

// handleSubmitThought records a student's anonymous response. Stale
// submissions, ones naming a prompt that is no longer current, are
// discarded without a reply: the student's frame simply lost a race with
// the teacher's next prompt. Duplicates for the live prompt get an ERROR.
func (reg *Registry) handleSubmitThought(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.SubmitThoughtPayload](ctx, types.EventSubmitThought, raw)
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

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sendError(conn, msgSessionEnded)
		return
	}
	if _, member := r.members[conn.client.GetID()]; !member {
		sendError(conn, msgNotInRoom)
		return
	}
	if r.prompt == nil || payload.PromptUseID != r.prompt.ID {
		logging.Info(ctx, "Discarding stale submission",
			zap.String("promptUseId", payload.PromptUseID))
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		sendError(conn, msgThoughtEmpty)
		return
	}

	t, err := reg.store.InsertThought(ctx, store.InsertThoughtParams{
		PromptUseID: r.prompt.ID,
		AuthorID:    conn.user.ID,
		Content:     content,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateThought) {
			sendError(conn, msgThoughtDuplicate)
		} else {
			logging.Error(ctx, "Inserting thought failed", zap.Error(err))
			sendError(conn, msgInternalError)
		}
		return
	}
	metrics.ThoughtsSubmitted.Inc()

	reg.refreshTeacherViewsLocked(ctx, r)
	reg.audit.Record(audit.EventSubmitThought, &conn.user.ID, map[string]any{
		"joinCode":  string(r.joinCode),
		"thoughtId": t.ID,
	})
}

// handleDeleteThought soft-deletes a live thought from the current prompt
// and tells its author, on every connection they have in the room, that
// they may submit again. An existing distribution is left alone; whoever
// holds the deleted thought keeps it until the teacher reassigns.
func (reg *Registry) handleDeleteThought(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.DeleteThoughtPayload](ctx, types.EventTeacherDeleteThought, raw)
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

	// The id must name a live thought under the current prompt; anything
	// else, including an already-deleted one, reads as not found.
	thoughts, err := reg.currentThoughtsLocked(ctx, r)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for delete failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	var target *store.Thought
	for i := range thoughts {
		if thoughts[i].ID == payload.ThoughtID {
			target = &thoughts[i]
			break
		}
	}
	if target == nil {
		sendError(conn, msgThoughtNotFound)
		return
	}

	deleted, err := reg.store.DeleteThought(ctx, target.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendError(conn, msgThoughtNotFound)
		} else {
			logging.Error(ctx, "Deleting thought failed", zap.Error(err))
			sendError(conn, msgInternalError)
		}
		return
	}

	reg.refreshTeacherViewsLocked(ctx, r)
	for _, id := range r.connsOfLocked(deleted.AuthorID) {
		reg.bcast.EmitToConn(id, types.EventThoughtDeleted, types.ThoughtDeletedPayload{
			Message:   thoughtDeletedNotice,
			ThoughtID: deleted.ID,
		})
	}

	reg.audit.Record(audit.EventDeleteThought, &conn.user.ID, map[string]any{
		"joinCode":  string(r.joinCode),
		"thoughtId": deleted.ID,
	})
	logging.Info(ctx, "Thought deleted", zap.String("thoughtId", deleted.ID))
}

// refreshTeacherViewsLocked re-broadcasts the live thought list and the
// roster with its submission count after anything changed either one.
// Callers hold r.mu.
func (reg *Registry) refreshTeacherViewsLocked(ctx context.Context, r *Room) {
	thoughts, err := reg.currentThoughtsLocked(ctx, r)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for refresh failed", zap.Error(err))
		return
	}
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventThoughtsUpdate, thoughtsPayload(thoughts))
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventParticipantsUpdate, types.ParticipantsUpdatePayload{
		Participants:    r.participantInfosLocked(),
		SubmissionCount: len(thoughts),
	})
}
