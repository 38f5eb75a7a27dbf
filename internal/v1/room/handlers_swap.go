package room

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/metrics"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/swap"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const (
	msgSwapNoPrompt       = "Send a prompt before swapping."
	msgSwapNoThoughts     = "No thoughts have been submitted yet."
	msgReswapNotSwapped   = "No thoughts have been distributed yet."
	msgReswapNoEligible   = "No other thoughts are available to swap."
	msgReassignGone       = "That student is no longer connected."
	msgReassignNoEligible = "No other thoughts are available to assign."

	msgReswapQuotaFmt = "Limit reached: you have used all %d swap requests for this session."
)

// handleTriggerSwap deals the live thoughts out to the connected students.
// Recipients are distinct users, not connections, so a student on two tabs
// counts once and both tabs hear the same thought. An empty classroom is
// not an error; the teacher just gets SWAP_COMPLETED with a zero count.
func (reg *Registry) handleTriggerSwap(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.RoomActionPayload](ctx, types.EventTriggerSwap, raw)
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
	if r.prompt == nil {
		sendError(conn, msgSwapNoPrompt)
		return
	}

	thoughts, err := reg.store.ListThoughts(ctx, r.prompt.ID)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for swap failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	if len(thoughts) == 0 {
		sendError(conn, msgSwapNoThoughts)
		return
	}

	students := r.studentsLocked()
	recipients := make([]string, 0, len(students))
	seen := make(map[string]bool, len(students))
	for _, s := range students {
		if !seen[s.userID] {
			seen[s.userID] = true
			recipients = append(recipients, s.userID)
		}
	}

	pool := make([]swap.Thought, len(thoughts))
	authorNames := make(map[string]string, len(thoughts))
	for i, t := range thoughts {
		pool[i] = swap.Thought{ID: t.ID, AuthorID: t.AuthorID, Content: t.Content}
		authorNames[t.ID] = t.AuthorName
	}

	assignments, err := swap.Distribute(recipients, pool, nil)
	if err != nil {
		logging.Error(ctx, "Distribution failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}

	r.distribution = make(map[string]assignment, len(assignments))
	for _, a := range assignments {
		r.distribution[a.RecipientID] = assignment{
			thoughtID:  a.Thought.ID,
			content:    a.Thought.Content,
			authorID:   a.Thought.AuthorID,
			authorName: authorNames[a.Thought.ID],
		}
	}
	r.state = StateSwapped

	for _, s := range students {
		if ent, held := r.distribution[s.userID]; held {
			reg.bcast.EmitToConn(s.connID, types.EventReceiveSwap, types.ReceiveSwapPayload{
				ThoughtID: ent.thoughtID,
				Content:   ent.content,
			})
		}
	}
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventDistributionUpdate, r.distributionViewLocked())
	conn.client.Send(types.EventSwapCompleted, types.SwapCompletedPayload{Count: len(assignments)})

	metrics.SwapsPerformed.Inc()
	reg.audit.Record(audit.EventTriggerSwap, &conn.user.ID, map[string]any{
		"joinCode": string(r.joinCode),
		"count":    len(assignments),
	})
	logging.Info(ctx, "Swap completed", zap.Int("count", len(assignments)))
}

// handleRequestNewThought lets a student trade the thought they hold for a
// different one, bounded by the session's quota. The quota is checked
// before eligibility so the student gets a stable answer regardless of
// what the pool happens to contain, and the ledger only grows when a trade
// actually happens.
func (reg *Registry) handleRequestNewThought(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.RequestNewThoughtPayload](ctx, types.EventStudentRequestNewThought, raw)
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
	if r.prompt == nil || r.state != StateSwapped {
		sendError(conn, msgReswapNotSwapped)
		return
	}

	used, err := reg.store.CountSwapRequests(ctx, r.sessionID, conn.user.ID)
	if err != nil {
		logging.Error(ctx, "Counting swap requests failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	if used >= r.maxSwapRequests {
		sendError(conn, fmt.Sprintf(msgReswapQuotaFmt, r.maxSwapRequests))
		return
	}

	thoughts, err := reg.store.ListThoughts(ctx, r.prompt.ID)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for re-swap failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	var eligible []store.Thought
	for _, t := range thoughts {
		if t.AuthorID != conn.user.ID && t.Content != payload.CurrentThoughtContent {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		sendError(conn, msgReswapNoEligible)
		return
	}

	if err := reg.store.RecordSwapRequest(ctx, r.sessionID, conn.user.ID); err != nil {
		logging.Error(ctx, "Recording swap request failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}

	pick := eligible[rand.Intn(len(eligible))]
	r.distribution[conn.user.ID] = assignment{
		thoughtID:  pick.ID,
		content:    pick.Content,
		authorID:   pick.AuthorID,
		authorName: pick.AuthorName,
	}

	for _, id := range r.connsOfLocked(conn.user.ID) {
		reg.bcast.EmitToConn(id, types.EventReceiveSwap, types.ReceiveSwapPayload{
			ThoughtID: pick.ID,
			Content:   pick.Content,
		})
	}
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventDistributionUpdate, r.distributionViewLocked())

	reg.audit.Record(audit.EventRequestReswap, &conn.user.ID, map[string]any{
		"joinCode":  string(r.joinCode),
		"thoughtId": pick.ID,
	})
	logging.Info(ctx, "Thought re-swapped", zap.String("thoughtId", pick.ID))
}

// handleReassign lets the teacher re-deal one student's thought, typically
// after deleting whatever that student was holding. No quota applies. The
// pool prefers thoughts whose content differs from the current assignment
// but falls back to any thought the target did not write.
func (reg *Registry) handleReassign(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.ReassignPayload](ctx, types.EventTeacherReassign, raw)
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
	target, present := r.members[types.ConnIDType(payload.StudentConnectionID)]
	if !present || target.role != store.RoleStudent {
		sendError(conn, msgReassignGone)
		return
	}
	if r.prompt == nil || r.state != StateSwapped {
		sendError(conn, msgReswapNotSwapped)
		return
	}

	thoughts, err := reg.store.ListThoughts(ctx, r.prompt.ID)
	if err != nil {
		logging.Error(ctx, "Listing thoughts for reassign failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}

	current, hasCurrent := r.distribution[target.userID]
	var eligible, preferred []store.Thought
	for _, t := range thoughts {
		if t.AuthorID == target.userID {
			continue
		}
		eligible = append(eligible, t)
		if !hasCurrent || t.Content != current.content {
			preferred = append(preferred, t)
		}
	}
	pool := preferred
	if len(pool) == 0 {
		pool = eligible
	}
	if len(pool) == 0 {
		sendError(conn, msgReassignNoEligible)
		return
	}

	pick := pool[rand.Intn(len(pool))]
	r.distribution[target.userID] = assignment{
		thoughtID:  pick.ID,
		content:    pick.Content,
		authorID:   pick.AuthorID,
		authorName: pick.AuthorName,
	}

	for _, id := range r.connsOfLocked(target.userID) {
		reg.bcast.EmitToConn(id, types.EventReceiveSwap, types.ReceiveSwapPayload{
			ThoughtID: pick.ID,
			Content:   pick.Content,
		})
	}
	reg.bcast.EmitToGroup(r.groupTeachers(), types.EventDistributionUpdate, r.distributionViewLocked())
	logging.Info(ctx, "Thought reassigned",
		zap.String("studentConnectionId", payload.StudentConnectionID),
		zap.String("thoughtId", pick.ID))
}
