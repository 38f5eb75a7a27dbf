package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const (
	// adminGroup collects every admin connection watching the projection.
	adminGroup = "admins"
	// adminLogLimit caps how much audit history one snapshot carries.
	adminLogLimit = 500
)

// handleAdminJoin subscribes the connection to the research projection and
// hands over the current snapshot.
func (reg *Registry) handleAdminJoin(ctx context.Context, conn *connection) {
	reg.bcast.JoinGroup(adminGroup, conn.client.GetID())
	reg.sendAdminData(ctx, conn)
	logging.Info(ctx, "Admin joined projection",
		zap.String("connectionId", string(conn.client.GetID())))
}

// handleAdminGetData refreshes the snapshot on demand. The read itself
// lands in the audit trail; researchers are observed too.
func (reg *Registry) handleAdminGetData(ctx context.Context, conn *connection) {
	reg.sendAdminData(ctx, conn)
	reg.audit.Record(audit.EventAdminGetData, &conn.user.ID, nil)
}

func (reg *Registry) sendAdminData(ctx context.Context, conn *connection) {
	data, err := reg.buildAdminData(ctx)
	if err != nil {
		logging.Error(ctx, "Building admin snapshot failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}
	conn.client.Send(types.EventAdminDataUpdate, data)
}

// buildAdminData assembles the research snapshot. Thoughts and re-swaps
// are consent-filtered by the store; sessions, stats, and the audit tail
// are platform-wide.
func (reg *Registry) buildAdminData(ctx context.Context) (types.AdminDataPayload, error) {
	var out types.AdminDataPayload

	sessions, err := reg.store.ListActiveSessions(ctx)
	if err != nil {
		return out, err
	}
	thoughts, err := reg.store.ListConsentedThoughts(ctx)
	if err != nil {
		return out, err
	}
	swaps, err := reg.store.ListConsentedSwapRequests(ctx)
	if err != nil {
		return out, err
	}
	logs, err := reg.store.RecentLogEvents(ctx, adminLogLimit)
	if err != nil {
		return out, err
	}
	totalUsers, consented, err := reg.store.CountUsers(ctx)
	if err != nil {
		return out, err
	}
	thoughtCount, err := reg.store.CountConsentedThoughts(ctx)
	if err != nil {
		return out, err
	}
	swapCount, err := reg.store.CountConsentedSwapRequests(ctx)
	if err != nil {
		return out, err
	}

	out.Sessions = make([]types.AdminSessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, types.AdminSessionInfo{
			SessionID:   s.SessionID,
			JoinCode:    s.JoinCode,
			CourseTitle: s.CourseTitle,
			TeacherName: s.TeacherName,
			PromptCount: s.PromptCount,
			StartedAt:   fmtTime(s.StartedAt),
		})
	}
	out.Thoughts = make([]types.AdminThoughtInfo, 0, len(thoughts))
	for _, t := range thoughts {
		out.Thoughts = append(out.Thoughts, types.AdminThoughtInfo{
			ID:         t.ID,
			Content:    t.Content,
			AuthorName: t.AuthorName,
			CreatedAt:  fmtTime(t.CreatedAt),
		})
	}
	out.Swaps = make([]types.AdminSwapInfo, 0, len(swaps))
	for _, s := range swaps {
		out.Swaps = append(out.Swaps, types.AdminSwapInfo{
			SessionID: s.SessionID,
			StudentID: s.StudentID,
			CreatedAt: fmtTime(s.CreatedAt),
		})
	}
	out.Logs = make([]types.AdminLogInfo, 0, len(logs))
	for _, ev := range logs {
		out.Logs = append(out.Logs, types.AdminLogInfo{
			ID:        ev.ID,
			Event:     ev.Event,
			UserID:    ev.UserID,
			Payload:   ev.Payload,
			CreatedAt: fmtTime(ev.CreatedAt),
		})
	}
	out.Stats = types.AdminStats{
		TotalConsented: consented,
		TotalUsers:     totalUsers,
		ActiveUsers:    reg.connectionCount(),
		ActiveSessions: len(sessions),
		TotalThoughts:  thoughtCount,
		TotalSwaps:     swapCount,
	}
	return out, nil
}
