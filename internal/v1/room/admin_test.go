package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// adminConnect seats a roster-backed admin on the projection.
func adminConnect(t *testing.T, env *testEnv) *fakeClient {
	t.Helper()
	env.createUser("Moss", "moss@research.edu", store.RoleAdmin)
	admin := env.connect("moss@research.edu", "Moss", "admin")
	env.frame(admin, types.EventAdminJoin, struct{}{})
	return admin
}

func TestAdminJoinDeliversSnapshot(t *testing.T) {
	env := newTestEnv(t)
	_, code, _ := classroom(t, env, 1)

	admin := adminConnect(t, env)

	assert.Equal(t, 1, env.bcast.GroupSize(adminGroup))
	data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
	require.Len(t, data.Sessions, 1)
	assert.Equal(t, code, data.Sessions[0].JoinCode)
	assert.Equal(t, "Period 3", data.Sessions[0].CourseTitle)
	assert.Equal(t, "Chen", data.Sessions[0].TeacherName)
	assert.Equal(t, 1, data.Stats.ActiveSessions)
	// Teacher, one student, and the admin itself.
	assert.Equal(t, 3, data.Stats.ActiveUsers)
	assert.Equal(t, 3, data.Stats.TotalUsers)
}

func TestAdminSnapshotFiltersThoughtsByConsent(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := classroom(t, env, 2)
	promptUseID := env.sendPrompt(teacher, code, "Question")
	env.submit(students[0], code, promptUseID, "consented words")
	env.submit(students[1], code, promptUseID, "private words")

	// Only Rivera opts in to the research projection.
	env.frame(students[0], types.EventUpdateConsent, types.UpdateConsentPayload{ConsentGiven: true})

	admin := adminConnect(t, env)
	data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)

	require.Len(t, data.Thoughts, 1)
	assert.Equal(t, "consented words", data.Thoughts[0].Content)
	assert.Equal(t, "Rivera", data.Thoughts[0].AuthorName)
	assert.Equal(t, 1, data.Stats.TotalThoughts)
	assert.Equal(t, 1, data.Stats.TotalConsented)
	assert.Equal(t, 4, data.Stats.TotalUsers)

	// Withdrawal takes the thought back out of the projection.
	env.frame(students[0], types.EventUpdateConsent, types.UpdateConsentPayload{ConsentGiven: false})
	env.frame(admin, types.EventAdminGetData, struct{}{})
	data = lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
	assert.Empty(t, data.Thoughts)
	assert.Equal(t, 0, data.Stats.TotalThoughts)
}

func TestAdminSnapshotFiltersSwapLedgerByConsent(t *testing.T) {
	env := newTestEnv(t)
	_, code, students := swappedClassroom(t, env, 3)
	env.frame(students[0], types.EventUpdateConsent, types.UpdateConsentPayload{ConsentGiven: true})

	// Both students trade, but only Rivera consented.
	for _, s := range students[:2] {
		held := heldThought(t, env, s)
		env.frame(s, types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
			JoinCode:              code,
			CurrentThoughtContent: held.Content,
		})
	}

	admin := adminConnect(t, env)
	data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)

	require.Len(t, data.Swaps, 1)
	assert.Equal(t, riveraID(t, env), data.Swaps[0].StudentID)
	assert.Equal(t, env.room(code).sessionID, data.Swaps[0].SessionID)
	assert.Equal(t, 1, data.Stats.TotalSwaps)
}

func TestAdminSnapshotCarriesAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	classroom(t, env, 1)
	admin := adminConnect(t, env)

	// The audit writer drains its buffer on its own goroutine, so poll.
	require.Eventually(t, func() bool {
		env.frame(admin, types.EventAdminGetData, struct{}{})
		data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
		return len(data.Logs) > 0
	}, 2*time.Second, 20*time.Millisecond)

	data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
	seen := make(map[string]bool, len(data.Logs))
	for _, ev := range data.Logs {
		seen[ev.Event] = true
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.CreatedAt)
	}
	assert.True(t, seen[audit.EventUserConnect], "connects are audited")
	assert.True(t, seen[audit.EventStartClass], "class starts are audited")
}

func TestAdminEventsRequireAdminRole(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("Chen", "chen@school.edu", store.RoleTeacher)
	teacher := env.connect("chen@school.edu", "Chen", "teacher")

	before := len(teacher.events())
	env.frame(teacher, types.EventAdminJoin, struct{}{})
	env.frame(teacher, types.EventAdminGetData, struct{}{})

	assert.Len(t, teacher.events(), before)
	assert.Equal(t, 0, env.bcast.GroupSize(adminGroup))
}

func TestAdminStatsCountConnections(t *testing.T) {
	env := newTestEnv(t)
	admin := adminConnect(t, env)

	data := lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
	assert.Equal(t, 1, data.Stats.ActiveUsers)
	assert.Empty(t, data.Sessions)
	assert.Empty(t, data.Thoughts)
	assert.Empty(t, data.Swaps)

	// A guest wandering in moves the needle.
	env.connect("guest_1@guest.thoughtswap.org", "Visitor", "student")
	env.frame(admin, types.EventAdminGetData, struct{}{})
	data = lastPayload[types.AdminDataPayload](t, admin, types.EventAdminDataUpdate)
	assert.Equal(t, 2, data.Stats.ActiveUsers)
	assert.Equal(t, 2, data.Stats.TotalUsers)

	u, err := env.store.FindUserByEmail(context.Background(), "guest_1@guest.thoughtswap.org")
	require.NoError(t, err)
	assert.Equal(t, store.RoleStudent, u.Role)
}
