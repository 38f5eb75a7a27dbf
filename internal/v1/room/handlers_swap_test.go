package room

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// swappedClassroom builds a room mid-discussion: n students joined, each
// has submitted "thought of <name>", and the teacher has triggered a swap.
func swappedClassroom(t *testing.T, env *testEnv, n int) (teacher *fakeClient, code string, students []*fakeClient) {
	t.Helper()
	teacher, code, students = classroom(t, env, n)
	promptUseID := env.sendPrompt(teacher, code, "What stuck with you?")
	for i, s := range students {
		env.submit(s, code, promptUseID, fmt.Sprintf("thought of student %d", i))
	}
	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})
	return teacher, code, students
}

// heldThought reads the thought a student most recently received.
func heldThought(t *testing.T, env *testEnv, s *fakeClient) types.ReceiveSwapPayload {
	t.Helper()
	return lastConnPayload[types.ReceiveSwapPayload](t, env.bcast, s.id, types.EventReceiveSwap)
}

func TestTriggerSwapExchangesBetweenTwoStudents(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := swappedClassroom(t, env, 2)

	// With two authors the only valid deal is a straight exchange.
	a := heldThought(t, env, students[0])
	b := heldThought(t, env, students[1])
	assert.Equal(t, "thought of student 1", a.Content)
	assert.Equal(t, "thought of student 0", b.Content)

	completed := lastPayload[types.SwapCompletedPayload](t, teacher, types.EventSwapCompleted)
	assert.Equal(t, 2, completed.Count)

	dist := lastGroupPayload[types.DistributionUpdatePayload](t, env.bcast, env.room(code).groupTeachers(), types.EventDistributionUpdate)
	require.Len(t, dist.Distribution, 2)
	riveraEntry := dist.Distribution[string(students[0].id)]
	assert.Equal(t, "Rivera", riveraEntry.StudentName)
	assert.Equal(t, "thought of student 1", riveraEntry.ThoughtContent)
	assert.Equal(t, "Okafor", riveraEntry.OriginalAuthorName)
}

func TestTriggerSwapNeverDealsOwnThought(t *testing.T) {
	env := newTestEnv(t)
	_, _, students := swappedClassroom(t, env, 5)

	for i, s := range students {
		held := heldThought(t, env, s)
		assert.NotEqual(t, fmt.Sprintf("thought of student %d", i), held.Content,
			"student %d received their own thought", i)
	}
}

func TestTriggerSwapSingleSubmitter(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := classroom(t, env, 2)
	promptUseID := env.sendPrompt(teacher, code, "Anyone?")
	env.submit(students[0], code, promptUseID, "the only thought")

	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})

	// One submission, two readers: the pool tiles, and the author getting
	// their own thought back is unavoidable.
	for _, s := range students {
		assert.Equal(t, "the only thought", heldThought(t, env, s).Content)
	}
	completed := lastPayload[types.SwapCompletedPayload](t, teacher, types.EventSwapCompleted)
	assert.Equal(t, 2, completed.Count)
}

func TestTriggerSwapEmptyClassroom(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := classroom(t, env, 1)
	promptUseID := env.sendPrompt(teacher, code, "Question")
	env.submit(students[0], code, promptUseID, "parting words")
	env.reg.HandleDisconnect(students[0])

	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})

	// Thoughts exist but nobody is seated: still a completed round, count 0.
	completed := lastPayload[types.SwapCompletedPayload](t, teacher, types.EventSwapCompleted)
	assert.Equal(t, 0, completed.Count)
}

func TestTriggerSwapRequiresPrompt(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, _ := classroom(t, env, 1)

	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})
	assert.Equal(t, msgSwapNoPrompt, env.lastError(teacher))
}

func TestTriggerSwapRequiresThoughts(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, _ := classroom(t, env, 1)
	env.sendPrompt(teacher, code, "Question")

	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})
	assert.Equal(t, msgSwapNoThoughts, env.lastError(teacher))
}

func TestTriggerSwapCountsMultiTabStudentOnce(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := classroom(t, env, 2)

	// Rivera opens a second tab into the same room.
	secondTab := env.connect("Rivera@school.edu", "Rivera", "student")
	env.join(secondTab, code)

	promptUseID := env.sendPrompt(teacher, code, "Question")
	env.submit(students[0], code, promptUseID, "from rivera")
	env.submit(students[1], code, promptUseID, "from okafor")

	env.frame(teacher, types.EventTriggerSwap, types.RoomActionPayload{JoinCode: code})

	// Two users, three connections: the count follows users.
	completed := lastPayload[types.SwapCompletedPayload](t, teacher, types.EventSwapCompleted)
	assert.Equal(t, 2, completed.Count)

	// Both of Rivera's tabs hold the same thought.
	first := heldThought(t, env, students[0])
	second := heldThought(t, env, secondTab)
	assert.Equal(t, first, second)
	assert.Equal(t, "from okafor", first.Content)
}

func TestRequestNewThought(t *testing.T) {
	env := newTestEnv(t)
	_, code, students := swappedClassroom(t, env, 3)

	held := heldThought(t, env, students[0])
	before := env.bcast.groupCountOf(env.room(code).groupTeachers(), types.EventDistributionUpdate)

	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode:              code,
		CurrentThoughtContent: held.Content,
	})

	// Three thoughts minus their own minus the one they hold leaves exactly
	// one candidate, so the trade is deterministic.
	traded := heldThought(t, env, students[0])
	assert.NotEqual(t, held.Content, traded.Content)
	assert.NotEqual(t, "thought of student 0", traded.Content)

	// Teachers watch the distribution move.
	after := env.bcast.groupCountOf(env.room(code).groupTeachers(), types.EventDistributionUpdate)
	assert.Equal(t, before+1, after)

	// The trade consumed the quota of one.
	used, err := env.store.CountSwapRequests(context.Background(), env.room(code).sessionID, riveraID(t, env))
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode:              code,
		CurrentThoughtContent: traded.Content,
	})
	assert.Equal(t, fmt.Sprintf(msgReswapQuotaFmt, 1), env.lastError(students[0]))
}

// riveraID resolves the seeded first student's user id.
func riveraID(t *testing.T, env *testEnv) string {
	t.Helper()
	u, err := env.store.FindUserByEmail(context.Background(), "rivera@school.edu")
	require.NoError(t, err)
	return u.ID
}

func TestRequestNewThoughtNoEligiblePool(t *testing.T) {
	env := newTestEnv(t)
	_, code, students := swappedClassroom(t, env, 2)

	held := heldThought(t, env, students[0])
	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode:              code,
		CurrentThoughtContent: held.Content,
	})

	// Two thoughts total: their own and the one they hold. Nothing to trade,
	// and the failed attempt must not burn quota.
	assert.Equal(t, msgReswapNoEligible, env.lastError(students[0]))
	used, err := env.store.CountSwapRequests(context.Background(), env.room(code).sessionID, riveraID(t, env))
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestRequestNewThoughtBeforeSwap(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := classroom(t, env, 1)
	promptUseID := env.sendPrompt(teacher, code, "Question")
	env.submit(students[0], code, promptUseID, "mine")

	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode: code,
	})
	assert.Equal(t, msgReswapNotSwapped, env.lastError(students[0]))
}

func TestRequestNewThoughtZeroQuota(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := swappedClassroom(t, env, 3)

	// The teacher can turn re-swaps off mid-session.
	env.frame(teacher, types.EventUpdateSessionSettings, types.UpdateSettingsPayload{
		JoinCode:        code,
		MaxSwapRequests: 0,
	})

	held := heldThought(t, env, students[0])
	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode:              code,
		CurrentThoughtContent: held.Content,
	})
	assert.Equal(t, fmt.Sprintf(msgReswapQuotaFmt, 0), env.lastError(students[0]))
}

func TestReassignDistribution(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := swappedClassroom(t, env, 3)

	held := heldThought(t, env, students[0])
	env.frame(teacher, types.EventTeacherReassign, types.ReassignPayload{
		JoinCode:            code,
		StudentConnectionID: string(students[0].id),
	})

	reassigned := heldThought(t, env, students[0])
	assert.NotEqual(t, held.Content, reassigned.Content)
	assert.NotEqual(t, "thought of student 0", reassigned.Content)

	// Teacher moderation never touches the student's own quota.
	used, err := env.store.CountSwapRequests(context.Background(), env.room(code).sessionID, riveraID(t, env))
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestReassignUnknownConnection(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, _ := swappedClassroom(t, env, 2)

	env.frame(teacher, types.EventTeacherReassign, types.ReassignPayload{
		JoinCode:            code,
		StudentConnectionID: "conn-404",
	})
	assert.Equal(t, msgReassignGone, env.lastError(teacher))
}

func TestReassignFallsBackToRepeatedContent(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := swappedClassroom(t, env, 2)

	// Two students: the only non-own thought for the target is the one they
	// already hold, so the fallback re-deals it rather than failing.
	held := heldThought(t, env, students[0])
	env.frame(teacher, types.EventTeacherReassign, types.ReassignPayload{
		JoinCode:            code,
		StudentConnectionID: string(students[0].id),
	})

	reassigned := heldThought(t, env, students[0])
	assert.Equal(t, held.Content, reassigned.Content)
	assert.Equal(t, 0, teacher.countOf(types.EventError))
}

func TestSwapStateSurvivesNewPrompt(t *testing.T) {
	env := newTestEnv(t)
	teacher, code, students := swappedClassroom(t, env, 2)

	// A fresh prompt retires the distribution entirely.
	env.sendPrompt(teacher, code, "Next question")
	env.frame(students[0], types.EventStudentRequestNewThought, types.RequestNewThoughtPayload{
		JoinCode: code,
	})
	assert.Equal(t, msgReswapNotSwapped, env.lastError(students[0]))
}
