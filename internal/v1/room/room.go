package room

import (
	"sort"
	"strings"
	"sync"

	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// State tracks where a room sits in the prompt/swap cycle.
type State string

const (
	// StateIdle means no prompt is live, either because none has been sent
	// yet or because the teacher reset the room.
	StateIdle State = "IDLE"
	// StateAwaitingSubmissions means a prompt is live and students may submit.
	StateAwaitingSubmissions State = "AWAITING_SUBMISSIONS"
	// StateSwapped means thoughts have been dealt out for discussion.
	StateSwapped State = "SWAPPED"
)

// participant is one connection's membership in a room.
type participant struct {
	connID types.ConnIDType
	userID string
	name   string
	role   store.Role
}

// assignment is the thought a recipient currently holds. The distribution
// map is keyed by user id rather than connection id so a student who drops
// and reconnects mid-discussion gets the same thought back.
type assignment struct {
	thoughtID  string
	content    string
	authorID   string
	authorName string
}

// Room is the in-memory half of one live session. Everything mutable hangs
// off mu; handlers hold the lock from validation through fan-out so frames
// from different connections serialize cleanly. Emits are non-blocking
// channel sends on the hub side, so fanning out under the lock is safe.
type Room struct {
	joinCode  types.JoinCodeType
	sessionID string
	teacherID string

	mu              sync.Mutex
	closed          bool
	state           State
	maxSwapRequests int
	prompt          *store.PromptUse
	members         map[types.ConnIDType]*participant
	distribution    map[string]assignment
}

// newRoom builds the live-state shell for a session. prompt may be nil; a
// non-nil one (rebuilds after a restart) puts the room straight into
// StateAwaitingSubmissions.
func newRoom(sess *store.Session, prompt *store.PromptUse) *Room {
	r := &Room{
		joinCode:        types.JoinCodeType(sess.JoinCode),
		sessionID:       sess.ID,
		teacherID:       sess.TeacherID,
		state:           StateIdle,
		maxSwapRequests: sess.MaxSwapRequests,
		members:         make(map[types.ConnIDType]*participant),
		distribution:    make(map[string]assignment),
	}
	if prompt != nil {
		r.prompt = prompt
		r.state = StateAwaitingSubmissions
	}
	return r
}

// groupAll is the broadcast group holding every connection in the room.
// Groups are keyed by session id, not join code: codes are only unique
// among active sessions and can be reissued after this one completes.
func (r *Room) groupAll() string { return "session:" + r.sessionID }

// groupTeachers holds just the session owner's connections.
func (r *Room) groupTeachers() string { return r.groupAll() + ":teachers" }

// studentsLocked returns the connected students ordered by connection id.
// Callers hold r.mu.
func (r *Room) studentsLocked() []*participant {
	out := make([]*participant, 0, len(r.members))
	for _, m := range r.members {
		if m.role == store.RoleStudent {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].connID < out[j].connID })
	return out
}

// studentCountLocked reports how many connected members are students.
// Callers hold r.mu.
func (r *Room) studentCountLocked() int {
	n := 0
	for _, m := range r.members {
		if m.role == store.RoleStudent {
			n++
		}
	}
	return n
}

// participantInfosLocked builds the roster teachers see, sorted by name so
// consecutive updates render stably. Callers hold r.mu.
func (r *Room) participantInfosLocked() []types.ParticipantInfo {
	infos := make([]types.ParticipantInfo, 0, len(r.members))
	for _, m := range r.members {
		if m.role != store.RoleStudent {
			continue
		}
		infos = append(infos, types.ParticipantInfo{ConnectionID: string(m.connID), Name: m.name})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ConnectionID < infos[j].ConnectionID
	})
	return infos
}

// connsOfLocked returns every live connection id belonging to userID.
// Callers hold r.mu.
func (r *Room) connsOfLocked(userID string) []types.ConnIDType {
	var out []types.ConnIDType
	for id, m := range r.members {
		if m.userID == userID {
			out = append(out, id)
		}
	}
	return out
}

// distributionViewLocked joins the roster with the current distribution,
// producing the teacher-facing map keyed by student connection id. Students
// who hold an assignment but are currently offline simply drop out of the
// view; their assignment survives in r.distribution. Callers hold r.mu.
func (r *Room) distributionViewLocked() types.DistributionUpdatePayload {
	view := make(map[string]types.DistributionEntry)
	for id, m := range r.members {
		if m.role != store.RoleStudent {
			continue
		}
		ent, ok := r.distribution[m.userID]
		if !ok {
			continue
		}
		view[string(id)] = types.DistributionEntry{
			StudentName:        m.name,
			ThoughtContent:     ent.content,
			OriginalAuthorName: ent.authorName,
		}
	}
	return types.DistributionUpdatePayload{Distribution: view}
}

// thoughtsPayload shapes the live thought list for teacher views. The slice
// is always non-nil so an empty list serializes as [] rather than null.
func thoughtsPayload(thoughts []store.Thought) types.ThoughtsUpdatePayload {
	out := make([]types.ThoughtSummary, 0, len(thoughts))
	for _, t := range thoughts {
		out = append(out, types.ThoughtSummary{ID: t.ID, Content: t.Content, AuthorName: t.AuthorName})
	}
	return types.ThoughtsUpdatePayload{Thoughts: out}
}

// normalizeJoinCode uppercases and trims a client-supplied room code so
// codes compare case-insensitively everywhere.
func normalizeJoinCode(code string) types.JoinCodeType {
	return types.JoinCodeType(strings.ToUpper(strings.TrimSpace(code)))
}
