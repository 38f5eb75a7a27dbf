package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// sentFrame is one event/payload pair captured by a fakeClient.
type sentFrame struct {
	event   types.Event
	payload any
}

// fakeClient implements types.ClientInterface, recording every frame the
// registry sends directly to the connection.
type fakeClient struct {
	id types.ConnIDType

	mu           sync.Mutex
	sent         []sentFrame
	disconnected bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: types.ConnIDType(id)}
}

func (c *fakeClient) GetID() types.ConnIDType { return c.id }

func (c *fakeClient) Send(event types.Event, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{event: event, payload: payload})
}

func (c *fakeClient) SendRaw(data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{event: frame.Event, payload: frame.Payload})
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) RemoteAddr() string { return "203.0.113.9:4242" }

func (c *fakeClient) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// events lists the frame kinds sent so far, in order.
func (c *fakeClient) events() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Event, len(c.sent))
	for i, f := range c.sent {
		out[i] = f.event
	}
	return out
}

func (c *fakeClient) countOf(event types.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.sent {
		if f.event == event {
			n++
		}
	}
	return n
}

// lastPayload returns the payload of the most recent frame of the given
// kind sent to the client, failing the test when none exists.
func lastPayload[T any](t *testing.T, c *fakeClient, event types.Event) T {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].event == event {
			p, ok := c.sent[i].payload.(T)
			require.Truef(t, ok, "payload of %s is %T", event, c.sent[i].payload)
			return p
		}
	}
	require.Failf(t, "missing frame", "no %s frame sent to %s", event, c.id)
	var zero T
	return zero
}

// groupFrame is one EmitToGroup call captured by the fake broadcaster.
type groupFrame struct {
	group   string
	event   types.Event
	payload any
}

// connFrame is one EmitToConn call.
type connFrame struct {
	connID  types.ConnIDType
	event   types.Event
	payload any
}

// fakeBroadcaster implements types.Broadcaster, tracking group membership
// and recording every emission in order.
type fakeBroadcaster struct {
	mu         sync.Mutex
	groups     map[string]map[types.ConnIDType]struct{}
	groupSends []groupFrame
	connSends  []connFrame
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{groups: make(map[string]map[types.ConnIDType]struct{})}
}

func (b *fakeBroadcaster) JoinGroup(group string, id types.ConnIDType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[group] == nil {
		b.groups[group] = make(map[types.ConnIDType]struct{})
	}
	b.groups[group][id] = struct{}{}
}

func (b *fakeBroadcaster) LeaveGroup(group string, id types.ConnIDType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.groups[group]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(b.groups, group)
		}
	}
}

func (b *fakeBroadcaster) LeaveAllGroups(id types.ConnIDType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for group, members := range b.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(b.groups, group)
		}
	}
}

func (b *fakeBroadcaster) EmitToGroup(group string, event types.Event, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groupSends = append(b.groupSends, groupFrame{group: group, event: event, payload: payload})
}

func (b *fakeBroadcaster) EmitToConn(id types.ConnIDType, event types.Event, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connSends = append(b.connSends, connFrame{connID: id, event: event, payload: payload})
}

func (b *fakeBroadcaster) GroupSize(group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups[group])
}

// members returns the group's connection ids, sorted for stable asserts.
func (b *fakeBroadcaster) members(group string) []types.ConnIDType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.ConnIDType, 0, len(b.groups[group]))
	for id := range b.groups[group] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *fakeBroadcaster) groupCountOf(group string, event types.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.groupSends {
		if f.group == group && f.event == event {
			n++
		}
	}
	return n
}

func (b *fakeBroadcaster) connCountOf(id types.ConnIDType, event types.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.connSends {
		if f.connID == id && f.event == event {
			n++
		}
	}
	return n
}

// lastGroupPayload returns the most recent payload emitted to a group
// under the given event, failing the test when none exists.
func lastGroupPayload[T any](t *testing.T, b *fakeBroadcaster, group string, event types.Event) T {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.groupSends) - 1; i >= 0; i-- {
		f := b.groupSends[i]
		if f.group == group && f.event == event {
			p, ok := f.payload.(T)
			require.Truef(t, ok, "payload of %s is %T", event, f.payload)
			return p
		}
	}
	require.Failf(t, "missing group frame", "no %s emitted to %s", event, group)
	var zero T
	return zero
}

// lastConnPayload returns the most recent payload emitted to a connection
// under the given event, failing the test when none exists.
func lastConnPayload[T any](t *testing.T, b *fakeBroadcaster, id types.ConnIDType, event types.Event) T {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.connSends) - 1; i >= 0; i-- {
		f := b.connSends[i]
		if f.connID == id && f.event == event {
			p, ok := f.payload.(T)
			require.Truef(t, ok, "payload of %s is %T", event, f.payload)
			return p
		}
	}
	require.Failf(t, "missing conn frame", "no %s emitted to %s", event, id)
	var zero T
	return zero
}

// testEnv wires a registry over the in-memory store with fakes on both
// sides: clients record direct sends, the broadcaster records fan-out.
type testEnv struct {
	t       *testing.T
	reg     *Registry
	store   *store.MemoryStore
	bcast   *fakeBroadcaster
	clock   *clockwork.FakeClock
	nextCID int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	auditLog := audit.New(st)
	t.Cleanup(auditLog.Close)
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(st, auditLog, clock, Config{
		SurveyURL:              "https://example.org/exit-survey",
		DefaultMaxSwapRequests: 1,
	})
	t.Cleanup(reg.Shutdown)
	bcast := newFakeBroadcaster()
	reg.Bind(bcast)
	return &testEnv{t: t, reg: reg, store: st, bcast: bcast, clock: clock}
}

// createUser seeds a roster-backed account the way the OAuth callback
// would, so non-guest connects resolve.
func (e *testEnv) createUser(name, email string, role store.Role) *store.User {
	e.t.Helper()
	u, err := e.store.UpsertUser(context.Background(), store.UpsertUserParams{
		ExternalID: "lms:" + email,
		Email:      email,
		Name:       name,
		Role:       role,
	})
	require.NoError(e.t, err)
	return u
}

// connect opens a fake connection with the given claims and waits for
// identity resolution to finish, success or not.
func (e *testEnv) connect(email, name, role string) *fakeClient {
	e.t.Helper()
	e.nextCID++
	client := newFakeClient(fmt.Sprintf("conn-%d", e.nextCID))
	claims := &auth.Claims{Email: email, Name: name, Role: role}
	e.reg.HandleConnect(context.Background(), client, claims)

	conn := e.reg.connection(client.id)
	require.NotNil(e.t, conn)
	select {
	case <-conn.ready:
	case <-time.After(2 * time.Second):
		e.t.Fatal("identity resolution timed out")
	}
	return client
}

// frame dispatches one protocol frame as the read pump would.
func (e *testEnv) frame(client *fakeClient, event types.Event, payload any) {
	e.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(e.t, err)
	e.reg.HandleFrame(context.Background(), client, types.Frame{Event: event, Payload: raw})
}

// startClass connects nothing; it drives an already-connected teacher
// through TEACHER_START_CLASS and returns the announced code and session.
func (e *testEnv) startClass(teacher *fakeClient, title string) (string, string) {
	e.t.Helper()
	e.frame(teacher, types.EventTeacherStartClass, types.StartClassPayload{Title: title})
	started := lastPayload[types.ClassStartedPayload](e.t, teacher, types.EventClassStarted)
	return started.JoinCode, started.SessionID
}

// join drives JOIN_ROOM for a connected client.
func (e *testEnv) join(client *fakeClient, code string) {
	e.t.Helper()
	e.frame(client, types.EventJoinRoom, types.JoinRoomPayload{JoinCode: code})
}

// sendPrompt posts a TEXT prompt and returns its prompt-use id from the
// room broadcast.
func (e *testEnv) sendPrompt(teacher *fakeClient, code, content string) string {
	e.t.Helper()
	e.frame(teacher, types.EventTeacherSendPrompt, types.SendPromptPayload{
		JoinCode: code,
		Content:  content,
	})
	r := e.reg.lookupRoom(types.JoinCodeType(code))
	require.NotNil(e.t, r)
	prompt := lastGroupPayload[types.NewPromptPayload](e.t, e.bcast, r.groupAll(), types.EventNewPrompt)
	return prompt.PromptUseID
}

// submit drives SUBMIT_THOUGHT for a student.
func (e *testEnv) submit(student *fakeClient, code, promptUseID, content string) {
	e.t.Helper()
	e.frame(student, types.EventSubmitThought, types.SubmitThoughtPayload{
		JoinCode:    code,
		Content:     content,
		PromptUseID: promptUseID,
	})
}

// lastError returns the most recent ERROR message sent to the client.
func (e *testEnv) lastError(client *fakeClient) string {
	e.t.Helper()
	return lastPayload[types.ErrorPayload](e.t, client, types.EventError).Message
}

// room returns the live room for a code, failing when absent.
func (e *testEnv) room(code string) *Room {
	e.t.Helper()
	r := e.reg.lookupRoom(types.JoinCodeType(code))
	require.NotNil(e.t, r, "no live room for %s", code)
	return r
}
