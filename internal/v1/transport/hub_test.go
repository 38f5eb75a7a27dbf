package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

func newTestHub(t *testing.T) (*Hub, *MockCoordinator) {
	t.Helper()
	co := NewMockCoordinator()
	return NewHub(nil, co, nil), co
}

// addTestClient registers a client without starting its pumps, so tests can
// inspect queued frames directly.
func addTestClient(h *Hub) *Client {
	client := h.newClient(newRecordingConn(), "127.0.0.1")
	h.mu.Lock()
	h.conns[client.ID] = client
	h.mu.Unlock()
	return client
}

func drainOne(t *testing.T, client *Client) string {
	t.Helper()
	select {
	case data := <-client.send:
		return string(data)
	default:
		t.Fatalf("expected a queued frame for %s", client.ID)
		return ""
	}
}

func TestHub_EmitToGroupReachesEveryMember(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)
	b := addTestClient(h)
	outsider := addTestClient(h)

	h.JoinGroup("ABC123", a.ID)
	h.JoinGroup("ABC123", b.ID)

	h.EmitToGroup("ABC123", types.EventSwapCompleted, types.SwapCompletedPayload{Count: 4})

	want := `{"event":"SWAP_COMPLETED","payload":{"count":4}}`
	assert.JSONEq(t, want, drainOne(t, a))
	assert.JSONEq(t, want, drainOne(t, b))
	assert.Empty(t, outsider.send)
}

func TestHub_EmitToGroupUnknownGroupIsNoOp(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)

	assert.NotPanics(t, func() {
		h.EmitToGroup("NOPE42", types.EventPing, nil)
	})
	assert.Empty(t, a.send)
}

func TestHub_LeaveGroupStopsDelivery(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)
	b := addTestClient(h)

	h.JoinGroup("ABC123", a.ID)
	h.JoinGroup("ABC123", b.ID)
	require.Equal(t, 2, h.GroupSize("ABC123"))

	h.LeaveGroup("ABC123", a.ID)
	assert.Equal(t, 1, h.GroupSize("ABC123"))

	h.EmitToGroup("ABC123", types.EventPing, nil)
	assert.Empty(t, a.send)
	assert.Len(t, b.send, 1)

	// The last member leaving drops the group entirely.
	h.LeaveGroup("ABC123", b.ID)
	h.mu.RLock()
	_, exists := h.groups["ABC123"]
	h.mu.RUnlock()
	assert.False(t, exists)
}

func TestHub_LeaveAllGroups(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)
	b := addTestClient(h)

	h.JoinGroup("ABC123", a.ID)
	h.JoinGroup("ABC123#teachers", a.ID)
	h.JoinGroup("ABC123", b.ID)

	h.LeaveAllGroups(a.ID)

	assert.Equal(t, 1, h.GroupSize("ABC123"))
	assert.Equal(t, 0, h.GroupSize("ABC123#teachers"))
}

func TestHub_EmitToConn(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)

	h.EmitToConn(a.ID, types.EventJoinSuccess, types.JoinSuccessPayload{JoinCode: "XYZ789"})
	assert.JSONEq(t, `{"event":"JOIN_SUCCESS","payload":{"joinCode":"XYZ789"}}`, drainOne(t, a))

	assert.NotPanics(t, func() {
		h.EmitToConn("unknown-conn", types.EventPing, nil)
	})
}

func TestHub_GroupSizeUnknownGroup(t *testing.T) {
	h, _ := newTestHub(t)
	assert.Equal(t, 0, h.GroupSize("NOPE42"))
}

func TestHub_DropClientCleansUpEverything(t *testing.T) {
	h, co := newTestHub(t)
	a := addTestClient(h)

	h.JoinGroup("ABC123", a.ID)
	h.JoinGroup("admins", a.ID)

	h.dropClient(a)

	assert.Equal(t, 0, h.GroupSize("ABC123"))
	assert.Equal(t, 0, h.GroupSize("admins"))

	h.mu.RLock()
	assert.Empty(t, h.conns)
	h.mu.RUnlock()

	require.Equal(t, []types.ConnIDType{a.ID}, co.Disconnects())

	// The client is fully closed afterwards.
	a.mu.RLock()
	assert.True(t, a.closed)
	a.mu.RUnlock()
}

func TestHub_ShutdownDisconnectsAllClients(t *testing.T) {
	h, _ := newTestHub(t)
	a := addTestClient(h)
	b := addTestClient(h)

	require.NoError(t, h.Shutdown(context.Background()))

	for _, client := range []*Client{a, b} {
		client.mu.RLock()
		assert.True(t, client.closed)
		client.mu.RUnlock()
	}
}
