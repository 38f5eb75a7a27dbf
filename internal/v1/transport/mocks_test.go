package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// writtenMessage is one frame captured by a recordingConn.
type writtenMessage struct {
	messageType int
	data        []byte
}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// recordingConn implements wsConnection, capturing every write and serving
// scripted reads.
type recordingConn struct {
	mu      sync.Mutex
	written []writtenMessage
	closed  bool

	reads chan readResult
}

func newRecordingConn() *recordingConn {
	return &recordingConn{reads: make(chan readResult, 16)}
}

func (c *recordingConn) queueText(data string) {
	c.reads <- readResult{messageType: websocket.TextMessage, data: []byte(data)}
}

func (c *recordingConn) queueBinary(data []byte) {
	c.reads <- readResult{messageType: websocket.BinaryMessage, data: data}
}

func (c *recordingConn) endReads() {
	c.reads <- readResult{err: errors.New("connection closed")}
}

func (c *recordingConn) ReadMessage() (int, []byte, error) {
	r := <-c.reads
	return r.messageType, r.data, r.err
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, writtenMessage{messageType: messageType, data: cp})
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) messages() []writtenMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]writtenMessage, len(c.written))
	copy(out, c.written)
	return out
}

// MockCoordinator implements types.SessionCoordinator, recording every callback.
type MockCoordinator struct {
	mu          sync.Mutex
	clients     []types.ClientInterface
	frames      []types.Frame
	disconnects []types.ConnIDType

	disconnected chan types.ConnIDType
}

func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{disconnected: make(chan types.ConnIDType, 16)}
}

func (m *MockCoordinator) HandleConnect(_ context.Context, client types.ClientInterface, _ *auth.Claims) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = append(m.clients, client)
}

func (m *MockCoordinator) HandleFrame(_ context.Context, _ types.ClientInterface, frame types.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *MockCoordinator) HandleDisconnect(client types.ClientInterface) {
	m.mu.Lock()
	m.disconnects = append(m.disconnects, client.GetID())
	m.mu.Unlock()
	m.disconnected <- client.GetID()
}

func (m *MockCoordinator) Clients() []types.ClientInterface {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ClientInterface, len(m.clients))
	copy(out, m.clients)
	return out
}

func (m *MockCoordinator) Frames() []types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *MockCoordinator) Disconnects() []types.ConnIDType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ConnIDType, len(m.disconnects))
	copy(out, m.disconnects)
	return out
}
