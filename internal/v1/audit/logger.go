// Package audit appends domain events to the store off the hot path. Writes
// are best-effort: a failed or dropped append is logged and forgotten, and
// the caller never waits on the database.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
)

// Audited event kinds.
const (
	EventUserConnect    = "USER_CONNECT"
	EventJoinRoom       = "JOIN_ROOM"
	EventStartClass     = "START_CLASS"
	EventSendPrompt     = "SEND_PROMPT"
	EventSubmitThought  = "SUBMIT_THOUGHT"
	EventTriggerSwap    = "TRIGGER_SWAP"
	EventRequestReswap  = "REQUEST_RESWAP"
	EventDeleteThought  = "DELETE_THOUGHT"
	EventEndSession     = "END_SESSION"
	EventSessionAutoEnd = "SESSION_AUTO_ENDED"
	EventAdminGetData   = "ADMIN_GET_DATA"
	EventUpdateConsent  = "UPDATE_CONSENT"
	EventUpdateSettings = "UPDATE_SETTINGS"
	EventResetState     = "RESET_STATE"
)

// Appender is the slice of the store the logger needs.
type Appender interface {
	AppendLogEvent(ctx context.Context, p store.LogEventParams) error
}

const (
	defaultBuffer = 256
	appendTimeout = 5 * time.Second
)

// Logger runs a single background worker that drains a bounded queue into
// the store.
type Logger struct {
	appender  Appender
	events    chan store.LogEventParams
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the worker.
func New(appender Appender) *Logger {
	l := &Logger{
		appender: appender,
		events:   make(chan store.LogEventParams, defaultBuffer),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for p := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := l.appender.AppendLogEvent(ctx, p); err != nil {
			logging.Warn(ctx, "audit append failed",
				zap.String("event", p.Event),
				zap.Error(err))
		}
		cancel()
	}
}

// Record queues one event without blocking. A full queue drops the event
// with a warning; recording after Close is a no-op.
func (l *Logger) Record(event string, userID *string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "audit record after close",
				zap.String("event", event))
		}
	}()
	select {
	case l.events <- store.LogEventParams{Event: event, UserID: userID, Payload: payload}:
	default:
		logging.Warn(context.Background(), "audit queue full, dropping event",
			zap.String("event", event))
	}
}

// Close stops intake and waits for the queue to flush.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.events)
	})
	<-l.done
}
