// Package store defines the durable state of the platform and the narrow
// transactional interface the session layer uses to reach it. Rooms keep all
// hot state in memory; everything that must survive a reconnect or a server
// restart goes through a Store.
package store

import (
	"context"
	"time"
)

// Role is the persisted permission tier of a User. The stored role is
// authoritative: handshake hints never override it for existing users.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// PromptType distinguishes how the client renders a prompt.
type PromptType string

const (
	PromptTypeText           PromptType = "TEXT"
	PromptTypeMultipleChoice PromptType = "MULTIPLE_CHOICE"
	PromptTypeScale          PromptType = "SCALE"
)

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
)

// User is a persistent identity: an LMS account or a synthetic guest.
type User struct {
	ID           string
	ExternalID   string // LMS subject; empty for guests
	Email        string
	Name         string
	Role         Role
	ConsentGiven bool
	ConsentDate  *time.Time
	CreatedAt    time.Time
}

// IsGuest reports whether this identity was minted without an LMS login.
func (u *User) IsGuest() bool {
	return len(u.Email) >= 6 && u.Email[:6] == "guest_"
}

// Course groups the sessions a teacher runs under one title.
type Course struct {
	ID        string
	Title     string
	TeacherID string
	CreatedAt time.Time
}

// Session is one live (or completed) class run with its shareable join code.
type Session struct {
	ID              string
	CourseID        string
	TeacherID       string
	JoinCode        string
	Status          SessionStatus
	MaxSwapRequests int
	StartedAt       time.Time
	EndedAt         *time.Time
}

// PromptUse is one concrete posting of a prompt into a session. Reusing the
// same text later in the session creates a new PromptUse with its own id.
type PromptUse struct {
	ID         string
	SessionID  string
	Content    string
	PromptType PromptType
	Options    []string
	CreatedAt  time.Time
}

// Thought is a student's response to a PromptUse. Deletion is soft so the
// author may submit again for the same prompt.
type Thought struct {
	ID          string
	PromptUseID string
	AuthorID    string
	AuthorName  string
	Content     string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// SavedPrompt is an entry in a teacher's reusable prompt library.
type SavedPrompt struct {
	ID         string
	TeacherID  string
	Content    string
	PromptType PromptType
	Options    []string
	CreatedAt  time.Time
}

// SwapRequest is one student-initiated re-swap, counted against the
// session's quota.
type SwapRequest struct {
	ID        string
	SessionID string
	StudentID string
	CreatedAt time.Time
}

// LogEvent is one append-only audit record.
type LogEvent struct {
	ID        string
	Event     string
	UserID    *string
	Payload   []byte
	CreatedAt time.Time
}

// SessionSummary is a completed-session row for a teacher's history view.
type SessionSummary struct {
	Session
	CourseTitle string
	PromptCount int
}

// ActiveSessionInfo is one live session as the admin projection sees it.
type ActiveSessionInfo struct {
	SessionID   string
	JoinCode    string
	CourseTitle string
	TeacherName string
	PromptCount int
	StartedAt   time.Time
}

// UpsertUserParams identifies and describes a user at login or connect time.
type UpsertUserParams struct {
	ExternalID string
	Email      string
	Name       string
	Role       Role
}

// CreateClassParams creates a course and its first active session atomically.
type CreateClassParams struct {
	TeacherID       string
	Title           string
	JoinCode        string
	MaxSwapRequests int
}

// AppendPromptParams posts a prompt into a session.
type AppendPromptParams struct {
	SessionID  string
	Content    string
	PromptType PromptType
	Options    []string
}

// InsertThoughtParams records a student's submission.
type InsertThoughtParams struct {
	PromptUseID string
	AuthorID    string
	Content     string
}

// SavePromptParams adds a prompt to a teacher's library.
type SavePromptParams struct {
	TeacherID  string
	Content    string
	PromptType PromptType
	Options    []string
}

// LogEventParams is one audit record to append.
type LogEventParams struct {
	Event   string
	UserID  *string
	Payload any
}

// Store is the transactional interface the session layer depends on. Both the
// Postgres implementation and the in-memory implementation satisfy it.
type Store interface {
	// Users and consent.
	UpsertUser(ctx context.Context, p UpsertUserParams) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	RecordConsent(ctx context.Context, userID string, given bool) (*User, error)
	CountUsers(ctx context.Context) (total int, consented int, err error)

	// Courses and sessions.
	CreateCourseWithSession(ctx context.Context, p CreateClassParams) (*Course, *Session, error)
	FindActiveSessionByJoinCode(ctx context.Context, joinCode string) (*Session, error)
	UpdateSessionSettings(ctx context.Context, sessionID string, maxSwapRequests int) error
	CompleteSession(ctx context.Context, sessionID string) error
	CompleteActiveSessionsByTeacher(ctx context.Context, teacherID string) ([]Session, error)
	ListSessionsByTeacher(ctx context.Context, teacherID string) ([]SessionSummary, error)
	ListActiveSessions(ctx context.Context) ([]ActiveSessionInfo, error)

	// Prompt uses.
	AppendPromptUse(ctx context.Context, p AppendPromptParams) (*PromptUse, error)
	LatestPromptUse(ctx context.Context, sessionID string) (*PromptUse, error)

	// Thoughts.
	InsertThought(ctx context.Context, p InsertThoughtParams) (*Thought, error)
	DeleteThought(ctx context.Context, thoughtID string) (*Thought, error)
	ListThoughts(ctx context.Context, promptUseID string) ([]Thought, error)
	CountConsentedThoughts(ctx context.Context) (int, error)
	ListConsentedThoughts(ctx context.Context) ([]Thought, error)

	// Swap-request ledger.
	CountSwapRequests(ctx context.Context, sessionID, studentID string) (int, error)
	RecordSwapRequest(ctx context.Context, sessionID, studentID string) error
	CountConsentedSwapRequests(ctx context.Context) (int, error)
	ListConsentedSwapRequests(ctx context.Context) ([]SwapRequest, error)

	// Saved prompts.
	SavePrompt(ctx context.Context, p SavePromptParams) (*SavedPrompt, error)
	ListSavedPrompts(ctx context.Context, teacherID string) ([]SavedPrompt, error)
	DeleteSavedPrompt(ctx context.Context, promptID, teacherID string) error

	// Audit log.
	AppendLogEvent(ctx context.Context, p LogEventParams) error
	RecentLogEvents(ctx context.Context, limit int) ([]LogEvent, error)

	// Health.
	Ping(ctx context.Context) error
	Close()
}
