package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It backs development
// mode and the unit tests; production uses the postgres package. All methods
// are safe for concurrent use and return copies, never internal pointers.
type MemoryStore struct {
	mu sync.RWMutex

	users        map[string]*User
	usersByEmail map[string]string

	courses       map[string]*Course
	sessions      map[string]*Session
	sessionByCode map[string]string

	promptUses  map[string]*PromptUse
	promptOrder map[string][]string

	thoughts         map[string]*Thought
	thoughtsByPrompt map[string][]string

	savedPrompts map[string]*SavedPrompt

	swapRequests []swapRequestRow

	logEvents []LogEvent
}

type swapRequestRow struct {
	ID        string
	SessionID string
	StudentID string
	CreatedAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:            make(map[string]*User),
		usersByEmail:     make(map[string]string),
		courses:          make(map[string]*Course),
		sessions:         make(map[string]*Session),
		sessionByCode:    make(map[string]string),
		promptUses:       make(map[string]*PromptUse),
		promptOrder:      make(map[string][]string),
		thoughts:         make(map[string]*Thought),
		thoughtsByPrompt: make(map[string][]string),
		savedPrompts:     make(map[string]*SavedPrompt),
	}
}

// --- Users and consent ---

func (s *MemoryStore) UpsertUser(_ context.Context, p UpsertUserParams) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return nil, ErrNotFound
	}

	if id, ok := s.usersByEmail[email]; ok {
		u := s.users[id]
		if p.Name != "" {
			u.Name = p.Name
		}
		if p.ExternalID != "" {
			u.ExternalID = p.ExternalID
		}
		// The stored role wins over handshake hints.
		return cloneUser(u), nil
	}

	role := p.Role
	if role == "" {
		role = RoleStudent
	}
	u := &User{
		ID:         uuid.NewString(),
		ExternalID: p.ExternalID,
		Email:      email,
		Name:       p.Name,
		Role:       role,
		CreatedAt:  time.Now(),
	}
	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) RecordConsent(_ context.Context, userID string, given bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	u.ConsentGiven = given
	u.ConsentDate = &now
	return cloneUser(u), nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consented := 0
	for _, u := range s.users {
		if u.ConsentGiven {
			consented++
		}
	}
	return len(s.users), consented, nil
}

// --- Courses and sessions ---

func (s *MemoryStore) CreateCourseWithSession(_ context.Context, p CreateClassParams) (*Course, *Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.sessionByCode[p.JoinCode]; taken {
		return nil, nil, ErrDuplicateJoinCode
	}
	if _, ok := s.users[p.TeacherID]; !ok {
		return nil, nil, ErrNotFound
	}

	now := time.Now()
	course := &Course{
		ID:        uuid.NewString(),
		Title:     p.Title,
		TeacherID: p.TeacherID,
		CreatedAt: now,
	}
	session := &Session{
		ID:              uuid.NewString(),
		CourseID:        course.ID,
		TeacherID:       p.TeacherID,
		JoinCode:        p.JoinCode,
		Status:          SessionActive,
		MaxSwapRequests: p.MaxSwapRequests,
		StartedAt:       now,
	}
	s.courses[course.ID] = course
	s.sessions[session.ID] = session
	s.sessionByCode[session.JoinCode] = session.ID

	return cloneCourse(course), cloneSession(session), nil
}

func (s *MemoryStore) FindActiveSessionByJoinCode(_ context.Context, joinCode string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionByCode[joinCode]
	if !ok {
		return nil, ErrNotFound
	}
	sess := s.sessions[id]
	if sess.Status != SessionActive {
		return nil, ErrNotActive
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) UpdateSessionSettings(_ context.Context, sessionID string, maxSwapRequests int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != SessionActive {
		return ErrNotActive
	}
	sess.MaxSwapRequests = maxSwapRequests
	return nil
}

func (s *MemoryStore) CompleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeSessionLocked(sessionID)
}

func (s *MemoryStore) completeSessionLocked(sessionID string) error {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != SessionActive {
		return ErrNotActive
	}
	now := time.Now()
	sess.Status = SessionCompleted
	sess.EndedAt = &now
	return nil
}

func (s *MemoryStore) CompleteActiveSessionsByTeacher(_ context.Context, teacherID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []Session
	for _, sess := range s.sessions {
		if sess.TeacherID == teacherID && sess.Status == SessionActive {
			if err := s.completeSessionLocked(sess.ID); err == nil {
				completed = append(completed, *cloneSession(sess))
			}
		}
	}
	return completed, nil
}

func (s *MemoryStore) ListSessionsByTeacher(_ context.Context, teacherID string) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionSummary
	for _, sess := range s.sessions {
		if sess.TeacherID != teacherID || sess.Status != SessionCompleted {
			continue
		}
		summary := SessionSummary{
			Session:     *cloneSession(sess),
			PromptCount: len(s.promptOrder[sess.ID]),
		}
		if course, ok := s.courses[sess.CourseID]; ok {
			summary.CourseTitle = course.Title
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveSessions(_ context.Context) ([]ActiveSessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ActiveSessionInfo
	for _, sess := range s.sessions {
		if sess.Status != SessionActive {
			continue
		}
		info := ActiveSessionInfo{
			SessionID:   sess.ID,
			JoinCode:    sess.JoinCode,
			PromptCount: len(s.promptOrder[sess.ID]),
			StartedAt:   sess.StartedAt,
		}
		if course, ok := s.courses[sess.CourseID]; ok {
			info.CourseTitle = course.Title
		}
		if teacher, ok := s.users[sess.TeacherID]; ok {
			info.TeacherName = teacher.Name
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// --- Prompt uses ---

func (s *MemoryStore) AppendPromptUse(_ context.Context, p AppendPromptParams) (*PromptUse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[p.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != SessionActive {
		return nil, ErrNotActive
	}

	use := &PromptUse{
		ID:         uuid.NewString(),
		SessionID:  p.SessionID,
		Content:    p.Content,
		PromptType: p.PromptType,
		Options:    append([]string(nil), p.Options...),
		CreatedAt:  time.Now(),
	}
	s.promptUses[use.ID] = use
	s.promptOrder[p.SessionID] = append(s.promptOrder[p.SessionID], use.ID)
	return clonePromptUse(use), nil
}

func (s *MemoryStore) LatestPromptUse(_ context.Context, sessionID string) (*PromptUse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.promptOrder[sessionID]
	if len(order) == 0 {
		return nil, ErrNotFound
	}
	return clonePromptUse(s.promptUses[order[len(order)-1]]), nil
}

// --- Thoughts ---

func (s *MemoryStore) InsertThought(_ context.Context, p InsertThoughtParams) (*Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.promptUses[p.PromptUseID]; !ok {
		return nil, ErrNotFound
	}
	author, ok := s.users[p.AuthorID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, id := range s.thoughtsByPrompt[p.PromptUseID] {
		t := s.thoughts[id]
		if t.AuthorID == p.AuthorID && t.DeletedAt == nil {
			return nil, ErrDuplicateThought
		}
	}

	t := &Thought{
		ID:          uuid.NewString(),
		PromptUseID: p.PromptUseID,
		AuthorID:    p.AuthorID,
		Content:     p.Content,
		CreatedAt:   time.Now(),
	}
	s.thoughts[t.ID] = t
	s.thoughtsByPrompt[p.PromptUseID] = append(s.thoughtsByPrompt[p.PromptUseID], t.ID)

	out := cloneThought(t)
	out.AuthorName = author.Name
	return out, nil
}

func (s *MemoryStore) DeleteThought(_ context.Context, thoughtID string) (*Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.thoughts[thoughtID]
	if !ok || t.DeletedAt != nil {
		return nil, ErrNotFound
	}
	now := time.Now()
	t.DeletedAt = &now

	out := cloneThought(t)
	if author, ok := s.users[t.AuthorID]; ok {
		out.AuthorName = author.Name
	}
	return out, nil
}

func (s *MemoryStore) ListThoughts(_ context.Context, promptUseID string) ([]Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thought
	for _, id := range s.thoughtsByPrompt[promptUseID] {
		t := s.thoughts[id]
		if t.DeletedAt != nil {
			continue
		}
		item := *cloneThought(t)
		if author, ok := s.users[t.AuthorID]; ok {
			item.AuthorName = author.Name
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *MemoryStore) CountConsentedThoughts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.thoughts {
		if t.DeletedAt != nil {
			continue
		}
		if author, ok := s.users[t.AuthorID]; ok && author.ConsentGiven {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListConsentedThoughts(_ context.Context) ([]Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thought
	for _, t := range s.thoughts {
		if t.DeletedAt != nil {
			continue
		}
		author, ok := s.users[t.AuthorID]
		if !ok || !author.ConsentGiven {
			continue
		}
		item := *cloneThought(t)
		item.AuthorName = author.Name
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Swap-request ledger ---

func (s *MemoryStore) CountSwapRequests(_ context.Context, sessionID, studentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, row := range s.swapRequests {
		if row.SessionID == sessionID && row.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RecordSwapRequest(_ context.Context, sessionID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.swapRequests = append(s.swapRequests, swapRequestRow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: studentID,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) CountConsentedSwapRequests(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, row := range s.swapRequests {
		if student, ok := s.users[row.StudentID]; ok && student.ConsentGiven {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListConsentedSwapRequests(_ context.Context) ([]SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SwapRequest
	for _, row := range s.swapRequests {
		if student, ok := s.users[row.StudentID]; ok && student.ConsentGiven {
			out = append(out, SwapRequest(row))
		}
	}
	return out, nil
}

// --- Saved prompts ---

func (s *MemoryStore) SavePrompt(_ context.Context, p SavePromptParams) (*SavedPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.TeacherID]; !ok {
		return nil, ErrNotFound
	}
	sp := &SavedPrompt{
		ID:         uuid.NewString(),
		TeacherID:  p.TeacherID,
		Content:    p.Content,
		PromptType: p.PromptType,
		Options:    append([]string(nil), p.Options...),
		CreatedAt:  time.Now(),
	}
	s.savedPrompts[sp.ID] = sp
	return cloneSavedPrompt(sp), nil
}

func (s *MemoryStore) ListSavedPrompts(_ context.Context, teacherID string) ([]SavedPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SavedPrompt
	for _, sp := range s.savedPrompts {
		if sp.TeacherID == teacherID {
			out = append(out, *cloneSavedPrompt(sp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteSavedPrompt(_ context.Context, promptID, teacherID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.savedPrompts[promptID]
	if !ok {
		return ErrNotFound
	}
	if sp.TeacherID != teacherID {
		return ErrForbidden
	}
	delete(s.savedPrompts, promptID)
	return nil
}

// --- Audit log ---

func (s *MemoryStore) AppendLogEvent(_ context.Context, p LogEventParams) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logEvents = append(s.logEvents, LogEvent{
		ID:        uuid.NewString(),
		Event:     p.Event,
		UserID:    p.UserID,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) RecentLogEvents(_ context.Context, limit int) ([]LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.logEvents) {
		limit = len(s.logEvents)
	}
	out := make([]LogEvent, 0, limit)
	for i := len(s.logEvents) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logEvents[i])
	}
	return out, nil
}

// --- Health ---

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// --- Copy helpers ---

func cloneUser(u *User) *User {
	out := *u
	if u.ConsentDate != nil {
		d := *u.ConsentDate
		out.ConsentDate = &d
	}
	return &out
}

func cloneCourse(c *Course) *Course {
	out := *c
	return &out
}

func cloneSession(s *Session) *Session {
	out := *s
	if s.EndedAt != nil {
		d := *s.EndedAt
		out.EndedAt = &d
	}
	return &out
}

func clonePromptUse(p *PromptUse) *PromptUse {
	out := *p
	out.Options = append([]string(nil), p.Options...)
	return &out
}

func cloneThought(t *Thought) *Thought {
	out := *t
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		out.DeletedAt = &d
	}
	return &out
}

func cloneSavedPrompt(sp *SavedPrompt) *SavedPrompt {
	out := *sp
	out.Options = append([]string(nil), sp.Options...)
	return &out
}
