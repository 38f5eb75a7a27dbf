// Package postgres implements store.Store on PostgreSQL via pgx. All
// uniqueness rules live in the schema; this package maps constraint
// violations onto the store sentinels so callers never see driver errors.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thoughtswap/thoughtswap/internal/v1/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultMaxConns        = 10
	defaultMinConns        = 2
	defaultConnLifetime    = 30 * time.Minute
	defaultConnIdleTime    = 5 * time.Minute
	defaultHealthCheckTick = 30 * time.Second
)

// Store is the pgx-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to databaseURL, verifies the connection, and applies the
// embedded schema when migrate is true.
func New(ctx context.Context, databaseURL string, migrate bool) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = defaultMaxConns
	cfg.MinConns = defaultMinConns
	cfg.MaxConnLifetime = defaultConnLifetime
	cfg.MaxConnIdleTime = defaultConnIdleTime
	cfg.HealthCheckPeriod = defaultHealthCheckTick

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of the
// pool's lifecycle decisions; Close still closes it.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// mapError converts driver errors into store sentinels. Unique violations
// are matched by constraint name; foreign key violations mean the referenced
// row is gone, which callers treat as not found.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			switch pgErr.ConstraintName {
			case "uq_sessions_join_code":
				return store.ErrDuplicateJoinCode
			case "uq_thoughts_live_author":
				return store.ErrDuplicateThought
			}
		case "23503":
			return store.ErrNotFound
		}
	}
	return err
}

func encodeOptions(options []string) ([]byte, error) {
	if options == nil {
		options = []string{}
	}
	return json.Marshal(options)
}

func decodeOptions(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var options []string
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, fmt.Errorf("decode prompt options: %w", err)
	}
	if len(options) == 0 {
		return nil, nil
	}
	return options, nil
}

const userColumns = `id, external_id, email, name, role, consent_given, consent_date, created_at`

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.Role, &u.ConsentGiven, &u.ConsentDate, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) UpsertUser(ctx context.Context, p store.UpsertUserParams) (*store.User, error) {
	role := p.Role
	if role == "" {
		role = store.RoleStudent
	}
	// The stored role and consent survive re-login; only the descriptive
	// fields refresh, and only when the new value is non-empty.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (external_id, email, name, role)
		VALUES ($1, lower($2), $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
			external_id = CASE WHEN EXCLUDED.external_id <> '' THEN EXCLUDED.external_id ELSE users.external_id END
		RETURNING `+userColumns,
		p.ExternalID, p.Email, p.Name, string(role))
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) RecordConsent(ctx context.Context, userID string, given bool) (*store.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET consent_given = $2, consent_date = now()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, given)
	return scanUser(row)
}

func (s *Store) CountUsers(ctx context.Context) (int, int, error) {
	var total, consented int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE consent_given) FROM users`).Scan(&total, &consented)
	if err != nil {
		return 0, 0, mapError(err)
	}
	return total, consented, nil
}

const sessionColumns = `id, course_id, teacher_id, join_code, status, max_swap_requests, started_at, ended_at`

func scanSession(row pgx.Row) (*store.Session, error) {
	var sess store.Session
	err := row.Scan(&sess.ID, &sess.CourseID, &sess.TeacherID, &sess.JoinCode, &sess.Status,
		&sess.MaxSwapRequests, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (s *Store) CreateCourseWithSession(ctx context.Context, p store.CreateClassParams) (*store.Course, *store.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var course store.Course
	err = tx.QueryRow(ctx, `
		INSERT INTO courses (title, teacher_id)
		VALUES ($1, $2)
		RETURNING id, title, teacher_id, created_at`,
		p.Title, p.TeacherID).Scan(&course.ID, &course.Title, &course.TeacherID, &course.CreatedAt)
	if err != nil {
		return nil, nil, mapError(err)
	}

	maxSwaps := p.MaxSwapRequests
	if maxSwaps < 0 {
		maxSwaps = 0
	}
	sess, err := scanSession(tx.QueryRow(ctx, `
		INSERT INTO sessions (course_id, teacher_id, join_code, max_swap_requests)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns,
		course.ID, p.TeacherID, p.JoinCode, maxSwaps))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return &course, sess, nil
}

func (s *Store) FindActiveSessionByJoinCode(ctx context.Context, joinCode string) (*store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE join_code = $1`, joinCode))
	if err != nil {
		return nil, err
	}
	if sess.Status != store.SessionActive {
		return nil, store.ErrNotActive
	}
	return sess, nil
}

// requireActive reports why a write against a session matched no rows.
func (s *Store) requireActive(ctx context.Context, sessionID string) error {
	var status store.SessionStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1`, sessionID).Scan(&status)
	if err != nil {
		return mapError(err)
	}
	if status != store.SessionActive {
		return store.ErrNotActive
	}
	return nil
}

func (s *Store) UpdateSessionSettings(ctx context.Context, sessionID string, maxSwapRequests int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET max_swap_requests = $2
		WHERE id = $1 AND status = 'ACTIVE'`,
		sessionID, maxSwapRequests)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireActive(ctx, sessionID)
	}
	return nil
}

func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'COMPLETED', ended_at = now()
		WHERE id = $1 AND status = 'ACTIVE'`,
		sessionID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireActive(ctx, sessionID)
	}
	return nil
}

func (s *Store) CompleteActiveSessionsByTeacher(ctx context.Context, teacherID string) ([]store.Session, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE sessions SET status = 'COMPLETED', ended_at = now()
		WHERE teacher_id = $1 AND status = 'ACTIVE'
		RETURNING `+sessionColumns,
		teacherID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var completed []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		completed = append(completed, *sess)
	}
	return completed, mapError(rows.Err())
}

func (s *Store) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]store.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.course_id, s.teacher_id, s.join_code, s.status, s.max_swap_requests,
		       s.started_at, s.ended_at, c.title,
		       (SELECT count(*) FROM prompt_uses pu WHERE pu.session_id = s.id)
		FROM sessions s
		JOIN courses c ON c.id = s.course_id
		WHERE s.teacher_id = $1 AND s.status = 'COMPLETED'
		ORDER BY s.started_at DESC`,
		teacherID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var summaries []store.SessionSummary
	for rows.Next() {
		var sum store.SessionSummary
		err := rows.Scan(&sum.ID, &sum.CourseID, &sum.TeacherID, &sum.JoinCode, &sum.Status,
			&sum.MaxSwapRequests, &sum.StartedAt, &sum.EndedAt, &sum.CourseTitle, &sum.PromptCount)
		if err != nil {
			return nil, mapError(err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, mapError(rows.Err())
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]store.ActiveSessionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.join_code, c.title, u.name,
		       (SELECT count(*) FROM prompt_uses pu WHERE pu.session_id = s.id),
		       s.started_at
		FROM sessions s
		JOIN courses c ON c.id = s.course_id
		JOIN users u ON u.id = s.teacher_id
		WHERE s.status = 'ACTIVE'
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var infos []store.ActiveSessionInfo
	for rows.Next() {
		var info store.ActiveSessionInfo
		err := rows.Scan(&info.SessionID, &info.JoinCode, &info.CourseTitle, &info.TeacherName,
			&info.PromptCount, &info.StartedAt)
		if err != nil {
			return nil, mapError(err)
		}
		infos = append(infos, info)
	}
	return infos, mapError(rows.Err())
}

func scanPromptUse(row pgx.Row) (*store.PromptUse, error) {
	var pu store.PromptUse
	var rawOptions []byte
	err := row.Scan(&pu.ID, &pu.SessionID, &pu.Content, &pu.PromptType, &rawOptions, &pu.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if pu.Options, err = decodeOptions(rawOptions); err != nil {
		return nil, err
	}
	return &pu, nil
}

func (s *Store) AppendPromptUse(ctx context.Context, p store.AppendPromptParams) (*store.PromptUse, error) {
	promptType := p.PromptType
	if promptType == "" {
		promptType = store.PromptTypeText
	}
	rawOptions, err := encodeOptions(p.Options)
	if err != nil {
		return nil, err
	}
	// The WHERE EXISTS guard keeps prompts out of completed sessions
	// without a separate round trip on the happy path.
	pu, err := scanPromptUse(s.pool.QueryRow(ctx, `
		INSERT INTO prompt_uses (session_id, content, prompt_type, options)
		SELECT $1, $2, $3, $4::jsonb
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND status = 'ACTIVE')
		RETURNING id, session_id, content, prompt_type, options, created_at`,
		p.SessionID, p.Content, string(promptType), rawOptions))
	if errors.Is(err, store.ErrNotFound) {
		if reason := s.requireActive(ctx, p.SessionID); reason != nil {
			return nil, reason
		}
		return nil, err
	}
	return pu, err
}

func (s *Store) LatestPromptUse(ctx context.Context, sessionID string) (*store.PromptUse, error) {
	return scanPromptUse(s.pool.QueryRow(ctx, `
		SELECT id, session_id, content, prompt_type, options, created_at
		FROM prompt_uses
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		sessionID))
}

func scanThought(row pgx.Row) (*store.Thought, error) {
	var t store.Thought
	err := row.Scan(&t.ID, &t.PromptUseID, &t.AuthorID, &t.AuthorName, &t.Content, &t.CreatedAt, &t.DeletedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (s *Store) InsertThought(ctx context.Context, p store.InsertThoughtParams) (*store.Thought, error) {
	return scanThought(s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO thoughts (prompt_use_id, author_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, prompt_use_id, author_id, content, created_at, deleted_at
		)
		SELECT ins.id, ins.prompt_use_id, ins.author_id, u.name, ins.content, ins.created_at, ins.deleted_at
		FROM ins
		JOIN users u ON u.id = ins.author_id`,
		p.PromptUseID, p.AuthorID, p.Content))
}

func (s *Store) DeleteThought(ctx context.Context, thoughtID string) (*store.Thought, error) {
	return scanThought(s.pool.QueryRow(ctx, `
		WITH del AS (
			UPDATE thoughts SET deleted_at = now()
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING id, prompt_use_id, author_id, content, created_at, deleted_at
		)
		SELECT del.id, del.prompt_use_id, del.author_id, u.name, del.content, del.created_at, del.deleted_at
		FROM del
		JOIN users u ON u.id = del.author_id`,
		thoughtID))
}

func (s *Store) ListThoughts(ctx context.Context, promptUseID string) ([]store.Thought, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.prompt_use_id, t.author_id, u.name, t.content, t.created_at, t.deleted_at
		FROM thoughts t
		JOIN users u ON u.id = t.author_id
		WHERE t.prompt_use_id = $1 AND t.deleted_at IS NULL
		ORDER BY t.seq`,
		promptUseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var thoughts []store.Thought
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		thoughts = append(thoughts, *t)
	}
	return thoughts, mapError(rows.Err())
}

func (s *Store) CountConsentedThoughts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM thoughts t
		JOIN users u ON u.id = t.author_id
		WHERE t.deleted_at IS NULL AND u.consent_given`).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *Store) ListConsentedThoughts(ctx context.Context) ([]store.Thought, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.prompt_use_id, t.author_id, u.name, t.content, t.created_at, t.deleted_at
		FROM thoughts t
		JOIN users u ON u.id = t.author_id
		WHERE t.deleted_at IS NULL AND u.consent_given
		ORDER BY t.seq`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var thoughts []store.Thought
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		thoughts = append(thoughts, *t)
	}
	return thoughts, mapError(rows.Err())
}

func (s *Store) CountSwapRequests(ctx context.Context, sessionID, studentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM swap_requests
		WHERE session_id = $1 AND student_id = $2`,
		sessionID, studentID).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *Store) RecordSwapRequest(ctx context.Context, sessionID, studentID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swap_requests (session_id, student_id) VALUES ($1, $2)`,
		sessionID, studentID)
	return mapError(err)
}

func (s *Store) CountConsentedSwapRequests(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM swap_requests r
		JOIN users u ON u.id = r.student_id
		WHERE u.consent_given`).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *Store) ListConsentedSwapRequests(ctx context.Context) ([]store.SwapRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.session_id, r.student_id, r.created_at
		FROM swap_requests r
		JOIN users u ON u.id = r.student_id
		WHERE u.consent_given
		ORDER BY r.created_at`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var requests []store.SwapRequest
	for rows.Next() {
		var req store.SwapRequest
		err := rows.Scan(&req.ID, &req.SessionID, &req.StudentID, &req.CreatedAt)
		if err != nil {
			return nil, mapError(err)
		}
		requests = append(requests, req)
	}
	return requests, mapError(rows.Err())
}

func (s *Store) SavePrompt(ctx context.Context, p store.SavePromptParams) (*store.SavedPrompt, error) {
	promptType := p.PromptType
	if promptType == "" {
		promptType = store.PromptTypeText
	}
	rawOptions, err := encodeOptions(p.Options)
	if err != nil {
		return nil, err
	}
	var sp store.SavedPrompt
	var raw []byte
	err = s.pool.QueryRow(ctx, `
		INSERT INTO saved_prompts (teacher_id, content, prompt_type, options)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, teacher_id, content, prompt_type, options, created_at`,
		p.TeacherID, p.Content, string(promptType), rawOptions).
		Scan(&sp.ID, &sp.TeacherID, &sp.Content, &sp.PromptType, &raw, &sp.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if sp.Options, err = decodeOptions(raw); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *Store) ListSavedPrompts(ctx context.Context, teacherID string) ([]store.SavedPrompt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, teacher_id, content, prompt_type, options, created_at
		FROM saved_prompts
		WHERE teacher_id = $1
		ORDER BY created_at DESC`,
		teacherID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var prompts []store.SavedPrompt
	for rows.Next() {
		var sp store.SavedPrompt
		var raw []byte
		err := rows.Scan(&sp.ID, &sp.TeacherID, &sp.Content, &sp.PromptType, &raw, &sp.CreatedAt)
		if err != nil {
			return nil, mapError(err)
		}
		if sp.Options, err = decodeOptions(raw); err != nil {
			return nil, err
		}
		prompts = append(prompts, sp)
	}
	return prompts, mapError(rows.Err())
}

func (s *Store) DeleteSavedPrompt(ctx context.Context, promptID, teacherID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM saved_prompts WHERE id = $1 AND teacher_id = $2`,
		promptID, teacherID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM saved_prompts WHERE id = $1)`, promptID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if exists {
		return store.ErrForbidden
	}
	return store.ErrNotFound
}

func (s *Store) AppendLogEvent(ctx context.Context, p store.LogEventParams) error {
	var payload []byte
	if p.Payload != nil {
		var err error
		if payload, err = json.Marshal(p.Payload); err != nil {
			return fmt.Errorf("encode log payload: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO log_events (event, user_id, payload) VALUES ($1, $2, $3)`,
		p.Event, p.UserID, payload)
	return mapError(err)
}

func (s *Store) RecentLogEvents(ctx context.Context, limit int) ([]store.LogEvent, error) {
	query := `
		SELECT id, event, user_id, payload, created_at
		FROM log_events
		ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []store.LogEvent
	for rows.Next() {
		var ev store.LogEvent
		err := rows.Scan(&ev.ID, &ev.Event, &ev.UserID, &ev.Payload, &ev.CreatedAt)
		if err != nil {
			return nil, mapError(err)
		}
		events = append(events, ev)
	}
	return events, mapError(rows.Err())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}
