package types

import "encoding/json"

// --- Client -> server payloads ---

// JoinRoomPayload carries the room code a student wants to join.
type JoinRoomPayload struct {
	JoinCode string `json:"joinCode"`
}

// RejoinPayload carries the room code a teacher is returning to.
type RejoinPayload struct {
	JoinCode string `json:"joinCode"`
}

// StartClassPayload opens a new live session. The title is optional; an
// empty one gets a placeholder.
type StartClassPayload struct {
	Title string `json:"title,omitempty"`
}

// SendPromptPayload is a teacher's new prompt for the room.
type SendPromptPayload struct {
	JoinCode   string   `json:"joinCode"`
	Content    string   `json:"content"`
	PromptType string   `json:"type"`
	Options    []string `json:"options,omitempty"`
}

// SubmitThoughtPayload is a student's response to the current prompt.
type SubmitThoughtPayload struct {
	JoinCode    string `json:"joinCode"`
	Content     string `json:"content"`
	PromptUseID string `json:"promptUseId"`
}

// DeleteThoughtPayload names the thought a teacher wants removed.
type DeleteThoughtPayload struct {
	JoinCode  string `json:"joinCode"`
	ThoughtID string `json:"thoughtId"`
}

// RequestNewThoughtPayload asks for a different thought than the one the
// student currently holds.
type RequestNewThoughtPayload struct {
	JoinCode              string `json:"joinCode"`
	CurrentThoughtContent string `json:"currentThoughtContent"`
}

// ReassignPayload names the student connection a teacher wants re-dealt.
type ReassignPayload struct {
	JoinCode            string `json:"joinCode"`
	StudentConnectionID string `json:"studentConnectionId"`
}

// UpdateSettingsPayload changes per-session knobs mid-class.
type UpdateSettingsPayload struct {
	JoinCode        string `json:"joinCode"`
	MaxSwapRequests int    `json:"maxSwapRequests"`
}

// RoomActionPayload names the room for teacher commands that take no other
// arguments, such as TRIGGER_SWAP and END_SESSION.
type RoomActionPayload struct {
	JoinCode string `json:"joinCode"`
}

// UpdateConsentPayload records a research-consent decision.
type UpdateConsentPayload struct {
	ConsentGiven bool `json:"consentGiven"`
}

// SavePromptPayload stores a reusable prompt in the teacher's library.
type SavePromptPayload struct {
	Content    string   `json:"content"`
	PromptType string   `json:"type"`
	Options    []string `json:"options,omitempty"`
}

// DeleteSavedPromptPayload names the library prompt to remove.
type DeleteSavedPromptPayload struct {
	PromptID string `json:"promptId"`
}

// --- Server -> client payloads ---

// ClassStartedPayload confirms a live session to its teacher.
type ClassStartedPayload struct {
	JoinCode        string `json:"joinCode"`
	SessionID       string `json:"sessionId"`
	MaxSwapRequests int    `json:"maxSwapRequests"`
}

// JoinSuccessPayload confirms room entry to a student.
type JoinSuccessPayload struct {
	JoinCode string `json:"joinCode"`
}

// NewPromptPayload delivers the active prompt to the room.
type NewPromptPayload struct {
	PromptUseID string   `json:"promptUseId"`
	Content     string   `json:"content"`
	PromptType  string   `json:"type"`
	Options     []string `json:"options,omitempty"`
}

// ThoughtSummary is one live thought as teachers see it.
type ThoughtSummary struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
}

// ThoughtsUpdatePayload is the full live-thought list for the current prompt.
type ThoughtsUpdatePayload struct {
	Thoughts []ThoughtSummary `json:"thoughts"`
}

// ParticipantInfo is one connected student as teachers see them.
type ParticipantInfo struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// ParticipantsUpdatePayload is the room roster plus submission progress.
type ParticipantsUpdatePayload struct {
	Participants    []ParticipantInfo `json:"participants"`
	SubmissionCount int               `json:"submissionCount"`
}

// ReceiveSwapPayload hands a student someone else's thought to discuss.
type ReceiveSwapPayload struct {
	ThoughtID string `json:"thoughtId"`
	Content   string `json:"content"`
}

// SwapCompletedPayload announces a finished distribution round.
type SwapCompletedPayload struct {
	Count int `json:"count"`
}

// DistributionEntry is one student's assignment as teachers see it.
type DistributionEntry struct {
	StudentName        string `json:"studentName"`
	ThoughtContent     string `json:"thoughtContent"`
	OriginalAuthorName string `json:"originalAuthorName"`
}

// DistributionUpdatePayload maps connection ids to their assignments.
type DistributionUpdatePayload struct {
	Distribution map[string]DistributionEntry `json:"distribution"`
}

// ThoughtDeletedPayload tells an author their submission was removed.
type ThoughtDeletedPayload struct {
	Message   string `json:"message"`
	ThoughtID string `json:"thoughtId,omitempty"`
}

// Restore-state status values.
const (
	RestoreStatusWaiting    = "WAITING"
	RestoreStatusSubmitted  = "SUBMITTED"
	RestoreStatusDiscussing = "DISCUSSING"
)

// RestoreStatePayload rebuilds a reconnecting client's view of the room.
type RestoreStatePayload struct {
	Status      string   `json:"status"`
	Prompt      string   `json:"prompt,omitempty"`
	PromptUseID string   `json:"promptUseId,omitempty"`
	PromptType  string   `json:"type,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// SessionEndedPayload closes out a room for everyone in it.
type SessionEndedPayload struct {
	SurveyLink string `json:"surveyLink,omitempty"`
}

// ConsentStatusPayload reports the stored consent decision.
type ConsentStatusPayload struct {
	ConsentGiven bool    `json:"consentGiven"`
	ConsentDate  *string `json:"consentDate"`
}

// SavedPromptInfo is one entry of a teacher's prompt library.
type SavedPromptInfo struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	PromptType string   `json:"type"`
	Options    []string `json:"options,omitempty"`
}

// SavedPromptsPayload is the teacher's full prompt library.
type SavedPromptsPayload struct {
	Prompts []SavedPromptInfo `json:"prompts"`
}

// SessionSummaryInfo is one completed session in a teacher's history.
type SessionSummaryInfo struct {
	SessionID   string `json:"sessionId"`
	CourseTitle string `json:"courseTitle"`
	JoinCode    string `json:"joinCode"`
	StartedAt   string `json:"startedAt"`
	EndedAt     string `json:"endedAt,omitempty"`
	PromptCount int    `json:"promptCount"`
}

// PreviousSessionsPayload is a teacher's completed-session history.
type PreviousSessionsPayload struct {
	Sessions []SessionSummaryInfo `json:"sessions"`
}

// AdminSessionInfo is one live session in the admin snapshot.
type AdminSessionInfo struct {
	SessionID   string `json:"sessionId"`
	JoinCode    string `json:"joinCode"`
	CourseTitle string `json:"courseTitle"`
	TeacherName string `json:"teacherName"`
	PromptCount int    `json:"promptCount"`
	StartedAt   string `json:"startedAt"`
}

// AdminThoughtInfo is one consented thought in the admin snapshot.
type AdminThoughtInfo struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	CreatedAt  string `json:"createdAt"`
}

// AdminSwapInfo is one consented re-swap ledger entry.
type AdminSwapInfo struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
	CreatedAt string `json:"createdAt"`
}

// AdminLogInfo is one audit record in the admin snapshot.
type AdminLogInfo struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	UserID    *string         `json:"userId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

// AdminStats summarizes platform activity. The thought and swap totals count
// only consented users' data.
type AdminStats struct {
	TotalConsented int `json:"totalConsented"`
	TotalUsers     int `json:"totalUsers"`
	ActiveUsers    int `json:"activeUsers"`
	ActiveSessions int `json:"activeSessions"`
	TotalThoughts  int `json:"totalThoughts"`
	TotalSwaps     int `json:"totalSwaps"`
}

// AdminDataPayload is the consent-filtered research snapshot.
type AdminDataPayload struct {
	Sessions []AdminSessionInfo `json:"sessions"`
	Thoughts []AdminThoughtInfo `json:"thoughts"`
	Swaps    []AdminSwapInfo    `json:"swaps"`
	Logs     []AdminLogInfo     `json:"logs"`
	Stats    AdminStats         `json:"stats"`
}

// ErrorPayload is a recoverable, human-readable failure notice.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AuthErrorPayload precedes a server-initiated close.
type AuthErrorPayload struct {
	Message string `json:"message"`
}
