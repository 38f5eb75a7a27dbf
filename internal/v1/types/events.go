package types

import "encoding/json"

// Event names the kind of a protocol frame. Values are shared verbatim with
// the web client, so they never change casing.
type Event string

// Client -> server events.
const (
	EventJoinRoom                 Event = "JOIN_ROOM"
	EventTeacherStartClass        Event = "TEACHER_START_CLASS"
	EventTeacherRejoin            Event = "TEACHER_REJOIN"
	EventTeacherSendPrompt        Event = "TEACHER_SEND_PROMPT"
	EventSubmitThought            Event = "SUBMIT_THOUGHT"
	EventTriggerSwap              Event = "TRIGGER_SWAP"
	EventTeacherDeleteThought     Event = "TEACHER_DELETE_THOUGHT"
	EventStudentRequestNewThought Event = "STUDENT_REQUEST_NEW_THOUGHT"
	EventTeacherReassign          Event = "TEACHER_REASSIGN_DISTRIBUTION"
	EventTeacherResetState        Event = "TEACHER_RESET_STATE"
	EventEndSession               Event = "END_SESSION"
	EventUpdateSessionSettings    Event = "UPDATE_SESSION_SETTINGS"
	EventUpdateConsent            Event = "UPDATE_CONSENT"
	EventSavePrompt               Event = "SAVE_PROMPT"
	EventGetSavedPrompts          Event = "GET_SAVED_PROMPTS"
	EventDeleteSavedPrompt        Event = "DELETE_SAVED_PROMPT"
	EventGetPreviousSessions      Event = "GET_PREVIOUS_SESSIONS"
	EventAdminJoin                Event = "ADMIN_JOIN"
	EventAdminGetData             Event = "ADMIN_GET_DATA"
	EventPing                     Event = "PING"
)

// Server -> client events.
const (
	EventClassStarted       Event = "CLASS_STARTED"
	EventJoinSuccess        Event = "JOIN_SUCCESS"
	EventNewPrompt          Event = "NEW_PROMPT"
	EventThoughtsUpdate     Event = "THOUGHTS_UPDATE"
	EventParticipantsUpdate Event = "PARTICIPANTS_UPDATE"
	EventReceiveSwap        Event = "RECEIVE_SWAP"
	EventSwapCompleted      Event = "SWAP_COMPLETED"
	EventDistributionUpdate Event = "DISTRIBUTION_UPDATE"
	EventThoughtDeleted     Event = "THOUGHT_DELETED"
	EventRestoreState       Event = "RESTORE_STATE"
	EventSessionEnded       Event = "SESSION_ENDED"
	EventConsentStatus      Event = "CONSENT_STATUS"
	EventSavedPrompts       Event = "SAVED_PROMPTS_LIST"
	EventPreviousSessions   Event = "PREVIOUS_SESSIONS"
	EventAdminDataUpdate    Event = "ADMIN_DATA_UPDATE"
	EventError              Event = "ERROR"
	EventAuthError          Event = "AUTH_ERROR"
)

// Message is the outbound frame envelope: {"event": ..., "payload": ...}.
type Message struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// Frame is the inbound envelope. The payload stays raw until the router knows
// which event it is handling.
type Frame struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals a frame payload into the handler's expected shape.
// A missing payload decodes to the zero value so handlers with optional
// payloads don't error.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
