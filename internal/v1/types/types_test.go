package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want RoleType
	}{
		{"student", RoleTypeStudent},
		{"Student", RoleTypeStudent},
		{"  teacher ", RoleTypeTeacher},
		{"facilitator", RoleTypeTeacher},
		{"admin", RoleTypeAdmin},
		{"", RoleTypeUnknown},
		{"superuser", RoleTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRole(tt.in), "ParseRole(%q)", tt.in)
	}
}

func TestFrameUnmarshalKeepsPayloadRaw(t *testing.T) {
	var frame Frame
	err := json.Unmarshal([]byte(`{"event":"SUBMIT_THOUGHT","payload":{"content":"an idea","promptUseId":"pu-1"}}`), &frame)
	require.NoError(t, err)
	assert.Equal(t, EventSubmitThought, frame.Event)

	payload, err := DecodePayload[SubmitThoughtPayload](frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "an idea", payload.Content)
	assert.Equal(t, "pu-1", payload.PromptUseID)
}

func TestDecodePayloadMissingPayload(t *testing.T) {
	payload, err := DecodePayload[JoinRoomPayload](nil)
	require.NoError(t, err)
	assert.Empty(t, payload.JoinCode)
}

func TestDecodePayloadRejectsWrongShape(t *testing.T) {
	_, err := DecodePayload[UpdateSettingsPayload]([]byte(`{"maxSwapRequests":"three"}`))
	assert.Error(t, err)
}

func TestMessageMarshalOmitsEmptyPayload(t *testing.T) {
	data, err := json.Marshal(Message{Event: EventSessionEnded})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"SESSION_ENDED"}`, string(data))
}
