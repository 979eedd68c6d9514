package wsserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewResponseEncodesPayload(t *testing.T) {
	msg, err := newResponse("req-1", ActionGetSessions, map[string]int{"count": 3})
	require.NoError(t, err)
	require.Equal(t, MessageTypeResponse, msg.Type)
	require.Equal(t, "req-1", msg.ID)

	var decoded map[string]int
	require.NoError(t, msg.parsePayload(&decoded))
	require.Equal(t, 3, decoded["count"])
}

func TestNewNotificationHasNoID(t *testing.T) {
	msg, err := newNotification(ActionSessionsList, []int{1, 2})
	require.NoError(t, err)
	require.Empty(t, msg.ID)
	require.Equal(t, MessageTypeNotification, msg.Type)
}

func TestNewErrorMessageCarriesCodeAndText(t *testing.T) {
	msg := newErrorMessage("req-2", ActionCommand, ErrorCodeNotFound, "no such session")

	var payload ErrorPayload
	require.NoError(t, msg.parsePayload(&payload))
	require.Equal(t, ErrorCodeNotFound, payload.Code)
	require.Equal(t, "no such session", payload.Message)
}

func TestParsePayloadOnEmptyPayloadIsNoop(t *testing.T) {
	msg := &Message{}
	var target map[string]string
	require.NoError(t, msg.parsePayload(&target))
	require.Nil(t, target)
}
