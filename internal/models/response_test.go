package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("link not found", ErrorCodeNotFound)

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "link not found", resp.Message)
	assert.Equal(t, ErrorCodeNotFound, resp.Code)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthCheckResponse_AddComponent(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)
	resp.AddComponent("storage", StatusHealthy, "")

	require.Contains(t, resp.Components, "storage")
	assert.Equal(t, StatusHealthy, resp.Components["storage"].Status)
}

func TestResequenceResponse_JSONShape(t *testing.T) {
	resp := ResequenceResponse{
		Message: "Links reordered",
		Items:   []SequencedItem{{ID: "a", Sequence: 1, Name: "Blog"}},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Links reordered","items":[{"id":"a","sequence":1,"name":"Blog"}]}`, string(data))
}

func TestChatResponse_NullConversation(t *testing.T) {
	data, err := json.Marshal(ChatResponse{Answer: "hi", ResponseType: "text", Sources: []ChatSource{}, Links: []ChatLink{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"hi","sources":[],"conversation_id":null,"response_type":"text","links":[]}`, string(data))
}
