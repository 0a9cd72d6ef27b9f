package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind FrameKind
	}{
		{"heartbeat", `{"status":"heartbeat"}`, FrameStatus},
		{"error", `{"status":"error","message":"boom"}`, FrameStatus},
		{"status wins over source", `{"status":"update","source":"a","type":"TextMessage"}`, FrameStatus},
		{"agent event", `{"source":"writer","type":"TextMessage","content":"hi"}`, FrameAgentEvent},
		{"empty status", `{"status":"","source":"a","type":"TextMessage"}`, FrameAgentEvent},
		{"source only", `{"source":"writer"}`, FrameUnknown},
		{"array", `[1,2]`, FrameUnknown},
		{"numeric status", `{"status":3}`, FrameUnknown},
		{"truncated", `{"status":"compl`, FrameParseError},
		{"garbage", `not json`, FrameParseError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, Classify([]byte(tc.raw)).Kind())
		})
	}
}

func TestClassifyAgentEventFields(t *testing.T) {
	frame := Classify([]byte(`{
		"source": "planner",
		"type": "ToolCallRequestEvent",
		"content": [{"name": "search", "arguments": "{}"}],
		"models_usage": {"prompt_tokens": 12, "completion_tokens": 4},
		"timestamp": "2025-03-01T10:00:00Z"
	}`))

	event, ok := frame.(AgentEventFrame)
	require.True(t, ok)
	assert.Equal(t, "planner", event.Event.Source)
	assert.Equal(t, models.EventToolCallRequest, event.Event.Type)
	assert.Equal(t, &models.ModelsUsage{PromptTokens: 12, CompletionTokens: 4}, event.Event.ModelsUsage)
	assert.Equal(t, "2025-03-01T10:00:00Z", event.Event.Timestamp)
	assert.NotNil(t, event.Event.Metadata)
	assert.JSONEq(t, `[{"name": "search", "arguments": "{}"}]`, string(event.Event.Content))
}

func TestStatusFrameTerminal(t *testing.T) {
	assert.True(t, StatusFrame{Status: StatusCompleted}.Terminal())
	assert.True(t, StatusFrame{Status: StatusError}.Terminal())
	assert.False(t, StatusFrame{Status: StatusProcessing}.Terminal())
}

func TestClassifyAgentEventLenientFields(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		usage     *models.ModelsUsage
		timestamp string
	}{
		{
			name:  "float counts",
			raw:   `{"source":"a","type":"TextMessage","content":"hi","models_usage":{"prompt_tokens":10.0,"completion_tokens":2.0}}`,
			usage: &models.ModelsUsage{PromptTokens: 10, CompletionTokens: 2},
		},
		{
			name:  "string counts",
			raw:   `{"source":"a","type":"TextMessage","content":"hi","models_usage":{"prompt_tokens":"7","completion_tokens":"x"}}`,
			usage: &models.ModelsUsage{PromptTokens: 7},
		},
		{
			name: "usage of the wrong type",
			raw:  `{"source":"a","type":"TextMessage","content":"hi","models_usage":[1,2]}`,
		},
		{
			name: "null usage",
			raw:  `{"source":"a","type":"TextMessage","content":"hi","models_usage":null}`,
		},
		{
			name:      "unix seconds",
			raw:       `{"source":"a","type":"TextMessage","content":"hi","timestamp":1740823205.5}`,
			timestamp: "2025-03-01T10:00:05.500000000Z",
		},
		{
			name:      "unix milliseconds",
			raw:       `{"source":"a","type":"TextMessage","content":"hi","timestamp":1740823205123}`,
			timestamp: "2025-03-01T10:00:05.123000000Z",
		},
		{
			name: "timestamp of the wrong type",
			raw:  `{"source":"a","type":"TextMessage","content":"hi","timestamp":{"at":1},"metadata":"oops"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, ok := Classify([]byte(tc.raw)).(AgentEventFrame)
			require.True(t, ok)
			assert.Equal(t, "hi", event.Event.ContentText())
			assert.Equal(t, tc.usage, event.Event.ModelsUsage)
			assert.Equal(t, tc.timestamp, event.Event.Timestamp)
			assert.NotNil(t, event.Event.Metadata)
		})
	}
}
