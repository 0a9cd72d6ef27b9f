package models

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionError
}

type EventType string

const (
	EventTextMessage            EventType = "TextMessage"
	EventToolCallRequest        EventType = "ToolCallRequestEvent"
	EventToolCallExecution      EventType = "ToolCallExecutionEvent"
	EventToolCallSummaryMessage EventType = "ToolCallSummaryMessage"
)

type ModelsUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// ThreadEvent is one agent output taken from the execution stream.
type ThreadEvent struct {
	Source      string          `json:"source"`
	Type        EventType       `json:"type"`
	Content     json.RawMessage `json:"content"`
	ModelsUsage *ModelsUsage    `json:"models_usage,omitempty"`
	Metadata    map[string]any  `json:"metadata"`
	Timestamp   string          `json:"timestamp"`
}

// TimestampLayout is the fixed-width layout events are stamped with when the
// stream leaves the timestamp out.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Time parses the event timestamp. Times without a zone are read as UTC.
func (e ThreadEvent) Time() (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Before reports whether e happened before other. Timestamps that do not
// parse are compared as text.
func (e ThreadEvent) Before(other ThreadEvent) bool {
	a, aok := e.Time()
	b, bok := other.Time()
	if aok && bok {
		return a.Before(b)
	}
	return e.Timestamp < other.Timestamp
}

// ContentText renders the content for display: strings are unquoted, any
// other JSON value is returned as is.
func (e ThreadEvent) ContentText() string {
	if len(e.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err == nil {
		return s
	}
	return string(e.Content)
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Session is a point-in-time copy of one tracked team run.
type Session struct {
	ID          string
	TeamName    string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      SessionStatus
	Error       string
	// AgentOrder lists agents in the order their first event arrived.
	AgentOrder  []string
	AgentEvents map[string][]ThreadEvent
}

// Usage totals the token counts over every event of the session.
func (s *Session) Usage() TokenUsage {
	var usage TokenUsage
	for _, events := range s.AgentEvents {
		for _, event := range events {
			if event.ModelsUsage == nil {
				continue
			}
			usage.PromptTokens += event.ModelsUsage.PromptTokens
			usage.CompletionTokens += event.ModelsUsage.CompletionTokens
		}
	}
	return usage
}

// EventCount returns the number of events across all agents.
func (s *Session) EventCount() int {
	n := 0
	for _, events := range s.AgentEvents {
		n += len(events)
	}
	return n
}
