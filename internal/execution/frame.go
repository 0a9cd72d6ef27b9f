// Package execution tracks team runs: it classifies streamed frames and keeps
// the per-agent event log and status of every session.
package execution

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zhattention/agent-studio/internal/models"
)

type FrameKind string

const (
	FrameStatus     FrameKind = "status"
	FrameAgentEvent FrameKind = "agent_event"
	FrameUnknown    FrameKind = "unknown_format"
	FrameParseError FrameKind = "parse_error"
)

// Status values carried by status frames. Anything other than completed and
// error is informational.
const (
	StatusHeartbeat  = "heartbeat"
	StatusProcessing = "processing"
	StatusUpdate     = "update"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Frame is one classified stream frame. It is one of StatusFrame,
// AgentEventFrame, UnknownFrame or ParseErrorFrame.
type Frame interface {
	Kind() FrameKind
}

type StatusFrame struct {
	Status  string
	Message string
}

type AgentEventFrame struct {
	Event models.ThreadEvent
}

type UnknownFrame struct {
	Raw string
}

type ParseErrorFrame struct {
	Raw string
	Err error
}

func (StatusFrame) Kind() FrameKind     { return FrameStatus }
func (AgentEventFrame) Kind() FrameKind { return FrameAgentEvent }
func (UnknownFrame) Kind() FrameKind    { return FrameUnknown }
func (ParseErrorFrame) Kind() FrameKind { return FrameParseError }

// Terminal reports whether the frame ends the session.
func (f StatusFrame) Terminal() bool {
	return f.Status == StatusCompleted || f.Status == StatusError
}

type wireFrame struct {
	Status  *string `json:"status"`
	Message string  `json:"message"`
	Source  string  `json:"source"`
	Type    string  `json:"type"`
}

// Classify parses raw and decides which kind of frame it is. A frame with a
// non-empty string status is a status frame even if it also names a source.
func Classify(raw []byte) Frame {
	text := strings.TrimSpace(string(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if json.Valid(raw) {
			return UnknownFrame{Raw: text}
		}
		return ParseErrorFrame{Raw: text, Err: err}
	}

	var wire wireFrame
	if err := json.Unmarshal(raw, &wire); err != nil {
		// a field of the wrong JSON type, e.g. "status": 3
		return UnknownFrame{Raw: text}
	}

	if wire.Status != nil && *wire.Status != "" {
		return StatusFrame{Status: *wire.Status, Message: wire.Message}
	}

	if wire.Source != "" && wire.Type != "" {
		return AgentEventFrame{Event: agentEvent(wire, fields)}
	}

	return UnknownFrame{Raw: text}
}

// agentEvent builds the event from its raw fields. Optional fields of an
// unexpected type are read leniently or left empty; they never drop the
// event.
func agentEvent(wire wireFrame, fields map[string]json.RawMessage) models.ThreadEvent {
	event := models.ThreadEvent{
		Source:      wire.Source,
		Type:        models.EventType(wire.Type),
		Content:     fields["content"],
		ModelsUsage: usage(fields["models_usage"]),
		Metadata:    map[string]any{},
		Timestamp:   timestamp(fields["timestamp"]),
	}
	if raw, ok := fields["metadata"]; ok {
		var metadata map[string]any
		if err := json.Unmarshal(raw, &metadata); err == nil && metadata != nil {
			event.Metadata = metadata
		}
	}
	return event
}

func usage(raw json.RawMessage) *models.ModelsUsage {
	var counts map[string]any
	if err := json.Unmarshal(raw, &counts); err != nil || counts == nil {
		return nil
	}
	return &models.ModelsUsage{
		PromptTokens:     tokenCount(counts["prompt_tokens"]),
		CompletionTokens: tokenCount(counts["completion_tokens"]),
	}
}

// tokenCount reads a count sent as a JSON number or a numeric string.
func tokenCount(v any) int {
	var n float64
	switch v := v.(type) {
	case float64:
		n = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int(n)
}

// timestamp keeps string timestamps as sent and renders numeric Unix times,
// in seconds or milliseconds, in the fixed event layout. Anything else is
// left empty for the registry to stamp.
func timestamp(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v <= 0 || math.IsInf(v, 0) {
			return ""
		}
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC().Format(models.TimestampLayout)
		}
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(models.TimestampLayout)
	}
	return ""
}
