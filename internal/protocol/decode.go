package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Decode parses one raw text frame into a typed server event. A malformed
// frame (not JSON, not an object, missing or unknown type, or a
// TEXT_MESSAGE_CHUNK without a string delta) yields (nil, false); Decode
// never returns an error so a bad frame can never take down the connection.
func Decode(raw []byte) (ServerEvent, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false
	}
	if head.Type == "" {
		return nil, false
	}

	switch EventType(head.Type) {
	case EventRunStarted:
		return decodeInto[RunStarted](raw)
	case EventRunStaged:
		return decodeInto[RunStaged](raw)
	case EventRunStageApproved:
		return decodeInto[RunStageApproved](raw)
	case EventRunStageDenied:
		return decodeInto[RunStageDenied](raw)
	case EventRunFinished:
		return decodeInto[RunFinished](raw)
	case EventRunError:
		return decodeInto[RunError](raw)
	case EventToolCallProposed:
		return decodeInto[ToolCallProposed](raw)
	case EventToolCallApproved:
		return decodeInto[ToolCallApproved](raw)
	case EventToolCallDenied:
		return decodeInto[ToolCallDenied](raw)
	case EventToolCallStarted:
		return decodeInto[ToolCallStarted](raw)
	case EventToolCallResult:
		return decodeInto[ToolCallResult](raw)
	case EventTextMessageChunk:
		var chunk struct {
			Delta *string `json:"delta"`
		}
		if err := json.Unmarshal(raw, &chunk); err != nil || chunk.Delta == nil {
			return nil, false
		}
		return TextMessageChunk{Delta: *chunk.Delta}, true
	case EventAssistantDraftProposed:
		return decodeInto[AssistantDraftProposed](raw)
	case EventAssistantFinalApproved:
		return decodeInto[AssistantFinalApproved](raw)
	case EventAssistantFinalDenied:
		return decodeInto[AssistantFinalDenied](raw)
	case EventCustom:
		return decodeInto[Custom](raw)
	}
	return nil, false
}

// decodeInto fills the concrete event for an already-recognized type. A
// wrongly-typed optional field is tolerated: the mismatched field stays at
// its zero value and every other field decodes normally. Only delta on
// TEXT_MESSAGE_CHUNK is load-bearing, and Decode checks that separately.
func decodeInto[T ServerEvent](raw []byte) (ServerEvent, bool) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, false
		}
	}
	return ev, true
}

// Summarize produces the short human-readable note recorded next to an event
// in the timeline. Most events carry none.
func Summarize(ev ServerEvent) string {
	switch e := ev.(type) {
	case RunError:
		return e.Message
	case ToolCallProposed:
		if e.ToolName != "" {
			return "(" + e.ToolName + ")"
		}
	case ToolCallStarted:
		if e.ToolName != "" {
			return "(" + e.ToolName + ")"
		}
	case ToolCallResult:
		if e.ToolName != "" {
			return "(" + e.ToolName + ")"
		}
	case AssistantDraftProposed:
		return "draft ready"
	case Custom:
		if e.Name != "" {
			return "(" + strings.TrimSpace(e.Name) + ")"
		}
	}
	return ""
}
