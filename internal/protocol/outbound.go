package protocol

import "encoding/json"

// RunEnvelope starts a run. This is the canonical envelope shape: a single
// message string plus forwarded props. The older shape carrying a messages
// array with tools and context is not part of this contract.
type RunEnvelope struct {
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	Message        string         `json:"message"`
	ForwardedProps map[string]any `json:"forwardedProps,omitempty"`
}

// StagePayloadEdits carries operator substitutions for a staged run payload.
// Only fields the operator actually provided are sent.
type StagePayloadEdits struct {
	Message *string         `json:"message,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// Decision is an outbound approval or denial. Every decision names the run
// it belongs to; the optional fields depend on Kind.
type Decision struct {
	Type         EventType          `json:"type"`
	ThreadID     string             `json:"threadId"`
	RunID        string             `json:"runId"`
	ToolCallID   string             `json:"toolCallId,omitempty"`
	ArgsOverride map[string]any     `json:"argsOverride,omitempty"`
	PayloadEdits *StagePayloadEdits `json:"payloadEdits,omitempty"`
	FinalText    *string            `json:"finalText,omitempty"`
}

func StageApprovedMsg(threadID, runID string, edits *StagePayloadEdits) Decision {
	return Decision{Type: EventRunStageApproved, ThreadID: threadID, RunID: runID, PayloadEdits: edits}
}

func StageDeniedMsg(threadID, runID string) Decision {
	return Decision{Type: EventRunStageDenied, ThreadID: threadID, RunID: runID}
}

func ToolApprovedMsg(threadID, runID, toolCallID string, argsOverride map[string]any) Decision {
	return Decision{Type: EventToolCallApproved, ThreadID: threadID, RunID: runID, ToolCallID: toolCallID, ArgsOverride: argsOverride}
}

func ToolDeniedMsg(threadID, runID, toolCallID string) Decision {
	return Decision{Type: EventToolCallDenied, ThreadID: threadID, RunID: runID, ToolCallID: toolCallID}
}

func FinalApprovedMsg(threadID, runID string, finalText *string) Decision {
	return Decision{Type: EventAssistantFinalApproved, ThreadID: threadID, RunID: runID, FinalText: finalText}
}

func FinalDeniedMsg(threadID, runID string) Decision {
	return Decision{Type: EventAssistantFinalDenied, ThreadID: threadID, RunID: runID}
}

// PrettyJSON renders a raw payload for an operator edit buffer. Unmarshalable
// input renders as an empty string rather than failing.
func PrettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseJSONObject parses operator-edited text as a JSON object. Anything
// else (invalid JSON, arrays, scalars) yields nil, which callers treat as
// "no edits".
func ParseJSONObject(text string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}
