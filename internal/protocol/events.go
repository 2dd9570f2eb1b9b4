// Package protocol defines the wire vocabulary spoken between the console
// and the agent backend: the closed set of inbound server events, the
// outbound decision messages, and the run envelope that starts a run.
package protocol

import "encoding/json"

// EventType tags an inbound server event.
type EventType string

const (
	EventRunStarted             EventType = "RUN_STARTED"
	EventRunStaged              EventType = "RUN_STAGED"
	EventRunStageApproved       EventType = "RUN_STAGE_APPROVED"
	EventRunStageDenied         EventType = "RUN_STAGE_DENIED"
	EventRunFinished            EventType = "RUN_FINISHED"
	EventRunError               EventType = "RUN_ERROR"
	EventToolCallProposed       EventType = "TOOL_CALL_PROPOSED"
	EventToolCallApproved       EventType = "TOOL_CALL_APPROVED"
	EventToolCallDenied         EventType = "TOOL_CALL_DENIED"
	EventToolCallStarted        EventType = "TOOL_CALL_STARTED"
	EventToolCallResult         EventType = "TOOL_CALL_RESULT"
	EventTextMessageChunk       EventType = "TEXT_MESSAGE_CHUNK"
	EventAssistantDraftProposed EventType = "ASSISTANT_DRAFT_PROPOSED"
	EventAssistantFinalApproved EventType = "ASSISTANT_FINAL_APPROVED"
	EventAssistantFinalDenied   EventType = "ASSISTANT_FINAL_DENIED"
	EventCustom                 EventType = "CUSTOM"
)

// ServerEvent is the sealed union of inbound events. Consumers dispatch with
// a type switch over the concrete types below.
type ServerEvent interface {
	Type() EventType
}

type RunStarted struct {
	ThreadID    string `json:"threadId"`
	RunID       string `json:"runId"`
	ParentRunID string `json:"parentRunId,omitempty"`
}

type RunStaged struct {
	ThreadID string          `json:"threadId"`
	RunID    string          `json:"runId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type RunStageApproved struct {
	ThreadID     string          `json:"threadId"`
	RunID        string          `json:"runId"`
	PayloadEdits json.RawMessage `json:"payloadEdits,omitempty"`
}

type RunStageDenied struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Reason   string `json:"reason,omitempty"`
}

type RunFinished struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

type RunError struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Message  string `json:"message,omitempty"`
}

type ToolCallProposed struct {
	ThreadID   string          `json:"threadId"`
	RunID      string          `json:"runId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Label      string          `json:"label,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

type ToolCallApproved struct {
	ThreadID     string          `json:"threadId"`
	RunID        string          `json:"runId"`
	ToolCallID   string          `json:"toolCallId"`
	ArgsOverride json.RawMessage `json:"argsOverride,omitempty"`
}

type ToolCallDenied struct {
	ThreadID   string `json:"threadId"`
	RunID      string `json:"runId"`
	ToolCallID string `json:"toolCallId"`
	Reason     string `json:"reason,omitempty"`
}

type ToolCallStarted struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Label      string          `json:"label,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

type ToolCallResult struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Label      string          `json:"label,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// TextMessageChunk is the only event with a required payload field; a frame
// of this type without a string delta is rejected by Decode.
type TextMessageChunk struct {
	Delta string `json:"delta"`
}

type AssistantDraftProposed struct {
	ThreadID  string          `json:"threadId"`
	RunID     string          `json:"runId"`
	DraftText string          `json:"draftText,omitempty"`
	DraftA2UI json.RawMessage `json:"draftA2ui,omitempty"`
}

type AssistantFinalApproved struct {
	ThreadID  string          `json:"threadId"`
	RunID     string          `json:"runId"`
	FinalText string          `json:"finalText,omitempty"`
	FinalA2UI json.RawMessage `json:"finalA2ui,omitempty"`
}

type AssistantFinalDenied struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Reason   string `json:"reason,omitempty"`
}

type Custom struct {
	Name  string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (RunStarted) Type() EventType             { return EventRunStarted }
func (RunStaged) Type() EventType              { return EventRunStaged }
func (RunStageApproved) Type() EventType       { return EventRunStageApproved }
func (RunStageDenied) Type() EventType         { return EventRunStageDenied }
func (RunFinished) Type() EventType            { return EventRunFinished }
func (RunError) Type() EventType               { return EventRunError }
func (ToolCallProposed) Type() EventType       { return EventToolCallProposed }
func (ToolCallApproved) Type() EventType       { return EventToolCallApproved }
func (ToolCallDenied) Type() EventType         { return EventToolCallDenied }
func (ToolCallStarted) Type() EventType        { return EventToolCallStarted }
func (ToolCallResult) Type() EventType         { return EventToolCallResult }
func (TextMessageChunk) Type() EventType       { return EventTextMessageChunk }
func (AssistantDraftProposed) Type() EventType { return EventAssistantDraftProposed }
func (AssistantFinalApproved) Type() EventType { return EventAssistantFinalApproved }
func (AssistantFinalDenied) Type() EventType   { return EventAssistantFinalDenied }
func (Custom) Type() EventType                 { return EventCustom }
