package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/basket/coachctl/internal/protocol"
)

func TestDecode_KnownEvent(t *testing.T) {
	raw := []byte(`{"type":"TOOL_CALL_PROPOSED","threadId":"t1","runId":"r1","toolCallId":"tc1","toolName":"search","args":{"q":"go"}}`)
	ev, ok := protocol.Decode(raw)
	if !ok {
		t.Fatalf("expected frame to decode")
	}
	proposed, ok := ev.(protocol.ToolCallProposed)
	if !ok {
		t.Fatalf("expected ToolCallProposed, got %T", ev)
	}
	if proposed.ToolCallID != "tc1" || proposed.ToolName != "search" {
		t.Fatalf("unexpected fields: %+v", proposed)
	}
	if proposed.Type() != protocol.EventToolCallProposed {
		t.Fatalf("unexpected type tag: %s", proposed.Type())
	}
}

func TestDecode_MalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{nope`},
		{"not an object", `[1,2,3]`},
		{"missing type", `{"threadId":"t1"}`},
		{"unknown type", `{"type":"SOMETHING_ELSE"}`},
		{"chunk without delta", `{"type":"TEXT_MESSAGE_CHUNK","threadId":"t1"}`},
		{"chunk with non-string delta", `{"type":"TEXT_MESSAGE_CHUNK","delta":7}`},
	}
	for _, tc := range cases {
		if ev, ok := protocol.Decode([]byte(tc.raw)); ok {
			t.Fatalf("%s: expected rejection, got %T", tc.name, ev)
		}
	}
}

func TestDecode_WrongTypedOptionalFieldTolerated(t *testing.T) {
	// A recognized event with a mistyped optional field still decodes; the
	// bad field stays zero and the rest come through.
	ev, ok := protocol.Decode([]byte(`{"type":"RUN_STARTED","threadId":123,"runId":"r1"}`))
	if !ok {
		t.Fatalf("expected frame to decode despite mistyped threadId")
	}
	started, ok := ev.(protocol.RunStarted)
	if !ok {
		t.Fatalf("expected RunStarted, got %T", ev)
	}
	if started.ThreadID != "" {
		t.Fatalf("mistyped field must stay zero, got %q", started.ThreadID)
	}
	if started.RunID != "r1" {
		t.Fatalf("well-typed fields must survive, got %q", started.RunID)
	}
}

func TestDecode_ChunkKeepsEmptyDelta(t *testing.T) {
	// An explicit empty string delta is a valid chunk, unlike a missing one.
	ev, ok := protocol.Decode([]byte(`{"type":"TEXT_MESSAGE_CHUNK","delta":""}`))
	if !ok {
		t.Fatalf("expected empty delta chunk to decode")
	}
	chunk := ev.(protocol.TextMessageChunk)
	if chunk.Delta != "" {
		t.Fatalf("unexpected delta %q", chunk.Delta)
	}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		ev   protocol.ServerEvent
		want string
	}{
		{protocol.ToolCallProposed{ToolName: "search"}, "(search)"},
		{protocol.ToolCallStarted{ToolName: "search"}, "(search)"},
		{protocol.AssistantDraftProposed{DraftText: "hello"}, "draft ready"},
		{protocol.RunError{Message: "boom"}, "boom"},
		{protocol.RunStarted{}, ""},
		{protocol.Custom{Name: " ping "}, "(ping)"},
	}
	for _, tc := range cases {
		if got := protocol.Summarize(tc.ev); got != tc.want {
			t.Fatalf("Summarize(%T) = %q, want %q", tc.ev, got, tc.want)
		}
	}
}

func TestPrettyJSON(t *testing.T) {
	if got := protocol.PrettyJSON(nil); got != "{}" {
		t.Fatalf("empty payload: got %q", got)
	}
	if got := protocol.PrettyJSON(json.RawMessage(`{"a":1}`)); got != "{\n  \"a\": 1\n}" {
		t.Fatalf("object payload: got %q", got)
	}
	if got := protocol.PrettyJSON(json.RawMessage(`{broken`)); got != "" {
		t.Fatalf("broken payload: got %q", got)
	}
}

func TestParseJSONObject(t *testing.T) {
	if got := protocol.ParseJSONObject(`{"a":1}`); got == nil || got["a"] != float64(1) {
		t.Fatalf("object: got %v", got)
	}
	for _, text := range []string{`{bad`, `[1]`, `"str"`, ``} {
		if got := protocol.ParseJSONObject(text); got != nil {
			t.Fatalf("%q: expected nil, got %v", text, got)
		}
	}
}

func TestDecisionJSONShape(t *testing.T) {
	d := protocol.ToolDeniedMsg("t1", "r1", "tc1")
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "TOOL_CALL_DENIED" || m["toolCallId"] != "tc1" {
		t.Fatalf("unexpected shape: %s", b)
	}
	if _, present := m["argsOverride"]; present {
		t.Fatalf("argsOverride must be omitted when empty: %s", b)
	}
	if _, present := m["finalText"]; present {
		t.Fatalf("finalText must be omitted when unset: %s", b)
	}
}
