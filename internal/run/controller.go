// Package run implements the per-connection approval state machine. The
// controller consumes decoded server events in transport delivery order,
// records each on the timeline, consults the auto-approval policy, and
// either resolves a decision point immediately or parks it in the
// pending-decision registry for the operator.
package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/coachctl/internal/policy"
	"github.com/basket/coachctl/internal/protocol"
	"github.com/basket/coachctl/internal/timeline"
)

// fallbackRunError is shown when RUN_ERROR arrives without a message.
const fallbackRunError = "Run failed"

// ackSentinel is a throwaway acknowledgement some backends emit after tool
// use. A chunk that is exactly this text, in a run that already ran a tool
// but has shown no assistant text, is deliberately filtered out of the
// transcript. This is console policy, not protocol: a backend could in
// principle send a meaningful chunk that collides with the sentinel.
const ackSentinel = "OK."

// Role tags a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	Role Role
	Text string
}

// Sender carries outbound frames to the backend.
type Sender interface {
	Send(ctx context.Context, v any) error
}

type runRef struct {
	threadID string
	runID    string
}

// Config wires a Controller. Sender and Timeline are required; the rest
// default sensibly.
type Config struct {
	Sender   Sender
	Policy   policy.Source
	Timeline *timeline.Recorder
	Logger   *slog.Logger
	Metrics  *Metrics
	Tracer   trace.Tracer

	// Audit attaches the policy snapshot to outbound run envelopes. The
	// plain console leaves it off.
	Audit bool

	// OnChange fires after any observable state change, outside the
	// controller lock. The TUI uses it to repaint.
	OnChange func()
}

// Controller is the run state machine. One event is processed at a time;
// the single mutex serializes the transport read loop against operator
// actions from the UI goroutine.
type Controller struct {
	mu sync.Mutex

	sender   Sender
	policy   policy.Source
	timeline *timeline.Recorder
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	audit    bool
	onChange func()

	threadID string // caller-held default thread id, fresh per connection
	active   runRef

	registry *Registry
	messages []ChatMessage

	working bool
	status  string

	runHasToolCalls     bool
	runHasAssistantText bool

	runSpan trace.Span
}

func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.Static(policy.Default())
	}
	rec := cfg.Timeline
	if rec == nil {
		rec = timeline.New()
	}
	return &Controller{
		sender:   cfg.Sender,
		policy:   pol,
		timeline: rec,
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		audit:    cfg.Audit,
		onChange: cfg.OnChange,
		threadID: uuid.NewString(),
		registry: newRegistry(),
	}
}

// Reset discards all per-connection state and starts a fresh thread. Called
// when a connection (re)opens; a lost run's pending decisions are simply
// gone.
func (c *Controller) Reset(sender Sender) {
	c.mu.Lock()
	c.sender = sender
	c.threadID = uuid.NewString()
	c.active = runRef{}
	c.registry = newRegistry()
	c.messages = nil
	c.working = false
	c.status = ""
	c.runHasToolCalls = false
	c.runHasAssistantText = false
	c.endRunSpan(codes.Unset, "")
	c.timeline.Reset()
	c.mu.Unlock()
	c.changed()
}

// HandleFrame feeds one raw inbound frame through the codec and, if it
// decodes, the dispatch table. Malformed frames leave no trace, not even a
// timeline entry.
func (c *Controller) HandleFrame(ctx context.Context, raw []byte) {
	ev, ok := protocol.Decode(raw)
	if !ok {
		return
	}
	c.mu.Lock()
	c.timeline.Record(string(ev.Type()), protocol.Summarize(ev))
	c.metrics.countEvent(ctx, string(ev.Type()))
	c.dispatch(ctx, ev)
	c.mu.Unlock()
	c.changed()
}

// dispatch handles exactly one accepted event. Every member of the
// vocabulary has a case; adding an event type means adding a case here.
func (c *Controller) dispatch(ctx context.Context, ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case protocol.RunStarted:
		c.working = true
		c.status = ""
		c.runHasToolCalls = false
		c.runHasAssistantText = false
		if e.ThreadID != "" && e.RunID != "" {
			c.active = runRef{threadID: e.ThreadID, runID: e.RunID}
		}
		c.startRunSpan(ctx, e.ThreadID, e.RunID)

	case protocol.RunFinished:
		c.working = false
		c.status = ""
		// Finishing a run invalidates every pending decision, not just
		// tool calls: a staged run or draft the operator never resolved
		// belongs to no run once the active run clears.
		c.registry.ClearStaged()
		c.registry.ClearTools()
		c.registry.ClearDraft()
		c.active = runRef{}
		c.endRunSpan(codes.Ok, "")

	case protocol.RunError:
		c.working = false
		c.status = ""
		msg := e.Message
		if msg == "" {
			msg = fallbackRunError
		}
		c.messages = append(c.messages, ChatMessage{Role: RoleAssistant, Text: "Error: " + msg})
		c.endRunSpan(codes.Error, msg)

	case protocol.RunStaged:
		t := e.ThreadID
		if t == "" {
			t = c.threadID
		}
		staged := StagedRun{ThreadID: t, RunID: e.RunID, Payload: e.Payload}
		c.registry.SetStaged(staged, protocol.PrettyJSON(e.Payload))
		c.working = true
		c.active = runRef{threadID: t, runID: e.RunID}
		if c.policy.Snapshot().AutoApproveStage {
			c.send(ctx, protocol.StageApprovedMsg(t, e.RunID, nil))
			c.metrics.countDecision(ctx, "stage", "approve", true)
		}

	case protocol.RunStageApproved:
		c.registry.ClearStaged()

	case protocol.RunStageDenied:
		c.registry.ClearStaged()

	case protocol.ToolCallProposed:
		if e.ToolCallID == "" || e.ToolName == "" {
			return
		}
		c.runHasToolCalls = true
		if c.policy.Snapshot().AutoApproveToolCalls {
			t, r := c.decisionRun(e.ThreadID, e.RunID)
			c.send(ctx, protocol.ToolApprovedMsg(t, r, e.ToolCallID, nil))
			c.metrics.countDecision(ctx, "tool", "approve", true)
			return
		}
		c.registry.AddTool(ToolCallRequest{
			ToolCallID: e.ToolCallID,
			ToolName:   e.ToolName,
			Label:      e.Label,
			ArgsText:   protocol.PrettyJSON(e.Args),
		})

	case protocol.ToolCallApproved:
		if e.ToolCallID != "" {
			c.registry.RemoveTool(e.ToolCallID)
		}

	case protocol.ToolCallDenied:
		if e.ToolCallID != "" {
			c.registry.RemoveTool(e.ToolCallID)
		}

	case protocol.ToolCallStarted:
		if e.ToolName != "" {
			c.runHasToolCalls = true
			c.status = runningStatus(e.ToolName, e.Label)
		}

	case protocol.ToolCallResult:
		if e.ToolName != "" {
			c.runHasToolCalls = true
			c.status = doneStatus(e.ToolName, e.Label)
		}

	case protocol.AssistantDraftProposed:
		t := e.ThreadID
		if t == "" {
			t = c.threadID
		}
		if c.policy.Snapshot().AutoApproveAssistant {
			c.send(ctx, protocol.FinalApprovedMsg(t, e.RunID, nil))
			c.metrics.countDecision(ctx, "draft", "approve", true)
			return
		}
		c.registry.SetDraft(DraftResponse{ThreadID: t, RunID: e.RunID, DraftText: e.DraftText})

	case protocol.AssistantFinalApproved:
		c.registry.ClearDraft()

	case protocol.AssistantFinalDenied:
		c.registry.ClearDraft()

	case protocol.TextMessageChunk:
		c.working = false
		if strings.TrimSpace(e.Delta) == ackSentinel && c.runHasToolCalls && !c.runHasAssistantText {
			return
		}
		c.runHasAssistantText = true
		c.messages = append(c.messages, ChatMessage{Role: RoleAssistant, Text: e.Delta})

	case protocol.Custom:
		// Timeline only; carries no console behavior.
	}
}

// SendUserMessage normalizes and sends one operator message, starting a new
// run on the connection's thread. Blank input sends nothing.
func (c *Controller) SendUserMessage(ctx context.Context, text string) {
	normalized := strings.TrimRightFunc(strings.ReplaceAll(text, "\r\n", "\n"), unicode.IsSpace)
	if strings.TrimSpace(normalized) == "" {
		return
	}

	c.mu.Lock()
	c.messages = append(c.messages, ChatMessage{Role: RoleUser, Text: normalized})
	c.working = true

	env := protocol.RunEnvelope{
		ThreadID: c.threadID,
		RunID:    uuid.NewString(),
		Message:  normalized,
	}
	if c.audit {
		env.ForwardedProps = map[string]any{"auditPolicy": c.policy.Snapshot()}
	}
	c.send(ctx, env)
	c.mu.Unlock()
	c.changed()
}

// ApproveStage approves the pending staged run. With useEdits the operator's
// edit buffer is parsed as a JSON object and its message/context fields ride
// along; unparsable edits degrade to an approval with no edits.
func (c *Controller) ApproveStage(ctx context.Context, useEdits bool) {
	c.mu.Lock()
	staged := c.registry.Staged()
	if staged == nil {
		c.mu.Unlock()
		return
	}
	var edits *protocol.StagePayloadEdits
	if useEdits {
		edits = stageEditsFrom(c.registry.StagedEdit())
	}
	c.send(ctx, protocol.StageApprovedMsg(staged.ThreadID, staged.RunID, edits))
	c.metrics.countDecision(ctx, "stage", "approve", false)
	c.mu.Unlock()
	c.changed()
}

// DenyStage denies the pending staged run.
func (c *Controller) DenyStage(ctx context.Context) {
	c.mu.Lock()
	staged := c.registry.Staged()
	if staged == nil {
		c.mu.Unlock()
		return
	}
	c.send(ctx, protocol.StageDeniedMsg(staged.ThreadID, staged.RunID))
	c.metrics.countDecision(ctx, "stage", "deny", false)
	c.mu.Unlock()
	c.changed()
}

// ApproveTool approves one pending tool call by id. Its edit buffer is
// parsed as a JSON argument override; invalid JSON means no override, never
// a blocked approval.
func (c *Controller) ApproveTool(ctx context.Context, toolCallID string) {
	if toolCallID == "" {
		return
	}
	c.mu.Lock()
	tool, ok := c.registry.Tool(toolCallID)
	if !ok {
		c.mu.Unlock()
		return
	}
	override := protocol.ParseJSONObject(tool.ArgsText)
	t, r := c.decisionRun("", "")
	c.send(ctx, protocol.ToolApprovedMsg(t, r, toolCallID, override))
	c.metrics.countDecision(ctx, "tool", "approve", false)
	c.mu.Unlock()
	c.changed()
}

// DenyTool denies one pending tool call by id.
func (c *Controller) DenyTool(ctx context.Context, toolCallID string) {
	if toolCallID == "" {
		return
	}
	c.mu.Lock()
	if _, ok := c.registry.Tool(toolCallID); !ok {
		c.mu.Unlock()
		return
	}
	t, r := c.decisionRun("", "")
	c.send(ctx, protocol.ToolDeniedMsg(t, r, toolCallID))
	c.metrics.countDecision(ctx, "tool", "deny", false)
	c.mu.Unlock()
	c.changed()
}

// ApproveDraft approves the pending draft response, optionally substituting
// the operator-edited text.
func (c *Controller) ApproveDraft(ctx context.Context, useEdits bool) {
	c.mu.Lock()
	draft := c.registry.Draft()
	if draft == nil {
		c.mu.Unlock()
		return
	}
	var finalText *string
	if useEdits {
		edited := c.registry.DraftEdit()
		finalText = &edited
	}
	c.send(ctx, protocol.FinalApprovedMsg(draft.ThreadID, draft.RunID, finalText))
	c.metrics.countDecision(ctx, "draft", "approve", false)
	c.mu.Unlock()
	c.changed()
}

// DenyDraft denies the pending draft response.
func (c *Controller) DenyDraft(ctx context.Context) {
	c.mu.Lock()
	draft := c.registry.Draft()
	if draft == nil {
		c.mu.Unlock()
		return
	}
	c.send(ctx, protocol.FinalDeniedMsg(draft.ThreadID, draft.RunID))
	c.metrics.countDecision(ctx, "draft", "deny", false)
	c.mu.Unlock()
	c.changed()
}

// UpdateToolEdit replaces the edit buffer of a pending tool call.
func (c *Controller) UpdateToolEdit(toolCallID, text string) {
	c.mu.Lock()
	c.registry.UpdateToolArgs(toolCallID, text)
	c.mu.Unlock()
	c.changed()
}

// UpdateStagedEdit replaces the staged-run edit buffer.
func (c *Controller) UpdateStagedEdit(text string) {
	c.mu.Lock()
	c.registry.SetStagedEdit(text)
	c.mu.Unlock()
	c.changed()
}

// UpdateDraftEdit replaces the draft-response edit buffer.
func (c *Controller) UpdateDraftEdit(text string) {
	c.mu.Lock()
	c.registry.SetDraftEdit(text)
	c.mu.Unlock()
	c.changed()
}

// StagedView, DraftView and Snapshot expose read-only copies for display.
type StagedView struct {
	ThreadID string
	RunID    string
	EditText string
}

type DraftView struct {
	ThreadID  string
	RunID     string
	DraftText string
	EditText  string
}

type Snapshot struct {
	ThreadID    string
	ActiveRunID string
	Working     bool
	Status      string
	Messages    []ChatMessage
	Staged      *StagedView
	Draft       *DraftView
	Tools       []ToolCallRequest
}

// Snapshot copies the observable state under the lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ThreadID:    c.threadID,
		ActiveRunID: c.active.runID,
		Working:     c.working,
		Status:      c.status,
		Messages:    append([]ChatMessage(nil), c.messages...),
		Tools:       c.registry.Tools(),
	}
	if staged := c.registry.Staged(); staged != nil {
		s.Staged = &StagedView{ThreadID: staged.ThreadID, RunID: staged.RunID, EditText: c.registry.StagedEdit()}
	}
	if draft := c.registry.Draft(); draft != nil {
		s.Draft = &DraftView{ThreadID: draft.ThreadID, RunID: draft.RunID, DraftText: draft.DraftText, EditText: c.registry.DraftEdit()}
	}
	return s
}

// SetOnChange replaces the change callback, e.g. once the UI program
// exists.
func (c *Controller) SetOnChange(f func()) {
	c.mu.Lock()
	c.onChange = f
	c.mu.Unlock()
}

// ThreadID returns the connection's thread id.
func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// decisionRun resolves the run an outbound decision belongs to: the event's
// own ids when present, then the active run, then the caller-held default
// thread id.
func (c *Controller) decisionRun(threadID, runID string) (string, string) {
	t := threadID
	if t == "" {
		t = c.active.threadID
	}
	if t == "" {
		t = c.threadID
	}
	r := runID
	if r == "" {
		r = c.active.runID
	}
	return t, r
}

func (c *Controller) send(ctx context.Context, v any) {
	if c.sender == nil {
		return
	}
	if err := c.sender.Send(ctx, v); err != nil {
		c.logger.Warn("outbound send failed", "error", err)
	}
}

func (c *Controller) changed() {
	c.mu.Lock()
	f := c.onChange
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *Controller) startRunSpan(ctx context.Context, threadID, runID string) {
	if c.tracer == nil {
		return
	}
	c.endRunSpan(codes.Unset, "")
	_, span := c.tracer.Start(ctx, "coachctl.run",
		trace.WithAttributes(
			attribute.String("coachctl.thread.id", threadID),
			attribute.String("coachctl.run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	c.runSpan = span
}

func (c *Controller) endRunSpan(code codes.Code, desc string) {
	if c.runSpan == nil {
		return
	}
	c.runSpan.SetStatus(code, desc)
	c.runSpan.End()
	c.runSpan = nil
}

// runningStatus is the progress line shown while a tool executes; the
// event's human label wins over the generated one.
func runningStatus(toolName, label string) string {
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		return trimmed
	}
	return "Running " + toolName + "…"
}

// doneStatus is the progress line shown once a tool finishes.
func doneStatus(toolName, label string) string {
	base := strings.TrimSpace(label)
	if base != "" {
		base = strings.TrimRight(base, ".…")
	} else {
		base = "Running " + toolName
	}
	return base + " done."
}

// stageEditsFrom extracts the message/context substitutions from the staged
// edit buffer. Anything other than a JSON object degrades to no edits.
func stageEditsFrom(text string) *protocol.StagePayloadEdits {
	obj := protocol.ParseJSONObject(text)
	if obj == nil {
		return nil
	}
	edits := &protocol.StagePayloadEdits{}
	if msg, ok := obj["message"].(string); ok {
		edits.Message = &msg
	}
	if rawCtx, ok := obj["context"]; ok {
		if _, isObj := rawCtx.(map[string]any); isObj {
			if b, err := json.Marshal(rawCtx); err == nil {
				edits.Context = b
			}
		}
	}
	return edits
}
