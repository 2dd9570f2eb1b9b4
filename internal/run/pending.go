package run

import "encoding/json"

// StagedRun is a backend proposal awaiting approval before its run proceeds.
type StagedRun struct {
	ThreadID string
	RunID    string
	Payload  json.RawMessage
}

// DraftResponse is the agent's proposed final answer awaiting approval.
type DraftResponse struct {
	ThreadID  string
	RunID     string
	DraftText string
}

// ToolCallRequest is an agent tool invocation awaiting approval. ArgsText is
// the operator's edit buffer, seeded with the proposal's arguments; it is
// free-form text and only parsed at approval time.
type ToolCallRequest struct {
	ToolCallID string
	ToolName   string
	Label      string
	ArgsText   string
}

// Registry tracks the pending decisions of the active run: at most one
// staged run, at most one draft response, and any number of tool-call
// requests keyed by id. It is not safe for concurrent use on its own; the
// Controller's lock covers all access.
type Registry struct {
	staged     *StagedRun
	stagedEdit string

	draft     *DraftResponse
	draftEdit string

	tools map[string]*ToolCallRequest
	order []string
}

func newRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolCallRequest)}
}

func (r *Registry) SetStaged(s StagedRun, edit string) {
	r.staged = &s
	r.stagedEdit = edit
}

func (r *Registry) Staged() *StagedRun { return r.staged }

func (r *Registry) StagedEdit() string { return r.stagedEdit }

func (r *Registry) SetStagedEdit(text string) { r.stagedEdit = text }

func (r *Registry) ClearStaged() {
	r.staged = nil
	r.stagedEdit = ""
}

func (r *Registry) SetDraft(d DraftResponse) {
	r.draft = &d
	r.draftEdit = d.DraftText
}

func (r *Registry) Draft() *DraftResponse { return r.draft }

func (r *Registry) DraftEdit() string { return r.draftEdit }

func (r *Registry) SetDraftEdit(text string) { r.draftEdit = text }

func (r *Registry) ClearDraft() {
	r.draft = nil
	r.draftEdit = ""
}

// AddTool registers a pending request. A repeat proposal for an id that is
// already pending is a no-op; it reports whether the request was added.
func (r *Registry) AddTool(t ToolCallRequest) bool {
	if t.ToolCallID == "" {
		return false
	}
	if _, exists := r.tools[t.ToolCallID]; exists {
		return false
	}
	r.tools[t.ToolCallID] = &t
	r.order = append(r.order, t.ToolCallID)
	return true
}

func (r *Registry) RemoveTool(id string) {
	if _, exists := r.tools[id]; !exists {
		return
	}
	delete(r.tools, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// UpdateToolArgs replaces the edit buffer of a pending request by id.
func (r *Registry) UpdateToolArgs(id, text string) bool {
	t, ok := r.tools[id]
	if !ok {
		return false
	}
	t.ArgsText = text
	return true
}

func (r *Registry) Tool(id string) (ToolCallRequest, bool) {
	t, ok := r.tools[id]
	if !ok {
		return ToolCallRequest{}, false
	}
	return *t, true
}

// Tools returns the pending requests in proposal order.
func (r *Registry) Tools() []ToolCallRequest {
	out := make([]ToolCallRequest, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.tools[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

func (r *Registry) ClearTools() {
	r.tools = make(map[string]*ToolCallRequest)
	r.order = nil
}

// Empty reports whether nothing is awaiting a decision.
func (r *Registry) Empty() bool {
	return r.staged == nil && r.draft == nil && len(r.tools) == 0
}
