// Package tui is the operator console: a chat transcript plus, in audit
// mode, the pending-approvals pane and the event timeline.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/coachctl/internal/policy"
	"github.com/basket/coachctl/internal/run"
	"github.com/basket/coachctl/internal/session"
	"github.com/basket/coachctl/internal/timeline"
)

// Config wires the console to the running pieces.
type Config struct {
	Ctl      *run.Controller
	Live     *policy.Live // nil outside audit mode
	Timeline *timeline.Recorder
	Audit    bool

	// ConnState reports the transport state for the header.
	ConnState func() session.State

	// Reconnect opens a fresh connection after the current one is lost.
	// The old one is never reused.
	Reconnect func() error
}

type stateChangedMsg struct{}

type sessionDoneMsg struct {
	err error
}

type spinnerTickMsg struct{}

type focusArea int

const (
	focusComposer focusArea = iota
	focusApprovals
)

// approvalKind orders the selectable items in the approvals pane.
type approvalKind int

const (
	approvalStage approvalKind = iota
	approvalTool
	approvalDraft
)

type approvalItem struct {
	kind       approvalKind
	toolCallID string
	title      string
	editText   string
}

type consoleModel struct {
	ctx context.Context
	cfg Config

	width  int
	height int

	input  []rune
	cursor int

	focus      focusArea
	selected   int
	editing    bool
	editBuf    string
	spinnerIdx int

	showTimeline bool
	connErr      string
}

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	selectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
)

// Console owns the bubbletea program.
type Console struct {
	prog *tea.Program
}

func New(ctx context.Context, cfg Config) *Console {
	m := consoleModel{ctx: ctx, cfg: cfg, showTimeline: cfg.Audit}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	return &Console{prog: p}
}

// Run drives the console until quit. Restores the terminal best-effort even
// on an unclean exit.
func (c *Console) Run() error {
	defer bestEffortResetTTY()
	_, err := c.prog.Run()
	return err
}

// Notify asks the console to repaint; safe from any goroutine.
func (c *Console) Notify() {
	c.prog.Send(stateChangedMsg{})
}

// SessionClosed tells the console the transport is gone.
func (c *Console) SessionClosed(err error) {
	c.prog.Send(sessionDoneMsg{err: err})
}

func (m consoleModel) Init() tea.Cmd {
	return waitForSpinner()
}

func waitForSpinner() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case stateChangedMsg:
		return m, nil

	case sessionDoneMsg:
		if msg.err != nil {
			m.connErr = msg.err.Error()
		}
		return m, nil

	case spinnerTickMsg:
		m.spinnerIdx++
		return m, waitForSpinner()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m consoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		return m.handleEditKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit

	case "ctrl+r":
		if m.cfg.Reconnect != nil {
			m.connErr = ""
			if err := m.cfg.Reconnect(); err != nil {
				m.connErr = err.Error()
			}
		}
		return m, nil

	case "ctrl+t":
		m.showTimeline = !m.showTimeline
		return m, nil

	case "tab":
		if m.cfg.Audit {
			if m.focus == focusComposer {
				m.focus = focusApprovals
			} else {
				m.focus = focusComposer
			}
			m.selected = 0
		}
		return m, nil

	case "f2", "f3", "f4":
		m.togglePolicy(msg.String())
		return m, nil
	}

	if m.focus == focusApprovals {
		return m.handleApprovalKey(msg)
	}
	return m.handleComposerKey(msg)
}

// togglePolicy flips one auto-approve switch: F2 stage, F3 tool calls,
// F4 assistant response.
func (m consoleModel) togglePolicy(key string) {
	if m.cfg.Live == nil {
		return
	}
	next := m.cfg.Live.Snapshot()
	switch key {
	case "f2":
		next.AutoApproveStage = !next.AutoApproveStage
	case "f3":
		next.AutoApproveToolCalls = !next.AutoApproveToolCalls
	case "f4":
		next.AutoApproveAssistant = !next.AutoApproveAssistant
	}
	_ = m.cfg.Live.Set(next)
}

func (m consoleModel) handleComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "ctrl+m", "ctrl+j":
		line := strings.TrimSpace(string(m.input))
		m.input = nil
		m.cursor = 0
		if line == "" {
			return m, nil
		}
		m.cfg.Ctl.SendUserMessage(m.ctx, line)
		return m, nil

	case "backspace":
		m.input, m.cursor = deleteRuneLeft(m.input, m.cursor)
		return m, nil
	case "left":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "right":
		if m.cursor < len(m.input) {
			m.cursor++
		}
		return m, nil
	case "home", "ctrl+a":
		m.cursor = 0
		return m, nil
	case "end", "ctrl+e":
		m.cursor = len(m.input)
		return m, nil
	case "ctrl+u":
		m.input = nil
		m.cursor = 0
		return m, nil
	case " ":
		m.input, m.cursor = insertRunes(m.input, m.cursor, []rune{' '})
		return m, nil
	}

	if msg.Type == tea.KeyRunes && len(msg.Runes) > 0 {
		filtered := make([]rune, 0, len(msg.Runes))
		for _, r := range msg.Runes {
			if r == '\r' || r == '\n' || r < 0x20 {
				continue
			}
			filtered = append(filtered, r)
		}
		if len(filtered) > 0 {
			m.input, m.cursor = insertRunes(m.input, m.cursor, filtered)
		}
	}
	return m, nil
}

func (m consoleModel) handleApprovalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := m.approvalItems()
	if len(items) == 0 {
		m.focus = focusComposer
		return m.handleComposerKey(msg)
	}
	if m.selected >= len(items) {
		m.selected = len(items) - 1
	}
	item := items[m.selected]

	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(items)-1 {
			m.selected++
		}
	case "a":
		m.decide(item, true, false)
	case "A":
		m.decide(item, true, true)
	case "d":
		m.decide(item, false, false)
	case "e", "enter":
		m.editing = true
		m.editBuf = item.editText
	}
	return m, nil
}

// decide routes an approval-pane action to the controller.
func (m consoleModel) decide(item approvalItem, approve, useEdits bool) {
	switch item.kind {
	case approvalStage:
		if approve {
			m.cfg.Ctl.ApproveStage(m.ctx, useEdits)
		} else {
			m.cfg.Ctl.DenyStage(m.ctx)
		}
	case approvalTool:
		if approve {
			m.cfg.Ctl.ApproveTool(m.ctx, item.toolCallID)
		} else {
			m.cfg.Ctl.DenyTool(m.ctx, item.toolCallID)
		}
	case approvalDraft:
		if approve {
			m.cfg.Ctl.ApproveDraft(m.ctx, useEdits)
		} else {
			m.cfg.Ctl.DenyDraft(m.ctx)
		}
	}
}

func (m consoleModel) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.editing = false
		m.editBuf = ""
		return m, nil
	case "enter":
		items := m.approvalItems()
		if m.selected < len(items) {
			m.commitEdit(items[m.selected])
		}
		m.editing = false
		m.editBuf = ""
		return m, nil
	case "backspace":
		if len(m.editBuf) > 0 {
			r := []rune(m.editBuf)
			m.editBuf = string(r[:len(r)-1])
		}
		return m, nil
	case "tab":
		m.editBuf += "  "
		return m, nil
	case " ":
		m.editBuf += " "
		return m, nil
	}
	if msg.Type == tea.KeyRunes {
		m.editBuf += string(msg.Runes)
	}
	return m, nil
}

func (m consoleModel) commitEdit(item approvalItem) {
	switch item.kind {
	case approvalStage:
		m.cfg.Ctl.UpdateStagedEdit(m.editBuf)
	case approvalTool:
		m.cfg.Ctl.UpdateToolEdit(item.toolCallID, m.editBuf)
	case approvalDraft:
		m.cfg.Ctl.UpdateDraftEdit(m.editBuf)
	}
}

// approvalItems flattens the registry snapshot: staged run first, then tool
// calls in proposal order, then the draft.
func (m consoleModel) approvalItems() []approvalItem {
	snap := m.cfg.Ctl.Snapshot()
	var items []approvalItem
	if snap.Staged != nil {
		items = append(items, approvalItem{
			kind:     approvalStage,
			title:    "Staged run " + shortID(snap.Staged.RunID),
			editText: snap.Staged.EditText,
		})
	}
	for _, t := range snap.Tools {
		title := t.ToolName
		if t.Label != "" {
			title = t.ToolName + " (" + t.Label + ")"
		}
		items = append(items, approvalItem{
			kind:       approvalTool,
			toolCallID: t.ToolCallID,
			title:      title,
			editText:   t.ArgsText,
		})
	}
	if snap.Draft != nil {
		items = append(items, approvalItem{
			kind:     approvalDraft,
			title:    "Draft response",
			editText: snap.Draft.EditText,
		})
	}
	return items
}

func (m consoleModel) View() string {
	snap := m.cfg.Ctl.Snapshot()
	var b strings.Builder

	b.WriteString(m.headerLine(snap))
	b.WriteString("\n\n")

	// Transcript, clipped to what fits above the panes.
	lines := m.transcriptLines(snap)
	available := m.height - 8
	if m.cfg.Audit {
		available -= 6
	}
	if available < 3 {
		available = 3
	}
	if len(lines) > available {
		lines = lines[len(lines)-available:]
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if snap.Working {
		spin := []string{"|", "/", "-", "\\"}[m.spinnerIdx%4]
		status := snap.Status
		if status == "" {
			status = "agent is working…"
		}
		b.WriteString(dimStyle.Render(spin+" "+status) + "\n")
	} else if snap.Status != "" {
		b.WriteString(dimStyle.Render(snap.Status) + "\n")
	} else {
		b.WriteString("\n")
	}

	if m.cfg.Audit {
		b.WriteString(m.approvalsPane())
	}
	if m.showTimeline {
		b.WriteString(m.timelinePane())
	}

	if m.editing {
		b.WriteString(pendStyle.Render("edit> ") + m.editBuf + "▌\n")
		b.WriteString(dimStyle.Render("enter: save · esc: cancel") + "\n")
	} else {
		b.WriteString("> " + renderCursor(string(m.input), m.cursor) + "\n")
		b.WriteString(dimStyle.Render(m.helpLine()) + "\n")
	}

	if m.connErr != "" {
		b.WriteString(errorStyle.Render("connection: "+m.connErr) + "\n")
	}
	return b.String()
}

func (m consoleModel) headerLine(snap run.Snapshot) string {
	state := session.StateDisconnected
	if m.cfg.ConnState != nil {
		state = m.cfg.ConnState()
	}
	mode := "chat"
	if m.cfg.Audit {
		mode = "audit"
	}
	head := fmt.Sprintf("coachctl [%s] %s  thread %s", mode, state, shortID(snap.ThreadID))
	if m.cfg.Live != nil {
		p := m.cfg.Live.Snapshot()
		head += "  " + dimStyle.Render(fmt.Sprintf("auto stage:%s tools:%s reply:%s",
			onOff(p.AutoApproveStage), onOff(p.AutoApproveToolCalls), onOff(p.AutoApproveAssistant)))
	}
	return head
}

func (m consoleModel) helpLine() string {
	if !m.cfg.Audit {
		return "enter: send · ctrl+r: reconnect · ctrl+c: quit"
	}
	if m.focus == focusApprovals {
		return "a: approve · A: approve with edits · d: deny · e: edit · tab: composer"
	}
	return "enter: send · tab: approvals · F2/F3/F4: policy · ctrl+t: timeline · ctrl+r: reconnect"
}

func (m consoleModel) transcriptLines(snap run.Snapshot) []string {
	var lines []string
	for _, msg := range snap.Messages {
		prefix := "agent: "
		text := msg.Text
		style := lipgloss.NewStyle()
		if msg.Role == run.RoleUser {
			prefix = "you:   "
			style = userStyle
		} else if strings.HasPrefix(text, "Error: ") {
			style = errorStyle
		}
		for _, l := range wrap(text, m.width-len(prefix)) {
			lines = append(lines, style.Render(prefix+l))
			prefix = "       "
		}
	}
	return lines
}

func (m consoleModel) approvalsPane() string {
	items := m.approvalItems()
	var b strings.Builder
	b.WriteString(pendStyle.Render(fmt.Sprintf("── pending decisions (%d) ──", len(items))) + "\n")
	if len(items) == 0 {
		b.WriteString(dimStyle.Render("  nothing awaiting approval") + "\n")
		return b.String()
	}
	for i, item := range items {
		marker := "  "
		style := lipgloss.NewStyle()
		if m.focus == focusApprovals && i == m.selected {
			marker = "> "
			style = selectStyle
		}
		b.WriteString(style.Render(marker+item.title) + "\n")
		if m.focus == focusApprovals && i == m.selected {
			for _, l := range wrap(item.editText, m.width-4) {
				b.WriteString(dimStyle.Render("    "+l) + "\n")
			}
		}
	}
	return b.String()
}

func (m consoleModel) timelinePane() string {
	if m.cfg.Timeline == nil {
		return ""
	}
	entries := m.cfg.Timeline.Entries()
	const tail = 6
	if len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("── timeline ──") + "\n")
	for _, e := range entries {
		line := fmt.Sprintf("  %s %s", e.Timestamp, e.EventType)
		if e.Summary != "" {
			line += " " + e.Summary
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func wrap(text string, width int) []string {
	if width < 10 {
		width = 10
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > width {
			out = append(out, line[:width])
			line = line[width:]
		}
		out = append(out, line)
	}
	return out
}

func renderCursor(s string, cursor int) string {
	r := []rune(s)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(r) {
		cursor = len(r)
	}
	return string(r[:cursor]) + "▌" + string(r[cursor:])
}

func insertRunes(in []rune, cursor int, r []rune) ([]rune, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := make([]rune, 0, len(in)+len(r))
	out = append(out, in[:cursor]...)
	out = append(out, r...)
	out = append(out, in[cursor:]...)
	return out, cursor + len(r)
}

func deleteRuneLeft(in []rune, cursor int) ([]rune, int) {
	if cursor <= 0 || len(in) == 0 {
		return in, 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := append([]rune(nil), in[:cursor-1]...)
	out = append(out, in[cursor:]...)
	return out, cursor - 1
}
