package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"coach/internal/feedback"
	"coach/internal/model"
)

const DefaultRefresh = 100 * time.Millisecond

// Controller is the session surface the console needs.
type Controller interface {
	feedback.Target
	Summary() model.SessionSummary
}

type Options struct {
	Keys    feedback.KeyMap
	Refresh time.Duration
	Title   string
	// HelpStyle is a glamour standard style; "notty" renders without ANSI.
	HelpStyle string
}

type refreshMsg time.Time

// Model is the bubbletea model of the operator console: one panel per agent
// and key-driven feedback.
type Model struct {
	ctrl    Controller
	opts    Options
	spinner spinner.Model
	styles  styles

	summary    model.SessionSummary
	lastAction string
	lastErr    error
	showHelp   bool
	help       string
	width      int
	quitting   bool
}

type styles struct {
	title     lipgloss.Style
	panel     lipgloss.Style
	label     lipgloss.Style
	exploring lipgloss.Style
	learning  lipgloss.Style
	status    lipgloss.Style
	err       lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginRight(1),
		label:     lipgloss.NewStyle().Bold(true),
		exploring: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		learning:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		status:    lipgloss.NewStyle().Faint(true),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func New(ctrl Controller, opts Options) Model {
	summary := ctrl.Summary()
	if opts.Keys == nil {
		ids := make([]string, 0, len(summary.Agents))
		for _, a := range summary.Agents {
			ids = append(ids, a.AgentID)
		}
		opts.Keys = feedback.DefaultKeyMap(ids)
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.Title == "" {
		opts.Title = "coach"
	}
	if opts.HelpStyle == "" {
		opts.HelpStyle = "dark"
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctrl:    ctrl,
		opts:    opts,
		spinner: sp,
		styles:  defaultStyles(),
		summary: summary,
		help:    renderHelp(opts.Keys, opts.HelpStyle),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh(m.opts.Refresh))
}

func refresh(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case refreshMsg:
		m.summary = m.ctrl.Summary()
		return m, refresh(m.opts.Refresh)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	}
	b, err := m.opts.Keys.Press(m.ctrl, key)
	switch {
	case errors.Is(err, feedback.ErrUnboundKey):
		return m, nil
	case err != nil:
		m.lastErr = err
	default:
		m.lastErr = nil
		m.lastAction = fmt.Sprintf("%s %s", b.Verdict, b.AgentID)
		m.summary = m.ctrl.Summary()
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.title.Render(m.opts.Title))
	b.WriteString(m.styles.status.Render(fmt.Sprintf("  session %s  frame %s", shortID(m.summary.ID), humanize.Comma(m.summary.Frames))))
	b.WriteString("\n\n")

	panels := make([]string, 0, len(m.summary.Agents))
	for _, a := range m.summary.Agents {
		panels = append(panels, m.panel(a))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")

	switch {
	case m.lastErr != nil:
		b.WriteString(m.styles.err.Render("error: " + m.lastErr.Error()))
	case m.lastAction != "":
		b.WriteString(m.styles.status.Render("last: " + m.lastAction))
	}
	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help)
	} else {
		b.WriteString(m.styles.status.Render("? help  esc quit"))
	}
	return b.String()
}

func (m Model) panel(a model.AgentSummary) string {
	mode := m.styles.learning.Render("following model")
	if a.Exploring {
		mode = m.styles.exploring.Render("exploring")
	}
	training := "idle"
	switch {
	case a.Training:
		training = m.spinner.View() + " training"
	case a.Stopped:
		training = "converged"
	}
	approve, disapprove := m.opts.Keys.KeysFor(a.AgentID)
	lines := []string{
		m.styles.label.Render(a.AgentID),
		mode,
		fmt.Sprintf("keys     %s / %s", keyLabel(approve), keyLabel(disapprove)),
		fmt.Sprintf("feedback +%s -%s", humanize.Comma(int64(a.Approvals)), humanize.Comma(int64(a.Disapprovals))),
		fmt.Sprintf("replay   %s", humanize.Comma(int64(a.ReplaySize))),
		fmt.Sprintf("fits     %s", humanize.Comma(int64(a.Fits))),
		fmt.Sprintf("loss     %.4f", a.LossMovingAverage),
		training,
	}
	return m.styles.panel.Render(strings.Join(lines, "\n"))
}

func keyLabel(k string) string {
	if k == "" {
		return "-"
	}
	return k
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func helpMarkdown(keys feedback.KeyMap) string {
	var b strings.Builder
	b.WriteString("# Keys\n\n| key | agent | feedback |\n|---|---|---|\n")
	for _, k := range keys.Keys() {
		binding := keys[k]
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", k, binding.AgentID, binding.Verdict)
	}
	b.WriteString("\nDisapproval starts a random probe; approval ends it and keeps the recent frames. `?` closes this help, `esc` quits.\n")
	return b.String()
}

func renderHelp(keys feedback.KeyMap, style string) string {
	md := helpMarkdown(keys)
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(72))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// Run starts the console on the terminal and blocks until the operator quits
// or ctx ends.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	p := tea.NewProgram(New(ctrl, opts), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
