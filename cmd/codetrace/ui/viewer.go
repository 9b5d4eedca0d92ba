// Package ui implements the interactive trace viewer: a scrollable,
// filterable record list with per-tag coloring and call-depth
// indentation.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codetrace/internal/pipeline"
	"codetrace/internal/trace"
)

// Styles groups the viewer's lipgloss styles.
type Styles struct {
	Title    lipgloss.Style
	Status   lipgloss.Style
	ID       lipgloss.Style
	Call     lipgloss.Style
	Value    lipgloss.Style
	Control  lipgloss.Style
	Return   lipgloss.Style
	External lipgloss.Style
	Dim      lipgloss.Style
}

func defaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Status:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		ID:       lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Call:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Value:    lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		Control:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Return:   lipgloss.NewStyle().Foreground(lipgloss.Color("168")),
		External: lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Model is the bubbletea model for the trace viewer.
type Model struct {
	result *pipeline.Result
	styles Styles

	viewport  viewport.Model
	filter    textinput.Model
	filtering bool
	query     string

	visible []trace.Record
	width   int
	height  int
	ready   bool
}

// NewModel builds a viewer over one result document.
func NewModel(res *pipeline.Result) Model {
	ti := textinput.New()
	ti.Placeholder = "filter by type or subject"
	ti.Prompt = "/ "
	ti.CharLimit = 64

	m := Model{
		result: res,
		styles: defaultStyles(),
		filter: ti,
	}
	m.applyFilter("")
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(m.renderRecords())

	case tea.KeyMsg:
		if m.filtering {
			switch msg.Type {
			case tea.KeyEnter:
				m.filtering = false
				m.filter.Blur()
			case tea.KeyEsc:
				m.filtering = false
				m.filter.Blur()
				m.filter.SetValue("")
				m.applyFilter("")
				m.viewport.SetContent(m.renderRecords())
			default:
				var cmd tea.Cmd
				m.filter, cmd = m.filter.Update(msg)
				cmds = append(cmds, cmd)
				m.applyFilter(m.filter.Value())
				m.viewport.SetContent(m.renderRecords())
				m.viewport.GotoTop()
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "/":
			m.filtering = true
			cmds = append(cmds, m.filter.Focus())
			return m, tea.Batch(cmds...)
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m *Model) applyFilter(q string) {
	m.query = strings.ToLower(strings.TrimSpace(q))
	if m.query == "" {
		m.visible = m.result.Traces
		return
	}
	var out []trace.Record
	for _, r := range m.result.Traces {
		if strings.Contains(strings.ToLower(r.Type), m.query) ||
			strings.Contains(strings.ToLower(r.Subject), m.query) {
			out = append(out, r)
		}
	}
	m.visible = out
}

func (m *Model) headerView() string {
	name := m.result.Metadata["file_name"]
	title := m.styles.Title.Render(fmt.Sprintf("codetrace · %s", name))
	status := m.styles.Status.Render(fmt.Sprintf("%d/%d records · seed %s",
		len(m.visible), len(m.result.Traces), m.result.Seed))
	return title + "\n" + status
}

func (m *Model) footerView() string {
	if m.filtering {
		return m.filter.View() + "\n" + m.styles.Dim.Render("enter apply · esc clear")
	}
	help := "↑/↓ scroll · / filter · g/G top/bottom · q quit"
	scroll := fmt.Sprintf("%3.0f%%", m.viewport.ScrollPercent()*100)
	pad := m.width - lipgloss.Width(help) - lipgloss.Width(scroll)
	if pad < 1 {
		pad = 1
	}
	return m.styles.Dim.Render(help+strings.Repeat(" ", pad)+scroll) + "\n"
}

func (m *Model) renderRecords() string {
	if len(m.visible) == 0 {
		return m.styles.Dim.Render("no records match")
	}
	var sb strings.Builder
	for i := range m.visible {
		sb.WriteString(m.renderRecord(&m.visible[i]))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderRecord(r *trace.Record) string {
	indent := strings.Repeat("  ", r.Depth()+1)

	var style lipgloss.Style
	switch r.Type {
	case trace.TagCall:
		style = m.styles.Call
	case trace.TagExternalCall:
		style = m.styles.External
	case trace.TagReturn:
		style = m.styles.Return
	case trace.TagLoop, trace.TagBranch, trace.TagCondition,
		trace.TagSwitch, trace.TagCase, trace.TagTernary:
		style = m.styles.Control
	default:
		style = m.styles.Value
	}

	var detail []string
	if r.Subject != "" {
		detail = append(detail, r.Subject)
	}
	if r.Value != "" {
		detail = append(detail, "= "+r.Value)
	}
	if r.Condition != "" {
		outcome := ""
		if r.ConditionResult != nil {
			outcome = fmt.Sprintf(" → %d", *r.ConditionResult)
		}
		detail = append(detail, fmt.Sprintf("[%s%s]", r.Condition, outcome))
	}
	if len(r.Args) > 0 {
		detail = append(detail, "("+strings.Join(r.Args, ", ")+")")
	}

	line := ""
	if r.LineNumber > 0 {
		line = m.styles.Dim.Render(fmt.Sprintf("  :%d", r.LineNumber))
	}

	return fmt.Sprintf("%s%s %s%s",
		m.styles.ID.Render(fmt.Sprintf("%4d ", r.ID)),
		indent+style.Render(r.Type),
		strings.Join(detail, " "),
		line)
}
