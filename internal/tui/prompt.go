// Package tui renders the interactive question prompt: the terminal
// implementation of the orchestrator's human-input channel.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/specflow/specflow/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// PromptModel walks the user through one batch of questions. Questions
// with options render as a selectable list (space toggles on
// multi-select); questions without options take free-form text input.
type PromptModel struct {
	questions []*models.Question
	answers   map[string][]string

	index    int
	cursor   int
	selected map[int]bool
	input    textinput.Model

	done     bool
	aborted  bool
	quitting bool
}

// NewPromptModel creates a prompt over the given questions.
func NewPromptModel(questions []*models.Question) *PromptModel {
	ti := textinput.New()
	ti.Placeholder = "Type an answer and press Enter..."
	ti.CharLimit = 500
	ti.Width = 60

	m := &PromptModel{
		questions: questions,
		answers:   make(map[string][]string, len(questions)),
		selected:  make(map[int]bool),
		input:     ti,
	}
	m.prepareQuestion()
	return m
}

// Answers returns the collected answers, keyed by question id.
func (m *PromptModel) Answers() map[string][]string {
	return m.answers
}

// Aborted reports whether the user quit without answering everything.
func (m *PromptModel) Aborted() bool {
	return m.aborted
}

// current returns the question being answered.
func (m *PromptModel) current() *models.Question {
	return m.questions[m.index]
}

// prepareQuestion resets per-question state when a new question shows.
func (m *PromptModel) prepareQuestion() {
	if m.index >= len(m.questions) {
		return
	}
	m.cursor = 0
	m.selected = make(map[int]bool)
	if len(m.current().Options) == 0 {
		m.input.Reset()
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// Init implements tea.Model.
func (m *PromptModel) Init() tea.Cmd {
	if len(m.current().Options) == 0 {
		return textinput.Blink
	}
	return nil
}

// Update implements tea.Model.
func (m *PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "esc":
		m.aborted = true
		m.quitting = true
		return m, tea.Quit
	}

	q := m.current()
	if len(q.Options) == 0 {
		return m.updateFreeForm(key)
	}
	return m.updateSelect(key, q)
}

// updateFreeForm handles a question answered by typed text.
func (m *PromptModel) updateFreeForm(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.String() == "enter" {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		return m.record([]string{text})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

// updateSelect handles a question answered by choosing options.
func (m *PromptModel) updateSelect(key tea.KeyMsg, q *models.Question) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(q.Options)-1 {
			m.cursor++
		}
	case " ":
		if q.MultiSelect {
			m.selected[m.cursor] = !m.selected[m.cursor]
		}
	case "enter":
		if !q.MultiSelect {
			return m.record([]string{q.Options[m.cursor].Label})
		}
		var labels []string
		for i, opt := range q.Options {
			if m.selected[i] {
				labels = append(labels, opt.Label)
			}
		}
		if len(labels) == 0 {
			labels = []string{q.Options[m.cursor].Label}
		}
		return m.record(labels)
	}
	return m, nil
}

// record stores the current question's answer and advances.
func (m *PromptModel) record(answer []string) (tea.Model, tea.Cmd) {
	m.answers[m.current().ID] = answer
	m.index++
	if m.index >= len(m.questions) {
		m.done = true
		m.quitting = true
		return m, tea.Quit
	}
	m.prepareQuestion()
	return m, nil
}

// View implements tea.Model.
func (m *PromptModel) View() string {
	if m.quitting {
		return ""
	}

	q := m.current()
	var b strings.Builder

	header := fmt.Sprintf("Question %d of %d", m.index+1, len(m.questions))
	if q.ShortLabel != "" {
		header += "  " + labelStyle.Render("["+q.ShortLabel+"]")
	}
	b.WriteString(helpStyle.Render(header))
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render(q.Text))
	b.WriteString("\n\n")

	if len(q.Options) == 0 {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter: submit • esc: abort"))
		return b.String()
	}

	for i, opt := range q.Options {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		label := opt.Label
		if q.MultiSelect {
			mark := "[ ]"
			if m.selected[i] {
				mark = "[x]"
			}
			label = mark + " " + label
		}
		if m.selected[i] {
			label = selectedStyle.Render(label)
		}
		b.WriteString(cursor + label + "\n")
		if opt.Description != "" {
			b.WriteString("    " + labelStyle.Render(opt.Description) + "\n")
		}
	}

	b.WriteString("\n")
	if q.MultiSelect {
		b.WriteString(helpStyle.Render("space: toggle • enter: confirm • esc: abort"))
	} else {
		b.WriteString(helpStyle.Render("enter: select • esc: abort"))
	}
	return b.String()
}

// Prompt is the terminal Asker: it runs the bubbletea prompt for each
// batch of questions the orchestrator surfaces.
type Prompt struct{}

// Ask presents the questions and returns the collected answers.
func (Prompt) Ask(ctx context.Context, questions []*models.Question) (map[string][]string, error) {
	model := NewPromptModel(questions)
	program := tea.NewProgram(model, tea.WithContext(ctx))

	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("run question prompt: %w", err)
	}

	result := final.(*PromptModel)
	if result.Aborted() {
		return nil, fmt.Errorf("question prompt aborted")
	}
	return result.Answers(), nil
}
