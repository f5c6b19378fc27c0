package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/labhub/uploadq/internal/queue"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		barWidth := msg.Width / 3
		if barWidth > 40 {
			barWidth = 40
		}
		if barWidth > 4 {
			m.bar.Width = barWidth
		}
		return m, nil

	case tasksMsg:
		m.tasks = msg
		m.net = m.queue.NetworkStats()
		m.clampCursor()
		return m, listenForActivity(m.events)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case "c":
		if t, ok := m.selected(); ok {
			m.queue.Cancel(t.ID)
		}

	case "r":
		if t, ok := m.selected(); ok && t.Status == queue.StatusFailed {
			m.queue.Retry(t.ID)
		}

	case "x":
		if t, ok := m.selected(); ok {
			m.queue.Remove(t.ID)
		}

	case "C":
		m.queue.ClearCompleted()

	case "+":
		m.queue.SetConcurrency(m.queue.Concurrency() + 1)

	case "-":
		m.queue.SetConcurrency(m.queue.Concurrency() - 1)

	case "a":
		// Apply the monitor's advisory concurrency.
		m.queue.SetConcurrency(m.net.RecommendedConcurrency)
	}

	return m, nil
}

func (m Model) selected() (queue.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return queue.Task{}, false
	}
	return m.tasks[m.cursor], true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.tasks) {
		m.cursor = len(m.tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
