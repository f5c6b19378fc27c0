package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/labhub/uploadq/internal/netmon"
	"github.com/labhub/uploadq/internal/queue"
)

const eventChannelBuffer = 256

// tasksMsg carries a fresh queue snapshot into the bubbletea loop.
type tasksMsg []queue.Task

// Model renders the live queue: one row per task with a progress bar, plus a
// status line with per-state counts and the link quality estimate.
type Model struct {
	queue  *queue.Queue
	tasks  []queue.Task
	net    netmon.Stats
	cursor int
	width  int
	height int
	bar    progress.Model

	events      chan tea.Msg
	unsubscribe func()
	quitting    bool
}

// NewModel builds a model subscribed to q. The subscription is released when
// the user quits.
func NewModel(q *queue.Queue) Model {
	events := make(chan tea.Msg, eventChannelBuffer)
	unsubscribe := q.Subscribe(func(tasks []queue.Task) {
		events <- tasksMsg(tasks)
	})
	return Model{
		queue:       q,
		tasks:       q.Tasks(),
		net:         q.NetworkStats(),
		bar:         progress.New(progress.WithDefaultGradient()),
		events:      events,
		unsubscribe: unsubscribe,
	}
}

func (m Model) Init() tea.Cmd {
	return listenForActivity(m.events)
}

func listenForActivity(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

// Run drives the TUI until the user quits.
func Run(q *queue.Queue) error {
	p := tea.NewProgram(NewModel(q), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
