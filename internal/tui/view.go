package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/labhub/uploadq/internal/queue"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("uploadq"))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(helpStyle.Render("  nothing queued"))
		b.WriteString("\n")
	}

	for i, t := range m.tasks {
		b.WriteString(m.renderRow(i, t))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  ↑/↓ select · c cancel · r retry · x remove · C clear done · +/- concurrency · a auto · q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderRow(i int, t queue.Task) string {
	marker := "  "
	nameStyle := itemStyle
	if i == m.cursor {
		marker = "> "
		nameStyle = selectedStyle
	}

	status := statusStyles[string(t.Status)].Render(fmt.Sprintf("%-9s", t.Status))
	name := nameStyle.Render(truncate(t.File.Name, 28))
	size := helpStyle.Render(fmt.Sprintf("%8s", humanize.Bytes(uint64(t.File.Size))))

	var tail string
	switch t.Status {
	case queue.StatusUploading:
		tail = m.bar.ViewAs(float64(t.Progress) / 100)
	case queue.StatusRetrying:
		tail = fmt.Sprintf("retry %d: %s", t.RetryCount, truncate(t.Error, 40))
	case queue.StatusFailed:
		tail = errorStyle.Render(truncate(t.Error, 50))
	case queue.StatusCompleted:
		if t.StartedAt != nil && t.CompletedAt != nil {
			tail = helpStyle.Render(t.CompletedAt.Sub(*t.StartedAt).Round(10 * time.Millisecond).String())
		}
	}

	return fmt.Sprintf("%s%s %-30s %s  %s", marker, status, name, size, tail)
}

func (m Model) renderStatusLine() string {
	s := m.queue.Stats()
	counts := fmt.Sprintf("  %d queued · %d up · %d retrying · %d done · %d failed",
		s.Pending, s.Uploading, s.Retrying, s.Completed, s.Failed)

	link := fmt.Sprintf("link: %s", m.net.Quality)
	if m.net.SampleCount > 0 {
		link = fmt.Sprintf("link: %s (%s/s, suggests %d)",
			m.net.Quality, humanize.Bytes(uint64(m.net.EstimatedSpeed)), m.net.RecommendedConcurrency)
	}

	return helpStyle.Render(fmt.Sprintf("%s · limit %d · %s", counts, m.queue.Concurrency(), link))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
