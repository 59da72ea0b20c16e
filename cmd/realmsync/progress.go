package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type progressMsg struct {
	index        int
	transferred  uint64
	transferable uint64
}

type finishedMsg struct {
	err   error
	index int
}

type transfer struct {
	err          error
	name         string
	transferred  uint64
	transferable uint64
	done         bool
}

func (t transfer) percent() float64 {
	if t.done && t.err == nil {
		return 1
	}
	if t.transferable == 0 {
		return 0
	}
	return float64(t.transferred) / float64(t.transferable)
}

type progressModel struct {
	cancel    context.CancelFunc
	bar       progress.Model
	transfers []transfer
	finished  int
}

func newProgressModel(names []string, cancel context.CancelFunc) *progressModel {
	m := &progressModel{
		cancel:    cancel,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		transfers: make([]transfer, len(names)),
	}
	for i, n := range names {
		m.transfers[i].name = n
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return nil
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if w := msg.Width - 50; w > 10 {
			m.bar.Width = w
		}

	case progressMsg:
		if msg.index < len(m.transfers) {
			t := &m.transfers[msg.index]
			t.transferred = msg.transferred
			t.transferable = msg.transferable
		}

	case finishedMsg:
		if msg.index < len(m.transfers) && !m.transfers[msg.index].done {
			m.transfers[msg.index].done = true
			m.transfers[msg.index].err = msg.err
			m.finished++
		}
		if m.finished == len(m.transfers) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Realm Sync"))
	b.WriteString(fmt.Sprintf(" %d/%d complete\n\n", m.finished, len(m.transfers)))

	for _, t := range m.transfers {
		b.WriteString(nameStyle.Render(t.name))
		b.WriteString("\n  ")
		b.WriteString(m.bar.ViewAs(t.percent()))
		switch {
		case t.err != nil:
			b.WriteString(" ")
			b.WriteString(errorStyle.Render(t.err.Error()))
		case t.done:
			b.WriteString(" ")
			b.WriteString(doneStyle.Render("done"))
		case t.transferable > 0:
			b.WriteString(fmt.Sprintf(" %d/%d bytes", t.transferred, t.transferable))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q cancel"))
	b.WriteString("\n")
	return b.String()
}
