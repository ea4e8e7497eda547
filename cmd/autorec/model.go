package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autorec/internal/coordinator"
	"autorec/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// model is a status view over the Coordinator: the currently attached
// device, the most recent recordings, and whether anything is playing back.
// Its only command is the "s" key, which stops playback; all displayed state
// flows in from the Coordinator's StateChange subscription.
type model struct {
	coord *coordinator.Coordinator
	ctx   context.Context

	changes chan coordinator.StateChange

	listeningOn string // device client name, empty if none
	recordingOn bool
	playing     store.RecordingID
	isPlaying   bool
	recentNames []string
	lastError   string
	quitting    bool
}

func newModel(ctx context.Context, coord *coordinator.Coordinator) model {
	return model{
		coord:   coord,
		ctx:     ctx,
		changes: coord.Subscribe(),
	}
}

func (m model) Init() tea.Cmd {
	return listenForChanges(m.changes)
}

type changeMsg coordinator.StateChange

func listenForChanges(changes chan coordinator.StateChange) tea.Cmd {
	return func() tea.Msg {
		change, ok := <-changes
		if !ok {
			return nil
		}
		return changeMsg(change)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.coord.Unsubscribe(m.changes)
			return m, tea.Quit
		case "s":
			m.coord.StopPlaying()
		}

	case changeMsg:
		m.apply(coordinator.StateChange(msg))
		return m, listenForChanges(m.changes)
	}

	return m, nil
}

func (m *model) apply(change coordinator.StateChange) {
	switch change.Kind {
	case coordinator.ListenBegin:
		m.listeningOn = change.DeviceInfo.ClientName
	case coordinator.ListenEnd:
		m.listeningOn = ""
	case coordinator.RecordBegin:
		m.recordingOn = true
	case coordinator.RecordEnd:
		m.recordingOn = false
		m.pushRecent(change.Recording.Name, change.Recording.ID)
	case coordinator.RecordError:
		m.recordingOn = false
		m.lastError = change.Message
	case coordinator.PlayBegin:
		m.isPlaying = true
		m.playing = change.RecordingID
	case coordinator.PlayEnd:
		m.isPlaying = false
	}
}

const maxRecent = 5

func (m *model) pushRecent(name string, id store.RecordingID) {
	label := name
	if label == "" {
		label = fmt.Sprintf("#%d", id)
	}
	m.recentNames = append([]string{label}, m.recentNames...)
	if len(m.recentNames) > maxRecent {
		m.recentNames = m.recentNames[:maxRecent]
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	device := "no device attached"
	if m.listeningOn != "" {
		device = "listening on " + m.listeningOn
	}

	status := "idle"
	if m.recordingOn {
		status = "recording"
	}
	if m.isPlaying {
		status = fmt.Sprintf("playing #%d", m.playing)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("autorec") + "  " + dimStyle.Render(device))
	b.WriteString("\n")
	b.WriteString(status)
	b.WriteString("\n\n")

	if len(m.recentNames) > 0 {
		b.WriteString(dimStyle.Render("recent: " + strings.Join(m.recentNames, ", ")))
		b.WriteString("\n")
	}

	if m.lastError != "" {
		b.WriteString(errStyle.Render("last error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("s:stop playback  q:quit"))

	return b.String()
}
