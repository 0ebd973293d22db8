package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/transcript"
	"github.com/muesli/reflow/wordwrap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	humanStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	cutOffStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type eventMsg struct{ event events.Event }

type endedMsg struct{}

// model shows the transcript as it is published and sends typed lines to
// the conversation.
type model struct {
	title  string
	send   func(text string)
	events <-chan events.Event

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int

	order    []string
	messages map[string]transcript.Message
	status   string
}

func newModel(title string, send func(string), events <-chan events.Event) model {
	input := textinput.New()
	input.Placeholder = "Type a message and press enter"
	input.Prompt = "> "
	input.CharLimit = 500
	input.Focus()

	return model{
		title:    title,
		send:     send,
		events:   events,
		input:    input,
		messages: map[string]transcript.Message{},
		status:   "listening",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listenForEvents())
}

func (m model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return endedMsg{}
		}
		return eventMsg{event: event}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text != "" && m.send != nil {
				m.send(text)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case eventMsg:
		m = m.handleEvent(msg.event)
		cmds = append(cmds, m.listenForEvents())

	case endedMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) handleEvent(event events.Event) model {
	switch event := event.(type) {
	case events.TranscriptMessage:
		if _, ok := m.messages[event.Message.ID]; !ok {
			m.order = append(m.order, event.Message.ID)
		}
		m.messages[event.Message.ID] = event.Message
		m.refresh()
	case events.Interrupted:
		m.status = fmt.Sprintf("interrupted %d events", event.InterruptedEvents)
	case events.HumanPresenceCheck:
		m.status = fmt.Sprintf("checking if you are still there (%d)", event.Attempt)
	case events.RecordingAvailable:
		m.status = "recording available at " + event.URL
	case events.ConversationEnded:
		if event.BotDisconnect {
			m.status = "the bot ended the conversation"
		} else {
			m.status = "conversation ended"
		}
	}
	return m
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m model) renderTranscript() string {
	width := m.width - 2
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	for _, id := range m.order {
		message := m.messages[id]
		if message.IsBackchannel {
			continue
		}

		label := humanStyle.Render("you")
		if message.Sender == transcript.SenderBot {
			label = botStyle.Render("ema")
		}
		text := message.Text
		if message.Sender == transcript.SenderBot && !message.IsFinal {
			text = cutOffStyle.Render(text + "...")
		}
		b.WriteString(wordwrap.String(label+": "+text, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		titleStyle.Render(m.title),
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render(m.status),
	)
}
