package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/engine"
)

// maxEventLines bounds the event log shown under the progress bar.
const maxEventLines = 8

// runController is the part of control.Controller the run view drives.
type runController interface {
	Status() control.Status
	Pause() (control.Status, error)
	Resume() (control.Status, error)
	Stop() (control.Status, error)
}

type runKeys struct {
	Pause key.Binding
	Stop  key.Binding
	Quit  key.Binding
}

func (k runKeys) ShortHelp() []key.Binding { return []key.Binding{k.Pause, k.Stop, k.Quit} }

func (k runKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var defaultRunKeys = runKeys{
	Pause: key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause/resume")),
	Stop:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// progressMsg delivers an engine event from the bridge goroutine.
type progressMsg struct {
	event engine.ProgressEvent
}

// controlErrMsg reports a rejected pause/resume/stop.
type controlErrMsg struct {
	err error
}

// runModel is the live view of a single run.
type runModel struct {
	ctrl     runController
	template string
	maxSends int

	state        engine.RunState
	pausePending bool
	quitting     bool
	lines        []string
	errText      string

	bar     progress.Model
	spinner spinner.Model
	help    help.Model
	keys    runKeys
}

func newRunModel(ctrl runController, template string) runModel {
	st := ctrl.Status()
	return runModel{
		ctrl:     ctrl,
		template: template,
		maxSends: st.Config.MaxSends,
		state:    st.Run,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		help:     help.New(),
		keys:     defaultRunKeys,
	}
}

func (m runModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 80)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case progressMsg:
		return m.handleEvent(msg.event)

	case controlErrMsg:
		m.errText = msg.err.Error()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m runModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		// A second quit, or quitting with nothing running, leaves at once.
		if m.quitting || !m.state.Status.Active() {
			return m, tea.Quit
		}
		m.quitting = true
		return m, m.control(m.ctrl.Stop)

	case key.Matches(msg, m.keys.Stop):
		if m.state.Status.Active() {
			return m, m.control(m.ctrl.Stop)
		}

	case key.Matches(msg, m.keys.Pause):
		switch {
		case m.state.Status == engine.StatusPaused, m.state.Status == engine.StatusRunning && m.pausePending:
			m.pausePending = false
			return m, m.control(m.ctrl.Resume)
		case m.state.Status == engine.StatusRunning:
			m.pausePending = true
			return m, m.control(m.ctrl.Pause)
		}
	}

	return m, nil
}

func (m runModel) handleEvent(e engine.ProgressEvent) (tea.Model, tea.Cmd) {
	m.state.RunID = e.RunID
	m.state.SentCount = e.SentCount
	m.state.FailedCount = e.FailedCount
	m.state.Status = e.Status
	if e.Status != engine.StatusRunning {
		m.pausePending = false
	}

	m.lines = append(m.lines, styleEvent(e))
	if len(m.lines) > maxEventLines {
		m.lines = m.lines[len(m.lines)-maxEventLines:]
	}

	if e.Kind == engine.EventRunFinished {
		m.state = m.ctrl.Status().Run
		return m, tea.Quit
	}

	return m, nil
}

// control runs a control call off the update loop.
func (m runModel) control(fn func() (control.Status, error)) tea.Cmd {
	return func() tea.Msg {
		if _, err := fn(); err != nil {
			return controlErrMsg{err: err}
		}
		return nil
	}
}

func (m runModel) percent() float64 {
	if m.maxSends <= 0 {
		return 0
	}
	return min(float64(m.state.Attempts())/float64(m.maxSends), 1)
}

func (m runModel) statusLabel() string {
	switch {
	case m.pausePending:
		return pausedStyle.Render("pausing after current send")
	case m.state.Status == engine.StatusPaused:
		return pausedStyle.Render("paused")
	case m.state.Status == engine.StatusFailed:
		return failedStyle.Render("failed")
	case m.state.Status.Active():
		return m.spinner.View() + " " + string(m.state.Status)
	}
	return string(m.state.Status)
}

func (m runModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("proposer"))
	if m.template != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" · template %q", m.template)))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s  %s %s\n",
		m.statusLabel(),
		sentStyle.Render(fmt.Sprintf("%d/%d sent", m.state.SentCount, m.maxSends)),
		failedStyle.Render(fmt.Sprintf("%d failed", m.state.FailedCount)),
	)
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteString("\n")

	if m.state.LastError != "" && m.state.Status == engine.StatusFailed {
		b.WriteString("\n" + errorBlockStyle.Render(m.state.LastError) + "\n")
	}
	if m.errText != "" {
		b.WriteString("\n" + errorBlockStyle.Render(m.errText) + "\n")
	}

	if len(m.lines) > 0 {
		b.WriteString("\n" + strings.Join(m.lines, "\n") + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))

	return b.String()
}
