package main

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/engine"
)

type stubController struct {
	mu     sync.Mutex
	status control.Status
	calls  []string
	err    error
}

func (s *stubController) Status() control.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubController) record(name string) (control.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.status, s.err
}

func (s *stubController) Pause() (control.Status, error)  { return s.record("pause") }
func (s *stubController) Resume() (control.Status, error) { return s.record("resume") }
func (s *stubController) Stop() (control.Status, error)   { return s.record("stop") }

func (s *stubController) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func runningController() *stubController {
	return &stubController{status: control.Status{
		Run:    engine.RunState{RunID: "r1", Status: engine.StatusRunning},
		Config: engine.RunConfiguration{MaxSends: 4},
	}}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, if any.
func press(t *testing.T, m runModel, s string) (runModel, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(keyMsg(s))
	var msg tea.Msg
	if cmd != nil {
		msg = cmd()
	}
	rm, ok := next.(runModel)
	require.True(t, ok)
	return rm, msg
}

func TestRunModel_PauseToggle(t *testing.T) {
	ctrl := runningController()
	m := newRunModel(ctrl, "Intro")

	m, _ = press(t, m, "p")
	assert.True(t, m.pausePending)

	// Pressing again before the pause takes effect cancels it.
	m, _ = press(t, m, "p")
	assert.False(t, m.pausePending)

	m, _ = press(t, m, "p")
	next, _ := m.Update(progressMsg{event: engine.ProgressEvent{Kind: engine.EventStatusChanged, Status: engine.StatusPaused}})
	m = next.(runModel)
	assert.False(t, m.pausePending)

	_, _ = press(t, m, "p")
	assert.Equal(t, []string{"pause", "resume", "pause", "resume"}, ctrl.called())
}

func TestRunModel_Stop(t *testing.T) {
	ctrl := runningController()
	m := newRunModel(ctrl, "")

	_, _ = press(t, m, "s")
	assert.Equal(t, []string{"stop"}, ctrl.called())
}

func TestRunModel_QuitStopsFirst(t *testing.T) {
	ctrl := runningController()
	m := newRunModel(ctrl, "")

	m, msg := press(t, m, "q")
	assert.True(t, m.quitting)
	assert.Nil(t, msg)
	assert.Equal(t, []string{"stop"}, ctrl.called())

	_, msg = press(t, m, "q")
	assert.Equal(t, tea.QuitMsg{}, msg)
}

func TestRunModel_QuitWhenIdle(t *testing.T) {
	ctrl := &stubController{}
	m := newRunModel(ctrl, "")

	_, msg := press(t, m, "q")
	assert.Equal(t, tea.QuitMsg{}, msg)
	assert.Empty(t, ctrl.called())
}

func TestRunModel_ControlError(t *testing.T) {
	ctrl := runningController()
	ctrl.err = errors.New("engine: invalid transition")
	m := newRunModel(ctrl, "")

	_, msg := press(t, m, "s")
	errMsg, ok := msg.(controlErrMsg)
	require.True(t, ok)

	next, _ := m.Update(errMsg)
	assert.Contains(t, next.View(), "invalid transition")
}

func TestRunModel_Events(t *testing.T) {
	ctrl := runningController()
	m := newRunModel(ctrl, "Intro")

	for i := 1; i <= 10; i++ {
		next, cmd := m.Update(progressMsg{event: engine.ProgressEvent{
			Kind:      engine.EventSent,
			SentCount: i,
			Status:    engine.StatusRunning,
			Message:   "proposal sent",
		}})
		assert.Nil(t, cmd)
		m = next.(runModel)
	}

	assert.Equal(t, 10, m.state.SentCount)
	assert.Len(t, m.lines, maxEventLines)
	assert.InDelta(t, 1.0, m.percent(), 0.0001)

	view := m.View()
	assert.Contains(t, view, "10/4 sent")
	assert.Contains(t, view, `template "Intro"`)
}

func TestRunModel_FinishQuits(t *testing.T) {
	ctrl := runningController()
	m := newRunModel(ctrl, "")

	ctrl.status.Run = engine.RunState{
		RunID:     "r1",
		Status:    engine.StatusFailed,
		LastError: "3 consecutive failures, last: boom",
	}

	next, cmd := m.Update(progressMsg{event: engine.ProgressEvent{Kind: engine.EventRunFinished, Status: engine.StatusFailed}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	rm := next.(runModel)
	assert.Equal(t, "3 consecutive failures, last: boom", rm.state.LastError)
	assert.Contains(t, rm.View(), "3 consecutive failures")
}

func TestRunModel_Percent(t *testing.T) {
	m := newRunModel(&stubController{}, "")
	assert.Zero(t, m.percent())

	m.maxSends = 4
	m.state.SentCount = 1
	m.state.FailedCount = 1
	assert.InDelta(t, 0.5, m.percent(), 0.0001)
}
