package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/proposerdir"
)

// errAborted is returned when the user declines the start confirmation.
var errAborted = errors.New("aborted")

func runRun(args []string) error {
	var g globalFlags
	fs := newFlagSet("run", "run [flags]", &g)
	maxSends := fs.Int("max-sends", 0, "sends for this run (default from settings)")
	templateID := fs.Int("template", 0, "template ID to activate before starting")
	yes := fs.Bool("yes", false, "skip the start confirmation")
	plain := fs.Bool("plain", false, "print events line by line instead of the live view")
	if err := fs.Parse(args); err != nil {
		return err
	}

	interactive := !*plain && isTerminal(os.Stdout) && isTerminal(os.Stdin)

	// The live view owns the terminal, so logs go to the log file.
	var logOut io.Writer = os.Stderr
	if interactive {
		d := proposerdir.New(g.dir)
		if err := proposerdir.EnsureStructure(d); err != nil {
			return err
		}
		f, err := openLogFile(d.LogPath())
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}

	a, err := openApp(g, logOut)
	if err != nil {
		return err
	}

	req := control.StartRequest{}
	if *maxSends != 0 {
		req.MaxSends = maxSends
	}
	if *templateID != 0 {
		req.TemplateID = templateID
	}

	if interactive && !*yes {
		if err := confirmStart(a, req); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Subscribe before starting so run_started is not missed.
	sub := rt.engine.Subscribe(64)
	defer rt.engine.Unsubscribe(sub)

	if _, err := rt.ctrl.Start(req); err != nil {
		return err
	}
	release := stopOnSignal(ctx, cancel, rt.ctrl, a.log)
	defer release()

	if interactive {
		if err := runLiveView(ctx, a, rt, sub.C); err != nil {
			return err
		}
	} else {
		finished, markFinished := context.WithCancel(context.Background())
		defer markFinished()
		go func() {
			_, _ = rt.engine.Wait(finished)
			markFinished()
		}()
		printEvents(finished, os.Stdout, sub.C)
	}

	st, err := rt.engine.Wait(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(summary(st))

	if st.Status == engine.StatusFailed {
		return errors.New("run failed")
	}
	return nil
}

// runLiveView shows the TUI until the run finishes or the user quits.
func runLiveView(ctx context.Context, a *app, rt *runtime, events <-chan engine.ProgressEvent) error {
	name := ""
	if t, err := a.templates.Active(); err == nil {
		name = t.Name
	}

	p := tea.NewProgram(newRunModel(rt.ctrl, name), tea.WithContext(ctx))

	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	go func() {
		for {
			select {
			case <-bridgeCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				p.Send(progressMsg{event: e})
			}
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		// Interrupted by a signal; stopOnSignal has asked the run to stop.
		_, _ = fmt.Fprintln(os.Stderr, "stopping after the current send")
		return nil
	}
	return err
}

// confirmStart asks before sending. It shows the run size and the template
// that will be sent.
func confirmStart(a *app, req control.StartRequest) error {
	s, err := a.settings.Load()
	if err != nil {
		return err
	}
	n := s.MaxSends
	if req.MaxSends != nil {
		n = *req.MaxSends
	}

	var tplName string
	if req.TemplateID != nil {
		t, err := a.templates.Get(*req.TemplateID)
		if err != nil {
			return err
		}
		tplName = t.Name
	} else {
		t, err := a.templates.Active()
		if err != nil {
			return err
		}
		tplName = t.Name
	}

	ok := true
	err = huh.NewConfirm().
		Title(fmt.Sprintf("Send up to %d proposals with template %q?", n, tplName)).
		Description(fmt.Sprintf("Delay between sends: %gs to %gs", s.MinDelaySeconds, s.MaxDelaySeconds)).
		Affirmative("Send").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd is a small non-negative int
}
