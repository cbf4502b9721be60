package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/germanamz/proposer/pkg/browser"
	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/incident"
	"github.com/germanamz/proposer/pkg/proposerdir"
	"github.com/germanamz/proposer/pkg/settings"
	"github.com/germanamz/proposer/pkg/telemetry"
	"github.com/germanamz/proposer/pkg/templates"
)

// app holds the workspace stores shared by all commands.
type app struct {
	dir       proposerdir.Dir
	log       *slog.Logger
	settings  *settings.Store
	templates *templates.Store
	incidents *incident.Log
}

// openApp loads .env, ensures the workspace layout, and opens the stores.
// Logs go to logOut.
func openApp(g globalFlags, logOut io.Writer) (*app, error) {
	if err := loadDotEnv(g.envFile); err != nil {
		return nil, err
	}

	level, err := parseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	log := newLogger(logOut, level)
	slog.SetDefault(log)

	d := proposerdir.New(g.dir)
	if err := proposerdir.EnsureStructure(d); err != nil {
		return nil, err
	}

	tpl, err := templates.Open(d.TemplatesPath())
	if err != nil {
		return nil, err
	}
	if err := templates.ImportText(tpl, d.LegacyTemplatePath()); err != nil {
		return nil, err
	}

	return &app{
		dir:       d,
		log:       log,
		settings:  settings.NewStore(d.SettingsPath()),
		templates: tpl,
		incidents: incident.New(d.LogsDir()),
	}, nil
}

// runtime is the browser, engine, and controller for one process.
type runtime struct {
	chrome   *browser.Chrome
	engine   *engine.Engine
	ctrl     *control.Controller
	shutdown telemetry.ShutdownFunc
}

// closeTimeout bounds how long Close waits for the in-flight send.
const closeTimeout = 2 * time.Minute

// newRuntime wires the browser adapter and engine from the current settings.
// ctx bounds telemetry setup only. The browser and runs outlive it so that a
// signal ends a run through stopOnSignal instead of cutting off a send.
func (a *app) newRuntime(ctx context.Context) (*runtime, error) {
	s, err := a.settings.Load()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, s.Telemetry.OTLPEndpoint, version)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	opts := s.BrowserOptions(a.dir.ScreenshotsDir(), a.log)
	opts = append(opts, browser.WithUserDataDir(a.dir.ProfileDir()))
	chrome := browser.New(context.Background(), opts...)

	engOpts := []engine.Option{
		engine.WithLogger(a.log),
		engine.WithMetrics(metrics),
		engine.WithIncidents(a.incidents),
	}
	if n := s.Notifier(); n != nil {
		engOpts = append(engOpts, engine.WithNotifier(n))
	}
	eng := engine.New(chrome, a.templates, engOpts...)

	ctrl := control.New(context.Background(), eng, a.templates, a.settings,
		control.WithSession(chrome),
		control.WithIncidents(a.incidents),
	)

	return &runtime{chrome: chrome, engine: eng, ctrl: ctrl, shutdown: shutdown}, nil
}

// Close stops any active run, waits for the in-flight send, and releases the
// browser and telemetry exporters.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := r.engine.Stop(); err == nil {
		_, _ = r.engine.Wait(ctx)
	}
	if err := r.engine.Flush(ctx); err != nil {
		slog.Warn("completion notification still pending", "error", err)
	}
	r.chrome.Disconnect()

	if err := r.shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
}

// stopOnSignal requests a graceful stop of the active run once sig is done.
// The in-flight send finishes and the run completes. restore runs first so a
// second signal terminates the process. The returned func releases the
// watcher.
func stopOnSignal(sig context.Context, restore func(), ctrl runController, log *slog.Logger) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-sig.Done():
		}
		restore()
		if _, err := ctrl.Stop(); err != nil {
			if !errors.Is(err, engine.ErrNotRunning) {
				log.Warn("stop on signal failed", "error", err)
			}
			return
		}
		log.Info("signal received, stopping after the current send")
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openLogFile opens the application log for appending.
func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path from the workspace directory
}
