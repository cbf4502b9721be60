package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/proposer/pkg/incident"
	"github.com/germanamz/proposer/pkg/notify"
	"github.com/germanamz/proposer/pkg/telemetry"
	"github.com/germanamz/proposer/pkg/templates"
)

// Browser is the session capability the engine drives. Implementations
// report raw outcomes and never retry; pkg/browser.Chrome is the production
// implementation.
type Browser interface {
	Connect(ctx context.Context, targetHint string) error
	Disconnect()
	Navigate(ctx context.Context, url string) error
	PerformSend(ctx context.Context, body string) error
	IsConnected() bool
}

// TemplateSource yields the currently active template by value.
type TemplateSource interface {
	Active() (templates.Template, error)
}

// IncidentRecorder stores failed attempts.
type IncidentRecorder interface {
	Record(inc incident.Incident) error
}

// DefaultFailureThreshold is the number of consecutive retriable failures
// that fails a run.
const DefaultFailureThreshold = 3

// progressBuffer bounds each ObserveProgress subscription.
const progressBuffer = 64

// Option configures an Engine.
type Option func(*Engine)

// WithFailureThreshold sets the consecutive retriable failure limit.
// Values below 1 are ignored.
func WithFailureThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records run and send metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sends a notification when a run finishes.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithIncidents records every failed attempt.
func WithIncidents(r IncidentRecorder) Option {
	return func(e *Engine) { e.incidents = r }
}

// WithSleepFunc overrides the pacing sleep (for testing).
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleepFunc = fn }
}

// WithRandFunc overrides the random source used for delays. fn must return
// a value in [0,1].
func WithRandFunc(fn func() float64) Option {
	return func(e *Engine) { e.randFunc = fn }
}

// Engine runs send loops, one at a time.
type Engine struct {
	browser   Browser
	templates TemplateSource
	events    *EventBus
	log       *slog.Logger
	metrics   *telemetry.Metrics
	notifier  notify.Notifier
	incidents IncidentRecorder
	threshold int

	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
	nowFunc   func() time.Time

	mu          sync.Mutex
	state       RunState
	cfg         RunConfiguration
	pausePend   bool
	wake        chan struct{}
	cancelSleep context.CancelFunc
	done        chan struct{}

	// notifying counts completion notifications still being sent.
	notifying sync.WaitGroup
}

// New creates an idle Engine driving b with templates from src.
func New(b Browser, src TemplateSource, opts ...Option) *Engine {
	e := &Engine{
		browser:   b,
		templates: src,
		events:    NewEventBus(),
		log:       slog.Default(),
		threshold: DefaultFailureThreshold,
		sleepFunc: contextSleep,
		randFunc:  rand.Float64,
		nowFunc:   time.Now,
		state:     RunState{Status: StatusIdle},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Subscribe is a shorthand for Events().Subscribe.
func (e *Engine) Subscribe(bufSize int) *Subscription { return e.events.Subscribe(bufSize) }

// Unsubscribe is a shorthand for Events().Unsubscribe.
func (e *Engine) Unsubscribe(sub *Subscription) { e.events.Unsubscribe(sub) }

// ObserveProgress returns a lazy, restartable sequence of progress events
// spanning all runs. It ends when ctx is done or the consumer stops ranging;
// neither affects the run.
func (e *Engine) ObserveProgress(ctx context.Context) iter.Seq[ProgressEvent] {
	return e.events.Observe(ctx, progressBuffer)
}

// State returns a copy of the current run state.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Config returns the configuration of the current (or last) run.
func (e *Engine) Config() RunConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg
}

// Start validates cfg and begins a run in the background. ctx bounds the
// whole run; cancelling it fails the run.
func (e *Engine) Start(ctx context.Context, cfg RunConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status.Active() {
		return ErrAlreadyRunning
	}

	active, err := e.templates.Active()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if cfg.ActiveTemplateID == 0 {
		cfg.ActiveTemplateID = active.ID
	}

	sleepCtx, cancelSleep := context.WithCancel(ctx)

	e.cfg = cfg
	e.state = RunState{
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: e.nowFunc(),
	}
	e.pausePend = false
	e.wake = make(chan struct{}, 1)
	e.cancelSleep = cancelSleep
	e.done = make(chan struct{})

	e.log.Info("run started",
		"run", e.state.RunID,
		"max_sends", cfg.MaxSends,
		"min_delay", cfg.MinDelay,
		"max_delay", cfg.MaxDelay,
		"template", cfg.ActiveTemplateID,
	)
	e.publishLocked(EventRunStarted, fmt.Sprintf("run started: up to %d sends", cfg.MaxSends))
	e.metrics.RunStarted(ctx)

	r := &run{
		e:           e,
		cfg:         cfg,
		id:          e.state.RunID,
		sleepCtx:    sleepCtx,
		cancelSleep: cancelSleep,
		done:        e.done,
		reload:      true,
	}
	go r.loop(ctx)

	return nil
}

// Stop requests graceful termination. The in-flight send, if any, finishes;
// the pacing sleep is cut short. The run then ends as completed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case StatusRunning, StatusPaused:
	case StatusStopping:
		return nil
	default:
		return ErrNotRunning
	}

	e.pausePend = false
	e.setStatusLocked(StatusStopping, "stop requested")
	e.cancelSleep()
	e.signalLocked()

	return nil
}

// Pause suspends the run at its next suspension point (before the next send
// or after the current delay). The in-flight send is not interrupted.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != StatusRunning {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, e.state.Status)
	}

	e.pausePend = true
	e.log.Info("pause requested", "run", e.state.RunID)

	return nil
}

// Resume continues a paused run, or cancels a pause that has not yet taken
// effect.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state.Status == StatusPaused:
		e.setStatusLocked(StatusRunning, "resumed")
		e.signalLocked()
		return nil
	case e.state.Status == StatusRunning && e.pausePend:
		e.pausePend = false
		return nil
	}

	return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, e.state.Status)
}

// Wait blocks until the current run ends or ctx is done and returns the
// final state. Without an active run it returns immediately.
func (e *Engine) Wait(ctx context.Context) (RunState, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return e.State(), ctx.Err()
		}
	}

	return e.State(), nil
}

// Flush waits until the completion notifications of finished runs have been
// sent, or ctx is done.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.notifying.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalLocked wakes a paused loop. Must be called with mu held.
func (e *Engine) signalLocked() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// setStatusLocked changes the status and publishes it. Must be called with
// mu held.
func (e *Engine) setStatusLocked(s Status, msg string) {
	if e.state.Status == s {
		return
	}
	e.log.Info("run status changed", "run", e.state.RunID, "from", e.state.Status, "to", s)
	e.state.Status = s
	e.publishLocked(EventStatusChanged, msg)
}

// publishLocked emits an event reflecting the current state. Must be called
// with mu held so events leave in state order.
func (e *Engine) publishLocked(kind EventKind, msg string) {
	e.events.Publish(ProgressEvent{
		Kind:        kind,
		RunID:       e.state.RunID,
		SentCount:   e.state.SentCount,
		FailedCount: e.state.FailedCount,
		Status:      e.state.Status,
		Message:     msg,
		Timestamp:   e.nowFunc(),
	})
}

// sampleDelay draws a delay from [minSec, maxSec] given r in [0,1].
func sampleDelay(minSec, maxSec, r float64) time.Duration {
	r = min(max(r, 0), 1)
	sec := min(max(minSec+r*(maxSec-minSec), minSec), maxSec)
	return time.Duration(sec * float64(time.Second))
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
