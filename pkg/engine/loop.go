package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/germanamz/proposer/pkg/browser"
	"github.com/germanamz/proposer/pkg/incident"
	"github.com/germanamz/proposer/pkg/notify"
	"github.com/germanamz/proposer/pkg/telemetry"
)

// Failure kinds used in events, metrics, and incidents. Send kinds come from
// browser.SendKind.
const (
	kindNavigation = "navigation"
	kindConnection = "connection"
	kindTemplate   = "template"
	kindOther      = "error"
)

// notifyTimeout bounds the run-finished notification.
const notifyTimeout = 10 * time.Second

// run is the loop-side state of one run. Its fields are touched only by the
// loop goroutine.
type run struct {
	e           *Engine
	cfg         RunConfiguration
	id          string
	sleepCtx    context.Context
	cancelSleep context.CancelFunc
	done        chan struct{}

	// reload is set when the target page must be (re)loaded before the next
	// send.
	reload      bool
	consecutive int
}

func (r *run) loop(ctx context.Context) {
	ctx, span := telemetry.StartRunSpan(ctx, r.id, r.cfg.MaxSends)
	defer span.End()

	status, reason := r.drive(ctx)
	if status == StatusFailed {
		span.SetStatus(codes.Error, reason)
	}
	r.finish(ctx, status, reason)
}

// drive runs iterations until the run ends and returns the terminal status
// with its reason.
func (r *run) drive(ctx context.Context) (Status, string) {
	e := r.e

	for {
		if !r.checkpoint(ctx) {
			return r.interrupted(ctx)
		}

		if reason := r.step(ctx); reason != "" {
			return StatusFailed, reason
		}

		if r.limitReached() {
			return StatusCompleted, fmt.Sprintf("send limit of %d reached", r.cfg.MaxSends)
		}
		if r.stopping() {
			return StatusCompleted, "stopped"
		}

		d := sampleDelay(r.cfg.MinDelay, r.cfg.MaxDelay, e.randFunc())
		e.metrics.DelaySampled(ctx, d.Seconds())
		e.log.Debug("waiting before next send", "run", r.id, "delay", d)
		if err := e.sleepFunc(r.sleepCtx, d); err != nil && ctx.Err() == nil && !r.stopping() {
			return StatusFailed, fmt.Sprintf("pacing sleep: %v", err)
		}
	}
}

// checkpoint is the suspension point: it applies a pending pause, blocks
// while paused, and reports false when the run must end.
func (r *run) checkpoint(ctx context.Context) bool {
	e := r.e

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return false
		}

		switch e.state.Status {
		case StatusRunning:
			if !e.pausePend {
				return true
			}
			e.pausePend = false
			e.setStatusLocked(StatusPaused, "paused")
		case StatusPaused:
			wake := e.wake
			e.mu.Unlock()
			select {
			case <-wake:
			case <-ctx.Done():
			}
			e.mu.Lock()
		default:
			return false
		}
	}
}

// interrupted maps a checkpoint exit to the terminal status.
func (r *run) interrupted(ctx context.Context) (Status, string) {
	if err := ctx.Err(); err != nil {
		return StatusFailed, fmt.Sprintf("run cancelled: %v", err)
	}
	return StatusCompleted, "stopped"
}

func (r *run) stopping() bool {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()

	return r.e.state.Status == StatusStopping
}

func (r *run) limitReached() bool {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()

	return r.e.state.Attempts() >= r.cfg.MaxSends
}

// step performs one attempt: connect if needed, load the target page if
// needed, read the active template, and send. It returns a non-empty reason
// when the failure is fatal.
func (r *run) step(ctx context.Context) string {
	e := r.e

	if !e.browser.IsConnected() {
		if err := e.browser.Connect(ctx, r.cfg.TargetHint); err != nil {
			return r.fail(ctx, err)
		}
		if r.cfg.TargetURL != "" {
			r.reload = true
		}
	}

	if r.cfg.TargetURL != "" && r.reload {
		if err := e.browser.Navigate(ctx, r.cfg.TargetURL); err != nil {
			return r.fail(ctx, err)
		}
		r.reload = false
	}

	tpl, err := e.templates.Active()
	if err != nil {
		return r.fatal(ctx, kindTemplate, fmt.Errorf("read active template: %w", err))
	}

	attempt := r.attempts() + 1
	sendCtx, span := telemetry.StartSendSpan(ctx, r.id, attempt, tpl.ID)
	err = e.browser.PerformSend(sendCtx, tpl.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		return r.fail(ctx, err)
	}

	r.succeed(ctx, tpl.ID)
	return ""
}

func (r *run) attempts() int {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()

	return r.e.state.Attempts()
}

func (r *run) succeed(ctx context.Context, templateID int) {
	e := r.e
	r.consecutive = 0

	e.mu.Lock()
	e.state.SentCount++
	sent := e.state.SentCount
	e.publishLocked(EventSent, fmt.Sprintf("proposal %d/%d sent", sent, r.cfg.MaxSends))
	e.mu.Unlock()

	e.metrics.Send(ctx, "sent")
	e.log.Info("proposal sent", "run", r.id, "sent", sent, "max", r.cfg.MaxSends, "template", templateID)
}

// fail records a failed attempt and applies the retry policy. Rejections are
// counted and the run continues; everything else is retriable until the
// consecutive failure threshold.
func (r *run) fail(ctx context.Context, err error) string {
	e := r.e

	if ctx.Err() != nil {
		return fmt.Sprintf("run cancelled: %v", ctx.Err())
	}

	kind := classify(err)
	retriable := !browser.IsRejected(err)
	if retriable {
		r.consecutive++
	}
	fatal := retriable && r.consecutive >= e.threshold

	e.mu.Lock()
	e.state.FailedCount++
	e.state.LastError = err.Error()
	attempt := e.state.Attempts()
	e.publishLocked(EventSendFailed, fmt.Sprintf("send failed (%s): %v", kind, err))
	e.mu.Unlock()

	e.metrics.Send(ctx, kind)
	e.log.Warn("send failed",
		"run", r.id,
		"kind", kind,
		"attempt", attempt,
		"consecutive", r.consecutive,
		"error", err,
	)
	r.recordIncident(kind, attempt, err, fatal)

	if kind == kindConnection {
		e.browser.Disconnect()
	}
	if retriable {
		r.reload = true
	}

	if fatal {
		return fmt.Sprintf("%d consecutive failures, last: %v", r.consecutive, err)
	}
	return ""
}

// fatal records a failure that ends the run without counting an attempt.
func (r *run) fatal(ctx context.Context, kind string, err error) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("run cancelled: %v", ctx.Err())
	}
	r.e.log.Error("run aborted", "run", r.id, "kind", kind, "error", err)
	r.recordIncident(kind, r.attempts(), err, true)
	return err.Error()
}

func (r *run) recordIncident(kind string, attempt int, err error, fatal bool) {
	e := r.e
	if e.incidents == nil {
		return
	}

	inc := incident.Incident{
		RunID:   r.id,
		Attempt: attempt,
		Kind:    kind,
		Error:   err.Error(),
		Fatal:   fatal,
	}
	if s, ok := e.browser.(interface{ State() browser.SessionState }); ok {
		inc.URL = s.State().CurrentURL
	}
	if s, ok := e.browser.(interface{ LastScreenshot() string }); ok {
		inc.Screenshot = s.LastScreenshot()
	}

	if err := e.incidents.Record(inc); err != nil {
		e.log.Warn("incident not recorded", "run", r.id, "error", err)
	}
}

// finish moves the run to its terminal status, publishes the final event,
// releases Wait, and then sends the notification.
func (r *run) finish(ctx context.Context, status Status, reason string) {
	e := r.e
	r.cancelSleep()

	e.mu.Lock()
	e.state.Status = status
	e.state.FinishedAt = e.nowFunc()
	if status == StatusFailed {
		e.state.LastError = reason
	}
	msg := "run completed: " + reason
	if status == StatusFailed {
		msg = "run failed: " + reason
	}
	e.publishLocked(EventRunFinished, msg)
	st := e.state
	e.mu.Unlock()

	elapsed := st.FinishedAt.Sub(st.StartedAt)
	bg := context.WithoutCancel(ctx)
	e.metrics.RunFinished(bg, string(status), elapsed.Seconds())

	if status == StatusFailed {
		e.log.Error("run failed", "run", r.id, "sent", st.SentCount, "failed", st.FailedCount, "reason", reason)
	} else {
		e.log.Info("run completed", "run", r.id, "sent", st.SentCount, "failed", st.FailedCount, "reason", reason, "elapsed", elapsed)
	}

	e.notifying.Add(1)
	close(r.done)
	r.notify(bg, st, msg)
	e.notifying.Done()
}

func (r *run) notify(ctx context.Context, st RunState, msg string) {
	e := r.e
	if e.notifier == nil {
		return
	}

	n := notify.Notification{
		Title:   "Proposer run completed",
		Message: msg,
		Level:   "success",
		Source:  "run.completed",
		RunID:   st.RunID,
		Sent:    st.SentCount,
		Failed:  st.FailedCount,
	}
	if st.Status == StatusFailed {
		n.Title = "Proposer run failed"
		n.Level = "error"
		n.Source = "run.failed"
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := e.notifier.Send(ctx, n); err != nil && !errors.Is(err, notify.ErrNotConfigured) {
		e.log.Warn("notification failed", "run", r.id, "notifier", e.notifier.Name(), "error", err)
	}
}

// classify names the failure kind of a send attempt.
func classify(err error) string {
	var (
		se *browser.SendActionError
		ne *browser.NavigationError
		ce *browser.ConnectionError
	)
	switch {
	case errors.As(err, &se):
		return string(se.Kind)
	case errors.As(err, &ne):
		return kindNavigation
	case errors.As(err, &ce):
		return kindConnection
	default:
		return kindOther
	}
}
