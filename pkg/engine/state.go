package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfiguration is returned by Start when the run configuration
	// cannot be used. The returned error wraps it with the reason.
	ErrInvalidConfiguration = errors.New("engine: invalid configuration")
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("engine: run already active")
	// ErrNotRunning is returned by Stop when no run is active.
	ErrNotRunning = errors.New("engine: no active run")
	// ErrInvalidTransition is returned by Pause and Resume from the wrong
	// status.
	ErrInvalidTransition = errors.New("engine: invalid status transition")
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether a run in this status still owns the loop.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusStopping
}

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunConfiguration is the immutable snapshot a run is started with.
type RunConfiguration struct {
	MaxSends         int     `json:"max_sends"`
	MinDelay         float64 `json:"min_delay_seconds"`
	MaxDelay         float64 `json:"max_delay_seconds"`
	ActiveTemplateID int     `json:"active_template_id,omitempty"`
	// TargetURL, when set, is loaded before the first send and reloaded after
	// retriable failures.
	TargetURL string `json:"target_url,omitempty"`
	// TargetHint selects the browser tab whose URL contains it.
	TargetHint string `json:"target_hint,omitempty"`
}

// Validate checks the numeric bounds. Template availability is checked by
// Start against the store.
func (c RunConfiguration) Validate() error {
	switch {
	case c.MaxSends <= 0:
		return fmt.Errorf("%w: max sends must be positive, got %d", ErrInvalidConfiguration, c.MaxSends)
	case math.IsNaN(c.MinDelay) || math.IsNaN(c.MaxDelay) || math.IsInf(c.MaxDelay, 0):
		return fmt.Errorf("%w: delay bounds must be finite", ErrInvalidConfiguration)
	case c.MinDelay < 0:
		return fmt.Errorf("%w: min delay must not be negative, got %g", ErrInvalidConfiguration, c.MinDelay)
	case c.MinDelay > c.MaxDelay:
		return fmt.Errorf("%w: min delay %g exceeds max delay %g", ErrInvalidConfiguration, c.MinDelay, c.MaxDelay)
	}
	return nil
}

// RunState is the progress of the current (or last) run.
type RunState struct {
	RunID       string    `json:"run_id,omitempty"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	Status      Status    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Attempts is the number of send attempts made so far.
func (s RunState) Attempts() int { return s.SentCount + s.FailedCount }
