// Package notify delivers run-finished notifications.
package notify

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notify: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "run.completed", "run.failed"
	RunID   string `json:"run_id,omitempty"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// Notifier sends notifications.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
