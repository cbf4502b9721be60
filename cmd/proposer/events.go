package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/germanamz/proposer/pkg/engine"
)

// formatEvent renders a progress event as a single unstyled line.
func formatEvent(e engine.ProgressEvent) string {
	mark := markInfo
	switch e.Kind {
	case engine.EventSent:
		mark = markSent
	case engine.EventSendFailed:
		mark = markFailed
	}
	return fmt.Sprintf("%s %s %s", e.Timestamp.Format(time.TimeOnly), mark, e.Message)
}

// styleEvent is formatEvent coloured for the TUI.
func styleEvent(e engine.ProgressEvent) string {
	line := formatEvent(e)
	switch e.Kind {
	case engine.EventSent:
		return sentStyle.Render(line)
	case engine.EventSendFailed:
		return failedStyle.Render(line)
	case engine.EventRunFinished:
		if e.Status == engine.StatusFailed {
			return failedStyle.Render(line)
		}
		return titleStyle.Render(line)
	}
	return dimStyle.Render(line)
}

// printEvents writes events to w, one per line, until the run finishes or
// ctx is done. Events already buffered when ctx ends are still printed. It is
// the progress view when stdout is not a terminal.
func printEvents(ctx context.Context, w io.Writer, events <-chan engine.ProgressEvent) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok || !printEvent(w, e) {
						return
					}
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok || !printEvent(w, e) {
				return
			}
		}
	}
}

// printEvent writes e and reports whether more events follow.
func printEvent(w io.Writer, e engine.ProgressEvent) bool {
	_, _ = fmt.Fprintln(w, formatEvent(e))
	return e.Kind != engine.EventRunFinished
}

// summary is the line printed after a run ends.
func summary(st engine.RunState) string {
	line := fmt.Sprintf("%s: %d sent, %d failed", st.Status, st.SentCount, st.FailedCount)
	if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
		line += fmt.Sprintf(" in %s", st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	}
	if st.Status == engine.StatusFailed && st.LastError != "" {
		line += "\n" + st.LastError
	}
	return line
}
