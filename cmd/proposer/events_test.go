package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/germanamz/proposer/pkg/engine"
)

var eventTime = time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		kind engine.EventKind
		mark string
	}{
		{engine.EventSent, markSent},
		{engine.EventSendFailed, markFailed},
		{engine.EventStatusChanged, markInfo},
		{engine.EventRunFinished, markInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := formatEvent(engine.ProgressEvent{Kind: tt.kind, Message: "msg", Timestamp: eventTime})
			assert.Equal(t, "14:05:09 "+tt.mark+" msg", got)
		})
	}
}

func TestPrintEvents_StopsAtRunFinished(t *testing.T) {
	ch := make(chan engine.ProgressEvent, 4)
	ch <- engine.ProgressEvent{Kind: engine.EventRunStarted, Message: "run started: up to 1 sends", Timestamp: eventTime}
	ch <- engine.ProgressEvent{Kind: engine.EventSent, Message: "proposal 1/1 sent", Timestamp: eventTime}
	ch <- engine.ProgressEvent{Kind: engine.EventRunFinished, Message: "run completed: 1 sent", Timestamp: eventTime}
	ch <- engine.ProgressEvent{Kind: engine.EventSent, Message: "never printed", Timestamp: eventTime}

	var buf bytes.Buffer
	printEvents(context.Background(), &buf, ch)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.NotContains(t, buf.String(), "never printed")
}

func TestPrintEvents_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	printEvents(ctx, &buf, make(chan engine.ProgressEvent))
	assert.Empty(t, buf.String())
}

func TestPrintEvents_DrainsBufferedAfterDone(t *testing.T) {
	ch := make(chan engine.ProgressEvent, 2)
	ch <- engine.ProgressEvent{Kind: engine.EventSent, Message: "proposal 1/3 sent", Timestamp: eventTime}
	ch <- engine.ProgressEvent{Kind: engine.EventRunFinished, Message: "run completed: 1 sent", Timestamp: eventTime}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	printEvents(ctx, &buf, ch)
	assert.Contains(t, buf.String(), "proposal 1/3 sent")
	assert.Contains(t, buf.String(), "run completed")
}

func TestSummary(t *testing.T) {
	st := engine.RunState{
		Status:      engine.StatusCompleted,
		SentCount:   4,
		FailedCount: 1,
		StartedAt:   eventTime,
		FinishedAt:  eventTime.Add(90 * time.Second),
	}
	assert.Equal(t, "completed: 4 sent, 1 failed in 1m30s", summary(st))

	st.Status = engine.StatusFailed
	st.LastError = "3 consecutive failures, last: boom"
	assert.Contains(t, summary(st), "\n3 consecutive failures")
}
