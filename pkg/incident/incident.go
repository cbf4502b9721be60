// Package incident keeps a JSON-lines record of failed send attempts, one
// file per day under the logs directory.
package incident

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Incident is one failed attempt.
type Incident struct {
	Time       time.Time `json:"time"`
	RunID      string    `json:"run_id"`
	Attempt    int       `json:"attempt"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	Fatal      bool      `json:"fatal,omitempty"`
	URL        string    `json:"url,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
}

// Log appends incidents to logs/incidents-YYYY-MM-DD.jsonl. It is safe for
// concurrent use.
type Log struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// New creates a Log writing into dir.
func New(dir string) *Log {
	return &Log{dir: dir, now: time.Now}
}

// Path returns the file incidents for day t are written to.
func (l *Log) Path(t time.Time) string {
	return filepath.Join(l.dir, "incidents-"+t.Format(time.DateOnly)+".jsonl")
}

// Record appends inc to today's file. A zero Time is set to now.
func (l *Log) Record(inc Incident) error {
	if inc.Time.IsZero() {
		inc.Time = l.now()
	}

	line, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("incident: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("incident: mkdir: %w", err)
	}

	f, err := os.OpenFile(l.Path(inc.Time), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path built from configured logs dir
	if err != nil {
		return fmt.Errorf("incident: open: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("incident: write: %w", err)
	}

	return f.Close()
}

// Recent returns up to n of today's incidents, newest last. Malformed lines
// are skipped.
func (l *Log) Recent(n int) ([]Incident, error) {
	if n <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.Path(l.now()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("incident: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	var all []Incident
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var inc Incident
		if err := json.Unmarshal(sc.Bytes(), &inc); err != nil {
			continue
		}
		all = append(all, inc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("incident: read: %w", err)
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}

	return all, nil
}
